package social

import "fmt"

// Preset configurations for well-known providers. Presets carry everything
// except the consumer credentials, which come from configuration.
func GetPresetConfig(name string) (*ProviderConfig, error) {
	switch name {
	case "openid":
		return &ProviderConfig{
			Name:     "openid",
			Protocol: ProtocolOpenID,
		}, nil

	case "twitter":
		return &ProviderConfig{
			Name:            "twitter",
			Protocol:        ProtocolOAuth1,
			RequestTokenURL: "https://api.twitter.com/oauth/request_token",
			AuthorizeURL:    "https://api.twitter.com/oauth/authenticate",
			AccessTokenURL:  "https://api.twitter.com/oauth/access_token",
			ProfileURL:      "https://api.twitter.com/1.1/account/verify_credentials.json?include_email=true",
			AttributeMapping: AttributeMap{
				UserID:   "id",
				Username: "screen_name",
				Email:    "email",
				FullName: "name",
			},
		}, nil

	case "github":
		return &ProviderConfig{
			Name:       "github",
			Protocol:   ProtocolOAuth2,
			AuthURL:    "https://github.com/login/oauth/authorize",
			TokenURL:   "https://github.com/login/oauth/access_token",
			ProfileURL: "https://api.github.com/user",
			Scopes:     []string{"read:user", "user:email"},
			AttributeMapping: AttributeMap{
				UserID:   "id",
				Username: "login",
				Email:    "email",
				FullName: "name",
			},
		}, nil

	case "google":
		return &ProviderConfig{
			Name:      "google",
			Protocol:  ProtocolOIDC,
			IssuerURL: "https://accounts.google.com",
			Scopes:    []string{"openid", "profile", "email"},
			AttributeMapping: AttributeMap{
				UserID:    "sub",
				Username:  "email",
				Email:     "email",
				FullName:  "name",
				FirstName: "given_name",
				LastName:  "family_name",
			},
		}, nil

	default:
		return nil, fmt.Errorf("no preset configuration for provider: %s", name)
	}
}

// PresetNames lists the providers with built-in presets.
func PresetNames() []string {
	return []string{"openid", "twitter", "github", "google"}
}
