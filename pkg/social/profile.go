package social

import (
	"encoding/json"
	"strconv"
	"strings"
	"unicode"
)

// OpenID attribute alias tables. Attribute Exchange values are requested
// under both the current axschema.org URIs and the legacy schema.openid.net
// ones; when a provider answers with both, the current schema wins.
type attrAlias struct {
	Name  string
	Alias string
}

var sregAttrs = []attrAlias{
	{"email", attrEmail},
	{"fullname", attrFullName},
	{"nickname", attrNickname},
}

var axSchemaAttrs = []attrAlias{
	{"http://axschema.org/contact/email", attrEmail},
	{"http://axschema.org/namePerson", attrFullName},
	{"http://axschema.org/namePerson/first", attrFirstName},
	{"http://axschema.org/namePerson/last", attrLastName},
	{"http://axschema.org/namePerson/friendly", attrNickname},
}

var oldAXAttrs = []attrAlias{
	{"http://schema.openid.net/contact/email", attrEmail},
	{"http://schema.openid.net/namePerson", attrFullName},
	{"http://schema.openid.net/namePerson/friendly", attrNickname},
}

// mergeOpenIDAttributes folds Simple Registration values and Attribute
// Exchange values (keyed by type URI) into one canonical namespace.
// Precedence, lowest to highest: SReg, legacy AX URIs, current AX URIs.
func mergeOpenIDAttributes(sreg map[string]string, ax map[string]string) map[string]string {
	merged := make(map[string]string)
	for _, a := range sregAttrs {
		if v := sreg[a.Name]; v != "" {
			merged[a.Alias] = v
		}
	}
	for _, a := range oldAXAttrs {
		if v := ax[a.Name]; v != "" {
			merged[a.Alias] = v
		}
	}
	for _, a := range axSchemaAttrs {
		if v := ax[a.Name]; v != "" {
			merged[a.Alias] = v
		}
	}
	return merged
}

// openIDProfile derives the canonical profile from merged OpenID attributes:
// name splitting/joining, then a default username from the title-cased name
// parts when the provider returned no nickname.
func openIDProfile(attrs map[string]string) CanonicalProfile {
	p := CanonicalProfile{
		Username:  attrs[attrNickname],
		Email:     attrs[attrEmail],
		FullName:  attrs[attrFullName],
		FirstName: attrs[attrFirstName],
		LastName:  attrs[attrLastName],
	}
	NormalizeNames(&p)
	if p.Username == "" {
		p.Username = titleCase(p.FirstName) + titleCase(p.LastName)
	}
	return p
}

// mapAttributes extracts the canonical profile from raw provider attributes
// using a per-provider field-name mapping. No name derivation happens here;
// the engine normalizes names before syncing.
func mapAttributes(identity *ProviderIdentity, m AttributeMap) CanonicalProfile {
	attrs := identity.RawAttributes
	return CanonicalProfile{
		Username:  attrs[m.Username],
		Email:     attrs[m.Email],
		FullName:  attrs[m.FullName],
		FirstName: attrs[m.FirstName],
		LastName:  attrs[m.LastName],
	}
}

// NormalizeNames applies the name-splitting invariant: a lone full name is
// split on its last whitespace boundary into first/last, and lone first/last
// parts are joined into a full name. A full name without any whitespace
// becomes the last name.
func NormalizeNames(p *CanonicalProfile) {
	switch {
	case p.FullName == "" && p.FirstName != "" && p.LastName != "":
		p.FullName = p.FirstName + " " + p.LastName
	case p.FullName != "" && p.FirstName == "" && p.LastName == "":
		if i := strings.LastIndexAny(p.FullName, " \t"); i >= 0 {
			p.FirstName = p.FullName[:i]
			p.LastName = strings.TrimLeft(p.FullName[i:], " \t")
		} else {
			p.LastName = p.FullName
		}
	}
}

// flattenAttributes converts a decoded JSON object into flat string
// attributes. Nested objects flatten under a dotted prefix; arrays are
// skipped. Decoders feeding this should use UseNumber so 64-bit provider
// ids survive without float rounding.
func flattenAttributes(prefix string, in map[string]any, out map[string]string) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch t := v.(type) {
		case string:
			out[key] = t
		case bool:
			out[key] = strconv.FormatBool(t)
		case json.Number:
			out[key] = t.String()
		case float64:
			out[key] = strconv.FormatFloat(t, 'f', -1, 64)
		case map[string]any:
			flattenAttributes(key, t, out)
		}
	}
}

// titleCase upper-cases the first rune of each whitespace-separated word.
func titleCase(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		r := []rune(f)
		r[0] = unicode.ToUpper(r[0])
		fields[i] = string(r)
	}
	return strings.Join(fields, "")
}
