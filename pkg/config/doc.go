// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings, plus an optional YAML file for provider
// definitions beyond the built-in presets.
//
// # Configuration Structure
//
// Server settings:
//
//	SOCIALAUTH_HOST="0.0.0.0"
//	SOCIALAUTH_PORT="8080"
//	SOCIALAUTH_HEALTH_PORT="9090"
//	SOCIALAUTH_BASE_URL="https://auth.example.com"
//	SOCIALAUTH_READ_TIMEOUT="15s"
//	SOCIALAUTH_WRITE_TIMEOUT="15s"
//
// Database settings:
//
//	SOCIALAUTH_DB_DRIVER="postgres"  # postgres, sqlite3
//	SOCIALAUTH_DB_URL="postgres://localhost/socialauth"
//	SOCIALAUTH_DB_MAX_OPEN_CONNS="25"
//
// Pending-state store settings:
//
//	SOCIALAUTH_REDIS_URL="redis://localhost:6379"  # empty selects in-memory
//	SOCIALAUTH_STATE_TTL="10m"
//	SOCIALAUTH_SWEEP_SCHEDULE="@every 5m"
//
// Reconciliation settings:
//
//	SOCIALAUTH_CREATE_USERS="true"
//	SOCIALAUTH_FORCE_RANDOM_USERNAME="false"
//	SOCIALAUTH_DEFAULT_USERNAME=""
//	SOCIALAUTH_DISABLE_EXTRA_DATA="false"
//	SOCIALAUTH_CHANGE_SIGNAL_ONLY="false"
//	SOCIALAUTH_OPENID_TRUST_ROOT=""
//
// Provider credentials:
//
//	SOCIALAUTH_TWITTER_KEY / SOCIALAUTH_TWITTER_SECRET
//	SOCIALAUTH_GITHUB_KEY / SOCIALAUTH_GITHUB_SECRET
//	SOCIALAUTH_GOOGLE_KEY / SOCIALAUTH_GOOGLE_SECRET
//	SOCIALAUTH_PROVIDERS_FILE="/etc/socialauth/providers.yaml"
//
// Observability settings:
//
//	SOCIALAUTH_LOG_LEVEL="info"  # debug, info, warn, error
//	SOCIALAUTH_METRICS_ENABLED="true"
//	SOCIALAUTH_OTEL_ENABLED="true"
//	SOCIALAUTH_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
// Load configuration:
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	providers, err := cfg.ProviderConfigs()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// # Related Packages
//
//   - pkg/social: Consumes the provider list and auth policy
//   - pkg/observability: Uses observability configuration
package config
