package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfed/socialauth/pkg/observability"
	"github.com/openfed/socialauth/pkg/social"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration for the pending-state store
	Redis RedisConfig

	// Auth holds the reconciliation and flow policy
	Auth AuthConfig

	// Providers holds provider credentials and the extension file
	Providers ProvidersConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// BaseURL is the externally visible origin used to build provider
	// callback URLs.
	BaseURL string

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds relational database configuration. Driver is either
// "postgres" or "sqlite3".
type DatabaseConfig struct {
	Driver          string
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds the redis connection for pending auth state. An empty
// URL selects the in-memory store, which only works single-node.
type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

// AuthConfig holds the reconciliation switches and flow policy
type AuthConfig struct {
	CreateUsers         bool
	ForceRandomUsername bool
	DisableExtraData    bool
	ChangeSignalOnly    bool
	DefaultUsername     string

	// TrustRoot is the OpenID realm. Defaults to the server base URL.
	TrustRoot string

	// StateTTL bounds how long a begin-auth waits for its completion.
	StateTTL time.Duration

	// SweepSchedule is the cron spec for expired-state cleanup when the
	// in-memory store is active.
	SweepSchedule string

	LoginRedirectURL string
	LoginErrorURL    string
	ErrorCookie      string
	SessionCookie    string
	SecureCookies    bool
}

// ProvidersConfig carries consumer credentials for the preset providers and
// an optional YAML file with additional provider definitions.
type ProvidersConfig struct {
	TwitterKey    string
	TwitterSecret string
	GitHubKey     string
	GitHubSecret  string
	GoogleKey     string
	GoogleSecret  string

	// ExtraFile points at a YAML file with additional providers.
	ExtraFile string
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		Providers:     loadProvidersConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("SOCIALAUTH_HOST", "0.0.0.0"),
		Port:            getEnv("SOCIALAUTH_PORT", "8080"),
		ReadTimeout:     getEnvDuration("SOCIALAUTH_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("SOCIALAUTH_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("SOCIALAUTH_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("SOCIALAUTH_SHUTDOWN_TIMEOUT", 30*time.Second),
		BaseURL:         getEnv("SOCIALAUTH_BASE_URL", "http://localhost:8080"),
		HealthPort:      getEnv("SOCIALAUTH_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          getEnv("SOCIALAUTH_DB_DRIVER", "postgres"),
		URL:             getEnv("SOCIALAUTH_DB_URL", ""),
		MaxOpenConns:    getEnvInt("SOCIALAUTH_DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("SOCIALAUTH_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("SOCIALAUTH_DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// loadRedisConfig loads redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("SOCIALAUTH_REDIS_URL", ""),
		Password: getEnv("SOCIALAUTH_REDIS_PASSWORD", ""),
		DB:       getEnvInt("SOCIALAUTH_REDIS_DB", 0),
		PoolSize: getEnvInt("SOCIALAUTH_REDIS_POOL_SIZE", 10),
	}
}

// loadAuthConfig loads reconciliation policy from environment
func loadAuthConfig() AuthConfig {
	return AuthConfig{
		CreateUsers:         getEnvBool("SOCIALAUTH_CREATE_USERS", true),
		ForceRandomUsername: getEnvBool("SOCIALAUTH_FORCE_RANDOM_USERNAME", false),
		DisableExtraData:    getEnvBool("SOCIALAUTH_DISABLE_EXTRA_DATA", false),
		ChangeSignalOnly:    getEnvBool("SOCIALAUTH_CHANGE_SIGNAL_ONLY", false),
		DefaultUsername:     getEnv("SOCIALAUTH_DEFAULT_USERNAME", ""),
		TrustRoot:           getEnv("SOCIALAUTH_OPENID_TRUST_ROOT", ""),
		StateTTL:            getEnvDuration("SOCIALAUTH_STATE_TTL", 10*time.Minute),
		SweepSchedule:       getEnv("SOCIALAUTH_SWEEP_SCHEDULE", "@every 5m"),
		LoginRedirectURL:    getEnv("SOCIALAUTH_LOGIN_REDIRECT_URL", "/"),
		LoginErrorURL:       getEnv("SOCIALAUTH_LOGIN_ERROR_URL", "/login"),
		ErrorCookie:         getEnv("SOCIALAUTH_ERROR_COOKIE", "socialauth_error"),
		SessionCookie:       getEnv("SOCIALAUTH_SESSION_COOKIE", "socialauth_session"),
		SecureCookies:       getEnvBool("SOCIALAUTH_SECURE_COOKIES", false),
	}
}

// loadProvidersConfig loads provider credentials from environment
func loadProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		TwitterKey:    getEnv("SOCIALAUTH_TWITTER_KEY", ""),
		TwitterSecret: getEnv("SOCIALAUTH_TWITTER_SECRET", ""),
		GitHubKey:     getEnv("SOCIALAUTH_GITHUB_KEY", ""),
		GitHubSecret:  getEnv("SOCIALAUTH_GITHUB_SECRET", ""),
		GoogleKey:     getEnv("SOCIALAUTH_GOOGLE_KEY", ""),
		GoogleSecret:  getEnv("SOCIALAUTH_GOOGLE_SECRET", ""),
		ExtraFile:     getEnv("SOCIALAUTH_PROVIDERS_FILE", ""),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	cfg := ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("SOCIALAUTH_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("SOCIALAUTH_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("SOCIALAUTH_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("SOCIALAUTH_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("SOCIALAUTH_OTEL_SERVICE_NAME", "socialauth"),
		OTelServiceVersion: getEnv("SOCIALAUTH_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("SOCIALAUTH_OTEL_INSECURE", true),
	}

	return cfg
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}

	// Validate database config
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Auth.StateTTL <= 0 {
		return fmt.Errorf("state TTL must be positive")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// providersFile is the YAML layout of the provider extension file.
type providersFile struct {
	Providers []social.ProviderConfig `yaml:"providers"`
}

// ProviderConfigs assembles the full provider list: the built-in presets
// with credentials injected from the environment, plus any providers from
// the extension file. Presets without credentials stay in the list and are
// filtered out at registry build time.
func (c *Config) ProviderConfigs() ([]social.ProviderConfig, error) {
	creds := map[string][2]string{
		"twitter": {c.Providers.TwitterKey, c.Providers.TwitterSecret},
		"github":  {c.Providers.GitHubKey, c.Providers.GitHubSecret},
		"google":  {c.Providers.GoogleKey, c.Providers.GoogleSecret},
	}

	var configs []social.ProviderConfig
	for _, name := range social.PresetNames() {
		preset, err := social.GetPresetConfig(name)
		if err != nil {
			return nil, err
		}
		if kv, ok := creds[name]; ok {
			preset.Key = kv[0]
			preset.Secret = kv[1]
		}
		configs = append(configs, *preset)
	}

	if c.Providers.ExtraFile != "" {
		data, err := os.ReadFile(c.Providers.ExtraFile)
		if err != nil {
			return nil, fmt.Errorf("reading providers file: %w", err)
		}
		var extra providersFile
		if err := yaml.Unmarshal(data, &extra); err != nil {
			return nil, fmt.Errorf("parsing providers file: %w", err)
		}
		configs = append(configs, extra.Providers...)
	}

	return configs, nil
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
