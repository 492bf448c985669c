package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/occuhealth/occuhealth/internal/importer"
)

// Auth modes.
const (
	AuthModeDevelopment = "development"
	AuthModeToken       = "token"
	AuthModeExternal    = "external"
)

// Docstore drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

type Config struct {
	Port     string `mapstructure:"PORT"`
	Env      string `mapstructure:"ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	AuthMode       string `mapstructure:"AUTH_MODE"`
	AuthIssuer     string `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string `mapstructure:"AUTH_AUDIENCE"`
	AuthJWKSURL    string `mapstructure:"AUTH_JWKS_URL"`
	AuthSigningKey string `mapstructure:"AUTH_SIGNING_KEY"`

	DocstoreDriver string `mapstructure:"DOCSTORE_DRIVER"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32  `mapstructure:"DB_MIN_CONNS"`
	SQLitePath     string `mapstructure:"SQLITE_PATH"`
	DefaultTenant  string `mapstructure:"DEFAULT_TENANT"`

	RedisURL           string        `mapstructure:"REDIS_URL"`
	CollectionCacheTTL time.Duration `mapstructure:"COLLECTION_CACHE_TTL"`

	CORSOrigins    []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string        `mapstructure:"BODY_LIMIT"`
	UploadMaxSize  string        `mapstructure:"UPLOAD_MAX_SIZE"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	ImportPendingTTL        time.Duration `mapstructure:"IMPORT_PENDING_TTL"`
	ImportCancelPolicy      string        `mapstructure:"IMPORT_CANCEL_POLICY"`
	ImportCommitConcurrency int           `mapstructure:"IMPORT_COMMIT_CONCURRENCY"`
	ImportTimezone          string        `mapstructure:"IMPORT_TIMEZONE"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic   string   `mapstructure:"KAFKA_TOPIC"`

	SMTPHost                       string   `mapstructure:"SMTP_HOST"`
	SMTPPort                       int      `mapstructure:"SMTP_PORT"`
	SMTPUsername                   string   `mapstructure:"SMTP_USERNAME"`
	SMTPPassword                   string   `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom                       string   `mapstructure:"SMTP_FROM"`
	ImportNotifyRecipients         []string `mapstructure:"IMPORT_NOTIFY_RECIPIENTS"`
	RecommendationNotifyRecipients []string `mapstructure:"RECOMMENDATION_NOTIFY_RECIPIENTS"`

	AttachmentsDir string `mapstructure:"ATTACHMENTS_DIR"`
	PublicBaseURL  string `mapstructure:"PUBLIC_BASE_URL"`

	TLSEnabled  bool   `mapstructure:"TLS_ENABLED"`
	TLSCertFile string `mapstructure:"TLS_CERT_FILE"`
	TLSKeyFile  string `mapstructure:"TLS_KEY_FILE"`
}

var keys = []string{
	"PORT", "ENV", "LOG_LEVEL",
	"AUTH_MODE", "AUTH_ISSUER", "AUTH_AUDIENCE", "AUTH_JWKS_URL", "AUTH_SIGNING_KEY",
	"DOCSTORE_DRIVER", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "SQLITE_PATH", "DEFAULT_TENANT",
	"REDIS_URL", "COLLECTION_CACHE_TTL",
	"CORS_ORIGINS", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "UPLOAD_MAX_SIZE", "REQUEST_TIMEOUT",
	"IMPORT_PENDING_TTL", "IMPORT_CANCEL_POLICY", "IMPORT_COMMIT_CONCURRENCY", "IMPORT_TIMEZONE",
	"KAFKA_BROKERS", "KAFKA_TOPIC",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
	"IMPORT_NOTIFY_RECIPIENTS", "RECOMMENDATION_NOTIFY_RECIPIENTS",
	"ATTACHMENTS_DIR", "PUBLIC_BASE_URL",
	"TLS_ENABLED", "TLS_CERT_FILE", "TLS_KEY_FILE",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DOCSTORE_DRIVER", "postgres")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("SQLITE_PATH", "occuhealth.db")
	v.SetDefault("DEFAULT_TENANT", "default")
	v.SetDefault("COLLECTION_CACHE_TTL", "5m")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("UPLOAD_MAX_SIZE", "25M")
	v.SetDefault("REQUEST_TIMEOUT", "60s")
	v.SetDefault("IMPORT_PENDING_TTL", "30m")
	v.SetDefault("IMPORT_CANCEL_POLICY", "deny")
	v.SetDefault("IMPORT_COMMIT_CONCURRENCY", 16)
	v.SetDefault("IMPORT_TIMEZONE", "UTC")
	v.SetDefault("KAFKA_TOPIC", "occuhealth.imports")
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("ATTACHMENTS_DIR", "data/attachments")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8000")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Comma separated env values arrive as a single element.
	cfg.CORSOrigins = splitList(cfg.CORSOrigins)
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers)
	cfg.ImportNotifyRecipients = splitList(cfg.ImportNotifyRecipients)
	cfg.RecommendationNotifyRecipients = splitList(cfg.RecommendationNotifyRecipients)

	if cfg.DocstoreDriver == DriverPostgres && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required when DOCSTORE_DRIVER is postgres")
	}
	return cfg, nil
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ResolvedAuthMode returns AUTH_MODE when set, otherwise:
//   - ENV=development          -> development (every request is admin)
//   - AUTH_ISSUER or JWKS set  -> external (RS256 tokens from an identity provider)
//   - otherwise                -> token (HS256 tokens minted with AUTH_SIGNING_KEY)
func (c *Config) ResolvedAuthMode() string {
	if c.AuthMode != "" {
		return c.AuthMode
	}
	if c.IsDev() {
		return AuthModeDevelopment
	}
	if c.AuthIssuer != "" || c.AuthJWKSURL != "" {
		return AuthModeExternal
	}
	return AuthModeToken
}

// Location returns the zone spreadsheet dates are interpreted in.
func (c *Config) Location() (*time.Location, error) {
	if c.ImportTimezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.ImportTimezone)
}

// CancelPolicy returns the parsed IMPORT_CANCEL_POLICY.
func (c *Config) CancelPolicy() (importer.CancelPolicy, error) {
	return importer.ParseCancelPolicy(c.ImportCancelPolicy)
}

// Validate rejects configurations that would start without working
// authentication or with unusable import settings.
func (c *Config) Validate() error {
	switch mode := c.ResolvedAuthMode(); mode {
	case AuthModeDevelopment:
		if c.IsProduction() {
			return fmt.Errorf("AUTH_MODE=development is not allowed when ENV=production")
		}
	case AuthModeToken:
		if len(c.AuthSigningKey) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 characters when AUTH_MODE is %q", mode)
		}
	case AuthModeExternal:
		if c.AuthIssuer == "" && c.AuthJWKSURL == "" {
			return fmt.Errorf("AUTH_ISSUER or AUTH_JWKS_URL must be set when AUTH_MODE is %q", mode)
		}
	default:
		return fmt.Errorf("AUTH_MODE must be %q, %q or %q, got %q",
			AuthModeDevelopment, AuthModeToken, AuthModeExternal, mode)
	}

	switch c.DocstoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DOCSTORE_DRIVER is postgres")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when DOCSTORE_DRIVER is sqlite")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("DOCSTORE_DRIVER must be postgres, sqlite or memory, got %q", c.DocstoreDriver)
	}

	if _, err := c.CancelPolicy(); err != nil {
		return fmt.Errorf("IMPORT_CANCEL_POLICY: %w", err)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("IMPORT_TIMEZONE: %w", err)
	}
	if c.ImportPendingTTL <= 0 {
		return fmt.Errorf("IMPORT_PENDING_TTL must be positive")
	}
	if c.ImportCommitConcurrency < 0 {
		return fmt.Errorf("IMPORT_COMMIT_CONCURRENCY must not be negative")
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must not be negative")
	}

	if c.TLSEnabled {
		if c.TLSCertFile == "" {
			return fmt.Errorf("TLS_CERT_FILE is required when TLS_ENABLED is true")
		}
		if c.TLSKeyFile == "" {
			return fmt.Errorf("TLS_KEY_FILE is required when TLS_ENABLED is true")
		}
	}
	return nil
}
