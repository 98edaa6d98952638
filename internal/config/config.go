package config

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

const (
	GrantTypeClientCredentials = "client_credentials"
	GrantTypePassword          = "password"
)

type Config struct {
	Port              int    `env:"PORT" envDefault:"8080"`
	DatabaseURL       string `env:"DATABASE_URL,required,notEmpty"`
	RedisURL          string `env:"REDIS_URL"`
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	AdminUsername     string `env:"ADMIN_USERNAME" envDefault:"admin"`
	AdminPasswordHash string `env:"ADMIN_PASSWORD_HASH"`
	EncryptionKey     string `env:"ENCRYPTION_KEY"`

	SessionTTLSeconds    int `env:"SESSION_TTL_SECONDS" envDefault:"900"`
	LoginRateLimitPerMin int `env:"LOGIN_RATE_LIMIT_PER_MIN" envDefault:"5"`
	SyncConcurrency      int `env:"SYNC_CONCURRENCY" envDefault:"4"`
	SyncIntervalSeconds  int `env:"SYNC_INTERVAL_SECONDS" envDefault:"0"`

	CRM CRMConfig `envPrefix:"CRM_"`
}

// CRMConfig holds the outbound CRM API settings. All fields are read with
// the CRM_ prefix.
type CRMConfig struct {
	AuthURL                    string `env:"AUTH_URL" envDefault:"https://login.salesforce.com/services/oauth2/token"`
	ClientID                   string `env:"CLIENT_ID"`
	ClientSecret               string `env:"CLIENT_SECRET"`
	Username                   string `env:"USERNAME"`
	Password                   string `env:"PASSWORD"`
	GrantType                  string `env:"GRANT_TYPE" envDefault:"client_credentials"`
	APIVersion                 string `env:"API_VERSION" envDefault:"v59.0"`
	Object                     string `env:"OBJECT" envDefault:"Contact"`
	SyncFlagField              string `env:"SYNC_FLAG_FIELD" envDefault:"Sync_To_App__c"`
	CredentialFreshnessSeconds int    `env:"CREDENTIAL_FRESHNESS_SECONDS" envDefault:"720"`
	RequestTimeoutSeconds      int    `env:"REQUEST_TIMEOUT_SECONDS" envDefault:"30"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// SyncInterval returns zero when scheduled reconciliation is disabled.
func (c *Config) SyncInterval() time.Duration {
	if c.SyncIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.SyncIntervalSeconds) * time.Second
}

// CredentialFreshness is the local validity window of a cached CRM token.
// The CRM may revoke a token earlier than this; callers retry once on 401.
func (c *CRMConfig) CredentialFreshness() time.Duration {
	return time.Duration(c.CredentialFreshnessSeconds) * time.Second
}

func (c *CRMConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

func (c *Config) Validate(isProduction bool) error {
	if c.AdminPasswordHash != "" {
		if !strings.HasPrefix(c.AdminPasswordHash, "$2a$") &&
			!strings.HasPrefix(c.AdminPasswordHash, "$2b$") &&
			!strings.HasPrefix(c.AdminPasswordHash, "$2y$") {
			return fmt.Errorf("ADMIN_PASSWORD_HASH must be a bcrypt hash (generate with: go run scripts/hash-password.go <password>)")
		}
	}

	if c.SessionTTLSeconds <= 0 {
		return fmt.Errorf("SESSION_TTL_SECONDS must be positive")
	}
	if c.CRM.CredentialFreshnessSeconds <= 0 {
		return fmt.Errorf("CRM_CREDENTIAL_FRESHNESS_SECONDS must be positive")
	}
	if c.CRM.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("CRM_REQUEST_TIMEOUT_SECONDS must be positive")
	}
	if c.SyncConcurrency <= 0 {
		return fmt.Errorf("SYNC_CONCURRENCY must be positive")
	}
	if c.LoginRateLimitPerMin <= 0 {
		return fmt.Errorf("LOGIN_RATE_LIMIT_PER_MIN must be positive")
	}

	switch c.CRM.GrantType {
	case GrantTypeClientCredentials:
	case GrantTypePassword:
		if c.CRM.Username == "" || c.CRM.Password == "" {
			return fmt.Errorf("CRM_USERNAME and CRM_PASSWORD are required for the password grant")
		}
	default:
		return fmt.Errorf("CRM_GRANT_TYPE must be %q or %q", GrantTypeClientCredentials, GrantTypePassword)
	}

	if c.EncryptionKey != "" {
		key, err := hex.DecodeString(c.EncryptionKey)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("ENCRYPTION_KEY must be 64 hex characters (generate with: openssl rand -hex 32)")
		}
	}

	if isProduction {
		if c.AdminPasswordHash == "" {
			log.Warn().Msg("ADMIN_PASSWORD_HASH is empty in production: admin login disabled")
		}
		if c.EncryptionKey == "" {
			log.Warn().Msg("ENCRYPTION_KEY is empty in production: CRM access token stored in plain text")
		}
		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.CRM.ClientID == "" || c.CRM.ClientSecret == "" {
			log.Warn().Msg("CRM_CLIENT_ID or CRM_CLIENT_SECRET is empty in production: sync will fail")
		}
	}

	return nil
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
