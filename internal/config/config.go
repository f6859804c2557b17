package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog/log"
)

var knownWeakSecrets = []string{
	"change-me", "dev-secret-change-me", "secret", "admin", "password",
}

type Config struct {
	Port               int    `env:"PORT" envDefault:"8080"`
	DatabaseURL        string `env:"DATABASE_URL,required"`
	RedisURL           string `env:"REDIS_URL,required"`
	SessionSecret      string `env:"SESSION_SECRET" envDefault:"dev-secret-change-me"`
	SessionTTLHours    int    `env:"SESSION_TTL_HOURS" envDefault:"24"`
	AdminBootstrapHash string `env:"ADMIN_BOOTSTRAP_HASH"`
	RateLimitPerMin    int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
	AutoMigrate        bool   `env:"AUTO_MIGRATE" envDefault:"true"`
	Environment        string `env:"APP_ENV" envDefault:"development"`

	Registry RegistryConfig `envPrefix:"REGISTRY_"`
}

// RegistryConfig describes the on-chain registry contracts. An empty RPCURL
// disables every registry feature.
type RegistryConfig struct {
	RPCURL                string `env:"RPC_URL"`
	ChainID               uint64 `env:"CHAIN_ID" envDefault:"11155111"`
	UserRegistryAddress   string `env:"USER_CONTRACT"`
	CompanyRegistryAddr   string `env:"COMPANY_CONTRACT"`
	InsuranceAddress      string `env:"INSURANCE_CONTRACT"`
	OwnerAddress          string `env:"OWNER_ADDRESS"`
	RPCTimeoutSeconds     int    `env:"RPC_TIMEOUT_SECONDS" envDefault:"15"`
	PollIntervalSeconds   int    `env:"POLL_INTERVAL_SECONDS" envDefault:"15"`
	ConfirmTimeoutMinutes int    `env:"CONFIRM_TIMEOUT_MINUTES" envDefault:"30"`
}

func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (r *RegistryConfig) Enabled() bool {
	return r.RPCURL != ""
}

func (r *RegistryConfig) RPCTimeout() time.Duration {
	return time.Duration(r.RPCTimeoutSeconds) * time.Second
}

func (r *RegistryConfig) PollInterval() time.Duration {
	return time.Duration(r.PollIntervalSeconds) * time.Second
}

func (r *RegistryConfig) ConfirmTimeout() time.Duration {
	return time.Duration(r.ConfirmTimeoutMinutes) * time.Minute
}

func (c *Config) Validate(isProduction bool) error {
	if c.AdminBootstrapHash != "" {
		if !strings.HasPrefix(c.AdminBootstrapHash, "$2a$") &&
			!strings.HasPrefix(c.AdminBootstrapHash, "$2b$") &&
			!strings.HasPrefix(c.AdminBootstrapHash, "$2y$") {
			return fmt.Errorf("ADMIN_BOOTSTRAP_HASH must be a bcrypt hash (generate with: go run scripts/hash-password.go <secret>)")
		}
	}

	if c.SessionTTLHours <= 0 {
		return fmt.Errorf("SESSION_TTL_HOURS must be positive")
	}

	if c.Registry.Enabled() {
		for name, addr := range map[string]string{
			"REGISTRY_USER_CONTRACT":      c.Registry.UserRegistryAddress,
			"REGISTRY_COMPANY_CONTRACT":   c.Registry.CompanyRegistryAddr,
			"REGISTRY_INSURANCE_CONTRACT": c.Registry.InsuranceAddress,
		} {
			if addr == "" {
				return fmt.Errorf("%s is required when REGISTRY_RPC_URL is set", name)
			}
		}
	}

	if isProduction {
		if err := validateSecret("SESSION_SECRET", c.SessionSecret); err != nil {
			return err
		}

		if strings.HasPrefix(c.RedisURL, "redis://") {
			log.Warn().Msg("REDIS_URL uses redis:// (not TLS) in production: consider using rediss://")
		}
		if c.AdminBootstrapHash != "" {
			log.Warn().Msg("ADMIN_BOOTSTRAP_HASH is set in production: unset it once the first admin exists")
		}
	}

	return nil
}

func validateSecret(name, value string) error {
	if len(value) < 32 {
		return fmt.Errorf("%s must be at least 32 characters in production (generate with: openssl rand -base64 32)", name)
	}
	for _, weak := range knownWeakSecrets {
		if value == weak {
			return fmt.Errorf("%s is a known weak default; set a strong secret in production", name)
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
