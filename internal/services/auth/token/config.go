package token

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls token issuance.
type Config struct {
	Issuer     string        `env:"BSIM_TOKEN_ISSUER"      envDefault:"bsim-auth"`
	Secret     string        `env:"BSIM_TOKEN_SECRET"`
	AccessTTL  time.Duration `env:"BSIM_TOKEN_ACCESS_TTL"  envDefault:"15m"`
	RefreshTTL time.Duration `env:"BSIM_TOKEN_REFRESH_TTL" envDefault:"720h"`
	SessionTTL time.Duration `env:"BSIM_TOKEN_SESSION_TTL" envDefault:"24h"`
}

// LoadConfigFromEnv returns token configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			Issuer:     "bsim-auth",
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 720 * time.Hour,
			SessionTTL: 24 * time.Hour,
		}
	}
	return cfg
}
