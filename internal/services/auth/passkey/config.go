// Package passkey holds WebAuthn relying-party configuration shared by the
// ceremony code.
package passkey

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// AnonymousKey is the challenge key used for hint-less authentication
// ceremonies, where the authenticator picks the credential.
const AnonymousKey = "anonymous"

// Config controls WebAuthn relying party settings.
//
// RPOrigins lists every origin a deployment answers on, e.g. the canonical
// customer domain plus related admin subdomains.
type Config struct {
	RPDisplayName string        `env:"BSIM_WEBAUTHN_RP_DISPLAY_NAME" envDefault:"BSIM Banking"`
	RPID          string        `env:"BSIM_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string      `env:"BSIM_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	ChallengeTTL  time.Duration `env:"BSIM_WEBAUTHN_CHALLENGE_TTL"   envDefault:"5m"`
}

// LoadConfigFromEnv returns passkey configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			RPDisplayName: "BSIM Banking",
			RPID:          "localhost",
			RPOrigins:     []string{"http://localhost:8080"},
			ChallengeTTL:  5 * time.Minute,
		}
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8080"}
	}
	return cfg
}
