package passkey

import (
	"testing"
	"time"
)

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	cfg := LoadConfigFromEnv()

	if cfg.RPID != "localhost" {
		t.Fatalf("rp id = %q, want localhost", cfg.RPID)
	}
	if cfg.RPDisplayName == "" {
		t.Fatal("expected a default display name")
	}
	if len(cfg.RPOrigins) == 0 {
		t.Fatal("expected at least one default origin")
	}
	if cfg.ChallengeTTL != 5*time.Minute {
		t.Fatalf("challenge ttl = %v, want 5m", cfg.ChallengeTTL)
	}
}

func TestLoadConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("BSIM_WEBAUTHN_RP_ID", "bank.example")
	t.Setenv("BSIM_WEBAUTHN_RP_ORIGINS", "https://bank.example,https://admin.bank.example")
	t.Setenv("BSIM_WEBAUTHN_CHALLENGE_TTL", "90s")

	cfg := LoadConfigFromEnv()
	if cfg.RPID != "bank.example" {
		t.Fatalf("rp id = %q", cfg.RPID)
	}
	if len(cfg.RPOrigins) != 2 || cfg.RPOrigins[1] != "https://admin.bank.example" {
		t.Fatalf("origins = %v", cfg.RPOrigins)
	}
	if cfg.ChallengeTTL != 90*time.Second {
		t.Fatalf("challenge ttl = %v, want 90s", cfg.ChallengeTTL)
	}
}
