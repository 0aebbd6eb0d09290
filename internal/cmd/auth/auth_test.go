package auth

import (
	"flag"
	"os"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	t.Setenv("BSIM_AUTH_PORT", "")
	os.Unsetenv("BSIM_AUTH_PORT")
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.Port != 8083 {
		t.Fatalf("Port = %d, want 8083", cfg.Port)
	}
}

func TestParseConfigEnvOverride(t *testing.T) {
	t.Setenv("BSIM_AUTH_PORT", "9090")
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("Port = %d, want 9090", cfg.Port)
	}
}

func TestParseConfigFlagBeatsEnv(t *testing.T) {
	t.Setenv("BSIM_AUTH_PORT", "9090")
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-port", "7001"})
	if err != nil {
		t.Fatalf("ParseConfig() error = %v", err)
	}
	if cfg.Port != 7001 {
		t.Fatalf("Port = %d, want 7001", cfg.Port)
	}
}

func TestParseConfigRejectsBadEnvValue(t *testing.T) {
	t.Setenv("BSIM_AUTH_PORT", "not-a-number")
	fs := flag.NewFlagSet("auth", flag.ContinueOnError)
	if _, err := ParseConfig(fs, nil); err == nil {
		t.Fatal("expected parse error for non-numeric port")
	}
}
