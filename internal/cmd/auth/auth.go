// Package auth parses auth service flags and launches the service.
package auth

import (
	"context"
	"flag"

	entrypoint "github.com/jordancrombie/bsim-sub002/internal/platform/cmd"
	server "github.com/jordancrombie/bsim-sub002/internal/services/auth/app"
)

// Config holds auth command configuration.
type Config struct {
	Port int `env:"BSIM_AUTH_PORT" envDefault:"8083"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The auth gRPC server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the auth service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceAuth, func(context.Context) error {
		return server.Run(ctx, cfg.Port)
	})
}
