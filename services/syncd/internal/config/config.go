package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the drift watcher daemon.
type Config struct {
	Addr      string        `env:"ADDR,default=:8084"`
	Projects  []string      `env:"PROJECTS,required"`
	Interval  time.Duration `env:"SYNC_INTERVAL,default=5m"`
	NATSURL   string        `env:"NATS_URL"`
	StoreRoot string        `env:"STORE_ROOT"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
