package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the envd control plane.
type Config struct {
	Addr           string        `env:"ADDR,default=:8080"`
	DBDSN          string        `env:"DB_DSN,required"`
	NATSURL        string        `env:"NATS_URL"`
	SnapshotBucket string        `env:"S3_BUCKET"`
	PresignTTL     time.Duration `env:"PRESIGN_TTL,default=15m"`
	RequireAuth    bool          `env:"REQUIRE_AUTH,default=false"`
	AllowedOrigins []string      `env:"CORS_ALLOWED_ORIGINS,default=*"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
