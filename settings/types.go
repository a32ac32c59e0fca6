package settings

import (
	"time"

	"github.com/richinsley/comfypanel/logger"
)

type (
	Config struct {
		Server  ServerConfig  `toml:"server" validate:"required"`
		Backend BackendConfig `toml:"backend" validate:"required"`
		Storage StorageConfig `toml:"storage" validate:"required"`
		Logging logger.Config `toml:"logging" validate:"required"`
	}

	ServerConfig struct {
		Listen string `toml:"listen" validate:"required,hostname_port"`
		// AllowOrigins is passed to CORS; empty allows any origin
		AllowOrigins []string `toml:"allowOrigins" validate:"dive,required"`
	}

	BackendConfig struct {
		Url            string        `toml:"url" validate:"required,url"`
		PollInterval   time.Duration `toml:"pollInterval" validate:"gt=0"`
		MaxAttempts    int           `toml:"maxAttempts" validate:"gt=0"`
		ProbeInterval  time.Duration `toml:"probeInterval" validate:"gte=1s"`
		RequestTimeout time.Duration `toml:"requestTimeout" validate:"gte=0"`
		PrimaryImage   string        `toml:"primaryImage" validate:"oneof=first last"`
	}

	StorageConfig struct {
		Dir string `toml:"dir" validate:"required"`
		// MergeSchedule is a cron spec for reclaiming database space
		MergeSchedule string `toml:"mergeSchedule" validate:"required"`
	}
)
