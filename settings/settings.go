package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/richinsley/comfypanel/logger"
)

const (
	// EnvConfigPath names the configuration file
	EnvConfigPath = "COMFYPANEL_CONFIG"
	// EnvBackendURL overrides [backend] url
	EnvBackendURL = "COMFYPANEL_BACKEND_URL"
	// EnvListen overrides [server] listen
	EnvListen = "COMFYPANEL_LISTEN"

	DefaultConfigPath = "comfypanel.toml"
	DefaultBackendURL = "http://127.0.0.1:8188"
)

// Default returns the configuration used for every key the file leaves out
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen: "127.0.0.1:8080",
		},
		Backend: BackendConfig{
			Url:            DefaultBackendURL,
			PollInterval:   time.Second,
			MaxAttempts:    300,
			ProbeInterval:  5 * time.Second,
			RequestTimeout: 30 * time.Second,
			PrimaryImage:   "last",
		},
		Storage: StorageConfig{
			Dir:           "comfypanel.db",
			MergeSchedule: "@daily",
		},
		Logging: logger.DefaultConfig(),
	}
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(c)
}

// LoadConfig reads the TOML file at path over the defaults. A missing file is not an
// error when the path was not given explicitly.
func LoadConfig(path string) (*Config, error) {
	config := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(EnvConfigPath)
		explicit = path != ""
	}
	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || explicit {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	} else {
		// Get absolute path for better error messages
		absPath, err := filepath.Abs(path)
		if err != nil {
			absPath = path
		}
		if _, err := toml.DecodeFile(path, &config); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", absPath, err)
		}
	}

	if v := os.Getenv(EnvBackendURL); v != "" {
		config.Backend.Url = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		config.Server.Listen = v
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}

// Decode parses TOML text over the defaults, for tests and embedded configs
func Decode(data string) (*Config, error) {
	config := Default()
	if _, err := toml.Decode(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &config, nil
}
