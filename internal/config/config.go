package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tclemons/salestaxd/internal/model"
)

// Duration wraps time.Duration so YAML values like "30m" or "10s"
// parse; yaml.v3 only handles raw nanosecond integers on its own.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all service settings, loaded from YAML with sane
// defaults for anything omitted.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Data    DataConfig    `yaml:"data"`
	Sheet   SheetConfig   `yaml:"sheet"`
	Cache   CacheConfig   `yaml:"cache"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DataConfig controls on-disk state.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// SheetConfig controls the remote price sheet and uploads.
type SheetConfig struct {
	URL             string   `yaml:"url"`
	ProbeTimeout    Duration `yaml:"probe_timeout"`
	DownloadTimeout Duration `yaml:"download_timeout"`
	RefreshAfter    Duration `yaml:"refresh_after"`
	MaxUploadBytes  int64    `yaml:"max_upload_bytes"`
}

// CacheConfig controls the in-memory device cache.
type CacheConfig struct {
	SearchCacheSize int `yaml:"search_cache_size"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Data: DataConfig{
			Dir: "./data",
		},
		Sheet: SheetConfig{
			ProbeTimeout:    Duration(model.DefaultProbeTimeout),
			DownloadTimeout: Duration(model.DefaultDownloadTimeout),
			RefreshAfter:    Duration(model.DefaultRefreshAfter),
			MaxUploadBytes:  model.DefaultMaxUploadBytes,
		},
		Cache: CacheConfig{
			SearchCacheSize: model.DefaultSearchCacheSize,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// searchPaths returns the config file locations tried in order when no
// explicit path is given.
func searchPaths() []string {
	paths := []string{"./salestaxd.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "salestaxd", "config.yaml"))
	}
	return paths
}

// Load reads configuration from path, or from the first search path
// that exists when path is empty. No file at all yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range searchPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the loaded settings for obvious mistakes.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir must not be empty")
	}
	if c.Sheet.MaxUploadBytes <= 0 {
		return fmt.Errorf("sheet.max_upload_bytes must be positive, got %d", c.Sheet.MaxUploadBytes)
	}
	if c.Cache.SearchCacheSize <= 0 {
		return fmt.Errorf("cache.search_cache_size must be positive, got %d", c.Cache.SearchCacheSize)
	}
	switch c.Logging.Format {
	case "", "auto", "json", "console":
	default:
		return fmt.Errorf("logging.format must be auto, json, or console, got %q", c.Logging.Format)
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
