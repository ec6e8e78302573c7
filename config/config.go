// Package config loads server configuration from an optional TOML file,
// applies defaults and lets VSOC_* environment variables override the
// most commonly tuned values.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Host          string    `toml:"host"`
	Port          int       `toml:"port"`
	DiscoveryPort int       `toml:"discoveryPort"`
	DBPath        string    `toml:"dbPath"`
	WriteTimeout  int       `toml:"writeTimeout"` // seconds
	Log           LogConfig `toml:"log"`
}

type LogConfig struct {
	Level      string `toml:"level"`
	FileName   string `toml:"fileName"` // empty disables the file core
	MaxSize    int    `toml:"maxSize"`  // MB
	MaxBackups int    `toml:"maxBackups"`
	MaxAge     int    `toml:"maxAge"` // days
}

// Load reads the config file named by VSOC_CONFIG (if set and present),
// fills in defaults and applies env overrides.
func Load() (*Config, error) {
	cfg := &Config{
		Host:          "0.0.0.0",
		Port:          9000,
		DiscoveryPort: 9001,
		DBPath:        "vsoc.db",
		WriteTimeout:  30,
		Log: LogConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
		},
	}

	if path := os.Getenv("VSOC_CONFIG"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, err
		}
	}

	if portStr := os.Getenv("VSOC_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if portStr := os.Getenv("VSOC_DISCOVERY_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.DiscoveryPort = port
		}
	}

	if dbPath := os.Getenv("VSOC_DB_PATH"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	if timeoutStr := os.Getenv("VSOC_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil {
			cfg.WriteTimeout = timeout
		}
	}

	if level := os.Getenv("VSOC_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	return cfg, nil
}
