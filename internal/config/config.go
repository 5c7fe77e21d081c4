// Package config loads service configuration from a YAML file with
// environment variable overrides.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

type ServerConfig struct {
	Port               int `yaml:"port"`
	ReadTimeoutSec     int `yaml:"read_timeout_sec"`
	WriteTimeoutSec    int `yaml:"write_timeout_sec"`
	IdleTimeoutSec     int `yaml:"idle_timeout_sec"`
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type DatabaseConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	User           string `yaml:"user"`
	Password       string `yaml:"password"`
	Database       string `yaml:"database"`
	SSLMode        string `yaml:"ssl_mode"`
	MaxConns       int32  `yaml:"max_conns"`
	MinConns       int32  `yaml:"min_conns"`
	MaxConnTimeSec int    `yaml:"max_conn_time_sec"`
	MaxIdleTimeSec int    `yaml:"max_idle_time_sec"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads the YAML file at path (optional; path may be empty), applies
// environment overrides, then defaults.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Service.Environment, "ENVIRONMENT")
	setString(&c.Log.Level, "LOG_LEVEL")
	setInt(&c.Server.Port, "SERVER_PORT")
	setString(&c.Database.Host, "DB_HOST")
	setInt(&c.Database.Port, "DB_PORT")
	setString(&c.Database.User, "DB_USER")
	setString(&c.Database.Password, "DB_PASSWORD")
	setString(&c.Database.Database, "DB_NAME")
	setString(&c.Database.SSLMode, "DB_SSL_MODE")
	setString(&c.NATS.URL, "NATS_URL")
}

func (c *Config) applyDefaults() {
	if c.Service.Name == "" {
		c.Service.Name = "be-procurement"
	}
	if c.Service.Version == "" {
		c.Service.Version = "dev"
	}
	if c.Service.Environment == "" {
		c.Service.Environment = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeoutSec == 0 {
		c.Server.ShutdownTimeoutSec = 10
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.User == "" {
		c.Database.User = "postgres"
	}
	if c.Database.Database == "" {
		c.Database.Database = "procurement"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 10
	}
	if c.Database.MinConns == 0 {
		c.Database.MinConns = 2
	}
	if c.Database.MaxConnTimeSec == 0 {
		c.Database.MaxConnTimeSec = 3600
	}
	if c.Database.MaxIdleTimeSec == 0 {
		c.Database.MaxIdleTimeSec = 600
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
