// Package config loads the pipeline's YAML configuration file, layering
// environment-variable overrides for secrets on top (spec §6's
// Environment variables section).
//
// Grounded on postgres-ducklake-flusher/go/config.go's
// struct-per-concern-plus-LoadConfig-defaulting shape.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration for one Job Runner or Monitoring
// Service process.
type Config struct {
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Remote      RemoteConfig      `yaml:"remote"`
	Store       StoreConfig       `yaml:"store"`
	Shutdown    ShutdownConfig    `yaml:"shutdown"`
	Monitor     MonitorConfig     `yaml:"monitor"`
	Ledger      LedgerConfig      `yaml:"ledger"`
}

// ObjectStoreConfig configures the Object Store Client.
type ObjectStoreConfig struct {
	Bucket             string        `yaml:"bucket"`
	RootPrefix         string        `yaml:"root_prefix"`
	Vendor             string        `yaml:"vendor"`
	Product            string        `yaml:"product"`
	Region             string        `yaml:"region"`
	Endpoint           string        `yaml:"endpoint"`
	RequestTimeoutSecs int           `yaml:"request_timeout_secs"`
	requestTimeout     time.Duration `yaml:"-"`
}

// RemoteConfig configures the Remote Ledger Store connection. Credentials
// are read from environment variables, never the YAML file, per spec §6.
type RemoteConfig struct {
	Host     string `yaml:"-"`
	Port     int    `yaml:"-"`
	User     string `yaml:"-"`
	Password string `yaml:"-"`
	Database string `yaml:"-"`
}

// StoreConfig configures the local Analytical Store file.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ShutdownConfig configures the rendezvous file.
type ShutdownConfig struct {
	RendezvousPath string `yaml:"rendezvous_path"`
}

// MonitorConfig configures the Monitoring Service.
type MonitorConfig struct {
	Port int `yaml:"port"`
}

// LedgerConfig configures ledger behaviour.
type LedgerConfig struct {
	StaleThresholdMinutes int `yaml:"stale_threshold_minutes"`
}

// Load reads path as YAML, applies defaults, and overlays environment
// variables for secrets and connection settings that must never live in a
// checked-in file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ObjectStore.RequestTimeoutSecs == 0 {
		c.ObjectStore.RequestTimeoutSecs = 60
	}
	c.ObjectStore.requestTimeout = time.Duration(c.ObjectStore.RequestTimeoutSecs) * time.Second

	if c.Store.Path == "" {
		c.Store.Path = "./multi_exchange_data_lake.duckdb"
	}
	if c.Shutdown.RendezvousPath == "" {
		c.Shutdown.RendezvousPath = "./shutdown_load_january.flag"
	}
	if c.Monitor.Port == 0 {
		c.Monitor.Port = 12345
	}
	if c.Ledger.StaleThresholdMinutes == 0 {
		c.Ledger.StaleThresholdMinutes = 120
	}
	if c.Remote.Port == 0 {
		c.Remote.Port = 6543
	}
	if c.Remote.Database == "" {
		c.Remote.Database = "postgres"
	}
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OBJECT_STORE_CREDENTIAL_ID"); v != "" {
		os.Setenv("AWS_ACCESS_KEY_ID", v)
	}
	if v := os.Getenv("OBJECT_STORE_CREDENTIAL_SECRET"); v != "" {
		os.Setenv("AWS_SECRET_ACCESS_KEY", v)
	}
	if v := os.Getenv("OBJECT_STORE_REGION"); v != "" {
		c.ObjectStore.Region = v
	}

	if v := os.Getenv("REMOTE_HOST"); v != "" {
		c.Remote.Host = v
	}
	if v := os.Getenv("REMOTE_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			c.Remote.Port = port
		}
	}
	if v := os.Getenv("REMOTE_USER"); v != "" {
		c.Remote.User = v
	}
	if v := os.Getenv("REMOTE_PASSWORD"); v != "" {
		c.Remote.Password = v
	}
	if v := os.Getenv("REMOTE_DATABASE"); v != "" {
		c.Remote.Database = v
	}
}

// RequestTimeout returns the Object Store's per-request timeout as a
// time.Duration.
func (c ObjectStoreConfig) RequestTimeout() time.Duration {
	if c.requestTimeout == 0 {
		return 60 * time.Second
	}
	return c.requestTimeout
}

// StaleThreshold returns the ledger's staleness window as a time.Duration.
func (c LedgerConfig) StaleThreshold() time.Duration {
	return time.Duration(c.StaleThresholdMinutes) * time.Minute
}

// RemoteConfigured reports whether enough Remote Ledger credentials were
// supplied to attempt a connection at all.
func (c RemoteConfig) RemoteConfigured() bool {
	return c.Host != "" && c.User != ""
}
