// Package config loads client and service settings from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"drinky-board/internal/model"
)

// Config is the root of config.yaml.
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Service ServiceConfig `yaml:"service"`
}

type ClientConfig struct {
	BaseURL        string        `yaml:"base_url" env:"DRINKY_BASE_URL"`
	PollInterval   time.Duration `yaml:"poll_interval" env:"DRINKY_POLL_INTERVAL"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"DRINKY_REQUEST_TIMEOUT"`
}

type ServiceConfig struct {
	ListenAddress string             `yaml:"listen_address" env:"DRINKY_LISTEN_ADDRESS"`
	DBPath        string             `yaml:"db_path" env:"DRINKY_DB_PATH"`
	Device        DeviceConfig       `yaml:"device"`
	Collections   []CollectionConfig `yaml:"collections"`
}

type DeviceConfig struct {
	// SerialPort is a device path or a glob such as /dev/ttyACM*.
	SerialPort        string        `yaml:"serial_port" env:"DRINKY_SERIAL_PORT"`
	BaudRate          int           `yaml:"baud_rate"`
	Timeout           time.Duration `yaml:"timeout"`
	ScanInterval      time.Duration `yaml:"scan_interval"`
	HealthInterval    time.Duration `yaml:"health_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// CollectionConfig names a collection and the numeric parameters every
// item of it must carry.
type CollectionConfig struct {
	Name   string   `yaml:"name"`
	Params []string `yaml:"params"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

// Load reads path (skipped when empty), applies DRINKY_* environment
// overrides, fills defaults and validates the result.
func Load(path string) (Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Client.BaseURL == "" {
		cfg.Client.BaseURL = "http://127.0.0.1:5000"
	}
	if cfg.Client.PollInterval == 0 {
		cfg.Client.PollInterval = 500 * time.Millisecond
	}
	if cfg.Client.RequestTimeout == 0 {
		cfg.Client.RequestTimeout = 2 * time.Second
	}
	s := &cfg.Service
	if s.ListenAddress == "" {
		s.ListenAddress = "127.0.0.1:5000"
	}
	if s.DBPath == "" {
		s.DBPath = "data/drinky.sqlite"
	}
	d := &s.Device
	if d.BaudRate <= 0 {
		d.BaudRate = 115200
	}
	if d.Timeout <= 0 {
		d.Timeout = 50 * time.Millisecond
	}
	if d.ScanInterval <= 0 {
		d.ScanInterval = 2 * time.Second
	}
	if d.HealthInterval <= 0 {
		d.HealthInterval = time.Second
	}
	if d.HeartbeatInterval <= 0 {
		d.HeartbeatInterval = 5 * time.Second
	}
	if len(s.Collections) == 0 {
		s.Collections = []CollectionConfig{
			{Name: model.CollectionProfiles, Params: model.DefaultParams},
			{Name: model.CollectionSequences, Params: model.DefaultParams},
		}
	}
}

// Validate rejects settings no component can run with.
func (c Config) Validate() error {
	u, err := url.Parse(c.Client.BaseURL)
	if err != nil {
		return fmt.Errorf("client.base_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("client.base_url %q must be an http(s) URL", c.Client.BaseURL)
	}
	if c.Client.PollInterval < 0 {
		return errors.New("client.poll_interval must be positive")
	}
	if c.Client.RequestTimeout < 0 {
		return errors.New("client.request_timeout must be positive")
	}
	seen := make(map[string]bool, len(c.Service.Collections))
	for _, col := range c.Service.Collections {
		if col.Name == "" {
			return errors.New("service.collections: name must be set")
		}
		if seen[col.Name] {
			return fmt.Errorf("service.collections: duplicate %s", col.Name)
		}
		seen[col.Name] = true
	}
	return nil
}

// CollectionNames returns the configured collection names in order.
func (c Config) CollectionNames() []string {
	out := make([]string, len(c.Service.Collections))
	for i, col := range c.Service.Collections {
		out[i] = col.Name
	}
	return out
}
