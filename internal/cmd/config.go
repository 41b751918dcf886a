package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/huddlechat/huddle/internal/gateway"
	"github.com/huddlechat/huddle/internal/registry"
)

// Config is the yaml-file configuration; environment variables override
// the secrets and connection details (see getEnv call sites).
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Gateway struct {
		ReadTimeoutSec  int   `yaml:"read_timeout_sec"`
		WriteTimeoutSec int   `yaml:"write_timeout_sec"`
		PingIntervalSec int   `yaml:"ping_interval_sec"`
		MaxMessageSize  int64 `yaml:"max_message_size"`
	} `yaml:"gateway"`

	NATS struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		Stream        string `yaml:"stream"`
		Consumer      string `yaml:"consumer"`
		SubjectFilter string `yaml:"subject_filter"`
	} `yaml:"nats"`
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		// No config file; env vars and defaults carry everything needed.
		return &config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

func (c *Config) registryConfig() registry.Config {
	cfg := registry.DefaultConfig()
	if c.Gateway.WriteTimeoutSec > 0 {
		cfg.WriteTimeout = time.Duration(c.Gateway.WriteTimeoutSec) * time.Second
	}
	return cfg
}

func (c *Config) gatewayConfig() gateway.Config {
	cfg := gateway.DefaultConfig()
	if c.Gateway.ReadTimeoutSec > 0 {
		cfg.ReadTimeout = time.Duration(c.Gateway.ReadTimeoutSec) * time.Second
	}
	if c.Gateway.PingIntervalSec > 0 {
		cfg.PingInterval = time.Duration(c.Gateway.PingIntervalSec) * time.Second
	}
	if c.Gateway.MaxMessageSize > 0 {
		cfg.MaxMessageSize = c.Gateway.MaxMessageSize
	}
	return cfg
}

func (c *Config) consumerConfig() gateway.ConsumerConfig {
	cfg := gateway.DefaultConsumerConfig()
	if c.NATS.URL != "" {
		cfg.URL = c.NATS.URL
	}
	if c.NATS.Stream != "" {
		cfg.StreamName = c.NATS.Stream
	}
	if c.NATS.Consumer != "" {
		cfg.ConsumerName = c.NATS.Consumer
	}
	if c.NATS.SubjectFilter != "" {
		cfg.SubjectFilter = c.NATS.SubjectFilter
	}
	cfg.URL = getEnv("NATS_URL", cfg.URL)
	return cfg
}
