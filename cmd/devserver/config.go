package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the devserver configuration file.
type Config struct {
	Listen   string         `yaml:"listen" validate:"required,hostname_port"`
	Database DatabaseConfig `yaml:"database" validate:"required"`
	Service  ServiceConfig  `yaml:"service"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Seed     bool           `yaml:"seed"`
	LogLevel string         `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DatabaseConfig selects the GORM driver.
type DatabaseConfig struct {
	Driver string `yaml:"driver" validate:"required,oneof=sqlite postgres mysql"`
	DSN    string `yaml:"dsn" validate:"required"`
}

// ServiceConfig mirrors the tunables of odata.ServiceConfig.
type ServiceConfig struct {
	Root              string            `yaml:"root" validate:"omitempty,startswith=/"`
	BlobURL           string            `yaml:"blob_url" validate:"omitempty,contains=://"`
	ExpansionLimit    int               `yaml:"expansion_limit" validate:"gte=0"`
	MaxExpandDepth    int               `yaml:"max_expand_depth" validate:"gte=0"`
	InvocationTimeout time.Duration     `yaml:"invocation_timeout" validate:"gte=0"`
	DebugErrors       bool              `yaml:"debug_errors"`
	Settings          map[string]string `yaml:"settings"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Path         string `yaml:"path" validate:"required_if=Enabled true,omitempty,startswith=/"`
	ServerTiming bool   `yaml:"server_timing"`
}

// DefaultConfig serves an in-memory SQLite repository with seed data.
func DefaultConfig() Config {
	return Config{
		Listen:   "localhost:8080",
		Database: DatabaseConfig{Driver: "sqlite", DSN: "file::memory:?cache=shared"},
		Service:  ServiceConfig{BlobURL: "mem://"},
		Metrics:  MetricsConfig{Enabled: true, Path: "/metrics", ServerTiming: true},
		Seed:     true,
		LogLevel: "info",
	}
}

var validate = validator.New()

// LoadConfig reads path over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
