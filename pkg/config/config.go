package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/babymon/internal/device"
	"github.com/srg/babymon/internal/sensor"
	"gopkg.in/yaml.v3"
)

// Reconnect controls the delay between automatic rescans after a lost connection
type Reconnect struct {
	InitialDelay time.Duration `yaml:"initial_delay" default:"0s"`
	MaxDelay     time.Duration `yaml:"max_delay" default:"30s"`
}

// Config holds application configuration
type Config struct {
	TargetName     string        `yaml:"target_name" default:"Baby Monitor"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" default:"30s"`
	ScanTimeout    time.Duration `yaml:"scan_timeout" default:"10s"`
	Reconnect      Reconnect     `yaml:"reconnect"`
	LogLevel       logrus.Level  `yaml:"log_level"`
	Channels       []sensor.Spec `yaml:"channels"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{
		LogLevel: logrus.InfoLevel,
		Channels: sensor.DefaultSpecs(),
	}
	defaults.SetDefaults(cfg)
	defaults.SetDefaults(&cfg.Reconnect)
	return cfg
}

// Parse decodes YAML on top of the defaults and validates the result.
// Keys absent from data keep their default values; a channels list replaces the default one.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile reads and parses a YAML config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the monitor cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.TargetName == "" {
		errs = append(errs, errors.New("target_name must not be empty"))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout))
	}
	if c.ScanTimeout <= 0 {
		errs = append(errs, fmt.Errorf("scan_timeout must be positive, got %s", c.ScanTimeout))
	}
	if c.Reconnect.InitialDelay < 0 || c.Reconnect.MaxDelay < 0 {
		errs = append(errs, errors.New("reconnect delays must not be negative"))
	}
	if c.Reconnect.MaxDelay > 0 && c.Reconnect.InitialDelay > c.Reconnect.MaxDelay {
		errs = append(errs, fmt.Errorf("reconnect.initial_delay %s exceeds reconnect.max_delay %s",
			c.Reconnect.InitialDelay, c.Reconnect.MaxDelay))
	}

	if len(c.Channels) == 0 {
		errs = append(errs, errors.New("at least one channel must be configured"))
	}
	known := sensor.DefaultDecoders()
	seen := make(map[sensor.Channel]bool, len(c.Channels))
	for i, spec := range c.Channels {
		if _, ok := known[spec.Channel]; !ok {
			errs = append(errs, fmt.Errorf("channels[%d]: unknown channel %q", i, spec.Channel))
			continue
		}
		if seen[spec.Channel] {
			errs = append(errs, fmt.Errorf("channels[%d]: duplicate channel %q", i, spec.Channel))
		}
		seen[spec.Channel] = true
		if _, err := device.ValidateUUID(spec.Service, spec.Characteristic); err != nil {
			errs = append(errs, fmt.Errorf("channels[%d] (%s): %w", i, spec.Channel, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
