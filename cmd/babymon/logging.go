package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/babymon/pkg/config"
)

// loadConfig builds the configuration from defaults, the optional --config file and
// the command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, bool, error) {
	cfg := config.DefaultConfig()
	fromFile := false

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, false, err
		}
		cfg = loaded
		fromFile = true
	}

	if name, _ := cmd.Flags().GetString("name"); name != "" {
		cfg.TargetName = name
	}
	if f := cmd.Flags().Lookup("connect-timeout"); f != nil && f.Changed {
		cfg.ConnectTimeout, _ = cmd.Flags().GetDuration("connect-timeout")
	}
	if f := cmd.Flags().Lookup("timeout"); f != nil && f.Changed {
		cfg.ScanTimeout, _ = cmd.Flags().GetDuration("timeout")
	}

	if err := cfg.Validate(); err != nil {
		return nil, false, err
	}
	return cfg, fromFile, nil
}

// configureLogger creates a logger with the appropriate log level based on flags.
// It respects both --log-level and --verbose flags, with --log-level taking precedence.
// Without either flag the level from a loaded config file applies; otherwise logging is silent.
// Returns a configured logger or error if the log-level is invalid.
func configureLogger(cmd *cobra.Command, verboseFlagName string, cfg *config.Config, fromFile bool) (*logrus.Logger, error) {
	// Default to panic level (essentially silent for normal operations)
	logLevel := logrus.PanicLevel
	if fromFile && cfg != nil {
		logLevel = cfg.LogLevel
	}

	// Check --log-level first (takes precedence)
	logLevelStr, _ := cmd.Flags().GetString("log-level")
	if logLevelStr != "" {
		switch logLevelStr {
		case "debug":
			logLevel = logrus.DebugLevel
		case "info":
			logLevel = logrus.InfoLevel
		case "warn":
			logLevel = logrus.WarnLevel
		case "error":
			logLevel = logrus.ErrorLevel
		default:
			return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", logLevelStr)
		}
	} else {
		// Fall back to --verbose flag if no --log-level specified
		verbose, _ := cmd.Flags().GetBool(verboseFlagName)
		if verbose {
			logLevel = logrus.DebugLevel
		}
	}

	var logger *logrus.Logger
	if cfg != nil {
		logger = cfg.NewLogger()
	} else {
		logger = logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}
	logger.SetLevel(logLevel)

	return logger, nil
}
