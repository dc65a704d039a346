package main

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	HealthInterval  time.Duration
	NoMachine       bool
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback
	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("SEMCONNECT_CONFIG", "configs/semconnect.yaml"),
		"Path to configuration file (env: SEMCONNECT_CONFIG)")

	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("SEMCONNECT_CONFIG", "configs/semconnect.yaml"),
		"Path to configuration file (env: SEMCONNECT_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("SEMCONNECT_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: SEMCONNECT_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("SEMCONNECT_LOG_FORMAT", "json"),
		"Log format: json, text (env: SEMCONNECT_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("SEMCONNECT_DEBUG", false),
		"Enable debug mode (env: SEMCONNECT_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("SEMCONNECT_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: SEMCONNECT_SHUTDOWN_TIMEOUT)")

	fs.DurationVar(&cfg.HealthInterval, "health-interval",
		getEnvDuration("SEMCONNECT_HEALTH_INTERVAL", 10*time.Second),
		"Interval of connector health refreshes (env: SEMCONNECT_HEALTH_INTERVAL)")

	fs.BoolVar(&cfg.NoMachine, "no-machine",
		getEnvBool("SEMCONNECT_NO_MACHINE", false),
		"Do not register the simulated machine connector (env: SEMCONNECT_NO_MACHINE)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(fs)
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	// Override log level if debug is set
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if _, err := os.Stat(cfg.ConfigPath); err != nil {
		return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %s", cfg.ShutdownTimeout)
	}

	if cfg.HealthInterval <= 0 {
		return fmt.Errorf("invalid health interval: %s", cfg.HealthInterval)
	}

	return nil
}

func printDetailedHelp(fs *flag.FlagSet) {
	out := fs.Output()
	_, _ = fmt.Fprintf(out, `%s - industrial edge connectivity

Usage: %s [options]

Options:
`, appName, fs.Name())
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(out, `
Examples:
  # Run with a custom config
  %[1]s --config=/etc/semconnect/plant.yaml

  # Run with debug logging
  %[1]s --log-level=debug --log-format=text

  # Run with environment variables
  export SEMCONNECT_CONFIG=/etc/semconnect/plant.yaml
  export SEMCONNECT_NATS_URLS=nats://bus:4222
  %[1]s

  # Validate configuration only
  %[1]s --validate

Version: %[2]s
Build: %[3]s
`, fs.Name(), Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
