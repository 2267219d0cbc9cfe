package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line/environment configuration for the process,
// separate from the route set config.Config loads from disk.
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("OSCROUTER_CONFIG", "oscrouter.yaml"),
		"Path to route configuration file (env: OSCROUTER_CONFIG)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("OSCROUTER_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: OSCROUTER_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("OSCROUTER_LOG_FORMAT", "json"),
		"Log format: json, text (env: OSCROUTER_LOG_FORMAT)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("OSCROUTER_SHUTDOWN_TIMEOUT", 5*time.Second),
		"Graceful shutdown timeout (env: OSCROUTER_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")

	flag.Usage = printHelp
	flag.Parse()

	return cfg
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `oscrouter - OSC/PSN packet routing engine

Usage:
  %s [flags]

Flags:
  -config string           path to route configuration file
  -log-level string        debug, info, warn, error
  -log-format string       json, text
  -shutdown-timeout dur    graceful shutdown timeout
  -version                 show version information
  -help                    show this help

Version: %s
`, os.Args[0], Version)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
