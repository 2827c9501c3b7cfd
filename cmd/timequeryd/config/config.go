// Package config provides configuration parsing for timequeryd.
//
// Daemon settings come from command-line flags with environment variable
// fallbacks. The cells to evaluate are declared in a YAML file (see
// LoadCells) named by --cells-file.
//
// Supported configuration sources (in order of precedence):
//  1. Command-line flags
//  2. Environment variables
//  3. Default values
//
// Example usage:
//
//	cfg := config.ParseFlags()
//	cells, err := config.LoadCells(cfg.CellsFile)
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/HatiCode/timequery/pkg/tls"
)

// Config holds all daemon configuration.
type Config struct {
	Listen     string
	GRPCListen string
	LogFormat  string
	LogLevel   string
	TLS        tls.Config
	// SourceTLS configures outbound requests to adapter sources. Enabled
	// when SourceTLS.CAFile is set.
	SourceTLS tls.Config

	Storage       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTTL      time.Duration
	BadgerDir     string
	BadgerTTL     time.Duration
	MemoryTTL     time.Duration

	// StreamOrigins are extra origins allowed to open /cells/stream.
	StreamOrigins []string

	CellsFile     string
	Interval      time.Duration
	SampleTimeout time.Duration
	StaleAfter    time.Duration
}

// ParseFlags parses command-line flags and environment variables into a Config.
// Environment variables are used as fallbacks when flags are not provided.
func ParseFlags() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", getEnv("LISTEN", ":8080"), "HTTP listen address")
	flag.StringVar(&cfg.GRPCListen, "grpc-listen", getEnv("GRPC_LISTEN", ":50051"), "gRPC listen address (empty disables gRPC)")

	flag.BoolVar(&cfg.TLS.Enabled, "tls-enabled", getEnvBool("TLS_ENABLED", false), "Enable TLS for the HTTP and gRPC listeners")
	flag.StringVar(&cfg.TLS.CertFile, "tls-cert-file", getEnv("TLS_CERT_FILE", ""), "TLS certificate file")
	flag.StringVar(&cfg.TLS.KeyFile, "tls-key-file", getEnv("TLS_KEY_FILE", ""), "TLS private key file")
	flag.StringVar(&cfg.TLS.CAFile, "tls-ca-file", getEnv("TLS_CA_FILE", ""), "CA file for client verification (enables mutual TLS)")

	flag.StringVar(&cfg.SourceTLS.CAFile, "source-tls-ca-file", getEnv("SOURCE_TLS_CA_FILE", ""), "CA file trusted for adapter sources")
	flag.StringVar(&cfg.SourceTLS.CertFile, "source-tls-cert-file", getEnv("SOURCE_TLS_CERT_FILE", ""), "Client certificate presented to adapter sources")
	flag.StringVar(&cfg.SourceTLS.KeyFile, "source-tls-key-file", getEnv("SOURCE_TLS_KEY_FILE", ""), "Client key presented to adapter sources")

	flag.StringVar(&cfg.LogFormat, "log-format", getEnv("LOG_FORMAT", "text"), "Log format: text or json")
	flag.StringVar(&cfg.LogLevel, "log-level", getEnv("LOG_LEVEL", "info"), "Log level: debug, info, warn, error")

	flag.StringVar(&cfg.Storage, "storage", getEnv("STORAGE", "memory"), "Snapshot storage: memory, redis or badger")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis server address")
	flag.StringVar(&cfg.RedisPassword, "redis-password", getEnv("REDIS_PASSWORD", ""), "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", getEnvInt("REDIS_DB", 0), "Redis database number")
	flag.DurationVar(&cfg.RedisTTL, "redis-ttl", getEnvDuration("REDIS_TTL", 30*time.Minute), "Redis snapshot TTL")
	flag.StringVar(&cfg.BadgerDir, "badger-dir", getEnv("BADGER_DIR", "./data"), "BadgerDB directory")
	flag.DurationVar(&cfg.BadgerTTL, "badger-ttl", getEnvDuration("BADGER_TTL", 0), "BadgerDB snapshot TTL (0 keeps snapshots)")
	flag.DurationVar(&cfg.MemoryTTL, "memory-ttl", getEnvDuration("MEMORY_TTL", 0), "In-memory snapshot TTL (0 keeps snapshots)")

	origins := flag.String("stream-allowed-origins", getEnv("STREAM_ALLOWED_ORIGINS", ""), "Comma-separated origins allowed to open websocket streams (* for any)")

	flag.StringVar(&cfg.CellsFile, "cells-file", getEnv("CELLS_FILE", ""), "YAML file declaring the cells (required)")
	flag.DurationVar(&cfg.Interval, "interval", getEnvDuration("INTERVAL", time.Second), "Evaluation cycle interval")
	flag.DurationVar(&cfg.SampleTimeout, "sample-timeout", getEnvDuration("SAMPLE_TIMEOUT", 5*time.Second), "Timeout of one adapter sample")
	flag.DurationVar(&cfg.StaleAfter, "stale-after", getEnvDuration("STALE_AFTER", 0), "Age after which a snapshot is reported stale (0 = 3x interval)")

	flag.Parse()

	cfg.StreamOrigins = splitList(*origins)

	cfg.SourceTLS.Enabled = cfg.SourceTLS.CAFile != ""

	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 3 * cfg.Interval
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	return cfg
}

// Validate checks values that flags cannot constrain.
func (c *Config) Validate() error {
	if c.CellsFile == "" {
		return fmt.Errorf("--cells-file is required")
	}
	if c.Interval <= 0 {
		return fmt.Errorf("interval must be > 0, got %v", c.Interval)
	}
	if c.SampleTimeout <= 0 {
		return fmt.Errorf("sample-timeout must be > 0, got %v", c.SampleTimeout)
	}
	switch c.Storage {
	case "memory", "redis", "badger":
	default:
		return fmt.Errorf("unknown storage %q (must be memory, redis or badger)", c.Storage)
	}
	if c.RedisDB < 0 {
		return fmt.Errorf("redis-db must be >= 0")
	}
	if err := c.TLS.Validate(); err != nil {
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
