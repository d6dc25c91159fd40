// Package config loads zkbench settings from the environment and an
// optional YAML file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Real-JW/zkbench/pkg/artifacts"
	"github.com/Real-JW/zkbench/pkg/observability"
	"github.com/Real-JW/zkbench/pkg/retry"
	"github.com/Real-JW/zkbench/pkg/zkerr"
	"github.com/Real-JW/zkbench/pkg/zkvm"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the host and baseline binaries.
type Config struct {
	DataDir   string               `yaml:"data_dir"`
	LogLevel  string               `yaml:"log_level"`
	LogFormat string               `yaml:"log_format"` // "text" | "json"
	Artifacts artifacts.Config     `yaml:"artifacts"`
	Cache     CacheConfig          `yaml:"cache"`
	Receipts  ReceiptsConfig       `yaml:"receipts"`
	Limits    zkvm.Limits          `yaml:"limits"`
	Prover    ProverConfig         `yaml:"prover"`
	Retry     retry.Policy         `yaml:"retry"`
	Pool      PoolConfig           `yaml:"pool"`
	Telemetry observability.Config `yaml:"telemetry"`
}

// CacheConfig configures the image cache.
type CacheConfig struct {
	Size  int         `yaml:"size"`
	Index string      `yaml:"index"` // "memory" | "redis"
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig addresses the Redis-backed image index.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	TTL      time.Duration `yaml:"ttl"`
}

// ReceiptsConfig selects where receipts are persisted.
type ReceiptsConfig struct {
	Type string `yaml:"type"` // "none" | "sqlite" | "postgres" | "artifact"
	DSN  string `yaml:"dsn"`
}

// ProverConfig selects the seal scheme and its keys or commands.
type ProverConfig struct {
	Scheme       string   `yaml:"scheme"` // "ed25519" | "dev" | "exec"
	KeyPath      string   `yaml:"key_path"`
	TrustedKeys  []string `yaml:"trusted_keys"`
	ExecScheme   string   `yaml:"exec_scheme"`
	Command      []string `yaml:"command"`
	CheckCommand []string `yaml:"check_command"`
	RateLimit    float64  `yaml:"rate_limit"` // proofs per second, 0 = unlimited
	Burst        int      `yaml:"burst"`
}

// PoolConfig sizes the host pool.
type PoolConfig struct {
	Workers int `yaml:"workers"`
}

// Receipt store and prover choices.
const (
	ReceiptsNone     = "none"
	ReceiptsSQLite   = "sqlite"
	ReceiptsPostgres = "postgres"
	ReceiptsArtifact = "artifact"

	SchemeEd25519 = "ed25519"
	SchemeDev     = "dev"
	SchemeExec    = "exec"

	IndexMemory = "memory"
	IndexRedis  = "redis"
)

// Load builds the configuration from environment variables, falling back
// to local defaults for anything unset.
func Load() (*Config, error) {
	var errs []error
	num := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			errs = append(errs, err)
		}
		return v
	}

	dataDir := envOr("ZKBENCH_DATA_DIR", ".zkbench")
	limits := zkvm.DefaultLimits()
	policy := retry.DefaultPolicy()
	telemetry := observability.DefaultConfig()

	cfg := &Config{
		DataDir:   dataDir,
		LogLevel:  envOr("LOG_LEVEL", "INFO"),
		LogFormat: envOr("LOG_FORMAT", "text"),
		Artifacts: artifacts.Config{
			Type:     artifacts.StoreType(envOr("ZKBENCH_ARTIFACT_STORE", string(artifacts.StoreTypeFS))),
			Dir:      envOr("ZKBENCH_ARTIFACT_DIR", filepath.Join(dataDir, "artifacts")),
			Bucket:   os.Getenv("ZKBENCH_ARTIFACT_BUCKET"),
			Prefix:   os.Getenv("ZKBENCH_ARTIFACT_PREFIX"),
			Region:   os.Getenv("AWS_REGION"),
			Endpoint: os.Getenv("ZKBENCH_ARTIFACT_ENDPOINT"),
		},
		Cache: CacheConfig{
			Size:  num("ZKBENCH_CACHE_SIZE", 32),
			Index: envOr("ZKBENCH_CACHE_INDEX", IndexMemory),
			Redis: RedisConfig{
				Addr:     envOr("REDIS_ADDR", "localhost:6379"),
				Password: os.Getenv("REDIS_PASSWORD"),
				DB:       num("ZKBENCH_REDIS_DB", 0),
				Prefix:   envOr("ZKBENCH_REDIS_PREFIX", "zkbench:image:"),
			},
		},
		Receipts: ReceiptsConfig{
			Type: envOr("ZKBENCH_RECEIPT_STORE", ReceiptsNone),
			DSN:  os.Getenv("DATABASE_URL"),
		},
		Prover: ProverConfig{
			Scheme:       envOr("ZKBENCH_PROVER", SchemeEd25519),
			KeyPath:      envOr("ZKBENCH_KEY_PATH", filepath.Join(dataDir, "keys", "host.key")),
			TrustedKeys:  envList("ZKBENCH_TRUSTED_KEYS", ","),
			ExecScheme:   envOr("ZKBENCH_EXEC_SCHEME", "exec/v1"),
			Command:      strings.Fields(os.Getenv("ZKBENCH_PROVER_COMMAND")),
			CheckCommand: strings.Fields(os.Getenv("ZKBENCH_CHECK_COMMAND")),
			Burst:        num("ZKBENCH_PROVE_BURST", 1),
		},
		Pool: PoolConfig{Workers: num("ZKBENCH_WORKERS", 2)},
	}

	if v, err := envInt64("ZKBENCH_MEMORY_LIMIT_BYTES", limits.MemoryLimitBytes); err != nil {
		errs = append(errs, err)
	} else {
		limits.MemoryLimitBytes = v
	}
	if v, err := envUint64("ZKBENCH_MAX_STEPS", limits.MaxSteps); err != nil {
		errs = append(errs, err)
	} else {
		limits.MaxSteps = v
	}
	if v, err := envDuration("ZKBENCH_TIME_LIMIT", limits.TimeLimit); err != nil {
		errs = append(errs, err)
	} else {
		limits.TimeLimit = v
	}
	limits.MaxJournalBytes = num("ZKBENCH_MAX_JOURNAL_BYTES", limits.MaxJournalBytes)
	limits.SegmentSize = num("ZKBENCH_SEGMENT_SIZE", limits.SegmentSize)
	cfg.Limits = limits

	if v, err := envFloat("ZKBENCH_PROVE_RATE", 0); err != nil {
		errs = append(errs, err)
	} else {
		cfg.Prover.RateLimit = v
	}

	policy.MaxAttempts = num("ZKBENCH_RETRY_ATTEMPTS", policy.MaxAttempts)
	if v, err := envDuration("ZKBENCH_RETRY_BASE", policy.Base); err != nil {
		errs = append(errs, err)
	} else {
		policy.Base = v
	}
	cfg.Retry = policy

	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		telemetry.OTLPEndpoint = strings.TrimPrefix(strings.TrimPrefix(v, "http://"), "https://")
	}
	telemetry.Enabled = os.Getenv("ZKBENCH_TELEMETRY") == "true"
	telemetry.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		telemetry.ServiceName = v
	}
	cfg.Telemetry = *telemetry

	if cfg.Receipts.Type == ReceiptsSQLite && cfg.Receipts.DSN == "" {
		cfg.Receipts.DSN = filepath.Join(dataDir, "receipts.db")
	}

	if len(errs) > 0 {
		return nil, zkerr.New(zkerr.KindConfig, "load config", errors.Join(errs...))
	}
	return cfg, nil
}

// LoadFile loads the environment configuration and overlays the YAML file
// at path. Keys absent from the file keep their environment value; unknown
// keys are an error.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, zkerr.New(zkerr.KindConfig, "load config", fmt.Errorf("read %s: %w", path, err))
	}
	if err := cfg.overlay(data); err != nil {
		return nil, zkerr.New(zkerr.KindConfig, "load config", fmt.Errorf("parse %s: %w", path, err))
	}
	return cfg, nil
}

func (c *Config) overlay(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if c.Receipts.Type == ReceiptsSQLite && c.Receipts.DSN == "" {
		c.Receipts.DSN = filepath.Join(c.DataDir, "receipts.db")
	}
	return nil
}

// Validate reports every invalid setting at once as a KindConfig error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		add("log_format must be text or json, got %q", c.LogFormat)
	}

	switch c.Artifacts.Type {
	case artifacts.StoreTypeMemory:
	case "", artifacts.StoreTypeFS:
		if c.Artifacts.Dir == "" {
			add("artifacts.dir is required for fs storage")
		}
	case artifacts.StoreTypeS3, artifacts.StoreTypeGCS:
		if c.Artifacts.Bucket == "" {
			add("artifacts.bucket is required for %s storage", c.Artifacts.Type)
		}
	default:
		add("unsupported artifacts.type %q", c.Artifacts.Type)
	}

	if c.Cache.Size < 0 {
		add("cache.size must not be negative")
	}
	switch c.Cache.Index {
	case IndexMemory:
	case IndexRedis:
		if c.Cache.Redis.Addr == "" {
			add("cache.redis.addr is required for the redis index")
		}
	default:
		add("unsupported cache.index %q", c.Cache.Index)
	}

	switch c.Receipts.Type {
	case ReceiptsNone, ReceiptsArtifact:
	case ReceiptsSQLite, ReceiptsPostgres:
		if c.Receipts.DSN == "" {
			add("receipts.dsn is required for %s", c.Receipts.Type)
		}
	default:
		add("unsupported receipts.type %q", c.Receipts.Type)
	}

	if err := c.Limits.Validate(); err != nil {
		errs = append(errs, err)
	}

	switch c.Prover.Scheme {
	case SchemeEd25519:
		if c.Prover.KeyPath == "" {
			add("prover.key_path is required for ed25519")
		}
	case SchemeDev:
	case SchemeExec:
		if len(c.Prover.Command) == 0 {
			add("prover.command is required for exec")
		}
		if c.Prover.ExecScheme == "" {
			add("prover.exec_scheme is required for exec")
		}
	default:
		add("unsupported prover.scheme %q", c.Prover.Scheme)
	}
	if c.Prover.RateLimit < 0 {
		add("prover.rate_limit must not be negative")
	}
	if c.Prover.RateLimit > 0 && c.Prover.Burst < 1 {
		add("prover.burst must be >= 1 when rate limited")
	}

	if err := c.Retry.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Pool.Workers < 1 {
		add("pool.workers must be >= 1, got %d", c.Pool.Workers)
	}

	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		add("telemetry.sample_rate must be within [0, 1]")
	}
	if c.Telemetry.Enabled && c.Telemetry.OTLPEndpoint == "" {
		add("telemetry.otlp_endpoint is required when telemetry is enabled")
	}

	if len(errs) > 0 {
		return zkerr.New(zkerr.KindConfig, "validate config", errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a LOG_LEVEL value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Logger returns a logger writing to w in the configured format and level.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := ParseLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envList(key, sep string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envUint64(key string, def uint64) (uint64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
