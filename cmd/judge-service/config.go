package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"ojudge/internal/common/cache"
	"ojudge/internal/common/db"
	"ojudge/internal/common/mq"
	"ojudge/internal/common/storage"
	"ojudge/internal/common/tracing"
	"ojudge/internal/judge/queue"
	"ojudge/internal/judge/sandbox/engine"
	"ojudge/internal/judge/sandbox/runner"
	"ojudge/pkg/utils/logger"

	"github.com/segmentio/kafka-go"
	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultGRPCHealthAddr  = "0.0.0.0:9085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultStatusTopic     = "judge.status.final"
)

// ServerConfig holds HTTP and health server settings.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	GRPCHealthAddr string        `yaml:"grpc_health_addr"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	// ShutdownTimeout is the grace period for in-flight jobs and requests.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RoleConfig selects what this process runs.
type RoleConfig struct {
	API    bool `yaml:"api"`
	Worker bool `yaml:"worker"`
}

// KafkaConfig holds Kafka settings.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	ClientID     string        `yaml:"client_id"`
	MinBytes     int           `yaml:"min_bytes"`
	MaxBytes     int           `yaml:"max_bytes"`
	MaxWait      time.Duration `yaml:"max_wait"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	RequiredAcks int           `yaml:"required_acks"`
	Compression  string        `yaml:"compression"`
	StatusTopic  string        `yaml:"status_topic"`
}

// QueueConfig selects the broker and the job retry policy.
type QueueConfig struct {
	queue.Config `yaml:",inline"`

	// Driver is kafka or memory. memory only works when api and worker share the process.
	Driver   string `yaml:"driver"`
	StatsKey string `yaml:"stats_key"`
}

// SandboxConfig holds isolation backend and executor settings.
type SandboxConfig struct {
	runner.Config `yaml:",inline"`

	DockerHost   string `yaml:"docker_host"`
	MaxLogBytes  int64  `yaml:"max_log_bytes"`
	LanguageFile string `yaml:"language_file"`
	PullImages   bool   `yaml:"pull_images"`
	SweepOrphans bool   `yaml:"sweep_orphans"`
	// SweepInterval repeats the orphan sweep while running; zero sweeps only at start.
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// OrphanAge is the minimum age of another worker's container before a sweep removes it.
	OrphanAge time.Duration `yaml:"orphan_age"`
}

// StorageConfig holds object storage settings for test-case blobs.
type StorageConfig struct {
	storage.MinIOConfig `yaml:",inline"`

	Enabled      bool  `yaml:"enabled"`
	MaxBlobBytes int64 `yaml:"max_blob_bytes"`
}

// ProblemConfig holds problem cache settings.
type ProblemConfig struct {
	CacheTTL      time.Duration `yaml:"cache_ttl"`
	EmptyCacheTTL time.Duration `yaml:"empty_cache_ttl"`
}

// StatusConfig holds live status settings.
type StatusConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`
}

// SubmitConfig holds intake settings.
type SubmitConfig struct {
	MaxCodeBytes   int           `yaml:"max_code_bytes"`
	IdempotencyTTL time.Duration `yaml:"idempotency_ttl"`
	DBTimeout      time.Duration `yaml:"db_timeout"`
	CacheTimeout   time.Duration `yaml:"cache_timeout"`
	MQTimeout      time.Duration `yaml:"mq_timeout"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server   ServerConfig      `yaml:"server"`
	Roles    RoleConfig        `yaml:"roles"`
	Logger   logger.Config     `yaml:"logger"`
	Database db.Config         `yaml:"database"`
	Redis    cache.RedisConfig `yaml:"redis"`
	Kafka    KafkaConfig       `yaml:"kafka"`
	Queue    QueueConfig       `yaml:"queue"`
	Sandbox  SandboxConfig     `yaml:"sandbox"`
	Storage  StorageConfig     `yaml:"storage"`
	Problem  ProblemConfig     `yaml:"problem"`
	Status   StatusConfig      `yaml:"status"`
	Submit   SubmitConfig      `yaml:"submit"`
	Tracing  tracing.Config    `yaml:"tracing"`
	Metrics  MetricsConfig     `yaml:"metrics"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	cfg := AppConfig{Roles: RoleConfig{API: true, Worker: true}}
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *AppConfig) applyDefaults() error {
	if cfg.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required")
	}
	if !cfg.Roles.API && !cfg.Roles.Worker {
		return fmt.Errorf("at least one of roles.api and roles.worker must be enabled")
	}
	cfg.Database.ApplyDefaults()
	cfg.Redis.ApplyDefaults()

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.GRPCHealthAddr == "" {
		cfg.Server.GRPCHealthAddr = defaultGRPCHealthAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}

	cfg.Queue.Driver = strings.ToLower(strings.TrimSpace(cfg.Queue.Driver))
	switch cfg.Queue.Driver {
	case "":
		cfg.Queue.Driver = "kafka"
	case "kafka", "memory":
	default:
		return fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
	if cfg.Queue.Driver == "kafka" && len(cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}
	if cfg.Queue.Driver == "memory" && !(cfg.Roles.API && cfg.Roles.Worker) {
		return fmt.Errorf("memory queue requires api and worker roles in one process")
	}
	cfg.Queue.Config.ApplyDefaults()
	if cfg.Kafka.StatusTopic == "" {
		cfg.Kafka.StatusTopic = defaultStatusTopic
	}

	cfg.Sandbox.Config.ApplyDefaults()
	longestRun := cfg.Sandbox.Limits.Deadline + cfg.Sandbox.TeardownTimeout
	if cfg.Sandbox.OrphanAge == 0 {
		cfg.Sandbox.OrphanAge = max(10*time.Minute, 2*longestRun)
	}
	if cfg.Sandbox.OrphanAge <= longestRun {
		return fmt.Errorf("sandbox orphan_age must exceed deadline plus teardown (%s)", longestRun)
	}
	if cfg.Storage.Enabled && cfg.Storage.Bucket == "" {
		return fmt.Errorf("storage bucket is required")
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Tracing.ServiceName == "" {
		cfg.Tracing.ServiceName = "judge-service"
	}
	return nil
}

func (k KafkaConfig) toMQConfig() mq.KafkaConfig {
	return mq.KafkaConfig{
		Brokers:      k.Brokers,
		ClientID:     k.ClientID,
		MinBytes:     k.MinBytes,
		MaxBytes:     k.MaxBytes,
		MaxWait:      k.MaxWait,
		BatchSize:    k.BatchSize,
		BatchTimeout: k.BatchTimeout,
		DialTimeout:  k.DialTimeout,
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		Compression:  parseCompression(k.Compression),
	}
}

func parseCompression(raw string) kafka.Compression {
	switch strings.ToLower(raw) {
	case "gzip":
		return kafka.Gzip
	case "snappy":
		return kafka.Snappy
	case "lz4":
		return kafka.Lz4
	case "zstd":
		return kafka.Zstd
	default:
		return kafka.Compression(0)
	}
}

func (s SandboxConfig) toDockerConfig() engine.DockerConfig {
	return engine.DockerConfig{Host: s.DockerHost, MaxLogBytes: s.MaxLogBytes, OrphanAge: s.OrphanAge}
}
