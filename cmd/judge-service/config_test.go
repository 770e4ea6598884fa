package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "judge.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppConfigAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  dsn: "root:pw@tcp(localhost:3306)/ojudge?parseTime=true"
redis:
  addr: localhost:6379
kafka:
  brokers: [localhost:9092]
  compression: zstd
queue:
  workers: 8
  backoff_base: 2s
sandbox:
  work_root: /var/lib/ojudge
  limits:
    memory_bytes: 268435456
storage:
  enabled: true
  endpoint: localhost:9000
  bucket: testcases
`)
	cfg, err := loadAppConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Roles.API || !cfg.Roles.Worker {
		t.Fatalf("both roles should default on: %+v", cfg.Roles)
	}
	if cfg.Queue.Driver != "kafka" || cfg.Queue.Workers != 8 || cfg.Queue.BackoffBase != 2*time.Second {
		t.Fatalf("queue config not applied: %+v", cfg.Queue)
	}
	if cfg.Queue.MaxAttempts != 3 || cfg.Queue.RetryTopic != "judge.jobs.retry" {
		t.Fatalf("queue defaults missing: %+v", cfg.Queue.Config)
	}
	if cfg.Sandbox.WorkRoot != "/var/lib/ojudge" || cfg.Sandbox.Limits.MemoryBytes != 256<<20 {
		t.Fatalf("sandbox config not applied: %+v", cfg.Sandbox.Config)
	}
	if cfg.Sandbox.Limits.Deadline != 30*time.Second {
		t.Fatalf("default deadline lost: %v", cfg.Sandbox.Limits.Deadline)
	}
	if cfg.Sandbox.OrphanAge != 10*time.Minute || cfg.Sandbox.toDockerConfig().OrphanAge != 10*time.Minute {
		t.Fatalf("orphan age default not applied: %v", cfg.Sandbox.OrphanAge)
	}
	if cfg.Storage.Bucket != "testcases" || cfg.Storage.Endpoint != "localhost:9000" {
		t.Fatalf("storage config not applied: %+v", cfg.Storage)
	}
	if cfg.Kafka.StatusTopic != defaultStatusTopic || cfg.Metrics.Path != "/metrics" {
		t.Fatalf("defaults missing: %+v %+v", cfg.Kafka, cfg.Metrics)
	}
	if cfg.Kafka.toMQConfig().Compression != kafka.Zstd {
		t.Fatal("compression not mapped")
	}
}

func TestLoadAppConfigRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"missing dsn": `
redis: {addr: localhost:6379}
queue: {driver: memory}
`,
		"missing brokers": `
database: {dsn: x}
redis: {addr: localhost:6379}
`,
		"unknown driver": `
database: {dsn: x}
redis: {addr: localhost:6379}
queue: {driver: rabbit}
`,
		"memory queue split roles": `
database: {dsn: x}
redis: {addr: localhost:6379}
queue: {driver: memory}
roles: {api: true, worker: false}
`,
		"orphan age shorter than an execution": `
database: {dsn: x}
redis: {addr: localhost:6379}
queue: {driver: memory}
sandbox: {orphan_age: 20s}
`,
		"no roles": `
database: {dsn: x}
redis: {addr: localhost:6379}
queue: {driver: memory}
roles: {api: false, worker: false}
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := loadAppConfig(writeConfig(t, body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
