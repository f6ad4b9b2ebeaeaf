// Package config provides hierarchical configuration loading for Overwatch.
// Precedence: defaults < YAML file < environment variables.
package config

import (
	"path/filepath"
	"time"
)

// Config holds all runtime configuration for the Overwatch daemon.
type Config struct {
	Project  Project  `yaml:"project"`
	Logging  Logging  `yaml:"logging"`
	Bus      Bus      `yaml:"bus"`
	EventLog EventLog `yaml:"event_log"`
	Breaker  Breaker  `yaml:"breaker"`
	Runner   Runner   `yaml:"runner"`
	Context  Context  `yaml:"context"`
	Cache    Cache    `yaml:"cache"`
	NATS     NATS     `yaml:"nats"`
	Server   Server   `yaml:"server"`
	OTEL     OTEL     `yaml:"otel"`
	Agents   []Agent  `yaml:"agents"`
}

// Project locates the watched working tree and the daemon's state directory.
type Project struct {
	Root     string `yaml:"root"`
	StateDir string `yaml:"state_dir"` // Relative paths resolve against Root (default: ".state")
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Bus holds in-memory event bus sizing.
type Bus struct {
	QueueSize        int `yaml:"queue_size"`         // Per-priority lane capacity of each subscriber queue
	DebugRingSize    int `yaml:"debug_ring_size"`    // Recent events kept for inspection (default: 100)
	PersistQueueSize int `yaml:"persist_queue_size"` // Pending durable appends before new ones are dropped
	PersistWorkers   int `yaml:"persist_workers"`    // 1 keeps sequence order equal to publish order
}

// EventLog holds durable event log configuration.
type EventLog struct {
	Path            string        `yaml:"path"` // Relative paths resolve against the state dir
	RetentionDays   int           `yaml:"retention_days"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	StorageWorkers  int           `yaml:"storage_workers"` // Concurrent storage calls allowed
}

// Breaker holds circuit breaker configuration for durable appends.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Runner holds agent runner loop configuration.
type Runner struct {
	PollTimeout     time.Duration `yaml:"poll_timeout"`
	ReplayLimit     int           `yaml:"replay_limit"`
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`
}

// Context holds findings aggregator configuration.
type Context struct {
	Dir              string `yaml:"dir"` // Relative paths resolve against the state dir
	TrackUserContext bool   `yaml:"track_user_context"`
}

// Cache holds read cache configuration.
type Cache struct {
	L1MaxSizeMB int64         `yaml:"l1_max_size_mb"`
	TTL         time.Duration `yaml:"ttl"`

	// L2Bucket names the JetStream KV bucket shared between processes when
	// NATS is enabled. Empty disables the shared level.
	L2Bucket string        `yaml:"l2_bucket"`
	L2TTL    time.Duration `yaml:"l2_ttl"`
}

// NATS holds the optional JetStream mirror configuration.
type NATS struct {
	URL           string `yaml:"url"`
	Enabled       bool   `yaml:"enabled"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port        string  `yaml:"port"`
	Enabled     bool    `yaml:"enabled"`
	CORSOrigin  string  `yaml:"cors_origin"`  // Empty disables CORS headers
	IngestRate  float64 `yaml:"ingest_rate"`  // POST /events requests per second per client
	IngestBurst int     `yaml:"ingest_burst"` // Token bucket size for POST /events
}

// OTEL holds OpenTelemetry exporter configuration. An empty endpoint
// disables export.
type OTEL struct {
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
}

// Agent configures a command-backed analysis agent.
type Agent struct {
	Name    string        `yaml:"name"`
	Topics  []string      `yaml:"topics"`
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Project: Project{
			Root:     ".",
			StateDir: ".state",
		},
		Logging: Logging{
			Level:   "info",
			Service: "overwatch",
		},
		Bus: Bus{
			QueueSize:        1024,
			DebugRingSize:    100,
			PersistQueueSize: 4096,
			PersistWorkers:   1,
		},
		EventLog: EventLog{
			Path:            "events.db",
			RetentionDays:   7,
			CleanupInterval: 6 * time.Hour,
			StorageWorkers:  4,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Runner: Runner{
			PollTimeout:     time.Second,
			ReplayLimit:     1000,
			LivenessTimeout: 30 * time.Second,
		},
		Context: Context{
			Dir: "context",
		},
		Cache: Cache{
			L1MaxSizeMB: 16,
			TTL:         5 * time.Second,
			L2Bucket:    "OVERWATCH_CONTEXT",
			L2TTL:       10 * time.Minute,
		},
		NATS: NATS{
			URL:           "nats://localhost:4222",
			Stream:        "OVERWATCH",
			SubjectPrefix: "overwatch.events",
		},
		Server: Server{
			Port:        "7411",
			IngestRate:  50,
			IngestBurst: 100,
		},
		OTEL: OTEL{
			ServiceName: "overwatch",
		},
	}
}

// StatePath returns the absolute-or-root-relative state directory.
func (c *Config) StatePath() string {
	if filepath.IsAbs(c.Project.StateDir) {
		return c.Project.StateDir
	}
	return filepath.Join(c.Project.Root, c.Project.StateDir)
}

// EventLogPath resolves the events database path.
func (c *Config) EventLogPath() string {
	return c.underState(c.EventLog.Path)
}

// ContextPath resolves the findings directory.
func (c *Config) ContextPath() string {
	return c.underState(c.Context.Dir)
}

func (c *Config) underState(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.StatePath(), p)
}
