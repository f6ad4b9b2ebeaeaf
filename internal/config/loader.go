package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "overwatch.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is chosen by the operator
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Project.Root, "OVERWATCH_PROJECT_ROOT")
	setString(&cfg.Project.StateDir, "OVERWATCH_STATE_DIR")
	setString(&cfg.Logging.Level, "OVERWATCH_LOG_LEVEL")
	setString(&cfg.Logging.Service, "OVERWATCH_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "OVERWATCH_LOG_ASYNC")

	// Bus
	setInt(&cfg.Bus.QueueSize, "OVERWATCH_BUS_QUEUE_SIZE")
	setInt(&cfg.Bus.DebugRingSize, "OVERWATCH_BUS_DEBUG_RING_SIZE")
	setInt(&cfg.Bus.PersistQueueSize, "OVERWATCH_BUS_PERSIST_QUEUE_SIZE")
	setInt(&cfg.Bus.PersistWorkers, "OVERWATCH_BUS_PERSIST_WORKERS")

	// Event log
	setString(&cfg.EventLog.Path, "OVERWATCH_EVENT_LOG_PATH")
	setInt(&cfg.EventLog.RetentionDays, "OVERWATCH_RETENTION_DAYS")
	setDuration(&cfg.EventLog.CleanupInterval, "OVERWATCH_CLEANUP_INTERVAL")
	setInt(&cfg.EventLog.StorageWorkers, "OVERWATCH_STORAGE_WORKERS")
	setInt(&cfg.Breaker.MaxFailures, "OVERWATCH_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "OVERWATCH_BREAKER_TIMEOUT")

	// Runner
	setDuration(&cfg.Runner.PollTimeout, "OVERWATCH_RUNNER_POLL_TIMEOUT")
	setInt(&cfg.Runner.ReplayLimit, "OVERWATCH_RUNNER_REPLAY_LIMIT")
	setDuration(&cfg.Runner.LivenessTimeout, "OVERWATCH_RUNNER_LIVENESS_TIMEOUT")

	// Context
	setString(&cfg.Context.Dir, "OVERWATCH_CONTEXT_DIR")
	setBool(&cfg.Context.TrackUserContext, "OVERWATCH_TRACK_USER_CONTEXT")
	setInt64(&cfg.Cache.L1MaxSizeMB, "OVERWATCH_CACHE_L1_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "OVERWATCH_CACHE_TTL")
	setString(&cfg.Cache.L2Bucket, "OVERWATCH_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "OVERWATCH_CACHE_L2_TTL")

	// Outer surfaces
	setString(&cfg.NATS.URL, "NATS_URL")
	setBool(&cfg.NATS.Enabled, "OVERWATCH_NATS_ENABLED")
	setString(&cfg.NATS.Stream, "OVERWATCH_NATS_STREAM")
	setString(&cfg.NATS.SubjectPrefix, "OVERWATCH_NATS_SUBJECT_PREFIX")
	setString(&cfg.Server.Port, "OVERWATCH_PORT")
	setBool(&cfg.Server.Enabled, "OVERWATCH_SERVER_ENABLED")
	setString(&cfg.Server.CORSOrigin, "OVERWATCH_CORS_ORIGIN")
	setFloat(&cfg.Server.IngestRate, "OVERWATCH_INGEST_RATE")
	setInt(&cfg.Server.IngestBurst, "OVERWATCH_INGEST_BURST")
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Project.Root == "" {
		return errors.New("project.root is required")
	}
	if cfg.EventLog.Path == "" {
		return errors.New("event_log.path is required")
	}
	if cfg.Context.Dir == "" {
		return errors.New("context.dir is required")
	}
	if cfg.Bus.QueueSize < 1 {
		return errors.New("bus.queue_size must be >= 1")
	}
	if cfg.Bus.DebugRingSize < 1 {
		return errors.New("bus.debug_ring_size must be >= 1")
	}
	if cfg.Bus.PersistQueueSize < 1 {
		return errors.New("bus.persist_queue_size must be >= 1")
	}
	if cfg.Bus.PersistWorkers < 1 {
		return errors.New("bus.persist_workers must be >= 1")
	}
	if cfg.EventLog.StorageWorkers < 1 {
		return errors.New("event_log.storage_workers must be >= 1")
	}
	if cfg.EventLog.RetentionDays < 1 {
		return errors.New("event_log.retention_days must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Runner.PollTimeout <= 0 {
		return errors.New("runner.poll_timeout must be > 0")
	}
	if cfg.Runner.ReplayLimit < 1 {
		return errors.New("runner.replay_limit must be >= 1")
	}
	if cfg.NATS.Enabled && cfg.NATS.URL == "" {
		return errors.New("nats.url is required when nats is enabled")
	}
	if cfg.Server.Enabled && cfg.Server.Port == "" {
		return errors.New("server.port is required when the server is enabled")
	}
	if cfg.Server.IngestRate <= 0 || cfg.Server.IngestBurst < 1 {
		return errors.New("server.ingest_rate must be > 0 and server.ingest_burst >= 1")
	}

	seen := make(map[string]bool, len(cfg.Agents))
	for i, a := range cfg.Agents {
		name := strings.TrimSpace(a.Name)
		if name == "" {
			return fmt.Errorf("agents[%d].name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("agents[%d]: duplicate agent name %q", i, name)
		}
		seen[name] = true
		if a.Command == "" {
			return fmt.Errorf("agents[%d].command is required", i)
		}
		if len(a.Topics) == 0 {
			return fmt.Errorf("agents[%d].topics must not be empty", i)
		}
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
