package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Convoy binaries. Each binary
// loads the same struct; unused sections are simply ignored.
type Config struct {
	Coordinator CoordinatorConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Volume      VolumeConfig
	Worker      WorkerConfig
	Client      ClientConfig
}

type CoordinatorConfig struct {
	Port               int
	Env                string
	SchedulingInterval time.Duration
	SchedulingDeadline time.Duration
	LivenessTimeout    time.Duration
	CancelAckTimeout   time.Duration
	RequestsPerMinute  int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// VolumeConfig describes the shared data volume. Root must be bind-mounted
// at an identical logical path into the submission client, the coordinator,
// and every worker, or dataset resolution fails.
type VolumeConfig struct {
	Root string
}

type WorkerConfig struct {
	Identity          string
	Capacity          int
	CoordinatorURL    string
	APIKey            string
	HeartbeatInterval time.Duration
	PollInterval      time.Duration
	Executor          string
	DockerImage       string
	WorkDir           string
}

type ClientConfig struct {
	CoordinatorURL string
	APIKey         string
	PollInterval   time.Duration
	PollCeiling    time.Duration
}

var validExecutors = map[string]bool{
	"process": true,
	"docker":  true,
}

// Load reads configuration from environment variables and returns a
// validated Config. Defaults are documented next to each value.
func Load() (*Config, error) {
	cfg := &Config{
		Coordinator: CoordinatorConfig{
			Port:               envInt("CONVOY_PORT", 7077),
			Env:                envString("CONVOY_ENV", "development"),
			SchedulingInterval: envDuration("CONVOY_SCHEDULING_INTERVAL", 2*time.Second),
			SchedulingDeadline: envDuration("CONVOY_SCHEDULING_DEADLINE", 5*time.Minute),
			LivenessTimeout:    envDuration("CONVOY_LIVENESS_TIMEOUT", 30*time.Second),
			CancelAckTimeout:   envDuration("CONVOY_CANCEL_ACK_TIMEOUT", 30*time.Second),
			RequestsPerMinute:  envInt("CONVOY_REQUESTS_PER_MINUTE", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Volume: VolumeConfig{
			Root: envString("CONVOY_VOLUME_ROOT", "/data"),
		},
		Worker: WorkerConfig{
			Identity:          envString("CONVOY_WORKER_ID", hostnameFallback()),
			Capacity:          envInt("CONVOY_WORKER_CAPACITY", 2),
			CoordinatorURL:    envString("CONVOY_COORDINATOR_URL", "http://localhost:7077"),
			APIKey:            os.Getenv("CONVOY_API_KEY"),
			HeartbeatInterval: envDuration("CONVOY_HEARTBEAT_INTERVAL", 10*time.Second),
			PollInterval:      envDuration("CONVOY_TASK_POLL_INTERVAL", 2*time.Second),
			Executor:          envString("CONVOY_EXECUTOR", "process"),
			DockerImage:       envString("CONVOY_DOCKER_IMAGE", "debian:bookworm-slim"),
			WorkDir:           envString("CONVOY_WORK_DIR", os.TempDir()),
		},
		Client: ClientConfig{
			CoordinatorURL: envString("CONVOY_COORDINATOR_URL", "http://localhost:7077"),
			APIKey:         os.Getenv("CONVOY_API_KEY"),
			PollInterval:   envDuration("CONVOY_POLL_INTERVAL", 2*time.Second),
			PollCeiling:    envDuration("CONVOY_POLL_CEILING", 30*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Volume.Root == "" {
		return fmt.Errorf("CONVOY_VOLUME_ROOT must not be empty")
	}

	if c.Coordinator.LivenessTimeout <= 0 {
		return fmt.Errorf("CONVOY_LIVENESS_TIMEOUT must be positive")
	}
	if c.Coordinator.SchedulingInterval <= 0 {
		return fmt.Errorf("CONVOY_SCHEDULING_INTERVAL must be positive")
	}
	if c.Coordinator.SchedulingInterval >= c.Coordinator.LivenessTimeout {
		return fmt.Errorf("CONVOY_SCHEDULING_INTERVAL must be shorter than CONVOY_LIVENESS_TIMEOUT")
	}

	if c.Worker.Capacity <= 0 {
		return fmt.Errorf("CONVOY_WORKER_CAPACITY must be positive, got %d", c.Worker.Capacity)
	}
	if !validExecutors[c.Worker.Executor] {
		return fmt.Errorf("CONVOY_EXECUTOR must be one of process, docker; got %q", c.Worker.Executor)
	}
	if c.Worker.HeartbeatInterval >= c.Coordinator.LivenessTimeout {
		return fmt.Errorf("CONVOY_HEARTBEAT_INTERVAL must be shorter than CONVOY_LIVENESS_TIMEOUT")
	}

	return nil
}

// RequireDatabase validates the sections only the coordinator needs.
func (c *Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}
	return nil
}

func hostnameFallback() string {
	h, err := os.Hostname()
	if err != nil {
		return "worker-unknown"
	}
	return h
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
