package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lsst-sqre/vo-cutouts-sub000/internal/platform/logger"
)

// Config collects every knob the engine recognizes. Values come from the
// environment (CUTOUT_* keys) with an optional YAML overlay file pointed to by
// CUTOUT_CONFIG_FILE. The overlay wins over the environment.
type Config struct {
	DatabaseURL      string `yaml:"database_url"`
	DatabasePassword string `yaml:"database_password"`
	QueueURL         string `yaml:"queue_url"`
	QueuePassword    string `yaml:"queue_password"`

	// Lifetime is the initial destruction-time offset for new jobs, seconds.
	Lifetime int `yaml:"lifetime"`
	// ExecutionDuration is the default per-job budget, seconds. 0 means
	// unlimited.
	ExecutionDuration int `yaml:"execution_duration"`
	// SyncTimeout bounds the total wait of the /sync route, seconds.
	SyncTimeout int `yaml:"sync_timeout"`
	// WaitTimeout caps long-poll waits on job retrieval, seconds.
	WaitTimeout int `yaml:"wait_timeout"`
	// URLLifetime is the validity window of signed result URLs, seconds.
	URLLifetime int `yaml:"url_lifetime"`

	SigningServiceAccount string `yaml:"signing_service_account"`
	StorageURL            string `yaml:"storage_url"`
	PathPrefix            string `yaml:"path_prefix"`

	WorkQueueName string `yaml:"work_queue_name"`
	UWSQueueName  string `yaml:"uws_queue_name"`

	// ExpireSchedule is the cron spec of the destruction-time sweep.
	ExpireSchedule string `yaml:"expire_schedule"`
	// TrackerPollInterval / TrackerPollTimeout bound the tracker's wait for a
	// backend result to materialize, seconds (interval is fractional-friendly
	// via milliseconds in code; config takes milliseconds).
	TrackerPollIntervalMS int `yaml:"tracker_poll_interval_ms"`
	TrackerPollTimeout    int `yaml:"tracker_poll_timeout"`
}

func Load(log *logger.Logger) (*Config, error) {
	cfg := &Config{
		DatabaseURL:           GetEnv("CUTOUT_DATABASE_URL", "postgres://postgres@localhost:5432/cutouts?sslmode=disable", log),
		DatabasePassword:      os.Getenv("CUTOUT_DATABASE_PASSWORD"),
		QueueURL:              GetEnv("CUTOUT_QUEUE_URL", "redis://localhost:6379/0", log),
		QueuePassword:         os.Getenv("CUTOUT_QUEUE_PASSWORD"),
		Lifetime:              GetEnvAsInt("CUTOUT_LIFETIME", 7*24*3600, log),
		ExecutionDuration:     GetEnvAsInt("CUTOUT_EXECUTION_DURATION", 600, log),
		SyncTimeout:           GetEnvAsInt("CUTOUT_SYNC_TIMEOUT", 60, log),
		WaitTimeout:           GetEnvAsInt("CUTOUT_WAIT_TIMEOUT", 60, log),
		URLLifetime:           GetEnvAsInt("CUTOUT_URL_LIFETIME", 900, log),
		SigningServiceAccount: GetEnv("CUTOUT_SIGNING_SERVICE_ACCOUNT", "", log),
		StorageURL:            GetEnv("CUTOUT_STORAGE_URL", "", log),
		PathPrefix:            GetEnv("CUTOUT_PATH_PREFIX", "/api/cutout", log),
		WorkQueueName:         GetEnv("CUTOUT_WORK_QUEUE_NAME", "work", log),
		UWSQueueName:          GetEnv("CUTOUT_UWS_QUEUE_NAME", "uws", log),
		ExpireSchedule:        GetEnv("CUTOUT_EXPIRE_SCHEDULE", "@every 1m", log),
		TrackerPollIntervalMS: GetEnvAsInt("CUTOUT_TRACKER_POLL_INTERVAL_MS", 500, log),
		TrackerPollTimeout:    GetEnvAsInt("CUTOUT_TRACKER_POLL_TIMEOUT", 5, log),
	}

	if path := strings.TrimSpace(os.Getenv("CUTOUT_CONFIG_FILE")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
		log.Info("Applied config file overlay", "path", path)
	}

	if cfg.Lifetime <= 0 {
		return nil, fmt.Errorf("lifetime must be positive, got %d", cfg.Lifetime)
	}
	if cfg.PathPrefix != "" && !strings.HasPrefix(cfg.PathPrefix, "/") {
		cfg.PathPrefix = "/" + cfg.PathPrefix
	}
	cfg.PathPrefix = strings.TrimRight(cfg.PathPrefix, "/")
	return cfg, nil
}

func (c *Config) LifetimeDuration() time.Duration {
	return time.Duration(c.Lifetime) * time.Second
}

func (c *Config) SyncTimeoutDuration() time.Duration {
	return time.Duration(c.SyncTimeout) * time.Second
}

func (c *Config) WaitTimeoutDuration() time.Duration {
	return time.Duration(c.WaitTimeout) * time.Second
}

func (c *Config) URLLifetimeDuration() time.Duration {
	return time.Duration(c.URLLifetime) * time.Second
}

func (c *Config) TrackerPollInterval() time.Duration {
	return time.Duration(c.TrackerPollIntervalMS) * time.Millisecond
}

func (c *Config) TrackerPollTimeoutDuration() time.Duration {
	return time.Duration(c.TrackerPollTimeout) * time.Second
}

func GetEnv(key, defaultVal string, log *logger.Logger) string {
	v := os.Getenv(key)
	if v == "" {
		log.Debug("Env var not set, using default", "key", key, "default", defaultVal)
		return defaultVal
	}
	return v
}

func GetEnvAsInt(key string, defaultVal int, log *logger.Logger) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.Warn("Env var is not an integer, using default", "key", key, "value", v, "default", defaultVal)
		return defaultVal
	}
	return i
}
