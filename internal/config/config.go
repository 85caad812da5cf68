// Package config loads the orchestrator's deployment-level configuration.
// Loading is deliberately thin: workflow definitions themselves are
// supplied through the Store, not this file — config only carries the
// knobs persistence and the dispatcher need to come up.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config is the orchestrator's process-level configuration.
type Config struct {
	// DatabaseURL is the pgx connection string for the
	// synthos_workflow_executions store.
	DatabaseURL string
	// NATSURL is the event bus connection string.
	NATSURL string
	// PipelineIntervalMinutes mirrors orchestrator.pipelineIntervalInMinutes:
	// how often a scheduled re-trigger sweep runs, if the deployment uses one.
	PipelineIntervalMinutes int
	// DefaultTaskTimeoutMs is the dispatcher's CompleteTask race timer,
	// overriding the 90-minute default when set.
	DefaultTaskTimeoutMs int
	// TaskDefaults is opaque per-deployment configuration handed to task
	// GenerateDefaultParams functions.
	TaskDefaults map[string]any
}

// FromEnv populates a Config from environment variables, requiring only
// DATABASE_URL; everything else falls back to a usable default.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		NATSURL:                 getEnvOr("NATS_URL", "nats://127.0.0.1:4222"),
		PipelineIntervalMinutes: 0,
		TaskDefaults:            map[string]any{},
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("config: DATABASE_URL must be set")
	}

	if raw, ok := os.LookupEnv("PIPELINE_INTERVAL_MINUTES"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("config: PIPELINE_INTERVAL_MINUTES must be an integer: %w", err)
		}
		cfg.PipelineIntervalMinutes = n
	}

	if raw, ok := os.LookupEnv("TASK_TIMEOUT_MS"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("config: TASK_TIMEOUT_MS must be an integer: %w", err)
		}
		cfg.DefaultTaskTimeoutMs = n
	}

	return cfg, nil
}

func getEnvOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
