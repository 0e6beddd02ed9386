// Package executorclient implements the executor's control loop (C5):
// connect to the fabric's SSE stream, report capabilities, run
// dispatched commands through kubectl, and report results back.
package executorclient

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the executor process's configuration, loaded from
// environment variables directly (a single small process, unlike the
// fabric's multi-source viper config).
type Config struct {
	ClusterID     string
	Token         string
	FabricBaseURL string
	KubectlPath   string

	CommandTimeout time.Duration
	OutputCapBytes int

	HeartbeatInterval time.Duration
}

// LoadConfig reads the executor's configuration from the environment.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ClusterID:     os.Getenv("CLUSTER_ID"),
		Token:         os.Getenv("EXECUTOR_TOKEN"),
		FabricBaseURL: envOrDefault("FABRIC_BASE_URL", "http://localhost:8080"),
		KubectlPath:   envOrDefault("KUBECTL_PATH", "kubectl"),

		CommandTimeout:    time.Duration(envIntOrDefault("COMMAND_TIMEOUT_SECONDS", 20)) * time.Second,
		OutputCapBytes:    envIntOrDefault("COMMAND_OUTPUT_CAP_BYTES", 1024*1024),
		HeartbeatInterval: time.Duration(envIntOrDefault("HEARTBEAT_INTERVAL_SECONDS", 30)) * time.Second,
	}
	if cfg.ClusterID == "" {
		return nil, fmt.Errorf("executorclient: CLUSTER_ID is required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("executorclient: EXECUTOR_TOKEN is required")
	}
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
