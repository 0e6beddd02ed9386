// Command executor runs one cluster's dispatch fabric client: it
// connects to the fabric's SSE stream, reports its capabilities, and
// runs dispatched commands through kubectl.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kubently/kubently/internal/executorclient"
	"github.com/kubently/kubently/internal/pkg/logger"
)

func main() {
	cfg, err := executorclient.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(envOrDefault("LOG_LEVEL", "info"), envOrDefault("LOG_FORMAT", "json"))
	log.Info("executor starting", "cluster_id", cfg.ClusterID, "fabric", cfg.FabricBaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := executorclient.NewClient(cfg, log)
	if err := client.Run(ctx); err != nil {
		log.Error("executor exiting with error", "error", err)
		os.Exit(1)
	}
	log.Info("executor exited")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
