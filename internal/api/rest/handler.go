// Package rest implements the fabric's caller-facing and
// executor-facing HTTP handlers: dispatch, result delivery,
// capability reporting, admin token management, and health.
package rest

import (
	"log/slog"
	"time"

	"github.com/kubently/kubently/internal/auth"
	"github.com/kubently/kubently/internal/bus"
	"github.com/kubently/kubently/internal/capability"
)

// Handler bundles the dependencies every REST endpoint needs, built
// once in cmd/fabric/main.go and injected per the teacher's
// constructor-with-dependencies pattern.
type Handler struct {
	Bus          *bus.Bus
	APIKeys      *auth.APIKeySet
	Tokens       *auth.ExecutorTokens
	Capabilities *capability.Registry
	Auditor      *auth.Auditor
	Log          *slog.Logger

	CommandTimeoutDefault time.Duration
	CommandTimeoutMax     time.Duration
	OutputCapBytes        int
}

// NewHandler constructs a Handler from its dependencies.
func NewHandler(b *bus.Bus, keys *auth.APIKeySet, tokens *auth.ExecutorTokens, caps *capability.Registry, auditor *auth.Auditor, log *slog.Logger, cmdTimeoutDefault, cmdTimeoutMax time.Duration, outputCap int) *Handler {
	return &Handler{
		Bus:                   b,
		APIKeys:               keys,
		Tokens:                tokens,
		Capabilities:          caps,
		Auditor:               auditor,
		Log:                   log,
		CommandTimeoutDefault: cmdTimeoutDefault,
		CommandTimeoutMax:     cmdTimeoutMax,
		OutputCapBytes:        outputCap,
	}
}
