package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kubently/kubently/internal/pkg/logger"
)

// AuditEvent is one structured audit line for an authentication or
// administrative action (mint/revoke token, capability write, verified
// or rejected auth attempt). No API key, executor token, or command
// output is ever logged in plaintext.
type AuditEvent struct {
	Time      string `json:"time"`
	Action    string `json:"action"`
	RequestID string `json:"request_id,omitempty"`
	Identity  string `json:"identity,omitempty"`
	ClusterID string `json:"cluster_id,omitempty"`
	Outcome   string `json:"outcome"`
	Message   string `json:"message,omitempty"`
}

var auditLog = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

// auditListKey is spec.md §6's literal name for the append-only audit
// trail: "auth:audit → list".
const auditListKey = "auth:audit"

// auditListCap bounds auth:audit's length via LTRIM, keeping the list
// a rolling window rather than unbounded history (spec.md §4.1: "every
// outcome writes an append-only event ... capped with LTRIM").
const auditListCap = 10000

// Auditor writes AuditEvents to the auth:audit Redis list and mirrors
// them to stderr via slog, so every verify_api_key/verify_executor
// outcome — not just admin mint/revoke — is recorded per spec.md §3.
type Auditor struct {
	rdb *redis.Client
}

// NewAuditor wraps an existing Redis client.
func NewAuditor(rdb *redis.Client) *Auditor {
	return &Auditor{rdb: rdb}
}

// Log records one audit event. Redis errors are logged but never
// propagated — a broken audit sink must not block the auth decision
// that triggered it.
func (a *Auditor) Log(ctx context.Context, identity, clusterID, action, outcome, message string) {
	e := AuditEvent{
		Time:      time.Now().UTC().Format(time.RFC3339Nano),
		Action:    action,
		RequestID: logger.FromContext(ctx),
		Identity:  identity,
		ClusterID: clusterID,
		Outcome:   outcome,
		Message:   message,
	}
	b, err := json.Marshal(e)
	if err != nil {
		return
	}
	auditLog.Info("audit", "event", string(b))

	if a == nil || a.rdb == nil {
		return
	}
	pipe := a.rdb.TxPipeline()
	pipe.RPush(ctx, auditListKey, b)
	pipe.LTrim(ctx, auditListKey, -auditListCap, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		auditLog.Warn("failed to write auth:audit entry", "error", err)
	}
}
