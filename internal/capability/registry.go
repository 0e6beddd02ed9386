// Package capability implements the per-cluster capability record
// registry (spec.md §4.6): executor-advertised security mode and
// allowed verbs, consulted by the dispatcher before publishing a
// command.
package capability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kubently/kubently/internal/model"
)

// capabilityKey matches spec.md §6's Redis schema literally.
func capabilityKey(clusterID string) string { return "cluster:" + clusterID + ":capabilities" }

// recordTTL bounds how long a capability record is trusted without a
// refresh from the executor's heartbeat (spec.md §4.6).
const recordTTL = 90 * time.Second

// Registry is the Redis-backed capability record store.
type Registry struct {
	rdb *redis.Client
}

// New wraps an existing Redis client.
func New(rdb *redis.Client) *Registry {
	return &Registry{rdb: rdb}
}

// Put stores rec for clusterID, refreshing its TTL. Called on
// executor connect and on every heartbeat.
func (r *Registry) Put(ctx context.Context, clusterID string, rec *model.CapabilityRecord) error {
	if err := rec.Validate(); err != nil {
		return model.NewError(model.ErrInvalidArgument, err.Error())
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("capability: marshal record: %w", err)
	}
	if err := r.rdb.Set(ctx, capabilityKey(clusterID), payload, recordTTL).Err(); err != nil {
		return fmt.Errorf("capability: store record: %w", err)
	}
	return nil
}

// Get returns clusterID's capability record, or a NotFound *model.Error
// if none is present or it has expired (spec.md §4.6, §6: `GET
// /clusters/{cluster_id}/capabilities` returns the record or NotFound).
func (r *Registry) Get(ctx context.Context, clusterID string) (*model.CapabilityRecord, error) {
	raw, err := r.rdb.Get(ctx, capabilityKey(clusterID)).Result()
	if err == redis.Nil {
		return nil, model.NewError(model.ErrNotFound, "no capability record for cluster")
	}
	if err != nil {
		return nil, fmt.Errorf("capability: get record: %w", err)
	}
	var rec model.CapabilityRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("capability: unmarshal record: %w", err)
	}
	return &rec, nil
}

// GetOrDefault is Get's fallback-to-default-policy counterpart, used
// by the dispatcher (spec.md §4.4 edge case: dispatch against a
// cluster with no reported capabilities still gates against the
// built-in minimum policy rather than failing the request).
func (r *Registry) GetOrDefault(ctx context.Context, clusterID string) (*model.CapabilityRecord, error) {
	rec, err := r.Get(ctx, clusterID)
	if merr, ok := err.(*model.Error); ok && merr.Code == model.ErrNotFound {
		return defaultRecord(), nil
	}
	return rec, err
}

// Delete removes clusterID's capability record, coupled to executor
// token revocation (spec.md §3: revoking a cluster's executor also
// retires its advertised capabilities).
func (r *Registry) Delete(ctx context.Context, clusterID string) error {
	return r.rdb.Del(ctx, capabilityKey(clusterID)).Err()
}

func defaultRecord() *model.CapabilityRecord {
	return &model.CapabilityRecord{
		SecurityMode: model.SecurityReadOnly,
		AllowedVerbs: append([]string(nil), model.DefaultAllowedVerbs...),
		Timestamp:    time.Now().UTC().Format(time.RFC3339),
	}
}
