// Package noderegistry is the node registry (C2): node presence,
// snapshot publishing, and the sliding-window failure threshold
// (supplemented feature, grounded on original_source's
// config_defaults.rs FailureThreshold knobs) that demotes a node to
// Degraded before the simpler presence-TTL logic would mark it Offline.
package noderegistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"lingua-scheduler/internal/audit"
	"lingua-scheduler/internal/config"
	"lingua-scheduler/internal/domain"
	"lingua-scheduler/internal/redisstate"
)

// Registry tracks node presence in Redis and keeps a local, per-instance
// failure-window for nodes this instance has actually dispatched to
// (the window is instance-local scratch state — the authoritative status
// lives in the snapshot key, same split as C2's "local memoization is
// only a cache" note).
type Registry struct {
	redis *redisstate.Client
	cfg   config.SchedulerConfig
	audit audit.Writer

	mu      sync.Mutex
	windows map[string][]bool // nodeID -> recent outcomes, true = failure
}

func New(redis *redisstate.Client, cfg config.SchedulerConfig, auditLog audit.Writer) *Registry {
	return &Registry{
		redis:   redis,
		cfg:     cfg,
		audit:   auditLog,
		windows: make(map[string][]bool),
	}
}

// Heartbeat refreshes a node's presence TTL and publishes its current
// snapshot (status/capacity/running/languages).
func (r *Registry) Heartbeat(ctx context.Context, node domain.Node) error {
	payload, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("marshal node snapshot: %w", err)
	}
	presenceKey := redisstate.NodePresenceKey(node.ID)
	snapshotKey := redisstate.NodeSnapshotKey(node.ID)
	ttl := r.cfg.PresenceTTL
	pipe := r.redis.RDB.TxPipeline()
	pipe.Set(ctx, presenceKey, "1", ttl)
	pipe.Set(ctx, snapshotKey, payload, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("heartbeat node %s: %w", node.ID, err)
	}
	return nil
}

// Snapshot reads a node's last-published snapshot.
func (r *Registry) Snapshot(ctx context.Context, nodeID string) (domain.Node, error) {
	raw, err := r.redis.RDB.Get(ctx, redisstate.NodeSnapshotKey(nodeID)).Bytes()
	if err != nil {
		return domain.Node{}, fmt.Errorf("snapshot node %s: %w", nodeID, err)
	}
	var node domain.Node
	if err := json.Unmarshal(raw, &node); err != nil {
		return domain.Node{}, fmt.Errorf("unmarshal node snapshot: %w", err)
	}
	return node, nil
}

// IsPresent reports whether a node's presence TTL hasn't expired.
func (r *Registry) IsPresent(ctx context.Context, nodeID string) (bool, error) {
	n, err := r.redis.RDB.Exists(ctx, redisstate.NodePresenceKey(nodeID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence check %s: %w", nodeID, err)
	}
	return n > 0, nil
}

// RecordOutcome appends a dispatch outcome to the node's local failure
// window and reports whether the node should now be considered Degraded
// per the configured sliding-window thresholds.
func (r *Registry) RecordOutcome(nodeID string, failed bool) (degraded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w := append(r.windows[nodeID], failed)
	if len(w) > r.cfg.FailureWindowSize {
		w = w[len(w)-r.cfg.FailureWindowSize:]
	}
	r.windows[nodeID] = w

	total := 0
	for _, f := range w {
		if f {
			total++
		}
	}

	consecutive := 0
	for i := len(w) - 1; i >= 0 && w[i]; i-- {
		consecutive++
	}

	return total >= r.cfg.FailureCountThreshold || consecutive >= r.cfg.ConsecutiveFailureLimit
}

// ResetWindow clears a node's local failure window, e.g. after an
// operator forces it back to Ready.
func (r *Registry) ResetWindow(nodeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.windows, nodeID)
}

// MarkDegraded publishes a node snapshot with Status=Degraded, leaving
// capacity bookkeeping untouched so in-flight jobs can still finish.
func (r *Registry) MarkDegraded(ctx context.Context, nodeID string) error {
	node, err := r.Snapshot(ctx, nodeID)
	if err != nil {
		return err
	}
	node.Status = domain.NodeDegraded
	if err := r.Heartbeat(ctx, node); err != nil {
		return err
	}
	_ = r.audit.RecordNodeEvent(nodeID, string(domain.NodeDegraded), "failure window tripped threshold")
	return nil
}

// ExpireGrace is a grace period callers can compare against when
// deciding whether a missed heartbeat should trigger a snapshot refresh.
var ExpireGrace = 2 * time.Second
