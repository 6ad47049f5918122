// Package progress mirrors the latest per-job progress snapshot to Redis
// so any API replica can answer polling clients without hitting Postgres.
// The mirror is optional: with no Redis configured every method is a
// no-op and callers fall back to the job row.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/fleet-import/internal/domain"
)

// SnapshotTTL keeps finished-job snapshots around long enough for late
// pollers, without accumulating keys forever.
const SnapshotTTL = 24 * time.Hour

// ErrNoSnapshot is returned by Get when no snapshot exists for the job.
var ErrNoSnapshot = errors.New("progress: no snapshot")

// Mirror writes and reads progress snapshots. A nil client disables it.
type Mirror struct {
	redis *redis.Client
}

// NewMirror wraps an optional Redis client.
func NewMirror(client *redis.Client) *Mirror {
	return &Mirror{redis: client}
}

// Enabled reports whether a Redis backend is configured.
func (m *Mirror) Enabled() bool { return m.redis != nil }

func key(jobID string) string { return "import:progress:" + jobID }

// Set stores the latest snapshot for a job. Errors are returned for
// logging only; callers never fail a job over a mirror write.
func (m *Mirror) Set(ctx context.Context, snap domain.ProgressSnapshot) error {
	if m.redis == nil {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("progress: marshal snapshot: %w", err)
	}
	if err := m.redis.Set(ctx, key(snap.JobID), data, SnapshotTTL).Err(); err != nil {
		return fmt.Errorf("progress: store snapshot: %w", err)
	}
	return nil
}

// Get returns the latest mirrored snapshot for a job.
func (m *Mirror) Get(ctx context.Context, jobID string) (*domain.ProgressSnapshot, error) {
	if m.redis == nil {
		return nil, ErrNoSnapshot
	}
	data, err := m.redis.Get(ctx, key(jobID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("progress: read snapshot: %w", err)
	}
	var snap domain.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("progress: decode snapshot: %w", err)
	}
	return &snap, nil
}

// Delete removes a job's snapshot, used by administrative purge.
func (m *Mirror) Delete(ctx context.Context, jobID string) error {
	if m.redis == nil {
		return nil
	}
	return m.redis.Del(ctx, key(jobID)).Err()
}
