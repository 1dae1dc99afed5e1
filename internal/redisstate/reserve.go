package redisstate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lingua-scheduler/internal/apperr"
	"lingua-scheduler/internal/domain"
)

// TryReserve atomically checks and increments a node's running-job count,
// writing a reservation record with the given TTL. Returns
// apperr.ErrReservationConflict if the node has no free capacity.
func (c *Client) TryReserve(ctx context.Context, nodeID string, capacity int, res domain.Reservation, ttl time.Duration) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal reservation: %w", err)
	}

	keys := []string{NodeRunningCountKey(nodeID), ReservationKey(res.JobID, res.Attempt, nodeID)}
	ok, err := c.tryReserve.Run(ctx, c.RDB, keys, capacity, int(ttl.Seconds()), string(payload)).Int()
	if err != nil {
		return fmt.Errorf("try_reserve: %w", err)
	}
	if ok == 0 {
		return apperr.ErrReservationConflict
	}
	return nil
}

// CommitReserve converts a pending reservation into a running job record.
func (c *Client) CommitReserve(ctx context.Context, jobID string, attempt int, nodeID string, newState domain.JobState, ttl time.Duration) error {
	keys := []string{ReservationKey(jobID, attempt, nodeID), JobFSMKey(jobID)}
	ok, err := c.commitReserve.Run(ctx, c.RDB, keys, string(newState), int(ttl.Seconds())).Int()
	if err != nil {
		return fmt.Errorf("commit_reserve: %w", err)
	}
	if ok == 0 {
		return fmt.Errorf("commit_reserve: %w", apperr.ErrReservationConflict)
	}
	return nil
}

// ReleaseReserve decrements the node's running count and drops the
// reservation record. Safe to call more than once for the same
// reservation (idempotent — the job FSM Release transition may race with
// a reaper sweep).
func (c *Client) ReleaseReserve(ctx context.Context, jobID string, attempt int, nodeID string) error {
	keys := []string{NodeRunningCountKey(nodeID), ReservationKey(jobID, attempt, nodeID)}
	if _, err := c.releaseReserve.Run(ctx, c.RDB, keys).Int(); err != nil {
		return fmt.Errorf("release_reserve: %w", err)
	}
	return nil
}
