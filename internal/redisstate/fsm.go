package redisstate

import (
	"context"
	"fmt"
	"time"

	"lingua-scheduler/internal/apperr"
	"lingua-scheduler/internal/domain"
)

// validTransitions enumerates the job FSM's allowed edges
// (Created -> Dispatched -> Accepted -> Running -> Finished -> Released),
// plus the Failed branch reachable from any in-flight state.
var validTransitions = map[domain.JobState][]domain.JobState{
	domain.JobCreated:         {domain.JobDispatched, domain.JobFailed},
	domain.JobDispatched:      {domain.JobAccepted, domain.JobFailed},
	domain.JobAccepted:        {domain.JobRunning, domain.JobFailed},
	domain.JobRunning:         {domain.JobFinished, domain.JobCompletedNoText, domain.JobFailed},
	domain.JobFinished:        {domain.JobReleased},
	domain.JobCompletedNoText: {domain.JobReleased},
	domain.JobFailed:          {domain.JobReleased},
}

// CanTransition reports whether from -> to is a legal FSM edge.
func CanTransition(from, to domain.JobState) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CreateJobFSM writes the initial FSM record for a newly created job.
func (c *Client) CreateJobFSM(ctx context.Context, job domain.Job, ttl time.Duration) error {
	key := JobFSMKey(job.ID)
	if err := c.RDB.HSet(ctx, key, map[string]any{
		"state":      string(domain.JobCreated),
		"session_id": job.SessionID,
		"node_id":    job.NodeID,
		"attempt":    job.Attempt,
		"updated_at": nowMillis(),
	}).Err(); err != nil {
		return fmt.Errorf("create job fsm: %w", err)
	}
	return c.RDB.Expire(ctx, key, ttl).Err()
}

// TransitionJob atomically moves a job from one state to another,
// validating the edge in Go (fast, no Redis round trip needed for the
// table) and enforcing the compare-and-swap on the current stored state
// via the Lua script (closes the race between two schedulers racing to
// transition the same job).
func (c *Client) TransitionJob(ctx context.Context, jobID string, from, to domain.JobState, ttl time.Duration) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%s -> %s: %w", from, to, apperr.ErrInvalidTransition)
	}
	keys := []string{JobFSMKey(jobID)}
	result, err := c.fsmTransition.Run(ctx, c.RDB, keys, string(from), string(to), int(ttl.Seconds()), nowMillis()).Int()
	if err != nil {
		return fmt.Errorf("fsm_transition: %w", err)
	}
	switch result {
	case 1:
		return nil
	case 0:
		return fmt.Errorf("fsm_transition %s->%s: %w", from, to, apperr.ErrReservationConflict)
	default:
		return fmt.Errorf("fsm_transition %s->%s: job record missing", from, to)
	}
}

// GetJobState reads the job's current FSM state.
func (c *Client) GetJobState(ctx context.Context, jobID string) (domain.JobState, error) {
	state, err := c.RDB.HGet(ctx, JobFSMKey(jobID), "state").Result()
	if err != nil {
		return "", fmt.Errorf("get job state: %w", err)
	}
	return domain.JobState(state), nil
}
