// Package dispatcher implements job creation and dispatch (C8):
// phase1 creation (node selection, reservation + FSM bring-up) and
// phase2 idempotency (a request_id already bound to a job on this or
// another instance replays that binding instead of creating a
// duplicate).
//
// Grounded on original_source/core/dispatcher/job_creation/
// job_creation_phase1.rs and phase2_idempotency.rs.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lingua-scheduler/internal/apperr"
	"lingua-scheduler/internal/audit"
	"lingua-scheduler/internal/domain"
	"lingua-scheduler/internal/redisstate"
	"lingua-scheduler/internal/selector"
)

// CreateRequest is the input to CreateJob: one utterance needing
// translation into one target language.
type CreateRequest struct {
	RequestID        string // idempotency key, stable across retries of the same logical request
	UtteranceID      string
	UtteranceIndex   int
	SessionID        string
	TargetSessionIDs []string
	SourceLang       string
	TargetLang       string
	Public           bool
	Hints            selector.Hints
}

type Dispatcher struct {
	redis    *redisstate.Client
	selector *selector.Selector
	reserveTTL time.Duration
	fsmTTL     time.Duration
	bindingTTL time.Duration
	log        *zap.Logger
	audit      audit.Writer
}

func New(redis *redisstate.Client, sel *selector.Selector, reserveTTL, fsmTTL, bindingTTL time.Duration, log *zap.Logger, auditLog audit.Writer) *Dispatcher {
	return &Dispatcher{redis: redis, selector: sel, reserveTTL: reserveTTL, fsmTTL: fsmTTL, bindingTTL: bindingTTL, log: log, audit: auditLog}
}

// CreateJob runs the full phase1/phase2 idempotent creation flow: if the
// request_id already resolved to a job (on this or another instance),
// that job is returned as-is (phase2). Otherwise a node is selected,
// capacity reserved, and a brand-new job materializes (phase1).
func (d *Dispatcher) CreateJob(ctx context.Context, req CreateRequest) (domain.Job, error) {
	if existing, err := d.redis.GetBinding(ctx, req.RequestID); err == nil {
		return d.rebuildFromBinding(ctx, existing)
	}

	pair := domain.DirectedLangPair{Source: req.SourceLang, Target: req.TargetLang}
	hints := req.Hints
	hints.Public = req.Public
	node, breakdown, err := d.selector.Select(ctx, pair, hints)
	if err != nil {
		d.logBreakdown(breakdown)
		_ = d.audit.RecordDispatchFailure("", req.RequestID, req.SourceLang, req.TargetLang, err.Error())
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}

	job := domain.Job{
		ID:               uuid.NewString(),
		UtteranceID:      req.UtteranceID,
		UtteranceIndex:   req.UtteranceIndex,
		SessionID:        req.SessionID,
		TargetSessionIDs: req.TargetSessionIDs,
		SourceLang:       req.SourceLang,
		TargetLang:       req.TargetLang,
		NodeID:           node.ID,
		Attempt:          1,
		State:            domain.JobCreated,
		RequestID:        req.RequestID,
		Public:           req.Public,
		CreatedAt:        time.Now(),
	}

	reservation := domain.Reservation{JobID: job.ID, Attempt: job.Attempt, NodeID: node.ID, ExpiresAt: time.Now().Add(d.reserveTTL)}
	if err := d.redis.TryReserve(ctx, node.ID, node.Capacity, reservation, d.reserveTTL); err != nil {
		// Fail closed: a request that can't reserve capacity does not
		// become a job. The caller surfaces ErrNoAvailableNode/backoff to
		// the client rather than leaving a half-created job behind.
		_ = d.audit.RecordDispatchFailure(job.ID, req.RequestID, req.SourceLang, req.TargetLang, "reserve failed on "+node.ID)
		return domain.Job{}, fmt.Errorf("create job: reserve on %s: %w", node.ID, err)
	}

	if err := d.redis.CreateJobFSM(ctx, job, d.fsmTTL); err != nil {
		_ = d.redis.ReleaseReserve(ctx, job.ID, job.Attempt, node.ID)
		return domain.Job{}, fmt.Errorf("create job: fsm: %w", err)
	}

	binding := domain.RequestBinding{RequestID: req.RequestID, JobID: job.ID, NodeID: node.ID, CreatedAt: time.Now()}
	won, isNew, err := d.putBinding(ctx, binding)
	if err != nil {
		_ = d.redis.ReleaseReserve(ctx, job.ID, job.Attempt, node.ID)
		return domain.Job{}, fmt.Errorf("create job: bind: %w", err)
	}
	if !isNew {
		// Lost the race to another instance creating the same logical
		// request concurrently: release our reservation and defer to
		// the winner (phase2 semantics apply uniformly even within the
		// same call). Our FSM record is left to expire with its TTL.
		_ = d.redis.ReleaseReserve(ctx, job.ID, job.Attempt, node.ID)
		return d.rebuildFromBinding(ctx, won)
	}

	d.log.Info("job created",
		zap.String("job_id", job.ID), zap.String("node_id", node.ID),
		zap.String("pair", pair.Key()))
	return job, nil
}

// logBreakdown surfaces the per-reason rejection tally for a failed
// selection, so an operator can tell "every node was over threshold"
// apart from "nothing in this pool speaks that language" at a glance.
func (d *Dispatcher) logBreakdown(breakdown *domain.NoAvailableNodeBreakdown) {
	if breakdown == nil || breakdown.Total == 0 {
		return
	}
	fields := make([]zap.Field, 0, len(breakdown.Reasons)+2)
	fields = append(fields, zap.String("pair", breakdown.Pair), zap.Int("rejected_total", breakdown.Total))
	for reason, count := range breakdown.Reasons {
		fields = append(fields, zap.Int(string(reason), count))
	}
	d.log.Warn("no available node", fields...)
}

func (d *Dispatcher) putBinding(ctx context.Context, binding domain.RequestBinding) (domain.RequestBinding, bool, error) {
	return d.redis.PutBindingIfAbsent(ctx, binding, d.bindingTTL)
}

func (d *Dispatcher) rebuildFromBinding(ctx context.Context, binding domain.RequestBinding) (domain.Job, error) {
	state, err := d.redis.GetJobState(ctx, binding.JobID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("rebuild from binding %s: %w", binding.RequestID, apperr.ErrDuplicateSuppressed)
	}
	return domain.Job{
		ID:        binding.JobID,
		NodeID:    binding.NodeID,
		RequestID: binding.RequestID,
		State:     state,
	}, nil
}

// Dispatch transitions a freshly-created job to Dispatched, the point at
// which the node protocol's job_assign message goes out.
func (d *Dispatcher) Dispatch(ctx context.Context, job domain.Job) error {
	return d.redis.TransitionJob(ctx, job.ID, domain.JobCreated, domain.JobDispatched, d.fsmTTL)
}

// Accept records the node's job_accept acknowledgement.
func (d *Dispatcher) Accept(ctx context.Context, job domain.Job) error {
	if err := d.redis.TransitionJob(ctx, job.ID, domain.JobDispatched, domain.JobAccepted, d.fsmTTL); err != nil {
		return err
	}
	return d.redis.CommitReserve(ctx, job.ID, job.Attempt, job.NodeID, domain.JobAccepted, d.fsmTTL)
}

// Start marks a job Running once the node begins work.
func (d *Dispatcher) Start(ctx context.Context, job domain.Job) error {
	return d.redis.TransitionJob(ctx, job.ID, domain.JobAccepted, domain.JobRunning, d.fsmTTL)
}

// Finish marks a job Finished on receipt of a job_result carrying text.
func (d *Dispatcher) Finish(ctx context.Context, job domain.Job) error {
	return d.redis.TransitionJob(ctx, job.ID, domain.JobRunning, domain.JobFinished, d.fsmTTL)
}

// FinishNoText marks a job CompletedNoText: the node ran successfully but
// produced nothing to deliver (empty ASR transcript or a semantic-skip
// decision), which still frees the node's reservation but is distinct
// from JobFinished for audit and the result pipeline's MissingResult
// synthesis.
func (d *Dispatcher) FinishNoText(ctx context.Context, job domain.Job) error {
	return d.redis.TransitionJob(ctx, job.ID, domain.JobRunning, domain.JobCompletedNoText, d.fsmTTL)
}

// Fail marks a job Failed from any in-flight state.
func (d *Dispatcher) Fail(ctx context.Context, job domain.Job, from domain.JobState) error {
	return d.redis.TransitionJob(ctx, job.ID, from, domain.JobFailed, d.fsmTTL)
}

// Release frees the job's reservation and marks it Released — the final
// FSM state, after which the job record is scratch history only.
func (d *Dispatcher) Release(ctx context.Context, job domain.Job, from domain.JobState) error {
	if err := d.redis.TransitionJob(ctx, job.ID, from, domain.JobReleased, d.fsmTTL); err != nil {
		return err
	}
	return d.redis.ReleaseReserve(ctx, job.ID, job.Attempt, job.NodeID)
}
