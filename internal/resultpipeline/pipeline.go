// Package resultpipeline implements ordered result delivery (C9): a
// completed job's translation is wrapped as a wire message and delivered
// to the owning session (and any room listeners fanned out to), strictly
// in utterance_index order — buffering out-of-order arrivals, closing
// gaps with a synthesized MissingResult on timeout, and deduplicating
// repeat job_result deliveries for the same (session_id, job_id) within
// a sliding window. It also implements the ASR rerun policy
// (supplemented feature): one extra ASR pass is permitted before a
// low-confidence/empty result is surfaced as a terminal miss.
//
// Grounded on the teacher's handler/room_hub.go handleTranscript /
// receiveAWSResponses routing for the deliver-to-session shape, and
// original_source/config_defaults.rs's asr_rerun_*/gap timeout knobs for
// the rerun and reorder-buffer policies.
package resultpipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lingua-scheduler/internal/domain"
	"lingua-scheduler/internal/wsproto"
)

// RerunPolicy decides whether a low-quality ASR result for an utterance
// should trigger one more ASR attempt instead of being delivered as-is.
type RerunPolicy struct {
	MaxCount             int
	Timeout              time.Duration
	ConferenceModeStrict bool

	mu     sync.Mutex
	counts map[string]int // utteranceID -> reruns already spent
}

func NewRerunPolicy(maxCount int, timeout time.Duration, conferenceStrict bool) *RerunPolicy {
	return &RerunPolicy{MaxCount: maxCount, Timeout: timeout, ConferenceModeStrict: conferenceStrict, counts: make(map[string]int)}
}

// ShouldRerun reports whether another ASR pass should be requested for
// utteranceID given an empty/low-confidence result. Only conference
// sessions rerun, and only while ConferenceModeStrict is set, because a
// silent/garbled segment in a multi-party room is more likely to be a
// genuine miss worth re-trying than background noise on a 1:1 call.
func (p *RerunPolicy) ShouldRerun(utteranceID string, emptyResult bool, isConference bool) bool {
	if !emptyResult {
		return false
	}
	if !isConference || !p.ConferenceModeStrict {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts[utteranceID] >= p.MaxCount {
		return false
	}
	p.counts[utteranceID]++
	return true
}

// Forget drops the rerun counter for an utterance once it's finally
// resolved (delivered or given up on), so the map doesn't grow unbounded.
func (p *RerunPolicy) Forget(utteranceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.counts, utteranceID)
}

// Deliver hands an already wire-encoded payload to a session. In
// production this is gateway.Gateway.DeliverToSession, which implements
// ForwardNodeMessage itself: deliver locally if this instance owns the
// session's connection, else forward across instances via the routed
// send fabric.
type Deliver func(sessionID string, payload []byte)

// Request bundles everything HandleResult needs about the job a result
// belongs to, beyond the TranslationResult payload itself.
type Request struct {
	SessionID        string
	TargetSessionIDs []string // room fan-out: additional listener sessions
	IsConference     bool
}

// queuedItem is one pending slot in a session's reorder buffer.
type queuedItem struct {
	payload []byte
}

// sessionQueue is the per-session in-order delivery buffer keyed by
// utterance_index (§4.8/§8.1: results must reach the client as exactly
// 0,1,2,...,N, no gaps, no repeats).
type sessionQueue struct {
	mu        sync.Mutex
	nextIndex int
	pending   map[int]queuedItem
	gapTimer  *time.Timer
}

type dedupKey struct {
	sessionID string
	jobID     string
}

// Pipeline is the C9 result pipeline: rerun policy, dedup window, and
// the per-session reorder buffer.
type Pipeline struct {
	rerun   *RerunPolicy
	deliver Deliver

	gapTimeout  time.Duration
	dedupWindow time.Duration

	mu     sync.Mutex
	queues map[string]*sessionQueue

	dedupMu sync.Mutex
	dedup   map[dedupKey]time.Time
}

func New(rerun *RerunPolicy, deliver Deliver) *Pipeline {
	return &Pipeline{
		rerun:       rerun,
		deliver:     deliver,
		gapTimeout:  3 * time.Second,
		dedupWindow: 30 * time.Second,
		queues:      make(map[string]*sessionQueue),
		dedup:       make(map[dedupKey]time.Time),
	}
}

// WithTimings overrides the gap timeout and dedup window (defaults
// 3s/30s); wired from config.SchedulerConfig by cmd/scheduler.
func (p *Pipeline) WithTimings(gapTimeout, dedupWindow time.Duration) *Pipeline {
	if gapTimeout > 0 {
		p.gapTimeout = gapTimeout
	}
	if dedupWindow > 0 {
		p.dedupWindow = dedupWindow
	}
	return p
}

// HandleResult processes one job_result: dedup, the ASR rerun policy,
// MissingResult synthesis for empty/semantic-skip results, and finally
// in-order delivery (possibly deferred behind the reorder buffer) to the
// origin session and any room fan-out targets.
func (p *Pipeline) HandleResult(ctx context.Context, req Request, result domain.TranslationResult) (rerunRequested bool, err error) {
	if p.seenRecently(req.SessionID, result.JobID) {
		return false, nil
	}

	empty := result.Empty()
	if p.rerun.ShouldRerun(result.UtteranceID, empty, req.IsConference) {
		return true, nil
	}
	p.rerun.Forget(result.UtteranceID)
	p.markSeen(req.SessionID, result.JobID)

	var payload []byte
	if empty {
		payload, err = wsproto.Encode(wsproto.SessionTypeMissingResult, wsproto.MissingResultMsg{
			SessionID:      req.SessionID,
			UtteranceIndex: result.UtteranceIndex,
			Reason:         string(domain.ReasonNoTextAssigned),
			CreatedAtMs:    nowMillis(),
		})
	} else {
		payload, err = wsproto.Encode(wsproto.SessionTypeTranslationResult, wsproto.TranslationResultMsg{
			JobID:          result.JobID,
			UtteranceID:    result.UtteranceID,
			UtteranceIndex: result.UtteranceIndex,
			OriginalText:   result.OriginalText,
			TranslatedText: result.TranslatedText,
			SourceLanguage: result.SourceLang,
			TargetLanguage: result.TargetLang,
			IsFinal:        result.IsFinal,
			AudioURL:       result.AudioURL,
		})
	}
	if err != nil {
		return false, fmt.Errorf("encode result payload: %w", err)
	}

	p.enqueue(req, result.UtteranceIndex, payload)
	return false, nil
}

func (p *Pipeline) seenRecently(sessionID, jobID string) bool {
	key := dedupKey{sessionID: sessionID, jobID: jobID}
	now := time.Now()
	p.dedupMu.Lock()
	defer p.dedupMu.Unlock()
	seenAt, ok := p.dedup[key]
	return ok && now.Sub(seenAt) < p.dedupWindow
}

func (p *Pipeline) markSeen(sessionID, jobID string) {
	key := dedupKey{sessionID: sessionID, jobID: jobID}
	now := time.Now()
	p.dedupMu.Lock()
	defer p.dedupMu.Unlock()
	p.dedup[key] = now
	// Opportunistic sweep so the map doesn't grow unbounded under steady
	// traffic; a dedicated sweeper isn't warranted for an in-memory map.
	if len(p.dedup) > 4096 {
		for k, t := range p.dedup {
			if now.Sub(t) > p.dedupWindow {
				delete(p.dedup, k)
			}
		}
	}
}

func (p *Pipeline) queueFor(sessionID string) *sessionQueue {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[sessionID]
	if !ok {
		q = &sessionQueue{pending: make(map[int]queuedItem)}
		p.queues[sessionID] = q
	}
	return q
}

// enqueue places payload into the owning session's reorder buffer at
// utteranceIndex and drains everything now contiguous from nextIndex,
// delivering to the origin session plus any fan-out targets.
func (p *Pipeline) enqueue(req Request, utteranceIndex int, payload []byte) {
	q := p.queueFor(req.SessionID)

	q.mu.Lock()
	if utteranceIndex < q.nextIndex {
		// Already delivered (or superseded by a gap-timeout synthesis) —
		// a repeat, drop it.
		q.mu.Unlock()
		return
	}
	q.pending[utteranceIndex] = queuedItem{payload: payload}
	ready := p.drainReady(q)
	p.armGapTimer(req, q)
	q.mu.Unlock()

	p.deliverAll(req, ready)
}

// drainReady must be called with q.mu held. It pops every contiguous
// entry starting at q.nextIndex and returns their payloads in order.
func (p *Pipeline) drainReady(q *sessionQueue) [][]byte {
	var ready [][]byte
	for {
		item, ok := q.pending[q.nextIndex]
		if !ok {
			break
		}
		delete(q.pending, q.nextIndex)
		ready = append(ready, item.payload)
		q.nextIndex++
	}
	return ready
}

// armGapTimer must be called with q.mu held. It (re)starts the
// gap-closing timer while something is waiting behind a still-missing
// earlier index, and stops it once nothing is pending.
func (p *Pipeline) armGapTimer(req Request, q *sessionQueue) {
	if q.gapTimer != nil {
		q.gapTimer.Stop()
		q.gapTimer = nil
	}
	if len(q.pending) == 0 {
		return
	}
	q.gapTimer = time.AfterFunc(p.gapTimeout, func() {
		p.closeGap(req, q)
	})
}

// closeGap fires when nextIndex hasn't arrived within the gap timeout:
// it synthesizes a MissingResult for that index, advances past it, and
// drains whatever is now contiguous.
func (p *Pipeline) closeGap(req Request, q *sessionQueue) {
	q.mu.Lock()
	if _, ok := q.pending[q.nextIndex]; ok {
		// Arrived just as the timer fired; nothing to synthesize.
		q.mu.Unlock()
		return
	}
	missingIndex := q.nextIndex
	q.nextIndex++
	ready := p.drainReady(q)
	p.armGapTimer(req, q)
	q.mu.Unlock()

	payload, err := wsproto.Encode(wsproto.SessionTypeMissingResult, wsproto.MissingResultMsg{
		SessionID:      req.SessionID,
		UtteranceIndex: missingIndex,
		Reason:         string(domain.ReasonTimeout),
		CreatedAtMs:    nowMillis(),
	})
	if err == nil {
		ready = append([][]byte{payload}, ready...)
	}
	p.deliverAll(req, ready)
}

func (p *Pipeline) deliverAll(req Request, payloads [][]byte) {
	for _, payload := range payloads {
		p.deliver(req.SessionID, payload)
		for _, target := range req.TargetSessionIDs {
			p.deliver(target, payload)
		}
	}
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
