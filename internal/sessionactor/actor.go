// Package sessionactor implements the per-session actor (C7): one
// goroutine per connected speaker that owns all mutable state for that
// session (no locks needed inside the loop), ingests audio chunks,
// segments them into utterances on pause/max-duration/manual-cut
// triggers, stabilizes the resulting edges (padding/hangover, short-
// segment merging), and forwards results back to the client.
//
// The event-loop shape is grounded on the teacher's
// handler/audio.go receiveLoop + *Worker goroutine fan-out, collapsed
// into a single select loop per actor instead of several independently
// racing goroutines, per SPEC_FULL.md's "Session Actor is the
// archetypal pattern" note.
package sessionactor

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"lingua-scheduler/internal/domain"
)

// EventKind discriminates the actor's inbox.
type EventKind int

const (
	EventAudioChunk EventKind = iota
	EventManualCut
	EventResult
	EventClose
	// EventRestartTimer and EventTtsPlayEnded both reset last_chunk_at
	// without finalizing anything, so audio that resumes right after a
	// TTS playback gap isn't misclassified as pause-triggered.
	EventRestartTimer
	EventTtsPlayEnded
)

// priority returns a smaller number for higher-priority events.
// Manual-cut/close signals must never be dropped under backpressure;
// results, audio chunks and timer-restart/TTS-ended events are droppable.
func (k EventKind) priority() int {
	switch k {
	case EventManualCut, EventClose:
		return 0
	case EventResult:
		return 1
	default:
		return 2
	}
}

// Event is one inbox item. Payload carries the already wire-encoded
// message for EventResult (encoding is resultpipeline's concern, not the
// actor's — the actor only owns ordering and backpressure).
type Event struct {
	Kind    EventKind
	Audio   []byte
	Payload []byte
}

// FinalizeFunc is invoked whenever the actor finalizes an utterance; the
// caller (dispatcher wiring) turns the utterance into a job.
type FinalizeFunc func(ctx context.Context, utt domain.Utterance, audio []byte)

// SendFunc delivers an outbound wire message to the client.
type SendFunc func(payload []byte) error

// Actor owns one session's segmentation state machine.
type Actor struct {
	session domain.SessionState
	inbox   chan Event
	done    chan struct{}

	pauseWindow time.Duration
	maxDuration time.Duration
	highWater   int

	paddingAutoMs       int
	hangoverAutoMs      int
	paddingManualMs     int
	hangoverManualMs    int
	shortMergeThreshold time.Duration

	finalize FinalizeFunc
	send     SendFunc
	log      *zap.Logger

	buffer      []byte
	mergeBuffer []byte
	mergedCount int
	startedAt   time.Time // start of the current (possibly merged) segment
	nextIndex   int64     // next utterance_index to assign, monotonic per session
}

// Config bundles the segmentation and edge-stabilization knobs (from
// config.SchedulerConfig).
type Config struct {
	PauseWindow time.Duration
	MaxDuration time.Duration
	HighWater   int

	// PaddingAutoMs/HangoverAutoMs apply when an utterance ends on a
	// pause or max-duration timeout; PaddingManualMs/HangoverManualMs
	// apply on an explicit manual cut. Defaults (config.Load):
	// 220/150 auto, 280/200 manual.
	PaddingAutoMs    int
	HangoverAutoMs   int
	PaddingManualMs  int
	HangoverManualMs int

	// ShortMergeThresholdMs: a segment shorter than this is held and
	// merged with the next one instead of being dispatched on its own.
	// Default 400ms.
	ShortMergeThresholdMs int
}

func New(session domain.SessionState, cfg Config, finalize FinalizeFunc, send SendFunc, log *zap.Logger) *Actor {
	return &Actor{
		session:             session,
		inbox:                make(chan Event, cfg.HighWater),
		done:                 make(chan struct{}),
		pauseWindow:          cfg.PauseWindow,
		maxDuration:          cfg.MaxDuration,
		highWater:            cfg.HighWater,
		paddingAutoMs:        cfg.PaddingAutoMs,
		hangoverAutoMs:       cfg.HangoverAutoMs,
		paddingManualMs:      cfg.PaddingManualMs,
		hangoverManualMs:     cfg.HangoverManualMs,
		shortMergeThreshold:  time.Duration(cfg.ShortMergeThresholdMs) * time.Millisecond,
		finalize:             finalize,
		send:                 send,
		log:                  log,
	}
}

// Submit enqueues an event, applying backpressure: once the inbox is at
// its high-water mark, only non-droppable events (manual cut, close) are
// still guaranteed delivery — droppable events are discarded with a log
// line rather than blocking the caller's goroutine.
func (a *Actor) Submit(ev Event) {
	select {
	case a.inbox <- ev:
		return
	default:
	}

	if ev.Kind.priority() == 0 {
		// Never drop finalize/close: block briefly, the actor loop drains
		// fast enough that this should clear immediately in practice.
		a.inbox <- ev
		return
	}

	a.log.Warn("session actor inbox full, dropping event",
		zap.String("session_id", a.session.ID),
		zap.Int("kind", int(ev.Kind)))
}

// Close signals the actor loop to finalize any pending utterance and
// stop.
func (a *Actor) Close() {
	a.Submit(Event{Kind: EventClose})
	<-a.done
}

// CurrentUtteranceIndex reports the next utterance_index this actor will
// assign, published so SessionClose cleanup can record where the
// session's sequence actually stopped.
func (a *Actor) CurrentUtteranceIndex() int {
	return int(atomic.LoadInt64(&a.nextIndex))
}

// Run is the actor's event loop; call it in its own goroutine.
func (a *Actor) Run(ctx context.Context) {
	defer close(a.done)

	var pauseTimer *time.Timer
	var maxTimer *time.Timer
	resetPauseTimer := func() {
		if pauseTimer != nil {
			pauseTimer.Stop()
		}
		pauseTimer = time.NewTimer(a.pauseWindow)
	}
	stopTimers := func() {
		if pauseTimer != nil {
			pauseTimer.Stop()
			pauseTimer = nil
		}
		if maxTimer != nil {
			maxTimer.Stop()
			maxTimer = nil
		}
	}

	pauseC := func() <-chan time.Time {
		if pauseTimer == nil {
			return nil
		}
		return pauseTimer.C
	}
	maxC := func() <-chan time.Time {
		if maxTimer == nil {
			return nil
		}
		return maxTimer.C
	}

	for {
		select {
		case <-ctx.Done():
			a.finalizeIfPending(ctx, domain.TriggerSessionEnd)
			stopTimers()
			return

		case ev := <-a.inbox:
			switch ev.Kind {
			case EventClose:
				a.finalizeIfPending(ctx, domain.TriggerSessionEnd)
				stopTimers()
				return

			case EventManualCut:
				a.finalizeIfPending(ctx, domain.TriggerManualCut)
				stopTimers()

			case EventAudioChunk:
				if len(a.buffer) == 0 && len(a.mergeBuffer) == 0 {
					a.startedAt = time.Now()
					maxTimer = time.NewTimer(a.maxDuration)
				}
				a.buffer = append(a.buffer, ev.Audio...)
				resetPauseTimer()

			case EventRestartTimer, EventTtsPlayEnded:
				// A TTS playback gap shouldn't be misread as the speaker
				// pausing: restart the pause window without touching any
				// buffered audio.
				if pauseTimer != nil {
					resetPauseTimer()
				}

			case EventResult:
				a.deliverResult(ev.Payload)
			}

		case <-pauseC():
			a.finalizeIfPending(ctx, domain.TriggerPause)
			stopTimers()

		case <-maxC():
			a.finalizeIfPending(ctx, domain.TriggerMaxDuration)
			stopTimers()
		}
	}
}

// paddingFor returns the (padding_ms, hangover_ms) pair for the cause
// that ended the utterance: manual cuts get the wider manual knobs,
// everything else (pause, max-duration timeout) gets the auto knobs.
func (a *Actor) paddingFor(trigger domain.UtteranceTrigger) (padding, hangover int) {
	if trigger == domain.TriggerManualCut {
		return a.paddingManualMs, a.hangoverManualMs
	}
	return a.paddingAutoMs, a.hangoverAutoMs
}

func (a *Actor) finalizeIfPending(ctx context.Context, trigger domain.UtteranceTrigger) {
	if len(a.buffer) == 0 && len(a.mergeBuffer) == 0 {
		return
	}

	combined := append(a.mergeBuffer, a.buffer...)
	durationMs := time.Since(a.startedAt)

	// Auto-triggered segments shorter than the merge threshold are held
	// rather than dispatched on their own — session_end always flushes,
	// since there's no "next utterance" left to merge with.
	if trigger.IsAuto() && durationMs > 0 && durationMs < a.shortMergeThreshold {
		a.mergeBuffer = combined
		a.buffer = nil
		a.mergedCount++
		return
	}

	a.buffer = nil
	a.mergeBuffer = nil

	padding, hangover := a.paddingFor(trigger)
	idx := int(atomic.AddInt64(&a.nextIndex, 1) - 1)

	utt := domain.Utterance{
		SessionID:          a.session.ID,
		SourceLang:         a.session.SourceLanguage,
		TargetLangs:        a.session.TargetLangs,
		StartedAt:          a.startedAt,
		FinalizedAt:        time.Now(),
		Trigger:            trigger,
		UtteranceIndex:     idx,
		IsManualCut:        trigger == domain.TriggerManualCut,
		IsPauseTriggered:   trigger == domain.TriggerPause,
		IsTimeoutTriggered: trigger == domain.TriggerMaxDuration,
		PaddingMs:          padding,
		HangoverMs:         hangover,
		MergedCount:        a.mergedCount,
	}
	a.mergedCount = 0
	a.finalize(ctx, utt, combined)
}

func (a *Actor) deliverResult(payload []byte) {
	if err := a.send(payload); err != nil {
		a.log.Warn("session actor failed to deliver result",
			zap.String("session_id", a.session.ID), zap.Error(err))
	}
}
