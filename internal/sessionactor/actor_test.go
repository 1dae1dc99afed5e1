package sessionactor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lingua-scheduler/internal/domain"
)

func newTestActor(t *testing.T, cfg Config) (*Actor, *[]domain.Utterance, *sync.Mutex) {
	t.Helper()
	var mu sync.Mutex
	var finalized []domain.Utterance
	finalize := func(ctx context.Context, utt domain.Utterance, audio []byte) {
		mu.Lock()
		defer mu.Unlock()
		finalized = append(finalized, utt)
	}
	send := func(payload []byte) error { return nil }
	a := New(domain.SessionState{ID: "s1", SourceLanguage: "en"}, cfg, finalize, send, zap.NewNop())
	return a, &finalized, &mu
}

func TestActor_ManualCutFinalizesImmediately(t *testing.T) {
	a, finalized, mu := newTestActor(t, Config{PauseWindow: time.Hour, MaxDuration: time.Hour, HighWater: 16})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	a.Submit(Event{Kind: EventAudioChunk, Audio: []byte{1, 2, 3}})
	a.Submit(Event{Kind: EventManualCut})
	a.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *finalized, 1)
	require.Equal(t, domain.TriggerManualCut, (*finalized)[0].Trigger)
}

func TestActor_PauseTriggersFinalize(t *testing.T) {
	a, finalized, mu := newTestActor(t, Config{PauseWindow: 20 * time.Millisecond, MaxDuration: time.Hour, HighWater: 16})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	a.Submit(Event{Kind: EventAudioChunk, Audio: []byte{1, 2, 3}})
	time.Sleep(60 * time.Millisecond)
	a.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *finalized, 1)
	require.Equal(t, domain.TriggerPause, (*finalized)[0].Trigger)
}

func TestActor_CloseWithNoPendingAudioFinalizesNothing(t *testing.T) {
	a, finalized, mu := newTestActor(t, Config{PauseWindow: time.Hour, MaxDuration: time.Hour, HighWater: 16})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	a.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *finalized, 0)
}

func TestEventKind_Priority(t *testing.T) {
	require.Less(t, EventManualCut.priority(), EventAudioChunk.priority())
	require.Less(t, EventClose.priority(), EventResult.priority())
}

func TestActor_ManualCutUsesManualPaddingKnobs(t *testing.T) {
	a, finalized, mu := newTestActor(t, Config{
		PauseWindow: time.Hour, MaxDuration: time.Hour, HighWater: 16,
		PaddingAutoMs: 220, HangoverAutoMs: 150, PaddingManualMs: 280, HangoverManualMs: 200,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	a.Submit(Event{Kind: EventAudioChunk, Audio: []byte{1, 2, 3}})
	a.Submit(Event{Kind: EventManualCut})
	a.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *finalized, 1)
	utt := (*finalized)[0]
	require.True(t, utt.IsManualCut)
	require.False(t, utt.IsPauseTriggered)
	require.Equal(t, 280, utt.PaddingMs)
	require.Equal(t, 200, utt.HangoverMs)
}

func TestActor_PauseUsesAutoPaddingKnobs(t *testing.T) {
	a, finalized, mu := newTestActor(t, Config{
		PauseWindow: 20 * time.Millisecond, MaxDuration: time.Hour, HighWater: 16,
		PaddingAutoMs: 220, HangoverAutoMs: 150, PaddingManualMs: 280, HangoverManualMs: 200,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	a.Submit(Event{Kind: EventAudioChunk, Audio: []byte{1, 2, 3}})
	time.Sleep(60 * time.Millisecond)
	a.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *finalized, 1)
	utt := (*finalized)[0]
	require.True(t, utt.IsPauseTriggered)
	require.Equal(t, 220, utt.PaddingMs)
	require.Equal(t, 150, utt.HangoverMs)
}

func TestActor_ShortAutoSegmentMergesInsteadOfFinalizing(t *testing.T) {
	a, finalized, mu := newTestActor(t, Config{
		PauseWindow: 20 * time.Millisecond, MaxDuration: time.Hour, HighWater: 16,
		ShortMergeThresholdMs: 10_000, // comfortably longer than the pause window below
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	a.Submit(Event{Kind: EventAudioChunk, Audio: []byte{1, 2, 3}})
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	require.Len(t, *finalized, 0, "a short pause-triggered segment must be held, not finalized")
	mu.Unlock()

	// A manual cut always flushes, even mid-merge.
	a.Submit(Event{Kind: EventManualCut})
	a.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *finalized, 1)
	require.Positive(t, (*finalized)[0].MergedCount)
}

func TestActor_RestartTimerResetsWithoutFinalizing(t *testing.T) {
	a, finalized, mu := newTestActor(t, Config{PauseWindow: 40 * time.Millisecond, MaxDuration: time.Hour, HighWater: 16})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	a.Submit(Event{Kind: EventAudioChunk, Audio: []byte{1, 2, 3}})
	time.Sleep(25 * time.Millisecond)
	a.Submit(Event{Kind: EventRestartTimer})
	time.Sleep(25 * time.Millisecond)

	mu.Lock()
	require.Len(t, *finalized, 0, "restart_timer should have pushed the pause deadline out")
	mu.Unlock()

	a.Close()
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, *finalized, 1)
}

func TestActor_CurrentUtteranceIndexAdvancesPerFinalizedUtterance(t *testing.T) {
	a, _, _ := newTestActor(t, Config{PauseWindow: time.Hour, MaxDuration: time.Hour, HighWater: 16})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)

	require.Equal(t, 0, a.CurrentUtteranceIndex())

	a.Submit(Event{Kind: EventAudioChunk, Audio: []byte{1}})
	a.Submit(Event{Kind: EventManualCut})
	a.Submit(Event{Kind: EventAudioChunk, Audio: []byte{2}})
	a.Submit(Event{Kind: EventManualCut})
	a.Close()

	require.Equal(t, 2, a.CurrentUtteranceIndex())
}
