package background

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestObsWarn_ReturnsUnderlyingError(t *testing.T) {
	wantErr := errors.New("boom")
	err := ObsWarn(zap.NewNop(), "test-path", time.Hour, func() error {
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
}

func TestObsWarn_LogsWhenOverBudget(t *testing.T) {
	core, logs := newObservedCore()
	log := zap.New(core)

	err := ObsWarn(log, "slow-path", time.Millisecond, func() error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
}

func TestRunner_RunsSweeperOnTicker(t *testing.T) {
	calls := make(chan struct{}, 8)
	s := Sweeper{
		Name:     "noop",
		Interval: time.Millisecond,
		Run: func(ctx context.Context) error {
			select {
			case calls <- struct{}{}:
			default:
			}
			return nil
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(zap.NewNop(), s)
	r.Start(ctx)

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-calls:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("sweeper never ran")
	}
}
