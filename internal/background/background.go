// Package background runs the periodic sweepers (C12): a DLQ reaper that
// claims stale forwarding-stream messages and retires ones past their
// delivery budget, and an observability reporter that logs a warning
// when a hot path exceeds its configured time budget (supplemented
// feature).
//
// Grounded on the teacher's internal/aws/cache.go cleanupLoop ticker
// pattern, generalized to multiple independent sweepers.
package background

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"lingua-scheduler/internal/redisstate"
)

// Sweeper is one periodic background job.
type Sweeper struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner drives a set of sweepers on their own tickers until ctx is
// cancelled.
type Runner struct {
	sweepers []Sweeper
	log      *zap.Logger
}

func NewRunner(log *zap.Logger, sweepers ...Sweeper) *Runner {
	return &Runner{sweepers: sweepers, log: log}
}

// Start launches one goroutine per sweeper.
func (r *Runner) Start(ctx context.Context) {
	for _, s := range r.sweepers {
		go r.loop(ctx, s)
	}
}

func (r *Runner) loop(ctx context.Context, s Sweeper) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				r.log.Warn("sweeper failed", zap.String("sweeper", s.Name), zap.Error(err))
			}
		}
	}
}

// DLQReaper builds the sweeper that claims stale pending stream messages
// for a given (stream, group, consumer) and moves ones past
// maxDeliveries to the dead-letter stream.
func DLQReaper(redis *redisstate.Client, stream, group, consumer string, minIdle time.Duration, maxDeliveries int64) Sweeper {
	meter := otel.Meter("lingua-scheduler/internal/background")
	claimed, _ := meter.Int64Counter("dlq_reaper.claimed",
		metric.WithDescription("forwarding-stream messages claimed by the reaper"))
	movedToDLQ, _ := meter.Int64Counter("dlq_reaper.moved_to_dlq",
		metric.WithDescription("forwarding-stream messages retired to the dead-letter stream"))

	return Sweeper{
		Name:     "dlq-reaper:" + stream,
		Interval: minIdle,
		Run: func(ctx context.Context) error {
			msgs, err := redis.ClaimStale(ctx, stream, group, consumer, minIdle, 50)
			if err != nil {
				return err
			}
			if len(msgs) > 0 {
				claimed.Add(ctx, int64(len(msgs)), metric.WithAttributes(streamAttr(stream)))
			}
			for _, msg := range msgs {
				count, err := redis.DeliveryCount(ctx, stream, group, msg.ID)
				if err != nil {
					continue
				}
				if count >= maxDeliveries {
					if err := redis.MoveToDLQ(ctx, stream, group, msg); err == nil {
						movedToDLQ.Add(ctx, 1, metric.WithAttributes(streamAttr(stream)))
					}
				}
			}
			return nil
		},
	}
}

func streamAttr(stream string) attribute.KeyValue {
	return attribute.String("stream", stream)
}

// ObsWarn wraps fn, logging a warning if it exceeds budget. No selector
// or dispatcher path is wrapped with it.
func ObsWarn(log *zap.Logger, name string, budget time.Duration, fn func() error) error {
	start := time.Now()
	err := fn()
	if elapsed := time.Since(start); elapsed > budget {
		log.Warn("path exceeded budget", zap.String("path", name), zap.Duration("elapsed", elapsed), zap.Duration("budget", budget))
	}
	return err
}
