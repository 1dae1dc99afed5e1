package resultpipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lingua-scheduler/internal/domain"
)

func TestRerunPolicy_AllowsOneRerunThenGivesUp(t *testing.T) {
	p := NewRerunPolicy(1, time.Second, true)
	require.True(t, p.ShouldRerun("utt-1", true, true))
	require.False(t, p.ShouldRerun("utt-1", true, true))
}

func TestRerunPolicy_NonConferenceIgnoresStrictMode(t *testing.T) {
	p := NewRerunPolicy(1, time.Second, true)
	require.False(t, p.ShouldRerun("utt-1", true, false))
}

func TestRerunPolicy_NonEmptyNeverReruns(t *testing.T) {
	p := NewRerunPolicy(3, time.Second, true)
	require.False(t, p.ShouldRerun("utt-1", false, true))
}

// recorder is a concurrency-safe Deliver sink for assertions.
type recorder struct {
	mu       sync.Mutex
	sessions []string
	payloads [][]byte
}

func (r *recorder) deliver(sessionID string, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions = append(r.sessions, sessionID)
	r.payloads = append(r.payloads, payload)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func TestPipeline_DeliversNonEmptyResult(t *testing.T) {
	rec := &recorder{}
	pipe := New(NewRerunPolicy(1, time.Second, true), rec.deliver)

	req := Request{SessionID: "session-1"}
	rerun, err := pipe.HandleResult(context.Background(), req, domain.TranslationResult{
		JobID: "job-1", UtteranceID: "utt-1", UtteranceIndex: 0, TranslatedText: "hola",
	})
	require.NoError(t, err)
	require.False(t, rerun)
	require.Equal(t, []string{"session-1"}, rec.sessions)
}

func TestPipeline_EmptyResultRequestsRerunWithoutDelivering(t *testing.T) {
	rec := &recorder{}
	pipe := New(NewRerunPolicy(1, time.Second, true), rec.deliver)

	req := Request{SessionID: "session-1", IsConference: true}
	rerun, err := pipe.HandleResult(context.Background(), req, domain.TranslationResult{
		JobID: "job-1", UtteranceID: "utt-1", UtteranceIndex: 0,
	})
	require.NoError(t, err)
	require.True(t, rerun)
	require.Zero(t, rec.count())
}

func TestPipeline_CompletedNoTextSynthesizesMissingResult(t *testing.T) {
	rec := &recorder{}
	pipe := New(NewRerunPolicy(0, time.Second, false), rec.deliver)

	req := Request{SessionID: "session-1"}
	rerun, err := pipe.HandleResult(context.Background(), req, domain.TranslationResult{
		JobID: "job-1", UtteranceID: "utt-1", UtteranceIndex: 0,
	})
	require.NoError(t, err)
	require.False(t, rerun)
	require.Equal(t, 1, rec.count())
}

func TestPipeline_DedupSuppressesRepeatJobResult(t *testing.T) {
	rec := &recorder{}
	pipe := New(NewRerunPolicy(1, time.Second, true), rec.deliver)

	req := Request{SessionID: "session-1"}
	result := domain.TranslationResult{JobID: "job-1", UtteranceID: "utt-1", UtteranceIndex: 0, TranslatedText: "hola"}

	_, err := pipe.HandleResult(context.Background(), req, result)
	require.NoError(t, err)
	_, err = pipe.HandleResult(context.Background(), req, result)
	require.NoError(t, err)

	require.Equal(t, 1, rec.count())
}

func TestPipeline_OutOfOrderResultsDeliverInIndexOrder(t *testing.T) {
	rec := &recorder{}
	pipe := New(NewRerunPolicy(1, time.Second, true), rec.deliver)
	req := Request{SessionID: "session-1"}

	_, err := pipe.HandleResult(context.Background(), req, domain.TranslationResult{
		JobID: "job-2", UtteranceID: "utt-2", UtteranceIndex: 1, TranslatedText: "b",
	})
	require.NoError(t, err)
	require.Zero(t, rec.count(), "index 1 must wait behind missing index 0")

	_, err = pipe.HandleResult(context.Background(), req, domain.TranslationResult{
		JobID: "job-1", UtteranceID: "utt-1", UtteranceIndex: 0, TranslatedText: "a",
	})
	require.NoError(t, err)
	require.Equal(t, 2, rec.count(), "arrival of index 0 must drain index 1 too")
}

func TestPipeline_GapTimeoutSynthesizesMissingResultAndUnblocksQueue(t *testing.T) {
	rec := &recorder{}
	pipe := New(NewRerunPolicy(1, time.Second, true), rec.deliver).WithTimings(20*time.Millisecond, time.Second)
	req := Request{SessionID: "session-1"}

	_, err := pipe.HandleResult(context.Background(), req, domain.TranslationResult{
		JobID: "job-2", UtteranceID: "utt-2", UtteranceIndex: 1, TranslatedText: "b",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return rec.count() == 2
	}, time.Second, 5*time.Millisecond, "gap timeout should synthesize the missing index-0 result and drain index 1")
}

func TestPipeline_RoomFanOutDeliversToAllTargets(t *testing.T) {
	rec := &recorder{}
	pipe := New(NewRerunPolicy(1, time.Second, true), rec.deliver)

	req := Request{SessionID: "session-1", TargetSessionIDs: []string{"session-2", "session-3"}}
	_, err := pipe.HandleResult(context.Background(), req, domain.TranslationResult{
		JobID: "job-1", UtteranceID: "utt-1", UtteranceIndex: 0, TranslatedText: "hola",
	})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"session-1", "session-2", "session-3"}, rec.sessions)
}
