package noderegistry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"lingua-scheduler/internal/audit"
	"lingua-scheduler/internal/config"
)

func testRegistry() *Registry {
	return New(nil, config.SchedulerConfig{
		FailureWindowSize:       5,
		FailureCountThreshold:   3,
		ConsecutiveFailureLimit: 2,
	}, audit.NoopLog{})
}

func TestRecordOutcome_ConsecutiveFailuresTripDegraded(t *testing.T) {
	r := testRegistry()
	require.False(t, r.RecordOutcome("node-1", false))
	require.False(t, r.RecordOutcome("node-1", true))
	require.True(t, r.RecordOutcome("node-1", true))
}

func TestRecordOutcome_TotalFailuresTripDegraded(t *testing.T) {
	r := testRegistry()
	require.False(t, r.RecordOutcome("node-1", true))
	require.False(t, r.RecordOutcome("node-1", false))
	require.False(t, r.RecordOutcome("node-1", true))
	require.False(t, r.RecordOutcome("node-1", false))
	require.True(t, r.RecordOutcome("node-1", true))
}

func TestRecordOutcome_WindowSlides(t *testing.T) {
	r := testRegistry()
	for i := 0; i < 5; i++ {
		r.RecordOutcome("node-1", true)
	}
	r.mu.Lock()
	length := len(r.windows["node-1"])
	r.mu.Unlock()
	require.Equal(t, 5, length)
}

func TestResetWindow(t *testing.T) {
	r := testRegistry()
	r.RecordOutcome("node-1", true)
	r.ResetWindow("node-1")
	r.mu.Lock()
	_, ok := r.windows["node-1"]
	r.mu.Unlock()
	require.False(t, ok)
}
