package uttgroup

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDistinctTargets(t *testing.T) {
	require.Equal(t, []string{"en", "zh"}, DistinctTargets([]string{"en", "zh", "en"}))
}

func TestManager_MarkDone_AllBranchesRequired(t *testing.T) {
	m := New()
	m.Start("utt-1", []string{"en", "zh"})
	m.RecordJob("utt-1", "en", "job-en")
	m.RecordJob("utt-1", "zh", "job-zh")

	require.False(t, m.MarkDone("utt-1", "en"))
	require.True(t, m.MarkDone("utt-1", "zh"))

	_, ok := m.Get("utt-1")
	require.False(t, ok)
}

func TestManager_UnknownUtteranceIsNoop(t *testing.T) {
	m := New()
	require.False(t, m.MarkDone("missing", "en"))
}
