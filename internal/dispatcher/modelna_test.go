package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lingua-scheduler/internal/domain"
)

func TestModelNAGate_BlocksThenExpires(t *testing.T) {
	g := NewModelNAGate(20 * time.Millisecond)
	pair := domain.DirectedLangPair{Source: "en", Target: "zh"}

	require.False(t, g.Blocked("node-1", pair))
	g.Mark("node-1", pair)
	require.True(t, g.Blocked("node-1", pair))

	time.Sleep(40 * time.Millisecond)
	require.False(t, g.Blocked("node-1", pair))
}

func TestModelNAGate_ScopedPerNodeAndPair(t *testing.T) {
	g := NewModelNAGate(time.Minute)
	pair := domain.DirectedLangPair{Source: "en", Target: "zh"}
	other := domain.DirectedLangPair{Source: "zh", Target: "en"}

	g.Mark("node-1", pair)
	require.True(t, g.Blocked("node-1", pair))
	require.False(t, g.Blocked("node-1", other))
	require.False(t, g.Blocked("node-2", pair))
}
