package connreg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_AddGetRemove(t *testing.T) {
	r := New()
	require.Equal(t, 0, r.Len())

	c := &Conn{}
	r.Add("session-1", c)
	require.Equal(t, 1, r.Len())

	got, ok := r.Get("session-1")
	require.True(t, ok)
	require.Same(t, c, got)

	r.Remove("session-1")
	_, ok = r.Get("session-1")
	require.False(t, ok)
	require.Equal(t, 0, r.Len())
}
