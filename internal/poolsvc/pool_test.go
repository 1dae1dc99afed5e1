package poolsvc

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"lingua-scheduler/internal/domain"
)

func TestPoolName_SortsAndDedupes(t *testing.T) {
	require.Equal(t, "en-ja-zh", PoolName([]string{"zh", "en", "ja", "en"}))
	require.Equal(t, "en", PoolName([]string{"en"}))
	require.Equal(t, "", PoolName(nil))
}

func TestExtractDirectedPairs(t *testing.T) {
	pairs := ExtractDirectedPairs([]string{"en", "zh"})
	keys := make([]string, len(pairs))
	for i, p := range pairs {
		keys[i] = p.Key()
	}
	sort.Strings(keys)
	require.Equal(t, []string{"en:zh", "zh:en"}, keys)
}

func TestExtractDirectedPairs_ThreeLanguages(t *testing.T) {
	pairs := ExtractDirectedPairs([]string{"en", "zh", "ja"})
	require.Len(t, pairs, 6)
	for _, p := range pairs {
		require.NotEqual(t, p.Source, p.Target)
	}
}

func TestDirectedLangPair_KeyIsNotSorted(t *testing.T) {
	p := domain.DirectedLangPair{Source: "zh", Target: "en"}
	require.Equal(t, "zh:en", p.Key())
	require.NotEqual(t, p.Key(), domain.DirectedLangPair{Source: "en", Target: "zh"}.Key())
}
