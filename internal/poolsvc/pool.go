// Package poolsvc implements the pool service (C3): grouping nodes by
// the unordered language set they serve, and deriving the directed
// routing pairs a session's source/target languages map to.
//
// A Pool's name is the sorted, hyphen-joined set of languages its nodes
// serve ("en-zh"); a DirectedLangPair is a single "src:tgt" routing
// direction within that set. The two are intentionally different shapes
// — grounded on original_source/pool/types.rs, which keeps pool naming
// (unordered) and pair routing (directed) as distinct concepts so that a
// single bidirectional pool can answer both en->zh and zh->en requests.
package poolsvc

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"lingua-scheduler/internal/domain"
	"lingua-scheduler/internal/redisstate"
)

// PoolName computes the sorted-and-joined pool identity for a set of
// languages a node serves.
func PoolName(languages []string) string {
	uniq := map[string]struct{}{}
	for _, l := range languages {
		uniq[l] = struct{}{}
	}
	sorted := make([]string, 0, len(uniq))
	for l := range uniq {
		sorted = append(sorted, l)
	}
	sort.Strings(sorted)
	return strings.Join(sorted, "-")
}

// ExtractDirectedPairs enumerates every ordered (source, target) pair a
// node serving the given language set can route, excluding same-language
// pairs. Mirrors original_source/pool/types.rs's extract_directed_pairs.
func ExtractDirectedPairs(languages []string) []domain.DirectedLangPair {
	pairs := make([]domain.DirectedLangPair, 0, len(languages)*(len(languages)-1))
	for _, src := range languages {
		for _, tgt := range languages {
			if src == tgt {
				continue
			}
			pairs = append(pairs, domain.DirectedLangPair{Source: src, Target: tgt})
		}
	}
	return pairs
}

// Service manages pool membership in Redis.
type Service struct {
	redis *redisstate.Client
}

func New(redis *redisstate.Client) *Service {
	return &Service{redis: redis}
}

// RegisterNode adds a node to the pool its language set maps to, and
// indexes each of its directed pairs against that pool so the selector
// can go straight from "need en->zh" to "candidate pools" without
// scanning every pool.
func (s *Service) RegisterNode(ctx context.Context, node domain.Node) error {
	pool := PoolName(node.Languages)
	if err := s.redis.AddPoolMember(ctx, pool, node.ID); err != nil {
		return fmt.Errorf("register node in pool %s: %w", pool, err)
	}
	for _, pair := range ExtractDirectedPairs(node.Languages) {
		if err := s.redis.RDB.SAdd(ctx, redisstate.DirectedPairPoolKey(pair.Key()), pool).Err(); err != nil {
			return fmt.Errorf("index pair %s -> pool %s: %w", pair.Key(), pool, err)
		}
	}
	return nil
}

// DeregisterNode removes a node from its pool (on drain/offline).
func (s *Service) DeregisterNode(ctx context.Context, node domain.Node) error {
	pool := PoolName(node.Languages)
	if err := s.redis.RemovePoolMember(ctx, pool, node.ID); err != nil {
		return fmt.Errorf("deregister node from pool %s: %w", pool, err)
	}
	return nil
}

// PoolsForPair returns the candidate pools that can serve a directed
// language pair.
func (s *Service) PoolsForPair(ctx context.Context, pair domain.DirectedLangPair) ([]string, error) {
	pools, err := s.redis.RDB.SMembers(ctx, redisstate.DirectedPairPoolKey(pair.Key())).Result()
	if err != nil {
		return nil, fmt.Errorf("pools for pair %s: %w", pair.Key(), err)
	}
	return pools, nil
}

// Members lists a pool's current node membership.
func (s *Service) Members(ctx context.Context, poolName string) ([]string, error) {
	return s.redis.PoolMembers(ctx, poolName)
}
