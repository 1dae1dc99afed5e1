// Package selector implements the pool-then-node selection (C4): given a
// directed language pair and optional preferred/excluded node hints, pick
// the best candidate node among every pool serving the pair.
//
// Grounded on original_source/core/dispatcher/job_creation/
// phase2_node_selection.rs's select_node_for_phase2: try the preferred
// node first if it's still selectable, otherwise fall back to the
// preferred pool, and failing that rank every node across every pool
// serving the pair and take the least-loaded survivor.
package selector

import (
	"context"
	"fmt"
	"sort"

	"lingua-scheduler/internal/apperr"
	"lingua-scheduler/internal/domain"
	"lingua-scheduler/internal/noderegistry"
	"lingua-scheduler/internal/poolsvc"
)

// DefaultResourceThreshold is the per-gauge ceiling above which a node
// is excluded from selection regardless of status, used when New is
// called with threshold <= 0.
const DefaultResourceThreshold = 0.85

// Hints narrow node selection — all optional.
type Hints struct {
	PreferredNodeID string
	ExcludeNodeID   string
	PreferredPool   string
	ServiceType     domain.ServiceType // required installed service, defaults to NMT
	Public          bool               // whether the requesting job is public
}

type Selector struct {
	pools     *poolsvc.Service
	nodes     *noderegistry.Registry
	threshold float64
}

func New(pools *poolsvc.Service, nodes *noderegistry.Registry, threshold float64) *Selector {
	if threshold <= 0 {
		threshold = DefaultResourceThreshold
	}
	return &Selector{pools: pools, nodes: nodes, threshold: threshold}
}

// Select returns the best selectable node for the given directed
// language pair, honoring Hints where possible. On total failure the
// returned error wraps apperr.ErrNoAvailableNode and the returned
// breakdown names exactly why every candidate was excluded.
func (s *Selector) Select(ctx context.Context, pair domain.DirectedLangPair, hints Hints) (domain.Node, *domain.NoAvailableNodeBreakdown, error) {
	serviceType := hints.ServiceType
	if serviceType == "" {
		serviceType = domain.ServiceNMT
	}

	if hints.PreferredNodeID != "" && hints.PreferredNodeID != hints.ExcludeNodeID {
		if node, err := s.nodes.Snapshot(ctx, hints.PreferredNodeID); err == nil {
			if _, ok := s.selectable(node, serviceType, hints.Public); ok {
				return node, nil, nil
			}
		}
	}

	candidateIDs := map[string]struct{}{}
	var poolOrder []string
	addPool := func(pool string) {
		members, err := s.pools.Members(ctx, pool)
		if err != nil {
			return
		}
		for _, id := range members {
			if id == hints.ExcludeNodeID {
				continue
			}
			if _, seen := candidateIDs[id]; !seen {
				candidateIDs[id] = struct{}{}
				poolOrder = append(poolOrder, id)
			}
		}
	}

	preferred := map[string]struct{}{}
	if hints.PreferredPool != "" {
		addPool(hints.PreferredPool)
		for id := range candidateIDs {
			preferred[id] = struct{}{}
		}
	}
	pools, err := s.pools.PoolsForPair(ctx, pair)
	if err != nil {
		return domain.Node{}, nil, fmt.Errorf("select for %s: %w", pair.Key(), err)
	}
	for _, pool := range pools {
		addPool(pool)
	}

	breakdown := &domain.NoAvailableNodeBreakdown{Pair: pair.Key()}
	var survivors []domain.Node
	for _, id := range poolOrder {
		node, err := s.nodes.Snapshot(ctx, id)
		if err != nil {
			breakdown.Record(domain.ReasonOffline)
			continue
		}
		if reason, ok := s.selectable(node, serviceType, hints.Public); !ok {
			breakdown.Record(reason)
			continue
		}
		survivors = append(survivors, node)
	}

	if len(survivors) == 0 {
		return domain.Node{}, breakdown, fmt.Errorf("pair %s: %w", pair.Key(), apperr.ErrNoAvailableNode)
	}

	// Survivors from the preferred pool, if any, outrank every other pool's.
	var inPreferred []domain.Node
	for _, n := range survivors {
		if _, ok := preferred[n.ID]; ok {
			inPreferred = append(inPreferred, n)
		}
	}
	if len(inPreferred) > 0 {
		survivors = inPreferred
	}

	// Rank by ascending effective load, node-id tiebreak.
	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].EffectiveLoad() != survivors[j].EffectiveLoad() {
			return survivors[i].EffectiveLoad() < survivors[j].EffectiveLoad()
		}
		return survivors[i].ID < survivors[j].ID
	})
	return survivors[0], nil, nil
}

// selectable implements the §3.2 selectability invariant: status Ready,
// online, GPU present, every required
// service type Ready, effective load under max_concurrency, every
// resource gauge under threshold, and public-pool membership honored.
func (s *Selector) selectable(n domain.Node, serviceType domain.ServiceType, jobPublic bool) (domain.NoAvailableNodeReason, bool) {
	return selectableAt(n, serviceType, jobPublic, s.threshold)
}

// selectableAt is the threshold-parameterized invariant check, factored
// out so tests can exercise it without constructing a full Selector.
func selectableAt(n domain.Node, serviceType domain.ServiceType, jobPublic bool, threshold float64) (domain.NoAvailableNodeReason, bool) {
	if !n.Online {
		return domain.ReasonOffline, false
	}
	if n.Status != domain.NodeReady {
		return domain.ReasonStatusNotReady, false
	}
	if !n.GPUPresent {
		return domain.ReasonGPUUnavailable, false
	}
	if !n.HasServiceReady(serviceType) {
		return domain.ReasonModelNotAvailable, false
	}
	if n.EffectiveLoad() >= n.Capacity {
		return domain.ReasonCapacityExceeded, false
	}
	if n.ResourceThresholdExceeded(threshold) {
		return domain.ReasonResourceThresholdExceeded, false
	}
	if jobPublic && !n.AcceptPublic {
		return domain.ReasonNotInPublicPool, false
	}
	return "", true
}
