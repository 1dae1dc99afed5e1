package dispatcher

import (
	"sync"
	"time"

	"lingua-scheduler/internal/domain"
)

// ModelNAGate records, per (node, pair), that the node reported
// model_not_available and keeps that report in force for the debounce
// window; Blocked answers whether it still is. The selector and the
// dispatcher do not consult the gate, so it does not by itself stop
// dispatch to that node.
//
// Grounded on original_source/model_not_available/model_not_available.rs.
type ModelNAGate struct {
	mu       sync.Mutex
	debounce time.Duration
	until    map[string]time.Time // key: nodeID + "|" + pair key
}

func NewModelNAGate(debounce time.Duration) *ModelNAGate {
	return &ModelNAGate{debounce: debounce, until: make(map[string]time.Time)}
}

func gateKey(nodeID string, pair domain.DirectedLangPair) string {
	return nodeID + "|" + pair.Key()
}

// Mark records that nodeID just rejected pair as model-not-available.
func (g *ModelNAGate) Mark(nodeID string, pair domain.DirectedLangPair) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.until[gateKey(nodeID, pair)] = time.Now().Add(g.debounce)
}

// Blocked reports whether nodeID is currently debounced for pair.
func (g *ModelNAGate) Blocked(nodeID string, pair domain.DirectedLangPair) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	until, ok := g.until[gateKey(nodeID, pair)]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(g.until, gateKey(nodeID, pair))
		return false
	}
	return true
}
