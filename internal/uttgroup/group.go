// Package uttgroup implements the utterance group manager (C10): when a
// room has multiple listeners with different target languages, one
// speaker utterance fans out into N jobs (one per distinct target
// language actually requested by a listener), and the group tracks
// completion so room-wide bookkeeping (e.g. audit logging of a stalled
// fan-out) can tell when every branch has resolved.
//
// Grounded on the teacher's handler/room_hub.go target-language
// deduplication in AddListener/UpdateListenerTargetLang, generalized
// from "push one language set to the AWS pipeline" into "track N jobs
// per utterance."
package uttgroup

import (
	"sync"
)

// Group tracks the per-target-language jobs spawned from one utterance.
type Group struct {
	UtteranceID string
	Jobs        map[string]string // targetLang -> jobID
	done        map[string]bool
}

// Manager owns all in-flight utterance groups for this instance.
type Manager struct {
	mu     sync.Mutex
	groups map[string]*Group
}

func New() *Manager {
	return &Manager{groups: make(map[string]*Group)}
}

// DistinctTargets dedupes a room's listener target languages, mirroring
// the teacher's GetTargetLanguages pattern (map-based set, sorted
// output not required since the caller fans out per-language anyway).
func DistinctTargets(langs []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(langs))
	for _, l := range langs {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// Start registers a new group for an utterance fanning out to targets,
// to be filled in with job IDs as CreateJob calls resolve.
func (m *Manager) Start(utteranceID string, targets []string) *Group {
	g := &Group{UtteranceID: utteranceID, Jobs: make(map[string]string), done: make(map[string]bool)}
	m.mu.Lock()
	m.groups[utteranceID] = g
	m.mu.Unlock()
	return g
}

// RecordJob associates a job with one branch of the group.
func (m *Manager) RecordJob(utteranceID, targetLang, jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[utteranceID]
	if !ok {
		return
	}
	g.Jobs[targetLang] = jobID
}

// MarkDone records that one branch finished, and reports whether the
// whole group (all known targets) is now complete.
func (m *Manager) MarkDone(utteranceID, targetLang string) (allDone bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[utteranceID]
	if !ok {
		return false
	}
	g.done[targetLang] = true
	if len(g.done) < len(g.Jobs) {
		return false
	}
	delete(m.groups, utteranceID)
	return true
}

// Get returns the group state for inspection/testing.
func (m *Manager) Get(utteranceID string) (*Group, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.groups[utteranceID]
	return g, ok
}
