// Package roommgr is the room manager (C11): bookkeeping for multi-party
// conference translation rooms (speakers, listeners, their language
// preferences) plus minting LiveKit access tokens that gate raw-voice
// WebRTC forwarding — the room manager is a thin authorization/forwarder,
// not a media relay; actual SFU work is LiveKit's job.
//
// Grounded on the teacher's handler/room_hub.go RoomHub/Room/Listener/
// Speaker shape, with translation-relay channels replaced by routing
// metadata (the actual relay now happens through the job
// dispatcher/result pipeline, not a direct AWS pipeline per room).
package roommgr

import (
	"fmt"
	"sync"
	"time"

	"github.com/livekit/protocol/auth"

	"lingua-scheduler/internal/uttgroup"
)

// Listener is a participant receiving translated output in TargetLang.
type Listener struct {
	ID         string
	TargetLang string
	WantsRaw   bool // requests raw (untranslated) voice alongside translation
}

// Speaker is a participant whose audio is captured and translated.
type Speaker struct {
	ID         string
	SourceLang string
}

// Room holds one conference's participants.
type Room struct {
	ID        string
	CreatedAt time.Time

	mu        sync.RWMutex
	Listeners map[string]*Listener
	Speakers  map[string]*Speaker
}

func newRoom(id string) *Room {
	return &Room{
		ID:        id,
		CreatedAt: time.Now(),
		Listeners: make(map[string]*Listener),
		Speakers:  make(map[string]*Speaker),
	}
}

// AddListener registers or updates a listener's target language.
func (r *Room) AddListener(l *Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Listeners[l.ID] = l
}

// RemoveListener drops a listener, reporting whether the room is now
// empty (caller decides whether to reap it).
func (r *Room) RemoveListener(id string) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.Listeners, id)
	return len(r.Listeners) == 0 && len(r.Speakers) == 0
}

// AddSpeaker registers or updates a speaker's source language.
func (r *Room) AddSpeaker(s *Speaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Speakers[s.ID] = s
}

// RemoveSpeaker drops a speaker.
func (r *Room) RemoveSpeaker(id string) (empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.Speakers, id)
	return len(r.Listeners) == 0 && len(r.Speakers) == 0
}

// TargetLanguages returns the distinct set of languages currently
// requested by this room's listeners.
func (r *Room) TargetLanguages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]string, 0, len(r.Listeners))
	for _, l := range r.Listeners {
		langs = append(langs, l.TargetLang)
	}
	return uttgroup.DistinctTargets(langs)
}

// ListenersForLang returns the listener IDs wanting a given target
// language, the fan-out set a finished job's result gets routed to.
func (r *Room) ListenersForLang(lang string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for id, l := range r.Listeners {
		if l.TargetLang == lang {
			ids = append(ids, id)
		}
	}
	return ids
}

// Manager owns all rooms known to this instance.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	livekitAPIKey, livekitAPISecret string
}

func New(livekitAPIKey, livekitAPISecret string) *Manager {
	return &Manager{rooms: make(map[string]*Room), livekitAPIKey: livekitAPIKey, livekitAPISecret: livekitAPISecret}
}

// GetOrCreate returns the room for id, creating it if this is the first
// participant to arrive.
func (m *Manager) GetOrCreate(roomID string) *Room {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[roomID]
	if !ok {
		r = newRoom(roomID)
		m.rooms[roomID] = r
	}
	return r
}

// Remove reaps a room once it's empty.
func (m *Manager) Remove(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms, roomID)
}

func (m *Manager) RoomCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// MintRawVoiceToken issues a LiveKit access token granting participantID
// permission to subscribe to raw (untranslated) audio in roomID, the
// authorization artifact spec's raw-voice preference mask names but does
// not itself implement transport for.
func (m *Manager) MintRawVoiceToken(roomID, participantID string, ttl time.Duration) (string, error) {
	if m.livekitAPIKey == "" {
		return "", fmt.Errorf("mint raw voice token: livekit not configured")
	}
	at := auth.NewAccessToken(m.livekitAPIKey, m.livekitAPISecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     roomID,
		CanSubscribe: boolPtr(true),
		CanPublish:   boolPtr(false),
	}
	at.SetVideoGrant(grant).
		SetIdentity(participantID).
		SetValidFor(ttl)
	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("mint raw voice token: %w", err)
	}
	return token, nil
}

func boolPtr(b bool) *bool { return &b }
