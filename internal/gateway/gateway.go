// Package gateway wires the scheduler's components together behind the
// two WebSocket endpoints (/ws/session, /ws/node): it owns the
// instance-local registries (connreg, the live sessionactor.Actor set)
// and the handler functions the fiber routes in internal/server call
// into.
//
// Grounded on the teacher's handler/audio.go HandleWebSocket (the
// handshake-then-worker-loop shape) and handler/room_hub.go (per-room
// fan-out), generalized from "drive one AWS pipeline" to "dispatch jobs
// through the scheduler core."
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lingua-scheduler/internal/config"
	"lingua-scheduler/internal/connreg"
	"lingua-scheduler/internal/dispatcher"
	"lingua-scheduler/internal/noderegistry"
	"lingua-scheduler/internal/redisstate"
	"lingua-scheduler/internal/resultpipeline"
	"lingua-scheduler/internal/roommgr"
	"lingua-scheduler/internal/routedsend"
	"lingua-scheduler/internal/selector"
	"lingua-scheduler/internal/sessionactor"
	"lingua-scheduler/internal/uttgroup"
)

// Gateway bundles every component a WebSocket connection needs to touch.
type Gateway struct {
	InstanceID string
	Cfg        *config.Config
	Log        *zap.Logger

	Redis      *redisstate.Client
	Nodes      *noderegistry.Registry
	Dispatcher *dispatcher.Dispatcher
	Results    *resultpipeline.Pipeline
	Rooms      *roommgr.Manager
	Groups     *uttgroup.Manager
	ModelNA    *dispatcher.ModelNAGate

	SessionConns *connreg.Registry
	NodeConns    *connreg.Registry
	Router       *routedsend.Router

	mu      sync.Mutex
	actors  map[string]*sessionactor.Actor
	jobMeta map[string]jobMeta // jobID -> routing info, needed when a job_result arrives
}

type jobMeta struct {
	SessionID        string
	UtteranceID      string
	UtteranceIndex   int
	TargetSessionIDs []string
	Public           bool
	IsConference     bool
	NodeID           string
	Attempt          int
}

// New constructs a Gateway. Selector/dispatcher/etc are built by the
// caller (cmd/scheduler/main.go) and passed in fully wired.
func New(instanceID string, cfg *config.Config, log *zap.Logger, redis *redisstate.Client,
	nodes *noderegistry.Registry, disp *dispatcher.Dispatcher, results *resultpipeline.Pipeline,
	rooms *roommgr.Manager, groups *uttgroup.Manager, modelNA *dispatcher.ModelNAGate) *Gateway {

	g := &Gateway{
		InstanceID:   instanceID,
		Cfg:          cfg,
		Log:          log,
		Redis:        redis,
		Nodes:        nodes,
		Dispatcher:   disp,
		Results:      results,
		Rooms:        rooms,
		Groups:       groups,
		ModelNA:      modelNA,
		SessionConns: connreg.New(),
		NodeConns:    connreg.New(),
		actors:       make(map[string]*sessionactor.Actor),
		jobMeta:      make(map[string]jobMeta),
	}
	g.Router = routedsend.New(instanceID, redis, g.SessionConns, g.resolveOwner)
	return g
}

// resolveOwner looks up which instance currently owns a session or node
// connection, via the owner key claimOwnership writes for it.
func (g *Gateway) resolveOwner(ctx context.Context, id string) (string, error) {
	owner, err := g.Redis.RDB.Get(ctx, ownerKey(id)).Result()
	if err != nil {
		return "", fmt.Errorf("resolve owner for %s: %w", id, err)
	}
	return owner, nil
}

func ownerKey(id string) string {
	return "owner:{" + id + "}"
}

// claimOwnership records that this instance owns id (a session or node)
// for the given TTL, refreshed on every heartbeat/audio chunk.
func (g *Gateway) claimOwnership(ctx context.Context, id string, ttl time.Duration) error {
	return g.Redis.RDB.Set(ctx, ownerKey(id), g.InstanceID, ttl).Err()
}

func (g *Gateway) registerActor(sessionID string, a *sessionactor.Actor) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.actors[sessionID] = a
}

func (g *Gateway) unregisterActor(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.actors, sessionID)
}

func (g *Gateway) getActor(sessionID string) (*sessionactor.Actor, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.actors[sessionID]
	return a, ok
}

func (g *Gateway) rememberJob(jobID string, meta jobMeta) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.jobMeta[jobID] = meta
}

func (g *Gateway) takeJobMeta(jobID string) (jobMeta, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.jobMeta[jobID]
	if ok {
		delete(g.jobMeta, jobID)
	}
	return m, ok
}

func newRequestID(sessionID, utteranceID, targetLang string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(sessionID+"|"+utteranceID+"|"+targetLang)).String()
}
