package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"lingua-scheduler/internal/connreg"
	"lingua-scheduler/internal/domain"
	"lingua-scheduler/internal/poolsvc"
	"lingua-scheduler/internal/resultpipeline"
	"lingua-scheduler/internal/sessionactor"
	"lingua-scheduler/internal/wsproto"
)

// HandleNode is the fiber websocket.New handler for /ws/node: it
// performs the register handshake, tracks heartbeats, and processes
// job_accept/job_reject/job_result/model_not_available messages for the
// lifetime of the connection.
func (g *Gateway) HandleNode(c *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			g.Log.Error("node handler panic recovered", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg, err := g.readNodeRegister(c)
	if err != nil {
		g.Log.Warn("node handshake failed", zap.Error(err))
		return
	}

	node := domain.Node{
		ID:            reg.NodeID,
		InstanceID:    g.InstanceID,
		Status:        domain.NodeReady,
		Online:        true,
		GPUPresent:    reg.GPUPresent,
		AcceptPublic:  reg.AcceptPublic,
		Services:      installedServices(reg.Services),
		Capacity:      reg.Capacity,
		Languages:     reg.Languages,
		ASRLangs:      reg.Languages,
		TTSLangs:      reg.Languages,
		SemanticLangs: reg.Languages,
		LastHeartbeat: time.Now(),
		RegisteredAt:  time.Now(),
	}

	conn := &connreg.Conn{WS: c}
	g.NodeConns.Add(node.ID, conn)
	defer g.NodeConns.Remove(node.ID)

	if err := g.claimOwnership(ctx, node.ID, g.Cfg.Scheduler.PresenceTTL*4); err != nil {
		g.Log.Warn("claim node ownership failed", zap.Error(err))
	}
	if err := g.Nodes.Heartbeat(ctx, node); err != nil {
		g.Log.Warn("initial node heartbeat failed", zap.Error(err))
	}

	pools := poolsvc.New(g.Redis)
	if err := pools.RegisterNode(ctx, node); err != nil {
		g.Log.Warn("register node in pool failed", zap.String("node_id", node.ID), zap.Error(err))
	}
	defer func() {
		_ = pools.DeregisterNode(context.Background(), node)
	}()

	g.nodeReadLoop(ctx, c, node)
}

func (g *Gateway) readNodeRegister(c *websocket.Conn) (wsproto.Register, error) {
	_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		return wsproto.Register{}, fmt.Errorf("read register: %w", err)
	}
	env, err := wsproto.Decode(data)
	if err != nil {
		return wsproto.Register{}, fmt.Errorf("decode register envelope: %w", err)
	}
	if env.Type != wsproto.NodeTypeRegister {
		return wsproto.Register{}, fmt.Errorf("expected %s, got %s", wsproto.NodeTypeRegister, env.Type)
	}
	var reg wsproto.Register
	if err := json.Unmarshal(env.Payload, &reg); err != nil {
		return wsproto.Register{}, fmt.Errorf("unmarshal register: %w", err)
	}
	_ = c.SetReadDeadline(time.Time{})
	return reg, nil
}

func (g *Gateway) nodeReadLoop(ctx context.Context, c *websocket.Conn, node domain.Node) {
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		env, err := wsproto.Decode(data)
		if err != nil {
			continue
		}

		switch env.Type {
		case wsproto.NodeTypeHeartbeat:
			var hb wsproto.Heartbeat
			if json.Unmarshal(env.Payload, &hb) == nil {
				node.Running = hb.Running
				node.LastHeartbeat = time.Now()
				_ = g.Nodes.Heartbeat(ctx, node)
				_ = g.claimOwnership(ctx, node.ID, g.Cfg.Scheduler.PresenceTTL*4)
			}

		case wsproto.NodeTypeJobAccept:
			var acc wsproto.JobAccept
			if json.Unmarshal(env.Payload, &acc) == nil {
				g.handleJobAccept(ctx, acc.JobID)
			}

		case wsproto.NodeTypeJobReject:
			var rej wsproto.JobReject
			if json.Unmarshal(env.Payload, &rej) == nil {
				g.handleJobReject(ctx, rej.JobID, node.ID, rej.Reason)
			}

		case wsproto.NodeTypeJobResult:
			var res wsproto.JobResult
			if json.Unmarshal(env.Payload, &res) == nil {
				g.handleJobResult(ctx, res)
			}

		case wsproto.NodeTypeModelNA:
			var na wsproto.ModelNotAvailable
			if json.Unmarshal(env.Payload, &na) == nil {
				g.ModelNA.Mark(node.ID, domain.DirectedLangPair{Source: na.SourceLang, Target: na.TargetLang})
				g.handleJobReject(ctx, na.JobID, node.ID, "model_not_available")
			}
		}
	}
}

func (g *Gateway) handleJobAccept(ctx context.Context, jobID string) {
	meta, ok := g.jobMetaPeek(jobID)
	if !ok {
		return
	}
	job := domain.Job{ID: jobID, NodeID: meta.NodeID, Attempt: meta.Attempt}
	if err := g.Dispatcher.Accept(ctx, job); err != nil {
		g.Log.Warn("job accept transition failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	if err := g.Dispatcher.Start(ctx, job); err != nil {
		g.Log.Warn("job start transition failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (g *Gateway) handleJobReject(ctx context.Context, jobID, nodeID, reason string) {
	meta, ok := g.takeJobMeta(jobID)
	if !ok {
		return
	}
	job := domain.Job{ID: jobID, NodeID: nodeID, Attempt: meta.Attempt}
	if err := g.Dispatcher.Fail(ctx, job, domain.JobDispatched); err != nil {
		g.Log.Warn("job fail transition failed", zap.String("job_id", jobID), zap.Error(err))
	}
	if err := g.Dispatcher.Release(ctx, job, domain.JobFailed); err != nil {
		g.Log.Warn("job release after reject failed", zap.String("job_id", jobID), zap.Error(err))
	}
	g.Groups.MarkDone(meta.UtteranceID, "")
	_ = reason
}

func (g *Gateway) handleJobResult(ctx context.Context, res wsproto.JobResult) {
	meta, ok := g.takeJobMeta(res.JobID)
	if !ok {
		g.Log.Warn("job_result for unknown job", zap.String("job_id", res.JobID))
		return
	}
	result := domain.TranslationResult{
		JobID:          res.JobID,
		UtteranceID:    meta.UtteranceID,
		UtteranceIndex: meta.UtteranceIndex,
		OriginalText:   res.OriginalText,
		TranslatedText: res.TranslatedText,
		IsFinal:        res.IsFinal,
		AudioURL:       res.AudioURL,
	}

	job := domain.Job{ID: res.JobID, NodeID: meta.NodeID, Attempt: meta.Attempt}
	finishedState := domain.JobFinished
	if result.Empty() {
		finishedState = domain.JobCompletedNoText
		if err := g.Dispatcher.FinishNoText(ctx, job); err != nil {
			g.Log.Warn("job finish-no-text transition failed", zap.String("job_id", res.JobID), zap.Error(err))
		}
	} else if err := g.Dispatcher.Finish(ctx, job); err != nil {
		g.Log.Warn("job finish transition failed", zap.String("job_id", res.JobID), zap.Error(err))
	}
	if err := g.Dispatcher.Release(ctx, job, finishedState); err != nil {
		g.Log.Warn("job release after finish failed", zap.String("job_id", res.JobID), zap.Error(err))
	}

	// g.Results.HandleResult delivers the encoded result itself (via the
	// Deliver callback wired to DeliverToSession in cmd/scheduler) when it
	// isn't requesting a rerun, so there's nothing left to send here.
	req := resultpipeline.Request{
		SessionID:        meta.SessionID,
		TargetSessionIDs: meta.TargetSessionIDs,
		IsConference:     meta.IsConference,
	}
	rerun, err := g.Results.HandleResult(ctx, req, result)
	if err != nil {
		g.Log.Warn("handle result failed", zap.String("job_id", res.JobID), zap.Error(err))
		return
	}
	if rerun {
		g.rememberJob(res.JobID, meta) // keep metadata; caller-side rerun dispatch is out of this handler's scope
		return
	}
	g.Groups.MarkDone(meta.UtteranceID, "")
}

// DeliverToSession hands an already wire-encoded payload to the
// session's actor if it lives on this instance, else forwards it across
// instances via the router. Exported so cmd/scheduler can wire it as the
// resultpipeline.Pipeline's Deliver callback.
func (g *Gateway) DeliverToSession(sessionID string, payload []byte) {
	if actor, ok := g.getActor(sessionID); ok {
		actor.Submit(sessionactor.Event{Kind: sessionactor.EventResult, Payload: payload})
		return
	}
	if err := g.Router.Send(context.Background(), sessionID, payload); err != nil {
		g.Log.Warn("forward result to owning instance failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// installedServices turns the plain service-type strings a node reports
// at registration into Ready InstalledService entries; a node that never
// reports a services list is assumed to serve NMT only.
func installedServices(types []string) []domain.InstalledService {
	if len(types) == 0 {
		return []domain.InstalledService{{Type: domain.ServiceNMT, Status: domain.ServiceStatusReady}}
	}
	services := make([]domain.InstalledService, 0, len(types))
	for _, t := range types {
		services = append(services, domain.InstalledService{Type: domain.ServiceType(t), Status: domain.ServiceStatusReady})
	}
	return services
}

// jobMetaPeek reads job metadata without consuming it (used by
// handleJobAccept, which doesn't terminate the job's lifecycle).
func (g *Gateway) jobMetaPeek(jobID string) (jobMeta, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.jobMeta[jobID]
	return m, ok
}
