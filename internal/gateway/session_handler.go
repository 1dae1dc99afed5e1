package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lingua-scheduler/internal/connreg"
	"lingua-scheduler/internal/dispatcher"
	"lingua-scheduler/internal/domain"
	"lingua-scheduler/internal/roommgr"
	"lingua-scheduler/internal/selector"
	"lingua-scheduler/internal/sessionactor"
	"lingua-scheduler/internal/wsproto"
)

// HandleSession is the fiber websocket.New handler for /ws/session: it
// performs the session_init handshake, spins up the session's actor, and
// runs the blocking receive loop for the lifetime of the connection —
// mirroring the teacher's HandleWebSocket: handshake, spawn workers,
// block on reads, clean up on return.
func (g *Gateway) HandleSession(c *websocket.Conn) {
	defer func() {
		if r := recover(); r != nil {
			g.Log.Error("session handler panic recovered", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	init, err := g.readSessionInit(c)
	if err != nil {
		g.Log.Warn("session handshake failed", zap.Error(err))
		return
	}

	sessionID := uuid.NewString()
	session := domain.SessionState{
		ID:             sessionID,
		ParticipantID:  init.ParticipantID,
		SourceLanguage: init.SourceLanguage,
		TargetLangs:    init.TargetLangs,
		RoomID:         init.RoomID,
		ConnectedAt:    time.Now(),
	}

	conn := &connreg.Conn{WS: c}
	g.SessionConns.Add(sessionID, conn)
	defer g.SessionConns.Remove(sessionID)

	if err := g.claimOwnership(ctx, sessionID, g.Cfg.Scheduler.PresenceTTL*4); err != nil {
		g.Log.Warn("claim session ownership failed", zap.Error(err))
	}

	if session.RoomID != "" {
		r := g.Rooms.GetOrCreate(session.RoomID)
		r.AddSpeaker(&roommgr.Speaker{ID: session.ParticipantID, SourceLang: session.SourceLanguage})
	}

	actorCfg := sessionactor.Config{
		PauseWindow:           time.Duration(g.Cfg.Scheduler.UtterancePauseMs) * time.Millisecond,
		MaxDuration:           time.Duration(g.Cfg.Scheduler.UtteranceMaxMs) * time.Millisecond,
		HighWater:             g.Cfg.Scheduler.BackpressureHighWater,
		PaddingAutoMs:         g.Cfg.Scheduler.PaddingAutoMs,
		HangoverAutoMs:        g.Cfg.Scheduler.HangoverAutoMs,
		PaddingManualMs:       g.Cfg.Scheduler.PaddingManualMs,
		HangoverManualMs:      g.Cfg.Scheduler.HangoverManualMs,
		ShortMergeThresholdMs: g.Cfg.Scheduler.ShortMergeThresholdMs,
	}

	finalize := func(ctx context.Context, utt domain.Utterance, audio []byte) {
		g.onUtteranceFinalized(ctx, session, utt, audio)
	}
	send := func(payload []byte) error {
		return conn.Write(websocket.TextMessage, payload)
	}

	actor := sessionactor.New(session, actorCfg, finalize, send, g.Log)
	g.registerActor(sessionID, actor)
	defer g.unregisterActor(sessionID)

	go actor.Run(ctx)

	readyPayload, err := wsproto.Encode(wsproto.SessionTypeReady, wsproto.Ready{SessionID: sessionID})
	if err == nil {
		_ = conn.Write(websocket.TextMessage, readyPayload)
	}

	g.sessionReadLoop(ctx, c, actor, sessionID)

	actor.Close()
	if session.RoomID != "" {
		if r := g.Rooms.GetOrCreate(session.RoomID); r.RemoveSpeaker(session.ParticipantID) {
			g.Rooms.Remove(session.RoomID)
		}
	}
}

func (g *Gateway) readSessionInit(c *websocket.Conn) (wsproto.SessionInit, error) {
	_ = c.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		return wsproto.SessionInit{}, fmt.Errorf("read session_init: %w", err)
	}
	env, err := wsproto.Decode(data)
	if err != nil {
		return wsproto.SessionInit{}, fmt.Errorf("decode session_init envelope: %w", err)
	}
	if env.Type != wsproto.SessionTypeInit {
		return wsproto.SessionInit{}, fmt.Errorf("expected %s, got %s", wsproto.SessionTypeInit, env.Type)
	}
	var init wsproto.SessionInit
	if err := json.Unmarshal(env.Payload, &init); err != nil {
		return wsproto.SessionInit{}, fmt.Errorf("unmarshal session_init: %w", err)
	}
	_ = c.SetReadDeadline(time.Time{})
	return init, nil
}

func (g *Gateway) sessionReadLoop(ctx context.Context, c *websocket.Conn, actor *sessionactor.Actor, sessionID string) {
	for {
		msgType, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		if msgType == websocket.BinaryMessage {
			_ = g.claimOwnership(ctx, sessionID, g.Cfg.Scheduler.PresenceTTL*4)
			chunk := make([]byte, len(data))
			copy(chunk, data)
			actor.Submit(sessionactor.Event{Kind: sessionactor.EventAudioChunk, Audio: chunk})
			continue
		}

		env, err := wsproto.Decode(data)
		if err != nil {
			continue
		}
		switch env.Type {
		case wsproto.SessionTypeManualCut:
			actor.Submit(sessionactor.Event{Kind: sessionactor.EventManualCut})
		case wsproto.SessionTypeClose:
			return
		}
	}
}

// onUtteranceFinalized turns a finalized utterance into one job per
// distinct target language, dispatching through the job dispatcher and
// remembering routing metadata for when job_result arrives.
func (g *Gateway) onUtteranceFinalized(ctx context.Context, session domain.SessionState, utt domain.Utterance, audio []byte) {
	uttID := uuid.NewString()
	isConference := session.RoomID != ""

	var room *roommgr.Room
	if isConference {
		room = g.Rooms.GetOrCreate(session.RoomID)
	}

	g.Groups.Start(uttID, utt.TargetLangs)
	for _, target := range utt.TargetLangs {
		var targetSessionIDs []string
		if room != nil {
			targetSessionIDs = room.ListenersForLang(target)
		}

		reqID := newRequestID(session.ID, uttID, target)
		job, err := g.Dispatcher.CreateJob(ctx, dispatcher.CreateRequest{
			RequestID:        reqID,
			UtteranceID:      uttID,
			UtteranceIndex:   utt.UtteranceIndex,
			SessionID:        session.ID,
			TargetSessionIDs: targetSessionIDs,
			SourceLang:       utt.SourceLang,
			TargetLang:       target,
			Public:           session.IsPublic,
			Hints:            selector.Hints{Public: session.IsPublic},
		})
		if err != nil {
			g.Log.Warn("create job failed", zap.String("session_id", session.ID), zap.String("target", target), zap.Error(err))
			continue
		}

		g.Groups.RecordJob(uttID, target, job.ID)
		g.rememberJob(job.ID, jobMeta{
			SessionID:        session.ID,
			UtteranceID:      uttID,
			UtteranceIndex:   utt.UtteranceIndex,
			TargetSessionIDs: targetSessionIDs,
			Public:           session.IsPublic,
			IsConference:     isConference,
			NodeID:           job.NodeID,
			Attempt:          job.Attempt,
		})

		if err := g.Dispatcher.Dispatch(ctx, job); err != nil {
			g.Log.Warn("dispatch transition failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		if err := g.sendJobAssign(ctx, job, utt, audio); err != nil {
			g.Log.Warn("send job_assign failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
}

func (g *Gateway) sendJobAssign(ctx context.Context, job domain.Job, utt domain.Utterance, audio []byte) error {
	payload, err := wsproto.Encode(wsproto.NodeTypeJobAssign, wsproto.JobAssign{
		JobID:              job.ID,
		UtteranceID:        job.UtteranceID,
		UtteranceIndex:     job.UtteranceIndex,
		Attempt:            job.Attempt,
		SourceLang:         job.SourceLang,
		TargetLang:         job.TargetLang,
		IsManualCut:        utt.IsManualCut,
		IsTimeoutTriggered: utt.IsTimeoutTriggered,
		PaddingMs:          utt.PaddingMs,
		HangoverMs:         utt.HangoverMs,
	})
	if err != nil {
		return err
	}
	if conn, ok := g.NodeConns.Get(job.NodeID); ok {
		return conn.Write(websocket.TextMessage, payload)
	}
	return g.Router.Send(ctx, job.NodeID, payload)
}
