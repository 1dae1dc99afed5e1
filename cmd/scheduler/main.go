// Command scheduler is the entrypoint for one scheduler instance: it
// loads configuration, wires every component (redisstate, noderegistry,
// poolsvc, selector, dispatcher, resultpipeline, roommgr, uttgroup,
// gateway), starts the background sweepers and the cross-instance
// forwarding consumer, and serves the HTTP/WebSocket listener.
//
// Grounded on the teacher's cmd/server/main.go boot sequence: load
// config, connect dependencies, build the server, call Start.
package main

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lingua-scheduler/internal/audit"
	"lingua-scheduler/internal/background"
	"lingua-scheduler/internal/config"
	"lingua-scheduler/internal/dispatcher"
	"lingua-scheduler/internal/gateway"
	"lingua-scheduler/internal/logging"
	"lingua-scheduler/internal/noderegistry"
	"lingua-scheduler/internal/poolsvc"
	"lingua-scheduler/internal/redisstate"
	"lingua-scheduler/internal/resultpipeline"
	"lingua-scheduler/internal/roommgr"
	"lingua-scheduler/internal/routedsend"
	"lingua-scheduler/internal/selector"
	"lingua-scheduler/internal/server"
	"lingua-scheduler/internal/uttgroup"
)

func main() {
	cfg := config.Load()
	log := logging.NewFromEnv()
	defer log.Sync()

	instanceID := uuid.NewString()
	log.Info("booting scheduler instance", zap.String("instance_id", instanceID))

	redis := redisstate.New(cfg.Redis)
	ctx := context.Background()
	if err := redis.Ping(ctx); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}
	defer redis.Close()

	auditLog := buildAuditLog(cfg, log)

	nodes := noderegistry.New(redis, cfg.Scheduler, auditLog)
	pools := poolsvc.New(redis)
	sel := selector.New(pools, nodes, cfg.Scheduler.ResourceThreshold)
	disp := dispatcher.New(redis, sel, cfg.Scheduler.ReservationTTL, cfg.Scheduler.JobDispatchTimeout+cfg.Scheduler.JobAcceptTimeout, cfg.Scheduler.ReservationTTL, log, auditLog)
	rerun := resultpipeline.NewRerunPolicy(cfg.Scheduler.ASRRerunMaxCount, cfg.Scheduler.ASRRerunTimeout, cfg.Scheduler.ASRRerunConferenceModeStrict)
	rooms := roommgr.New(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret)
	groups := uttgroup.New()
	modelNA := dispatcher.NewModelNAGate(cfg.Scheduler.ModelNADebounce)

	gw := gateway.New(instanceID, cfg, log, redis, nodes, disp, nil, rooms, groups, modelNA)
	results := resultpipeline.New(rerun, gw.DeliverToSession).WithTimings(cfg.Scheduler.ResultGapTimeout, cfg.Scheduler.DedupWindow)
	gw.Results = results

	group := redisstate.ConsumerGroup()
	stream := redisstate.StreamName(instanceID)
	if err := redis.EnsureGroup(ctx, stream, group); err != nil {
		log.Fatal("ensure forwarding group failed", zap.Error(err))
	}
	if err := redis.EnsureGroup(ctx, redisstate.DLQStreamName(), group); err != nil {
		log.Fatal("ensure dlq group failed", zap.Error(err))
	}

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	runner := background.NewRunner(log,
		background.DLQReaper(redis, stream, group, "reaper-"+instanceID, cfg.Scheduler.StreamClaimIdle, int64(cfg.Scheduler.DLQMaxDeliveries)),
	)
	runner.Start(bgCtx)

	go consumeForwarded(bgCtx, redis, gw, log, stream, group, instanceID)

	srv := server.New(cfg, log, gw)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	if err := srv.Start(); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func buildAuditLog(cfg *config.Config, log *zap.Logger) audit.Writer {
	if !cfg.Audit.Enabled {
		log.Info("audit logging disabled (no AUDIT_DATABASE_URL)")
		return audit.NoopLog{}
	}
	a, err := audit.Connect(cfg.Audit.DSN)
	if err != nil {
		log.Warn("audit db connect failed, falling back to noop", zap.Error(err))
		return audit.NoopLog{}
	}
	return a
}

// consumeForwarded drains this instance's forwarding stream, delivering
// each event to the locally-owned session or node connection.
func consumeForwarded(ctx context.Context, redis *redisstate.Client, gw *gateway.Gateway, log *zap.Logger, stream, group, consumer string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		streams, err := redis.ReadGroup(ctx, stream, group, consumer, 20, 2*time.Second)
		if err != nil {
			log.Warn("forwarding read failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		for _, s := range streams {
			for _, msg := range s.Messages {
				if err := deliverForwarded(gw, msg.Values); err != nil {
					log.Warn("forwarded event delivery failed", zap.Error(err))
				}
				_ = redis.Ack(ctx, stream, group, msg.ID)
			}
		}
	}
}

// deliverForwarded hands a forwarded event to whichever local registry
// (session or node connections) owns its target ID. The owner:{id}
// lookup that routed the event here already guarantees it belongs to
// this instance, so both registries are checked without another
// ownership round-trip.
func deliverForwarded(gw *gateway.Gateway, fields map[string]any) error {
	event, err := routedsend.DecodeForwarded(fields)
	if err != nil {
		return err
	}
	if conn, ok := gw.SessionConns.Get(event.TargetID); ok {
		return conn.Write(websocket.TextMessage, event.Payload)
	}
	if conn, ok := gw.NodeConns.Get(event.TargetID); ok {
		return conn.Write(websocket.TextMessage, event.Payload)
	}
	return nil
}
