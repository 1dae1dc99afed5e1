// Command refnode is a reference compute node: it dials the scheduler's
// node endpoint, registers the language set and capacity it can serve,
// and for every job_assign it receives runs the audio through Transcribe,
// Translate, and Polly, reporting the outcome back over the same
// connection (§6.2 of the node protocol).
//
// Grounded on the teacher's AWS pipeline (internal/aws/service.go) for
// the STT -> translate -> TTS chain, adapted from a continuous per-room
// stream into a one-job-at-a-time worker driven by the scheduler's job
// protocol instead of a browser's raw audio socket.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"lingua-scheduler/internal/aws"
	"lingua-scheduler/internal/config"
	"lingua-scheduler/internal/logging"
	"lingua-scheduler/internal/storage"
	"lingua-scheduler/internal/wsproto"
)

func main() {
	cfg := config.Load()
	log := logging.NewFromEnv()
	defer log.Sync()

	if !cfg.AWS.Enabled {
		log.Fatal("refnode requires AWS credentials (AWS_ACCESS_KEY_ID/AWS_SECRET_ACCESS_KEY)")
	}

	svc, err := aws.NewService(cfg.AWS, log.Named("aws"))
	if err != nil {
		log.Fatal("build aws service failed", zap.Error(err))
	}

	var audioStore *storage.S3Service
	if cfg.AWS.S3Bucket != "" {
		s3svc, err := storage.NewS3Service(cfg.AWS)
		if err != nil {
			log.Warn("s3 result upload disabled", zap.Error(err))
		} else {
			audioStore = s3svc
		}
	}

	nodeID := cfg.Node.NodeID
	if nodeID == "" {
		nodeID = "node-" + uuid.NewString()
	}

	n := &node{
		id:     nodeID,
		cfg:    cfg,
		log:    log,
		svc:    svc,
		store:  audioStore,
		client: &http.Client{Timeout: 20 * time.Second},
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("refnode shutting down")
		cancel()
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		if err := n.run(ctx); err != nil {
			log.Warn("node connection dropped, retrying", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(3 * time.Second):
		}
	}
}

type node struct {
	id     string
	cfg    *config.Config
	log    *zap.Logger
	svc    *aws.Service
	store  *storage.S3Service
	client *http.Client

	running  atomic.Int32
	draining atomic.Bool

	// writeMu serializes writes to the active connection: jobs run on
	// their own goroutines and the heartbeat loop runs on another, but
	// gorilla/websocket forbids concurrent writers on one *Conn.
	writeMu sync.Mutex
	conn    *websocket.Conn
}

func (n *node) run(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, n.cfg.Node.SchedulerURL, nil)
	if err != nil {
		return fmt.Errorf("dial scheduler: %w", err)
	}
	defer conn.Close()

	n.draining.Store(false)
	n.running.Store(0)
	n.conn = conn

	reg := wsproto.Register{
		NodeID:       n.id,
		Languages:    n.cfg.Node.Languages,
		Capacity:     n.cfg.Node.Capacity,
		AuthToken:    n.cfg.Node.AuthToken,
		GPUPresent:   n.cfg.Node.GPUPresent,
		AcceptPublic: n.cfg.Node.AcceptPublic,
		Services:     n.cfg.Node.Services,
	}
	if err := n.send(wsproto.NodeTypeRegister, reg); err != nil {
		return fmt.Errorf("send register: %w", err)
	}
	n.log.Info("registered with scheduler",
		zap.String("node_id", n.id),
		zap.Strings("languages", n.cfg.Node.Languages),
		zap.Int("capacity", n.cfg.Node.Capacity),
	)

	heartbeatDone := make(chan struct{})
	go n.heartbeatLoop(ctx, heartbeatDone)
	defer close(heartbeatDone)

	for {
		if ctx.Err() != nil {
			return nil
		}
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		env, err := wsproto.Decode(raw)
		if err != nil {
			n.log.Warn("bad envelope from scheduler", zap.Error(err))
			continue
		}
		n.dispatch(ctx, env)
	}
}

func (n *node) heartbeatLoop(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(n.cfg.Scheduler.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			hb := wsproto.Heartbeat{NodeID: n.id, Running: int(n.running.Load())}
			if err := n.send(wsproto.NodeTypeHeartbeat, hb); err != nil {
				n.log.Warn("heartbeat send failed", zap.Error(err))
				return
			}
		}
	}
}

func (n *node) dispatch(ctx context.Context, env *wsproto.Envelope) {
	switch env.Type {
	case wsproto.NodeTypeJobAssign:
		var job wsproto.JobAssign
		if err := json.Unmarshal(env.Payload, &job); err != nil {
			n.log.Warn("bad job_assign payload", zap.Error(err))
			return
		}
		go n.handleJob(ctx, job)
	case wsproto.NodeTypeDrain:
		n.draining.Store(true)
		n.log.Info("draining: no new jobs will be accepted")
	default:
		n.log.Warn("unhandled message from scheduler", zap.String("type", env.Type))
	}
}

func (n *node) handleJob(ctx context.Context, job wsproto.JobAssign) {
	if n.draining.Load() || int(n.running.Load()) >= n.cfg.Node.Capacity {
		n.reject(job.JobID, "at_capacity")
		return
	}
	if !n.supports(job.SourceLang) || !n.supports(job.TargetLang) {
		n.modelNotAvailable(job)
		return
	}

	n.running.Add(1)
	defer n.running.Add(-1)

	if err := n.send(wsproto.NodeTypeJobAccept, wsproto.JobAccept{JobID: job.JobID}); err != nil {
		n.log.Warn("job_accept send failed", zap.String("job_id", job.JobID), zap.Error(err))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	result, err := n.runPipeline(jobCtx, job)
	if err != nil {
		n.log.Warn("job pipeline failed", zap.String("job_id", job.JobID), zap.Error(err))
		n.reject(job.JobID, "pipeline_error")
		return
	}

	if err := n.send(wsproto.NodeTypeJobResult, result); err != nil {
		n.log.Warn("job_result send failed", zap.String("job_id", job.JobID), zap.Error(err))
	}
}

// runPipeline runs the STT/translate/TTS chain for one job. A job with
// Text already set skips straight to translation; the scheduler's own
// job_assign never sets Text.
func (n *node) runPipeline(ctx context.Context, job wsproto.JobAssign) (wsproto.JobResult, error) {
	if job.Text != "" {
		translated := job.Text
		var err error
		if job.SourceLang != job.TargetLang {
			translated, err = n.svc.Translate.Translate(ctx, job.Text, job.SourceLang, job.TargetLang)
			if err != nil {
				return wsproto.JobResult{}, fmt.Errorf("translate: %w", err)
			}
		}
		audio, err := n.svc.Polly.SynthesizeSpeech(ctx, translated, job.TargetLang)
		if err != nil {
			n.log.Warn("tts failed, returning text-only result", zap.String("job_id", job.JobID), zap.Error(err))
			audio = nil
		}
		return n.buildResult(ctx, job, job.Text, translated, audio)
	}

	if job.AudioURL == "" {
		return wsproto.JobResult{}, fmt.Errorf("job %s has neither text nor audio_url", job.JobID)
	}
	audio, err := n.fetchAudio(ctx, job.AudioURL)
	if err != nil {
		return wsproto.JobResult{}, fmt.Errorf("fetch audio: %w", err)
	}
	out, err := n.svc.ProcessJob(ctx, audio, job.SourceLang, job.TargetLang, 16000)
	if err != nil {
		return wsproto.JobResult{}, err
	}
	return n.buildResult(ctx, job, out.OriginalText, out.TranslatedText, out.AudioData)
}

func (n *node) buildResult(ctx context.Context, job wsproto.JobAssign, original, translated string, audio []byte) (wsproto.JobResult, error) {
	result := wsproto.JobResult{
		JobID:          job.JobID,
		OriginalText:   original,
		TranslatedText: translated,
		IsFinal:        true,
	}
	if len(audio) > 0 && n.store != nil {
		url, err := n.store.UploadJobAudio(ctx, job.JobID, audio, "audio/pcm")
		if err != nil {
			n.log.Warn("result audio upload failed, returning text-only", zap.String("job_id", job.JobID), zap.Error(err))
		} else {
			result.AudioURL = url
		}
	}
	return result, nil
}

func (n *node) fetchAudio(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch audio: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (n *node) supports(lang string) bool {
	for _, l := range n.cfg.Node.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

func (n *node) reject(jobID, reason string) {
	if err := n.send(wsproto.NodeTypeJobReject, wsproto.JobReject{JobID: jobID, Reason: reason}); err != nil {
		n.log.Warn("job_reject send failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (n *node) modelNotAvailable(job wsproto.JobAssign) {
	msg := wsproto.ModelNotAvailable{JobID: job.JobID, SourceLang: job.SourceLang, TargetLang: job.TargetLang}
	if err := n.send(wsproto.NodeTypeModelNA, msg); err != nil {
		n.log.Warn("model_not_available send failed", zap.String("job_id", job.JobID), zap.Error(err))
	}
}

// send serializes writes onto the active connection: gorilla/websocket
// forbids concurrent writers on one *Conn, and jobs/heartbeats run on
// separate goroutines.
func (n *node) send(msgType string, payload any) error {
	raw, err := wsproto.Encode(msgType, payload)
	if err != nil {
		return err
	}
	n.writeMu.Lock()
	defer n.writeMu.Unlock()
	return n.conn.WriteMessage(websocket.TextMessage, raw)
}
