package aws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"go.uber.org/zap"
)

// TranscribeService wraps Amazon Transcribe Streaming, driving one stream
// per job's finalized audio buffer.
type TranscribeService struct {
	cfg aws.Config
	log *zap.Logger
}

type TranscriptResult struct {
	Text      string
	IsPartial bool
	IsFinal   bool
}

// TranscribeStream is one streaming transcription session. A job's audio
// buffer is sent through SendAudio/Close; Results() yields only final
// (non-partial) transcripts, since the job protocol has no use for
// interim ASR text beyond the ui_event asr_partial surface a session
// actor may separately emit from its own local VAD.
type TranscribeStream struct {
	ctx          context.Context
	cancel       context.CancelFunc
	audioChan    chan []byte
	resultChan   chan *TranscriptResult
	errorChan    chan error
	client       *transcribestreaming.Client
	language     string
	sampleRate   int32
	mu           sync.Mutex
	started      bool
	sessionID    string
	audioBuffer  []byte
	bufferMu     sync.Mutex
	lastSendTime time.Time
	log          *zap.Logger
}

// transcribeLangCodes maps a session's internal language code to its AWS
// Transcribe streaming language code.
var transcribeLangCodes = map[string]types.LanguageCode{
	"ko": types.LanguageCodeKoKr,
	"en": types.LanguageCodeEnUs,
	"ja": types.LanguageCodeJaJp,
	"zh": types.LanguageCodeZhCn,
	"es": types.LanguageCodeEsEs,
	"fr": types.LanguageCodeFrFr,
	"de": types.LanguageCodeDeDe,
}

func NewTranscribeService(cfg aws.Config, log *zap.Logger) *TranscribeService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TranscribeService{cfg: cfg, log: log}
}

func (s *TranscribeService) StartStream(ctx context.Context, sessionID, language string, sampleRate int32) (*TranscribeStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	stream := &TranscribeStream{
		ctx:          streamCtx,
		cancel:       cancel,
		audioChan:    make(chan []byte, 100),
		resultChan:   make(chan *TranscriptResult, 50),
		errorChan:    make(chan error, 1),
		client:       transcribestreaming.NewFromConfig(s.cfg),
		language:     language,
		sampleRate:   sampleRate,
		sessionID:    sessionID,
		audioBuffer:  make([]byte, 0, 32000), // ~1s of 16kHz PCM16
		lastSendTime: time.Now(),
		log:          s.log,
	}

	go stream.run()

	s.log.Debug("transcribe stream started",
		zap.String("session_id", sessionID), zap.String("language", language), zap.Int32("sample_rate", sampleRate))

	return stream, nil
}

func (s *TranscribeStream) run() {
	defer close(s.resultChan)
	defer close(s.errorChan)

	langCode, ok := transcribeLangCodes[s.language]
	if !ok {
		langCode = types.LanguageCodeEnUs
	}

	resp, err := s.client.StartStreamTranscription(s.ctx, &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         langCode,
		MediaEncoding:        types.MediaEncodingPcm,
		MediaSampleRateHertz: aws.Int32(s.sampleRate),
	})
	if err != nil {
		s.log.Warn("transcribe start failed", zap.String("session_id", s.sessionID), zap.Error(err))
		s.errorChan <- fmt.Errorf("start transcription: %w", err)
		return
	}

	stream := resp.GetStream()
	if stream == nil {
		s.errorChan <- fmt.Errorf("stream is nil")
		return
	}
	defer stream.Close()

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	go s.receiveResults(stream)
	s.sendAudio(stream)
}

// sendAudio batches incoming PCM chunks and flushes on a 100ms tick, the
// minimum interval AWS's streaming API tolerates between audio events.
func (s *TranscribeStream) sendAudio(stream *transcribestreaming.StartStreamTranscriptionEventStream) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.flushBuffer(stream)
			return

		case audio, ok := <-s.audioChan:
			if !ok {
				s.flushBuffer(stream)
				return
			}
			s.bufferMu.Lock()
			s.audioBuffer = append(s.audioBuffer, audio...)
			s.bufferMu.Unlock()

		case <-ticker.C:
			s.flushBuffer(stream)
		}
	}
}

func (s *TranscribeStream) flushBuffer(stream *transcribestreaming.StartStreamTranscriptionEventStream) {
	s.bufferMu.Lock()
	if len(s.audioBuffer) == 0 {
		s.bufferMu.Unlock()
		return
	}
	data := s.audioBuffer
	s.audioBuffer = make([]byte, 0, 32000)
	s.bufferMu.Unlock()

	event := &types.AudioStreamMemberAudioEvent{
		Value: types.AudioEvent{
			AudioChunk: data,
		},
	}

	if err := stream.Send(s.ctx, event); err != nil {
		s.log.Warn("transcribe send audio failed", zap.String("session_id", s.sessionID), zap.Error(err))
	}
}

func (s *TranscribeStream) receiveResults(stream *transcribestreaming.StartStreamTranscriptionEventStream) {
	for event := range stream.Events() {
		e, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
		if !ok || e.Value.Transcript == nil {
			continue
		}

		for _, result := range e.Value.Transcript.Results {
			if len(result.Alternatives) == 0 {
				continue
			}

			transcript := aws.ToString(result.Alternatives[0].Transcript)
			if transcript == "" {
				continue
			}

			if result.IsPartial {
				s.log.Debug("transcribe partial", zap.String("session_id", s.sessionID), zap.String("text", transcript))
				continue
			}

			s.log.Debug("transcribe final", zap.String("session_id", s.sessionID), zap.String("text", transcript))
			select {
			case s.resultChan <- &TranscriptResult{Text: transcript, IsPartial: false, IsFinal: true}:
			default:
				s.log.Warn("transcribe result channel full", zap.String("session_id", s.sessionID))
			}
		}
	}

	if err := stream.Err(); err != nil {
		s.log.Warn("transcribe stream error", zap.String("session_id", s.sessionID), zap.Error(err))
	}
}

func (s *TranscribeStream) SendAudio(data []byte) error {
	select {
	case s.audioChan <- data:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		return fmt.Errorf("audio channel full")
	}
}

func (s *TranscribeStream) Results() <-chan *TranscriptResult {
	return s.resultChan
}

func (s *TranscribeStream) Errors() <-chan error {
	return s.errorChan
}

func (s *TranscribeStream) Close() {
	s.cancel()
	close(s.audioChan)
}
