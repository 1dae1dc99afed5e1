package aws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"go.uber.org/zap"

	appconfig "lingua-scheduler/internal/config"
)

// Service bundles the three AWS stages a job worker drives: ASR
// (Transcribe), MT (Translate), and TTS (Polly). Translate and Polly
// each sit behind their own circuit breaker so one stage's outage
// degrades results instead of blocking the whole node; Transcribe has
// no breaker.
type Service struct {
	Transcribe *TranscribeService
	Translate  *TranslateService
	Polly      *PollyService
	region     string
	log        *zap.Logger

	translateBreaker *CircuitBreaker
	pollyBreaker     *CircuitBreaker
}

// TranslationStream drives one room's continuous live audio: ASR
// transcripts stream in, each final segment is translated and handed to
// Polly, with results fanned out on TranscriptChan/AudioChan. This is the
// legacy full-duplex path kept alongside the job-oriented ProcessJob
// below for any caller that still streams per-chunk rather than
// per-finalized-utterance.
type TranslationStream struct {
	ctx              context.Context
	cancel           context.CancelFunc
	service          *Service
	transcribeStream *TranscribeStream
	sessionID        string
	sourceLanguage   string
	targetLanguage   string
	TranscriptChan   chan *TranslationResult
	AudioChan        chan *TTSResult
	ErrorChan        chan error
	mu               sync.Mutex
}

type TranslationResult struct {
	OriginalText   string
	TranslatedText string
	SourceLanguage string
	TargetLanguage string
	IsFinal        bool
}

type TTSResult struct {
	AudioData      []byte
	TargetLanguage string
	Text           string
}

// NewService builds the AWS stage clients from static credentials and
// wires a circuit breaker around the Translate and Polly stages, each
// logging its own state transitions through log.
func NewService(cfg appconfig.AWSConfig, log *zap.Logger) (*Service, error) {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("AWS credentials are required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Service{
		Transcribe:       NewTranscribeService(awsCfg, log.Named("transcribe")),
		Translate:        NewTranslateService(awsCfg, log.Named("translate")),
		Polly:            NewPollyService(awsCfg, log.Named("polly")),
		region:           cfg.Region,
		log:              log,
		translateBreaker: NewCircuitBreaker(DefaultCircuitBreakerConfig("translate")).WithLogger(log.Named("breaker")),
		pollyBreaker:     NewCircuitBreaker(DefaultCircuitBreakerConfig("polly")).WithLogger(log.Named("breaker")),
	}, nil
}

// StartTranslationStream begins a live per-room STT -> MT -> TTS chain.
func (s *Service) StartTranslationStream(ctx context.Context, sessionID, sourceLang, targetLang string, sampleRate int32) (*TranslationStream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	transcribeStream, err := s.Transcribe.StartStream(streamCtx, sessionID, sourceLang, sampleRate)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start transcribe stream: %w", err)
	}

	stream := &TranslationStream{
		ctx:              streamCtx,
		cancel:           cancel,
		service:          s,
		transcribeStream: transcribeStream,
		sessionID:        sessionID,
		sourceLanguage:   sourceLang,
		targetLanguage:   targetLang,
		TranscriptChan:   make(chan *TranslationResult, 50),
		AudioChan:        make(chan *TTSResult, 50),
		ErrorChan:        make(chan error, 10),
	}

	go stream.runPipeline()

	s.log.Info("translation stream started",
		zap.String("session_id", sessionID), zap.String("source_lang", sourceLang), zap.String("target_lang", targetLang))

	return stream, nil
}

func (s *TranslationStream) runPipeline() {
	defer close(s.TranscriptChan)
	defer close(s.AudioChan)
	defer close(s.ErrorChan)

	log := s.service.log

	for {
		select {
		case <-s.ctx.Done():
			return

		case result, ok := <-s.transcribeStream.Results():
			if !ok {
				return
			}
			if result.Text == "" {
				continue
			}

			var translatedText string
			var err error

			if s.sourceLanguage != s.targetLanguage {
				translateCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				translatedText, err = s.service.Translate.Translate(translateCtx, result.Text, s.sourceLanguage, s.targetLanguage)
				cancel()

				if err != nil {
					log.Warn("live translate failed, using original text", zap.String("session_id", s.sessionID), zap.Error(err))
					translatedText = result.Text
				}
			} else {
				translatedText = result.Text
			}

			select {
			case s.TranscriptChan <- &TranslationResult{
				OriginalText:   result.Text,
				TranslatedText: translatedText,
				SourceLanguage: s.sourceLanguage,
				TargetLanguage: s.targetLanguage,
				IsFinal:        result.IsFinal,
			}:
			default:
				log.Warn("transcript channel full", zap.String("session_id", s.sessionID))
			}

			if translatedText != "" && s.sourceLanguage != s.targetLanguage {
				go s.generateTTS(translatedText)
			}

		case err, ok := <-s.transcribeStream.Errors():
			if !ok {
				return
			}
			if err != nil {
				select {
				case s.ErrorChan <- err:
				default:
				}
			}
		}
	}
}

func (s *TranslationStream) generateTTS(text string) {
	ttsCtx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	log := s.service.log

	audioData, err := s.service.Polly.SynthesizeSpeech(ttsCtx, text, s.targetLanguage)
	if err != nil {
		log.Warn("live tts failed", zap.String("session_id", s.sessionID), zap.Error(err))
		return
	}
	if len(audioData) == 0 {
		return
	}

	select {
	case s.AudioChan <- &TTSResult{
		AudioData:      audioData,
		TargetLanguage: s.targetLanguage,
		Text:           text,
	}:
	default:
		log.Warn("audio channel full", zap.String("session_id", s.sessionID))
	}
}

func (s *TranslationStream) SendAudio(data []byte) error {
	return s.transcribeStream.SendAudio(data)
}

func (s *TranslationStream) Close() {
	s.cancel()
	s.transcribeStream.Close()
}

// JobResult is the outcome of running one finalized utterance through
// the STT -> Translate -> TTS chain (as opposed to the continuous
// TranslationStream above, which drives a live multi-chunk session).
type JobResult struct {
	OriginalText   string
	TranslatedText string
	AudioData      []byte
}

// ProcessJob runs a single already-finalized audio buffer through
// transcription, translation, and speech synthesis, returning once all
// three stages settle. Used by the node protocol's job_assign handler,
// where the scheduler has already segmented the utterance and a whole
// buffer arrives at once rather than as a live stream.
func (s *Service) ProcessJob(ctx context.Context, audio []byte, sourceLang, targetLang string, sampleRate int32) (JobResult, error) {
	transcriptCtx, cancel := context.WithTimeout(ctx, 8*time.Second)
	defer cancel()

	stream, err := s.Transcribe.StartStream(transcriptCtx, "job", sourceLang, sampleRate)
	if err != nil {
		return JobResult{}, fmt.Errorf("start transcribe: %w", err)
	}
	if err := stream.SendAudio(audio); err != nil {
		stream.Close()
		return JobResult{}, fmt.Errorf("send audio: %w", err)
	}
	stream.Close()

	var original string
	for result := range stream.Results() {
		if result.IsFinal {
			if original != "" {
				original += " "
			}
			original += result.Text
		}
	}
	if err := <-stream.Errors(); err != nil {
		return JobResult{}, fmt.Errorf("transcribe: %w", err)
	}
	if original == "" {
		return JobResult{}, nil
	}

	translated := original
	if sourceLang != targetLang {
		cbErr := s.translateBreaker.Execute(func() error {
			translated, err = s.Translate.Translate(ctx, original, sourceLang, targetLang)
			return err
		})
		if cbErr != nil {
			s.log.Warn("job translate degraded, falling back to original text", zap.Error(cbErr))
			translated = original
		}
	}

	var audioOut []byte
	cbErr := s.pollyBreaker.Execute(func() error {
		var ttsErr error
		audioOut, ttsErr = s.Polly.SynthesizeSpeech(ctx, translated, targetLang)
		return ttsErr
	})
	if cbErr != nil {
		s.log.Warn("job tts degraded, returning text-only result", zap.Error(cbErr))
		audioOut = nil
	}

	return JobResult{OriginalText: original, TranslatedText: translated, AudioData: audioOut}, nil
}
