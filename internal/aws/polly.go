package aws

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"go.uber.org/zap"
)

// PollyService wraps Amazon Polly for synthesizing a job's translated
// text into PCM audio the node attaches to its job_result.
type PollyService struct {
	client *polly.Client
	log    *zap.Logger
}

type VoiceConfig struct {
	VoiceID    string
	Engine     types.Engine
	SampleRate string
}

// defaultVoices maps a target language to the neural voice a job's TTS
// stage synthesizes with; anything not listed falls back to English.
var defaultVoices = map[string]VoiceConfig{
	"ko": {VoiceID: "Seoyeon", Engine: types.EngineNeural, SampleRate: "16000"},
	"en": {VoiceID: "Matthew", Engine: types.EngineNeural, SampleRate: "16000"},
	"ja": {VoiceID: "Takumi", Engine: types.EngineNeural, SampleRate: "16000"},
	"zh": {VoiceID: "Zhiyu", Engine: types.EngineNeural, SampleRate: "16000"},
	"es": {VoiceID: "Lucia", Engine: types.EngineNeural, SampleRate: "16000"},
	"fr": {VoiceID: "Lea", Engine: types.EngineNeural, SampleRate: "16000"},
	"de": {VoiceID: "Vicki", Engine: types.EngineNeural, SampleRate: "16000"},
}

func NewPollyService(cfg aws.Config, log *zap.Logger) *PollyService {
	if log == nil {
		log = zap.NewNop()
	}
	return &PollyService{client: polly.NewFromConfig(cfg), log: log}
}

// SynthesizeSpeech returns PCM audio for text in the requested language,
// falling back to the English voice when the node has no voice mapping
// for it.
func (s *PollyService) SynthesizeSpeech(ctx context.Context, text, language string) ([]byte, error) {
	if text == "" {
		return nil, nil
	}

	voiceConfig, ok := defaultVoices[language]
	if !ok {
		voiceConfig = defaultVoices["en"]
	}

	input := &polly.SynthesizeSpeechInput{
		Text:         aws.String(text),
		VoiceId:      types.VoiceId(voiceConfig.VoiceID),
		Engine:       voiceConfig.Engine,
		OutputFormat: types.OutputFormatPcm,
		SampleRate:   aws.String(voiceConfig.SampleRate),
	}

	result, err := s.client.SynthesizeSpeech(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("polly synthesize error: %w", err)
	}
	defer result.AudioStream.Close()

	audioData, err := io.ReadAll(result.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("read audio stream error: %w", err)
	}

	s.log.Debug("synthesized speech",
		zap.String("language", language), zap.String("voice_id", voiceConfig.VoiceID),
		zap.Int("bytes", len(audioData)), zap.String("text_preview", truncateText(text, 50)))

	return audioData, nil
}

func truncateText(text string, maxLen int) string {
	if len(text) <= maxLen {
		return text
	}
	return text[:maxLen] + "..."
}
