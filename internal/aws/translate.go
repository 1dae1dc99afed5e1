package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/translate"
	"go.uber.org/zap"
)

// TranslateService wraps Amazon Translate for single-utterance job text.
type TranslateService struct {
	client *translate.Client
	log    *zap.Logger
}

// translateLangCodes maps a session's internal language code to the AWS
// Translate code; every listed language currently maps to itself.
var translateLangCodes = map[string]string{
	"ko": "ko",
	"en": "en",
	"ja": "ja",
	"zh": "zh",
	"es": "es",
	"fr": "fr",
	"de": "de",
}

func NewTranslateService(cfg aws.Config, log *zap.Logger) *TranslateService {
	if log == nil {
		log = zap.NewNop()
	}
	return &TranslateService{client: translate.NewFromConfig(cfg), log: log}
}

// Translate returns text unchanged when source and target languages match,
// so a monolingual room never pays for a round trip to AWS.
func (s *TranslateService) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if text == "" {
		return "", nil
	}
	if sourceLang == targetLang {
		return text, nil
	}

	awsSource := translateLangCodes[sourceLang]
	if awsSource == "" {
		awsSource = sourceLang
	}
	awsTarget := translateLangCodes[targetLang]
	if awsTarget == "" {
		awsTarget = targetLang
	}

	input := &translate.TranslateTextInput{
		Text:               aws.String(text),
		SourceLanguageCode: aws.String(awsSource),
		TargetLanguageCode: aws.String(awsTarget),
	}

	result, err := s.client.TranslateText(ctx, input)
	if err != nil {
		return "", fmt.Errorf("translate error: %w", err)
	}

	translatedText := aws.ToString(result.TranslatedText)
	s.log.Debug("translated",
		zap.String("source_lang", sourceLang), zap.String("target_lang", targetLang),
		zap.Int("chars_in", len(text)), zap.Int("chars_out", len(translatedText)))

	return translatedText, nil
}
