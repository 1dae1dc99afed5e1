package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	appconfig "lingua-scheduler/internal/config"
)

// defaultPresignExpiry is used when the caller doesn't need a tighter
// window; job-result audio is short-lived so this errs generous rather
// than configurable.
const defaultPresignExpiry = 15 * time.Minute

// S3Service S3 스토리지 서비스
type S3Service struct {
	client        *s3.Client
	presignClient *s3.PresignClient
	bucketName    string
	region        string
	presignExpiry time.Duration
}

// NewS3Service S3 서비스 생성
func NewS3Service(cfg appconfig.AWSConfig) (*S3Service, error) {
	if cfg.S3Bucket == "" || cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil, fmt.Errorf("S3 configuration is incomplete")
	}

	// AWS 설정
	awsCfg, err := config.LoadDefaultConfig(context.TODO(),
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

	client := s3.NewFromConfig(awsCfg)
	presignClient := s3.NewPresignClient(client)

	return &S3Service{
		client:        client,
		presignClient: presignClient,
		bucketName:    cfg.S3Bucket,
		region:        cfg.Region,
		presignExpiry: defaultPresignExpiry,
	}, nil
}

// UploadJobAudio stores a job's synthesized audio under a job-scoped key
// and returns a presigned GET URL a session client can fetch it from.
func (s *S3Service) UploadJobAudio(ctx context.Context, jobID string, audio []byte, contentType string) (string, error) {
	key := fmt.Sprintf("jobs/%s/%s.bin", jobID, uuid.New().String())
	if _, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(audio),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(audio))),
	}); err != nil {
		return "", fmt.Errorf("upload job audio: %w", err)
	}
	return s.GetFileURL(key)
}

// GetFileURL 파일 다운로드용 Presigned URL 생성 (비공개 버킷용)
func (s *S3Service) GetFileURL(key string) (string, error) {
	presignResult, err := s.presignClient.PresignGetObject(context.TODO(), &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(key),
	}, func(opts *s3.PresignOptions) {
		opts.Expires = s.presignExpiry
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate download URL: %w", err)
	}

	return presignResult.URL, nil
}
