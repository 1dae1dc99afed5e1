// Package config loads scheduler configuration from the environment
// (via godotenv for local .env files) into typed, defaulted sections,
// mirroring the original scheduler's config_types.rs / config_defaults.rs
// split between struct shape and default values.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the root configuration object threaded through every
// scheduler component.
type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Scheduler SchedulerConfig
	Audio     AudioConfig
	Audit     AuditConfig
	LiveKit   LiveKitConfig
	AWS       AWSConfig
	Auth      AuthConfig
	CORS      CORSConfig
	WebSocket WebSocketConfig
	Node      NodeConfig
}

// NodeConfig carries the reference compute node's own identity and the
// scheduler endpoint it dials out to — only read by cmd/refnode.
type NodeConfig struct {
	SchedulerURL string
	NodeID       string
	Languages    []string
	Capacity     int
	AuthToken    string
	GPUPresent   bool
	AcceptPublic bool
	Services     []string
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// ClusterAddrs, when non-empty, selects a redis.ClusterClient instead
	// of a single-node client.
	ClusterAddrs []string
}

// SchedulerConfig carries the scheduling/dispatch knobs named in
// original_source/core/config/config_defaults.rs.
type SchedulerConfig struct {
	PresenceTTL          time.Duration
	HeartbeatInterval    time.Duration
	ReservationTTL       time.Duration
	JobDispatchTimeout   time.Duration
	JobAcceptTimeout     time.Duration
	MaxDispatchAttempts  int
	PoolSize             int
	MaxPoolID            int
	UtterancePauseMs     int
	UtteranceMaxMs       int
	BackpressureHighWater int

	// Edge stabilization (C7): padding/hangover chosen by the cause that
	// ended the utterance, plus the short-segment merge threshold.
	PaddingAutoMs         int
	HangoverAutoMs        int
	PaddingManualMs       int
	HangoverManualMs      int
	ShortMergeThresholdMs int

	// Resource threshold a node's gauges must stay under to remain
	// selectable (C4).
	ResourceThreshold float64

	// Result pipeline ordering/dedup windows (C9).
	ResultGapTimeout time.Duration
	DedupWindow      time.Duration

	// Failure-threshold window (supplemented feature).
	FailureWindowSize       int
	FailureCountThreshold   int
	ConsecutiveFailureLimit int

	// ASR rerun policy (supplemented feature).
	ASRRerunMaxCount             int
	ASRRerunTimeout              time.Duration
	ASRRerunConferenceModeStrict bool

	// Model-not-available debounce (supplemented feature).
	ModelNADebounce time.Duration

	// Observability warn thresholds (supplemented feature).
	ObsLockWaitWarn time.Duration
	ObsPathWarn     time.Duration

	DLQMaxDeliveries int
	StreamClaimIdle  time.Duration
}

type AudioConfig struct {
	ValidSampleRates []uint32
	MaxChannels      uint16
	ValidBitDepths   []uint16
}

type AuditConfig struct {
	DSN     string
	Enabled bool
}

type LiveKitConfig struct {
	APIKey    string
	APISecret string
	URL       string
	Enabled   bool
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	Enabled         bool
}

type AuthConfig struct {
	JWTSecret string
}

type CORSConfig struct {
	AllowOrigins string
	AllowHeaders string
}

// Load reads a .env file if present (ignored if missing, matching the
// teacher's godotenv.Load usage) and builds a fully-defaulted Config from
// the environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Server: ServerConfig{
			Port:         envOr("PORT", "8080"),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Redis: RedisConfig{
			Addr:         envOr("REDIS_ADDR", "localhost:6379"),
			Password:     os.Getenv("REDIS_PASSWORD"),
			DB:           envOrInt("REDIS_DB", 0),
			ClusterAddrs: envOrList("REDIS_CLUSTER_ADDRS", nil),
		},
		Scheduler: SchedulerConfig{
			PresenceTTL:           envOrDuration("PRESENCE_TTL", 10*time.Second),
			HeartbeatInterval:     envOrDuration("HEARTBEAT_INTERVAL", 3*time.Second),
			ReservationTTL:        envOrDuration("RESERVATION_TTL", 30*time.Second),
			JobDispatchTimeout:    envOrDuration("JOB_DISPATCH_TIMEOUT", 5*time.Second),
			JobAcceptTimeout:      envOrDuration("JOB_ACCEPT_TIMEOUT", 3*time.Second),
			MaxDispatchAttempts:   envOrInt("MAX_DISPATCH_ATTEMPTS", 3),
			PoolSize:              envOrInt("POOL_SIZE", 64),
			MaxPoolID:             envOrInt("MAX_POOL_ID", 4096),
			UtterancePauseMs:      envOrInt("UTTERANCE_PAUSE_MS", 700),
			UtteranceMaxMs:        envOrInt("UTTERANCE_MAX_MS", 15000),
			BackpressureHighWater: envOrInt("BACKPRESSURE_HIGH_WATER", 256),

			PaddingAutoMs:         envOrInt("PADDING_AUTO_MS", 220),
			HangoverAutoMs:        envOrInt("HANGOVER_AUTO_MS", 150),
			PaddingManualMs:       envOrInt("PADDING_MANUAL_MS", 280),
			HangoverManualMs:      envOrInt("HANGOVER_MANUAL_MS", 200),
			ShortMergeThresholdMs: envOrInt("SHORT_MERGE_THRESHOLD_MS", 400),

			ResourceThreshold: envOrFloat("RESOURCE_THRESHOLD", 0.85),

			ResultGapTimeout: envOrDuration("RESULT_GAP_TIMEOUT", 3*time.Second),
			DedupWindow:      envOrDuration("DEDUP_WINDOW", 30*time.Second),

			FailureWindowSize:       envOrInt("FAILURE_WINDOW_SIZE", 10),
			FailureCountThreshold:   envOrInt("FAILURE_COUNT_THRESHOLD", 4),
			ConsecutiveFailureLimit: envOrInt("CONSECUTIVE_FAILURE_LIMIT", 3),

			ASRRerunMaxCount:             envOrInt("ASR_RERUN_MAX_COUNT", 1),
			ASRRerunTimeout:              envOrDuration("ASR_RERUN_TIMEOUT", 2*time.Second),
			ASRRerunConferenceModeStrict: envOrBool("ASR_RERUN_CONFERENCE_STRICT", true),

			ModelNADebounce: envOrDuration("MODEL_NA_DEBOUNCE", 5*time.Second),

			ObsLockWaitWarn: envOrDuration("OBS_LOCK_WAIT_WARN_MS", 50*time.Millisecond),
			ObsPathWarn:     envOrDuration("OBS_PATH_WARN_MS", 200*time.Millisecond),

			DLQMaxDeliveries: envOrInt("DLQ_MAX_DELIVERIES", 5),
			StreamClaimIdle:  envOrDuration("STREAM_CLAIM_IDLE", 30*time.Second),
		},
		Audio: AudioConfig{
			ValidSampleRates: []uint32{8000, 16000, 44100, 48000},
			MaxChannels:      2,
			ValidBitDepths:   []uint16{16, 32},
		},
		Audit: AuditConfig{
			DSN:     os.Getenv("AUDIT_DATABASE_URL"),
			Enabled: os.Getenv("AUDIT_DATABASE_URL") != "",
		},
		LiveKit: LiveKitConfig{
			APIKey:    os.Getenv("LIVEKIT_API_KEY"),
			APISecret: os.Getenv("LIVEKIT_API_SECRET"),
			URL:       os.Getenv("LIVEKIT_URL"),
			Enabled:   os.Getenv("LIVEKIT_API_KEY") != "",
		},
		AWS: AWSConfig{
			Region:          envOr("AWS_REGION", "us-east-1"),
			AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			S3Bucket:        os.Getenv("AWS_S3_BUCKET"),
			Enabled:         os.Getenv("AWS_ACCESS_KEY_ID") != "",
		},
		Auth: AuthConfig{
			JWTSecret: envOr("JWT_SECRET", "dev-secret-change-me"),
		},
		CORS: CORSConfig{
			AllowOrigins: envOr("CORS_ALLOW_ORIGINS", "*"),
			AllowHeaders: envOr("CORS_ALLOW_HEADERS", "Origin, Content-Type, Accept, Authorization"),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  envOrInt("WS_READ_BUFFER_SIZE", 8192),
			WriteBufferSize: envOrInt("WS_WRITE_BUFFER_SIZE", 8192),
		},
		Node: NodeConfig{
			SchedulerURL: envOr("NODE_SCHEDULER_URL", "ws://localhost:8080/ws/node"),
			NodeID:       os.Getenv("NODE_ID"),
			Languages:    envOrList("NODE_LANGUAGES", []string{"en", "ko"}),
			Capacity:     envOrInt("NODE_CAPACITY", 4),
			AuthToken:    os.Getenv("NODE_AUTH_TOKEN"),
			GPUPresent:   envOrBool("NODE_GPU_PRESENT", true),
			AcceptPublic: envOrBool("NODE_ACCEPT_PUBLIC", true),
			Services:     envOrList("NODE_SERVICES", []string{"asr", "nmt", "tts"}),
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envOrList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
