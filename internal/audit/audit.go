// Package audit is the operational audit log: node lifecycle transitions
// and dispatch failures, persisted to Postgres via gorm. This is
// explicitly NOT a store of translation results (an out-of-scope
// concern per spec.md's Non-goals) — only operational events an operator
// would want to query after the fact.
//
// Grounded on the teacher's internal/model BaseModel pattern
// (entity.go) and cmd/debug_db's migration-helper idiom, repointed at a
// new table pair instead of Meeting/Participant.
package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// BaseModel mirrors the teacher's model.BaseModel shape.
type BaseModel struct {
	ID        uuid.UUID      `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CreatedAt time.Time      `gorm:"autoCreateTime"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `gorm:"index"`
}

// NodeEvent records a node lifecycle transition (registered, degraded,
// offline, drained).
type NodeEvent struct {
	BaseModel
	NodeID string `gorm:"type:varchar(128);index;not null"`
	Status string `gorm:"type:varchar(32);not null"`
	Detail string `gorm:"type:text"`
}

func (NodeEvent) TableName() string { return "node_events" }

// DispatchFailure records a job creation/dispatch failure (no capacity,
// node rejected, timed out) for operator diagnosis — not the job's
// translation content.
type DispatchFailure struct {
	BaseModel
	JobID      string `gorm:"type:varchar(128);index"`
	RequestID  string `gorm:"type:varchar(128);index"`
	SourceLang string `gorm:"type:varchar(16)"`
	TargetLang string `gorm:"type:varchar(16)"`
	Reason     string `gorm:"type:text;not null"`
}

func (DispatchFailure) TableName() string { return "dispatch_failures" }

// Log wraps the gorm DB handle with the two audit writers the rest of
// the scheduler calls into.
type Log struct {
	db *gorm.DB
}

// Connect opens the Postgres connection and auto-migrates the audit
// tables, matching the teacher's ConnectDB + migrate-on-boot pattern
// (cmd/debug_db).
func Connect(dsn string) (*Log, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect audit db: %w", err)
	}
	if err := db.AutoMigrate(&NodeEvent{}, &DispatchFailure{}); err != nil {
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) RecordNodeEvent(nodeID, status, detail string) error {
	return l.db.Create(&NodeEvent{NodeID: nodeID, Status: status, Detail: detail}).Error
}

func (l *Log) RecordDispatchFailure(jobID, requestID, sourceLang, targetLang, reason string) error {
	return l.db.Create(&DispatchFailure{
		JobID: jobID, RequestID: requestID, SourceLang: sourceLang, TargetLang: targetLang, Reason: reason,
	}).Error
}

// NoopLog is used when audit is disabled (no DSN configured), so callers
// don't need nil checks everywhere.
type NoopLog struct{}

func (NoopLog) RecordNodeEvent(string, string, string) error                   { return nil }
func (NoopLog) RecordDispatchFailure(string, string, string, string, string) error { return nil }

// Writer is the interface dispatcher/noderegistry code depends on, so
// production wiring can pass either *Log or NoopLog.
type Writer interface {
	RecordNodeEvent(nodeID, status, detail string) error
	RecordDispatchFailure(jobID, requestID, sourceLang, targetLang, reason string) error
}

var (
	_ Writer = (*Log)(nil)
	_ Writer = NoopLog{}
)
