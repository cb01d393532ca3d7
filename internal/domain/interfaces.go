package domain

import (
	"context"
)

// SessionStore is the persistence boundary for screening sessions. Two
// implementations exist: a pgx-backed Postgres repository for server
// deployments and a SQLite store for standalone operation.
type SessionStore interface {
	// CreateSession persists a new session. The store assigns a unique
	// 4-digit display ID.
	CreateSession(ctx context.Context, session *Session) error

	// GetSession retrieves a session by its UUID. Returns ErrNotFound when
	// no such session exists.
	GetSession(ctx context.Context, id string) (*Session, error)

	// ListSessions returns sessions ordered newest first with pagination.
	ListSessions(ctx context.Context, limit, offset int) ([]*Session, error)

	// DeleteSession removes a session and its tasks and metrics.
	DeleteSession(ctx context.Context, id string) error

	// FollowupSessions returns all follow-up sessions linked to the given
	// parent session, oldest first.
	FollowupSessions(ctx context.Context, parentID string) ([]*Session, error)

	// SaveOutcome records the screening outcome (risk level, overall
	// confidence, serialized analysis) on an existing session.
	SaveOutcome(ctx context.Context, sessionID string, risk RiskLevel, score float64, analysis []byte) error

	// CreateTask persists a task result for a session.
	CreateTask(ctx context.Context, task *TaskResult) error

	// TasksBySession returns all task results recorded for a session.
	TasksBySession(ctx context.Context, sessionID string) ([]*TaskResult, error)

	// CreateMetrics persists a batch of metric scalars for a task.
	CreateMetrics(ctx context.Context, taskID string, values map[string]float64) ([]*Metric, error)

	// MetricsByTask returns all metrics recorded for a task.
	MetricsByTask(ctx context.Context, taskID string) ([]*Metric, error)

	// Statistics returns aggregate counts across all stored sessions.
	Statistics(ctx context.Context) (*SessionStatistics, error)

	// Health verifies the store is reachable.
	Health(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
