// Package repository implements the Postgres session store on pgx.
package repository

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/virtual-mirror-server/internal/domain"
)

// displayIDAttempts bounds the retry loop for display ID collisions.
// With 9000 possible IDs the loop effectively never exhausts before the
// table fills up.
const displayIDAttempts = 20

const sessionColumns = `
	id, display_id, child_name, child_age, child_height_cm, child_weight_kg,
	child_gender, child_notes, started_at, session_type, parent_session_id,
	risk_level, overall_score, analysis`

// SessionRepository handles screening session persistence on Postgres.
// It implements domain.SessionStore.
type SessionRepository struct {
	db  *pgxpool.Pool
	log *logrus.Logger
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *pgxpool.Pool, logger *logrus.Logger) *SessionRepository {
	return &SessionRepository{
		db:  db,
		log: logger,
	}
}

// CreateSession inserts a new session, assigning a random unique 4-digit
// display ID.
func (r *SessionRepository) CreateSession(ctx context.Context, session *domain.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}

	query := `
		INSERT INTO sessions (
			id, display_id, child_name, child_age, child_height_cm, child_weight_kg,
			child_gender, child_notes, started_at, session_type, parent_session_id
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	var parentID *string
	if session.ParentSessionID != "" {
		parentID = &session.ParentSessionID
	}

	var lastErr error
	for attempt := 0; attempt < displayIDAttempts; attempt++ {
		displayID := 1000 + rand.Intn(9000)

		_, err := r.db.Exec(ctx, query,
			session.ID,
			displayID,
			session.ChildName,
			session.ChildAge,
			session.ChildHeightCM,
			session.ChildWeightKG,
			session.ChildGender,
			session.ChildNotes,
			session.StartedAt,
			session.SessionType,
			parentID,
		)
		if err == nil {
			session.DisplayID = displayID
			r.log.WithFields(logrus.Fields{
				"session_id": session.ID,
				"display_id": displayID,
				"child_name": session.ChildName,
			}).Info("Session created successfully")
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "sessions_display_id_key" {
			lastErr = err
			continue
		}

		r.log.WithFields(logrus.Fields{
			"session_id": session.ID,
			"error":      err,
		}).Error("Failed to create session")
		return fmt.Errorf("creating session: %w", err)
	}

	return fmt.Errorf("assigning display ID: %w: %w", domain.ErrDuplicateDisplayID, lastErr)
}

// GetSession retrieves a session by its UUID.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`

	session, err := scanSession(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
		}
		r.log.WithFields(logrus.Fields{
			"session_id": id,
			"error":      err,
		}).Error("Failed to get session")
		return nil, fmt.Errorf("getting session: %w", err)
	}

	return session, nil
}

// ListSessions returns sessions newest first with pagination.
func (r *SessionRepository) ListSessions(ctx context.Context, limit, offset int) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		r.log.WithError(err).Error("Failed to list sessions")
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// DeleteSession removes a session. Tasks and metrics go with it via
// cascading foreign keys.
func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"session_id": id,
			"error":      err,
		}).Error("Failed to delete session")
		return fmt.Errorf("deleting session: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}

	r.log.WithField("session_id", id).Info("Session deleted successfully")
	return nil
}

// FollowupSessions returns follow-ups linked to the given parent, oldest
// first.
func (r *SessionRepository) FollowupSessions(ctx context.Context, parentID string) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + `
		FROM sessions
		WHERE parent_session_id = $1
		ORDER BY started_at ASC`

	rows, err := r.db.Query(ctx, query, parentID)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"parent_session_id": parentID,
			"error":             err,
		}).Error("Failed to list follow-up sessions")
		return nil, fmt.Errorf("listing follow-up sessions: %w", err)
	}
	defer rows.Close()

	return collectSessions(rows)
}

// SaveOutcome records the screening outcome on an existing session.
func (r *SessionRepository) SaveOutcome(ctx context.Context, sessionID string, risk domain.RiskLevel, score float64, analysis []byte) error {
	query := `
		UPDATE sessions
		SET risk_level = $2, overall_score = $3, analysis = $4
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, sessionID, string(risk), score, analysis)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"session_id": sessionID,
			"error":      err,
		}).Error("Failed to save session outcome")
		return fmt.Errorf("saving session outcome: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}

	r.log.WithFields(logrus.Fields{
		"session_id": sessionID,
		"risk_level": string(risk),
	}).Info("Session outcome saved")
	return nil
}

// CreateTask persists a task result for a session.
func (r *SessionRepository) CreateTask(ctx context.Context, task *domain.TaskResult) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	query := `
		INSERT INTO task_results (id, session_id, task_name, duration_seconds, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		task.ID, task.SessionID, task.TaskName, task.DurationSeconds, task.Status, task.Notes)
	if err != nil {
		r.log.WithFields(logrus.Fields{
			"session_id": task.SessionID,
			"task_name":  task.TaskName,
			"error":      err,
		}).Error("Failed to create task result")
		return fmt.Errorf("creating task result: %w", err)
	}

	return nil
}

// TasksBySession returns all task results recorded for a session.
func (r *SessionRepository) TasksBySession(ctx context.Context, sessionID string) ([]*domain.TaskResult, error) {
	query := `
		SELECT id, session_id, task_name, duration_seconds, status, notes
		FROM task_results
		WHERE session_id = $1`

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing task results: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.TaskResult
	for rows.Next() {
		var task domain.TaskResult
		if err := rows.Scan(&task.ID, &task.SessionID, &task.TaskName,
			&task.DurationSeconds, &task.Status, &task.Notes); err != nil {
			return nil, fmt.Errorf("scanning task result row: %w", err)
		}
		tasks = append(tasks, &task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task result rows: %w", err)
	}

	return tasks, nil
}

// CreateMetrics persists a batch of metric scalars for a task.
func (r *SessionRepository) CreateMetrics(ctx context.Context, taskID string, values map[string]float64) ([]*domain.Metric, error) {
	metrics := make([]*domain.Metric, 0, len(values))

	batch := &pgx.Batch{}
	for name, value := range values {
		metric := &domain.Metric{
			ID:          uuid.New().String(),
			TaskID:      taskID,
			MetricName:  name,
			MetricValue: value,
		}
		metrics = append(metrics, metric)
		batch.Queue(
			`INSERT INTO metrics (id, task_id, metric_name, metric_value) VALUES ($1, $2, $3, $4)`,
			metric.ID, metric.TaskID, metric.MetricName, metric.MetricValue)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range metrics {
		if _, err := results.Exec(); err != nil {
			r.log.WithFields(logrus.Fields{
				"task_id": taskID,
				"error":   err,
			}).Error("Failed to create metrics")
			return nil, fmt.Errorf("creating metrics: %w", err)
		}
	}

	return metrics, nil
}

// MetricsByTask returns all metrics recorded for a task.
func (r *SessionRepository) MetricsByTask(ctx context.Context, taskID string) ([]*domain.Metric, error) {
	query := `
		SELECT id, task_id, metric_name, metric_value
		FROM metrics
		WHERE task_id = $1`

	rows, err := r.db.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("listing metrics: %w", err)
	}
	defer rows.Close()

	var metrics []*domain.Metric
	for rows.Next() {
		var metric domain.Metric
		if err := rows.Scan(&metric.ID, &metric.TaskID, &metric.MetricName, &metric.MetricValue); err != nil {
			return nil, fmt.Errorf("scanning metric row: %w", err)
		}
		metrics = append(metrics, &metric)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating metric rows: %w", err)
	}

	return metrics, nil
}

// Statistics returns aggregate counts across all stored sessions.
func (r *SessionRepository) Statistics(ctx context.Context) (*domain.SessionStatistics, error) {
	stats := &domain.SessionStatistics{
		RiskDistribution: make(map[string]int),
	}

	summary := `
		SELECT COUNT(*),
			   COUNT(*) FILTER (WHERE started_at >= now() - INTERVAL '7 days'),
			   COUNT(*) FILTER (WHERE started_at >= now() - INTERVAL '30 days'),
			   COALESCE(AVG(overall_score), 0)
		FROM sessions`

	err := r.db.QueryRow(ctx, summary).Scan(
		&stats.TotalSessions,
		&stats.SessionsThisWeek,
		&stats.SessionsThisMonth,
		&stats.AverageScore,
	)
	if err != nil {
		r.log.WithError(err).Error("Failed to compute session statistics")
		return nil, fmt.Errorf("computing session statistics: %w", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT risk_level, COUNT(*) FROM sessions WHERE risk_level IS NOT NULL GROUP BY risk_level`)
	if err != nil {
		return nil, fmt.Errorf("computing risk distribution: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var risk string
		var count int
		if err := rows.Scan(&risk, &count); err != nil {
			return nil, fmt.Errorf("scanning risk distribution row: %w", err)
		}
		stats.RiskDistribution[risk] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating risk distribution rows: %w", err)
	}

	return stats, nil
}

// Health verifies the store is reachable.
func (r *SessionRepository) Health(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Close releases store resources. The pool is owned by the caller, so
// this is a no-op here.
func (r *SessionRepository) Close() error {
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var parentID, gender, notes, riskLevel *string

	err := row.Scan(
		&session.ID,
		&session.DisplayID,
		&session.ChildName,
		&session.ChildAge,
		&session.ChildHeightCM,
		&session.ChildWeightKG,
		&gender,
		&notes,
		&session.StartedAt,
		&session.SessionType,
		&parentID,
		&riskLevel,
		&session.OverallScore,
		&session.Analysis,
	)
	if err != nil {
		return nil, err
	}

	if gender != nil {
		session.ChildGender = *gender
	}
	if notes != nil {
		session.ChildNotes = *notes
	}
	if parentID != nil {
		session.ParentSessionID = *parentID
	}
	if riskLevel != nil {
		session.RiskLevel = domain.RiskLevel(*riskLevel)
	}

	return &session, nil
}

func collectSessions(rows pgx.Rows) ([]*domain.Session, error) {
	var sessions []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session row: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}
