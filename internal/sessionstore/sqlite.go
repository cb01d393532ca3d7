// Package sessionstore implements the session store on SQLite for
// standalone operation: no external database, a single file next to the
// binary, WAL mode for concurrent readers.
package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/virtual-mirror-server/internal/domain"
)

// displayIDAttempts bounds the retry loop for display ID collisions.
const displayIDAttempts = 20

// SQLiteStore implements domain.SessionStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStore creates a new SQLite session store.
// It creates the database file and schema if they don't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// createSchema creates the database tables and indexes.
func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		display_id INTEGER NOT NULL UNIQUE,
		child_name TEXT NOT NULL,
		child_age INTEGER NOT NULL DEFAULT 0,
		child_height_cm REAL,
		child_weight_kg REAL,
		child_gender TEXT DEFAULT '',
		child_notes TEXT DEFAULT '',
		started_at DATETIME NOT NULL,
		session_type TEXT NOT NULL DEFAULT 'initial',
		parent_session_id TEXT REFERENCES sessions(id) ON DELETE SET NULL,
		risk_level TEXT,
		overall_score REAL,
		analysis TEXT
	);

	CREATE TABLE IF NOT EXISTS task_results (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		task_name TEXT NOT NULL,
		duration_seconds REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'completed',
		notes TEXT DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS metrics (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL REFERENCES task_results(id) ON DELETE CASCADE,
		metric_name TEXT NOT NULL,
		metric_value REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_parent ON sessions(parent_session_id);
	CREATE INDEX IF NOT EXISTS idx_task_results_session ON task_results(session_id);
	CREATE INDEX IF NOT EXISTS idx_metrics_task ON metrics(task_id);
	`

	_, err := db.Exec(schema)
	return err
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

const sessionColumns = `
	id, display_id, child_name, child_age, child_height_cm, child_weight_kg,
	child_gender, child_notes, started_at, session_type, parent_session_id,
	risk_level, overall_score, analysis`

// scanSession scans a row into a Session struct.
func scanSession(s scanner) (*domain.Session, error) {
	session := &domain.Session{}
	var gender, notes, parentID, riskLevel, analysis sql.NullString
	var startedAt string

	err := s.Scan(
		&session.ID, &session.DisplayID, &session.ChildName, &session.ChildAge,
		&session.ChildHeightCM, &session.ChildWeightKG,
		&gender, &notes, &startedAt, &session.SessionType, &parentID,
		&riskLevel, &session.OverallScore, &analysis,
	)
	if err != nil {
		return nil, err
	}

	session.ChildGender = gender.String
	session.ChildNotes = notes.String
	session.ParentSessionID = parentID.String
	session.RiskLevel = domain.RiskLevel(riskLevel.String)
	if analysis.Valid {
		session.Analysis = []byte(analysis.String)
	}

	if ts, err := time.Parse(time.RFC3339Nano, startedAt); err == nil {
		session.StartedAt = ts
	} else if ts, err := time.Parse("2006-01-02 15:04:05", startedAt); err == nil {
		session.StartedAt = ts
	}

	return session, nil
}

// CreateSession persists a new session with a random unique 4-digit
// display ID.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	if err := session.Validate(); err != nil {
		return err
	}

	var parentID any
	if session.ParentSessionID != "" {
		parentID = session.ParentSessionID
	}

	for attempt := 0; attempt < displayIDAttempts; attempt++ {
		displayID := 1000 + rand.Intn(9000)

		_, err := s.db.ExecContext(ctx, `
			INSERT INTO sessions (
				id, display_id, child_name, child_age, child_height_cm, child_weight_kg,
				child_gender, child_notes, started_at, session_type, parent_session_id
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			session.ID, displayID, session.ChildName, session.ChildAge,
			session.ChildHeightCM, session.ChildWeightKG,
			session.ChildGender, session.ChildNotes,
			session.StartedAt.Format(time.RFC3339Nano), session.SessionType, parentID,
		)
		if err == nil {
			session.DisplayID = displayID
			return nil
		}

		if isDisplayIDConflict(err) {
			continue
		}
		return fmt.Errorf("failed to insert session: %w", err)
	}

	return domain.ErrDuplicateDisplayID
}

// isDisplayIDConflict reports whether the insert failed on the display_id
// unique constraint rather than the primary key.
func isDisplayIDConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique") && strings.Contains(msg, "display_id")
}

// GetSession retrieves a session by its UUID.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ? LIMIT 1`, id)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return session, nil
}

// ListSessions returns sessions newest first with pagination.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit, offset int) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var result []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		result = append(result, session)
	}
	return result, rows.Err()
}

// DeleteSession removes a session and, via cascading foreign keys, its
// tasks and metrics.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	return nil
}

// FollowupSessions returns follow-ups linked to the parent, oldest first.
func (s *SQLiteStore) FollowupSessions(ctx context.Context, parentID string) ([]*domain.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE parent_session_id = ?
		ORDER BY started_at ASC
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query follow-up sessions: %w", err)
	}
	defer rows.Close()

	var result []*domain.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		result = append(result, session)
	}
	return result, rows.Err()
}

// SaveOutcome records the screening outcome on an existing session.
func (s *SQLiteStore) SaveOutcome(ctx context.Context, sessionID string, risk domain.RiskLevel, score float64, analysis []byte) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET risk_level = ?, overall_score = ?, analysis = ?
		WHERE id = ?
	`, string(risk), score, string(analysis), sessionID)
	if err != nil {
		return fmt.Errorf("failed to save outcome: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session not found: %w", domain.ErrNotFound)
	}
	return nil
}

// CreateTask persists a task result for a session.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *domain.TaskResult) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_results (id, session_id, task_name, duration_seconds, status, notes)
		VALUES (?, ?, ?, ?, ?, ?)
	`, task.ID, task.SessionID, task.TaskName, task.DurationSeconds, task.Status, task.Notes)
	if err != nil {
		return fmt.Errorf("failed to insert task result: %w", err)
	}
	return nil
}

// TasksBySession returns all task results recorded for a session.
func (s *SQLiteStore) TasksBySession(ctx context.Context, sessionID string) ([]*domain.TaskResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, task_name, duration_seconds, status, notes
		FROM task_results
		WHERE session_id = ?
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task results: %w", err)
	}
	defer rows.Close()

	var result []*domain.TaskResult
	for rows.Next() {
		task := &domain.TaskResult{}
		var notes sql.NullString
		if err := rows.Scan(&task.ID, &task.SessionID, &task.TaskName,
			&task.DurationSeconds, &task.Status, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		task.Notes = notes.String
		result = append(result, task)
	}
	return result, rows.Err()
}

// CreateMetrics persists a batch of metric scalars for a task in one
// transaction.
func (s *SQLiteStore) CreateMetrics(ctx context.Context, taskID string, values map[string]float64) ([]*domain.Metric, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	metrics := make([]*domain.Metric, 0, len(values))
	for name, value := range values {
		metric := &domain.Metric{
			ID:          uuid.New().String(),
			TaskID:      taskID,
			MetricName:  name,
			MetricValue: value,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO metrics (id, task_id, metric_name, metric_value)
			VALUES (?, ?, ?, ?)
		`, metric.ID, metric.TaskID, metric.MetricName, metric.MetricValue); err != nil {
			return nil, fmt.Errorf("failed to insert metric: %w", err)
		}
		metrics = append(metrics, metric)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit metrics: %w", err)
	}
	return metrics, nil
}

// MetricsByTask returns all metrics recorded for a task.
func (s *SQLiteStore) MetricsByTask(ctx context.Context, taskID string) ([]*domain.Metric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, metric_name, metric_value
		FROM metrics
		WHERE task_id = ?
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var result []*domain.Metric
	for rows.Next() {
		metric := &domain.Metric{}
		if err := rows.Scan(&metric.ID, &metric.TaskID, &metric.MetricName, &metric.MetricValue); err != nil {
			return nil, fmt.Errorf("failed to scan metric row: %w", err)
		}
		result = append(result, metric)
	}
	return result, rows.Err()
}

// Statistics returns aggregate counts across all stored sessions.
func (s *SQLiteStore) Statistics(ctx context.Context) (*domain.SessionStatistics, error) {
	stats := &domain.SessionStatistics{
		RiskDistribution: make(map[string]int),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			   COALESCE(SUM(CASE WHEN started_at >= datetime('now', '-7 days') THEN 1 ELSE 0 END), 0),
			   COALESCE(SUM(CASE WHEN started_at >= datetime('now', '-30 days') THEN 1 ELSE 0 END), 0),
			   COALESCE(AVG(overall_score), 0)
		FROM sessions
	`).Scan(
		&stats.TotalSessions,
		&stats.SessionsThisWeek,
		&stats.SessionsThisMonth,
		&stats.AverageScore,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to compute statistics: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT risk_level, COUNT(*) FROM sessions WHERE risk_level IS NOT NULL GROUP BY risk_level`)
	if err != nil {
		return nil, fmt.Errorf("failed to query risk distribution: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var risk string
		var count int
		if err := rows.Scan(&risk, &count); err != nil {
			return nil, fmt.Errorf("failed to scan risk distribution row: %w", err)
		}
		stats.RiskDistribution[risk] = count
	}
	return stats, rows.Err()
}

// Health verifies the store is reachable.
func (s *SQLiteStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the store and releases resources.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
