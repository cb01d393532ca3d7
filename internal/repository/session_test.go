package repository

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/virtual-mirror-server/internal/database"
	"github.com/virtual-mirror-server/internal/domain"
)

// generateTestPassword creates a random password for test databases
func generateTestPassword() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return "test_fallback_password_123"
	}
	return "test_" + hex.EncodeToString(bytes)
}

func setupTestDB(t *testing.T) (*database.DB, func()) {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run container-backed repository tests")
	}

	ctx := context.Background()
	testPassword := generateTestPassword()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword(testPassword),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := pgContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := pgContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	cfg := &domain.DatabaseConfig{
		Host:            host,
		Port:            port.Int(),
		Database:        "testdb",
		Username:        "testuser",
		Password:        testPassword,
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
		MigrationsPath:  "../../migrations",
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	db, err := database.NewConnection(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("Failed to create database connection: %v", err)
	}

	migrationRunner, err := database.NewMigrationRunner(cfg, logger)
	if err != nil {
		t.Fatalf("Failed to create migration runner: %v", err)
	}

	if err := migrationRunner.Up(); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		migrationRunner.Close()
		db.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}

	return db, cleanup
}

func newTestRepo(db *database.DB) *SessionRepository {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewSessionRepository(db.Pool, logger)
}

func testSession() *domain.Session {
	return &domain.Session{
		ID:          uuid.New().String(),
		ChildName:   "Test Child",
		ChildAge:    8,
		StartedAt:   time.Now().UTC().Truncate(time.Second),
		SessionType: domain.SessionTypeInitial,
	}
}

func TestSessionRepository_CreateAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := newTestRepo(db)
	ctx := context.Background()

	session := testSession()
	require.NoError(t, repo.CreateSession(ctx, session))
	assert.GreaterOrEqual(t, session.DisplayID, 1000)
	assert.LessOrEqual(t, session.DisplayID, 9999)

	got, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, session.DisplayID, got.DisplayID)
	assert.Equal(t, "Test Child", got.ChildName)
	assert.Equal(t, domain.SessionTypeInitial, got.SessionType)
}

func TestSessionRepository_GetNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := newTestRepo(db)

	_, err := repo.GetSession(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSessionRepository_SaveOutcome(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := newTestRepo(db)
	ctx := context.Background()

	session := testSession()
	require.NoError(t, repo.CreateSession(ctx, session))

	analysis, _ := json.Marshal(map[string]any{"classification": "Normal"})
	require.NoError(t, repo.SaveOutcome(ctx, session.ID, domain.RISK_LOW, 95.0, analysis))

	got, err := repo.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RISK_LOW, got.RiskLevel)
	require.NotNil(t, got.OverallScore)
	assert.Equal(t, 95.0, *got.OverallScore)
	assert.JSONEq(t, string(analysis), string(got.Analysis))
}

func TestSessionRepository_FollowupSessions(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := newTestRepo(db)
	ctx := context.Background()

	parent := testSession()
	require.NoError(t, repo.CreateSession(ctx, parent))

	followup := testSession()
	followup.SessionType = domain.SessionTypeFollowup
	followup.ParentSessionID = parent.ID
	followup.StartedAt = parent.StartedAt.Add(30 * 24 * time.Hour)
	require.NoError(t, repo.CreateSession(ctx, followup))

	followups, err := repo.FollowupSessions(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, followups, 1)
	assert.Equal(t, followup.ID, followups[0].ID)
}

func TestSessionRepository_TasksAndMetrics(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := newTestRepo(db)
	ctx := context.Background()

	session := testSession()
	require.NoError(t, repo.CreateSession(ctx, session))

	task := &domain.TaskResult{
		SessionID:       session.ID,
		TaskName:        "balance",
		DurationSeconds: 30,
		Status:          "completed",
	}
	require.NoError(t, repo.CreateTask(ctx, task))
	require.NotEmpty(t, task.ID)

	metrics, err := repo.CreateMetrics(ctx, task.ID, map[string]float64{
		"stability_score": 72,
		"sway_magnitude":  0.012,
	})
	require.NoError(t, err)
	assert.Len(t, metrics, 2)

	tasks, err := repo.TasksBySession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	stored, err := repo.MetricsByTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestSessionRepository_DeleteCascades(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := newTestRepo(db)
	ctx := context.Background()

	session := testSession()
	require.NoError(t, repo.CreateSession(ctx, session))

	task := &domain.TaskResult{SessionID: session.ID, TaskName: "walk", Status: "completed"}
	require.NoError(t, repo.CreateTask(ctx, task))

	require.NoError(t, repo.DeleteSession(ctx, session.ID))

	_, err := repo.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	tasks, err := repo.TasksBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestSessionRepository_Statistics(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	repo := newTestRepo(db)
	ctx := context.Background()

	for i, risk := range []domain.RiskLevel{domain.RISK_LOW, domain.RISK_LOW, domain.RISK_HIGH} {
		session := testSession()
		require.NoError(t, repo.CreateSession(ctx, session))
		require.NoError(t, repo.SaveOutcome(ctx, session.ID, risk, float64(80+i*5), []byte(`{}`)))
	}

	stats, err := repo.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalSessions)
	assert.Equal(t, 2, stats.RiskDistribution["low"])
	assert.Equal(t, 1, stats.RiskDistribution["high"])
	assert.Equal(t, 3, stats.SessionsThisWeek)
	assert.InDelta(t, 85.0, stats.AverageScore, 0.01)
}
