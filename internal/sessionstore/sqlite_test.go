package sessionstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtual-mirror-server/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testSession() *domain.Session {
	return &domain.Session{
		ID:          uuid.New().String(),
		ChildName:   "Test Child",
		ChildAge:    8,
		StartedAt:   time.Now().UTC(),
		SessionType: domain.SessionTypeInitial,
	}
}

func TestCreateAndGetSession(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := testSession()
	session.ChildGender = "female"
	session.ChildNotes = "no prior concerns"

	require.NoError(t, store.CreateSession(ctx, session))
	assert.GreaterOrEqual(t, session.DisplayID, 1000)
	assert.LessOrEqual(t, session.DisplayID, 9999)

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, session.DisplayID, got.DisplayID)
	assert.Equal(t, "Test Child", got.ChildName)
	assert.Equal(t, 8, got.ChildAge)
	assert.Equal(t, "female", got.ChildGender)
	assert.Equal(t, "no prior concerns", got.ChildNotes)
}

func TestCreateSessionRejectsInvalid(t *testing.T) {
	store := newTestStore(t)

	session := testSession()
	session.ChildName = ""
	assert.Error(t, store.CreateSession(context.Background(), session))

	session = testSession()
	session.SessionType = "annual"
	assert.ErrorIs(t, store.CreateSession(context.Background(), session), domain.ErrInvalidSessionType)
}

func TestGetSessionNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSession(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestListSessionsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := testSession()
	older.StartedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.CreateSession(ctx, older))

	newer := testSession()
	require.NoError(t, store.CreateSession(ctx, newer))

	sessions, err := store.ListSessions(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer.ID, sessions[0].ID)
	assert.Equal(t, older.ID, sessions[1].ID)

	limited, err := store.ListSessions(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, older.ID, limited[0].ID)
}

func TestSaveOutcome(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := testSession()
	require.NoError(t, store.CreateSession(ctx, session))

	analysis := []byte(`{"classification":"Borderline","confidence":55.5}`)
	require.NoError(t, store.SaveOutcome(ctx, session.ID, domain.RISK_MODERATE, 55.5, analysis))

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RISK_MODERATE, got.RiskLevel)
	require.NotNil(t, got.OverallScore)
	assert.Equal(t, 55.5, *got.OverallScore)
	assert.JSONEq(t, string(analysis), string(got.Analysis))
}

func TestSaveOutcomeMissingSession(t *testing.T) {
	store := newTestStore(t)
	err := store.SaveOutcome(context.Background(), uuid.New().String(), domain.RISK_LOW, 90, []byte(`{}`))
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFollowupSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	parent := testSession()
	require.NoError(t, store.CreateSession(ctx, parent))

	first := testSession()
	first.SessionType = domain.SessionTypeFollowup
	first.ParentSessionID = parent.ID
	first.StartedAt = parent.StartedAt.Add(30 * 24 * time.Hour)
	require.NoError(t, store.CreateSession(ctx, first))

	second := testSession()
	second.SessionType = domain.SessionTypeFollowup
	second.ParentSessionID = parent.ID
	second.StartedAt = parent.StartedAt.Add(90 * 24 * time.Hour)
	require.NoError(t, store.CreateSession(ctx, second))

	followups, err := store.FollowupSessions(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, followups, 2)
	assert.Equal(t, first.ID, followups[0].ID)
	assert.Equal(t, second.ID, followups[1].ID)
}

func TestTasksAndMetrics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := testSession()
	require.NoError(t, store.CreateSession(ctx, session))

	task := &domain.TaskResult{
		SessionID:       session.ID,
		TaskName:        "balance",
		DurationSeconds: 30,
		Status:          "completed",
	}
	require.NoError(t, store.CreateTask(ctx, task))
	require.NotEmpty(t, task.ID)

	created, err := store.CreateMetrics(ctx, task.ID, map[string]float64{
		"stability_score":        72,
		"single_leg_stance_time": 12,
	})
	require.NoError(t, err)
	assert.Len(t, created, 2)

	tasks, err := store.TasksBySession(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "balance", tasks[0].TaskName)

	metrics, err := store.MetricsByTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, metrics, 2)

	names := map[string]float64{}
	for _, m := range metrics {
		names[m.MetricName] = m.MetricValue
	}
	assert.Equal(t, 72.0, names["stability_score"])
	assert.Equal(t, 12.0, names["single_leg_stance_time"])
}

func TestDeleteSessionCascades(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := testSession()
	require.NoError(t, store.CreateSession(ctx, session))

	task := &domain.TaskResult{SessionID: session.ID, TaskName: "walk", Status: "completed"}
	require.NoError(t, store.CreateTask(ctx, task))
	_, err := store.CreateMetrics(ctx, task.ID, map[string]float64{"cadence": 155})
	require.NoError(t, err)

	require.NoError(t, store.DeleteSession(ctx, session.ID))

	_, err = store.GetSession(ctx, session.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	tasks, err := store.TasksBySession(ctx, session.ID)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	metrics, err := store.MetricsByTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, metrics)
}

func TestDeleteSessionNotFound(t *testing.T) {
	store := newTestStore(t)
	err := store.DeleteSession(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestStatistics(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	risks := []domain.RiskLevel{domain.RISK_LOW, domain.RISK_MODERATE, domain.RISK_MODERATE}
	scores := []float64{95, 55, 60}
	for i, risk := range risks {
		session := testSession()
		require.NoError(t, store.CreateSession(ctx, session))
		require.NoError(t, store.SaveOutcome(ctx, session.ID, risk, scores[i], []byte(`{}`)))
	}

	stats, err := store.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalSessions)
	assert.Equal(t, 1, stats.RiskDistribution["low"])
	assert.Equal(t, 2, stats.RiskDistribution["moderate"])
	assert.Equal(t, 3, stats.SessionsThisWeek)
	assert.Equal(t, 3, stats.SessionsThisMonth)
	assert.InDelta(t, 70.0, stats.AverageScore, 0.01)
}

func TestStatisticsEmptyStore(t *testing.T) {
	store := newTestStore(t)

	stats, err := store.Statistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalSessions)
	assert.Equal(t, 0.0, stats.AverageScore)
	assert.Empty(t, stats.RiskDistribution)
}

func TestHealth(t *testing.T) {
	store := newTestStore(t)
	assert.NoError(t, store.Health(context.Background()))
}
