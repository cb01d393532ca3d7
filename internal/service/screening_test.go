package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtual-mirror-server/internal/domain"
)

// memoryStore is a minimal in-memory SessionStore for service tests.
type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[string]*domain.Session)}
}

func (m *memoryStore) CreateSession(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	copied.DisplayID = 1000 + len(m.sessions)
	m.sessions[session.ID] = &copied
	return nil
}

func (m *memoryStore) GetSession(_ context.Context, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *memoryStore) ListSessions(_ context.Context, _, _ int) ([]*domain.Session, error) {
	return nil, nil
}

func (m *memoryStore) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memoryStore) FollowupSessions(_ context.Context, _ string) ([]*domain.Session, error) {
	return nil, nil
}

func (m *memoryStore) SaveOutcome(_ context.Context, sessionID string, risk domain.RiskLevel, score float64, analysis []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return domain.ErrNotFound
	}
	session.RiskLevel = risk
	session.OverallScore = &score
	session.Analysis = analysis
	return nil
}

func (m *memoryStore) CreateTask(_ context.Context, _ *domain.TaskResult) error { return nil }

func (m *memoryStore) TasksBySession(_ context.Context, _ string) ([]*domain.TaskResult, error) {
	return nil, nil
}

func (m *memoryStore) CreateMetrics(_ context.Context, _ string, _ map[string]float64) ([]*domain.Metric, error) {
	return nil, nil
}

func (m *memoryStore) MetricsByTask(_ context.Context, _ string) ([]*domain.Metric, error) {
	return nil, nil
}

func (m *memoryStore) Statistics(_ context.Context) (*domain.SessionStatistics, error) {
	return &domain.SessionStatistics{}, nil
}

func (m *memoryStore) Health(_ context.Context) error { return nil }
func (m *memoryStore) Close() error                   { return nil }

func sampleFrames() []JointFrame {
	return []JointFrame{
		{LeftShoulder: 160, RightShoulder: 162, LeftElbow: 140, RightElbow: 141, LeftHip: 118, RightHip: 119, LeftKnee: 132, RightKnee: 133, Timestamp: 0},
		{LeftShoulder: 20, RightShoulder: 22, LeftElbow: 10, RightElbow: 11, LeftHip: 10, RightHip: 12, LeftKnee: 8, RightKnee: 9, Timestamp: 33},
	}
}

func TestSummaryStatistics(t *testing.T) {
	stats := SummaryStatistics(sampleFrames())

	require.Contains(t, stats, "leftShoulder")
	js := stats["leftShoulder"]
	assert.Equal(t, 90.0, js.Mean)
	assert.Equal(t, 20.0, js.Min)
	assert.Equal(t, 160.0, js.Max)
	assert.Equal(t, 140.0, js.Range)

	assert.Len(t, stats, 8)
}

func TestSummaryStatisticsEmpty(t *testing.T) {
	assert.Empty(t, SummaryStatistics(nil))
}

func TestSymmetryAnalysis(t *testing.T) {
	frames := []JointFrame{
		{LeftShoulder: 100, RightShoulder: 110, LeftElbow: 50, RightElbow: 50, LeftHip: 90, RightHip: 90, LeftKnee: 80, RightKnee: 80},
	}

	symmetry := SymmetryAnalysis(frames)

	require.Contains(t, symmetry, "shoulder")
	sm := symmetry["shoulder"]
	assert.Equal(t, 10.0, sm.Difference)
	assert.InDelta(t, 9.52, sm.Percentage, 0.01)
	assert.Equal(t, 100.0, sm.LeftAvg)
	assert.Equal(t, 110.0, sm.RightAvg)

	require.Contains(t, symmetry, "elbow")
	assert.Equal(t, 0.0, symmetry["elbow"].Percentage)
}

func TestBalanceFromResultsConvertsStanceTime(t *testing.T) {
	data := balanceFromResults(map[string]any{
		"stabilityScore": 72.0,
		"maxBalanceTime": 12000.0,
		"swayMagnitude":  0.012,
	})

	require.NotNil(t, data)
	assert.Equal(t, 72.0, data["stability_score"])
	assert.Equal(t, 12.0, data["single_leg_stance_time"])
	assert.Equal(t, 0.012, data["sway_magnitude"])
}

func TestGaitFromResults(t *testing.T) {
	data := gaitFromResults(map[string]any{
		"cadence":      155.0,
		"strideLength": 0.52,
	})

	require.NotNil(t, data)
	assert.Equal(t, 155.0, data["cadence"])
	assert.Equal(t, 0.52, data["step_length"])

	assert.Nil(t, gaitFromResults(nil))
}

func TestScreeningAnalyzePersistsOutcome(t *testing.T) {
	store := newMemoryStore()
	logger := newTestEngine().logger
	svc := NewScreeningService(logger, newTestEngine(), store, nil)

	metrics := &SessionMetrics{
		PatientName: "Test Child",
		PatientAge:  intPtr(9),
		Duration:    180,
		JointAngles: sampleFrames(),
		BalanceResults: map[string]any{
			"stabilityScore": 72.0,
			"maxBalanceTime": 12000.0,
			"swayMagnitude":  0.012,
		},
		WalkResults: map[string]any{
			"cadence":      155.0,
			"strideLength": 0.52,
		},
	}

	response, err := svc.Analyze(context.Background(), metrics)
	require.NoError(t, err)
	require.NotNil(t, response)

	assert.NotEmpty(t, response.SessionID)
	assert.True(t, response.RiskLevel.IsValid())
	require.NotNil(t, response.Summary)
	assert.Equal(t, "Test Child", response.Summary.PatientName)
	assert.Equal(t, 2, response.Summary.DataPoints)
	assert.NotEmpty(t, response.Recommendations)

	stored, err := store.GetSession(context.Background(), response.SessionID)
	require.NoError(t, err)
	assert.Equal(t, response.RiskLevel, stored.RiskLevel)
	require.NotEmpty(t, stored.Analysis)

	var decoded AnalysisResponse
	require.NoError(t, json.Unmarshal(stored.Analysis, &decoded))
	assert.Equal(t, response.SessionID, decoded.SessionID)
}

func TestScreeningAnalyzeAnonymousDefault(t *testing.T) {
	store := newMemoryStore()
	svc := NewScreeningService(newTestEngine().logger, newTestEngine(), store, nil)

	response, err := svc.Analyze(context.Background(), &SessionMetrics{
		JointAngles: sampleFrames(),
	})
	require.NoError(t, err)
	assert.Equal(t, "Anonymous", response.Summary.PatientName)
}

func TestScreeningCachedAnalysisFallsBackToStore(t *testing.T) {
	store := newMemoryStore()
	svc := NewScreeningService(newTestEngine().logger, newTestEngine(), store, nil)

	response, err := svc.Analyze(context.Background(), &SessionMetrics{
		SessionID:   "11111111-1111-1111-1111-111111111111",
		JointAngles: sampleFrames(),
	})
	require.NoError(t, err)

	loaded, err := svc.CachedAnalysis(context.Background(), response.SessionID)
	require.NoError(t, err)
	assert.Equal(t, response.SessionID, loaded.SessionID)
	assert.Equal(t, response.RiskLevel, loaded.RiskLevel)
}

func TestScreeningCachedAnalysisNotFound(t *testing.T) {
	store := newMemoryStore()
	svc := NewScreeningService(newTestEngine().logger, newTestEngine(), store, nil)

	_, err := svc.CachedAnalysis(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
