package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/virtual-mirror-server/internal/domain"
)

// JointFrame is one sampled set of joint angles (degrees) captured during
// a movement session. Field names follow the capture client's JSON.
type JointFrame struct {
	LeftShoulder  float64 `json:"leftShoulder"`
	RightShoulder float64 `json:"rightShoulder"`
	LeftElbow     float64 `json:"leftElbow"`
	RightElbow    float64 `json:"rightElbow"`
	LeftHip       float64 `json:"leftHip"`
	RightHip      float64 `json:"rightHip"`
	LeftKnee      float64 `json:"leftKnee"`
	RightKnee     float64 `json:"rightKnee"`
	Timestamp     int64   `json:"timestamp"`
}

// SessionMetrics is the full payload of a recorded movement session as
// submitted for analysis. Callers reduce raw pose streams to these
// summaries before calling in; the engine never sees raw sensor data.
type SessionMetrics struct {
	SessionID   string       `json:"session_id,omitempty"`
	PatientName string       `json:"patient_name,omitempty"`
	PatientAge  *int         `json:"patient_age,omitempty"`
	SessionDate string       `json:"session_date,omitempty"`
	Duration    int          `json:"duration"`
	JointAngles []JointFrame `json:"joint_angles"`

	RaiseHandResults map[string]any `json:"raise_hand_results,omitempty"`
	BalanceResults   map[string]any `json:"balance_results,omitempty"`
	WalkResults      map[string]any `json:"walk_results,omitempty"`
	JumpResults      map[string]any `json:"jump_results,omitempty"`

	Notes string `json:"notes,omitempty"`
}

// JointStats summarizes one joint's angle trace.
type JointStats struct {
	Mean  float64 `json:"mean"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Range float64 `json:"range"`
}

// SymmetryMetrics describes left/right agreement for one joint pair.
type SymmetryMetrics struct {
	Difference float64 `json:"difference"`
	Percentage float64 `json:"percentage"`
	LeftAvg    float64 `json:"left_avg"`
	RightAvg   float64 `json:"right_avg"`
}

// ClinicalAnalysis is the engine's output as embedded in the session
// summary.
type ClinicalAnalysis struct {
	Classification  domain.Classification           `json:"classification"`
	Confidence      float64                         `json:"confidence"`
	AgeGroup        domain.AgeGroup                 `json:"age_group"`
	Flags           []string                        `json:"flags"`
	ZScores         map[string]float64              `json:"z_scores"`
	DetailedMetrics map[string]*domain.DomainResult `json:"detailed_metrics"`
}

// SessionSummary is the denormalized per-session view stored with the
// session and rendered into reports.
type SessionSummary struct {
	SessionID        string                     `json:"session_id"`
	PatientName      string                     `json:"patient_name"`
	PatientAge       *int                       `json:"patient_age,omitempty"`
	Duration         int                        `json:"duration"`
	DataPoints       int                        `json:"data_points"`
	Statistics       map[string]JointStats      `json:"statistics"`
	Symmetry         map[string]SymmetryMetrics `json:"symmetry"`
	TaskResults      map[string]map[string]any  `json:"task_results"`
	ClinicalAnalysis ClinicalAnalysis           `json:"clinical_analysis"`
}

// AnalysisResponse is the caller-facing result of analyzing one session.
type AnalysisResponse struct {
	SessionID       string           `json:"session_id"`
	Summary         *SessionSummary  `json:"summary"`
	Recommendations []string         `json:"recommendations"`
	RiskLevel       domain.RiskLevel `json:"risk_level"`
	Timestamp       string           `json:"timestamp"`
}

// ResultCache caches analysis responses keyed by session ID. A nil cache
// is valid and means every lookup misses.
type ResultCache interface {
	Get(ctx context.Context, sessionID string) (*AnalysisResponse, bool, error)
	Set(ctx context.Context, sessionID string, result *AnalysisResponse) error
}

// ScreeningService orchestrates a session analysis: reduce the recorded
// frames to domain dictionaries, run the engine, persist the outcome, and
// cache the response for report generation.
type ScreeningService struct {
	logger *logrus.Logger
	engine *Engine
	store  domain.SessionStore
	cache  ResultCache
}

// NewScreeningService creates a screening service. cache may be nil.
func NewScreeningService(logger *logrus.Logger, engine *Engine, store domain.SessionStore, cache ResultCache) *ScreeningService {
	return &ScreeningService{
		logger: logger,
		engine: engine,
		store:  store,
		cache:  cache,
	}
}

// Analyze runs the full screening pipeline for one session and persists
// the outcome.
func (s *ScreeningService) Analyze(ctx context.Context, metrics *SessionMetrics) (*AnalysisResponse, error) {
	start := time.Now()

	sessionID := metrics.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	stats := SummaryStatistics(metrics.JointAngles)
	symmetry := SymmetryAnalysis(metrics.JointAngles)

	romData := romFromStats(stats)
	balanceData := balanceFromResults(metrics.BalanceResults)
	symmetryData := symmetryToMetrics(symmetry)
	gaitData := gaitFromResults(metrics.WalkResults)

	analysis := s.engine.AnalyzeAll(romData, balanceData, symmetryData, gaitData, metrics.PatientAge)
	risk := analysis.Classification.RiskLevel()

	summary := &SessionSummary{
		SessionID:   sessionID,
		PatientName: patientName(metrics.PatientName),
		PatientAge:  metrics.PatientAge,
		Duration:    metrics.Duration,
		DataPoints:  len(metrics.JointAngles),
		Statistics:  stats,
		Symmetry:    symmetry,
		TaskResults: map[string]map[string]any{
			"raise_hand": metrics.RaiseHandResults,
			"balance":    metrics.BalanceResults,
			"walk":       metrics.WalkResults,
			"jump":       metrics.JumpResults,
		},
		ClinicalAnalysis: ClinicalAnalysis{
			Classification:  analysis.Classification,
			Confidence:      analysis.Confidence,
			AgeGroup:        analysis.AgeGroup,
			Flags:           analysis.Flags,
			ZScores:         analysis.ZScores,
			DetailedMetrics: analysis.MetricsAnalysis,
		},
	}

	response := &AnalysisResponse{
		SessionID:       sessionID,
		Summary:         summary,
		Recommendations: analysis.Recommendations,
		RiskLevel:       risk,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}

	if err := s.persist(ctx, sessionID, metrics, response); err != nil {
		return nil, fmt.Errorf("persisting screening outcome: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, sessionID, response); err != nil {
			s.logger.WithError(err).WithField("session_id", sessionID).Warn("Failed to cache analysis result")
		}
	}

	s.logger.WithFields(logrus.Fields{
		"session_id":      sessionID,
		"classification":  analysis.Classification.String(),
		"risk_level":      string(risk),
		"confidence":      analysis.Confidence,
		"data_points":     len(metrics.JointAngles),
		"processing_time": time.Since(start),
	}).Info("Session analysis completed")

	return response, nil
}

// CachedAnalysis retrieves a previously computed analysis, consulting the
// cache first and falling back to the stored session.
func (s *ScreeningService) CachedAnalysis(ctx context.Context, sessionID string) (*AnalysisResponse, error) {
	if s.cache != nil {
		if result, ok, err := s.cache.Get(ctx, sessionID); err != nil {
			s.logger.WithError(err).WithField("session_id", sessionID).Warn("Analysis cache lookup failed")
		} else if ok {
			return result, nil
		}
	}

	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(session.Analysis) == 0 {
		return nil, fmt.Errorf("session %s has no stored analysis: %w", sessionID, domain.ErrNotFound)
	}

	var response AnalysisResponse
	if err := json.Unmarshal(session.Analysis, &response); err != nil {
		return nil, fmt.Errorf("decoding stored analysis: %w", err)
	}
	return &response, nil
}

func (s *ScreeningService) persist(ctx context.Context, sessionID string, metrics *SessionMetrics, response *AnalysisResponse) error {
	payload, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("encoding analysis: %w", err)
	}

	age := 0
	if metrics.PatientAge != nil {
		age = *metrics.PatientAge
	}

	session := &domain.Session{
		ID:          sessionID,
		ChildName:   patientName(metrics.PatientName),
		ChildAge:    age,
		ChildNotes:  metrics.Notes,
		StartedAt:   time.Now().UTC(),
		SessionType: domain.SessionTypeInitial,
	}

	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		if err := s.store.CreateSession(ctx, session); err != nil {
			return err
		}
	}

	score := 0.0
	if response.Summary != nil {
		score = response.Summary.ClinicalAnalysis.Confidence
	}
	return s.store.SaveOutcome(ctx, sessionID, response.RiskLevel, score, payload)
}

// SummaryStatistics reduces the frame trace to per-joint mean/min/max/range.
func SummaryStatistics(frames []JointFrame) map[string]JointStats {
	stats := make(map[string]JointStats)
	if len(frames) == 0 {
		return stats
	}

	for name, extract := range jointExtractors {
		min := math.Inf(1)
		max := math.Inf(-1)
		sum := 0.0
		for _, frame := range frames {
			v := extract(frame)
			sum += v
			if v < min {
				min = v
			}
			if v > max {
				max = v
			}
		}
		stats[name] = JointStats{
			Mean:  sum / float64(len(frames)),
			Min:   min,
			Max:   max,
			Range: max - min,
		}
	}
	return stats
}

// SymmetryAnalysis computes left/right symmetry per joint pair as the
// absolute difference of side averages over their mean, in percent.
func SymmetryAnalysis(frames []JointFrame) map[string]SymmetryMetrics {
	result := make(map[string]SymmetryMetrics)
	if len(frames) == 0 {
		return result
	}

	for _, pair := range jointPairs {
		leftSum, rightSum := 0.0, 0.0
		for _, frame := range frames {
			leftSum += pair.Left(frame)
			rightSum += pair.Right(frame)
		}
		leftAvg := leftSum / float64(len(frames))
		rightAvg := rightSum / float64(len(frames))

		difference := math.Abs(leftAvg - rightAvg)
		avg := (leftAvg + rightAvg) / 2
		percentage := 0.0
		if avg > 0 {
			percentage = difference / avg * 100
		}

		result[pair.Name] = SymmetryMetrics{
			Difference: round2(difference),
			Percentage: round2(percentage),
			LeftAvg:    round2(leftAvg),
			RightAvg:   round2(rightAvg),
		}
	}
	return result
}

var jointExtractors = map[string]func(JointFrame) float64{
	"leftShoulder":  func(f JointFrame) float64 { return f.LeftShoulder },
	"rightShoulder": func(f JointFrame) float64 { return f.RightShoulder },
	"leftElbow":     func(f JointFrame) float64 { return f.LeftElbow },
	"rightElbow":    func(f JointFrame) float64 { return f.RightElbow },
	"leftHip":       func(f JointFrame) float64 { return f.LeftHip },
	"rightHip":      func(f JointFrame) float64 { return f.RightHip },
	"leftKnee":      func(f JointFrame) float64 { return f.LeftKnee },
	"rightKnee":     func(f JointFrame) float64 { return f.RightKnee },
}

var jointPairs = []struct {
	Name  string
	Left  func(JointFrame) float64
	Right func(JointFrame) float64
}{
	{"shoulder", func(f JointFrame) float64 { return f.LeftShoulder }, func(f JointFrame) float64 { return f.RightShoulder }},
	{"elbow", func(f JointFrame) float64 { return f.LeftElbow }, func(f JointFrame) float64 { return f.RightElbow }},
	{"hip", func(f JointFrame) float64 { return f.LeftHip }, func(f JointFrame) float64 { return f.RightHip }},
	{"knee", func(f JointFrame) float64 { return f.LeftKnee }, func(f JointFrame) float64 { return f.RightKnee }},
}

// romFromStats feeds each joint's observed range into the ROM analyzer.
func romFromStats(stats map[string]JointStats) map[string]float64 {
	if len(stats) == 0 {
		return nil
	}
	rom := make(map[string]float64, len(stats))
	for joint, js := range stats {
		rom[joint] = js.Range
	}
	return rom
}

// balanceFromResults extracts balance metrics from the task payload.
// maxBalanceTime arrives in milliseconds and is converted to seconds.
func balanceFromResults(results map[string]any) map[string]float64 {
	if len(results) == 0 {
		return nil
	}
	return map[string]float64{
		"stability_score":        numberFrom(results, "stabilityScore"),
		"single_leg_stance_time": numberFrom(results, "maxBalanceTime") / 1000,
		"sway_magnitude":         numberFrom(results, "swayMagnitude"),
	}
}

// gaitFromResults extracts gait metrics from the walk task payload.
func gaitFromResults(results map[string]any) map[string]float64 {
	if len(results) == 0 {
		return nil
	}
	return map[string]float64{
		"cadence":     numberFrom(results, "cadence"),
		"step_length": numberFrom(results, "strideLength"),
	}
}

func symmetryToMetrics(symmetry map[string]SymmetryMetrics) map[string]float64 {
	if len(symmetry) == 0 {
		return nil
	}
	out := make(map[string]float64, len(symmetry))
	for name, sm := range symmetry {
		out[name+"_symmetry"] = sm.Percentage
	}
	return out
}

// numberFrom reads a numeric value from a decoded JSON object, tolerating
// the numeric types encoding/json may produce.
func numberFrom(m map[string]any, key string) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	default:
		return 0
	}
}

func patientName(name string) string {
	if name == "" {
		return "Anonymous"
	}
	return name
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
