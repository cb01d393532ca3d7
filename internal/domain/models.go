package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionType distinguishes an initial screening from a follow-up visit.
const (
	SessionTypeInitial  = "initial"
	SessionTypeFollowup = "followup"
)

// Session is one screening visit for one child. DisplayID is a short
// 4-digit code shown to clinicians and parents; the UUID stays internal.
// Analysis holds the serialized AnalysisResult once the session has been
// analyzed.
type Session struct {
	ID              string          `json:"id"`
	DisplayID       int             `json:"display_id,omitempty"`
	ChildName       string          `json:"child_name"`
	ChildAge        int             `json:"child_age"`
	ChildHeightCM   *float64        `json:"child_height_cm,omitempty"`
	ChildWeightKG   *float64        `json:"child_weight_kg,omitempty"`
	ChildGender     string          `json:"child_gender,omitempty"`
	ChildNotes      string          `json:"child_notes,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	SessionType     string          `json:"session_type"`
	ParentSessionID string          `json:"parent_session_id,omitempty"`
	RiskLevel       RiskLevel       `json:"risk_level,omitempty"`
	OverallScore    *float64        `json:"overall_score,omitempty"`
	Analysis        json.RawMessage `json:"analysis,omitempty"`
}

// Validate ensures the session record is safe to persist.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("session validation: ID is required")
	}
	if s.ChildName == "" {
		return fmt.Errorf("session validation: child name is required")
	}
	if s.SessionType != SessionTypeInitial && s.SessionType != SessionTypeFollowup {
		return fmt.Errorf("session validation: %w: %q", ErrInvalidSessionType, s.SessionType)
	}
	if s.SessionType == SessionTypeFollowup && s.ParentSessionID == "" {
		return fmt.Errorf("session validation: follow-up session requires a parent session ID")
	}
	if s.RiskLevel != "" && !s.RiskLevel.IsValid() {
		return fmt.Errorf("session validation: %w", ErrInvalidRiskLevel)
	}
	return nil
}

// TaskResult records the outcome of one movement task (raise-hand, balance,
// walk, jump) within a session.
type TaskResult struct {
	ID              string  `json:"id"`
	SessionID       string  `json:"session_id"`
	TaskName        string  `json:"task_name"`
	DurationSeconds float64 `json:"duration_seconds"`
	Status          string  `json:"status"`
	Notes           string  `json:"notes,omitempty"`
}

// Metric is one summary scalar produced by a task (for example
// "stability_score" or "cadence").
type Metric struct {
	ID          string  `json:"id"`
	TaskID      string  `json:"task_id"`
	MetricName  string  `json:"metric_name"`
	MetricValue float64 `json:"metric_value"`
}

// SessionStatistics is the aggregate view served by the statistics
// endpoint.
type SessionStatistics struct {
	TotalSessions     int               `json:"total_sessions"`
	RiskDistribution  map[string]int    `json:"risk_distribution"`
	SessionsThisWeek  int               `json:"sessions_this_week"`
	SessionsThisMonth int               `json:"sessions_this_month"`
	AverageScore      float64           `json:"average_score"`
}
