// Package domain contains core business entities and types for pediatric
// movement screening: normative reference descriptors, classification
// categories, and the per-domain and composite analysis results produced
// by the screening engine.
package domain

import (
	"fmt"
)

// Classification represents the screening outcome for a metric, a movement
// domain, or a whole session. The set is closed and ordered by severity:
// Normal < Borderline < WeaknessSuspected. InsufficientData is the terminal
// value for "nothing classifiable was supplied" and is only ever produced
// by aggregation, never by per-metric classification.
type Classification string

const (
	NORMAL             Classification = "Normal"
	BORDERLINE         Classification = "Borderline"
	WEAKNESS_SUSPECTED Classification = "Weakness suspected"
	INSUFFICIENT_DATA  Classification = "Insufficient data"
)

// RiskLevel is the coarse triage label exposed to callers alongside the
// clinical classification.
type RiskLevel string

const (
	RISK_LOW      RiskLevel = "low"
	RISK_MODERATE RiskLevel = "moderate"
	RISK_HIGH     RiskLevel = "high"
	RISK_UNKNOWN  RiskLevel = "unknown"
)

// AgeGroup identifies one of the three pediatric age bands used to select
// normative data. Symmetry norms are age-independent and use AllAges.
type AgeGroup string

const (
	AgeGroup5To7   AgeGroup = "5-7"
	AgeGroup8To10  AgeGroup = "8-10"
	AgeGroup11To13 AgeGroup = "11-13"
	AllAges        AgeGroup = "all_ages"
)

// IsValid validates that the Classification is one of the four closed
// variants. Screening results with any other value must never reach
// clinical reporting.
func (c Classification) IsValid() bool {
	switch c {
	case NORMAL, BORDERLINE, WEAKNESS_SUSPECTED, INSUFFICIENT_DATA:
		return true
	default:
		return false
	}
}

// String returns the string representation of the classification.
func (c Classification) String() string {
	return string(c)
}

// Severity returns the ordinal severity of the classification for
// documentation and sorting. InsufficientData sorts below Normal since it
// carries no finding at all.
func (c Classification) Severity() int {
	switch c {
	case NORMAL:
		return 1
	case BORDERLINE:
		return 2
	case WEAKNESS_SUSPECTED:
		return 3
	default:
		return 0
	}
}

// RiskLevel maps the classification to the triage label used by the API
// and stored with each session.
func (c Classification) RiskLevel() RiskLevel {
	switch c {
	case NORMAL:
		return RISK_LOW
	case BORDERLINE:
		return RISK_MODERATE
	case WEAKNESS_SUSPECTED:
		return RISK_HIGH
	default:
		return RISK_UNKNOWN
	}
}

// RequiresFollowUp reports whether the classification calls for a
// professional follow-up assessment.
func (c Classification) RequiresFollowUp() bool {
	switch c {
	case BORDERLINE, WEAKNESS_SUSPECTED:
		return true
	default:
		return false
	}
}

// LogFields returns structured logging fields for audit trails.
func (c Classification) LogFields() map[string]any {
	return map[string]any{
		"classification": string(c),
		"risk_level":     string(c.RiskLevel()),
		"severity":       c.Severity(),
		"follow_up":      c.RequiresFollowUp(),
	}
}

// IsValid validates the age group label.
func (g AgeGroup) IsValid() bool {
	switch g {
	case AgeGroup5To7, AgeGroup8To10, AgeGroup11To13, AllAges:
		return true
	default:
		return false
	}
}

// String returns the string representation of the age group.
func (g AgeGroup) String() string {
	return string(g)
}

// IsValid validates the risk level.
func (r RiskLevel) IsValid() bool {
	switch r {
	case RISK_LOW, RISK_MODERATE, RISK_HIGH, RISK_UNKNOWN:
		return true
	default:
		return false
	}
}

// NormativeRange is an immutable descriptor of the expected distribution of
// one metric within one age group. MinNormal and MaxNormal bound the
// clinically accepted interval; they are curated values and need not be
// symmetric around Mean. Every shipped range satisfies
// MinNormal <= Mean <= MaxNormal.
type NormativeRange struct {
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"std_dev"`
	MinNormal float64 `json:"min_normal"`
	MaxNormal float64 `json:"max_normal"`
}

// IsWithinNormal reports whether value lies inside the clinically accepted
// normal interval, bounds inclusive.
func (n NormativeRange) IsWithinNormal(value float64) bool {
	return n.MinNormal <= value && value <= n.MaxNormal
}

// ZScore returns the signed number of standard deviations value lies from
// the normative mean. A zero standard deviation means no variance is
// expected and yields a z-score of zero.
func (n NormativeRange) ZScore(value float64) float64 {
	if n.StdDev == 0 {
		return 0
	}
	return (value - n.Mean) / n.StdDev
}

// MetricDetail is the per-metric record inside a DomainResult. The JSON
// keys match the original report contract and must not change.
type MetricDetail struct {
	Value          float64        `json:"value"`
	Classification Classification `json:"classification"`
	Confidence     float64        `json:"confidence"`
	ZScore         float64        `json:"z_score"`
	NormalRange    string         `json:"normal_range"`
	Mean           float64        `json:"mean"`
}

// DomainResult is the outcome of analyzing one movement domain (ROM,
// balance, symmetry, or gait). AgeGroup is empty for the age-independent
// symmetry domain.
type DomainResult struct {
	OverallClassification Classification          `json:"overall_classification"`
	Confidence            float64                 `json:"confidence"`
	IndividualResults     map[string]MetricDetail `json:"individual_results"`
	ZScores               map[string]float64      `json:"z_scores"`
	Flags                 []string                `json:"flags"`
	AgeGroup              AgeGroup                `json:"age_group,omitempty"`
}

// AnalysisResult is the composite outcome of a full screening analysis
// across up to four movement domains. ZScores are keyed "{domain}_{metric}";
// Flags preserve each domain's raw flag text without prefixing.
type AnalysisResult struct {
	Classification  Classification           `json:"classification"`
	Confidence      float64                  `json:"confidence"`
	MetricsAnalysis map[string]*DomainResult `json:"metrics_analysis"`
	AgeGroup        AgeGroup                 `json:"age_group"`
	Recommendations []string                 `json:"recommendations"`
	Flags           []string                 `json:"flags"`
	ZScores         map[string]float64       `json:"z_scores"`
}

// Validate ensures the analysis result carries only closed-set values
// before it is persisted or reported.
func (r *AnalysisResult) Validate() error {
	if !r.Classification.IsValid() {
		return fmt.Errorf("analysis result validation: %w", ErrInvalidClassification)
	}
	if !r.AgeGroup.IsValid() {
		return fmt.Errorf("analysis result validation: %w", ErrInvalidAgeGroup)
	}
	for name, dr := range r.MetricsAnalysis {
		if !dr.OverallClassification.IsValid() {
			return fmt.Errorf("analysis result validation: domain %q: %w", name, ErrInvalidClassification)
		}
	}
	return nil
}
