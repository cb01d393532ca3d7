// Package report assembles clinician-facing screening reports from stored
// sessions and their analysis results. Assembled reports are cached in an
// in-process LRU since parents and clinicians typically re-open the same
// report several times right after a session.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/virtual-mirror-server/internal/domain"
	"github.com/virtual-mirror-server/internal/service"
)

// Report is the complete document for one screening session.
type Report struct {
	ClinicName      string          `json:"clinic_name"`
	GeneratedAt     string          `json:"generated_at"`
	SessionID       string          `json:"session_id"`
	DisplayID       int             `json:"display_id"`
	Patient         Patient         `json:"patient"`
	Outcome         Outcome         `json:"outcome"`
	Domains         []Domain        `json:"domains"`
	Flags           []string        `json:"flags"`
	Recommendations []string        `json:"recommendations"`
	FollowUps       []FollowUpEntry `json:"follow_ups,omitempty"`
}

// Patient is the demographic section of the report.
type Patient struct {
	Name     string   `json:"name"`
	Age      int      `json:"age"`
	HeightCM *float64 `json:"height_cm,omitempty"`
	WeightKG *float64 `json:"weight_kg,omitempty"`
	Gender   string   `json:"gender,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

// Outcome is the headline result of the screening.
type Outcome struct {
	Classification domain.Classification `json:"classification"`
	Confidence     float64               `json:"confidence"`
	RiskLevel      domain.RiskLevel      `json:"risk_level"`
	AgeGroup       domain.AgeGroup       `json:"age_group"`
	FollowUpNeeded bool                  `json:"follow_up_needed"`
	SessionDate    string                `json:"session_date"`
}

// Domain is one movement domain's section with its per-metric rows.
type Domain struct {
	Name           string                `json:"name"`
	Classification domain.Classification `json:"classification"`
	Confidence     float64               `json:"confidence"`
	Metrics        []MetricRow           `json:"metrics"`
}

// MetricRow is one measured metric in a domain section.
type MetricRow struct {
	Name           string                `json:"name"`
	Value          float64               `json:"value"`
	ZScore         float64               `json:"z_score"`
	NormalRange    string                `json:"normal_range"`
	Classification domain.Classification `json:"classification"`
}

// FollowUpEntry summarizes one follow-up session linked to this one, for
// the progress-over-time section.
type FollowUpEntry struct {
	SessionID   string           `json:"session_id"`
	DisplayID   int              `json:"display_id"`
	SessionDate string           `json:"session_date"`
	RiskLevel   domain.RiskLevel `json:"risk_level"`
	Score       *float64         `json:"score,omitempty"`
}

// domainOrder fixes section order in the rendered document.
var domainOrder = []string{"rom", "balance", "symmetry", "gait"}

var domainTitles = map[string]string{
	"rom":      "Range of Motion",
	"balance":  "Balance and Stability",
	"symmetry": "Bilateral Symmetry",
	"gait":     "Gait",
}

// Generator assembles reports from stored sessions.
type Generator struct {
	store      domain.SessionStore
	screening  *service.ScreeningService
	clinicName string
	cache      *lru.Cache[string, *Report]
	log        *logrus.Logger
}

// NewGenerator creates a report generator. cacheSize must be positive.
func NewGenerator(store domain.SessionStore, screening *service.ScreeningService, cfg domain.ReportConfig, logger *logrus.Logger) (*Generator, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New[string, *Report](size)
	if err != nil {
		return nil, fmt.Errorf("creating report cache: %w", err)
	}

	return &Generator{
		store:      store,
		screening:  screening,
		clinicName: cfg.ClinicName,
		cache:      cache,
		log:        logger,
	}, nil
}

// Generate builds (or returns the cached) report for a session. Sessions
// without a stored analysis cannot be reported on.
func (g *Generator) Generate(ctx context.Context, sessionID string) (*Report, error) {
	if report, ok := g.cache.Get(sessionID); ok {
		return report, nil
	}

	session, err := g.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	analysis, err := g.screening.CachedAnalysis(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	report := g.assemble(session, analysis)

	followups, err := g.store.FollowupSessions(ctx, sessionID)
	if err != nil {
		g.log.WithError(err).WithField("session_id", sessionID).Warn("Failed to load follow-up sessions for report")
	} else {
		for _, f := range followups {
			report.FollowUps = append(report.FollowUps, FollowUpEntry{
				SessionID:   f.ID,
				DisplayID:   f.DisplayID,
				SessionDate: f.StartedAt.Format("2006-01-02"),
				RiskLevel:   f.RiskLevel,
				Score:       f.OverallScore,
			})
		}
	}

	g.cache.Add(sessionID, report)

	g.log.WithFields(logrus.Fields{
		"session_id":     sessionID,
		"classification": report.Outcome.Classification.String(),
		"domains":        len(report.Domains),
	}).Info("Report generated")

	return report, nil
}

// Invalidate drops a session's cached report, for example after a re-run
// of the analysis.
func (g *Generator) Invalidate(sessionID string) {
	g.cache.Remove(sessionID)
}

func (g *Generator) assemble(session *domain.Session, analysis *service.AnalysisResponse) *Report {
	clinical := analysis.Summary.ClinicalAnalysis

	report := &Report{
		ClinicName:  g.clinicName,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		SessionID:   session.ID,
		DisplayID:   session.DisplayID,
		Patient: Patient{
			Name:     session.ChildName,
			Age:      session.ChildAge,
			HeightCM: session.ChildHeightCM,
			WeightKG: session.ChildWeightKG,
			Gender:   session.ChildGender,
			Notes:    session.ChildNotes,
		},
		Outcome: Outcome{
			Classification: clinical.Classification,
			Confidence:     clinical.Confidence,
			RiskLevel:      analysis.RiskLevel,
			AgeGroup:       clinical.AgeGroup,
			FollowUpNeeded: clinical.Classification.RequiresFollowUp(),
			SessionDate:    session.StartedAt.Format("2006-01-02"),
		},
		Flags:           clinical.Flags,
		Recommendations: analysis.Recommendations,
	}

	for _, name := range domainOrder {
		dr, ok := clinical.DetailedMetrics[name]
		if !ok {
			continue
		}

		section := Domain{
			Name:           domainTitles[name],
			Classification: dr.OverallClassification,
			Confidence:     dr.Confidence,
		}
		for metric, detail := range dr.IndividualResults {
			section.Metrics = append(section.Metrics, MetricRow{
				Name:           metric,
				Value:          detail.Value,
				ZScore:         detail.ZScore,
				NormalRange:    detail.NormalRange,
				Classification: detail.Classification,
			})
		}
		sort.Slice(section.Metrics, func(i, j int) bool {
			return section.Metrics[i].Name < section.Metrics[j].Name
		})
		report.Domains = append(report.Domains, section)
	}

	return report
}
