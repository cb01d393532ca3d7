package service

import (
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/virtual-mirror-server/internal/domain"
)

// Engine implements the normative classification and aggregation pipeline:
// per-metric z-score classification against age-stratified reference
// tables, confidence-weighted aggregation within each movement domain, and
// the same aggregation again across domains.
//
// The engine is purely functional over immutable inputs and the constant
// reference tables. Calls are independent and safe to run concurrently.
type Engine struct {
	logger *logrus.Logger
}

// NewEngine creates a new screening engine.
func NewEngine(logger *logrus.Logger) *Engine {
	return &Engine{logger: logger}
}

// classificationVote is one (classification, confidence) pair feeding the
// weighted aggregation.
type classificationVote struct {
	Class      domain.Classification
	Confidence float64
}

// ClassifyMetric classifies a single measured value against its normative
// range. Confidence values are fixed per branch; this coarse scoring
// policy is part of the screening contract and must not be smoothed into a
// continuous function of z.
func ClassifyMetric(value float64, nr domain.NormativeRange) (domain.Classification, float64) {
	z := math.Abs(nr.ZScore(value))

	if nr.IsWithinNormal(value) {
		if z <= 1.0 {
			return domain.NORMAL, 95.0
		}
		// Inside the accepted interval but more than one SD out: still
		// normal, lower confidence.
		return domain.NORMAL, 80.0
	}

	if z <= 2.0 {
		return domain.BORDERLINE, 70.0
	}
	return domain.WEAKNESS_SUSPECTED, 85.0
}

// aggregateClassifications combines votes into an overall classification
// using confidence-weighted proportions. The decision order is severity
// biased: a weakness share above 30% wins outright, then a borderline
// share above 40%, otherwise normal. An empty or zero-weight vote set
// yields InsufficientData.
//
// The same routine runs at two levels: over per-metric results inside each
// domain analyzer and over per-domain results in AnalyzeAll.
func aggregateClassifications(votes []classificationVote) (domain.Classification, float64) {
	if len(votes) == 0 {
		return domain.INSUFFICIENT_DATA, 0.0
	}

	weights := map[domain.Classification]float64{
		domain.NORMAL:             0,
		domain.BORDERLINE:         0,
		domain.WEAKNESS_SUSPECTED: 0,
	}

	totalWeight := 0.0
	for _, v := range votes {
		if _, ok := weights[v.Class]; !ok {
			continue
		}
		w := v.Confidence / 100.0
		weights[v.Class] += w
		totalWeight += w
	}

	if totalWeight == 0 {
		return domain.INSUFFICIENT_DATA, 0.0
	}

	for k := range weights {
		weights[k] /= totalWeight
	}

	if weights[domain.WEAKNESS_SUSPECTED] > 0.30 {
		return domain.WEAKNESS_SUSPECTED, weights[domain.WEAKNESS_SUSPECTED] * 100
	}
	if weights[domain.BORDERLINE] > 0.40 {
		return domain.BORDERLINE, weights[domain.BORDERLINE] * 100
	}
	return domain.NORMAL, weights[domain.NORMAL] * 100
}

// AnalyzeROM analyzes joint range-of-motion measurements (degrees).
// Metric names are matched to table keys by normalized substring: the
// first table key (sorted order) containing or contained in the input
// name is used. Unmatched metrics are silently skipped.
func (e *Engine) AnalyzeROM(metrics map[string]float64, age *int) *domain.DomainResult {
	group := ResolveAgeGroup(age)
	norms := normsForAgeGroup(romNormativeData, group)
	keys := sortedKeys(norms)

	result := newDomainResult(group)
	var votes []classificationVote

	for joint, value := range metrics {
		jointKey := strings.ReplaceAll(strings.ToLower(joint), "_", " ")

		var nr domain.NormativeRange
		found := false
		for _, key := range keys {
			normKey := strings.ReplaceAll(key, "_", " ")
			if strings.Contains(jointKey, normKey) || strings.Contains(normKey, jointKey) {
				nr = norms[key]
				found = true
				break
			}
		}
		if !found {
			continue
		}

		class, confidence := ClassifyMetric(value, nr)
		z := nr.ZScore(value)

		result.IndividualResults[joint] = domain.MetricDetail{
			Value:          value,
			Classification: class,
			Confidence:     confidence,
			ZScore:         z,
			NormalRange:    fmt.Sprintf("%g-%g°", nr.MinNormal, nr.MaxNormal),
			Mean:           nr.Mean,
		}
		result.ZScores[joint] = z
		votes = append(votes, classificationVote{Class: class, Confidence: confidence})

		switch class {
		case domain.WEAKNESS_SUSPECTED:
			result.Flags = append(result.Flags,
				fmt.Sprintf("Limited ROM in %s: %.1f° (normal: %g-%g°)", joint, value, nr.MinNormal, nr.MaxNormal))
		case domain.BORDERLINE:
			result.Flags = append(result.Flags,
				fmt.Sprintf("Borderline ROM in %s: %.1f°", joint, value))
		}
	}

	e.finishDomain("rom", result, votes)
	return result
}

// AnalyzeBalance analyzes balance and stability metrics. Matching is
// exact on the normalized (lowercase, underscore-separated) metric name.
func (e *Engine) AnalyzeBalance(metrics map[string]float64, age *int) *domain.DomainResult {
	group := ResolveAgeGroup(age)
	norms := normsForAgeGroup(balanceNormativeData, group)

	result := newDomainResult(group)
	var votes []classificationVote

	for metric, value := range metrics {
		metricKey := strings.ReplaceAll(strings.ToLower(metric), " ", "_")
		nr, ok := norms[metricKey]
		if !ok {
			continue
		}

		class, confidence := ClassifyMetric(value, nr)
		z := nr.ZScore(value)

		result.IndividualResults[metric] = domain.MetricDetail{
			Value:          value,
			Classification: class,
			Confidence:     confidence,
			ZScore:         z,
			NormalRange:    fmt.Sprintf("%g-%g", nr.MinNormal, nr.MaxNormal),
			Mean:           nr.Mean,
		}
		result.ZScores[metric] = z
		votes = append(votes, classificationVote{Class: class, Confidence: confidence})

		switch class {
		case domain.WEAKNESS_SUSPECTED:
			result.Flags = append(result.Flags,
				fmt.Sprintf("Poor balance: %s = %.1f (normal: >%g)", metric, value, nr.MinNormal))
		case domain.BORDERLINE:
			result.Flags = append(result.Flags,
				fmt.Sprintf("Borderline balance: %s = %.1f", metric, value))
		}
	}

	e.finishDomain("balance", result, votes)
	return result
}

// AnalyzeSymmetry analyzes bilateral symmetry percentages. Symmetry norms
// are age-independent; matching is substring-based like ROM. No age group
// is reported.
func (e *Engine) AnalyzeSymmetry(metrics map[string]float64) *domain.DomainResult {
	norms := symmetryNormativeData[domain.AllAges]
	keys := sortedKeys(norms)

	result := newDomainResult("")
	var votes []classificationVote

	for metric, value := range metrics {
		metricKey := strings.ReplaceAll(strings.ToLower(metric), " ", "_")

		var nr domain.NormativeRange
		found := false
		for _, key := range keys {
			if strings.Contains(key, metricKey) || strings.Contains(metricKey, key) {
				nr = norms[key]
				found = true
				break
			}
		}
		if !found {
			continue
		}

		class, confidence := ClassifyMetric(value, nr)
		z := nr.ZScore(value)

		result.IndividualResults[metric] = domain.MetricDetail{
			Value:          value,
			Classification: class,
			Confidence:     confidence,
			ZScore:         z,
			NormalRange:    fmt.Sprintf("<%g%%", nr.MaxNormal),
			Mean:           nr.Mean,
		}
		result.ZScores[metric] = z
		votes = append(votes, classificationVote{Class: class, Confidence: confidence})

		switch class {
		case domain.WEAKNESS_SUSPECTED:
			result.Flags = append(result.Flags,
				fmt.Sprintf("Significant asymmetry in %s: %.1f%% (normal: <%g%%)", metric, value, nr.MaxNormal))
		case domain.BORDERLINE:
			result.Flags = append(result.Flags,
				fmt.Sprintf("Borderline asymmetry in %s: %.1f%%", metric, value))
		}
	}

	e.finishDomain("symmetry", result, votes)
	return result
}

// AnalyzeGait analyzes gait parameters. Matching is exact on the
// normalized metric name.
func (e *Engine) AnalyzeGait(metrics map[string]float64, age *int) *domain.DomainResult {
	group := ResolveAgeGroup(age)
	norms := normsForAgeGroup(gaitNormativeData, group)

	result := newDomainResult(group)
	var votes []classificationVote

	for metric, value := range metrics {
		metricKey := strings.ReplaceAll(strings.ToLower(metric), " ", "_")
		nr, ok := norms[metricKey]
		if !ok {
			continue
		}

		class, confidence := ClassifyMetric(value, nr)
		z := nr.ZScore(value)

		result.IndividualResults[metric] = domain.MetricDetail{
			Value:          value,
			Classification: class,
			Confidence:     confidence,
			ZScore:         z,
			NormalRange:    fmt.Sprintf("%g-%g", nr.MinNormal, nr.MaxNormal),
			Mean:           nr.Mean,
		}
		result.ZScores[metric] = z
		votes = append(votes, classificationVote{Class: class, Confidence: confidence})

		switch class {
		case domain.WEAKNESS_SUSPECTED:
			result.Flags = append(result.Flags,
				fmt.Sprintf("Abnormal gait: %s = %.2f", metric, value))
		case domain.BORDERLINE:
			result.Flags = append(result.Flags,
				fmt.Sprintf("Borderline gait: %s = %.2f", metric, value))
		}
	}

	e.finishDomain("gait", result, votes)
	return result
}

// AnalyzeAll runs every domain that received data and combines the
// per-domain outcomes into one composite result. Absent or empty domains
// contribute nothing; a session with no classifiable input anywhere comes
// back as InsufficientData with explicit re-assessment guidance.
func (e *Engine) AnalyzeAll(rom, balance, symmetry, gait map[string]float64, age *int) *domain.AnalysisResult {
	ageGroup := ResolveAgeGroup(age)

	result := &domain.AnalysisResult{
		MetricsAnalysis: make(map[string]*domain.DomainResult),
		AgeGroup:        ageGroup,
		Flags:           []string{},
		ZScores:         make(map[string]float64),
	}

	var votes []classificationVote

	collect := func(name string, dr *domain.DomainResult) {
		result.MetricsAnalysis[name] = dr
		result.Flags = append(result.Flags, dr.Flags...)
		for metric, z := range dr.ZScores {
			result.ZScores[name+"_"+metric] = z
		}
		if dr.OverallClassification != domain.INSUFFICIENT_DATA {
			votes = append(votes, classificationVote{
				Class:      dr.OverallClassification,
				Confidence: dr.Confidence,
			})
		}
	}

	if len(rom) > 0 {
		collect("rom", e.AnalyzeROM(rom, age))
	}
	if len(balance) > 0 {
		collect("balance", e.AnalyzeBalance(balance, age))
	}
	if len(symmetry) > 0 {
		collect("symmetry", e.AnalyzeSymmetry(symmetry))
	}
	if len(gait) > 0 {
		collect("gait", e.AnalyzeGait(gait, age))
	}

	overall, confidence := aggregateClassifications(votes)
	result.Classification = overall
	result.Confidence = round1(confidence)
	result.Recommendations = GenerateRecommendations(overall, result.Flags)

	e.logger.WithFields(logrus.Fields{
		"classification": overall.String(),
		"confidence":     result.Confidence,
		"age_group":      ageGroup.String(),
		"domains":        len(result.MetricsAnalysis),
		"flags":          len(result.Flags),
	}).Info("Screening analysis completed")

	return result
}

// finishDomain aggregates a domain's votes and logs the outcome.
func (e *Engine) finishDomain(name string, result *domain.DomainResult, votes []classificationVote) {
	class, confidence := aggregateClassifications(votes)
	result.OverallClassification = class
	result.Confidence = round1(confidence)

	e.logger.WithFields(logrus.Fields{
		"domain":         name,
		"classification": class.String(),
		"confidence":     result.Confidence,
		"metrics":        len(result.IndividualResults),
		"flags":          len(result.Flags),
	}).Debug("Domain analysis completed")
}

func newDomainResult(group domain.AgeGroup) *domain.DomainResult {
	return &domain.DomainResult{
		IndividualResults: make(map[string]domain.MetricDetail),
		ZScores:           make(map[string]float64),
		Flags:             []string{},
		AgeGroup:          group,
	}
}

// round1 rounds to one decimal place for reported confidences.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
