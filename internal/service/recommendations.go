package service

import (
	"strings"

	"github.com/virtual-mirror-server/internal/domain"
)

// maxFlagRecommendations caps how many flags are echoed verbatim into the
// weakness-suspected recommendation list. All flags remain available on
// the result itself.
const maxFlagRecommendations = 5

// GenerateRecommendations maps the overall classification and the
// collected flags to guidance text. The wording is part of the caller
// contract (reports and narration read it verbatim), so the fixed
// sentences must not be reworded casually.
func GenerateRecommendations(overall domain.Classification, flags []string) []string {
	recommendations := make([]string, 0, 8)

	switch overall {
	case domain.NORMAL:
		recommendations = append(recommendations,
			"Movement patterns are within normal limits for age group.",
			"Continue regular physical activity and sports participation.",
			"Annual screening recommended for monitoring development.")

	case domain.BORDERLINE:
		recommendations = append(recommendations,
			"Some movement patterns show borderline values.",
			"Follow-up assessment in 3-6 months recommended.",
			"Consider targeted exercises for areas of concern:")
		recommendations = append(recommendations, borderlineFocusAreas(flags)...)

	case domain.WEAKNESS_SUSPECTED:
		recommendations = append(recommendations,
			"⚠️ Movement patterns suggest possible motor weakness.",
			"Professional evaluation by pediatric physical therapist recommended.",
			"Comprehensive clinical assessment advised within 2-4 weeks.",
			"Specific areas of concern:")
		for i, flag := range flags {
			if i == maxFlagRecommendations {
				break
			}
			recommendations = append(recommendations, "  - "+flag)
		}

	case domain.INSUFFICIENT_DATA:
		recommendations = append(recommendations,
			"Insufficient data collected for classification.",
			"Re-assess with additional movement tasks to obtain a reliable screening result.")
	}

	return recommendations
}

// borderlineFocusAreas derives exercise bullets from flag text. Each
// bullet is added at most once no matter how many flags match it.
func borderlineFocusAreas(flags []string) []string {
	var hasROM, hasBalance, hasSymmetry, hasGait bool
	for _, flag := range flags {
		lower := strings.ToLower(flag)
		if strings.Contains(lower, "rom") || strings.Contains(lower, "range") {
			hasROM = true
		}
		if strings.Contains(lower, "balance") {
			hasBalance = true
		}
		if strings.Contains(lower, "symmetry") || strings.Contains(lower, "asymmetry") {
			hasSymmetry = true
		}
		if strings.Contains(lower, "gait") {
			hasGait = true
		}
	}

	var areas []string
	if hasROM {
		areas = append(areas, "  - Stretching and flexibility exercises")
	}
	if hasBalance {
		areas = append(areas, "  - Balance training (single-leg stance, proprioception exercises)")
	}
	if hasSymmetry {
		areas = append(areas, "  - Bilateral strengthening exercises")
	}
	if hasGait {
		areas = append(areas, "  - Gait training and walking exercises")
	}
	return areas
}
