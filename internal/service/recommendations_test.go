package service

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtual-mirror-server/internal/domain"
)

func TestGenerateRecommendationsNormal(t *testing.T) {
	recs := GenerateRecommendations(domain.NORMAL, nil)

	require.Len(t, recs, 3)
	assert.Equal(t, "Movement patterns are within normal limits for age group.", recs[0])
	assert.Equal(t, "Continue regular physical activity and sports participation.", recs[1])
	assert.Equal(t, "Annual screening recommended for monitoring development.", recs[2])
}

func TestGenerateRecommendationsBorderlineFocusAreas(t *testing.T) {
	flags := []string{
		"Borderline ROM in knee_flexion: 122.0°",
		"Borderline balance: stability_score = 52.0",
		"Borderline asymmetry in hip_symmetry: 8.5%",
		"Borderline gait: cadence = 134.00",
	}

	recs := GenerateRecommendations(domain.BORDERLINE, flags)

	require.Len(t, recs, 7)
	assert.Equal(t, "Some movement patterns show borderline values.", recs[0])
	assert.Equal(t, "Follow-up assessment in 3-6 months recommended.", recs[1])
	assert.Equal(t, "Consider targeted exercises for areas of concern:", recs[2])
	assert.Contains(t, recs, "  - Stretching and flexibility exercises")
	assert.Contains(t, recs, "  - Balance training (single-leg stance, proprioception exercises)")
	assert.Contains(t, recs, "  - Bilateral strengthening exercises")
	assert.Contains(t, recs, "  - Gait training and walking exercises")
}

func TestGenerateRecommendationsBorderlineDeduplicatesAreas(t *testing.T) {
	flags := []string{
		"Borderline ROM in knee_flexion: 122.0°",
		"Borderline ROM in hip_flexion: 104.0°",
		"Limited ROM in shoulder_flexion: 100.0° (normal: 150-180°)",
	}

	recs := GenerateRecommendations(domain.BORDERLINE, flags)

	count := 0
	for _, r := range recs {
		if r == "  - Stretching and flexibility exercises" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestGenerateRecommendationsWeaknessCapsFlags(t *testing.T) {
	flags := make([]string, 8)
	for i := range flags {
		flags[i] = fmt.Sprintf("Limited ROM in joint_%d: 90.0° (normal: 150-180°)", i)
	}

	recs := GenerateRecommendations(domain.WEAKNESS_SUSPECTED, flags)

	// 4 fixed lines plus at most 5 echoed flags.
	require.Len(t, recs, 9)
	assert.Equal(t, "⚠️ Movement patterns suggest possible motor weakness.", recs[0])
	assert.Equal(t, "Professional evaluation by pediatric physical therapist recommended.", recs[1])
	assert.Equal(t, "Comprehensive clinical assessment advised within 2-4 weeks.", recs[2])
	assert.Equal(t, "Specific areas of concern:", recs[3])
	assert.Equal(t, "  - "+flags[0], recs[4])
	assert.Equal(t, "  - "+flags[4], recs[8])
}

func TestGenerateRecommendationsInsufficientData(t *testing.T) {
	recs := GenerateRecommendations(domain.INSUFFICIENT_DATA, nil)

	require.Len(t, recs, 2)
	assert.Equal(t, "Insufficient data collected for classification.", recs[0])
	assert.Equal(t, "Re-assess with additional movement tasks to obtain a reliable screening result.", recs[1])
}
