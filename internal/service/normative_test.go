package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtual-mirror-server/internal/domain"
)

func TestResolveAgeGroup(t *testing.T) {
	tests := []struct {
		name     string
		age      *int
		expected domain.AgeGroup
	}{
		{"nil age defaults to middle band", nil, domain.AgeGroup8To10},
		{"age 5", intPtr(5), domain.AgeGroup5To7},
		{"age 7 upper edge of low band", intPtr(7), domain.AgeGroup5To7},
		{"age 8 lower edge of middle band", intPtr(8), domain.AgeGroup8To10},
		{"age 10 upper edge of middle band", intPtr(10), domain.AgeGroup8To10},
		{"age 11 lower edge of high band", intPtr(11), domain.AgeGroup11To13},
		{"age 13", intPtr(13), domain.AgeGroup11To13},
		{"below range clamps to low band", intPtr(3), domain.AgeGroup5To7},
		{"above range clamps to high band", intPtr(16), domain.AgeGroup11To13},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolveAgeGroup(tt.age))
		})
	}
}

func TestNormativeTablesCoverAllAgeBands(t *testing.T) {
	bands := []domain.AgeGroup{domain.AgeGroup5To7, domain.AgeGroup8To10, domain.AgeGroup11To13}

	for _, band := range bands {
		assert.Contains(t, romNormativeData, band)
		assert.Contains(t, balanceNormativeData, band)
		assert.Contains(t, gaitNormativeData, band)
	}
	assert.Contains(t, symmetryNormativeData, domain.AllAges)
}

func TestNormativeRangesAreConsistent(t *testing.T) {
	tables := map[string]map[domain.AgeGroup]map[string]domain.NormativeRange{
		"rom":      romNormativeData,
		"balance":  balanceNormativeData,
		"symmetry": symmetryNormativeData,
		"gait":     gaitNormativeData,
	}

	for tableName, table := range tables {
		for band, norms := range table {
			for metric, nr := range norms {
				assert.LessOrEqual(t, nr.MinNormal, nr.Mean,
					"%s/%s/%s: min above mean", tableName, band, metric)
				assert.LessOrEqual(t, nr.Mean, nr.MaxNormal,
					"%s/%s/%s: mean above max", tableName, band, metric)
				assert.Greater(t, nr.StdDev, 0.0,
					"%s/%s/%s: non-positive std dev", tableName, band, metric)
			}
		}
	}
}

func TestNormsForAgeGroupFallback(t *testing.T) {
	norms := normsForAgeGroup(romNormativeData, domain.AgeGroup("2-4"))
	require.NotNil(t, norms)
	assert.Equal(t, romNormativeData[domain.AgeGroup8To10], norms)
}

func TestSortedKeysDeterministic(t *testing.T) {
	keys := sortedKeys(romNormativeData[domain.AgeGroup8To10])
	require.Len(t, keys, 6)
	assert.Equal(t, []string{
		"elbow_flexion",
		"hip_flexion",
		"knee_extension",
		"knee_flexion",
		"shoulder_abduction",
		"shoulder_flexion",
	}, keys)
}
