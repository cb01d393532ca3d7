package service

import (
	"sort"

	"github.com/virtual-mirror-server/internal/domain"
)

// Age-stratified normative reference tables for pediatric movement
// screening, compiled from pediatric biomechanics literature. The tables
// are process-wide constants: built once, never mutated, safe for
// unsynchronized concurrent reads.
//
// Each table maps age group -> metric name -> normative distribution.
// Symmetry norms do not vary with age and live under a single all_ages key.

// romNormativeData holds joint range-of-motion norms in degrees.
var romNormativeData = map[domain.AgeGroup]map[string]domain.NormativeRange{
	domain.AgeGroup5To7: {
		"shoulder_flexion":   {Mean: 165, StdDev: 10, MinNormal: 145, MaxNormal: 180},
		"shoulder_abduction": {Mean: 165, StdDev: 10, MinNormal: 145, MaxNormal: 180},
		"elbow_flexion":      {Mean: 145, StdDev: 8, MinNormal: 130, MaxNormal: 160},
		"hip_flexion":        {Mean: 120, StdDev: 10, MinNormal: 100, MaxNormal: 140},
		"knee_flexion":       {Mean: 135, StdDev: 8, MinNormal: 120, MaxNormal: 150},
		"knee_extension":     {Mean: 0, StdDev: 3, MinNormal: -5, MaxNormal: 5},
	},
	domain.AgeGroup8To10: {
		"shoulder_flexion":   {Mean: 168, StdDev: 9, MinNormal: 150, MaxNormal: 180},
		"shoulder_abduction": {Mean: 168, StdDev: 9, MinNormal: 150, MaxNormal: 180},
		"elbow_flexion":      {Mean: 147, StdDev: 7, MinNormal: 133, MaxNormal: 160},
		"hip_flexion":        {Mean: 122, StdDev: 9, MinNormal: 105, MaxNormal: 140},
		"knee_flexion":       {Mean: 137, StdDev: 7, MinNormal: 123, MaxNormal: 150},
		"knee_extension":     {Mean: 0, StdDev: 3, MinNormal: -5, MaxNormal: 5},
	},
	domain.AgeGroup11To13: {
		"shoulder_flexion":   {Mean: 170, StdDev: 8, MinNormal: 154, MaxNormal: 180},
		"shoulder_abduction": {Mean: 170, StdDev: 8, MinNormal: 154, MaxNormal: 180},
		"elbow_flexion":      {Mean: 148, StdDev: 6, MinNormal: 136, MaxNormal: 160},
		"hip_flexion":        {Mean: 124, StdDev: 8, MinNormal: 108, MaxNormal: 140},
		"knee_flexion":       {Mean: 138, StdDev: 6, MinNormal: 126, MaxNormal: 150},
		"knee_extension":     {Mean: 0, StdDev: 2, MinNormal: -3, MaxNormal: 3},
	},
}

// balanceNormativeData holds stability norms. Stance time is in seconds,
// sway magnitude in meters.
var balanceNormativeData = map[domain.AgeGroup]map[string]domain.NormativeRange{
	domain.AgeGroup5To7: {
		"single_leg_stance_time": {Mean: 8.5, StdDev: 3.0, MinNormal: 3.0, MaxNormal: 15.0},
		"stability_score":        {Mean: 65, StdDev: 15, MinNormal: 40, MaxNormal: 90},
		"sway_magnitude":         {Mean: 0.015, StdDev: 0.008, MinNormal: 0.005, MaxNormal: 0.030},
	},
	domain.AgeGroup8To10: {
		"single_leg_stance_time": {Mean: 12.0, StdDev: 4.0, MinNormal: 5.0, MaxNormal: 20.0},
		"stability_score":        {Mean: 72, StdDev: 12, MinNormal: 50, MaxNormal: 95},
		"sway_magnitude":         {Mean: 0.012, StdDev: 0.006, MinNormal: 0.004, MaxNormal: 0.025},
	},
	domain.AgeGroup11To13: {
		"single_leg_stance_time": {Mean: 15.0, StdDev: 5.0, MinNormal: 7.0, MaxNormal: 25.0},
		"stability_score":        {Mean: 78, StdDev: 10, MinNormal: 60, MaxNormal: 98},
		"sway_magnitude":         {Mean: 0.010, StdDev: 0.005, MinNormal: 0.003, MaxNormal: 0.020},
	},
}

// symmetryNormativeData holds bilateral symmetry norms as percentage
// difference between sides. Age-independent.
var symmetryNormativeData = map[domain.AgeGroup]map[string]domain.NormativeRange{
	domain.AllAges: {
		"shoulder_symmetry": {Mean: 3.0, StdDev: 2.5, MinNormal: 0.0, MaxNormal: 8.0},
		"elbow_symmetry":    {Mean: 2.5, StdDev: 2.0, MinNormal: 0.0, MaxNormal: 7.0},
		"hip_symmetry":      {Mean: 3.5, StdDev: 2.5, MinNormal: 0.0, MaxNormal: 9.0},
		"knee_symmetry":     {Mean: 3.0, StdDev: 2.0, MinNormal: 0.0, MaxNormal: 8.0},
		"gait_symmetry":     {Mean: 5.0, StdDev: 3.0, MinNormal: 0.0, MaxNormal: 12.0},
	},
}

// gaitNormativeData holds gait parameter norms: cadence in steps/min,
// step length in meters, stride time in seconds.
var gaitNormativeData = map[domain.AgeGroup]map[string]domain.NormativeRange{
	domain.AgeGroup5To7: {
		"cadence":     {Mean: 165, StdDev: 15, MinNormal: 140, MaxNormal: 190},
		"step_length": {Mean: 0.45, StdDev: 0.08, MinNormal: 0.30, MaxNormal: 0.60},
		"stride_time": {Mean: 0.73, StdDev: 0.08, MinNormal: 0.60, MaxNormal: 0.90},
	},
	domain.AgeGroup8To10: {
		"cadence":     {Mean: 155, StdDev: 12, MinNormal: 135, MaxNormal: 180},
		"step_length": {Mean: 0.52, StdDev: 0.10, MinNormal: 0.35, MaxNormal: 0.70},
		"stride_time": {Mean: 0.77, StdDev: 0.07, MinNormal: 0.65, MaxNormal: 0.92},
	},
	domain.AgeGroup11To13: {
		"cadence":     {Mean: 145, StdDev: 10, MinNormal: 130, MaxNormal: 165},
		"step_length": {Mean: 0.60, StdDev: 0.12, MinNormal: 0.40, MaxNormal: 0.80},
		"stride_time": {Mean: 0.83, StdDev: 0.06, MinNormal: 0.70, MaxNormal: 0.98},
	},
}

// ResolveAgeGroup maps a patient age to the normative age band. A nil age
// defaults to the middle band. Ages are not range-checked: anything at or
// below 7 uses the lowest band and anything above 10 the highest.
func ResolveAgeGroup(age *int) domain.AgeGroup {
	if age == nil {
		return domain.AgeGroup8To10
	}
	switch {
	case *age <= 7:
		return domain.AgeGroup5To7
	case *age <= 10:
		return domain.AgeGroup8To10
	default:
		return domain.AgeGroup11To13
	}
}

// normsForAgeGroup looks up the age band's sub-table, falling back to the
// middle band when the resolved label is absent.
func normsForAgeGroup(table map[domain.AgeGroup]map[string]domain.NormativeRange, group domain.AgeGroup) map[string]domain.NormativeRange {
	if norms, ok := table[group]; ok {
		return norms
	}
	return table[domain.AgeGroup8To10]
}

// sortedKeys returns the table's metric names in sorted order. Substring
// matching walks keys in this order so "first matching key" is
// deterministic across runs.
func sortedKeys(norms map[string]domain.NormativeRange) []string {
	keys := make([]string, 0, len(norms))
	for k := range norms {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
