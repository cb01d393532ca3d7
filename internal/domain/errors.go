package domain

import "errors"

// Validation errors for screening data integrity.
var (
	ErrNotFound              = errors.New("not found")
	ErrInvalidClassification = errors.New("invalid movement classification")
	ErrInvalidAgeGroup       = errors.New("invalid age group")
	ErrInvalidRiskLevel      = errors.New("invalid risk level")
	ErrInvalidSessionType    = errors.New("invalid session type")
	ErrDuplicateDisplayID    = errors.New("display ID already in use")
)
