package models

import "github.com/pkg/errors"

// Sentinel errors shared by the API and the pipeline. Callers match with
// errors.Is; wrapping keeps the context readable in logs.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("status conflict")
	ErrValidation = errors.New("validation failed")
	ErrIntegrity  = errors.New("integrity violation")
)
