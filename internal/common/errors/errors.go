// Package errors provides standardized error handling for the scene
// synthesis pipeline.
package errors

import (
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	ErrCodeExpertQueryFailed      ErrorCode = "EXPERT_QUERY_FAILED"
	ErrCodeExpertTimeout          ErrorCode = "EXPERT_TIMEOUT"
	ErrCodeAllExpertsFailed       ErrorCode = "ALL_EXPERTS_FAILED"
	ErrCodeSynthesisFailed        ErrorCode = "SYNTHESIS_FAILED"
	ErrCodeSynthesisTimeout       ErrorCode = "SYNTHESIS_TIMEOUT"
	ErrCodeDeltaCompressionFailed ErrorCode = "DELTA_COMPRESSION_FAILED"
	ErrCodePersistenceFailed      ErrorCode = "PERSISTENCE_FAILED"
	ErrCodeStoreUnavailable       ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeRunInProgress          ErrorCode = "RUN_IN_PROGRESS"
	ErrCodeSceneNotFound          ErrorCode = "SCENE_NOT_FOUND"
	ErrCodeOutlineInvalid         ErrorCode = "OUTLINE_INVALID"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewExpertQueryFailedError wraps a single expert source failure. The
// scene survives as long as at least one other source succeeds.
func NewExpertQueryFailedError(source string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExpertQueryFailed,
		Message:   "Expert source query failed",
		Details:   fmt.Sprintf("source: %s, error: %s", source, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewExpertTimeoutError wraps an expert source timeout.
func NewExpertTimeoutError(source string) *StandardError {
	return &StandardError{
		Code:      ErrCodeExpertTimeout,
		Message:   "Expert source query timeout",
		Details:   fmt.Sprintf("source: %s", source),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewAllExpertsFailedError marks a scene that produced zero expert
// results. Fatal to the scene, never to the run.
func NewAllExpertsFailedError(sceneNumber int) *StandardError {
	return &StandardError{
		Code:      ErrCodeAllExpertsFailed,
		Message:   "No expert source produced a result",
		Details:   fmt.Sprintf("sceneNumber: %d", sceneNumber),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSynthesisFailedError wraps a completion-service synthesis error.
func NewSynthesisFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeSynthesisFailed,
		Message:   "Blueprint synthesis failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewSynthesisTimeoutError creates a retryable synthesis timeout error.
func NewSynthesisTimeoutError() *StandardError {
	return &StandardError{
		Code:      ErrCodeSynthesisTimeout,
		Message:   "Blueprint synthesis timeout",
		Details:   "completion call exceeded timeout threshold",
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDeltaCompressionFailedError wraps a delta-summary compression
// failure. The caller falls back to truncation, so this is informational.
func NewDeltaCompressionFailedError(sceneNumber int, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDeltaCompressionFailed,
		Message:   "Delta summary compression failed",
		Details:   fmt.Sprintf("sceneNumber: %d, error: %s", sceneNumber, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewPersistenceFailedError wraps a scene store write failure. Fatal to
// the scene.
func NewPersistenceFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodePersistenceFailed,
		Message:   "Scene store write failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewStoreUnavailableError marks the one fatal run-level condition: the
// scene store could not be reached at run initialization.
func NewStoreUnavailableError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreUnavailable,
		Message:   "Scene store unavailable",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRunInProgressError marks a run-lock conflict.
func NewRunInProgressError(holder string) *StandardError {
	return &StandardError{
		Code:      ErrCodeRunInProgress,
		Message:   "Another pipeline run holds the project lock",
		Details:   fmt.Sprintf("holder: %s", holder),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSceneNotFoundError marks a regeneration request naming an unknown scene.
func NewSceneNotFoundError(sceneNumber int) *StandardError {
	return &StandardError{
		Code:      ErrCodeSceneNotFound,
		Message:   "Scene not found in project outline",
		Details:   fmt.Sprintf("sceneNumber: %d", sceneNumber),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewOutlineInvalidError marks an outline document that failed schema
// validation during seeding.
func NewOutlineInvalidError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeOutlineInvalid,
		Message:   "Project outline failed validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 3. Utility Functions
// ==========================

// GetRetryCount returns the recommended retry count per error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeExpertQueryFailed,
		ErrCodeSynthesisFailed,
		ErrCodePersistenceFailed,
		ErrCodeStoreUnavailable:
		return 3 // Retryable technical errors

	case ErrCodeExpertTimeout,
		ErrCodeSynthesisTimeout:
		return 2 // Partial retry for timeouts

	default:
		return 0 // Scene-fatal and request errors: no retry
	}
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// CodeOf extracts the ErrorCode from an error, or empty if it is not a
// StandardError.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := err.(*StandardError); ok {
		return stdErr.Code
	}
	return ""
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "EXPERT"):
		return "EXPERTS"
	case strings.Contains(codeStr, "SYNTHESIS") || strings.Contains(codeStr, "DELTA"):
		return "SYNTHESIS"
	case strings.Contains(codeStr, "PERSISTENCE") || strings.Contains(codeStr, "STORE"):
		return "STORE"
	case strings.Contains(codeStr, "RUN"):
		return "RUN"
	case strings.Contains(codeStr, "SCENE") || strings.Contains(codeStr, "OUTLINE"):
		return "OUTLINE"
	default:
		return "OTHER"
	}
}
