package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrValidation marks locally-detected input problems; no network call was made.
	ErrValidation = errors.New("validation error")
	// ErrQuotaExceeded marks a structured 402 rejection. Recoverable and
	// user-actionable, never fatal.
	ErrQuotaExceeded = errors.New("processing minutes exhausted")
	// ErrNotReady marks detection-not-yet-available responses (404/409/425).
	ErrNotReady = errors.New("not ready")
	// ErrTransient marks retryable network failures swallowed by pollers.
	ErrTransient = errors.New("transient failure")
	// ErrFatal marks dispatch or job failures that end the attempt.
	ErrFatal = errors.New("fatal failure")
	// ErrNotFound marks missing resources outside the not-ready retry window.
	ErrNotFound = errors.New("not found")
	// ErrTimeout marks an exhausted deadline.
	ErrTimeout = errors.New("timeout")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

// QuotaError carries the canonical 402 payload. The backend historically
// returned either a flat object or a nested detail wrapper; both normalize to
// this shape at the client boundary.
type QuotaError struct {
	MinutesRequired  float64
	MinutesRemaining float64
	RenewalDate      time.Time
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%v: need %.0f minutes, %.0f remaining", ErrQuotaExceeded, e.MinutesRequired, e.MinutesRemaining)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// AsQuotaError extracts the structured quota detail from a classified error.
func AsQuotaError(err error) (*QuotaError, bool) {
	var qe *QuotaError
	if errors.As(err, &qe) {
		return qe, true
	}
	return nil, false
}

// IsRetryable reports whether a poller should swallow the error and try again
// on its next tick.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrNotReady) || errors.Is(err, ErrTimeout)
}
