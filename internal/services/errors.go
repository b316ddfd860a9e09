package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrIntegrity           = errors.New("integrity check failed")
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrIncomplete          = errors.New("upload incomplete")
	ErrIncompleteMergeSet  = errors.New("incomplete merge set")
	ErrPresetNotFound      = errors.New("preset not found")
	ErrNormalize           = errors.New("normalize failed")
	ErrConcatenation       = errors.New("concatenation failed")
	ErrCompression         = errors.New("compression failed")
	ErrMergeTimeout        = errors.New("merge timed out")
	ErrRangeNotSatisfiable = errors.New("range not satisfiable")
	ErrSizeMismatch        = errors.New("size mismatch")
	ErrUnprocessableMedia  = errors.New("unprocessable media")
	ErrQuotaExceeded       = errors.New("quota exceeded")
	ErrInsufficientStorage = errors.New("insufficient storage")
	ErrExternalTool        = errors.New("external tool error")
	ErrConfiguration       = errors.New("configuration error")
	ErrTransient           = errors.New("transient failure")
)

// errorKinds is ordered most specific first; an error can carry a domain
// marker wrapping a generic one (compression over external tool).
var errorKinds = []struct {
	marker error
	kind   string
}{
	{ErrMergeTimeout, "merge_timeout"},
	{ErrIncompleteMergeSet, "incomplete_merge_set"},
	{ErrPresetNotFound, "preset_not_found"},
	{ErrNormalize, "normalize_failed"},
	{ErrConcatenation, "concatenation_failed"},
	{ErrCompression, "compression_failed"},
	{ErrSizeMismatch, "size_mismatch"},
	{ErrUnprocessableMedia, "unprocessable_media"},
	{ErrIntegrity, "integrity"},
	{ErrIncomplete, "incomplete"},
	{ErrQuotaExceeded, "quota_exceeded"},
	{ErrInsufficientStorage, "insufficient_storage"},
	{ErrRangeNotSatisfiable, "range_not_satisfiable"},
	{ErrInvalidState, "invalid_state"},
	{ErrNotFound, "not_found"},
	{ErrValidation, "validation"},
	{ErrConfiguration, "configuration"},
	{ErrExternalTool, "external_tool"},
	{ErrTransient, "transient"},
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// ErrorKind returns a stable identifier for the most specific marker carried
// by err. Unclassified errors report "internal".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorKinds {
		if errors.Is(err, entry.marker) {
			return entry.kind
		}
	}
	return "internal"
}

// MarkerForKind is the inverse of ErrorKind, used when a persisted failure is
// rehydrated into an error value.
func MarkerForKind(kind string) error {
	for _, entry := range errorKinds {
		if entry.kind == kind {
			return entry.marker
		}
	}
	return nil
}

type slotError struct {
	slot int
	err  error
}

func (e *slotError) Error() string {
	return fmt.Sprintf("statement %d: %v", e.slot, e.err)
}

func (e *slotError) Unwrap() error { return e.err }

// WithSlot attaches the statement index (0-2) an error pertains to. The
// innermost annotation wins when errors are wrapped repeatedly.
func WithSlot(err error, slot int) error {
	if err == nil {
		return nil
	}
	if _, ok := SlotFromError(err); ok {
		return err
	}
	return &slotError{slot: slot, err: err}
}

// SlotFromError reports the statement index attached with WithSlot.
func SlotFromError(err error) (int, bool) {
	var se *slotError
	if errors.As(err, &se) {
		return se.slot, true
	}
	return 0, false
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
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

// Retryable reports whether a failed merge run may be requeued without
// operator action. Caller-side errors and stage failures that already used
// their own retries are final.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) && ErrorKind(err) == "transient"
}
