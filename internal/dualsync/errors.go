package dualsync

import (
	"errors"
	"fmt"
)

// MalformedPrimaryError reports a primary value that is not well-formed
// JSON. Returned only for fields in Strict mode.
type MalformedPrimaryError struct {
	Field string
	Err   error
}

func (e *MalformedPrimaryError) Error() string {
	return fmt.Sprintf("field %s: malformed primary value: %v", e.Field, e.Err)
}

func (e *MalformedPrimaryError) Unwrap() error { return e.Err }

// EncodeError reports an encode failure not caused by malformed input.
// Returned in both modes and never retried.
type EncodeError struct {
	Field string
	Err   error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("field %s: encode failed: %v", e.Field, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// DriftError describes a record whose derived value disagrees with its
// primary value. It is informational: health checks produce it, the
// write path never does.
type DriftError struct {
	Table string
	Field string
	ID    int64
	State State
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("drift detected: %s.%s id=%d state=%s", e.Table, e.Field, e.ID, e.State)
}

// IsMalformed returns true if err is or wraps a *MalformedPrimaryError.
func IsMalformed(err error) bool {
	var me *MalformedPrimaryError
	return errors.As(err, &me)
}

// IsEncodeFailure returns true if err is or wraps an *EncodeError.
func IsEncodeFailure(err error) bool {
	var ee *EncodeError
	return errors.As(err, &ee)
}

// IsDrift returns true if err is or wraps a *DriftError.
func IsDrift(err error) bool {
	var de *DriftError
	return errors.As(err, &de)
}
