// Package tenanterr holds the error kinds the OdooCluster controller reacts to.
package tenanterr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// ValidationError is a spec problem that no retry can fix until the spec changes.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid spec: " + e.Message
	}
	return fmt.Sprintf("invalid spec: %s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidationErrors collects every problem found in one pass.
type ValidationErrors []*ValidationError

func (l ValidationErrors) Error() string {
	parts := make([]string, 0, len(l))
	for _, e := range l {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// Err returns nil when the list is empty.
func (l ValidationErrors) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// TransientAPIError wraps an API failure that should be retried with backoff.
type TransientAPIError struct {
	Op  string
	Err error
}

func (e *TransientAPIError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *TransientAPIError) Unwrap() error { return e.Err }

// ConflictError is a stale write detected through the resource version.
type ConflictError struct {
	Kind string
	Name string
	Err  error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict updating %s %s: %v", e.Kind, e.Name, e.Err)
}
func (e *ConflictError) Unwrap() error { return e.Err }

// DependencyNotReadyError halts a pass until a prerequisite becomes ready.
type DependencyNotReadyError struct {
	Dependency string
	Reason     string
}

func (e *DependencyNotReadyError) Error() string {
	return fmt.Sprintf("dependency %s not ready: %s", e.Dependency, e.Reason)
}

// TeardownTimeoutError reports objects still present when teardown gave up.
type TeardownTimeoutError struct {
	Elapsed   time.Duration
	Stage     string
	Remaining []string
}

func (e *TeardownTimeoutError) Error() string {
	return fmt.Sprintf("teardown timed out after %s in stage %s, remaining: %s",
		e.Elapsed.Round(time.Second), e.Stage, strings.Join(e.Remaining, ", "))
}

// IsValidation reports whether err is, or wraps, a validation failure.
func IsValidation(err error) bool {
	var v *ValidationError
	var l ValidationErrors
	return errors.As(err, &v) || errors.As(err, &l)
}

// IsConflict reports whether err is a lost resource version race.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c) || apierrors.IsConflict(err)
}

// IsDependencyNotReady reports whether err halts on an unready prerequisite.
func IsDependencyNotReady(err error) bool {
	var d *DependencyNotReadyError
	return errors.As(err, &d)
}

// Classify maps a Kubernetes API error onto the controller's error kinds.
// Conflicts become ConflictError, invalid requests become ValidationError and
// everything else is transient.
func Classify(op, kind, name string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case apierrors.IsConflict(err):
		return &ConflictError{Kind: kind, Name: name, Err: err}
	case apierrors.IsInvalid(err), apierrors.IsBadRequest(err):
		return &ValidationError{Field: kind + "/" + name, Message: err.Error()}
	default:
		return &TransientAPIError{Op: op, Err: err}
	}
}
