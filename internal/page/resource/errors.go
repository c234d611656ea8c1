// internal/page/resource/errors.go
package resource

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrCancelled fails a layout that was aborted by a concurrent unlayout
	// or disconnect. It is an expected outcome.
	ErrCancelled = errors.New("layout cancelled")
	// ErrBlockedByConsent is returned by targets whose build waits on user
	// consent. It is never reported.
	ErrBlockedByConsent = errors.New("blocked by consent")

	errLayoutFailed = errors.New("layout already failed")
)

// ContractViolationError is raised when a caller drives a Resource out of
// order, e.g. starting a layout that was never scheduled.
type ContractViolationError struct {
	ID      int
	DebugID string
	Op      string
	State   State
	Reason  string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("contract violation: %s on %s in state %s: %s", e.Op, e.DebugID, e.State, e.Reason)
}

// TargetError wraps a failure returned by a render target's build or layout.
type TargetError struct {
	ID      int
	DebugID string
	Phase   string
	Err     error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Phase, e.DebugID, e.Err)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}

// ErrorReporter receives contract violations and build failures.
type ErrorReporter interface {
	Report(err error, r *Resource)
}

// LogReporter reports by logging. Contract violations are errors, everything
// else a warning.
type LogReporter struct {
	Logger *zap.Logger
}

func (l LogReporter) Report(err error, r *Resource) {
	logger := l.Logger
	if logger == nil {
		return
	}
	fields := []zap.Field{zap.Error(err)}
	if r != nil {
		fields = append(fields, zap.String("resource", r.DebugID()))
	}
	var violation *ContractViolationError
	if errors.As(err, &violation) {
		logger.Error("Resource contract violation", fields...)
		return
	}
	logger.Warn("Render target failure", fields...)
}
