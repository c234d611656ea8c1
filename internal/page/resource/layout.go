// internal/page/resource/layout.go
package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/xkilldash9x/pagert/internal/page/async"
	"go.uber.org/zap"
)

// LayoutScheduled marks the resource as picked for layout at t.
func (r *Resource) LayoutScheduled(t time.Time) {
	r.mu.Lock()
	r.state = LayoutScheduled
	r.layoutScheduleTime = t
	r.mu.Unlock()
}

// LayoutCanceled reverts a schedule that will not be followed by StartLayout.
func (r *Resource) LayoutCanceled() {
	r.mu.Lock()
	r.layoutCanceledLocked()
	r.mu.Unlock()
}

func (r *Resource) layoutCanceledLocked() {
	if r.measured {
		r.state = ReadyForLayout
	} else {
		r.state = NotLaidOut
	}
}

// StartLayout runs the target's layout inside a mutate opportunity. Repeat
// calls while the layout runs return the same future. The resource must be
// built, displayed and scheduled; otherwise a ContractViolationError is
// reported and returned.
func (r *Resource) StartLayout() *async.Future {
	relayout := r.target.IsRelayoutNeeded()

	r.mu.Lock()
	if r.layoutOp != nil {
		op := r.layoutOp
		r.mu.Unlock()
		return op
	}

	switch r.state {
	case LayoutComplete:
		r.mu.Unlock()
		return async.Resolved()
	case LayoutFailed:
		err := r.lastLayoutError
		if err == nil {
			err = errLayoutFailed
		}
		r.mu.Unlock()
		return async.Rejected(err)
	}

	var violation *ContractViolationError
	switch {
	case r.state == NotBuilt:
		violation = r.violationLocked("startLayout", "not built")
	case !r.isDisplayedLocked():
		violation = r.violationLocked("startLayout", "not displayed")
	case r.state != LayoutScheduled:
		violation = r.violationLocked("startLayout", "layout was not scheduled")
	}
	if violation != nil {
		r.mu.Unlock()
		r.report(violation)
		return async.Rejected(violation)
	}

	if r.layoutCount > 0 && !relayout {
		r.state = LayoutComplete
		waits := r.takeWithinViewportWaitsLocked()
		r.mu.Unlock()
		settleAll(waits)
		r.logger.Debug("Layout skipped, relayout not requested")
		return async.Resolved()
	}

	r.layoutCount++
	r.state = LayoutScheduled
	ctx, cancel := context.WithCancelCause(r.lifetime)
	r.cancelLayout = cancel
	r.layoutAttempt++
	attempt := r.layoutAttempt
	op := async.NewFuture()
	r.layoutOp = op
	count := r.layoutCount
	r.mu.Unlock()

	r.logger.Debug("Start layout", zap.Int("count", count))
	go r.runLayout(ctx, cancel, attempt, op)
	return op
}

func (r *Resource) runLayout(ctx context.Context, cancel context.CancelCauseFunc, attempt uint64, op *async.Future) {
	result := make(chan error, 1)
	err := r.env.Frames.Mutate(ctx, func() {
		go func() {
			result <- callSafely("layout", func() error { return r.target.LayoutCallback(ctx) })
		}()
	})
	if err == nil {
		select {
		case err = <-result:
		case <-ctx.Done():
		}
	}
	r.layoutComplete(ctx, cancel, attempt, op, err)
}

// layoutComplete settles one layout attempt. The cancellation check happens
// under the lock that Unlayout holds while firing the token, so a cancelled
// attempt never writes state.
func (r *Resource) layoutComplete(ctx context.Context, cancel context.CancelCauseFunc, attempt uint64, op *async.Future, err error) {
	r.mu.Lock()
	current := r.layoutAttempt == attempt && r.layoutOp == op

	if ctx.Err() != nil {
		if current {
			r.layoutOp = nil
		}
		r.mu.Unlock()
		cancel(nil)
		r.logger.Debug("Layout cancelled", zap.NamedError("cause", context.Cause(ctx)))
		op.Reject(fmt.Errorf("layout of %s: %w", r.debugID, ErrCancelled))
		return
	}

	if current {
		r.layoutOp = nil
		r.cancelLayout = nil
	}
	firstLoad := !r.loadedOnce
	r.loadedOnce = true
	if err == nil {
		r.state = LayoutComplete
		r.lastLayoutError = nil
	} else {
		err = &TargetError{ID: r.id, DebugID: r.debugID, Phase: "layout", Err: err}
		r.state = LayoutFailed
		r.lastLayoutError = err
	}
	waits := r.takeWithinViewportWaitsLocked()
	r.mu.Unlock()

	// Release the token only after the state is written.
	cancel(nil)
	settleAll(waits)
	if firstLoad {
		r.loaded.Resolve()
	}

	if err != nil {
		r.logger.Debug("Layout failed", zap.Error(err))
		op.Reject(err)
		return
	}
	r.logger.Debug("Layout complete")
	op.Resolve()
}

// LoadedOnce settles after the first layout attempt finishes, successful or not.
func (r *Resource) LoadedOnce() *async.Future {
	return r.loaded
}

func (r *Resource) HasLoadedOnce() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadedOnce
}

// Unlayout tears the target down. It is a no-op before layout was scheduled.
// A layout in flight is cancelled. The resource returns to NotLaidOut only if
// the target's UnlayoutCallback asks to be laid out again.
func (r *Resource) Unlayout() {
	r.mu.Lock()
	switch r.state {
	case NotBuilt, NotLaidOut, ReadyForLayout:
		r.mu.Unlock()
		return
	}
	cancelled := r.cancelLayout != nil
	if cancelled {
		r.cancelLayout(ErrCancelled)
		r.cancelLayout = nil
	}
	r.mu.Unlock()

	r.SetInViewport(false)
	if !r.target.UnlayoutCallback() {
		// A cancelled attempt never writes state, so a resource left
		// scheduled would never be admitted again. The attempt does not
		// count as a layout.
		r.mu.Lock()
		if cancelled && r.state == LayoutScheduled {
			if r.layoutCount > 0 {
				r.layoutCount--
			}
			r.layoutCanceledLocked()
		}
		r.mu.Unlock()
		return
	}
	r.target.TogglePlaceholder(true)

	r.mu.Lock()
	r.state = NotLaidOut
	r.layoutCount = 0
	r.layoutOp = nil
	r.mu.Unlock()
	r.logger.Debug("Unlayout")
}

func (r *Resource) violationLocked(op, reason string) *ContractViolationError {
	return &ContractViolationError{ID: r.id, DebugID: r.debugID, Op: op, State: r.state, Reason: reason}
}

func settleAll(futures []*async.Future) {
	for _, f := range futures {
		f.TrySettle(nil)
	}
}

// callSafely turns a panic in a target callback into an error.
func callSafely(phase string, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s callback panicked: %v", phase, p)
		}
	}()
	return fn()
}
