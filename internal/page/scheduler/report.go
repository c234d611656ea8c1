// internal/page/scheduler/report.go
package scheduler

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagert/internal/page/layoutrect"
	"github.com/xkilldash9x/pagert/internal/page/resource"
)

// PassReport summarizes one scheduling pass.
type PassReport struct {
	Session    string           `json:"session"`
	Pass       int              `json:"pass"`
	Viewport   layoutrect.Rect  `json:"viewport"`
	Built      int              `json:"built"`
	Measured   int              `json:"measured"`
	InViewport int              `json:"in_viewport"`
	Scheduled  int              `json:"scheduled"`
	Idle       int              `json:"idle_scheduled"`
	Completed  int              `json:"completed"`
	Failed     int              `json:"failed"`
	Cancelled  int              `json:"cancelled"`
	TimedOut   int              `json:"timed_out"`
	Unloaded   int              `json:"unloaded"`
	Unlaidout  int              `json:"unlaidout"`
	Duration   time.Duration    `json:"duration"`
	Resources  []ResourceReport `json:"resources"`
}

// ResourceReport is the state of one resource at the end of a pass.
type ResourceReport struct {
	ID          int             `json:"id"`
	DebugID     string          `json:"debug_id"`
	State       string          `json:"state"`
	Box         layoutrect.Rect `json:"box"`
	InViewport  bool            `json:"in_viewport"`
	Owned       bool            `json:"owned,omitempty"`
	Priority    int             `json:"priority"`
	LayoutCount int             `json:"layout_count"`
	Error       string          `json:"error,omitempty"`
}

func newResourceReport(r *resource.Resource) ResourceReport {
	rep := ResourceReport{
		ID:          r.ID(),
		DebugID:     r.DebugID(),
		State:       r.State().String(),
		Box:         r.GetLayoutBox(),
		InViewport:  r.IsInViewport(),
		Owned:       r.HasOwner(),
		Priority:    r.GetLayoutPriority(),
		LayoutCount: r.LayoutCount(),
	}
	if err := r.LastLayoutError(); err != nil {
		rep.Error = err.Error()
	}
	return rep
}

// ErrorStats counts the errors reported by resources.
type ErrorStats struct {
	Violations     int `json:"violations"`
	TargetFailures int `json:"target_failures"`
	Other          int `json:"other"`
}

type errorStats struct {
	mu sync.Mutex
	ErrorStats
}

// Report implements resource.ErrorReporter.
func (m *Manager) Report(err error, r *resource.Resource) {
	fields := []zap.Field{zap.Error(err)}
	if r != nil {
		fields = append(fields, zap.String("resource", r.DebugID()))
	}

	var violation *resource.ContractViolationError
	var targetErr *resource.TargetError
	m.errs.mu.Lock()
	switch {
	case errors.As(err, &violation):
		m.errs.Violations++
	case errors.As(err, &targetErr):
		m.errs.TargetFailures++
	default:
		m.errs.Other++
	}
	m.errs.mu.Unlock()

	if violation != nil {
		m.logger.Error("Scheduler contract violated", fields...)
		return
	}
	m.logger.Warn("Render target failed", fields...)
}

// Errors returns the counts of reported errors so far.
func (m *Manager) Errors() ErrorStats {
	m.errs.mu.Lock()
	defer m.errs.mu.Unlock()
	return m.errs.ErrorStats
}
