// internal/page/scheduler/pass.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/pagert/internal/page/async"
	"github.com/xkilldash9x/pagert/internal/page/layoutrect"
	"github.com/xkilldash9x/pagert/internal/page/resource"
)

const (
	// The visible rect is grown by a quarter on every side so elements hear
	// about entering the viewport just before they do.
	visibleExpand = 0.25
	// Layout is considered up to two viewports above and below.
	loadExpandWidth  = 0.25
	loadExpandHeight = 2
	// At most this many idle admissions happen per pass.
	maxIdleLayouts = 4
)

// Pass runs one scheduling cycle: build, measure, viewport flags, admission,
// layout and unlayout. It returns once the admitted layouts settle or time
// out.
func (m *Manager) Pass(ctx context.Context) (PassReport, error) {
	start := time.Now()
	m.mu.Lock()
	m.passes++
	rep := PassReport{Session: m.sessionID, Pass: m.passes}
	m.mu.Unlock()

	resources := m.Resources()
	runtimeCfg := m.cfg.Runtime()
	log := m.logger.With(zap.Int("pass", rep.Pass))

	// Phase 1: build upgraded resources.
	rep.Built = m.buildAll(ctx, resources, runtimeCfg.LayoutTimeout)

	// Phase 2: remeasure what needs it. All reads happen in one measure frame.
	var toUnload []*resource.Resource
	err := m.env.Frames.Measure(ctx, func() {
		for _, r := range resources {
			if r.HasOwner() && !r.IsMeasureRequested() {
				continue
			}
			if r.HasBeenMeasured() && r.State() != resource.NotLaidOut && !r.IsMeasureRequested() {
				continue
			}
			wasDisplayed := r.IsDisplayed()
			r.Measure()
			rep.Measured++
			if wasDisplayed && !r.IsDisplayed() {
				toUnload = append(toUnload, r)
			}
		}
	})
	if err != nil {
		return rep, fmt.Errorf("measure phase: %w", err)
	}
	if len(toUnload) > 0 {
		if err := m.env.Frames.Mutate(ctx, func() {
			for _, r := range toUnload {
				r.Unload()
			}
		}); err != nil {
			return rep, fmt.Errorf("unload phase: %w", err)
		}
		rep.Unloaded = len(toUnload)
	}

	// Phase 3: viewport enter and exit.
	viewportRect := m.env.Viewport.GetRect()
	rep.Viewport = viewportRect
	visibleRect := layoutrect.Expand(viewportRect, visibleExpand, visibleExpand)
	for _, r := range resources {
		if r.State() == resource.NotBuilt || r.HasOwner() {
			continue
		}
		in := r.IsDisplayed() && r.Overlaps(visibleRect)
		r.SetInViewport(in)
		if in {
			rep.InViewport++
		}
	}

	// Phase 4: admission.
	loadRect := layoutrect.Expand(viewportRect, loadExpandWidth, loadExpandHeight)
	var admitted []*resource.Resource
	visiblePending := false
	for _, r := range resources {
		if r.HasOwner() || !r.IsDisplayed() {
			continue
		}
		if r.IsInViewport() && r.IsLayoutPending() {
			visiblePending = true
		}
		if r.State() != resource.ReadyForLayout {
			continue
		}
		if r.Overlaps(loadRect) && (r.IsInViewport() || r.RenderOutsideViewport()) {
			admitted = append(admitted, r)
		}
	}
	rep.Scheduled = len(admitted)

	// Phase 5: idle admission when nothing visible is waiting.
	if runtimeCfg.IdleRenderEnabled && !visiblePending && len(admitted) == 0 {
		for _, r := range resources {
			if rep.Idle >= maxIdleLayouts {
				break
			}
			if r.State() == resource.ReadyForLayout && !r.HasOwner() && r.IsDisplayed() && r.IdleRenderOutsideViewport() {
				log.Debug("Idle render outside viewport", zap.String("resource", r.DebugID()))
				admitted = append(admitted, r)
				rep.Idle++
			}
		}
	}

	slices.SortStableFunc(admitted, func(a, b *resource.Resource) int {
		if pa, pb := a.GetLayoutPriority(), b.GetLayoutPriority(); pa != pb {
			return pa - pb
		}
		ta, tb := a.GetLayoutBox().Top, b.GetLayoutBox().Top
		switch {
		case ta < tb:
			return -1
		case ta > tb:
			return 1
		}
		return 0
	})

	if err := m.layoutAll(ctx, admitted, runtimeCfg.MaxConcurrentLayouts, runtimeCfg.LayoutTimeout, &rep); err != nil {
		return rep, err
	}

	// Phase 6: tear down what drifted too far away.
	if d := runtimeCfg.UnlayoutViewports; d > 0 {
		var far []*resource.Resource
		for _, r := range resources {
			if r.State() == resource.LayoutComplete && !r.HasOwner() && !r.IsWithinViewportRatio(resource.Viewports(d), nil) {
				far = append(far, r)
			}
		}
		if len(far) > 0 {
			if err := m.env.Frames.Mutate(ctx, func() {
				for _, r := range far {
					r.Unlayout()
					if r.State() == resource.NotLaidOut {
						rep.Unlaidout++
					}
				}
			}); err != nil {
				return rep, fmt.Errorf("unlayout phase: %w", err)
			}
		}
	}

	for _, r := range m.Resources() {
		rep.Resources = append(rep.Resources, newResourceReport(r))
	}
	rep.Duration = time.Since(start)
	log.Debug("Pass complete",
		zap.Int("built", rep.Built),
		zap.Int("measured", rep.Measured),
		zap.Int("scheduled", rep.Scheduled+rep.Idle),
		zap.Int("completed", rep.Completed),
		zap.Int("failed", rep.Failed),
		zap.Duration("duration", rep.Duration),
	)
	return rep, nil
}

// buildAll starts the build of every buildable resource and waits, up to
// timeout, for the builds to settle. Build failures are reported by the
// resources themselves.
func (m *Manager) buildAll(ctx context.Context, resources []*resource.Resource, timeout time.Duration) int {
	var builds []*async.Future
	for _, r := range resources {
		if r.State() != resource.NotBuilt || r.IsBuilding() {
			continue
		}
		if op := r.Build(m.lifetime); op != nil {
			builds = append(builds, op)
		}
	}
	if len(builds) == 0 {
		return 0
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	built := 0
	for _, op := range builds {
		if err := op.Wait(waitCtx); err == nil {
			built++
		} else if waitCtx.Err() != nil {
			break
		}
	}
	return built
}

// layoutAll schedules and starts the admitted layouts, running at most limit
// at a time. Layouts still running after timeout are left in flight and
// counted as timed out.
func (m *Manager) layoutAll(ctx context.Context, admitted []*resource.Resource, limit int, timeout time.Duration, rep *PassReport) error {
	if len(admitted) == 0 {
		return nil
	}
	now := time.Now()
	for _, r := range admitted {
		r.LayoutScheduled(now)
	}

	var completed, failed, cancelled, timedOut atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, r := range admitted {
		g.Go(func() error {
			if gctx.Err() != nil {
				r.LayoutCanceled()
				return gctx.Err()
			}
			waitCtx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			err := r.StartLayout().Wait(waitCtx)
			switch {
			case err == nil:
				completed.Add(1)
			case errors.Is(err, resource.ErrCancelled):
				cancelled.Add(1)
			case waitCtx.Err() != nil && gctx.Err() == nil:
				timedOut.Add(1)
				m.logger.Warn("Layout timed out", zap.String("resource", r.DebugID()), zap.Duration("timeout", timeout))
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				failed.Add(1)
				m.logger.Debug("Layout failed", zap.String("resource", r.DebugID()), zap.Error(err))
			}
			return nil
		})
	}
	err := g.Wait()

	rep.Completed = int(completed.Load())
	rep.Failed = int(failed.Load())
	rep.Cancelled = int(cancelled.Load())
	rep.TimedOut = int(timedOut.Load())
	if err != nil {
		return fmt.Errorf("layout phase: %w", err)
	}
	return nil
}

// Run repeats Pass every pass interval until ctx is done. A failing pass is
// logged and the loop continues.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Runtime().PassInterval)
	defer ticker.Stop()

	for {
		if _, err := m.Pass(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.logger.Error("Pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
