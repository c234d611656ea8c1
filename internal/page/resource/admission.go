// internal/page/resource/admission.go
package resource

import (
	"github.com/xkilldash9x/pagert/internal/page/async"
)

// Content the user scrolls away from is admitted at this fraction of the
// normal distance.
const scrollPenalty = 2

// GetDistanceViewportRatio locates the layout box relative to the viewport.
// A box with no horizontal overlap is never within any distance; a box that
// overlaps vertically is always within.
func (r *Resource) GetDistanceViewportRatio() ViewportRatio {
	vp := r.env.Viewport
	viewportBox := vp.GetRect()
	layoutBox := r.GetLayoutBox()
	direction := vp.ScrollDirection()

	if viewportBox.Right < layoutBox.Left || viewportBox.Left > layoutBox.Right {
		return ViewportRatio{Decided: true, Within: false}
	}

	ratio := ViewportRatio{ScrollPenalty: 1, ViewportHeight: viewportBox.Height}
	switch {
	case viewportBox.Bottom < layoutBox.Top:
		ratio.Distance = layoutBox.Top - viewportBox.Bottom
		if direction < 0 {
			ratio.ScrollPenalty = scrollPenalty
		}
	case viewportBox.Top > layoutBox.Bottom:
		ratio.Distance = viewportBox.Top - layoutBox.Bottom
		if direction > 0 {
			ratio.ScrollPenalty = scrollPenalty
		}
	default:
		return ViewportRatio{Decided: true, Within: true}
	}
	return ratio
}

// IsWithinViewportRatio applies a distance policy. An explicit policy is
// returned unchanged; a numeric one admits boxes closer than that many
// viewport heights, reduced by the scroll penalty. ratio may be nil, in which
// case it is computed.
func (r *Resource) IsWithinViewportRatio(d Distance, ratio *ViewportRatio) bool {
	if allow, ok := d.Bool(); ok {
		return allow
	}
	var rt ViewportRatio
	if ratio != nil {
		rt = *ratio
	} else {
		rt = r.GetDistanceViewportRatio()
	}
	return withinRatio(d, rt)
}

func withinRatio(d Distance, rt ViewportRatio) bool {
	if allow, ok := d.Bool(); ok {
		return allow
	}
	if rt.Decided {
		return rt.Within
	}
	multiplier, _ := d.Multiplier()
	penalty := rt.ScrollPenalty
	if penalty <= 0 {
		penalty = 1
	}
	return rt.Distance < rt.ViewportHeight*multiplier/penalty
}

// RenderOutsideViewport reports whether the resource may render although it
// is not visible. Owned resources are always admitted.
func (r *Resource) RenderOutsideViewport() bool {
	r.resolveWithinViewportWaits()
	return r.HasOwner() || r.IsWithinViewportRatio(r.target.RenderOutsideViewport(), nil)
}

// IdleRenderOutsideViewport is the admission check used when the page has
// nothing more urgent to render.
func (r *Resource) IdleRenderOutsideViewport() bool {
	r.resolveWithinViewportWaits()
	return r.IsWithinViewportRatio(r.target.IdleRenderOutsideViewport(), nil)
}

// IsLayoutPending reports whether the resource has not reached a terminal
// layout state.
func (r *Resource) IsLayoutPending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isLayoutPendingLocked()
}

func (r *Resource) isLayoutPendingLocked() bool {
	return r.state != LayoutComplete && r.state != LayoutFailed
}

// WhenWithinViewport settles once the resource comes within d. It is settled
// immediately when layout is no longer pending, d is Always, or the resource
// is already within d. Waits are re-evaluated on every admission check.
func (r *Resource) WhenWithinViewport(d Distance) *async.Future {
	if allow, ok := d.Bool(); ok && allow {
		return async.Resolved()
	}
	r.mu.Lock()
	if !r.isLayoutPendingLocked() {
		r.mu.Unlock()
		return async.Resolved()
	}
	if f, ok := r.withinViewport[d]; ok {
		r.mu.Unlock()
		return f
	}
	r.mu.Unlock()

	if r.IsWithinViewportRatio(d, nil) {
		return async.Resolved()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.withinViewport[d]; ok {
		return f
	}
	if r.withinViewport == nil {
		r.withinViewport = make(map[Distance]*async.Future)
	}
	f := async.NewFuture()
	r.withinViewport[d] = f
	return f
}

func (r *Resource) resolveWithinViewportWaits() {
	r.mu.Lock()
	if len(r.withinViewport) == 0 {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	ratio := r.GetDistanceViewportRatio()

	r.mu.Lock()
	var ready []*async.Future
	for d, f := range r.withinViewport {
		if withinRatio(d, ratio) {
			ready = append(ready, f)
			delete(r.withinViewport, d)
		}
	}
	r.mu.Unlock()

	for _, f := range ready {
		f.TrySettle(nil)
	}
}

// takeWithinViewportWaitsLocked removes every outstanding wait and returns
// them for the caller to settle once the lock is released.
func (r *Resource) takeWithinViewportWaitsLocked() []*async.Future {
	if len(r.withinViewport) == 0 {
		return nil
	}
	out := make([]*async.Future, 0, len(r.withinViewport))
	for _, f := range r.withinViewport {
		out = append(out, f)
	}
	r.withinViewport = nil
	return out
}
