// internal/page/resource/resource.go
package resource

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/pagert/internal/page/async"
	"github.com/xkilldash9x/pagert/internal/page/dom"
	"github.com/xkilldash9x/pagert/internal/page/layoutrect"
	"go.uber.org/zap"
)

// Resource tracks one render target through build, measurement, layout and
// teardown. All methods are safe for concurrent use. Target hooks are invoked
// without the Resource lock held.
type Resource struct {
	id      int
	debugID string
	target  RenderTarget
	env     Env
	logger  *zap.Logger

	// lifetime is cancelled on Disconnect and parents every build and
	// layout context.
	lifetime context.Context
	stop     context.CancelFunc

	built  *async.Future
	loaded *async.Future

	mu                 sync.Mutex
	state              State
	building           bool
	buildAttempted     bool
	loadedOnce         bool
	paused             bool
	layoutBox          layoutrect.Rect
	initialLayoutBox   layoutrect.Rect
	measured           bool
	isFixed            bool
	isMeasureRequested bool
	isInViewport       bool
	priorityOverride   int
	layoutCount        int
	lastLayoutError    error
	layoutScheduleTime time.Time
	pendingChangeSize  *ChangeSize

	layoutOp      *async.Future
	cancelLayout  context.CancelCauseFunc
	layoutAttempt uint64

	owner         RenderTarget
	ownerResolved bool
	ownerGen      uint64

	withinViewport map[Distance]*async.Future
}

// New binds a Resource to target and registers it in env.Registry. A target
// that is already built starts in NotLaidOut; one that is mid-build is
// built immediately.
func New(id int, target RenderTarget, env Env) *Resource {
	env = env.withDefaults()
	node := target.Element()
	lifetime, stop := context.WithCancel(context.Background())

	r := &Resource{
		id:               id,
		debugID:          dom.TagName(node) + "#" + strconv.Itoa(id),
		target:           target,
		env:              env,
		lifetime:         lifetime,
		stop:             stop,
		built:            async.NewFuture(),
		loaded:           async.NewFuture(),
		state:            NotBuilt,
		layoutBox:        layoutrect.Ltwh(-10000, -10000, 0, 0),
		priorityOverride: -1,
	}
	r.logger = env.Logger.Named("resource").With(zap.String("resource", r.debugID))

	if target.IsBuilt() {
		r.state = NotLaidOut
		r.buildAttempted = true
		r.built.Resolve()
	}
	env.Registry.bind(node, r)

	if r.state == NotBuilt && target.IsBuilding() {
		r.Build(lifetime)
	}
	return r
}

// -- Identity and state --

func (r *Resource) ID() int {
	return r.id
}

// DebugID is the lower-case tag name and the id, e.g. "amp-img#3".
func (r *Resource) DebugID() string {
	return r.debugID
}

func (r *Resource) Target() RenderTarget {
	return r.target
}

func (r *Resource) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Resource) IsBuilt() bool {
	return r.target.IsBuilt()
}

func (r *Resource) IsBuilding() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.building
}

func (r *Resource) LayoutCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.layoutCount
}

// LastLayoutError returns the failure of the most recent completed layout.
func (r *Resource) LastLayoutError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastLayoutError
}

// LayoutScheduleTime returns when LayoutScheduled was last called.
func (r *Resource) LayoutScheduleTime() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.layoutScheduleTime
}

// -- Build --

// Build starts building the target. It returns nil, without invoking the
// target, when the target is not upgraded, a build is already running, or
// a build was already attempted.
func (r *Resource) Build(ctx context.Context) *async.Future {
	if !r.target.IsUpgraded() {
		return nil
	}
	r.mu.Lock()
	if r.building || r.buildAttempted || r.state != NotBuilt {
		r.mu.Unlock()
		return nil
	}
	r.building = true
	r.buildAttempted = true
	r.mu.Unlock()

	op := async.NewFuture()
	go r.runBuild(ctx, op)
	return op
}

func (r *Resource) runBuild(ctx context.Context, op *async.Future) {
	err := callSafely("build", func() error { return r.target.BuildInternal(ctx) })

	r.mu.Lock()
	r.building = false
	if err != nil {
		r.mu.Unlock()
		if errors.Is(err, ErrBlockedByConsent) {
			r.logger.Debug("Build blocked by consent")
		} else {
			err = &TargetError{ID: r.id, DebugID: r.debugID, Phase: "build", Err: err}
			r.report(err)
		}
		r.built.Reject(err)
		op.Reject(err)
		return
	}

	notify := r.measured
	if notify {
		r.state = ReadyForLayout
	} else {
		r.state = NotLaidOut
	}
	box := r.layoutBoxLocked()
	r.mu.Unlock()

	r.logger.Debug("Built")
	if notify {
		r.target.UpdateLayoutBox(box, true)
	}
	r.built.Resolve()
	op.Resolve()
}

// WhenBuilt settles when the build succeeds or fails.
func (r *Resource) WhenBuilt() *async.Future {
	return r.built
}

// -- Measurement --

// Measure refreshes the layout box and fixed-ness from the viewport and moves
// a newly measured or resized resource to ReadyForLayout.
func (r *Resource) Measure() {
	node := r.target.Element()

	// A placeholder inside a managed parent that has no Resource yet would be
	// measured against a box that is about to change.
	if dom.HasAttr(node, "placeholder") {
		if parent := dom.ParentElement(node); parent != nil &&
			strings.HasPrefix(dom.TagName(parent), r.env.ElementPrefix) &&
			r.env.Registry.Get(parent) == nil {
			return
		}
	}

	if !dom.InDocument(node) {
		r.mu.Lock()
		if r.state != NotBuilt {
			r.state = NotLaidOut
		}
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	r.isMeasureRequested = false
	oldBox := r.layoutBox
	r.mu.Unlock()

	vp := r.env.Viewport
	box := vp.GetLayoutRect(node)
	isFixed := false
	if vp.SupportsPositionFixed() && box.Width > 0 && box.Height > 0 {
		for n := node; n != nil && !dom.IsBody(n); n = dom.ParentElement(n) {
			if vp.IsDeclaredFixed(n) {
				isFixed = true
				break
			}
		}
	}
	if isFixed {
		box = layoutrect.Moved(box, -vp.GetScrollLeft(), -vp.GetScrollTop())
	}

	upgraded := r.target.IsUpgraded()
	relayout := r.target.IsRelayoutNeeded()
	sizeChanged := !layoutrect.SizeEqual(oldBox, box)

	r.mu.Lock()
	r.isFixed = isFixed
	r.layoutBox = box
	if upgraded && (r.state == NotLaidOut || oldBox.Top != box.Top || sizeChanged) {
		switch r.state {
		case NotLaidOut:
			r.state = ReadyForLayout
		case LayoutComplete, LayoutFailed:
			if relayout {
				r.state = ReadyForLayout
			}
		}
	}
	if !r.measured {
		r.initialLayoutBox = box
		r.measured = true
	}
	current := r.layoutBoxLocked()
	r.mu.Unlock()

	r.target.UpdateLayoutBox(current, sizeChanged)
}

// EnsureMeasured measures in the next measure opportunity unless the resource
// has already been measured.
func (r *Resource) EnsureMeasured(ctx context.Context) error {
	if r.HasBeenMeasured() {
		return nil
	}
	return r.env.Frames.Measure(ctx, r.Measure)
}

func (r *Resource) HasBeenMeasured() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.measured
}

// RequestMeasure flags the resource for remeasurement.
func (r *Resource) RequestMeasure() {
	r.mu.Lock()
	r.isMeasureRequested = true
	r.mu.Unlock()
}

func (r *Resource) IsMeasureRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isMeasureRequested
}

// GetLayoutBox returns the measured box in document coordinates. Fixed boxes
// follow the current scroll position.
func (r *Resource) GetLayoutBox() layoutrect.Rect {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.layoutBoxLocked()
}

func (r *Resource) layoutBoxLocked() layoutrect.Rect {
	if !r.isFixed {
		return r.layoutBox
	}
	vp := r.env.Viewport
	return layoutrect.Moved(r.layoutBox, vp.GetScrollLeft(), vp.GetScrollTop())
}

// GetPageLayoutBox returns the stored box; for fixed resources this is
// relative to the viewport.
func (r *Resource) GetPageLayoutBox() layoutrect.Rect {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.layoutBox
}

// GetInitialLayoutBox returns the first measured box, or the current box when
// nothing has been measured yet.
func (r *Resource) GetInitialLayoutBox() layoutrect.Rect {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.measured {
		return r.initialLayoutBox
	}
	return r.layoutBox
}

func (r *Resource) GetLayoutSize() layoutrect.Size {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.layoutBox.Size()
}

// IsDisplayed reports whether the resource has a non-empty box and is still
// attached to the document.
func (r *Resource) IsDisplayed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isDisplayedLocked()
}

func (r *Resource) isDisplayedLocked() bool {
	return r.layoutBox.Width > 0 && r.layoutBox.Height > 0 && dom.InDocument(r.target.Element())
}

func (r *Resource) IsFixed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isFixed
}

// Overlaps reports whether the layout box intersects rect.
func (r *Resource) Overlaps(rect layoutrect.Rect) bool {
	return layoutrect.Overlap(r.GetLayoutBox(), rect)
}

// -- Priority --

// GetLayoutPriority returns the override set with UpdateLayoutPriority, or
// the target's own priority.
func (r *Resource) GetLayoutPriority() int {
	r.mu.Lock()
	override := r.priorityOverride
	r.mu.Unlock()
	if override >= 0 {
		return override
	}
	return r.target.GetLayoutPriority()
}

// UpdateLayoutPriority overrides the target's priority. Negative values
// remove the override.
func (r *Resource) UpdateLayoutPriority(p int) {
	r.mu.Lock()
	if p < 0 {
		p = -1
	}
	r.priorityOverride = p
	r.mu.Unlock()
}

func (r *Resource) PrerenderAllowed() bool {
	return r.target.PrerenderAllowed()
}

func (r *Resource) IsBuildRenderBlocking() bool {
	return r.target.IsBuildRenderBlocking()
}

// -- Viewport --

func (r *Resource) IsInViewport() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isInViewport
}

// SetInViewport records visibility and notifies the target on change.
func (r *Resource) SetInViewport(in bool) {
	r.mu.Lock()
	if r.isInViewport == in {
		r.mu.Unlock()
		return
	}
	r.isInViewport = in
	r.mu.Unlock()

	r.logger.Debug("In viewport changed", zap.Bool("in_viewport", in))
	r.target.ViewportCallback(in)
}

// -- Resizing --

// ChangeSize applies a granted resize and requests a remeasure.
func (r *Resource) ChangeSize(size ChangeSize) {
	r.target.ApplySize(size)
	r.RequestMeasure()
}

// OverflowCallback records a resize that could not be granted and tells the
// target whether it currently overflows.
func (r *Resource) OverflowCallback(overflown bool, requested ChangeSize) {
	if overflown {
		r.mu.Lock()
		pending := requested
		r.pendingChangeSize = &pending
		r.mu.Unlock()
	}
	r.target.OverflowCallback(overflown, requested)
}

// GetPendingChangeSize returns the last denied resize, or nil.
func (r *Resource) GetPendingChangeSize() *ChangeSize {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pendingChangeSize == nil {
		return nil
	}
	pending := *r.pendingChangeSize
	return &pending
}

func (r *Resource) ResetPendingChangeSize() {
	r.mu.Lock()
	r.pendingChangeSize = nil
	r.mu.Unlock()
}

// CompleteCollapse hides the target, shrinks its box to zero at the same
// position and tells the owner, if any.
func (r *Resource) CompleteCollapse() {
	r.target.ToggleDisplay(false)

	r.mu.Lock()
	r.layoutBox = layoutrect.WithSize(r.layoutBox, 0, 0)
	r.isFixed = false
	box := r.layoutBox
	r.mu.Unlock()

	r.target.UpdateLayoutBox(box, true)
	if owner := r.GetOwner(); owner != nil {
		owner.CollapsedCallback(r.target)
	}
}

// CompleteExpand shows a collapsed target and requests a remeasure.
func (r *Resource) CompleteExpand() {
	r.target.ToggleDisplay(true)
	r.RequestMeasure()
}

// -- Lifecycle --

// Pause notifies the target and unlayouts it when it asks for that.
func (r *Resource) Pause() {
	r.mu.Lock()
	if r.state == NotBuilt || r.paused {
		r.mu.Unlock()
		return
	}
	r.paused = true
	r.mu.Unlock()

	r.SetInViewport(false)
	r.target.PauseCallback()
	if r.target.UnlayoutOnPause() {
		r.Unlayout()
	}
}

// PauseOnRemove pauses a target that is being removed from the document.
// Unlike Pause it never unlayouts, so a reparented target keeps its state.
func (r *Resource) PauseOnRemove() {
	r.mu.Lock()
	if r.state == NotBuilt || r.paused {
		r.mu.Unlock()
		return
	}
	r.paused = true
	r.mu.Unlock()

	r.SetInViewport(false)
	r.target.PauseCallback()
}

// Resume undoes Pause.
func (r *Resource) Resume() {
	r.mu.Lock()
	if r.state == NotBuilt || !r.paused {
		r.mu.Unlock()
		return
	}
	r.paused = false
	r.mu.Unlock()

	r.target.ResumeCallback()
}

func (r *Resource) IsPaused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paused
}

// Unload pauses and tears down the target.
func (r *Resource) Unload() {
	r.Pause()
	r.Unlayout()
}

// Disconnect unbinds the resource from the page. Any build or layout in
// flight is cancelled and pending viewport waits fail with ErrCancelled.
func (r *Resource) Disconnect() {
	r.env.Registry.forget(r)
	r.stop()

	r.mu.Lock()
	waits := r.takeWithinViewportWaitsLocked()
	r.mu.Unlock()
	for _, f := range waits {
		f.TrySettle(ErrCancelled)
	}

	r.target.DisconnectedCallback()
	r.logger.Debug("Disconnected")
}

func (r *Resource) report(err error) {
	r.env.Reporter.Report(err, r)
}
