// internal/page/resource/target.go
package resource

import (
	"context"

	"github.com/xkilldash9x/pagert/internal/page/layoutrect"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// RenderTarget is the managed unit a Resource drives. Implementations must be
// safe for concurrent use: build and layout callbacks run on their own
// goroutines while queries may arrive from the scheduler.
type RenderTarget interface {
	Element() *html.Node

	IsBuilt() bool
	IsBuilding() bool
	IsUpgraded() bool
	BuildInternal(ctx context.Context) error

	// GetLayoutPriority returns the intrinsic priority; lower runs first.
	GetLayoutPriority() int
	// LayoutCallback renders the target. It must return promptly once ctx
	// is cancelled.
	LayoutCallback(ctx context.Context) error
	// UnlayoutCallback tears down rendered state and reports whether the
	// target should be laid out again later.
	UnlayoutCallback() bool
	IsRelayoutNeeded() bool

	RenderOutsideViewport() Distance
	IdleRenderOutsideViewport() Distance

	UpdateLayoutBox(box layoutrect.Rect, sizeChanged bool)
	TogglePlaceholder(show bool)
	OverflowCallback(overflown bool, requested ChangeSize)
	PrerenderAllowed() bool
	IsBuildRenderBlocking() bool
	ViewportCallback(inViewport bool)

	PauseCallback()
	ResumeCallback()
	UnlayoutOnPause() bool

	ApplySize(size ChangeSize)
	ToggleDisplay(show bool)
	CollapsedCallback(child RenderTarget)
	DisconnectedCallback()
}

// Viewport is the geometry source consulted during measurement and admission.
type Viewport interface {
	GetRect() layoutrect.Rect
	GetScrollTop() float64
	GetScrollLeft() float64
	GetLayoutRect(n *html.Node) layoutrect.Rect
	IsDeclaredFixed(n *html.Node) bool
	SupportsPositionFixed() bool
	// ScrollDirection is 1 when scrolling down, -1 when scrolling up and 0
	// when unknown.
	ScrollDirection() int
}

// FrameScheduler provides measure and mutate opportunities.
type FrameScheduler interface {
	Measure(ctx context.Context, fn func()) error
	Mutate(ctx context.Context, fn func()) error
}

// Env holds the collaborators shared by every Resource of a page.
type Env struct {
	Viewport Viewport
	Frames   FrameScheduler
	Registry *Registry
	Reporter ErrorReporter
	Logger   *zap.Logger
	// ElementPrefix identifies managed tags, e.g. "amp-". It is used to
	// detect placeholders whose managed parent has no Resource yet.
	ElementPrefix string
}

const defaultElementPrefix = "amp-"

func (e Env) withDefaults() Env {
	if e.Logger == nil {
		e.Logger = zap.NewNop()
	}
	if e.Registry == nil {
		e.Registry = NewRegistry()
	}
	if e.Reporter == nil {
		e.Reporter = LogReporter{Logger: e.Logger}
	}
	if e.ElementPrefix == "" {
		e.ElementPrefix = defaultElementPrefix
	}
	return e
}
