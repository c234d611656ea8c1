// internal/page/element/element.go
package element

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xkilldash9x/pagert/internal/page/css"
	"github.com/xkilldash9x/pagert/internal/page/dom"
	"github.com/xkilldash9x/pagert/internal/page/layoutrect"
	"github.com/xkilldash9x/pagert/internal/page/resource"
	"golang.org/x/net/html"
)

// Attributes read by Element.
const (
	AttrPriority            = "data-priority"
	AttrRenderOutside       = "data-render-outside"
	AttrIdleRenderOutside   = "data-idle-render-outside"
	AttrLayoutDelay         = "data-layout-delay"
	AttrBuildDelay          = "data-build-delay"
	AttrFailLayout          = "data-fail-layout"
	AttrFailBuild           = "data-fail-build"
	AttrConsent             = "data-consent"
	AttrRelayout            = "data-relayout"
	AttrUnlayout            = "data-unlayout"
	AttrUnlayoutOnPause     = "data-unlayout-on-pause"
	AttrUpgraded            = "data-upgraded"
	AttrOwner               = "data-owner"
	AttrPrerender           = "data-prerender"
	AttrBuildRenderBlocking = "data-render-blocking"
)

// Event names recorded by Element.
const (
	EventBuild       = "build"
	EventLayout      = "layout"
	EventUnlayout    = "unlayout"
	EventViewport    = "viewport"
	EventPause       = "pause"
	EventResume      = "resume"
	EventResize      = "resize"
	EventOverflow    = "overflow"
	EventCollapse    = "collapse"
	EventExpand      = "expand"
	EventChildHidden = "child-collapsed"
	EventDisconnect  = "disconnect"
)

// Event is one recorded callback.
type Event struct {
	Name   string    `json:"name"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Snapshot is the observable state of an Element.
type Snapshot struct {
	Tag           string          `json:"tag"`
	ID            string          `json:"id,omitempty"`
	XPath         string          `json:"xpath"`
	Built         bool            `json:"built"`
	Layouts       int             `json:"layouts"`
	Unlayouts     int             `json:"unlayouts"`
	InViewport    bool            `json:"in_viewport"`
	Paused        bool            `json:"paused"`
	Placeholder   bool            `json:"placeholder"`
	LastBox       layoutrect.Rect `json:"last_box"`
	Events        []Event         `json:"events,omitempty"`
	Overflown     bool            `json:"overflown"`
	CollapsedKids int             `json:"collapsed_children,omitempty"`
}

// Element is a render target whose behaviour is configured by data-*
// attributes on its node. It does no real rendering; every hook is recorded
// so a run can be inspected afterwards.
type Element struct {
	node *html.Node
	now  func() time.Time

	// cfg is parsed once at creation; the node's attributes are not
	// re-read afterwards.
	cfg settings

	mu            sync.Mutex
	built         bool
	building      bool
	layouts       int
	unlayouts     int
	inViewport    bool
	paused        bool
	placeholder   bool
	overflown     bool
	lastBox       layoutrect.Rect
	collapsedKids int
	events        []Event
}

type settings struct {
	priority          int
	renderOutside     resource.Distance
	idleRenderOutside resource.Distance
	layoutDelay       time.Duration
	buildDelay        time.Duration
	failLayout        string
	failBuild         string
	consentPending    bool
	relayout          bool
	keepOnUnlayout    bool
	unlayoutOnPause   bool
	upgraded          bool
	owner             bool
	prerender         bool
	renderBlocking    bool
}

// New creates an Element over n. Invalid attribute values are reported
// together.
func New(n *html.Node) (*Element, error) {
	if n == nil || n.Type != html.ElementNode {
		return nil, errors.New("element: node must be an element")
	}
	cfg, err := parseSettings(n)
	if err != nil {
		return nil, fmt.Errorf("element %s: %w", describe(n), err)
	}
	return &Element{node: n, now: time.Now, cfg: cfg, placeholder: true}, nil
}

func parseSettings(n *html.Node) (settings, error) {
	s := settings{
		renderOutside:     resource.Never,
		idleRenderOutside: resource.Never,
		upgraded:          true,
	}
	var errs []error

	if v, ok := dom.LookupAttr(n, AttrPriority); ok {
		p, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", AttrPriority, err))
		}
		s.priority = p
	}
	if v, ok := dom.LookupAttr(n, AttrRenderOutside); ok {
		d, err := parseDistanceAttr(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", AttrRenderOutside, err))
		}
		s.renderOutside = d
	}
	if v, ok := dom.LookupAttr(n, AttrIdleRenderOutside); ok {
		d, err := parseDistanceAttr(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", AttrIdleRenderOutside, err))
		}
		s.idleRenderOutside = d
	}
	if v, ok := dom.LookupAttr(n, AttrLayoutDelay); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", AttrLayoutDelay, err))
		}
		s.layoutDelay = d
	}
	if v, ok := dom.LookupAttr(n, AttrBuildDelay); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", AttrBuildDelay, err))
		}
		s.buildDelay = d
	}
	if v, ok := dom.LookupAttr(n, AttrFailLayout); ok {
		s.failLayout = failureMessage(v, "layout failed")
	}
	if v, ok := dom.LookupAttr(n, AttrFailBuild); ok {
		s.failBuild = failureMessage(v, "build failed")
	}
	s.consentPending = strings.EqualFold(dom.Attr(n, AttrConsent), "pending")
	s.relayout = isTrue(n, AttrRelayout)
	s.keepOnUnlayout = strings.EqualFold(dom.Attr(n, AttrUnlayout), "keep")
	s.unlayoutOnPause = isTrue(n, AttrUnlayoutOnPause)
	if v, ok := dom.LookupAttr(n, AttrUpgraded); ok && strings.EqualFold(strings.TrimSpace(v), "false") {
		s.upgraded = false
	}
	s.owner = isTrue(n, AttrOwner)
	s.prerender = isTrue(n, AttrPrerender)
	s.renderBlocking = isTrue(n, AttrBuildRenderBlocking)

	return s, errors.Join(errs...)
}

// parseDistanceAttr treats a bare attribute (empty value) as true.
func parseDistanceAttr(v string) (resource.Distance, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return resource.Always, nil
	}
	return resource.ParseDistance(v)
}

func failureMessage(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

// isTrue accepts a bare attribute or any value other than "false".
func isTrue(n *html.Node, key string) bool {
	v, ok := dom.LookupAttr(n, key)
	return ok && !strings.EqualFold(strings.TrimSpace(v), "false")
}

func describe(n *html.Node) string {
	if id := dom.Attr(n, "id"); id != "" {
		return dom.TagName(n) + "#" + id
	}
	return dom.TagName(n)
}

func (e *Element) record(name, detail string) {
	e.events = append(e.events, Event{Name: name, Detail: detail, At: e.now()})
}

// IsOwner reports whether the element owns the resources in its subtree.
func (e *Element) IsOwner() bool { return e.cfg.owner }

// Snapshot returns a copy of the recorded state.
func (e *Element) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Tag:           dom.TagName(e.node),
		ID:            dom.Attr(e.node, "id"),
		XPath:         dom.XPath(e.node),
		Built:         e.built,
		Layouts:       e.layouts,
		Unlayouts:     e.unlayouts,
		InViewport:    e.inViewport,
		Paused:        e.paused,
		Placeholder:   e.placeholder,
		LastBox:       e.lastBox,
		Events:        append([]Event(nil), e.events...),
		Overflown:     e.overflown,
		CollapsedKids: e.collapsedKids,
	}
}

// -- resource.RenderTarget --

func (e *Element) Element() *html.Node { return e.node }

func (e *Element) IsBuilt() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.built
}

func (e *Element) IsBuilding() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.building
}

func (e *Element) IsUpgraded() bool { return e.cfg.upgraded }

// BuildInternal waits for the configured build delay and then succeeds,
// fails, or reports a pending consent.
func (e *Element) BuildInternal(ctx context.Context) error {
	e.mu.Lock()
	e.building = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.building = false
		e.mu.Unlock()
	}()

	if err := sleep(ctx, e.cfg.buildDelay); err != nil {
		return err
	}
	if e.cfg.consentPending {
		return resource.ErrBlockedByConsent
	}
	if e.cfg.failBuild != "" {
		e.mu.Lock()
		e.record(EventBuild, e.cfg.failBuild)
		e.mu.Unlock()
		return errors.New(e.cfg.failBuild)
	}

	e.mu.Lock()
	e.built = true
	e.record(EventBuild, "")
	e.mu.Unlock()
	return nil
}

func (e *Element) GetLayoutPriority() int { return e.cfg.priority }

// LayoutCallback waits for the configured layout delay, observing ctx.
func (e *Element) LayoutCallback(ctx context.Context) error {
	if err := sleep(ctx, e.cfg.layoutDelay); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.failLayout != "" {
		e.record(EventLayout, e.cfg.failLayout)
		return errors.New(e.cfg.failLayout)
	}
	e.layouts++
	e.placeholder = false
	e.record(EventLayout, "")
	return nil
}

// UnlayoutCallback tears down unless the element is marked data-unlayout="keep".
func (e *Element) UnlayoutCallback() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.keepOnUnlayout {
		e.record(EventUnlayout, "kept")
		return false
	}
	e.unlayouts++
	e.record(EventUnlayout, "")
	return true
}

func (e *Element) IsRelayoutNeeded() bool { return e.cfg.relayout }

func (e *Element) RenderOutsideViewport() resource.Distance { return e.cfg.renderOutside }

func (e *Element) IdleRenderOutsideViewport() resource.Distance { return e.cfg.idleRenderOutside }

func (e *Element) UpdateLayoutBox(box layoutrect.Rect, _ bool) {
	e.mu.Lock()
	e.lastBox = box
	e.mu.Unlock()
}

func (e *Element) TogglePlaceholder(show bool) {
	e.mu.Lock()
	e.placeholder = show
	e.mu.Unlock()
}

func (e *Element) OverflowCallback(overflown bool, requested resource.ChangeSize) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.overflown = overflown
	e.record(EventOverflow, fmt.Sprintf("overflown=%t height=%g width=%g", overflown, requested.Height, requested.Width))
}

func (e *Element) PrerenderAllowed() bool { return e.cfg.prerender }

func (e *Element) IsBuildRenderBlocking() bool { return e.cfg.renderBlocking }

func (e *Element) ViewportCallback(in bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inViewport = in
	e.record(EventViewport, strconv.FormatBool(in))
}

func (e *Element) PauseCallback() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	e.record(EventPause, "")
}

func (e *Element) ResumeCallback() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	e.record(EventResume, "")
}

func (e *Element) UnlayoutOnPause() bool { return e.cfg.unlayoutOnPause }

// ApplySize writes the granted size into the inline style. Callers must
// hold the document's mutation opportunity.
func (e *Element) ApplySize(size resource.ChangeSize) {
	set := map[string]string{}
	if size.Height > 0 {
		set["height"] = formatPx(size.Height)
	}
	if size.Width > 0 {
		set["width"] = formatPx(size.Width)
	}
	if m := size.Margins; m != nil {
		set["margin"] = strings.Join([]string{formatPx(m.Top), formatPx(m.Right), formatPx(m.Bottom), formatPx(m.Left)}, " ")
	}
	e.updateInlineStyle(set)

	e.mu.Lock()
	e.record(EventResize, fmt.Sprintf("height=%g width=%g", size.Height, size.Width))
	e.mu.Unlock()
}

// ToggleDisplay hides the node with an inline display:none, or removes it.
func (e *Element) ToggleDisplay(show bool) {
	if show {
		e.updateInlineStyle(map[string]string{"display": ""})
	} else {
		e.updateInlineStyle(map[string]string{"display": "none"})
	}
	name := EventCollapse
	if show {
		name = EventExpand
	}
	e.mu.Lock()
	e.record(name, "")
	e.mu.Unlock()
}

func (e *Element) CollapsedCallback(child resource.RenderTarget) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.collapsedKids++
	e.record(EventChildHidden, describe(child.Element()))
}

func (e *Element) DisconnectedCallback() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record(EventDisconnect, "")
}

// updateInlineStyle merges props into the style attribute. An empty value
// removes the property.
func (e *Element) updateInlineStyle(props map[string]string) {
	decls := css.ParseInline(dom.Attr(e.node, "style"))
	out := make([]string, 0, len(decls)+len(props))
	for _, d := range decls {
		if _, replaced := props[string(d.Property)]; replaced {
			continue
		}
		out = append(out, string(d.Property)+": "+string(d.Value)+importance(d))
	}
	for _, key := range []string{"display", "width", "height", "margin"} {
		if v, ok := props[key]; ok && v != "" {
			out = append(out, key+": "+v)
		}
	}
	if len(out) == 0 {
		dom.RemoveAttr(e.node, "style")
		return
	}
	dom.SetAttr(e.node, "style", strings.Join(out, "; "))
}

func importance(d css.Declaration) string {
	if d.Important {
		return " !important"
	}
	return ""
}

func formatPx(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
