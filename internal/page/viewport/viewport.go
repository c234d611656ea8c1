// internal/page/viewport/viewport.go
package viewport

import (
	"strconv"
	"strings"
	"sync"

	"github.com/xkilldash9x/pagert/internal/page/dom"
	"github.com/xkilldash9x/pagert/internal/page/layoutrect"
	"golang.org/x/net/html"
)

// Options configures the initial viewport geometry.
type Options struct {
	Width                 float64
	Height                float64
	ScrollLeft            float64
	ScrollTop             float64
	SupportsPositionFixed bool
}

// Viewport is a scrollable window onto a parsed document. Element geometry is
// derived from the cascaded `left`, `top`, `width` and `height` declarations
// of each element; there is no flow layout.
type Viewport struct {
	doc *dom.Document

	mu            sync.RWMutex
	width         float64
	height        float64
	scrollLeft    float64
	scrollTop     float64
	direction     int
	supportsFixed bool
}

// New creates a viewport over doc.
func New(doc *dom.Document, opts Options) *Viewport {
	return &Viewport{
		doc:           doc,
		width:         opts.Width,
		height:        opts.Height,
		scrollLeft:    opts.ScrollLeft,
		scrollTop:     opts.ScrollTop,
		supportsFixed: opts.SupportsPositionFixed,
	}
}

// Document returns the underlying document.
func (v *Viewport) Document() *dom.Document {
	return v.doc
}

// GetRect returns the visible rectangle in document coordinates.
func (v *Viewport) GetRect() layoutrect.Rect {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return layoutrect.Ltwh(v.scrollLeft, v.scrollTop, v.width, v.height)
}

// GetSize returns the viewport's width and height.
func (v *Viewport) GetSize() layoutrect.Size {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return layoutrect.Size{Width: v.width, Height: v.height}
}

// SetSize resizes the viewport.
func (v *Viewport) SetSize(width, height float64) {
	v.mu.Lock()
	v.width, v.height = width, height
	v.mu.Unlock()
}

func (v *Viewport) GetScrollTop() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.scrollTop
}

func (v *Viewport) GetScrollLeft() float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.scrollLeft
}

// SetScrollTop scrolls vertically. The scroll direction follows the sign of
// the last non-zero change.
func (v *Viewport) SetScrollTop(top float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch {
	case top > v.scrollTop:
		v.direction = 1
	case top < v.scrollTop:
		v.direction = -1
	}
	v.scrollTop = top
}

func (v *Viewport) SetScrollLeft(left float64) {
	v.mu.Lock()
	v.scrollLeft = left
	v.mu.Unlock()
}

// ScrollDirection returns 1 when the last scroll moved down, -1 when it moved
// up, and 0 before any vertical scroll.
func (v *Viewport) ScrollDirection() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.direction
}

// SupportsPositionFixed reports whether fixed positioning is honoured.
func (v *Viewport) SupportsPositionFixed() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.supportsFixed
}

// IsDeclaredFixed reports whether the element itself is declared
// position: fixed. Ancestors are not consulted. Sticky elements stay in the
// document flow and are not fixed.
func (v *Viewport) IsDeclaredFixed(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	return strings.TrimSpace(v.doc.ComputedStyle(n)["position"]) == "fixed"
}

// GetLayoutRect returns the element's box in document coordinates. Hidden
// elements, and elements inside hidden ancestors, get a zero box. Boxes of
// fixed content are viewport-relative in the stylesheet, so the current
// scroll offsets are added.
func (v *Viewport) GetLayoutRect(n *html.Node) layoutrect.Rect {
	if n == nil || !dom.InDocument(n) {
		return layoutrect.Ltwh(0, 0, 0, 0)
	}
	style := v.doc.ComputedStyle(n)

	fixed := false
	for p := n; p != nil; p = dom.ParentElement(p) {
		ps := style
		if p != n {
			ps = v.doc.ComputedStyle(p)
		}
		if strings.TrimSpace(ps["display"]) == "none" {
			return layoutrect.Ltwh(0, 0, 0, 0)
		}
		if !fixed && ps["position"] == "fixed" {
			fixed = true
		}
	}

	rect := layoutrect.Ltwh(
		parseLength(style["left"]),
		parseLength(style["top"]),
		parseLength(style["width"]),
		parseLength(style["height"]),
	)
	if fixed && v.SupportsPositionFixed() {
		rect = layoutrect.Moved(rect, v.GetScrollLeft(), v.GetScrollTop())
	}
	return rect
}

// parseLength understands unitless numbers and px values. Anything else,
// including percentages, resolves to zero.
func parseLength(val string) float64 {
	val = strings.TrimSpace(strings.ToLower(val))
	val = strings.TrimSuffix(val, "px")
	if val == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return 0
	}
	return f
}
