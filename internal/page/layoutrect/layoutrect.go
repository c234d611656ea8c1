// internal/page/layoutrect/layoutrect.go
package layoutrect

// -- Core Structures --

// Rect is a rectangle relative to the document (or to the viewport for
// screen-fixed content). Right and Bottom are derived and kept in sync by the
// constructors in this package; construct values with Ltwh rather than by
// hand.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Size is the width/height pair of a Rect.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Margins describes the four margin edges of a box.
type Margins struct {
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Left   float64 `json:"left"`
}

// -- Construction --

// Ltwh creates a rectangle from its left, top, width and height.
func Ltwh(left, top, width, height float64) Rect {
	return Rect{
		Left:   left,
		Top:    top,
		Width:  width,
		Height: height,
		Right:  left + width,
		Bottom: top + height,
	}
}

// Lbrt creates a rectangle from its left, top, right and bottom edges.
func Lbrt(left, top, right, bottom float64) Rect {
	return Ltwh(left, top, right-left, bottom-top)
}

// -- Queries --

// Equal reports whether two rectangles have identical geometry.
func Equal(a, b Rect) bool {
	return a.Left == b.Left && a.Top == b.Top &&
		a.Width == b.Width && a.Height == b.Height
}

// SizeEqual reports whether two rectangles have the same width and height.
func SizeEqual(a, b Rect) bool {
	return a.Width == b.Width && a.Height == b.Height
}

// Overlap reports whether two rectangles intersect. Touching edges count as
// overlapping.
func Overlap(a, b Rect) bool {
	return a.Top <= b.Bottom && b.Top <= a.Bottom &&
		a.Left <= b.Right && b.Left <= a.Right
}

// IsEmpty reports whether the rectangle has no area.
func (r Rect) IsEmpty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Size returns the width/height pair.
func (r Rect) Size() Size {
	return Size{Width: r.Width, Height: r.Height}
}

// -- Transformation --

// Moved returns the rectangle translated by dx, dy.
func Moved(r Rect, dx, dy float64) Rect {
	if dx == 0 && dy == 0 {
		return r
	}
	return Ltwh(r.Left+dx, r.Top+dy, r.Width, r.Height)
}

// Expand grows the rectangle by the given ratios of its own width and height
// on every side. Ratios of 0 return the rectangle unchanged.
func Expand(r Rect, dw, dh float64) Rect {
	return Ltwh(
		r.Left-r.Width*dw,
		r.Top-r.Height*dh,
		r.Width*(1+dw*2),
		r.Height*(1+dh*2),
	)
}

// WithSize returns a rectangle at the same position with a new size.
func WithSize(r Rect, width, height float64) Rect {
	return Ltwh(r.Left, r.Top, width, height)
}
