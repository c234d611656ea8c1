// internal/page/resource/state.go
package resource

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xkilldash9x/pagert/internal/page/layoutrect"
)

// State is a Resource's position in the build/measure/layout lifecycle.
type State int

const (
	// NotBuilt: the target has not been built. Measures, layouts and viewport
	// signals are not allowed.
	NotBuilt State = iota
	// NotLaidOut: built, but not measured or not ready for layout.
	NotLaidOut
	// ReadyForLayout: built and measured.
	ReadyForLayout
	// LayoutScheduled: the scheduler has picked the resource for layout.
	LayoutScheduled
	// LayoutComplete: the last layout succeeded.
	LayoutComplete
	// LayoutFailed: the last layout failed.
	LayoutFailed
)

func (s State) String() string {
	switch s {
	case NotBuilt:
		return "NOT_BUILT"
	case NotLaidOut:
		return "NOT_LAID_OUT"
	case ReadyForLayout:
		return "READY_FOR_LAYOUT"
	case LayoutScheduled:
		return "LAYOUT_SCHEDULED"
	case LayoutComplete:
		return "LAYOUT_COMPLETE"
	case LayoutFailed:
		return "LAYOUT_FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Distance is a render-outside-viewport policy: either an explicit yes/no or
// a number of viewport heights.
type Distance struct {
	numeric    bool
	allow      bool
	multiplier float64
}

var (
	// Always admits regardless of geometry.
	Always = Distance{allow: true}
	// Never admits content outside the viewport.
	Never = Distance{}
)

// Viewports admits content within n viewport heights.
func Viewports(n float64) Distance {
	return Distance{numeric: true, multiplier: n}
}

// Bool returns the explicit decision and true when the policy is not numeric.
func (d Distance) Bool() (bool, bool) {
	return d.allow, !d.numeric
}

// Multiplier returns the viewport multiplier and true when the policy is numeric.
func (d Distance) Multiplier() (float64, bool) {
	return d.multiplier, d.numeric
}

func (d Distance) String() string {
	if d.numeric {
		return strconv.FormatFloat(d.multiplier, 'g', -1, 64)
	}
	return strconv.FormatBool(d.allow)
}

// ParseDistance accepts "true", "false" or a non-negative number.
func ParseDistance(s string) (Distance, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch s {
	case "true":
		return Always, nil
	case "false", "":
		return Never, nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Never, fmt.Errorf("invalid render distance %q: %w", s, err)
	}
	if n < 0 {
		return Never, fmt.Errorf("invalid render distance %q: must not be negative", s)
	}
	return Viewports(n), nil
}

// ChangeSize is a resize request. Zero Height or Width leaves that dimension
// unchanged; nil Margins leaves the margins unchanged.
type ChangeSize struct {
	Height  float64             `json:"height,omitempty"`
	Width   float64             `json:"width,omitempty"`
	Margins *layoutrect.Margins `json:"margins,omitempty"`
}

// ViewportRatio describes where a box sits relative to the viewport. When
// Decided is set, Within is the answer for every multiplier; otherwise the
// box is Distance pixels away vertically.
type ViewportRatio struct {
	Decided        bool
	Within         bool
	Distance       float64
	ScrollPenalty  float64
	ViewportHeight float64
}
