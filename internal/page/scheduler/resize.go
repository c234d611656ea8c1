// internal/page/scheduler/resize.go
package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagert/internal/page/resource"
)

// ErrChangeSizeDenied is returned when a resize would move content the
// reader is looking at.
var ErrChangeSizeDenied = errors.New("change size attempt denied")

// AttemptChangeSize resizes target unless that would shift the active part
// of the viewport. The active part excludes the top and bottom tenth of the
// visible rect. Resizes below it are granted. Resizes entirely above it are
// granted when the page is scrolled far enough to absorb a shrink. A grow
// inside it is denied and the target is told it overflows. A denied request
// is remembered as the resource's pending change size. A request that
// changes nothing succeeds without touching the target.
func (m *Manager) AttemptChangeSize(ctx context.Context, target resource.RenderTarget, size resource.ChangeSize) error {
	return m.changeSize(ctx, target, size, false, false)
}

// ChangeSize resizes target unconditionally.
func (m *Manager) ChangeSize(ctx context.Context, target resource.RenderTarget, size resource.ChangeSize) error {
	return m.changeSize(ctx, target, size, true, false)
}

// AttemptCollapse resizes target to zero and, when granted, hides it and
// notifies its owner.
func (m *Manager) AttemptCollapse(ctx context.Context, target resource.RenderTarget) error {
	r, err := m.managed(target)
	if err != nil {
		return err
	}
	if err := m.changeSize(ctx, target, resource.ChangeSize{}, false, true); err != nil {
		return fmt.Errorf("collapse attempt denied: %w", err)
	}
	return m.env.Frames.Mutate(ctx, r.CompleteCollapse)
}

// CollapseElement hides target without checking its position.
func (m *Manager) CollapseElement(ctx context.Context, target resource.RenderTarget) error {
	r, err := m.managed(target)
	if err != nil {
		return err
	}
	return m.env.Frames.Mutate(ctx, r.CompleteCollapse)
}

// ExpandElement shows a collapsed target again.
func (m *Manager) ExpandElement(ctx context.Context, target resource.RenderTarget) error {
	r, err := m.managed(target)
	if err != nil {
		return err
	}
	return m.env.Frames.Mutate(ctx, r.CompleteExpand)
}

func (m *Manager) managed(target resource.RenderTarget) (*resource.Resource, error) {
	r := m.Get(target)
	if r == nil {
		return nil, fmt.Errorf("element %s is not managed", target.Element().Data)
	}
	return r, nil
}

// changeSize applies the resize rules inside a mutate frame. A collapsing
// request only decides; the caller hides the element.
func (m *Manager) changeSize(ctx context.Context, target resource.RenderTarget, size resource.ChangeSize, force, collapsing bool) error {
	r, err := m.managed(target)
	if err != nil {
		return err
	}

	var granted, unchanged bool
	err = m.env.Frames.Mutate(ctx, func() {
		box := r.GetLayoutBox()
		newHeight := size.Height
		if newHeight == 0 && !collapsing {
			newHeight = box.Height
		}
		heightDiff := newHeight - box.Height

		vp := m.env.Viewport.GetRect()
		topOffset := vp.Height / 10
		bottomOffset := vp.Height / 10

		switch {
		case force:
			granted = true
		case heightDiff == 0 && size.Margins == nil && !collapsing:
			unchanged = true
		case box.Top >= vp.Bottom-bottomOffset || box.Bottom+min(heightDiff, 0) >= vp.Bottom-bottomOffset:
			// Below the active viewport.
			granted = true
		case vp.Top > 1 && box.Bottom <= vp.Top+topOffset:
			// Above the active viewport.
			granted = heightDiff >= 0 || vp.Top >= -heightDiff
		case heightDiff < 0 || collapsing:
			// Shrinking in view would jump content; deny quietly.
		default:
			r.OverflowCallback(true, size)
		}

		if granted {
			if collapsing {
				return
			}
			r.ChangeSize(size)
			r.OverflowCallback(false, size)
			r.ResetPendingChangeSize()
		}
	})
	if err != nil {
		return err
	}
	if unchanged {
		return nil
	}
	if !granted {
		m.logger.Debug("Change size denied", zap.String("resource", r.DebugID()))
		return ErrChangeSizeDenied
	}
	return nil
}
