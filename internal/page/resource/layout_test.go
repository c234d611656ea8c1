package resource

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/pagert/internal/page/layoutrect"
)

// layOut drives one measure/schedule/start cycle and waits for it.
func layOut(t *testing.T, r *Resource) error {
	t.Helper()
	r.Measure()
	r.LayoutScheduled(time.Now())
	return wait(t, r.StartLayout())
}

func TestStartLayout_ContractViolations(t *testing.T) {
	t.Run("Not scheduled", func(t *testing.T) {
		p := setupPage(t)
		r, target := p.builtResource(t, 1, "ad", layoutrect.Ltwh(0, 0, 100, 100))
		target.allowNotifications()
		r.Measure()
		require.Equal(t, ReadyForLayout, r.State())

		err := wait(t, r.StartLayout())
		var violation *ContractViolationError
		require.ErrorAs(t, err, &violation)
		assert.Equal(t, ReadyForLayout, violation.State)
		assert.Equal(t, 0, r.LayoutCount())
		assert.NoError(t, r.LastLayoutError())
		assert.Equal(t, ReadyForLayout, r.State())
		assert.Len(t, p.reporter.reported(), 1)
		target.AssertNotCalled(t, "LayoutCallback", mock.Anything)
	})

	t.Run("Not built", func(t *testing.T) {
		p := setupPage(t)
		r := New(1, newMockTarget(p.node(t, "ad")), p.env)
		require.Equal(t, NotBuilt, r.State())

		var violation *ContractViolationError
		require.ErrorAs(t, wait(t, r.StartLayout()), &violation)
		assert.Equal(t, "not built", violation.Reason)
	})

	t.Run("Not displayed", func(t *testing.T) {
		p := setupPage(t)
		r, target := p.builtResource(t, 1, "ad", layoutrect.Ltwh(0, 0, 0, 0))
		target.allowNotifications()
		r.Measure()
		r.LayoutScheduled(time.Now())

		var violation *ContractViolationError
		require.ErrorAs(t, wait(t, r.StartLayout()), &violation)
		assert.Equal(t, "not displayed", violation.Reason)
		assert.Equal(t, 0, r.LayoutCount())
	})
}

func TestStartLayout_Success(t *testing.T) {
	p := setupPage(t)
	r, target := p.builtResource(t, 1, "ad", layoutrect.Ltwh(0, 0, 100, 100))
	target.On("LayoutCallback", mock.Anything).Return(nil)
	target.allowNotifications()

	scheduled := time.Now()
	r.Measure()
	r.LayoutScheduled(scheduled)
	assert.Equal(t, LayoutScheduled, r.State())
	assert.Equal(t, scheduled, r.LayoutScheduleTime())

	require.NoError(t, wait(t, r.StartLayout()))
	assert.Equal(t, LayoutComplete, r.State())
	assert.Equal(t, 1, r.LayoutCount())
	assert.True(t, r.HasLoadedOnce())
	assert.True(t, r.LoadedOnce().IsSettled())
	assert.False(t, r.IsLayoutPending())

	// Terminal states short-circuit.
	require.NoError(t, wait(t, r.StartLayout()))

	// A second scheduled cycle without relayout opt-in does not call the target.
	r.LayoutScheduled(time.Now())
	require.NoError(t, wait(t, r.StartLayout()))
	assert.Equal(t, LayoutComplete, r.State())
	assert.Equal(t, 1, r.LayoutCount())
	target.AssertNumberOfCalls(t, "LayoutCallback", 1)

	// With opt-in it does.
	target.set(func(m *MockRenderTarget) { m.relayout = true })
	r.LayoutScheduled(time.Now())
	require.NoError(t, wait(t, r.StartLayout()))
	assert.Equal(t, 2, r.LayoutCount())
	target.AssertNumberOfCalls(t, "LayoutCallback", 2)
}

func TestStartLayout_Failure(t *testing.T) {
	p := setupPage(t)
	boom := errors.New("boom")
	r, target := p.builtResource(t, 1, "ad", layoutrect.Ltwh(0, 0, 100, 100))
	target.On("LayoutCallback", mock.Anything).Return(boom).Once()
	target.On("LayoutCallback", mock.Anything).Return(nil)
	target.allowNotifications()

	err := layOut(t, r)
	assert.ErrorIs(t, err, boom)
	var targetErr *TargetError
	require.ErrorAs(t, err, &targetErr)
	assert.Equal(t, "layout", targetErr.Phase)
	assert.Equal(t, LayoutFailed, r.State())
	assert.ErrorIs(t, r.LastLayoutError(), boom)
	assert.True(t, r.HasLoadedOnce(), "a failed layout still counts as loaded")

	// Querying again replays the stored failure without retrying.
	assert.ErrorIs(t, wait(t, r.StartLayout()), boom)
	target.AssertNumberOfCalls(t, "LayoutCallback", 1)

	// An explicit relayout clears the stale error on success.
	target.set(func(m *MockRenderTarget) { m.relayout = true })
	p.vp.setBox(p.node(t, "ad"), layoutrect.Ltwh(0, 0, 100, 120))
	require.NoError(t, layOut(t, r))
	assert.Equal(t, LayoutComplete, r.State())
	assert.NoError(t, r.LastLayoutError())
}

func TestStartLayout_ReturnsInFlightOperation(t *testing.T) {
	p := setupPage(t)
	r, target := p.builtResource(t, 1, "ad", layoutrect.Ltwh(0, 0, 100, 100))
	release := make(chan struct{})
	target.On("LayoutCallback", mock.Anything).Return(func(ctx context.Context) error {
		<-release
		return nil
	})
	target.allowNotifications()

	r.Measure()
	r.LayoutScheduled(time.Now())
	first := r.StartLayout()
	second := r.StartLayout()
	assert.Same(t, first, second)

	close(release)
	require.NoError(t, wait(t, first))
	target.AssertNumberOfCalls(t, "LayoutCallback", 1)
}

// TestUnlayout_WinsRaceAgainstLayout starts a layout whose callback ignores
// cancellation and finishes successfully after the unlayout.
func TestUnlayout_WinsRaceAgainstLayout(t *testing.T) {
	for _, outcome := range []error{nil, errors.New("late failure")} {
		name := "success"
		if outcome != nil {
			name = "failure"
		}
		t.Run(name, func(t *testing.T) {
			p := setupPage(t)
			r, target := p.builtResource(t, 1, "ad", layoutrect.Ltwh(0, 0, 100, 100))
			started := make(chan struct{})
			release := make(chan struct{})
			finished := make(chan struct{})
			target.On("LayoutCallback", mock.Anything).Return(func(ctx context.Context) error {
				defer close(finished)
				close(started)
				<-release
				return outcome
			})
			target.On("UnlayoutCallback").Return(true)
			target.allowNotifications()

			r.Measure()
			r.LayoutScheduled(time.Now())
			op := r.StartLayout()
			<-started

			r.Unlayout()
			assert.ErrorIs(t, wait(t, op), ErrCancelled)
			assert.Equal(t, NotLaidOut, r.State())

			close(release)
			<-finished
			assert.Never(t, func() bool { return r.State() != NotLaidOut }, 50*time.Millisecond, 5*time.Millisecond)
			assert.Equal(t, 0, r.LayoutCount())
			assert.NoError(t, r.LastLayoutError(), "a cancelled attempt leaves the error untouched")
			assert.False(t, r.HasLoadedOnce())
			target.AssertCalled(t, "TogglePlaceholder", true)
		})
	}
}

func TestUnlayout_CallbackObservesCancellation(t *testing.T) {
	p := setupPage(t)
	r, target := p.builtResource(t, 1, "ad", layoutrect.Ltwh(0, 0, 100, 100))
	cause := make(chan error, 1)
	started := make(chan struct{})
	target.On("LayoutCallback", mock.Anything).Return(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		cause <- context.Cause(ctx)
		return ctx.Err()
	})
	target.On("UnlayoutCallback").Return(true)
	target.allowNotifications()

	r.Measure()
	r.LayoutScheduled(time.Now())
	op := r.StartLayout()
	<-started
	r.Unlayout()

	assert.ErrorIs(t, wait(t, op), ErrCancelled)
	assert.ErrorIs(t, <-cause, ErrCancelled)
}

func TestUnlayout(t *testing.T) {
	t.Run("No-op before layout", func(t *testing.T) {
		p := setupPage(t)
		r, target := p.builtResource(t, 1, "ad", layoutrect.Ltwh(0, 0, 100, 100))
		target.allowNotifications()

		r.Unlayout()
		assert.Equal(t, NotLaidOut, r.State())
		r.Measure()
		r.Unlayout()
		assert.Equal(t, ReadyForLayout, r.State())
		target.AssertNotCalled(t, "UnlayoutCallback")
	})

	t.Run("Target refuses relayout", func(t *testing.T) {
		p := setupPage(t)
		r, target := p.builtResource(t, 1, "ad", layoutrect.Ltwh(0, 0, 100, 100))
		target.On("LayoutCallback", mock.Anything).Return(nil)
		target.On("UnlayoutCallback").Return(false)
		target.allowNotifications()
		require.NoError(t, layOut(t, r))
		r.SetInViewport(true)

		r.Unlayout()
		assert.Equal(t, LayoutComplete, r.State())
		assert.Equal(t, 1, r.LayoutCount())
		assert.False(t, r.IsInViewport())
		target.AssertCalled(t, "ViewportCallback", false)
		target.AssertNotCalled(t, "TogglePlaceholder", true)
	})

	t.Run("Target refuses while a layout is in flight", func(t *testing.T) {
		p := setupPage(t)
		r, target := p.builtResource(t, 1, "ad", layoutrect.Ltwh(0, 0, 100, 100))
		started := make(chan struct{})
		target.On("LayoutCallback", mock.Anything).Return(func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			return ctx.Err()
		})
		target.On("UnlayoutCallback").Return(false)
		target.allowNotifications()

		r.Measure()
		r.LayoutScheduled(time.Now())
		op := r.StartLayout()
		<-started
		r.Unlayout()

		assert.ErrorIs(t, wait(t, op), ErrCancelled)
		assert.Equal(t, ReadyForLayout, r.State(), "the resource can be admitted again")
		assert.Zero(t, r.LayoutCount())
		target.AssertNotCalled(t, "TogglePlaceholder", true)
	})

	t.Run("Round trip", func(t *testing.T) {
		p := setupPage(t)
		r, target := p.builtResource(t, 1, "ad", layoutrect.Ltwh(0, 0, 100, 100))
		target.On("LayoutCallback", mock.Anything).Return(nil)
		target.On("UnlayoutCallback").Return(true)
		target.allowNotifications()

		for cycle := 1; cycle <= 3; cycle++ {
			require.NoError(t, layOut(t, r))
			assert.Equal(t, LayoutComplete, r.State())
			assert.Equal(t, 1, r.LayoutCount(), "cycle %d", cycle)

			r.Unlayout()
			assert.Equal(t, NotLaidOut, r.State())
			assert.Equal(t, 0, r.LayoutCount())
		}
		target.AssertNumberOfCalls(t, "LayoutCallback", 3)
		target.AssertNumberOfCalls(t, "UnlayoutCallback", 3)
	})
}

func TestLayoutCanceled(t *testing.T) {
	p := setupPage(t)
	r, target := p.builtResource(t, 1, "ad", layoutrect.Ltwh(0, 0, 100, 100))
	target.allowNotifications()

	r.LayoutScheduled(time.Now())
	r.LayoutCanceled()
	assert.Equal(t, NotLaidOut, r.State(), "never measured")

	r.Measure()
	r.LayoutScheduled(time.Now())
	r.LayoutCanceled()
	assert.Equal(t, ReadyForLayout, r.State())
}

func TestStartLayout_PanicBecomesFailure(t *testing.T) {
	p := setupPage(t)
	r, target := p.builtResource(t, 1, "ad", layoutrect.Ltwh(0, 0, 100, 100))
	target.On("LayoutCallback", mock.Anything).Return(func(ctx context.Context) error {
		panic("kaboom")
	})
	target.allowNotifications()

	err := layOut(t, r)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, LayoutFailed, r.State())
}
