// internal/page/vsync/vsync.go
package vsync

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrStopped is returned for tasks submitted to, or still queued in, a
// stopped Vsync.
var ErrStopped = errors.New("vsync: stopped")

type task struct {
	ctx  context.Context
	fn   func()
	done chan error
}

// Vsync batches measure and mutate work into frames. Within a frame every
// queued measure task runs before any mutate task, so reads of geometry are
// never interleaved with writes. Frames are paced by a token bucket.
type Vsync struct {
	logger  *zap.Logger
	limiter *rate.Limiter

	mu       sync.Mutex
	measures []task
	mutates  []task
	stopped  bool

	wake     chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	frames   uint64
}

// New creates a frame scheduler running at most frameRate frames per second.
func New(logger *zap.Logger, frameRate float64, burst int) *Vsync {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if frameRate > 0 {
		limit = rate.Limit(frameRate)
	}
	return &Vsync{
		logger:   logger.Named("vsync"),
		limiter:  rate.NewLimiter(limit, burst),
		wake:     make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
}

// Measure schedules fn in the measure phase of the next frame and blocks
// until it has run, ctx ends, or the scheduler stops.
func (v *Vsync) Measure(ctx context.Context, fn func()) error {
	return v.schedule(ctx, fn, true)
}

// Mutate schedules fn in the mutate phase of the next frame and blocks until
// it has run, ctx ends, or the scheduler stops.
func (v *Vsync) Mutate(ctx context.Context, fn func()) error {
	return v.schedule(ctx, fn, false)
}

func (v *Vsync) schedule(ctx context.Context, fn func(), measure bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := task{ctx: ctx, fn: fn, done: make(chan error, 1)}

	v.mu.Lock()
	if v.stopped {
		v.mu.Unlock()
		return ErrStopped
	}
	if measure {
		v.measures = append(v.measures, t)
	} else {
		v.mutates = append(v.mutates, t)
	}
	v.mu.Unlock()

	select {
	case v.wake <- struct{}{}:
	default:
	}

	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives frames until ctx ends or Stop is called. Tasks still queued on
// exit fail with ErrStopped.
func (v *Vsync) Run(ctx context.Context) error {
	defer v.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-v.stopChan:
			return nil
		case <-v.wake:
		}

		if err := v.limiter.Wait(ctx); err != nil {
			return err
		}
		v.runFrame()
	}
}

// Flush runs one frame synchronously with whatever is queued. Useful when the
// caller owns the loop.
func (v *Vsync) Flush() {
	v.runFrame()
}

func (v *Vsync) runFrame() {
	v.mu.Lock()
	measures, mutates := v.measures, v.mutates
	v.measures, v.mutates = nil, nil
	v.frames++
	frame := v.frames
	v.mu.Unlock()

	if len(measures) == 0 && len(mutates) == 0 {
		return
	}
	v.logger.Debug("Running frame",
		zap.Uint64("frame", frame),
		zap.Int("measures", len(measures)),
		zap.Int("mutates", len(mutates)),
	)
	for _, t := range measures {
		runTask(t)
	}
	for _, t := range mutates {
		runTask(t)
	}
}

func runTask(t task) {
	if err := t.ctx.Err(); err != nil {
		t.done <- err
		return
	}
	t.fn()
	t.done <- nil
}

// Stop halts the scheduler and fails any queued tasks.
func (v *Vsync) Stop() {
	v.stopOnce.Do(func() {
		v.mu.Lock()
		v.stopped = true
		pending := append(v.measures, v.mutates...)
		v.measures, v.mutates = nil, nil
		v.mu.Unlock()

		close(v.stopChan)
		for _, t := range pending {
			t.done <- ErrStopped
		}
		if len(pending) > 0 {
			v.logger.Debug("Dropped queued tasks on stop", zap.Int("count", len(pending)))
		}
	})
}

// Pending returns the number of queued tasks.
func (v *Vsync) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.measures) + len(v.mutates)
}

// Frames returns the number of frames run so far.
func (v *Vsync) Frames() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.frames
}

// Inline runs every task immediately on the caller's goroutine. It satisfies
// the same contract as Vsync for callers that do not need frame batching.
type Inline struct{}

// Measure runs fn now.
func (Inline) Measure(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn()
	return nil
}

// Mutate runs fn now.
func (Inline) Mutate(ctx context.Context, fn func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	fn()
	return nil
}
