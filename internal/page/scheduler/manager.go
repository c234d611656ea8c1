// internal/page/scheduler/manager.go
package scheduler

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pagert/internal/config"
	"github.com/xkilldash9x/pagert/internal/page/layoutrect"
	"github.com/xkilldash9x/pagert/internal/page/resource"
	"golang.org/x/net/html"
)

// Manager drives every resource of one page: it builds, measures, admits
// and lays them out in passes, and tears down the ones that drift away.
type Manager struct {
	cfg       config.Interface
	env       resource.Env
	logger    *zap.Logger
	sessionID string

	// lifetime parents every build; Close cancels it.
	lifetime context.Context
	stop     context.CancelFunc

	mu        sync.Mutex
	nextID    int
	resources []*resource.Resource
	passes    int
	errs      errorStats
}

// New creates a Manager. env.Viewport and env.Frames are required; a nil
// env.Registry gets a fresh one and a nil env.Reporter reports to the
// Manager itself.
func New(cfg config.Interface, env resource.Env, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	lifetime, stop := context.WithCancel(context.Background())
	m := &Manager{
		cfg:       cfg,
		sessionID: uuid.New().String(),
		lifetime:  lifetime,
		stop:      stop,
	}
	m.logger = logger.Named("scheduler").With(zap.String("session", m.sessionID))

	if env.Registry == nil {
		env.Registry = resource.NewRegistry()
	}
	if env.Reporter == nil {
		env.Reporter = m
	}
	if env.Logger == nil {
		env.Logger = logger
	}
	if env.ElementPrefix == "" {
		env.ElementPrefix = cfg.Runtime().ElementPrefix
	}
	m.env = env
	return m
}

// SessionID identifies this page session in logs and reports.
func (m *Manager) SessionID() string {
	return m.sessionID
}

// Registry returns the owner side table shared by all resources.
func (m *Manager) Registry() *resource.Registry {
	return m.env.Registry
}

// Add starts tracking target. A built target that is being reparented keeps
// its resource and is only remeasured.
func (m *Manager) Add(target resource.RenderTarget) *resource.Resource {
	node := target.Element()

	m.mu.Lock()
	defer m.mu.Unlock()

	if r := m.env.Registry.Get(node); r != nil {
		if r.State() != resource.NotBuilt {
			r.RequestMeasure()
			r.Resume()
			if !slices.Contains(m.resources, r) {
				m.resources = append(m.resources, r)
			}
			m.logger.Debug("Resource reused", zap.String("resource", r.DebugID()))
			return r
		}
		m.resources = slices.DeleteFunc(m.resources, func(x *resource.Resource) bool { return x == r })
	}

	m.nextID++
	r := resource.New(m.nextID, target, m.env)
	m.resources = append(m.resources, r)
	m.logger.Debug("Resource added", zap.String("resource", r.DebugID()))
	return r
}

// Remove stops tracking target. The resource stays bound to the element so
// a later Add can reuse it.
func (m *Manager) Remove(target resource.RenderTarget) {
	m.remove(target, false)
}

// RemoveAndDisconnect stops tracking target and unbinds its resource.
func (m *Manager) RemoveAndDisconnect(target resource.RenderTarget) {
	m.remove(target, true)
}

func (m *Manager) remove(target resource.RenderTarget, disconnect bool) {
	r := m.env.Registry.Get(target.Element())
	if r == nil {
		return
	}
	m.mu.Lock()
	m.resources = slices.DeleteFunc(m.resources, func(x *resource.Resource) bool { return x == r })
	m.mu.Unlock()

	if r.IsBuilt() {
		r.PauseOnRemove()
	}
	if disconnect {
		r.Disconnect()
	}
	m.logger.Debug("Resource removed", zap.String("resource", r.DebugID()), zap.Bool("disconnect", disconnect))
}

// Upgraded starts the build of a target that became upgraded.
func (m *Manager) Upgraded(target resource.RenderTarget) error {
	r := m.env.Registry.Get(target.Element())
	if r == nil {
		return fmt.Errorf("element %s is not managed", target.Element().Data)
	}
	r.Build(m.lifetime)
	return nil
}

// SetOwner hands the resources under node to owner.
func (m *Manager) SetOwner(node *html.Node, owner resource.RenderTarget) error {
	return m.env.Registry.SetOwner(node, owner)
}

// Get returns the resource of target, or nil.
func (m *Manager) Get(target resource.RenderTarget) *resource.Resource {
	return m.env.Registry.Get(target.Element())
}

// Resources returns the tracked resources in the order they were added.
func (m *Manager) Resources() []*resource.Resource {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.resources)
}

// GetResourcesInRect returns the displayed, unowned resources positioned in
// rect. Fixed resources always qualify. Unmeasured resources are measured
// first.
func (m *Manager) GetResourcesInRect(ctx context.Context, rect layoutrect.Rect) ([]*resource.Resource, error) {
	var out []*resource.Resource
	for _, r := range m.Resources() {
		if r.HasOwner() {
			continue
		}
		if err := r.EnsureMeasured(ctx); err != nil {
			return nil, fmt.Errorf("failed to measure %s: %w", r.DebugID(), err)
		}
		if r.IsDisplayed() && (r.Overlaps(rect) || r.IsFixed()) {
			out = append(out, r)
		}
	}
	return out, nil
}

// GetElementLayoutBox returns the layout box of target, measuring it first
// if it has never been measured.
func (m *Manager) GetElementLayoutBox(ctx context.Context, target resource.RenderTarget) (layoutrect.Rect, error) {
	r := m.Get(target)
	if r == nil {
		return layoutrect.Rect{}, fmt.Errorf("element %s is not managed", target.Element().Data)
	}
	if err := r.EnsureMeasured(ctx); err != nil {
		return layoutrect.Rect{}, err
	}
	return r.GetLayoutBox(), nil
}

// Close disconnects every resource and cancels builds in flight.
func (m *Manager) Close() {
	m.mu.Lock()
	resources := m.resources
	m.resources = nil
	m.mu.Unlock()

	for _, r := range resources {
		r.Disconnect()
	}
	m.stop()
}
