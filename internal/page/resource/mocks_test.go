package resource

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xkilldash9x/pagert/internal/page/dom"
	"github.com/xkilldash9x/pagert/internal/page/layoutrect"
	"github.com/xkilldash9x/pagert/internal/page/vsync"
	"go.uber.org/zap/zaptest"
	"golang.org/x/net/html"
)

// MockRenderTarget mocks the render target hooks. Query methods read plain
// fields so tests can flip them mid-scenario; callbacks go through mock.Mock.
type MockRenderTarget struct {
	mock.Mock
	node *html.Node

	mu                sync.Mutex
	upgraded          bool
	built             bool
	building          bool
	relayout          bool
	unlayoutOnPause   bool
	priority          int
	renderOutside     Distance
	idleRenderOutside Distance
}

func newMockTarget(node *html.Node) *MockRenderTarget {
	m := &MockRenderTarget{node: node, upgraded: true, renderOutside: Never, idleRenderOutside: Never}
	return m
}

// allowNotifications registers permissive expectations for the fire-and-forget
// hooks. Call it after any test-specific expectations.
func (m *MockRenderTarget) allowNotifications() *MockRenderTarget {
	m.On("UpdateLayoutBox", mock.Anything, mock.Anything).Maybe()
	m.On("TogglePlaceholder", mock.Anything).Maybe()
	m.On("OverflowCallback", mock.Anything, mock.Anything).Maybe()
	m.On("ViewportCallback", mock.Anything).Maybe()
	m.On("PauseCallback").Maybe()
	m.On("ResumeCallback").Maybe()
	m.On("ApplySize", mock.Anything).Maybe()
	m.On("ToggleDisplay", mock.Anything).Maybe()
	m.On("CollapsedCallback", mock.Anything).Maybe()
	m.On("DisconnectedCallback").Maybe()
	return m
}

func (m *MockRenderTarget) set(fn func(m *MockRenderTarget)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m)
}

func (m *MockRenderTarget) Element() *html.Node { return m.node }

func (m *MockRenderTarget) IsBuilt() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.built
}

func (m *MockRenderTarget) IsBuilding() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.building
}

func (m *MockRenderTarget) IsUpgraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upgraded
}

func (m *MockRenderTarget) IsRelayoutNeeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.relayout
}

func (m *MockRenderTarget) GetLayoutPriority() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.priority
}

func (m *MockRenderTarget) RenderOutsideViewport() Distance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.renderOutside
}

func (m *MockRenderTarget) IdleRenderOutsideViewport() Distance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idleRenderOutside
}

func (m *MockRenderTarget) UnlayoutOnPause() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unlayoutOnPause
}

func (m *MockRenderTarget) PrerenderAllowed() bool { return false }
func (m *MockRenderTarget) IsBuildRenderBlocking() bool { return false }

// BuildInternal and LayoutCallback accept either an error or a
// func(context.Context) error as their return value.
func (m *MockRenderTarget) BuildInternal(ctx context.Context) error {
	args := m.Called(ctx)
	if fn, ok := args.Get(0).(func(context.Context) error); ok {
		return fn(ctx)
	}
	err := args.Error(0)
	if err == nil {
		m.set(func(m *MockRenderTarget) { m.built = true })
	}
	return err
}

func (m *MockRenderTarget) LayoutCallback(ctx context.Context) error {
	args := m.Called(ctx)
	if fn, ok := args.Get(0).(func(context.Context) error); ok {
		return fn(ctx)
	}
	return args.Error(0)
}

func (m *MockRenderTarget) UnlayoutCallback() bool {
	return m.Called().Bool(0)
}

func (m *MockRenderTarget) UpdateLayoutBox(box layoutrect.Rect, sizeChanged bool) {
	m.Called(box, sizeChanged)
}

func (m *MockRenderTarget) TogglePlaceholder(show bool) { m.Called(show) }

func (m *MockRenderTarget) OverflowCallback(overflown bool, requested ChangeSize) {
	m.Called(overflown, requested)
}

func (m *MockRenderTarget) ViewportCallback(in bool) { m.Called(in) }
func (m *MockRenderTarget) PauseCallback() { m.Called() }
func (m *MockRenderTarget) ResumeCallback() { m.Called() }
func (m *MockRenderTarget) ApplySize(size ChangeSize) { m.Called(size) }
func (m *MockRenderTarget) ToggleDisplay(show bool) { m.Called(show) }
func (m *MockRenderTarget) CollapsedCallback(child RenderTarget) { m.Called(child) }
func (m *MockRenderTarget) DisconnectedCallback() { m.Called() }

// fakeViewport serves fixed boxes per node.
type fakeViewport struct {
	mu            sync.Mutex
	rect          layoutrect.Rect
	direction     int
	supportsFixed bool
	boxes         map[*html.Node]layoutrect.Rect
	fixed         map[*html.Node]bool
}

func newFakeViewport(rect layoutrect.Rect) *fakeViewport {
	return &fakeViewport{
		rect:          rect,
		supportsFixed: true,
		boxes:         make(map[*html.Node]layoutrect.Rect),
		fixed:         make(map[*html.Node]bool),
	}
}

func (v *fakeViewport) setBox(n *html.Node, r layoutrect.Rect) {
	v.mu.Lock()
	v.boxes[n] = r
	v.mu.Unlock()
}

func (v *fakeViewport) setRect(r layoutrect.Rect, direction int) {
	v.mu.Lock()
	v.rect = r
	v.direction = direction
	v.mu.Unlock()
}

func (v *fakeViewport) GetRect() layoutrect.Rect {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rect
}

func (v *fakeViewport) GetScrollTop() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rect.Top
}

func (v *fakeViewport) GetScrollLeft() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rect.Left
}

func (v *fakeViewport) GetLayoutRect(n *html.Node) layoutrect.Rect {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.boxes[n]
}

func (v *fakeViewport) IsDeclaredFixed(n *html.Node) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.fixed[n]
}

func (v *fakeViewport) SupportsPositionFixed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.supportsFixed
}

func (v *fakeViewport) ScrollDirection() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.direction
}

// recordingReporter collects reported errors.
type recordingReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *recordingReporter) Report(err error, _ *Resource) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recordingReporter) reported() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

const testPage = `<html><body>
	<div id="container">
		<amp-carousel id="carousel">
			<amp-img id="slide"></amp-img>
			<div><amp-img id="nested"></amp-img></div>
		</amp-carousel>
	</div>
	<amp-ad id="ad"></amp-ad>
	<div id="header"><amp-img id="logo"></amp-img></div>
	<amp-list id="list"><amp-img id="ph" placeholder></amp-img></amp-list>
</body></html>`

type testPageEnv struct {
	doc      *dom.Document
	vp       *fakeViewport
	reporter *recordingReporter
	env      Env
}

func setupPage(t *testing.T) *testPageEnv {
	t.Helper()
	doc, err := dom.ParseString(testPage)
	require.NoError(t, err)
	vp := newFakeViewport(layoutrect.Ltwh(0, 0, 100, 100))
	reporter := &recordingReporter{}
	return &testPageEnv{
		doc:      doc,
		vp:       vp,
		reporter: reporter,
		env: Env{
			Viewport: vp,
			Frames:   vsync.Inline{},
			Registry: NewRegistry(),
			Reporter: reporter,
			Logger:   zaptest.NewLogger(t),
		},
	}
}

func (p *testPageEnv) node(t *testing.T, id string) *html.Node {
	t.Helper()
	n := p.doc.FindByID(id)
	require.NotNil(t, n, "missing #%s", id)
	return n
}

// builtResource creates a resource over a built target with a box.
func (p *testPageEnv) builtResource(t *testing.T, id int, nodeID string, box layoutrect.Rect) (*Resource, *MockRenderTarget) {
	t.Helper()
	n := p.node(t, nodeID)
	target := newMockTarget(n)
	target.built = true
	p.vp.setBox(n, box)
	return New(id, target, p.env), target
}
