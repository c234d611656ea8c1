// internal/page/resource/registry.go
package resource

import (
	"sort"
	"sync"

	"github.com/xkilldash9x/pagert/internal/page/dom"
	"golang.org/x/net/html"
)

// Registry is the page-wide side table mapping element nodes to their
// Resource and to the owner that claimed them. Nodes themselves are never
// annotated.
type Registry struct {
	mu        sync.RWMutex
	resources map[*html.Node]*Resource
	owners    map[*html.Node]RenderTarget
}

func NewRegistry() *Registry {
	return &Registry{
		resources: make(map[*html.Node]*Resource),
		owners:    make(map[*html.Node]RenderTarget),
	}
}

// Get returns the Resource bound to the node, or nil.
func (g *Registry) Get(n *html.Node) *Resource {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resources[n]
}

// Len returns the number of bound resources.
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.resources)
}

// Resources returns every bound resource ordered by id.
func (g *Registry) Resources() []*Resource {
	g.mu.RLock()
	out := make([]*Resource, 0, len(g.resources))
	for _, r := range g.resources {
		out = append(out, r)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (g *Registry) bind(n *html.Node, r *Resource) {
	g.mu.Lock()
	g.resources[n] = r
	g.mu.Unlock()
}

func (g *Registry) ownerMarker(n *html.Node) RenderTarget {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.owners[n]
}

// SetOwner declares owner responsible for the render admission of node and
// everything below it. The owner must contain the node. The node's own
// Resource picks up the owner immediately; descendants re-resolve lazily.
func (g *Registry) SetOwner(n *html.Node, owner RenderTarget) error {
	if owner == nil || !dom.Contains(owner.Element(), n) {
		violation := &ContractViolationError{
			DebugID: dom.TagName(n),
			Op:      "setOwner",
			Reason:  "owner must contain the element",
		}
		if r := g.Get(n); r != nil {
			violation.ID = r.ID()
			violation.DebugID = r.DebugID()
			violation.State = r.State()
		}
		return violation
	}

	g.mu.Lock()
	g.owners[n] = owner
	self := g.resources[n]
	var below []*Resource
	dom.WalkDescendants(n, func(c *html.Node) {
		if r := g.resources[c]; r != nil {
			below = append(below, r)
		}
	})
	g.mu.Unlock()

	if self != nil {
		self.UpdateOwner(owner)
	}
	for _, r := range below {
		r.resetOwner()
	}
	return nil
}

// forget unbinds r, drops owner markers naming its target and resets the
// owner cache of every resource that resolved to it.
func (g *Registry) forget(r *Resource) {
	node := r.target.Element()

	g.mu.Lock()
	if g.resources[node] == r {
		delete(g.resources, node)
	}
	for n, owner := range g.owners {
		if owner == r.target {
			delete(g.owners, n)
		}
	}
	others := make([]*Resource, 0, len(g.resources))
	for _, other := range g.resources {
		others = append(others, other)
	}
	g.mu.Unlock()

	for _, other := range others {
		other.resetOwnerIf(r.target)
	}
}
