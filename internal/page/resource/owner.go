// internal/page/resource/owner.go
package resource

import (
	"github.com/xkilldash9x/pagert/internal/page/dom"
)

// GetOwner returns the target that claimed this resource, found by walking
// from the target's node up through its ancestors. The answer, including
// "no owner", is cached until SetOwner or Disconnect invalidates it.
func (r *Resource) GetOwner() RenderTarget {
	r.mu.Lock()
	if r.ownerResolved {
		owner := r.owner
		r.mu.Unlock()
		return owner
	}
	gen := r.ownerGen
	r.mu.Unlock()

	var owner RenderTarget
	for n := r.target.Element(); n != nil; n = dom.ParentElement(n) {
		if o := r.env.Registry.ownerMarker(n); o != nil {
			owner = o
			break
		}
	}

	r.mu.Lock()
	if r.ownerGen == gen {
		r.owner = owner
		r.ownerResolved = true
	}
	r.mu.Unlock()
	return owner
}

func (r *Resource) HasOwner() bool {
	return r.GetOwner() != nil
}

// UpdateOwner sets the cached owner directly.
func (r *Resource) UpdateOwner(owner RenderTarget) {
	r.mu.Lock()
	r.owner = owner
	r.ownerResolved = true
	r.ownerGen++
	r.mu.Unlock()
}

func (r *Resource) resetOwner() {
	r.mu.Lock()
	r.owner = nil
	r.ownerResolved = false
	r.ownerGen++
	r.mu.Unlock()
}

func (r *Resource) resetOwnerIf(owner RenderTarget) {
	r.mu.Lock()
	if r.ownerResolved && r.owner == owner {
		r.owner = nil
		r.ownerResolved = false
		r.ownerGen++
	}
	r.mu.Unlock()
}
