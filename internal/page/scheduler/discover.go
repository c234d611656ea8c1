// internal/page/scheduler/discover.go
package scheduler

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/xkilldash9x/pagert/internal/page/dom"
	"github.com/xkilldash9x/pagert/internal/page/element"
)

// Discover creates an element target for every custom element of doc whose
// tag starts with the runtime element prefix, adds them in document order
// and hands the managed descendants of data-owner elements to them.
// Elements with invalid attributes are skipped and their errors returned
// together.
func (m *Manager) Discover(doc *dom.Document) ([]*element.Element, error) {
	nodes, err := doc.FindCustomElements(m.env.ElementPrefix)
	if err != nil {
		return nil, err
	}

	var (
		targets []*element.Element
		errs    []error
	)
	for _, n := range nodes {
		e, err := element.New(n)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m.Add(e)
		targets = append(targets, e)
	}

	// Owners come in document order, so a nested owner overrides the marker
	// an outer one left on the same child.
	for _, owner := range targets {
		if !owner.IsOwner() {
			continue
		}
		for _, child := range targets {
			if child == owner || !dom.Contains(owner.Element(), child.Element()) {
				continue
			}
			if err := m.SetOwner(child.Element(), owner); err != nil {
				errs = append(errs, fmt.Errorf("failed to register owner: %w", err))
			}
		}
	}

	m.logger.Info("Discovered elements",
		zap.String("prefix", m.env.ElementPrefix),
		zap.Int("found", len(nodes)),
		zap.Int("managed", len(targets)),
	)
	return targets, errors.Join(errs...)
}
