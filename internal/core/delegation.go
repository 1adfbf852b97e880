package core

import (
	"fmt"
	"sync"
)

// DelegationGraph stores directed allowed -> owner edges, pre-flattened so
// every lookup resolves to the ultimate owner in one hop. Reads are
// lock-free; each edit is a single insert/update/delete on the allowed key.
type DelegationGraph struct {
	owners sync.Map // allowed context ID -> owner context ID
}

// NewDelegationGraph creates an empty graph.
func NewDelegationGraph() *DelegationGraph {
	return &DelegationGraph{}
}

// finalOwner resolves the ultimate owner of the context. Because edges are
// flattened on insert, this is at most one lookup.
func (g *DelegationGraph) finalOwner(id string) string {
	if owner, ok := g.owners.Load(id); ok {
		resolved, valid := owner.(string)
		if !valid {
			panic("patchwork internal failure - non-string owner in delegation graph")
		}

		return resolved
	}

	return id
}

// Allow inserts an edge letting allowed use owner's shared overrides. The
// owner's own final owner is resolved first, so chains always flatten to one
// hop. A resulting final owner equal to allowed is refused: self-delegation
// when owner and allowed are the same context, a cycle otherwise. An existing
// edge for allowed is replaced only when forced.
func (g *DelegationGraph) Allow(owner, allowed string, force bool) error {
	final := g.finalOwner(owner)

	if final == allowed {
		if owner == allowed {
			return fmt.Errorf("%w: %s", ErrSelfDelegation, allowed)
		}

		return fmt.Errorf("%w: %s already owns %s", ErrCyclicDelegation, allowed, owner)
	}

	if _, loaded := g.owners.LoadOrStore(allowed, final); loaded {
		if !force {
			return fmt.Errorf("%w: %s", ErrAlreadyDelegated, allowed)
		}

		g.owners.Store(allowed, final)
	}

	return nil
}

// OwnerOf returns the ultimate owner of the context, if it has one.
func (g *DelegationGraph) OwnerOf(id string) (string, bool) {
	owner, ok := g.owners.Load(id)
	if !ok {
		return "", false
	}

	resolved, valid := owner.(string)
	if !valid {
		panic("patchwork internal failure - non-string owner in delegation graph")
	}

	return resolved, true
}

// AllowancesOf returns every context that ultimately resolves to id as its
// owner.
func (g *DelegationGraph) AllowancesOf(id string) []string {
	var allowed []string

	g.owners.Range(func(key, value any) bool {
		if value == id {
			name, ok := key.(string)
			if !ok {
				panic("patchwork internal failure - non-string key in delegation graph")
			}

			allowed = append(allowed, name)
		}

		return true
	})

	return allowed
}

// RemoveContext deletes every edge the context participates in, as allowed
// and as owner.
func (g *DelegationGraph) RemoveContext(id string) {
	g.owners.Delete(id)

	g.owners.Range(func(key, value any) bool {
		if value == id {
			g.owners.Delete(key)
		}

		return true
	})
}

// Reset clears the graph.
func (g *DelegationGraph) Reset() {
	g.owners.Range(func(key, _ any) bool {
		g.owners.Delete(key)
		return true
	})
}
