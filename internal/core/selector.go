// Package core provides the internal implementation of patchwork's override
// resolution engine: the target registry, the tiered override store, the
// delegation graph, the dispatch resolver, and the call-history store.
package core

import "fmt"

// Selector identifies one interceptable unit: a function within a module at a
// fixed arity. It is an immutable key; once a target is prepared, its selector
// uniquely identifies the interception point.
type Selector struct {
	Module   string
	Function string
	Arity    int
}

// String renders the selector in module.Function/arity form.
func (s Selector) String() string {
	return fmt.Sprintf("%s.%s/%d", s.Module, s.Function, s.Arity)
}

// Tier is the isolation level of an override.
type Tier int

const (
	// TierLocal overrides are visible only to the owning context.
	TierLocal Tier = iota
	// TierShared overrides are visible to the owning context plus any
	// context delegated to it.
	TierShared
	// TierGlobal overrides are visible to every context.
	TierGlobal
)

// String returns the tier name.
func (t Tier) String() string {
	switch t {
	case TierLocal:
		return "local"
	case TierShared:
		return "shared"
	case TierGlobal:
		return "global"
	default:
		panic(fmt.Sprintf("patchwork internal failure - unrecognized tier %d", int(t)))
	}
}

// Tag is an introspection marker tracked per (target, context).
type Tag string

const (
	// TagPatched marks a target that currently carries at least one override
	// for the context.
	TagPatched Tag = "patched"
	// TagLocal marks an active local-tier override.
	TagLocal Tag = "local"
	// TagShared marks an active shared-tier override.
	TagShared Tag = "shared"
	// TagGlobal marks an active global-tier override.
	TagGlobal Tag = "global"
)

// tagFor maps a tier to its introspection tag.
func tagFor(tier Tier) Tag {
	switch tier {
	case TierLocal:
		return TagLocal
	case TierShared:
		return TagShared
	case TierGlobal:
		return TagGlobal
	default:
		panic(fmt.Sprintf("patchwork internal failure - unrecognized tier %d", int(tier)))
	}
}
