package core

// Resolver is the hot path: it walks the override tiers for one intercepted
// call and returns either the override to invoke or a fall-through signal.
// Every lookup it performs is a lock-free read; it must be callable from any
// context at any time without becoming a contention point.
type Resolver struct {
	overrides   *OverrideStore
	delegations *DelegationGraph
}

// NewResolver builds a resolver over the given stores.
func NewResolver(overrides *OverrideStore, delegations *DelegationGraph) *Resolver {
	return &Resolver{overrides: overrides, delegations: delegations}
}

// Resolve walks the tiers in order, first match wins:
//
//  1. local - the caller's own local override
//  2. shared-self - the caller's own shared override
//  3. shared-delegated - the caller's delegated owner's shared override
//  4. shared-inherited - the nearest spawning ancestor's shared override,
//     walking the full parent chain; lets fire-and-forget sub-tasks inherit
//     the spawning test's overrides without an explicit delegation
//  5. global - the process-wide override
//
// A disabled tier's states are skipped entirely; that is the documented
// performance lever for contexts that never need a tier. Calls with no
// execution context resolve the global tier only. A successful match
// short-circuits; tiers never combine.
func (r *Resolver) Resolve(ec *ExecContext, sel Selector) (*Override, bool) {
	if ec != nil {
		if override, ok := r.overrides.Get(sel, TierLocal, ec.ID()); ok {
			return override, true
		}

		if r.overrides.SharedEnabled() {
			if override, ok := r.overrides.Get(sel, TierShared, ec.ID()); ok {
				return override, true
			}

			if owner, ok := r.delegations.OwnerOf(ec.ID()); ok {
				if override, found := r.overrides.Get(sel, TierShared, owner); found {
					return override, true
				}
			} else {
				for parent := ec.Parent(); parent != nil; parent = parent.Parent() {
					if override, found := r.overrides.Get(sel, TierShared, parent.ID()); found {
						return override, true
					}
				}
			}
		}
	}

	if r.overrides.GlobalEnabled() {
		if override, ok := r.overrides.Get(sel, TierGlobal, ""); ok {
			return override, true
		}
	}

	return nil, false
}
