package core

import (
	"fmt"
	"reflect"
	"slices"
	"sync"
	"sync/atomic"
)

// overrideKey addresses at most one active override. The global tier is owned
// by no particular context, so its owner component is empty.
type overrideKey struct {
	sel   Selector
	tier  Tier
	owner string
}

// Override is one installed substitute function. It is immutable once
// published; a forced replacement swaps the whole value, so a concurrent
// reader sees either the old or the new override, never a partial one.
type Override struct {
	fn reflect.Value
}

// Fn returns the substitute function.
func (o *Override) Fn() reflect.Value {
	return o.fn
}

// OverrideStore holds the three override tiers. Reads are lock-free; every
// mutation is a single atomic insert/update/delete on one key, which is what
// keeps the resolver's hot path contention-free.
type OverrideStore struct {
	overrides sync.Map // overrideKey -> *Override
	tags      sync.Map // tagKey -> *tagSet

	sharedEnabled atomic.Bool
	globalEnabled atomic.Bool
}

// NewOverrideStore creates a store with the shared and global tiers toggled
// per the arguments.
func NewOverrideStore(sharedEnabled, globalEnabled bool) *OverrideStore {
	store := &OverrideStore{}
	store.sharedEnabled.Store(sharedEnabled)
	store.globalEnabled.Store(globalEnabled)

	return store
}

// SharedEnabled reports whether the shared tier is administratively on.
func (s *OverrideStore) SharedEnabled() bool {
	return s.sharedEnabled.Load()
}

// GlobalEnabled reports whether the global tier is administratively on.
func (s *OverrideStore) GlobalEnabled() bool {
	return s.globalEnabled.Load()
}

// ownerKey maps a tier and acting context to the override key's owner
// component.
func ownerKey(tier Tier, owner string) string {
	if tier == TierGlobal {
		return ""
	}

	return owner
}

// Add installs fn for (sel, tier, owner). Without force, an existing override
// at the same key fails with ErrAlreadyOverridden. Also records the
// (target, context) introspection tags.
func (s *OverrideStore) Add(sel Selector, tier Tier, owner string, fn reflect.Value, force bool) error {
	if tier == TierShared && !s.sharedEnabled.Load() {
		return fmt.Errorf("%w: shared", ErrTierDisabled)
	}

	if tier == TierGlobal && !s.globalEnabled.Load() {
		return fmt.Errorf("%w: global", ErrTierDisabled)
	}

	key := overrideKey{sel: sel, tier: tier, owner: ownerKey(tier, owner)}
	override := &Override{fn: fn}

	if _, loaded := s.overrides.LoadOrStore(key, override); loaded {
		if !force {
			return fmt.Errorf("%w: %s at %s tier", ErrAlreadyOverridden, sel, tier)
		}

		s.overrides.Store(key, override)
	}

	// Tags share the override's owner key, so a global override's tag is
	// owned by no context and survives the adding context's cleanup.
	s.addTag(sel, key.owner, tier)

	return nil
}

// Remove deletes the override at (sel, tier, owner). Idempotent. Only the
// requested tier's tag is cleared; tags from other tiers stay.
func (s *OverrideStore) Remove(sel Selector, tier Tier, owner string) {
	s.overrides.Delete(overrideKey{sel: sel, tier: tier, owner: ownerKey(tier, owner)})
	s.clearTag(sel, ownerKey(tier, owner), tier)
}

// Get returns the override at (sel, tier, owner), lock-free.
func (s *OverrideStore) Get(sel Selector, tier Tier, owner string) (*Override, bool) {
	value, ok := s.overrides.Load(overrideKey{sel: sel, tier: tier, owner: ownerKey(tier, owner)})
	if !ok {
		return nil, false
	}

	override, ok := value.(*Override)
	if !ok {
		panic("patchwork internal failure - non-override value in override store")
	}

	return override, true
}

// Overridden reports whether any override is active for sel, optionally
// restricted to one tier.
func (s *OverrideStore) Overridden(sel Selector, tier *Tier) bool {
	found := false

	s.overrides.Range(func(key, _ any) bool {
		k, ok := key.(overrideKey)
		if !ok {
			panic("patchwork internal failure - non-key value in override store")
		}

		if k.sel == sel && (tier == nil || k.tier == *tier) {
			found = true
			return false
		}

		return true
	})

	return found
}

// RemoveContext deletes every local and shared override owned by the context
// and all of its tags. Global overrides are owned by no context and stay.
func (s *OverrideStore) RemoveContext(owner string) {
	s.overrides.Range(func(key, _ any) bool {
		k, ok := key.(overrideKey)
		if !ok {
			panic("patchwork internal failure - non-key value in override store")
		}

		if k.owner == owner && owner != "" {
			s.overrides.Delete(key)
		}

		return true
	})

	s.tags.Range(func(key, _ any) bool {
		k, ok := key.(tagKey)
		if !ok {
			panic("patchwork internal failure - non-key value in tag store")
		}

		if k.owner == owner {
			s.tags.Delete(key)
		}

		return true
	})
}

// Reset clears every tier's storage and all tags.
func (s *OverrideStore) Reset() {
	s.overrides.Range(func(key, _ any) bool {
		s.overrides.Delete(key)
		return true
	})
	s.tags.Range(func(key, _ any) bool {
		s.tags.Delete(key)
		return true
	})
}

// tagKey addresses one (target, context) tag set.
type tagKey struct {
	sel   Selector
	owner string
}

// tagSet is mutex-guarded; tags are introspection only, never on the hot
// path.
type tagSet struct {
	mu   sync.Mutex
	tags map[Tag]bool
}

func (s *OverrideStore) addTag(sel Selector, owner string, tier Tier) {
	value, _ := s.tags.LoadOrStore(tagKey{sel: sel, owner: owner}, &tagSet{tags: map[Tag]bool{}})

	set, ok := value.(*tagSet)
	if !ok {
		panic("patchwork internal failure - non-set value in tag store")
	}

	set.mu.Lock()
	set.tags[TagPatched] = true
	set.tags[tagFor(tier)] = true
	set.mu.Unlock()
}

func (s *OverrideStore) clearTag(sel Selector, owner string, tier Tier) {
	value, ok := s.tags.Load(tagKey{sel: sel, owner: owner})
	if !ok {
		return
	}

	set, ok := value.(*tagSet)
	if !ok {
		panic("patchwork internal failure - non-set value in tag store")
	}

	set.mu.Lock()
	delete(set.tags, tagFor(tier))

	empty := len(set.tags) == 1 && set.tags[TagPatched]
	if empty {
		delete(set.tags, TagPatched)
	}
	set.mu.Unlock()

	if empty {
		s.tags.Delete(tagKey{sel: sel, owner: owner})
	}
}

// TagsOf returns the tag set for (sel, owner), sorted for stable output.
func (s *OverrideStore) TagsOf(sel Selector, owner string) []Tag {
	value, ok := s.tags.Load(tagKey{sel: sel, owner: owner})
	if !ok {
		return nil
	}

	set, ok := value.(*tagSet)
	if !ok {
		panic("patchwork internal failure - non-set value in tag store")
	}

	set.mu.Lock()
	tags := make([]Tag, 0, len(set.tags))

	for tag := range set.tags {
		tags = append(tags, tag)
	}
	set.mu.Unlock()

	slices.Sort(tags)

	return tags
}

// AllTags returns every context's tag set for sel.
func (s *OverrideStore) AllTags(sel Selector) map[string][]Tag {
	all := map[string][]Tag{}

	s.tags.Range(func(key, _ any) bool {
		k, ok := key.(tagKey)
		if !ok {
			panic("patchwork internal failure - non-key value in tag store")
		}

		if k.sel == sel {
			if tags := s.TagsOf(sel, k.owner); len(tags) > 0 {
				all[k.owner] = tags
			}
		}

		return true
	})

	return all
}
