package core

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// target preparation states. Absence from the registry means untouched.
const (
	statePreparing int32 = iota + 1
	statePrepared
)

// targetEntry tracks one target's preparation state. The prepared pointer is
// published only after the state flips to prepared, so readers never observe
// a half-built form.
type targetEntry struct {
	state    atomic.Int32
	prepared atomic.Pointer[Prepared]
}

// TargetRegistry tracks, per target, whether the transformer has been
// applied, is in progress, or is untouched, and guarantees at-most-one
// preparation even under concurrent first use.
type TargetRegistry struct {
	transformer Transformer

	entries sync.Map // Selector -> *targetEntry

	// PollInterval is how often a context that lost the preparation race
	// re-checks for completion. PollDeadline bounds that wait; a preparer
	// hung past it is treated as fatal rather than silently ignored.
	PollInterval time.Duration
	PollDeadline time.Duration
}

// NewTargetRegistry creates a registry backed by the given transformer.
func NewTargetRegistry(transformer Transformer) *TargetRegistry {
	return &TargetRegistry{
		transformer:  transformer,
		PollInterval: time.Millisecond,
		PollDeadline: 5 * time.Second,
	}
}

// EnsurePrepared returns the prepared form of the target, applying the
// transformer exactly once. The first caller atomically claims the
// preparation; concurrent callers poll until it completes. A failed
// preparation rolls the entry back so a later caller may retry.
func (r *TargetRegistry) EnsurePrepared(sel Selector, filter FilterFunc, dispatch DispatchFunc) (*Prepared, error) {
	fresh := &targetEntry{}
	fresh.state.Store(statePreparing)

	value, loaded := r.entries.LoadOrStore(sel, fresh)

	entry, ok := value.(*targetEntry)
	if !ok {
		panic("patchwork internal failure - non-entry value in target registry")
	}

	if !loaded {
		// We won the claim.
		prepared, err := r.transformer.Prepare(sel, filter, dispatch)
		if err != nil {
			r.entries.Delete(sel)

			if errors.Is(err, ErrTargetNotFound) {
				return nil, err
			}

			return nil, fmt.Errorf("%w: %s: %v", ErrPreparationFailed, sel, err)
		}

		entry.prepared.Store(prepared)
		entry.state.Store(statePrepared)

		return prepared, nil
	}

	// Lost the race, or the target is already prepared: poll until the
	// winner finishes.
	deadline := time.Now().Add(r.PollDeadline)

	for {
		if entry.state.Load() == statePrepared {
			return entry.prepared.Load(), nil
		}

		// If the winner failed and rolled the entry back, re-enter the race.
		if current, present := r.entries.Load(sel); !present || current != value {
			return r.EnsurePrepared(sel, filter, dispatch)
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s stuck preparing past %v", ErrPreparationFailed, sel, r.PollDeadline)
		}

		time.Sleep(r.PollInterval)
	}
}

// Lookup returns the prepared form for the selector, if it has one.
func (r *TargetRegistry) Lookup(sel Selector) (*Prepared, bool) {
	value, ok := r.entries.Load(sel)
	if !ok {
		return nil, false
	}

	entry, ok := value.(*targetEntry)
	if !ok {
		panic("patchwork internal failure - non-entry value in target registry")
	}

	if entry.state.Load() != statePrepared {
		return nil, false
	}

	return entry.prepared.Load(), true
}

// RevertAll restores every prepared target to its original form and clears
// all registry entries.
func (r *TargetRegistry) RevertAll() {
	r.entries.Range(func(key, value any) bool {
		entry, ok := value.(*targetEntry)
		if !ok {
			panic("patchwork internal failure - non-entry value in target registry")
		}

		if entry.state.Load() == statePrepared {
			entry.prepared.Load().Restore()
		}

		r.entries.Delete(key)

		return true
	})
}
