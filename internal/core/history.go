package core

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// Entry is one recorded call: who called what, when (logical time), and with
// which arguments. Logical timestamps are monotonically increasing per
// process and carry no wall-clock meaning; they exist for relative ordering
// and range filtering only.
type Entry struct {
	Selector  Selector
	Caller    string // context ID; empty when the call carried no context
	Timestamp uint64
	Args      []any
}

// entryList is one target's append-only call log. Appends take a short
// per-target mutex; reads snapshot under the same mutex. History is off the
// resolver's lock-free requirement, so this is deliberately simple.
type entryList struct {
	mu      sync.Mutex
	entries []Entry
}

// HistoryStore is the append-only per-call log plus its query evaluator.
type HistoryStore struct {
	clock   atomic.Uint64
	lists   sync.Map // Selector -> *entryList
	enabled atomic.Bool
}

// NewHistoryStore creates a store with collection toggled per enabled.
func NewHistoryStore(enabled bool) *HistoryStore {
	store := &HistoryStore{}
	store.enabled.Store(enabled)

	return store
}

// Enabled reports whether history collection is on.
func (h *HistoryStore) Enabled() bool {
	return h.enabled.Load()
}

// Record appends an entry for the call, stamped with the next logical
// timestamp. No-op while collection is disabled.
func (h *HistoryStore) Record(sel Selector, caller string, args []any) {
	if !h.enabled.Load() {
		return
	}

	value, _ := h.lists.LoadOrStore(sel, &entryList{})

	list, ok := value.(*entryList)
	if !ok {
		panic("patchwork internal failure - non-list value in history store")
	}

	// Stamp inside the lock so a single caller's entries land in call order.
	list.mu.Lock()
	list.entries = append(list.entries, Entry{
		Selector:  sel,
		Caller:    caller,
		Timestamp: h.clock.Add(1),
		Args:      args,
	})
	list.mu.Unlock()
}

// Query selects history entries for one target.
//
// Caller empty means any caller. MatchArgs false matches on arity alone;
// true requires the literal Args list, element-wise — elements may be
// Matchers. After and Before are inclusive logical-timestamp bounds.
type Query struct {
	Selector  Selector
	Caller    string
	Args      []any
	MatchArgs bool
	After     *uint64
	Before    *uint64
}

// validate rejects malformed range bounds.
func (q Query) validate() error {
	if q.After != nil && q.Before != nil && *q.After > *q.Before {
		return fmt.Errorf("%w: after %d past before %d", ErrInvalidQuery, *q.After, *q.Before)
	}

	return nil
}

// matches reports whether the entry satisfies the query's filters.
func (q Query) matches(entry Entry) bool {
	if q.Caller != "" && entry.Caller != q.Caller {
		return false
	}

	if q.After != nil && entry.Timestamp < *q.After {
		return false
	}

	if q.Before != nil && entry.Timestamp > *q.Before {
		return false
	}

	if q.MatchArgs {
		if len(entry.Args) != len(q.Args) {
			return false
		}

		for i, expected := range q.Args {
			if ok, _ := MatchValue(entry.Args[i], expected); !ok {
				return false
			}
		}
	}

	return true
}

// Select returns matching entries in recorded order. A limit above zero stops
// the scan once that many matches are found, which is what lets count checks
// avoid walking full history.
func (h *HistoryStore) Select(q Query, limit int) ([]Entry, error) {
	if !h.enabled.Load() {
		return nil, ErrHistoryDisabled
	}

	if err := q.validate(); err != nil {
		return nil, err
	}

	value, ok := h.lists.Load(q.Selector)
	if !ok {
		return nil, nil
	}

	list, valid := value.(*entryList)
	if !valid {
		panic("patchwork internal failure - non-list value in history store")
	}

	list.mu.Lock()
	snapshot := list.entries
	list.mu.Unlock()

	var matches []Entry

	for _, entry := range snapshot {
		if !q.matches(entry) {
			continue
		}

		matches = append(matches, entry)

		if limit > 0 && len(matches) == limit {
			break
		}
	}

	return matches, nil
}

// CountSatisfies checks the match count against the comparators. At least one
// of exactly/atLeast is required; when both are given, atLeast must not
// exceed exactly. For exactly=N it fetches at most N+1 matches; for
// atLeast=N, at most N.
func (h *HistoryStore) CountSatisfies(q Query, exactly, atLeast *int) (bool, error) {
	if exactly == nil && atLeast == nil {
		return false, fmt.Errorf("%w: need exactly or at-least", ErrInvalidQuery)
	}

	if exactly != nil && *exactly < 0 {
		return false, fmt.Errorf("%w: negative exactly %d", ErrInvalidQuery, *exactly)
	}

	if atLeast != nil && *atLeast < 0 {
		return false, fmt.Errorf("%w: negative at-least %d", ErrInvalidQuery, *atLeast)
	}

	if exactly != nil && atLeast != nil && *atLeast > *exactly {
		return false, fmt.Errorf("%w: at-least %d exceeds exactly %d", ErrInvalidQuery, *atLeast, *exactly)
	}

	if exactly != nil {
		matches, err := h.Select(q, *exactly+1)
		if err != nil {
			return false, err
		}

		return len(matches) == *exactly, nil
	}

	// At least zero holds vacuously; asking Select for zero matches would
	// read as "no limit" and fetch everything.
	if *atLeast == 0 {
		if !h.enabled.Load() {
			return false, ErrHistoryDisabled
		}

		if err := q.validate(); err != nil {
			return false, err
		}

		return true, nil
	}

	matches, err := h.Select(q, *atLeast)
	if err != nil {
		return false, err
	}

	return len(matches) == *atLeast, nil
}

// DeleteForContext removes every entry recorded for the caller.
func (h *HistoryStore) DeleteForContext(caller string) {
	h.lists.Range(func(_, value any) bool {
		list, ok := value.(*entryList)
		if !ok {
			panic("patchwork internal failure - non-list value in history store")
		}

		list.mu.Lock()

		// Fresh slice rather than filtering in place: Select iterates its
		// snapshot outside the lock.
		kept := make([]Entry, 0, len(list.entries))
		for _, entry := range list.entries {
			if entry.Caller != caller {
				kept = append(kept, entry)
			}
		}

		list.entries = kept
		list.mu.Unlock()

		return true
	})
}

// Reset drops all history. The logical clock keeps counting; timestamps only
// ever move forward within a process.
func (h *HistoryStore) Reset() {
	h.lists.Range(func(key, _ any) bool {
		h.lists.Delete(key)
		return true
	})
}
