// Package patchwork lets concurrently running tests substitute the behavior
// of registered functions without interfering with each other, and query what
// was called, by whom, and when.
//
// Overrides live in three isolation tiers: local (caller-only), shared
// (owner plus explicitly allowed contexts), and global (everyone). Targets
// are registered behind function slots with Export; patching swaps a slot's
// call path through the dispatch resolver while retaining the original for
// fall-through and call-real access.
//
// This is the public API entry point. Implementation lives in internal/core.
package patchwork

import (
	"context"
	"fmt"
	"sync"

	"github.com/toejough/patchwork/internal/core"
)

// Selector identifies one interceptable unit: (module, function, arity).
type Selector = core.Selector

// Tier is the isolation level of an override.
type Tier = core.Tier

// Tier values.
const (
	TierLocal  = core.TierLocal
	TierShared = core.TierShared
	TierGlobal = core.TierGlobal
)

// Tag is an introspection marker tracked per (target, context).
type Tag = core.Tag

// Tag values.
const (
	TagPatched = core.TagPatched
	TagLocal   = core.TagLocal
	TagShared  = core.TagShared
	TagGlobal  = core.TagGlobal
)

// Engine is the override resolution engine.
type Engine = core.Engine

// ExecContext is an independent execution unit with its own local overrides
// and history.
type ExecContext = core.ExecContext

// Entry is one recorded call.
type Entry = core.Entry

// Query selects history entries for one target.
type Query = core.Query

// Notification is the one-shot signal delivered by Notify tokens.
type Notification = core.Notification

// Matcher defines the interface for flexible value matching.
type Matcher = core.Matcher

// Option mutates engine setup options.
type Option = core.Option

// FilterFunc restricts which selectors within a module get intercepted.
type FilterFunc = core.FilterFunc

// Transformer is the code-transformer collaborator interface.
type Transformer = core.Transformer

// FuncTable is the in-process Transformer: a registry of interceptable
// function slots.
type FuncTable = core.FuncTable

// Errors re-exported from internal/core.
var (
	ErrTargetNotFound    = core.ErrTargetNotFound
	ErrAlreadyOverridden = core.ErrAlreadyOverridden
	ErrTierDisabled      = core.ErrTierDisabled
	ErrSelfDelegation    = core.ErrSelfDelegation
	ErrCyclicDelegation  = core.ErrCyclicDelegation
	ErrAlreadyDelegated  = core.ErrAlreadyDelegated
	ErrInvalidQuery      = core.ErrInvalidQuery
	ErrUnresolvedContext = core.ErrUnresolvedContext
	ErrPreparationFailed = core.ErrPreparationFailed
	ErrHistoryDisabled   = core.ErrHistoryDisabled
)

// NewEngine sets up an isolated engine instance.
func NewEngine(options ...Option) (*Engine, error) {
	return core.NewEngine(options...)
}

// WithoutSharedTier disables the shared tier.
func WithoutSharedTier() Option { return core.WithoutSharedTier() }

// WithoutGlobalTier disables the global tier.
func WithoutGlobalTier() Option { return core.WithoutGlobalTier() }

// WithoutHistory disables call recording.
func WithoutHistory() Option { return core.WithoutHistory() }

// WithTransformer substitutes the code transformer collaborator.
func WithTransformer(t Transformer) Option { return core.WithTransformer(t) }

// WithEagerTargets requests preparation of the selectors during setup.
func WithEagerTargets(sels ...Selector) Option { return core.WithEagerTargets(sels...) }

// WithPrepareConcurrency bounds concurrent eager preparation.
func WithPrepareConcurrency(n int) Option { return core.WithPrepareConcurrency(n) }

// Attach returns a context.Context carrying the execution context.
func Attach(ctx context.Context, ec *ExecContext) context.Context {
	return core.Attach(ctx, ec)
}

// From extracts the execution context attached to ctx, or nil.
func From(ctx context.Context) *ExecContext { return core.From(ctx) }

// WithBypass derives a context whose remaining call stack resolves every
// intercepted call straight to the original implementation.
func WithBypass(ctx context.Context) context.Context { return core.WithBypass(ctx) }

// MatchValue checks if actual matches expected: Matcher duck-typing first,
// deep equality otherwise.
func MatchValue(actual, expected any) (bool, string) { return core.MatchValue(actual, expected) }

// Count carries the comparators for Called. At least one is required; when
// both are set, AtLeast must not exceed Exactly.
type Count struct {
	Exactly *int
	AtLeast *int
}

// Exactly requires the match count to equal n.
func Exactly(n int) Count { return Count{Exactly: &n} }

// AtLeast requires at least n matches.
func AtLeast(n int) Count { return Count{AtLeast: &n} }

// The default engine backs the package-level convenience API. Its function
// table outlives Setup so slots exported at package init keep working across
// engine re-setup.
//
//nolint:gochecknoglobals // Package-level default engine is the convenience surface
var (
	defaultMu     sync.Mutex
	defaultEngine *Engine
	defaultTable  = core.NewFuncTable()
)

// Setup initializes the default engine: tier availability, history
// availability, eager target preparation. Calling it again replaces the
// default engine's stores but keeps every exported slot registered. Intended
// for process start, before any contexts are handed out.
func Setup(options ...Option) error {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	engine, err := core.NewEngine(append([]Option{core.WithTransformer(defaultTable)}, options...)...)
	if err != nil {
		return err
	}

	defaultEngine = engine

	return nil
}

// Default returns the default engine, setting it up with default options on
// first use.
func Default() *Engine {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if defaultEngine == nil {
		engine, err := core.NewEngine(core.WithTransformer(defaultTable))
		if err != nil {
			// No eager targets are requested here, so setup cannot fail.
			panic(fmt.Sprintf("patchwork internal failure - default setup: %v", err))
		}

		defaultEngine = engine
	}

	return defaultEngine
}

// Export registers fn as an interceptable target under (module, name) in the
// default engine and returns a same-typed function value routed through its
// slot. Call sites use the returned value in place of fn:
//
//	var Add = patchwork.Export("calc", "Add", add)
func Export[T any](module, name string, fn T) T {
	routed, ok := defaultTable.RegisterFunc(module, name, fn).(T)
	if !ok {
		panic("patchwork internal failure - routed function type mismatch")
	}

	return routed
}

// SelectorFor returns the selector Export registered for a function with the
// given module, name, and arity.
func SelectorFor(module, name string, arity int) Selector {
	return Selector{Module: module, Function: name, Arity: arity}
}

// Patch installs fn as the target's override at the given tier for the
// context, preparing the target if needed.
func Patch(ec *ExecContext, sel Selector, tier Tier, fn any, force bool) error {
	return Default().Patch(ec, sel, tier, fn, force)
}

// Fake is Patch under its conventional name for substituted behavior.
func Fake(ec *ExecContext, sel Selector, tier Tier, fn any, force bool) error {
	return Default().Patch(ec, sel, tier, fn, force)
}

// Spy prepares the target without overriding it, so calls keep original
// behavior and land in history.
func Spy(sel Selector) error { return Default().Spy(sel) }

// Restore removes the context's override at the given tier.
func Restore(ec *ExecContext, sel Selector, tier Tier) { Default().Restore(ec, sel, tier) }

// Allow lets allowed resolve owner's shared overrides.
func Allow(owner, allowed *ExecContext, force bool) error {
	return Default().Allow(owner, allowed, force)
}

// OwnerOf returns the ultimate delegation owner of the context, if any.
func OwnerOf(ec *ExecContext) (string, bool) { return Default().OwnerOf(ec) }

// AllowancesOf returns the IDs of every context delegated to ec.
func AllowancesOf(ec *ExecContext) []string { return Default().AllowancesOf(ec) }

// Info returns the introspection tags for the target.
func Info(sel Selector, ec *ExecContext) map[string][]Tag { return Default().Info(sel, ec) }

// Repatched reports whether the target currently carries any override,
// optionally restricted to one tier.
func Repatched(sel Selector, tier *Tier) bool { return Default().Repatched(sel, tier) }

// Called checks the history match count against the comparators.
func Called(q Query, count Count) (bool, error) {
	return Default().Called(q, count.Exactly, count.AtLeast)
}

// History returns matching history entries in recorded order.
func History(q Query) ([]Entry, error) { return Default().History(q) }

// Notify arms a one-shot signal for the context, delivered when the target is
// next invoked. The real call is not suppressed.
func Notify(ec *ExecContext, sel Selector) (<-chan Notification, error) {
	return Default().Notify(ec, sel)
}

// Real returns the retained original implementation of the target. The
// selector must name a registered target of type T.
func Real[T any](sel Selector) T {
	original, err := Default().Real(sel)
	if err != nil {
		panic(fmt.Sprintf("patchwork: Real: %v", err))
	}

	typed, ok := original.(T)
	if !ok {
		panic(fmt.Sprintf("patchwork: Real: %s is %T, not the requested type", sel, original))
	}

	return typed
}

// RestoreAll is the full reset: every prepared target reverts to pristine
// behavior and all tiers, delegations, and history are cleared.
func RestoreAll() { Default().RestoreAll() }

// Cleanup tears down everything the context owns.
func Cleanup(ec *ExecContext) { Default().Cleanup(ec) }
