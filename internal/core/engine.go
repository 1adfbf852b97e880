package core

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Options configures an engine at setup time.
type Options struct {
	// SharedTier and GlobalTier toggle those tiers process-wide. Disabling a
	// tier shortens the resolver's hot path and makes its use an error.
	SharedTier bool
	GlobalTier bool
	// History toggles call recording.
	History bool
	// Transformer makes targets route through the dispatcher. Defaults to a
	// fresh FuncTable.
	Transformer Transformer
	// EagerTargets are prepared during setup, concurrently, blocking until
	// all complete and surfacing the first failure.
	EagerTargets []Selector
	// PrepareConcurrency bounds eager preparation; zero means unbounded.
	PrepareConcurrency int
}

// Option mutates setup options.
type Option func(*Options)

// WithoutSharedTier disables the shared tier.
func WithoutSharedTier() Option {
	return func(o *Options) { o.SharedTier = false }
}

// WithoutGlobalTier disables the global tier.
func WithoutGlobalTier() Option {
	return func(o *Options) { o.GlobalTier = false }
}

// WithoutHistory disables call recording.
func WithoutHistory() Option {
	return func(o *Options) { o.History = false }
}

// WithTransformer substitutes the code transformer collaborator.
func WithTransformer(t Transformer) Option {
	return func(o *Options) { o.Transformer = t }
}

// WithEagerTargets requests preparation of the selectors during setup.
func WithEagerTargets(sels ...Selector) Option {
	return func(o *Options) { o.EagerTargets = append(o.EagerTargets, sels...) }
}

// WithPrepareConcurrency bounds concurrent eager preparation.
func WithPrepareConcurrency(n int) Option {
	return func(o *Options) { o.PrepareConcurrency = n }
}

// Engine is the override resolution engine: target registry, tiered override
// store, delegation graph, dispatch resolver, and call history, tied together
// with setup/cleanup/restore-all lifecycle semantics.
//
// Engines are explicitly constructed service objects, not ambient singletons,
// so the engine's own tests run against isolated instances.
type Engine struct {
	transformer Transformer
	targets     *TargetRegistry
	overrides   *OverrideStore
	delegations *DelegationGraph
	history     *HistoryStore
	resolver    *Resolver

	contexts  sync.Map // context ID -> *ExecContext
	observers sync.Map // Selector -> *observerList
}

// NewEngine sets up an engine, eagerly preparing any requested targets before
// returning. The first preparation failure aborts setup.
func NewEngine(options ...Option) (*Engine, error) {
	opts := Options{SharedTier: true, GlobalTier: true, History: true}
	for _, option := range options {
		option(&opts)
	}

	if opts.Transformer == nil {
		opts.Transformer = NewFuncTable()
	}

	engine := &Engine{
		transformer: opts.Transformer,
		targets:     NewTargetRegistry(opts.Transformer),
		overrides:   NewOverrideStore(opts.SharedTier, opts.GlobalTier),
		delegations: NewDelegationGraph(),
		history:     NewHistoryStore(opts.History),
	}
	engine.resolver = NewResolver(engine.overrides, engine.delegations)

	group := new(errgroup.Group)
	if opts.PrepareConcurrency > 0 {
		group.SetLimit(opts.PrepareConcurrency)
	}

	for _, sel := range opts.EagerTargets {
		sel := sel
		group.Go(func() error {
			_, err := engine.targets.EnsurePrepared(sel, nil, engine.dispatch)
			return err
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	return engine, nil
}

// Transformer returns the engine's code transformer collaborator.
func (e *Engine) Transformer() Transformer {
	return e.transformer
}

// NewContext creates and registers a root execution context.
func (e *Engine) NewContext() *ExecContext {
	ec := newExecContext(nil)
	e.contexts.Store(ec.ID(), ec)

	return ec
}

// Spawn creates and registers a child context of parent, so concurrently
// spawned work inherits the parent's shared overrides through the resolver's
// parent-chain walk.
func (e *Engine) Spawn(parent *ExecContext) *ExecContext {
	ec := newExecContext(parent)
	e.contexts.Store(ec.ID(), ec)

	return ec
}

// resolveID checks that a context identifier is registered.
func (e *Engine) resolveID(id string) error {
	if _, ok := e.contexts.Load(id); !ok {
		return fmt.Errorf("%w: %s", ErrUnresolvedContext, id)
	}

	return nil
}

// Patch ensures the target is prepared and installs fn as its override at the
// given tier for the acting context. fn's signature must equal the target's;
// a mismatch is a programmer error and panics.
func (e *Engine) Patch(ec *ExecContext, sel Selector, tier Tier, fn any, force bool) error {
	prepared, err := e.targets.EnsurePrepared(sel, nil, e.dispatch)
	if err != nil {
		return err
	}

	fnValue := reflect.ValueOf(fn)
	if !fnValue.IsValid() || fnValue.Kind() != reflect.Func {
		panic(fmt.Sprintf("patchwork: override for %s must be a function, got %T", sel, fn))
	}

	if fnValue.Type() != prepared.Type() {
		panic(fmt.Sprintf(
			"patchwork: override for %s has signature %v, target has %v",
			sel, fnValue.Type(), prepared.Type(),
		))
	}

	return e.overrides.Add(sel, tier, ec.ID(), fnValue, force)
}

// Spy prepares the target without overriding it: calls keep their original
// behavior and every one lands in history.
func (e *Engine) Spy(sel Selector) error {
	_, err := e.targets.EnsurePrepared(sel, nil, e.dispatch)
	return err
}

// PrepareModule prepares every registered target in the module that passes
// the filter, stopping at the first failure.
func (e *Engine) PrepareModule(module string, filter FilterFunc) error {
	for _, sel := range e.transformer.SelectorsIn(module) {
		if filter != nil && !filter(sel) {
			continue
		}

		if _, err := e.targets.EnsurePrepared(sel, filter, e.dispatch); err != nil {
			return err
		}
	}

	return nil
}

// Restore removes the acting context's override at the given tier.
// Idempotent; other tiers' overrides stay active.
func (e *Engine) Restore(ec *ExecContext, sel Selector, tier Tier) {
	e.overrides.Remove(sel, tier, ec.ID())
}

// Real returns the retained original implementation of a registered target.
func (e *Engine) Real(sel Selector) (any, error) {
	table, ok := e.transformer.(*FuncTable)
	if !ok {
		return nil, fmt.Errorf("%w: %s: transformer does not retain originals", ErrTargetNotFound, sel)
	}

	original, ok := table.Real(sel)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, sel)
	}

	return original, nil
}

// Allow lets allowed resolve owner's shared overrides. Both contexts must be
// registered.
func (e *Engine) Allow(owner, allowed *ExecContext, force bool) error {
	if err := e.resolveID(owner.ID()); err != nil {
		return err
	}

	if err := e.resolveID(allowed.ID()); err != nil {
		return err
	}

	return e.delegations.Allow(owner.ID(), allowed.ID(), force)
}

// OwnerOf returns the ultimate delegation owner of the context, if any.
func (e *Engine) OwnerOf(ec *ExecContext) (string, bool) {
	return e.delegations.OwnerOf(ec.ID())
}

// AllowancesOf returns the IDs of every context delegated to ec.
func (e *Engine) AllowancesOf(ec *ExecContext) []string {
	return e.delegations.AllowancesOf(ec.ID())
}

// Info returns the introspection tags for the target: one context's set when
// ec is non-nil, every context's otherwise.
func (e *Engine) Info(sel Selector, ec *ExecContext) map[string][]Tag {
	if ec != nil {
		tags := e.overrides.TagsOf(sel, ec.ID())
		if len(tags) == 0 {
			return nil
		}

		return map[string][]Tag{ec.ID(): tags}
	}

	return e.overrides.AllTags(sel)
}

// Repatched reports whether the target currently carries any override,
// optionally restricted to one tier.
func (e *Engine) Repatched(sel Selector, tier *Tier) bool {
	return e.overrides.Overridden(sel, tier)
}

// History returns matching history entries in recorded order. A non-empty
// caller filter must name a registered context.
func (e *Engine) History(q Query) ([]Entry, error) {
	if q.Caller != "" {
		if err := e.resolveID(q.Caller); err != nil {
			return nil, err
		}
	}

	return e.history.Select(q, 0)
}

// Called checks the history match count against exactly/atLeast, fetching
// only as many entries as the comparators need.
func (e *Engine) Called(q Query, exactly, atLeast *int) (bool, error) {
	if q.Caller != "" {
		if err := e.resolveID(q.Caller); err != nil {
			return false, err
		}
	}

	return e.history.CountSatisfies(q, exactly, atLeast)
}

// Notification is the one-shot signal delivered when a watched target is next
// invoked.
type Notification struct {
	Selector Selector
	Args     []any
}

// observer is one armed notification token.
type observer struct {
	ctxID string
	ch    chan Notification
}

// observerList holds the armed observers for one target.
type observerList struct {
	mu      sync.Mutex
	waiting []*observer
}

// Notify arms a one-shot signal for the calling context: the returned channel
// receives exactly one Notification when the target is next invoked. The real
// call is not suppressed. The target is prepared if it is not already.
func (e *Engine) Notify(ec *ExecContext, sel Selector) (<-chan Notification, error) {
	if _, err := e.targets.EnsurePrepared(sel, nil, e.dispatch); err != nil {
		return nil, err
	}

	value, _ := e.observers.LoadOrStore(sel, &observerList{})

	list, ok := value.(*observerList)
	if !ok {
		panic("patchwork internal failure - non-list value in observer store")
	}

	watcher := &observer{ctxID: ec.ID(), ch: make(chan Notification, 1)}

	list.mu.Lock()
	list.waiting = append(list.waiting, watcher)
	list.mu.Unlock()

	return watcher.ch, nil
}

// fireNotifications delivers and disarms every observer waiting on sel.
func (e *Engine) fireNotifications(sel Selector, args []any) {
	value, ok := e.observers.Load(sel)
	if !ok {
		return
	}

	list, valid := value.(*observerList)
	if !valid {
		panic("patchwork internal failure - non-list value in observer store")
	}

	list.mu.Lock()
	armed := list.waiting
	list.waiting = nil
	list.mu.Unlock()

	for _, watcher := range armed {
		watcher.ch <- Notification{Selector: sel, Args: args}
		close(watcher.ch)
	}
}

// dropObservers disarms every observer armed by the context.
func (e *Engine) dropObservers(ctxID string) {
	e.observers.Range(func(_, value any) bool {
		list, ok := value.(*observerList)
		if !ok {
			panic("patchwork internal failure - non-list value in observer store")
		}

		list.mu.Lock()

		kept := make([]*observer, 0, len(list.waiting))
		for _, watcher := range list.waiting {
			if watcher.ctxID != ctxID {
				kept = append(kept, watcher)
			}
		}

		list.waiting = kept
		list.mu.Unlock()

		return true
	})
}

// Cleanup tears down everything the context owns: local and shared overrides,
// delegation edges in both directions, history entries, armed notifications,
// and the context's registration. Safe to call from the context itself at the
// end of each test.
func (e *Engine) Cleanup(ec *ExecContext) {
	id := ec.ID()

	e.overrides.RemoveContext(id)
	e.delegations.RemoveContext(id)
	e.history.DeleteForContext(id)
	e.dropObservers(id)
	e.contexts.Delete(id)
}

// RestoreAll is the full reset: every prepared target reverts to its original
// form, and all tiers, delegations, and history are cleared. Cost is
// proportional to the number of prepared targets; it is meant for interactive
// use, not per-test teardown.
func (e *Engine) RestoreAll() {
	e.targets.RevertAll()
	e.overrides.Reset()
	e.delegations.Reset()
	e.history.Reset()

	e.observers.Range(func(key, _ any) bool {
		e.observers.Delete(key)
		return true
	})
}

// dispatch is the interception entry point installed into prepared slots. It
// extracts the caller's execution context from a leading context.Context
// argument, records history, fires notifications, and resolves the call:
// bypass and fall-through execute the retained original.
func (e *Engine) dispatch(prepared *Prepared, args []reflect.Value) []reflect.Value {
	var (
		ec       *ExecContext
		bypassed bool
	)

	if prepared.TakesContext() && len(args) > 0 {
		if stdctx, ok := args[0].Interface().(context.Context); ok && stdctx != nil {
			ec = From(stdctx)
			bypassed = Bypassed(stdctx)
		}
	}

	callerID := ""
	if ec != nil {
		callerID = ec.ID()
	}

	recorded := unreflectValues(businessArgs(prepared, args))
	e.history.Record(prepared.Selector, callerID, recorded)
	e.fireNotifications(prepared.Selector, recorded)

	if bypassed {
		return prepared.CallOriginal(args)
	}

	if override, ok := e.resolver.Resolve(ec, prepared.Selector); ok {
		return callFunc(override.Fn(), args)
	}

	return prepared.CallOriginal(args)
}

// businessArgs strips a leading context.Context so history and notifications
// carry only the arguments the target's arity counts.
func businessArgs(prepared *Prepared, args []reflect.Value) []reflect.Value {
	if prepared.TakesContext() && len(args) > 0 {
		return args[1:]
	}

	return args
}
