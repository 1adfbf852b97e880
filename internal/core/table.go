package core

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// The Go rendition of runtime code rewriting is an explicit indirection
// layer: every interceptable function is registered behind a slot holding an
// atomically swappable implementation pointer. Preparing a target swaps the
// slot from a passthrough to the engine's dispatcher; restoring swaps the
// original back. Callers hold a same-typed function value (built with
// reflect.MakeFunc) that routes through the slot, so the target stays
// callable under its original name throughout.

// FilterFunc restricts which selectors within a broader unit get intercepted.
// A nil filter accepts everything.
type FilterFunc func(Selector) bool

// DispatchFunc is the interception entry point installed into a prepared
// slot. It receives the prepared form for fall-through access to the
// original.
type DispatchFunc func(p *Prepared, args []reflect.Value) []reflect.Value

// Transformer is the collaborator that makes a target's calls pass through
// the dispatcher. FuncTable is the in-process implementation.
type Transformer interface {
	// Prepare installs the dispatcher into the target's call path and
	// returns the prepared form. It must be invoked at most once per target
	// lifetime; the registry guarantees that.
	Prepare(sel Selector, filter FilterFunc, dispatch DispatchFunc) (*Prepared, error)
	// SelectorsIn lists the registered selectors within a module.
	SelectorsIn(module string) []Selector
}

// implFn is the callable form a slot routes through.
type implFn func(args []reflect.Value) []reflect.Value

// slot is one interceptable function: the retained original plus the
// currently routed implementation.
type slot struct {
	sel      Selector
	fnType   reflect.Type
	original reflect.Value
	hasCtx   bool
	impl     atomic.Pointer[implFn]
}

// callOriginal invokes the retained original implementation.
func (s *slot) callOriginal(args []reflect.Value) []reflect.Value {
	if s.fnType.IsVariadic() {
		return s.original.CallSlice(args)
	}

	return s.original.Call(args)
}

// FuncTable is a registry of interceptable function slots.
type FuncTable struct {
	slots sync.Map // Selector -> *slot
}

// NewFuncTable creates an empty function table.
func NewFuncTable() *FuncTable {
	return &FuncTable{}
}

// contextType is used to recognize a leading context.Context parameter.
//
//nolint:gochecknoglobals // reflect.Type lookup is constant-like
var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()

// RegisterFunc registers fn under (module, name) and returns a function value
// of the same type that routes through the slot. Until the target is
// prepared, the routed value calls the original through a single atomic load.
//
// Arity excludes a leading context.Context parameter, so a function declared
// as Add(ctx, x) registers as module.Add/1.
//
// Registering the same selector twice is a programmer error and panics.
func (tbl *FuncTable) RegisterFunc(module, name string, fn any) any {
	fnType := reflect.TypeOf(fn)
	if fnType == nil || fnType.Kind() != reflect.Func {
		panic(fmt.Sprintf("patchwork: RegisterFunc requires a function, got %T", fn))
	}

	arity := fnType.NumIn()
	hasCtx := arity > 0 && fnType.In(0) == contextType

	if hasCtx {
		arity--
	}

	sel := Selector{Module: module, Function: name, Arity: arity}

	newSlot := &slot{
		sel:      sel,
		fnType:   fnType,
		original: reflect.ValueOf(fn),
		hasCtx:   hasCtx,
	}

	passthrough := implFn(newSlot.callOriginal)
	newSlot.impl.Store(&passthrough)

	if _, loaded := tbl.slots.LoadOrStore(sel, newSlot); loaded {
		panic(fmt.Sprintf("patchwork: %s registered twice", sel))
	}

	// Make a function of the right type that routes through the slot.
	// We depend on MakeFunc to return the correct type, as documented.
	routed := reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		return (*newSlot.impl.Load())(args)
	})

	return routed.Interface()
}

// Prepare implements Transformer by swapping the slot's implementation to the
// dispatcher. The original stays retained on the slot for fall-through and
// call-real access.
func (tbl *FuncTable) Prepare(sel Selector, filter FilterFunc, dispatch DispatchFunc) (*Prepared, error) {
	value, ok := tbl.slots.Load(sel)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, sel)
	}

	if filter != nil && !filter(sel) {
		return nil, fmt.Errorf("%w: %s excluded by filter", ErrTargetNotFound, sel)
	}

	target, ok := value.(*slot)
	if !ok {
		panic("patchwork internal failure - non-slot value in function table")
	}

	prepared := &Prepared{
		Selector: sel,
		target:   target,
	}

	intercepted := implFn(func(args []reflect.Value) []reflect.Value {
		return dispatch(prepared, args)
	})
	target.impl.Store(&intercepted)

	return prepared, nil
}

// SelectorsIn lists registered selectors whose module matches.
func (tbl *FuncTable) SelectorsIn(module string) []Selector {
	var selectors []Selector

	tbl.slots.Range(func(key, _ any) bool {
		sel, ok := key.(Selector)
		if !ok {
			panic("patchwork internal failure - non-selector key in function table")
		}

		if sel.Module == module {
			selectors = append(selectors, sel)
		}

		return true
	})

	return selectors
}

// Real returns the retained original implementation for the selector, for
// call-the-real-implementation helpers. The second return is false when the
// selector is not registered.
func (tbl *FuncTable) Real(sel Selector) (any, bool) {
	value, ok := tbl.slots.Load(sel)
	if !ok {
		return nil, false
	}

	target, ok := value.(*slot)
	if !ok {
		panic("patchwork internal failure - non-slot value in function table")
	}

	return target.original.Interface(), true
}

// Prepared is the prepared form of a target: proof that its calls route
// through the dispatcher, plus access to the retained original.
type Prepared struct {
	Selector Selector
	target   *slot
}

// CallOriginal executes the retained original implementation.
func (p *Prepared) CallOriginal(args []reflect.Value) []reflect.Value {
	return p.target.callOriginal(args)
}

// Type returns the target's function type.
func (p *Prepared) Type() reflect.Type {
	return p.target.fnType
}

// Original returns the retained original as a plain function value.
func (p *Prepared) Original() any {
	return p.target.original.Interface()
}

// TakesContext reports whether the target declares a leading context.Context
// parameter.
func (p *Prepared) TakesContext() bool {
	return p.target.hasCtx
}

// Restore swaps the slot back to pristine passthrough behavior.
func (p *Prepared) Restore() {
	passthrough := implFn(p.target.callOriginal)
	p.target.impl.Store(&passthrough)
}

// callFunc calls the given function value with the given args, packing for
// variadic signatures as needed.
func callFunc(fn reflect.Value, args []reflect.Value) []reflect.Value {
	if fn.Type().IsVariadic() {
		return fn.CallSlice(args)
	}

	return fn.Call(args)
}

// unreflectValues returns the actual values of the reflected values.
func unreflectValues(rArgs []reflect.Value) []any {
	if len(rArgs) == 0 {
		return nil
	}

	args := []any{}

	for i := range rArgs {
		args = append(args, rArgs[i].Interface())
	}

	return args
}
