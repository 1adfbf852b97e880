package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
)

// TestRegisterFuncRoutesToOriginal verifies an unprepared slot passes calls
// straight through to the original.
func TestRegisterFuncRoutesToOriginal(t *testing.T) {
	t.Parallel()

	table := NewFuncTable()

	routed, ok := table.RegisterFunc("calc", "Add", func(x int) int { return x + 1 }).(func(int) int)
	if !ok {
		t.Fatal("expected routed value to keep the registered type")
	}

	if got := routed(1); got != 2 {
		t.Errorf("expected unprepared call to return 2, got %d", got)
	}
}

// TestRegisterFuncArityExcludesContext verifies a leading context.Context
// does not count toward the selector's arity.
func TestRegisterFuncArityExcludesContext(t *testing.T) {
	t.Parallel()

	table := NewFuncTable()
	table.RegisterFunc("calc", "Add", func(_ context.Context, x int) int { return x + 1 })

	sel := Selector{Module: "calc", Function: "Add", Arity: 1}
	if _, ok := table.Real(sel); !ok {
		t.Errorf("expected %s to be registered", sel)
	}
}

// TestRegisterFuncDuplicatePanics verifies double registration is a
// programmer error.
func TestRegisterFuncDuplicatePanics(t *testing.T) {
	t.Parallel()

	table := NewFuncTable()
	table.RegisterFunc("calc", "Add", func(x int) int { return x })

	defer func() {
		recovered := recover()
		if recovered == nil {
			t.Fatal("expected a panic on duplicate registration")
		}

		if !strings.Contains(fmt.Sprint(recovered), "registered twice") {
			t.Errorf("unexpected panic message: %v", recovered)
		}
	}()

	table.RegisterFunc("calc", "Add", func(x int) int { return x })
}

// TestPrepareSwapsDispatcher verifies preparing a target routes calls through
// the supplied dispatch function, and Restore puts the original back.
func TestPrepareSwapsDispatcher(t *testing.T) {
	t.Parallel()

	table := NewFuncTable()

	routed := table.RegisterFunc("calc", "Add", func(x int) int { return x + 1 }).(func(int) int)
	sel := Selector{Module: "calc", Function: "Add", Arity: 1}

	dispatched := 0
	prepared, err := table.Prepare(sel, nil, func(p *Prepared, args []reflect.Value) []reflect.Value {
		dispatched++
		return p.CallOriginal(args)
	})
	if err != nil {
		t.Fatalf("unexpected prepare error: %v", err)
	}

	if got := routed(1); got != 2 {
		t.Errorf("expected fall-through dispatch to return 2, got %d", got)
	}

	if dispatched != 1 {
		t.Errorf("expected 1 dispatched call, got %d", dispatched)
	}

	prepared.Restore()

	if got := routed(1); got != 2 {
		t.Errorf("expected restored call to return 2, got %d", got)
	}

	if dispatched != 1 {
		t.Errorf("expected no dispatch after restore, got %d", dispatched)
	}
}

// TestPrepareUnknownTarget verifies preparing an unregistered selector
// reports ErrTargetNotFound.
func TestPrepareUnknownTarget(t *testing.T) {
	t.Parallel()

	table := NewFuncTable()

	_, err := table.Prepare(Selector{Module: "calc", Function: "Missing", Arity: 0}, nil, nil)
	if !errors.Is(err, ErrTargetNotFound) {
		t.Errorf("expected ErrTargetNotFound, got %v", err)
	}
}

// TestPrepareFilterVeto verifies the filter predicate can veto
// instrumentation.
func TestPrepareFilterVeto(t *testing.T) {
	t.Parallel()

	table := NewFuncTable()
	table.RegisterFunc("calc", "Add", func(x int) int { return x })

	sel := Selector{Module: "calc", Function: "Add", Arity: 1}

	_, err := table.Prepare(sel, func(Selector) bool { return false }, nil)
	if !errors.Is(err, ErrTargetNotFound) {
		t.Errorf("expected ErrTargetNotFound for filtered target, got %v", err)
	}
}

// TestSelectorsIn verifies module listing.
func TestSelectorsIn(t *testing.T) {
	t.Parallel()

	table := NewFuncTable()
	table.RegisterFunc("calc", "Add", func(x int) int { return x })
	table.RegisterFunc("calc", "Sub", func(x int) int { return x })
	table.RegisterFunc("text", "Upper", func(s string) string { return s })

	if got := len(table.SelectorsIn("calc")); got != 2 {
		t.Errorf("expected 2 calc selectors, got %d", got)
	}

	if got := len(table.SelectorsIn("nope")); got != 0 {
		t.Errorf("expected 0 selectors for unknown module, got %d", got)
	}
}

// TestVariadicTarget verifies variadic originals are invoked correctly
// through the slot and through dispatch.
func TestVariadicTarget(t *testing.T) {
	t.Parallel()

	table := NewFuncTable()

	routed := table.RegisterFunc("calc", "Sum", func(xs ...int) int {
		total := 0
		for _, x := range xs {
			total += x
		}

		return total
	}).(func(...int) int)

	if got := routed(1, 2, 3); got != 6 {
		t.Errorf("expected unprepared variadic call to return 6, got %d", got)
	}

	sel := Selector{Module: "calc", Function: "Sum", Arity: 1}
	if _, err := table.Prepare(sel, nil, func(p *Prepared, args []reflect.Value) []reflect.Value {
		return p.CallOriginal(args)
	}); err != nil {
		t.Fatalf("unexpected prepare error: %v", err)
	}

	if got := routed(4, 5); got != 9 {
		t.Errorf("expected dispatched variadic call to return 9, got %d", got)
	}
}
