package core

import (
	"context"

	"github.com/google/uuid"
)

// ExecContext is an independent execution unit: a test, or a concurrently
// spawned helper. Each carries its own local overrides and history. Contexts
// form a spawn chain through the parent pointer, which the resolver walks for
// shared-tier inheritance.
type ExecContext struct {
	id     string
	parent *ExecContext
}

// ID returns the context's unique identifier.
func (ec *ExecContext) ID() string {
	return ec.id
}

// Parent returns the context that spawned this one, or nil for a root
// context.
func (ec *ExecContext) Parent() *ExecContext {
	return ec.parent
}

// newExecContext builds a context with a fresh ID under the given parent.
func newExecContext(parent *ExecContext) *ExecContext {
	return &ExecContext{id: uuid.NewString(), parent: parent}
}

// ctxKey is the context.Context key type for patchwork values.
type ctxKey int

const (
	execContextKey ctxKey = iota
	bypassKey
)

// Attach returns a context.Context carrying the execution context. Code under
// test threads the returned context through its call path so intercepted
// calls can resolve the caller's overrides.
func Attach(ctx context.Context, ec *ExecContext) context.Context {
	return context.WithValue(ctx, execContextKey, ec)
}

// From extracts the execution context attached to ctx, or nil if none is
// attached. Calls with no attached execution context resolve only the global
// tier.
func From(ctx context.Context) *ExecContext {
	ec, _ := ctx.Value(execContextKey).(*ExecContext)
	return ec
}

// WithBypass derives a context whose remaining call stack resolves every
// intercepted call straight to the original implementation, skipping all
// override tiers.
func WithBypass(ctx context.Context) context.Context {
	return context.WithValue(ctx, bypassKey, true)
}

// Bypassed reports whether ctx requests original-only resolution.
func Bypassed(ctx context.Context) bool {
	bypassed, _ := ctx.Value(bypassKey).(bool)
	return bypassed
}
