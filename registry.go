package patchwork

import "sync"

// ContextFor returns the execution context bound to the given test, creating
// one if needed. Multiple calls with the same TestReporter return the same
// context. This lets every helper in a test resolve the same local and shared
// overrides.
//
// If the TestReporter supports Cleanup (like *testing.T), the context's
// overrides, delegations, and history are torn down automatically when the
// test completes.
func ContextFor(t TestReporter) *ExecContext {
	bindingsMu.Lock()
	defer bindingsMu.Unlock()

	if ec, ok := bindings[t]; ok {
		return ec
	}

	ec := Default().NewContext()
	bindings[t] = ec

	// Register cleanup if the TestReporter supports it
	if cr, ok := t.(cleanupRegistrar); ok {
		cr.Cleanup(func() {
			bindingsMu.Lock()
			delete(bindings, t)
			bindingsMu.Unlock()

			Default().Cleanup(ec)
		})
	}

	return ec
}

// SpawnFor creates a child context of the test's bound context, for
// concurrently spawned helpers that should inherit the test's shared
// overrides through the parent chain.
func SpawnFor(t TestReporter) *ExecContext {
	return Default().Spawn(ContextFor(t))
}

// TestReporter is the minimal interface patchwork needs from test frameworks.
type TestReporter interface {
	Helper()
	Fatalf(format string, args ...any)
}

// unexported variables.
var (
	//nolint:gochecknoglobals // Package-level binding map is intentional for test coordination
	bindings = make(map[TestReporter]*ExecContext)
	//nolint:gochecknoglobals // Mutex for bindings
	bindingsMu sync.Mutex
)

// cleanupRegistrar is the interface needed for registering cleanup functions.
// This is satisfied by *testing.T and *testing.B.
type cleanupRegistrar interface {
	Cleanup(cleanupFunc func())
}
