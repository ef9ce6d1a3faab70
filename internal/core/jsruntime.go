package core

// JSRuntime abstracts the JavaScript engine (QuickJS, goja or V8) behind a
// common interface used by the host tasks in internal/tasks, the value
// bridge and the shared event loop in internal/eventloop.
//
// A JSRuntime owns exactly one isolate. It is not safe for concurrent use;
// every method must be called from the goroutine driving the session.
type JSRuntime interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// RunScript compiles and runs a complete script. The name is used as the
	// script origin in stack traces where the engine supports it.
	RunScript(name, source string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	EvalString(js string) (string, error)

	// EvalBool evaluates JavaScript and returns the result as a Go bool.
	EvalBool(js string) (bool, error)

	// EvalInt evaluates JavaScript and returns the result as a Go int.
	EvalInt(js string) (int, error)

	// RegisterFunc registers a Go function as a global JavaScript function.
	// The function's Go types are automatically marshaled to/from JS types.
	// On error return, the JS wrapper throws a TypeError instead of
	// returning an array.
	RegisterFunc(name string, fn any) error

	// SetGlobal sets a global variable on the JS context. Basic Go types
	// (string, int, float64, bool) are auto-converted to JS types.
	SetGlobal(name string, value any) error

	// RunMicrotasks pumps the microtask queue (Promise callbacks, etc.).
	// V8: PerformMicrotaskCheckpoint, QuickJS: ExecutePendingJob loop,
	// goja: no-op (jobs run when the outermost call returns).
	RunMicrotasks()

	// Interrupt asks the engine to abort the script currently executing.
	// It is the only method that may be called from another goroutine.
	Interrupt()

	// Close releases the isolate and all memory it owns. The runtime must
	// not be used afterwards.
	Close() error
}
