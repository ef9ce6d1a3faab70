package gojaengine

import (
	"fmt"
	"reflect"

	"github.com/cryguy/lambdajs/internal/core"
	"github.com/dop251/goja"
)

// maxCallStackSize bounds recursion depth. goja allocates on the Go heap and
// has no per-VM memory limit, so this is the only resource guard besides
// Interrupt.
const maxCallStackSize = 1024

// gojaRuntime implements core.JSRuntime for the pure-Go goja engine.
type gojaRuntime struct {
	vm *goja.Runtime
}

var _ core.JSRuntime = (*gojaRuntime)(nil)

func newRuntime(_ core.EngineConfig) *gojaRuntime {
	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStackSize)
	return &gojaRuntime{vm: vm}
}

// Eval evaluates JavaScript and discards the result.
func (r *gojaRuntime) Eval(js string) error {
	_, err := r.vm.RunString(js)
	return err
}

// RunScript compiles and runs source with name as its origin.
func (r *gojaRuntime) RunScript(name, source string) error {
	_, err := r.vm.RunScript(name, source)
	return err
}

// EvalString evaluates JavaScript and returns the result as a Go string.
// null and undefined yield "".
func (r *gojaRuntime) EvalString(js string) (string, error) {
	v, err := r.vm.RunString(js)
	if err != nil {
		return "", err
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", nil
	}
	return v.String(), nil
}

// EvalBool evaluates JavaScript and returns the result as a Go bool.
func (r *gojaRuntime) EvalBool(js string) (bool, error) {
	v, err := r.vm.RunString(js)
	if err != nil {
		return false, err
	}
	b, ok := v.Export().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v.Export())
	}
	return b, nil
}

// EvalInt evaluates JavaScript and returns the result as a Go int.
func (r *gojaRuntime) EvalInt(js string) (int, error) {
	v, err := r.vm.RunString(js)
	if err != nil {
		return 0, err
	}
	switch n := v.Export().(type) {
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected int, got %T", n)
	}
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// RegisterFunc registers a Go function as a global JavaScript function.
// Arguments are exported into the Go parameter types; a non-nil trailing
// error return throws a TypeError, matching the other engines.
func (r *gojaRuntime) RegisterFunc(name string, fn any) error {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()
	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("RegisterFunc: expected func, got %T", fn)
	}

	wrapper := func(call goja.FunctionCall) goja.Value {
		args := make([]reflect.Value, fnType.NumIn())
		for i := range args {
			ptr := reflect.New(fnType.In(i))
			if i < len(call.Arguments) {
				if err := r.vm.ExportTo(call.Arguments[i], ptr.Interface()); err != nil {
					panic(r.vm.NewTypeError("calling %s: argument %d: %v", name, i, err))
				}
			}
			args[i] = ptr.Elem()
		}

		out := fnVal.Call(args)
		if n := len(out); n > 0 && fnType.Out(n-1) == errorType {
			if !out[n-1].IsNil() {
				panic(r.vm.NewTypeError("calling %s: %v", name, out[n-1].Interface()))
			}
			out = out[:n-1]
		}
		if len(out) == 0 {
			return goja.Undefined()
		}
		return r.vm.ToValue(out[0].Interface())
	}
	return r.vm.Set(name, wrapper)
}

// SetGlobal sets a global variable on the VM.
func (r *gojaRuntime) SetGlobal(name string, value any) error {
	return r.vm.Set(name, value)
}

// RunMicrotasks is a no-op: goja runs its job queue when the outermost
// RunString or RunScript returns, so every Eval already ends quiescent.
func (r *gojaRuntime) RunMicrotasks() {}

// Interrupt aborts the running script with an *goja.InterruptedError.
func (r *gojaRuntime) Interrupt() {
	r.vm.Interrupt("execution interrupted")
}

// Close drops the VM. goja memory is reclaimed by the Go garbage collector.
func (r *gojaRuntime) Close() error {
	r.vm.ClearInterrupt()
	r.vm = nil
	return nil
}
