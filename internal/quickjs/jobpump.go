package quickjs

import (
	"errors"
	"fmt"
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

var errJobPumpUnavailable = errors.New("quickjs: cannot reach runtime internals to run pending jobs")

// jobPump runs the QuickJS job queue. The Go wrapper never calls
// JS_ExecutePendingJob, so promise reactions only run through this.
type jobPump struct {
	cRuntime uintptr
	tls      *libc.TLS
}

// newJobPump reads the C runtime handle and TLS out of vm once. The layout
// it relies on (modernc.org/quickjs v0.17.x):
//
//	VM{ cContext uintptr; ...; runtime *runtime; ... }
//	runtime{ cRuntime uintptr; tls *libc.TLS }
func newJobPump(vm *quickjs.VM) (p jobPump, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", errJobPumpUnavailable, r)
		}
	}()

	rtField, ok := reflect.TypeOf(vm).Elem().FieldByName("runtime")
	if !ok {
		return jobPump{}, fmt.Errorf("%w: VM has no runtime field", errJobPumpUnavailable)
	}
	vmPtr := uintptr(unsafe.Pointer(vm))
	rtPtr := *(*uintptr)(unsafe.Pointer(vmPtr + rtField.Offset))
	if rtPtr == 0 {
		return jobPump{}, fmt.Errorf("%w: runtime pointer is nil", errJobPumpUnavailable)
	}

	p.cRuntime = *(*uintptr)(unsafe.Pointer(rtPtr))
	p.tls = *(**libc.TLS)(unsafe.Pointer(rtPtr + unsafe.Sizeof(uintptr(0))))
	if p.cRuntime == 0 || p.tls == nil {
		return jobPump{}, fmt.Errorf("%w: runtime handle is nil", errJobPumpUnavailable)
	}
	return p, nil
}

// run executes pending jobs until the queue is empty or a job fails, and
// returns how many ran.
func (p jobPump) run() int {
	n := 0
	for lib.XJS_ExecutePendingJob(p.tls, p.cRuntime, 0) > 0 {
		n++
	}
	return n
}
