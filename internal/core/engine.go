package core

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"

	"github.com/wot-js/runtime/pkg/logger"
)

// Engine wraps the JS engine instance: the VM itself, the host-side
// pending-job queue drained by the check phase, and cached constructors.
// All methods except EnqueueJob must run on the loop goroutine.
type Engine struct {
	vm *goja.Runtime

	mu   sync.Mutex
	jobs []func() error

	uint8ArrayCtor goja.Value

	log *logger.Logger
}

// NewEngine allocates the engine. Allocation failure is fatal to the
// caller; there is no degraded mode.
func NewEngine(opts Options, log *logger.Logger) (*Engine, error) {
	vm := goja.New()
	if vm == nil {
		return nil, fmt.Errorf("engine allocation failed")
	}
	if opts.StackSize > 0 {
		// The engine bounds recursion by frame count; approximate the
		// byte-sized option with a conservative frame estimate.
		vm.SetMaxCallStackSize(int(opts.StackSize / 1024))
	}

	e := &Engine{vm: vm, log: log}
	u8 := vm.GlobalObject().Get("Uint8Array")
	if u8 == nil {
		return nil, fmt.Errorf("engine missing Uint8Array constructor")
	}
	e.uint8ArrayCtor = u8
	return e, nil
}

// VM exposes the underlying engine.
func (e *Engine) VM() *goja.Runtime { return e.vm }

// EnqueueJob queues a job for the next check-phase drain. Safe from any
// goroutine; the job itself runs on the loop goroutine.
func (e *Engine) EnqueueJob(job func() error) {
	e.mu.Lock()
	e.jobs = append(e.jobs, job)
	e.mu.Unlock()
}

// HasPendingJobs reports whether queued jobs remain.
func (e *Engine) HasPendingJobs() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.jobs) > 0
}

// DrainJobs runs queued jobs to exhaustion. A job that fails is surfaced
// through onError and the drain continues.
func (e *Engine) DrainJobs(onError func(error)) {
	for {
		e.mu.Lock()
		if len(e.jobs) == 0 {
			e.mu.Unlock()
			return
		}
		job := e.jobs[0]
		e.jobs = e.jobs[1:]
		e.mu.Unlock()
		if err := e.safeJob(job); err != nil && onError != nil {
			onError(err)
		}
	}
}

func (e *Engine) safeJob(job func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = e.RecoveredError(r)
		}
	}()
	return job()
}

// RecoveredError converts a recovered panic from engine code into an
// error, preserving thrown JS exceptions.
func (e *Engine) RecoveredError(r interface{}) error {
	switch v := r.(type) {
	case *goja.Exception:
		return v
	case *goja.InterruptedError:
		return v
	case error:
		return v
	default:
		return fmt.Errorf("engine panic: %v", v)
	}
}

// Call invokes a JS function value, converting thrown exceptions to
// errors instead of propagating panics into reactor callbacks.
func (e *Engine) Call(fn goja.Value, this goja.Value, args ...goja.Value) (goja.Value, error) {
	callable, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, fmt.Errorf("value is not callable")
	}
	return callable(this, args...)
}

// NewUint8Array builds a typed array owning a copy of b, using the
// constructor cached at engine creation.
func (e *Engine) NewUint8Array(b []byte) goja.Value {
	buf := make([]byte, len(b))
	copy(buf, b)
	ab := e.vm.NewArrayBuffer(buf)
	arr, err := e.vm.New(e.uint8ArrayCtor, e.vm.ToValue(ab))
	if err != nil {
		panic(e.vm.NewTypeError("Uint8Array construction failed: %v", err))
	}
	return arr
}

// Interrupt aborts running JS from any goroutine.
func (e *Engine) Interrupt(reason interface{}) { e.vm.Interrupt(reason) }

// ClearInterrupt re-arms the engine after an interrupt.
func (e *Engine) ClearInterrupt() { e.vm.ClearInterrupt() }
