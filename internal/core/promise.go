package core

import "github.com/dop251/goja"

// PromiseHolder pairs an engine promise with its resolver functions.
// Init constructs the promise; Resolve and Reject settle it exactly once
// and drop the resolvers so a second settle is a no-op.
type PromiseHolder struct {
	promise *goja.Promise
	resolve func(interface{})
	reject  func(interface{})
}

// Init constructs a fresh promise and captures its resolver pair. Must
// run on the loop goroutine.
func (h *PromiseHolder) Init(vm *goja.Runtime) {
	h.promise, h.resolve, h.reject = vm.NewPromise()
}

// Value returns the promise as a JS value.
func (h *PromiseHolder) Value(vm *goja.Runtime) goja.Value {
	if h.promise == nil {
		return goja.Undefined()
	}
	return vm.ToValue(h.promise)
}

// Pending reports whether the holder still owns its resolvers.
func (h *PromiseHolder) Pending() bool {
	return h.resolve != nil
}

// Resolve settles the promise with value. Subsequent calls are no-ops.
func (h *PromiseHolder) Resolve(value interface{}) {
	if h.resolve == nil {
		return
	}
	resolve := h.resolve
	h.resolve = nil
	h.reject = nil
	resolve(value)
}

// Reject settles the promise with reason. Subsequent calls are no-ops.
func (h *PromiseHolder) Reject(reason interface{}) {
	if h.reject == nil {
		return
	}
	reject := h.reject
	h.resolve = nil
	h.reject = nil
	reject(reason)
}

// ResolvedPromise returns an already-resolved promise value, used by
// fast paths such as a fully-accepted synchronous write.
func ResolvedPromise(vm *goja.Runtime, value interface{}) goja.Value {
	p, resolve, _ := vm.NewPromise()
	resolve(value)
	return vm.ToValue(p)
}

// RejectedPromise returns an already-rejected promise value.
func RejectedPromise(vm *goja.Runtime, reason interface{}) goja.Value {
	p, _, reject := vm.NewPromise()
	reject(reason)
	return vm.ToValue(p)
}
