package core

import "github.com/dop251/goja"

// PromisifyWork runs fn on the reactor's worker pool and returns a
// promise settled on the loop goroutine. convert shapes the successful
// result; a nil convert resolves with the raw value. The in-flight
// request keeps the loop alive until it settles.
func (rt *Runtime) PromisifyWork(fn func() (interface{}, error), convert func(*goja.Runtime, interface{}) goja.Value) goja.Value {
	vm := rt.VM()
	ph := &PromiseHolder{}
	ph.Init(vm)
	rt.loop.QueueWork(fn, func(res interface{}, err error) {
		if err != nil {
			ph.Reject(rt.ErrorValue(wrapWorkError(err)))
			return
		}
		if convert != nil {
			ph.Resolve(convert(vm, res))
			return
		}
		ph.Resolve(vm.ToValue(res))
	})
	return ph.Value(vm)
}

func wrapWorkError(err error) error {
	if _, ok := err.(*UVError); ok {
		return err
	}
	return WrapError(err, "", "")
}
