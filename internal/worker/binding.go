package worker

import (
	"github.com/dop251/goja"

	"github.com/wot-js/runtime/internal/core"
)

func init() {
	core.RegisterBinding(Bind)
}

// Bind installs the Worker constructor on the global scope.
func Bind(rt *core.Runtime) error {
	vm := rt.VM()
	return vm.GlobalObject().Set("Worker", func(call goja.ConstructorCall) *goja.Object {
		path := call.Argument(0)
		if path == nil || goja.IsUndefined(path) {
			panic(vm.NewTypeError("worker script path required"))
		}
		w, err := New(rt, path.String())
		if err != nil {
			panic(vm.NewTypeError("%v", err))
		}
		bindWorker(rt, call.This, w)
		return nil
	})
}

func bindWorker(rt *core.Runtime, obj *goja.Object, w *Worker) {
	vm := rt.VM()

	slots := map[string]goja.Value{}
	callSlot := func(name string, arg goja.Value) {
		cb, ok := slots[name]
		if !ok || cb == nil || goja.IsUndefined(cb) || goja.IsNull(cb) {
			return
		}
		if _, err := rt.Engine().Call(cb, obj, arg); err != nil {
			rt.DumpError(err)
		}
	}

	messageEvent := func(eventType string, data goja.Value) goja.Value {
		ev := vm.NewObject()
		_ = ev.Set("type", eventType)
		_ = ev.Set("data", data)
		return ev
	}

	w.SetHandlers(
		func(v goja.Value) { callSlot("onmessage", messageEvent("message", v)) },
		func(err error) { callSlot("onmessageerror", messageEvent("messageerror", vm.ToValue(err.Error()))) },
		func(uv *core.UVError) { callSlot("onerror", messageEvent("error", uv.JSValue(vm))) },
	)

	_ = obj.Set("id", w.ID())
	_ = obj.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		if err := w.PostMessage(call.Argument(0)); err != nil {
			panic(vm.NewTypeError("%v", err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("terminate", func(goja.FunctionCall) goja.Value {
		w.Terminate()
		return goja.Undefined()
	})

	for _, name := range []string{"onmessage", "onmessageerror", "onerror"} {
		name := name
		_ = obj.DefineAccessorProperty(name,
			vm.ToValue(func(goja.FunctionCall) goja.Value {
				if v, ok := slots[name]; ok {
					return v
				}
				return goja.Null()
			}),
			vm.ToValue(func(call goja.FunctionCall) goja.Value {
				slots[name] = call.Argument(0)
				return goja.Undefined()
			}),
			goja.FLAG_FALSE, goja.FLAG_TRUE)
	}
}
