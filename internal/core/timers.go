package core

import (
	"time"

	"github.com/dop251/goja"

	"github.com/wot-js/runtime/internal/reactor"
	"github.com/wot-js/runtime/pkg/metrics"
)

// jsTimer backs a setTimeout/setInterval handle. While armed it holds
// its own callback and argument references; the one-shot clear path
// releases them synchronously so the JS side cycle is broken without
// waiting for finalization.
type jsTimer struct {
	rt        *Runtime
	id        int64
	timer     *reactor.Timer
	callback  goja.Value
	args      []goja.Value
	repeating bool
	cleared   bool
}

func (rt *Runtime) installTimers() {
	vm := rt.engine.VM()
	global := vm.GlobalObject()
	_ = global.Set("setTimeout", func(call goja.FunctionCall) goja.Value {
		return rt.jsStartTimer(call, false)
	})
	_ = global.Set("setInterval", func(call goja.FunctionCall) goja.Value {
		return rt.jsStartTimer(call, true)
	})
	_ = global.Set("clearTimeout", rt.jsClearTimer)
	_ = global.Set("clearInterval", rt.jsClearTimer)
}

func (rt *Runtime) jsStartTimer(call goja.FunctionCall, repeating bool) goja.Value {
	vm := rt.engine.VM()
	if len(call.Arguments) == 0 {
		throwTypeError(vm, "callback required")
	}
	cb := call.Arguments[0]
	if _, ok := goja.AssertFunction(cb); !ok {
		throwTypeError(vm, "callback must be a function")
	}
	var delay time.Duration
	if len(call.Arguments) > 1 {
		delay = time.Duration(call.Arguments[1].ToInteger()) * time.Millisecond
	}
	if delay < 0 {
		delay = 0
	}
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	rt.nextTimerID++
	t := &jsTimer{
		rt:        rt,
		id:        rt.nextTimerID,
		timer:     rt.loop.NewTimer(),
		callback:  cb,
		args:      args,
		repeating: repeating,
	}
	rt.timers[t.id] = t
	metrics.TimersActive.Inc()

	repeat := time.Duration(0)
	if repeating {
		repeat = delay
	}
	t.timer.Start(t.fire, delay, repeat)

	obj := vm.NewObject()
	_ = obj.Set("id", t.id)
	_ = obj.Set("ref", func(goja.FunctionCall) goja.Value { t.timer.Ref(); return goja.Undefined() })
	_ = obj.Set("unref", func(goja.FunctionCall) goja.Value { t.timer.Unref(); return goja.Undefined() })
	_ = obj.Set("hasRef", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(t.timer.HasRef())
	})
	return obj
}

// fire runs on the loop goroutine in the timer phase. Engine microtasks
// queued by earlier callbacks have already run when the reactor reaches
// the timer phase, and host jobs are drained here explicitly, so the
// user callback starts with an empty microtask queue.
func (t *jsTimer) fire() {
	if t.cleared {
		return
	}
	t.rt.engine.DrainJobs(t.rt.DumpError)

	cb := t.callback
	args := t.args
	if !t.repeating {
		t.clear()
	}
	if cb == nil {
		return
	}
	if _, err := t.rt.engine.Call(cb, goja.Undefined(), args...); err != nil {
		t.rt.DumpError(err)
	}
}

func (t *jsTimer) clear() {
	if t.cleared {
		return
	}
	t.cleared = true
	t.callback = nil
	t.args = nil
	t.timer.Close(nil)
	delete(t.rt.timers, t.id)
	metrics.TimersActive.Dec()
}

func (rt *Runtime) jsClearTimer(call goja.FunctionCall) goja.Value {
	if len(call.Arguments) == 0 {
		return goja.Undefined()
	}
	arg := call.Arguments[0]
	obj, ok := arg.(*goja.Object)
	if !ok {
		return goja.Undefined()
	}
	idVal := obj.Get("id")
	if idVal == nil {
		return goja.Undefined()
	}
	if t, ok := rt.timers[idVal.ToInteger()]; ok {
		t.clear()
	}
	return goja.Undefined()
}
