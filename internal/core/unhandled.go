package core

import (
	"github.com/dop251/goja"
)

// rejectionTracker intercepts promise rejections with no handler. The
// check phase calls process after each job drain; rejections that gained
// a handler in the meantime have already been removed by the engine
// hook.
type rejectionTracker struct {
	rt      *Runtime
	pending map[*goja.Promise]goja.Value
}

func newRejectionTracker(rt *Runtime) *rejectionTracker {
	return &rejectionTracker{rt: rt, pending: make(map[*goja.Promise]goja.Value)}
}

func (t *rejectionTracker) install() {
	t.rt.engine.VM().SetPromiseRejectionTracker(func(p *goja.Promise, op goja.PromiseRejectionOperation) {
		switch op {
		case goja.PromiseRejectionReject:
			t.pending[p] = p.Result()
		case goja.PromiseRejectionHandle:
			delete(t.pending, p)
		}
	})
}

func (t *rejectionTracker) hasPending() bool {
	return len(t.pending) > 0
}

// process dispatches a PromiseRejectionEvent per pending rejection. An
// uncancelled event is logged; under the reject policy the process
// aborts after logging.
func (t *rejectionTracker) process() {
	if len(t.pending) == 0 {
		return
	}
	vm := t.rt.engine.VM()
	for p, reason := range t.pending {
		delete(t.pending, p)

		cancelled := false
		dispatch := vm.GlobalObject().Get("__dispatchPromiseRejection")
		if dispatch != nil && !goja.IsUndefined(dispatch) {
			res, err := t.rt.engine.Call(dispatch, goja.Undefined(), vm.ToValue(p), reasonValue(reason))
			if err != nil {
				t.rt.DumpError(err)
			} else {
				cancelled = res.ToBoolean()
			}
		}
		if cancelled {
			continue
		}
		entry := t.rt.log.WithField("reason", reasonString(reason))
		if t.rt.opts.UnhandledRejection == UnhandledRejectionReject {
			// Fatal logs and aborts the process.
			entry.Fatal("unhandled promise rejection")
		} else {
			entry.Error("unhandled promise rejection")
		}
	}
}

func reasonValue(reason goja.Value) goja.Value {
	if reason == nil {
		return goja.Undefined()
	}
	return reason
}

func reasonString(reason goja.Value) string {
	if reason == nil {
		return "undefined"
	}
	return reason.String()
}
