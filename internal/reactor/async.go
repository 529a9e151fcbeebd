package reactor

import "sync/atomic"

// Async wakes the loop from any goroutine and runs its callback on the
// loop goroutine. Multiple Sends before the callback runs coalesce into
// one invocation.
type Async struct {
	h       *Handle
	loop    *Loop
	cb      func()
	pending atomic.Bool
}

// NewAsync creates an async handle. Async handles are active from
// creation so a pending Send keeps the loop alive unless unreferenced.
func (l *Loop) NewAsync(cb func()) *Async {
	a := &Async{h: l.NewHandle(), loop: l, cb: cb}
	a.h.Start()
	return a
}

// Send schedules the callback. Safe from any goroutine.
func (a *Async) Send() {
	if a.pending.Swap(true) {
		return
	}
	_ = a.loop.Submit(func() {
		a.pending.Store(false)
		if a.cb != nil && !a.h.Closing() {
			a.cb()
		}
	})
}

// Ref, Unref and HasRef delegate to the underlying handle.
func (a *Async) Ref()         { a.h.Ref() }
func (a *Async) Unref()       { a.h.Unref() }
func (a *Async) HasRef() bool { return a.h.HasRef() }

// Close releases the handle.
func (a *Async) Close(cb func()) { a.h.Close(cb) }
