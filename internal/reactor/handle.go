package reactor

// Handle is the liveness bookkeeping unit of the loop. Embedders mark it
// active while an operation is outstanding; the loop keeps running while
// any active referenced handle exists. Close is one-shot and delivers its
// callback from the loop's close phase.
type Handle struct {
	loop    *Loop
	refed   bool
	active  bool
	closing bool
	closeCb func()
}

// NewHandle registers a new referenced, inactive handle.
func (l *Loop) NewHandle() *Handle {
	h := &Handle{loop: l, refed: true}
	l.mu.Lock()
	l.handles[h] = struct{}{}
	l.mu.Unlock()
	return h
}

// Ref marks the handle as keeping the loop alive while active.
func (h *Handle) Ref() {
	h.loop.mu.Lock()
	if !h.refed {
		h.refed = true
		if h.active && !h.closing {
			h.loop.activeRef++
		}
	}
	h.loop.mu.Unlock()
}

// Unref detaches the handle from the loop's liveness accounting.
func (h *Handle) Unref() {
	h.loop.mu.Lock()
	if h.refed {
		h.refed = false
		if h.active && !h.closing {
			h.loop.activeRef--
		}
	}
	h.loop.mu.Unlock()
}

// HasRef reports whether the handle is referenced.
func (h *Handle) HasRef() bool {
	h.loop.mu.Lock()
	defer h.loop.mu.Unlock()
	return h.refed
}

// Start marks the handle active.
func (h *Handle) Start() {
	h.loop.mu.Lock()
	if !h.active && !h.closing {
		h.active = true
		if h.refed {
			h.loop.activeRef++
		}
	}
	h.loop.mu.Unlock()
	h.loop.wakeup()
}

// Stop marks the handle inactive.
func (h *Handle) Stop() {
	h.loop.mu.Lock()
	if h.active && !h.closing {
		h.active = false
		if h.refed {
			h.loop.activeRef--
		}
	}
	h.loop.mu.Unlock()
}

// Active reports whether the handle is active.
func (h *Handle) Active() bool {
	h.loop.mu.Lock()
	defer h.loop.mu.Unlock()
	return h.active
}

// Closing reports whether Close has been called.
func (h *Handle) Closing() bool {
	h.loop.mu.Lock()
	defer h.loop.mu.Unlock()
	return h.closing
}

// Close stops the handle and schedules cb to run in the loop's close
// phase. Double close is a no-op.
func (h *Handle) Close(cb func()) {
	h.loop.mu.Lock()
	if h.closing {
		h.loop.mu.Unlock()
		return
	}
	if h.active && h.refed {
		h.loop.activeRef--
	}
	h.active = false
	h.closing = true
	h.closeCb = cb
	h.loop.pendingClose = append(h.loop.pendingClose, h)
	h.loop.mu.Unlock()
	h.loop.wakeup()
}
