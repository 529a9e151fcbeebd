package reactor

import (
	"container/heap"
	"time"
)

// Timer fires a callback after a timeout, optionally repeating. Timers
// run in the timer phase, before queued tasks and the check phase.
type Timer struct {
	h      *Handle
	loop   *Loop
	cb     func()
	due    time.Time
	repeat time.Duration
	seq    uint64
	idx    int // heap index, -1 when not queued
}

// NewTimer creates a stopped timer.
func (l *Loop) NewTimer() *Timer {
	return &Timer{h: l.NewHandle(), loop: l, idx: -1}
}

// Start arms the timer. A zero repeat makes it one-shot. Restarting an
// armed timer reschedules it.
func (t *Timer) Start(cb func(), timeout, repeat time.Duration) {
	l := t.loop
	l.mu.Lock()
	if t.idx >= 0 {
		heap.Remove(&l.timers, t.idx)
	}
	t.cb = cb
	t.repeat = repeat
	t.due = time.Now().Add(timeout)
	l.seq++
	t.seq = l.seq
	heap.Push(&l.timers, t)
	l.mu.Unlock()
	t.h.Start()
}

// Stop disarms the timer.
func (t *Timer) Stop() {
	l := t.loop
	l.mu.Lock()
	if t.idx >= 0 {
		heap.Remove(&l.timers, t.idx)
	}
	l.mu.Unlock()
	t.h.Stop()
}

// Ref, Unref and HasRef delegate to the underlying handle.
func (t *Timer) Ref()         { t.h.Ref() }
func (t *Timer) Unref()       { t.h.Unref() }
func (t *Timer) HasRef() bool { return t.h.HasRef() }

// Close releases the timer.
func (t *Timer) Close(cb func()) {
	t.Stop()
	t.h.Close(cb)
}

func (t *Timer) fire(now time.Time) {
	if t.repeat > 0 {
		l := t.loop
		l.mu.Lock()
		t.due = now.Add(t.repeat)
		l.seq++
		t.seq = l.seq
		heap.Push(&l.timers, t)
		l.mu.Unlock()
	} else {
		t.h.Stop()
	}
	if t.cb != nil {
		t.loop.safeRun(t.cb)
	}
}

// timerHeap orders timers by due time, insertion order breaking ties.
type timerHeap []*Timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].idx = i
	h[j].idx = j
}

func (h *timerHeap) Push(x interface{}) {
	t := x.(*Timer)
	t.idx = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.idx = -1
	*h = old[:n-1]
	return t
}

// next returns the earliest due time, if any. Caller holds the loop lock.
func (h timerHeap) next() (time.Time, bool) {
	if len(h) == 0 {
		return time.Time{}, false
	}
	return h[0].due, true
}

// popDue removes and returns the earliest timer due at or before now.
// Caller holds the loop lock.
func (h *timerHeap) popDue(now time.Time) *Timer {
	if len(*h) == 0 || (*h)[0].due.After(now) {
		return nil
	}
	return heap.Pop(h).(*Timer)
}
