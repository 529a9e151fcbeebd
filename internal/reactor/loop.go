// Package reactor implements the single-threaded event loop that drives a
// runtime: handles with ref/unref liveness accounting, a timer phase,
// prepare/idle/check phases around the poll point, cross-thread wakeup and
// a bounded worker pool for blocking operations.
//
// All callbacks run on the goroutine that called Run. Submit is the only
// entry point other goroutines may use; it enqueues a task and wakes the
// loop. The phase ordering within one iteration is: timers, idle, prepare,
// poll, queued tasks, check, close callbacks.
package reactor

import (
	"errors"
	"sync"
	"time"

	"github.com/wot-js/runtime/pkg/logger"
)

// Task is a unit of work executed on the loop goroutine.
type Task func()

// ErrLoopClosed is returned by Submit after Close.
var ErrLoopClosed = errors.New("reactor: loop closed")

// workPoolSize bounds the goroutines used for QueueWork, mirroring the
// small fixed thread pool of embedded reactors.
const workPoolSize = 4

// Loop is an event loop. Create with New, drive with Run, wake from other
// goroutines with Submit or an Async handle.
type Loop struct {
	mu      sync.Mutex
	tasks   []Task
	wake    chan struct{}
	timers  timerHeap
	seq     uint64
	handles map[*Handle]struct{}

	// activeRef counts handles that are active, referenced and not
	// closing; the loop stays alive while it is positive.
	activeRef    int
	pendingClose []*Handle

	prepares []*Prepare
	checks   []*Check
	idles    []*Idle

	// KeepAlive, when set, extends the run condition beyond handle
	// liveness. The runtime shell uses it to keep iterating while the
	// engine reports pending jobs.
	KeepAlive func() bool

	workSem chan struct{}

	stopped bool
	closed  bool

	log *logger.Logger
}

// New creates a loop.
func New(log *logger.Logger) *Loop {
	if log == nil {
		log = logger.NewDefault("reactor")
	}
	return &Loop{
		wake:    make(chan struct{}, 1),
		handles: make(map[*Handle]struct{}),
		workSem: make(chan struct{}, workPoolSize),
		log:     log,
	}
}

// Submit enqueues a task from any goroutine and wakes the loop.
func (l *Loop) Submit(task Task) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.tasks = append(l.tasks, task)
	l.mu.Unlock()
	l.wakeup()
	return nil
}

func (l *Loop) wakeup() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Stop requests the loop to return from Run after the current iteration.
// Safe to call from any goroutine.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.wakeup()
}

// Alive reports whether any active referenced handle, pending close
// callback or queued task remains.
func (l *Loop) Alive() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.activeRef > 0 || len(l.pendingClose) > 0 || len(l.tasks) > 0
}

// Run iterates the loop until nothing keeps it alive or Stop is called.
func (l *Loop) Run() {
	for {
		l.mu.Lock()
		stopped := l.stopped
		alive := l.activeRef > 0 || len(l.pendingClose) > 0 || len(l.tasks) > 0
		l.mu.Unlock()
		if stopped {
			return
		}
		if !alive && (l.KeepAlive == nil || !l.KeepAlive()) {
			return
		}
		l.RunOnce()
	}
}

// RunOnce performs a single loop iteration.
func (l *Loop) RunOnce() {
	l.runTimers()
	l.runIdles()
	l.runPrepares()
	l.poll()
	l.runTasks()
	l.runChecks()
	l.runCloseCallbacks()
}

func (l *Loop) poll() {
	timeout, block := l.pollTimeout()
	if !block && timeout <= 0 {
		// Non-blocking pass; consume a pending wakeup if present.
		select {
		case <-l.wake:
		default:
		}
		return
	}
	if block {
		<-l.wake
		return
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-l.wake:
	case <-t.C:
	}
}

// pollTimeout returns how long the poll phase may sleep. A zero timeout
// with block=false means the loop must not sleep (pending tasks or an
// active idle handle); block=true means sleep until woken.
func (l *Loop) pollTimeout() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || len(l.tasks) > 0 {
		return 0, false
	}
	for _, idle := range l.idles {
		if idle.h.active {
			return 0, false
		}
	}
	if next, ok := l.timers.next(); ok {
		d := time.Until(next)
		if d < 0 {
			d = 0
		}
		if d == 0 {
			return 0, false
		}
		return d, false
	}
	return 0, true
}

func (l *Loop) runTasks() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()
	for _, t := range tasks {
		l.safeRun(t)
	}
}

func (l *Loop) runTimers() {
	now := time.Now()
	for {
		l.mu.Lock()
		t := l.timers.popDue(now)
		l.mu.Unlock()
		if t == nil {
			return
		}
		t.fire(now)
	}
}

func (l *Loop) runPrepares() {
	for _, p := range l.snapshotPrepares() {
		if p.h.active && p.cb != nil {
			l.safeRun(p.cb)
		}
	}
}

func (l *Loop) runChecks() {
	for _, c := range l.snapshotChecks() {
		if c.h.active && c.cb != nil {
			l.safeRun(c.cb)
		}
	}
}

func (l *Loop) runIdles() {
	for _, i := range l.snapshotIdles() {
		if i.h.active && i.cb != nil {
			l.safeRun(i.cb)
		}
	}
}

func (l *Loop) snapshotPrepares() []*Prepare {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Prepare, len(l.prepares))
	copy(out, l.prepares)
	return out
}

func (l *Loop) snapshotChecks() []*Check {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Check, len(l.checks))
	copy(out, l.checks)
	return out
}

func (l *Loop) snapshotIdles() []*Idle {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Idle, len(l.idles))
	copy(out, l.idles)
	return out
}

func (l *Loop) runCloseCallbacks() {
	l.mu.Lock()
	closing := l.pendingClose
	l.pendingClose = nil
	l.mu.Unlock()
	for _, h := range closing {
		cb := h.closeCb
		h.closeCb = nil
		if cb != nil {
			l.safeRun(cb)
		}
		l.mu.Lock()
		delete(l.handles, h)
		l.mu.Unlock()
	}
}

func (l *Loop) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.WithField("panic", r).Error("reactor: callback panicked")
		}
	}()
	fn()
}

// QueueWork runs fn on the bounded worker pool and delivers its result to
// done on the loop goroutine. The in-flight request keeps the loop alive.
func (l *Loop) QueueWork(fn func() (interface{}, error), done func(interface{}, error)) {
	h := l.NewHandle()
	h.Start()
	go func() {
		l.workSem <- struct{}{}
		res, err := fn()
		<-l.workSem
		_ = l.Submit(func() {
			h.Stop()
			h.Close(nil)
			if done != nil {
				done(res, err)
			}
		})
	}()
}

// Close tears the loop down. Handles that were never closed are dropped
// ungracefully and logged; this mirrors the shutdown diagnostics of the
// reactor the design follows.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	remaining := 0
	for h := range l.handles {
		if !h.closing {
			remaining++
		}
	}
	l.handles = make(map[*Handle]struct{})
	l.activeRef = 0
	l.pendingClose = nil
	l.tasks = nil
	l.mu.Unlock()
	if remaining > 0 {
		l.log.WithField("handles", remaining).Warn("reactor: loop closed with open handles")
	}
}
