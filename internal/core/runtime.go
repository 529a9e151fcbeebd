// Package core implements the runtime shell: one JS engine plus one
// reactor loop per OS thread, wired together so engine microtasks and
// host-queued jobs interleave correctly with I/O completions. It also
// carries the module loader, the timer surface and the promise and
// buffer adapters shared by every binding.
package core

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/buffer"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"
	"github.com/dop251/goja_nodejs/url"

	"github.com/wot-js/runtime/internal/bundle"
	"github.com/wot-js/runtime/internal/reactor"
	"github.com/wot-js/runtime/pkg/logger"
	"github.com/wot-js/runtime/pkg/metrics"
)

// Unhandled rejection policies.
const (
	UnhandledRejectionLog    = "log"
	UnhandledRejectionReject = "reject"
)

// Options configure a runtime at construction.
type Options struct {
	UnhandledRejection string
	StackSize          int64
	MemoryLimit        int64
	ExitCode           int
	DumpMemory         bool
	TraceMemory        bool

	// IsWorker marks worker-thread runtimes; they skip trailer loading.
	IsWorker bool

	Registry *bundle.Registry
	Log      *logger.Logger
}

// DefaultStackSize mirrors the engine's ~1 MiB default.
const DefaultStackSize = 1 << 20

// Binding installs a JS surface (stream constructors, worker
// constructor, native modules) into a new runtime. Packages register
// bindings from init so every runtime, worker runtimes included, gets
// the full surface.
type Binding func(*Runtime) error

var (
	bindingsMu sync.Mutex
	bindings   []Binding
)

// RegisterBinding adds a binding applied to every runtime created after
// the call.
func RegisterBinding(b Binding) {
	bindingsMu.Lock()
	bindings = append(bindings, b)
	bindingsMu.Unlock()
}

// vmIndex maps engine instances back to their runtimes; the worker-side
// lookup of "the current runtime" goes through here.
var vmIndex sync.Map // *goja.Runtime -> *Runtime

// Runtime owns one engine and one reactor loop.
type Runtime struct {
	opts Options
	log  *logger.Logger

	engine *Engine
	loop   *reactor.Loop

	prepare   *reactor.Prepare
	idle      *reactor.Idle
	check     *reactor.Check
	stopAsync *reactor.Async

	registry *bundle.Registry
	requires *require.Registry
	modules  map[string]*moduleRecord

	rejections *rejectionTracker
	timers     map[int64]*jsTimer

	bootstrapping bool
	exitCode      int
	nextTimerID   int64
	nextHandleID  uint64
	freed         bool
}

// New creates a runtime, installs the global surface and applies all
// registered bindings. The caller's goroutine becomes the loop thread;
// exactly one runtime may run per OS thread.
func New(opts Options) (*Runtime, error) {
	if opts.Log == nil {
		opts.Log = logger.NewDefault("runtime")
	}
	if opts.Registry == nil {
		opts.Registry = bundle.Default
	}
	if opts.StackSize == 0 {
		opts.StackSize = DefaultStackSize
	}
	if opts.UnhandledRejection == "" {
		opts.UnhandledRejection = UnhandledRejectionLog
	}

	registerBuiltins()

	engine, err := NewEngine(opts, opts.Log)
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}

	rt := &Runtime{
		opts:     opts,
		log:      opts.Log,
		engine:   engine,
		loop:     reactor.New(opts.Log),
		registry: opts.Registry,
		modules:  make(map[string]*moduleRecord),
		timers:   make(map[int64]*jsTimer),
		exitCode: opts.ExitCode,
	}

	rt.prepare = rt.loop.NewPrepare()
	rt.idle = rt.loop.NewIdle()
	rt.check = rt.loop.NewCheck()
	rt.stopAsync = rt.loop.NewAsync(rt.loop.Stop)

	// None of the coordination handles keep the loop alive by
	// themselves.
	rt.prepare.Unref()
	rt.idle.Unref()
	rt.check.Unref()
	rt.stopAsync.Unref()

	// Prepare: ensure pending work forces a non-blocking poll so the
	// next iteration runs it.
	rt.prepare.Start(func() {
		if rt.pendingEngineWork() {
			rt.idle.Start(nil)
		} else {
			rt.idle.Stop()
		}
	})

	// Check: drain the job queue to exhaustion, then surface any
	// still-unhandled promise rejections.
	rt.check.Start(func() {
		rt.engine.DrainJobs(rt.DumpError)
		rt.rejections.process()
	})

	rt.loop.KeepAlive = rt.pendingEngineWork

	vmIndex.Store(engine.VM(), rt)

	if err := rt.installGlobals(); err != nil {
		rt.Free()
		return nil, err
	}

	if !opts.IsWorker {
		bundle.LoadTrailerOnce(rt.registry, rt.log)
	}

	rt.bootstrapping = true
	if err := rt.runBootstrapModules(); err != nil {
		rt.Free()
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	bindingsMu.Lock()
	bound := make([]Binding, len(bindings))
	copy(bound, bindings)
	bindingsMu.Unlock()
	for _, b := range bound {
		if err := b(rt); err != nil {
			rt.Free()
			return nil, fmt.Errorf("binding: %w", err)
		}
	}
	rt.bootstrapping = false

	metrics.RuntimesStarted.Inc()
	return rt, nil
}

// pendingEngineWork reports whether the engine still owes the loop an
// iteration: queued jobs or unprocessed promise rejections.
func (rt *Runtime) pendingEngineWork() bool {
	if rt.engine.HasPendingJobs() {
		return true
	}
	return rt.rejections != nil && rt.rejections.hasPending()
}

// FromVM finds the runtime owning an engine instance. Worker threads use
// this as the thread-local runtime lookup.
func FromVM(vm *goja.Runtime) *Runtime {
	if rt, ok := vmIndex.Load(vm); ok {
		return rt.(*Runtime)
	}
	return nil
}

func (rt *Runtime) installGlobals() error {
	vm := rt.engine.VM()

	rt.requires = require.NewRegistry()
	rt.requires.Enable(vm)
	console.Enable(vm)
	url.Enable(vm)
	buffer.Enable(vm)

	rt.rejections = newRejectionTracker(rt)
	rt.rejections.install()

	rt.installTimers()

	global := vm.GlobalObject()
	if err := global.Set("import", rt.jsDynamicImport); err != nil {
		return err
	}
	return nil
}

// RequireRegistry exposes the native-module require registry so bindings
// can register loaders.
func (rt *Runtime) RequireRegistry() *require.Registry { return rt.requires }

// Engine returns the engine adapter.
func (rt *Runtime) Engine() *Engine { return rt.engine }

// VM returns the engine instance.
func (rt *Runtime) VM() *goja.Runtime { return rt.engine.VM() }

// Loop returns the reactor loop.
func (rt *Runtime) Loop() *reactor.Loop { return rt.loop }

// Logger returns the runtime logger.
func (rt *Runtime) Logger() *logger.Logger { return rt.log }

// Registry returns the module registry view.
func (rt *Runtime) Registry() *bundle.Registry { return rt.registry }

// Options returns the construction options.
func (rt *Runtime) Options() Options { return rt.opts }

// Bootstrapping reports whether constructor-injected modules may load.
func (rt *Runtime) Bootstrapping() bool { return rt.bootstrapping }

// SetBootstrapping toggles bootstrap mode; the worker spawn path uses it
// around worker-bootstrap evaluation.
func (rt *Runtime) SetBootstrapping(v bool) { rt.bootstrapping = v }

// NextHandleID hands out monotonically increasing stream ids.
func (rt *Runtime) NextHandleID() uint64 {
	return atomic.AddUint64(&rt.nextHandleID, 1)
}

// SetExitCode records the code Run returns.
func (rt *Runtime) SetExitCode(code int) { rt.exitCode = code }

// ExitCode returns the current exit code.
func (rt *Runtime) ExitCode() int { return rt.exitCode }

// Run drives the reactor until no active referenced handles and no
// pending jobs remain, then returns the exit code.
func (rt *Runtime) Run() int {
	rt.loop.Run()
	return rt.exitCode
}

// Stop wakes the loop from any thread and stops it.
func (rt *Runtime) Stop() { rt.stopAsync.Send() }

// Free closes the coordination handles and releases the engine mapping.
// Unclosed user handles are logged, not fatal.
func (rt *Runtime) Free() {
	if rt.freed {
		return
	}
	rt.freed = true
	rt.prepare.Close(nil)
	rt.idle.Close(nil)
	rt.check.Close(nil)
	rt.stopAsync.Close(nil)
	rt.loop.Close()
	vmIndex.Delete(rt.engine.VM())
	metrics.RuntimesStopped.Inc()
}

// DumpError is the error dumper: engine exceptions raised inside reactor
// callbacks land here and are logged without crashing the process.
func (rt *Runtime) DumpError(err error) {
	if err == nil {
		return
	}
	if ex, ok := err.(*goja.Exception); ok {
		rt.log.WithField("stack", ex.String()).Error("uncaught exception")
		return
	}
	rt.log.WithField("error", err.Error()).Error("uncaught error")
}

// DispatchGlobalEvent fires an event on the global scope through the
// bootstrap-installed event target. Returns true when preventDefault was
// called.
func (rt *Runtime) DispatchGlobalEvent(eventType string, props map[string]interface{}) bool {
	vm := rt.engine.VM()
	dispatch := vm.GlobalObject().Get("__dispatchGlobalEvent")
	if dispatch == nil || goja.IsUndefined(dispatch) {
		return false
	}
	res, err := rt.engine.Call(dispatch, goja.Undefined(), vm.ToValue(eventType), vm.ToValue(props))
	if err != nil {
		rt.DumpError(err)
		return false
	}
	return res.ToBoolean()
}
