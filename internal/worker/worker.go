// Package worker implements sharded concurrency: each worker owns an
// independent runtime on its own OS thread, connected to the parent by
// a duplex byte channel carrying structured-serialized values.
package worker

import (
	"fmt"
	"net"
	"runtime"
	"sync"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/wot-js/runtime/internal/core"
	"github.com/wot-js/runtime/pkg/metrics"
)

// Worker is the main-side view of a worker thread. The child runtime
// pointer is valid only on this side; the worker thread observes its
// own runtime through the engine lookup.
type Worker struct {
	rt         *core.Runtime
	id         string
	scriptPath string

	port *channelPort

	mu      sync.Mutex
	childRT *core.Runtime
	done    chan struct{}

	terminated bool
}

// New spawns a worker thread evaluating scriptPath as a module and
// returns once the thread reports readiness.
func New(rt *core.Runtime, scriptPath string) (*Worker, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("worker script path required")
	}

	parentConn, childConn := net.Pipe()

	w := &Worker{
		rt:         rt,
		id:         uuid.NewString(),
		scriptPath: scriptPath,
		done:       make(chan struct{}),
	}
	w.port = newChannelPort(rt, parentConn)
	w.port.start()

	ready := make(chan error, 1)
	go w.threadMain(childConn, ready)
	if err := <-ready; err != nil {
		w.port.close()
		return nil, err
	}
	metrics.WorkersActive.Inc()
	return w, nil
}

// threadMain is the worker thread body: fresh runtime, bootstrap,
// channel port, worker-bootstrap module, then the requested script as
// an enqueued job, then the loop.
func (w *Worker) threadMain(conn net.Conn, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)

	crt, err := core.New(core.Options{
		IsWorker: true,
		Registry: w.rt.Registry(),
		Log:      w.rt.Logger(),
	})
	if err != nil {
		ready <- fmt.Errorf("create worker runtime: %w", err)
		_ = conn.Close()
		return
	}

	port := newChannelPort(crt, conn)

	crt.SetBootstrapping(true)
	if err := installWorkerThis(crt, port); err != nil {
		ready <- fmt.Errorf("install worker channel: %w", err)
		crt.Free()
		_ = conn.Close()
		return
	}
	if _, err := crt.LoadModule("@tjs/worker-bootstrap"); err != nil {
		ready <- fmt.Errorf("worker bootstrap: %w", err)
		crt.Free()
		_ = conn.Close()
		return
	}
	crt.SetBootstrapping(false)

	// The channel starts delivering only after the script has installed
	// its handlers; messages posted before then queue in the transport.
	script := w.scriptPath
	crt.Engine().EnqueueJob(func() error {
		_, err := crt.EvalFile(script, core.EvalAuto, false)
		port.start()
		return err
	})

	// Publish the runtime pointer and report readiness.
	w.mu.Lock()
	w.childRT = crt
	w.mu.Unlock()
	ready <- nil

	crt.Run()

	port.close()
	crt.Free()
}

// installWorkerThis places the channel port on the worker global scope
// as workerThis; the worker-bootstrap module wires it to the global
// event surface.
func installWorkerThis(crt *core.Runtime, port *channelPort) error {
	vm := crt.VM()
	obj := vm.NewObject()

	slots := map[string]goja.Value{}

	if err := obj.Set("postMessage", func(call goja.FunctionCall) goja.Value {
		if err := port.postMessage(call.Argument(0)); err != nil {
			panic(vm.NewTypeError("%v", err))
		}
		return goja.Undefined()
	}); err != nil {
		return err
	}
	if err := obj.Set("close", func(goja.FunctionCall) goja.Value {
		crt.Stop()
		return goja.Undefined()
	}); err != nil {
		return err
	}

	for _, name := range []string{"onmessage", "onmessageerror", "onerror"} {
		name := name
		if err := obj.DefineAccessorProperty(name,
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
			goja.FLAG_FALSE, goja.FLAG_TRUE); err != nil {
			return err
		}
	}

	callSlot := func(name string, arg goja.Value) {
		cb, ok := slots[name]
		if !ok || cb == nil || goja.IsUndefined(cb) || goja.IsNull(cb) {
			return
		}
		if _, err := crt.Engine().Call(cb, goja.Undefined(), arg); err != nil {
			crt.DumpError(err)
		}
	}

	port.onMessage = func(v goja.Value) { callSlot("onmessage", v) }
	port.onMessageError = func(err error) { callSlot("onmessageerror", vm.ToValue(err.Error())) }
	port.onError = func(uv *core.UVError) { callSlot("onerror", uv.JSValue(vm)) }

	return vm.GlobalObject().Set("workerThis", obj)
}

// PostMessage serializes value and sends it to the worker.
func (w *Worker) PostMessage(v goja.Value) error {
	return w.port.postMessage(v)
}

// SetHandlers wires the main-side event callbacks.
func (w *Worker) SetHandlers(onMessage func(goja.Value), onMessageError func(error), onError func(*core.UVError)) {
	w.port.onMessage = onMessage
	w.port.onMessageError = onMessageError
	w.port.onError = onError
}

// Terminate stops the child runtime, joins the thread and clears the
// runtime pointer. In-flight channel writes may be lost.
func (w *Worker) Terminate() {
	if w.terminated {
		return
	}
	w.terminated = true

	w.mu.Lock()
	child := w.childRT
	w.mu.Unlock()
	if child != nil {
		child.Stop()
	}
	<-w.done

	w.mu.Lock()
	w.childRT = nil
	w.mu.Unlock()

	w.port.close()
	metrics.WorkersActive.Dec()
}

// ID returns the worker's identifier.
func (w *Worker) ID() string { return w.id }
