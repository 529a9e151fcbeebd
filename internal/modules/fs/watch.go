package fs

import (
	"github.com/dop251/goja"
	"github.com/fsnotify/fsnotify"

	"github.com/wot-js/runtime/internal/core"
)

// watch starts a filesystem watcher emitting change events on the loop.
// Returns a handle with a close method; the watcher keeps the loop
// alive until closed.
func (m *fsModule) watch(call goja.FunctionCall) goja.Value {
	vm := m.rt.VM()
	path := m.pathArg(call, 0)
	cb := call.Argument(1)
	callback, ok := goja.AssertFunction(cb)
	if !ok {
		panic(vm.NewTypeError("watch callback must be a function"))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		panic(m.rt.ErrorValue(core.WrapError(err, "watch", path)))
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		panic(m.rt.ErrorValue(core.WrapError(err, "watch", path)))
	}

	handle := m.rt.Loop().NewHandle()
	handle.Start()

	closed := false
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				name := event.Name
				kind := watchEventKind(event.Op)
				_ = m.rt.Loop().Submit(func() {
					if closed {
						return
					}
					if _, err := callback(goja.Undefined(), vm.ToValue(kind), vm.ToValue(name)); err != nil {
						m.rt.DumpError(err)
					}
				})
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				uv := core.WrapError(werr, "watch", path)
				_ = m.rt.Loop().Submit(func() {
					if !closed {
						m.rt.DumpError(uv)
					}
				})
			}
		}
	}()

	obj := vm.NewObject()
	_ = obj.Set("path", path)
	_ = obj.Set("close", func(goja.FunctionCall) goja.Value {
		if closed {
			return goja.Undefined()
		}
		closed = true
		_ = watcher.Close()
		handle.Close(nil)
		return goja.Undefined()
	})
	return obj
}

func watchEventKind(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Remove != 0:
		return "remove"
	case op&fsnotify.Rename != 0:
		return "rename"
	case op&fsnotify.Write != 0:
		return "change"
	case op&fsnotify.Chmod != 0:
		return "attrib"
	}
	return "change"
}
