// Package fs exposes the filesystem surface to JS. Every operation is
// an async request executed on the reactor's worker pool; the returned
// promise settles on the loop with errors carrying path and syscall.
package fs

import (
	"os"
	"path/filepath"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"

	"github.com/wot-js/runtime/internal/core"
)

func init() {
	core.RegisterBinding(Bind)
}

// Bind registers the fs native module.
func Bind(rt *core.Runtime) error {
	rt.RequireRegistry().RegisterNativeModule("fs", Require(rt))
	return nil
}

// Require builds the module loader for a runtime.
func Require(rt *core.Runtime) require.ModuleLoader {
	return func(vm *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)
		m := &fsModule{rt: rt}
		m.setupExports(vm, exports)
	}
}

type fsModule struct {
	rt *core.Runtime
}

func (m *fsModule) setupExports(vm *goja.Runtime, exports *goja.Object) {
	_ = exports.Set("readFile", m.readFile)
	_ = exports.Set("writeFile", m.writeFile)
	_ = exports.Set("appendFile", m.appendFile)
	_ = exports.Set("stat", m.stat)
	_ = exports.Set("lstat", m.lstat)
	_ = exports.Set("readdir", m.readdir)
	_ = exports.Set("mkdir", m.mkdir)
	_ = exports.Set("rmdir", m.rmdir)
	_ = exports.Set("unlink", m.unlink)
	_ = exports.Set("rename", m.rename)
	_ = exports.Set("copyFile", m.copyFile)
	_ = exports.Set("realpath", m.realpath)
	_ = exports.Set("watch", m.watch)
}

func (m *fsModule) pathArg(call goja.FunctionCall, index int) string {
	arg := call.Argument(index)
	if arg == nil || goja.IsUndefined(arg) || goja.IsNull(arg) {
		panic(m.rt.VM().NewTypeError("path required"))
	}
	return arg.String()
}

func (m *fsModule) readFile(call goja.FunctionCall) goja.Value {
	path := m.pathArg(call, 0)
	return m.rt.PromisifyWork(func() (interface{}, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, core.WrapError(err, "open", path)
		}
		return data, nil
	}, func(vm *goja.Runtime, res interface{}) goja.Value {
		return m.rt.Engine().NewUint8Array(res.([]byte))
	})
}

func (m *fsModule) writeFile(call goja.FunctionCall) goja.Value {
	path := m.pathArg(call, 0)
	data, err := core.CopyBytes(m.rt.VM(), call.Argument(1))
	if err != nil {
		panic(m.rt.VM().NewTypeError("%v", err))
	}
	return m.rt.PromisifyWork(func() (interface{}, error) {
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, core.WrapError(err, "write", path)
		}
		return nil, nil
	}, nil)
}

func (m *fsModule) appendFile(call goja.FunctionCall) goja.Value {
	path := m.pathArg(call, 0)
	data, err := core.CopyBytes(m.rt.VM(), call.Argument(1))
	if err != nil {
		panic(m.rt.VM().NewTypeError("%v", err))
	}
	return m.rt.PromisifyWork(func() (interface{}, error) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, core.WrapError(err, "open", path)
		}
		defer f.Close()
		if _, err := f.Write(data); err != nil {
			return nil, core.WrapError(err, "write", path)
		}
		return nil, nil
	}, nil)
}

func (m *fsModule) stat(call goja.FunctionCall) goja.Value {
	return m.statCommon(call, os.Stat, "stat")
}

func (m *fsModule) lstat(call goja.FunctionCall) goja.Value {
	return m.statCommon(call, os.Lstat, "lstat")
}

func (m *fsModule) statCommon(call goja.FunctionCall, statFn func(string) (os.FileInfo, error), syscallName string) goja.Value {
	path := m.pathArg(call, 0)
	return m.rt.PromisifyWork(func() (interface{}, error) {
		info, err := statFn(path)
		if err != nil {
			return nil, core.WrapError(err, syscallName, path)
		}
		return info, nil
	}, func(vm *goja.Runtime, res interface{}) goja.Value {
		return statObject(vm, res.(os.FileInfo))
	})
}

func statObject(vm *goja.Runtime, info os.FileInfo) goja.Value {
	obj := vm.NewObject()
	_ = obj.Set("size", info.Size())
	_ = obj.Set("mode", uint32(info.Mode()))
	_ = obj.Set("mtime", info.ModTime().UnixMilli())
	_ = obj.Set("isFile", info.Mode().IsRegular())
	_ = obj.Set("isDirectory", info.IsDir())
	_ = obj.Set("isSymlink", info.Mode()&os.ModeSymlink != 0)
	return obj
}

func (m *fsModule) readdir(call goja.FunctionCall) goja.Value {
	path := m.pathArg(call, 0)
	return m.rt.PromisifyWork(func() (interface{}, error) {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, core.WrapError(err, "readdir", path)
		}
		names := make([]map[string]interface{}, len(entries))
		for i, e := range entries {
			names[i] = map[string]interface{}{
				"name":        e.Name(),
				"isDirectory": e.IsDir(),
			}
		}
		return names, nil
	}, nil)
}

func (m *fsModule) mkdir(call goja.FunctionCall) goja.Value {
	path := m.pathArg(call, 0)
	return m.rt.PromisifyWork(func() (interface{}, error) {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, core.WrapError(err, "mkdir", path)
		}
		return nil, nil
	}, nil)
}

func (m *fsModule) rmdir(call goja.FunctionCall) goja.Value {
	path := m.pathArg(call, 0)
	return m.rt.PromisifyWork(func() (interface{}, error) {
		if err := os.Remove(path); err != nil {
			return nil, core.WrapError(err, "rmdir", path)
		}
		return nil, nil
	}, nil)
}

func (m *fsModule) unlink(call goja.FunctionCall) goja.Value {
	path := m.pathArg(call, 0)
	return m.rt.PromisifyWork(func() (interface{}, error) {
		if err := os.Remove(path); err != nil {
			return nil, core.WrapError(err, "unlink", path)
		}
		return nil, nil
	}, nil)
}

func (m *fsModule) rename(call goja.FunctionCall) goja.Value {
	from := m.pathArg(call, 0)
	to := m.pathArg(call, 1)
	return m.rt.PromisifyWork(func() (interface{}, error) {
		if err := os.Rename(from, to); err != nil {
			return nil, core.WrapError(err, "rename", from)
		}
		return nil, nil
	}, nil)
}

func (m *fsModule) copyFile(call goja.FunctionCall) goja.Value {
	from := m.pathArg(call, 0)
	to := m.pathArg(call, 1)
	return m.rt.PromisifyWork(func() (interface{}, error) {
		data, err := os.ReadFile(from)
		if err != nil {
			return nil, core.WrapError(err, "open", from)
		}
		if err := os.WriteFile(to, data, 0644); err != nil {
			return nil, core.WrapError(err, "write", to)
		}
		return nil, nil
	}, nil)
}

func (m *fsModule) realpath(call goja.FunctionCall) goja.Value {
	path := m.pathArg(call, 0)
	return m.rt.PromisifyWork(func() (interface{}, error) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, core.WrapError(err, "realpath", path)
		}
		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, core.WrapError(err, "realpath", path)
		}
		return resolved, nil
	}, nil)
}
