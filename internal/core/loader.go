package core

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"plugin"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/wot-js/runtime/internal/bundle"
)

// injectedModules are constructor-injected and may not be imported by
// user code; only bootstrap-mode loads may reference them.
var injectedModules = map[string]struct{}{
	"@tjs/native-bootstrap": {},
	"@tjs/bootstrap":        {},
	"@tjs/navigator":        {},
	"@tjs/url":              {},
	"@tjs/performance":      {},
	"@tjs/abort-controller": {},
	"@tjs/worker-bootstrap": {},
}

// moduleRecord caches one loaded module instance per runtime.
type moduleRecord struct {
	exports *goja.Object
	loading bool
}

// programCache shares compiled registry modules between runtimes; the
// blobs are immutable so a name identifies its program.
var programCache sync.Map // string -> *goja.Program

// NativeInitSymbol is the symbol resolved from dynamic shared objects.
const NativeInitSymbol = "JSInitModule"

// NativeInitFunc is the signature a shared-object module exports.
type NativeInitFunc = func(vm *goja.Runtime, exports *goja.Object) error

// NormalizeModuleName resolves a requested module name against the
// loading module's name.
func (rt *Runtime) NormalizeModuleName(base, requested string) (string, error) {
	if requested == "" {
		return "", fmt.Errorf("empty module name")
	}
	if strings.HasPrefix(requested, "@") {
		if !rt.bootstrapping {
			key := strings.TrimSuffix(strings.TrimSuffix(requested, ".js"), ".mjs")
			if _, injected := injectedModules[key]; injected {
				return "", fmt.Errorf("module '%s' is not importable", requested)
			}
		}
		return requested, nil
	}
	if !strings.HasPrefix(requested, ".") {
		// Absolute in the engine sense: returned verbatim.
		return requested, nil
	}

	dir := path.Dir(base)
	if dir == "." {
		dir = ""
	}
	joined := requested
	if dir != "" {
		joined = dir + "/" + requested
	}

	segments := strings.Split(joined, "/")
	out := make([]string, 0, len(segments))
	for i, seg := range segments {
		switch seg {
		case "", ".":
			if seg == "" && i != 0 && i != len(segments)-1 {
				return "", fmt.Errorf("invalid module path '%s'", requested)
			}
			if seg == "" && i == 0 {
				out = append(out, seg)
			}
		case "..":
			if len(out) == 0 || out[len(out)-1] == ".." {
				out = append(out, seg)
			} else if out[len(out)-1] == "" {
				return "", fmt.Errorf("invalid module path '%s'", requested)
			} else {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, seg)
		}
	}
	result := strings.Join(out, "/")
	if result == "" {
		return "", fmt.Errorf("invalid module path '%s'", requested)
	}
	return result, nil
}

// LoadModule loads a normalized module name through the per-kind
// loaders, caching one instance per runtime. Failures surface as
// reference errors naming the module.
func (rt *Runtime) LoadModule(name string) (*goja.Object, error) {
	if rec, ok := rt.modules[name]; ok {
		return rec.exports, nil
	}

	var exports *goja.Object
	var err error
	switch {
	case strings.HasPrefix(name, "@"):
		exports, err = rt.loadRegistryModule(name)
	case strings.HasSuffix(name, ".so"):
		exports, err = rt.loadSharedObject(name)
	case strings.HasSuffix(name, ".js"), strings.HasSuffix(name, ".mjs"):
		exports, err = rt.loadFileModule(name, false)
	case strings.HasSuffix(name, ".json"):
		exports, err = rt.loadJSONModule(name)
	default:
		return rt.LoadModule(name + ".js")
	}
	if err != nil {
		return nil, err
	}
	return exports, nil
}

func (rt *Runtime) lookupBlob(name string) ([]byte, bool) {
	if data, ok := rt.registry.Lookup(name); ok {
		return data, true
	}
	if rt.registry != bundle.Default {
		return bundle.Default.Lookup(name)
	}
	return nil, false
}

func (rt *Runtime) loadRegistryModule(name string) (*goja.Object, error) {
	data, ok := rt.lookupBlob(name)
	if !ok {
		return nil, rt.referenceError(name, fmt.Errorf("module not found"))
	}
	prog, err := rt.moduleProgram(name, data)
	if err != nil {
		return nil, rt.referenceError(name, err)
	}
	return rt.instantiate(name, name, false, prog)
}

func (rt *Runtime) loadFileModule(name string, main bool) (*goja.Object, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, rt.referenceError(name, err)
	}
	metaURL := fileMetaURL(name)
	prog, err := rt.moduleProgramUncached(name, data)
	if err != nil {
		return nil, rt.referenceError(name, err)
	}
	return rt.instantiate(name, metaURL, main, prog)
}

func (rt *Runtime) loadJSONModule(name string) (*goja.Object, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, rt.referenceError(name, err)
	}
	src := jsonModuleSource(data)
	prog, err := rt.moduleProgramUncached(name, []byte(src))
	if err != nil {
		return nil, rt.referenceError(name, err)
	}
	return rt.instantiate(name, fileMetaURL(name), false, prog)
}

// loadSharedObject opens a dynamic shared object and invokes its init
// symbol. No alternative extensions are tried.
func (rt *Runtime) loadSharedObject(name string) (*goja.Object, error) {
	p, err := plugin.Open(name)
	if err != nil {
		return nil, rt.referenceError(name, err)
	}
	sym, err := p.Lookup(NativeInitSymbol)
	if err != nil {
		return nil, rt.referenceError(name, fmt.Errorf("missing %s", NativeInitSymbol))
	}
	initFn, ok := sym.(NativeInitFunc)
	if !ok {
		return nil, rt.referenceError(name, fmt.Errorf("%s has wrong type", NativeInitSymbol))
	}
	exports := rt.engine.VM().NewObject()
	if err := initFn(rt.engine.VM(), exports); err != nil {
		return nil, rt.referenceError(name, err)
	}
	rt.modules[name] = &moduleRecord{exports: exports}
	return exports, nil
}

// moduleProgram compiles a registry blob, sharing compiled programs
// process-wide.
func (rt *Runtime) moduleProgram(name string, data []byte) (*goja.Program, error) {
	if cached, ok := programCache.Load(name); ok {
		return cached.(*goja.Program), nil
	}
	prog, err := rt.moduleProgramUncached(name, data)
	if err != nil {
		return nil, err
	}
	programCache.Store(name, prog)
	return prog, nil
}

func (rt *Runtime) moduleProgramUncached(name string, data []byte) (*goja.Program, error) {
	wrapped := "(function(exports, module, importMeta, importModule) {\n" + string(data) + "\n})"
	return goja.Compile(name, wrapped, false)
}

// instantiate runs a compiled module wrapper, wiring exports, the
// import-meta object and the synchronous importer, and caches the
// resulting exports object. Cyclic imports observe the partial exports.
func (rt *Runtime) instantiate(name, metaURL string, main bool, prog *goja.Program) (*goja.Object, error) {
	vm := rt.engine.VM()

	exports := vm.NewObject()
	module := vm.NewObject()
	_ = module.Set("exports", exports)
	meta := vm.NewObject()
	_ = meta.Set("url", metaURL)
	_ = meta.Set("main", main)

	rec := &moduleRecord{exports: exports, loading: true}
	rt.modules[name] = rec

	importer := func(call goja.FunctionCall) goja.Value {
		requested := call.Argument(0).String()
		normalized, err := rt.NormalizeModuleName(name, requested)
		if err != nil {
			panic(rt.referenceErrorValue(requested, err))
		}
		dep, err := rt.LoadModule(normalized)
		if err != nil {
			panic(rt.errorToValue(err))
		}
		return dep
	}

	fnVal, err := vm.RunProgram(prog)
	if err != nil {
		delete(rt.modules, name)
		return nil, rt.referenceError(name, err)
	}
	if _, err := rt.engine.Call(fnVal, goja.Undefined(), exports, module, meta, vm.ToValue(importer)); err != nil {
		delete(rt.modules, name)
		return nil, rt.referenceError(name, err)
	}

	// The wrapper may have reassigned module.exports.
	if final, ok := module.Get("exports").(*goja.Object); ok {
		rec.exports = final
	}
	rec.loading = false
	return rec.exports, nil
}

// jsDynamicImport backs the global import() surface; it resolves to the
// module namespace or rejects with the loader's reference error.
func (rt *Runtime) jsDynamicImport(call goja.FunctionCall) goja.Value {
	vm := rt.engine.VM()
	requested := call.Argument(0).String()
	h := &PromiseHolder{}
	h.Init(vm)
	rt.engine.EnqueueJob(func() error {
		normalized, err := rt.NormalizeModuleName("", requested)
		if err != nil {
			h.Reject(rt.referenceErrorValue(requested, err))
			return nil
		}
		exports, err := rt.LoadModule(normalized)
		if err != nil {
			h.Reject(rt.errorToValue(err))
			return nil
		}
		h.Resolve(exports)
		return nil
	})
	return h.Value(vm)
}

func jsonModuleSource(data []byte) string {
	escaped := strings.NewReplacer(
		"\\", "\\\\",
		"`", "\\`",
		"${", "\\${",
	).Replace(string(data))
	return "module.exports.default = JSON.parse(`" + escaped + "`);"
}

func fileMetaURL(name string) string {
	if abs, err := filepath.Abs(name); err == nil {
		if real, err := filepath.EvalSymlinks(abs); err == nil {
			return "file://" + real
		}
		return "file://" + abs
	}
	return "file://" + name
}

// loaderError is a reference error carrying the failing module name.
type loaderError struct {
	value goja.Value
	msg   string
}

func (e *loaderError) Error() string { return e.msg }

func (rt *Runtime) referenceError(name string, cause error) error {
	msg := fmt.Sprintf("could not load module '%s'", name)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	return &loaderError{value: rt.referenceErrorValue(name, cause), msg: msg}
}

func (rt *Runtime) referenceErrorValue(name string, cause error) goja.Value {
	vm := rt.engine.VM()
	msg := fmt.Sprintf("could not load module '%s'", name)
	if cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, cause)
	}
	ctor := vm.GlobalObject().Get("ReferenceError")
	if ctor != nil {
		if obj, err := vm.New(ctor, vm.ToValue(msg)); err == nil {
			return obj
		}
	}
	return vm.ToValue(msg)
}

// ErrorValue maps a host error to the JS value to throw or reject
// with.
func (rt *Runtime) ErrorValue(err error) goja.Value { return rt.errorToValue(err) }

// errorToValue maps a loader or engine error to the JS value to throw
// or reject with.
func (rt *Runtime) errorToValue(err error) goja.Value {
	switch typed := err.(type) {
	case *loaderError:
		return typed.value
	case *goja.Exception:
		return typed.Value()
	case *UVError:
		return typed.JSValue(rt.engine.VM())
	case *goja.InterruptedError:
		return rt.engine.VM().ToValue(typed.Error())
	default:
		return rt.engine.VM().ToValue(err.Error())
	}
}
