package core

import (
	"os"
	"strings"

	"github.com/dop251/goja"
)

// EvalKind selects how EvalFile treats a file.
type EvalKind int

const (
	// EvalAuto detects module vs script from the file extension.
	EvalAuto EvalKind = iota
	EvalModule
	EvalScript
)

// EvalFile evaluates a file. A leading shebang line is neutralized.
// Evaluating as main dispatches a load event on the global scope after
// successful evaluation.
func (rt *Runtime) EvalFile(path string, kind EvalKind, main bool) (goja.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, rt.referenceError(path, err)
	}
	src := string(data)
	if strings.HasPrefix(src, "#!") {
		src = "//" + src[2:]
	}

	if kind == EvalAuto {
		if strings.HasSuffix(path, ".mjs") || strings.HasSuffix(path, ".js") {
			kind = EvalModule
		} else {
			kind = EvalScript
		}
	}

	var result goja.Value
	switch kind {
	case EvalModule:
		prog, err := rt.moduleProgramUncached(path, []byte(src))
		if err != nil {
			return nil, rt.referenceError(path, err)
		}
		exports, err := rt.instantiate(path, fileMetaURL(path), main, prog)
		if err != nil {
			return nil, err
		}
		result = exports
	default:
		val, err := rt.EvalScript(path, src)
		if err != nil {
			return nil, err
		}
		result = val
	}

	if main {
		rt.DispatchGlobalEvent("load", nil)
	}
	return result, nil
}

// EvalScript evaluates source as a classic script.
func (rt *Runtime) EvalScript(name, src string) (goja.Value, error) {
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, err
	}
	return rt.engine.VM().RunProgram(prog)
}

func (rt *Runtime) runBootstrapModules() error {
	if _, err := rt.loadRegistryModule("@tjs/bootstrap"); err != nil {
		return err
	}
	return nil
}
