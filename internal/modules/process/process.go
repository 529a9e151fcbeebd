// Package process exposes the host environment to JS: arguments,
// environment variables, paths, system information and child process
// spawning. System information comes from gopsutil so constrained
// targets report real memory and CPU figures.
package process

import (
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/wot-js/runtime/internal/core"
	"github.com/wot-js/runtime/pkg/version"
)

func init() {
	core.RegisterBinding(Bind)
}

var (
	argsMu     sync.Mutex
	scriptArgs []string
	scriptPath string
	command    string
)

// SetArgs records the CLI context exposed as args/arg0/command and
// scriptPath. The CLI calls this before creating the runtime.
func SetArgs(cmd string, script string, args []string) {
	argsMu.Lock()
	defer argsMu.Unlock()
	command = cmd
	scriptPath = script
	scriptArgs = append([]string(nil), args...)
}

// Bind registers the process native module.
func Bind(rt *core.Runtime) error {
	rt.RequireRegistry().RegisterNativeModule("process", Require(rt))
	return nil
}

// Require builds the module loader for a runtime.
func Require(rt *core.Runtime) require.ModuleLoader {
	return func(vm *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)
		setupExports(rt, vm, exports)
	}
}

func setupExports(rt *core.Runtime, vm *goja.Runtime, exports *goja.Object) {
	argsMu.Lock()
	args := append([]string(nil), scriptArgs...)
	script := scriptPath
	cmd := command
	argsMu.Unlock()

	_ = exports.Set("args", args)
	_ = exports.Set("arg0", os.Args[0])
	_ = exports.Set("command", cmd)
	_ = exports.Set("scriptPath", script)
	_ = exports.Set("pid", os.Getpid())
	_ = exports.Set("version", version.Version)

	_ = exports.Set("cwd", func(goja.FunctionCall) goja.Value {
		dir, err := os.Getwd()
		if err != nil {
			panic(rt.ErrorValue(core.WrapError(err, "getcwd", "")))
		}
		return vm.ToValue(dir)
	})
	_ = exports.Set("chdir", func(call goja.FunctionCall) goja.Value {
		dir := call.Argument(0).String()
		if err := os.Chdir(dir); err != nil {
			panic(rt.ErrorValue(core.WrapError(err, "chdir", dir)))
		}
		return goja.Undefined()
	})
	_ = exports.Set("homedir", func(goja.FunctionCall) goja.Value {
		dir, _ := os.UserHomeDir()
		return vm.ToValue(dir)
	})
	_ = exports.Set("tmpdir", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(os.TempDir())
	})
	_ = exports.Set("exepath", func(goja.FunctionCall) goja.Value {
		exe, err := os.Executable()
		if err != nil {
			panic(rt.ErrorValue(core.WrapError(err, "exepath", "")))
		}
		return vm.ToValue(exe)
	})

	_ = exports.Set("getenv", func(call goja.FunctionCall) goja.Value {
		value, ok := os.LookupEnv(call.Argument(0).String())
		if !ok {
			return goja.Undefined()
		}
		return vm.ToValue(value)
	})
	_ = exports.Set("setenv", func(call goja.FunctionCall) goja.Value {
		if err := os.Setenv(call.Argument(0).String(), call.Argument(1).String()); err != nil {
			panic(rt.ErrorValue(core.WrapError(err, "setenv", "")))
		}
		return goja.Undefined()
	})
	_ = exports.Set("unsetenv", func(call goja.FunctionCall) goja.Value {
		_ = os.Unsetenv(call.Argument(0).String())
		return goja.Undefined()
	})
	_ = exports.Set("environ", func(goja.FunctionCall) goja.Value {
		env := vm.NewObject()
		for _, kv := range os.Environ() {
			for i := 0; i < len(kv); i++ {
				if kv[i] == '=' {
					_ = env.Set(kv[:i], kv[i+1:])
					break
				}
			}
		}
		return env
	})

	_ = exports.Set("exit", func(call goja.FunctionCall) goja.Value {
		code := rt.ExitCode()
		if len(call.Arguments) > 0 && !goja.IsUndefined(call.Argument(0)) {
			code = int(call.Argument(0).ToInteger())
		}
		rt.SetExitCode(code)
		rt.Stop()
		return goja.Undefined()
	})
	_ = exports.Set("setExitCode", func(call goja.FunctionCall) goja.Value {
		rt.SetExitCode(int(call.Argument(0).ToInteger()))
		return goja.Undefined()
	})
	_ = exports.Set("exitCode", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(rt.ExitCode())
	})

	_ = exports.Set("hrtime", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(time.Now().UnixNano())
	})

	_ = exports.Set("uname", func(goja.FunctionCall) goja.Value {
		return rt.PromisifyWork(func() (interface{}, error) {
			info, err := host.Info()
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"sysname":  info.OS,
				"release":  info.KernelVersion,
				"version":  info.PlatformVersion,
				"machine":  info.KernelArch,
				"hostname": info.Hostname,
			}, nil
		}, nil)
	})
	_ = exports.Set("memory", func(goja.FunctionCall) goja.Value {
		return rt.PromisifyWork(func() (interface{}, error) {
			vmem, err := mem.VirtualMemory()
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{
				"total":     vmem.Total,
				"free":      vmem.Free,
				"available": vmem.Available,
			}, nil
		}, nil)
	})
	_ = exports.Set("cpus", func(goja.FunctionCall) goja.Value {
		return rt.PromisifyWork(func() (interface{}, error) {
			infos, err := cpu.Info()
			if err != nil {
				return nil, err
			}
			out := make([]map[string]interface{}, len(infos))
			for i, ci := range infos {
				out[i] = map[string]interface{}{
					"model": ci.ModelName,
					"speed": ci.Mhz,
					"cores": ci.Cores,
				}
			}
			return out, nil
		}, nil)
	})
	_ = exports.Set("loadavg", func(goja.FunctionCall) goja.Value {
		return rt.PromisifyWork(func() (interface{}, error) {
			avg, err := load.Avg()
			if err != nil {
				return nil, err
			}
			return []float64{avg.Load1, avg.Load5, avg.Load15}, nil
		}, nil)
	})
	_ = exports.Set("platform", runtime.GOOS)
	_ = exports.Set("arch", runtime.GOARCH)

	_ = exports.Set("spawn", func(call goja.FunctionCall) goja.Value {
		return spawn(rt, vm, call)
	})
}

// spawn starts a child process and returns {pid, wait, kill}. The wait
// promise settles with the exit code once the child terminates.
func spawn(rt *core.Runtime, vm *goja.Runtime, call goja.FunctionCall) goja.Value {
	name := call.Argument(0)
	if name == nil || goja.IsUndefined(name) {
		panic(vm.NewTypeError("command required"))
	}
	var args []string
	if arr := call.Argument(1); arr != nil && !goja.IsUndefined(arr) {
		if err := vm.ExportTo(arr, &args); err != nil {
			panic(vm.NewTypeError("args must be an array of strings"))
		}
	}

	cmd := exec.Command(name.String(), args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		panic(rt.ErrorValue(core.WrapError(err, "spawn", name.String())))
	}

	obj := vm.NewObject()
	_ = obj.Set("pid", cmd.Process.Pid)
	_ = obj.Set("wait", func(goja.FunctionCall) goja.Value {
		return rt.PromisifyWork(func() (interface{}, error) {
			err := cmd.Wait()
			if exitErr, ok := err.(*exec.ExitError); ok {
				return exitErr.ExitCode(), nil
			}
			if err != nil {
				return nil, err
			}
			return 0, nil
		}, nil)
	})
	_ = obj.Set("kill", func(call goja.FunctionCall) goja.Value {
		sig := syscall.SIGTERM
		if len(call.Arguments) > 0 && !goja.IsUndefined(call.Argument(0)) {
			sig = syscall.Signal(call.Argument(0).ToInteger())
		}
		if err := cmd.Process.Signal(sig); err != nil {
			panic(rt.ErrorValue(core.WrapError(err, "kill", "")))
		}
		return goja.Undefined()
	})
	return obj
}
