// Package dns exposes name resolution as promise-returning operations
// executed on the reactor's worker pool.
package dns

import (
	"context"
	"net"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"

	"github.com/wot-js/runtime/internal/core"
)

func init() {
	core.RegisterBinding(Bind)
}

// Bind registers the dns native module.
func Bind(rt *core.Runtime) error {
	rt.RequireRegistry().RegisterNativeModule("dns", Require(rt))
	return nil
}

// Require builds the module loader for a runtime.
func Require(rt *core.Runtime) require.ModuleLoader {
	return func(vm *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)

		_ = exports.Set("lookup", func(call goja.FunctionCall) goja.Value {
			host := call.Argument(0)
			if host == nil || goja.IsUndefined(host) {
				panic(vm.NewTypeError("hostname required"))
			}
			name := host.String()
			return rt.PromisifyWork(func() (interface{}, error) {
				addrs, err := net.DefaultResolver.LookupHost(context.Background(), name)
				if err != nil {
					return nil, core.WrapError(err, "getaddrinfo", name)
				}
				return addrs, nil
			}, nil)
		})

		_ = exports.Set("reverse", func(call goja.FunctionCall) goja.Value {
			addr := call.Argument(0)
			if addr == nil || goja.IsUndefined(addr) {
				panic(vm.NewTypeError("address required"))
			}
			ip := addr.String()
			return rt.PromisifyWork(func() (interface{}, error) {
				names, err := net.DefaultResolver.LookupAddr(context.Background(), ip)
				if err != nil {
					return nil, core.WrapError(err, "getnameinfo", ip)
				}
				return names, nil
			}, nil)
		})
	}
}
