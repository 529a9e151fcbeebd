// Package http exposes a promise-based HTTP client to JS, executed on
// the reactor's worker pool. It carries the runtime's User-Agent and
// returns {status, headers, body} objects.
package http

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"

	"github.com/wot-js/runtime/internal/core"
	"github.com/wot-js/runtime/pkg/version"
)

func init() {
	core.RegisterBinding(Bind)
}

const defaultTimeout = 60 * time.Second

// Bind registers the http native module.
func Bind(rt *core.Runtime) error {
	rt.RequireRegistry().RegisterNativeModule("http", Require(rt))
	return nil
}

// Require builds the module loader for a runtime.
func Require(rt *core.Runtime) require.ModuleLoader {
	return func(vm *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)
		_ = exports.Set("request", func(call goja.FunctionCall) goja.Value {
			return request(rt, vm, call)
		})
	}
}

type requestSpec struct {
	method  string
	url     string
	headers map[string]string
	body    []byte
	timeout time.Duration
}

func parseRequest(rt *core.Runtime, vm *goja.Runtime, call goja.FunctionCall) requestSpec {
	urlArg := call.Argument(0)
	if urlArg == nil || goja.IsUndefined(urlArg) {
		panic(vm.NewTypeError("url required"))
	}
	spec := requestSpec{
		method:  http.MethodGet,
		url:     urlArg.String(),
		headers: map[string]string{},
		timeout: defaultTimeout,
	}
	opts, ok := call.Argument(1).(*goja.Object)
	if !ok {
		return spec
	}
	if mv := opts.Get("method"); mv != nil && !goja.IsUndefined(mv) {
		spec.method = strings.ToUpper(mv.String())
	}
	if tv := opts.Get("timeout"); tv != nil && !goja.IsUndefined(tv) {
		spec.timeout = time.Duration(tv.ToInteger()) * time.Millisecond
	}
	if hv, ok := opts.Get("headers").(*goja.Object); ok {
		for _, key := range hv.Keys() {
			spec.headers[key] = hv.Get(key).String()
		}
	}
	if bv := opts.Get("body"); bv != nil && !goja.IsUndefined(bv) && !goja.IsNull(bv) {
		data, err := core.CopyBytes(vm, bv)
		if err != nil {
			panic(vm.NewTypeError("%v", err))
		}
		spec.body = data
	}
	return spec
}

type response struct {
	status  int
	headers map[string]string
	body    []byte
}

func request(rt *core.Runtime, vm *goja.Runtime, call goja.FunctionCall) goja.Value {
	spec := parseRequest(rt, vm, call)
	return rt.PromisifyWork(func() (interface{}, error) {
		client := &http.Client{Timeout: spec.timeout}
		var body io.Reader
		if len(spec.body) > 0 {
			body = bytes.NewReader(spec.body)
		}
		req, err := http.NewRequest(spec.method, spec.url, body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", version.UserAgent())
		for k, v := range spec.headers {
			req.Header.Set(k, v)
		}
		res, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()
		data, err := io.ReadAll(res.Body)
		if err != nil {
			return nil, err
		}
		headers := make(map[string]string, len(res.Header))
		for k := range res.Header {
			headers[k] = res.Header.Get(k)
		}
		return &response{status: res.StatusCode, headers: headers, body: data}, nil
	}, func(vm *goja.Runtime, raw interface{}) goja.Value {
		res := raw.(*response)
		obj := vm.NewObject()
		_ = obj.Set("status", res.status)
		_ = obj.Set("headers", res.headers)
		_ = obj.Set("body", rt.Engine().NewUint8Array(res.body))
		_ = obj.Set("text", func(goja.FunctionCall) goja.Value {
			return vm.ToValue(string(res.body))
		})
		return obj
	})
}
