package core

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wot-js/runtime/internal/bundle"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestNormalizeModuleName(t *testing.T) {
	rt := newTestRuntime(t)
	cases := []struct {
		base, requested, want string
		wantErr               bool
	}{
		{"", "@tjs/util", "@tjs/util", false},
		{"", "lib/tool.js", "lib/tool.js", false},
		{"a/b/c.js", "./d.js", "a/b/d.js", false},
		{"a/b/c.js", "../d.js", "a/d.js", false},
		{"a/b/c.js", "../../d.js", "d.js", false},
		{"c.js", "./d.js", "d.js", false},
		{"a/b/c.js", "./x//y.js", "", true},
		{"", "@tjs/bootstrap", "", true},
		{"", "@tjs/worker-bootstrap.js", "", true},
	}
	for _, tc := range cases {
		got, err := rt.NormalizeModuleName(tc.base, tc.requested)
		if tc.wantErr {
			require.Error(t, err, "base=%q requested=%q", tc.base, tc.requested)
			continue
		}
		require.NoError(t, err, "base=%q requested=%q", tc.base, tc.requested)
		require.Equal(t, tc.want, got, "base=%q requested=%q", tc.base, tc.requested)
	}
}

func TestInjectedModulesLoadableDuringBootstrap(t *testing.T) {
	rt := newTestRuntime(t)
	rt.SetBootstrapping(true)
	defer rt.SetBootstrapping(false)
	_, err := rt.NormalizeModuleName("", "@tjs/worker-bootstrap")
	require.NoError(t, err)
}

func TestRegistryModuleLoad(t *testing.T) {
	bundle.Default.Register("@test/greeter.js", []byte(`
		exports.greet = function(name) { return 'hello ' + name; };
	`))
	rt := newTestRuntime(t)
	exports, err := rt.LoadModule("@test/greeter")
	require.NoError(t, err)

	fn := exports.Get("greet")
	res, err := rt.Engine().Call(fn, exports, rt.VM().ToValue("world"))
	require.NoError(t, err)
	require.Equal(t, "hello world", res.String())

	// Second load returns the cached instance.
	again, err := rt.LoadModule("@test/greeter")
	require.NoError(t, err)
	require.Equal(t, exports, again)
}

func TestRegistryModuleNotFound(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.LoadModule("@test/missing")
	require.Error(t, err)
	require.Contains(t, err.Error(), "@test/missing")
}

func TestDynamicImportResolvesRegistryModule(t *testing.T) {
	bundle.Default.Register("@test/hello", []byte(`module.exports.default = "world";`))
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("imp.js", `
		globalThis.result = null;
		globalThis.import('@test/hello').then(m => { globalThis.result = m.default; });
	`)
	require.NoError(t, err)
	rt.Run()
	require.Equal(t, "world", rt.VM().Get("result").String())
}

func TestDynamicImportRejectsUnknownModule(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("impfail.js", `
		globalThis.failed = false;
		globalThis.import('@test/nope').catch(() => { globalThis.failed = true; });
	`)
	require.NoError(t, err)
	rt.Run()
	require.True(t, rt.VM().Get("failed").ToBoolean())
}

func TestFileModuleWithRelativeImport(t *testing.T) {
	rt := newTestRuntime(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "dep.js"), `exports.value = 41;`)
	writeFile(t, filepath.Join(dir, "main.js"), `
		const dep = importModule('./dep.js');
		exports.answer = dep.value + 1;
	`)
	exports, err := rt.LoadModule(filepath.Join(dir, "main.js"))
	require.NoError(t, err)
	require.Equal(t, int64(42), exports.Get("answer").ToInteger())
}

func TestJSONModuleValues(t *testing.T) {
	rt := newTestRuntime(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "cfg.json"), `{"name": "edge", "port": 1883}`)
	bundle.Default.Register("@test/readcfg.js", []byte(`
		const cfg = importModule('`+filepath.Join(dir, "cfg.json")+`').default;
		exports.name = cfg.name;
		exports.port = cfg.port;
	`))
	exports, err := rt.LoadModule("@test/readcfg")
	require.NoError(t, err)
	require.Equal(t, "edge", exports.Get("name").String())
	require.Equal(t, int64(1883), exports.Get("port").ToInteger())
}

func TestExtensionlessNameRetriesAsSource(t *testing.T) {
	rt := newTestRuntime(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "plain.js"), `exports.ok = true;`)
	exports, err := rt.LoadModule(filepath.Join(dir, "plain"))
	require.NoError(t, err)
	require.True(t, exports.Get("ok").ToBoolean())
}

func TestImportMetaURLAndMain(t *testing.T) {
	rt := newTestRuntime(t)
	bundle.Default.Register("@test/meta.js", []byte(`
		exports.url = importMeta.url;
		exports.main = importMeta.main;
	`))
	exports, err := rt.LoadModule("@test/meta")
	require.NoError(t, err)
	require.Equal(t, "@test/meta", exports.Get("url").String())
	require.False(t, exports.Get("main").ToBoolean())
}

func TestTrailerModulesImportable(t *testing.T) {
	dir := t.TempDir()
	exe := filepath.Join(dir, "host")
	base := []byte("host executable bytes")
	require.NoError(t, os.WriteFile(exe, base, 0755))
	f, err := os.OpenFile(exe, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	require.NoError(t, bundle.WriteTrailer(f, int64(len(base)), []bundle.Module{
		{Name: "@trailer/hello", Data: []byte(`module.exports.default = "world";`)},
	}))
	require.NoError(t, f.Close())

	n, err := bundle.LoadTrailer(bundle.Default, exe)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rt := newTestRuntime(t)
	_, err = rt.EvalScript("trailer.js", `
		globalThis.result = null;
		globalThis.import('@trailer/hello').then(m => { globalThis.result = m.default; });
	`)
	require.NoError(t, err)
	rt.Run()
	require.Equal(t, "world", rt.VM().Get("result").String())
}

func TestSharedObjectLoaderRequiresExactExtension(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.LoadModule("/nonexistent/native.so")
	require.Error(t, err)
	require.Contains(t, err.Error(), "native.so")
}
