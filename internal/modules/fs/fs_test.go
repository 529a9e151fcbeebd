package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wot-js/runtime/internal/core"
)

func newTestRuntime(t *testing.T) *core.Runtime {
	t.Helper()
	rt, err := core.New(core.Options{})
	require.NoError(t, err)
	t.Cleanup(rt.Free)
	return rt
}

func TestReadFilePromise(t *testing.T) {
	rt := newTestRuntime(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")
	require.NoError(t, os.WriteFile(path, []byte("edge"), 0644))
	require.NoError(t, rt.VM().Set("path", path))

	_, err := rt.EvalScript("read.js", `
		globalThis.content = null;
		const fs = require('fs');
		fs.readFile(path).then((data) => {
			globalThis.content = String.fromCharCode.apply(null, Array.from(data));
		});
	`)
	require.NoError(t, err)
	rt.Run()
	require.Equal(t, "edge", rt.VM().Get("content").String())
}

func TestReadFileErrorCarriesPathAndSyscall(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("readfail.js", `
		globalThis.errPath = null;
		globalThis.errSyscall = null;
		const fs = require('fs');
		fs.readFile('/no/such/file/anywhere').catch((e) => {
			globalThis.errPath = e.path;
			globalThis.errSyscall = e.syscall;
		});
	`)
	require.NoError(t, err)
	rt.Run()
	require.Equal(t, "/no/such/file/anywhere", rt.VM().Get("errPath").String())
	require.Equal(t, "open", rt.VM().Get("errSyscall").String())
}

func TestWriteThenStat(t *testing.T) {
	rt := newTestRuntime(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "out.bin")
	require.NoError(t, rt.VM().Set("path", path))

	_, err := rt.EvalScript("write.js", `
		globalThis.size = -1;
		const fs = require('fs');
		fs.writeFile(path, 'abcde')
			.then(() => fs.stat(path))
			.then((st) => {
				globalThis.size = st.size;
				globalThis.isFile = st.isFile;
			});
	`)
	require.NoError(t, err)
	rt.Run()
	require.Equal(t, int64(5), rt.VM().Get("size").ToInteger())
	require.True(t, rt.VM().Get("isFile").ToBoolean())
}

func TestReaddirAndRemove(t *testing.T) {
	rt := newTestRuntime(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("y"), 0644))
	require.NoError(t, rt.VM().Set("dir", dir))

	_, err := rt.EvalScript("readdir.js", `
		globalThis.count = 0;
		const fs = require('fs');
		fs.readdir(dir).then((entries) => { globalThis.count = entries.length; });
	`)
	require.NoError(t, err)
	rt.Run()
	require.Equal(t, int64(2), rt.VM().Get("count").ToInteger())
}

func TestWatchEmitsChange(t *testing.T) {
	rt := newTestRuntime(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "watched.txt")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0644))
	require.NoError(t, rt.VM().Set("dir", dir))
	require.NoError(t, rt.VM().Set("path", path))

	_, err := rt.EvalScript("watch.js", `
		globalThis.event = null;
		const fs = require('fs');
		const watcher = fs.watch(dir, (kind, name) => {
			globalThis.event = kind;
			watcher.close();
		});
		fs.writeFile(path, 'v2');
		// Safety timeout so the test cannot hang on a missed event.
		const guard = setTimeout(() => { watcher.close(); }, 2000);
		guard.unref();
	`)
	require.NoError(t, err)
	rt.Run()
	require.NotEqual(t, "null", rt.VM().Get("event").String())
}
