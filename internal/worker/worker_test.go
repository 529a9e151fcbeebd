package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

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

func writeScript(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestWorkerRoundTrip(t *testing.T) {
	rt := newTestRuntime(t)
	script := writeScript(t, "incr.js", `
		globalThis.onmessage = (e) => {
			postMessage(e.data + 1);
		};
	`)
	require.NoError(t, rt.VM().Set("scriptPath", script))
	_, err := rt.EvalScript("spawn.js", `
		globalThis.answer = null;
		const w = new Worker(scriptPath);
		w.onmessage = (e) => {
			globalThis.answer = e.data;
			w.terminate();
		};
		w.postMessage(41);
	`)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		rt.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker round trip did not finish")
	}
	require.Equal(t, int64(42), rt.VM().Get("answer").ToInteger())
}

func TestWorkerStructuredTransferIsJSONClone(t *testing.T) {
	rt := newTestRuntime(t)
	script := writeScript(t, "echo.js", `
		globalThis.onmessage = (e) => { postMessage(e.data); };
	`)
	require.NoError(t, rt.VM().Set("scriptPath", script))
	_, err := rt.EvalScript("clone.js", `
		globalThis.got = null;
		const w = new Worker(scriptPath);
		w.onmessage = (e) => {
			globalThis.got = JSON.stringify(e.data);
			w.terminate();
		};
		w.postMessage({ nested: { list: [1, 2, 3], ok: true }, name: 'edge' });
	`)
	require.NoError(t, err)
	rt.Run()
	require.JSONEq(t, `{"nested":{"list":[1,2,3],"ok":true},"name":"edge"}`, rt.VM().Get("got").String())
}

func TestWorkerPostMessageRefusesFunctions(t *testing.T) {
	rt := newTestRuntime(t)
	script := writeScript(t, "noop.js", `globalThis.onmessage = () => {};`)
	require.NoError(t, rt.VM().Set("scriptPath", script))
	_, err := rt.EvalScript("refuse.js", `
		const w = new Worker(scriptPath);
		globalThis.threw = false;
		try {
			w.postMessage(function() {});
		} catch (e) {
			globalThis.threw = true;
		}
		w.terminate();
	`)
	require.NoError(t, err)
	rt.Run()
	require.True(t, rt.VM().Get("threw").ToBoolean())
}

func TestWorkerTerminateIsIdempotent(t *testing.T) {
	rt := newTestRuntime(t)
	script := writeScript(t, "idle.js", `setInterval(() => {}, 1000);`)
	w, err := New(rt, script)
	require.NoError(t, err)
	w.Terminate()
	w.Terminate()
}

func TestWorkerMissingScriptFailsSpawnLate(t *testing.T) {
	rt := newTestRuntime(t)
	// Spawn succeeds; the script evaluation error surfaces through the
	// worker's own error path, not the constructor.
	w, err := New(rt, filepath.Join(t.TempDir(), "missing.js"))
	require.NoError(t, err)
	w.Terminate()
}
