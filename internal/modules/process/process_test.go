package process

import (
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

func TestEnvRoundTrip(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("env.js", `
		const process = require('process');
		process.setenv('WOTJS_TEST_KEY', 'v1');
		globalThis.got = process.getenv('WOTJS_TEST_KEY');
		process.unsetenv('WOTJS_TEST_KEY');
		globalThis.gone = process.getenv('WOTJS_TEST_KEY') === undefined;
	`)
	require.NoError(t, err)
	require.Equal(t, "v1", rt.VM().Get("got").String())
	require.True(t, rt.VM().Get("gone").ToBoolean())
}

func TestSetExitCodeThenExit(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("exit.js", `
		const process = require('process');
		process.setExitCode(5);
		setTimeout(() => { process.exit(); }, 1);
		setInterval(() => {}, 100);
	`)
	require.NoError(t, err)
	require.Equal(t, 5, rt.Run())
}

func TestExitWithExplicitCode(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("exit2.js", `
		const process = require('process');
		setTimeout(() => { process.exit(3); }, 1);
	`)
	require.NoError(t, err)
	require.Equal(t, 3, rt.Run())
}

func TestArgsExposed(t *testing.T) {
	SetArgs("tjs", "main.js", []string{"main.js", "--flag"})
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("args.js", `
		const process = require('process');
		globalThis.command = process.command;
		globalThis.script = process.scriptPath;
		globalThis.argCount = process.args.length;
	`)
	require.NoError(t, err)
	require.Equal(t, "tjs", rt.VM().Get("command").String())
	require.Equal(t, "main.js", rt.VM().Get("script").String())
	require.Equal(t, int64(2), rt.VM().Get("argCount").ToInteger())
}

func TestCwdAndTmpdir(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("paths.js", `
		const process = require('process');
		globalThis.cwd = process.cwd();
		globalThis.tmp = process.tmpdir();
	`)
	require.NoError(t, err)
	require.NotEmpty(t, rt.VM().Get("cwd").String())
	require.NotEmpty(t, rt.VM().Get("tmp").String())
}
