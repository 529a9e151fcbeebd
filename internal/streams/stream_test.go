package streams

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

func TestEchoTCPServer(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("echo.js", `
		globalThis.result = '';
		const server = new TCP();
		server.bind('127.0.0.1:0');
		server.listen(8);
		server.onconnection = () => {
			const peer = server.accept();
			peer.onmessage = (data) => { peer.write(data); };
		};
		const addr = server.sockname();
		const client = new TCP();
		client.connect({ address: addr.address, port: addr.port }).then(() => {
			client.onmessage = (data) => {
				globalThis.result = String.fromCharCode.apply(null, Array.from(data));
				client.close();
				server.close();
			};
			client.write('ping');
		});
	`)
	require.NoError(t, err)
	rt.Run()
	require.Equal(t, "ping", rt.VM().Get("result").String())
}

func TestDoubleCloseIsNoop(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("dclose.js", `
		const s = new TCP();
		s.close();
		s.close();
		globalThis.ok = true;
	`)
	require.NoError(t, err)
	rt.Run()
	require.True(t, rt.VM().Get("ok").ToBoolean())
}

func TestCloseEmitsCloseEventOnce(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("closeonce.js", `
		globalThis.closes = 0;
		const s = new TCP();
		s.onclose = () => { globalThis.closes++; };
		s.close();
		s.close();
	`)
	require.NoError(t, err)
	rt.Run()
	require.Equal(t, int64(1), rt.VM().Get("closes").ToInteger())
}

func TestEmptyWriteResolvesWithoutTransport(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("emptywrite.js", `
		globalThis.resolved = false;
		const server = new TCP();
		server.bind('127.0.0.1:0');
		server.listen(1);
		const addr = server.sockname();
		const client = new TCP();
		client.connect({ address: addr.address, port: addr.port }).then(() => {
			client.write('').then(() => {
				globalThis.resolved = true;
				client.close();
				server.close();
			});
		});
	`)
	require.NoError(t, err)
	rt.Run()
	require.True(t, rt.VM().Get("resolved").ToBoolean())
}

func TestWriteOrderPreserved(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("order.js", `
		globalThis.received = '';
		const server = new TCP();
		server.bind('127.0.0.1:0');
		server.listen(4);
		server.onconnection = () => {
			const peer = server.accept();
			peer.onmessage = (data) => {
				globalThis.received += String.fromCharCode.apply(null, Array.from(data));
				if (globalThis.received.length >= 6) {
					peer.close();
					server.close();
					client.close();
				}
			};
		};
		const addr = server.sockname();
		const client = new TCP();
		client.connect({ address: addr.address, port: addr.port }).then(() => {
			client.write('ab');
			client.write('cd');
			client.write('ef');
		});
	`)
	require.NoError(t, err)
	rt.Run()
	require.Equal(t, "abcdef", rt.VM().Get("received").String())
}

func TestConnectRefusedRejectsPromise(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("refused.js", `
		globalThis.code = null;
		const c = new TCP();
		c.connect('127.0.0.1:1').catch((e) => {
			globalThis.code = e.code;
			c.close();
		});
	`)
	require.NoError(t, err)
	rt.Run()
	require.Equal(t, "UV_ERROR", rt.VM().Get("code").String())
}

func TestCloseCancelsPendingConnect(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("cancel.js", `
		globalThis.rejected = false;
		const c = new TCP();
		// Reserved TEST-NET address: the dial will hang until cancelled.
		c.connect('192.0.2.1:9').catch(() => { globalThis.rejected = true; });
		c.close();
	`)
	require.NoError(t, err)
	rt.Run()
	require.True(t, rt.VM().Get("rejected").ToBoolean())
}

func TestSocknamePortAssigned(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("sockname.js", `
		const s = new TCP();
		s.bind('127.0.0.1:0');
		s.listen(1);
		const addr = s.sockname();
		globalThis.port = addr.port;
		globalThis.family = addr.family;
		s.close();
	`)
	require.NoError(t, err)
	rt.Run()
	require.Greater(t, rt.VM().Get("port").ToInteger(), int64(0))
	require.Equal(t, "ipv4", rt.VM().Get("family").String())
}

func TestListenBacklogZeroAcceptsNoConnections(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("backlog0.js", `
		globalThis.connections = 0;
		const server = new TCP();
		server.bind('127.0.0.1:0');
		server.listen(0);
		server.onconnection = () => { globalThis.connections++; };
		const addr = server.sockname();
		const client = new TCP();
		client.connect({ address: addr.address, port: addr.port })
			.catch(() => {})
			.then(() => {
				setTimeout(() => {
					client.close();
					server.close();
				}, 50);
			});
	`)
	require.NoError(t, err)
	rt.Run()
	require.Equal(t, int64(0), rt.VM().Get("connections").ToInteger())
}

func TestUDPRoundTrip(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("udp.js", `
		globalThis.got = '';
		const a = new UDP();
		a.bind('127.0.0.1:0');
		const b = new UDP();
		b.bind('127.0.0.1:0');
		a.onmessage = (data, from) => {
			globalThis.got = String.fromCharCode.apply(null, Array.from(data));
			globalThis.fromPort = from.port;
			a.close();
			b.close();
		};
		const target = a.sockname();
		b.send('dgram', { address: target.address, port: target.port });
	`)
	require.NoError(t, err)
	rt.Run()
	require.Equal(t, "dgram", rt.VM().Get("got").String())
	require.Greater(t, rt.VM().Get("fromPort").ToInteger(), int64(0))
}

func TestPipeOverUnixSocket(t *testing.T) {
	rt := newTestRuntime(t)
	dir := t.TempDir()
	require.NoError(t, rt.VM().Set("sockPath", dir+"/echo.sock"))
	_, err := rt.EvalScript("pipe.js", `
		globalThis.result = '';
		const server = new Pipe();
		server.bind(sockPath);
		server.listen(2);
		server.onconnection = () => {
			const peer = server.accept();
			peer.onmessage = (data) => { peer.write(data); };
		};
		const client = new Pipe();
		client.connect(sockPath).then(() => {
			client.onmessage = (data) => {
				globalThis.result = String.fromCharCode.apply(null, Array.from(data));
				client.close();
				server.close();
			};
			client.write('local');
		});
	`)
	require.NoError(t, err)
	rt.Run()
	require.Equal(t, "local", rt.VM().Get("result").String())
}

func TestReleaseRequiresCloseAndFinalize(t *testing.T) {
	rt := newTestRuntime(t)
	s := NewTCP(rt)
	require.False(t, s.Released())

	s.Close()
	rt.Run()
	require.False(t, s.Released(), "close alone must not release")

	s.MarkFinalized()
	rt.Run()
	require.True(t, s.Released(), "close + finalize releases")
}

func TestFinalizeAloneClosesButNeedsCallback(t *testing.T) {
	rt := newTestRuntime(t)
	s := NewTCP(rt)
	s.MarkFinalized()
	require.True(t, s.Closed())
	rt.Run()
	require.True(t, s.Released())
}

func TestBufferedAmountVisible(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("buffered.js", `
		const s = new TCP();
		globalThis.amount = s.bufferedAmount;
		s.close();
	`)
	require.NoError(t, err)
	rt.Run()
	require.Equal(t, int64(0), rt.VM().Get("amount").ToInteger())
}

func TestPauseStopsDeliveryResumeRestores(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("pause.js", `
		globalThis.count = 0;
		const server = new TCP();
		server.bind('127.0.0.1:0');
		server.listen(2);
		server.onconnection = () => {
			const peer = server.accept();
			peer.onmessage = () => {
				globalThis.count++;
				peer.pause();
				setTimeout(() => { peer.resume(); }, 5);
				if (globalThis.count >= 2) {
					peer.close();
					server.close();
					client.close();
				}
			};
		};
		const addr = server.sockname();
		const client = new TCP();
		client.connect({ address: addr.address, port: addr.port }).then(() => {
			client.write('one');
			setTimeout(() => { client.write('two'); }, 10);
		});
	`)
	require.NoError(t, err)
	rt.Run()
	require.GreaterOrEqual(t, rt.VM().Get("count").ToInteger(), int64(2))
}
