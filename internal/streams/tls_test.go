package streams

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// garbageServer accepts one connection and answers any client hello
// with bytes that are not a TLS record.
func garbageServer(t *testing.T) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 4096)
		_, _ = conn.Read(buf)
		_, _ = conn.Write([]byte("definitely not tls"))
		time.Sleep(100 * time.Millisecond)
		_ = conn.Close()
	}()
	return ln.Addr()
}

func TestTLSHandshakeFailureRejectsConnect(t *testing.T) {
	rt := newTestRuntime(t)
	addr := garbageServer(t)
	require.NoError(t, rt.VM().Set("target", addr.String()))
	_, err := rt.EvalScript("tlsfail.js", `
		globalThis.message = null;
		globalThis.opened = false;
		const c = new TLS({ rejectUnauthorized: false });
		c.onopen = () => { globalThis.opened = true; };
		c.connect(target).catch((e) => {
			globalThis.message = String(e.message || e);
			c.close();
		});
	`)
	require.NoError(t, err)
	rt.Run()
	require.Contains(t, rt.VM().Get("message").String(), "TLS")
	require.False(t, rt.VM().Get("opened").ToBoolean(), "no open event on failed handshake")
}

func TestTLSTransportDropRejectsBeforeHandshake(t *testing.T) {
	rt := newTestRuntime(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = conn.Close()
	}()

	require.NoError(t, rt.VM().Set("target", ln.Addr().String()))
	_, err = rt.EvalScript("tlsdrop.js", `
		globalThis.rejected = false;
		const c = new TLS({ rejectUnauthorized: false });
		c.connect(target).catch(() => {
			globalThis.rejected = true;
			c.close();
		});
	`)
	require.NoError(t, err)
	rt.Run()
	require.True(t, rt.VM().Get("rejected").ToBoolean())
}

// selfSignedPair generates a throwaway server certificate.
func selfSignedPair(t *testing.T) (certPEM, keyPEM []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

func TestTLSEchoOverLoopback(t *testing.T) {
	rt := newTestRuntime(t)
	certPEM, keyPEM := selfSignedPair(t)
	require.NoError(t, rt.VM().Set("certPem", string(certPEM)))
	require.NoError(t, rt.VM().Set("keyPem", string(keyPEM)))
	_, err := rt.EvalScript("tlsecho.js", `
		globalThis.result = '';
		const server = new TLS({ cert: certPem, key: keyPem });
		server.bind('127.0.0.1:0');
		server.listen(2);
		let peer = null;
		server.onconnection = () => {
			peer = server.accept();
			peer.onmessage = (data) => { peer.write(data); };
		};
		const addr = server.sockname();
		const client = new TLS({ rejectUnauthorized: false });
		client.connect({ address: addr.address, port: addr.port }).then(() => {
			client.onmessage = (data) => {
				globalThis.result = String.fromCharCode.apply(null, Array.from(data));
				client.close();
				if (peer) peer.close();
				server.close();
			};
			client.write('secret');
		});
	`)
	require.NoError(t, err)
	rt.Run()
	require.Equal(t, "secret", rt.VM().Get("result").String())
}

func TestTLSWriteOutsideIOStateRejects(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := rt.EvalScript("tlsearly.js", `
		globalThis.rejected = false;
		const c = new TLS({});
		c.write('early').catch(() => { globalThis.rejected = true; });
		c.close();
	`)
	require.NoError(t, err)
	rt.Run()
	require.True(t, rt.VM().Get("rejected").ToBoolean())
}

func TestRingBufferBlockingAndClose(t *testing.T) {
	rb := newRingBuffer(8)
	go func() {
		_, _ = rb.Write([]byte("0123456789abcdef"))
		rb.CloseWithError(nil)
	}()
	out := make([]byte, 0, 16)
	buf := make([]byte, 4)
	for {
		n, err := rb.Read(buf)
		out = append(out, buf[:n]...)
		if err != nil {
			break
		}
		if len(out) == 16 {
			// Drain the close.
			_, err = rb.Read(buf)
			require.Error(t, err)
			break
		}
	}
	require.Equal(t, "0123456789abcdef", string(out))
}
