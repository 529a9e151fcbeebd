package streams

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dop251/goja"

	"github.com/wot-js/runtime/internal/core"
	"github.com/wot-js/runtime/pkg/metrics"
)

// TLS overlay states. Reads and writes are permitted only in tlsIO.
type tlsState int

const (
	tlsInit tlsState = iota
	tlsHandshaking
	tlsIO
	tlsClosing
)

// TLSOptions configure the overlay at construction.
type TLSOptions struct {
	RejectUnauthorized bool
	ServerName         string
	CACertsPEM         []byte
	CertPEM            []byte
	KeyPEM             []byte
}

// TLSStream couples an encryption engine to the TCP transport. Inbound
// ciphertext is buffered in a bounded ring the engine reads
// synchronously; reading an empty ring blocks, which is the
// asynchronous equivalent of the engine's want-read signal.
type TLSStream struct {
	*TCPStream
	state   tlsState
	opts    TLSOptions
	ring    *ringBuffer
	tlsConn *tls.Conn
}

// NewTLS creates an unconnected TLS handle.
func NewTLS(rt *core.Runtime, opts TLSOptions) *TLSStream {
	t := &TLSStream{TCPStream: NewTCP(rt), opts: opts}
	t.kind = KindTLS
	return t
}

// Connect dials the peer and completes the handshake. The promise does
// not resolve on transport connect; it settles only when the handshake
// reports success, and rejects on transport errors before that.
func (t *TLSStream) Connect(addr string) goja.Value {
	vm := t.rt.VM()
	if t.closed {
		return core.RejectedPromise(vm, core.NewCanceledError("connect").JSValue(vm))
	}
	if t.state != tlsInit {
		return core.RejectedPromise(vm, vm.NewTypeError("already connected"))
	}
	cfg, err := t.clientConfig(addr)
	if err != nil {
		return core.RejectedPromise(vm, t.tlsErrorValue(err))
	}

	ph := &core.PromiseHolder{}
	ph.Init(vm)
	t.connectP = ph
	t.state = tlsHandshaking
	t.acquire()
	go func() {
		conn, err := net.DialTimeout("tcp", addr, 60*time.Second)
		_ = t.rt.Loop().Submit(func() {
			if t.closed {
				if conn != nil {
					_ = conn.Close()
				}
				return
			}
			if err != nil {
				t.release()
				t.state = tlsInit
				t.connectP = nil
				ph.Reject(core.WrapError(err, "connect", "").JSValue(vm))
				return
			}
			t.startHandshake(conn, cfg, ph)
		})
	}()
	return ph.Value(vm)
}

// startHandshake wires the ring and the engine, begins reading
// ciphertext from the transport and runs the handshake off-loop. Runs
// on the loop goroutine with the activity acquired by Connect still
// held; it is released when the handshake settles.
func (t *TLSStream) startHandshake(conn net.Conn, cfg *tls.Config, ph *core.PromiseHolder) {
	t.conn = conn
	t.ring = newRingBuffer(0)
	t.rawSink = t.ring
	t.rawError = t.onTransportError

	bio := &bioConn{ring: t.ring, transport: conn}
	t.tlsConn = tls.Client(bio, cfg)

	// Ciphertext pump: the generic read loop feeds the ring.
	t.Stream.Resume()

	go func() {
		err := t.tlsConn.Handshake()
		_ = t.rt.Loop().Submit(func() {
			t.release()
			t.finishHandshake(err, ph)
		})
	}()
}

func (t *TLSStream) finishHandshake(err error, ph *core.PromiseHolder) {
	t.connectP = nil
	if t.closed {
		return
	}
	if err != nil {
		t.state = tlsClosing
		if ph != nil {
			ph.Reject(t.tlsErrorValue(err))
		}
		t.Close()
		return
	}
	t.state = tlsIO
	t.writeConn = t.tlsConn
	t.noTryWrite = true
	t.writeCh = make(chan *writeReq, 64)
	go t.writeLoop(t.tlsConn, t.writeCh)
	go t.decryptLoop()
	t.emit(evOpen)
	t.emit(evConnect)
	if ph != nil {
		ph.Resolve(goja.Undefined())
	}
}

// decryptLoop reads plaintext out of the engine and emits message
// events; EOF maps to close, other errors to error events.
func (t *TLSStream) decryptLoop() {
	buf := make([]byte, defaultReadSize)
	for {
		n, err := t.tlsConn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			_ = t.rt.Loop().Submit(func() {
				if t.closed || t.state != tlsIO {
					return
				}
				metrics.StreamBytesRead.Add(float64(len(data)))
				t.emit(evMessage, t.rt.Engine().NewUint8Array(data))
			})
		}
		if err != nil {
			teardown := t.teardown.Load()
			isEOF := errors.Is(err, io.EOF)
			_ = t.rt.Loop().Submit(func() {
				if t.closed || teardown {
					return
				}
				if isEOF {
					t.emitCloseOnce()
					return
				}
				t.emitError(&core.UVError{Code: "UV_ERROR", Errno: -4094, Message: tlsErrorString(err)})
			})
			return
		}
	}
}

// onTransportError runs when the ciphertext pump fails; a transport
// error before the handshake completes rejects the connect promise.
func (t *TLSStream) onTransportError(uv *core.UVError) {
	if t.closed {
		return
	}
	if t.state == tlsHandshaking && t.connectP != nil && t.connectP.Pending() {
		ph := t.connectP
		t.connectP = nil
		ph.Reject(uv.JSValue(t.rt.VM()))
		t.Close()
		return
	}
	if t.state == tlsIO {
		t.emitError(uv)
	}
}

// Write encrypts data through the TLS engine. Each record the engine
// produces reaches the transport as its own write, so data larger than
// one record takes several transport writes.
func (t *TLSStream) Write(data []byte) goja.Value {
	vm := t.rt.VM()
	if t.state != tlsIO {
		return core.RejectedPromise(vm, vm.NewTypeError("stream is not established"))
	}
	return t.Stream.Write(data)
}

// Close passes through the closing state so a close-notify goes out
// before the transport drops.
func (t *TLSStream) Close() {
	if t.closed {
		return
	}
	if t.state == tlsIO && t.tlsConn != nil {
		t.state = tlsClosing
		conn := t.tlsConn
		go func() { _ = conn.CloseWrite() }()
	}
	if t.ring != nil {
		t.ring.CloseWithError(io.EOF)
	}
	t.Stream.Close()
}

// Accept upgrades one pending transport connection into a server-side
// overlay; open fires on the new handle once its handshake completes.
func (t *TLSStream) Accept() (*TLSStream, error) {
	if t.acceptCh == nil {
		return nil, fmt.Errorf("handle is not listening")
	}
	select {
	case conn := <-t.acceptCh:
		<-t.acceptSem
		peer := NewTLS(t.rt, t.opts)
		if err := peer.serverHandshake(conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
		return peer, nil
	default:
		return nil, nil
	}
}

func (t *TLSStream) serverHandshake(conn net.Conn) error {
	if len(t.opts.CertPEM) == 0 || len(t.opts.KeyPEM) == 0 {
		return fmt.Errorf("server requires certificate and key")
	}
	cert, err := tls.X509KeyPair(t.opts.CertPEM, t.opts.KeyPEM)
	if err != nil {
		return err
	}
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	t.conn = conn
	t.ring = newRingBuffer(0)
	t.rawSink = t.ring
	t.rawError = t.onTransportError
	bio := &bioConn{ring: t.ring, transport: conn}
	t.tlsConn = tls.Server(bio, cfg)
	t.state = tlsHandshaking
	t.acquire()
	t.Stream.Resume()
	go func() {
		err := t.tlsConn.Handshake()
		_ = t.rt.Loop().Submit(func() {
			t.release()
			t.finishHandshake(err, nil)
		})
	}()
	return nil
}

func (t *TLSStream) clientConfig(addr string) (*tls.Config, error) {
	host := t.opts.ServerName
	if host == "" {
		if h, _, err := net.SplitHostPort(addr); err == nil {
			host = h
		}
	}
	cfg := &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: !t.opts.RejectUnauthorized,
	}
	if len(t.opts.CACertsPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(t.opts.CACertsPEM) {
			return nil, fmt.Errorf("no usable CA certificates")
		}
		cfg.RootCAs = pool
	}
	if len(t.opts.CertPEM) > 0 && len(t.opts.KeyPEM) > 0 {
		cert, err := tls.X509KeyPair(t.opts.CertPEM, t.opts.KeyPEM)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// tlsErrorValue maps an engine error to the JS error shape, attaching
// verifyResult when certificate verification failed.
func (t *TLSStream) tlsErrorValue(err error) goja.Value {
	vm := t.rt.VM()
	obj := vm.NewGoError(fmt.Errorf("%s", tlsErrorString(err)))
	_ = obj.Set("code", "TLS_ERROR")
	var unknownAuthority x509.UnknownAuthorityError
	var invalidCert x509.CertificateInvalidError
	var hostnameErr x509.HostnameError
	switch {
	case errors.As(err, &unknownAuthority):
		_ = obj.Set("verifyResult", "UNABLE_TO_GET_ISSUER_CERT")
	case errors.As(err, &invalidCert):
		_ = obj.Set("verifyResult", "CERT_REJECTED")
	case errors.As(err, &hostnameErr):
		_ = obj.Set("verifyResult", "HOSTNAME_MISMATCH")
	}
	return obj
}

func tlsErrorString(err error) string {
	return "TLS: " + err.Error()
}

// bioConn gives the encryption engine a synchronous byte source/sink
// over the asynchronous transport: reads come from the ciphertext ring,
// writes go straight to the transport from whichever goroutine the
// engine runs on.
type bioConn struct {
	ring      *ringBuffer
	transport net.Conn
}

func (b *bioConn) Read(p []byte) (int, error)  { return b.ring.Read(p) }
func (b *bioConn) Write(p []byte) (int, error) { return b.transport.Write(p) }
func (b *bioConn) Close() error                { return b.transport.Close() }

func (b *bioConn) LocalAddr() net.Addr  { return b.transport.LocalAddr() }
func (b *bioConn) RemoteAddr() net.Addr { return b.transport.RemoteAddr() }

func (b *bioConn) SetDeadline(t time.Time) error { return b.transport.SetWriteDeadline(t) }
func (b *bioConn) SetReadDeadline(time.Time) error {
	// The ring has no deadline; handshake reads block until ciphertext
	// arrives or the ring closes.
	return nil
}
func (b *bioConn) SetWriteDeadline(t time.Time) error { return b.transport.SetWriteDeadline(t) }
