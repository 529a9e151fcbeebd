package streams

import (
	"fmt"
	"net"
	"time"

	"github.com/dop251/goja"

	"github.com/wot-js/runtime/internal/core"
)

// TCPStream is the TCP variant.
type TCPStream struct {
	*Stream
	bindAddr string
	nodelay  bool
}

// NewTCP creates an unconnected TCP handle.
func NewTCP(rt *core.Runtime) *TCPStream {
	return &TCPStream{Stream: newStream(rt, KindTCP)}
}

// Bind records the local address used by Listen.
func (s *TCPStream) Bind(addr string) error {
	if s.closed {
		return fmt.Errorf("handle is closed")
	}
	s.bindAddr = addr
	return nil
}

// Listen starts accepting connections up to backlog pending. A backlog
// of zero accepts none.
func (s *TCPStream) Listen(backlog int) error {
	if s.closed {
		return fmt.Errorf("handle is closed")
	}
	if s.listener != nil {
		return fmt.Errorf("already listening")
	}
	if s.bindAddr == "" {
		return fmt.Errorf("bind required before listen")
	}
	if backlog < 0 {
		backlog = 0
	}
	ln, err := net.Listen("tcp", s.bindAddr)
	if err != nil {
		return core.WrapError(err, "listen", "")
	}
	s.listener = ln
	s.acceptCh = make(chan net.Conn, backlog)
	s.acceptSem = make(chan struct{}, backlog)
	s.acquire()
	if backlog == 0 {
		// Zero backlog: hold the listener open but accept nothing.
		return nil
	}
	go s.acceptLoop(ln, backlog)
	return nil
}

func (s *TCPStream) acceptLoop(ln net.Listener, backlog int) {
	for {
		s.acceptSem <- struct{}{}
		conn, err := ln.Accept()
		if err != nil {
			if !s.teardown.Load() {
				uv := core.WrapError(err, "accept", "")
				_ = s.rt.Loop().Submit(func() {
					if !s.closed {
						s.emitError(uv)
					}
				})
			}
			return
		}
		select {
		case s.acceptCh <- conn:
		default:
			_ = conn.Close()
			<-s.acceptSem
			continue
		}
		_ = s.rt.Loop().Submit(func() {
			if s.closed {
				return
			}
			s.emit(evConnection)
		})
	}
}

// Accept takes one pending connection and wraps it in a new handle of
// the same variant.
func (s *TCPStream) Accept() (*TCPStream, error) {
	if s.acceptCh == nil {
		return nil, fmt.Errorf("handle is not listening")
	}
	select {
	case conn := <-s.acceptCh:
		<-s.acceptSem
		peer := NewTCP(s.rt)
		peer.setConn(conn)
		return peer, nil
	default:
		return nil, nil
	}
}

// Connect dials the peer; the returned promise settles on the connect
// callback. Closing the stream first rejects it with a cancellation
// error.
func (s *TCPStream) Connect(addr string) goja.Value {
	vm := s.rt.VM()
	if s.closed {
		return core.RejectedPromise(vm, core.NewCanceledError("connect").JSValue(vm))
	}
	if s.conn != nil || s.connectP != nil {
		return core.RejectedPromise(vm, vm.NewTypeError("already connected"))
	}
	ph := &core.PromiseHolder{}
	ph.Init(vm)
	s.connectP = ph
	s.acquire()
	go func() {
		conn, err := net.DialTimeout("tcp", addr, 60*time.Second)
		_ = s.rt.Loop().Submit(func() {
			s.release()
			if s.closed {
				if conn != nil {
					_ = conn.Close()
				}
				return
			}
			if err != nil {
				ph.Reject(core.WrapError(err, "connect", "").JSValue(vm))
				s.connectP = nil
				return
			}
			s.onConnected(conn, ph)
		})
	}()
	return ph.Value(vm)
}

// onConnected finishes a successful dial: attach the transport, apply
// socket options, emit open and connect, settle the promise.
func (s *TCPStream) onConnected(conn net.Conn, ph *core.PromiseHolder) {
	s.setConn(conn)
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(s.nodelay)
	}
	s.emit(evOpen)
	s.emit(evConnect)
	ph.Resolve(goja.Undefined())
	s.connectP = nil
}

// SetNoDelay toggles Nagle's algorithm.
func (s *TCPStream) SetNoDelay(enable bool) {
	s.nodelay = enable
	if tc, ok := s.conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(enable)
	}
}

// SetKeepAlive configures TCP keepalive probes.
func (s *TCPStream) SetKeepAlive(enable bool, delay time.Duration) {
	tc, ok := s.conn.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetKeepAlive(enable)
	if enable && delay > 0 {
		_ = tc.SetKeepAlivePeriod(delay)
	}
}

// SockName reports the local address: the listener's or the
// connection's. Before listen or connect it returns nil, even after Bind.
func (s *TCPStream) SockName() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	if s.conn != nil {
		return s.conn.LocalAddr()
	}
	return nil
}

// PeerName reports the remote address.
func (s *TCPStream) PeerName() net.Addr {
	if s.conn != nil {
		return s.conn.RemoteAddr()
	}
	return nil
}
