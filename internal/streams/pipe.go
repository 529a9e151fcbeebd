package streams

import (
	"fmt"
	"net"
	"time"

	"github.com/dop251/goja"

	"github.com/wot-js/runtime/internal/core"
)

// PipeStream is the local-IPC variant: unix domain sockets on disk, or
// an in-process duplex channel such as the worker byte pipe.
type PipeStream struct {
	*Stream
	bindPath string
}

// NewPipe creates an unconnected pipe handle.
func NewPipe(rt *core.Runtime) *PipeStream {
	return &PipeStream{Stream: newStream(rt, KindPipe)}
}

// NewPipeWithConn wraps an already-connected transport, e.g. one end of
// a worker channel pair.
func NewPipeWithConn(rt *core.Runtime, conn net.Conn) *PipeStream {
	p := NewPipe(rt)
	p.setConn(conn)
	return p
}

// Bind records the socket path used by Listen.
func (s *PipeStream) Bind(path string) error {
	if s.closed {
		return fmt.Errorf("handle is closed")
	}
	s.bindPath = path
	return nil
}

// Listen starts accepting connections on the bound path.
func (s *PipeStream) Listen(backlog int) error {
	if s.closed {
		return fmt.Errorf("handle is closed")
	}
	if s.listener != nil {
		return fmt.Errorf("already listening")
	}
	if s.bindPath == "" {
		return fmt.Errorf("bind required before listen")
	}
	if backlog < 0 {
		backlog = 0
	}
	ln, err := net.Listen("unix", s.bindPath)
	if err != nil {
		return core.WrapError(err, "listen", s.bindPath)
	}
	s.listener = ln
	s.acceptCh = make(chan net.Conn, backlog+1)
	s.acceptSem = make(chan struct{}, backlog+1)
	s.acquire()
	if backlog == 0 {
		return nil
	}
	go s.acceptLoop(ln)
	return nil
}

func (s *PipeStream) acceptLoop(ln net.Listener) {
	for {
		s.acceptSem <- struct{}{}
		conn, err := ln.Accept()
		if err != nil {
			if !s.teardown.Load() {
				uv := core.WrapError(err, "accept", s.bindPath)
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

// Accept takes one pending connection as a new pipe handle.
func (s *PipeStream) Accept() (*PipeStream, error) {
	if s.acceptCh == nil {
		return nil, fmt.Errorf("handle is not listening")
	}
	select {
	case conn := <-s.acceptCh:
		<-s.acceptSem
		peer := NewPipe(s.rt)
		peer.setConn(conn)
		return peer, nil
	default:
		return nil, nil
	}
}

// Connect dials a unix socket path.
func (s *PipeStream) Connect(path string) goja.Value {
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
		conn, err := net.DialTimeout("unix", path, 30*time.Second)
		_ = s.rt.Loop().Submit(func() {
			s.release()
			if s.closed {
				if conn != nil {
					_ = conn.Close()
				}
				return
			}
			if err != nil {
				ph.Reject(core.WrapError(err, "connect", path).JSValue(vm))
				s.connectP = nil
				return
			}
			s.setConn(conn)
			s.emit(evOpen)
			s.emit(evConnect)
			ph.Resolve(goja.Undefined())
			s.connectP = nil
		})
	}()
	return ph.Value(vm)
}

// SockName reports the local socket path.
func (s *PipeStream) SockName() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	if s.conn != nil {
		return s.conn.LocalAddr()
	}
	return nil
}

// PeerName reports the remote socket path.
func (s *PipeStream) PeerName() net.Addr {
	if s.conn != nil {
		return s.conn.RemoteAddr()
	}
	return nil
}
