package streams

import (
	"fmt"
	"net"

	"github.com/dop251/goja"

	"github.com/wot-js/runtime/internal/core"
	"github.com/wot-js/runtime/pkg/metrics"
	"golang.org/x/sys/unix"
)

// UDPStream is the datagram variant. Message events carry the payload
// and the sender address; Send targets an explicit peer.
type UDPStream struct {
	*Stream
	udp *net.UDPConn
}

// NewUDP creates an unbound UDP handle.
func NewUDP(rt *core.Runtime) *UDPStream {
	return &UDPStream{Stream: newStream(rt, KindUDP)}
}

// Bind opens the local socket.
func (s *UDPStream) Bind(addr string) error {
	if s.closed {
		return fmt.Errorf("handle is closed")
	}
	if s.udp != nil {
		return fmt.Errorf("already bound")
	}
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return core.WrapError(err, "bind", "")
	}
	conn, err := net.ListenUDP("udp", ua)
	if err != nil {
		return core.WrapError(err, "bind", "")
	}
	s.udp = conn
	s.conn = conn
	return nil
}

// Resume starts the datagram receive loop; the generic byte loop does
// not apply because each message carries its peer address.
func (s *UDPStream) Resume() {
	if s.closed || s.udp == nil || s.readStarted {
		if s.readStarted {
			s.Stream.Resume()
		}
		return
	}
	s.readStarted = true
	s.pausedFlag.Store(false)
	s.acquire()
	go s.recvLoop()
}

func (s *UDPStream) recvLoop() {
	buf := make([]byte, defaultReadSize)
	for {
		if s.teardown.Load() {
			return
		}
		if s.pausedFlag.Load() {
			<-s.resumeCh
			continue
		}
		n, peer, err := s.udp.ReadFromUDP(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			from := peer
			_ = s.rt.Loop().Submit(func() {
				if s.closed {
					return
				}
				metrics.StreamBytesRead.Add(float64(len(data)))
				vm := s.rt.VM()
				s.emit(evMessage, s.rt.Engine().NewUint8Array(data), addrObject(vm, from))
			})
		}
		if err != nil {
			s.deliverReadError(err)
			return
		}
	}
}

// Send transmits one datagram. Datagram sends do not block, so the
// promise settles synchronously.
func (s *UDPStream) Send(data []byte, addr string) goja.Value {
	vm := s.rt.VM()
	if s.closed || s.udp == nil {
		return core.RejectedPromise(vm, core.NewCanceledError("send").JSValue(vm))
	}
	if len(data) == 0 {
		return core.ResolvedPromise(vm, goja.Undefined())
	}
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return core.RejectedPromise(vm, core.WrapError(err, "send", "").JSValue(vm))
	}
	if _, err := s.udp.WriteToUDP(data, ua); err != nil {
		return core.RejectedPromise(vm, core.WrapError(err, "send", "").JSValue(vm))
	}
	metrics.StreamBytesWritten.Add(float64(len(data)))
	return core.ResolvedPromise(vm, goja.Undefined())
}

// SetBroadcast toggles SO_BROADCAST.
func (s *UDPStream) SetBroadcast(enable bool) error {
	return s.setSockOptInt(unix.SOL_SOCKET, unix.SO_BROADCAST, boolToInt(enable))
}

// SetTTL sets the unicast hop limit.
func (s *UDPStream) SetTTL(ttl int) error {
	return s.setSockOptInt(unix.IPPROTO_IP, unix.IP_TTL, ttl)
}

// JoinGroup subscribes to a multicast group on the default interface.
func (s *UDPStream) JoinGroup(group string) error {
	ip := net.ParseIP(group)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("invalid multicast group '%s'", group)
	}
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], ip.To4())
	return s.controlSocket(func(fd int) error {
		return unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
	})
}

// LeaveGroup drops a multicast subscription.
func (s *UDPStream) LeaveGroup(group string) error {
	ip := net.ParseIP(group)
	if ip == nil || ip.To4() == nil {
		return fmt.Errorf("invalid multicast group '%s'", group)
	}
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], ip.To4())
	return s.controlSocket(func(fd int) error {
		return unix.SetsockoptIPMreq(fd, unix.IPPROTO_IP, unix.IP_DROP_MEMBERSHIP, mreq)
	})
}

func (s *UDPStream) setSockOptInt(level, opt, value int) error {
	return s.controlSocket(func(fd int) error {
		return unix.SetsockoptInt(fd, level, opt, value)
	})
}

func (s *UDPStream) controlSocket(fn func(fd int) error) error {
	if s.udp == nil {
		return fmt.Errorf("handle is not bound")
	}
	raw, err := s.udp.SyscallConn()
	if err != nil {
		return core.WrapError(err, "setsockopt", "")
	}
	var opErr error
	if err := raw.Control(func(fd uintptr) { opErr = fn(int(fd)) }); err != nil {
		return core.WrapError(err, "setsockopt", "")
	}
	if opErr != nil {
		return core.WrapError(opErr, "setsockopt", "")
	}
	return nil
}

// SockName reports the bound address.
func (s *UDPStream) SockName() net.Addr {
	if s.udp != nil {
		return s.udp.LocalAddr()
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
