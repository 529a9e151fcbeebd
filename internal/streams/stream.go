// Package streams implements the uniform handle model shared by TCP,
// Pipe, TTY, UDP and TLS: one lifecycle, one event surface, one
// write-queue contract. Protocol-specific operations live in the
// per-variant files; the TLS overlay funnels an encryption engine
// through the same transport.
package streams

import (
	"errors"
	"io"
	"net"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dop251/goja"

	"github.com/wot-js/runtime/internal/core"
	"github.com/wot-js/runtime/pkg/metrics"
)

// defaultReadSize is the per-read allocation for inbound data.
const defaultReadSize = 64 * 1024

// Kind tags the stream variant.
type Kind int

const (
	KindTCP Kind = iota
	KindPipe
	KindTTY
	KindUDP
	KindTLS
)

func (k Kind) String() string {
	switch k {
	case KindTCP:
		return "tcp"
	case KindPipe:
		return "pipe"
	case KindTTY:
		return "tty"
	case KindUDP:
		return "udp"
	case KindTLS:
		return "tls"
	}
	return "stream"
}

// Event slot names.
const (
	evOpen       = "open"
	evConnect    = "connect"
	evConnection = "connection"
	evClose      = "close"
	evError      = "error"
	evMessage    = "message"
)

var eventSlots = []string{evOpen, evConnect, evConnection, evClose, evError, evMessage}

type writeReq struct {
	data     []byte
	ph       *core.PromiseHolder
	shutdown bool
}

// Stream is the variant-independent part of a handle. All fields are
// owned by the loop goroutine except where noted.
type Stream struct {
	rt     *core.Runtime
	handle interface {
		Ref()
		Unref()
		HasRef() bool
		Close(func())
	}
	hStart func()
	hStop  func()

	id   uint64
	kind Kind

	conn     net.Conn
	listener net.Listener

	// writeConn is where writes go; the TLS overlay points it at the
	// encrypting connection while conn stays the raw transport.
	writeConn net.Conn
	// noTryWrite disables the synchronous fast path for transports
	// whose state a timed-out write would corrupt.
	noTryWrite bool

	slots map[string]goja.Value

	// rawSink, when set, receives inbound bytes directly on the reader
	// goroutine instead of message events. The TLS overlay points it at
	// its ciphertext ring.
	rawSink interface {
		Write([]byte) (int, error)
		CloseWithError(error)
	}
	// rawError delivers transport errors on the loop goroutine when
	// rawSink is active.
	rawError func(*core.UVError)

	readStarted bool
	pausedFlag  atomic.Bool
	resumeCh    chan struct{}
	teardown    atomic.Bool

	writeCh  chan *writeReq
	buffered int64 // atomic

	// activity counts reasons the handle is active: reading, listening,
	// connecting, pending writes.
	activity int

	connectP *core.PromiseHolder

	acceptCh  chan net.Conn
	acceptSem chan struct{}

	closed          bool
	closeEventFired bool
	closeDone       bool
	finalized       bool
	released        bool

	debug bool
}

// newStream allocates the shared part of a handle.
func newStream(rt *core.Runtime, kind Kind) *Stream {
	h := rt.Loop().NewHandle()
	s := &Stream{
		rt:       rt,
		handle:   h,
		hStart:   h.Start,
		hStop:    h.Stop,
		id:       rt.NextHandleID(),
		kind:     kind,
		slots:    make(map[string]goja.Value),
		resumeCh: make(chan struct{}, 1),
	}
	metrics.ActiveStreams.Inc()
	return s
}

// acquire/release track reasons to keep the loop alive.
func (s *Stream) acquire() {
	s.activity++
	if s.activity == 1 {
		s.hStart()
	}
}

func (s *Stream) release() {
	if s.activity == 0 {
		return
	}
	s.activity--
	if s.activity == 0 {
		s.hStop()
	}
}

// setConn attaches the established transport and starts the writer.
func (s *Stream) setConn(conn net.Conn) {
	s.conn = conn
	s.writeConn = conn
	s.writeCh = make(chan *writeReq, 64)
	go s.writeLoop(conn, s.writeCh)
}

// emit invokes an event slot. Exceptions go to the error dumper.
func (s *Stream) emit(event string, args ...goja.Value) {
	cb, ok := s.slots[event]
	if !ok || cb == nil {
		return
	}
	if _, err := s.rt.Engine().Call(cb, goja.Undefined(), args...); err != nil {
		s.rt.DumpError(err)
	}
}

func (s *Stream) emitError(uv *core.UVError) {
	s.emit(evError, uv.JSValue(s.rt.VM()))
}

// emitCloseOnce delivers the close event exactly once over the handle's
// lifetime, whether it comes from EOF or explicit close.
func (s *Stream) emitCloseOnce() {
	if s.closeEventFired {
		return
	}
	s.closeEventFired = true
	s.emit(evClose)
}

// setSlot installs or clears an event callback. The binding layer
// auto-resumes reading when onmessage is installed.
func (s *Stream) setSlot(event string, v goja.Value) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		delete(s.slots, event)
		return
	}
	if _, ok := goja.AssertFunction(v); !ok {
		panic(s.rt.VM().NewTypeError("event handler must be a function"))
	}
	s.slots[event] = v
}

func (s *Stream) slot(event string) goja.Value {
	if v, ok := s.slots[event]; ok {
		return v
	}
	return goja.Null()
}

// Resume starts or resumes reading.
func (s *Stream) Resume() {
	if s.closed || s.conn == nil {
		return
	}
	if !s.readStarted {
		s.readStarted = true
		s.pausedFlag.Store(false)
		s.acquire()
		go s.readLoop(s.conn)
		return
	}
	if s.pausedFlag.Swap(false) {
		s.acquire()
		select {
		case s.resumeCh <- struct{}{}:
		default:
		}
	}
}

// Pause stops reading without dropping the read-started intent.
func (s *Stream) Pause() {
	if !s.readStarted || s.pausedFlag.Swap(true) {
		return
	}
	s.release()
}

func (s *Stream) readLoop(conn net.Conn) {
	buf := make([]byte, defaultReadSize)
	for {
		if s.teardown.Load() {
			return
		}
		if s.pausedFlag.Load() {
			<-s.resumeCh
			continue
		}
		n, err := conn.Read(buf)
		if n > 0 {
			if s.rawSink != nil {
				if _, werr := s.rawSink.Write(buf[:n]); werr != nil {
					return
				}
			} else {
				data := make([]byte, n)
				copy(data, buf[:n])
				_ = s.rt.Loop().Submit(func() {
					if s.closed {
						return
					}
					metrics.StreamBytesRead.Add(float64(len(data)))
					s.emit(evMessage, s.rt.Engine().NewUint8Array(data))
				})
			}
		}
		if err != nil {
			s.deliverReadError(err)
			return
		}
	}
}

// deliverReadError routes the end of a read loop: EOF emits close,
// anything else stops reading and emits error. Errors caused by our own
// teardown are dropped.
func (s *Stream) deliverReadError(err error) {
	if s.teardown.Load() {
		if s.rawSink != nil {
			s.rawSink.CloseWithError(io.EOF)
		}
		return
	}
	uv := core.WrapError(err, "read", "")
	if s.rawSink != nil {
		if errors.Is(err, io.EOF) {
			s.rawSink.CloseWithError(io.EOF)
		} else {
			s.rawSink.CloseWithError(uv)
		}
		cb := s.rawError
		if cb != nil {
			_ = s.rt.Loop().Submit(func() { cb(uv) })
		}
		return
	}
	_ = s.rt.Loop().Submit(func() {
		s.readStarted = false
		s.release()
		if s.closed {
			return
		}
		if core.IsEOF(uv) {
			s.emitCloseOnce()
			return
		}
		s.emitError(uv)
	})
}

// Write implements the try-write plus async-write split. A write fully
// accepted synchronously returns an already-resolved promise; an empty
// write resolves without touching the transport.
func (s *Stream) Write(data []byte) goja.Value {
	vm := s.rt.VM()
	if s.closed || s.conn == nil {
		return core.RejectedPromise(vm, core.NewCanceledError("write").JSValue(vm))
	}
	if len(data) == 0 {
		return core.ResolvedPromise(vm, goja.Undefined())
	}

	written := 0
	if s.activityWrites() == 0 && !s.noTryWrite {
		written = s.tryWrite(data)
		metrics.StreamBytesWritten.Add(float64(written))
		if written == len(data) {
			return core.ResolvedPromise(vm, goja.Undefined())
		}
	}

	if s.writeCh == nil {
		return core.RejectedPromise(vm, vm.NewTypeError("handle does not support queued writes"))
	}
	remainder := make([]byte, len(data)-written)
	copy(remainder, data[written:])
	return s.enqueueWrite(&writeReq{data: remainder})
}

func (s *Stream) activityWrites() int {
	return int(atomic.LoadInt64(&s.buffered))
}

// tryWrite attempts a near-immediate synchronous write. Transports that
// do not support deadlines skip the fast path entirely.
func (s *Stream) tryWrite(data []byte) int {
	target := s.writeTransport()
	if err := target.SetWriteDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return 0
	}
	n, _ := target.Write(data)
	_ = target.SetWriteDeadline(time.Time{})
	if n < 0 {
		n = 0
	}
	return n
}

func (s *Stream) writeTransport() net.Conn {
	if s.writeConn != nil {
		return s.writeConn
	}
	return s.conn
}

func (s *Stream) enqueueWrite(req *writeReq) goja.Value {
	vm := s.rt.VM()
	req.ph = &core.PromiseHolder{}
	req.ph.Init(vm)
	atomic.AddInt64(&s.buffered, int64(len(req.data)))
	s.acquire()
	s.writeCh <- req
	return req.ph.Value(vm)
}

func (s *Stream) writeLoop(conn net.Conn, ch chan *writeReq) {
	for req := range ch {
		req := req
		if req.shutdown {
			err := closeWriteSide(conn)
			_ = s.rt.Loop().Submit(func() {
				s.release()
				s.settleWrite(req, err)
			})
			continue
		}
		_ = conn.SetWriteDeadline(time.Time{})
		var err error
		data := req.data
		for len(data) > 0 {
			var n int
			n, err = conn.Write(data)
			data = data[n:]
			if err != nil {
				break
			}
		}
		atomic.AddInt64(&s.buffered, -int64(len(req.data)))
		if err == nil {
			metrics.StreamBytesWritten.Add(float64(len(req.data)))
		}
		_ = s.rt.Loop().Submit(func() {
			s.release()
			s.settleWrite(req, err)
		})
	}
}

func (s *Stream) settleWrite(req *writeReq, err error) {
	if err != nil {
		req.ph.Reject(core.WrapError(err, "write", "").JSValue(s.rt.VM()))
		return
	}
	req.ph.Resolve(goja.Undefined())
}

// Shutdown half-closes the write side after queued writes drain.
func (s *Stream) Shutdown() goja.Value {
	vm := s.rt.VM()
	if s.closed || s.conn == nil {
		return core.RejectedPromise(vm, core.NewCanceledError("shutdown").JSValue(vm))
	}
	req := &writeReq{shutdown: true}
	req.ph = &core.PromiseHolder{}
	req.ph.Init(vm)
	s.acquire()
	s.writeCh <- req
	return req.ph.Value(vm)
}

func closeWriteSide(conn net.Conn) error {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return nil
}

// BufferedAmount reports the bytes queued behind async writes.
func (s *Stream) BufferedAmount() int64 { return atomic.LoadInt64(&s.buffered) }

// Fileno returns the underlying descriptor.
func (s *Stream) Fileno() int {
	if s.conn == nil {
		return -1
	}
	sc, ok := s.conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = raw.Control(func(f uintptr) { fd = int(f) })
	return fd
}

// Close transitions to closed: cancels a pending connect, stops
// reading, emits close, releases the event slots and schedules the
// reactor close. Double close is a no-op.
func (s *Stream) Close() {
	if s.closed {
		return
	}
	s.closed = true

	if s.connectP != nil && s.connectP.Pending() {
		s.connectP.Reject(core.NewCanceledError("connect").JSValue(s.rt.VM()))
	}

	s.teardown.Store(true)
	select {
	case s.resumeCh <- struct{}{}:
	default:
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.writeCh != nil {
		close(s.writeCh)
		s.writeCh = nil
	}

	s.emitCloseOnce()
	for _, ev := range eventSlots {
		delete(s.slots, ev)
	}

	for s.activity > 0 {
		s.release()
	}
	s.handle.Close(func() {
		s.closeDone = true
		s.maybeRelease()
	})
}

// MarkFinalized records that the engine-side wrapper was collected. The
// backing resources release only when both the close callback and the
// finalizer have run.
func (s *Stream) MarkFinalized() {
	if s.finalized {
		return
	}
	s.finalized = true
	if !s.closed {
		s.Close()
	}
	s.maybeRelease()
}

func (s *Stream) maybeRelease() {
	if s.released || !s.closeDone || !s.finalized {
		return
	}
	s.released = true
	metrics.ActiveStreams.Dec()
}

// Released reports whether both close and finalize have completed.
func (s *Stream) Released() bool { return s.released }

// Closed reports whether Close has run.
func (s *Stream) Closed() bool { return s.closed }

