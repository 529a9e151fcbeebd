package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/dop251/goja"

	"github.com/wot-js/runtime/internal/core"
	"github.com/wot-js/runtime/internal/reactor"
)

// channelPort is one end of the worker byte channel, bound to its
// runtime's loop. Values cross the boundary as structured-serialized
// frames; no references survive the transfer.
type channelPort struct {
	rt     *core.Runtime
	conn   net.Conn
	handle *reactor.Handle

	// Delivered on the loop goroutine.
	onMessage      func(goja.Value)
	onMessageError func(error)
	onError        func(*core.UVError)

	writeCh chan []byte
	closed  atomic.Bool
}

func newChannelPort(rt *core.Runtime, conn net.Conn) *channelPort {
	p := &channelPort{
		rt:      rt,
		conn:    conn,
		handle:  rt.Loop().NewHandle(),
		writeCh: make(chan []byte, 64),
	}
	p.handle.Start()
	return p
}

// start begins the read and write pumps.
func (p *channelPort) start() {
	go p.readLoop()
	go p.writeLoop()
}

func (p *channelPort) readLoop() {
	var dec frameDecoder
	buf := make([]byte, 64*1024)
	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			frames, derr := dec.push(buf[:n])
			for _, frame := range frames {
				p.deliver(frame)
			}
			if derr != nil {
				p.submitMessageError(derr)
				return
			}
		}
		if err != nil {
			if !p.closed.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				uv := core.WrapError(err, "read", "")
				_ = p.rt.Loop().Submit(func() {
					if p.onError != nil {
						p.onError(uv)
					}
				})
			}
			return
		}
	}
}

func (p *channelPort) deliver(frame []byte) {
	var decoded interface{}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		p.submitMessageError(fmt.Errorf("message deserialization failed: %w", err))
		return
	}
	_ = p.rt.Loop().Submit(func() {
		if p.onMessage != nil {
			p.onMessage(p.rt.VM().ToValue(decoded))
		}
	})
}

func (p *channelPort) submitMessageError(err error) {
	_ = p.rt.Loop().Submit(func() {
		if p.onMessageError != nil {
			p.onMessageError(err)
		}
	})
}

func (p *channelPort) writeLoop() {
	for frame := range p.writeCh {
		rest := frame
		for len(rest) > 0 {
			n, err := p.conn.Write(rest)
			if err != nil {
				return
			}
			rest = rest[n:]
		}
	}
}

// postMessage serializes value and submits it as a single framed write.
// Unserializable values (functions, symbols, cycles) fail immediately.
func (p *channelPort) postMessage(v goja.Value) error {
	if p.closed.Load() {
		return fmt.Errorf("channel is closed")
	}
	payload, err := structuredSerialize(v)
	if err != nil {
		return err
	}
	select {
	case p.writeCh <- encodeFrame(payload):
		return nil
	default:
		return fmt.Errorf("channel write queue full")
	}
}

func (p *channelPort) close() {
	if p.closed.Swap(true) {
		return
	}
	close(p.writeCh)
	_ = p.conn.Close()
	p.handle.Close(nil)
}

// structuredSerialize is the engine's structured-write: values cross as
// their JSON-safe structure only.
func structuredSerialize(v goja.Value) ([]byte, error) {
	if v == nil || goja.IsUndefined(v) {
		return []byte("null"), nil
	}
	exported := v.Export()
	payload, err := json.Marshal(exported)
	if err != nil {
		return nil, fmt.Errorf("value cannot be transferred: %w", err)
	}
	return payload, nil
}
