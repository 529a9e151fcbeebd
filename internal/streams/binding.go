package streams

import (
	"runtime"
	"time"

	"github.com/dop251/goja"

	"github.com/wot-js/runtime/internal/core"
)

func init() {
	core.RegisterBinding(Bind)
}

// Bind installs the TCP, Pipe, TTY, UDP and TLS constructors on the
// global scope of a runtime.
func Bind(rt *core.Runtime) error {
	vm := rt.VM()
	global := vm.GlobalObject()

	if err := global.Set("TCP", func(call goja.ConstructorCall) *goja.Object {
		s := NewTCP(rt)
		bindTCP(rt, call.This, s)
		return nil
	}); err != nil {
		return err
	}

	if err := global.Set("Pipe", func(call goja.ConstructorCall) *goja.Object {
		s := NewPipe(rt)
		bindPipe(rt, call.This, s)
		return nil
	}); err != nil {
		return err
	}

	if err := global.Set("TTY", func(call goja.ConstructorCall) *goja.Object {
		fd := int(call.Argument(0).ToInteger())
		s, err := NewTTY(rt, fd)
		if err != nil {
			panic(vm.NewTypeError("%v", err))
		}
		BindTTY(rt, call.This, s)
		return nil
	}); err != nil {
		return err
	}
	if ctor, ok := global.Get("TTY").(*goja.Object); ok {
		_ = ctor.Set("MODE_NORMAL", TTYModeNormal)
		_ = ctor.Set("MODE_RAW", TTYModeRaw)
	}

	if err := global.Set("UDP", func(call goja.ConstructorCall) *goja.Object {
		s := NewUDP(rt)
		bindUDP(rt, call.This, s)
		return nil
	}); err != nil {
		return err
	}

	if err := global.Set("TLS", func(call goja.ConstructorCall) *goja.Object {
		opts := parseTLSOptions(vm, call.Argument(0))
		s := NewTLS(rt, opts)
		bindTLS(rt, call.This, s)
		return nil
	}); err != nil {
		return err
	}

	return nil
}

// bindCommon wires the operations every variant shares. The resume
// argument lets datagram handles substitute their own receive loop.
func bindCommon(rt *core.Runtime, obj *goja.Object, s *Stream, resume func()) {
	vm := rt.VM()
	if resume == nil {
		resume = s.Resume
	}

	_ = obj.Set("id", s.id)
	_ = obj.Set("close", func(goja.FunctionCall) goja.Value {
		s.Close()
		return goja.Undefined()
	})
	_ = obj.Set("ref", func(goja.FunctionCall) goja.Value {
		s.handle.Ref()
		return goja.Undefined()
	})
	_ = obj.Set("unref", func(goja.FunctionCall) goja.Value {
		s.handle.Unref()
		return goja.Undefined()
	})
	_ = obj.Set("hasRef", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(s.handle.HasRef())
	})
	_ = obj.Set("fileno", func(goja.FunctionCall) goja.Value {
		return vm.ToValue(s.Fileno())
	})
	_ = obj.Set("pause", func(goja.FunctionCall) goja.Value {
		s.Pause()
		return goja.Undefined()
	})
	_ = obj.Set("resume", func(goja.FunctionCall) goja.Value {
		resume()
		return goja.Undefined()
	})

	_ = obj.DefineAccessorProperty("bufferedAmount",
		vm.ToValue(func(goja.FunctionCall) goja.Value {
			return vm.ToValue(s.BufferedAmount())
		}), nil, goja.FLAG_FALSE, goja.FLAG_TRUE)

	for _, ev := range eventSlots {
		ev := ev
		_ = obj.DefineAccessorProperty("on"+ev,
			vm.ToValue(func(goja.FunctionCall) goja.Value {
				return s.slot(ev)
			}),
			vm.ToValue(func(call goja.FunctionCall) goja.Value {
				s.setSlot(ev, call.Argument(0))
				if ev == evMessage && s.slots[ev] != nil && !s.closed {
					resume()
				}
				return goja.Undefined()
			}),
			goja.FLAG_FALSE, goja.FLAG_TRUE)
	}

	// The engine-side finalizer: resources release only after both the
	// close callback and this have run.
	runtime.SetFinalizer(s, func(fs *Stream) {
		_ = fs.rt.Loop().Submit(fs.MarkFinalized)
	})
}

func bindWritable(rt *core.Runtime, obj *goja.Object, write func([]byte) goja.Value, shutdown func() goja.Value) {
	vm := rt.VM()
	_ = obj.Set("write", func(call goja.FunctionCall) goja.Value {
		data, err := core.ToBytes(vm, call.Argument(0))
		if err != nil {
			panic(vm.NewTypeError("%v", err))
		}
		return write(data)
	})
	_ = obj.Set("shutdown", func(goja.FunctionCall) goja.Value {
		return shutdown()
	})
}

func bindTCP(rt *core.Runtime, obj *goja.Object, s *TCPStream) {
	vm := rt.VM()
	bindCommon(rt, obj, s.Stream, nil)
	bindWritable(rt, obj, s.Write, s.Shutdown)

	_ = obj.Set("bind", func(call goja.FunctionCall) goja.Value {
		addr, err := parseSocketAddr(vm, call.Argument(0))
		if err != nil {
			panic(vm.NewTypeError("%v", err))
		}
		if err := s.Bind(addr); err != nil {
			panic(rt.ErrorValue(err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("listen", func(call goja.FunctionCall) goja.Value {
		backlog := 128
		if len(call.Arguments) > 0 && !goja.IsUndefined(call.Argument(0)) {
			backlog = int(call.Argument(0).ToInteger())
		}
		if err := s.Listen(backlog); err != nil {
			panic(rt.ErrorValue(err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("accept", func(goja.FunctionCall) goja.Value {
		peer, err := s.Accept()
		if err != nil {
			panic(rt.ErrorValue(err))
		}
		if peer == nil {
			return goja.Null()
		}
		peerObj := vm.NewObject()
		bindTCP(rt, peerObj, peer)
		return peerObj
	})
	_ = obj.Set("connect", func(call goja.FunctionCall) goja.Value {
		addr, err := parseSocketAddr(vm, call.Argument(0))
		if err != nil {
			panic(vm.NewTypeError("%v", err))
		}
		return s.Connect(addr)
	})
	_ = obj.Set("sockname", func(goja.FunctionCall) goja.Value {
		return addrObject(vm, s.SockName())
	})
	_ = obj.Set("peername", func(goja.FunctionCall) goja.Value {
		return addrObject(vm, s.PeerName())
	})
	_ = obj.Set("setNoDelay", func(call goja.FunctionCall) goja.Value {
		s.SetNoDelay(call.Argument(0).ToBoolean())
		return goja.Undefined()
	})
	_ = obj.Set("setKeepAlive", func(call goja.FunctionCall) goja.Value {
		delay := time.Duration(call.Argument(1).ToInteger()) * time.Second
		s.SetKeepAlive(call.Argument(0).ToBoolean(), delay)
		return goja.Undefined()
	})
}

func bindPipe(rt *core.Runtime, obj *goja.Object, s *PipeStream) {
	vm := rt.VM()
	bindCommon(rt, obj, s.Stream, nil)
	bindWritable(rt, obj, s.Write, s.Shutdown)

	_ = obj.Set("bind", func(call goja.FunctionCall) goja.Value {
		if err := s.Bind(call.Argument(0).String()); err != nil {
			panic(rt.ErrorValue(err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("listen", func(call goja.FunctionCall) goja.Value {
		backlog := 128
		if len(call.Arguments) > 0 && !goja.IsUndefined(call.Argument(0)) {
			backlog = int(call.Argument(0).ToInteger())
		}
		if err := s.Listen(backlog); err != nil {
			panic(rt.ErrorValue(err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("accept", func(goja.FunctionCall) goja.Value {
		peer, err := s.Accept()
		if err != nil {
			panic(rt.ErrorValue(err))
		}
		if peer == nil {
			return goja.Null()
		}
		peerObj := vm.NewObject()
		bindPipe(rt, peerObj, peer)
		return peerObj
	})
	_ = obj.Set("connect", func(call goja.FunctionCall) goja.Value {
		return s.Connect(call.Argument(0).String())
	})
	_ = obj.Set("sockname", func(goja.FunctionCall) goja.Value {
		return addrObject(vm, s.SockName())
	})
	_ = obj.Set("peername", func(goja.FunctionCall) goja.Value {
		return addrObject(vm, s.PeerName())
	})
}

// BindTTY wires a terminal-style stream onto a JS object; the uart
// module reuses it for serial devices.
func BindTTY(rt *core.Runtime, obj *goja.Object, s *TTYStream) {
	vm := rt.VM()
	bindCommon(rt, obj, s.Stream, nil)
	bindWritable(rt, obj, s.Write, s.Shutdown)

	_ = obj.Set("setMode", func(call goja.FunctionCall) goja.Value {
		if err := s.SetMode(int(call.Argument(0).ToInteger())); err != nil {
			panic(rt.ErrorValue(err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("getWinSize", func(goja.FunctionCall) goja.Value {
		w, h, err := s.WinSize()
		if err != nil {
			panic(rt.ErrorValue(err))
		}
		out := vm.NewObject()
		_ = out.Set("width", w)
		_ = out.Set("height", h)
		return out
	})
}

func bindUDP(rt *core.Runtime, obj *goja.Object, s *UDPStream) {
	vm := rt.VM()
	bindCommon(rt, obj, s.Stream, s.Resume)

	_ = obj.Set("bind", func(call goja.FunctionCall) goja.Value {
		addr, err := parseSocketAddr(vm, call.Argument(0))
		if err != nil {
			panic(vm.NewTypeError("%v", err))
		}
		if err := s.Bind(addr); err != nil {
			panic(rt.ErrorValue(err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("send", func(call goja.FunctionCall) goja.Value {
		data, err := core.ToBytes(vm, call.Argument(0))
		if err != nil {
			panic(vm.NewTypeError("%v", err))
		}
		addr, err := parseSocketAddr(vm, call.Argument(1))
		if err != nil {
			panic(vm.NewTypeError("%v", err))
		}
		return s.Send(data, addr)
	})
	_ = obj.Set("setBroadcast", func(call goja.FunctionCall) goja.Value {
		if err := s.SetBroadcast(call.Argument(0).ToBoolean()); err != nil {
			panic(rt.ErrorValue(err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("setTTL", func(call goja.FunctionCall) goja.Value {
		if err := s.SetTTL(int(call.Argument(0).ToInteger())); err != nil {
			panic(rt.ErrorValue(err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("joinGroup", func(call goja.FunctionCall) goja.Value {
		if err := s.JoinGroup(call.Argument(0).String()); err != nil {
			panic(rt.ErrorValue(err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("leaveGroup", func(call goja.FunctionCall) goja.Value {
		if err := s.LeaveGroup(call.Argument(0).String()); err != nil {
			panic(rt.ErrorValue(err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("sockname", func(goja.FunctionCall) goja.Value {
		return addrObject(vm, s.SockName())
	})
}

func bindTLS(rt *core.Runtime, obj *goja.Object, s *TLSStream) {
	vm := rt.VM()
	bindCommon(rt, obj, s.Stream, nil)
	bindWritable(rt, obj, s.Write, s.Shutdown)

	_ = obj.Set("bind", func(call goja.FunctionCall) goja.Value {
		addr, err := parseSocketAddr(vm, call.Argument(0))
		if err != nil {
			panic(vm.NewTypeError("%v", err))
		}
		if err := s.Bind(addr); err != nil {
			panic(rt.ErrorValue(err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("listen", func(call goja.FunctionCall) goja.Value {
		backlog := 128
		if len(call.Arguments) > 0 && !goja.IsUndefined(call.Argument(0)) {
			backlog = int(call.Argument(0).ToInteger())
		}
		if err := s.Listen(backlog); err != nil {
			panic(rt.ErrorValue(err))
		}
		return goja.Undefined()
	})
	_ = obj.Set("accept", func(goja.FunctionCall) goja.Value {
		peer, err := s.Accept()
		if err != nil {
			panic(rt.ErrorValue(err))
		}
		if peer == nil {
			return goja.Null()
		}
		peerObj := vm.NewObject()
		bindTLS(rt, peerObj, peer)
		return peerObj
	})
	_ = obj.Set("connect", func(call goja.FunctionCall) goja.Value {
		addr, err := parseSocketAddr(vm, call.Argument(0))
		if err != nil {
			panic(vm.NewTypeError("%v", err))
		}
		return s.Connect(addr)
	})
	_ = obj.Set("sockname", func(goja.FunctionCall) goja.Value {
		return addrObject(vm, s.SockName())
	})
	_ = obj.Set("peername", func(goja.FunctionCall) goja.Value {
		return addrObject(vm, s.PeerName())
	})
	// close shadows the common close so close-notify goes out first.
	_ = obj.Set("close", func(goja.FunctionCall) goja.Value {
		s.Close()
		return goja.Undefined()
	})
}

func parseTLSOptions(vm *goja.Runtime, v goja.Value) TLSOptions {
	opts := TLSOptions{RejectUnauthorized: true}
	obj, ok := v.(*goja.Object)
	if !ok {
		return opts
	}
	if rv := obj.Get("rejectUnauthorized"); rv != nil && !goja.IsUndefined(rv) {
		opts.RejectUnauthorized = rv.ToBoolean()
	}
	if sv := obj.Get("servername"); sv != nil && !goja.IsUndefined(sv) {
		opts.ServerName = sv.String()
	}
	if cv := obj.Get("ca"); cv != nil && !goja.IsUndefined(cv) {
		if b, err := core.CopyBytes(vm, cv); err == nil {
			opts.CACertsPEM = b
		}
	}
	if cv := obj.Get("cert"); cv != nil && !goja.IsUndefined(cv) {
		if b, err := core.CopyBytes(vm, cv); err == nil {
			opts.CertPEM = b
		}
	}
	if kv := obj.Get("key"); kv != nil && !goja.IsUndefined(kv) {
		if b, err := core.CopyBytes(vm, kv); err == nil {
			opts.KeyPEM = b
		}
	}
	return opts
}
