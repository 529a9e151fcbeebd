// Package uart opens serial devices and exposes them through the
// stream contract: message events for inbound bytes, promise-returning
// writes, the shared close and ref discipline.
package uart

import (
	"fmt"
	"os"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"golang.org/x/sys/unix"

	"github.com/wot-js/runtime/internal/core"
	"github.com/wot-js/runtime/internal/streams"
)

func init() {
	core.RegisterBinding(Bind)
}

// Bind registers the uart native module.
func Bind(rt *core.Runtime) error {
	rt.RequireRegistry().RegisterNativeModule("uart", Require(rt))
	return nil
}

// Require builds the module loader for a runtime.
func Require(rt *core.Runtime) require.ModuleLoader {
	return func(vm *goja.Runtime, module *goja.Object) {
		exports := module.Get("exports").(*goja.Object)
		_ = exports.Set("open", func(call goja.FunctionCall) goja.Value {
			return open(rt, vm, call)
		})
	}
}

// Options parsed from the JS settings object.
type options struct {
	baudRate int
	dataBits int
	stopBits int
	parity   string
}

func parseOptions(v goja.Value) options {
	opts := options{baudRate: 115200, dataBits: 8, stopBits: 1, parity: "none"}
	obj, ok := v.(*goja.Object)
	if !ok {
		return opts
	}
	if bv := obj.Get("baudRate"); bv != nil && !goja.IsUndefined(bv) {
		opts.baudRate = int(bv.ToInteger())
	}
	if dv := obj.Get("dataBits"); dv != nil && !goja.IsUndefined(dv) {
		opts.dataBits = int(dv.ToInteger())
	}
	if sv := obj.Get("stopBits"); sv != nil && !goja.IsUndefined(sv) {
		opts.stopBits = int(sv.ToInteger())
	}
	if pv := obj.Get("parity"); pv != nil && !goja.IsUndefined(pv) {
		opts.parity = pv.String()
	}
	return opts
}

func open(rt *core.Runtime, vm *goja.Runtime, call goja.FunctionCall) goja.Value {
	device := call.Argument(0)
	if device == nil || goja.IsUndefined(device) {
		panic(vm.NewTypeError("device path required"))
	}
	opts := parseOptions(call.Argument(1))

	path := device.String()
	file, err := os.OpenFile(path, os.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		panic(rt.ErrorValue(core.WrapError(err, "open", path)))
	}
	if err := configure(int(file.Fd()), opts); err != nil {
		_ = file.Close()
		panic(rt.ErrorValue(core.WrapError(err, "tcsetattr", path)))
	}

	stream, err := streams.NewTTYFromFile(rt, file)
	if err != nil {
		_ = file.Close()
		panic(rt.ErrorValue(err))
	}
	obj := vm.NewObject()
	streams.BindTTY(rt, obj, stream)
	_ = obj.Set("device", path)
	_ = obj.Set("baudRate", opts.baudRate)
	return obj
}

// configure applies raw-mode termios with the requested line settings.
func configure(fd int, opts options) error {
	tio, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return err
	}

	speed, ok := baudConstants[opts.baudRate]
	if !ok {
		return fmt.Errorf("unsupported baud rate %d", opts.baudRate)
	}

	tio.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	tio.Oflag &^= unix.OPOST
	tio.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	tio.Cflag &^= unix.CSIZE | unix.PARENB | unix.PARODD | unix.CSTOPB
	tio.Cflag |= unix.CLOCAL | unix.CREAD

	switch opts.dataBits {
	case 5:
		tio.Cflag |= unix.CS5
	case 6:
		tio.Cflag |= unix.CS6
	case 7:
		tio.Cflag |= unix.CS7
	default:
		tio.Cflag |= unix.CS8
	}
	if opts.stopBits == 2 {
		tio.Cflag |= unix.CSTOPB
	}
	switch opts.parity {
	case "even":
		tio.Cflag |= unix.PARENB
	case "odd":
		tio.Cflag |= unix.PARENB | unix.PARODD
	}

	tio.Cc[unix.VMIN] = 1
	tio.Cc[unix.VTIME] = 0

	setBaud(tio, speed)
	return unix.IoctlSetTermios(fd, ioctlSetTermios, tio)
}
