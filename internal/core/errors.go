package core

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"

	"github.com/dop251/goja"
	"golang.org/x/sys/unix"
)

// legacyCanceledErrno is the raw literal some callers historically used
// for cancellation instead of the platform errno. Both are accepted.
const legacyCanceledErrno = -125

// UVError is the JS-visible shape of a transport or file error: a code
// string, a negative errno, a human message and, for file operations,
// the path and syscall that failed.
type UVError struct {
	Code    string
	Errno   int
	Message string
	Syscall string
	Path    string
}

func (e *UVError) Error() string {
	if e.Syscall != "" && e.Path != "" {
		return fmt.Sprintf("%s: %s '%s'", e.Syscall, e.Message, e.Path)
	}
	return e.Message
}

// NewCanceledError reports a cancelled pending operation, e.g. a connect
// whose stream was closed first.
func NewCanceledError(syscallName string) *UVError {
	return &UVError{
		Code:    "UV_ERROR",
		Errno:   -int(unix.ECANCELED),
		Message: "operation canceled",
		Syscall: syscallName,
	}
}

// IsCanceled matches both the platform ECANCELED mapping and the legacy
// negative literal.
func IsCanceled(e *UVError) bool {
	return e != nil && (e.Errno == -int(unix.ECANCELED) || e.Errno == legacyCanceledErrno)
}

// WrapError maps a Go error to the UVError taxonomy. The syscall and
// path are attached when known; callers pass "" when not applicable.
func WrapError(err error, syscallName, path string) *UVError {
	if err == nil {
		return nil
	}
	var uv *UVError
	if errors.As(err, &uv) {
		return uv
	}

	out := &UVError{Code: "UV_ERROR", Syscall: syscallName, Path: path}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		if out.Syscall == "" {
			out.Syscall = pathErr.Op
		}
		if out.Path == "" {
			out.Path = pathErr.Path
		}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && out.Syscall == "" {
		out.Syscall = opErr.Op
	}

	var errno syscall.Errno
	switch {
	case errors.As(err, &errno):
		out.Errno = -int(errno)
		out.Message = errno.Error()
	case errors.Is(err, io.EOF):
		out.Errno = int(eofErrno)
		out.Message = "end of file"
	case errors.Is(err, os.ErrDeadlineExceeded):
		out.Errno = -int(unix.ETIMEDOUT)
		out.Message = "operation timed out"
	default:
		out.Errno = int(unknownErrno)
		out.Message = err.Error()
	}
	return out
}

// Sentinel errno values outside the platform range, matching the
// reactor convention of negative codes.
const (
	eofErrno     = -4095
	unknownErrno = -4094
)

// IsEOF reports an end-of-stream error.
func IsEOF(e *UVError) bool {
	return e != nil && e.Errno == eofErrno
}

// JSValue builds the JS error object carrying code, errno, message and,
// when present, path and syscall.
func (e *UVError) JSValue(vm *goja.Runtime) goja.Value {
	obj := vm.NewGoError(e)
	_ = obj.Set("code", e.Code)
	_ = obj.Set("errno", e.Errno)
	_ = obj.Set("message", e.Error())
	if e.Path != "" {
		_ = obj.Set("path", e.Path)
	}
	if e.Syscall != "" {
		_ = obj.Set("syscall", e.Syscall)
	}
	return obj
}

// throwTypeError raises a JS TypeError from a host entry point.
func throwTypeError(vm *goja.Runtime, format string, args ...interface{}) {
	panic(vm.NewTypeError(format, args...))
}
