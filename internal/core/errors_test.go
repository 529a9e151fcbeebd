package core

import (
	"fmt"
	"io"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestWrapErrorErrno(t *testing.T) {
	uv := WrapError(syscall.ECONNREFUSED, "connect", "")
	require.Equal(t, "UV_ERROR", uv.Code)
	require.Equal(t, -int(syscall.ECONNREFUSED), uv.Errno)
	require.Equal(t, "connect", uv.Syscall)
	require.NotEmpty(t, uv.Message)
}

func TestWrapErrorPathError(t *testing.T) {
	_, err := os.Open("/definitely/not/here")
	uv := WrapError(err, "", "")
	require.Equal(t, "open", uv.Syscall)
	require.Equal(t, "/definitely/not/here", uv.Path)
	require.Equal(t, -int(syscall.ENOENT), uv.Errno)
}

func TestWrapErrorEOF(t *testing.T) {
	uv := WrapError(io.EOF, "read", "")
	require.True(t, IsEOF(uv))
}

func TestCanceledAcceptsBothEncodings(t *testing.T) {
	require.True(t, IsCanceled(NewCanceledError("connect")))
	require.True(t, IsCanceled(&UVError{Errno: -125}))
	require.True(t, IsCanceled(&UVError{Errno: -int(unix.ECANCELED)}))
	require.False(t, IsCanceled(&UVError{Errno: -int(unix.ENOENT)}))
}

func TestWrapErrorPassesThroughUVError(t *testing.T) {
	orig := NewCanceledError("shutdown")
	require.Same(t, orig, WrapError(orig, "other", ""))
	require.Same(t, orig, WrapError(fmt.Errorf("wrapped: %w", orig), "", ""))
}

func TestJSValueCarriesFields(t *testing.T) {
	rt := newTestRuntime(t)
	uv := &UVError{Code: "UV_ERROR", Errno: -2, Message: "no such file", Syscall: "open", Path: "/tmp/x"}
	val := uv.JSValue(rt.VM())
	require.NoError(t, rt.VM().Set("e", val))
	res, err := rt.EvalScript("fields.js", `[e.code, e.errno, e.path, e.syscall].join('|')`)
	require.NoError(t, err)
	require.Equal(t, "UV_ERROR|-2|/tmp/x|open", res.String())
}
