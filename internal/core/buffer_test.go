package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestToBytesString(t *testing.T) {
	rt := newTestRuntime(t)
	b, err := ToBytes(rt.VM(), rt.VM().ToValue("héllo"))
	require.NoError(t, err)
	require.Equal(t, []byte("héllo"), b)
}

func TestToBytesTypedArrayMatchesStringEncoding(t *testing.T) {
	rt := newTestRuntime(t)
	val, err := rt.EvalScript("enc.js", `
		new Uint8Array([104, 195, 169, 108, 108, 111])
	`)
	require.NoError(t, err)
	fromView, err := ToBytes(rt.VM(), val)
	require.NoError(t, err)
	fromString, err := ToBytes(rt.VM(), rt.VM().ToValue("héllo"))
	require.NoError(t, err)
	require.Equal(t, fromString, fromView)
}

func TestToBytesArrayBufferAndView(t *testing.T) {
	rt := newTestRuntime(t)
	val, err := rt.EvalScript("ab.js", `new Uint8Array([1,2,3,4]).buffer`)
	require.NoError(t, err)
	b, err := ToBytes(rt.VM(), val)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4}, b)

	view, err := rt.EvalScript("view.js", `new Uint8Array(new Uint8Array([9,8,7,6]).buffer, 1, 2)`)
	require.NoError(t, err)
	vb, err := ToBytes(rt.VM(), view)
	require.NoError(t, err)
	require.Equal(t, []byte{8, 7}, vb)
}

func TestToBytesRejectsOtherKinds(t *testing.T) {
	rt := newTestRuntime(t)
	_, err := ToBytes(rt.VM(), rt.VM().ToValue(42))
	require.Error(t, err)
	_, err = ToBytes(rt.VM(), nil)
	require.Error(t, err)
}

func TestNewUint8ArrayOwnsCopy(t *testing.T) {
	rt := newTestRuntime(t)
	src := []byte{1, 2, 3}
	arr := rt.Engine().NewUint8Array(src)
	src[0] = 99
	require.NoError(t, rt.VM().Set("arr", arr))
	res, err := rt.EvalScript("own.js", `arr[0]`)
	require.NoError(t, err)
	require.Equal(t, int64(1), res.ToInteger())
}
