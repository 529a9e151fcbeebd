package core

import (
	"fmt"

	"github.com/dop251/goja"
)

// ToBytes presents a JS value as a contiguous byte slice. Strings yield
// their UTF-8 encoding; ArrayBuffers and typed-array views yield the
// backing bytes. The returned slice aliases engine memory for views, so
// callers that retain data past the current call must copy it.
func ToBytes(vm *goja.Runtime, v goja.Value) ([]byte, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, fmt.Errorf("expected string, ArrayBuffer or typed array, got %v", v)
	}
	switch data := v.Export().(type) {
	case string:
		return []byte(data), nil
	case []byte:
		return data, nil
	case goja.ArrayBuffer:
		return data.Bytes(), nil
	}

	// Typed-array views export as their element slices for some element
	// kinds; everything else is reached through .buffer/.byteOffset.
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, fmt.Errorf("expected string, ArrayBuffer or typed array, got %s", v.ExportType())
	}
	bufVal := obj.Get("buffer")
	if bufVal == nil {
		return nil, fmt.Errorf("expected string, ArrayBuffer or typed array, got %s", obj.ClassName())
	}
	ab, ok := bufVal.Export().(goja.ArrayBuffer)
	if !ok {
		return nil, fmt.Errorf("expected string, ArrayBuffer or typed array, got %s", obj.ClassName())
	}
	raw := ab.Bytes()
	offset := int(obj.Get("byteOffset").ToInteger())
	length := int(obj.Get("byteLength").ToInteger())
	if offset < 0 || length < 0 || offset+length > len(raw) {
		return nil, fmt.Errorf("typed array view out of bounds")
	}
	return raw[offset : offset+length], nil
}

// CopyBytes is ToBytes with ownership: the result never aliases engine
// memory.
func CopyBytes(vm *goja.Runtime, v goja.Value) ([]byte, error) {
	b, err := ToBytes(vm, v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}
