package bundle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/wot-js/runtime/pkg/logger"
)

// Sentinel marks a bundle trailer. The final 16 bytes of the executable
// are the sentinel followed by a big-endian u32 offset of the first
// record.
const Sentinel = "@tjs/modules"

const trailerFooterSize = 16

var trailerOnce sync.Once

// LoadTrailerOnce discovers a trailer in the host executable and loads
// its records into the registry. It runs at most once per process and
// fails closed: any truncation or sentinel mismatch leaves the registry
// untouched.
func LoadTrailerOnce(r *Registry, log *logger.Logger) {
	trailerOnce.Do(func() {
		exe, err := os.Executable()
		if err != nil {
			return
		}
		n, err := LoadTrailer(r, exe)
		if err != nil {
			if log != nil {
				log.WithField("error", err).Debug("module trailer not loaded")
			}
			return
		}
		if n > 0 && log != nil {
			log.WithField("modules", n).Debug("loaded module trailer")
		}
	})
}

// LoadTrailer parses the trailer of the file at path into the registry
// and returns the number of modules loaded. A missing or malformed
// trailer is reported as an error and loads nothing.
func LoadTrailer(r *Registry, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if size < trailerFooterSize {
		return 0, fmt.Errorf("file too small for trailer")
	}

	footer := make([]byte, trailerFooterSize)
	if _, err := f.ReadAt(footer, size-trailerFooterSize); err != nil {
		return 0, err
	}
	if !bytes.Equal(footer[:len(Sentinel)], []byte(Sentinel)) {
		return 0, fmt.Errorf("no trailer sentinel")
	}
	offset := int64(binary.BigEndian.Uint32(footer[len(Sentinel):]))
	if offset <= 0 || offset >= size-trailerFooterSize {
		return 0, fmt.Errorf("trailer offset out of range")
	}

	end := size - trailerFooterSize
	pos := offset
	var loaded []Module
	header := make([]byte, 8)
	for pos < end {
		if end-pos < int64(len(header)) {
			return 0, fmt.Errorf("truncated trailer record header")
		}
		if _, err := f.ReadAt(header, pos); err != nil {
			return 0, err
		}
		dataSize := int64(binary.BigEndian.Uint32(header[0:4]))
		nameLen := int64(header[7])
		recordLen := int64(len(header)) + nameLen + dataSize
		if nameLen == 0 || pos+recordLen > end {
			return 0, fmt.Errorf("truncated trailer record")
		}
		name := make([]byte, nameLen)
		if _, err := f.ReadAt(name, pos+int64(len(header))); err != nil {
			return 0, err
		}
		data := make([]byte, dataSize)
		if _, err := f.ReadAt(data, pos+int64(len(header))+nameLen); err != nil {
			return 0, err
		}
		loaded = append(loaded, Module{Name: string(name), Data: data})
		pos += recordLen
	}
	for _, m := range loaded {
		r.Register(m.Name, m.Data)
	}
	return len(loaded), nil
}

// WriteTrailer appends a trailer containing modules to w, given the
// current size of the target file. Used by bundling tools and tests.
func WriteTrailer(w io.Writer, fileSize int64, modules []Module) error {
	var buf bytes.Buffer
	for _, m := range modules {
		if len(m.Name) == 0 || len(m.Name) > 255 {
			return fmt.Errorf("module name length out of range: %q", m.Name)
		}
		var header [8]byte
		binary.BigEndian.PutUint32(header[0:4], uint32(len(m.Data)))
		header[7] = byte(len(m.Name))
		buf.Write(header[:])
		buf.WriteString(m.Name)
		buf.Write(m.Data)
	}
	var footer [trailerFooterSize]byte
	copy(footer[:], Sentinel)
	binary.BigEndian.PutUint32(footer[len(Sentinel):], uint32(fileSize))
	buf.Write(footer[:])
	_, err := w.Write(buf.Bytes())
	return err
}
