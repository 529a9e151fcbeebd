package worker

import (
	"fmt"
	"strconv"
)

// Channel messages are netstring-framed: "<len>:<payload>,". Framing
// keeps message boundaries intact when the transport splits or merges
// reads, which a raw byte pipe does not guarantee.

const maxFrameSize = 64 * 1024 * 1024

// encodeFrame wraps one serialized message.
func encodeFrame(payload []byte) []byte {
	head := strconv.Itoa(len(payload))
	out := make([]byte, 0, len(head)+len(payload)+2)
	out = append(out, head...)
	out = append(out, ':')
	out = append(out, payload...)
	out = append(out, ',')
	return out
}

// frameDecoder incrementally splits the inbound byte sequence into
// complete frames.
type frameDecoder struct {
	buf []byte
}

// push appends data and returns every complete payload now available.
// A malformed header or terminator poisons the decoder.
func (d *frameDecoder) push(data []byte) ([][]byte, error) {
	d.buf = append(d.buf, data...)
	var frames [][]byte
	for {
		colon := -1
		for i, b := range d.buf {
			if b == ':' {
				colon = i
				break
			}
			if b < '0' || b > '9' {
				return frames, fmt.Errorf("malformed frame header")
			}
			if i > 10 {
				return frames, fmt.Errorf("frame header too long")
			}
		}
		if colon < 0 {
			return frames, nil
		}
		if colon == 0 {
			return frames, fmt.Errorf("empty frame length")
		}
		size, err := strconv.Atoi(string(d.buf[:colon]))
		if err != nil {
			return frames, fmt.Errorf("malformed frame length: %v", err)
		}
		if size > maxFrameSize {
			return frames, fmt.Errorf("frame exceeds limit: %d", size)
		}
		total := colon + 1 + size + 1
		if len(d.buf) < total {
			return frames, nil
		}
		if d.buf[total-1] != ',' {
			return frames, fmt.Errorf("missing frame terminator")
		}
		payload := make([]byte, size)
		copy(payload, d.buf[colon+1:colon+1+size])
		frames = append(frames, payload)
		d.buf = d.buf[total:]
	}
}
