package wire

import (
	"encoding/binary"
	"strings"
)

// Envelope layout: [flags:u8][length:u32 big-endian][payload].
const envelopeHeaderLen = 5

// Envelope flag bits.
const (
	// FlagTrailer marks a frame carrying textual key-value metadata
	// (grpc-status and friends) instead of a message payload.
	FlagTrailer = 0x80
	// FlagError marks an in-band error frame whose payload is UTF-8 text.
	// Only some endpoints use it.
	FlagError = 0x02
)

// Frame is one complete envelope extracted from the stream.
type Frame struct {
	Flags   byte
	Payload []byte
}

// IsTrailer reports whether the frame carries trailer metadata.
func (f Frame) IsTrailer() bool {
	return f.Flags&FlagTrailer != 0
}

// IsError reports whether the frame is an in-band textual error.
func (f Frame) IsError() bool {
	return f.Flags&FlagError != 0 && !f.IsTrailer()
}

// EncodeEnvelope wraps payload in a framed envelope.
func EncodeEnvelope(flags byte, payload []byte) []byte {
	out := make([]byte, envelopeHeaderLen+len(payload))
	out[0] = flags
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[envelopeHeaderLen:], payload)
	return out
}

// Framer reassembles envelopes from an arbitrarily chunked byte stream.
// Incomplete tails are buffered; Push may be called with any split points
// and yields the same frame sequence as a one-shot parse.
type Framer struct {
	buf []byte
}

// Push appends p to the internal buffer and extracts every complete frame.
func (f *Framer) Push(p []byte) []Frame {
	f.buf = append(f.buf, p...)

	var frames []Frame
	for {
		if len(f.buf) < envelopeHeaderLen {
			return frames
		}
		length := binary.BigEndian.Uint32(f.buf[1:5])
		total := envelopeHeaderLen + int(length)
		if len(f.buf) < total {
			return frames
		}
		payload := make([]byte, length)
		copy(payload, f.buf[envelopeHeaderLen:total])
		frames = append(frames, Frame{Flags: f.buf[0], Payload: payload})
		f.buf = f.buf[total:]
	}
}

// Pending returns the number of buffered residue bytes.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Reset drops any buffered residue.
func (f *Framer) Reset() {
	f.buf = nil
}

// ParseTrailer decodes the textual metadata of a trailer frame. Lines are
// "key: value" pairs separated by CRLF or LF; keys are lower-cased.
func ParseTrailer(payload []byte) map[string]string {
	meta := map[string]string{}
	for _, line := range strings.Split(string(payload), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		meta[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return meta
}
