// Package wire implements the low-level codec for the vendor's protobuf
// dialect: base-128 varints, tagged fields, google.protobuf.Value, and the
// 5-byte framed envelope the agent endpoints speak.
//
// The dialect is hand-assembled from closed field-number tables (see the
// cursor/schema package); there is no .proto source to generate from, so the
// codec builds on protowire primitives directly.
package wire

import "google.golang.org/protobuf/encoding/protowire"

// AppendUvarint appends v to b in base-128 varint form.
func AppendUvarint(b []byte, v uint64) []byte {
	return protowire.AppendVarint(b, v)
}

// Uvarint decodes a varint from the front of b.
//
// A truncated varint reports n == 0 (zero progress) so a streaming caller can
// wait for more bytes. A malformed varint (10 or more bytes without a
// terminator, or a value overflowing 64 bits) reports n < 0.
func Uvarint(b []byte) (v uint64, n int) {
	v, n = protowire.ConsumeVarint(b)
	if n < 0 {
		// protowire folds truncation and overflow into one error; split them
		// so the framer can tell "wait for more" from "corrupt".
		if varintTruncated(b) {
			return 0, 0
		}
		return 0, -1
	}
	return v, n
}

// UvarintLen returns the encoded size of v.
func UvarintLen(v uint64) int {
	return protowire.SizeVarint(v)
}

func varintTruncated(b []byte) bool {
	if len(b) >= 10 {
		return false
	}
	for _, c := range b {
		if c < 0x80 {
			return false
		}
	}
	return true
}
