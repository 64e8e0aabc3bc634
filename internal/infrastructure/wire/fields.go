package wire

import (
	"encoding/binary"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	apperrors "github.com/opencursor/opencursor/gateway/pkg/errors"
)

// Number is a protobuf field number.
type Number = protowire.Number

// Type is a protobuf wire type.
type Type = protowire.Type

const (
	TypeVarint  = protowire.VarintType
	TypeFixed64 = protowire.Fixed64Type
	TypeBytes   = protowire.BytesType
	TypeFixed32 = protowire.Fixed32Type
)

// Builder assembles an encoded message field by field.
//
// Scalar helpers elide proto3 defaults (zero / empty / false). Fields that
// sit inside a oneof must use the *Always variants: oneof presence is carried
// by the tag itself, so the tag must be emitted even at the default value.
type Builder struct {
	buf []byte
}

// Bytes returns the encoded message.
func (b *Builder) Bytes() []byte {
	return b.buf
}

// Len returns the current encoded size.
func (b *Builder) Len() int {
	return len(b.buf)
}

// Varint appends a varint field, eliding zero.
func (b *Builder) Varint(num Number, v uint64) {
	if v == 0 {
		return
	}
	b.VarintAlways(num, v)
}

// VarintAlways appends a varint field unconditionally (oneof presence).
func (b *Builder) VarintAlways(num Number, v uint64) {
	b.buf = protowire.AppendTag(b.buf, num, protowire.VarintType)
	b.buf = protowire.AppendVarint(b.buf, v)
}

// Bool appends a bool field, eliding false.
func (b *Builder) Bool(num Number, v bool) {
	if !v {
		return
	}
	b.VarintAlways(num, 1)
}

// BoolAlways appends a bool field unconditionally (oneof presence).
func (b *Builder) BoolAlways(num Number, v bool) {
	var raw uint64
	if v {
		raw = 1
	}
	b.VarintAlways(num, raw)
}

// String appends a string field, eliding the empty string.
func (b *Builder) String(num Number, s string) {
	if s == "" {
		return
	}
	b.StringAlways(num, s)
}

// StringAlways appends a string field unconditionally (oneof presence).
func (b *Builder) StringAlways(num Number, s string) {
	b.buf = protowire.AppendTag(b.buf, num, protowire.BytesType)
	b.buf = protowire.AppendString(b.buf, s)
}

// RawBytes appends a bytes field, eliding empty payloads.
func (b *Builder) RawBytes(num Number, p []byte) {
	if len(p) == 0 {
		return
	}
	b.RawBytesAlways(num, p)
}

// RawBytesAlways appends a bytes field unconditionally (oneof presence).
func (b *Builder) RawBytesAlways(num Number, p []byte) {
	b.buf = protowire.AppendTag(b.buf, num, protowire.BytesType)
	b.buf = protowire.AppendBytes(b.buf, p)
}

// Message appends an already-encoded nested message. The tag is always
// emitted: message presence is meaningful even when the body is empty.
func (b *Builder) Message(num Number, body []byte) {
	b.RawBytesAlways(num, body)
}

// Double appends a fixed64 double field unconditionally.
func (b *Builder) Double(num Number, f float64) {
	b.buf = protowire.AppendTag(b.buf, num, protowire.Fixed64Type)
	b.buf = protowire.AppendFixed64(b.buf, math.Float64bits(f))
}

// Field is one decoded field of a message.
type Field struct {
	Num  Number
	Type Type

	// Varint holds the value for TypeVarint fields.
	Varint uint64
	// Data holds the payload for TypeBytes fields and the raw little-endian
	// bytes for fixed32/fixed64 fields.
	Data []byte
}

// String interprets a bytes field as UTF-8 text.
func (f Field) String() string {
	return string(f.Data)
}

// Bool interprets a varint field as a bool.
func (f Field) Bool() bool {
	return f.Varint != 0
}

// Double interprets a fixed64 field as a double.
func (f Field) Double() float64 {
	if len(f.Data) != 8 {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(f.Data))
}

// Fields decodes payload into its top-level fields.
//
// Decoding is best-effort: on a malformed tag, wire type, or truncated value
// the fields parsed so far are returned together with a CODEC_ERROR. Unknown
// field numbers are returned like any other field so callers can ignore (or
// forward) them — the schema tables decide what is meaningful.
func Fields(payload []byte) ([]Field, error) {
	var out []Field
	for len(payload) > 0 {
		num, typ, n := protowire.ConsumeTag(payload)
		if n < 0 {
			return out, apperrors.NewCodecError("malformed field tag")
		}
		payload = payload[n:]

		var f Field
		f.Num = num
		f.Type = typ
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(payload)
			if n < 0 {
				return out, apperrors.NewCodecError("truncated varint value")
			}
			f.Varint = v
			payload = payload[n:]
		case protowire.Fixed64Type:
			v, n := protowire.ConsumeFixed64(payload)
			if n < 0 {
				return out, apperrors.NewCodecError("truncated fixed64 value")
			}
			f.Data = binary.LittleEndian.AppendUint64(nil, v)
			payload = payload[n:]
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(payload)
			if n < 0 {
				return out, apperrors.NewCodecError("truncated length-prefixed value")
			}
			f.Data = v
			payload = payload[n:]
		case protowire.Fixed32Type:
			v, n := protowire.ConsumeFixed32(payload)
			if n < 0 {
				return out, apperrors.NewCodecError("truncated fixed32 value")
			}
			f.Data = binary.LittleEndian.AppendUint32(nil, v)
			payload = payload[n:]
		default:
			return out, apperrors.NewCodecError("unsupported wire type")
		}
		out = append(out, f)
	}
	return out, nil
}

// First returns the first field with the given number, if present.
func First(fields []Field, num Number) (Field, bool) {
	for _, f := range fields {
		if f.Num == num {
			return f, true
		}
	}
	return Field{}, false
}
