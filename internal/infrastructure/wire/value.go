package wire

import (
	"fmt"
	"sort"

	apperrors "github.com/opencursor/opencursor/gateway/pkg/errors"
)

// google.protobuf.Value field numbers. Value is a oneof over six branches;
// the branch tag itself carries presence, so every encode path emits a tag
// even for null and the empty string. A zero-length Value is rejected
// server-side.
const (
	valueNull   = 1 // NullValue enum, always 0
	valueNumber = 2 // double
	valueString = 3
	valueBool   = 4
	valueStruct = 5 // google.protobuf.Struct
	valueList   = 6 // google.protobuf.ListValue
)

// Struct: map<string, Value> fields = 1. Each map entry is a nested message
// with key = 1, value = 2. ListValue: repeated Value values = 1.
const (
	structFieldsEntry = 1
	mapEntryKey       = 1
	mapEntryValue     = 2
	listValues        = 1
)

// EncodeValue encodes a JSON-representable Go value (nil, bool, string,
// float64 and friends, map[string]any, []any) as a google.protobuf.Value.
// The result is never empty.
func EncodeValue(v any) ([]byte, error) {
	var b Builder
	if err := appendValue(&b, v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func appendValue(b *Builder, v any) error {
	switch t := v.(type) {
	case nil:
		b.VarintAlways(valueNull, 0)
	case bool:
		b.BoolAlways(valueBool, t)
	case string:
		b.StringAlways(valueString, t)
	case float64:
		b.Double(valueNumber, t)
	case float32:
		b.Double(valueNumber, float64(t))
	case int:
		b.Double(valueNumber, float64(t))
	case int32:
		b.Double(valueNumber, float64(t))
	case int64:
		b.Double(valueNumber, float64(t))
	case uint32:
		b.Double(valueNumber, float64(t))
	case uint64:
		b.Double(valueNumber, float64(t))
	case map[string]any:
		body, err := encodeStruct(t)
		if err != nil {
			return err
		}
		b.Message(valueStruct, body)
	case []any:
		var list Builder
		for _, item := range t {
			enc, err := EncodeValue(item)
			if err != nil {
				return err
			}
			list.Message(listValues, enc)
		}
		b.Message(valueList, list.Bytes())
	default:
		return apperrors.NewCodecError(fmt.Sprintf("value: unsupported Go type %T", v))
	}
	return nil
}

// encodeStruct encodes a google.protobuf.Struct body. Keys are emitted in
// sorted order so encoding is deterministic.
func encodeStruct(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b Builder
	for _, k := range keys {
		enc, err := EncodeValue(m[k])
		if err != nil {
			return nil, err
		}
		var entry Builder
		entry.StringAlways(mapEntryKey, k)
		entry.Message(mapEntryValue, enc)
		b.Message(structFieldsEntry, entry.Bytes())
	}
	return b.Bytes(), nil
}

// EncodeStruct encodes map[string]any as a bare google.protobuf.Struct.
func EncodeStruct(m map[string]any) ([]byte, error) {
	return encodeStruct(m)
}

// DecodeValue decodes a google.protobuf.Value payload back to a Go value.
// A zero-length payload (which this codec never produces) decodes as nil.
func DecodeValue(payload []byte) (any, error) {
	if len(payload) == 0 {
		return nil, nil
	}
	fields, err := Fields(payload)
	if err != nil {
		return nil, err
	}
	// Last branch wins, matching protobuf oneof merge semantics.
	var out any
	for _, f := range fields {
		switch f.Num {
		case valueNull:
			out = nil
		case valueNumber:
			out = f.Double()
		case valueString:
			out = f.String()
		case valueBool:
			out = f.Bool()
		case valueStruct:
			m, err := DecodeStruct(f.Data)
			if err != nil {
				return nil, err
			}
			out = m
		case valueList:
			items, err := decodeList(f.Data)
			if err != nil {
				return nil, err
			}
			out = items
		}
	}
	return out, nil
}

// DecodeStruct decodes a google.protobuf.Struct body to map[string]any.
func DecodeStruct(payload []byte) (map[string]any, error) {
	m := map[string]any{}
	fields, err := Fields(payload)
	if err != nil {
		return m, err
	}
	for _, f := range fields {
		if f.Num != structFieldsEntry || f.Type != TypeBytes {
			continue
		}
		entry, err := Fields(f.Data)
		if err != nil {
			return m, err
		}
		var key string
		var val any
		if kf, ok := First(entry, mapEntryKey); ok {
			key = kf.String()
		}
		if vf, ok := First(entry, mapEntryValue); ok {
			val, err = DecodeValue(vf.Data)
			if err != nil {
				return m, err
			}
		}
		m[key] = val
	}
	return m, nil
}

func decodeList(payload []byte) ([]any, error) {
	items := []any{}
	fields, err := Fields(payload)
	if err != nil {
		return items, err
	}
	for _, f := range fields {
		if f.Num != listValues || f.Type != TypeBytes {
			continue
		}
		v, err := DecodeValue(f.Data)
		if err != nil {
			return items, err
		}
		items = append(items, v)
	}
	return items, nil
}
