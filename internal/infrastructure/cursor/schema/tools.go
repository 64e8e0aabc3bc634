package schema

import (
	"fmt"

	"github.com/opencursor/opencursor/gateway/internal/infrastructure/wire"
)

// ArgType describes how a tool-call argument field is decoded.
type ArgType string

const (
	ArgString  ArgType = "string"
	ArgBool    ArgType = "bool" // varint 0/1
	ArgInt     ArgType = "int"  // varint
	ArgStrings ArgType = "repeated string"
	ArgMessage ArgType = "message" // recursively parsed into map[string]any
	ArgValue   ArgType = "value"   // google.protobuf.Value
)

// ArgSpec is one (field_number, arg_name, type) row of a tool's argument
// schema. Argument lists are position-indexed by proto field number, not by
// name.
type ArgSpec struct {
	Num  wire.Number
	Name string
	Type ArgType
	// Sub describes nested fields for ArgMessage arguments.
	Sub []ArgSpec
}

// ToolSpec is one row of the tool-call table.
type ToolSpec struct {
	Num  wire.Number
	Name string
	Args []ArgSpec
}

// toolTable maps the vendor's tool-kind field numbers (inside the tool-call
// payload oneof) to names and argument schemas. The set reflects the
// observed wire traffic; kinds missing from this table are decoded opaquely
// with their field numbers preserved.
var toolTable = []ToolSpec{
	{Num: 1, Name: "shell", Args: []ArgSpec{
		{Num: 1, Name: "command", Type: ArgString},
		{Num: 2, Name: "cwd", Type: ArgString},
		{Num: 3, Name: "timeout_ms", Type: ArgInt},
		{Num: 4, Name: "run_in_background", Type: ArgBool},
	}},
	{Num: 2, Name: "read", Args: []ArgSpec{
		{Num: 1, Name: "path", Type: ArgString},
		{Num: 2, Name: "offset", Type: ArgInt},
		{Num: 3, Name: "limit", Type: ArgInt},
	}},
	{Num: 3, Name: "write", Args: []ArgSpec{
		{Num: 1, Name: "path", Type: ArgString},
		{Num: 2, Name: "content", Type: ArgString},
		{Num: 3, Name: "return_content", Type: ArgBool},
	}},
	{Num: 4, Name: "list", Args: []ArgSpec{
		{Num: 1, Name: "path", Type: ArgString},
	}},
	{Num: 5, Name: "grep", Args: []ArgSpec{
		{Num: 1, Name: "pattern", Type: ArgString},
		{Num: 2, Name: "path", Type: ArgString},
		{Num: 3, Name: "case_insensitive", Type: ArgBool},
	}},
	{Num: 6, Name: "glob", Args: []ArgSpec{
		{Num: 1, Name: "pattern", Type: ArgString},
		{Num: 2, Name: "path", Type: ArgString},
	}},
	{Num: 7, Name: "edit", Args: []ArgSpec{
		{Num: 1, Name: "path", Type: ArgString},
		{Num: 2, Name: "old_string", Type: ArgString},
		{Num: 3, Name: "new_string", Type: ArgString},
		{Num: 4, Name: "replace_all", Type: ArgBool},
	}},
	{Num: 8, Name: "apply_diff", Args: []ArgSpec{
		{Num: 1, Name: "path", Type: ArgString},
		{Num: 2, Name: "diff", Type: ArgString},
	}},
	{Num: 9, Name: "delete", Args: []ArgSpec{
		{Num: 1, Name: "path", Type: ArgString},
	}},
	{Num: 10, Name: "todowrite", Args: []ArgSpec{
		{Num: 1, Name: "todos", Type: ArgValue},
	}},
	{Num: 11, Name: "todoread"},
	{Num: 12, Name: "mcp", Args: []ArgSpec{
		{Num: 1, Name: "server", Type: ArgString},
		{Num: 2, Name: "tool", Type: ArgString},
		{Num: 3, Name: "args", Type: ArgValue},
	}},
	{Num: 13, Name: "semantic_search", Args: []ArgSpec{
		{Num: 1, Name: "query", Type: ArgString},
		{Num: 2, Name: "paths", Type: ArgStrings},
	}},
	{Num: 14, Name: "web_search", Args: []ArgSpec{
		{Num: 1, Name: "query", Type: ArgString},
	}},
	{Num: 15, Name: "create_plan", Args: []ArgSpec{
		{Num: 1, Name: "title", Type: ArgString},
		{Num: 2, Name: "steps", Type: ArgStrings},
	}},
	{Num: 16, Name: "task", Args: []ArgSpec{
		{Num: 1, Name: "description", Type: ArgString},
		{Num: 2, Name: "prompt", Type: ArgString},
	}},
	{Num: 17, Name: "fetch", Args: []ArgSpec{
		{Num: 1, Name: "url", Type: ArgString},
		{Num: 2, Name: "method", Type: ArgString},
	}},
	{Num: 18, Name: "ask_question", Args: []ArgSpec{
		{Num: 1, Name: "question", Type: ArgString},
		{Num: 2, Name: "options", Type: ArgStrings},
	}},
	{Num: 19, Name: "switch_mode", Args: []ArgSpec{
		{Num: 1, Name: "mode", Type: ArgString},
	}},
	{Num: 20, Name: "list_mcp_resources", Args: []ArgSpec{
		{Num: 1, Name: "server", Type: ArgString},
	}},
	{Num: 21, Name: "read_mcp_resource", Args: []ArgSpec{
		{Num: 1, Name: "server", Type: ArgString},
		{Num: 2, Name: "uri", Type: ArgString},
	}},
	{Num: 22, Name: "read_lints", Args: []ArgSpec{
		{Num: 1, Name: "paths", Type: ArgStrings},
	}},
	{Num: 23, Name: "exa_search", Args: []ArgSpec{
		{Num: 1, Name: "query", Type: ArgString},
		{Num: 2, Name: "num_results", Type: ArgInt},
	}},
	{Num: 24, Name: "exa_fetch", Args: []ArgSpec{
		{Num: 1, Name: "url", Type: ArgString},
	}},
	{Num: 25, Name: "generate_image", Args: []ArgSpec{
		{Num: 1, Name: "prompt", Type: ArgString},
	}},
	{Num: 26, Name: "record_screen", Args: []ArgSpec{
		{Num: 1, Name: "action", Type: ArgString},
	}},
	{Num: 27, Name: "computer_use", Args: []ArgSpec{
		{Num: 1, Name: "action", Type: ArgString},
		{Num: 2, Name: "coordinate", Type: ArgValue},
		{Num: 3, Name: "text", Type: ArgString},
	}},
	{Num: 28, Name: "bash", Args: []ArgSpec{
		{Num: 1, Name: "command", Type: ArgString},
		{Num: 2, Name: "cwd", Type: ArgString},
	}},
}

var toolsByNum = func() map[wire.Number]*ToolSpec {
	m := make(map[wire.Number]*ToolSpec, len(toolTable))
	for i := range toolTable {
		m[toolTable[i].Num] = &toolTable[i]
	}
	return m
}()

// ToolByNum looks up a tool spec by its field number.
func ToolByNum(num wire.Number) (*ToolSpec, bool) {
	spec, ok := toolsByNum[num]
	return spec, ok
}

// DecodeToolCallPayload decodes a tool-call payload message. The payload is a
// oneof whose populated field number selects the tool kind; the field body
// carries that tool's argument message.
func DecodeToolCallPayload(payload []byte) (*ToolCall, error) {
	fields, err := wire.Fields(payload)
	if err != nil {
		return nil, err
	}
	for _, f := range fields {
		if f.Type != wire.TypeBytes {
			continue
		}
		spec, ok := ToolByNum(f.Num)
		if !ok {
			// Unknown tool kind: preserve the field number and surface the
			// raw argument bytes so the call can be forwarded, not dropped.
			return &ToolCall{
				FieldNum: f.Num,
				Name:     fmt.Sprintf("tool_%d", f.Num),
				Args:     map[string]any{"_raw": f.Data},
				unknown:  true,
			}, nil
		}
		args, err := DecodeArgs(f.Data, spec.Args)
		if err != nil {
			return nil, err
		}
		return &ToolCall{FieldNum: f.Num, Name: spec.Name, Args: args}, nil
	}
	return nil, nil
}

// DecodeArgs decodes an argument message using its positional schema.
// Fields not covered by the schema are ignored.
func DecodeArgs(payload []byte, specs []ArgSpec) (map[string]any, error) {
	args := map[string]any{}
	fields, err := wire.Fields(payload)
	if err != nil {
		return args, err
	}
	for _, spec := range specs {
		for _, f := range fields {
			if f.Num != spec.Num {
				continue
			}
			switch spec.Type {
			case ArgString:
				args[spec.Name] = f.String()
			case ArgBool:
				args[spec.Name] = f.Bool()
			case ArgInt:
				args[spec.Name] = int64(f.Varint)
			case ArgStrings:
				list, _ := args[spec.Name].([]string)
				args[spec.Name] = append(list, f.String())
			case ArgMessage:
				sub, err := DecodeArgs(f.Data, spec.Sub)
				if err != nil {
					return args, err
				}
				args[spec.Name] = sub
			case ArgValue:
				v, err := wire.DecodeValue(f.Data)
				if err != nil {
					return args, err
				}
				args[spec.Name] = v
			}
		}
	}
	return args, nil
}

// EncodeArgs encodes an argument map using its positional schema; the inverse
// of DecodeArgs for the types the table uses.
func EncodeArgs(args map[string]any, specs []ArgSpec) ([]byte, error) {
	var b wire.Builder
	for _, spec := range specs {
		v, ok := args[spec.Name]
		if !ok {
			continue
		}
		switch spec.Type {
		case ArgString:
			s, _ := v.(string)
			b.String(spec.Num, s)
		case ArgBool:
			bv, _ := v.(bool)
			b.Bool(spec.Num, bv)
		case ArgInt:
			switch n := v.(type) {
			case int64:
				b.Varint(spec.Num, uint64(n))
			case int:
				b.Varint(spec.Num, uint64(n))
			case float64:
				b.Varint(spec.Num, uint64(n))
			}
		case ArgStrings:
			ss, _ := v.([]string)
			for _, s := range ss {
				b.StringAlways(spec.Num, s)
			}
		case ArgValue:
			enc, err := wire.EncodeValue(v)
			if err != nil {
				return nil, err
			}
			b.Message(spec.Num, enc)
		}
	}
	return b.Bytes(), nil
}
