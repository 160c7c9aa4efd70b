// Package binxml renders WEVT template byte-code (TEMP blobs) to XML and
// models the substitution values that fill template placeholders.
package binxml

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf16"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindUint
	KindFloat
	KindString
	KindBinary
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	default:
		return "unknown"
	}
}

// Value is a substitution value: a closed tagged variant covering the
// primitive shapes a template placeholder can receive.
type Value struct {
	Kind  Kind
	Bool  bool
	Int   int64
	Uint  uint64
	Float float64
	Str   string
	Bytes []byte
}

// Null returns the null value.
func Null() Value { return Value{Kind: KindNull} }

// BoolValue wraps a bool.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// IntValue wraps a signed integer.
func IntValue(i int64) Value { return Value{Kind: KindInt, Int: i} }

// UintValue wraps an unsigned integer.
func UintValue(u uint64) Value { return Value{Kind: KindUint, Uint: u} }

// FloatValue wraps a float.
func FloatValue(f float64) Value { return Value{Kind: KindFloat, Float: f} }

// StringValue wraps a string.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// BinaryValue wraps raw bytes.
func BinaryValue(b []byte) Value { return Value{Kind: KindBinary, Bytes: b} }

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Text renders the value as XML character data (before escaping).
// Null renders as the empty string; binary renders as upper-case hex.
func (v Value) Text() string {
	switch v.Kind {
	case KindNull:
		return ""
	case KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindUint:
		return strconv.FormatUint(v.Uint, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case KindString:
		return v.Str
	case KindBinary:
		return strings.ToUpper(fmt.Sprintf("%x", v.Bytes))
	default:
		return ""
	}
}

// ValuesFromJSON decodes a JSON array into substitution values.
// null, booleans, numbers, and strings map to the matching variant;
// anything else falls back to its string representation.
func ValuesFromJSON(data []byte) ([]Value, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()

	var raw []interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("binxml: substitutions must be a JSON array: %w", err)
	}

	out := make([]Value, 0, len(raw))
	for _, item := range raw {
		switch x := item.(type) {
		case nil:
			out = append(out, Null())
		case bool:
			out = append(out, BoolValue(x))
		case json.Number:
			if i, err := strconv.ParseInt(x.String(), 10, 64); err == nil {
				out = append(out, IntValue(i))
			} else if u, err := strconv.ParseUint(x.String(), 10, 64); err == nil {
				out = append(out, UintValue(u))
			} else if f, err := x.Float64(); err == nil {
				out = append(out, FloatValue(f))
			} else {
				out = append(out, StringValue(x.String()))
			}
		case string:
			out = append(out, StringValue(x))
		default:
			// Fallback: stringify.
			out = append(out, StringValue(fmt.Sprint(x)))
		}
	}
	return out, nil
}

// FormatGUID formats a 16-byte Windows GUID (mixed endianness: the first
// three groups are little-endian) as the canonical lower-case textual form
// without braces.
func FormatGUID(b []byte) string {
	if len(b) != 16 {
		return ""
	}
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		binary.LittleEndian.Uint32(b[0:4]),
		binary.LittleEndian.Uint16(b[4:6]),
		binary.LittleEndian.Uint16(b[6:8]),
		b[8:10],
		b[10:16])
}

// DecodeUTF16 decodes UTF-16LE bytes to a string, dropping a trailing NUL
// terminator if present.
func DecodeUTF16(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	// Strip a trailing NUL terminator if present.
	if n := len(u); n > 0 && u[n-1] == 0 {
		u = u[:n-1]
	}
	return string(utf16.Decode(u))
}
