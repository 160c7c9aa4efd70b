package binxml

import (
	"testing"
)

func TestValue_Text(t *testing.T) {
	tests := []struct {
		name     string
		value    Value
		expected string
	}{
		{"null", Null(), ""},
		{"bool true", BoolValue(true), "true"},
		{"bool false", BoolValue(false), "false"},
		{"int", IntValue(-42), "-42"},
		{"uint", UintValue(4624), "4624"},
		{"float", FloatValue(1.5), "1.5"},
		{"string", StringValue("hello"), "hello"},
		{"binary", BinaryValue([]byte{0xde, 0xad, 0xbe, 0xef}), "DEADBEEF"},
	}

	for _, tt := range tests {
		got := tt.value.Text()
		if got != tt.expected {
			t.Errorf("%s: Text() = %q, want %q", tt.name, got, tt.expected)
		}
	}
}

func TestValuesFromJSON(t *testing.T) {
	values, err := ValuesFromJSON([]byte(`[null, true, 42, -7, 1.25, "user", 18446744073709551615]`))
	if err != nil {
		t.Fatalf("ValuesFromJSON: %v", err)
	}
	if len(values) != 7 {
		t.Fatalf("got %d values, want 7", len(values))
	}

	expected := []struct {
		kind Kind
		text string
	}{
		{KindNull, ""},
		{KindBool, "true"},
		{KindInt, "42"},
		{KindInt, "-7"},
		{KindFloat, "1.25"},
		{KindString, "user"},
		{KindUint, "18446744073709551615"},
	}
	for i, e := range expected {
		if values[i].Kind != e.kind {
			t.Errorf("value %d: kind = %v, want %v", i, values[i].Kind, e.kind)
		}
		if got := values[i].Text(); got != e.text {
			t.Errorf("value %d: Text() = %q, want %q", i, got, e.text)
		}
	}
}

func TestValuesFromJSON_NotArray(t *testing.T) {
	if _, err := ValuesFromJSON([]byte(`{"a": 1}`)); err == nil {
		t.Error("expected error for non-array input")
	}
}

func TestFormatGUID(t *testing.T) {
	// Mixed endianness: the first three groups are stored little-endian.
	b := []byte{
		0x25, 0x96, 0x84, 0x54,
		0x78, 0x54,
		0x94, 0x49,
		0xa5, 0xba,
		0x3e, 0x3b, 0x03, 0x28, 0xc3, 0x0d,
	}
	got := FormatGUID(b)
	want := "54849625-5478-4994-a5ba-3e3b0328c30d"
	if got != want {
		t.Errorf("FormatGUID = %q, want %q", got, want)
	}

	if got := FormatGUID([]byte{1, 2, 3}); got != "" {
		t.Errorf("FormatGUID on short input = %q, want empty", got)
	}
}

func TestDecodeUTF16(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{"plain", []byte{'h', 0, 'i', 0}, "hi"},
		{"nul terminated", []byte{'h', 0, 'i', 0, 0, 0}, "hi"},
		{"empty", nil, ""},
		{"odd length dropped", []byte{'h', 0, 'i'}, "h"},
	}

	for _, tt := range tests {
		got := DecodeUTF16(tt.input)
		if got != tt.expected {
			t.Errorf("%s: DecodeUTF16 = %q, want %q", tt.name, got, tt.expected)
		}
	}
}
