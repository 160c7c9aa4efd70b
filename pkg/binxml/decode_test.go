package binxml

import (
	"testing"

	"golang.org/x/text/encoding/charmap"
)

func TestDecodeValue(t *testing.T) {
	tests := []struct {
		name      string
		valueType uint8
		data      []byte
		expected  string
	}{
		{"null", TypeNull, nil, ""},
		{"utf16 string", TypeString, []byte{'o', 0, 'k', 0}, "ok"},
		{"int8 negative", TypeInt8, []byte{0xff}, "-1"},
		{"uint32", TypeUint32, []byte{0x10, 0x12, 0x00, 0x00}, "4624"},
		{"int64", TypeInt64, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}, "-1"},
		{"real64", TypeReal64, []byte{0, 0, 0, 0, 0, 0, 0xf8, 0x3f}, "1.5"},
		{"bool single byte", TypeBool, []byte{1}, "true"},
		{"bool dword false", TypeBool, []byte{0, 0, 0, 0}, "false"},
		{"binary", TypeBinary, []byte{0xca, 0xfe}, "CAFE"},
		{"hex32", TypeHexInt32, []byte{0x3f, 0x00, 0x00, 0x00}, "0x3f"},
		{"filetime epoch", TypeFileTime, []byte{0, 0x80, 0x3e, 0xd5, 0xde, 0xb1, 0x9d, 0x01}, "1970-01-01T00:00:00Z"},
		{"unknown falls back to binary", 0x7f, []byte{0xab}, "AB"},
	}

	for _, tt := range tests {
		v, err := DecodeValue(tt.valueType, tt.data, charmap.Windows1252)
		if err != nil {
			t.Errorf("%s: DecodeValue: %v", tt.name, err)
			continue
		}
		if got := v.Text(); got != tt.expected {
			t.Errorf("%s: Text() = %q, want %q", tt.name, got, tt.expected)
		}
	}
}

func TestDecodeValue_AnsiString(t *testing.T) {
	// 0xe9 is é in windows-1252.
	v, err := DecodeValue(TypeAnsiString, []byte{'c', 'a', 'f', 0xe9}, charmap.Windows1252)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if got := v.Text(); got != "café" {
		t.Errorf("Text() = %q, want %q", got, "café")
	}
}

func TestDecodeValue_GUID(t *testing.T) {
	data := []byte{
		0x25, 0x96, 0x84, 0x54, 0x78, 0x54, 0x94, 0x49,
		0xa5, 0xba, 0x3e, 0x3b, 0x03, 0x28, 0xc3, 0x0d,
	}
	v, err := DecodeValue(TypeGUID, data, nil)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	if got := v.Text(); got != "54849625-5478-4994-a5ba-3e3b0328c30d" {
		t.Errorf("Text() = %q", got)
	}
}

func TestDecodeValue_Truncated(t *testing.T) {
	tests := []struct {
		name      string
		valueType uint8
		data      []byte
	}{
		{"uint32 short", TypeUint32, []byte{1, 2}},
		{"int64 short", TypeInt64, []byte{1, 2, 3, 4}},
		{"guid short", TypeGUID, []byte{1, 2, 3}},
		{"bool empty", TypeBool, nil},
	}

	for _, tt := range tests {
		if _, err := DecodeValue(tt.valueType, tt.data, nil); err == nil {
			t.Errorf("%s: expected error", tt.name)
		}
	}
}

func TestResolveANSICodec(t *testing.T) {
	if _, err := ResolveANSICodec(""); err != nil {
		t.Errorf("empty name should resolve to the default codec: %v", err)
	}
	if _, err := ResolveANSICodec("windows-1252"); err != nil {
		t.Errorf("windows-1252: %v", err)
	}
	if _, err := ResolveANSICodec("iso-8859-1"); err != nil {
		t.Errorf("iso-8859-1: %v", err)
	}
	if _, err := ResolveANSICodec("no-such-charset"); err == nil {
		t.Error("expected error for unknown charset")
	}
}
