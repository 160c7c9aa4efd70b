package binxml

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"golang.org/x/text/encoding"
)

// BinXML value type tags, shared between inline values in templates and
// substitution value descriptors in event records.
const (
	TypeNull       = 0x00
	TypeString     = 0x01 // UTF-16LE
	TypeAnsiString = 0x02
	TypeInt8       = 0x03
	TypeUint8      = 0x04
	TypeInt16      = 0x05
	TypeUint16     = 0x06
	TypeInt32      = 0x07
	TypeUint32     = 0x08
	TypeInt64      = 0x09
	TypeUint64     = 0x0a
	TypeReal32     = 0x0b
	TypeReal64     = 0x0c
	TypeBool       = 0x0d
	TypeBinary     = 0x0e
	TypeGUID       = 0x0f
	TypeSizeT      = 0x10
	TypeFileTime   = 0x11
	TypeHexInt32   = 0x14
	TypeHexInt64   = 0x15
	TypeBinXML     = 0x21
)

// filetimeEpochDelta is the offset between the Windows FILETIME epoch
// (1601-01-01) and the Unix epoch, in 100ns ticks.
const filetimeEpochDelta = 116444736000000000

// DecodeValue decodes a sized value of the given BinXML type tag into a
// Value. ANSI strings are decoded with the supplied codec. Unrecognized
// types fall back to the binary variant.
func DecodeValue(valueType uint8, data []byte, codec encoding.Encoding) (Value, error) {
	switch valueType {
	case TypeNull:
		return Null(), nil
	case TypeString:
		return StringValue(DecodeUTF16(data)), nil
	case TypeAnsiString:
		s, err := decodeANSI(codec, data)
		if err != nil {
			return Value{}, err
		}
		return StringValue(s), nil
	case TypeInt8:
		if len(data) < 1 {
			return Value{}, errShortValue(valueType, len(data))
		}
		return IntValue(int64(int8(data[0]))), nil
	case TypeUint8:
		if len(data) < 1 {
			return Value{}, errShortValue(valueType, len(data))
		}
		return UintValue(uint64(data[0])), nil
	case TypeInt16:
		if len(data) < 2 {
			return Value{}, errShortValue(valueType, len(data))
		}
		return IntValue(int64(int16(binary.LittleEndian.Uint16(data)))), nil
	case TypeUint16:
		if len(data) < 2 {
			return Value{}, errShortValue(valueType, len(data))
		}
		return UintValue(uint64(binary.LittleEndian.Uint16(data))), nil
	case TypeInt32:
		if len(data) < 4 {
			return Value{}, errShortValue(valueType, len(data))
		}
		return IntValue(int64(int32(binary.LittleEndian.Uint32(data)))), nil
	case TypeUint32:
		if len(data) < 4 {
			return Value{}, errShortValue(valueType, len(data))
		}
		return UintValue(uint64(binary.LittleEndian.Uint32(data))), nil
	case TypeInt64:
		if len(data) < 8 {
			return Value{}, errShortValue(valueType, len(data))
		}
		return IntValue(int64(binary.LittleEndian.Uint64(data))), nil
	case TypeUint64, TypeSizeT:
		if len(data) < 8 {
			return Value{}, errShortValue(valueType, len(data))
		}
		return UintValue(binary.LittleEndian.Uint64(data)), nil
	case TypeReal32:
		if len(data) < 4 {
			return Value{}, errShortValue(valueType, len(data))
		}
		return FloatValue(float64(math.Float32frombits(binary.LittleEndian.Uint32(data)))), nil
	case TypeReal64:
		if len(data) < 8 {
			return Value{}, errShortValue(valueType, len(data))
		}
		return FloatValue(math.Float64frombits(binary.LittleEndian.Uint64(data))), nil
	case TypeBool:
		switch len(data) {
		case 0:
			return Value{}, errShortValue(valueType, 0)
		case 1, 2, 3:
			return BoolValue(data[0] != 0), nil
		default:
			return BoolValue(binary.LittleEndian.Uint32(data) != 0), nil
		}
	case TypeGUID:
		if len(data) < 16 {
			return Value{}, errShortValue(valueType, len(data))
		}
		return StringValue(FormatGUID(data[:16])), nil
	case TypeFileTime:
		if len(data) < 8 {
			return Value{}, errShortValue(valueType, len(data))
		}
		ft := binary.LittleEndian.Uint64(data)
		t := time.Unix(0, (int64(ft)-filetimeEpochDelta)*100).UTC()
		return StringValue(t.Format(time.RFC3339Nano)), nil
	case TypeHexInt32:
		if len(data) < 4 {
			return Value{}, errShortValue(valueType, len(data))
		}
		return StringValue(fmt.Sprintf("0x%x", binary.LittleEndian.Uint32(data))), nil
	case TypeHexInt64:
		if len(data) < 8 {
			return Value{}, errShortValue(valueType, len(data))
		}
		return StringValue(fmt.Sprintf("0x%x", binary.LittleEndian.Uint64(data))), nil
	default:
		cp := make([]byte, len(data))
		copy(cp, data)
		return BinaryValue(cp), nil
	}
}

func errShortValue(valueType uint8, n int) error {
	return fmt.Errorf("binxml: value type 0x%02x truncated (%d bytes)", valueType, n)
}
