package binxml

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
)

// TempHeaderSize is the fixed size of a TEMP definition header:
// signature, size, item count, name count, items offset, GUID.
const TempHeaderSize = 36

// ErrMalformed is returned when template byte-code cannot be rendered.
var ErrMalformed = errors.New("binxml: malformed template byte-code")

// BinXML token tags. The 0x40 bit marks "more data" variants
// (an element carrying attributes, an attribute with a successor).
const (
	tokenEOF            = 0x00
	tokenOpenStart      = 0x01
	tokenOpenStartAttr  = 0x41
	tokenCloseStart     = 0x02
	tokenCloseEmpty     = 0x03
	tokenEndElement     = 0x04
	tokenValue          = 0x05
	tokenValueMore      = 0x45
	tokenAttribute      = 0x06
	tokenAttributeMore  = 0x46
	tokenNormalSub      = 0x0d
	tokenOptionalSub    = 0x0e
	tokenFragmentHeader = 0x0f
)

// RenderTemplate renders a TEMP blob to XML. When values is nil every
// substitution renders as a `{sub:N}` placeholder; otherwise substitution N
// takes values[N] (out-of-range slots keep the placeholder form).
func RenderTemplate(temp []byte, values []Value, codec encoding.Encoding) (string, error) {
	frag, err := TemplateFragment(temp)
	if err != nil {
		return "", err
	}
	return RenderFragment(frag, values, codec)
}

// TemplateFragment validates a TEMP header and returns the contained
// BinXML fragment.
func TemplateFragment(temp []byte) ([]byte, error) {
	if len(temp) < TempHeaderSize {
		return nil, fmt.Errorf("%w: TEMP header truncated (%d bytes)", ErrMalformed, len(temp))
	}
	if string(temp[0:4]) != "TEMP" {
		return nil, fmt.Errorf("%w: bad TEMP signature", ErrMalformed)
	}
	size := le32(temp[4:])
	if size < TempHeaderSize || int(size) > len(temp) {
		return nil, fmt.Errorf("%w: TEMP size %d out of range", ErrMalformed, size)
	}
	end := size
	if itemsOff := le32(temp[16:]); itemsOff != 0 {
		if itemsOff < TempHeaderSize || itemsOff > size {
			return nil, fmt.Errorf("%w: TEMP items offset %d out of range", ErrMalformed, itemsOff)
		}
		end = itemsOff
	}
	return temp[TempHeaderSize:end], nil
}

// RenderFragment renders a bare BinXML fragment to XML.
func RenderFragment(frag []byte, values []Value, codec encoding.Encoding) (string, error) {
	r := &renderer{data: frag, values: values, codec: codec}
	var b strings.Builder
	if err := r.fragment(&b); err != nil {
		return "", err
	}
	return b.String(), nil
}

type renderer struct {
	data   []byte
	pos    int
	values []Value
	codec  encoding.Encoding
}

func (r *renderer) u8() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("%w: unexpected end of fragment", ErrMalformed)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *renderer) u16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

func (r *renderer) u32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return le32(b), nil
}

func (r *renderer) take(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, fmt.Errorf("%w: unexpected end of fragment", ErrMalformed)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// name reads an inline element or attribute name: a character count
// followed by UTF-16LE data.
func (r *renderer) name() (string, error) {
	n, err := r.u16()
	if err != nil {
		return "", err
	}
	b, err := r.take(int(n) * 2)
	if err != nil {
		return "", err
	}
	return DecodeUTF16(b), nil
}

func (r *renderer) fragment(b *strings.Builder) error {
	for r.pos < len(r.data) {
		tok, err := r.u8()
		if err != nil {
			return err
		}
		switch tok {
		case tokenEOF:
			return nil
		case tokenFragmentHeader:
			if _, err := r.take(3); err != nil { // major, minor, flags
				return err
			}
		case tokenOpenStart, tokenOpenStartAttr:
			if err := r.element(tok, b); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unexpected token 0x%02x at offset %d", ErrMalformed, tok, r.pos-1)
		}
	}
	return nil
}

func (r *renderer) element(tok byte, b *strings.Builder) error {
	if _, err := r.u16(); err != nil { // dependency identifier
		return err
	}
	if _, err := r.u32(); err != nil { // data size
		return err
	}
	name, err := r.name()
	if err != nil {
		return err
	}

	b.WriteByte('<')
	b.WriteString(name)

	if tok == tokenOpenStartAttr {
		if _, err := r.u32(); err != nil { // attribute list size
			return err
		}
		for {
			atok, err := r.u8()
			if err != nil {
				return err
			}
			if atok != tokenAttribute && atok != tokenAttributeMore {
				return fmt.Errorf("%w: expected attribute token, got 0x%02x", ErrMalformed, atok)
			}
			aname, err := r.name()
			if err != nil {
				return err
			}
			text, omit, err := r.attributeValue()
			if err != nil {
				return err
			}
			if !omit {
				b.WriteByte(' ')
				b.WriteString(aname)
				b.WriteString(`="`)
				b.WriteString(escapeAttr(text))
				b.WriteByte('"')
			}
			if atok == tokenAttribute {
				break
			}
		}
	}

	closing, err := r.u8()
	if err != nil {
		return err
	}
	switch closing {
	case tokenCloseEmpty:
		b.WriteString("/>")
		return nil
	case tokenCloseStart:
		b.WriteByte('>')
	default:
		return fmt.Errorf("%w: expected element close token, got 0x%02x", ErrMalformed, closing)
	}

	for {
		tok, err := r.u8()
		if err != nil {
			return err
		}
		switch tok {
		case tokenEndElement:
			b.WriteString("</")
			b.WriteString(name)
			b.WriteByte('>')
			return nil
		case tokenValue, tokenValueMore:
			text, err := r.inlineValue()
			if err != nil {
				return err
			}
			b.WriteString(escapeText(text))
		case tokenNormalSub, tokenOptionalSub:
			text, omit, err := r.substitution(tok)
			if err != nil {
				return err
			}
			if !omit {
				b.WriteString(escapeText(text))
			}
		case tokenOpenStart, tokenOpenStartAttr:
			if err := r.element(tok, b); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: unexpected content token 0x%02x", ErrMalformed, tok)
		}
	}
}

// attributeValue reads the single value or substitution token forming an
// attribute's value. omit reports that the attribute should be dropped
// entirely (an optional substitution that resolved to null).
func (r *renderer) attributeValue() (text string, omit bool, err error) {
	tok, err := r.u8()
	if err != nil {
		return "", false, err
	}
	switch tok {
	case tokenValue, tokenValueMore:
		text, err = r.inlineValue()
		return text, false, err
	case tokenNormalSub, tokenOptionalSub:
		return r.substitution(tok)
	default:
		return "", false, fmt.Errorf("%w: expected attribute value token, got 0x%02x", ErrMalformed, tok)
	}
}

// substitution reads a substitution slot reference and resolves it against
// the current values. Without values (template inspection) the placeholder
// form {sub:N} is produced.
func (r *renderer) substitution(tok byte) (text string, omit bool, err error) {
	id, err := r.u16()
	if err != nil {
		return "", false, err
	}
	if _, err := r.u8(); err != nil { // declared value type
		return "", false, err
	}
	if r.values == nil || int(id) >= len(r.values) {
		return fmt.Sprintf("{sub:%d}", id), false, nil
	}
	v := r.values[id]
	if v.IsNull() && tok == tokenOptionalSub {
		return "", true, nil
	}
	return v.Text(), false, nil
}

// inlineValue reads a typed literal value embedded in the byte-code.
func (r *renderer) inlineValue() (string, error) {
	vt, err := r.u8()
	if err != nil {
		return "", err
	}
	switch vt {
	case TypeNull:
		return "", nil
	case TypeString:
		n, err := r.u16()
		if err != nil {
			return "", err
		}
		b, err := r.take(int(n) * 2)
		if err != nil {
			return "", err
		}
		return DecodeUTF16(b), nil
	case TypeAnsiString, TypeBinary:
		n, err := r.u16()
		if err != nil {
			return "", err
		}
		b, err := r.take(int(n))
		if err != nil {
			return "", err
		}
		v, err := DecodeValue(vt, b, r.codec)
		if err != nil {
			return "", err
		}
		return v.Text(), nil
	default:
		size, ok := fixedValueSize(vt)
		if !ok {
			return "", fmt.Errorf("%w: unsupported inline value type 0x%02x", ErrMalformed, vt)
		}
		b, err := r.take(size)
		if err != nil {
			return "", err
		}
		v, err := DecodeValue(vt, b, r.codec)
		if err != nil {
			return "", err
		}
		return v.Text(), nil
	}
}

// fixedValueSize reports the wire size of fixed-width value types.
func fixedValueSize(vt byte) (int, bool) {
	switch vt {
	case TypeInt8, TypeUint8:
		return 1, true
	case TypeInt16, TypeUint16:
		return 2, true
	case TypeInt32, TypeUint32, TypeReal32, TypeBool, TypeHexInt32:
		return 4, true
	case TypeInt64, TypeUint64, TypeReal64, TypeSizeT, TypeFileTime, TypeHexInt64:
		return 8, true
	case TypeGUID:
		return 16, true
	default:
		return 0, false
	}
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

var (
	textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	attrEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
)

func escapeText(s string) string { return textEscaper.Replace(s) }

func escapeAttr(s string) string { return attrEscaper.Replace(s) }
