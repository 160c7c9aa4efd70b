// Package generators builds synthetic test fixtures: TEMP blobs, CRIM
// manifest containers, EVTX files, and minimal PE images carrying
// WEVT_TEMPLATE resources.
package generators

import (
	"encoding/binary"
	"strconv"
	"strings"
	"unicode/utf16"
)

// GUIDBytes encodes a canonical textual GUID ("xxxxxxxx-xxxx-...") into its
// 16-byte wire form (first three groups little-endian).
func GUIDBytes(guid string) []byte {
	parts := strings.Split(strings.Trim(guid, "{}"), "-")
	if len(parts) != 5 {
		panic("generators: malformed GUID " + guid)
	}
	out := make([]byte, 16)
	binary.LittleEndian.PutUint32(out[0:], uint32(mustHex(parts[0])))
	binary.LittleEndian.PutUint16(out[4:], uint16(mustHex(parts[1])))
	binary.LittleEndian.PutUint16(out[6:], uint16(mustHex(parts[2])))
	g3 := mustHex(parts[3])
	out[8] = byte(g3 >> 8)
	out[9] = byte(g3)
	g4 := mustHex(parts[4])
	for i := 0; i < 6; i++ {
		out[10+i] = byte(g4 >> uint(8*(5-i)))
	}
	return out
}

func mustHex(s string) uint64 {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		panic("generators: malformed GUID group " + s)
	}
	return v
}

// UTF16 encodes a string as UTF-16LE without a terminator.
func UTF16(s string) []byte {
	u := utf16.Encode([]rune(s))
	out := make([]byte, len(u)*2)
	for i, c := range u {
		binary.LittleEndian.PutUint16(out[i*2:], c)
	}
	return out
}

func u16le(v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return b[:]
}

func u32le(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func u64le(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// --- BinXML fragments ---

// Frag assembles a BinXML fragment: the fragment header followed by the
// given pieces and an EOF token.
func Frag(pieces ...[]byte) []byte {
	out := []byte{0x0f, 0x01, 0x01, 0x00}
	for _, p := range pieces {
		out = append(out, p...)
	}
	return append(out, 0x00)
}

// binxmlName encodes an inline name: character count, then UTF-16LE.
func binxmlName(name string) []byte {
	out := u16le(uint16(len([]rune(name))))
	return append(out, UTF16(name)...)
}

// Element encodes an attribute-less element wrapping the given content
// pieces. Empty content yields a self-closing element.
func Element(name string, content ...[]byte) []byte {
	var body []byte
	for _, c := range content {
		body = append(body, c...)
	}

	out := []byte{0x01}
	out = append(out, u16le(0xffff)...) // dependency id
	out = append(out, u32le(0)...)      // data size, unused by the renderer
	out = append(out, binxmlName(name)...)
	if len(body) == 0 {
		return append(out, 0x03) // close empty
	}
	out = append(out, 0x02) // close start
	out = append(out, body...)
	return append(out, 0x04) // end element
}

// Attr is one attribute for ElementAttrs: a name and an encoded value token
// (InlineString or Sub).
type Attr struct {
	Name  string
	Value []byte
}

// ElementAttrs encodes an element carrying attributes.
func ElementAttrs(name string, attrs []Attr, content ...[]byte) []byte {
	var body []byte
	for _, c := range content {
		body = append(body, c...)
	}

	out := []byte{0x41}
	out = append(out, u16le(0xffff)...)
	out = append(out, u32le(0)...)
	out = append(out, binxmlName(name)...)
	out = append(out, u32le(0)...) // attribute list size, unused
	for i, a := range attrs {
		tok := byte(0x46)
		if i == len(attrs)-1 {
			tok = 0x06
		}
		out = append(out, tok)
		out = append(out, binxmlName(a.Name)...)
		out = append(out, a.Value...)
	}
	if len(body) == 0 {
		return append(out, 0x03)
	}
	out = append(out, 0x02)
	out = append(out, body...)
	return append(out, 0x04)
}

// InlineString encodes an inline UTF-16 string value token.
func InlineString(s string) []byte {
	out := []byte{0x05, 0x01}
	out = append(out, u16le(uint16(len([]rune(s))))...)
	return append(out, UTF16(s)...)
}

// Sub encodes a normal substitution token for slot id.
func Sub(id uint16, valueType byte) []byte {
	out := []byte{0x0d}
	out = append(out, u16le(id)...)
	return append(out, valueType)
}

// OptSub encodes an optional substitution token for slot id.
func OptSub(id uint16, valueType byte) []byte {
	out := []byte{0x0e}
	out = append(out, u16le(id)...)
	return append(out, valueType)
}

// --- TEMP blobs ---

// ItemSpec describes one substitution slot descriptor of a TEMP.
type ItemSpec struct {
	InputType  byte
	OutputType byte
	Count      uint16
	Length     uint16
	Name       string
}

// TempSpec describes one TEMP definition.
type TempSpec struct {
	GUID     string
	Fragment []byte // BinXML fragment, usually built with Frag
	Items    []ItemSpec
}

// BuildTEMP assembles a TEMP blob: 36-byte header, fragment, item
// descriptors, then length-prefixed UTF-16 item names.
func BuildTEMP(spec TempSpec) []byte {
	const headerSize = 36
	const itemDefSize = 12

	itemsOff := uint32(headerSize + len(spec.Fragment))
	namesOff := itemsOff + uint32(len(spec.Items))*itemDefSize

	nameOffsets := make([]uint32, len(spec.Items))
	var names []byte
	nameCount := uint32(0)
	for i, item := range spec.Items {
		if item.Name == "" {
			continue
		}
		nameCount++
		nameOffsets[i] = namesOff + uint32(len(names))
		enc := UTF16(item.Name)
		names = append(names, u32le(uint32(len(enc)))...)
		names = append(names, enc...)
	}
	size := namesOff + uint32(len(names))

	out := make([]byte, 0, size)
	out = append(out, "TEMP"...)
	out = append(out, u32le(size)...)
	out = append(out, u32le(uint32(len(spec.Items)))...)
	out = append(out, u32le(nameCount)...)
	if len(spec.Items) == 0 {
		out = append(out, u32le(0)...)
	} else {
		out = append(out, u32le(itemsOff)...)
	}
	out = append(out, GUIDBytes(spec.GUID)...)

	out = append(out, spec.Fragment...)
	for i, item := range spec.Items {
		out = append(out, item.InputType, item.OutputType)
		out = append(out, u16le(item.Count)...)
		out = append(out, u16le(item.Length)...)
		out = append(out, u16le(0)...) // padding
		out = append(out, u32le(nameOffsets[i])...)
	}
	return append(out, names...)
}

// --- CRIM manifests ---

// EventSpec describes one event definition. TemplateIndex refers into the
// provider's Templates slice; a negative index means no template.
type EventSpec struct {
	ID            uint16
	Version       uint8
	MessageID     uint32
	TemplateIndex int
}

// ProviderSpec describes one provider of a manifest.
type ProviderSpec struct {
	GUID      string
	MessageID uint32
	Events    []EventSpec
	Templates []TempSpec
}

// BuildCRIM assembles a complete CRIM container from provider specs.
// Template offsets referenced by events are resolved during layout.
func BuildCRIM(providers []ProviderSpec) []byte {
	const (
		headerSize       = 16
		providerDescSize = 20
		wevtHeaderSize   = 16
		elementDescSize  = 8
		evntHeaderSize   = 16
		eventDefSize     = 32
		ttblHeaderSize   = 12
	)

	temps := make([][][]byte, len(providers))
	for pi, p := range providers {
		temps[pi] = make([][]byte, len(p.Templates))
		for ti, spec := range p.Templates {
			temps[pi][ti] = BuildTEMP(spec)
		}
	}

	// Layout pass: provider table first, then each provider's WEVT element
	// with its EVNT and TTBL children.
	pos := uint32(headerSize) + uint32(len(providers))*providerDescSize
	provOff := make([]uint32, len(providers))
	evntOff := make([]uint32, len(providers))
	ttblOff := make([]uint32, len(providers))
	tempOff := make([][]uint32, len(providers))
	for pi, p := range providers {
		provOff[pi] = pos
		pos += wevtHeaderSize + 2*elementDescSize

		evntOff[pi] = pos
		pos += evntHeaderSize + uint32(len(p.Events))*eventDefSize

		ttblOff[pi] = pos
		pos += ttblHeaderSize
		tempOff[pi] = make([]uint32, len(p.Templates))
		for ti := range p.Templates {
			tempOff[pi][ti] = pos
			pos += uint32(len(temps[pi][ti]))
		}
	}
	total := pos

	out := make([]byte, 0, total)
	out = append(out, "CRIM"...)
	out = append(out, u32le(total)...)
	out = append(out, u16le(3)...) // major
	out = append(out, u16le(1)...) // minor
	out = append(out, u32le(uint32(len(providers)))...)
	for pi, p := range providers {
		out = append(out, GUIDBytes(p.GUID)...)
		out = append(out, u32le(provOff[pi])...)
	}

	for pi, p := range providers {
		// WEVT element
		ttblSize := uint32(ttblHeaderSize)
		for _, t := range temps[pi] {
			ttblSize += uint32(len(t))
		}
		wevtSize := wevtHeaderSize + 2*elementDescSize +
			evntHeaderSize + uint32(len(p.Events))*eventDefSize + ttblSize

		out = append(out, "WEVT"...)
		out = append(out, u32le(wevtSize)...)
		out = append(out, u32le(p.MessageID)...)
		out = append(out, u32le(2)...) // descriptor count
		out = append(out, u32le(evntOff[pi])...)
		out = append(out, u32le(0)...)
		out = append(out, u32le(ttblOff[pi])...)
		out = append(out, u32le(0)...)

		// EVNT element
		out = append(out, "EVNT"...)
		out = append(out, u32le(evntHeaderSize+uint32(len(p.Events))*eventDefSize)...)
		out = append(out, u32le(uint32(len(p.Events)))...)
		out = append(out, u32le(0)...)
		for _, ev := range p.Events {
			def := make([]byte, eventDefSize)
			binary.LittleEndian.PutUint16(def[0:], ev.ID)
			def[2] = ev.Version
			binary.LittleEndian.PutUint32(def[16:], ev.MessageID)
			if ev.TemplateIndex >= 0 {
				binary.LittleEndian.PutUint32(def[20:], tempOff[pi][ev.TemplateIndex])
			}
			out = append(out, def...)
		}

		// TTBL element
		out = append(out, "TTBL"...)
		out = append(out, u32le(ttblSize)...)
		out = append(out, u32le(uint32(len(p.Templates)))...)
		for _, t := range temps[pi] {
			out = append(out, t...)
		}
	}
	return out
}

// --- EVTX files ---

// ValueSpec is one pre-encoded substitution value of a record's template
// instance.
type ValueSpec struct {
	Type byte
	Data []byte
}

// StringValue encodes a UTF-16 string value.
func StringValue(s string) ValueSpec {
	return ValueSpec{Type: 0x01, Data: UTF16(s)}
}

// Uint32Value encodes an unsigned 32-bit value.
func Uint32Value(v uint32) ValueSpec {
	return ValueSpec{Type: 0x08, Data: u32le(v)}
}

// BoolValue encodes a 4-byte boolean value.
func BoolValue(b bool) ValueSpec {
	v := uint32(0)
	if b {
		v = 1
	}
	return ValueSpec{Type: 0x0d, Data: u32le(v)}
}

// RecordSpec describes one EVTX record carrying a single resident template
// instance.
type RecordSpec struct {
	ID           uint64
	Filetime     uint64
	TemplateGUID string
	Values       []ValueSpec
}

// BuildEVTX assembles an EVTX file with one chunk holding the given
// records. Each record carries a resident template definition, so defOff
// references are chunk-relative and computed during layout.
func BuildEVTX(records []RecordSpec) []byte {
	const (
		fileHeaderSize   = 4096
		chunkSize        = 65536
		chunkDataOffset  = 512
		recordHeaderSize = 24
	)

	chunk := make([]byte, chunkSize)
	copy(chunk, "ElfChnk\x00")

	pos := chunkDataOffset
	for _, rec := range records {
		body := recordBinXML(rec, pos+recordHeaderSize)
		size := recordHeaderSize + len(body) + 4

		binary.LittleEndian.PutUint32(chunk[pos:], 0x00002a2a)
		binary.LittleEndian.PutUint32(chunk[pos+4:], uint32(size))
		binary.LittleEndian.PutUint64(chunk[pos+8:], rec.ID)
		binary.LittleEndian.PutUint64(chunk[pos+16:], rec.Filetime)
		copy(chunk[pos+recordHeaderSize:], body)
		binary.LittleEndian.PutUint32(chunk[pos+size-4:], uint32(size))
		pos += size
	}
	binary.LittleEndian.PutUint32(chunk[48:], uint32(pos)) // free space offset

	out := make([]byte, fileHeaderSize, fileHeaderSize+chunkSize)
	copy(out, "ElfFile\x00")
	binary.LittleEndian.PutUint16(out[42:], 1) // chunk count
	return append(out, chunk...)
}

// recordBinXML encodes a record body: fragment header, template instance
// token, resident definition, then the substitution value section. base is
// the chunk-relative offset where the body starts.
func recordBinXML(rec RecordSpec, base int) []byte {
	var out []byte
	out = append(out, 0x0f, 0x01, 0x01, 0x00)
	out = append(out, 0x0c) // template instance token
	out = append(out, 0x00) // unknown
	out = append(out, u32le(0)...)

	defOff := base + len(out) + 4
	out = append(out, u32le(uint32(defOff))...)

	// Resident definition header: next-template offset, GUID, data size.
	out = append(out, u32le(0)...)
	out = append(out, GUIDBytes(rec.TemplateGUID)...)
	out = append(out, u32le(0)...)

	// Instance data: count, descriptors, packed values.
	out = append(out, u32le(uint32(len(rec.Values)))...)
	for _, v := range rec.Values {
		out = append(out, u16le(uint16(len(v.Data)))...)
		out = append(out, v.Type, 0x00)
	}
	for _, v := range rec.Values {
		out = append(out, v.Data...)
	}
	return out
}

// --- PE images ---

// BuildPE assembles a minimal PE32+ image whose single .rsrc section
// carries the given blobs as WEVT_TEMPLATE resources.
func BuildPE(resources [][]byte) []byte {
	const (
		rsrcRVA     = 0x1000
		rawDataOff  = 0x200
		dirHeader   = 16
		dirEntry    = 8
		dataEntry   = 16
		subdirFlag  = 0x80000000
		nameFlag    = 0x80000000
		coffHeader  = 20
		optHeader64 = 240
	)

	// Resource directory layout: root (type level, one named entry) ->
	// name level (one ID entry per resource) -> language level -> data.
	n := uint32(len(resources))
	rootOff := uint32(0)
	nameDirOff := rootOff + dirHeader + dirEntry
	langDirBase := nameDirOff + dirHeader + n*dirEntry
	dataEntryBase := langDirBase + n*(dirHeader+dirEntry)
	nameStrOff := dataEntryBase + n*dataEntry

	typeName := "WEVT_TEMPLATE"
	nameStr := append(u16le(uint16(len(typeName))), UTF16(typeName)...)
	payloadBase := nameStrOff + uint32(len(nameStr))
	if rem := payloadBase % 8; rem != 0 {
		payloadBase += 8 - rem
	}

	payloadOff := make([]uint32, n)
	pos := payloadBase
	for i, blob := range resources {
		payloadOff[i] = pos
		pos += uint32(len(blob))
	}
	rsrcSize := pos

	rsrc := make([]byte, rsrcSize)

	// Root directory: one named entry.
	binary.LittleEndian.PutUint16(rsrc[rootOff+12:], 1)
	binary.LittleEndian.PutUint32(rsrc[rootOff+dirHeader:], nameFlag|nameStrOff)
	binary.LittleEndian.PutUint32(rsrc[rootOff+dirHeader+4:], subdirFlag|nameDirOff)

	// Name level: one ID entry per resource.
	binary.LittleEndian.PutUint16(rsrc[nameDirOff+14:], uint16(n))
	for i := uint32(0); i < n; i++ {
		langDirOff := langDirBase + i*(dirHeader+dirEntry)
		entry := nameDirOff + dirHeader + i*dirEntry
		binary.LittleEndian.PutUint32(rsrc[entry:], i+1)
		binary.LittleEndian.PutUint32(rsrc[entry+4:], subdirFlag|langDirOff)

		// Language level: a single leaf.
		binary.LittleEndian.PutUint16(rsrc[langDirOff+14:], 1)
		binary.LittleEndian.PutUint32(rsrc[langDirOff+dirHeader:], 0x409)
		binary.LittleEndian.PutUint32(rsrc[langDirOff+dirHeader+4:], dataEntryBase+i*dataEntry)

		de := dataEntryBase + i*dataEntry
		binary.LittleEndian.PutUint32(rsrc[de:], rsrcRVA+payloadOff[i])
		binary.LittleEndian.PutUint32(rsrc[de+4:], uint32(len(resources[i])))
	}

	copy(rsrc[nameStrOff:], nameStr)
	for i, blob := range resources {
		copy(rsrc[payloadOff[i]:], blob)
	}

	// PE wrapper: DOS header, PE signature, COFF header, PE32+ optional
	// header, one section header, raw data at 0x200.
	img := make([]byte, rawDataOff+len(rsrc))
	copy(img, "MZ")
	binary.LittleEndian.PutUint32(img[0x3c:], 0x40) // e_lfanew

	pe := img[0x40:]
	copy(pe, "PE\x00\x00")

	coff := pe[4:]
	binary.LittleEndian.PutUint16(coff[0:], 0x8664) // AMD64
	binary.LittleEndian.PutUint16(coff[2:], 1)      // one section
	binary.LittleEndian.PutUint16(coff[16:], optHeader64)
	binary.LittleEndian.PutUint16(coff[18:], 0x2022) // EXECUTABLE | DLL

	opt := coff[coffHeader:]
	binary.LittleEndian.PutUint16(opt[0:], 0x20b) // PE32+
	binary.LittleEndian.PutUint32(opt[108:], 16)  // NumberOfRvaAndSizes
	binary.LittleEndian.PutUint32(opt[112+2*8:], rsrcRVA)
	binary.LittleEndian.PutUint32(opt[112+2*8+4:], uint32(len(rsrc)))

	sec := opt[optHeader64:]
	copy(sec, ".rsrc")
	binary.LittleEndian.PutUint32(sec[8:], uint32(len(rsrc)))  // VirtualSize
	binary.LittleEndian.PutUint32(sec[12:], rsrcRVA)           // VirtualAddress
	binary.LittleEndian.PutUint32(sec[16:], uint32(len(rsrc))) // SizeOfRawData
	binary.LittleEndian.PutUint32(sec[20:], rawDataOff)        // PointerToRawData
	binary.LittleEndian.PutUint32(sec[36:], 0x40000040)        // initialized data, readable

	copy(img[rawDataOff:], rsrc)
	return img
}
