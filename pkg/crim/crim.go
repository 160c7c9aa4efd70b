// Package crim parses CRIM manifest containers: the payload of a
// WEVT_TEMPLATE resource embedded in a PE file. The parsed structures
// borrow from the input buffer; callers that need an independent lifetime
// build an owned copy (see package wevt).
//
// All multi-byte fields are little-endian. Layout, leaves last:
//
//	CRIM header:  "CRIM" sig, total size, major/minor version, provider count
//	              followed by provider descriptors {GUID, offset}
//	WEVT element: "WEVT" sig, size, message id, descriptor count,
//	              followed by element descriptors {offset, unknown}
//	EVNT element: "EVNT" sig, size, event count; 32-byte event definitions
//	TTBL element: "TTBL" sig, size, template count; TEMP definitions
//	TEMP:         "TEMP" sig, size, item count, name count, items offset,
//	              GUID; BinXML fragment; 12-byte item definitions; names
package crim

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/wevtflow/wevtflow/pkg/binxml"
)

var (
	// ErrBadSignature is returned when a block signature does not match.
	ErrBadSignature = errors.New("crim: bad signature")

	// ErrTruncated is returned when a declared size or offset exceeds the
	// available data.
	ErrTruncated = errors.New("crim: truncated manifest")
)

const (
	headerSize       = 16
	providerDescSize = 20
	wevtHeaderSize   = 16
	elementDescSize  = 8
	evntHeaderSize   = 16
	eventDefSize     = 32
	ttblHeaderSize   = 12
	tempHeaderSize   = binxml.TempHeaderSize
	itemDefSize      = 12

	// noMessageID marks an absent message identifier.
	noMessageID = 0xffffffff
)

// Header holds the CRIM container header fields.
type Header struct {
	Size          uint32
	MajorVersion  uint16
	MinorVersion  uint16
	ProviderCount uint32
}

// Manifest is one parsed CRIM container. Data is the input truncated to the
// declared container size; offsets in the parsed structures are relative to
// its start.
type Manifest struct {
	Data      []byte
	Header    Header
	Providers []Provider
}

// Provider is one event provider inside a manifest.
type Provider struct {
	GUID      string // canonical lower-case textual form, no braces
	Offset    uint32
	MessageID uint32 // noMessageID sentinel when absent
	Events    []Event
	Templates []Template
}

// HasMessageID reports whether the provider declares a message identifier.
func (p *Provider) HasMessageID() bool { return p.MessageID != noMessageID }

// Event is one event definition.
type Event struct {
	ID             uint16
	Version        uint8
	Channel        uint8
	Level          uint8
	Opcode         uint8
	Task           uint16
	Keywords       uint64
	MessageID      uint32
	TemplateOffset uint32 // manifest-relative; 0 when the event has no template
	Flags          uint32
}

// Template is one TEMP definition. Offset/Size locate the raw TEMP bytes
// within the manifest buffer.
type Template struct {
	Offset uint32
	Size   uint32
	GUID   string
	Items  []TemplateItem
}

// TemplateItem is one substitution slot descriptor.
type TemplateItem struct {
	InputType  uint8
	OutputType uint8
	Count      uint16
	Length     uint16
	Name       string // empty when the item is unnamed
}

// Parse parses a CRIM blob. The returned manifest borrows from data.
func Parse(data []byte) (*Manifest, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes, want at least %d", ErrTruncated, len(data), headerSize)
	}
	if string(data[0:4]) != "CRIM" {
		return nil, fmt.Errorf("%w: expected CRIM", ErrBadSignature)
	}

	hdr := Header{
		Size:          binary.LittleEndian.Uint32(data[4:]),
		MajorVersion:  binary.LittleEndian.Uint16(data[8:]),
		MinorVersion:  binary.LittleEndian.Uint16(data[10:]),
		ProviderCount: binary.LittleEndian.Uint32(data[12:]),
	}
	if hdr.Size < headerSize || int(hdr.Size) > len(data) {
		return nil, fmt.Errorf("%w: declared size %d, have %d bytes", ErrTruncated, hdr.Size, len(data))
	}
	data = data[:hdr.Size]

	tableEnd := uint64(headerSize) + uint64(hdr.ProviderCount)*providerDescSize
	if tableEnd > uint64(len(data)) {
		return nil, fmt.Errorf("%w: provider table exceeds container", ErrTruncated)
	}

	m := &Manifest{Data: data, Header: hdr}
	for i := uint32(0); i < hdr.ProviderCount; i++ {
		desc := data[headerSize+i*providerDescSize:]
		guid := binxml.FormatGUID(desc[0:16])
		offset := binary.LittleEndian.Uint32(desc[16:20])

		p, err := parseProvider(data, guid, offset)
		if err != nil {
			return nil, fmt.Errorf("crim: provider %s: %w", guid, err)
		}
		m.Providers = append(m.Providers, p)
	}
	return m, nil
}

func parseProvider(data []byte, guid string, offset uint32) (Provider, error) {
	p := Provider{GUID: guid, Offset: offset, MessageID: noMessageID}

	blk, err := block(data, offset, wevtHeaderSize, "WEVT")
	if err != nil {
		return p, err
	}
	p.MessageID = binary.LittleEndian.Uint32(blk[8:])
	descCount := binary.LittleEndian.Uint32(blk[12:])

	descEnd := uint64(offset) + wevtHeaderSize + uint64(descCount)*elementDescSize
	if descEnd > uint64(len(data)) {
		return p, fmt.Errorf("%w: WEVT descriptor table", ErrTruncated)
	}

	for i := uint32(0); i < descCount; i++ {
		elemOff := binary.LittleEndian.Uint32(data[offset+wevtHeaderSize+i*elementDescSize:])
		if uint64(elemOff)+4 > uint64(len(data)) {
			return p, fmt.Errorf("%w: element offset %d", ErrTruncated, elemOff)
		}
		switch string(data[elemOff : elemOff+4]) {
		case "EVNT":
			events, err := parseEvents(data, elemOff)
			if err != nil {
				return p, err
			}
			p.Events = events
		case "TTBL":
			templates, err := parseTemplates(data, elemOff)
			if err != nil {
				return p, err
			}
			p.Templates = templates
		default:
			// CHAN, LEVL, OPCO, TASK, KEYW, MAPS and friends are not
			// needed for template resolution.
		}
	}
	return p, nil
}

func parseEvents(data []byte, offset uint32) ([]Event, error) {
	blk, err := block(data, offset, evntHeaderSize, "EVNT")
	if err != nil {
		return nil, err
	}
	count := binary.LittleEndian.Uint32(blk[8:])

	end := uint64(offset) + evntHeaderSize + uint64(count)*eventDefSize
	if end > uint64(len(data)) {
		return nil, fmt.Errorf("%w: event table (%d events)", ErrTruncated, count)
	}

	events := make([]Event, 0, count)
	for i := uint32(0); i < count; i++ {
		def := data[offset+evntHeaderSize+i*eventDefSize:]
		events = append(events, Event{
			ID:             binary.LittleEndian.Uint16(def[0:]),
			Version:        def[2],
			Channel:        def[3],
			Level:          def[4],
			Opcode:         def[5],
			Task:           binary.LittleEndian.Uint16(def[6:]),
			Keywords:       binary.LittleEndian.Uint64(def[8:]),
			MessageID:      binary.LittleEndian.Uint32(def[16:]),
			TemplateOffset: binary.LittleEndian.Uint32(def[20:]),
			Flags:          binary.LittleEndian.Uint32(def[24:]),
		})
	}
	return events, nil
}

func parseTemplates(data []byte, offset uint32) ([]Template, error) {
	blk, err := block(data, offset, ttblHeaderSize, "TTBL")
	if err != nil {
		return nil, err
	}
	size := binary.LittleEndian.Uint32(blk[4:])
	count := binary.LittleEndian.Uint32(blk[8:])
	if uint64(offset)+uint64(size) > uint64(len(data)) || size < ttblHeaderSize {
		return nil, fmt.Errorf("%w: TTBL size %d", ErrTruncated, size)
	}
	tableEnd := offset + size

	templates := make([]Template, 0, count)
	pos := offset + ttblHeaderSize
	for i := uint32(0); i < count; i++ {
		tpl, err := parseTemp(data, pos, tableEnd)
		if err != nil {
			return nil, fmt.Errorf("template %d: %w", i, err)
		}
		templates = append(templates, tpl)
		pos += tpl.Size
	}
	return templates, nil
}

func parseTemp(data []byte, offset, limit uint32) (Template, error) {
	blk, err := block(data, offset, tempHeaderSize, "TEMP")
	if err != nil {
		return Template{}, err
	}
	size := binary.LittleEndian.Uint32(blk[4:])
	itemCount := binary.LittleEndian.Uint32(blk[8:])
	itemsOff := binary.LittleEndian.Uint32(blk[16:])

	if size < tempHeaderSize || uint64(offset)+uint64(size) > uint64(limit) {
		return Template{}, fmt.Errorf("%w: TEMP size %d at offset %d", ErrTruncated, size, offset)
	}

	tpl := Template{
		Offset: offset,
		Size:   size,
		GUID:   binxml.FormatGUID(blk[20:36]),
	}

	if itemCount == 0 {
		return tpl, nil
	}
	if itemsOff < tempHeaderSize || uint64(itemsOff)+uint64(itemCount)*itemDefSize > uint64(size) {
		return Template{}, fmt.Errorf("%w: TEMP item table", ErrTruncated)
	}

	temp := data[offset : offset+size]
	tpl.Items = make([]TemplateItem, 0, itemCount)
	for i := uint32(0); i < itemCount; i++ {
		def := temp[itemsOff+i*itemDefSize:]
		item := TemplateItem{
			InputType:  def[0],
			OutputType: def[1],
			Count:      binary.LittleEndian.Uint16(def[2:]),
			Length:     binary.LittleEndian.Uint16(def[4:]),
		}
		if nameOff := binary.LittleEndian.Uint32(def[8:]); nameOff != 0 {
			name, err := tempName(temp, nameOff)
			if err != nil {
				return Template{}, err
			}
			item.Name = name
		}
		tpl.Items = append(tpl.Items, item)
	}
	return tpl, nil
}

// tempName reads a u32-length-prefixed UTF-16LE name at a TEMP-relative
// offset.
func tempName(temp []byte, offset uint32) (string, error) {
	if uint64(offset)+4 > uint64(len(temp)) {
		return "", fmt.Errorf("%w: item name offset %d", ErrTruncated, offset)
	}
	n := binary.LittleEndian.Uint32(temp[offset:])
	if uint64(offset)+4+uint64(n) > uint64(len(temp)) {
		return "", fmt.Errorf("%w: item name (%d bytes)", ErrTruncated, n)
	}
	return binxml.DecodeUTF16(temp[offset+4 : offset+4+n]), nil
}

// block bounds-checks a sized region and verifies its 4-byte signature.
func block(data []byte, offset, minSize uint32, sig string) ([]byte, error) {
	if uint64(offset)+uint64(minSize) > uint64(len(data)) {
		return nil, fmt.Errorf("%w: %s block at offset %d", ErrTruncated, sig, offset)
	}
	blk := data[offset:]
	if string(blk[0:4]) != sig {
		return nil, fmt.Errorf("%w: expected %s at offset %d", ErrBadSignature, sig, offset)
	}
	return blk, nil
}
