// Package peres extracts WEVT_TEMPLATE resources from PE images
// (EXE/DLL/SYS). It walks the .rsrc resource directory tree looking for the
// named WEVT_TEMPLATE type and returns each leaf resource's raw data.
package peres

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf16"
)

// ResourceTypeName is the named resource type holding CRIM manifests.
const ResourceTypeName = "WEVT_TEMPLATE"

var (
	// ErrNotPE is returned when the input is not a parseable PE image.
	ErrNotPE = errors.New("peres: not a PE image")

	// ErrMalformedResources is returned when the .rsrc directory tree is
	// structurally invalid.
	ErrMalformedResources = errors.New("peres: malformed resource directory")
)

const (
	dirHeaderSize  = 16
	dirEntrySize   = 8
	dataEntrySize  = 16
	subdirFlag     = 0x80000000
	nameFlag       = 0x80000000
	maxRecurseDeep = 8
)

// ExtractWEVTTemplates parses a PE image and returns the data of every
// WEVT_TEMPLATE resource, in directory order. A PE without a resource
// section yields an empty result.
func ExtractWEVTTemplates(image []byte) ([][]byte, error) {
	f, err := pe.NewFile(bytes.NewReader(image))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPE, err)
	}
	defer f.Close()

	var rsrc *pe.Section
	for _, s := range f.Sections {
		if s.Name == ".rsrc" {
			rsrc = s
			break
		}
	}
	if rsrc == nil {
		return nil, nil
	}

	data, err := rsrc.Data()
	if err != nil {
		return nil, fmt.Errorf("peres: read .rsrc: %w", err)
	}

	w := &walker{f: f, rsrc: data, rsrcRVA: rsrc.VirtualAddress}
	return w.collect()
}

type walker struct {
	f       *pe.File
	rsrc    []byte
	rsrcRVA uint32
	out     [][]byte
}

// collect walks the root (type) directory level and descends into the
// WEVT_TEMPLATE subtree.
func (w *walker) collect() ([][]byte, error) {
	entries, err := w.dirEntries(0)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.name != ResourceTypeName {
			continue
		}
		if err := w.descend(e, 1); err != nil {
			return nil, err
		}
	}
	return w.out, nil
}

// descend walks a name or language level down to leaf data entries.
func (w *walker) descend(e dirEntry, depth int) error {
	if depth > maxRecurseDeep {
		return fmt.Errorf("%w: directory nesting too deep", ErrMalformedResources)
	}
	if !e.isSubdir {
		blob, err := w.dataEntry(e.offset)
		if err != nil {
			return err
		}
		w.out = append(w.out, blob)
		return nil
	}
	children, err := w.dirEntries(e.offset)
	if err != nil {
		return err
	}
	for _, c := range children {
		if err := w.descend(c, depth+1); err != nil {
			return err
		}
	}
	return nil
}

type dirEntry struct {
	name     string // empty for ID entries
	id       uint32
	offset   uint32
	isSubdir bool
}

// dirEntries reads one IMAGE_RESOURCE_DIRECTORY and its entries at an
// offset relative to the start of .rsrc.
func (w *walker) dirEntries(offset uint32) ([]dirEntry, error) {
	hdr, err := w.slice(offset, dirHeaderSize)
	if err != nil {
		return nil, err
	}
	numNamed := binary.LittleEndian.Uint16(hdr[12:])
	numID := binary.LittleEndian.Uint16(hdr[14:])
	total := uint32(numNamed) + uint32(numID)

	raw, err := w.slice(offset+dirHeaderSize, total*dirEntrySize)
	if err != nil {
		return nil, err
	}

	entries := make([]dirEntry, 0, total)
	for i := uint32(0); i < total; i++ {
		nameField := binary.LittleEndian.Uint32(raw[i*dirEntrySize:])
		offField := binary.LittleEndian.Uint32(raw[i*dirEntrySize+4:])

		e := dirEntry{
			offset:   offField &^ subdirFlag,
			isSubdir: offField&subdirFlag != 0,
		}
		if nameField&nameFlag != 0 {
			name, err := w.resourceName(nameField &^ nameFlag)
			if err != nil {
				return nil, err
			}
			e.name = name
		} else {
			e.id = nameField
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// resourceName reads a length-prefixed UTF-16 resource name.
func (w *walker) resourceName(offset uint32) (string, error) {
	hdr, err := w.slice(offset, 2)
	if err != nil {
		return "", err
	}
	n := uint32(binary.LittleEndian.Uint16(hdr))
	raw, err := w.slice(offset+2, n*2)
	if err != nil {
		return "", err
	}
	u := make([]uint16, n)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(raw[i*2:])
	}
	return string(utf16.Decode(u)), nil
}

// dataEntry reads an IMAGE_RESOURCE_DATA_ENTRY and copies out the payload
// it points to.
func (w *walker) dataEntry(offset uint32) ([]byte, error) {
	raw, err := w.slice(offset, dataEntrySize)
	if err != nil {
		return nil, err
	}
	rva := binary.LittleEndian.Uint32(raw[0:])
	size := binary.LittleEndian.Uint32(raw[4:])

	payload, err := w.rvaSlice(rva, size)
	if err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, payload)
	return out, nil
}

// rvaSlice resolves an RVA range. Resource payloads normally live inside
// .rsrc itself; fall back to a section scan otherwise.
func (w *walker) rvaSlice(rva, size uint32) ([]byte, error) {
	if rva >= w.rsrcRVA {
		off := rva - w.rsrcRVA
		if uint64(off)+uint64(size) <= uint64(len(w.rsrc)) {
			return w.rsrc[off : off+size], nil
		}
	}
	for _, s := range w.f.Sections {
		if rva >= s.VirtualAddress && uint64(rva)+uint64(size) <= uint64(s.VirtualAddress)+uint64(s.Size) {
			data, err := s.Data()
			if err != nil {
				return nil, fmt.Errorf("peres: read section %s: %w", s.Name, err)
			}
			off := rva - s.VirtualAddress
			if uint64(off)+uint64(size) > uint64(len(data)) {
				break
			}
			return data[off : off+size], nil
		}
	}
	return nil, fmt.Errorf("%w: resource data RVA 0x%x (%d bytes) out of range", ErrMalformedResources, rva, size)
}

// slice bounds-checks a region of the .rsrc section.
func (w *walker) slice(offset, size uint32) ([]byte, error) {
	if uint64(offset)+uint64(size) > uint64(len(w.rsrc)) {
		return nil, fmt.Errorf("%w: offset 0x%x size %d exceeds section", ErrMalformedResources, offset, size)
	}
	return w.rsrc[offset : offset+size], nil
}
