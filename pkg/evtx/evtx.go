// Package evtx scans EVTX event-log files for records and extracts each
// record's template-instance substitution values. It is a deliberately
// small reader: one pass, in file order, no parallelism, so the record a
// lookup selects is always unambiguous.
package evtx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/text/encoding"

	"github.com/wevtflow/wevtflow/pkg/binxml"
)

// ErrInvalidFormat is returned for structurally invalid EVTX data.
var ErrInvalidFormat = errors.New("evtx: invalid file format")

const (
	fileMagic  = "ElfFile\x00"
	chunkMagic = "ElfChnk\x00"

	fileHeaderSize   = 4096
	chunkSize        = 65536
	chunkDataOffset  = 512
	recordHeaderSize = 24
	recordSignature  = 0x00002a2a

	filetimeEpochDelta = 116444736000000000
)

// Record is one event record within a chunk. The record keeps a reference
// to its chunk so template definitions can be resolved by chunk offset.
type Record struct {
	ID          uint64
	WrittenTime time.Time

	chunk    []byte
	binStart int
	binEnd   int
	codec    encoding.Encoding
}

// TemplateInstance is one template reference inside a record: the
// referenced template's GUID and the substitution values supplied for it.
type TemplateInstance struct {
	TemplateGUID string
	Values       []binxml.Value
}

// Scanner iterates the records of an EVTX file in file order.
type Scanner struct {
	r          io.ReadSeeker
	codec      encoding.Encoding
	chunkCount int
	chunkIdx   int

	chunk     []byte
	recOff    int
	freeSpace int
}

// NewScanner validates the EVTX file header and prepares a sequential scan.
func NewScanner(r io.ReadSeeker, codec encoding.Encoding) (*Scanner, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("evtx: seek: %w", err)
	}
	hdr := make([]byte, fileHeaderSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("%w: short file header: %v", ErrInvalidFormat, err)
	}
	if string(hdr[0:8]) != fileMagic {
		return nil, fmt.Errorf("%w: bad file signature", ErrInvalidFormat)
	}
	count := int(binary.LittleEndian.Uint16(hdr[42:]))
	return &Scanner{r: r, codec: codec, chunkCount: count}, nil
}

// Next returns the next record, or io.EOF after the last one.
func (s *Scanner) Next() (*Record, error) {
	for {
		if s.chunk != nil && s.recOff+recordHeaderSize <= s.freeSpace {
			return s.readRecord()
		}
		if s.chunkIdx >= s.chunkCount {
			return nil, io.EOF
		}
		if err := s.loadChunk(s.chunkIdx); err != nil {
			return nil, err
		}
		s.chunkIdx++
	}
}

func (s *Scanner) loadChunk(idx int) error {
	off := int64(fileHeaderSize) + int64(idx)*chunkSize
	if _, err := s.r.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("evtx: seek chunk %d: %w", idx, err)
	}
	chunk := make([]byte, chunkSize)
	if _, err := io.ReadFull(s.r, chunk); err != nil {
		return fmt.Errorf("%w: short chunk %d: %v", ErrInvalidFormat, idx, err)
	}
	if string(chunk[0:8]) != chunkMagic {
		return fmt.Errorf("%w: bad chunk signature in chunk %d", ErrInvalidFormat, idx)
	}
	free := int(binary.LittleEndian.Uint32(chunk[48:]))
	if free < chunkDataOffset || free > chunkSize {
		return fmt.Errorf("%w: chunk %d free space offset %d out of range", ErrInvalidFormat, idx, free)
	}
	s.chunk = chunk
	s.freeSpace = free
	s.recOff = chunkDataOffset
	return nil
}

func (s *Scanner) readRecord() (*Record, error) {
	off := s.recOff
	hdr := s.chunk[off:]
	if binary.LittleEndian.Uint32(hdr) != recordSignature {
		return nil, fmt.Errorf("%w: bad record signature at chunk offset %d", ErrInvalidFormat, off)
	}
	size := int(binary.LittleEndian.Uint32(hdr[4:]))
	if size < recordHeaderSize+4 || off+size > s.freeSpace {
		return nil, fmt.Errorf("%w: record size %d at chunk offset %d out of range", ErrInvalidFormat, size, off)
	}

	id := binary.LittleEndian.Uint64(hdr[8:])
	ft := binary.LittleEndian.Uint64(hdr[16:])

	rec := &Record{
		ID:          id,
		WrittenTime: time.Unix(0, (int64(ft)-filetimeEpochDelta)*100).UTC(),
		chunk:       s.chunk,
		binStart:    off + recordHeaderSize,
		binEnd:      off + size - 4, // trailing size copy
		codec:       s.codec,
	}
	s.recOff = off + size
	return rec, nil
}

// TemplateInstances parses the record's BinXML and returns its template
// instances: the root instance first, then any instances nested inside
// BinXML-typed substitution values.
func (r *Record) TemplateInstances() ([]TemplateInstance, error) {
	p := &instanceParser{chunk: r.chunk, codec: r.codec}
	if err := p.parse(r.binStart, r.binEnd); err != nil {
		return nil, err
	}
	return p.out, nil
}

type instanceParser struct {
	chunk []byte
	codec encoding.Encoding
	out   []TemplateInstance
}

// parse walks one BinXML region (chunk-relative) expecting a fragment
// header followed by a template instance.
func (p *instanceParser) parse(pos, end int) error {
	if pos+4 > end {
		return fmt.Errorf("%w: record BinXML too short", ErrInvalidFormat)
	}
	if p.chunk[pos] != 0x0f {
		return fmt.Errorf("%w: record BinXML missing fragment header", ErrInvalidFormat)
	}
	pos += 4 // token, major, minor, flags

	if pos >= end || p.chunk[pos] != 0x0c {
		return fmt.Errorf("%w: record BinXML missing template instance", ErrInvalidFormat)
	}
	pos++

	// Template instance header: unknown byte, template id, definition
	// offset (chunk-relative).
	if pos+9 > end {
		return fmt.Errorf("%w: template instance header truncated", ErrInvalidFormat)
	}
	defOff := int(binary.LittleEndian.Uint32(p.chunk[pos+5:]))
	pos += 9

	guid, next, err := p.definition(defOff, pos, end)
	if err != nil {
		return err
	}
	pos = next

	values, nested, err := p.instanceData(&pos, end)
	if err != nil {
		return err
	}

	p.out = append(p.out, TemplateInstance{TemplateGUID: guid, Values: values})

	// Substitution values can carry nested BinXML fragments with their own
	// template instances.
	for _, region := range nested {
		if err := p.parse(region.start, region.end); err != nil {
			return err
		}
	}
	return nil
}

type region struct {
	start, end int
}

// definition reads a template definition header. When the definition is
// resident (stored inline at the current position) the returned position
// skips past it; otherwise it is resolved at its chunk offset and the
// position is unchanged.
func (p *instanceParser) definition(defOff, pos, end int) (guid string, next int, err error) {
	const defHeaderSize = 24 // next-template offset, GUID, data size

	if defOff == pos {
		if pos+defHeaderSize > end {
			return "", 0, fmt.Errorf("%w: resident template definition truncated", ErrInvalidFormat)
		}
		guid = binxml.FormatGUID(p.chunk[pos+4 : pos+20])
		dataSize := int(binary.LittleEndian.Uint32(p.chunk[pos+20:]))
		next = pos + defHeaderSize + dataSize
		if next > end {
			return "", 0, fmt.Errorf("%w: template definition data exceeds record", ErrInvalidFormat)
		}
		return guid, next, nil
	}

	if defOff < 0 || defOff+defHeaderSize > len(p.chunk) {
		return "", 0, fmt.Errorf("%w: template definition offset %d out of range", ErrInvalidFormat, defOff)
	}
	return binxml.FormatGUID(p.chunk[defOff+4 : defOff+20]), pos, nil
}

// instanceData reads the substitution value section: a count, one
// descriptor per value (size and type), then the packed value data.
// BinXML-typed values are additionally reported as nested regions.
func (p *instanceParser) instanceData(pos *int, end int) ([]binxml.Value, []region, error) {
	if *pos+4 > end {
		return nil, nil, fmt.Errorf("%w: instance data truncated", ErrInvalidFormat)
	}
	count := int(binary.LittleEndian.Uint32(p.chunk[*pos:]))
	*pos += 4

	if *pos+count*4 > end {
		return nil, nil, fmt.Errorf("%w: value descriptors truncated", ErrInvalidFormat)
	}
	type desc struct {
		size int
		vt   uint8
	}
	descs := make([]desc, count)
	for i := range descs {
		descs[i] = desc{
			size: int(binary.LittleEndian.Uint16(p.chunk[*pos:])),
			vt:   p.chunk[*pos+2],
		}
		*pos += 4
	}

	values := make([]binxml.Value, 0, count)
	var nested []region
	for i, d := range descs {
		if *pos+d.size > end {
			return nil, nil, fmt.Errorf("%w: value %d data truncated", ErrInvalidFormat, i)
		}
		v, err := binxml.DecodeValue(d.vt, p.chunk[*pos:*pos+d.size], p.codec)
		if err != nil {
			return nil, nil, err
		}
		if d.vt == binxml.TypeBinXML && d.size > 4 {
			nested = append(nested, region{start: *pos, end: *pos + d.size})
		}
		values = append(values, v)
		*pos += d.size
	}
	return values, nested, nil
}
