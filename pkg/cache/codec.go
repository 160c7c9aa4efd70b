package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// Cache file layout: an 8-byte magic, a u32 format version, a u32 entry
// count, then entries of {kind u8, length u32, payload}. The entry count
// is back-patched by Writer.Finish.
const (
	cacheMagic    = "WEVTCACH"
	formatVersion = 1
	headerSize    = 16
	entryHeader   = 5
)

// EntryKindCRIM tags a raw CRIM manifest blob. It is the only entry kind
// currently defined; readers reject anything else.
const EntryKindCRIM byte = 0x01

// Writer appends entries to a new cache file.
type Writer struct {
	f       *os.File
	entries uint32
	done    bool
}

// CreateWriter opens path for exclusive creation and writes the file
// header. With overwrite an existing file is truncated instead.
func CreateWriter(path string, overwrite bool) (*Writer, error) {
	flags := os.O_RDWR | os.O_CREATE | os.O_EXCL
	if overwrite {
		flags = os.O_RDWR | os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, path)
		}
		return nil, fmt.Errorf("cache: create %s: %w", path, err)
	}

	hdr := make([]byte, headerSize)
	copy(hdr, cacheMagic)
	binary.LittleEndian.PutUint32(hdr[8:], formatVersion)
	// Entry count stays zero until Finish.
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return nil, fmt.Errorf("cache: write header: %w", err)
	}
	return &Writer{f: f}, nil
}

// WriteEntry appends one kind-tagged, length-prefixed entry.
func (w *Writer) WriteEntry(kind byte, payload []byte) error {
	if w.done {
		return errors.New("cache: writer already finished")
	}
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("%w: entry payload of %d bytes exceeds format limit", ErrInvalidArgument, len(payload))
	}

	hdr := make([]byte, entryHeader)
	hdr[0] = kind
	binary.LittleEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.f.Write(hdr); err != nil {
		return fmt.Errorf("cache: write entry header: %w", err)
	}
	if _, err := w.f.Write(payload); err != nil {
		return fmt.Errorf("cache: write entry payload: %w", err)
	}
	w.entries++
	return nil
}

// Finish back-patches the entry count, flushes, and closes the file. The
// writer is unusable afterwards.
func (w *Writer) Finish() error {
	if w.done {
		return errors.New("cache: writer already finished")
	}
	w.done = true

	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], w.entries)
	if _, err := w.f.WriteAt(count[:], 12); err != nil {
		w.f.Close()
		return fmt.Errorf("cache: finalize entry count: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("cache: sync: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("cache: close: %w", err)
	}
	return nil
}

// Abort closes the writer without finalizing. Safe to call after Finish.
func (w *Writer) Abort() {
	if !w.done {
		w.done = true
		w.f.Close()
	}
}

// Reader streams entries out of a cache file in write order.
type Reader struct {
	f         *os.File
	size      int64
	pos       int64
	remaining uint32
	entries   uint32
}

// OpenReader validates the file header. A wrong magic and an unsupported
// version are distinct errors.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cache: open %s: %w", path, err)
	}

	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(f, hdr); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: short header", ErrInvalidFormat)
	}
	if string(hdr[0:8]) != cacheMagic {
		f.Close()
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidFormat)
	}
	if v := binary.LittleEndian.Uint32(hdr[8:]); v != formatVersion {
		f.Close()
		return nil, fmt.Errorf("%w: version %d (supported: %d)", ErrUnsupportedVersion, v, formatVersion)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("cache: stat %s: %w", path, err)
	}

	count := binary.LittleEndian.Uint32(hdr[12:])
	return &Reader{f: f, size: st.Size(), pos: headerSize, remaining: count, entries: count}, nil
}

// EntryCount returns the total number of entries declared in the header.
func (r *Reader) EntryCount() uint32 { return r.entries }

// NextEntry returns the next entry, or io.EOF once all declared entries
// have been read. An unknown kind or a length reaching past the end of the
// file is ErrInvalidFormat, never silently skipped.
func (r *Reader) NextEntry() (kind byte, payload []byte, err error) {
	if r.remaining == 0 {
		return 0, nil, io.EOF
	}

	hdr := make([]byte, entryHeader)
	if _, err := io.ReadFull(r.f, hdr); err != nil {
		return 0, nil, fmt.Errorf("%w: truncated entry header", ErrInvalidFormat)
	}
	r.pos += entryHeader

	kind = hdr[0]
	if kind != EntryKindCRIM {
		return 0, nil, fmt.Errorf("%w: unknown entry kind 0x%02x", ErrInvalidFormat, kind)
	}

	length := binary.LittleEndian.Uint32(hdr[1:])
	if int64(length) > r.size-r.pos {
		return 0, nil, fmt.Errorf("%w: entry length %d exceeds remaining %d bytes",
			ErrInvalidFormat, length, r.size-r.pos)
	}

	payload = make([]byte, length)
	if _, err := io.ReadFull(r.f, payload); err != nil {
		return 0, nil, fmt.Errorf("%w: truncated entry payload", ErrInvalidFormat)
	}
	r.pos += int64(length)
	r.remaining--
	return kind, payload, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error { return r.f.Close() }
