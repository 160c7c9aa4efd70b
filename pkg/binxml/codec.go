package binxml

import (
	"errors"
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

// DefaultANSICodec is the codec used when the caller does not name one.
const DefaultANSICodec = "windows-1252"

// ErrUnknownCodec is returned when an ANSI codec name cannot be resolved.
var ErrUnknownCodec = errors.New("binxml: unknown ansi codec")

// ResolveANSICodec resolves an ANSI codec by IANA name. An empty name
// selects the default (windows-1252).
func ResolveANSICodec(name string) (encoding.Encoding, error) {
	if name == "" {
		return charmap.Windows1252, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
	return enc, nil
}

// decodeANSI decodes codec-encoded bytes to a string, stripping a trailing
// NUL terminator if present.
func decodeANSI(enc encoding.Encoding, b []byte) (string, error) {
	if n := len(b); n > 0 && b[n-1] == 0 {
		b = b[:n-1]
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("binxml: ansi decode: %w", err)
	}
	return string(out), nil
}
