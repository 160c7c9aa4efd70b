package cache

import "errors"

var (
	// ErrNotFound is returned when a template GUID, resolve key, record
	// id, or template-instance index is absent.
	ErrNotFound = errors.New("cache: not found")

	// ErrInvalidFormat is returned for a structurally invalid cache file:
	// bad magic, unknown entry kind, or a length field that exceeds the
	// remaining file.
	ErrInvalidFormat = errors.New("cache: invalid cache file format")

	// ErrUnsupportedVersion is returned when a cache file's magic is valid
	// but its version is not supported.
	ErrUnsupportedVersion = errors.New("cache: unsupported cache file version")

	// ErrAlreadyExists is returned when a dump target exists and overwrite
	// was not requested.
	ErrAlreadyExists = errors.New("cache: file already exists")

	// ErrInvalidArgument is returned for unusable caller input: an unknown
	// ansi codec, a path without the expected extension, or a template
	// selector naming neither a GUID nor a full resolve triple.
	ErrInvalidArgument = errors.New("cache: invalid argument")
)
