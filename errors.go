package blenddeps

import (
	"fmt"
)

var (
	// ErrInvalidFormat means the magic or one of the header indicator bytes
	// is not a legal value. Fatal; nothing else is attempted.
	ErrInvalidFormat = fmt.Errorf("not a blend file")

	// ErrUnsupportedVersion flags a version outside the known-good range.
	// Informational only: struct layouts are versioned through the DNA
	// catalog, not the header, so parsing continues.
	ErrUnsupportedVersion = fmt.Errorf("unsupported blend file version")

	// ErrTruncated means the stream ended inside a header, block or
	// compressed payload. Fatal during open.
	ErrTruncated = fmt.Errorf("truncated blend file")

	// ErrCorruptData means a length, index or offset computed from the file
	// does not fit the data it refers to. Fatal during open; scoped to a
	// single field during tracing.
	ErrCorruptData = fmt.Errorf("corrupt blend file data")

	// ErrMissingDNA means the mandatory DNA1 block is absent or unreadable.
	ErrMissingDNA = fmt.Errorf("missing DNA1 block")

	// ErrNilPointer is returned when resolving a pointer field whose saved
	// value is zero. Callers treat the field as absent.
	ErrNilPointer = fmt.Errorf("nil pointer field")

	// ErrDanglingPointer is returned when a nonzero saved address matches no
	// block. Callers treat the field as absent.
	ErrDanglingPointer = fmt.Errorf("dangling pointer field")

	// ErrIndexOutOfRange is returned for an array index beyond the declared
	// array length. Callers treat the field as absent.
	ErrIndexOutOfRange = fmt.Errorf("array index out of range")

	// ErrNoField is returned when a struct has no field with the given name.
	ErrNoField = fmt.Errorf("no such field")

	// ErrPathResolution means a discovered raw path could not be resolved to
	// an absolute one; the raw path is retained unresolved.
	ErrPathResolution = fmt.Errorf("cannot resolve path")
)

// ParseError carries byte-offset context for a failure inside a particular
// chunk of file data (a block payload, the DNA1 payload, the prologue).
type ParseError struct {
	Data []byte
	Off  int
	Err  error
	Msg  string
}

func parseErrf(data []byte, off int, err error, format string, args ...any) error {
	return &ParseError{data, off, err, fmt.Sprintf(format, args...)}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s at offset %d (of %d): %v", e.Msg, e.Off, len(e.Data), e.Err)
	}
	return fmt.Sprintf("%s at offset %d (of %d)", e.Msg, e.Off, len(e.Data))
}
