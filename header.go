package blenddeps

import (
	"bytes"
	"encoding/binary"
)

const blendMagic = "BLENDER"

const (
	legacyHeaderSize = 12
	modernHeaderSize = 17
)

// Known-good version range, inclusive. Files outside it still parse (struct
// layouts come from the DNA catalog, not the header), but the condition is
// reported.
const (
	minKnownVersion = 100
	maxKnownVersion = 599
)

// Header is the decoded file prologue. Immutable after parse.
type Header struct {
	PointerSize int // 4 or 8
	ByteOrder   binary.ByteOrder
	Version     int  // e.g. 304 for Blender 3.4
	Modern      bool // 17-byte prologue with a format-version byte
	Format      int  // format version of the modern prologue, 0 for legacy
}

// BigEndian reports whether integers in the file use big-endian order.
func (h *Header) BigEndian() bool {
	return h.ByteOrder == binary.ByteOrder(binary.BigEndian)
}

// pointerAt reads a pointer-width integer from the start of b.
func (h *Header) pointerAt(b []byte) uint64 {
	if h.PointerSize == 4 {
		return uint64(h.ByteOrder.Uint32(b))
	}
	return h.ByteOrder.Uint64(b)
}

// blockHeaderSize is the on-disk size of one block header: a 4-byte code,
// u32 length, pointer-width saved address, u32 SDNA index, u32 count.
func (h *Header) blockHeaderSize() int {
	return 16 + h.PointerSize
}

// decodeHeader parses the prologue at the start of data and returns the
// header and the number of bytes it occupies.
//
// The byte after the magic distinguishes the two prologue generations: a
// legal legacy pointer-size indicator ('_' or '-') means the 12-byte layout,
// anything else is read as the modern raw format-version byte of the
// 17-byte layout.
func decodeHeader(data []byte) (Header, int, error) {
	if len(data) < legacyHeaderSize {
		return Header{}, 0, parseErrf(data, 0, ErrTruncated, "prologue")
	}
	if !bytes.Equal(data[:len(blendMagic)], []byte(blendMagic)) {
		return Header{}, 0, parseErrf(data, 0, ErrInvalidFormat, "bad magic %q", data[:len(blendMagic)])
	}

	var h Header
	i := len(blendMagic)

	if data[i] != '_' && data[i] != '-' {
		h.Modern = true
		h.Format = int(data[i])
		i++
		if len(data) < modernHeaderSize {
			return Header{}, 0, parseErrf(data, i, ErrTruncated, "modern prologue")
		}
	}

	switch data[i] {
	case '_':
		h.PointerSize = 4
	case '-':
		h.PointerSize = 8
	default:
		return Header{}, 0, parseErrf(data, i, ErrInvalidFormat, "bad pointer-size indicator %q", data[i])
	}
	i++

	switch data[i] {
	case 'v':
		h.ByteOrder = binary.LittleEndian
	case 'V':
		h.ByteOrder = binary.BigEndian
	default:
		return Header{}, 0, parseErrf(data, i, ErrInvalidFormat, "bad endianness indicator %q", data[i])
	}
	i++

	digits := 3
	if h.Modern {
		digits = 4
	}
	v, ok := parseVersionDigits(data[i : i+digits])
	if !ok {
		return Header{}, 0, parseErrf(data, i, ErrInvalidFormat, "bad version digits %q", data[i:i+digits])
	}
	h.Version = v

	if h.Modern {
		return h, modernHeaderSize, nil
	}
	return h, legacyHeaderSize, nil
}

func parseVersionDigits(b []byte) (int, bool) {
	v := 0
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + int(c-'0')
	}
	return v, true
}
