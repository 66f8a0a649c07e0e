package blenddeps

import (
	"encoding/binary"
	"errors"
	"testing"
)

func TestDecodeHeader_legacy(t *testing.T) {
	tests := []struct {
		input   string
		ptr     int
		order   binary.ByteOrder
		version int
	}{
		{"BLENDER-v304", 8, binary.LittleEndian, 304},
		{"BLENDER_v279", 4, binary.LittleEndian, 279},
		{"BLENDER-V250", 8, binary.BigEndian, 250},
		{"BLENDER_V245", 4, binary.BigEndian, 245},
	}
	for _, tt := range tests {
		h, n, err := decodeHeader([]byte(tt.input))
		if err != nil {
			t.Errorf("%q: %v", tt.input, err)
			continue
		}
		deepEq(t, n, legacyHeaderSize)
		deepEq(t, h.PointerSize, tt.ptr)
		deepEq(t, h.Version, tt.version)
		deepEq(t, h.Modern, false)
		if h.ByteOrder != tt.order {
			t.Errorf("%q: byte order %v, wanted %v", tt.input, h.ByteOrder, tt.order)
		}
	}
}

func TestDecodeHeader_modern(t *testing.T) {
	input := append([]byte("BLENDER"), 1, '-', 'v')
	input = append(input, "0500\x00\x00\x00"...)
	h, n, err := decodeHeader(input)
	if err != nil {
		t.Fatalf("decodeHeader: %v", err)
	}
	deepEq(t, n, modernHeaderSize)
	deepEq(t, h.Modern, true)
	deepEq(t, h.Format, 1)
	deepEq(t, h.PointerSize, 8)
	deepEq(t, h.Version, 500)
}

func TestDecodeHeader_rejects(t *testing.T) {
	tests := []struct {
		input string
		err   error
	}{
		{"", ErrTruncated},
		{"BLEND", ErrTruncated},
		{"MACHINE-v304", ErrInvalidFormat},
		{"BLENDER-x304", ErrInvalidFormat}, // bad endianness byte
		{"BLENDER-vABC", ErrInvalidFormat},
	}
	for _, tt := range tests {
		_, _, err := decodeHeader([]byte(tt.input))
		if !errors.Is(err, tt.err) {
			t.Errorf("%q: error %v, wanted %v", tt.input, err, tt.err)
		}
	}

	// A non-legacy byte after the magic switches to the modern layout, so a
	// short buffer there is a truncation, not a format error.
	_, _, err := decodeHeader([]byte("BLENDER\x01-v05"))
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("short modern prologue: error %v, wanted %v", err, ErrTruncated)
	}
}

func TestDecodeHeader_deterministic(t *testing.T) {
	input := []byte("BLENDER-v304")
	h1, _, err1 := decodeHeader(input)
	h2, _, err2 := decodeHeader(input)
	ensure(err1)
	ensure(err2)
	deepEq(t, h1, h2)
}
