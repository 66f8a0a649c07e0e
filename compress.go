package blenddeps

import (
	"bytes"
	"errors"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

type compression int

const (
	compressionNone compression = iota
	compressionGzip
	compressionZstd
)

func (c compression) String() string {
	switch c {
	case compressionNone:
		return "none"
	case compressionGzip:
		return "gzip"
	case compressionZstd:
		return "zstd"
	default:
		return "unknown"
	}
}

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// sniffCompression classifies the raw file by its first bytes. Blender 3.0+
// writes seekable Zstandard (standard frames preceded by a skippable
// seek-table frame); older versions optionally wrap the stream in gzip.
func sniffCompression(head []byte) compression {
	if bytes.HasPrefix(head, gzipMagic) {
		return compressionGzip
	}
	if bytes.HasPrefix(head, zstdMagic) || isZstdSkippable(head) {
		return compressionZstd
	}
	return compressionNone
}

// Skippable frame magic: 0x184D2A5?, little-endian.
func isZstdSkippable(head []byte) bool {
	return len(head) >= 4 &&
		head[0]&0xf0 == 0x50 && head[1] == 0x2a && head[2] == 0x4d && head[3] == 0x18
}

// expand reads the whole decompressed stream into memory. Block payloads are
// borrowed subslices of the result, so it has to stay resident anyway.
// A mid-stream decompression failure is fatal: the block stream cannot be
// trusted past it.
func expand(r io.Reader, c compression) ([]byte, error) {
	switch c {
	case compressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, parseErrf(nil, 0, ErrCorruptData, "gzip: %v", err)
		}
		defer zr.Close()
		data, err := io.ReadAll(zr)
		if err != nil {
			return nil, expandErr("gzip", err)
		}
		return data, nil

	case compressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, parseErrf(nil, 0, ErrCorruptData, "zstd: %v", err)
		}
		defer zr.Close()
		data, err := io.ReadAll(zr)
		if err != nil {
			return nil, expandErr("zstd", err)
		}
		return data, nil

	default:
		return io.ReadAll(r)
	}
}

func expandErr(codec string, err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return parseErrf(nil, 0, ErrTruncated, "%s stream", codec)
	}
	return parseErrf(nil, 0, ErrCorruptData, "%s stream: %v", codec, err)
}
