package blenddeps

import (
	"encoding/binary"
	"strings"
)

// Block is one tagged record of the file's flat block stream. Blocks are
// owned by the BlendFile that scanned them; Data is a read-only view into
// the decompressed stream.
type Block struct {
	Code      string // 2–4 significant chars, NUL padding stripped
	Addr      uint64 // memory address the block had when saved; 0 = null
	SDNAIndex int    // index into the DNA struct table
	Count     int    // number of consecutive struct elements in Data
	Data      []byte

	file *BlendFile
}

const (
	codeDNA = "DNA1"
	codeEnd = "ENDB"
)

// cursor is a bounds-checked reader over one chunk of untrusted file data.
// All failures carry the offset of the bad read.
type cursor struct {
	orig  []byte
	buf   []byte
	order binary.ByteOrder
	what  string
}

func makeCursor(data []byte, order binary.ByteOrder, what string) cursor {
	return cursor{data, data, order, what}
}

func (c *cursor) off() int {
	return len(c.orig) - len(c.buf)
}

func (c *cursor) eof() bool {
	return len(c.buf) == 0
}

func (c *cursor) raw(n int) ([]byte, error) {
	if len(c.buf) < n {
		return nil, parseErrf(c.orig, c.off(), ErrTruncated, "%s: %d bytes remaining, %d wanted", c.what, len(c.buf), n)
	}
	v := c.buf[:n]
	c.buf = c.buf[n:]
	return v, nil
}

func (c *cursor) u16() (uint16, error) {
	b, err := c.raw(2)
	if err != nil {
		return 0, err
	}
	return c.order.Uint16(b), nil
}

func (c *cursor) u32() (uint32, error) {
	b, err := c.raw(4)
	if err != nil {
		return 0, err
	}
	return c.order.Uint32(b), nil
}

func (c *cursor) pointer(size int) (uint64, error) {
	b, err := c.raw(size)
	if err != nil {
		return 0, err
	}
	if size == 4 {
		return uint64(c.order.Uint32(b)), nil
	}
	return c.order.Uint64(b), nil
}

// cstring reads up to the next NUL and consumes the terminator.
func (c *cursor) cstring() (string, error) {
	for i, b := range c.buf {
		if b == 0 {
			s := string(c.buf[:i])
			c.buf = c.buf[i+1:]
			return s, nil
		}
	}
	return "", parseErrf(c.orig, c.off(), ErrTruncated, "%s: unterminated string", c.what)
}

// align advances to the next multiple of n relative to the chunk start.
func (c *cursor) align(n int) {
	if rem := c.off() % n; rem != 0 {
		skip := n - rem
		if skip > len(c.buf) {
			skip = len(c.buf)
		}
		c.buf = c.buf[skip:]
	}
}

// expectTag consumes a 4-byte table tag literal.
func (c *cursor) expectTag(tag string) error {
	b, err := c.raw(4)
	if err != nil {
		return err
	}
	if string(b) != tag {
		return parseErrf(c.orig, c.off()-4, ErrCorruptData, "%s: expected %q, found %q", c.what, tag, b)
	}
	return nil
}

// scanBlocks walks the stream after the prologue as (header, payload)
// records in one linear pass, stopping at ENDB or a clean end of stream.
// Ending inside a block header or payload is a truncation.
func scanBlocks(data []byte, h *Header) ([]*Block, error) {
	c := makeCursor(data, h.ByteOrder, "block stream")
	var blocks []*Block
	for !c.eof() {
		code, err := c.raw(4)
		if err != nil {
			return nil, err
		}
		name := strings.TrimRight(string(code), "\x00")
		if name == codeEnd {
			break
		}
		length, err := c.u32()
		if err != nil {
			return nil, err
		}
		addr, err := c.pointer(h.PointerSize)
		if err != nil {
			return nil, err
		}
		sdna, err := c.u32()
		if err != nil {
			return nil, err
		}
		count, err := c.u32()
		if err != nil {
			return nil, err
		}
		payload, err := c.raw(int(length))
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, &Block{
			Code:      name,
			Addr:      addr,
			SDNAIndex: int(sdna),
			Count:     int(count),
			Data:      payload,
		})
	}
	return blocks, nil
}
