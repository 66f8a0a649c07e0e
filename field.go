package blenddeps

import (
	"math"
	"strconv"
	"strings"
)

// A field path is a dotted sequence of segments, each a field name with
// optional array indexes: "name", "id.name", "mtex[3]", "mat[1][2]".
// Pointer fields in a non-final position dereference automatically into the
// block their saved address identifies. Resolution is a pure function of
// (block, catalog, pointer width) and never mutates state.

type pathSeg struct {
	name    string
	indexes []int
}

func parsePath(path string) ([]pathSeg, error) {
	var segs []pathSeg
	for _, part := range strings.Split(path, ".") {
		var seg pathSeg
		seg.name = part
		if i := strings.IndexByte(part, '['); i >= 0 {
			seg.name = part[:i]
			rest := part[i:]
			for len(rest) > 0 {
				if rest[0] != '[' {
					return nil, parseErrf(nil, 0, ErrCorruptData, "bad path segment %q", part)
				}
				closing := strings.IndexByte(rest, ']')
				if closing < 0 {
					return nil, parseErrf(nil, 0, ErrCorruptData, "bad path segment %q", part)
				}
				idx, err := strconv.Atoi(rest[1:closing])
				if err != nil || idx < 0 {
					return nil, parseErrf(nil, 0, ErrCorruptData, "bad index in path segment %q", part)
				}
				seg.indexes = append(seg.indexes, idx)
				rest = rest[closing+1:]
			}
		}
		if seg.name == "" {
			return nil, parseErrf(nil, 0, ErrCorruptData, "empty path segment in %q", path)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// fieldRef is the result of resolving a path: a concrete byte range inside
// a block plus the declared type of the value there.
type fieldRef struct {
	block *Block
	field *Field
	off   int // start of the value inside block.Data
	len   int // remaining bytes the value may occupy (array tail for strings)
}

func (f *BlendFile) structOf(b *Block) (*Struct, error) {
	st := f.DNA.StructByIndex(b.SDNAIndex)
	if st == nil {
		return nil, parseErrf(b.Data, 0, ErrCorruptData, "block %s@%#x: sdna index %d of %d", b.Code, b.Addr, b.SDNAIndex, len(f.DNA.Structs))
	}
	return st, nil
}

func (f *BlendFile) resolve(b *Block, path string) (fieldRef, error) {
	segs, err := parsePath(path)
	if err != nil {
		return fieldRef{}, err
	}
	st, err := f.structOf(b)
	if err != nil {
		return fieldRef{}, err
	}

	off := 0
	for si, seg := range segs {
		fld := st.FieldNamed(seg.name)
		if fld == nil {
			return fieldRef{}, parseErrf(b.Data, off, ErrNoField, "%s.%s", st.Name, seg.name)
		}
		off += fld.Offset

		elemSize := fld.TypeSize
		if fld.Name.Pointer {
			elemSize = f.DNA.pointerSize
		}
		remaining := fld.Size
		dims := fld.Name.Dims
		for _, idx := range seg.indexes {
			var dim int
			if len(dims) > 0 {
				dim, dims = dims[0], dims[1:]
			} else {
				dim = remaining / max(elemSize, 1)
			}
			if idx >= dim {
				return fieldRef{}, parseErrf(b.Data, off, ErrIndexOutOfRange, "%s.%s[%d] of %d", st.Name, seg.name, idx, dim)
			}
			stride := remaining / dim
			off += idx * stride
			remaining = stride
		}

		last := si == len(segs)-1
		if last {
			return f.checkRef(b, fieldRef{block: b, field: fld, off: off, len: remaining})
		}

		if fld.Name.Pointer {
			target, err := f.derefAt(b, off)
			if err != nil {
				return fieldRef{}, err
			}
			b = target
			st, err = f.structOf(b)
			if err != nil {
				return fieldRef{}, err
			}
			off = 0
			continue
		}

		nested := f.DNA.StructByName(fld.Type)
		if nested == nil {
			return fieldRef{}, parseErrf(b.Data, off, ErrNoField, "%s.%s: cannot descend into %s", st.Name, seg.name, fld.Type)
		}
		st = nested
	}
	panic("unreachable")
}

func (f *BlendFile) checkRef(b *Block, ref fieldRef) (fieldRef, error) {
	if ref.off < 0 || ref.off+ref.len > len(b.Data) {
		return fieldRef{}, parseErrf(b.Data, ref.off, ErrCorruptData, "%s@%#x: field %s needs %d bytes past payload end",
			b.Code, b.Addr, ref.field.Name.Full, ref.off+ref.len-len(b.Data))
	}
	return ref, nil
}

// derefAt reads a pointer-width address at off and resolves it against the
// block index. Zero is a null reference, not an error a caller should
// surface: both ErrNilPointer and ErrDanglingPointer mean "absent".
func (f *BlendFile) derefAt(b *Block, off int) (*Block, error) {
	ps := f.DNA.pointerSize
	if off+ps > len(b.Data) {
		return nil, parseErrf(b.Data, off, ErrCorruptData, "%s@%#x: pointer read past payload end", b.Code, b.Addr)
	}
	addr := f.Header.pointerAt(b.Data[off:])
	if addr == 0 {
		return nil, ErrNilPointer
	}
	target := f.byAddr[addr]
	if target == nil {
		return nil, parseErrf(b.Data, off, ErrDanglingPointer, "%s@%#x: address %#x", b.Code, b.Addr, addr)
	}
	return target, nil
}

// Elem returns a view of the i-th struct element of a multi-element block.
// The view shares the underlying payload and resolves fields against the
// same catalog entry.
func (b *Block) Elem(i int) (*Block, error) {
	st, err := b.file.structOf(b)
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= b.Count {
		return nil, parseErrf(b.Data, 0, ErrIndexOutOfRange, "%s@%#x: element %d of %d", b.Code, b.Addr, i, b.Count)
	}
	off := i * st.Size
	if off+st.Size > len(b.Data) {
		return nil, parseErrf(b.Data, off, ErrCorruptData, "%s@%#x: element %d past payload end", b.Code, b.Addr, i)
	}
	view := *b
	view.Data = b.Data[off : off+st.Size]
	view.Count = 1
	return &view, nil
}

// Int decodes an integer field of any declared width, sign-extending signed
// types.
func (b *Block) Int(path string) (int64, error) {
	ref, err := b.file.resolve(b, path)
	if err != nil {
		return 0, err
	}
	return ref.decodeInt()
}

func (ref fieldRef) decodeInt() (int64, error) {
	b, f := ref.block, ref.field
	order := b.file.Header.ByteOrder
	data := b.Data[ref.off:]
	if f.Name.Pointer {
		return 0, parseErrf(b.Data, ref.off, ErrCorruptData, "%s is a pointer, not an integer", f.Name.Full)
	}
	signed := !strings.HasPrefix(f.Type, "u") // uchar, ushort, uint, uint64_t
	switch f.TypeSize {
	case 1:
		if signed {
			return int64(int8(data[0])), nil
		}
		return int64(data[0]), nil
	case 2:
		if signed {
			return int64(int16(order.Uint16(data))), nil
		}
		return int64(order.Uint16(data)), nil
	case 4:
		if signed {
			return int64(int32(order.Uint32(data))), nil
		}
		return int64(order.Uint32(data)), nil
	case 8:
		return int64(order.Uint64(data)), nil
	default:
		return 0, parseErrf(b.Data, ref.off, ErrCorruptData, "%s: integer of size %d", f.Name.Full, f.TypeSize)
	}
}

// Float decodes a float or double field.
func (b *Block) Float(path string) (float64, error) {
	ref, err := b.file.resolve(b, path)
	if err != nil {
		return 0, err
	}
	f := ref.field
	order := b.file.Header.ByteOrder
	data := ref.block.Data[ref.off:]
	switch f.Type {
	case "float":
		return float64(math.Float32frombits(order.Uint32(data))), nil
	case "double":
		return math.Float64frombits(order.Uint64(data)), nil
	default:
		return 0, parseErrf(ref.block.Data, ref.off, ErrCorruptData, "%s: not a float type (%s)", f.Name.Full, f.Type)
	}
}

// Str decodes a fixed-size char array as a NUL-terminated string. Without a
// terminator the whole array is returned.
func (b *Block) Str(path string) (string, error) {
	ref, err := b.file.resolve(b, path)
	if err != nil {
		return "", err
	}
	data := ref.block.Data[ref.off : ref.off+ref.len]
	if i := indexByteZero(data); i >= 0 {
		data = data[:i]
	}
	return string(data), nil
}

func indexByteZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// Pointer reads the saved address stored in a pointer field. Zero means a
// null reference.
func (b *Block) Pointer(path string) (uint64, error) {
	ref, err := b.file.resolve(b, path)
	if err != nil {
		return 0, err
	}
	if !ref.field.Name.Pointer {
		return 0, parseErrf(ref.block.Data, ref.off, ErrCorruptData, "%s is not a pointer", ref.field.Name.Full)
	}
	return b.file.Header.pointerAt(ref.block.Data[ref.off:]), nil
}

// Deref resolves a pointer field into the block it addresses.
// ErrNilPointer and ErrDanglingPointer both mean the field is absent.
func (b *Block) Deref(path string) (*Block, error) {
	ref, err := b.file.resolve(b, path)
	if err != nil {
		return nil, err
	}
	if !ref.field.Name.Pointer {
		return nil, parseErrf(ref.block.Data, ref.off, ErrCorruptData, "%s is not a pointer", ref.field.Name.Full)
	}
	return b.file.derefAt(ref.block, ref.off)
}
