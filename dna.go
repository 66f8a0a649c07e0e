package blenddeps

import (
	"strconv"
	"strings"
)

// DNA is the catalog of struct layouts embedded in the file's DNA1 block.
// Built once per file, read-only afterwards.
type DNA struct {
	Names   []Name
	Types   []TypeInfo
	Structs []*Struct

	byName      map[string]*Struct
	pointerSize int
}

// TypeInfo is one entry of the TYPE/TLEN tables.
type TypeInfo struct {
	Name string
	Size int
}

// Name is a parsed field name. The raw string carries the C declarator
// annotations: "*next" is a pointer, "name[64]" an array, "mat[4][4]" a
// multi-dimensional array (dimensions multiply), "(*handler)()" a method
// pointer.
type Name struct {
	Full          string
	Base          string
	Pointer       bool
	MethodPointer bool
	ArrayLen      int   // product of all dimensions, 1 if not an array
	Dims          []int // individual array dimensions, nil if not an array
}

func parseName(full string) Name {
	n := Name{Full: full, ArrayLen: 1}
	s := full
	if strings.HasPrefix(s, "(*") {
		n.Pointer = true
		n.MethodPointer = true
		s = s[2:]
		if i := strings.Index(s, ")"); i >= 0 {
			s = s[:i]
		}
	} else {
		for strings.HasPrefix(s, "*") {
			n.Pointer = true
			s = s[1:]
		}
	}
	n.Base = s
	if i := strings.IndexByte(s, '['); i >= 0 {
		n.Base = s[:i]
	}
	for {
		open := strings.IndexByte(s, '[')
		if open < 0 {
			break
		}
		closing := strings.IndexByte(s[open:], ']')
		if closing < 0 {
			break
		}
		if dim, err := strconv.Atoi(s[open+1 : open+closing]); err == nil {
			n.ArrayLen *= dim
			n.Dims = append(n.Dims, dim)
		}
		s = s[open+closing+1:]
	}
	return n
}

// Field is one member of a struct layout, with its byte offset and size
// precomputed against the file's own pointer width.
type Field struct {
	Name     Name
	Type     string
	TypeSize int
	Offset   int
	Size     int
}

// Struct is one layout of the STRC table.
type Struct struct {
	Index  int    // position in the STRC table (block SDNAIndex values)
	Name   string // type name, e.g. "Library", "Image", "bNodeTree"
	Size   int    // declared total byte size from TLEN
	Fields []Field

	byName map[string]*Field
}

// FieldNamed returns the field with the given base name, or nil.
func (st *Struct) FieldNamed(name string) *Field {
	return st.byName[name]
}

// parseDNA decodes the DNA1 payload: the SDNA marker, then the NAME, TYPE,
// TLEN and STRC tables, each 4-byte aligned relative to the payload start.
// Any index that does not resolve in an earlier table is corrupt data; the
// catalog is all-or-nothing.
func parseDNA(payload []byte, h *Header) (*DNA, error) {
	c := makeCursor(payload, h.ByteOrder, "DNA1")
	if err := c.expectTag("SDNA"); err != nil {
		return nil, err
	}

	if err := c.expectTag("NAME"); err != nil {
		return nil, err
	}
	nameCount, err := c.u32()
	if err != nil {
		return nil, err
	}
	names := make([]Name, nameCount)
	for i := range names {
		s, err := c.cstring()
		if err != nil {
			return nil, err
		}
		names[i] = parseName(s)
	}

	c.align(4)
	if err := c.expectTag("TYPE"); err != nil {
		return nil, err
	}
	typeCount, err := c.u32()
	if err != nil {
		return nil, err
	}
	types := make([]TypeInfo, typeCount)
	for i := range types {
		s, err := c.cstring()
		if err != nil {
			return nil, err
		}
		types[i].Name = s
	}

	c.align(4)
	if err := c.expectTag("TLEN"); err != nil {
		return nil, err
	}
	for i := range types {
		size, err := c.u16()
		if err != nil {
			return nil, err
		}
		types[i].Size = int(size)
	}

	c.align(4)
	if err := c.expectTag("STRC"); err != nil {
		return nil, err
	}
	structCount, err := c.u32()
	if err != nil {
		return nil, err
	}

	dna := &DNA{
		Names:       names,
		Types:       types,
		Structs:     make([]*Struct, 0, structCount),
		byName:      make(map[string]*Struct, structCount),
		pointerSize: h.PointerSize,
	}
	for i := 0; i < int(structCount); i++ {
		typeIndex, err := c.u16()
		if err != nil {
			return nil, err
		}
		if int(typeIndex) >= len(types) {
			return nil, parseErrf(payload, c.off(), ErrCorruptData, "struct %d: type index %d of %d", i, typeIndex, len(types))
		}
		fieldCount, err := c.u16()
		if err != nil {
			return nil, err
		}
		st := &Struct{
			Index:  i,
			Name:   types[typeIndex].Name,
			Size:   types[typeIndex].Size,
			Fields: make([]Field, fieldCount),
			byName: make(map[string]*Field, fieldCount),
		}
		offset := 0
		for j := range st.Fields {
			ft, err := c.u16()
			if err != nil {
				return nil, err
			}
			fn, err := c.u16()
			if err != nil {
				return nil, err
			}
			if int(ft) >= len(types) || int(fn) >= len(names) {
				return nil, parseErrf(payload, c.off(), ErrCorruptData, "struct %s field %d: type %d, name %d out of range", st.Name, j, ft, fn)
			}
			f := Field{
				Name:     names[fn],
				Type:     types[ft].Name,
				TypeSize: types[ft].Size,
				Offset:   offset,
			}
			// The catalog's pointer width always governs pointer-field
			// sizing, regardless of the declared type.
			if f.Name.Pointer {
				f.Size = h.PointerSize * f.Name.ArrayLen
			} else {
				f.Size = f.TypeSize * f.Name.ArrayLen
			}
			offset += f.Size
			st.Fields[j] = f
			st.byName[f.Name.Base] = &st.Fields[j]
		}
		dna.Structs = append(dna.Structs, st)
		dna.byName[st.Name] = st
	}
	return dna, nil
}

// StructByIndex resolves a block's SDNA index, or nil if out of range.
func (d *DNA) StructByIndex(i int) *Struct {
	if i < 0 || i >= len(d.Structs) {
		return nil
	}
	return d.Structs[i]
}

// StructByName returns the layout for a struct type name, or nil.
func (d *DNA) StructByName(name string) *Struct {
	return d.byName[name]
}
