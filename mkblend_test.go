package blenddeps

// In-memory construction of synthetic blend files for tests: a miniature
// DNA catalog covering the asset-bearing structs, plus a block-stream
// builder. Payload field offsets come from parsing the very DNA payload the
// builder writes, so builder and parser can never drift apart.

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

type structDef struct {
	name   string
	fields [][2]string // {type, annotated name}
}

var testPrimitives = []TypeInfo{
	{"char", 1}, {"uchar", 1}, {"short", 2}, {"ushort", 2},
	{"int", 4}, {"float", 4}, {"double", 8}, {"int64_t", 8}, {"void", 0},
}

// The struct set mirrors the parts of Blender's DNA the tracer touches.
// Order matters: embedded structs must appear before their users.
var testStructs = []structDef{
	{"ID", [][2]string{{"char", "name[66]"}, {"short", "pad"}}},
	{"ListBase", [][2]string{{"void", "*first"}, {"void", "*last"}}},
	{"Library", [][2]string{{"ID", "id"}, {"char", "name[1024]"}}},
	{"Image", [][2]string{{"ID", "id"}, {"char", "name[1024]"}, {"int", "source"}, {"int", "flag"}}},
	{"bSound", [][2]string{{"ID", "id"}, {"char", "name[1024]"}}},
	{"MovieClip", [][2]string{{"ID", "id"}, {"char", "name[1024]"}, {"int", "source"}, {"int", "flag"}}},
	{"CacheFile", [][2]string{{"ID", "id"}, {"char", "filepath[1024]"}}},
	{"VFont", [][2]string{{"ID", "id"}, {"char", "name[1024]"}}},
	{"bNode", [][2]string{{"bNode", "*next"}, {"bNode", "*prev"}, {"ID", "*id"}, {"int", "type"}, {"int", "flag"}}},
	{"bNodeTree", [][2]string{{"ID", "id"}, {"ListBase", "nodes"}}},
	{"MTex", [][2]string{{"Tex", "*tex"}}},
	{"Tex", [][2]string{{"ID", "id"}, {"Image", "*ima"}, {"bNodeTree", "*nodetree"}}},
	{"Material", [][2]string{{"ID", "id"}, {"bNodeTree", "*nodetree"}, {"MTex", "*mtex[18]"}}},
	{"ModifierData", [][2]string{{"ModifierData", "*next"}, {"ModifierData", "*prev"}, {"int", "type"}, {"int", "mode"}, {"char", "name[64]"}}},
	{"MeshCacheModifierData", [][2]string{{"ModifierData", "modifier"}, {"char", "filepath[1024]"}}},
	{"OceanModifierData", [][2]string{{"ModifierData", "modifier"}, {"float", "wave_scale"}, {"int", "resolution"}, {"char", "cachepath[1024]"}}},
	{"MeshSeqCacheModifierData", [][2]string{{"ModifierData", "modifier"}, {"CacheFile", "*cache_file"}}},
	{"Object", [][2]string{{"ID", "id"}, {"ListBase", "modifiers"}}},
	{"Scene", [][2]string{{"ID", "id"}, {"bNodeTree", "*nodetree"}}},
}

// The builder always writes little-endian 64-bit files; endianness and
// pointer-width variants are exercised with hand-built byte streams in the
// header and DNA tests.
var le = binary.LittleEndian

func buildDNAPayload(ptrSize int, defs []structDef) []byte {
	nameIndex := map[string]int{}
	var names []string
	internName := func(s string) int {
		if i, ok := nameIndex[s]; ok {
			return i
		}
		nameIndex[s] = len(names)
		names = append(names, s)
		return len(names) - 1
	}

	typeIndex := map[string]int{}
	var types []string
	var sizes []int
	internType := func(s string, size int) int {
		if i, ok := typeIndex[s]; ok {
			return i
		}
		typeIndex[s] = len(types)
		types = append(types, s)
		sizes = append(sizes, size)
		return len(types) - 1
	}
	for _, p := range testPrimitives {
		internType(p.Name, p.Size)
	}
	// Struct types may point at each other (and themselves) before their
	// sizes are known; intern them all up front and fill sizes in below.
	for _, def := range defs {
		internType(def.name, 0)
	}

	type strc struct {
		typeIdx int
		fields  [][2]int // {typeIdx, nameIdx}
	}
	var strcs []strc
	for _, def := range defs {
		var s strc
		total := 0
		for _, f := range def.fields {
			n := parseName(f[1])
			ti, ok := typeIndex[f[0]]
			if !ok {
				panic("test DNA: struct " + def.name + " uses undefined type " + f[0])
			}
			if n.Pointer {
				total += ptrSize * n.ArrayLen
			} else {
				total += sizes[ti] * n.ArrayLen
			}
			s.fields = append(s.fields, [2]int{ti, internName(f[1])})
		}
		s.typeIdx = typeIndex[def.name]
		sizes[s.typeIdx] = total
		strcs = append(strcs, s)
	}

	var buf []byte
	u16 := func(v int) {
		buf = le.AppendUint16(buf, uint16(v))
	}
	u32 := func(v int) {
		buf = le.AppendUint32(buf, uint32(v))
	}
	align4 := func() {
		for len(buf)%4 != 0 {
			buf = append(buf, 0)
		}
	}

	buf = append(buf, "SDNA"...)
	buf = append(buf, "NAME"...)
	u32(len(names))
	for _, s := range names {
		buf = append(buf, s...)
		buf = append(buf, 0)
	}
	align4()
	buf = append(buf, "TYPE"...)
	u32(len(types))
	for _, s := range types {
		buf = append(buf, s...)
		buf = append(buf, 0)
	}
	align4()
	buf = append(buf, "TLEN"...)
	for _, s := range sizes {
		u16(s)
	}
	align4()
	buf = append(buf, "STRC"...)
	u32(len(strcs))
	for _, s := range strcs {
		u16(s.typeIdx)
		u16(len(s.fields))
		for _, f := range s.fields {
			u16(f[0])
			u16(f[1])
		}
	}
	return buf
}

type blendBuilder struct {
	t       testing.TB
	order   binary.ByteOrder
	ptrSize int
	dna     *DNA
	dnaPay  []byte
	stream  []byte // block stream, before DNA1 and ENDB
}

func newBlendBuilder(t testing.TB) *blendBuilder {
	t.Helper()
	ptrSize := 8
	pay := buildDNAPayload(ptrSize, testStructs)
	hdr := Header{PointerSize: ptrSize, ByteOrder: le, Version: 304}
	dna := must(parseDNA(pay, &hdr))
	return &blendBuilder{t: t, order: le, ptrSize: ptrSize, dna: dna, dnaPay: pay}
}

// payload is one block's data under construction, with field writers that
// resolve offsets through the builder's parsed DNA.
type payload struct {
	bb  *blendBuilder
	st  *Struct
	buf []byte
}

func (bb *blendBuilder) structNamed(name string) *Struct {
	st := bb.dna.StructByName(name)
	if st == nil {
		bb.t.Fatalf("test DNA has no struct %s", name)
	}
	return st
}

// add appends one block whose payload is one element of the named struct.
func (bb *blendBuilder) add(code string, structName string, addr uint64, fill func(p *payload)) {
	bb.t.Helper()
	st := bb.structNamed(structName)
	p := &payload{bb: bb, st: st, buf: make([]byte, st.Size)}
	if fill != nil {
		fill(p)
	}
	bb.addRaw(code, addr, st.Index, 1, p.buf)
}

func (bb *blendBuilder) addRaw(code string, addr uint64, sdna, count int, data []byte) {
	if len(code) > 4 {
		bb.t.Fatalf("bad block code %q", code)
	}
	var hdr [4]byte
	copy(hdr[:], code)
	bb.stream = append(bb.stream, hdr[:]...)
	bb.stream = bb.bbOrder(bb.stream, uint64(len(data)), 4)
	bb.stream = bb.bbOrder(bb.stream, addr, bb.ptrSize)
	bb.stream = bb.bbOrder(bb.stream, uint64(sdna), 4)
	bb.stream = bb.bbOrder(bb.stream, uint64(count), 4)
	bb.stream = append(bb.stream, data...)
}

func (bb *blendBuilder) bbOrder(buf []byte, v uint64, size int) []byte {
	switch size {
	case 4:
		return le.AppendUint32(buf, uint32(v))
	case 8:
		return le.AppendUint64(buf, v)
	default:
		panic("bad size")
	}
}

// bytes assembles prologue + blocks + DNA1 + ENDB.
func (bb *blendBuilder) bytes() []byte {
	var out []byte
	out = append(out, "BLENDER-v304"...)
	out = append(out, bb.stream...)

	var hdr [4]byte
	copy(hdr[:], codeDNA)
	out = append(out, hdr[:]...)
	out = bb.bbOrder(out, uint64(len(bb.dnaPay)), 4)
	out = bb.bbOrder(out, 0xD7A, bb.ptrSize)
	out = bb.bbOrder(out, 0, 4)
	out = bb.bbOrder(out, 1, 4)
	out = append(out, bb.dnaPay...)

	copy(hdr[:], codeEnd)
	out = append(out, hdr[:]...)
	out = bb.bbOrder(out, 0, 4)
	out = bb.bbOrder(out, 0, bb.ptrSize)
	out = bb.bbOrder(out, 0, 4)
	out = bb.bbOrder(out, 0, 4)
	return out
}

// write saves the file under dir and opens it.
func (bb *blendBuilder) write(dir, name string) string {
	bb.t.Helper()
	fn := filepath.Join(dir, name)
	ensure(os.MkdirAll(filepath.Dir(fn), 0o755))
	ensure(os.WriteFile(fn, bb.bytes(), 0o644))
	return fn
}

func (bb *blendBuilder) open(dir, name string, opt Options) *BlendFile {
	bb.t.Helper()
	fn := bb.write(dir, name)
	f, err := Open(fn, opt)
	if err != nil {
		bb.t.Fatalf("Open: %v", err)
	}
	bb.t.Cleanup(func() { f.Close() })
	return f
}

// offsetOf resolves a struct-local path (no pointer hops) for payload
// writers: "name", "id.name", "mtex[3]", "modifiers.first".
func (p *payload) offsetOf(path string) (int, *Field) {
	p.bb.t.Helper()
	segs, err := parsePath(path)
	if err != nil {
		p.bb.t.Fatalf("bad payload path %q: %v", path, err)
	}
	st := p.st
	off := 0
	for si, seg := range segs {
		fld := st.FieldNamed(seg.name)
		if fld == nil {
			p.bb.t.Fatalf("%s has no field %q (path %q)", st.Name, seg.name, path)
		}
		off += fld.Offset
		for _, idx := range seg.indexes {
			stride := fld.Size / fld.Name.ArrayLen
			off += idx * stride
		}
		if si == len(segs)-1 {
			return off, fld
		}
		if fld.Name.Pointer {
			p.bb.t.Fatalf("payload path %q crosses pointer %s", path, fld.Name.Full)
		}
		st = p.bb.dna.StructByName(fld.Type)
		if st == nil {
			p.bb.t.Fatalf("cannot descend into %s (path %q)", fld.Type, path)
		}
	}
	panic("unreachable")
}

func (p *payload) str(path, s string) {
	off, _ := p.offsetOf(path)
	copy(p.buf[off:], s)
	if off+len(s) < len(p.buf) {
		p.buf[off+len(s)] = 0
	}
}

func (p *payload) i32(path string, v int32) {
	off, _ := p.offsetOf(path)
	p.bb.order.PutUint32(p.buf[off:], uint32(v))
}

func (p *payload) ptr(path string, addr uint64) {
	off, _ := p.offsetOf(path)
	if p.bb.ptrSize == 4 {
		p.bb.order.PutUint32(p.buf[off:], uint32(addr))
	} else {
		p.bb.order.PutUint64(p.buf[off:], addr)
	}
}

// id sets the ID header name with its 2-char type prefix.
func (p *payload) id(name string) {
	p.str("id.name", name)
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func ensure(err error) {
	if err != nil {
		panic(err)
	}
}

func deepEq[T any](t testing.TB, a, e T) bool {
	if !reflect.DeepEqual(a, e) {
		t.Helper()
		t.Errorf("** got %v, wanted %v", a, e)
		return false
	}
	return true
}
