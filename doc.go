/*
Package blenddeps parses Blender .blend files without Blender and discovers
every external file an asset depends on: images, sounds, linked libraries,
caches, fonts and movie clips.

We implement:

1. The self-describing binary layout decoder: header detection, block
scanning, and the embedded type catalog (“DNA”) that lets us read any named
field of any struct instance purely from metadata stored inside the file.

2. A generic field accessor resolving dotted/indexed paths (“id.name”,
“mtex[3]”) against that catalog, with bounds checking against untrusted data
and safe dereferencing of saved memory addresses.

3. A dependency tracer that dispatches on block type and walks the pointer
graph (node trees, modifier stacks) with cycle protection, emitting one
Usage per discovered external path.

4. A sequence expander turning frame-numbered and UDIM-tiled paths into the
enumerated set of on-disk files.

Packaging, output formatting and upload are left to callers; they consume
only the Usage sequence produced by Trace.

# Technical Details

**File container.**
A .blend file is optionally wrapped in gzip (Blender ≤2.93 “Compress” option)
or Zstandard (3.0+, written as seekable zstd). Both are unwrapped
transparently before header detection. Uncompressed files are memory-mapped;
compressed ones are expanded into memory.

**Header.**
The legacy 12-byte prologue is "BLENDER", a pointer-size byte ('_' = 4,
'-' = 8), an endianness byte ('v' little, 'V' big) and three version digits.
The modern 17-byte prologue carries a raw format-version byte after the
magic instead of a pointer-size indicator, then pointer/endian bytes, four
version digits and three reserved zeros.

**Blocks.**
The rest of the stream is flat blocks: a 4-byte code, u32 payload length,
saved memory address at pointer width, SDNA struct index, element count, then
the payload. The saved address is purely a graph-node identifier; it is never
dereferenced as real memory. Scanning ends at "ENDB".

**DNA.**
The single DNA1 block holds four concatenated tables (NAME, TYPE, TLEN,
STRC) describing every struct layout used by the file. Field names carry
pointer and array annotations ("*next", "name[64]", "mat[4][4]"); a pointer
field is always sized at the file's pointer width regardless of declared
type.

**Usages.**
Raw paths starting with the "//" marker are relative to the directory of the
blend file. Records are deduplicated by (origin block address, field path),
so an image found both directly and through a material's node tree is
reported once.
*/
package blenddeps
