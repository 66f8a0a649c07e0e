package blenddeps

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
)

// TraceOptions configures one trace run.
type TraceOptions struct {
	// ExpandSequences enumerates on-disk files for frame-numbered and
	// UDIM-tiled paths instead of reporting the single pattern path.
	ExpandSequences bool

	// IncludeNonFiles reports image blocks with no external asset potential
	// (generated and viewer sources); their raw path may be empty.
	IncludeNonFiles bool
}

// Usage is one discovered external-file reference. The origin block is the
// block owning the path field, so an image found both directly and through a
// material's node tree produces a single record.
type Usage struct {
	Block      *Block `msgpack:"-"` // nil after a cache round-trip
	Code       string // origin block type code ("IM", "LI", …)
	Name       string // ID datablock name without the 2-char type prefix
	FieldPath  string
	RawPath    string
	IsRelative bool
	AbsPath    string // empty when resolution failed
	IsSequence bool

	tiled bool // UDIM-tiled image source; affects sequence expansion
}

func (u *Usage) String() string {
	return fmt.Sprintf("%s %q %s=%q", u.Code, u.Name, u.FieldPath, u.RawPath)
}

// Image source kinds (Image.source).
const (
	imageSourceFile      = 1
	imageSourceSequence  = 2
	imageSourceMovie     = 3
	imageSourceGenerated = 4
	imageSourceViewer    = 5
	imageSourceTiled     = 6
)

// MovieClip source kinds (MovieClip.source).
const (
	clipSourceSequence = 1
	clipSourceMovie    = 2
)

// Trace walks every block and emits a finite, deduplicated sequence of
// usages. The sequence is produced lazily; ranging over it again re-runs
// the trace from scratch with fresh per-run state. Failures scoped to one
// field or block are logged and skipped; they never abort the run.
func (f *BlendFile) Trace(opt TraceOptions) iter.Seq[*Usage] {
	return func(yield func(*Usage) bool) {
		r := &traceRun{
			f:       f,
			opt:     opt,
			visited: make(map[uint64]bool),
			seen:    make(map[usageKey]bool),
			yield:   yield,
		}
		for _, b := range f.Blocks {
			ex := extractors[b.Code]
			if ex == nil {
				continue
			}
			if !ex(r, b) {
				return
			}
		}
	}
}

type usageKey struct {
	addr uint64
	path string
}

// traceRun holds the per-run state: the visited set guarding indirect graph
// expansion and the dedup set over (origin address, field path).
type traceRun struct {
	f       *BlendFile
	opt     TraceOptions
	visited map[uint64]bool
	seen    map[usageKey]bool
	yield   func(*Usage) bool
}

type extractorFunc func(*traceRun, *Block) bool

var extractors map[string]extractorFunc

func init() {
	extractors = map[string]extractorFunc{
		"LI": extractLibrary,
		"IM": extractImage,
		"SO": extractSound,
		"MC": extractMovieClip,
		"CF": extractCacheFile,
		"VF": extractFont,
		"OB": extractObject,
		"MA": extractMaterial,
		"TE": extractTexture,
		"WO": extractNodeOwner,
		"LA": extractNodeOwner,
		"SC": extractNodeOwner,
		"NT": extractNodeTree,
	}
}

// enter marks an address as expanded during indirect traversal and reports
// whether it was new. Guarantees termination on cyclic graphs: work is
// bounded by the number of distinct reachable blocks.
func (r *traceRun) enter(b *Block) bool {
	if b.Addr != 0 && r.visited[b.Addr] {
		return false
	}
	r.visited[b.Addr] = true
	return true
}

// skip logs a non-fatal field failure and keeps the trace going. Nil and
// dangling pointers are routine (debug level); everything else is a warning.
// No failure is dropped without a signal.
func (r *traceRun) skip(b *Block, what string, err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, ErrNilPointer):
		if r.f.verbose {
			r.f.logger.Debug("blenddeps: absent field", blockAttrs(b, what, err)...)
		}
	case errors.Is(err, ErrDanglingPointer), errors.Is(err, ErrNoField), errors.Is(err, ErrIndexOutOfRange):
		if r.f.verbose {
			r.f.logger.Debug("blenddeps: field treated as absent", blockAttrs(b, what, err)...)
		}
	default:
		r.f.logger.Warn("blenddeps: skipping field", blockAttrs(b, what, err)...)
	}
	return true
}

func blockAttrs(b *Block, what string, err error) []any {
	return []any{
		slog.String("block", b.Code),
		slog.String("addr", fmt.Sprintf("%#x", b.Addr)),
		slog.String("field", what),
		slog.Any("err", err),
	}
}

// emit resolves, deduplicates and yields one usage, expanding sequences
// when requested. Returns false only when the consumer stopped iterating.
func (r *traceRun) emit(b *Block, fieldPath, raw string, isSeq, tiled bool) bool {
	if raw == "" && !r.opt.IncludeNonFiles {
		return true
	}
	key := usageKey{b.Addr, fieldPath}
	if r.seen[key] {
		return true
	}
	r.seen[key] = true

	u := &Usage{
		Block:      b,
		Code:       b.Code,
		Name:       idName(b),
		FieldPath:  fieldPath,
		RawPath:    raw,
		IsRelative: isRelativePath(raw),
		IsSequence: isSeq,
		tiled:      tiled,
	}
	if raw != "" {
		abs, err := resolvePath(raw, r.f.Dir())
		if err != nil {
			r.f.logger.Warn("blenddeps: raw path retained unresolved",
				slog.String("block", b.Code), slog.String("path", raw), slog.Any("err", err))
		} else {
			u.AbsPath = abs
		}
	}

	if r.opt.ExpandSequences && isSeq && u.AbsPath != "" {
		return r.expandSequence(u)
	}
	return r.yield(u)
}

// idName returns the datablock name from the ID header, without the 2-char
// type prefix Blender stores there ("IMwood.png" → "wood.png").
func idName(b *Block) string {
	name, err := b.Str("id.name")
	if err != nil || len(name) < 2 {
		return ""
	}
	return name[2:]
}

// pathField reads the first present, non-empty string field of the given
// names. Blender renamed several path fields from "name" to "filepath" over
// the years; extractors pass both.
func pathField(b *Block, names ...string) (string, string, error) {
	var firstErr error
	for _, n := range names {
		s, err := b.Str(n)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if s != "" {
			return n, s, nil
		}
	}
	return "", "", firstErr
}

func extractLibrary(r *traceRun, b *Block) bool {
	field, raw, err := pathField(b, "name", "filepath")
	if err != nil {
		return r.skip(b, "name", err)
	}
	return r.emit(b, field, raw, false, false)
}

func extractImage(r *traceRun, b *Block) bool {
	if !r.enter(b) {
		return true
	}
	source, err := b.Int("source")
	if err != nil {
		// Ancient files have no source field; treat as a plain file.
		source = imageSourceFile
	}
	if (source == imageSourceGenerated || source == imageSourceViewer) && !r.opt.IncludeNonFiles {
		return true
	}
	field, raw, err := pathField(b, "name", "filepath")
	if err != nil {
		return r.skip(b, "name", err)
	}
	isSeq := source == imageSourceSequence || source == imageSourceTiled
	return r.emit(b, field, raw, isSeq, source == imageSourceTiled)
}

func extractSound(r *traceRun, b *Block) bool {
	field, raw, err := pathField(b, "name", "filepath")
	if err != nil {
		return r.skip(b, "name", err)
	}
	return r.emit(b, field, raw, false, false)
}

func extractMovieClip(r *traceRun, b *Block) bool {
	source, err := b.Int("source")
	if err != nil {
		source = clipSourceMovie
	}
	field, raw, err := pathField(b, "name", "filepath")
	if err != nil {
		return r.skip(b, "name", err)
	}
	return r.emit(b, field, raw, source == clipSourceSequence, false)
}

func extractCacheFile(r *traceRun, b *Block) bool {
	if !r.enter(b) {
		return true
	}
	field, raw, err := pathField(b, "filepath")
	if err != nil {
		return r.skip(b, "filepath", err)
	}
	return r.emit(b, field, raw, false, false)
}

func extractFont(r *traceRun, b *Block) bool {
	field, raw, err := pathField(b, "name", "filepath")
	if err != nil {
		return r.skip(b, "name", err)
	}
	if raw == "<builtin>" {
		return true
	}
	return r.emit(b, field, raw, false, false)
}

// extractObject walks the object's modifier stack. Each modifier is a
// separately saved block whose DNA struct name identifies the modifier
// kind; the handful of kinds that reference external files are handled.
func extractObject(r *traceRun, b *Block) bool {
	mod, err := b.Deref("modifiers.first")
	if err != nil {
		return r.skip(b, "modifiers.first", err)
	}
	for mod != nil {
		if !r.enter(mod) {
			break
		}
		if !r.extractModifier(mod) {
			return false
		}
		next, err := derefEither(mod, "modifier.next", "next")
		if err != nil {
			r.skip(mod, "modifier.next", err)
			break
		}
		mod = next
	}
	return true
}

func (r *traceRun) extractModifier(mod *Block) bool {
	st, err := r.f.structOf(mod)
	if err != nil {
		return r.skip(mod, "", err)
	}
	switch st.Name {
	case "MeshCacheModifierData":
		field, raw, err := pathField(mod, "filepath")
		if err != nil {
			return r.skip(mod, "filepath", err)
		}
		return r.emit(mod, field, raw, false, false)
	case "OceanModifierData":
		field, raw, err := pathField(mod, "cachepath")
		if err != nil {
			return r.skip(mod, "cachepath", err)
		}
		return r.emit(mod, field, raw, false, false)
	case "MeshSeqCacheModifierData":
		cf, err := mod.Deref("cache_file")
		if err != nil {
			return r.skip(mod, "cache_file", err)
		}
		return extractCacheFile(r, cf)
	}
	return true
}

func extractMaterial(r *traceRun, b *Block) bool {
	if !r.walkOwnedNodeTree(b) {
		return false
	}
	// Legacy (pre-2.8) texture slots: Material.mtex is an array of MTex
	// pointers sized by the file's own DNA.
	st, err := r.f.structOf(b)
	if err != nil {
		return r.skip(b, "", err)
	}
	fld := st.FieldNamed("mtex")
	if fld == nil {
		return true
	}
	for i := 0; i < fld.Name.ArrayLen; i++ {
		path := fmt.Sprintf("mtex[%d]", i)
		mtex, err := b.Deref(path)
		if err != nil {
			if !errors.Is(err, ErrNilPointer) {
				r.skip(b, path, err)
			}
			continue
		}
		tex, err := mtex.Deref("tex")
		if err != nil {
			r.skip(mtex, "tex", err)
			continue
		}
		if !extractTexture(r, tex) {
			return false
		}
	}
	return true
}

func extractTexture(r *traceRun, b *Block) bool {
	if !r.enter(b) {
		return true
	}
	ima, err := b.Deref("ima")
	if err != nil {
		r.skip(b, "ima", err)
	} else if !extractImage(r, ima) {
		return false
	}
	return r.walkOwnedNodeTree(b)
}

// extractNodeOwner handles blocks whose only asset potential is a node
// tree: worlds, lamps and scenes (compositor).
func extractNodeOwner(r *traceRun, b *Block) bool {
	return r.walkOwnedNodeTree(b)
}

func (r *traceRun) walkOwnedNodeTree(b *Block) bool {
	nt, err := b.Deref("nodetree")
	if err != nil {
		return r.skip(b, "nodetree", err)
	}
	return extractNodeTree(r, nt)
}

// extractNodeTree walks a node graph: every node's id pointer may lead to
// an image, a texture, or a nested group tree. The per-run visited set
// guards each expansion, so cyclic references terminate.
func extractNodeTree(r *traceRun, nt *Block) bool {
	if !r.enter(nt) {
		return true
	}
	node, err := nt.Deref("nodes.first")
	if err != nil {
		return r.skip(nt, "nodes.first", err)
	}
	for node != nil {
		if !r.enter(node) {
			break
		}
		id, err := node.Deref("id")
		if err != nil {
			r.skip(node, "id", err)
		} else {
			var ok bool
			switch id.Code {
			case "IM":
				ok = extractImage(r, id)
			case "TE":
				ok = extractTexture(r, id)
			case "NT":
				ok = extractNodeTree(r, id)
			default:
				ok = true
			}
			if !ok {
				return false
			}
		}
		next, err := node.Deref("next")
		if err != nil {
			r.skip(node, "next", err)
			break
		}
		node = next
	}
	return true
}

func derefEither(b *Block, primary, fallback string) (*Block, error) {
	next, err := b.Deref(primary)
	if err != nil && errors.Is(err, ErrNoField) {
		return b.Deref(fallback)
	}
	return next, err
}
