package blenddeps

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/andreyvit/blenddeps/mmap"
)

// Options configures Open.
type Options struct {
	// Logger receives reports about non-fatal degradations (unsupported
	// version, dangling pointers, skipped fields). Defaults to slog.Default.
	Logger *slog.Logger

	// Verbose enables debug-level logging of per-block trace decisions.
	Verbose bool

	// NoMmap reads uncompressed files into memory instead of mapping them.
	NoMmap bool
}

// BlendFile is an open parse session: the decoded header, the scanned block
// stream with its two indexes, and the DNA catalog. Sessions are
// independent of each other; the package keeps no state across Open calls.
// Not safe for concurrent use of a single session's Trace with itself, but
// distinct sessions need no locking.
type BlendFile struct {
	Path    string
	Header  Header
	DNA     *DNA
	Blocks  []*Block
	Version int // same as Header.Version, for callers

	byAddr map[uint64]*Block
	byCode map[string][]*Block

	logger  *slog.Logger
	verbose bool

	f      *os.File
	mapped []byte // set when Data views point into a mapping
}

// Open reads, decompresses if necessary and fully indexes a blend file.
// Structural failures (bad magic, truncation, missing DNA) abort with a
// single terminal error; see the package error taxonomy.
func Open(path string, opt Options) (*BlendFile, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	bf, err := open(f, path, opt)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return bf, nil
}

func open(f *os.File, path string, opt Options) (*BlendFile, error) {
	var head [4]byte
	n, err := f.ReadAt(head[:], 0)
	if err != nil && n < 2 {
		return nil, parseErrf(head[:n], 0, ErrTruncated, "prologue")
	}

	var data, mapped []byte
	comp := sniffCompression(head[:n])
	if comp != compressionNone {
		data, err = expand(f, comp)
		if err != nil {
			return nil, err
		}
	} else if opt.NoMmap {
		data, err = io.ReadAll(f)
		if err != nil {
			return nil, err
		}
	} else {
		st, err := f.Stat()
		if err != nil {
			return nil, err
		}
		mapped, err = mmap.Open(f, int(st.Size()))
		if err != nil {
			return nil, err
		}
		data = mapped
	}

	hdr, hdrLen, err := decodeHeader(data)
	if err != nil {
		if mapped != nil {
			mmap.Close(mapped)
		}
		return nil, err
	}
	if hdr.Version < minKnownVersion || hdr.Version > maxKnownVersion {
		opt.Logger.Warn("blenddeps: version outside known-good range, continuing",
			slog.String("file", path), slog.Int("version", hdr.Version),
			slog.Any("err", ErrUnsupportedVersion))
	}
	if opt.Verbose {
		opt.Logger.Debug("blenddeps: header",
			slog.String("file", path), slog.Int("version", hdr.Version),
			slog.Int("ptrsize", hdr.PointerSize), slog.Bool("bigendian", hdr.BigEndian()),
			slog.String("compression", comp.String()))
	}

	bf := &BlendFile{
		Path:    path,
		Header:  hdr,
		Version: hdr.Version,
		logger:  opt.Logger,
		verbose: opt.Verbose,
		f:       f,
		mapped:  mapped,
	}

	blocks, err := scanBlocks(data[hdrLen:], &hdr)
	if err != nil {
		bf.Close()
		return nil, err
	}
	bf.Blocks = blocks
	bf.byAddr = make(map[uint64]*Block, len(blocks))
	bf.byCode = make(map[string][]*Block)
	for _, b := range blocks {
		b.file = bf
		if b.Addr != 0 {
			// Later occurrences supersede earlier snapshots of the same
			// address.
			bf.byAddr[b.Addr] = b
		}
		bf.byCode[b.Code] = append(bf.byCode[b.Code], b)
	}

	dnaBlocks := bf.byCode[codeDNA]
	if len(dnaBlocks) == 0 || len(dnaBlocks[0].Data) == 0 {
		bf.Close()
		return nil, ErrMissingDNA
	}
	dna, err := parseDNA(dnaBlocks[0].Data, &hdr)
	if err != nil {
		bf.Close()
		return nil, fmt.Errorf("%w: %w", ErrMissingDNA, err)
	}
	bf.DNA = dna
	return bf, nil
}

// Close releases the mapping and the underlying file. Blocks must not be
// used afterwards.
func (f *BlendFile) Close() error {
	var err error
	if f.mapped != nil {
		err = mmap.Close(f.mapped)
		f.mapped = nil
	}
	if f.f != nil {
		if cerr := f.f.Close(); err == nil {
			err = cerr
		}
		f.f = nil
	}
	return err
}

// Dir is the directory containing the open file; "//"-relative paths
// resolve against it.
func (f *BlendFile) Dir() string {
	return filepath.Dir(f.Path)
}

// BlockByAddr resolves a saved memory address. Address 0 is never present.
func (f *BlendFile) BlockByAddr(addr uint64) *Block {
	return f.byAddr[addr]
}

// BlocksByCode returns all blocks with the given type code ("LI", "IM",
// "DNA1") in stream order.
func (f *BlendFile) BlocksByCode(code string) []*Block {
	return f.byCode[code]
}
