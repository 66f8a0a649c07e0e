// Package tracecache persists trace results across runs of a consumer
// (a packer, a render-farm submitter), keyed by blend file path and
// invalidated by file modification time and size.
//
// The cache is caller-owned and lives entirely outside the parsing core:
// blenddeps itself stays stateless across Open calls.
//
// Value format: fixed 8-byte fingerprint (xxhash64 over path, mtime in
// nanoseconds and size), then msgpack of the usage records.
package tracecache

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/vmihailenco/msgpack/v5"
	"go.etcd.io/bbolt"

	"github.com/andreyvit/blenddeps"
)

const usagesBucket = "usages"

// Options configures Open.
type Options struct {
	Logger    *slog.Logger
	IsTesting bool // skip fsync, small initial mmap
}

// Cache is a persistent map from blend file paths to traced usage records.
// Safe for concurrent use.
type Cache struct {
	bdb    *bbolt.DB
	logger *slog.Logger
}

// Open opens or creates a cache file.
func Open(path string, opt Options) (*Cache, error) {
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}

	bopt := *bbolt.DefaultOptions
	bopt.Timeout = 10 * time.Second
	if opt.IsTesting {
		bopt.NoSync = true
		bopt.NoFreelistSync = true
	}

	bdb, err := bbolt.Open(path, 0o666, &bopt)
	if err != nil {
		return nil, fmt.Errorf("tracecache: %w", err)
	}

	err = bdb.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(usagesBucket))
		return err
	})
	if err != nil {
		bdb.Close()
		return nil, fmt.Errorf("tracecache: %w", err)
	}

	return &Cache{bdb: bdb, logger: opt.Logger}, nil
}

func (c *Cache) Close() error {
	return c.bdb.Close()
}

// fingerprint is the invalidation key: a stale entry is one whose stored
// fingerprint no longer matches the file on disk.
func fingerprint(path string, st os.FileInfo) uint64 {
	var h xxhash.Digest
	h.Reset()
	h.WriteString(path)
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(st.ModTime().UnixNano()))
	binary.LittleEndian.PutUint64(buf[8:], uint64(st.Size()))
	h.Write(buf[:])
	return h.Sum64()
}

// Get returns the cached trace for blendPath if the file still matches the
// fingerprint captured at Put time. A missing file, missing entry or stale
// fingerprint all report a miss.
func (c *Cache) Get(blendPath string) ([]blenddeps.Usage, bool) {
	st, err := os.Stat(blendPath)
	if err != nil {
		return nil, false
	}
	want := fingerprint(blendPath, st)

	var usages []blenddeps.Usage
	found := false
	err = c.bdb.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(usagesBucket)).Get([]byte(blendPath))
		if len(v) < 8 {
			return nil
		}
		if binary.BigEndian.Uint64(v[:8]) != want {
			return nil
		}
		if err := msgpack.Unmarshal(v[8:], &usages); err != nil {
			return fmt.Errorf("entry for %s: %w", blendPath, err)
		}
		found = true
		return nil
	})
	if err != nil {
		c.logger.Warn("tracecache: discarding unreadable entry", slog.String("path", blendPath), slog.Any("err", err))
		return nil, false
	}
	return usages, found
}

// Put stores the trace for blendPath under the file's current fingerprint.
func (c *Cache) Put(blendPath string, usages []blenddeps.Usage) error {
	st, err := os.Stat(blendPath)
	if err != nil {
		return fmt.Errorf("tracecache: %w", err)
	}

	data, err := msgpack.Marshal(usages)
	if err != nil {
		return fmt.Errorf("tracecache: %w", err)
	}
	buf := make([]byte, 8+len(data))
	binary.BigEndian.PutUint64(buf[:8], fingerprint(blendPath, st))
	copy(buf[8:], data)

	return c.bdb.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(usagesBucket)).Put([]byte(blendPath), buf)
	})
}

// Invalidate drops the entry for blendPath, if any.
func (c *Cache) Invalidate(blendPath string) error {
	return c.bdb.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(usagesBucket)).Delete([]byte(blendPath))
	})
}
