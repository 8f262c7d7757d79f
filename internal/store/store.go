// Package store wraps an ordered key-value engine (cockroachdb/pebble)
// behind the narrow interface the rest of the indexer needs: point lookups,
// prefix scans, atomic batch writes, durable flush, and full compaction.
// The engine itself is treated as a black box — callers never reach for
// pebble types directly.
package store

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cockroachdb/pebble"
	log "github.com/sirupsen/logrus"

	"github.com/BitcoinUnlimited/ElectrsCash/internal/rowcodec"
)

// Row is a single key/value pair.
type Row struct {
	Key   []byte
	Value []byte
}

// Store wraps a pebble database in bulk-import or serving mode.
type Store struct {
	db   *pebble.DB
	path string
	bulk bool
}

// Open opens (creating if necessary) the store at path. bulk selects the
// initial mode: true configures a large write buffer with automatic
// compactions disabled (optimized for sequential bulk-import throughput);
// false configures a smaller write buffer with compactions left on
// (optimized for random-access serving). On a brand-new directory the
// version marker is written and flushed before returning.
func Open(path string, bulk bool) (*Store, error) {
	opts := &pebble.Options{}
	if bulk {
		opts.MemTableSize = 256 << 20
		opts.DisableAutomaticCompactions = true
	} else {
		opts.MemTableSize = 64 << 20
	}

	_, statErr := os.Stat(path)
	isNew := os.IsNotExist(statErr)

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{db: db, path: path, bulk: bulk}

	if isNew {
		if err := s.Write([]Row{{Key: rowcodec.VersionKey, Value: []byte(rowcodec.DatabaseVersion)}}, true); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: write version marker: %w", err)
		}
		if err := s.Flush(); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: flush after create: %w", err)
		}
	}
	return s, nil
}

// IsCompatibleVersion reports whether the store's VER marker matches the
// version this binary understands. A brand new store has no VER marker and
// is not "compatible" by this check — callers should treat a missing
// marker on a non-empty directory as "destroy and reindex" per the index
// schema's lifecycle rules, but treat it as fine on an empty/new directory
// (handled by Open above, which writes the marker immediately).
func (s *Store) IsCompatibleVersion() bool {
	v, err := s.Get(rowcodec.VersionKey)
	if err != nil || v == nil {
		return false
	}
	return string(v) == rowcodec.DatabaseVersion
}

// IsFullyCompacted reports whether the F marker is present.
func (s *Store) IsFullyCompacted() bool {
	v, err := s.Get(rowcodec.FullyCompactedKey())
	return err == nil && v != nil
}

// Get returns the value for key, or (nil, nil) if absent.
func (s *Store) Get(key []byte) ([]byte, error) {
	v, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), v...)
	closer.Close()
	return out, nil
}

// prefixUpperBound returns the smallest key greater than every key with
// the given prefix, or nil if no such bound exists (prefix is all 0xFF).
func prefixUpperBound(prefix []byte) []byte {
	upper := append([]byte(nil), prefix...)
	for i := len(upper) - 1; i >= 0; i-- {
		if upper[i] != 0xFF {
			upper[i]++
			return upper[:i+1]
		}
	}
	return nil
}

// Scan returns every row whose key starts with prefix, in key order. ctx
// is checked periodically so long scans can be aborted by a deadline; an
// exceeded context aborts the scan and returns ctx.Err().
func (s *Store) Scan(ctx context.Context, prefix []byte) ([]Row, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var rows []Row
	n := 0
	for valid := iter.First(); valid; valid = iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		n++
		rows = append(rows, Row{
			Key:   append([]byte(nil), iter.Key()...),
			Value: append([]byte(nil), iter.Value()...),
		})
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return rows, nil
}

// Write atomically applies rows. When durable is false the write-ahead log
// entry is not synced to disk (acceptable for intermediate indexing
// batches; the caller is expected to Flush before relying on durability).
func (s *Store) Write(rows []Row, durable bool) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, r := range rows {
		if err := batch.Set(r.Key, r.Value, nil); err != nil {
			return err
		}
	}
	opts := pebble.NoSync
	if durable {
		opts = pebble.Sync
	}
	return batch.Commit(opts)
}

// Flush issues a durable barrier, forcing the active memtable to disk.
func (s *Store) Flush() error {
	return s.db.Flush()
}

// Compact performs a full-range (blocking) compaction.
func (s *Store) Compact() error {
	log.Info("store: starting full compaction")
	start := []byte{0x00}
	end := bytes.Repeat([]byte{0xFF}, 64)
	err := s.db.Compact(start, end, true)
	log.Info("store: finished full compaction")
	return err
}

// EnableCompaction transitions the store from bulk-import mode to serving
// mode. Pebble does not support hot-swapping DisableAutomaticCompactions on
// an open handle, so this only flips the flag BulkMode reports: automatic
// compactions stay off on a handle opened in bulk mode until it is
// reopened, and the compaction bulk mode deferred runs only when Compact
// is called.
func (s *Store) EnableCompaction() {
	s.bulk = false
}

// BulkMode reports whether the store currently believes it's in bulk-import
// mode.
func (s *Store) BulkMode() bool { return s.bulk }

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Destroy erases all storage under path. The store must not be open.
func Destroy(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	return os.RemoveAll(abs)
}

// MemoryStats reports pebble's approximate memtable and table-cache memory
// usage.
type MemoryStats struct {
	MemTableBytes uint64
	ReadersBytes  uint64
}

// Stats returns current pebble memory usage.
func (s *Store) Stats() MemoryStats {
	m := s.db.Metrics()
	return MemoryStats{
		MemTableBytes: uint64(m.MemTable.Size),
		ReadersBytes:  uint64(m.TableCache.Size),
	}
}
