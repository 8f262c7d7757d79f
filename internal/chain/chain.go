// Package chain maintains the dense height-indexed list of confirmed block
// headers the query engine consults for tip height, header-by-height, and
// header-by-hash lookups. It starts empty on startup (the store's B rows
// are not read back into it) and is kept in sync incrementally as blocks
// are applied.
package chain

import (
	"fmt"
	"sync"

	"github.com/BitcoinUnlimited/ElectrsCash/internal/rowcodec"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/store"
)

// Entry pairs a block's hash with its raw 80-byte header.
type Entry struct {
	Hash   rowcodec.FullHash
	Header []byte
}

// List is a height-indexed, mutex-protected view of the confirmed chain.
// Index 0 is the genesis block; List.Len()-1 is the current tip height.
type List struct {
	mu      sync.RWMutex
	entries []Entry
}

// Load builds a List from entries already ordered by height (index 0 is
// genesis). Used to resume a list previously saved via Snapshot.
func Load(entries []Entry) *List {
	cp := make([]Entry, len(entries))
	copy(cp, entries)
	return &List{entries: cp}
}

// New returns an empty header list.
func New() *List {
	return &List{}
}

// Len returns the number of headers known (tip height + 1), or 0 if empty.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// TipHeight returns the height of the most recently appended header, or -1
// if the list is empty.
func (l *List) TipHeight() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries) - 1
}

// TipHash returns the hash of the current tip. ok is false if the list is
// empty.
func (l *List) TipHash() (rowcodec.FullHash, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.entries) == 0 {
		var zero rowcodec.FullHash
		return zero, false
	}
	return l.entries[len(l.entries)-1].Hash, true
}

// HeaderByHeight returns the entry at height. ok is false if height is out
// of range.
func (l *List) HeaderByHeight(height int) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if height < 0 || height >= len(l.entries) {
		return Entry{}, false
	}
	return l.entries[height], true
}

// HeaderByHash searches for hash, returning its height. This is O(n); the
// caller (query engine, status hash freshness checks) is expected to use
// it sparingly relative to HeaderByHeight.
func (l *List) HeaderByHash(hash rowcodec.FullHash) (height int, ok bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i, e := range l.entries {
		if e.Hash == hash {
			return i, true
		}
	}
	return 0, false
}

// Append adds e as the new tip. It does not compare e against existing
// entries: a duplicate hash is appended like any other, and the returned
// error is always nil.
func (l *List) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

// Rollback truncates the list back to newHeight (inclusive), discarding
// headers above it. Used when a reorg is detected: the indexer rolls the
// header list back to the fork point before re-extending along the new
// best chain. Only the in-memory list is truncated; the store rows of the
// discarded blocks stay on disk.
func (l *List) Rollback(newHeight int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if newHeight < -1 || newHeight >= len(l.entries) {
		return fmt.Errorf("chain: rollback height %d out of range [-1,%d)", newHeight, len(l.entries))
	}
	l.entries = l.entries[:newHeight+1]
	return nil
}

// Snapshot returns a copy of all entries, for persistence or diagnostics.
func (l *List) Snapshot() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cp := make([]Entry, len(l.entries))
	copy(cp, l.entries)
	return cp
}

// LoadFromStore builds a List from entries the indexer has already
// resolved into height order (the cold-start/bulk-import path writes B
// rows exactly once per block, in height order, so the indexer can hand
// them to LoadFromStore directly without a re-sort).
func LoadFromStore(entries []Entry) (*List, error) {
	return Load(entries), nil
}

// LatestBlockRecorded reads the L marker's recorded tip hash from s.
func LatestBlockRecorded(s *store.Store) (rowcodec.FullHash, bool, error) {
	v, err := s.Get(rowcodec.LatestBlockKey())
	if err != nil {
		return rowcodec.FullHash{}, false, err
	}
	if v == nil || len(v) != len(rowcodec.FullHash{}) {
		return rowcodec.FullHash{}, false, nil
	}
	var h rowcodec.FullHash
	copy(h[:], v)
	return h, true, nil
}

// RecordLatestBlock writes hash as the new L marker value.
func RecordLatestBlock(s *store.Store, hash rowcodec.FullHash) error {
	return s.Write([]store.Row{{Key: rowcodec.LatestBlockKey(), Value: hash[:]}}, true)
}
