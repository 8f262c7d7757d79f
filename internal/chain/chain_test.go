package chain

import (
	"testing"

	"github.com/BitcoinUnlimited/ElectrsCash/internal/rowcodec"
)

func mkEntry(b byte) Entry {
	var h rowcodec.FullHash
	for i := range h {
		h[i] = b
	}
	return Entry{Hash: h, Header: []byte{b}}
}

func TestAppendAndTip(t *testing.T) {
	l := New()
	if l.Len() != 0 {
		t.Fatalf("new list should be empty")
	}
	if _, ok := l.TipHash(); ok {
		t.Fatalf("empty list should have no tip")
	}

	for i := byte(0); i < 5; i++ {
		if err := l.Append(mkEntry(i)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if l.Len() != 5 {
		t.Fatalf("len = %d, want 5", l.Len())
	}
	if l.TipHeight() != 4 {
		t.Fatalf("tip height = %d, want 4", l.TipHeight())
	}
	tip, ok := l.TipHash()
	if !ok || tip != mkEntry(4).Hash {
		t.Fatalf("unexpected tip hash")
	}
}

func TestHeaderByHeightAndHash(t *testing.T) {
	l := New()
	for i := byte(0); i < 3; i++ {
		l.Append(mkEntry(i))
	}
	e, ok := l.HeaderByHeight(1)
	if !ok || e.Hash != mkEntry(1).Hash {
		t.Fatalf("unexpected header at height 1")
	}
	if _, ok := l.HeaderByHeight(99); ok {
		t.Fatalf("expected out-of-range height to miss")
	}

	h, ok := l.HeaderByHash(mkEntry(2).Hash)
	if !ok || h != 2 {
		t.Fatalf("unexpected height for hash lookup: %d %v", h, ok)
	}
	if _, ok := l.HeaderByHash(mkEntry(99).Hash); ok {
		t.Fatalf("expected unknown hash to miss")
	}
}

func TestRollback(t *testing.T) {
	l := New()
	for i := byte(0); i < 10; i++ {
		l.Append(mkEntry(i))
	}
	if err := l.Rollback(4); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if l.TipHeight() != 4 {
		t.Fatalf("tip height after rollback = %d, want 4", l.TipHeight())
	}
	if err := l.Rollback(100); err == nil {
		t.Fatalf("expected out-of-range rollback to fail")
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	l := New()
	l.Append(mkEntry(1))
	snap := l.Snapshot()
	l.Append(mkEntry(2))
	if len(snap) != 1 {
		t.Fatalf("snapshot should not observe later appends, len=%d", len(snap))
	}
}
