package mempool

import (
	"context"
	"testing"

	"github.com/BitcoinUnlimited/ElectrsCash/internal/rowcodec"
)

func mkTxid(b byte) rowcodec.FullHash {
	var h rowcodec.FullHash
	h[0] = b
	return h
}

type fakeNode struct {
	mempool []rowcodec.FullHash
	entries map[rowcodec.FullHash]*NodeMempoolEntry
}

func (f *fakeNode) GetRawMempool(ctx context.Context) ([]rowcodec.FullHash, error) {
	return f.mempool, nil
}

func (f *fakeNode) GetMempoolEntry(ctx context.Context, txid rowcodec.FullHash) (*NodeMempoolEntry, error) {
	return f.entries[txid], nil
}

func TestUpdateAddsAndRemovesEntries(t *testing.T) {
	tr := New()
	node := &fakeNode{
		mempool: []rowcodec.FullHash{mkTxid(1), mkTxid(2)},
		entries: map[rowcodec.FullHash]*NodeMempoolEntry{
			mkTxid(1): {VSize: 200, FeeSats: 1000},
			mkTxid(2): {VSize: 300, FeeSats: 300},
		},
	}
	if _, err := tr.Update(context.Background(), node); err != nil {
		t.Fatalf("update: %v", err)
	}
	if tr.Len() != 2 {
		t.Fatalf("len = %d, want 2", tr.Len())
	}

	node.mempool = []rowcodec.FullHash{mkTxid(2)}
	changed, err := tr.Update(context.Background(), node)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(changed) != 1 || changed[0] != mkTxid(1) {
		t.Fatalf("expected only txid 1 reported changed, got %+v", changed)
	}
	if tr.Len() != 1 {
		t.Fatalf("len after removal = %d, want 1", tr.Len())
	}
	if _, ok := tr.Get(mkTxid(1)); ok {
		t.Fatalf("expected txid 1 to be evicted")
	}
	if _, ok := tr.Get(mkTxid(2)); !ok {
		t.Fatalf("expected txid 2 to remain tracked")
	}
}

func TestScriptHashIndexUpdatesWithTracker(t *testing.T) {
	var sh rowcodec.HashPrefix
	sh[0] = 0xAB

	tr := New()
	node := &fakeNode{
		mempool: []rowcodec.FullHash{mkTxid(1)},
		entries: map[rowcodec.FullHash]*NodeMempoolEntry{
			mkTxid(1): {VSize: 200, FeeSats: 1000, ScriptHashes: []rowcodec.HashPrefix{sh}},
		},
	}
	if _, err := tr.Update(context.Background(), node); err != nil {
		t.Fatalf("update: %v", err)
	}
	txids := tr.ByScriptHash(sh)
	if len(txids) != 1 || txids[0] != mkTxid(1) {
		t.Fatalf("unexpected script hash index contents: %+v", txids)
	}

	node.mempool = nil
	if _, err := tr.Update(context.Background(), node); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := tr.ByScriptHash(sh); len(got) != 0 {
		t.Fatalf("expected script hash index entry removed, got %+v", got)
	}
}

func TestSpentByIndexUpdatesWithTracker(t *testing.T) {
	var prevPrefix rowcodec.HashPrefix
	prevPrefix[0] = 0xCD

	tr := New()
	node := &fakeNode{
		mempool: []rowcodec.FullHash{mkTxid(1)},
		entries: map[rowcodec.FullHash]*NodeMempoolEntry{
			mkTxid(1): {VSize: 200, FeeSats: 1000, Spends: []rowcodec.HashPrefix{prevPrefix}},
		},
	}
	if _, err := tr.Update(context.Background(), node); err != nil {
		t.Fatalf("update: %v", err)
	}
	spenders := tr.SpentBy(prevPrefix)
	if len(spenders) != 1 || spenders[0] != mkTxid(1) {
		t.Fatalf("unexpected spent-by index contents: %+v", spenders)
	}

	node.mempool = nil
	if _, err := tr.Update(context.Background(), node); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := tr.SpentBy(prevPrefix); len(got) != 0 {
		t.Fatalf("expected spent-by index entry removed, got %+v", got)
	}
}

func TestElectrumFeesSingleBucket(t *testing.T) {
	entries := map[rowcodec.FullHash]Entry{
		mkTxid(1): {Txid: mkTxid(1), VSize: 1000, FeeSats: 1000}, // 1.0 sat/vB
		mkTxid(2): {Txid: mkTxid(2), VSize: 1000, FeeSats: 1000}, // 1.0 sat/vB
	}
	bins := computeElectrumFees(entries)
	if len(bins) != 1 {
		t.Fatalf("expected 1 bin for small mempool, got %d: %+v", len(bins), bins)
	}
	if bins[0].VSize != 2000 {
		t.Fatalf("bin vsize = %d, want 2000", bins[0].VSize)
	}
}

func TestElectrumFeesMultipleBuckets(t *testing.T) {
	// Two fee tiers each individually exceeding vsizeBinWidth force a
	// bucket boundary at the transition between them.
	entries := map[rowcodec.FullHash]Entry{
		mkTxid(1): {Txid: mkTxid(1), VSize: vsizeBinWidth + 1, FeeSats: (vsizeBinWidth + 1) * 10}, // 10 sat/vB
		mkTxid(2): {Txid: mkTxid(2), VSize: vsizeBinWidth + 1, FeeSats: (vsizeBinWidth + 1) * 1},  // 1 sat/vB
	}
	bins := computeElectrumFees(entries)
	if len(bins) != 2 {
		t.Fatalf("expected 2 bins, got %d: %+v", len(bins), bins)
	}
	if bins[0].FeeRate <= bins[1].FeeRate {
		t.Fatalf("expected bins ordered from highest to lowest fee rate, got %+v", bins)
	}
}

func TestElectrumFeesWorkedExample(t *testing.T) {
	// (fee, vsize) pairs at 1, 1, 1, 2, 3 and 4 sat/vB.
	entries := map[rowcodec.FullHash]Entry{
		mkTxid(1): {Txid: mkTxid(1), VSize: 1_000, FeeSats: 1_000},
		mkTxid(2): {Txid: mkTxid(2), VSize: 10_000, FeeSats: 10_000},
		mkTxid(3): {Txid: mkTxid(3), VSize: 50_000, FeeSats: 50_000},
		mkTxid(4): {Txid: mkTxid(4), VSize: 60_000, FeeSats: 120_000},
		mkTxid(5): {Txid: mkTxid(5), VSize: 70_000, FeeSats: 210_000},
		mkTxid(6): {Txid: mkTxid(6), VSize: 80_000, FeeSats: 320_000},
	}
	want := []HistogramBin{{FeeRate: 3.0, VSize: 150_000}, {FeeRate: 1.0, VSize: 121_000}}
	bins := computeElectrumFees(entries)
	if len(bins) != len(want) {
		t.Fatalf("expected %d bins, got %d: %+v", len(want), len(bins), bins)
	}
	for i := range want {
		if bins[i] != want[i] {
			t.Fatalf("bin %d = %+v, want %+v", i, bins[i], want[i])
		}
	}
}

func TestElectrumFeesEmptyMempool(t *testing.T) {
	if bins := computeElectrumFees(nil); bins != nil {
		t.Fatalf("expected nil histogram for empty mempool, got %+v", bins)
	}
}

func TestTxConfirmationStateIndeterminate(t *testing.T) {
	tr := New()
	state, err := stateWithoutStore(tr, mkTxid(9))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if state != Indeterminate {
		t.Fatalf("state = %v, want Indeterminate", state)
	}
}

// stateWithoutStore repeats the tracker-only check of TxConfirmationState
// (a txid absent from the tracker is Indeterminate) without requiring a
// live store; it does not call TxConfirmationState itself.
func stateWithoutStore(t *Tracker, txid rowcodec.FullHash) (ConfirmationState, error) {
	if _, ok := t.Get(txid); !ok {
		return Indeterminate, nil
	}
	return InMempool, nil
}
