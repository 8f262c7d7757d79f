// Package mempool tracks unconfirmed transactions mirrored from the full
// node's mempool, maintaining a script-hash index analogous to the
// confirmed on-disk index (so the query engine can serve unified
// confirmed+unconfirmed history) and a fee-rate histogram used to answer
// fee estimation requests that fall within the node's own estimate
// granularity.
package mempool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/BitcoinUnlimited/ElectrsCash/internal/rowcodec"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/store"
)

// vsizeBinWidth is the minimum accumulated virtual size, in vbytes, a fee
// histogram bucket must reach before it is closed and a new one started.
const vsizeBinWidth = 100_000

// errorMargin absorbs float64 rounding noise when comparing fee rates
// across accumulated entries (matches the historical float32 epsilon used
// by the reference fee histogram algorithm).
const errorMargin = 1.1920929e-7

// Entry is the tracker's view of one mempool transaction.
type Entry struct {
	Txid    rowcodec.FullHash
	VSize   uint64
	FeeSats uint64
	Time    int64
	Depends []rowcodec.FullHash

	scriptHashes []rowcodec.HashPrefix
	spends       []rowcodec.HashPrefix // prevout txid prefixes this tx spends
}

// FeeRate returns the entry's fee rate in satoshis per vbyte.
func (e Entry) FeeRate() float64 {
	if e.VSize == 0 {
		return 0
	}
	return float64(e.FeeSats) / float64(e.VSize)
}

// HistogramBin is one bucket of the electrum fee histogram: fee rate paid
// by the lowest-fee-rate transaction in the bucket, and the cumulative
// vsize of everything at or above that rate down to the previous bucket.
type HistogramBin struct {
	FeeRate float64
	VSize   uint64
}

// ConfirmationState classifies a transaction's relationship to the chain
// tip for the purposes of answering unconfirmed_get_history queries.
type ConfirmationState int

const (
	// Confirmed means the transaction has a TxConfirmedRow in the store.
	Confirmed ConfirmationState = iota
	// InMempool means the transaction is tracked, with every input
	// already confirmed.
	InMempool
	// UnconfirmedParent means the transaction is tracked, but at least
	// one of its inputs spends another unconfirmed transaction.
	UnconfirmedParent
	// Indeterminate means the transaction is not known to the tracker or
	// the store at all.
	Indeterminate
)

// NodeClient is the subset of the full-node RPC surface the tracker needs
// to keep its view of the mempool current.
type NodeClient interface {
	GetRawMempool(ctx context.Context) ([]rowcodec.FullHash, error)
	GetMempoolEntry(ctx context.Context, txid rowcodec.FullHash) (*NodeMempoolEntry, error)
}

// NodeMempoolEntry is the subset of `getmempoolentry` fields the tracker
// consumes, plus the decoded script hashes and prevout references the
// caller has already extracted from the raw transaction (the tracker
// itself does not deserialize wire transactions; that's the indexer's
// and query engine's job, shared via TxDecoder).
type NodeMempoolEntry struct {
	VSize        uint64
	FeeSats      uint64
	Time         int64
	Depends      []rowcodec.FullHash
	ScriptHashes []rowcodec.HashPrefix
	Spends       []rowcodec.HashPrefix
}

// Tracker maintains the current mempool snapshot.
type Tracker struct {
	mu           sync.RWMutex
	entries      map[rowcodec.FullHash]Entry
	byScriptHash map[rowcodec.HashPrefix]map[rowcodec.FullHash]struct{}
	byPrevTxid   map[rowcodec.HashPrefix]map[rowcodec.FullHash]struct{}
	histogram    []HistogramBin
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{
		entries:      make(map[rowcodec.FullHash]Entry),
		byScriptHash: make(map[rowcodec.HashPrefix]map[rowcodec.FullHash]struct{}),
		byPrevTxid:   make(map[rowcodec.HashPrefix]map[rowcodec.FullHash]struct{}),
	}
}

// Update reconciles the tracker's view with the node's current mempool:
// transactions no longer reported are dropped, newly reported ones are
// fetched via GetMempoolEntry and added, and the fee histogram is
// recomputed from the resulting entry set. It returns the symmetric
// difference of the old and new txid sets, i.e. every txid that either
// left or entered the tracker, for the caller to drive subscription
// fan-out from.
func (t *Tracker) Update(ctx context.Context, client NodeClient) ([]rowcodec.FullHash, error) {
	txids, err := client.GetRawMempool(ctx)
	if err != nil {
		return nil, fmt.Errorf("mempool: get raw mempool: %w", err)
	}
	current := make(map[rowcodec.FullHash]struct{}, len(txids))
	for _, id := range txids {
		current[id] = struct{}{}
	}

	t.mu.Lock()
	var removed []rowcodec.FullHash
	for id := range t.entries {
		if _, ok := current[id]; !ok {
			removed = append(removed, id)
		}
	}
	for _, id := range removed {
		t.removeLocked(id)
	}
	var toAdd []rowcodec.FullHash
	for id := range current {
		if _, ok := t.entries[id]; !ok {
			toAdd = append(toAdd, id)
		}
	}
	t.mu.Unlock()

	changed := append([]rowcodec.FullHash(nil), removed...)
	for _, id := range toAdd {
		if err := ctx.Err(); err != nil {
			return changed, err
		}
		me, err := client.GetMempoolEntry(ctx, id)
		if err != nil {
			// The transaction may have left the mempool between the
			// getrawmempool snapshot and this fetch; that's not fatal.
			continue
		}
		t.addLocked(Entry{
			Txid:         id,
			VSize:        me.VSize,
			FeeSats:      me.FeeSats,
			Time:         me.Time,
			Depends:      me.Depends,
			scriptHashes: me.ScriptHashes,
			spends:       me.Spends,
		})
		changed = append(changed, id)
	}

	t.mu.Lock()
	t.histogram = computeElectrumFees(t.entries)
	t.mu.Unlock()
	return changed, nil
}

func (t *Tracker) addLocked(e Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.Txid] = e
	for _, sh := range e.scriptHashes {
		set, ok := t.byScriptHash[sh]
		if !ok {
			set = make(map[rowcodec.FullHash]struct{})
			t.byScriptHash[sh] = set
		}
		set[e.Txid] = struct{}{}
	}
	for _, prev := range e.spends {
		set, ok := t.byPrevTxid[prev]
		if !ok {
			set = make(map[rowcodec.FullHash]struct{})
			t.byPrevTxid[prev] = set
		}
		set[e.Txid] = struct{}{}
	}
}

func (t *Tracker) removeLocked(id rowcodec.FullHash) {
	e, ok := t.entries[id]
	if !ok {
		return
	}
	delete(t.entries, id)
	for _, sh := range e.scriptHashes {
		set := t.byScriptHash[sh]
		delete(set, id)
		if len(set) == 0 {
			delete(t.byScriptHash, sh)
		}
	}
	for _, prev := range e.spends {
		set := t.byPrevTxid[prev]
		delete(set, id)
		if len(set) == 0 {
			delete(t.byPrevTxid, prev)
		}
	}
}

// Get returns the tracked entry for txid, if present.
func (t *Tracker) Get(txid rowcodec.FullHash) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[txid]
	return e, ok
}

// Len returns the number of tracked transactions.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// ByScriptHash returns every tracked txid with an output whose script hash
// prefix is prefix. Inputs are not indexed here (see SpentBy).
func (t *Tracker) ByScriptHash(prefix rowcodec.HashPrefix) []rowcodec.FullHash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := t.byScriptHash[prefix]
	out := make([]rowcodec.FullHash, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// SpentBy returns every tracked txid that spends an output of the
// transaction whose txid prefix is prevTxidPrefix. Since Entry only
// records prevout txid prefixes rather than specific vouts, a result here
// means "this prefix is spent somewhere in this tx's inputs", not
// necessarily the exact vout the caller has in mind; callers that need
// vout precision must decode the candidate transaction and check.
func (t *Tracker) SpentBy(prevTxidPrefix rowcodec.HashPrefix) []rowcodec.FullHash {
	t.mu.RLock()
	defer t.mu.RUnlock()
	set := t.byPrevTxid[prevTxidPrefix]
	out := make([]rowcodec.FullHash, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Histogram returns a snapshot of the current electrum fee histogram.
func (t *Tracker) Histogram() []HistogramBin {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]HistogramBin, len(t.histogram))
	copy(out, t.histogram)
	return out
}

// computeElectrumFees builds the fee-rate histogram the way electrum
// servers have historically reported it: entries are walked from highest
// fee rate to lowest, accumulating vsize into the current bucket; once a
// bucket has accumulated at least vsizeBinWidth AND the fee rate has
// moved beyond errorMargin from the previous entry's rate, the bucket is
// closed (recorded at the lowest fee rate it contained) and a new one
// begins. Any remainder is flushed as a final partial bucket.
func computeElectrumFees(entries map[rowcodec.FullHash]Entry) []HistogramBin {
	if len(entries) == 0 {
		return nil
	}
	sorted := make([]Entry, 0, len(entries))
	for _, e := range entries {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].FeeRate() > sorted[j].FeeRate()
	})

	var bins []HistogramBin
	var binSize uint64
	lastFeeRate := sorted[0].FeeRate()

	for _, e := range sorted {
		rate := e.FeeRate()
		if binSize >= vsizeBinWidth && diffExceedsMargin(rate, lastFeeRate) {
			bins = append(bins, HistogramBin{FeeRate: lastFeeRate, VSize: binSize})
			binSize = 0
		}
		binSize += e.VSize
		lastFeeRate = rate
	}
	if binSize > 0 {
		bins = append(bins, HistogramBin{FeeRate: lastFeeRate, VSize: binSize})
	}
	return bins
}

func diffExceedsMargin(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d > errorMargin
}

// TxConfirmationState reports how txid relates to the confirmed chain and
// the tracked mempool, consulting s for confirmation and walking each
// tracked input's Depends list for unconfirmed-parent detection.
func TxConfirmationState(t *Tracker, s *store.Store, txid rowcodec.FullHash) (ConfirmationState, error) {
	prefix := rowcodec.HashPrefixOf(txid[:])
	rows, err := s.Scan(context.Background(), rowcodec.TxScanPrefix(prefix))
	if err != nil {
		return Indeterminate, err
	}
	for _, r := range rows {
		row, err := rowcodec.DecodeTxConfirmedRow(r.Key, r.Value)
		if err == nil && row.Txid == txid {
			return Confirmed, nil
		}
	}

	e, ok := t.Get(txid)
	if !ok {
		return Indeterminate, nil
	}
	for _, dep := range e.Depends {
		if _, stillPending := t.Get(dep); stillPending {
			return UnconfirmedParent, nil
		}
	}
	return InMempool, nil
}
