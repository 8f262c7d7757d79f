// Package query answers the read-side operations the RPC layer exposes:
// script-hash history and status, balances, first-use, merkle proofs, and
// fee estimation. Every operation accepts a context.Context and checks it
// at scan boundaries so a slow query can be aborted once its deadline
// passes, rather than running to completion regardless of the caller's
// patience.
package query

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/wire"

	"github.com/BitcoinUnlimited/ElectrsCash/internal/cache"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/chain"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/indexer"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/mempool"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/metrics"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/node"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/rowcodec"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/store"
)

// HistoryEntry is one transaction touching a script hash, with its
// confirmation height (rowcodec.MempoolHeight for unconfirmed).
// UnconfirmedParent is set when the transaction is itself unconfirmed and
// at least one of its own inputs spends another still-unconfirmed
// transaction — the Electrum protocol reports this case as height -1
// rather than the usual 0.
type HistoryEntry struct {
	Txid              rowcodec.FullHash
	Height            uint32
	UnconfirmedParent bool
}

// Unspent is one UTXO funding a script hash.
type Unspent struct {
	Txid   rowcodec.FullHash
	Vout   uint32
	Value  uint64
	Height uint32
}

// MerkleProof is a transaction's inclusion proof within its confirming
// block.
type MerkleProof struct {
	BlockHeight int
	Position    int
	Merkle      []rowcodec.FullHash
}

// Engine answers read queries against the store, header list, mempool
// tracker, and a small raw-transaction cache.
type Engine struct {
	store   Store
	chain   *chain.List
	mempool *mempool.Tracker
	node    node.Client
	txCache *cache.Sized[rowcodec.FullHash, []byte]
}

// Store is the subset of *store.Store the query engine needs; declared
// locally so tests can substitute an in-memory fake.
type Store interface {
	Get(key []byte) ([]byte, error)
	Scan(ctx context.Context, prefix []byte) ([]store.Row, error)
}

// New returns a query Engine. txCacheBytes bounds the raw-transaction
// cache's byte capacity.
func New(s Store, c *chain.List, mp *mempool.Tracker, n node.Client, txCacheBytes uint64, m *metrics.Metrics) *Engine {
	return &Engine{
		store:   s,
		chain:   c,
		mempool: mp,
		node:    n,
		txCache: cache.New[rowcodec.FullHash, []byte](txCacheBytes, "tx", m),
	}
}

// GetHistory returns every confirmed and unconfirmed transaction touching
// scriptHash — both the transactions that fund it and those that spend
// those funds — ordered by height (genesis-first, mempool last) and then
// by txid.
func (e *Engine) GetHistory(ctx context.Context, scriptHash rowcodec.FullHash) ([]HistoryEntry, error) {
	prefix := rowcodec.HashPrefixOf(scriptHash[:])

	type touch struct {
		height            uint32
		unconfirmedParent bool
	}
	seen := make(map[rowcodec.FullHash]touch)

	addMempoolTxid := func(txid rowcodec.FullHash) {
		if _, already := seen[txid]; already {
			return
		}
		entry, ok := e.mempool.Get(txid)
		if !ok {
			return
		}
		unconfirmedParent := false
		for _, dep := range entry.Depends {
			if _, stillPending := e.mempool.Get(dep); stillPending {
				unconfirmedParent = true
				break
			}
		}
		seen[txid] = touch{height: rowcodec.MempoolHeight, unconfirmedParent: unconfirmedParent}
	}

	rows, err := e.store.Scan(ctx, rowcodec.OutputScanPrefix(prefix))
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out, err := rowcodec.DecodeTxOutputRow(r.Key)
		if err != nil {
			continue
		}

		// The confirmed transaction that funded this output.
		txid, height, ok, err := e.resolveConfirmedTxid(ctx, out.TxidPrefix)
		if err != nil {
			return nil, err
		}
		if ok {
			seen[txid] = touch{height: height}
		}

		// Any confirmed transaction that spent this funding output.
		spentRows, err := e.store.Scan(ctx, rowcodec.InputScanPrefix(out.TxidPrefix, out.OutputIndex))
		if err != nil {
			return nil, err
		}
		for _, sr := range spentRows {
			in, err := rowcodec.DecodeTxInputRow(sr.Key)
			if err != nil {
				continue
			}
			spenderTxid, spenderHeight, ok, err := e.resolveConfirmedTxid(ctx, in.SpenderTxidPrefix)
			if err != nil {
				return nil, err
			}
			if ok {
				seen[spenderTxid] = touch{height: spenderHeight}
			}
		}

		// Any mempool transaction that spent this confirmed funding output.
		for _, spender := range e.mempool.SpentBy(out.TxidPrefix) {
			addMempoolTxid(spender)
		}
	}

	// Mempool-funded outputs, and anything in the mempool that spends them.
	for _, txid := range e.mempool.ByScriptHash(prefix) {
		addMempoolTxid(txid)
		for _, spender := range e.mempool.SpentBy(rowcodec.HashPrefixOf(txid[:])) {
			addMempoolTxid(spender)
		}
	}

	out := make([]HistoryEntry, 0, len(seen))
	for txid, t := range seen {
		out = append(out, HistoryEntry{Txid: txid, Height: t.height, UnconfirmedParent: t.unconfirmedParent})
	}
	sortHistory(out)
	return out, nil
}

func sortHistory(entries []HistoryEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Height != entries[j].Height {
			return entries[i].Height < entries[j].Height
		}
		return bytesLess(entries[i].Txid[:], entries[j].Txid[:])
	})
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// GetStatus returns the Electrum status hash for scriptHash: the
// single-SHA256 digest of "txid:height:" concatenated for every history
// entry in order, or nil if the script hash has no history at all.
func (e *Engine) GetStatus(ctx context.Context, scriptHash rowcodec.FullHash) ([]byte, error) {
	history, err := e.GetHistory(ctx, scriptHash)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, nil
	}
	var buf []byte
	for _, h := range history {
		buf = append(buf, fmt.Sprintf("%x:%d:", reverseHash(h.Txid), ElectrumHistoryHeight(h.Height, h.UnconfirmedParent))...)
	}
	sum := sha256.Sum256(buf)
	return sum[:], nil
}

// ElectrumHistoryHeight maps a HistoryEntry's height to the Electrum
// protocol's history/status convention: 0 for an unconfirmed transaction
// whose inputs are all themselves confirmed, -1 for an unconfirmed
// transaction with an unconfirmed parent still in the mempool.
func ElectrumHistoryHeight(h uint32, unconfirmedParent bool) int64 {
	if h == rowcodec.MempoolHeight {
		if unconfirmedParent {
			return -1
		}
		return 0
	}
	return int64(h)
}

// electrumHeight maps the internal mempool sentinel to the Electrum
// protocol's "0" convention, for contexts (listunspent, utxo.get) that
// don't distinguish an unconfirmed parent.
func electrumHeight(h uint32) int64 {
	if h == rowcodec.MempoolHeight {
		return 0
	}
	return int64(h)
}

func reverseHash(h rowcodec.FullHash) rowcodec.FullHash {
	var out rowcodec.FullHash
	for i := range h {
		out[i] = h[len(h)-1-i]
	}
	return out
}

// GetBalance sums confirmed and unconfirmed unspent output value for
// scriptHash.
func (e *Engine) GetBalance(ctx context.Context, scriptHash rowcodec.FullHash) (confirmed, unconfirmed int64, err error) {
	unspent, err := e.ListUnspent(ctx, scriptHash)
	if err != nil {
		return 0, 0, err
	}
	for _, u := range unspent {
		if u.Height == rowcodec.MempoolHeight {
			unconfirmed += int64(u.Value)
		} else {
			confirmed += int64(u.Value)
		}
	}
	return confirmed, unconfirmed, nil
}

// ListUnspent returns every output funding scriptHash that has not been
// spent by a known confirmed or mempool transaction: the confirmed O rows
// funding it (minus outpoints covered by an I row or a mempool spend),
// plus any still-unspent mempool-funded output.
func (e *Engine) ListUnspent(ctx context.Context, scriptHash rowcodec.FullHash) ([]Unspent, error) {
	prefix := rowcodec.HashPrefixOf(scriptHash[:])
	rows, err := e.store.Scan(ctx, rowcodec.OutputScanPrefix(prefix))
	if err != nil {
		return nil, err
	}

	var out []Unspent
	for _, r := range rows {
		o, err := rowcodec.DecodeTxOutputRow(r.Key)
		if err != nil {
			continue
		}
		txid, height, ok, err := e.resolveConfirmedTxid(ctx, o.TxidPrefix)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		spentRows, err := e.store.Scan(ctx, rowcodec.InputScanPrefix(o.TxidPrefix, o.OutputIndex))
		if err != nil {
			return nil, err
		}
		if len(spentRows) > 0 {
			continue
		}
		if len(e.mempool.SpentBy(o.TxidPrefix)) > 0 {
			continue
		}

		out = append(out, Unspent{Txid: txid, Vout: o.OutputIndex, Value: o.ValueSats, Height: height})
	}

	mempoolUnspent, err := e.mempoolUnspent(ctx, scriptHash, prefix)
	if err != nil {
		return nil, err
	}
	out = append(out, mempoolUnspent...)
	return out, nil
}

// mempoolUnspent decodes every mempool-funded transaction touching
// scriptHash and returns its not-yet-spent outputs paying scriptHash.
// Mempool entries don't carry per-output vout/value, only the set of
// script hash prefixes they touch, so the funding transaction itself must
// be fetched and decoded to recover that detail.
func (e *Engine) mempoolUnspent(ctx context.Context, scriptHash rowcodec.FullHash, prefix rowcodec.HashPrefix) ([]Unspent, error) {
	var out []Unspent
	for _, txid := range e.mempool.ByScriptHash(prefix) {
		if _, ok := e.mempool.Get(txid); !ok {
			continue
		}
		raw, err := e.GetTransaction(ctx, txid)
		if err != nil {
			continue
		}
		var tx wire.MsgTx
		if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
			continue
		}
		txidPrefix := rowcodec.HashPrefixOf(txid[:])
		if len(e.mempool.SpentBy(txidPrefix)) > 0 {
			continue
		}
		for vout, o := range tx.TxOut {
			if rowcodec.ComputeScriptHash(o.PkScript) != scriptHash {
				continue
			}
			out = append(out, Unspent{Txid: txid, Vout: uint32(vout), Value: uint64(o.Value), Height: rowcodec.MempoolHeight})
		}
	}
	return out, nil
}

// GetFirstUse returns the earliest transaction that paid scriptHash:
// confirmed history is checked first (the lowest-height candidate whose
// decoded outputs actually contain scriptHash, since the O-row index is
// only keyed by an 8-byte prefix), falling back to the mempool, ordered
// by the time each entry was first seen, when no confirmed funding exists.
func (e *Engine) GetFirstUse(ctx context.Context, scriptHash rowcodec.FullHash) (height uint32, txid rowcodec.FullHash, found bool, err error) {
	prefix := rowcodec.HashPrefixOf(scriptHash[:])

	rows, err := e.store.Scan(ctx, rowcodec.OutputScanPrefix(prefix))
	if err != nil {
		return 0, rowcodec.FullHash{}, false, err
	}
	type candidate struct {
		txid   rowcodec.FullHash
		height uint32
	}
	var confirmed []candidate
	seenConfirmed := make(map[rowcodec.FullHash]struct{})
	for _, r := range rows {
		out, err := rowcodec.DecodeTxOutputRow(r.Key)
		if err != nil {
			continue
		}
		cTxid, cHeight, ok, err := e.resolveConfirmedTxid(ctx, out.TxidPrefix)
		if err != nil {
			return 0, rowcodec.FullHash{}, false, err
		}
		if !ok {
			continue
		}
		if _, already := seenConfirmed[cTxid]; already {
			continue
		}
		seenConfirmed[cTxid] = struct{}{}
		confirmed = append(confirmed, candidate{txid: cTxid, height: cHeight})
	}
	sort.Slice(confirmed, func(i, j int) bool { return confirmed[i].height < confirmed[j].height })
	for _, c := range confirmed {
		funds, err := e.txFundsScriptHash(ctx, c.txid, scriptHash)
		if err != nil {
			return 0, rowcodec.FullHash{}, false, err
		}
		if funds {
			return c.height, c.txid, true, nil
		}
	}

	var mempoolCandidates []rowcodec.FullHash
	for _, id := range e.mempool.ByScriptHash(prefix) {
		mempoolCandidates = append(mempoolCandidates, id)
	}
	sort.Slice(mempoolCandidates, func(i, j int) bool {
		a, _ := e.mempool.Get(mempoolCandidates[i])
		b, _ := e.mempool.Get(mempoolCandidates[j])
		return a.Time < b.Time
	})
	for _, id := range mempoolCandidates {
		funds, err := e.txFundsScriptHash(ctx, id, scriptHash)
		if err != nil {
			return 0, rowcodec.FullHash{}, false, err
		}
		if funds {
			return rowcodec.MempoolHeight, id, true, nil
		}
	}

	return 0, rowcodec.FullHash{}, false, nil
}

// txFundsScriptHash decodes txid and reports whether any of its outputs
// pays the full scriptHash (not merely a prefix match).
func (e *Engine) txFundsScriptHash(ctx context.Context, txid rowcodec.FullHash, scriptHash rowcodec.FullHash) (bool, error) {
	raw, err := e.GetTransaction(ctx, txid)
	if err != nil {
		return false, err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return false, fmt.Errorf("query: decode transaction %x: %w", txid, err)
	}
	for _, o := range tx.TxOut {
		if rowcodec.ComputeScriptHash(o.PkScript) == scriptHash {
			return true, nil
		}
	}
	return false, nil
}

// TouchedScriptHashes returns every script hash txid either funds or
// spends from: the union of its own outputs' script hashes and the
// script hashes of the outputs its inputs reference, fetching the
// referenced previous transactions as needed. Coinbase inputs (an
// all-zero previous txid) have no prevout to resolve and are skipped.
func (e *Engine) TouchedScriptHashes(ctx context.Context, txid rowcodec.FullHash) ([]rowcodec.FullHash, error) {
	raw, err := e.GetTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("query: decode transaction %x: %w", txid, err)
	}

	seen := make(map[rowcodec.FullHash]struct{})
	for _, o := range tx.TxOut {
		seen[rowcodec.ComputeScriptHash(o.PkScript)] = struct{}{}
	}
	for _, in := range tx.TxIn {
		prevTxid := rowcodec.FullHash(in.PreviousOutPoint.Hash)
		if isZeroHash(prevTxid) {
			continue
		}
		prevRaw, err := e.GetTransaction(ctx, prevTxid)
		if err != nil {
			continue
		}
		var prevTx wire.MsgTx
		if err := prevTx.Deserialize(bytes.NewReader(prevRaw)); err != nil {
			continue
		}
		if int(in.PreviousOutPoint.Index) >= len(prevTx.TxOut) {
			continue
		}
		out := prevTx.TxOut[in.PreviousOutPoint.Index]
		seen[rowcodec.ComputeScriptHash(out.PkScript)] = struct{}{}
	}

	out := make([]rowcodec.FullHash, 0, len(seen))
	for sh := range seen {
		out = append(out, sh)
	}
	return out, nil
}

func isZeroHash(h rowcodec.FullHash) bool {
	for _, b := range h {
		if b != 0 {
			return false
		}
	}
	return true
}

// resolveConfirmedTxid looks up an 8-byte txid prefix (as stored in an O
// or I row) in the T-row index, which carries full 32-byte txids, and
// returns the first T row under that prefix. When several confirmed
// transactions share the prefix, only the first in key order is returned;
// the others are not considered.
func (e *Engine) resolveConfirmedTxid(ctx context.Context, txidPrefix rowcodec.HashPrefix) (rowcodec.FullHash, uint32, bool, error) {
	rows, err := e.store.Scan(ctx, rowcodec.TxScanPrefix(txidPrefix))
	if err != nil {
		return rowcodec.FullHash{}, 0, false, err
	}
	if len(rows) == 0 {
		return rowcodec.FullHash{}, 0, false, nil
	}
	// In the overwhelmingly common case there's exactly one candidate;
	// a genuine 8-byte prefix collision is astronomically unlikely but,
	// if it ever happens, the first candidate is used rather than
	// failing the whole query outright.
	row, err := rowcodec.DecodeTxConfirmedRow(rows[0].Key, rows[0].Value)
	if err != nil {
		return rowcodec.FullHash{}, 0, false, err
	}
	return row.Txid, row.Height, true, nil
}

// GetTransaction returns the raw serialized transaction for txid,
// consulting the cache before falling back to the node.
func (e *Engine) GetTransaction(ctx context.Context, txid rowcodec.FullHash) ([]byte, error) {
	if raw, ok := e.txCache.Get(txid); ok {
		return raw, nil
	}
	raw, err := e.node.GetRawTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	e.txCache.Put(txid, raw, uint64(len(raw)))
	return raw, nil
}

// GetMerkleProof computes the merkle branch for txid within its
// confirming block at height, fetching sibling transaction ids from the
// node and folding them bottom-up.
func (e *Engine) GetMerkleProof(ctx context.Context, height int, txid rowcodec.FullHash) (MerkleProof, error) {
	entry, ok := e.chain.HeaderByHeight(height)
	if !ok {
		return MerkleProof{}, fmt.Errorf("query: unknown height %d", height)
	}

	txids, position, err := e.blockTxidsAndPosition(ctx, entry.Hash, txid)
	if err != nil {
		return MerkleProof{}, err
	}

	branch := merkleBranch(txids, position)
	return MerkleProof{BlockHeight: height, Position: position, Merkle: branch}, nil
}

func (e *Engine) blockTxidsAndPosition(ctx context.Context, blockHash, txid rowcodec.FullHash) ([]rowcodec.FullHash, int, error) {
	height, ok := e.chain.HeaderByHash(blockHash)
	if !ok {
		return nil, 0, fmt.Errorf("query: unknown block %x", blockHash)
	}
	txids, err := e.GetBlockTxids(ctx, height)
	if err != nil {
		return nil, 0, err
	}
	for i, id := range txids {
		if id == txid {
			return txids, i, nil
		}
	}
	return nil, 0, fmt.Errorf("query: txid not found in its reported confirming block")
}

// merkleBranch computes the sibling hashes needed to recompute the
// merkle root from leaves[position] upward, duplicating the last element
// of an odd-length level (Bitcoin's convention).
func merkleBranch(leaves []rowcodec.FullHash, position int) []rowcodec.FullHash {
	level := append([]rowcodec.FullHash(nil), leaves...)
	idx := position
	var branch []rowcodec.FullHash

	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		siblingIdx := idx ^ 1
		branch = append(branch, level[siblingIdx])

		next := make([]rowcodec.FullHash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = doubleSHA256(level[i], level[i+1])
		}
		level = next
		idx /= 2
	}
	return branch
}

func doubleSHA256(a, b rowcodec.FullHash) rowcodec.FullHash {
	buf := make([]byte, 0, 64)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	first := sha256.Sum256(buf)
	second := sha256.Sum256(first[:])
	return second
}

// GetHeaderMerkleProof computes the merkle branch and root proving that
// the header at height is included in the checkpoint block at cpHeight:
// the same branch-folding algorithm GetMerkleProof uses for transactions,
// applied instead to the list of block hashes from genesis through
// cpHeight, with height as the leaf index.
func (e *Engine) GetHeaderMerkleProof(height, cpHeight int) ([]rowcodec.FullHash, rowcodec.FullHash, error) {
	if cpHeight < height {
		return nil, rowcodec.FullHash{}, fmt.Errorf("query: cp_height %d below height %d", cpHeight, height)
	}
	if best := e.chain.TipHeight(); cpHeight > best {
		return nil, rowcodec.FullHash{}, fmt.Errorf("query: cp_height %d above best height %d", cpHeight, best)
	}

	hashes := make([]rowcodec.FullHash, cpHeight+1)
	for h := 0; h <= cpHeight; h++ {
		entry, ok := e.chain.HeaderByHeight(h)
		if !ok {
			return nil, rowcodec.FullHash{}, fmt.Errorf("query: missing header at height %d", h)
		}
		hashes[h] = entry.Hash
	}

	branch := merkleBranch(hashes, height)
	root := merkleRoot(hashes)
	return branch, root, nil
}

// merkleRoot folds leaves bottom-up into a single root hash, duplicating
// the last element of an odd-length level.
func merkleRoot(leaves []rowcodec.FullHash) rowcodec.FullHash {
	level := append([]rowcodec.FullHash(nil), leaves...)
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		next := make([]rowcodec.FullHash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = doubleSHA256(level[i], level[i+1])
		}
		level = next
	}
	if len(level) == 0 {
		return rowcodec.FullHash{}
	}
	return level[0]
}

// GetConfirmedHeight returns the confirmation height of txid, consulting
// the T-row index directly (unlike resolveConfirmedTxid, the exact full
// txid is already known here, so there's nothing to disambiguate: any
// prefix collision among candidates is resolved by comparing against
// txid itself).
func (e *Engine) GetConfirmedHeight(ctx context.Context, txid rowcodec.FullHash) (uint32, bool, error) {
	prefix := rowcodec.HashPrefixOf(txid[:])
	rows, err := e.store.Scan(ctx, rowcodec.TxScanPrefix(prefix))
	if err != nil {
		return 0, false, err
	}
	for _, r := range rows {
		row, err := rowcodec.DecodeTxConfirmedRow(r.Key, r.Value)
		if err != nil {
			continue
		}
		if row.Txid == txid {
			return row.Height, true, nil
		}
	}
	return 0, false, nil
}

// UTXOInfo describes a single output's funding script hash, value, and
// spend status, resolved by decoding the owning transaction directly
// (there is no index from (txid,vout) to script hash; the output row
// index is keyed the other way, by script hash, so this path decodes the
// transaction instead of scanning for it).
type UTXOInfo struct {
	ScriptHash rowcodec.FullHash
	Value      uint64
	Height     uint32
	Confirmed  bool
	Spent      bool
}

// GetUTXOInfo resolves the funding script hash, value, and spend status
// of transaction txid's output vout.
func (e *Engine) GetUTXOInfo(ctx context.Context, txid rowcodec.FullHash, vout uint32) (*UTXOInfo, error) {
	raw, err := e.GetTransaction(ctx, txid)
	if err != nil {
		return nil, err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("query: decode transaction %x: %w", txid, err)
	}
	if int(vout) >= len(tx.TxOut) {
		return nil, fmt.Errorf("query: vout %d out of range for transaction %x", vout, txid)
	}
	out := tx.TxOut[vout]
	scriptHash := rowcodec.ComputeScriptHash(out.PkScript)

	height, confirmed, err := e.GetConfirmedHeight(ctx, txid)
	if err != nil {
		return nil, err
	}

	txidPrefix := rowcodec.HashPrefixOf(txid[:])
	spentRows, err := e.store.Scan(ctx, rowcodec.InputScanPrefix(txidPrefix, vout))
	if err != nil {
		return nil, err
	}

	return &UTXOInfo{
		ScriptHash: scriptHash,
		Value:      uint64(out.Value),
		Height:     height,
		Confirmed:  confirmed,
		Spent:      len(spentRows) > 0,
	}, nil
}

// GetBlockTxids returns every transaction id in height's block, in
// position order — used to answer transaction.id_from_pos.
func (e *Engine) GetBlockTxids(ctx context.Context, height int) ([]rowcodec.FullHash, error) {
	entry, ok := e.chain.HeaderByHeight(height)
	if !ok {
		return nil, fmt.Errorf("query: unknown height %d", height)
	}
	raw, err := e.node.GetBlock(ctx, entry.Hash)
	if err != nil {
		return nil, err
	}
	block, err := indexer.DecodeBlock(raw)
	if err != nil {
		return nil, err
	}
	out := make([]rowcodec.FullHash, len(block.Transactions))
	for i, tx := range block.Transactions {
		out[i] = rowcodec.FullHash(tx.TxHash())
	}
	return out, nil
}

// EstimateFee returns a satoshi-per-byte fee rate estimate for
// confirmation within targetBlocks. It reads the mempool's fee histogram
// and picks the rate at which enough pending transaction weight is ahead
// of targetBlocks worth of block space. The result is never below the
// node's relay fee floor, which is also returned when the histogram can't
// support an estimate (e.g. an empty mempool).
func (e *Engine) EstimateFee(ctx context.Context, targetBlocks int) (float64, error) {
	const avgBlockVSize = 1_000_000 // conservative BCH block capacity assumption
	histogram := e.mempool.Histogram()

	relayFeePerKB, err := e.node.EstimateRelayFee(ctx)
	if err != nil {
		return 0, err
	}
	floor := relayFeePerKB * 1e8 / 1000

	var cumulative uint64
	budget := uint64(targetBlocks) * avgBlockVSize
	for _, bin := range histogram {
		cumulative += bin.VSize
		if cumulative >= budget {
			if bin.FeeRate < floor {
				return floor, nil
			}
			return bin.FeeRate, nil
		}
	}
	return floor, nil
}
