// Package indexer turns raw blocks into secondary-index rows and drives
// the three ways those rows get written: a parallel bulk import of the
// entire chain history, a sequential RPC catch-up for smaller gaps, and
// an incremental per-tip update once caught up. All three share the same
// pure per-block row-production function, so the index content is
// identical regardless of which path produced it.
package indexer

import (
	"bytes"
	"context"
	"fmt"
	"runtime"

	"github.com/btcsuite/btcd/wire"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/BitcoinUnlimited/ElectrsCash/internal/cashaccount"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/chain"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/node"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/rowcodec"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/store"
)

// Options configures how blocks are turned into rows.
type Options struct {
	// CashAccountActivationHeight is the first height eligible to carry
	// cashaccount registrations; 0 disables the feature entirely.
	CashAccountActivationHeight int
}

// BlockRows is the complete set of rows one block contributes to the
// index, plus the chain.Entry it extends the header list with.
type BlockRows struct {
	Header chain.Entry
	Rows   []store.Row
}

// DecodeBlock parses a raw serialized block using the wire format shared
// by every Bitcoin-Cash-family node.
func DecodeBlock(raw []byte) (*wire.MsgBlock, error) {
	var block wire.MsgBlock
	if err := block.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("indexer: decode block: %w", err)
	}
	return &block, nil
}

func hashOf(h [32]byte) rowcodec.FullHash { return rowcodec.FullHash(h) }

// RowsForBlock produces every row a confirmed block contributes to the
// index: one B row, one T row and a set of O/I rows per transaction, and
// C rows for any valid cashaccount registrations. It is a pure function
// of (height, block, opts) — the same block always produces the same
// rows regardless of which import path calls it.
func RowsForBlock(height int, block *wire.MsgBlock, opts Options) BlockRows {
	var headerBuf bytes.Buffer
	block.Header.Serialize(&headerBuf)
	blockHash := hashOf(block.Header.BlockHash())

	rows := []store.Row{
		{Key: rowcodec.BlockHeaderKey(blockHash), Value: append([]byte(nil), headerBuf.Bytes()...)},
	}

	cashAccountEligible := cashaccount.IsValidCashAccountHeight(opts.CashAccountActivationHeight, height)

	for _, tx := range block.Transactions {
		txid := hashOf(tx.TxHash())

		rows = append(rows, store.Row{
			Key:   rowcodec.TxConfirmedRow{Txid: txid, Height: uint32(height)}.Key(),
			Value: rowcodec.TxConfirmedRow{Txid: txid, Height: uint32(height)}.Value(),
		})

		txidPrefix := rowcodec.HashPrefixOf(txid[:])
		isCoinbase := len(tx.TxIn) == 1 && tx.TxIn[0].PreviousOutPoint.Index == 0xFFFFFFFF &&
			isZero(tx.TxIn[0].PreviousOutPoint.Hash[:])

		if !isCoinbase {
			for _, in := range tx.TxIn {
				prevTxidPrefix := rowcodec.HashPrefixOf(in.PreviousOutPoint.Hash[:])
				row := rowcodec.TxInputRow{
					PrevTxidPrefix:    prevTxidPrefix,
					PrevVout:          in.PreviousOutPoint.Index,
					SpenderTxidPrefix: txidPrefix,
				}
				rows = append(rows, store.Row{Key: row.Key(), Value: row.Value()})
			}
		}

		var scripts [][]byte
		for voutIdx, out := range tx.TxOut {
			scriptHash := rowcodec.ComputeScriptHash(out.PkScript)
			row := rowcodec.TxOutputRow{
				ScriptHashPrefix: rowcodec.HashPrefixOf(scriptHash[:]),
				TxidPrefix:       txidPrefix,
				OutputIndex:      uint32(voutIdx),
				ValueSats:        uint64(out.Value),
			}
			rows = append(rows, store.Row{Key: row.Key(), Value: row.Value()})
			scripts = append(scripts, out.PkScript)
		}

		if cashAccountEligible {
			if reg, err := cashaccount.ParseTransactionOutputs(scripts); err == nil {
				nameHeightHash := rowcodec.CashAccountNameHeightHash([]byte(reg.Name), uint32(height))
				nameHeightPrefix := rowcodec.HashPrefixOf(nameHeightHash[:])
				row := rowcodec.CashAccountRow{NameHeightHashPrefix: nameHeightPrefix, TxidPrefix: txidPrefix}
				rows = append(rows, store.Row{Key: row.Key(), Value: row.Value()})
			}
		}
	}

	return BlockRows{
		Header: chain.Entry{Hash: blockHash, Header: append([]byte(nil), headerBuf.Bytes()...)},
		Rows:   rows,
	}
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}

// Indexer drives row production against a store, header list, and node
// client.
type Indexer struct {
	store   *store.Store
	chain   *chain.List
	node    node.Client
	opts    Options
	workers int
}

// New returns an Indexer. workers <= 0 defaults to runtime.NumCPU().
func New(s *store.Store, c *chain.List, n node.Client, opts Options, workers int) *Indexer {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Indexer{store: s, chain: c, node: n, opts: opts, workers: workers}
}

// BulkImport indexes every height in [fromHeight, toHeight] using a pool
// of workers fetching and decoding blocks concurrently, then applies the
// resulting rows to the store in height order: decoding is the expensive,
// parallelizable step, while the store write must remain sequential so
// the header list and B rows land in height order.
func (ix *Indexer) BulkImport(ctx context.Context, fromHeight, toHeight int) error {
	type result struct {
		height int
		rows   BlockRows
	}

	heights := make(chan int)
	results := make(chan result)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(heights)
		for h := fromHeight; h <= toHeight; h++ {
			select {
			case heights <- h:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < ix.workers; i++ {
		g.Go(func() error {
			for h := range heights {
				hash, err := ix.node.GetBlockHash(gctx, h)
				if err != nil {
					return fmt.Errorf("indexer: get block hash at %d: %w", h, err)
				}
				raw, err := ix.node.GetBlock(gctx, hash)
				if err != nil {
					return fmt.Errorf("indexer: get block %x: %w", hash, err)
				}
				block, err := DecodeBlock(raw)
				if err != nil {
					return err
				}
				select {
				case results <- result{height: h, rows: RowsForBlock(h, block, ix.opts)}:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	pending := make(map[int]BlockRows)
	next := fromHeight
	for next <= toHeight {
		select {
		case r, ok := <-results:
			if !ok {
				break
			}
			pending[r.height] = r.rows
			for {
				br, ok := pending[next]
				if !ok {
					break
				}
				if err := ix.applyBlock(next, br); err != nil {
					return err
				}
				delete(pending, next)
				next++
			}
		case err := <-done:
			if err != nil {
				return err
			}
		}
	}
	return <-done
}

// CatchUp sequentially fetches and applies every block between the
// indexer's current tip and the node's reported tip, one block at a
// time (used once the gap is small enough that bulk parallelism isn't
// worth the complexity of ordering).
func (ix *Indexer) CatchUp(ctx context.Context) error {
	nodeHeight, err := ix.node.GetBlockCount(ctx)
	if err != nil {
		return err
	}
	for h := ix.chain.TipHeight() + 1; h <= nodeHeight; h++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		hash, err := ix.node.GetBlockHash(ctx, h)
		if err != nil {
			return err
		}
		raw, err := ix.node.GetBlock(ctx, hash)
		if err != nil {
			return err
		}
		block, err := DecodeBlock(raw)
		if err != nil {
			return err
		}
		if err := ix.applyBlock(h, RowsForBlock(h, block, ix.opts)); err != nil {
			return err
		}
	}
	return nil
}

// UpdateTip checks the node's current best hash against the local tip and
// extends (or, on reorg, rolls back and re-extends) the index by exactly
// the blocks needed to match.
func (ix *Indexer) UpdateTip(ctx context.Context) error {
	best, err := ix.node.GetBestBlockHash(ctx)
	if err != nil {
		return err
	}
	if tip, ok := ix.chain.TipHash(); ok && tip == best {
		return nil
	}

	if height, ok := ix.chain.HeaderByHash(best); ok {
		// The node's tip is already in our list (we're ahead, or this is
		// a same-height replacement); nothing to extend.
		_ = height
		return nil
	}

	if err := ix.reconcileReorg(ctx); err != nil {
		return err
	}
	return ix.CatchUp(ctx)
}

// reconcileReorg walks backward from the local tip until it finds a
// height whose hash the node still agrees with, then rolls the header
// list back to that point.
func (ix *Indexer) reconcileReorg(ctx context.Context) error {
	height := ix.chain.TipHeight()
	for height >= 0 {
		local, ok := ix.chain.HeaderByHeight(height)
		if !ok {
			break
		}
		nodeHash, err := ix.node.GetBlockHash(ctx, height)
		if err != nil {
			// Height may no longer exist on the node's best chain at all
			// (deep reorg); keep walking back.
			height--
			continue
		}
		if nodeHash == local.Hash {
			if height == ix.chain.TipHeight() {
				return nil
			}
			log.WithFields(log.Fields{"from": ix.chain.TipHeight(), "to": height}).Warn("indexer: reorg detected, rolling back")
			return ix.chain.Rollback(height)
		}
		height--
	}
	return fmt.Errorf("indexer: could not find a common ancestor with the node")
}

func (ix *Indexer) applyBlock(height int, br BlockRows) error {
	// The block's rows and the L marker go into one batch, so a crash
	// cannot leave L pointing at a block whose rows were not written.
	rows := append(br.Rows[:len(br.Rows):len(br.Rows)], store.Row{Key: rowcodec.LatestBlockKey(), Value: br.Header.Hash[:]})
	if err := ix.store.Write(rows, true); err != nil {
		return fmt.Errorf("indexer: write rows for height %d: %w", height, err)
	}
	if err := ix.chain.Append(br.Header); err != nil {
		return err
	}
	return nil
}
