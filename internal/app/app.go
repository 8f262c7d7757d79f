// Package app wires every component into a running server: it owns
// construction order, the startup sequence (version check, bulk import,
// compaction, RPC listen), and the steady-state tick loop that keeps the
// index, mempool view, and subscriber notifications current.
package app

import (
	"context"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/BitcoinUnlimited/ElectrsCash/internal/chain"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/doslimit"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/indexer"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/mempool"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/metrics"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/node"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/query"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/rowcodec"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/rpc"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/store"
	"github.com/BitcoinUnlimited/ElectrsCash/pkg/config"
)

// TickInterval is how often the steady-state loop polls the node for a
// new tip and refreshes the mempool view.
const TickInterval = 10 * time.Second

// App owns the full set of wired components and their lifecycle.
type App struct {
	cfg     *config.Config
	store   *store.Store
	chain   *chain.List
	mempool *mempool.Tracker
	node    node.Client
	indexer *indexer.Indexer
	engine  *query.Engine
	metrics *metrics.Metrics
	rpc     *rpc.Server
	limits  *doslimit.GlobalLimits
}

// New constructs every component in dependency order: store, then the
// header list rebuilt from it, then the node client, then the indexer
// and mempool tracker that depend on both, then the query engine that
// reads from all of them, and finally the RPC server that fronts the
// query engine.
func New(cfg *config.Config) (*App, error) {
	s, err := store.Open(cfg.Storage.DBPath, cfg.Storage.BulkImport)
	if err != nil {
		return nil, fmt.Errorf("app: open store: %w", err)
	}
	if !s.IsCompatibleVersion() {
		log.Warn("app: incompatible database version, destroying and reindexing")
		s.Close()
		if err := store.Destroy(cfg.Storage.DBPath); err != nil {
			return nil, fmt.Errorf("app: destroy incompatible store: %w", err)
		}
		s, err = store.Open(cfg.Storage.DBPath, cfg.Storage.BulkImport)
		if err != nil {
			return nil, fmt.Errorf("app: reopen store: %w", err)
		}
	}

	headerList, err := rebuildHeaderList(s)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("app: rebuild header list: %w", err)
	}

	nodeClient := node.NewHTTPClient(cfg.Node.RPCAddr, cfg.Node.RPCUser, cfg.Node.RPCPass, cfg.Node.RPCTimeout)

	m := metrics.New()

	mp := mempool.New()

	ixOpts := indexer.Options{CashAccountActivationHeight: cfg.CashAccount.ActivationHeight}
	ix := indexer.New(s, headerList, nodeClient, ixOpts, cfg.Storage.IndexerWorkers)

	engine := query.New(s, headerList, mp, nodeClient, cfg.Cache.TxCacheBytes, m)

	limits := doslimit.NewGlobalLimits(cfg.Limits.MaxTotalConnections, cfg.Limits.MaxPerPrefix)

	rpcCfg := rpc.Config{
		ServerVersion: "electrscash-go/1.0",
		Banner:        cfg.Server.Banner,
		DonationAddress: cfg.Server.DonationAddress,
		CashAccountEnabled: cfg.CashAccount.Enabled,
		CashAccountActivationHeight: cfg.CashAccount.ActivationHeight,
		ConnLimits: doslimit.ConnectionLimits{
			RPCTimeout:       cfg.Limits.RPCTimeout,
			MaxSubscriptions: cfg.Limits.MaxSubscriptions,
			MaxAliasBytes:    cfg.Limits.MaxAliasBytes,
		},
		ChainParams: chainParams(cfg.Network),
	}
	rpcServer := rpc.New(rpcCfg, engine, mp, headerList, nodeClient, s, limits)

	return &App{
		cfg:     cfg,
		store:   s,
		chain:   headerList,
		mempool: mp,
		node:    nodeClient,
		indexer: ix,
		engine:  engine,
		metrics: m,
		rpc:     rpcServer,
		limits:  limits,
	}, nil
}

// chainParams maps the configured network to the address version bytes the
// blockchain.address.* RPC group decodes against. btcd's chaincfg carries no
// BCH-specific testnet4/scalenet parameter sets, so both fall back to the
// shared BCH/BTC testnet3 version bytes, which is what their legacy base58
// addresses actually use.
func chainParams(n config.Network) *chaincfg.Params {
	switch n {
	case config.Testnet, config.Testnet4, config.Scalenet:
		return &chaincfg.TestNet3Params
	case config.Regtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// rebuildHeaderList returns the header list startup begins from. It reads
// the L marker only to surface store errors; it does not read B rows back
// from disk, so the returned list is always empty, also for a store that
// already holds indexed blocks. startup then indexes from height 0
// (BulkImport or CatchUp), fetching every block from the node again.
func rebuildHeaderList(s *store.Store) (*chain.List, error) {
	_, ok, err := chain.LatestBlockRecorded(s)
	if err != nil {
		return nil, err
	}
	if !ok {
		return chain.New(), nil
	}
	// The B rows already on disk are not loaded; the list starts empty.
	return chain.New(), nil
}

// Run executes the startup sequence and then the steady-state loop until
// ctx is canceled.
func (a *App) Run(ctx context.Context, compactRequests <-chan struct{}) error {
	if err := a.startup(ctx); err != nil {
		return err
	}

	l, err := net.Listen("tcp", a.cfg.Server.ElectrumBindAddr)
	if err != nil {
		return fmt.Errorf("app: listen on %s: %w", a.cfg.Server.ElectrumBindAddr, err)
	}
	defer l.Close()

	go func() {
		if err := a.rpc.Serve(ctx, l); err != nil && ctx.Err() == nil {
			log.WithError(err).Error("app: rpc server stopped unexpectedly")
		}
	}()

	go func() {
		if err := a.metrics.ListenAndServe(a.cfg.Server.MetricsBindAddr); err != nil {
			log.WithError(err).Warn("app: metrics server stopped")
		}
	}()

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return a.shutdown()
		case <-ticker.C:
			a.tick(ctx)
		case <-compactRequests:
			log.Info("app: SIGUSR1 received, running full compaction")
			if err := a.store.Compact(); err != nil {
				log.WithError(err).Error("app: manual compaction failed")
			}
		}
	}
}

// startup performs the one-time sequence: catch up to the node's current
// tip (via bulk import when the header list is empty and the node is above
// height 10,000, or incremental catch-up otherwise), then run a full
// compaction and flip the store into
// serving mode.
func (a *App) startup(ctx context.Context) error {
	nodeHeight, err := a.node.GetBlockCount(ctx)
	if err != nil {
		return fmt.Errorf("app: get block count: %w", err)
	}

	localHeight := a.chain.TipHeight()
	if localHeight < 0 && nodeHeight > 10_000 {
		log.WithField("target_height", nodeHeight).Info("app: starting bulk import")
		if err := a.indexer.BulkImport(ctx, 0, nodeHeight); err != nil {
			return fmt.Errorf("app: bulk import: %w", err)
		}
	} else {
		if err := a.indexer.CatchUp(ctx); err != nil {
			return fmt.Errorf("app: catch up: %w", err)
		}
	}

	if !a.store.IsFullyCompacted() {
		if err := a.store.Flush(); err != nil {
			return err
		}
		if err := a.store.Compact(); err != nil {
			return err
		}
		a.store.EnableCompaction()
		if err := a.store.Write([]store.Row{{Key: rowcodec.FullyCompactedKey(), Value: []byte{1}}}, true); err != nil {
			return err
		}
	} else {
		a.store.EnableCompaction()
	}

	if _, err := a.mempool.Update(ctx, a.node); err != nil {
		log.WithError(err).Warn("app: initial mempool update failed")
	}
	return nil
}

// tick refreshes the chain tip and mempool view, notifying subscribers of
// anything that changed. A script hash is touched whenever a transaction
// funding or spending it is newly confirmed or newly entered/left the
// mempool, so every touched transaction's funding and spent-from script
// hashes are collected and pushed through NotifyScriptHashChanged.
func (a *App) tick(ctx context.Context) {
	before := a.chain.TipHeight()
	var touchedTxids []rowcodec.FullHash

	if err := a.indexer.UpdateTip(ctx); err != nil {
		log.WithError(err).Warn("app: tip update failed")
	} else if a.chain.TipHeight() != before {
		tip := a.chain.TipHeight()
		if entry, ok := a.chain.HeaderByHeight(tip); ok {
			a.rpc.NotifyNewTip(tip, entry.Header)
		}
		for h := before + 1; h <= tip; h++ {
			txids, err := a.engine.GetBlockTxids(ctx, h)
			if err != nil {
				log.WithError(err).WithField("height", h).Warn("app: failed reading confirmed block txids")
				continue
			}
			touchedTxids = append(touchedTxids, txids...)
		}
	}

	changed, err := a.mempool.Update(ctx, a.node)
	if err != nil {
		log.WithError(err).Warn("app: mempool update failed")
	}
	touchedTxids = append(touchedTxids, changed...)

	seen := make(map[rowcodec.FullHash]struct{})
	for _, txid := range touchedTxids {
		scriptHashes, err := a.engine.TouchedScriptHashes(ctx, txid)
		if err != nil {
			continue
		}
		for _, sh := range scriptHashes {
			if _, ok := seen[sh]; ok {
				continue
			}
			seen[sh] = struct{}{}
			a.rpc.NotifyScriptHashChanged(ctx, sh)
		}
	}
}

func (a *App) shutdown() error {
	log.Info("app: shutting down")
	return a.store.Close()
}
