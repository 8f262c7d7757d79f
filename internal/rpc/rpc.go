// Package rpc implements the line-delimited JSON-RPC protocol electrum
// wallets speak: one JSON object per newline-terminated line, request and
// notification in the same stream, with a per-connection subscription
// state machine for script-hash status and header-tip updates.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"

	"github.com/BitcoinUnlimited/ElectrsCash/internal/cashaccount"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/chain"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/doslimit"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/mempool"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/node"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/query"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/rowcodec"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/store"
)

// RpcError is the JSON-RPC 2.0 error object shape electrum clients expect.
type RpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

func internalError(err error) *RpcError {
	return &RpcError{Code: -32603, Message: err.Error()}
}

func invalidParams(msg string) *RpcError {
	return &RpcError{Code: -32602, Message: msg}
}

type request struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

type response struct {
	ID     json.RawMessage `json:"id"`
	Result interface{}     `json:"result,omitempty"`
	Error  *RpcError       `json:"error,omitempty"`
}

type notification struct {
	Method string      `json:"method"`
	Params interface{} `json:"params"`
}

// methodFunc handles one dispatched RPC call.
type methodFunc func(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError)

// Config bundles the server's behavior knobs.
type Config struct {
	ServerVersion    string
	Banner           string
	DonationAddress  string
	GenesisHash      rowcodec.FullHash
	CashAccountEnabled bool
	CashAccountActivationHeight int
	ConnLimits       doslimit.ConnectionLimits
	// ChainParams selects the address encoding (version bytes) the
	// blockchain.address.* method group decodes against. Defaults to
	// mainnet if nil.
	ChainParams *chaincfg.Params
}

// Server accepts electrum connections and dispatches requests against the
// query engine, mempool tracker, and header list.
type Server struct {
	cfg     Config
	engine  *query.Engine
	mempool *mempool.Tracker
	chain   *chain.List
	node    node.Client
	store   *store.Store
	limits  *doslimit.GlobalLimits
	methods map[string]methodFunc

	mu             sync.Mutex
	headerSubs     map[*conn]struct{}
	scriptHashSubs map[rowcodec.FullHash]map[*conn]struct{}
}

// New returns a Server with its method dispatch table populated.
func New(cfg Config, engine *query.Engine, mp *mempool.Tracker, c *chain.List, n node.Client, s *store.Store, limits *doslimit.GlobalLimits) *Server {
	srv := &Server{
		cfg:            cfg,
		engine:         engine,
		mempool:        mp,
		chain:          c,
		node:           n,
		store:          s,
		limits:         limits,
		headerSubs:     make(map[*conn]struct{}),
		scriptHashSubs: make(map[rowcodec.FullHash]map[*conn]struct{}),
	}
	srv.methods = srv.buildDispatchTable()
	return srv
}

// Serve accepts connections on l until ctx is canceled.
func (s *Server) Serve(ctx context.Context, l net.Listener) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		nc, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		go s.handleConn(ctx, nc)
	}
}

// sslSniffPrefix is the start of a TLS ClientHello record. Electrum
// clients that accidentally connect with SSL enabled against a plaintext
// port produce this as the first bytes; rejecting fast avoids wasting a
// connection slot parsing garbage as JSON.
var sslSniffPrefix = []byte{0x16, 0x03, 0x01}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	host, _, _ := net.SplitHostPort(nc.RemoteAddr().String())
	ip := net.ParseIP(host)

	var allowed bool
	if ip != nil && s.limits != nil {
		allowed, _, _ = s.limits.IncConnection(ip)
		if allowed {
			defer s.limits.DecConnection(ip)
		}
	} else {
		allowed = true
	}
	if !allowed {
		nc.Close()
		return
	}

	c := newConn(nc)
	defer s.closeConn(c)

	br := bufio.NewReaderSize(nc, 64*1024)
	peek, err := br.Peek(len(sslSniffPrefix))
	if err == nil && bytesEqual(peek, sslSniffPrefix) {
		log.WithField("remote", nc.RemoteAddr()).Warn("rpc: rejecting apparent TLS handshake on plaintext port")
		return
	}

	go c.writeLoop()

	scanner := bufio.NewScanner(br)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}
		s.handleLine(ctx, c, line)
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (s *Server) handleLine(ctx context.Context, c *conn, line []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("rpc: recovered from panic handling request")
		}
	}()

	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		c.send(response{Error: &RpcError{Code: -32700, Message: "parse error"}})
		return
	}

	fn, ok := s.methods[req.Method]
	if !ok {
		c.send(response{ID: req.ID, Error: &RpcError{Code: -32601, Message: "method not found: " + req.Method}})
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnLimits.RPCTimeout)
	defer cancel()

	result, rpcErr := fn(reqCtx, c, req.Params)
	c.send(response{ID: req.ID, Result: result, Error: rpcErr})
}

func (s *Server) closeConn(c *conn) {
	s.mu.Lock()
	delete(s.headerSubs, c)
	for sh, set := range s.scriptHashSubs {
		delete(set, c)
		if len(set) == 0 {
			delete(s.scriptHashSubs, sh)
		}
	}
	s.mu.Unlock()
	c.close()
}

// NotifyNewTip broadcasts a new chain tip to every header-subscribed
// connection.
func (s *Server) NotifyNewTip(height int, header []byte) {
	s.mu.Lock()
	subs := make([]*conn, 0, len(s.headerSubs))
	for c := range s.headerSubs {
		subs = append(subs, c)
	}
	s.mu.Unlock()

	for _, c := range subs {
		c.send(notification{
			Method: "blockchain.headers.subscribe",
			Params: []interface{}{map[string]interface{}{"height": height, "hex": fmt.Sprintf("%x", header)}},
		})
	}
}

// NotifyScriptHashChanged broadcasts a fresh status to every connection
// subscribed to scriptHash.
func (s *Server) NotifyScriptHashChanged(ctx context.Context, scriptHash rowcodec.FullHash) {
	s.mu.Lock()
	set := s.scriptHashSubs[scriptHash]
	subs := make([]*conn, 0, len(set))
	for c := range set {
		subs = append(subs, c)
	}
	s.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	status, err := s.engine.GetStatus(ctx, scriptHash)
	if err != nil {
		log.WithError(err).Warn("rpc: failed computing status for notification")
		return
	}
	for _, c := range subs {
		c.send(notification{
			Method: "blockchain.scripthash.subscribe",
			Params: []interface{}{fmt.Sprintf("%x", reverseBytes(scriptHash[:])), hexOrNull(status)},
		})
	}
}

func hexOrNull(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return fmt.Sprintf("%x", b)
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}

// conn is one client connection's outbound queue and subscription state.
type conn struct {
	nc  net.Conn
	out chan []byte
}

func newConn(nc net.Conn) *conn {
	return &conn{nc: nc, out: make(chan []byte, 256)}
}

func (c *conn) send(v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	b = append(b, '\n')
	select {
	case c.out <- b:
	default:
		// Outbound queue full: the client is not keeping up. Close the
		// socket so its reader loop ends and the connection is dropped,
		// rather than blocking the dispatch loop or stalling every other
		// connection's notifications.
		log.Warn("rpc: connection outbound queue full, dropping connection")
		c.nc.Close()
	}
}

func (c *conn) writeLoop() {
	for b := range c.out {
		c.nc.SetWriteDeadline(time.Now().Add(30 * time.Second))
		if _, err := c.nc.Write(b); err != nil {
			return
		}
	}
}

func (c *conn) close() {
	close(c.out)
	c.nc.Close()
}

// buildDispatchTable wires every electrum method this server answers.
func (s *Server) buildDispatchTable() map[string]methodFunc {
	m := map[string]methodFunc{
		"server.version":           s.serverVersion,
		"server.banner":            s.serverBanner,
		"server.donation_address":  s.serverDonationAddress,
		"server.peers.subscribe":   s.serverPeersSubscribe,
		"server.add_peer":          s.serverAddPeer,
		"server.ping":              s.serverPing,
		"server.features":          s.serverFeatures,

		"blockchain.headers.subscribe": s.headersSubscribe,
		"blockchain.relayfee":          s.relayFee,
		"blockchain.estimatefee":       s.estimateFee,
		"blockchain.block.header":      s.blockHeader,
		"blockchain.block.headers":     s.blockHeaders,

		"blockchain.scripthash.get_balance":   s.scriptHashGetBalance,
		"blockchain.scripthash.get_history":   s.scriptHashGetHistory,
		"blockchain.scripthash.get_mempool":   s.scriptHashGetMempool,
		"blockchain.scripthash.get_first_use": s.scriptHashGetFirstUse,
		"blockchain.scripthash.listunspent":   s.scriptHashListUnspent,
		"blockchain.scripthash.subscribe":     s.scriptHashSubscribe,
		"blockchain.scripthash.unsubscribe":   s.scriptHashUnsubscribe,

		"blockchain.address.get_balance":   s.addressGetBalance,
		"blockchain.address.get_history":   s.addressGetHistory,
		"blockchain.address.get_mempool":   s.addressGetMempool,
		"blockchain.address.get_first_use": s.addressGetFirstUse,
		"blockchain.address.get_scripthash": s.addressGetScripthash,
		"blockchain.address.listunspent":   s.addressListUnspent,
		"blockchain.address.subscribe":     s.addressSubscribe,
		"blockchain.address.unsubscribe":   s.addressUnsubscribe,

		"blockchain.transaction.get":                          s.transactionGet,
		"blockchain.transaction.get_merkle":                    s.transactionGetMerkle,
		"blockchain.transaction.id_from_pos":                   s.transactionIDFromPos,
		"blockchain.transaction.broadcast":                     s.transactionBroadcast,
		"blockchain.transaction.get_confirmed_blockhash":       s.transactionGetConfirmedBlockhash,

		"blockchain.utxo.get": s.utxoGet,

		"mempool.get_fee_histogram": s.mempoolFeeHistogram,

		"cashaccount.query.name": s.cashAccountQueryName,
	}
	return m
}

func (s *Server) serverVersion(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	return []string{s.cfg.ServerVersion, "1.4"}, nil
}

func (s *Server) serverBanner(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	return s.cfg.Banner, nil
}

func (s *Server) serverDonationAddress(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	return s.cfg.DonationAddress, nil
}

// serverPeersSubscribe is modeled only as an inert stub: this server does
// not participate in inter-server peer discovery.
func (s *Server) serverPeersSubscribe(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	return []interface{}{}, nil
}

// serverAddPeer is modeled only as an inert stub, same reasoning as
// serverPeersSubscribe.
func (s *Server) serverAddPeer(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	return true, nil
}

func (s *Server) serverPing(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	return nil, nil
}

// serverFeatures reports this server's capabilities, notably the hash
// function used for script hashes so a client can verify it agrees before
// trusting any subscription notification.
func (s *Server) serverFeatures(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	return map[string]interface{}{
		"genesis_hash":     fmt.Sprintf("%x", reverseBytes(s.cfg.GenesisHash[:])),
		"hash_function":    "sha256",
		"server_version":   s.cfg.ServerVersion,
		"protocol_min":     "1.4",
		"protocol_max":     "1.4.3",
		"pruning":          nil,
		"cashaccount_enabled": s.cfg.CashAccountEnabled,
	}, nil
}

func (s *Server) headersSubscribe(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	s.mu.Lock()
	s.headerSubs[c] = struct{}{}
	s.mu.Unlock()

	height := s.chain.TipHeight()
	entry, ok := s.chain.HeaderByHeight(height)
	if !ok {
		return nil, internalError(fmt.Errorf("no headers indexed yet"))
	}
	return map[string]interface{}{"height": height, "hex": fmt.Sprintf("%x", entry.Header)}, nil
}

func (s *Server) relayFee(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	fee, err := s.node.EstimateRelayFee(ctx)
	if err != nil {
		return nil, internalError(err)
	}
	return fee, nil
}

func (s *Server) estimateFee(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	var args []int
	if err := json.Unmarshal(params, &args); err != nil || len(args) != 1 {
		return nil, invalidParams("expected [target_blocks]")
	}
	rate, err := s.engine.EstimateFee(ctx, args[0])
	if err != nil {
		return nil, internalError(err)
	}
	return rate * 1000 / 1e8, nil // report as BCH/kB, matching electrum convention
}

func (s *Server) blockHeader(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	var args []int
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return nil, invalidParams("expected [height, cp_height?]")
	}
	height := args[0]
	cpHeight := 0
	if len(args) >= 2 {
		cpHeight = args[1]
	}

	entry, ok := s.chain.HeaderByHeight(height)
	if !ok {
		return nil, internalError(fmt.Errorf("unknown height %d", height))
	}
	headerHex := fmt.Sprintf("%x", entry.Header)

	if cpHeight == 0 {
		return headerHex, nil
	}

	branch, root, err := s.engine.GetHeaderMerkleProof(height, cpHeight)
	if err != nil {
		return nil, internalError(err)
	}
	return map[string]interface{}{
		"header": headerHex,
		"root":   fmt.Sprintf("%x", reverseBytes(root[:])),
		"branch": hexBranch(branch),
	}, nil
}

func (s *Server) blockHeaders(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	var args []int
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 2 {
		return nil, invalidParams("expected [start_height, count, cp_height?]")
	}
	startHeight, count := args[0], args[1]
	cpHeight := 0
	if len(args) >= 3 {
		cpHeight = args[2]
	}

	var hexHeaders string
	n := 0
	for h := startHeight; h < startHeight+count; h++ {
		entry, ok := s.chain.HeaderByHeight(h)
		if !ok {
			break
		}
		hexHeaders += fmt.Sprintf("%x", entry.Header)
		n++
	}

	const maxHeadersPerRequest = 2016
	if n == 0 || cpHeight == 0 {
		return map[string]interface{}{"count": n, "hex": hexHeaders, "max": maxHeadersPerRequest}, nil
	}

	branch, root, err := s.engine.GetHeaderMerkleProof(startHeight+n-1, cpHeight)
	if err != nil {
		return nil, internalError(err)
	}
	return map[string]interface{}{
		"count":  n,
		"hex":    hexHeaders,
		"max":    maxHeadersPerRequest,
		"root":   fmt.Sprintf("%x", reverseBytes(root[:])),
		"branch": hexBranch(branch),
	}, nil
}

func hexBranch(branch []rowcodec.FullHash) []string {
	out := make([]string, len(branch))
	for i, h := range branch {
		out[i] = fmt.Sprintf("%x", reverseBytes(h[:]))
	}
	return out
}

func parseScriptHash(params json.RawMessage) (rowcodec.FullHash, error) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return rowcodec.FullHash{}, fmt.Errorf("expected [scripthash, ...]")
	}
	var h rowcodec.FullHash
	if _, err := fmt.Sscanf(args[0], "%x", &h); err != nil {
		return rowcodec.FullHash{}, err
	}
	return reverseFullHash(h), nil
}

func reverseFullHash(h rowcodec.FullHash) rowcodec.FullHash {
	var out rowcodec.FullHash
	for i := range h {
		out[i] = h[len(h)-1-i]
	}
	return out
}

func (s *Server) scriptHashGetBalance(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	sh, err := parseScriptHash(params)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return s.getBalance(ctx, sh)
}

func (s *Server) getBalance(ctx context.Context, sh rowcodec.FullHash) (interface{}, *RpcError) {
	confirmed, unconfirmed, err := s.engine.GetBalance(ctx, sh)
	if err != nil {
		return nil, internalError(err)
	}
	return map[string]int64{"confirmed": confirmed, "unconfirmed": unconfirmed}, nil
}

func (s *Server) scriptHashGetHistory(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	sh, err := parseScriptHash(params)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return s.getHistory(ctx, sh)
}

func (s *Server) getHistory(ctx context.Context, sh rowcodec.FullHash) (interface{}, *RpcError) {
	history, err := s.engine.GetHistory(ctx, sh)
	if err != nil {
		return nil, internalError(err)
	}
	out := make([]map[string]interface{}, 0, len(history))
	for _, h := range history {
		out = append(out, map[string]interface{}{
			"tx_hash": fmt.Sprintf("%x", reverseBytes(h.Txid[:])),
			"height":  query.ElectrumHistoryHeight(h.Height, h.UnconfirmedParent),
		})
	}
	return out, nil
}

func electrumHistoryHeight(h uint32) int64 {
	if h == rowcodec.MempoolHeight {
		return 0
	}
	return int64(h)
}

func (s *Server) scriptHashGetMempool(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	sh, err := parseScriptHash(params)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return s.getMempool(sh)
}

func (s *Server) getMempool(sh rowcodec.FullHash) (interface{}, *RpcError) {
	prefix := rowcodec.HashPrefixOf(sh[:])
	txids := s.mempool.ByScriptHash(prefix)
	out := make([]map[string]interface{}, 0, len(txids))
	for _, txid := range txids {
		e, ok := s.mempool.Get(txid)
		if !ok {
			continue
		}
		out = append(out, map[string]interface{}{
			"tx_hash": fmt.Sprintf("%x", reverseBytes(txid[:])),
			"fee":     e.FeeSats,
			"height":  0,
		})
	}
	return out, nil
}

func (s *Server) scriptHashGetFirstUse(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	sh, err := parseScriptHash(params)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return s.getFirstUse(ctx, sh)
}

func (s *Server) getFirstUse(ctx context.Context, sh rowcodec.FullHash) (interface{}, *RpcError) {
	height, txid, found, err := s.engine.GetFirstUse(ctx, sh)
	if err != nil {
		return nil, internalError(err)
	}
	if !found {
		return nil, &RpcError{Code: -32004, Message: "no transactions found for script hash"}
	}
	return map[string]interface{}{
		"height":  electrumHistoryHeight(height),
		"tx_hash": fmt.Sprintf("%x", reverseBytes(txid[:])),
	}, nil
}

func (s *Server) scriptHashListUnspent(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	sh, err := parseScriptHash(params)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return s.listUnspent(ctx, sh)
}

func (s *Server) listUnspent(ctx context.Context, sh rowcodec.FullHash) (interface{}, *RpcError) {
	unspent, err := s.engine.ListUnspent(ctx, sh)
	if err != nil {
		return nil, internalError(err)
	}
	out := make([]map[string]interface{}, 0, len(unspent))
	for _, u := range unspent {
		out = append(out, map[string]interface{}{
			"tx_hash": fmt.Sprintf("%x", reverseBytes(u.Txid[:])),
			"tx_pos":  u.Vout,
			"value":   u.Value,
			"height":  electrumHistoryHeight(u.Height),
		})
	}
	return out, nil
}

func (s *Server) scriptHashSubscribe(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	sh, err := parseScriptHash(params)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return s.subscribe(ctx, c, sh)
}

func (s *Server) subscribe(ctx context.Context, c *conn, sh rowcodec.FullHash) (interface{}, *RpcError) {
	s.mu.Lock()
	set, ok := s.scriptHashSubs[sh]
	if !ok {
		set = make(map[*conn]struct{})
		s.scriptHashSubs[sh] = set
	}
	set[c] = struct{}{}
	s.mu.Unlock()

	status, err := s.engine.GetStatus(ctx, sh)
	if err != nil {
		return nil, internalError(err)
	}
	return hexOrNull(status), nil
}

func (s *Server) scriptHashUnsubscribe(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	sh, err := parseScriptHash(params)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return s.unsubscribe(c, sh)
}

func (s *Server) unsubscribe(c *conn, sh rowcodec.FullHash) (interface{}, *RpcError) {
	s.mu.Lock()
	if set, ok := s.scriptHashSubs[sh]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(s.scriptHashSubs, sh)
		}
	}
	s.mu.Unlock()
	return true, nil
}

// parseAddress decodes a legacy base58 P2PKH/P2SH address (the first
// argument of an electrum blockchain.address.* call) into the script hash
// its outputs would be indexed under, by rebuilding the standard scriptPubKey
// for the address and single-SHA256'ing it the same way the indexer does for
// confirmed outputs. Cashaddr-encoded addresses are not supported: no
// decoder for that format exists anywhere in this server's dependency set.
func (s *Server) parseAddress(params json.RawMessage) (rowcodec.FullHash, error) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 1 {
		return rowcodec.FullHash{}, fmt.Errorf("expected [address, ...]")
	}
	params0 := s.cfg.ChainParams
	if params0 == nil {
		params0 = &chaincfg.MainNetParams
	}
	addr, err := btcutil.DecodeAddress(args[0], params0)
	if err != nil {
		return rowcodec.FullHash{}, fmt.Errorf("decode address: %w", err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return rowcodec.FullHash{}, fmt.Errorf("build script for address: %w", err)
	}
	return rowcodec.ComputeScriptHash(script), nil
}

func (s *Server) addressGetBalance(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	sh, err := s.parseAddress(params)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return s.getBalance(ctx, sh)
}

func (s *Server) addressGetHistory(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	sh, err := s.parseAddress(params)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return s.getHistory(ctx, sh)
}

func (s *Server) addressGetMempool(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	sh, err := s.parseAddress(params)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return s.getMempool(sh)
}

func (s *Server) addressGetFirstUse(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	sh, err := s.parseAddress(params)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return s.getFirstUse(ctx, sh)
}

func (s *Server) addressGetScripthash(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	sh, err := s.parseAddress(params)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return fmt.Sprintf("%x", reverseBytes(sh[:])), nil
}

func (s *Server) addressListUnspent(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	sh, err := s.parseAddress(params)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return s.listUnspent(ctx, sh)
}

func (s *Server) addressSubscribe(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	sh, err := s.parseAddress(params)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return s.subscribe(ctx, c, sh)
}

func (s *Server) addressUnsubscribe(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	sh, err := s.parseAddress(params)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	return s.unsubscribe(c, sh)
}

func parseTxid(params json.RawMessage, index int) (rowcodec.FullHash, error) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) <= index {
		return rowcodec.FullHash{}, fmt.Errorf("missing txid argument")
	}
	var s string
	if err := json.Unmarshal(args[index], &s); err != nil {
		return rowcodec.FullHash{}, err
	}
	var h rowcodec.FullHash
	if _, err := fmt.Sscanf(s, "%x", &h); err != nil {
		return rowcodec.FullHash{}, err
	}
	return reverseFullHash(h), nil
}

func (s *Server) transactionGet(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	txid, err := parseTxid(params, 0)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	raw, err := s.engine.GetTransaction(ctx, txid)
	if err != nil {
		return nil, internalError(err)
	}
	return fmt.Sprintf("%x", raw), nil
}

func (s *Server) transactionGetMerkle(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 2 {
		return nil, invalidParams("expected [tx_hash, height]")
	}
	txid, err := parseTxid(params, 0)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	var height int
	if err := json.Unmarshal(args[1], &height); err != nil {
		return nil, invalidParams("invalid height")
	}

	proof, err := s.engine.GetMerkleProof(ctx, height, txid)
	if err != nil {
		return nil, internalError(err)
	}
	merkle := make([]string, len(proof.Merkle))
	for i, h := range proof.Merkle {
		merkle[i] = fmt.Sprintf("%x", reverseBytes(h[:]))
	}
	return map[string]interface{}{
		"block_height": proof.BlockHeight,
		"pos":          proof.Position,
		"merkle":       merkle,
	}, nil
}

func (s *Server) transactionIDFromPos(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	var raw []json.RawMessage
	if err := json.Unmarshal(params, &raw); err != nil || len(raw) < 2 {
		return nil, invalidParams("expected [height, tx_pos, merkle]")
	}
	var height, pos int
	var withMerkle bool
	json.Unmarshal(raw[0], &height)
	json.Unmarshal(raw[1], &pos)
	if len(raw) >= 3 {
		json.Unmarshal(raw[2], &withMerkle)
	}

	txids, err := s.engine.GetBlockTxids(ctx, height)
	if err != nil {
		return nil, internalError(err)
	}
	if pos < 0 || pos >= len(txids) {
		return nil, invalidParams("tx_pos out of range")
	}
	txid := txids[pos]

	if !withMerkle {
		return fmt.Sprintf("%x", reverseBytes(txid[:])), nil
	}

	proof, err := s.engine.GetMerkleProof(ctx, height, txid)
	if err != nil {
		return nil, internalError(err)
	}
	merkle := make([]string, len(proof.Merkle))
	for i, h := range proof.Merkle {
		merkle[i] = fmt.Sprintf("%x", reverseBytes(h[:]))
	}
	return map[string]interface{}{
		"tx_hash": fmt.Sprintf("%x", reverseBytes(txid[:])),
		"merkle":  merkle,
	}, nil
}

func (s *Server) transactionBroadcast(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	var args []string
	if err := json.Unmarshal(params, &args); err != nil || len(args) != 1 {
		return nil, invalidParams("expected [raw_tx_hex]")
	}
	raw := make([]byte, len(args[0])/2)
	if _, err := fmt.Sscanf(args[0], "%x", &raw); err != nil {
		return nil, invalidParams("invalid hex")
	}
	txid, err := s.node.SendRawTransaction(ctx, raw)
	if err != nil {
		return nil, internalError(err)
	}
	return fmt.Sprintf("%x", reverseBytes(txid[:])), nil
}

func (s *Server) transactionGetConfirmedBlockhash(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	txid, err := parseTxid(params, 0)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	height, confirmed, err := s.engine.GetConfirmedHeight(ctx, txid)
	if err != nil {
		return nil, internalError(err)
	}
	if !confirmed {
		return nil, nil
	}
	entry, ok := s.chain.HeaderByHeight(int(height))
	if !ok {
		return nil, internalError(fmt.Errorf("height %d not present in header list", height))
	}
	return fmt.Sprintf("%x", reverseBytes(entry.Hash[:])), nil
}

func (s *Server) utxoGet(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 2 {
		return nil, invalidParams("expected [tx_hash, tx_pos]")
	}
	txid, err := parseTxid(params, 0)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	var vout uint32
	if err := json.Unmarshal(args[1], &vout); err != nil {
		return nil, invalidParams("invalid tx_pos")
	}

	info, err := s.engine.GetUTXOInfo(ctx, txid, vout)
	if err != nil {
		return nil, internalError(err)
	}
	return map[string]interface{}{
		"scripthash": fmt.Sprintf("%x", reverseBytes(info.ScriptHash[:])),
		"value":      info.Value,
		"height":     electrumHistoryHeight(info.Height),
		"confirmed":  info.Confirmed,
		"spent":      info.Spent,
	}, nil
}

func (s *Server) mempoolFeeHistogram(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	bins := s.mempool.Histogram()
	out := make([][2]float64, 0, len(bins))
	for _, b := range bins {
		out = append(out, [2]float64{b.FeeRate, float64(b.VSize)})
	}
	return out, nil
}

func (s *Server) cashAccountQueryName(ctx context.Context, c *conn, params json.RawMessage) (interface{}, *RpcError) {
	if !s.cfg.CashAccountEnabled {
		return nil, &RpcError{Code: -32000, Message: "cashaccount indexing is not enabled on this server"}
	}
	var args []json.RawMessage
	if err := json.Unmarshal(params, &args); err != nil || len(args) < 2 {
		return nil, invalidParams("expected [name, height]")
	}
	var name string
	var height uint32
	if err := json.Unmarshal(args[0], &name); err != nil {
		return nil, invalidParams("invalid name")
	}
	if err := json.Unmarshal(args[1], &height); err != nil {
		return nil, invalidParams("invalid height")
	}
	if !cashaccount.IsValidCashAccountHeight(s.cfg.CashAccountActivationHeight, int(height)) {
		return []interface{}{}, nil
	}

	prefix := rowcodec.CashAccountScanPrefix([]byte(name), height)
	rows, err := s.store.Scan(ctx, prefix)
	if err != nil {
		return nil, internalError(err)
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		row, err := rowcodec.DecodeCashAccountRow(r.Key)
		if err != nil {
			continue
		}
		out = append(out, fmt.Sprintf("%x", row.TxidPrefix))
	}
	return out, nil
}
