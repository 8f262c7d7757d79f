package node

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
)

func serverReturning(t *testing.T, result interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		raw, _ := json.Marshal(result)
		resp := rpcResponse{Result: raw}
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestGetBestBlockHashRoundTrip(t *testing.T) {
	// RPC hex is byte-reversed: the trailing "ab" of the display form is
	// the first byte of the hash in wire order.
	srv := serverReturning(t, "00000000000000000000000000000000000000000000000000000000000000ab")
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "user", "pass", 5*time.Second)
	h, err := c.GetBestBlockHash(context.Background())
	if err != nil {
		t.Fatalf("GetBestBlockHash: %v", err)
	}
	if h[0] != 0xab {
		t.Fatalf("expected byte-reversed hash with leading 0xab, got %x", h)
	}
}

func TestCallPropagatesRPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rpcResponse{Error: &rpcError{Code: -1, Message: "boom"}})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "user", "pass", 5*time.Second)
	if _, err := c.GetBlockCount(context.Background()); err == nil {
		t.Fatalf("expected error to propagate from rpc response")
	}
}

func TestGetMempoolEntryFillsScriptHashesFromRawTx(t *testing.T) {
	tx := wire.NewMsgTx(2)
	prevHash := [32]byte{1, 2, 3}
	tx.AddTxIn(&wire.TxIn{PreviousOutPoint: wire.OutPoint{Hash: prevHash, Index: 0}})
	tx.AddTxOut(&wire.TxOut{Value: 1000, PkScript: []byte{0x76, 0xa9, 0x14}})
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		t.Fatalf("serialize tx: %v", err)
	}
	rawHex := hex.EncodeToString(buf.Bytes())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		var result interface{}
		switch req.Method {
		case "getmempoolentry":
			result = mempoolEntryResponse{VSize: 200, Fee: 0.0001, Time: 1690000000}
		case "getrawtransaction":
			result = rawHex
		}
		raw, _ := json.Marshal(result)
		json.NewEncoder(w).Encode(rpcResponse{Result: raw})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "user", "pass", 5*time.Second)
	entry, err := c.GetMempoolEntry(context.Background(), [32]byte{0xaa})
	if err != nil {
		t.Fatalf("GetMempoolEntry: %v", err)
	}
	if len(entry.ScriptHashes) != 1 {
		t.Fatalf("expected one script hash, got %d", len(entry.ScriptHashes))
	}
	if len(entry.Spends) != 1 {
		t.Fatalf("expected one spend entry, got %d", len(entry.Spends))
	}
}

func TestGetRawMempoolEmpty(t *testing.T) {
	srv := serverReturning(t, []string{})
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "user", "pass", 5*time.Second)
	ids, err := c.GetRawMempool(context.Background())
	if err != nil {
		t.Fatalf("GetRawMempool: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty mempool, got %d", len(ids))
	}
}
