package rpc

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/BitcoinUnlimited/ElectrsCash/internal/chain"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/doslimit"
	"github.com/BitcoinUnlimited/ElectrsCash/internal/mempool"
)

func newTestServer() *Server {
	cfg := Config{
		ServerVersion: "test/1.0",
		Banner:        "test banner",
		ConnLimits:    doslimit.DefaultConnectionLimits(),
	}
	return New(cfg, nil, mempool.New(), chain.New(), nil, nil, nil)
}

func TestServerVersionDispatch(t *testing.T) {
	s := newTestServer()
	fn, ok := s.methods["server.version"]
	if !ok {
		t.Fatalf("server.version not registered")
	}
	result, rpcErr := fn(context.Background(), nil, nil)
	if rpcErr != nil {
		t.Fatalf("unexpected error: %v", rpcErr)
	}
	versions, ok := result.([]string)
	if !ok || len(versions) != 2 || versions[0] != "test/1.0" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestPeersSubscribeAndAddPeerAreInertStubs(t *testing.T) {
	s := newTestServer()
	if _, rpcErr := s.methods["server.peers.subscribe"](context.Background(), nil, nil); rpcErr != nil {
		t.Fatalf("unexpected error: %v", rpcErr)
	}
	result, rpcErr := s.methods["server.add_peer"](context.Background(), nil, nil)
	if rpcErr != nil {
		t.Fatalf("unexpected error: %v", rpcErr)
	}
	if result != true {
		t.Fatalf("expected server.add_peer to report success, got %v", result)
	}
}

func TestCashAccountQueryNameDisabledReturnsError(t *testing.T) {
	s := newTestServer()
	s.cfg.CashAccountEnabled = false
	params, _ := json.Marshal([]interface{}{"satoshi", 600000})
	_, rpcErr := s.methods["cashaccount.query.name"](context.Background(), nil, params)
	if rpcErr == nil {
		t.Fatalf("expected error when cashaccount indexing disabled")
	}
}

func TestUnknownMethodNotInDispatchTable(t *testing.T) {
	s := newTestServer()
	if _, ok := s.methods["not.a.real.method"]; ok {
		t.Fatalf("unexpected method registered")
	}
}

func TestMempoolFeeHistogramEmpty(t *testing.T) {
	s := newTestServer()
	result, rpcErr := s.methods["mempool.get_fee_histogram"](context.Background(), nil, nil)
	if rpcErr != nil {
		t.Fatalf("unexpected error: %v", rpcErr)
	}
	bins, ok := result.([][2]float64)
	if !ok || len(bins) != 0 {
		t.Fatalf("expected empty histogram, got %+v", result)
	}
}

func TestServerFeaturesReportsHashFunction(t *testing.T) {
	s := newTestServer()
	result, rpcErr := s.methods["server.features"](context.Background(), nil, nil)
	if rpcErr != nil {
		t.Fatalf("unexpected error: %v", rpcErr)
	}
	features, ok := result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result type: %T", result)
	}
	if features["hash_function"] != "sha256" {
		t.Fatalf("expected hash_function sha256, got %+v", features["hash_function"])
	}
}

func TestAddressGetScripthashDecodesLegacyAddress(t *testing.T) {
	s := newTestServer()
	// A well-known mainnet P2PKH address (genesis coinbase payee).
	params, _ := json.Marshal([]interface{}{"1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa"})
	result, rpcErr := s.methods["blockchain.address.get_scripthash"](context.Background(), nil, params)
	if rpcErr != nil {
		t.Fatalf("unexpected error: %v", rpcErr)
	}
	hex, ok := result.(string)
	if !ok || len(hex) != 64 {
		t.Fatalf("expected a 32-byte hex script hash, got %+v", result)
	}
}

func TestAddressGetScripthashRejectsGarbage(t *testing.T) {
	s := newTestServer()
	params, _ := json.Marshal([]interface{}{"not-an-address"})
	_, rpcErr := s.methods["blockchain.address.get_scripthash"](context.Background(), nil, params)
	if rpcErr == nil {
		t.Fatalf("expected error decoding an invalid address")
	}
}

func TestSSLSniffPrefixDetection(t *testing.T) {
	if !bytesEqual(sslSniffPrefix, []byte{0x16, 0x03, 0x01}) {
		t.Fatalf("unexpected ssl sniff prefix")
	}
	if bytesEqual([]byte{0x7b, 0x22}, sslSniffPrefix) {
		t.Fatalf("a JSON request's leading bytes should not match the TLS sniff prefix")
	}
}
