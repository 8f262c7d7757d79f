package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutConfigFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network != Mainnet {
		t.Fatalf("network = %q, want mainnet", cfg.Network)
	}
	if cfg.Server.ElectrumBindAddr != "0.0.0.0:50001" {
		t.Fatalf("unexpected electrum bind addr: %q", cfg.Server.ElectrumBindAddr)
	}
	if cfg.Limits.RPCTimeout != 30*time.Second {
		t.Fatalf("unexpected rpc timeout: %v", cfg.Limits.RPCTimeout)
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "network: testnet\nstorage:\n  db_path: /tmp/testdb\ncashaccount:\n  enabled: true\n  activation_height: 600000\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network != Testnet {
		t.Fatalf("network = %q, want testnet", cfg.Network)
	}
	if cfg.Storage.DBPath != "/tmp/testdb" {
		t.Fatalf("unexpected db path: %q", cfg.Storage.DBPath)
	}
	if !cfg.CashAccount.Enabled || cfg.CashAccount.ActivationHeight != 600000 {
		t.Fatalf("unexpected cashaccount config: %+v", cfg.CashAccount)
	}
}

func TestLoadMissingFileReturnsError(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatalf("expected error loading nonexistent config file")
	}
}

func TestEnvironmentOverride(t *testing.T) {
	os.Setenv("ELECTRSCASH_NETWORK", "regtest")
	defer os.Unsetenv("ELECTRSCASH_NETWORK")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network != Regtest {
		t.Fatalf("network = %q, want regtest (from env override)", cfg.Network)
	}
}
