// Package config provides a viper-backed loader for the indexer's
// configuration: network selection, the upstream node's RPC endpoint,
// listen addresses, storage location, cache sizing, and connection
// limits.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/BitcoinUnlimited/ElectrsCash/pkg/utils"
)

// Network names the chain parameter set the indexer is tracking.
type Network string

const (
	Mainnet  Network = "mainnet"
	Testnet  Network = "testnet"
	Testnet4 Network = "testnet4"
	Scalenet Network = "scalenet"
	Regtest  Network = "regtest"
)

// Config is the unified runtime configuration.
type Config struct {
	Network Network `mapstructure:"network" json:"network"`

	Node struct {
		RPCAddr    string        `mapstructure:"rpc_addr" json:"rpc_addr"`
		RPCUser    string        `mapstructure:"rpc_user" json:"rpc_user"`
		RPCPass    string        `mapstructure:"rpc_pass" json:"rpc_pass"`
		RPCTimeout time.Duration `mapstructure:"rpc_timeout" json:"rpc_timeout"`
	} `mapstructure:"node" json:"node"`

	Server struct {
		ElectrumBindAddr string `mapstructure:"electrum_bind_addr" json:"electrum_bind_addr"`
		MetricsBindAddr  string `mapstructure:"metrics_bind_addr" json:"metrics_bind_addr"`
		Banner           string `mapstructure:"banner" json:"banner"`
		DonationAddress  string `mapstructure:"donation_address" json:"donation_address"`
	} `mapstructure:"server" json:"server"`

	Storage struct {
		DBPath         string `mapstructure:"db_path" json:"db_path"`
		BulkImport     bool   `mapstructure:"bulk_import" json:"bulk_import"`
		LowMemory      bool   `mapstructure:"low_memory" json:"low_memory"`
		IndexerWorkers int    `mapstructure:"indexer_workers" json:"indexer_workers"`
	} `mapstructure:"storage" json:"storage"`

	Cache struct {
		TxCacheBytes    uint64 `mapstructure:"tx_cache_bytes" json:"tx_cache_bytes"`
		ScriptCacheBytes uint64 `mapstructure:"script_cache_bytes" json:"script_cache_bytes"`
	} `mapstructure:"cache" json:"cache"`

	Limits struct {
		MaxTotalConnections int           `mapstructure:"max_total_connections" json:"max_total_connections"`
		MaxPerPrefix        int           `mapstructure:"max_per_prefix" json:"max_per_prefix"`
		RPCTimeout          time.Duration `mapstructure:"rpc_timeout" json:"rpc_timeout"`
		MaxSubscriptions    int           `mapstructure:"max_subscriptions" json:"max_subscriptions"`
		MaxAliasBytes        int           `mapstructure:"max_alias_bytes" json:"max_alias_bytes"`
	} `mapstructure:"limits" json:"limits"`

	CashAccount struct {
		Enabled          bool `mapstructure:"enabled" json:"enabled"`
		ActivationHeight int  `mapstructure:"activation_height" json:"activation_height"`
	} `mapstructure:"cashaccount" json:"cashaccount"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("network", string(Mainnet))
	v.SetDefault("node.rpc_addr", "http://127.0.0.1:8332")
	v.SetDefault("node.rpc_timeout", 30*time.Second)
	v.SetDefault("server.electrum_bind_addr", "0.0.0.0:50001")
	v.SetDefault("server.metrics_bind_addr", "127.0.0.1:4224")
	v.SetDefault("server.banner", "Welcome to an ElectrsCash-compatible server.")
	v.SetDefault("storage.db_path", "./db")
	v.SetDefault("storage.bulk_import", false)
	v.SetDefault("storage.low_memory", false)
	v.SetDefault("storage.indexer_workers", 0)
	v.SetDefault("cache.tx_cache_bytes", uint64(100<<20))
	v.SetDefault("cache.script_cache_bytes", uint64(50<<20))
	v.SetDefault("limits.max_total_connections", 10_000)
	v.SetDefault("limits.max_per_prefix", 20)
	v.SetDefault("limits.rpc_timeout", 30*time.Second)
	v.SetDefault("limits.max_subscriptions", 10_000)
	v.SetDefault("limits.max_alias_bytes", 128)
	v.SetDefault("cashaccount.enabled", false)
	v.SetDefault("cashaccount.activation_height", 0)
	v.SetDefault("logging.level", "info")
}

// Load reads configuration from configPath (if non-empty), merges
// environment variable overrides (prefixed ELECTRSCASH_, e.g.
// ELECTRSCASH_NODE_RPC_ADDR), and returns the unmarshaled Config.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("electrscash")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("read config %s", configPath))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &cfg, nil
}
