package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// LiquidateConfig holds configuration for the liquidation scheduler.
type LiquidateConfig struct {
	RPCURL       string
	RPCTimeout   time.Duration
	Contract     string
	RelayURL     string
	RelayMethod  string
	PGDSN        string
	PGMaxConns   int32
	StoreTimeout time.Duration
	Interval     time.Duration
	BatchSize    int
	TxTimeout    time.Duration
	ReceiptPoll  time.Duration
	DryRun       bool
	Once         bool
	MetricsAddr  string
	LogLevel     string
}

// LoadLiquidate merges config file, environment variables, and flags into LiquidateConfig.
func LoadLiquidate(cfgFile string, flags *pflag.FlagSet) (LiquidateConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]any{
		"rpc-timeout":   30 * time.Second,
		"relay-method":  "relay_execute",
		"pg-max-conns":  3,
		"store-timeout": 15 * time.Second,
		"interval":      2 * time.Minute,
		"batch-size":    50,
		"tx-timeout":    120 * time.Second,
		"receipt-poll":  5 * time.Second,
		"metrics-addr":  ":9101",
		"log-level":     "info",
	})
	if err != nil {
		return LiquidateConfig{}, err
	}

	return LiquidateConfig{
		RPCURL:       v.GetString("rpc"),
		RPCTimeout:   v.GetDuration("rpc-timeout"),
		Contract:     v.GetString("contract"),
		RelayURL:     v.GetString("relay-url"),
		RelayMethod:  v.GetString("relay-method"),
		PGDSN:        v.GetString("pg-dsn"),
		PGMaxConns:   v.GetInt32("pg-max-conns"),
		StoreTimeout: v.GetDuration("store-timeout"),
		Interval:     v.GetDuration("interval"),
		BatchSize:    v.GetInt("batch-size"),
		TxTimeout:    v.GetDuration("tx-timeout"),
		ReceiptPoll:  v.GetDuration("receipt-poll"),
		DryRun:       v.GetBool("dry-run"),
		Once:         v.GetBool("once"),
		MetricsAddr:  v.GetString("metrics-addr"),
		LogLevel:     v.GetString("log-level"),
	}, nil
}

// Validate reports missing settings.
func (c LiquidateConfig) Validate() error {
	if c.PGDSN == "" {
		return fmt.Errorf("pg dsn is required")
	}
	if c.Contract == "" {
		return fmt.Errorf("contract address is required")
	}
	if c.DryRun {
		return nil
	}
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.RelayURL == "" {
		return fmt.Errorf("relay url is required unless dry-run is set")
	}
	return nil
}
