package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.String("contract", "", "")
	flags.Uint64("from", 0, "")
	flags.Uint64("to", 0, "")
	flags.Uint64("max-block-range", 0, "")
	flags.Bool("dry-run", false, "")
	return flags
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", runFlags())
	require.NoError(t, err)

	assert.Equal(t, uint64(500), cfg.MaxBlockRange)
	assert.Equal(t, 100, cfg.ChunkSize)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBackoff)
	assert.Equal(t, int32(4), cfg.PGMaxConns)
	assert.Equal(t, 15*time.Second, cfg.StoreTimeout)
	assert.True(t, cfg.Follow)
	assert.True(t, cfg.ResolveTerms)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.SelectorMap)
}

func TestLoadFlagsAndEnv(t *testing.T) {
	t.Setenv("INDEXER_CONTRACT", "0xc0")
	t.Setenv("INDEXER_PG_DSN", "postgres://localhost/lending")
	t.Setenv("INDEXER_SELECTOR_MAP", "0x1=cancelled, 0x2=repaid")

	flags := runFlags()
	require.NoError(t, flags.Parse([]string{"--rpc", "http://node", "--from", "10", "--to", "20", "--max-block-range", "50"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "http://node", cfg.RPCURL)
	assert.Equal(t, "0xc0", cfg.Contract)
	assert.Equal(t, uint64(10), cfg.FromBlock)
	assert.Equal(t, uint64(20), cfg.ToBlock)
	assert.Equal(t, uint64(50), cfg.MaxBlockRange)
	assert.Equal(t, map[string]string{"0x1": "cancelled", "0x2": "repaid"}, cfg.SelectorMap)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexer.yaml")
	content := []byte("rpc: http://file-node\ncontract: \"0xabc\"\npoll-interval: 3s\nselector-map:\n  \"0x5\": liquidated\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path, runFlags())
	require.NoError(t, err)
	assert.Equal(t, "http://file-node", cfg.RPCURL)
	assert.Equal(t, "0xabc", cfg.Contract)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, "liquidated", cfg.SelectorMap["0x5"])
}

func TestLoadMissingConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := Config{RPCURL: "http://node", Contract: "0xc", MaxBlockRange: 500, ChunkSize: 100, PGDSN: "postgres://"}
	require.NoError(t, base.Validate())

	cases := map[string]func(*Config){
		"no rpc":      func(c *Config) { c.RPCURL = "" },
		"no contract": func(c *Config) { c.Contract = "" },
		"zero range":  func(c *Config) { c.MaxBlockRange = 0 },
		"zero chunk":  func(c *Config) { c.ChunkSize = 0 },
		"inverted":    func(c *Config) { c.FromBlock, c.ToBlock = 10, 5 },
		"no store":    func(c *Config) { c.PGDSN = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	dry := base
	dry.PGDSN, dry.DryRun = "", true
	assert.NoError(t, dry.Validate())
}

func TestLoadLiquidateDefaults(t *testing.T) {
	cfg, err := LoadLiquidate("", nil)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.Interval)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 120*time.Second, cfg.TxTimeout)
	assert.Equal(t, int32(3), cfg.PGMaxConns)
	assert.Equal(t, 15*time.Second, cfg.StoreTimeout)
	assert.Equal(t, "relay_execute", cfg.RelayMethod)

	assert.Error(t, cfg.Validate())
	cfg.PGDSN, cfg.Contract, cfg.DryRun = "postgres://", "0xc", true
	assert.NoError(t, cfg.Validate())
	cfg.DryRun = false
	assert.Error(t, cfg.Validate(), "relay url required for live runs")
}

func TestParseStringMap(t *testing.T) {
	got := parseStringMap("a=b, bad, =x, c = d")
	assert.Equal(t, map[string]string{"a": "b", "c": "d"}, got)
}
