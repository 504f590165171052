package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds configuration for the run command, loaded from flags, env,
// or config file.
type Config struct {
	RPCURL        string
	RPCTimeout    time.Duration
	Contract      string
	FromBlock     uint64
	ToBlock       uint64
	MaxBlockRange uint64
	ChunkSize     int
	PollInterval  time.Duration
	Follow        bool
	MaxRetries    int
	RetryBackoff  time.Duration
	SelectorMap   map[string]string
	ResolveTerms  bool
	PGDSN         string
	PGMaxConns    int32
	StoreTimeout  time.Duration
	CursorName    string
	Migrate       bool
	DryRun        bool
	Archive       string
	MetricsAddr   string
	LogLevel      string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, map[string]any{
		"rpc-timeout":     30 * time.Second,
		"max-block-range": uint64(500),
		"chunk-size":      100,
		"poll-interval":   10 * time.Second,
		"follow":          true,
		"max-retries":     5,
		"retry-backoff":   500 * time.Millisecond,
		"resolve-terms":   true,
		"pg-max-conns":    4,
		"store-timeout":   15 * time.Second,
		"cursor-name":     "lending",
		"migrate":         true,
		"metrics-addr":    ":9100",
		"log-level":       "info",
	})
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		RPCURL:        v.GetString("rpc"),
		RPCTimeout:    v.GetDuration("rpc-timeout"),
		Contract:      v.GetString("contract"),
		FromBlock:     v.GetUint64("from"),
		ToBlock:       v.GetUint64("to"),
		MaxBlockRange: v.GetUint64("max-block-range"),
		ChunkSize:     v.GetInt("chunk-size"),
		PollInterval:  v.GetDuration("poll-interval"),
		Follow:        v.GetBool("follow"),
		MaxRetries:    v.GetInt("max-retries"),
		RetryBackoff:  v.GetDuration("retry-backoff"),
		SelectorMap:   getStringMap(v, "selector-map"),
		ResolveTerms:  v.GetBool("resolve-terms"),
		PGDSN:         v.GetString("pg-dsn"),
		PGMaxConns:    v.GetInt32("pg-max-conns"),
		StoreTimeout:  v.GetDuration("store-timeout"),
		CursorName:    v.GetString("cursor-name"),
		Migrate:       v.GetBool("migrate"),
		DryRun:        v.GetBool("dry-run"),
		Archive:       v.GetString("archive"),
		MetricsAddr:   v.GetString("metrics-addr"),
		LogLevel:      v.GetString("log-level"),
	}

	return cfg, nil
}

// Validate reports missing or inconsistent settings.
func (c Config) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.Contract == "" {
		return fmt.Errorf("contract address is required")
	}
	if c.MaxBlockRange == 0 {
		return fmt.Errorf("max-block-range must be greater than zero")
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk-size must be greater than zero")
	}
	if c.ToBlock != 0 && c.ToBlock < c.FromBlock {
		return fmt.Errorf("to block must be >= from block")
	}
	if !c.DryRun && c.PGDSN == "" {
		return fmt.Errorf("pg dsn is required unless dry-run is set")
	}
	return nil
}

// newViper builds a viper instance bound to env (INDEXER_ prefix), flags and
// an optional config file, with the given defaults.
func newViper(cfgFile string, flags *pflag.FlagSet, defaults map[string]any) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("INDEXER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func getStringMap(v *viper.Viper, key string) map[string]string {
	if !v.IsSet(key) {
		return map[string]string{}
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case map[string]string:
		return typed
	case map[string]interface{}:
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			out[k] = fmt.Sprintf("%v", v)
		}
		return out
	case string:
		return parseStringMap(typed)
	default:
		return map[string]string{}
	}
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	for _, pair := range strings.Split(input, ",") {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
