package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// QueryConfig holds configuration for the query command.
type QueryConfig struct {
	PGDSN      string
	PGMaxConns int32
	CursorName string
	Limit      int
	Now        uint64
	LogLevel   string
}

// LoadQuery merges config file, environment variables, and flags into QueryConfig.
func LoadQuery(cfgFile string, flags *pflag.FlagSet) (QueryConfig, error) {
	v, err := newViper(cfgFile, flags, map[string]any{
		"pg-max-conns": 2,
		"cursor-name":  "lending",
		"limit":        50,
		"log-level":    "warn",
	})
	if err != nil {
		return QueryConfig{}, err
	}

	cfg := QueryConfig{
		PGDSN:      v.GetString("pg-dsn"),
		PGMaxConns: v.GetInt32("pg-max-conns"),
		CursorName: v.GetString("cursor-name"),
		Limit:      v.GetInt("limit"),
		Now:        v.GetUint64("now"),
		LogLevel:   v.GetString("log-level"),
	}
	if cfg.PGDSN == "" {
		return QueryConfig{}, fmt.Errorf("pg dsn is required")
	}
	return cfg, nil
}
