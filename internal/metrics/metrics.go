// Package metrics exposes Prometheus instruments for the indexer and the
// liquidation scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Indexer holds the ingestion pipeline instruments.
type Indexer struct {
	Events       *prometheus.CounterVec
	Unrecognized prometheus.Counter
	FetchRetries prometheus.Counter
	Cursor       prometheus.Gauge
	Head         prometheus.Gauge
	BatchSeconds prometheus.Histogram
}

// NewIndexer creates and registers the pipeline instruments on reg.
func NewIndexer(reg prometheus.Registerer) *Indexer {
	m := &Indexer{
		Events: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "lending_indexer_events_total", Help: "Events reconciled by kind and outcome"},
			[]string{"kind", "outcome"},
		),
		Unrecognized: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "lending_indexer_unrecognized_total", Help: "Logs with an unknown selector"},
		),
		FetchRetries: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "lending_indexer_fetch_retries_total", Help: "Retried node calls"},
		),
		Cursor: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "lending_indexer_cursor_block", Help: "Last fully reconciled block"},
		),
		Head: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "lending_indexer_head_block", Help: "Latest block reported by the node"},
		),
		BatchSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{Name: "lending_indexer_batch_duration_seconds", Help: "Time to ingest one block range", Buckets: prometheus.DefBuckets},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Events, m.Unrecognized, m.FetchRetries, m.Cursor, m.Head, m.BatchSeconds)
	}
	return m
}

// Liquidation holds the scheduler instruments.
type Liquidation struct {
	Attempts   *prometheus.CounterVec
	Candidates prometheus.Gauge
	Ticks      prometheus.Counter
}

// NewLiquidation creates and registers the scheduler instruments on reg.
func NewLiquidation(reg prometheus.Registerer) *Liquidation {
	m := &Liquidation{
		Attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "lending_liquidation_attempts_total", Help: "Liquidation attempts by result"},
			[]string{"result"},
		),
		Candidates: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "lending_liquidation_candidates", Help: "Overdue agreements found by the last tick"},
		),
		Ticks: prometheus.NewCounter(
			prometheus.CounterOpts{Name: "lending_liquidation_ticks_total", Help: "Scheduler ticks"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Attempts, m.Candidates, m.Ticks)
	}
	return m
}
