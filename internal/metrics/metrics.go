// Package metrics exposes Prometheus counters for the data engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChangePages counts pages served by the change cursor engine.
	ChangePages = promauto.NewCounter(prometheus.CounterOpts{
		Name: "depot_change_pages_total",
		Help: "Total number of change-feed pages served",
	})

	// TieGroupOverflows counts tie-group queries that hit the safety
	// ceiling, a lossy condition where ties beyond the cap may be skipped.
	TieGroupOverflows = promauto.NewCounter(prometheus.CounterOpts{
		Name: "depot_tie_group_overflows_total",
		Help: "Total number of tie-group queries that hit the safety ceiling",
	})

	// SearchQueries counts composed search executions.
	SearchQueries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "depot_search_queries_total",
		Help: "Total number of search queries executed",
	})

	// MetadataDocuments counts metadata documents written by rebuild passes.
	MetadataDocuments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "depot_metadata_documents_total",
		Help: "Total number of metadata documents written",
	})

	// RebuildFailures counts individual metadata write failures.
	RebuildFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "depot_rebuild_failures_total",
		Help: "Total number of failed metadata document writes",
	})

	// AssetsIngested counts assets registered through the import watcher.
	AssetsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "depot_assets_ingested_total",
		Help: "Total number of assets ingested from the import directory",
	})
)
