// Package metrics exposes run counters in Prometheus format. A run writes
// them to a textfile at the end so a node exporter can pick them up.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Subprocess kinds used as label values.
const (
	KindExtract = "extract"
	KindCatalog = "catalog"
)

// Metrics holds the collectors of one run. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FilesHashed        prometheus.Counter
	HashRetries        prometheus.Counter
	HashVanished       prometheus.Counter
	HashFailures       prometheus.Counter
	ArchiveGroups      prometheus.Counter
	ArchivesExtracted  prometheus.Counter
	Changes            *prometheus.CounterVec
	CatalogCandidates  prometheus.Counter
	SubprocessesTotal  *prometheus.CounterVec
	SubprocessesLive   *prometheus.GaugeVec
	SubprocessFailures *prometheus.CounterVec
	PhaseDuration      *prometheus.GaugeVec
	LastRunTimestamp   prometheus.Gauge
	LastRunSuccess     prometheus.Gauge
}

// New registers a fresh set of collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		FilesHashed: f.NewCounter(prometheus.CounterOpts{
			Name: "eae_files_hashed_total",
			Help: "Total number of files digested",
		}),
		HashRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "eae_hash_retries_total",
			Help: "Total number of hash attempts retried after a transient I/O error",
		}),
		HashVanished: f.NewCounter(prometheus.CounterOpts{
			Name: "eae_hash_vanished_total",
			Help: "Total number of files that disappeared before they could be hashed",
		}),
		HashFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "eae_hash_failures_total",
			Help: "Total number of files that could not be hashed",
		}),
		ArchiveGroups: f.NewCounter(prometheus.CounterOpts{
			Name: "eae_archive_groups_total",
			Help: "Total number of archive groups examined",
		}),
		ArchivesExtracted: f.NewCounter(prometheus.CounterOpts{
			Name: "eae_archive_groups_extracted_total",
			Help: "Total number of archive groups handed to the extraction service",
		}),
		Changes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eae_file_changes_total",
			Help: "Total number of extracted files by change status",
		}, []string{"status"}),
		CatalogCandidates: f.NewCounter(prometheus.CounterOpts{
			Name: "eae_catalog_candidates_total",
			Help: "Total number of distinct blueprint names sent to the catalog service",
		}),
		SubprocessesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eae_subprocesses_started_total",
			Help: "Total number of tool subprocesses started",
		}, []string{"kind"}),
		SubprocessesLive: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eae_subprocesses_live",
			Help: "Number of tool subprocesses currently running",
		}, []string{"kind"}),
		SubprocessFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "eae_subprocess_failures_total",
			Help: "Total number of tool subprocesses that exited with an error",
		}, []string{"kind"}),
		PhaseDuration: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eae_phase_duration_seconds",
			Help: "Duration of each pipeline phase in the last run",
		}, []string{"phase"}),
		LastRunTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Name: "eae_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
		LastRunSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "eae_last_run_success",
			Help: "1 if the last run completed without error",
		}),
	}
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) FileHashed() {
	if m != nil {
		m.FilesHashed.Inc()
	}
}

func (m *Metrics) HashRetried() {
	if m != nil {
		m.HashRetries.Inc()
	}
}

func (m *Metrics) FileVanished() {
	if m != nil {
		m.HashVanished.Inc()
	}
}

func (m *Metrics) HashFailed() {
	if m != nil {
		m.HashFailures.Inc()
	}
}

func (m *Metrics) GroupExamined(extracted bool) {
	if m == nil {
		return
	}
	m.ArchiveGroups.Inc()
	if extracted {
		m.ArchivesExtracted.Inc()
	}
}

func (m *Metrics) Change(status string) {
	if m != nil {
		m.Changes.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) CandidateScheduled() {
	if m != nil {
		m.CatalogCandidates.Inc()
	}
}

// ProcessStarted and ProcessExited track the live gauge per kind.
func (m *Metrics) ProcessStarted(kind string) {
	if m == nil {
		return
	}
	m.SubprocessesTotal.WithLabelValues(kind).Inc()
	m.SubprocessesLive.WithLabelValues(kind).Inc()
}

func (m *Metrics) ProcessExited(kind string, failed bool) {
	if m == nil {
		return
	}
	m.SubprocessesLive.WithLabelValues(kind).Dec()
	if failed {
		m.SubprocessFailures.WithLabelValues(kind).Inc()
	}
}

// ObservePhase records how long a phase took.
func (m *Metrics) ObservePhase(phase string, start time.Time) {
	if m != nil {
		m.PhaseDuration.WithLabelValues(phase).Set(time.Since(start).Seconds())
	}
}

// RunFinished stamps the outcome of the run.
func (m *Metrics) RunFinished(success bool) {
	if m == nil {
		return
	}
	m.LastRunTimestamp.SetToCurrentTime()
	if success {
		m.LastRunSuccess.Set(1)
	} else {
		m.LastRunSuccess.Set(0)
	}
}

// WriteTextfile writes every collector to path in the text exposition
// format. An empty path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
