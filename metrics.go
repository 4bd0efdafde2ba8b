package ftpsession

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsReporter is a Reporter that exports transfer counters to
// Prometheus. Only terminal records (complete or failed) are counted.
type MetricsReporter struct {
	transfers *prometheus.CounterVec
	bytes     *prometheus.CounterVec
	active    *prometheus.GaugeVec

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMetricsReporter registers the transfer metrics with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewMetricsReporter(reg prometheus.Registerer) *MetricsReporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &MetricsReporter{
		transfers: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpsession_transfers_total",
				Help: "Finished transfers by direction and final status",
			},
			[]string{"direction", "status"},
		),
		bytes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ftpsession_transfer_bytes_total",
				Help: "Bytes moved by finished transfers",
			},
			[]string{"direction"},
		),
		active: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ftpsession_transfers_active",
				Help: "Transfers that have reported progress but not finished",
			},
			[]string{"direction"},
		),
		seen: make(map[string]struct{}),
	}
}

// Report implements Reporter.
func (m *MetricsReporter) Report(p TransferProgress) {
	dir := direction(p.TransferID)

	m.mu.Lock()
	defer m.mu.Unlock()

	switch p.Status {
	case StatusDownloading:
		if _, ok := m.seen[p.TransferID]; !ok {
			m.seen[p.TransferID] = struct{}{}
			m.active.WithLabelValues(dir).Inc()
		}
	case StatusComplete, StatusFailed:
		if _, ok := m.seen[p.TransferID]; ok {
			delete(m.seen, p.TransferID)
			m.active.WithLabelValues(dir).Dec()
		}
		m.transfers.WithLabelValues(dir, string(p.Status)).Inc()
		m.bytes.WithLabelValues(dir).Add(float64(p.Progress))
	}
}

func direction(transferID string) string {
	switch {
	case strings.HasPrefix(transferID, downloadPrefix):
		return "download"
	case strings.HasPrefix(transferID, uploadPrefix):
		return "upload"
	case strings.HasPrefix(transferID, folderPrefix):
		return "folder"
	default:
		return "unknown"
	}
}
