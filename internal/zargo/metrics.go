package zargo

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"

	"github.com/mesh-intelligence/zargo/internal/archive"
)

// Status label values.
const (
	statusOK        = "ok"
	statusError     = "error"
	statusCancelled = "cancelled"
)

var (
	loadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zargo_loads_total",
		Help: "Project loads by archive layout and status",
	}, []string{"layout", "status"})

	savesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zargo_saves_total",
		Help: "Project saves by status",
	}, []string{"status"})

	rollbacksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zargo_save_rollbacks_total",
		Help: "Saves that restored the previous archive after a write failure",
	})

	strippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "zargo_stripped_characters_total",
		Help: "Control characters removed while combining legacy entries",
	}, []string{"char"})

	unsafeEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "zargo_unsafe_entries_total",
		Help: "Archive entries dropped by the entry name validator",
	})

	durationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "zargo_operation_duration_seconds",
		Help:    "Duration of project loads and saves",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation", "status"})
)

var tracer = otel.Tracer("zargo.persister")

func init() {
	archive.OnUnsafeEntry(unsafeEntriesTotal.Inc)
}

func statusOf(err error, cancelled bool) string {
	switch {
	case err == nil:
		return statusOK
	case cancelled:
		return statusCancelled
	}
	return statusError
}
