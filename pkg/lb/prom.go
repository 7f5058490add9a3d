package lb

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promInitialized               uint32
	promConnectionsAccepted       *prometheus.CounterVec
	promConnectionsRejected       *prometheus.CounterVec
	promActiveConnections         *prometheus.GaugeVec
	promReadBytes                 *prometheus.CounterVec
	promWriteBytes                *prometheus.CounterVec
	promParseErrors               *prometheus.CounterVec
	promBackendConnectErrors      *prometheus.CounterVec
	promConnectionDurationSeconds *prometheus.HistogramVec
	promDriverLoopIterationsTotal *prometheus.CounterVec
)

func init() {
	promRegister(promauto.With(nil), "")
}

// PromInitialize registers the metrics with the default registerer under
// namespace. It can be called once.
func PromInitialize(namespace string) {
	if !atomic.CompareAndSwapUint32(&promInitialized, 0, 1) {
		panic("prometheus already set")
	}
	promRegister(promauto.With(prometheus.DefaultRegisterer), namespace)
}

func promRegister(factory promauto.Factory, namespace string) {
	histogramBuckets := prometheus.LinearBuckets(0.05, 0.05, 20)
	for i := range histogramBuckets {
		x := &histogramBuckets[i]
		*x = roundP(*x, 2)
	}
	histogramBuckets = append([]float64{.005, .01, .025}, append(histogramBuckets, []float64{2.5, 5, 10, 30, 60}...)...)

	promConnectionsAccepted = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "listener",
		Name:      "accepted_connections_total",
	}, []string{"listener"})

	promConnectionsRejected = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "listener",
		Name:      "rejected_connections_total",
	}, []string{"listener"})

	promActiveConnections = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "listener",
		Name:      "active_connections",
	}, []string{"listener"})

	promReadBytes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "read_bytes",
	}, []string{"listener", "side"})

	promWriteBytes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "write_bytes",
	}, []string{"listener", "side"})

	promParseErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "parse_errors_total",
	}, []string{"listener", "kind"})

	promBackendConnectErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "backend",
		Name:      "connect_errors_total",
	}, []string{"listener"})

	promConnectionDurationSeconds = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "connection",
		Name:      "duration_seconds",
		Buckets:   histogramBuckets,
	}, []string{"listener"})

	promDriverLoopIterationsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "driver",
		Name:      "loop_iterations_total",
	}, []string{"listener"})
}
