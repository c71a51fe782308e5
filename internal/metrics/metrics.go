package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StreamCollector exposes Prometheus metrics for stream replicas.
type StreamCollector struct {
	registry        *prometheus.Registry
	bytesCopied     *prometheus.CounterVec
	connects        *prometheus.CounterVec
	replicasDone    *prometheus.CounterVec
	replicaDuration *prometheus.HistogramVec
	activeReplicas  prometheus.Gauge
}

// NewStreamCollector constructs a collector on its own registry.
func NewStreamCollector() (*StreamCollector, error) {
	registry := prometheus.NewRegistry()

	bytesCopied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamdump",
		Subsystem: "stream",
		Name:      "bytes_copied_total",
		Help:      "Bytes copied from the stream into the replica output.",
	}, []string{"replica"})

	connects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamdump",
		Subsystem: "stream",
		Name:      "connects_total",
		Help:      "Connection attempts by HTTP status, or \"error\" for transport failures.",
	}, []string{"status"})

	replicasDone := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "streamdump",
		Subsystem: "stream",
		Name:      "replicas_finished_total",
		Help:      "Replicas that finished, by outcome.",
	}, []string{"outcome"})

	replicaDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "streamdump",
		Subsystem: "stream",
		Name:      "replica_duration_seconds",
		Help:      "How long replicas ran before finishing.",
		Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
	}, []string{"outcome"})

	activeReplicas := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "streamdump",
		Subsystem: "stream",
		Name:      "active_replicas",
		Help:      "Replicas currently connected or copying.",
	})

	for _, c := range []prometheus.Collector{bytesCopied, connects, replicasDone, replicaDuration, activeReplicas} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	return &StreamCollector{
		registry:        registry,
		bytesCopied:     bytesCopied,
		connects:        connects,
		replicasDone:    replicasDone,
		replicaDuration: replicaDuration,
		activeReplicas:  activeReplicas,
	}, nil
}

// Handler returns an HTTP handler for exposing Prometheus metrics.
func (c *StreamCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ReplicaStarted marks a replica as active.
func (c *StreamCollector) ReplicaStarted(replica int) {
	c.activeReplicas.Inc()
}

// Connected records a connection attempt. status is 0 for transport failures.
func (c *StreamCollector) Connected(replica, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	c.connects.WithLabelValues(label).Inc()
}

// Copied records n bytes written by a replica.
func (c *StreamCollector) Copied(replica, n int) {
	c.bytesCopied.WithLabelValues(strconv.Itoa(replica)).Add(float64(n))
}

// ReplicaFinished marks a replica as done.
func (c *StreamCollector) ReplicaFinished(replica int, outcome string, elapsed time.Duration) {
	c.activeReplicas.Dec()
	c.replicasDone.WithLabelValues(outcome).Inc()
	c.replicaDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
