package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// PingsIngested counts accepted location pings
	PingsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "location_pings_ingested_total", Help: "Location pings accepted and stored."},
	)
	// PingsRejected counts rejected pings by reason
	PingsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "location_pings_rejected_total", Help: "Location pings rejected at ingest."},
		[]string{"reason"},
	)
	// GeofenceEvents counts emitted transitions by event type
	GeofenceEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "geofence_events_total", Help: "Geofence entry/exit events emitted."},
		[]string{"event_type"},
	)
	// AlertDeliveries counts alert delivery outcomes by event type and status
	AlertDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "alert_deliveries_total", Help: "Alert deliveries by event type and status."},
		[]string{"event_type", "status"},
	)
	// AlertLatency tracks alert delivery latencies in milliseconds
	AlertLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "alert_delivery_latency_ms", Help: "Alert delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000}},
		[]string{"event_type", "status"},
	)
)

// RegisterDefault registers collectors to the dedicated registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(PingsIngested)
		Registry.MustRegister(PingsRejected)
		Registry.MustRegister(GeofenceEvents)
		Registry.MustRegister(AlertDeliveries)
		Registry.MustRegister(AlertLatency)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
