package main

import (
	"bufio"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fieldtrack/internal/api"
	"fieldtrack/internal/metrics"
)

func main() {
	srvDeps, err := api.NewServer()
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	metrics.RegisterDefault()

	mux := http.NewServeMux()

	// Tracking
	mux.HandleFunc("/gps/track-location", srvDeps.TrackLocationHandler)
	mux.HandleFunc("/gps/location-history/", srvDeps.LocationHistoryHandler)

	// Team view
	mux.HandleFunc("/gps/team-locations", srvDeps.TeamLocationsHandler)

	// Geofences
	mux.HandleFunc("/gps/create-geofence", srvDeps.CreateGeofenceHandler)
	mux.HandleFunc("/gps/geofences", srvDeps.GeofencesHandler)
	mux.HandleFunc("/gps/geofences/", srvDeps.GeofenceByIDHandler)

	// Route optimization
	mux.HandleFunc("/gps/route-optimization", srvDeps.RouteOptimizationHandler)

	// Alerts
	mux.HandleFunc("/gps/alert-subscriptions", srvDeps.AlertSubscriptionsHandler)
	mux.HandleFunc("/gps/alert-deliveries", srvDeps.AlertDeliveriesHandler)

	// Live streams
	mux.HandleFunc("/gps/events/stream", srvDeps.EventsStreamHandler)
	mux.HandleFunc("/gps/live", srvDeps.LiveHandler)

	// Health and docs
	mux.HandleFunc("/healthz", srvDeps.HealthHandler)
	mux.HandleFunc("/readyz", srvDeps.ReadyHandler)
	mux.HandleFunc("/openapi.yaml", srvDeps.OpenAPIHandler)
	mux.HandleFunc("/docs", srvDeps.DocsHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("API listening on %s", addr)
	worker := srvDeps.NewAlertWorker()
	worker.Start()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is forwarded so the websocket upgrade works through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := w.ResponseWriter.(http.Hijacker); ok {
		return hj.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		dur := time.Since(start)
		status := strconv.Itoa(sw.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(dur.Seconds())
		log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, dur)
	})
}
