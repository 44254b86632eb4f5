package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"fieldtrack/internal/buildinfo"
	"fieldtrack/internal/metrics"
	"fieldtrack/internal/model"
)

// TrackLocationHandler handles POST /gps/track-location.
func (s *Server) TrackLocationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	pr := s.getPrincipal(r)
	if pr.UserID == "" {
		writeProblem(w, http.StatusBadRequest, "Validation failed", "user identity required", r.URL.Path)
		return
	}
	if !s.limits.allow(pr.UserID) {
		metrics.PingsRejected.WithLabelValues("rate_limited").Inc()
		writeProblem(w, http.StatusTooManyRequests, "Rate limited", "too many location updates", r.URL.Path)
		return
	}
	var in model.PingInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		metrics.PingsRejected.WithLabelValues("bad_json").Inc()
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	res, err := s.Tracker.TrackLocation(r.Context(), pr.UserID, in)
	if err != nil {
		metrics.PingsRejected.WithLabelValues("validation").Inc()
		writeError(w, r, err)
		return
	}
	metrics.PingsIngested.Inc()
	for _, evt := range res.GeofenceAlerts {
		metrics.GeofenceEvents.WithLabelValues(evt.EventType).Inc()
	}
	s.publishUpdates(r.Context(), pr.UserID, in, res)
	writeJSON(w, http.StatusCreated, res)
}

// publishUpdates fans the ingest result out to each of the rep's managers:
// live stream events always, webhook deliveries for geofence transitions.
func (s *Server) publishUpdates(ctx context.Context, userID string, in model.PingInput, res model.TrackResult) {
	managers, err := s.Dir.ManagersOf(ctx, userID)
	if err != nil {
		return
	}
	loc := StreamEvent{Type: "location.updated", Data: map[string]any{
		"user_id": userID, "lat": in.Lat, "lng": in.Lng, "location_id": res.LocationID,
	}}
	for _, mgr := range managers {
		s.Broker.Publish(mgr, loc)
		for _, evt := range res.GeofenceAlerts {
			kind := "geofence." + evt.EventType
			s.Broker.Publish(mgr, StreamEvent{Type: kind, Data: map[string]any{
				"user_id": userID, "geofence_id": evt.GeofenceID, "event_type": evt.EventType, "message": evt.Message,
			}})
			s.Pub.Emit(ctx, mgr, kind, evt)
		}
	}
}

// LocationHistoryHandler handles GET /gps/location-history/{user_id}.
func (s *Server) LocationHistoryHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/gps/location-history/")
	if userID == "" || strings.Contains(userID, "/") {
		writeProblem(w, http.StatusBadRequest, "Validation failed", "user_id required in path", r.URL.Path)
		return
	}
	pr := s.getPrincipal(r)
	if pr.UserID != userID && !pr.IsManager() {
		writeProblem(w, http.StatusForbidden, "Forbidden", "cannot view another user's history", r.URL.Path)
		return
	}
	hours := queryInt(r, "hours", 24)
	includeRoute := r.URL.Query().Get("include_route") == "true"
	now := time.Now().UTC()
	hist, err := s.Tracker.RouteHistory(r.Context(), userID, now.Add(-time.Duration(hours)*time.Hour), now, includeRoute)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

// TeamLocationsHandler handles GET /gps/team-locations.
func (s *Server) TeamLocationsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	pr, ok := s.requireManager(w, r)
	if !ok {
		return
	}
	window := time.Duration(queryInt(r, "include_history_hours", 0)) * time.Hour
	members, err := s.Team.TeamLocations(r.Context(), pr.UserID, window)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"team_members": members, "count": len(members)})
}

// CreateGeofenceHandler handles POST /gps/create-geofence.
func (s *Server) CreateGeofenceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	pr, ok := s.requireManager(w, r)
	if !ok {
		return
	}
	var in model.GeofenceInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	gf, err := s.Fences.Create(r.Context(), pr.UserID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, gf)
}

// GeofencesHandler handles GET /gps/geofences.
func (s *Server) GeofencesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	pr, ok := s.requireManager(w, r)
	if !ok {
		return
	}
	owner := pr.UserID
	if pr.Role == "admin" {
		owner = r.URL.Query().Get("owner_id") // admins may list all with no filter
	}
	fences, err := s.Store.ListGeofences(r.Context(), owner)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"geofences": fences, "count": len(fences)})
}

// GeofenceByIDHandler handles GET and DELETE /gps/geofences/{id}.
func (s *Server) GeofenceByIDHandler(w http.ResponseWriter, r *http.Request) {
	_, ok := s.requireManager(w, r)
	if !ok {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/gps/geofences/")
	if id == "" || strings.Contains(id, "/") {
		writeProblem(w, http.StatusBadRequest, "Validation failed", "geofence id required in path", r.URL.Path)
		return
	}
	switch r.Method {
	case http.MethodGet:
		gf, err := s.Store.GetGeofence(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, gf)
	case http.MethodDelete:
		if err := s.Fences.Deactivate(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
	}
}

// RouteOptimizationHandler handles GET /gps/route-optimization.
func (s *Server) RouteOptimizationHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	if _, ok := s.requireManager(w, r); !ok {
		return
	}
	userIDs := splitNonEmpty(r.URL.Query().Get("user_ids"), ",")
	targets, err := parseTargets(r.URL.Query().Get("target_locations"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	results, err := s.Planner.Plan(r.Context(), userIDs, targets)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"optimized_routes": results})
}

// parseTargets parses "lat,lng;lat,lng" into points.
func parseTargets(raw string) ([]model.GeoPoint, error) {
	var out []model.GeoPoint
	for _, part := range splitNonEmpty(raw, ";") {
		fields := strings.Split(part, ",")
		if len(fields) != 2 {
			return nil, model.Invalid("target_locations", "expected lat,lng pairs separated by ';'")
		}
		lat, err1 := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		lng, err2 := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err1 != nil || err2 != nil {
			return nil, model.Invalid("target_locations", "coordinates must be numeric")
		}
		out = append(out, model.GeoPoint{Lat: lat, Lng: lng})
	}
	return out, nil
}

func splitNonEmpty(raw, sep string) []string {
	var out []string
	for _, p := range strings.Split(raw, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AlertSubscriptionsHandler handles POST /gps/alert-subscriptions.
func (s *Server) AlertSubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	pr, ok := s.requireManager(w, r)
	if !ok {
		return
	}
	var in model.AlertSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	u, err := url.Parse(in.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		writeError(w, r, model.Invalid("url", "must be an absolute http(s) URL"))
		return
	}
	events := in.Events
	if len(events) == 0 {
		events = []string{"*"}
	}
	sub := model.AlertSubscription{
		ID:        uuid.New().String(),
		ManagerID: pr.UserID,
		URL:       in.URL,
		Events:    events,
		Secret:    in.Secret,
	}
	if err := s.Store.CreateAlertSubscription(r.Context(), sub); err != nil {
		writeError(w, r, err)
		return
	}
	sub.Secret = ""
	writeJSON(w, http.StatusCreated, sub)
}

// AlertDeliveriesHandler handles GET /gps/alert-deliveries.
func (s *Server) AlertDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, http.StatusMethodNotAllowed, "Method not allowed", "", r.URL.Path)
		return
	}
	pr, ok := s.requireManager(w, r)
	if !ok {
		return
	}
	manager := pr.UserID
	if pr.Role == "admin" {
		if q := r.URL.Query().Get("manager_id"); q != "" {
			manager = q
		}
	}
	items, err := s.Store.ListAlertDeliveries(r.Context(), manager, r.URL.Query().Get("status"), queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deliveries": items, "count": len(items)})
}

// EventsStreamHandler handles GET /gps/events/stream (SSE).
func (s *Server) EventsStreamHandler(w http.ResponseWriter, r *http.Request) {
	pr, ok := s.requireManager(w, r)
	if !ok {
		return
	}
	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeProblem(w, http.StatusInternalServerError, "Streaming unsupported", "", r.URL.Path)
		return
	}
	topic := pr.UserID
	if pr.Role == "admin" {
		if q := r.URL.Query().Get("manager_id"); q != "" {
			topic = q
		}
	}
	ch := s.Broker.Subscribe(topic)
	defer s.Broker.Unsubscribe(topic, ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()
	enc := func(evt StreamEvent) {
		data, _ := json.Marshal(evt.Data)
		_, _ = w.Write([]byte("event: " + evt.Type + "\ndata: " + string(data) + "\n\n"))
		flusher.Flush()
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			_, _ = w.Write([]byte(": keepalive\n\n"))
			flusher.Flush()
		case evt, open := <-ch:
			if !open {
				return
			}
			enc(evt)
		}
	}
}

// HealthHandler reports liveness with build metadata.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "build": buildinfo.Info()})
}

type pinger interface {
	Ping(ctx context.Context) error
}

// ReadyHandler reports readiness; with a Postgres store it pings the pool.
func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeProblem(w, http.StatusServiceUnavailable, "Not ready", err.Error(), r.URL.Path)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}
