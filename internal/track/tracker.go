// Package track implements location ingestion and route history for field
// reps: one append-only ping stream per user, with distance, statistics, and
// dwell detection derived on read.
package track

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"fieldtrack/internal/config"
	"fieldtrack/internal/geo"
	"fieldtrack/internal/model"
	"fieldtrack/internal/store"
)

// FenceEvaluator is the geofence engine hook run after each successful
// ingest. Evaluation failures never fail the ingest.
type FenceEvaluator interface {
	EvaluateTransition(ctx context.Context, userID string, prev *model.GeoPoint, curr model.GeoPoint, at time.Time) []model.GeofenceEvent
}

// Tracker is the ingestion service.
type Tracker struct {
	cfg    config.Config
	store  store.Store
	fences FenceEvaluator // nil disables geofence evaluation
	last   *LastSeenCache
}

func NewTracker(cfg config.Config, s store.Store, fences FenceEvaluator) *Tracker {
	return &Tracker{cfg: cfg, store: s, fences: fences, last: NewLastSeenCache()}
}

// LastKnown returns the most recent ping for a user, preferring the
// in-process cache and falling back to storage within the lookback window.
func (t *Tracker) LastKnown(ctx context.Context, userID string) (model.LocationPing, bool) {
	if p, ok := t.last.Get(userID); ok {
		return p, true
	}
	p, err := t.store.LatestPing(ctx, userID, time.Now().Add(-t.cfg.IngestLookback))
	if err != nil {
		return model.LocationPing{}, false
	}
	t.last.Update(p)
	return p, true
}

// LastPing returns the user's most recent ping regardless of age. Presence
// needs the unbounded lookup to tell offline apart from no_data.
func (t *Tracker) LastPing(ctx context.Context, userID string) (model.LocationPing, error) {
	if p, ok := t.last.Get(userID); ok {
		return p, nil
	}
	return t.store.LatestPing(ctx, userID, time.Time{})
}

// TrackLocation validates and persists one position report, reports the
// distance from the previous ping, and collects geofence transitions.
func (t *Tracker) TrackLocation(ctx context.Context, userID string, in model.PingInput) (model.TrackResult, error) {
	if userID == "" {
		return model.TrackResult{}, model.Invalid("user_id", "required")
	}
	if in.Lat < -90 || in.Lat > 90 {
		return model.TrackResult{}, model.Invalid("latitude", "must be within [-90, 90]")
	}
	if in.Lng < -180 || in.Lng > 180 {
		return model.TrackResult{}, model.Invalid("longitude", "must be within [-180, 180]")
	}
	recordedAt := time.Now().UTC()
	if in.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, in.Timestamp)
		if err != nil {
			return model.TrackResult{}, model.Invalid("timestamp", "must be RFC3339")
		}
		recordedAt = ts.UTC()
	}

	ping := model.LocationPing{
		ID:         uuid.New().String(),
		UserID:     userID,
		Lat:        in.Lat,
		Lng:        in.Lng,
		AccuracyM:  in.AccuracyM,
		SpeedMps:   in.SpeedMps,
		HeadingDeg: in.HeadingDeg,
		Address:    in.Address,
		RecordedAt: recordedAt,
	}

	var prev *model.LocationPing
	if p, ok := t.LastKnown(ctx, userID); ok {
		prev = &p
	}

	distance := 0.0
	if prev != nil {
		// The distance is always reported; whether it counts toward a trip
		// aggregate is decided by the history reader, not here.
		distance = geo.DistanceM(prev.Point(), ping.Point())
	}

	if err := t.store.InsertPing(ctx, ping); err != nil {
		return model.TrackResult{}, err
	}
	t.last.Update(ping)

	alerts := []model.GeofenceEvent{}
	if t.fences != nil {
		var prevPt *model.GeoPoint
		if prev != nil {
			pt := prev.Point()
			prevPt = &pt
		}
		alerts = t.fences.EvaluateTransition(ctx, userID, prevPt, ping.Point(), recordedAt)
		if len(alerts) > 0 {
			// Best effort: losing the event log must not fail the ingest.
			_ = t.store.InsertGeofenceEvents(ctx, alerts)
		}
	}

	return model.TrackResult{
		LocationID:        ping.ID,
		DistanceFromLastM: distance,
		GeofenceAlerts:    alerts,
	}, nil
}

// IsNotFound reports whether err is the store's not-found sentinel.
func IsNotFound(err error) bool { return errors.Is(err, store.ErrNotFound) }
