package track

import (
	"context"
	"math"
	"testing"
	"time"

	"fieldtrack/internal/config"
	"fieldtrack/internal/geo"
	"fieldtrack/internal/model"
	"fieldtrack/internal/store"
)

func testConfig() config.Config {
	cfg := config.FromEnv()
	return cfg
}

func newTestTracker(t *testing.T) (*Tracker, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return NewTracker(testConfig(), mem, nil), mem
}

func ping(lat, lng float64, at time.Time) model.PingInput {
	return model.PingInput{Lat: lat, Lng: lng, Timestamp: at.Format(time.RFC3339)}
}

func TestTrackLocationFirstPing(t *testing.T) {
	tr, _ := newTestTracker(t)
	res, err := tr.TrackLocation(context.Background(), "u1", ping(24.7136, 46.6753, time.Now()))
	if err != nil {
		t.Fatalf("TrackLocation: %v", err)
	}
	if res.LocationID == "" {
		t.Fatal("missing location id")
	}
	if res.DistanceFromLastM != 0 {
		t.Fatalf("first ping distance = %v, want 0", res.DistanceFromLastM)
	}
}

func TestTrackLocationSequentialDistance(t *testing.T) {
	tr, _ := newTestTracker(t)
	now := time.Now()
	a := model.GeoPoint{Lat: 24.7136, Lng: 46.6753}
	b := model.GeoPoint{Lat: 24.7236, Lng: 46.6853}
	if _, err := tr.TrackLocation(context.Background(), "u1", ping(a.Lat, a.Lng, now.Add(-time.Minute))); err != nil {
		t.Fatalf("first: %v", err)
	}
	res, err := tr.TrackLocation(context.Background(), "u1", ping(b.Lat, b.Lng, now))
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	want := geo.DistanceM(a, b)
	if math.Abs(res.DistanceFromLastM-want) > 1e-6 {
		t.Fatalf("distance = %v, want %v", res.DistanceFromLastM, want)
	}
}

func TestTrackLocationRejectsOutOfRange(t *testing.T) {
	tr, _ := newTestTracker(t)
	cases := []model.PingInput{
		{Lat: 91, Lng: 0},
		{Lat: -91, Lng: 0},
		{Lat: 0, Lng: 181},
		{Lat: 0, Lng: -181},
	}
	for _, in := range cases {
		_, err := tr.TrackLocation(context.Background(), "u1", in)
		var verr *model.ValidationError
		if err == nil {
			t.Fatalf("expected validation error for %+v", in)
		}
		if !asValidation(err, &verr) {
			t.Fatalf("expected *ValidationError, got %T", err)
		}
	}
	// Nothing persisted on rejection.
	got, _ := tr.store.ListPings(context.Background(), "u1", time.Time{}, time.Now().Add(time.Hour))
	if len(got) != 0 {
		t.Fatalf("rejected pings were persisted: %d", len(got))
	}
}

func asValidation(err error, target **model.ValidationError) bool {
	v, ok := err.(*model.ValidationError)
	if ok {
		*target = v
	}
	return ok
}

func TestTrackLocationUsersDoNotInterfere(t *testing.T) {
	tr, _ := newTestTracker(t)
	now := time.Now()
	if _, err := tr.TrackLocation(context.Background(), "u1", ping(24.7, 46.6, now.Add(-time.Minute))); err != nil {
		t.Fatal(err)
	}
	res, err := tr.TrackLocation(context.Background(), "u2", ping(21.4, 39.1, now))
	if err != nil {
		t.Fatal(err)
	}
	if res.DistanceFromLastM != 0 {
		t.Fatalf("u2 first ping picked up u1's position: %v", res.DistanceFromLastM)
	}
}

type stubFences struct {
	events []model.GeofenceEvent
	calls  int
	prevs  []*model.GeoPoint
}

func (s *stubFences) EvaluateTransition(ctx context.Context, userID string, prev *model.GeoPoint, curr model.GeoPoint, at time.Time) []model.GeofenceEvent {
	s.calls++
	s.prevs = append(s.prevs, prev)
	return s.events
}

func TestTrackLocationRunsGeofenceEvaluation(t *testing.T) {
	mem := store.NewMemory()
	fences := &stubFences{events: []model.GeofenceEvent{{ID: "e1", UserID: "u1", GeofenceID: "g1", EventType: model.EventEntry, At: time.Now()}}}
	tr := NewTracker(testConfig(), mem, fences)

	res, err := tr.TrackLocation(context.Background(), "u1", ping(24.7, 46.6, time.Now()))
	if err != nil {
		t.Fatal(err)
	}
	if fences.calls != 1 {
		t.Fatalf("evaluator calls = %d", fences.calls)
	}
	if fences.prevs[0] != nil {
		t.Fatal("first-ever ping must evaluate with nil previous point")
	}
	if len(res.GeofenceAlerts) != 1 || res.GeofenceAlerts[0].EventType != model.EventEntry {
		t.Fatalf("alerts = %+v", res.GeofenceAlerts)
	}
	// Emitted events are persisted for the audit log.
	evts, _ := mem.ListGeofenceEvents(context.Background(), "u1", time.Time{}, time.Now().Add(time.Hour))
	if len(evts) != 1 {
		t.Fatalf("persisted events = %d", len(evts))
	}
}

func TestLastSeenCacheIgnoresStaleUpdates(t *testing.T) {
	c := NewLastSeenCache()
	now := time.Now()
	c.Update(model.LocationPing{UserID: "u1", Lat: 1, RecordedAt: now})
	c.Update(model.LocationPing{UserID: "u1", Lat: 2, RecordedAt: now.Add(-time.Minute)})
	got, ok := c.Get("u1")
	if !ok || got.Lat != 1 {
		t.Fatalf("cache moved backwards: %+v", got)
	}
}
