package geofence

import (
	"context"
	"testing"
	"time"

	"fieldtrack/internal/config"
	"fieldtrack/internal/model"
	"fieldtrack/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return NewEngine(config.FromEnv(), mem, nil), mem
}

func circleInput(name string, center model.GeoPoint, radius float64) model.GeofenceInput {
	return model.GeofenceInput{
		Name:        name,
		Type:        model.GeofenceAllowed,
		Coordinates: []model.GeoPoint{center},
		RadiusM:     radius,
	}
}

func TestCreateCircleAppliesDefaultRadius(t *testing.T) {
	e, _ := newTestEngine(t)
	gf, err := e.Create(context.Background(), "m1", circleInput("hq", model.GeoPoint{Lat: 24.7, Lng: 46.6}, 0))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !gf.IsCircle() || gf.RadiusM != e.cfg.DefaultRadiusM {
		t.Fatalf("radius = %v, want default %v", gf.RadiusM, e.cfg.DefaultRadiusM)
	}
	if !gf.IsActive || gf.ID == "" {
		t.Fatalf("fence not active on create: %+v", gf)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	cases := []struct {
		name string
		in   model.GeofenceInput
	}{
		{"missing name", model.GeofenceInput{Type: model.GeofenceAllowed, Coordinates: []model.GeoPoint{{Lat: 1, Lng: 1}}}},
		{"bad type", model.GeofenceInput{Name: "x", Type: "danger_zone", Coordinates: []model.GeoPoint{{Lat: 1, Lng: 1}}}},
		{"no coordinates", model.GeofenceInput{Name: "x", Type: model.GeofenceAllowed}},
		{"two vertices", model.GeofenceInput{Name: "x", Type: model.GeofenceAllowed, Coordinates: []model.GeoPoint{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}}}},
		{"collinear polygon", model.GeofenceInput{Name: "x", Type: model.GeofenceAllowed, Coordinates: []model.GeoPoint{{Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}, {Lat: 3, Lng: 3}}}},
		{"out of range center", model.GeofenceInput{Name: "x", Type: model.GeofenceAllowed, Coordinates: []model.GeoPoint{{Lat: 95, Lng: 0}}, RadiusM: 50}},
		{"bad hours", model.GeofenceInput{Name: "x", Type: model.GeofenceAllowed, Coordinates: []model.GeoPoint{{Lat: 1, Lng: 1}}, RadiusM: 50, ActiveHours: &model.HourWindow{Start: "9am", End: "17:00"}}},
	}
	for _, tc := range cases {
		if _, err := e.Create(ctx, "m1", tc.in); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		} else if _, ok := err.(*model.ValidationError); !ok {
			t.Errorf("%s: got %T, want *model.ValidationError", tc.name, err)
		}
	}
}

func TestSteadyStateInsideEmitsSingleEntry(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	center := model.GeoPoint{Lat: 24.7, Lng: 46.6}
	if _, err := e.Create(ctx, "m1", circleInput("hq", center, 200)); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	var total []model.GeofenceEvent
	var prev *model.GeoPoint
	// Five pings in a row inside the fence: one entry, then silence.
	for i := 0; i < 5; i++ {
		curr := model.GeoPoint{Lat: center.Lat + float64(i)*0.0001, Lng: center.Lng}
		total = append(total, e.EvaluateTransition(ctx, "u1", prev, curr, now.Add(time.Duration(i)*time.Minute))...)
		p := curr
		prev = &p
	}
	if len(total) != 1 || total[0].EventType != model.EventEntry {
		t.Fatalf("events = %+v, want exactly one entry", total)
	}

	// Leaving emits exactly one exit.
	outside := model.GeoPoint{Lat: center.Lat + 0.01, Lng: center.Lng}
	exits := e.EvaluateTransition(ctx, "u1", prev, outside, now.Add(10*time.Minute))
	if len(exits) != 1 || exits[0].EventType != model.EventExit {
		t.Fatalf("exit events = %+v", exits)
	}
}

func TestFirstPingInsideEmitsEntry(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	center := model.GeoPoint{Lat: 24.7, Lng: 46.6}
	gf, err := e.Create(ctx, "m1", model.GeofenceInput{
		Name: "warehouse", Type: model.GeofenceRestricted,
		Coordinates:   []model.GeoPoint{center},
		RadiusM:       150,
		Notifications: model.GeofenceNotifications{EntryMessage: "entered warehouse", AlertLevel: "warning"},
	})
	if err != nil {
		t.Fatal(err)
	}

	evts := e.EvaluateTransition(ctx, "u1", nil, center, time.Now())
	if len(evts) != 1 {
		t.Fatalf("events = %+v", evts)
	}
	got := evts[0]
	if got.EventType != model.EventEntry || got.GeofenceID != gf.ID || got.Message != "entered warehouse" || got.AlertLevel != "warning" {
		t.Fatalf("event = %+v", got)
	}
}

func TestPolygonTransition(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	_, err := e.Create(ctx, "m1", model.GeofenceInput{
		Name: "district", Type: model.GeofenceAllowed,
		Coordinates: []model.GeoPoint{
			{Lat: 24.70, Lng: 46.60}, {Lat: 24.70, Lng: 46.70},
			{Lat: 24.80, Lng: 46.70}, {Lat: 24.80, Lng: 46.60},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	inside := model.GeoPoint{Lat: 24.75, Lng: 46.65}
	outside := model.GeoPoint{Lat: 24.90, Lng: 46.65}
	if evts := e.EvaluateTransition(ctx, "u1", &outside, inside, time.Now()); len(evts) != 1 || evts[0].EventType != model.EventEntry {
		t.Fatalf("entry events = %+v", evts)
	}
	if evts := e.EvaluateTransition(ctx, "u1", &inside, outside, time.Now()); len(evts) != 1 || evts[0].EventType != model.EventExit {
		t.Fatalf("exit events = %+v", evts)
	}
	if evts := e.EvaluateTransition(ctx, "u1", &outside, outside, time.Now()); len(evts) != 0 {
		t.Fatalf("steady outside emitted events: %+v", evts)
	}
}

func TestActiveHoursSuppressEvaluation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	center := model.GeoPoint{Lat: 24.7, Lng: 46.6}
	in := circleInput("office", center, 200)
	in.ActiveHours = &model.HourWindow{Start: "09:00", End: "17:00"}
	if _, err := e.Create(ctx, "m1", in); err != nil {
		t.Fatal(err)
	}

	day := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	if evts := e.EvaluateTransition(ctx, "u1", nil, center, day.Add(20*time.Hour)); len(evts) != 0 {
		t.Fatalf("fence evaluated outside active hours: %+v", evts)
	}
	if evts := e.EvaluateTransition(ctx, "u1", nil, center, day.Add(10*time.Hour)); len(evts) != 1 {
		t.Fatalf("fence not evaluated within active hours: %+v", evts)
	}
}

func TestActiveHoursWrapMidnight(t *testing.T) {
	hw := model.HourWindow{Start: "22:00", End: "06:00"}
	day := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	if !withinHours(hw, day.Add(23*time.Hour)) {
		t.Fatal("23:00 should be within 22:00-06:00")
	}
	if !withinHours(hw, day.Add(3*time.Hour)) {
		t.Fatal("03:00 should be within 22:00-06:00")
	}
	if withinHours(hw, day.Add(12*time.Hour)) {
		t.Fatal("12:00 should be outside 22:00-06:00")
	}
	if !withinHours(model.HourWindow{Start: "08:00", End: "08:00"}, day) {
		t.Fatal("equal start/end means always active")
	}
}

type stubDirectory struct {
	managers map[string][]string
}

func (s *stubDirectory) ManagersOf(ctx context.Context, userID string) ([]string, error) {
	return s.managers[userID], nil
}

func TestEvaluationScopedByManager(t *testing.T) {
	mem := store.NewMemory()
	dir := &stubDirectory{managers: map[string][]string{"u1": {"m1"}, "u2": {"m2"}}}
	e := NewEngine(config.FromEnv(), mem, dir)
	ctx := context.Background()
	center := model.GeoPoint{Lat: 24.7, Lng: 46.6}
	if _, err := e.Create(ctx, "m1", circleInput("hq", center, 200)); err != nil {
		t.Fatal(err)
	}

	if evts := e.EvaluateTransition(ctx, "u1", nil, center, time.Now()); len(evts) != 1 {
		t.Fatalf("m1's rep should trigger m1's fence: %+v", evts)
	}
	if evts := e.EvaluateTransition(ctx, "u2", nil, center, time.Now()); len(evts) != 0 {
		t.Fatalf("m2's rep triggered m1's fence: %+v", evts)
	}
}

func TestSnapshotRefreshesOnInterval(t *testing.T) {
	e, mem := newTestEngine(t)
	ctx := context.Background()
	center := model.GeoPoint{Lat: 24.7, Lng: 46.6}

	base := time.Now().UTC()
	e.now = func() time.Time { return base }

	// Prime an empty snapshot, then insert a fence behind the engine's back.
	if evts := e.EvaluateTransition(ctx, "u1", nil, center, base); len(evts) != 0 {
		t.Fatalf("unexpected events: %+v", evts)
	}
	if err := mem.CreateGeofence(ctx, model.Geofence{
		ID: "g1", OwnerID: "m1", Name: "hq", Type: model.GeofenceAllowed,
		Center: &center, RadiusM: 200, IsActive: true, CreatedAt: base,
	}); err != nil {
		t.Fatal(err)
	}

	if evts := e.EvaluateTransition(ctx, "u1", nil, center, base); len(evts) != 0 {
		t.Fatalf("stale snapshot served fresh data: %+v", evts)
	}
	e.now = func() time.Time { return base.Add(e.cfg.GeofenceRefresh + time.Second) }
	if evts := e.EvaluateTransition(ctx, "u1", nil, center, base); len(evts) != 1 {
		t.Fatalf("snapshot not refreshed after interval: %+v", evts)
	}
}

func TestDeactivateRemovesFromEvaluation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	center := model.GeoPoint{Lat: 24.7, Lng: 46.6}
	gf, err := e.Create(ctx, "m1", circleInput("hq", center, 200))
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Deactivate(ctx, gf.ID); err != nil {
		t.Fatal(err)
	}
	if evts := e.EvaluateTransition(ctx, "u1", nil, center, time.Now()); len(evts) != 0 {
		t.Fatalf("deactivated fence still evaluated: %+v", evts)
	}
	// The definition is retained for recorded events.
	if _, err := e.store.GetGeofence(ctx, gf.ID); err != nil {
		t.Fatalf("deactivated fence was deleted: %v", err)
	}
}
