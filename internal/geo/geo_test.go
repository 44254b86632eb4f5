package geo

import (
	"math"
	"testing"

	"fieldtrack/internal/model"
)

var (
	riyadh = model.GeoPoint{Lat: 24.7136, Lng: 46.6753}
	jeddah = model.GeoPoint{Lat: 21.4858, Lng: 39.1925}
)

func TestDistanceIdentityAndSymmetry(t *testing.T) {
	if d := DistanceM(riyadh, riyadh); d != 0 {
		t.Fatalf("distance(p,p) = %v, want 0", d)
	}
	ab := DistanceM(riyadh, jeddah)
	ba := DistanceM(jeddah, riyadh)
	if math.Abs(ab-ba) > 1e-6 {
		t.Fatalf("asymmetric: %v vs %v", ab, ba)
	}
}

func TestDistanceRiyadhJeddah(t *testing.T) {
	d := DistanceM(riyadh, jeddah)
	// Known distance is roughly 879 km; allow 5%.
	if d < 879000*0.95 || d > 879000*1.05 {
		t.Fatalf("Riyadh-Jeddah = %v m, want ~879000", d)
	}
}

func TestCircleBoundary(t *testing.T) {
	c := Circle{Center: riyadh, RadiusM: 500}
	if !c.Contains(riyadh) {
		t.Fatal("center must be inside")
	}
	// Move ~501 m north: 1 deg latitude ~ 111320 m.
	outside := model.GeoPoint{Lat: riyadh.Lat + 501/111320.0, Lng: riyadh.Lng}
	if c.Contains(outside) {
		t.Fatal("point past radius must be outside")
	}
}

func TestPolygonContains(t *testing.T) {
	square, err := NewPolygon([]model.GeoPoint{
		{Lat: 0, Lng: 0}, {Lat: 0, Lng: 1}, {Lat: 1, Lng: 1}, {Lat: 1, Lng: 0},
	})
	if err != nil {
		t.Fatalf("NewPolygon: %v", err)
	}
	if !square.Contains(model.GeoPoint{Lat: 0.5, Lng: 0.5}) {
		t.Fatal("interior point reported outside")
	}
	if square.Contains(model.GeoPoint{Lat: 1.5, Lng: 0.5}) {
		t.Fatal("exterior point reported inside")
	}
}

func TestPolygonRejectsDegenerate(t *testing.T) {
	if _, err := NewPolygon([]model.GeoPoint{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 1}}); err == nil {
		t.Fatal("expected error for <3 vertices")
	}
	if _, err := NewPolygon([]model.GeoPoint{{Lat: 0, Lng: 0}, {Lat: 1, Lng: 1}, {Lat: 2, Lng: 2}}); err == nil {
		t.Fatal("expected error for collinear vertices")
	}
	if _, err := NewPolygon([]model.GeoPoint{{Lat: 0, Lng: 0}, {Lat: 95, Lng: 1}, {Lat: 1, Lng: 0}}); err == nil {
		t.Fatal("expected error for out-of-range vertex")
	}
}

func TestShapeOf(t *testing.T) {
	center := model.GeoPoint{Lat: 24.7, Lng: 46.7}
	circle := model.Geofence{ID: "g1", Center: &center, RadiusM: 100}
	s, err := ShapeOf(circle)
	if err != nil {
		t.Fatalf("ShapeOf circle: %v", err)
	}
	if !s.Contains(center) {
		t.Fatal("circle shape must contain its center")
	}
	bad := model.Geofence{ID: "g2"}
	if _, err := ShapeOf(bad); err == nil {
		t.Fatal("expected error for circle without center")
	}
}

func TestCentroid(t *testing.T) {
	c := Centroid([]model.GeoPoint{{Lat: 0, Lng: 0}, {Lat: 2, Lng: 4}})
	if c.Lat != 1 || c.Lng != 2 {
		t.Fatalf("centroid = %+v", c)
	}
}
