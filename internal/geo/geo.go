// Package geo provides the great-circle and point-in-region primitives used
// by ingestion, geofence evaluation, and route optimization.
package geo

import (
	"fmt"
	"math"

	"fieldtrack/internal/model"
)

// EarthRadiusM is the mean Earth radius used by the haversine formula.
const EarthRadiusM = 6371000.0

// DistanceM returns the great-circle distance between a and b in meters
// using the haversine formula. Symmetric; zero for identical points.
func DistanceM(a, b model.GeoPoint) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return EarthRadiusM * c
}

// ValidPoint reports whether p is inside the WGS84 coordinate ranges.
func ValidPoint(p model.GeoPoint) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Shape is the membership test shared by the circle and polygon variants.
type Shape interface {
	Contains(p model.GeoPoint) bool
}

// Circle is a center plus radius in meters.
type Circle struct {
	Center  model.GeoPoint
	RadiusM float64
}

// Contains reports whether p is within the radius, boundary inclusive.
func (c Circle) Contains(p model.GeoPoint) bool {
	return DistanceM(p, c.Center) <= c.RadiusM
}

// Polygon is a closed ring of at least three vertices. Degenerate rings are
// rejected at construction, not at evaluation.
type Polygon struct {
	vertices []model.GeoPoint
}

// NewPolygon validates the ring: at least three vertices, all in range, and
// not all collinear.
func NewPolygon(vertices []model.GeoPoint) (Polygon, error) {
	if len(vertices) < 3 {
		return Polygon{}, fmt.Errorf("polygon needs at least 3 vertices, got %d", len(vertices))
	}
	for i, v := range vertices {
		if !ValidPoint(v) {
			return Polygon{}, fmt.Errorf("polygon vertex %d out of range: (%v, %v)", i, v.Lat, v.Lng)
		}
	}
	if collinear(vertices) {
		return Polygon{}, fmt.Errorf("polygon vertices are collinear")
	}
	return Polygon{vertices: append([]model.GeoPoint(nil), vertices...)}, nil
}

// Contains implements the standard ray-casting test: count crossings of a
// ray from p toward +lng against the ring's edges.
func (pg Polygon) Contains(p model.GeoPoint) bool {
	inside := false
	n := len(pg.vertices)
	j := n - 1
	for i := 0; i < n; i++ {
		vi, vj := pg.vertices[i], pg.vertices[j]
		if (vi.Lat > p.Lat) != (vj.Lat > p.Lat) {
			x := (vj.Lng-vi.Lng)*(p.Lat-vi.Lat)/(vj.Lat-vi.Lat) + vi.Lng
			if p.Lng < x {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Vertices returns a copy of the ring.
func (pg Polygon) Vertices() []model.GeoPoint {
	return append([]model.GeoPoint(nil), pg.vertices...)
}

func collinear(vs []model.GeoPoint) bool {
	// Cross product of each vertex pair against the first edge.
	const eps = 1e-12
	for i := 2; i < len(vs); i++ {
		cross := (vs[1].Lat-vs[0].Lat)*(vs[i].Lng-vs[0].Lng) -
			(vs[1].Lng-vs[0].Lng)*(vs[i].Lat-vs[0].Lat)
		if math.Abs(cross) > eps {
			return false
		}
	}
	return true
}

// ShapeOf builds the membership test for a stored geofence.
func ShapeOf(g model.Geofence) (Shape, error) {
	if g.IsCircle() {
		if g.Center == nil || g.RadiusM <= 0 {
			return nil, fmt.Errorf("circle geofence %s missing center or radius", g.ID)
		}
		return Circle{Center: *g.Center, RadiusM: g.RadiusM}, nil
	}
	pg, err := NewPolygon(g.Vertices)
	if err != nil {
		return nil, err
	}
	return pg, nil
}

// Centroid returns the arithmetic mean of the given points. Adequate for the
// small clusters used by stop detection; not a spherical centroid.
func Centroid(pts []model.GeoPoint) model.GeoPoint {
	if len(pts) == 0 {
		return model.GeoPoint{}
	}
	var lat, lng float64
	for _, p := range pts {
		lat += p.Lat
		lng += p.Lng
	}
	n := float64(len(pts))
	return model.GeoPoint{Lat: lat / n, Lng: lng / n}
}
