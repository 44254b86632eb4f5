package model

import "time"

// Core domain types for the tracking service.

// GeoPoint is a WGS84 coordinate pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// LocationPing is one position report from a rep's device. Pings are
// append-only per user; they are never mutated or deleted.
type LocationPing struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	AccuracyM  *float64  `json:"accuracyM,omitempty"`
	SpeedMps   *float64  `json:"speedMps,omitempty"`
	HeadingDeg *float64  `json:"headingDeg,omitempty"`
	Address    string    `json:"address,omitempty"`
	RecordedAt time.Time `json:"recordedAt"`
}

// Point returns the ping's coordinates.
func (p LocationPing) Point() GeoPoint { return GeoPoint{Lat: p.Lat, Lng: p.Lng} }

// PingInput is the body of POST /gps/track-location.
type PingInput struct {
	Lat        float64  `json:"latitude"`
	Lng        float64  `json:"longitude"`
	AccuracyM  *float64 `json:"accuracy,omitempty"`
	SpeedMps   *float64 `json:"speed,omitempty"`
	HeadingDeg *float64 `json:"heading,omitempty"`
	Address    string   `json:"address,omitempty"`
	Timestamp  string   `json:"timestamp"`
}

// RouteSegment is a derived pair of consecutive pings for one user.
// Segments are computed on read and never persisted.
type RouteSegment struct {
	From        LocationPing `json:"from"`
	To          LocationPing `json:"to"`
	DistanceM   float64      `json:"distanceM"`
	DurationS   float64      `json:"durationS"`
	SpeedMps    float64      `json:"speedMps"`
	Implausible bool         `json:"implausible,omitempty"`
}

// Stop is a dwell cluster: consecutive pings confined to a small radius for
// at least the minimum dwell duration.
type Stop struct {
	Center    GeoPoint  `json:"center"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	DurationS float64   `json:"durationS"`
	PingCount int       `json:"pingCount"`
}

// RouteStatistics aggregates the plausible segments of a history window.
type RouteStatistics struct {
	TotalDistanceM  float64 `json:"total_distance"`
	TotalTimeS      float64 `json:"total_time"`
	AverageSpeedMps float64 `json:"average_speed"`
	MaxSpeedMps     float64 `json:"max_speed"`
	SegmentCount    int     `json:"segment_count"`
	ExcludedCount   int     `json:"excluded_segments,omitempty"`
}

// RouteHistory is the result of GET /gps/location-history.
type RouteHistory struct {
	UserID     string          `json:"user_id"`
	Locations  []LocationPing  `json:"locations"`
	Statistics RouteStatistics `json:"route_statistics"`
	Stops      []Stop          `json:"stops_detected"`
	Segments   []RouteSegment  `json:"route,omitempty"`
}

// Geofence types.
const (
	GeofenceAllowed    = "allowed_area"
	GeofenceRestricted = "restricted_area"
)

// GeofenceNotifications configures the messages attached to entry/exit
// events emitted for a geofence.
type GeofenceNotifications struct {
	EntryMessage  string `json:"entryMessage,omitempty"`
	ExitMessage   string `json:"exitMessage,omitempty"`
	NotifyManager bool   `json:"notifyManager,omitempty"`
	AlertLevel    string `json:"alertLevel,omitempty"`
}

// Geofence is a named geographic boundary owned by a manager. The shape is a
// tagged variant: circle when Vertices is empty, polygon otherwise.
// Geofences are soft-disabled, never hard-deleted, so recorded events keep a
// valid reference.
type Geofence struct {
	ID            string                `json:"id"`
	OwnerID       string                `json:"ownerId"`
	Name          string                `json:"name"`
	Type          string                `json:"type"`
	Center        *GeoPoint             `json:"center,omitempty"`
	RadiusM       float64               `json:"radiusM,omitempty"`
	Vertices      []GeoPoint            `json:"vertices,omitempty"`
	ActiveHours   *HourWindow           `json:"activeHours,omitempty"`
	Notifications GeofenceNotifications `json:"notifications"`
	IsActive      bool                  `json:"isActive"`
	CreatedAt     time.Time             `json:"createdAt"`
}

// IsCircle reports whether the geofence shape is the circle variant.
func (g Geofence) IsCircle() bool { return len(g.Vertices) == 0 }

// HourWindow restricts geofence evaluation to part of the day, e.g.
// "09:00"–"18:00". Start == End means always active; Start > End wraps past
// midnight.
type HourWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// GeofenceInput is the body of POST /gps/create-geofence.
type GeofenceInput struct {
	Name          string                `json:"name"`
	Type          string                `json:"type"`
	Coordinates   []GeoPoint            `json:"coordinates"`
	RadiusM       float64               `json:"radius,omitempty"`
	ActiveHours   *HourWindow           `json:"active_hours,omitempty"`
	Notifications GeofenceNotifications `json:"notifications"`
}

// Geofence event types.
const (
	EventEntry = "entry"
	EventExit  = "exit"
)

// GeofenceEvent records one membership transition. Emitted only when a
// user's inside/outside state changes, never while dwelling.
type GeofenceEvent struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	GeofenceID string    `json:"geofence_id"`
	Name       string    `json:"name"`
	EventType  string    `json:"event_type"`
	Message    string    `json:"message,omitempty"`
	AlertLevel string    `json:"alertLevel,omitempty"`
	At         time.Time `json:"at"`
}

// Presence statuses derived from ping recency.
const (
	StatusOnline   = "online"
	StatusInactive = "inactive"
	StatusOffline  = "offline"
	StatusNoData   = "no_data"
)

// RecentActivity summarizes a subordinate's day for the team view.
type RecentActivity struct {
	VisitsToday        int        `json:"visits_today"`
	DistanceTraveledM  float64    `json:"distance_traveled_today"`
	LastLocationUpdate *time.Time `json:"last_location_update,omitempty"`
}

// TeamMemberStatus is the per-subordinate projection returned by
// GET /gps/team-locations. It is recomputed on each call and never stored.
type TeamMemberStatus struct {
	UserID          string         `json:"user_id"`
	UserName        string         `json:"user_name,omitempty"`
	CurrentLocation *LocationPing  `json:"current_location,omitempty"`
	Status          string         `json:"status"`
	LastSeen        *time.Time     `json:"last_seen,omitempty"`
	RecentActivity  RecentActivity `json:"recent_activity"`
}

// RouteOptimizationResult is the per-user output of the route optimizer.
type RouteOptimizationResult struct {
	UserID            string    `json:"user_id"`
	RouteOrder        []int     `json:"route_order"`
	DistancesM        []float64 `json:"distances"`
	EstimatedTimesMin []float64 `json:"estimated_times"`
	TotalDistanceM    float64   `json:"total_distance"`
	EstimatedTimeMin  float64   `json:"estimated_time"`
	AlgorithmUsed     string    `json:"algorithm_used"`
}

// TrackResult is the response of POST /gps/track-location.
type TrackResult struct {
	LocationID        string          `json:"location_id"`
	DistanceFromLastM float64         `json:"distance_from_last_m"`
	GeofenceAlerts    []GeofenceEvent `json:"geofence_alerts"`
}

// AlertSubscription registers an external notifier endpoint that receives
// geofence events for a manager's team.
type AlertSubscription struct {
	ID        string   `json:"id"`
	ManagerID string   `json:"managerId"`
	URL       string   `json:"url"`
	Events    []string `json:"events"`
	Secret    string   `json:"secret,omitempty"`
}

// AlertSubscriptionRequest is the body of POST /gps/alert-subscriptions.
type AlertSubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Secret string   `json:"secret"`
}
