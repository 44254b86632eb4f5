// Package config holds the tunable thresholds of the tracking core.
// Everything is read from environment variables with working defaults, so a
// bare binary runs without any configuration.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// Ingestion
	IngestLookback time.Duration // how far back to look for the previous ping
	TripGap        time.Duration // gaps beyond this start a new trip
	RatePerSec     float64       // per-user ping rate limit
	RateBurst      int

	// History / statistics
	MaxPlausibleSpeedMps float64 // segments faster than this are GPS noise
	StopRadiusM          float64
	StopMinPings         int
	StopMinDwell         time.Duration
	HistoryTimeout       time.Duration

	// Presence
	OnlineWithin   time.Duration
	InactiveWithin time.Duration

	// Route optimizer
	AvgTravelSpeedMps float64
	MaxTargets        int
	RouteTwoOpt       bool // run a 2-opt refinement pass after nearest neighbor

	// Geofences
	GeofenceRefresh time.Duration
	DefaultRadiusM  float64
}

// FromEnv builds a Config from environment variables, falling back to the
// documented defaults.
func FromEnv() Config {
	return Config{
		IngestLookback:       time.Duration(envInt("INGEST_LOOKBACK_HOURS", 24)) * time.Hour,
		TripGap:              time.Duration(envInt("TRIP_GAP_MINUTES", 60)) * time.Minute,
		RatePerSec:           envFloat("INGEST_RATE_PER_SEC", 5),
		RateBurst:            envInt("INGEST_RATE_BURST", 20),
		MaxPlausibleSpeedMps: kmhToMps(envFloat("MAX_PLAUSIBLE_SPEED_KMH", 200)),
		StopRadiusM:          envFloat("STOP_RADIUS_M", 50),
		StopMinPings:         envInt("STOP_MIN_PINGS", 3),
		StopMinDwell:         time.Duration(envInt("STOP_MIN_DWELL_MINUTES", 5)) * time.Minute,
		HistoryTimeout:       time.Duration(envInt("HISTORY_TIMEOUT_SECONDS", 10)) * time.Second,
		OnlineWithin:         time.Duration(envInt("PRESENCE_ONLINE_MINUTES", 15)) * time.Minute,
		InactiveWithin:       time.Duration(envInt("PRESENCE_INACTIVE_MINUTES", 60)) * time.Minute,
		AvgTravelSpeedMps:    kmhToMps(envFloat("ROUTE_AVG_SPEED_KMH", 40)),
		MaxTargets:           envInt("ROUTE_MAX_TARGETS", 100),
		RouteTwoOpt:          os.Getenv("ROUTE_REFINE_2OPT") == "true",
		GeofenceRefresh:      time.Duration(envInt("GEOFENCE_REFRESH_SECONDS", 60)) * time.Second,
		DefaultRadiusM:       envFloat("GEOFENCE_DEFAULT_RADIUS_M", 100),
	}
}

func kmhToMps(kmh float64) float64 { return kmh * 1000 / 3600 }

func envInt(k string, d int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return d
}

func envFloat(k string, d float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return d
}
