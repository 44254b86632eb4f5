package track

import (
	"context"
	"time"

	"fieldtrack/internal/geo"
	"fieldtrack/internal/model"
)

// RouteHistory reconstructs the ordered track for a user inside a window and
// derives statistics and dwell clusters. Zero or one ping is a valid
// history, not an error.
func (t *Tracker) RouteHistory(ctx context.Context, userID string, from, to time.Time, includeRoute bool) (model.RouteHistory, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.HistoryTimeout)
	defer cancel()

	pings, err := t.store.ListPings(ctx, userID, from, to)
	if err != nil {
		return model.RouteHistory{}, err
	}

	segments := t.buildSegments(pings)
	stats := t.aggregate(segments)
	hist := model.RouteHistory{
		UserID:     userID,
		Locations:  pings,
		Statistics: stats,
		Stops:      t.detectStops(pings),
	}
	if includeRoute {
		hist.Segments = segments
	}
	return hist, nil
}

// buildSegments pairs consecutive pings. A segment is flagged implausible,
// and excluded from aggregates, when its implied speed exceeds the
// plausibility ceiling or when the time gap is long enough to start a new
// trip. Implausible segments are kept in the diagnostic output.
func (t *Tracker) buildSegments(pings []model.LocationPing) []model.RouteSegment {
	if len(pings) < 2 {
		return nil
	}
	segs := make([]model.RouteSegment, 0, len(pings)-1)
	for i := 1; i < len(pings); i++ {
		from, to := pings[i-1], pings[i]
		dist := geo.DistanceM(from.Point(), to.Point())
		dur := to.RecordedAt.Sub(from.RecordedAt).Seconds()
		speed := 0.0
		if dur > 0 {
			speed = dist / dur
		}
		seg := model.RouteSegment{
			From:      from,
			To:        to,
			DistanceM: dist,
			DurationS: dur,
			SpeedMps:  speed,
		}
		switch {
		case dur <= 0 && dist > 0:
			// Duplicate timestamps with movement: GPS noise.
			seg.Implausible = true
		case speed > t.cfg.MaxPlausibleSpeedMps:
			seg.Implausible = true
		case dur > t.cfg.TripGap.Seconds():
			// Gap long enough that this is a new trip, not travel.
			seg.Implausible = true
		}
		segs = append(segs, seg)
	}
	return segs
}

func (t *Tracker) aggregate(segments []model.RouteSegment) model.RouteStatistics {
	var stats model.RouteStatistics
	for _, s := range segments {
		if s.Implausible {
			stats.ExcludedCount++
			continue
		}
		stats.SegmentCount++
		stats.TotalDistanceM += s.DistanceM
		stats.TotalTimeS += s.DurationS
		if s.SpeedMps > stats.MaxSpeedMps {
			stats.MaxSpeedMps = s.SpeedMps
		}
	}
	if stats.TotalTimeS > 0 {
		stats.AverageSpeedMps = stats.TotalDistanceM / stats.TotalTimeS
	}
	return stats
}

// detectStops slides a cluster over the ping sequence. A cluster grows while
// every ping stays within the stop radius of the running centroid; it
// becomes a Stop once it has enough pings and spans the minimum dwell.
// Restarting the scan at the breaking ping merges adjacent qualifying
// windows into a single stop.
func (t *Tracker) detectStops(pings []model.LocationPing) []model.Stop {
	stops := []model.Stop{}
	i := 0
	for i < len(pings) {
		cluster := []model.GeoPoint{pings[i].Point()}
		j := i + 1
		for j < len(pings) {
			candidate := append(cluster, pings[j].Point())
			center := geo.Centroid(candidate)
			if !clusterWithin(candidate, center, t.cfg.StopRadiusM) {
				break
			}
			cluster = candidate
			j++
		}
		if len(cluster) >= t.cfg.StopMinPings {
			start := pings[i].RecordedAt
			end := pings[j-1].RecordedAt
			if span := end.Sub(start); span >= t.cfg.StopMinDwell {
				stops = append(stops, model.Stop{
					Center:    geo.Centroid(cluster),
					Start:     start,
					End:       end,
					DurationS: span.Seconds(),
					PingCount: len(cluster),
				})
			}
		}
		i = j
	}
	return stops
}

func clusterWithin(pts []model.GeoPoint, center model.GeoPoint, radiusM float64) bool {
	for _, p := range pts {
		if geo.DistanceM(p, center) > radiusM {
			return false
		}
	}
	return true
}
