// Package team projects live presence for a manager's subordinates. The
// projection is recomputed on every call from the ping stream; nothing here
// is persisted.
package team

import (
	"context"
	"time"

	"fieldtrack/internal/config"
	"fieldtrack/internal/model"
	"fieldtrack/internal/track"
)

// Member is one entry from the org directory.
type Member struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Directory is the org-hierarchy collaborator. Implementations resolve the
// reporting structure; this service never stores it.
type Directory interface {
	SubordinatesOf(ctx context.Context, managerID string) ([]Member, error)
	ManagersOf(ctx context.Context, userID string) ([]string, error)
}

// VisitLog reports how many customer visits a rep completed today. Owned by
// the business-visit service; injected here for the team view only.
type VisitLog interface {
	VisitsToday(ctx context.Context, userID string, day time.Time) (int, error)
}

// Aggregator builds the team-locations projection.
type Aggregator struct {
	cfg     config.Config
	tracker *track.Tracker
	dir     Directory
	visits  VisitLog
	now     func() time.Time
}

func NewAggregator(cfg config.Config, tr *track.Tracker, dir Directory, visits VisitLog) *Aggregator {
	return &Aggregator{cfg: cfg, tracker: tr, dir: dir, visits: visits, now: time.Now}
}

// TeamLocations returns one status entry per subordinate of managerID. A
// manager with no subordinates gets an empty list. One subordinate's bad
// data never fails the whole response; that member degrades to no_data.
func (a *Aggregator) TeamLocations(ctx context.Context, managerID string, historyWindow time.Duration) ([]model.TeamMemberStatus, error) {
	members, err := a.dir.SubordinatesOf(ctx, managerID)
	if err != nil {
		return nil, err
	}
	now := a.now().UTC()
	out := make([]model.TeamMemberStatus, 0, len(members))
	for _, m := range members {
		out = append(out, a.memberStatus(ctx, m, now, historyWindow))
	}
	return out, nil
}

func (a *Aggregator) memberStatus(ctx context.Context, m Member, now time.Time, historyWindow time.Duration) model.TeamMemberStatus {
	st := model.TeamMemberStatus{UserID: m.ID, UserName: m.Name, Status: model.StatusNoData}

	last, err := a.tracker.LastPing(ctx, m.ID)
	if err != nil {
		if track.IsNotFound(err) {
			st.RecentActivity = a.recentActivity(ctx, m.ID, now, false, historyWindow)
		}
		return st
	}

	loc := last
	st.CurrentLocation = &loc
	seen := last.RecordedAt
	st.LastSeen = &seen
	st.Status = a.statusFor(now.Sub(last.RecordedAt))
	st.RecentActivity = a.recentActivity(ctx, m.ID, now, true, historyWindow)
	if st.RecentActivity.LastLocationUpdate == nil {
		st.RecentActivity.LastLocationUpdate = &seen
	}
	return st
}

// statusFor maps ping age to a presence bucket. A user with no pings at all
// is no_data, handled by the caller; any ping, however old, is at worst
// offline.
func (a *Aggregator) statusFor(age time.Duration) string {
	switch {
	case age <= a.cfg.OnlineWithin:
		return model.StatusOnline
	case age <= a.cfg.InactiveWithin:
		return model.StatusInactive
	default:
		return model.StatusOffline
	}
}

func (a *Aggregator) recentActivity(ctx context.Context, userID string, now time.Time, hasPing bool, historyWindow time.Duration) model.RecentActivity {
	act := model.RecentActivity{}
	if a.visits != nil {
		if n, err := a.visits.VisitsToday(ctx, userID, now); err == nil {
			act.VisitsToday = n
		}
	}
	if !hasPing {
		return act
	}
	from := startOfDay(now)
	if historyWindow > 0 {
		from = now.Add(-historyWindow)
	}
	hist, err := a.tracker.RouteHistory(ctx, userID, from, now, false)
	if err != nil {
		return act
	}
	act.DistanceTraveledM = hist.Statistics.TotalDistanceM
	if n := len(hist.Locations); n > 0 {
		at := hist.Locations[n-1].RecordedAt
		act.LastLocationUpdate = &at
	}
	return act
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
