// Package geofence stores boundary definitions and evaluates entry/exit
// transitions as new positions arrive.
package geofence

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldtrack/internal/config"
	"fieldtrack/internal/geo"
	"fieldtrack/internal/model"
	"fieldtrack/internal/store"
)

// ManagerLookup resolves which managers a rep reports to. It is the
// org-directory collaborator; a nil lookup makes every active geofence apply
// to every user.
type ManagerLookup interface {
	ManagersOf(ctx context.Context, userID string) ([]string, error)
}

// Engine evaluates pings against the active geofence set. Definitions are
// read far more often than written, so evaluation runs against an in-memory
// snapshot refreshed on an interval; a briefly stale snapshot is accepted.
type Engine struct {
	cfg   config.Config
	store store.Store
	dir   ManagerLookup

	mu          sync.RWMutex
	snapshot    []compiledFence
	lastRefresh time.Time

	now func() time.Time
}

type compiledFence struct {
	fence model.Geofence
	shape geo.Shape
}

func NewEngine(cfg config.Config, s store.Store, dir ManagerLookup) *Engine {
	return &Engine{cfg: cfg, store: s, dir: dir, now: time.Now}
}

// Create validates and persists a geofence definition. Invalid geometry is
// rejected synchronously, never coerced.
func (e *Engine) Create(ctx context.Context, ownerID string, in model.GeofenceInput) (model.Geofence, error) {
	if strings.TrimSpace(in.Name) == "" {
		return model.Geofence{}, model.Invalid("name", "required")
	}
	if in.Type != model.GeofenceAllowed && in.Type != model.GeofenceRestricted {
		return model.Geofence{}, model.Invalid("type", "must be allowed_area or restricted_area")
	}
	gf := model.Geofence{
		ID:            uuid.New().String(),
		OwnerID:       ownerID,
		Name:          in.Name,
		Type:          in.Type,
		ActiveHours:   in.ActiveHours,
		Notifications: in.Notifications,
		IsActive:      true,
		CreatedAt:     e.now().UTC(),
	}

	switch len(in.Coordinates) {
	case 0:
		return model.Geofence{}, model.Invalid("coordinates", "required")
	case 1:
		center := in.Coordinates[0]
		if !geo.ValidPoint(center) {
			return model.Geofence{}, model.Invalid("coordinates", "center out of range")
		}
		radius := in.RadiusM
		if radius == 0 {
			// Fallback for circles created without a radius; a stored
			// per-geofence radius always wins afterwards.
			radius = e.cfg.DefaultRadiusM
		}
		if radius <= 0 {
			return model.Geofence{}, model.Invalid("radius", "must be > 0")
		}
		gf.Center = &center
		gf.RadiusM = radius
	case 2:
		return model.Geofence{}, model.Invalid("coordinates", "polygon needs at least 3 vertices")
	default:
		if _, err := geo.NewPolygon(in.Coordinates); err != nil {
			return model.Geofence{}, model.Invalid("coordinates", err.Error())
		}
		gf.Vertices = in.Coordinates
	}

	if in.ActiveHours != nil {
		if err := validateHourWindow(*in.ActiveHours); err != nil {
			return model.Geofence{}, err
		}
	}

	if err := e.store.CreateGeofence(ctx, gf); err != nil {
		return model.Geofence{}, err
	}
	e.invalidate()
	return gf, nil
}

// Deactivate soft-disables a geofence. Recorded events keep referencing it.
func (e *Engine) Deactivate(ctx context.Context, id string) error {
	if err := e.store.DeactivateGeofence(ctx, id); err != nil {
		return err
	}
	e.invalidate()
	return nil
}

func validateHourWindow(hw model.HourWindow) error {
	for field, v := range map[string]string{"active_hours.start": hw.Start, "active_hours.end": hw.End} {
		if _, err := time.Parse("15:04", v); err != nil {
			return model.Invalid(field, "must be HH:MM")
		}
	}
	return nil
}

// EvaluateTransition computes inside/outside for the previous and new point
// against every applicable active geofence and emits events only on
// transitions. A missing previous point means "previously outside", so a
// first ping already inside a fence emits an entry. Evaluation problems
// yield no events, never an error.
func (e *Engine) EvaluateTransition(ctx context.Context, userID string, prev *model.GeoPoint, curr model.GeoPoint, at time.Time) []model.GeofenceEvent {
	fences := e.applicableFences(ctx, userID)
	events := []model.GeofenceEvent{}
	for _, cf := range fences {
		if cf.fence.ActiveHours != nil && !withinHours(*cf.fence.ActiveHours, at) {
			continue
		}
		wasInside := prev != nil && cf.shape.Contains(*prev)
		isInside := cf.shape.Contains(curr)
		if wasInside == isInside {
			continue
		}
		evt := model.GeofenceEvent{
			ID:         uuid.New().String(),
			UserID:     userID,
			GeofenceID: cf.fence.ID,
			Name:       cf.fence.Name,
			AlertLevel: cf.fence.Notifications.AlertLevel,
			At:         at,
		}
		if isInside {
			evt.EventType = model.EventEntry
			evt.Message = cf.fence.Notifications.EntryMessage
		} else {
			evt.EventType = model.EventExit
			evt.Message = cf.fence.Notifications.ExitMessage
		}
		events = append(events, evt)
	}
	return events
}

func (e *Engine) applicableFences(ctx context.Context, userID string) []compiledFence {
	all := e.currentSnapshot(ctx)
	if e.dir == nil {
		return all
	}
	managers, err := e.dir.ManagersOf(ctx, userID)
	if err != nil {
		// Ambiguous scope: evaluate nothing rather than alert wrongly.
		return nil
	}
	scope := map[string]struct{}{userID: {}}
	for _, m := range managers {
		scope[m] = struct{}{}
	}
	out := make([]compiledFence, 0, len(all))
	for _, cf := range all {
		if _, ok := scope[cf.fence.OwnerID]; ok {
			out = append(out, cf)
		}
	}
	return out
}

func (e *Engine) currentSnapshot(ctx context.Context) []compiledFence {
	e.mu.RLock()
	fresh := e.now().Sub(e.lastRefresh) < e.cfg.GeofenceRefresh && e.snapshot != nil
	snap := e.snapshot
	e.mu.RUnlock()
	if fresh {
		return snap
	}

	fences, err := e.store.ListActiveGeofences(ctx)
	if err != nil {
		// Keep serving the stale snapshot on storage trouble.
		return snap
	}
	compiled := make([]compiledFence, 0, len(fences))
	for _, gf := range fences {
		shape, err := geo.ShapeOf(gf)
		if err != nil {
			continue
		}
		compiled = append(compiled, compiledFence{fence: gf, shape: shape})
	}
	e.mu.Lock()
	e.snapshot = compiled
	e.lastRefresh = e.now()
	e.mu.Unlock()
	return compiled
}

func (e *Engine) invalidate() {
	e.mu.Lock()
	e.snapshot = nil
	e.lastRefresh = time.Time{}
	e.mu.Unlock()
}

// withinHours checks the local wall-clock time of at against the window.
// Start == End means always active; Start > End wraps past midnight.
func withinHours(hw model.HourWindow, at time.Time) bool {
	start, err1 := time.Parse("15:04", hw.Start)
	end, err2 := time.Parse("15:04", hw.End)
	if err1 != nil || err2 != nil {
		return true
	}
	s := start.Hour()*60 + start.Minute()
	en := end.Hour()*60 + end.Minute()
	cur := at.Hour()*60 + at.Minute()
	switch {
	case s == en:
		return true
	case s < en:
		return cur >= s && cur < en
	default:
		return cur >= s || cur < en
	}
}
