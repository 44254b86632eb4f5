package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fieldtrack/internal/model"
)

// Memory is the in-memory store used when no DATABASE_URL is set and by the
// unit tests.
type Memory struct {
	mu         sync.Mutex
	pings      map[string][]model.LocationPing // userID -> pings ordered by RecordedAt
	gfs        map[string]model.Geofence
	gfOrder    []string
	events     []model.GeofenceEvent
	subs       map[string][]model.AlertSubscription // managerID -> subscriptions
	deliveries map[string]*AlertDelivery
	delivOrder []string
}

func NewMemory() *Memory {
	return &Memory{
		pings:      map[string][]model.LocationPing{},
		gfs:        map[string]model.Geofence{},
		subs:       map[string][]model.AlertSubscription{},
		deliveries: map[string]*AlertDelivery{},
	}
}

func (m *Memory) InsertPing(ctx context.Context, ping model.LocationPing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.pings[ping.UserID]
	list = append(list, ping)
	// Mobile clients can flush queued pings out of order.
	sort.SliceStable(list, func(i, j int) bool { return list[i].RecordedAt.Before(list[j].RecordedAt) })
	m.pings[ping.UserID] = list
	return nil
}

func (m *Memory) LatestPing(ctx context.Context, userID string, notBefore time.Time) (model.LocationPing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.pings[userID]
	for i := len(list) - 1; i >= 0; i-- {
		if !list[i].RecordedAt.Before(notBefore) {
			return list[i], nil
		}
	}
	return model.LocationPing{}, ErrNotFound
}

func (m *Memory) ListPings(ctx context.Context, userID string, from, to time.Time) ([]model.LocationPing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.LocationPing{}
	for _, p := range m.pings[userID] {
		if p.RecordedAt.Before(from) || p.RecordedAt.After(to) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (m *Memory) CreateGeofence(ctx context.Context, gf model.Geofence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gfs[gf.ID] = gf
	m.gfOrder = append(m.gfOrder, gf.ID)
	return nil
}

func (m *Memory) GetGeofence(ctx context.Context, id string) (model.Geofence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gf, ok := m.gfs[id]
	if !ok {
		return model.Geofence{}, ErrNotFound
	}
	return gf, nil
}

func (m *Memory) ListGeofences(ctx context.Context, ownerID string) ([]model.Geofence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Geofence{}
	for _, id := range m.gfOrder {
		gf := m.gfs[id]
		if ownerID == "" || gf.OwnerID == ownerID {
			out = append(out, gf)
		}
	}
	return out, nil
}

func (m *Memory) ListActiveGeofences(ctx context.Context) ([]model.Geofence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Geofence{}
	for _, id := range m.gfOrder {
		if gf := m.gfs[id]; gf.IsActive {
			out = append(out, gf)
		}
	}
	return out, nil
}

func (m *Memory) DeactivateGeofence(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	gf, ok := m.gfs[id]
	if !ok {
		return ErrNotFound
	}
	gf.IsActive = false
	m.gfs[id] = gf
	return nil
}

func (m *Memory) InsertGeofenceEvents(ctx context.Context, events []model.GeofenceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

func (m *Memory) ListGeofenceEvents(ctx context.Context, userID string, from, to time.Time) ([]model.GeofenceEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.GeofenceEvent{}
	for _, e := range m.events {
		if userID != "" && e.UserID != userID {
			continue
		}
		if e.At.Before(from) || e.At.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *Memory) CreateAlertSubscription(ctx context.Context, sub model.AlertSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ManagerID] = append(m.subs[sub.ManagerID], sub)
	return nil
}

func (m *Memory) SubscriptionsForEvent(ctx context.Context, managerID, eventType string) ([]model.AlertSubscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.AlertSubscription
	for _, s := range m.subs[managerID] {
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) EnqueueAlert(ctx context.Context, managerID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New().String()
	m.deliveries[id] = &AlertDelivery{
		ID: id, ManagerID: managerID, SubscriptionID: subscriptionID,
		EventType: eventType, URL: url, Secret: secret, Payload: payload,
		Status: "pending", NextAttemptAt: time.Now(),
	}
	m.delivOrder = append(m.delivOrder, id)
	return id, nil
}

func (m *Memory) FetchDueAlertDeliveries(ctx context.Context, limit int) ([]AlertDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := []AlertDelivery{}
	for _, id := range m.delivOrder {
		d := m.deliveries[id]
		if d == nil {
			continue
		}
		if (d.Status == "pending" || d.Status == "retry") && !d.NextAttemptAt.After(now) {
			out = append(out, *d)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) MarkAlertDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Attempts++
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	if success {
		d.Status = "delivered"
	} else {
		d.Status = "retry"
		d.LastError = lastError
		if nextAttemptAt != nil {
			d.NextAttemptAt = *nextAttemptAt
		} else {
			d.NextAttemptAt = time.Now().Add(time.Minute)
		}
	}
	return nil
}

func (m *Memory) FailAlertDelivery(ctx context.Context, id, lastError string, responseCode, latencyMs int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.deliveries[id]
	if d == nil {
		return ErrNotFound
	}
	d.Status = "failed"
	d.LastError = lastError
	d.ResponseCode = responseCode
	d.LatencyMs = latencyMs
	return nil
}

func (m *Memory) ListAlertDeliveries(ctx context.Context, managerID, status string, limit int) ([]AlertDelivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []AlertDelivery{}
	for _, id := range m.delivOrder {
		d := m.deliveries[id]
		if d == nil || (managerID != "" && d.ManagerID != managerID) {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		out = append(out, *d)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
