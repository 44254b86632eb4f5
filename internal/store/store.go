package store

import (
	"context"
	"errors"
	"time"

	"fieldtrack/internal/model"
)

// Store is the persistence interface used by the tracking core. Pings are an
// append-only stream per user; geofences are soft-disabled, never deleted.
type Store interface {
	// Location pings
	InsertPing(ctx context.Context, ping model.LocationPing) error
	LatestPing(ctx context.Context, userID string, notBefore time.Time) (model.LocationPing, error)
	ListPings(ctx context.Context, userID string, from, to time.Time) ([]model.LocationPing, error)

	// Geofences
	CreateGeofence(ctx context.Context, gf model.Geofence) error
	GetGeofence(ctx context.Context, id string) (model.Geofence, error)
	ListGeofences(ctx context.Context, ownerID string) ([]model.Geofence, error)
	ListActiveGeofences(ctx context.Context) ([]model.Geofence, error)
	DeactivateGeofence(ctx context.Context, id string) error

	// Geofence events
	InsertGeofenceEvents(ctx context.Context, events []model.GeofenceEvent) error
	ListGeofenceEvents(ctx context.Context, userID string, from, to time.Time) ([]model.GeofenceEvent, error)

	// Alert subscriptions (external notifier endpoints)
	CreateAlertSubscription(ctx context.Context, sub model.AlertSubscription) error
	SubscriptionsForEvent(ctx context.Context, managerID, eventType string) ([]model.AlertSubscription, error)

	// Alert delivery queue
	EnqueueAlert(ctx context.Context, managerID, subscriptionID, eventType, url, secret string, payload []byte) (string, error)
	FetchDueAlertDeliveries(ctx context.Context, limit int) ([]AlertDelivery, error)
	MarkAlertDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error
	FailAlertDelivery(ctx context.Context, id, lastError string, responseCode, latencyMs int) error
	ListAlertDeliveries(ctx context.Context, managerID, status string, limit int) ([]AlertDelivery, error)
}

// AlertDelivery is one queued (or settled) webhook delivery to the external
// notifier.
type AlertDelivery struct {
	ID             string    `json:"id"`
	ManagerID      string    `json:"managerId"`
	SubscriptionID string    `json:"subscriptionId"`
	EventType      string    `json:"eventType"`
	URL            string    `json:"url"`
	Secret         string    `json:"-"`
	Payload        []byte    `json:"-"`
	Status         string    `json:"status"` // pending, retry, delivered, failed
	Attempts       int       `json:"attempts"`
	NextAttemptAt  time.Time `json:"nextAttemptAt,omitempty"`
	LastError      string    `json:"lastError,omitempty"`
	ResponseCode   int       `json:"responseCode,omitempty"`
	LatencyMs      int       `json:"latencyMs,omitempty"`
}

var ErrNotFound = errors.New("not found")
