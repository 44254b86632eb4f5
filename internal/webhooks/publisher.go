// Package webhooks delivers geofence alerts to the external notifier:
// managers register HTTPS endpoints, events are queued as deliveries, and a
// background worker posts them with retry and HMAC signing.
package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"fieldtrack/internal/store"
)

type Publisher struct {
	Store store.Store
}

func NewPublisher(s store.Store) *Publisher {
	return &Publisher{Store: s}
}

// Emit enqueues one delivery per matching subscription of the manager.
// Delivery is asynchronous; emitting never blocks on the network and a
// manager without subscriptions is a no-op.
func (p *Publisher) Emit(ctx context.Context, managerID, eventType string, data any) {
	subs, err := p.Store.SubscriptionsForEvent(ctx, managerID, eventType)
	if err != nil || len(subs) == 0 {
		return
	}
	payload := map[string]any{
		"id":        uuid.New().String(),
		"type":      eventType,
		"managerId": managerID,
		"ts":        time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	}
	body, _ := json.Marshal(payload)
	for _, s := range subs {
		_, _ = p.Store.EnqueueAlert(ctx, managerID, s.ID, eventType, s.URL, s.Secret, body)
	}
}
