package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"fieldtrack/internal/model"
)

// Postgres backs the store with a Postgres database via pgx.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// Ping satisfies the readiness probe.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS location_pings (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		lat DOUBLE PRECISION NOT NULL,
		lng DOUBLE PRECISION NOT NULL,
		accuracy_m DOUBLE PRECISION,
		speed_mps DOUBLE PRECISION,
		heading_deg DOUBLE PRECISION,
		address TEXT,
		recorded_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pings_user_time ON location_pings (user_id, recorded_at)`,
	`CREATE TABLE IF NOT EXISTS geofences (
		id UUID PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		center_lat DOUBLE PRECISION,
		center_lng DOUBLE PRECISION,
		radius_m DOUBLE PRECISION,
		vertices JSONB,
		active_hours JSONB,
		notifications JSONB,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS geofence_events (
		id UUID PRIMARY KEY,
		user_id TEXT NOT NULL,
		geofence_id UUID NOT NULL REFERENCES geofences(id),
		name TEXT NOT NULL,
		event_type TEXT NOT NULL,
		message TEXT,
		alert_level TEXT,
		at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_gf_events_user_time ON geofence_events (user_id, at)`,
	`CREATE TABLE IF NOT EXISTS alert_subscriptions (
		id UUID PRIMARY KEY,
		manager_id TEXT NOT NULL,
		url TEXT NOT NULL,
		events JSONB NOT NULL,
		secret TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS alert_deliveries (
		id UUID PRIMARY KEY,
		manager_id TEXT NOT NULL,
		subscription_id UUID,
		event_type TEXT NOT NULL,
		url TEXT NOT NULL,
		secret TEXT,
		payload JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		attempts INT NOT NULL DEFAULT 0,
		next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		last_error TEXT,
		response_code INT,
		latency_ms INT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_deliveries_due ON alert_deliveries (status, next_attempt_at)`,
}

// Migrate applies the schema. Idempotent; intended as a dev helper, real
// deployments run migrations out of band.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) InsertPing(ctx context.Context, ping model.LocationPing) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO location_pings
		(id, user_id, lat, lng, accuracy_m, speed_mps, heading_deg, address, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		ping.ID, ping.UserID, ping.Lat, ping.Lng,
		ping.AccuracyM, ping.SpeedMps, ping.HeadingDeg, nullIfEmpty(ping.Address), ping.RecordedAt)
	return err
}

func (p *Postgres) LatestPing(ctx context.Context, userID string, notBefore time.Time) (model.LocationPing, error) {
	row := p.db.QueryRowContext(ctx, `SELECT id::text, user_id, lat, lng, accuracy_m, speed_mps, heading_deg, COALESCE(address,''), recorded_at
		FROM location_pings WHERE user_id=$1 AND recorded_at >= $2
		ORDER BY recorded_at DESC LIMIT 1`, userID, notBefore)
	ping, err := scanPing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.LocationPing{}, ErrNotFound
	}
	return ping, err
}

func (p *Postgres) ListPings(ctx context.Context, userID string, from, to time.Time) ([]model.LocationPing, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, user_id, lat, lng, accuracy_m, speed_mps, heading_deg, COALESCE(address,''), recorded_at
		FROM location_pings WHERE user_id=$1 AND recorded_at BETWEEN $2 AND $3
		ORDER BY recorded_at ASC`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.LocationPing{}
	for rows.Next() {
		ping, err := scanPing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ping)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPing(r rowScanner) (model.LocationPing, error) {
	var ping model.LocationPing
	var acc, spd, hdg sql.NullFloat64
	err := r.Scan(&ping.ID, &ping.UserID, &ping.Lat, &ping.Lng, &acc, &spd, &hdg, &ping.Address, &ping.RecordedAt)
	if err != nil {
		return model.LocationPing{}, err
	}
	if acc.Valid {
		ping.AccuracyM = &acc.Float64
	}
	if spd.Valid {
		ping.SpeedMps = &spd.Float64
	}
	if hdg.Valid {
		ping.HeadingDeg = &hdg.Float64
	}
	return ping, nil
}

func (p *Postgres) CreateGeofence(ctx context.Context, gf model.Geofence) error {
	var lat, lng any
	if gf.Center != nil {
		lat, lng = gf.Center.Lat, gf.Center.Lng
	}
	verts, _ := json.Marshal(gf.Vertices)
	notif, _ := json.Marshal(gf.Notifications)
	var hours any
	if gf.ActiveHours != nil {
		hours, _ = json.Marshal(gf.ActiveHours)
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO geofences
		(id, owner_id, name, type, center_lat, center_lng, radius_m, vertices, active_hours, notifications, is_active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		gf.ID, gf.OwnerID, gf.Name, gf.Type, lat, lng, gf.RadiusM, verts, hours, notif, gf.IsActive, gf.CreatedAt)
	return err
}

func (p *Postgres) GetGeofence(ctx context.Context, id string) (model.Geofence, error) {
	row := p.db.QueryRowContext(ctx, geofenceSelect+` WHERE id=$1`, id)
	gf, err := scanGeofence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Geofence{}, ErrNotFound
	}
	return gf, err
}

func (p *Postgres) ListGeofences(ctx context.Context, ownerID string) ([]model.Geofence, error) {
	q := geofenceSelect + ` WHERE ($1 = '' OR owner_id = $1) ORDER BY created_at`
	rows, err := p.db.QueryContext(ctx, q, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectGeofences(rows)
}

func (p *Postgres) ListActiveGeofences(ctx context.Context) ([]model.Geofence, error) {
	rows, err := p.db.QueryContext(ctx, geofenceSelect+` WHERE is_active ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectGeofences(rows)
}

const geofenceSelect = `SELECT id::text, owner_id, name, type, center_lat, center_lng,
	COALESCE(radius_m,0), COALESCE(vertices,'[]'), active_hours, COALESCE(notifications,'{}'), is_active, created_at
	FROM geofences`

func collectGeofences(rows *sql.Rows) ([]model.Geofence, error) {
	out := []model.Geofence{}
	for rows.Next() {
		gf, err := scanGeofence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, gf)
	}
	return out, rows.Err()
}

func scanGeofence(r rowScanner) (model.Geofence, error) {
	var gf model.Geofence
	var lat, lng sql.NullFloat64
	var verts, notif []byte
	var hours []byte
	err := r.Scan(&gf.ID, &gf.OwnerID, &gf.Name, &gf.Type, &lat, &lng, &gf.RadiusM, &verts, &hours, &notif, &gf.IsActive, &gf.CreatedAt)
	if err != nil {
		return model.Geofence{}, err
	}
	if lat.Valid && lng.Valid {
		gf.Center = &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
	}
	_ = json.Unmarshal(verts, &gf.Vertices)
	_ = json.Unmarshal(notif, &gf.Notifications)
	if len(hours) > 0 {
		var hw model.HourWindow
		if json.Unmarshal(hours, &hw) == nil && (hw.Start != "" || hw.End != "") {
			gf.ActiveHours = &hw
		}
	}
	return gf, nil
}

func (p *Postgres) DeactivateGeofence(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE geofences SET is_active=FALSE WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) InsertGeofenceEvents(ctx context.Context, events []model.GeofenceEvent) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, e := range events {
		_, err = tx.ExecContext(ctx, `INSERT INTO geofence_events
			(id, user_id, geofence_id, name, event_type, message, alert_level, at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			e.ID, e.UserID, e.GeofenceID, e.Name, e.EventType, nullIfEmpty(e.Message), nullIfEmpty(e.AlertLevel), e.At)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *Postgres) ListGeofenceEvents(ctx context.Context, userID string, from, to time.Time) ([]model.GeofenceEvent, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, user_id, geofence_id::text, name, event_type, COALESCE(message,''), COALESCE(alert_level,''), at
		FROM geofence_events WHERE ($1 = '' OR user_id = $1) AND at BETWEEN $2 AND $3 ORDER BY at`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.GeofenceEvent{}
	for rows.Next() {
		var e model.GeofenceEvent
		if err := rows.Scan(&e.ID, &e.UserID, &e.GeofenceID, &e.Name, &e.EventType, &e.Message, &e.AlertLevel, &e.At); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) CreateAlertSubscription(ctx context.Context, sub model.AlertSubscription) error {
	ev, _ := json.Marshal(sub.Events)
	_, err := p.db.ExecContext(ctx, `INSERT INTO alert_subscriptions (id, manager_id, url, events, secret)
		VALUES ($1,$2,$3,$4,$5)`, sub.ID, sub.ManagerID, sub.URL, ev, nullIfEmpty(sub.Secret))
	return err
}

func (p *Postgres) SubscriptionsForEvent(ctx context.Context, managerID, eventType string) ([]model.AlertSubscription, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, manager_id, url, events, COALESCE(secret,'')
		FROM alert_subscriptions WHERE manager_id=$1`, managerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.AlertSubscription
	for rows.Next() {
		var s model.AlertSubscription
		var ev []byte
		if err := rows.Scan(&s.ID, &s.ManagerID, &s.URL, &ev, &s.Secret); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(ev, &s.Events)
		for _, e := range s.Events {
			if e == eventType || e == "*" {
				out = append(out, s)
				break
			}
		}
	}
	return out, rows.Err()
}

func (p *Postgres) EnqueueAlert(ctx context.Context, managerID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
	id := uuid.New().String()
	_, err := p.db.ExecContext(ctx, `INSERT INTO alert_deliveries
		(id, manager_id, subscription_id, event_type, url, secret, payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		id, managerID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (p *Postgres) FetchDueAlertDeliveries(ctx context.Context, limit int) ([]AlertDelivery, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, manager_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
		FROM alert_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now()
		ORDER BY next_attempt_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []AlertDelivery{}
	for rows.Next() {
		var d AlertDelivery
		if err := rows.Scan(&d.ID, &d.ManagerID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *Postgres) MarkAlertDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode, latencyMs int) error {
	if success {
		_, err := p.db.ExecContext(ctx, `UPDATE alert_deliveries
			SET status='delivered', attempts=attempts+1, response_code=$2, latency_ms=$3 WHERE id=$1`,
			id, responseCode, latencyMs)
		return err
	}
	next := time.Now().Add(time.Minute)
	if nextAttemptAt != nil {
		next = *nextAttemptAt
	}
	_, err := p.db.ExecContext(ctx, `UPDATE alert_deliveries
		SET status='retry', attempts=attempts+1, next_attempt_at=$2, last_error=$3, response_code=$4, latency_ms=$5 WHERE id=$1`,
		id, next, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

func (p *Postgres) FailAlertDelivery(ctx context.Context, id, lastError string, responseCode, latencyMs int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE alert_deliveries
		SET status='failed', last_error=$2, response_code=$3, latency_ms=$4 WHERE id=$1`,
		id, nullIfEmpty(lastError), responseCode, latencyMs)
	return err
}

func (p *Postgres) ListAlertDeliveries(ctx context.Context, managerID, status string, limit int) ([]AlertDelivery, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := p.db.QueryContext(ctx, `SELECT id::text, manager_id, COALESCE(subscription_id::text,''), event_type, url, status, attempts, next_attempt_at, COALESCE(last_error,''), COALESCE(response_code,0), COALESCE(latency_ms,0)
		FROM alert_deliveries
		WHERE ($1 = '' OR manager_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY next_attempt_at DESC LIMIT $3`, managerID, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []AlertDelivery{}
	for rows.Next() {
		var d AlertDelivery
		if err := rows.Scan(&d.ID, &d.ManagerID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Status, &d.Attempts, &d.NextAttemptAt, &d.LastError, &d.ResponseCode, &d.LatencyMs); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
