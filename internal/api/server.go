package api

import (
	"context"
	"os"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"fieldtrack/internal/auth"
	"fieldtrack/internal/config"
	"fieldtrack/internal/geofence"
	"fieldtrack/internal/routeopt"
	"fieldtrack/internal/store"
	"fieldtrack/internal/team"
	"fieldtrack/internal/track"
	"fieldtrack/internal/webhooks"
)

type Server struct {
	Cfg     config.Config
	Store   store.Store
	Tracker *track.Tracker
	Fences  *geofence.Engine
	Team    *team.Aggregator
	Planner *routeopt.Planner
	Dir     team.Directory
	Pub     *webhooks.Publisher
	Auth    *auth.Verifier
	Broker  EventBroker

	limits *userLimits
}

// NewServer wires the service from the environment. No DATABASE_URL means
// the in-memory store; no REDIS_URL means the in-process broker.
func NewServer() (*Server, error) {
	cfg := config.FromEnv()

	dsn := os.Getenv("DATABASE_URL")
	var s store.Store
	if strings.TrimSpace(dsn) == "" {
		s = store.NewMemory()
	} else {
		sp, err := store.NewPostgres(dsn)
		if err != nil {
			return nil, err
		}
		if os.Getenv("DB_MIGRATE") != "false" {
			if err := sp.Migrate(context.Background()); err != nil {
				return nil, err
			}
		}
		s = sp
	}

	var broker EventBroker
	if os.Getenv("REDIS_URL") != "" {
		if rb, err := NewRedisBroker(); err == nil {
			broker = rb
		} else {
			broker = NewBroker()
		}
	} else {
		broker = NewBroker()
	}

	dir := team.StaticDirectoryFromEnv()
	fences := geofence.NewEngine(cfg, s, dir)
	tracker := track.NewTracker(cfg, s, fences)

	return &Server{
		Cfg:     cfg,
		Store:   s,
		Tracker: tracker,
		Fences:  fences,
		Team:    team.NewAggregator(cfg, tracker, dir, team.NoVisits{}),
		Planner: routeopt.NewPlanner(cfg, tracker),
		Dir:     dir,
		Pub:     webhooks.NewPublisher(s),
		Auth:    auth.NewVerifierFromEnv(),
		Broker:  broker,
		limits:  newUserLimits(rate.Limit(cfg.RatePerSec), cfg.RateBurst),
	}, nil
}

// NewAlertWorker creates the background worker for alert deliveries.
func (s *Server) NewAlertWorker() *webhooks.Worker {
	return webhooks.NewWorker(s.Store)
}

// userLimits keeps one token bucket per user for the ingest endpoint.
type userLimits struct {
	mu sync.Mutex
	m  map[string]*rate.Limiter
	r  rate.Limit
	b  int
}

func newUserLimits(r rate.Limit, b int) *userLimits {
	return &userLimits{m: map[string]*rate.Limiter{}, r: r, b: b}
}

func (l *userLimits) allow(userID string) bool {
	l.mu.Lock()
	lim := l.m[userID]
	if lim == nil {
		lim = rate.NewLimiter(l.r, l.b)
		l.m[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
