package track

import (
	"hash/fnv"
	"sync"

	"fieldtrack/internal/model"
)

const lastSeenShards = 64

// LastSeenCache holds the most recent ping per user. Ingestion calls for
// different users must not contend, so the map is striped across shards with
// one mutex each rather than guarded by a single process-wide lock. The
// cache is reconstructible from the ping stream, so it is never treated as a
// source of truth.
type LastSeenCache struct {
	shards [lastSeenShards]lastSeenShard
}

type lastSeenShard struct {
	mu sync.Mutex
	m  map[string]model.LocationPing
}

func NewLastSeenCache() *LastSeenCache {
	c := &LastSeenCache{}
	for i := range c.shards {
		c.shards[i].m = map[string]model.LocationPing{}
	}
	return c
}

func (c *LastSeenCache) shard(userID string) *lastSeenShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &c.shards[h.Sum32()%lastSeenShards]
}

// Get returns the cached latest ping for a user.
func (c *LastSeenCache) Get(userID string) (model.LocationPing, bool) {
	s := c.shard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.m[userID]
	return p, ok
}

// Update stores ping if it is newer than the cached entry. Out-of-order
// flushes from mobile clients must not move the latest position backwards.
func (c *LastSeenCache) Update(ping model.LocationPing) {
	s := c.shard(ping.UserID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.m[ping.UserID]; ok && cur.RecordedAt.After(ping.RecordedAt) {
		return
	}
	s.m[ping.UserID] = ping
}
