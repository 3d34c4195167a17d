// Package presence counts the users watching an instance from heartbeats.
// It is independent of the WebSocket registry: a viewer is present while it
// keeps heartbeating, whether or not it holds a socket.
package presence

import (
	"sync"
	"time"

	"github.com/g960059/osrelay/internal/clock"
)

const DefaultTTL = 20 * time.Second

type Tracker struct {
	clock clock.Clock
	ttl   time.Duration

	mu    sync.Mutex
	beats map[string]map[string]time.Time
}

func NewTracker(c clock.Clock, ttl time.Duration) *Tracker {
	if c == nil {
		c = clock.Real()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		clock: c,
		ttl:   ttl,
		beats: make(map[string]map[string]time.Time),
	}
}

// Heartbeat records that userID is watching instanceID now.
func (t *Tracker) Heartbeat(instanceID, userID string) {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.beats[instanceID]
	if !ok {
		users = make(map[string]time.Time)
		t.beats[instanceID] = users
	}
	users[userID] = now
}

// ActiveCount purges heartbeats older than the TTL for instanceID and
// returns how many remain.
func (t *Tracker) ActiveCount(instanceID string) int {
	now := t.clock.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.beats[instanceID]
	if !ok {
		return 0
	}
	for userID, seen := range users {
		if now.Sub(seen) > t.ttl {
			delete(users, userID)
		}
	}
	if len(users) == 0 {
		delete(t.beats, instanceID)
	}
	return len(users)
}
