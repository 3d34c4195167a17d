package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/g960059/osrelay/internal/clock"
)

var epoch = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

func TestActiveCountExpiresAfterTTL(t *testing.T) {
	fake := clock.Fake(epoch)
	tr := NewTracker(fake, 20*time.Second)

	tr.Heartbeat("inst-1", "alice")
	fake.Advance(19 * time.Second)
	assert.Equal(t, 1, tr.ActiveCount("inst-1"))

	fake.Advance(2 * time.Second)
	assert.Equal(t, 0, tr.ActiveCount("inst-1"))
	assert.False(t, tr.tracked("inst-1"), "stale entry should be purged by the read")
}

func TestHeartbeatOverwritesTimestamp(t *testing.T) {
	fake := clock.Fake(epoch)
	tr := NewTracker(fake, 20*time.Second)

	tr.Heartbeat("inst-1", "alice")
	fake.Advance(15 * time.Second)
	tr.Heartbeat("inst-1", "alice")
	fake.Advance(15 * time.Second)
	assert.Equal(t, 1, tr.ActiveCount("inst-1"))
}

func TestActiveCountPerInstance(t *testing.T) {
	fake := clock.Fake(epoch)
	tr := NewTracker(fake, 0)

	tr.Heartbeat("inst-1", "alice")
	fake.Advance(10 * time.Second)
	tr.Heartbeat("inst-1", "bob")
	tr.Heartbeat("inst-2", "alice")
	assert.Equal(t, 2, tr.ActiveCount("inst-1"))
	assert.Equal(t, 1, tr.ActiveCount("inst-2"))

	fake.Advance(15 * time.Second)
	assert.Equal(t, 1, tr.ActiveCount("inst-1"))
	assert.Equal(t, 1, tr.ActiveCount("inst-2"))
	assert.Equal(t, 0, tr.ActiveCount("unknown"))
}

func TestExactTTLStillActive(t *testing.T) {
	fake := clock.Fake(epoch)
	tr := NewTracker(fake, 20*time.Second)
	tr.Heartbeat("inst-1", "alice")
	fake.Advance(20 * time.Second)
	assert.Equal(t, 1, tr.ActiveCount("inst-1"))
}

// tracked reports whether any heartbeat, stale or not, is held for
// instanceID.
func (t *Tracker) tracked(instanceID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.beats[instanceID]
	return ok
}
