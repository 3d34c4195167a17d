package relay

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(n int) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"n":%d}`, n))
}

func TestRingKeepsMostRecentInOrder(t *testing.T) {
	const capacity = 5
	r := NewRing(capacity)
	for i := 0; i < capacity+3; i++ {
		r.Push(entry(i))
	}
	got := r.Entries()
	require.Len(t, got, capacity)
	for i, e := range got {
		assert.JSONEq(t, string(entry(i+3)), string(e))
	}
	assert.Equal(t, capacity, r.Len())
	assert.Equal(t, capacity, r.Cap())
}

func TestRingBelowCapacity(t *testing.T) {
	r := NewRing(4)
	assert.Empty(t, r.Entries())
	r.Push(entry(1))
	r.Push(entry(2))
	got := r.Entries()
	require.Len(t, got, 2)
	assert.JSONEq(t, `{"n":1}`, string(got[0]))
	assert.JSONEq(t, `{"n":2}`, string(got[1]))
}

func TestRingDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultLogHistorySize, NewRing(0).Cap())
}

func TestFeedStoreLogHistoryIsCopy(t *testing.T) {
	s := NewFeedStore(3)
	assert.Nil(t, s.LogHistory("inst-1"))
	for i := 0; i < 10; i++ {
		s.AppendLog("inst-1", entry(i))
	}
	history := s.LogHistory("inst-1")
	require.Len(t, history, 3)
	assert.JSONEq(t, `{"n":7}`, string(history[0]))
	assert.JSONEq(t, `{"n":9}`, string(history[2]))

	history[0] = entry(100)
	assert.JSONEq(t, `{"n":7}`, string(s.LogHistory("inst-1")[0]))
	assert.Nil(t, s.LogHistory("inst-2"))
}

func TestFeedStoreSnapshotReplacesWholesale(t *testing.T) {
	s := NewFeedStore(3)
	_, ok := s.Snapshot("inst-1")
	assert.False(t, ok)
	s.SetSnapshot("inst-1", json.RawMessage(`{"status":"online","current_video":"a"}`))
	s.SetSnapshot("inst-1", json.RawMessage(`{"status":"paused"}`))
	got, ok := s.Snapshot("inst-1")
	require.True(t, ok)
	assert.JSONEq(t, `{"status":"paused"}`, string(got))
}
