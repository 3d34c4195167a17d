package relay

import (
	"encoding/json"
	"sync"
)

// FeedStore holds the latest snapshot and recent log entries per instance.
// Entries live for the life of the process so late joiners see the last
// known state even after the instance disconnects.
type FeedStore struct {
	mu        sync.RWMutex
	capacity  int
	snapshots map[string]json.RawMessage
	logs      map[string]*Ring
}

func NewFeedStore(logCapacity int) *FeedStore {
	if logCapacity <= 0 {
		logCapacity = DefaultLogHistorySize
	}
	return &FeedStore{
		capacity:  logCapacity,
		snapshots: make(map[string]json.RawMessage),
		logs:      make(map[string]*Ring),
	}
}

// SetSnapshot replaces the snapshot for instanceID wholesale.
func (s *FeedStore) SetSnapshot(instanceID string, snapshot json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[instanceID] = snapshot
}

func (s *FeedStore) Snapshot(instanceID string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot, ok := s.snapshots[instanceID]
	return snapshot, ok
}

func (s *FeedStore) AppendLog(instanceID string, entry json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ring, ok := s.logs[instanceID]
	if !ok {
		ring = NewRing(s.capacity)
		s.logs[instanceID] = ring
	}
	ring.Push(entry)
}

// LogHistory returns a copy of the buffered entries, oldest first. It
// returns nil when nothing was logged for instanceID.
func (s *FeedStore) LogHistory(instanceID string) []json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ring, ok := s.logs[instanceID]
	if !ok {
		return nil
	}
	return ring.Entries()
}
