package relay

import "encoding/json"

// DefaultLogHistorySize is the number of log entries kept per instance.
const DefaultLogHistorySize = 500

// Ring is a fixed-capacity FIFO of log entries. When full, a push evicts
// the oldest entry. Ring is not safe for concurrent use; FeedStore guards
// the rings it owns.
type Ring struct {
	entries []json.RawMessage
	start   int
	size    int
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultLogHistorySize
	}
	return &Ring{entries: make([]json.RawMessage, capacity)}
}

func (r *Ring) Push(entry json.RawMessage) {
	capacity := len(r.entries)
	if r.size < capacity {
		r.entries[(r.start+r.size)%capacity] = entry
		r.size++
		return
	}
	r.entries[r.start] = entry
	r.start = (r.start + 1) % capacity
}

// Entries returns the buffered entries, oldest first.
func (r *Ring) Entries() []json.RawMessage {
	out := make([]json.RawMessage, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.entries[(r.start+i)%len(r.entries)]
	}
	return out
}

func (r *Ring) Len() int { return r.size }

func (r *Ring) Cap() int { return len(r.entries) }
