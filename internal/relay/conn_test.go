package relay

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

var errPeerGone = errors.New("peer gone")

type fakeConn struct {
	id string

	mu          sync.Mutex
	sent        [][]byte
	fail        bool
	closed      bool
	closeCode   int
	closeReason string
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail || c.closed {
		return errPeerGone
	}
	c.sent = append(c.sent, append([]byte(nil), msg...))
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errPeerGone
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	return nil
}

func (c *fakeConn) setFail(fail bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = fail
}

type sentMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (c *fakeConn) messages(t *testing.T) []sentMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sentMessage, 0, len(c.sent))
	for _, raw := range c.sent {
		var msg sentMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("unmarshal sent message %s: %v", raw, err)
		}
		out = append(out, msg)
	}
	return out
}

func (c *fakeConn) raw() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *fakeConn) closeState() (bool, int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed, c.closeCode, c.closeReason
}
