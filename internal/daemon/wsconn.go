package daemon

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var (
	errConnClosed = errors.New("connection closed")
	errQueueFull  = errors.New("outbound queue full")
)

// wsConn adapts a websocket to relay.Conn. With a queue, Send never blocks
// and a writer goroutine drains it; without one, Send writes inline.
type wsConn struct {
	id        string
	ws        *websocket.Conn
	writeWait time.Duration
	queue     chan []byte

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	closeErr  error
}

func newWSConn(ws *websocket.Conn, writeWait time.Duration, queueSize int) *wsConn {
	c := &wsConn{
		id:        uuid.NewString(),
		ws:        ws,
		writeWait: writeWait,
		done:      make(chan struct{}),
	}
	if queueSize > 0 {
		c.queue = make(chan []byte, queueSize)
	}
	return c
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(msg []byte) error {
	if c.queue == nil {
		select {
		case <-c.done:
			return errConnClosed
		default:
		}
		return c.write(websocket.TextMessage, msg)
	}
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	select {
	case c.queue <- msg:
		return nil
	case <-c.done:
		return errConnClosed
	default:
		return errQueueFull
	}
}

func (c *wsConn) write(messageType int, msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, msg)
}

// run drains the outbound queue and keeps the peer alive with pings until
// the connection closes.
func (c *wsConn) run(pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.queue:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				_ = c.Close(websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
			c.writeMu.Unlock()
			if err != nil {
				_ = c.Close(websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

// Close sends a close frame with code and reason, then drops the socket.
// Only the first call has any effect.
func (c *wsConn) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		err := c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(c.writeWait))
		c.writeMu.Unlock()
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.closeErr = err
		}
		if err := c.ws.Close(); err != nil && c.closeErr == nil {
			c.closeErr = err
		}
	})
	return c.closeErr
}

func (c *wsConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
