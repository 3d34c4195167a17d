package daemon

import (
	"errors"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/g960059/osrelay/internal/protocol"
)

func (s *Server) upgrade(c echo.Context) (*websocket.Conn, error) {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written an HTTP error.
		level.Debug(s.logger).Log("msg", "websocket upgrade failed", "path", c.Path(), "err", err)
		return nil, err
	}
	return ws, nil
}

// reject closes a freshly upgraded socket that failed authentication.
func (s *Server) reject(ws *websocket.Conn, channel string, code int, reason string) {
	s.metrics.Rejected(channel, closeCodeLabel(code))
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(s.cfg.WriteWait))
	_ = ws.Close()
}

// readLoop feeds every inbound frame to handle until the peer goes away, a
// handler returns an error, or conn is closed from elsewhere.
func (s *Server) readLoop(conn *wsConn, logger log.Logger, handle func(raw []byte) error) {
	conn.ws.SetReadLimit(s.cfg.MaxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})
	for {
		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			if !conn.closed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				level.Debug(logger).Log("msg", "read failed", "err", err)
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				_ = conn.Close(websocket.CloseMessageTooBig, "message too large")
			}
			return
		}
		if err := handle(raw); err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				level.Warn(logger).Log("msg", "malformed message", "err", err)
				_ = conn.Close(protocol.CloseMalformed, "malformed message")
				return
			}
			level.Warn(logger).Log("msg", "message handling failed", "err", err)
			_ = conn.Close(protocol.CloseInternal, "internal error")
			return
		}
	}
}

func closeCodeLabel(code int) string {
	switch code {
	case protocol.CloseInvalidCredential:
		return "invalid_credential"
	case protocol.CloseForbidden:
		return "forbidden"
	case protocol.CloseNotFound:
		return "not_found"
	case protocol.CloseInternal:
		return "internal"
	default:
		return "other"
	}
}
