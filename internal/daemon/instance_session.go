package daemon

import (
	"context"
	"errors"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/g960059/osrelay/internal/db"
	"github.com/g960059/osrelay/internal/model"
	"github.com/g960059/osrelay/internal/protocol"
	"github.com/g960059/osrelay/internal/security"
)

const channelInstance = "instance"

func (s *Server) instanceSocket(c echo.Context) error {
	apiKey := strings.TrimSpace(c.Param("apiKey"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(c.Request().Header.Get("X-API-Key"))
	}
	ws, err := s.upgrade(c)
	if err != nil {
		return nil
	}

	inst, err := s.resolveInstance(c.Request().Context(), apiKey)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			level.Info(s.logger).Log("msg", "instance rejected", "api_key", security.MaskAPIKey(apiKey), "reason", "invalid api key")
			s.reject(ws, channelInstance, protocol.CloseInvalidCredential, "Invalid API key")
			return nil
		}
		level.Error(s.logger).Log("msg", "resolve instance api key", "api_key", security.MaskAPIKey(apiKey), "err", err)
		s.reject(ws, channelInstance, protocol.CloseInternal, "internal error")
		return nil
	}

	s.serveInstance(ws, inst)
	return nil
}

func (s *Server) resolveInstance(ctx context.Context, apiKey string) (model.Instance, error) {
	if apiKey == "" || s.instances == nil {
		return model.Instance{}, db.ErrNotFound
	}
	return s.instances.ResolveInstanceByAPIKey(ctx, apiKey)
}

func (s *Server) serveInstance(ws *websocket.Conn, inst model.Instance) {
	conn := newWSConn(ws, s.cfg.WriteWait, 0)
	logger := log.With(s.logger, "channel", channelInstance, "instance_id", inst.InstanceID, "conn_id", conn.ID())

	if !s.track(conn) {
		_ = conn.Close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	s.engine.ConnectInstance(inst.InstanceID, conn)
	level.Info(logger).Log("msg", "instance connected", "team_id", inst.TeamID)
	go conn.run(s.cfg.PingPeriod())

	defer func() {
		live := s.engine.DisconnectInstance(inst.InstanceID, conn)
		_ = conn.Close(websocket.CloseNormalClosure, "")
		s.untrack(conn)
		level.Info(logger).Log("msg", "instance disconnected", "was_live", live)
	}()

	s.readLoop(conn, logger, func(raw []byte) error {
		msg, err := protocol.DecodeInstanceMessage(raw)
		if err != nil {
			return err
		}
		switch msg.Kind {
		case protocol.KindState:
			s.engine.HandleState(inst.InstanceID, msg.Data)
		case protocol.KindLog:
			s.engine.HandleLog(inst.InstanceID, msg.Data)
		default:
			level.Debug(logger).Log("msg", "ignoring instance message", "type", msg.Type)
		}
		return nil
	})
}
