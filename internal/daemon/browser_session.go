package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/g960059/osrelay/internal/auth"
	"github.com/g960059/osrelay/internal/db"
	"github.com/g960059/osrelay/internal/model"
	"github.com/g960059/osrelay/internal/protocol"
	"github.com/g960059/osrelay/internal/relay"
	"github.com/g960059/osrelay/internal/security"
)

const channelBrowser = "browser"

func (s *Server) browserSocket(c echo.Context) error {
	instanceID := strings.TrimSpace(c.Param("instanceID"))
	token := strings.TrimSpace(c.QueryParam("token"))
	if token == "" {
		token = auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	}
	ws, err := s.upgrade(c)
	if err != nil {
		return nil
	}
	ctx := c.Request().Context()
	logger := log.With(s.logger, "channel", channelBrowser, "instance_id", instanceID)

	userID, err := s.decodeToken(token)
	if err != nil {
		level.Info(logger).Log("msg", "browser rejected", "reason", "invalid token", "err", err)
		s.reject(ws, channelBrowser, protocol.CloseInvalidCredential, "Invalid token")
		return nil
	}
	logger = log.With(logger, "user_id", userID)

	inst, err := s.store.ResolveInstanceByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			level.Info(logger).Log("msg", "browser rejected", "reason", "instance not found")
			s.reject(ws, channelBrowser, protocol.CloseNotFound, "Instance not found")
			return nil
		}
		level.Error(logger).Log("msg", "resolve instance", "err", err)
		s.reject(ws, channelBrowser, protocol.CloseInternal, "internal error")
		return nil
	}

	role, err := s.store.ResolveTeamMembership(ctx, inst.TeamID, userID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			level.Info(logger).Log("msg", "browser rejected", "reason", "not a team member", "team_id", inst.TeamID)
			s.reject(ws, channelBrowser, protocol.CloseForbidden, "Not a team member")
			return nil
		}
		level.Error(logger).Log("msg", "resolve membership", "err", err)
		s.reject(ws, channelBrowser, protocol.CloseInternal, "internal error")
		return nil
	}

	s.serveBrowser(ctx, ws, inst.TeamID, relay.Subscription{InstanceID: inst.InstanceID, Role: role, UserID: userID}, logger)
	return nil
}

func (s *Server) decodeToken(token string) (string, error) {
	if token == "" {
		return "", auth.ErrInvalidToken
	}
	if s.identity == nil {
		return "", fmt.Errorf("%w: no identity provider configured", auth.ErrInvalidToken)
	}
	return s.identity.DecodeToken(token)
}

func (s *Server) serveBrowser(ctx context.Context, ws *websocket.Conn, teamID string, sub relay.Subscription, logger log.Logger) {
	conn := newWSConn(ws, s.cfg.WriteWait, s.cfg.OutboundQueueSize)
	sub.Conn = conn
	logger = log.With(logger, "role", sub.Role, "conn_id", conn.ID())

	if !s.track(conn) {
		_ = conn.Close(websocket.CloseGoingAway, "server shutting down")
		return
	}
	go conn.run(s.cfg.PingPeriod())
	defer func() {
		s.engine.Unsubscribe(sub.InstanceID, conn)
		_ = conn.Close(websocket.CloseNormalClosure, "")
		s.untrack(conn)
		level.Debug(logger).Log("msg", "browser disconnected")
	}()

	if err := s.engine.Subscribe(sub); err != nil {
		level.Warn(logger).Log("msg", "subscribe failed", "err", err)
		_ = conn.Close(protocol.CloseInternal, "internal error")
		return
	}
	// A revocation that landed between the membership check and Subscribe
	// missed this subscription; recheck now that eviction can see it.
	if _, err := s.store.ResolveTeamMembership(ctx, teamID, sub.UserID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			level.Info(logger).Log("msg", "membership revoked during subscribe")
			s.engine.Unsubscribe(sub.InstanceID, conn)
			_ = conn.Close(protocol.CloseForbidden, "Removed from team")
			return
		}
		level.Warn(logger).Log("msg", "recheck membership", "err", err)
	}
	level.Debug(logger).Log("msg", "browser subscribed")

	s.readLoop(conn, logger, func(raw []byte) error {
		msg, err := protocol.DecodeBrowserMessage(raw)
		if err != nil {
			return err
		}
		if msg.Kind != protocol.KindCommand {
			level.Debug(logger).Log("msg", "ignoring browser message", "type", msg.Type)
			return nil
		}
		return s.handleCommand(conn, sub, msg.Command, logger)
	})
}

func (s *Server) handleCommand(conn *wsConn, sub relay.Subscription, cmd protocol.Command, logger log.Logger) error {
	if cmd.Action == "" {
		s.metrics.Command("rejected")
		return reply(conn, protocol.ErrorMessage("Missing command action"))
	}
	if err := model.AuthorizeCommand(sub.Role, cmd.Action); err != nil {
		var denied *model.CommandDenied
		if !errors.As(err, &denied) {
			return err
		}
		s.metrics.Command("rejected")
		level.Info(logger).Log("msg", "command denied", "action", cmd.Action, "required", denied.Required)
		return reply(conn, protocol.ErrorMessage(denied.Message))
	}

	delivered := s.engine.RelayCommand(sub.InstanceID, cmd)
	if delivered {
		s.metrics.Command("delivered")
	} else {
		s.metrics.Command("undelivered")
	}
	level.Info(logger).Log("msg", "command relayed", "action", cmd.Action, "delivered", delivered,
		"payload", security.RedactCommandPayload(cmd.Action, cmd.Payload))
	return reply(conn, protocol.CommandAckMessage(delivered))
}

func reply(conn *wsConn, msg protocol.Outbound) error {
	body, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	if err := conn.Send(body); err != nil {
		return fmt.Errorf("reply %s: %w", msg.Type, err)
	}
	return nil
}
