package daemon

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"slices"
	"strings"

	"github.com/go-kit/log/level"
	"github.com/labstack/echo/v4"

	"github.com/g960059/osrelay/internal/api"
	"github.com/g960059/osrelay/internal/auth"
	"github.com/g960059/osrelay/internal/db"
)

func (s *Server) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			return unauthorized("Invalid admin token")
		}
		return next(c)
	}
}

// evict closes a user's live browser sessions, optionally revoking their
// team membership first so they cannot reconnect.
func (s *Server) evict(c echo.Context) error {
	var req api.EvictionRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("invalid request body")
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.TeamID = strings.TrimSpace(req.TeamID)
	if req.UserID == "" {
		return badRequest("user_id is required")
	}
	if req.TeamID == "" && len(req.InstanceIDs) == 0 {
		return badRequest("team_id or instance_ids is required")
	}
	if req.RevokeMembership && req.TeamID == "" {
		return badRequest("revoke_membership requires team_id")
	}
	ctx := c.Request().Context()

	ids := slices.Clone(req.InstanceIDs)
	if req.TeamID != "" {
		teamIDs, err := s.store.ListTeamInstanceIDs(ctx, req.TeamID)
		if err != nil {
			return internal("list team instances", err)
		}
		ids = append(ids, teamIDs...)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	if req.RevokeMembership {
		if err := s.store.DeleteMembership(ctx, req.TeamID, req.UserID); err != nil && !errors.Is(err, db.ErrNotFound) {
			return internal("revoke membership", err)
		}
	}
	evicted := s.engine.EvictUser(req.UserID, ids)
	level.Info(s.logger).Log("msg", "user evicted", "user_id", req.UserID, "team_id", req.TeamID,
		"instances", len(ids), "evicted", evicted, "revoked", req.RevokeMembership)
	return c.JSON(http.StatusOK, api.EvictionResponse{Evicted: evicted})
}
