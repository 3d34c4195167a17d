package daemon

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/g960059/osrelay/internal/api"
	"github.com/g960059/osrelay/internal/auth"
	"github.com/g960059/osrelay/internal/db"
)

const ctxUserID = "osrelay.user_id"

// requireUser authenticates the bearer token, then checks that the user is a
// member of :teamID and that :instanceID belongs to that team.
func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, err := s.decodeToken(auth.BearerToken(c.Request().Header.Get(echo.HeaderAuthorization)))
		if err != nil {
			return unauthorized("Invalid token")
		}
		ctx := c.Request().Context()
		teamID := c.Param("teamID")
		instanceID := c.Param("instanceID")

		if _, err := s.store.ResolveTeamMembership(ctx, teamID, userID); err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return forbidden("Not a team member")
			}
			return internal("resolve membership", err)
		}
		inst, err := s.store.ResolveInstanceByID(ctx, instanceID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return notFound("Instance not found")
			}
			return internal("resolve instance", err)
		}
		if inst.TeamID != teamID {
			return notFound("Instance not found")
		}
		c.Set(ctxUserID, userID)
		return next(c)
	}
}

func (s *Server) viewerHeartbeat(c echo.Context) error {
	userID, _ := c.Get(ctxUserID).(string)
	s.presence.Heartbeat(c.Param("instanceID"), userID)
	return c.JSON(http.StatusOK, api.HeartbeatResponse{OK: true})
}

func (s *Server) viewerCount(c echo.Context) error {
	return c.JSON(http.StatusOK, api.ViewersResponse{Viewers: s.presence.ActiveCount(c.Param("instanceID"))})
}
