package sessions

import (
	"errors"
	"net/http"

	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/hsm/session"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/kashguard/go-hsm/internal/util"
	"github.com/labstack/echo/v4"
)

func DeleteSessionRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1HSM.DELETE("/sessions/:id", deleteSessionHandler(s))
}

func deleteSessionHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		sessionID := c.Param("id")

		if err := s.Module.RevokeSession(ctx, sessionID); err != nil {
			log.Debug().Err(err).Msg("Failed to revoke session")
			if errors.Is(err, session.ErrSessionNotFound) {
				return httperrors.ErrSessionInvalid
			}
			return httperrors.NewHTTPError(http.StatusInternalServerError, types.PublicHTTPErrorTypeGeneric, "Failed to revoke session")
		}

		return c.NoContent(http.StatusNoContent)
	}
}
