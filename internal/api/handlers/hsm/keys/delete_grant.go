package keys

import (
	"errors"
	"net/http"

	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/hsm/registry"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/kashguard/go-hsm/internal/util"
	"github.com/labstack/echo/v4"
)

func DeleteGrantRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1HSM.DELETE("/keys/:id/grants/:principal", deleteGrantHandler(s))
}

func deleteGrantHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		err := s.Module.RevokePermission(ctx, util.SessionIDFromRequest(c), c.Param("id"), c.Param("principal"))
		if err != nil {
			log.Debug().Err(err).Msg("Failed to revoke permission")
			if httpErr := sessionHTTPError(err); httpErr != nil {
				return httpErr
			}
			if errors.Is(err, registry.ErrPermissionDenied) {
				return httperrors.ErrPermissionDenied
			}
			if errors.Is(err, registry.ErrKeyNotFound) {
				return httperrors.ErrKeyNotFound
			}
			if errors.Is(err, registry.ErrGrantNotFound) {
				return httperrors.NewHTTPError(http.StatusNotFound, types.PublicHTTPErrorTypeGeneric, "Grant not found")
			}
			return httperrors.NewHTTPError(http.StatusInternalServerError, types.PublicHTTPErrorTypeGeneric, "Failed to revoke permission")
		}

		return c.NoContent(http.StatusNoContent)
	}
}
