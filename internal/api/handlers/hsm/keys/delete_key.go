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

func DeleteKeyRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1HSM.DELETE("/keys/:id", deleteKeyHandler(s))
}

func deleteKeyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		if err := s.Module.DeleteKey(ctx, util.SessionIDFromRequest(c), c.Param("id")); err != nil {
			log.Debug().Err(err).Msg("Failed to delete key")
			if httpErr := sessionHTTPError(err); httpErr != nil {
				return httpErr
			}
			if errors.Is(err, registry.ErrPermissionDenied) {
				return httperrors.ErrPermissionDenied
			}
			if errors.Is(err, registry.ErrKeyNotFound) {
				return httperrors.ErrKeyNotFound
			}
			return httperrors.NewHTTPError(http.StatusInternalServerError, types.PublicHTTPErrorTypeGeneric, "Failed to delete key")
		}

		return c.NoContent(http.StatusNoContent)
	}
}
