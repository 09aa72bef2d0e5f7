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

func GetKeyRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1HSM.GET("/keys/:id", getKeyHandler(s))
}

func getKeyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		key, err := s.Module.GetKey(ctx, util.SessionIDFromRequest(c), c.Param("id"))
		if err != nil {
			log.Debug().Err(err).Msg("Failed to get key")
			if httpErr := sessionHTTPError(err); httpErr != nil {
				return httpErr
			}
			if errors.Is(err, registry.ErrKeyNotFound) {
				return httperrors.ErrKeyNotFound
			}
			return httperrors.NewHTTPError(http.StatusInternalServerError, types.PublicHTTPErrorTypeGeneric, "Failed to get key")
		}

		return util.ValidateAndReturn(c, http.StatusOK, newKeyResponse(key))
	}
}
