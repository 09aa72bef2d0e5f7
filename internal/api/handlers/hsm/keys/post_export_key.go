package keys

import (
	"errors"
	"net/http"

	"github.com/go-openapi/strfmt"
	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/hsm/registry"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/kashguard/go-hsm/internal/util"
	"github.com/labstack/echo/v4"
)

func PostExportKeyRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1HSM.POST("/keys/:id/export", postExportKeyHandler(s))
}

func postExportKeyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		keyID := c.Param("id")

		material, err := s.Module.ExportKey(ctx, util.SessionIDFromRequest(c), keyID)
		if err != nil {
			log.Debug().Err(err).Str("key_id", keyID).Msg("Failed to export key")
			if httpErr := sessionHTTPError(err); httpErr != nil {
				return httpErr
			}
			if errors.Is(err, registry.ErrKeyNotExtractable) {
				return httperrors.ErrKeyNotExtractable
			}
			if errors.Is(err, registry.ErrPermissionDenied) {
				return httperrors.ErrPermissionDenied
			}
			if errors.Is(err, registry.ErrKeyNotFound) {
				return httperrors.ErrKeyNotFound
			}
			return httperrors.NewHTTPError(http.StatusInternalServerError, types.PublicHTTPErrorTypeGeneric, "Failed to export key")
		}

		materialStr := strfmt.Base64(material)
		response := &types.PostExportKeyResponse{
			KeyID:    &keyID,
			Material: &materialStr,
		}

		return util.ValidateAndReturn(c, http.StatusOK, response)
	}
}
