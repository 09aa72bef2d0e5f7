package keys

import (
	"net/http"

	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/kashguard/go-hsm/internal/util"
	"github.com/labstack/echo/v4"
)

func GetListKeysRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1HSM.GET("/keys", getListKeysHandler(s))
}

func getListKeysHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		result, err := s.Module.ListKeys(ctx, util.SessionIDFromRequest(c))
		if err != nil {
			log.Debug().Err(err).Msg("Failed to list keys")
			if httpErr := sessionHTTPError(err); httpErr != nil {
				return httpErr
			}
			return httperrors.NewHTTPError(http.StatusInternalServerError, types.PublicHTTPErrorTypeGeneric, "Failed to list keys")
		}

		response := &types.GetListKeysResponse{
			Keys:  make([]*types.KeyResponse, 0, len(result)),
			Total: int64(len(result)),
		}
		for _, k := range result {
			response.Keys = append(response.Keys, newKeyResponse(k))
		}

		return util.ValidateAndReturn(c, http.StatusOK, response)
	}
}
