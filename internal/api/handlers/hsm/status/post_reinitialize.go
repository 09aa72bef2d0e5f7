package status

import (
	"errors"
	"net/http"

	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/hsm/integrity"
	"github.com/kashguard/go-hsm/internal/hsm/registry"
	"github.com/kashguard/go-hsm/internal/hsm/session"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/kashguard/go-hsm/internal/util"
	"github.com/labstack/echo/v4"
)

func PostReinitializeRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1HSM.POST("/reinitialize", postReinitializeHandler(s))
}

// postReinitializeHandler 管理员清除篡改状态并重新执行自检
func postReinitializeHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		if err := s.Module.Reinitialize(ctx, util.SessionIDFromRequest(c)); err != nil {
			log.Warn().Err(err).Msg("Failed to reinitialize module")
			if errors.Is(err, session.ErrSessionExpired) {
				return httperrors.ErrSessionExpired
			}
			if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionRevoked) {
				return httperrors.ErrSessionInvalid
			}
			if errors.Is(err, registry.ErrPermissionDenied) {
				return httperrors.ErrPermissionDenied
			}
			if errors.Is(err, integrity.ErrSelfTestFailed) {
				return httperrors.ErrModuleUnhealthy
			}
			return httperrors.NewHTTPError(http.StatusInternalServerError, types.PublicHTTPErrorTypeGeneric, "Failed to reinitialize module")
		}

		return c.NoContent(http.StatusNoContent)
	}
}
