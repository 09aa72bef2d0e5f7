package sessions

import (
	"errors"
	"net/http"

	"github.com/go-openapi/strfmt"
	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/hsm/session"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/kashguard/go-hsm/internal/util"
	"github.com/labstack/echo/v4"
)

func PostAuthenticateRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1HSM.POST("/sessions", postAuthenticateHandler(s))
}

func postAuthenticateHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		var body types.PostAuthenticatePayload
		if err := util.BindAndValidateBody(c, &body); err != nil {
			return err
		}

		sess, err := s.Module.Authenticate(ctx, &session.AuthenticateRequest{
			PrincipalID: *body.PrincipalID,
			PIN:         *body.Pin,
			MFAToken:    body.MfaToken,
			Origin: session.Origin{
				IP:     c.RealIP(),
				Client: body.Client,
			},
		})
		if err != nil {
			log.Debug().Err(err).Str("principal_id", *body.PrincipalID).Msg("Failed to authenticate")
			if errors.Is(err, session.ErrTooManySessions) {
				return httperrors.ErrTooManySessions
			}
			if errors.Is(err, session.ErrModuleUnhealthy) {
				return httperrors.ErrModuleUnhealthy
			}
			// 不区分主体不存在、PIN 错误与 MFA 失败
			if errors.Is(err, session.ErrAuthenticationFailed) || errors.Is(err, session.ErrInvalidMFAToken) {
				return httperrors.ErrAuthenticationFailed
			}
			return httperrors.NewHTTPError(http.StatusInternalServerError, types.PublicHTTPErrorTypeGeneric, "Failed to authenticate")
		}

		response := &types.PostAuthenticateResponse{
			SessionID:   &sess.ID,
			PrincipalID: &sess.PrincipalID,
			MfaVerified: sess.MFAVerified,
			CreatedAt:   strfmt.DateTime(sess.CreatedAt),
		}

		return util.ValidateAndReturn(c, http.StatusCreated, response)
	}
}
