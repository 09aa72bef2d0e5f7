package crypto

import (
	"errors"
	"net/http"

	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/hsm/operation"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/kashguard/go-hsm/internal/util"
	"github.com/labstack/echo/v4"
)

func PostVerifyRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1HSM.POST("/verify", postVerifyHandler(s))
}

func postVerifyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		var body types.PostVerifyPayload
		if err := util.BindAndValidateBody(c, &body); err != nil {
			return err
		}

		valid, err := s.Module.Verify(ctx, util.SessionIDFromRequest(c), *body.KeyID, []byte(*body.Message), []byte(*body.Signature))
		if err != nil {
			log.Debug().Err(err).Str("key_id", *body.KeyID).Msg("Failed to verify")
			if httpErr := operationHTTPError(err); httpErr != nil {
				return httpErr
			}
			if errors.Is(err, operation.ErrCryptoFailure) {
				return httperrors.ErrCryptoFailure
			}
			return httperrors.NewHTTPError(http.StatusInternalServerError, types.PublicHTTPErrorTypeGeneric, "Failed to verify")
		}

		response := &types.PostVerifyResponse{
			KeyID: body.KeyID,
			Valid: &valid,
		}

		return util.ValidateAndReturn(c, http.StatusOK, response)
	}
}
