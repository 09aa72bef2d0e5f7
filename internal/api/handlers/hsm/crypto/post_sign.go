package crypto

import (
	"errors"
	"net/http"

	"github.com/go-openapi/strfmt"
	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/hsm/operation"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/kashguard/go-hsm/internal/util"
	"github.com/labstack/echo/v4"
)

func PostSignRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1HSM.POST("/sign", postSignHandler(s))
}

func postSignHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		var body types.PostSignPayload
		if err := util.BindAndValidateBody(c, &body); err != nil {
			return err
		}

		signature, err := s.Module.Sign(ctx, util.SessionIDFromRequest(c), *body.KeyID, []byte(*body.Message))
		if err != nil {
			log.Debug().Err(err).Str("key_id", *body.KeyID).Msg("Failed to sign")
			if httpErr := operationHTTPError(err); httpErr != nil {
				return httpErr
			}
			if errors.Is(err, operation.ErrCryptoFailure) {
				return httperrors.ErrCryptoFailure
			}
			return httperrors.NewHTTPError(http.StatusInternalServerError, types.PublicHTTPErrorTypeGeneric, "Failed to sign")
		}

		signatureStr := strfmt.Base64(signature)
		response := &types.PostSignResponse{
			KeyID:     body.KeyID,
			Signature: &signatureStr,
		}

		return util.ValidateAndReturn(c, http.StatusOK, response)
	}
}
