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

func PostDecryptRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1HSM.POST("/decrypt", postDecryptHandler(s))
}

func postDecryptHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		var body types.PostDecryptPayload
		if err := util.BindAndValidateBody(c, &body); err != nil {
			return err
		}

		ct := &operation.Ciphertext{
			Nonce: []byte(*body.Nonce),
			Data:  []byte(*body.Ciphertext),
		}

		plaintext, err := s.Module.Decrypt(ctx, util.SessionIDFromRequest(c), *body.KeyID, ct)
		if err != nil {
			log.Debug().Err(err).Str("key_id", *body.KeyID).Msg("Failed to decrypt")
			if httpErr := operationHTTPError(err); httpErr != nil {
				return httpErr
			}
			// 认证标签不匹配不区分具体原因
			if errors.Is(err, operation.ErrCryptoFailure) {
				return httperrors.ErrCryptoFailure
			}
			return httperrors.NewHTTPError(http.StatusInternalServerError, types.PublicHTTPErrorTypeGeneric, "Failed to decrypt")
		}

		plaintextStr := strfmt.Base64(plaintext)
		response := &types.PostDecryptResponse{
			KeyID:     body.KeyID,
			Plaintext: &plaintextStr,
		}

		return util.ValidateAndReturn(c, http.StatusOK, response)
	}
}
