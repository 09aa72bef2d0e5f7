package crypto

import (
	"net/http"

	"github.com/go-openapi/strfmt"
	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/kashguard/go-hsm/internal/util"
	"github.com/labstack/echo/v4"
)

func PostEncryptRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1HSM.POST("/encrypt", postEncryptHandler(s))
}

func postEncryptHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		var body types.PostEncryptPayload
		if err := util.BindAndValidateBody(c, &body); err != nil {
			return err
		}

		ct, err := s.Module.Encrypt(ctx, util.SessionIDFromRequest(c), *body.KeyID, []byte(*body.Plaintext))
		if err != nil {
			log.Debug().Err(err).Str("key_id", *body.KeyID).Msg("Failed to encrypt")
			if httpErr := operationHTTPError(err); httpErr != nil {
				return httpErr
			}
			return httperrors.NewHTTPError(http.StatusInternalServerError, types.PublicHTTPErrorTypeGeneric, "Failed to encrypt")
		}

		nonce := strfmt.Base64(ct.Nonce)
		ciphertext := strfmt.Base64(ct.Data)
		response := &types.PostEncryptResponse{
			KeyID:      body.KeyID,
			Nonce:      &nonce,
			Ciphertext: &ciphertext,
		}

		return util.ValidateAndReturn(c, http.StatusOK, response)
	}
}
