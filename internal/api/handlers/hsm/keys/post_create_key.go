package keys

import (
	"errors"
	"net/http"

	"github.com/go-openapi/swag"
	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/hsm/registry"
	"github.com/kashguard/go-hsm/internal/hsm/slot"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/kashguard/go-hsm/internal/util"
	"github.com/labstack/echo/v4"
)

func PostCreateKeyRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1HSM.POST("/keys", postCreateKeyHandler(s))
}

func postCreateKeyHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		var body types.PostCreateKeyPayload
		if err := util.BindAndValidateBody(c, &body); err != nil {
			return err
		}

		usages, err := registry.ParseUsageSet(body.Usages)
		if err != nil {
			return httperrors.NewHTTPValidationError(
				http.StatusBadRequest,
				types.PublicHTTPErrorTypeInvalidKeySpec,
				"Invalid key usage",
				[]*types.HTTPValidationErrorDetail{
					{
						Key:   swag.String("usages"),
						In:    swag.String("body"),
						Error: swag.String(err.Error()),
					},
				},
			)
		}

		spec := &registry.CreateKeyRequest{
			Label:       body.Label,
			Algorithm:   registry.Algorithm(*body.Algorithm),
			KeySize:     int(*body.KeySize),
			Usages:      usages,
			Extractable: body.Extractable,
		}

		key, err := s.Module.GenerateKey(ctx, util.SessionIDFromRequest(c), spec)
		if err != nil {
			log.Debug().Err(err).Msg("Failed to generate key")
			if httpErr := sessionHTTPError(err); httpErr != nil {
				return httpErr
			}
			if errors.Is(err, registry.ErrPermissionDenied) {
				return httperrors.ErrPermissionDenied
			}
			if errors.Is(err, slot.ErrResourceExhausted) {
				return httperrors.ErrResourceExhausted
			}
			if errors.Is(err, registry.ErrUnsupportedAlgorithm) || errors.Is(err, registry.ErrInvalidKeySpec) {
				return httperrors.NewHTTPError(http.StatusBadRequest, types.PublicHTTPErrorTypeInvalidKeySpec, "Unsupported algorithm or key specification")
			}
			return httperrors.NewHTTPError(http.StatusInternalServerError, types.PublicHTTPErrorTypeGeneric, "Failed to generate key")
		}

		return util.ValidateAndReturn(c, http.StatusCreated, newKeyResponse(key))
	}
}
