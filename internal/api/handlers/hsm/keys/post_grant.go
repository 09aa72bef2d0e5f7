package keys

import (
	"errors"
	"net/http"

	"github.com/go-openapi/swag"
	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/hsm/registry"
	"github.com/kashguard/go-hsm/internal/hsm/storage"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/kashguard/go-hsm/internal/util"
	"github.com/labstack/echo/v4"
)

func PostGrantRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1HSM.POST("/keys/:id/grants", postGrantHandler(s))
}

func postGrantHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		var body types.PostGrantPayload
		if err := util.BindAndValidateBody(c, &body); err != nil {
			return err
		}

		usages, err := registry.ParseUsageSet(body.Usages)
		if err != nil {
			return httperrors.NewHTTPValidationError(
				http.StatusBadRequest,
				types.PublicHTTPErrorTypeGeneric,
				"Invalid grant usage",
				[]*types.HTTPValidationErrorDetail{
					{
						Key:   swag.String("usages"),
						In:    swag.String("body"),
						Error: swag.String(err.Error()),
					},
				},
			)
		}

		grant := &registry.Grant{
			PrincipalID:   *body.PrincipalID,
			PrincipalKind: body.PrincipalKind,
			Usages:        usages,
		}

		if body.WindowStart != "" || body.WindowEnd != "" || len(body.AllowedIps) > 0 || body.MaxSessions > 0 {
			grant.Conditions = &storage.GrantConditions{
				WindowStart: body.WindowStart,
				WindowEnd:   body.WindowEnd,
				AllowedIPs:  body.AllowedIps,
				MaxSessions: int(body.MaxSessions),
			}
		}

		if err := s.Module.GrantPermission(ctx, util.SessionIDFromRequest(c), c.Param("id"), grant); err != nil {
			log.Debug().Err(err).Msg("Failed to grant permission")
			if httpErr := sessionHTTPError(err); httpErr != nil {
				return httpErr
			}
			if errors.Is(err, registry.ErrPermissionDenied) {
				return httperrors.ErrPermissionDenied
			}
			if errors.Is(err, registry.ErrKeyNotFound) {
				return httperrors.ErrKeyNotFound
			}
			return httperrors.NewHTTPError(http.StatusInternalServerError, types.PublicHTTPErrorTypeGeneric, "Failed to grant permission")
		}

		return c.NoContent(http.StatusNoContent)
	}
}
