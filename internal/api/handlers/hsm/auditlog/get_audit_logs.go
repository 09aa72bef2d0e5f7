package auditlog

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/hsm/registry"
	"github.com/kashguard/go-hsm/internal/hsm/session"
	"github.com/kashguard/go-hsm/internal/hsm/storage"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/kashguard/go-hsm/internal/util"
	"github.com/labstack/echo/v4"
)

func GetAuditLogsRoute(s *api.Server) *echo.Route {
	return s.Router.APIV1HSM.GET("/audit-logs", getAuditLogsHandler(s))
}

func getAuditLogsHandler(s *api.Server) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		log := util.LogFromContext(ctx)

		filter := &storage.AuditLogFilter{
			Limit:  100, //nolint:mnd // default limit for audit logs
			Offset: 0,
		}

		filter.PrincipalID = c.QueryParam("principal_id")
		filter.Resource = c.QueryParam("resource")
		filter.EventType = c.QueryParam("event_type")
		filter.Outcome = c.QueryParam("outcome")

		if v := c.QueryParam("start_time"); v != "" {
			startTime, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return httperrors.NewHTTPError(http.StatusBadRequest, types.PublicHTTPErrorTypeGeneric, "start_time must be RFC3339")
			}
			filter.StartTime = &startTime
		}
		if v := c.QueryParam("end_time"); v != "" {
			endTime, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return httperrors.NewHTTPError(http.StatusBadRequest, types.PublicHTTPErrorTypeGeneric, "end_time must be RFC3339")
			}
			filter.EndTime = &endTime
		}
		if v := c.QueryParam("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil || limit < 0 {
				return httperrors.NewHTTPError(http.StatusBadRequest, types.PublicHTTPErrorTypeGeneric, "limit must be a non-negative integer")
			}
			filter.Limit = limit
		}
		if v := c.QueryParam("offset"); v != "" {
			offset, err := strconv.Atoi(v)
			if err != nil || offset < 0 {
				return httperrors.NewHTTPError(http.StatusBadRequest, types.PublicHTTPErrorTypeGeneric, "offset must be a non-negative integer")
			}
			filter.Offset = offset
		}

		events, err := s.Module.QueryAuditLogs(ctx, util.SessionIDFromRequest(c), filter)
		if err != nil {
			log.Debug().Err(err).Msg("Failed to query audit logs")
			if errors.Is(err, session.ErrSessionExpired) {
				return httperrors.ErrSessionExpired
			}
			if errors.Is(err, session.ErrSessionNotFound) || errors.Is(err, session.ErrSessionRevoked) {
				return httperrors.ErrSessionInvalid
			}
			if errors.Is(err, session.ErrModuleUnhealthy) {
				return httperrors.ErrModuleUnhealthy
			}
			if errors.Is(err, registry.ErrPermissionDenied) {
				return httperrors.ErrPermissionDenied
			}
			return httperrors.NewHTTPError(http.StatusInternalServerError, types.PublicHTTPErrorTypeGeneric, "Failed to query audit logs")
		}

		eventResponses := make([]*types.AuditEventResponse, 0, len(events))
		for _, event := range events {
			timestamp := strfmt.DateTime(event.Timestamp)
			eventResponses = append(eventResponses, &types.AuditEventResponse{
				Timestamp:           &timestamp,
				EventType:           &event.EventType,
				Action:              &event.Action,
				Outcome:             &event.Outcome,
				PrincipalID:         event.PrincipalID,
				Resource:            event.Resource,
				RiskLevel:           event.RiskLevel,
				ComplianceFramework: event.ComplianceFramework,
				IPAddress:           event.IPAddress,
				AdditionalData:      event.AdditionalData,
			})
		}

		response := &types.GetAuditLogsResponse{
			Events: eventResponses,
			Total:  int64(len(eventResponses)),
		}

		return util.ValidateAndReturn(c, http.StatusOK, response)
	}
}
