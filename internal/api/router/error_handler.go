package router

import (
	"net/http"

	"github.com/go-openapi/swag"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/kashguard/go-hsm/internal/util"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// HTTPErrorHandlerConfig 错误处理器配置
type HTTPErrorHandlerConfig struct {
	HideInternalServerErrorDetails bool
}

// HTTPErrorHandlerWithConfig 将 handler 返回的错误统一序列化为公开负载
// 内部原因只写日志，HideInternalServerErrorDetails 控制 5xx 细节是否外泄
func HTTPErrorHandlerWithConfig(config HTTPErrorHandlerConfig) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		log := util.LogFromContext(c.Request().Context())

		var code int
		var payload interface{}

		var httpError *httperrors.HTTPError
		var validationError *httperrors.HTTPValidationError
		var echoError *echo.HTTPError

		switch {
		case errors.As(err, &validationError):
			code = int(*validationError.Code)
			payload = &validationError.PublicHTTPValidationError
			if validationError.Internal != nil {
				log.Debug().Err(validationError.Internal).Msg("Validation error")
			}
		case errors.As(err, &httpError):
			code = int(*httpError.Code)

			publicError := httpError.PublicHTTPError
			if code >= http.StatusInternalServerError && config.HideInternalServerErrorDetails {
				publicError.Title = swag.String(http.StatusText(code))
			}
			payload = &publicError

			if httpError.Internal != nil {
				log.Error().Err(httpError.Internal).Int("status", code).Msg("Internal error")
			}
		case errors.As(err, &echoError):
			code = echoError.Code

			title := http.StatusText(code)
			if msg, ok := echoError.Message.(string); ok && !(code >= http.StatusInternalServerError && config.HideInternalServerErrorDetails) {
				title = msg
			}
			payload = &types.PublicHTTPError{
				Code:  swag.Int64(int64(code)),
				Type:  swag.String(types.PublicHTTPErrorTypeGeneric),
				Title: swag.String(title),
			}

			if echoError.Internal != nil {
				log.Debug().Err(echoError.Internal).Int("status", code).Msg("Request error")
			}
		default:
			code = http.StatusInternalServerError

			title := http.StatusText(code)
			if !config.HideInternalServerErrorDetails {
				title = err.Error()
			}
			payload = &types.PublicHTTPError{
				Code:  swag.Int64(int64(code)),
				Type:  swag.String(types.PublicHTTPErrorTypeGeneric),
				Title: swag.String(title),
			}

			log.Error().Err(err).Msg("Unhandled error")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, payload)
		}
		if err != nil {
			log.Error().Err(err).Msg("Failed to write error response")
		}
	}
}
