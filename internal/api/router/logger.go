package router

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

// requestLoggerMiddleware 为每个请求注入带 request_id 的 zerolog 并写访问日志
func requestLoggerMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = c.Response().Header().Get(echo.HeaderXRequestID)
			}

			l := log.With().
				Str("request_id", requestID).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Logger()

			c.SetRequest(req.WithContext(l.WithContext(req.Context())))

			start := time.Now()
			err := next(c)

			l.Info().
				Int("status", c.Response().Status).
				Dur("duration", time.Since(start)).
				Str("remote_ip", c.RealIP()).
				Msg("Handled request")

			return err
		}
	}
}
