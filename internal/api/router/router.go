package router

import (
	"net/http"

	"github.com/kashguard/go-hsm/internal/api"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Init 创建 echo 实例、挂载中间件并注册全部路由
func Init(s *api.Server) {
	s.Echo = echo.New()
	s.Echo.Debug = false
	s.Echo.HideBanner = true
	s.Echo.HidePort = true

	s.Echo.HTTPErrorHandler = HTTPErrorHandlerWithConfig(HTTPErrorHandlerConfig{
		HideInternalServerErrorDetails: s.Config.Echo.HideInternalServerErrorDetails,
	})

	if s.Config.Echo.EnableRecoverMiddleware {
		s.Echo.Use(middleware.Recover())
	}
	if s.Config.Echo.EnableRequestIDMiddleware {
		s.Echo.Use(middleware.RequestID())
	}
	if s.Config.Echo.EnableLoggerMiddleware {
		s.Echo.Use(requestLoggerMiddleware())
	}
	if s.Config.Echo.EnableCORSMiddleware {
		s.Echo.Use(middleware.CORS())
	}

	s.Echo.Use(s.Metrics.Middleware())

	s.Router = &api.Router{
		Routes:     nil, // will be populated by attachAllRoutes
		Root:       s.Echo.Group(""),
		Management: s.Echo.Group("/-"),
		APIV1HSM:   s.Echo.Group("/api/v1/hsm"),
	}

	attachManagementRoutes(s)
	attachAllRoutes(s)
}

func attachManagementRoutes(s *api.Server) {
	s.Router.Management.GET("/metrics", echo.WrapHandler(s.Metrics.Handler()))

	s.Router.Management.GET("/ready", func(c echo.Context) error {
		if !s.Ready() {
			return c.String(http.StatusServiceUnavailable, "Not ready.")
		}
		return c.String(http.StatusOK, "Ready.")
	})

	// 自检失败或封条破坏时返回 503，供编排系统摘除实例
	s.Router.Management.GET("/healthy", func(c echo.Context) error {
		if s.Module == nil || !s.Module.Healthy() {
			return c.String(http.StatusServiceUnavailable, "Unhealthy.")
		}
		return c.String(http.StatusOK, "Healthy.")
	})
}
