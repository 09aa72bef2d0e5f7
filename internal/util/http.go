package util

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// HTTPHeaderSessionID 会话令牌的自定义请求头
const HTTPHeaderSessionID = "X-Session-ID"

// SessionIDFromRequest 从请求中提取会话令牌
// 优先读 X-Session-ID 头，其次读 Authorization Bearer
func SessionIDFromRequest(c echo.Context) string {
	if id := c.Request().Header.Get(HTTPHeaderSessionID); id != "" {
		return id
	}

	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}

	return ""
}
