package util

import (
	"net/http"

	"github.com/go-openapi/strfmt"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// Validatable 可被 go-openapi 格式注册表校验的负载
type Validatable interface {
	Validate(strfmt.Registry) error
}

// BindAndValidateBody 绑定请求体并执行负载自校验
// 绑定失败或校验失败都返回 400，带上游错误作为 internal error
func BindAndValidateBody(c echo.Context, v Validatable) error {
	binder := c.Echo().Binder.(*echo.DefaultBinder) //nolint:errcheck // echo 默认 binder 的类型固定

	if err := binder.BindBody(c, v); err != nil {
		return err
	}

	if err := v.Validate(strfmt.Default); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}

	return nil
}

// ValidateAndReturn 校验响应负载后序列化返回
// 响应校验失败说明 handler 构造了不完整的负载，按 500 处理
func ValidateAndReturn(c echo.Context, code int, v Validatable) error {
	if err := v.Validate(strfmt.Default); err != nil {
		return errors.Wrap(err, "response payload validation failed")
	}

	return c.JSON(code, v)
}
