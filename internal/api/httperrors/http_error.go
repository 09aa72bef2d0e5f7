package httperrors

import (
	"fmt"

	"github.com/go-openapi/swag"
	"github.com/kashguard/go-hsm/internal/types"
)

// HTTPError 携带公开负载与内部原因的 HTTP 错误
// echo 的错误处理器负责序列化公开部分，内部原因只进日志
type HTTPError struct {
	types.PublicHTTPError
	Internal       error
	AdditionalData map[string]interface{}
}

// NewHTTPError 构建公开 HTTP 错误
func NewHTTPError(code int, errorType string, title string) *HTTPError {
	return &HTTPError{
		PublicHTTPError: types.PublicHTTPError{
			Code:  swag.Int64(int64(code)),
			Type:  swag.String(errorType),
			Title: swag.String(title),
		},
	}
}

// NewHTTPErrorWithInternal 构建带内部原因的公开 HTTP 错误
func NewHTTPErrorWithInternal(code int, errorType string, title string, internal error) *HTTPError {
	err := NewHTTPError(code, errorType, title)
	err.Internal = internal
	return err
}

func (e *HTTPError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("HTTPError %d (%s): %s, internal: %s", *e.Code, *e.Type, *e.Title, e.Internal)
	}
	return fmt.Sprintf("HTTPError %d (%s): %s", *e.Code, *e.Type, *e.Title)
}

// HTTPValidationError 带字段级明细的校验错误
type HTTPValidationError struct {
	types.PublicHTTPValidationError
	Internal error
}

// NewHTTPValidationError 构建校验错误
func NewHTTPValidationError(code int, errorType string, title string, validationErrors []*types.HTTPValidationErrorDetail) *HTTPValidationError {
	return &HTTPValidationError{
		PublicHTTPValidationError: types.PublicHTTPValidationError{
			PublicHTTPError: types.PublicHTTPError{
				Code:  swag.Int64(int64(code)),
				Type:  swag.String(errorType),
				Title: swag.String(title),
			},
			ValidationErrors: validationErrors,
		},
	}
}

func (e *HTTPValidationError) Error() string {
	return fmt.Sprintf("HTTPValidationError %d (%s): %s (%d details)", *e.Code, *e.Type, *e.Title, len(e.ValidationErrors))
}
