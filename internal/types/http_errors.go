package types

import (
	"github.com/go-openapi/errors"
	"github.com/go-openapi/strfmt"
	"github.com/go-openapi/swag"
)

// 公开错误类型标识，随错误负载返回给调用方
const (
	PublicHTTPErrorTypeGeneric           = "generic"
	PublicHTTPErrorTypeAuthFailed        = "AUTHENTICATION_FAILED"
	PublicHTTPErrorTypeSessionExpired    = "SESSION_EXPIRED"
	PublicHTTPErrorTypeSessionInvalid    = "SESSION_INVALID"
	PublicHTTPErrorTypePermissionDenied  = "PERMISSION_DENIED"
	PublicHTTPErrorTypeResourceExhausted = "RESOURCE_EXHAUSTED"
	PublicHTTPErrorTypeKeyNotFound       = "KEY_NOT_FOUND"
	PublicHTTPErrorTypeCryptoFailure     = "CRYPTO_FAILURE"
	PublicHTTPErrorTypeModuleUnhealthy   = "MODULE_UNHEALTHY"
	PublicHTTPErrorTypeInvalidKeySpec    = "INVALID_KEY_SPEC"
	PublicHTTPErrorTypeTooManySessions   = "TOO_MANY_SESSIONS"
	PublicHTTPErrorTypeKeyNotExtractable = "KEY_NOT_EXTRACTABLE"
)

// PublicHTTPError 结构化错误负载
type PublicHTTPError struct {
	// HTTP 状态码
	// Required: true
	Code *int64 `json:"status"`
	// 机器可读的错误类型
	// Required: true
	Type *string `json:"type"`
	// 人类可读的错误说明
	// Required: true
	Title *string `json:"title"`
}

// Validate validates this public http error
func (m *PublicHTTPError) Validate(_ strfmt.Registry) error {
	var res []error
	if m.Code == nil {
		res = append(res, errors.Required("status", "body", nil))
	}
	if m.Type == nil {
		res = append(res, errors.Required("type", "body", nil))
	}
	if m.Title == nil {
		res = append(res, errors.Required("title", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// PublicHTTPValidationError 携带字段级明细的校验错误负载
type PublicHTTPValidationError struct {
	PublicHTTPError
	ValidationErrors []*HTTPValidationErrorDetail `json:"validationErrors"`
}

// Validate validates this public http validation error
func (m *PublicHTTPValidationError) Validate(formats strfmt.Registry) error {
	return m.PublicHTTPError.Validate(formats)
}

// HTTPValidationErrorDetail 单个字段的校验失败明细
type HTTPValidationErrorDetail struct {
	// Required: true
	Key *string `json:"key"`
	// Required: true
	In *string `json:"in"`
	// Required: true
	Error *string `json:"error"`
}

// NewValidationErrorDetail 构建字段级校验明细
func NewValidationErrorDetail(key string, in string, reason string) *HTTPValidationErrorDetail {
	return &HTTPValidationErrorDetail{
		Key:   swag.String(key),
		In:    swag.String(in),
		Error: swag.String(reason),
	}
}
