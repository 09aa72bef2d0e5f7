package httperrors

import (
	"net/http"

	"github.com/kashguard/go-hsm/internal/types"
)

// 跨 handler 复用的预定义错误
var (
	ErrAuthenticationFailed = NewHTTPError(http.StatusUnauthorized, types.PublicHTTPErrorTypeAuthFailed, "Authentication failed.")
	ErrSessionExpired       = NewHTTPError(http.StatusUnauthorized, types.PublicHTTPErrorTypeSessionExpired, "Session has expired, re-authenticate.")
	ErrSessionInvalid       = NewHTTPError(http.StatusUnauthorized, types.PublicHTTPErrorTypeSessionInvalid, "Session is not valid.")
	ErrPermissionDenied     = NewHTTPError(http.StatusForbidden, types.PublicHTTPErrorTypePermissionDenied, "Principal does not hold the required grant.")
	ErrKeyNotFound          = NewHTTPError(http.StatusNotFound, types.PublicHTTPErrorTypeKeyNotFound, "Key not found.")
	ErrResourceExhausted    = NewHTTPError(http.StatusServiceUnavailable, types.PublicHTTPErrorTypeResourceExhausted, "No free key slots available.")
	ErrCryptoFailure        = NewHTTPError(http.StatusBadRequest, types.PublicHTTPErrorTypeCryptoFailure, "Cryptographic operation failed.")
	ErrModuleUnhealthy      = NewHTTPError(http.StatusServiceUnavailable, types.PublicHTTPErrorTypeModuleUnhealthy, "Module is unhealthy, all privileged operations are blocked.")
	ErrTooManySessions      = NewHTTPError(http.StatusTooManyRequests, types.PublicHTTPErrorTypeTooManySessions, "Concurrent session limit reached.")
	ErrKeyNotExtractable    = NewHTTPError(http.StatusForbidden, types.PublicHTTPErrorTypeKeyNotExtractable, "Key is not extractable.")
)
