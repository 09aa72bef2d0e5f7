package crypto

import (
	"errors"

	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/hsm/registry"
	"github.com/kashguard/go-hsm/internal/hsm/session"
)

// operationHTTPError 映射所有密码学操作共有的错误，未匹配时返回 nil
func operationHTTPError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		return httperrors.ErrSessionExpired
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionRevoked):
		return httperrors.ErrSessionInvalid
	case errors.Is(err, session.ErrModuleUnhealthy):
		return httperrors.ErrModuleUnhealthy
	case errors.Is(err, registry.ErrPermissionDenied):
		return httperrors.ErrPermissionDenied
	case errors.Is(err, registry.ErrKeyNotFound):
		return httperrors.ErrKeyNotFound
	default:
		return nil
	}
}
