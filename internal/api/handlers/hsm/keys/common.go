package keys

import (
	"errors"

	"github.com/go-openapi/strfmt"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/hsm/registry"
	"github.com/kashguard/go-hsm/internal/hsm/session"
	"github.com/kashguard/go-hsm/internal/types"
)

// sessionHTTPError 映射会话与健康闸门错误，其余错误返回 nil
func sessionHTTPError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		return httperrors.ErrSessionExpired
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, session.ErrSessionRevoked):
		return httperrors.ErrSessionInvalid
	case errors.Is(err, session.ErrModuleUnhealthy):
		return httperrors.ErrModuleUnhealthy
	default:
		return nil
	}
}

// newKeyResponse 将密钥元数据映射为 API 响应
func newKeyResponse(k *registry.Key) *types.KeyResponse {
	keyType := string(k.KeyType)
	algorithm := string(k.Algorithm)

	response := &types.KeyResponse{
		KeyID:        &k.ID,
		Label:        k.Label,
		KeyType:      &keyType,
		Algorithm:    &algorithm,
		KeySize:      int64(k.KeySize),
		Usages:       k.Usages.Strings(),
		Extractable:  k.Extractable,
		Owner:        k.Owner,
		SlotIndex:    int64(k.SlotIndex),
		State:        string(k.State),
		BackupStatus: string(k.BackupStatus),
		AccessCount:  k.AccessCount,
	}

	if !k.CreatedAt.IsZero() {
		response.CreatedAt = strfmt.DateTime(k.CreatedAt)
	}
	if !k.LastUsedAt.IsZero() {
		response.LastUsedAt = strfmt.DateTime(k.LastUsedAt)
	}

	return response
}
