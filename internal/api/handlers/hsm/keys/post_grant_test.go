package keys_test

import (
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/test"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/stretchr/testify/require"
)

func TestGrantAndRevokePermission(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		aliceSession := test.AuthenticateAs(t, s, test.TestUserID)
		bobSession := test.AuthenticateAs(t, s, test.TestViewerID)
		adminSession := test.AuthenticateAs(t, s, test.TestAdminID)

		res := test.PerformRequest(t, s, "POST", "/api/v1/hsm/keys", test.GenericPayload{
			"algorithm": "AES_256_GCM",
			"key_size":  256,
			"usages":    []string{"encrypt", "decrypt"},
		}, test.SessionHeader(aliceSession))
		require.Equal(t, http.StatusCreated, res.Code)

		var key types.KeyResponse
		test.ParseResponseAndValidate(t, res, &key)
		keyID := *key.KeyID

		encryptPayload := test.GenericPayload{
			"key_id":    keyID,
			"plaintext": base64.StdEncoding.EncodeToString([]byte("shared secret")),
		}

		res = test.PerformRequest(t, s, "POST", "/api/v1/hsm/encrypt", encryptPayload, test.SessionHeader(bobSession))
		test.RequireHTTPError(t, res, httperrors.ErrPermissionDenied)

		// 授予需要管理员会话
		grantPayload := test.GenericPayload{
			"principal_id": test.TestViewerID,
			"usages":       []string{"encrypt"},
		}
		res = test.PerformRequest(t, s, "POST", "/api/v1/hsm/keys/"+keyID+"/grants", grantPayload, test.SessionHeader(aliceSession))
		test.RequireHTTPError(t, res, httperrors.ErrPermissionDenied)

		res = test.PerformRequest(t, s, "POST", "/api/v1/hsm/keys/"+keyID+"/grants", grantPayload, test.SessionHeader(adminSession))
		require.Equal(t, http.StatusNoContent, res.Code)

		res = test.PerformRequest(t, s, "POST", "/api/v1/hsm/encrypt", encryptPayload, test.SessionHeader(bobSession))
		require.Equal(t, http.StatusOK, res.Code)

		// 授予只覆盖列出的用途
		res = test.PerformRequest(t, s, "POST", "/api/v1/hsm/decrypt", test.GenericPayload{
			"key_id":     keyID,
			"nonce":      base64.StdEncoding.EncodeToString(make([]byte, 12)),
			"ciphertext": base64.StdEncoding.EncodeToString([]byte("junk")),
		}, test.SessionHeader(bobSession))
		test.RequireHTTPError(t, res, httperrors.ErrPermissionDenied)

		res = test.PerformRequest(t, s, "DELETE", "/api/v1/hsm/keys/"+keyID+"/grants/"+test.TestViewerID, nil, test.SessionHeader(adminSession))
		require.Equal(t, http.StatusNoContent, res.Code)

		res = test.PerformRequest(t, s, "POST", "/api/v1/hsm/encrypt", encryptPayload, test.SessionHeader(bobSession))
		test.RequireHTTPError(t, res, httperrors.ErrPermissionDenied)
	})
}
