package keys_test

import (
	"net/http"
	"testing"

	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/test"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostCreateKey(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		sessionID := test.AuthenticateAs(t, s, test.TestUserID)

		res := test.PerformRequest(t, s, "POST", "/api/v1/hsm/keys", test.GenericPayload{
			"label":     "payments",
			"algorithm": "AES_256_GCM",
			"key_size":  256,
			"usages":    []string{"encrypt", "decrypt"},
		}, test.SessionHeader(sessionID))
		require.Equal(t, http.StatusCreated, res.Code)

		var response types.KeyResponse
		test.ParseResponseAndValidate(t, res, &response)
		assert.NotEmpty(t, *response.KeyID)
		assert.Equal(t, "payments", response.Label)
		assert.Equal(t, "AES_256_GCM", *response.Algorithm)
		assert.Equal(t, test.TestUserID, response.Owner)
		assert.ElementsMatch(t, []string{"encrypt", "decrypt"}, response.Usages)
	})
}

func TestPostCreateKeyWithoutPermission(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		sessionID := test.AuthenticateAs(t, s, test.TestViewerID)

		res := test.PerformRequest(t, s, "POST", "/api/v1/hsm/keys", test.GenericPayload{
			"algorithm": "AES_256_GCM",
			"key_size":  256,
			"usages":    []string{"encrypt"},
		}, test.SessionHeader(sessionID))
		test.RequireHTTPError(t, res, httperrors.ErrPermissionDenied)
	})
}

func TestPostCreateKeyWithoutSession(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		res := test.PerformRequest(t, s, "POST", "/api/v1/hsm/keys", test.GenericPayload{
			"algorithm": "AES_256_GCM",
			"key_size":  256,
			"usages":    []string{"encrypt"},
		}, nil)
		test.RequireHTTPError(t, res, httperrors.ErrSessionInvalid)
	})
}

func TestPostCreateKeyInvalidSpec(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		sessionID := test.AuthenticateAs(t, s, test.TestUserID)

		// 对称密钥不允许签名用途
		res := test.PerformRequest(t, s, "POST", "/api/v1/hsm/keys", test.GenericPayload{
			"algorithm": "AES_256_GCM",
			"key_size":  256,
			"usages":    []string{"sign"},
		}, test.SessionHeader(sessionID))
		require.Equal(t, http.StatusBadRequest, res.Code)

		res = test.PerformRequest(t, s, "POST", "/api/v1/hsm/keys", test.GenericPayload{
			"algorithm": "AES_256_GCM",
			"key_size":  512,
			"usages":    []string{"encrypt"},
		}, test.SessionHeader(sessionID))
		require.Equal(t, http.StatusBadRequest, res.Code)
	})
}

func TestGetListKeysScopedToCaller(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		aliceSession := test.AuthenticateAs(t, s, test.TestUserID)
		bobSession := test.AuthenticateAs(t, s, test.TestViewerID)

		res := test.PerformRequest(t, s, "POST", "/api/v1/hsm/keys", test.GenericPayload{
			"algorithm": "AES_256_GCM",
			"key_size":  256,
			"usages":    []string{"encrypt", "decrypt"},
		}, test.SessionHeader(aliceSession))
		require.Equal(t, http.StatusCreated, res.Code)

		res = test.PerformRequest(t, s, "GET", "/api/v1/hsm/keys", nil, test.SessionHeader(aliceSession))
		require.Equal(t, http.StatusOK, res.Code)

		var aliceKeys types.GetListKeysResponse
		test.ParseResponseAndValidate(t, res, &aliceKeys)
		assert.Len(t, aliceKeys.Keys, 1)

		// bob 没有任何授予，看不到 alice 的密钥
		res = test.PerformRequest(t, s, "GET", "/api/v1/hsm/keys", nil, test.SessionHeader(bobSession))
		require.Equal(t, http.StatusOK, res.Code)

		var bobKeys types.GetListKeysResponse
		test.ParseResponseAndValidate(t, res, &bobKeys)
		assert.Empty(t, bobKeys.Keys)
	})
}
