package sessions_test

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

func TestPostAuthenticate(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		res := test.PerformRequest(t, s, "POST", "/api/v1/hsm/sessions", test.GenericPayload{
			"principal_id": test.TestUserID,
			"pin":          test.TestPIN,
		}, nil)
		require.Equal(t, http.StatusCreated, res.Code)

		var response types.PostAuthenticateResponse
		test.ParseResponseAndValidate(t, res, &response)
		assert.Equal(t, test.TestUserID, *response.PrincipalID)
		assert.NotEmpty(t, *response.SessionID)
	})
}

func TestPostAuthenticateWrongPIN(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		res := test.PerformRequest(t, s, "POST", "/api/v1/hsm/sessions", test.GenericPayload{
			"principal_id": test.TestUserID,
			"pin":          "000000",
		}, nil)
		test.RequireHTTPError(t, res, httperrors.ErrAuthenticationFailed)
	})
}

func TestPostAuthenticateUnknownPrincipal(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		// 主体不存在与 PIN 错误返回相同的公开错误
		res := test.PerformRequest(t, s, "POST", "/api/v1/hsm/sessions", test.GenericPayload{
			"principal_id": "nobody",
			"pin":          test.TestPIN,
		}, nil)
		test.RequireHTTPError(t, res, httperrors.ErrAuthenticationFailed)
	})
}

func TestPostAuthenticateMissingFields(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		res := test.PerformRequest(t, s, "POST", "/api/v1/hsm/sessions", test.GenericPayload{
			"principal_id": test.TestUserID,
		}, nil)
		require.Equal(t, http.StatusBadRequest, res.Code)
	})
}

func TestDeleteSession(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		sessionID := test.AuthenticateAs(t, s, test.TestUserID)

		res := test.PerformRequest(t, s, "DELETE", "/api/v1/hsm/sessions/"+sessionID, nil, nil)
		require.Equal(t, http.StatusNoContent, res.Code)

		// 吊销后的会话不能再使用
		res = test.PerformRequest(t, s, "GET", "/api/v1/hsm/keys", nil, test.SessionHeader(sessionID))
		test.RequireHTTPError(t, res, httperrors.ErrSessionInvalid)
	})
}
