package test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-openapi/strfmt"
	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/kashguard/go-hsm/internal/util"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

// GenericPayload 任意 JSON 请求体
type GenericPayload map[string]interface{}

func (g GenericPayload) Reader(t *testing.T) *bytes.Reader {
	t.Helper()

	b, err := json.Marshal(g)
	require.NoError(t, err)

	return bytes.NewReader(b)
}

// PerformRequest 对测试服务执行一次内存 HTTP 请求
func PerformRequest(t *testing.T, s *api.Server, method string, path string, body GenericPayload, headers http.Header) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, body.Reader(t))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}

	for key, vals := range headers {
		for _, v := range vals {
			req.Header.Add(key, v)
		}
	}

	res := httptest.NewRecorder()
	s.Echo.ServeHTTP(res, req)

	return res
}

// SessionHeader 携带会话令牌的请求头
func SessionHeader(sessionID string) http.Header {
	return http.Header{util.HTTPHeaderSessionID: []string{sessionID}}
}

// ParseResponseAndValidate 解析响应体并校验必填字段
func ParseResponseAndValidate(t *testing.T, res *httptest.ResponseRecorder, v util.Validatable) {
	t.Helper()

	require.NoError(t, json.Unmarshal(res.Body.Bytes(), v))
	require.NoError(t, v.Validate(strfmt.Default))
}

// RequireHTTPError 断言响应与预期的公开错误一致
func RequireHTTPError(t *testing.T, res *httptest.ResponseRecorder, expected *httperrors.HTTPError) {
	t.Helper()

	require.Equal(t, int(*expected.Code), res.Code)

	var actual types.PublicHTTPError
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &actual))
	require.Equal(t, *expected.Type, *actual.Type)
	require.Equal(t, *expected.Title, *actual.Title)
}

// AuthenticateAs 建立会话并返回会话 ID
func AuthenticateAs(t *testing.T, s *api.Server, principalID string) string {
	t.Helper()

	res := PerformRequest(t, s, "POST", "/api/v1/hsm/sessions", GenericPayload{
		"principal_id": principalID,
		"pin":          TestPIN,
	}, nil)
	require.Equal(t, http.StatusCreated, res.Code)

	var response types.PostAuthenticateResponse
	ParseResponseAndValidate(t, res, &response)

	return *response.SessionID
}
