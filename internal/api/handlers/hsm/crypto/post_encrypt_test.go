package crypto_test

import (
	"encoding/base64"
	"net/http"
	"testing"

	"github.com/kashguard/go-hsm/internal/api"
	"github.com/kashguard/go-hsm/internal/api/httperrors"
	"github.com/kashguard/go-hsm/internal/test"
	"github.com/kashguard/go-hsm/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestKey(t *testing.T, s *api.Server, sessionID string, usages []string) string {
	t.Helper()

	res := test.PerformRequest(t, s, "POST", "/api/v1/hsm/keys", test.GenericPayload{
		"algorithm": "AES_256_GCM",
		"key_size":  256,
		"usages":    usages,
	}, test.SessionHeader(sessionID))
	require.Equal(t, http.StatusCreated, res.Code)

	var key types.KeyResponse
	test.ParseResponseAndValidate(t, res, &key)

	return *key.KeyID
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		sessionID := test.AuthenticateAs(t, s, test.TestUserID)
		keyID := createTestKey(t, s, sessionID, []string{"encrypt", "decrypt"})

		plaintext := []byte("attack at dawn")

		res := test.PerformRequest(t, s, "POST", "/api/v1/hsm/encrypt", test.GenericPayload{
			"key_id":    keyID,
			"plaintext": base64.StdEncoding.EncodeToString(plaintext),
		}, test.SessionHeader(sessionID))
		require.Equal(t, http.StatusOK, res.Code)

		var encrypted types.PostEncryptResponse
		test.ParseResponseAndValidate(t, res, &encrypted)
		assert.NotEmpty(t, []byte(*encrypted.Nonce))
		assert.NotEqual(t, plaintext, []byte(*encrypted.Ciphertext))

		res = test.PerformRequest(t, s, "POST", "/api/v1/hsm/decrypt", test.GenericPayload{
			"key_id":     keyID,
			"nonce":      encrypted.Nonce.String(),
			"ciphertext": encrypted.Ciphertext.String(),
		}, test.SessionHeader(sessionID))
		require.Equal(t, http.StatusOK, res.Code)

		var decrypted types.PostDecryptResponse
		test.ParseResponseAndValidate(t, res, &decrypted)
		assert.Equal(t, plaintext, []byte(*decrypted.Plaintext))
	})
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		sessionID := test.AuthenticateAs(t, s, test.TestUserID)
		keyID := createTestKey(t, s, sessionID, []string{"encrypt", "decrypt"})

		res := test.PerformRequest(t, s, "POST", "/api/v1/hsm/encrypt", test.GenericPayload{
			"key_id":    keyID,
			"plaintext": base64.StdEncoding.EncodeToString([]byte("payload")),
		}, test.SessionHeader(sessionID))
		require.Equal(t, http.StatusOK, res.Code)

		var encrypted types.PostEncryptResponse
		test.ParseResponseAndValidate(t, res, &encrypted)

		tampered := make([]byte, len(*encrypted.Ciphertext))
		copy(tampered, *encrypted.Ciphertext)
		tampered[0] ^= 0xff

		res = test.PerformRequest(t, s, "POST", "/api/v1/hsm/decrypt", test.GenericPayload{
			"key_id":     keyID,
			"nonce":      encrypted.Nonce.String(),
			"ciphertext": base64.StdEncoding.EncodeToString(tampered),
		}, test.SessionHeader(sessionID))
		test.RequireHTTPError(t, res, httperrors.ErrCryptoFailure)
	})
}

func TestEncryptWithoutGrant(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		aliceSession := test.AuthenticateAs(t, s, test.TestUserID)
		bobSession := test.AuthenticateAs(t, s, test.TestViewerID)

		keyID := createTestKey(t, s, aliceSession, []string{"encrypt", "decrypt"})

		// bob 在该密钥上没有授予
		res := test.PerformRequest(t, s, "POST", "/api/v1/hsm/encrypt", test.GenericPayload{
			"key_id":    keyID,
			"plaintext": base64.StdEncoding.EncodeToString([]byte("payload")),
		}, test.SessionHeader(bobSession))
		test.RequireHTTPError(t, res, httperrors.ErrPermissionDenied)
	})
}

func TestSignVerifyRoundtrip(t *testing.T) {
	test.WithTestServer(t, func(s *api.Server) {
		sessionID := test.AuthenticateAs(t, s, test.TestUserID)

		res := test.PerformRequest(t, s, "POST", "/api/v1/hsm/keys", test.GenericPayload{
			"algorithm": "ED25519",
			"key_size":  256,
			"usages":    []string{"sign", "verify"},
		}, test.SessionHeader(sessionID))
		require.Equal(t, http.StatusCreated, res.Code)

		var key types.KeyResponse
		test.ParseResponseAndValidate(t, res, &key)

		message := base64.StdEncoding.EncodeToString([]byte("release v1.2.3"))

		res = test.PerformRequest(t, s, "POST", "/api/v1/hsm/sign", test.GenericPayload{
			"key_id":  *key.KeyID,
			"message": message,
		}, test.SessionHeader(sessionID))
		require.Equal(t, http.StatusOK, res.Code)

		var signed types.PostSignResponse
		test.ParseResponseAndValidate(t, res, &signed)

		res = test.PerformRequest(t, s, "POST", "/api/v1/hsm/verify", test.GenericPayload{
			"key_id":    *key.KeyID,
			"message":   message,
			"signature": signed.Signature.String(),
		}, test.SessionHeader(sessionID))
		require.Equal(t, http.StatusOK, res.Code)

		var verified types.PostVerifyResponse
		test.ParseResponseAndValidate(t, res, &verified)
		assert.True(t, *verified.Valid)

		// 篡改消息后验签返回 false 而不是错误
		res = test.PerformRequest(t, s, "POST", "/api/v1/hsm/verify", test.GenericPayload{
			"key_id":    *key.KeyID,
			"message":   base64.StdEncoding.EncodeToString([]byte("release v1.2.4")),
			"signature": signed.Signature.String(),
		}, test.SessionHeader(sessionID))
		require.Equal(t, http.StatusOK, res.Code)

		test.ParseResponseAndValidate(t, res, &verified)
		assert.False(t, *verified.Valid)
	})
}
