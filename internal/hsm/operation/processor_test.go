package operation_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/dropbox/godropbox/time2"
	"github.com/kashguard/go-hsm/internal/hsm/audit"
	"github.com/kashguard/go-hsm/internal/hsm/backup"
	"github.com/kashguard/go-hsm/internal/hsm/keystore"
	"github.com/kashguard/go-hsm/internal/hsm/operation"
	"github.com/kashguard/go-hsm/internal/hsm/registry"
	"github.com/kashguard/go-hsm/internal/hsm/session"
	"github.com/kashguard/go-hsm/internal/hsm/slot"
	"github.com/kashguard/go-hsm/internal/hsm/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopAuditLogger struct{}

func (nopAuditLogger) LogEvent(_ context.Context, _ *audit.AuditEvent) error { return nil }
func (nopAuditLogger) Close() error                                          { return nil }

type alwaysHealthy struct{}

func (alwaysHealthy) Healthy() bool { return true }

// opCounter 按 "操作:结果" 捕获计数回调
type opCounter struct {
	counts map[string]int
}

func (c *opCounter) record(operation string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.counts[operation+":"+outcome]++
}

type fixture struct {
	processor *operation.Processor
	sessions  *session.Manager
	registry  registry.Service
	allocator *slot.Allocator
	clock     *time2.MockClock
	ops       *opCounter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	pinHash, err := session.HashPIN("1234")
	require.NoError(t, err)

	directory := session.NewStaticDirectory([]*session.Principal{
		{
			ID:             "alice",
			Kind:           session.PrincipalKindUser,
			PINHash:        pinHash,
			AllowedActions: []string{"generate", "encrypt", "decrypt", "sign", "verify", "export", "import", "delete"},
		},
		{
			ID:             "bob",
			Kind:           session.PrincipalKindUser,
			PINHash:        pinHash,
			AllowedActions: []string{"encrypt", "decrypt"},
		},
	})

	clock := time2.NewMockClock(time.Now())
	store := storage.NewMemoryStore()
	allocator := slot.NewAllocator(16)
	reg := registry.NewService(allocator, store, nopAuditLogger{}, clock, nil)
	sessions := session.NewManager(directory, alwaysHealthy{}, nopAuditLogger{}, clock, 30*time.Minute)

	master := bytes.Repeat([]byte{0x42}, 32)
	ks, err := keystore.New(store, master, rand.Reader, clock)
	require.NoError(t, err)

	ops := &opCounter{counts: make(map[string]int)}

	return &fixture{
		processor: operation.NewProcessor(sessions, reg, ks, backup.NewNoopTarget(), nopAuditLogger{}, alwaysHealthy{}, ops.record, rand.Reader),
		sessions:  sessions,
		registry:  reg,
		allocator: allocator,
		clock:     clock,
		ops:       ops,
	}
}

func (f *fixture) login(t *testing.T, principalID string) string {
	t.Helper()

	sess, err := f.sessions.Authenticate(context.Background(), &session.AuthenticateRequest{
		PrincipalID: principalID,
		PIN:         "1234",
		Origin:      session.Origin{IP: "10.0.0.1"},
	})
	require.NoError(t, err)
	return sess.ID
}

func symmetricSpec() *registry.CreateKeyRequest {
	return &registry.CreateKeyRequest{
		Label:     "data-key",
		Algorithm: registry.AlgorithmAES256GCM,
		KeySize:   256,
		Usages:    registry.NewUsageSet(registry.UsageEncrypt, registry.UsageDecrypt),
	}
}

func TestProcessor_EncryptDecryptRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sid := f.login(t, "alice")

	key, err := f.processor.Generate(ctx, sid, symmetricSpec())
	require.NoError(t, err)

	plaintext := []byte("hello")
	ct, err := f.processor.Encrypt(ctx, sid, key.ID, plaintext)
	require.NoError(t, err)
	assert.Len(t, ct.Nonce, 12)
	assert.NotContains(t, string(ct.Data), "hello")

	got, err := f.processor.Decrypt(ctx, sid, key.ID, ct)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)

	// 每次加密使用新鲜 nonce
	ct2, err := f.processor.Encrypt(ctx, sid, key.ID, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, ct.Nonce, ct2.Nonce)

	resolved, err := f.registry.Get(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), resolved.AccessCount)
}

func TestProcessor_DecryptFailsClosed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sid := f.login(t, "alice")

	key, err := f.processor.Generate(ctx, sid, symmetricSpec())
	require.NoError(t, err)

	ct, err := f.processor.Encrypt(ctx, sid, key.ID, []byte("payload"))
	require.NoError(t, err)

	before, err := f.registry.Get(ctx, key.ID)
	require.NoError(t, err)

	tampered := &operation.Ciphertext{Nonce: ct.Nonce, Data: append([]byte{}, ct.Data...)}
	tampered.Data[0] ^= 0x01
	_, err = f.processor.Decrypt(ctx, sid, key.ID, tampered)
	require.ErrorIs(t, err, operation.ErrCryptoFailure)

	// 失败的解密不触碰使用计数
	after, err := f.registry.Get(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, before.AccessCount, after.AccessCount)

	// 畸形 nonce 同样拒绝
	_, err = f.processor.Decrypt(ctx, sid, key.ID, &operation.Ciphertext{Nonce: []byte{1, 2}, Data: ct.Data})
	require.ErrorIs(t, err, operation.ErrCryptoFailure)
}

func TestProcessor_PermissionDeniedAfterValidAuth(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	aliceSID := f.login(t, "alice")
	bobSID := f.login(t, "bob")

	key, err := f.processor.Generate(ctx, aliceSID, symmetricSpec())
	require.NoError(t, err)

	// bob 认证成功但没有该密钥的授予
	_, err = f.processor.Encrypt(ctx, bobSID, key.ID, []byte("data"))
	require.ErrorIs(t, err, registry.ErrPermissionDenied)

	// bob 的快照不包含 generate
	_, err = f.processor.Generate(ctx, bobSID, symmetricSpec())
	require.ErrorIs(t, err, registry.ErrPermissionDenied)
}

func TestProcessor_ExpiredSessionNoMutation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sid := f.login(t, "alice")

	key, err := f.processor.Generate(ctx, sid, symmetricSpec())
	require.NoError(t, err)
	before, err := f.registry.Get(ctx, key.ID)
	require.NoError(t, err)

	f.clock.Advance(31 * time.Minute)

	_, err = f.processor.Encrypt(ctx, sid, key.ID, []byte("data"))
	require.ErrorIs(t, err, session.ErrSessionExpired)

	after, err := f.registry.Get(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, before.AccessCount, after.AccessCount)
}

func TestProcessor_SignVerify(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sid := f.login(t, "alice")

	for _, alg := range []registry.Algorithm{registry.AlgorithmED25519, registry.AlgorithmECDSAP256} {
		t.Run(string(alg), func(t *testing.T) {
			key, err := f.processor.Generate(ctx, sid, &registry.CreateKeyRequest{
				Label:     "signing-key",
				Algorithm: alg,
				KeySize:   256,
				Usages:    registry.NewUsageSet(registry.UsageSign, registry.UsageVerify),
			})
			require.NoError(t, err)

			message := []byte("signed payload")
			sig, err := f.processor.Sign(ctx, sid, key.ID, message)
			require.NoError(t, err)

			valid, err := f.processor.Verify(ctx, sid, key.ID, message, sig)
			require.NoError(t, err)
			assert.True(t, valid)

			valid, err = f.processor.Verify(ctx, sid, key.ID, []byte("other payload"), sig)
			require.NoError(t, err)
			assert.False(t, valid)
		})
	}
}

func TestProcessor_ExportRequiresExtractable(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sid := f.login(t, "alice")

	locked, err := f.processor.Generate(ctx, sid, &registry.CreateKeyRequest{
		Algorithm: registry.AlgorithmAES256GCM,
		KeySize:   256,
		Usages:    registry.NewUsageSet(registry.UsageEncrypt, registry.UsageDecrypt, registry.UsageExport),
	})
	require.NoError(t, err)

	// 拥有 export 授予也不能导出不可导出的密钥
	_, err = f.processor.Export(ctx, sid, locked.ID)
	require.ErrorIs(t, err, registry.ErrKeyNotExtractable)

	exportable, err := f.processor.Generate(ctx, sid, &registry.CreateKeyRequest{
		Algorithm:   registry.AlgorithmAES256GCM,
		KeySize:     256,
		Usages:      registry.NewUsageSet(registry.UsageEncrypt, registry.UsageExport),
		Extractable: true,
	})
	require.NoError(t, err)

	material, err := f.processor.Export(ctx, sid, exportable.ID)
	require.NoError(t, err)
	assert.Len(t, material, 32)
}

func TestProcessor_ImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sid := f.login(t, "alice")

	material := bytes.Repeat([]byte{0x07}, 32)
	key, err := f.processor.Import(ctx, sid, &operation.ImportRequest{
		Spec: registry.CreateKeyRequest{
			Label:       "imported-key",
			Algorithm:   registry.AlgorithmAES256GCM,
			KeySize:     256,
			Usages:      registry.NewUsageSet(registry.UsageEncrypt, registry.UsageDecrypt, registry.UsageExport),
			Extractable: true,
		},
		Material: material,
	})
	require.NoError(t, err)

	// 导入的材料逐字节保留
	exported, err := f.processor.Export(ctx, sid, key.ID)
	require.NoError(t, err)
	assert.Equal(t, material, exported)

	ct, err := f.processor.Encrypt(ctx, sid, key.ID, []byte("imported"))
	require.NoError(t, err)
	got, err := f.processor.Decrypt(ctx, sid, key.ID, ct)
	require.NoError(t, err)
	assert.Equal(t, []byte("imported"), got)
}

func TestProcessor_ImportRejectsBadMaterial(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sid := f.login(t, "alice")

	occupied := f.allocator.Occupied()

	_, err := f.processor.Import(ctx, sid, &operation.ImportRequest{
		Spec: registry.CreateKeyRequest{
			Algorithm: registry.AlgorithmAES256GCM,
			KeySize:   256,
			Usages:    registry.NewUsageSet(registry.UsageEncrypt),
		},
		Material: []byte("too short"),
	})
	require.ErrorIs(t, err, registry.ErrInvalidKeySpec)

	// 校验失败不消耗槽位
	assert.Equal(t, occupied, f.allocator.Occupied())
}

func TestProcessor_DeleteKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sid := f.login(t, "alice")

	key, err := f.processor.Generate(ctx, sid, symmetricSpec())
	require.NoError(t, err)
	index := key.SlotIndex

	require.NoError(t, f.processor.Delete(ctx, sid, key.ID))
	assert.False(t, f.allocator.IsOccupied(index))

	_, err = f.processor.Encrypt(ctx, sid, key.ID, []byte("data"))
	require.ErrorIs(t, err, registry.ErrKeyNotFound)
}

// 生成的密钥在材料落库后立即处于 Active
func TestProcessor_GenerateActivatesKey(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sid := f.login(t, "alice")

	key, err := f.processor.Generate(ctx, sid, symmetricSpec())
	require.NoError(t, err)
	assert.Equal(t, registry.StateActive, key.State)

	resolved, err := f.registry.Get(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, registry.StateActive, resolved.State)
}

func TestProcessor_RecordsOperationOutcomes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	sid := f.login(t, "alice")

	key, err := f.processor.Generate(ctx, sid, symmetricSpec())
	require.NoError(t, err)

	_, err = f.processor.Encrypt(ctx, sid, key.ID, []byte("data"))
	require.NoError(t, err)

	// bob 没有该密钥的授予
	bobSID := f.login(t, "bob")
	_, err = f.processor.Encrypt(ctx, bobSID, key.ID, []byte("data"))
	require.ErrorIs(t, err, registry.ErrPermissionDenied)

	assert.Equal(t, 1, f.ops.counts["generate:success"])
	assert.Equal(t, 1, f.ops.counts["encrypt:success"])
	assert.Equal(t, 1, f.ops.counts["encrypt:failure"])
}
