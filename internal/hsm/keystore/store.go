package keystore

import (
	"context"

	"github.com/awnumar/memguard"
	"github.com/kashguard/go-hsm/internal/hsm/storage"
	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/dropbox/godropbox/time2"
)

var (
	ErrMaterialNotFound = errors.New("key material not found")
	ErrUnwrapFailed     = errors.New("failed to unwrap key material")
	ErrEmptyMaterial    = errors.New("empty key material")
)

const (
	masterKeySize = chacha20poly1305.KeySize

	// argon2id 参数，与主密钥派生一致即可，不参与在线验证
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// RNG 密码学安全随机源
type RNG interface {
	Read(p []byte) (int, error)
}

// Store 安全密钥材料存储
// 这是模拟中对应真实硬件保护边界的位置：原始密钥材料一经生成，
// 必须在模块主密钥下封装后原样持久化，只能通过本接口取回，
// 绝不允许从密钥 ID 重新推导（参见 DESIGN.md 对原始实现缺陷的记录）
type Store struct {
	backing storage.MetadataStore
	master  *memguard.Enclave
	rng     RNG
	clock   time2.Clock
}

// New 创建新的安全密钥材料存储
// masterSecret 为模块主密钥的明文字节，调用后由 memguard 接管并清零原缓冲
func New(backing storage.MetadataStore, masterSecret []byte, rng RNG, clock time2.Clock) (*Store, error) {
	if len(masterSecret) != masterKeySize {
		return nil, errors.Errorf("master secret must be %d bytes, got %d", masterKeySize, len(masterSecret))
	}

	return &Store{
		backing: backing,
		// NewEnclave 复制并清零输入切片
		master: memguard.NewEnclave(masterSecret),
		rng:    rng,
		clock:  clock,
	}, nil
}

// DeriveMasterSecret 从口令和盐派生模块主密钥（argon2id）
func DeriveMasterSecret(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, masterKeySize)
}

// Store 封装并持久化原始密钥材料
// AAD 绑定密钥 ID，防止封装块被移花接木到其他密钥
func (s *Store) Store(ctx context.Context, keyID string, material []byte) error {
	if len(material) == 0 {
		return ErrEmptyMaterial
	}

	masterBuf, err := s.master.Open()
	if err != nil {
		return errors.Wrap(err, "failed to access master secret")
	}
	defer masterBuf.Destroy()

	aead, err := chacha20poly1305.New(masterBuf.Bytes())
	if err != nil {
		return errors.Wrap(err, "failed to create wrapping cipher")
	}

	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := s.rng.Read(nonce); err != nil {
		return errors.Wrap(err, "failed to generate wrapping nonce")
	}

	blob := aead.Seal(nonce, nonce, material, []byte(keyID))

	if err := s.backing.SaveWrappedKey(ctx, &storage.WrappedKey{
		KeyID:     keyID,
		Blob:      blob,
		CreatedAt: s.clock.Now(),
	}); err != nil {
		return errors.Wrap(err, "failed to persist wrapped key")
	}

	return nil
}

// Retrieve 取回原始密钥材料
// 明文只存在于返回的 LockedBuffer 中，调用方在密码学原语返回后必须立即 Destroy
func (s *Store) Retrieve(ctx context.Context, keyID string) (*memguard.LockedBuffer, error) {
	wrapped, err := s.backing.GetWrappedKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, storage.ErrWrappedKeyNotFound) {
			return nil, ErrMaterialNotFound
		}
		return nil, errors.Wrap(err, "failed to load wrapped key")
	}

	if len(wrapped.Blob) < chacha20poly1305.NonceSize {
		return nil, ErrUnwrapFailed
	}

	masterBuf, err := s.master.Open()
	if err != nil {
		return nil, errors.Wrap(err, "failed to access master secret")
	}
	defer masterBuf.Destroy()

	aead, err := chacha20poly1305.New(masterBuf.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "failed to create wrapping cipher")
	}

	nonce := wrapped.Blob[:chacha20poly1305.NonceSize]
	ciphertext := wrapped.Blob[chacha20poly1305.NonceSize:]

	material, err := aead.Open(nil, nonce, ciphertext, []byte(keyID))
	if err != nil {
		return nil, ErrUnwrapFailed
	}

	// NewBufferFromBytes 将材料移入保护内存并清零堆上的副本
	return memguard.NewBufferFromBytes(material), nil
}

// WrappedBlob 返回持久化形态的封装块（用于备份，不含明文）
func (s *Store) WrappedBlob(ctx context.Context, keyID string) (*storage.WrappedKey, error) {
	wrapped, err := s.backing.GetWrappedKey(ctx, keyID)
	if err != nil {
		if errors.Is(err, storage.ErrWrappedKeyNotFound) {
			return nil, ErrMaterialNotFound
		}
		return nil, errors.Wrap(err, "failed to load wrapped key")
	}
	return wrapped, nil
}

// Destroy 删除持久化的封装材料（不可逆）
func (s *Store) Destroy(ctx context.Context, keyID string) error {
	if err := s.backing.DeleteWrappedKey(ctx, keyID); err != nil {
		if errors.Is(err, storage.ErrWrappedKeyNotFound) {
			return ErrMaterialNotFound
		}
		return errors.Wrap(err, "failed to delete wrapped key")
	}
	return nil
}
