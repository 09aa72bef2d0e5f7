package operation

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"io"

	"github.com/kashguard/go-hsm/internal/hsm/registry"
	"github.com/pkg/errors"
)

// generateMaterial 为新密钥产生原始材料
// 对称密钥为随机字节，非对称密钥为 PKCS#8 DER 编码的私钥
func generateMaterial(rng io.Reader, algorithm registry.Algorithm, keySize int) ([]byte, error) {
	switch algorithm {
	case registry.AlgorithmAES256GCM, registry.AlgorithmAES128GCM:
		material := make([]byte, keySize/8)
		if _, err := io.ReadFull(rng, material); err != nil {
			return nil, errors.Wrap(err, "read random key material")
		}
		return material, nil

	case registry.AlgorithmED25519:
		_, priv, err := ed25519.GenerateKey(rng)
		if err != nil {
			return nil, errors.Wrap(err, "generate ed25519 key")
		}
		return x509.MarshalPKCS8PrivateKey(priv)

	case registry.AlgorithmECDSAP256:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rng)
		if err != nil {
			return nil, errors.Wrap(err, "generate ecdsa key")
		}
		return x509.MarshalPKCS8PrivateKey(priv)

	default:
		return nil, errors.Wrapf(registry.ErrUnsupportedAlgorithm, "algorithm %s", algorithm)
	}
}

// validateImportedMaterial 在占用槽位之前检查外部材料与请求规格一致
func validateImportedMaterial(spec *registry.CreateKeyRequest, material []byte) error {
	switch spec.Algorithm {
	case registry.AlgorithmAES256GCM, registry.AlgorithmAES128GCM:
		if len(material) != spec.KeySize/8 {
			return errors.Wrapf(registry.ErrInvalidKeySpec, "material length %d does not match key size %d", len(material), spec.KeySize)
		}
		return nil

	case registry.AlgorithmED25519:
		parsed, err := x509.ParsePKCS8PrivateKey(material)
		if err != nil {
			return errors.Wrap(registry.ErrInvalidKeySpec, "material is not a PKCS#8 private key")
		}
		if _, ok := parsed.(ed25519.PrivateKey); !ok {
			return errors.Wrap(registry.ErrInvalidKeySpec, "material is not an ed25519 private key")
		}
		return nil

	case registry.AlgorithmECDSAP256:
		parsed, err := x509.ParsePKCS8PrivateKey(material)
		if err != nil {
			return errors.Wrap(registry.ErrInvalidKeySpec, "material is not a PKCS#8 private key")
		}
		ecKey, ok := parsed.(*ecdsa.PrivateKey)
		if !ok || ecKey.Curve != elliptic.P256() {
			return errors.Wrap(registry.ErrInvalidKeySpec, "material is not an ecdsa P-256 private key")
		}
		return nil

	default:
		return errors.Wrapf(registry.ErrUnsupportedAlgorithm, "algorithm %s", spec.Algorithm)
	}
}

func aeadFor(material []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(material)
	if err != nil {
		return nil, errors.Wrap(ErrCryptoFailure, err.Error())
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(ErrCryptoFailure, err.Error())
	}
	return gcm, nil
}

func signMessage(rng io.Reader, key *registry.Key, material []byte, message []byte) ([]byte, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(material)
	if err != nil {
		return nil, errors.Wrap(ErrCryptoFailure, "malformed private key material")
	}

	switch key.Algorithm {
	case registry.AlgorithmED25519:
		priv, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return nil, errors.Wrap(ErrCryptoFailure, "key material does not match algorithm")
		}
		return ed25519.Sign(priv, message), nil

	case registry.AlgorithmECDSAP256:
		priv, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, errors.Wrap(ErrCryptoFailure, "key material does not match algorithm")
		}
		digest := sha256.Sum256(message)
		sig, err := ecdsa.SignASN1(rng, priv, digest[:])
		if err != nil {
			return nil, errors.Wrap(ErrCryptoFailure, err.Error())
		}
		return sig, nil

	default:
		return nil, errors.Wrapf(registry.ErrUnsupportedAlgorithm, "algorithm %s cannot sign", key.Algorithm)
	}
}

func verifySignature(key *registry.Key, material []byte, message []byte, signature []byte) (bool, error) {
	parsed, err := x509.ParsePKCS8PrivateKey(material)
	if err != nil {
		return false, errors.Wrap(ErrCryptoFailure, "malformed private key material")
	}

	switch key.Algorithm {
	case registry.AlgorithmED25519:
		priv, ok := parsed.(ed25519.PrivateKey)
		if !ok {
			return false, errors.Wrap(ErrCryptoFailure, "key material does not match algorithm")
		}
		pub, ok := priv.Public().(ed25519.PublicKey)
		if !ok {
			return false, errors.Wrap(ErrCryptoFailure, "derive public key")
		}
		return ed25519.Verify(pub, message, signature), nil

	case registry.AlgorithmECDSAP256:
		priv, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return false, errors.Wrap(ErrCryptoFailure, "key material does not match algorithm")
		}
		digest := sha256.Sum256(message)
		return ecdsa.VerifyASN1(&priv.PublicKey, digest[:], signature), nil

	default:
		return false, errors.Wrapf(registry.ErrUnsupportedAlgorithm, "algorithm %s cannot verify", key.Algorithm)
	}
}
