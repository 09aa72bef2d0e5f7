package session

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/argon2"
)

var ErrPrincipalNotFound = errors.New("principal not found")

const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// Principal 目录中的主体记录
// 目录本身是外部协作方（组织/用户角色目录）的边界，模块只消费其快照
type Principal struct {
	ID             string
	Kind           PrincipalKind
	PINHash        string
	MFARequired    bool
	Admin          bool
	AllowedActions []string
	MaxSessions    int
}

// Directory 主体目录接口
type Directory interface {
	Lookup(ctx context.Context, principalID string) (*Principal, error)
}

// staticDirectory 配置驱动的静态主体目录
type staticDirectory struct {
	principals map[string]*Principal
}

// NewStaticDirectory 创建配置驱动的静态主体目录
//
//nolint:ireturn // returning interface is intentional for abstraction
func NewStaticDirectory(principals []*Principal) Directory {
	byID := make(map[string]*Principal, len(principals))
	for _, p := range principals {
		byID[p.ID] = p
	}
	return &staticDirectory{principals: byID}
}

// Lookup 查找主体
func (d *staticDirectory) Lookup(_ context.Context, principalID string) (*Principal, error) {
	p, ok := d.principals[principalID]
	if !ok {
		return nil, ErrPrincipalNotFound
	}

	cp := *p
	cp.AllowedActions = append([]string(nil), p.AllowedActions...)
	return &cp, nil
}

// HashPIN 对 PIN 进行 argon2id 哈希，返回 PHC 编码字符串
func HashPIN(pin string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", errors.Wrap(err, "failed to generate salt")
	}

	hash := argon2.IDKey([]byte(pin), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPIN 校验 PIN 与存储的 PHC 编码哈希（常量时间比较）
func VerifyPIN(encoded string, pin string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	actual := argon2.IDKey([]byte(pin), salt, time, memory, threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(expected, actual) == 1
}
