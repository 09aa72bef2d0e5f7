package registry

import (
	"sort"
	"time"

	"github.com/kashguard/go-hsm/internal/hsm/storage"
	"github.com/pkg/errors"
)

// Usage 密钥操作能力，闭合枚举
type Usage uint16

const (
	UsageEncrypt Usage = 1 << iota
	UsageDecrypt
	UsageSign
	UsageVerify
	UsageDerive
	UsageExport
	// UsageDelete 只在权限授予中出现，不属于密钥自身的允许用途
	UsageDelete
)

var usageNames = map[Usage]string{
	UsageEncrypt: "encrypt",
	UsageDecrypt: "decrypt",
	UsageSign:    "sign",
	UsageVerify:  "verify",
	UsageDerive:  "derive",
	UsageExport:  "export",
	UsageDelete:  "delete",
}

func (u Usage) String() string {
	if name, ok := usageNames[u]; ok {
		return name
	}
	return "unknown"
}

// ParseUsage 解析用途名称
func ParseUsage(name string) (Usage, error) {
	for u, n := range usageNames {
		if n == name {
			return u, nil
		}
	}
	return 0, errors.Errorf("unknown usage %q", name)
}

// UsageSet 用途能力集合（位集）
type UsageSet uint16

// NewUsageSet 构造用途集合
func NewUsageSet(usages ...Usage) UsageSet {
	var s UsageSet
	for _, u := range usages {
		s |= UsageSet(u)
	}
	return s
}

// ParseUsageSet 从持久化形式解析用途集合
func ParseUsageSet(names []string) (UsageSet, error) {
	var s UsageSet
	for _, name := range names {
		u, err := ParseUsage(name)
		if err != nil {
			return 0, err
		}
		s |= UsageSet(u)
	}
	return s, nil
}

// Has 检查集合是否包含指定用途
func (s UsageSet) Has(u Usage) bool {
	return s&UsageSet(u) != 0
}

// IsEmpty 集合为空
func (s UsageSet) IsEmpty() bool {
	return s == 0
}

// Strings 持久化形式，输出名称有序
func (s UsageSet) Strings() []string {
	out := make([]string, 0, len(usageNames))
	for u, name := range usageNames {
		if s.Has(u) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// KeyType 密钥类别
type KeyType string

const (
	KeyTypeSymmetric  KeyType = "symmetric"
	KeyTypeAsymmetric KeyType = "asymmetric"
)

// Algorithm 支持的算法标识
type Algorithm string

const (
	AlgorithmAES256GCM Algorithm = "AES_256_GCM"
	AlgorithmAES128GCM Algorithm = "AES_128_GCM"
	AlgorithmED25519   Algorithm = "ED25519"
	AlgorithmECDSAP256 Algorithm = "ECDSA_P256"
)

// algorithmSpec 每个算法的固有属性与合法密钥尺寸
type algorithmSpec struct {
	keyType KeyType
	sizes   []int
	usages  UsageSet // 该算法允许承载的用途
}

var algorithmSpecs = map[Algorithm]algorithmSpec{
	AlgorithmAES256GCM: {
		keyType: KeyTypeSymmetric,
		sizes:   []int{256},
		usages:  NewUsageSet(UsageEncrypt, UsageDecrypt, UsageDerive, UsageExport),
	},
	AlgorithmAES128GCM: {
		keyType: KeyTypeSymmetric,
		sizes:   []int{128},
		usages:  NewUsageSet(UsageEncrypt, UsageDecrypt, UsageDerive, UsageExport),
	},
	AlgorithmED25519: {
		keyType: KeyTypeAsymmetric,
		sizes:   []int{256},
		usages:  NewUsageSet(UsageSign, UsageVerify, UsageExport),
	},
	AlgorithmECDSAP256: {
		keyType: KeyTypeAsymmetric,
		sizes:   []int{256},
		usages:  NewUsageSet(UsageSign, UsageVerify, UsageExport),
	},
}

// State 密钥生命周期状态
type State string

const (
	StateGenerated State = "Generated"
	StateActive    State = "Active"
	StateBackedUp  State = "BackedUp"
	StateDeleted   State = "Deleted"
)

// BackupStatus 备份状态
type BackupStatus string

const (
	BackupStatusNone    BackupStatus = "none"
	BackupStatusPending BackupStatus = "pending"
	BackupStatusDone    BackupStatus = "done"
	BackupStatusFailed  BackupStatus = "failed"
)

// Key 密钥元数据
// 原始密钥材料永不出现在此结构中
type Key struct {
	ID           string
	Label        string
	KeyType      KeyType
	Algorithm    Algorithm
	KeySize      int
	Usages       UsageSet
	Extractable  bool
	Owner        string
	SlotIndex    int
	State        State
	BackupStatus BackupStatus
	CreatedAt    time.Time
	LastUsedAt   time.Time
	AccessCount  int64
}

// Grant 主体在单个密钥上的权限授予
type Grant struct {
	PrincipalID   string
	PrincipalKind string
	Usages        UsageSet
	Conditions    *storage.GrantConditions
	CreatedAt     time.Time
}

// CreateKeyRequest 密钥创建请求
type CreateKeyRequest struct {
	Label       string
	Algorithm   Algorithm
	KeySize     int
	Usages      UsageSet
	Extractable bool
}

func (k *Key) record() *storage.KeyRecord {
	return &storage.KeyRecord{
		KeyID:        k.ID,
		Label:        k.Label,
		KeyType:      string(k.KeyType),
		Algorithm:    string(k.Algorithm),
		KeySize:      k.KeySize,
		Usages:       k.Usages.Strings(),
		Extractable:  k.Extractable,
		Owner:        k.Owner,
		SlotIndex:    k.SlotIndex,
		State:        string(k.State),
		BackupStatus: string(k.BackupStatus),
		CreatedAt:    k.CreatedAt,
		LastUsedAt:   k.LastUsedAt,
		AccessCount:  k.AccessCount,
	}
}

func keyFromRecord(rec *storage.KeyRecord) (*Key, error) {
	usages, err := ParseUsageSet(rec.Usages)
	if err != nil {
		return nil, errors.Wrapf(err, "key %s", rec.KeyID)
	}

	return &Key{
		ID:           rec.KeyID,
		Label:        rec.Label,
		KeyType:      KeyType(rec.KeyType),
		Algorithm:    Algorithm(rec.Algorithm),
		KeySize:      rec.KeySize,
		Usages:       usages,
		Extractable:  rec.Extractable,
		Owner:        rec.Owner,
		SlotIndex:    rec.SlotIndex,
		State:        State(rec.State),
		BackupStatus: BackupStatus(rec.BackupStatus),
		CreatedAt:    rec.CreatedAt,
		LastUsedAt:   rec.LastUsedAt,
		AccessCount:  rec.AccessCount,
	}, nil
}

func (g *Grant) record(keyID string) *storage.GrantRecord {
	return &storage.GrantRecord{
		KeyID:         keyID,
		PrincipalID:   g.PrincipalID,
		PrincipalKind: g.PrincipalKind,
		Usages:        g.Usages.Strings(),
		Conditions:    g.Conditions,
		CreatedAt:     g.CreatedAt,
	}
}
