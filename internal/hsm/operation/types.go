package operation

import (
	"github.com/kashguard/go-hsm/internal/hsm/registry"
)

// Kind 操作类别，与会话权限快照中的动作名一致
type Kind string

const (
	KindGenerate Kind = "generate"
	KindEncrypt  Kind = "encrypt"
	KindDecrypt  Kind = "decrypt"
	KindSign     Kind = "sign"
	KindVerify   Kind = "verify"
	KindExport   Kind = "export"
	KindImport   Kind = "import"
	KindDelete   Kind = "delete"
)

// 请求状态机阶段，按序进入审计轨迹
const (
	stageReceived            = "Received"
	stageSessionValidated    = "SessionValidated"
	stagePermissionValidated = "PermissionValidated"
	stageKeyResolved         = "KeyResolved"
	stageExecuted            = "Executed"
	stageAudited             = "Audited"
)

// Ciphertext 认证加密的输出
// Data 尾部携带认证标签，解密时校验失败即整体拒绝
type Ciphertext struct {
	Nonce []byte
	Data  []byte
}

// ImportRequest 外部密钥材料导入请求
// 对称密钥材料为原始字节，非对称为 PKCS#8 DER 编码的私钥
type ImportRequest struct {
	Spec     registry.CreateKeyRequest
	Material []byte
}

// trail 单个请求的有序人类可读轨迹
type trail struct {
	steps []string
}

func newTrail() *trail {
	return &trail{steps: []string{stageReceived}}
}

func (t *trail) advance(stage string) {
	t.steps = append(t.steps, stage)
}

func (t *trail) fail(reason string) {
	t.steps = append(t.steps, stageAudited+"(failure: "+reason+")")
}

func (t *trail) complete() {
	t.steps = append(t.steps, stageAudited)
}
