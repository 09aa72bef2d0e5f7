package types

import (
	"github.com/go-openapi/errors"
	"github.com/go-openapi/strfmt"
)

// PostAuthenticatePayload 认证请求
type PostAuthenticatePayload struct {
	// Required: true
	PrincipalID *string `json:"principal_id"`
	// Required: true
	Pin *string `json:"pin"`
	// MFA token，主体要求 MFA 时必填
	MfaToken string `json:"mfa_token,omitempty"`
	Client   string `json:"client,omitempty"`
}

// Validate validates this post authenticate payload
func (m *PostAuthenticatePayload) Validate(_ strfmt.Registry) error {
	var res []error
	if m.PrincipalID == nil {
		res = append(res, errors.Required("principal_id", "body", nil))
	}
	if m.Pin == nil {
		res = append(res, errors.Required("pin", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// PostAuthenticateResponse 认证成功响应
type PostAuthenticateResponse struct {
	// Required: true
	SessionID *string `json:"session_id"`
	// Required: true
	PrincipalID *string         `json:"principal_id"`
	MfaVerified bool            `json:"mfa_verified"`
	CreatedAt   strfmt.DateTime `json:"created_at,omitempty"`
}

// Validate validates this post authenticate response
func (m *PostAuthenticateResponse) Validate(_ strfmt.Registry) error {
	var res []error
	if m.SessionID == nil {
		res = append(res, errors.Required("session_id", "body", nil))
	}
	if m.PrincipalID == nil {
		res = append(res, errors.Required("principal_id", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// PostCreateKeyPayload 密钥创建请求
type PostCreateKeyPayload struct {
	Label string `json:"label,omitempty"`
	// Required: true
	Algorithm *string `json:"algorithm"`
	// Required: true
	KeySize *int64 `json:"key_size"`
	// Required: true
	Usages      []string `json:"usages"`
	Extractable bool     `json:"extractable,omitempty"`
}

// Validate validates this post create key payload
func (m *PostCreateKeyPayload) Validate(_ strfmt.Registry) error {
	var res []error
	if m.Algorithm == nil {
		res = append(res, errors.Required("algorithm", "body", nil))
	}
	if m.KeySize == nil {
		res = append(res, errors.Required("key_size", "body", nil))
	}
	if len(m.Usages) == 0 {
		res = append(res, errors.Required("usages", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// KeyResponse 密钥元数据响应
type KeyResponse struct {
	// Required: true
	KeyID *string `json:"key_id"`
	Label string  `json:"label,omitempty"`
	// Required: true
	KeyType *string `json:"key_type"`
	// Required: true
	Algorithm    *string         `json:"algorithm"`
	KeySize      int64           `json:"key_size,omitempty"`
	Usages       []string        `json:"usages"`
	Extractable  bool            `json:"extractable"`
	Owner        string          `json:"owner,omitempty"`
	SlotIndex    int64           `json:"slot_index"`
	State        string          `json:"state,omitempty"`
	BackupStatus string          `json:"backup_status,omitempty"`
	CreatedAt    strfmt.DateTime `json:"created_at,omitempty"`
	LastUsedAt   strfmt.DateTime `json:"last_used_at,omitempty"`
	AccessCount  int64           `json:"access_count"`
}

// Validate validates this key response
func (m *KeyResponse) Validate(_ strfmt.Registry) error {
	var res []error
	if m.KeyID == nil {
		res = append(res, errors.Required("key_id", "body", nil))
	}
	if m.KeyType == nil {
		res = append(res, errors.Required("key_type", "body", nil))
	}
	if m.Algorithm == nil {
		res = append(res, errors.Required("algorithm", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// GetListKeysResponse 密钥列表响应
type GetListKeysResponse struct {
	Keys  []*KeyResponse `json:"keys"`
	Total int64          `json:"total"`
}

// Validate validates this get list keys response
func (m *GetListKeysResponse) Validate(formats strfmt.Registry) error {
	for _, k := range m.Keys {
		if k == nil {
			continue
		}
		if err := k.Validate(formats); err != nil {
			return err
		}
	}
	return nil
}

// PostEncryptPayload 加密请求
type PostEncryptPayload struct {
	// Required: true
	KeyID *string `json:"key_id"`
	// base64 编码的明文
	// Required: true
	Plaintext *strfmt.Base64 `json:"plaintext"`
}

// Validate validates this post encrypt payload
func (m *PostEncryptPayload) Validate(_ strfmt.Registry) error {
	var res []error
	if m.KeyID == nil {
		res = append(res, errors.Required("key_id", "body", nil))
	}
	if m.Plaintext == nil {
		res = append(res, errors.Required("plaintext", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// PostEncryptResponse 加密响应
type PostEncryptResponse struct {
	// Required: true
	KeyID *string `json:"key_id"`
	// Required: true
	Nonce *strfmt.Base64 `json:"nonce"`
	// 密文尾部携带认证标签
	// Required: true
	Ciphertext *strfmt.Base64 `json:"ciphertext"`
}

// Validate validates this post encrypt response
func (m *PostEncryptResponse) Validate(_ strfmt.Registry) error {
	var res []error
	if m.KeyID == nil {
		res = append(res, errors.Required("key_id", "body", nil))
	}
	if m.Nonce == nil {
		res = append(res, errors.Required("nonce", "body", nil))
	}
	if m.Ciphertext == nil {
		res = append(res, errors.Required("ciphertext", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// PostDecryptPayload 解密请求
type PostDecryptPayload struct {
	// Required: true
	KeyID *string `json:"key_id"`
	// Required: true
	Nonce *strfmt.Base64 `json:"nonce"`
	// Required: true
	Ciphertext *strfmt.Base64 `json:"ciphertext"`
}

// Validate validates this post decrypt payload
func (m *PostDecryptPayload) Validate(_ strfmt.Registry) error {
	var res []error
	if m.KeyID == nil {
		res = append(res, errors.Required("key_id", "body", nil))
	}
	if m.Nonce == nil {
		res = append(res, errors.Required("nonce", "body", nil))
	}
	if m.Ciphertext == nil {
		res = append(res, errors.Required("ciphertext", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// PostDecryptResponse 解密响应
type PostDecryptResponse struct {
	// Required: true
	KeyID *string `json:"key_id"`
	// Required: true
	Plaintext *strfmt.Base64 `json:"plaintext"`
}

// Validate validates this post decrypt response
func (m *PostDecryptResponse) Validate(_ strfmt.Registry) error {
	var res []error
	if m.KeyID == nil {
		res = append(res, errors.Required("key_id", "body", nil))
	}
	if m.Plaintext == nil {
		res = append(res, errors.Required("plaintext", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// PostSignPayload 签名请求
type PostSignPayload struct {
	// Required: true
	KeyID *string `json:"key_id"`
	// Required: true
	Message *strfmt.Base64 `json:"message"`
}

// Validate validates this post sign payload
func (m *PostSignPayload) Validate(_ strfmt.Registry) error {
	var res []error
	if m.KeyID == nil {
		res = append(res, errors.Required("key_id", "body", nil))
	}
	if m.Message == nil {
		res = append(res, errors.Required("message", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// PostSignResponse 签名响应
type PostSignResponse struct {
	// Required: true
	KeyID *string `json:"key_id"`
	// Required: true
	Signature *strfmt.Base64 `json:"signature"`
}

// Validate validates this post sign response
func (m *PostSignResponse) Validate(_ strfmt.Registry) error {
	var res []error
	if m.KeyID == nil {
		res = append(res, errors.Required("key_id", "body", nil))
	}
	if m.Signature == nil {
		res = append(res, errors.Required("signature", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// PostVerifyPayload 验签请求
type PostVerifyPayload struct {
	// Required: true
	KeyID *string `json:"key_id"`
	// Required: true
	Message *strfmt.Base64 `json:"message"`
	// Required: true
	Signature *strfmt.Base64 `json:"signature"`
}

// Validate validates this post verify payload
func (m *PostVerifyPayload) Validate(_ strfmt.Registry) error {
	var res []error
	if m.KeyID == nil {
		res = append(res, errors.Required("key_id", "body", nil))
	}
	if m.Message == nil {
		res = append(res, errors.Required("message", "body", nil))
	}
	if m.Signature == nil {
		res = append(res, errors.Required("signature", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// PostVerifyResponse 验签响应
type PostVerifyResponse struct {
	// Required: true
	KeyID *string `json:"key_id"`
	// Required: true
	Valid *bool `json:"valid"`
}

// Validate validates this post verify response
func (m *PostVerifyResponse) Validate(_ strfmt.Registry) error {
	var res []error
	if m.KeyID == nil {
		res = append(res, errors.Required("key_id", "body", nil))
	}
	if m.Valid == nil {
		res = append(res, errors.Required("valid", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// PostExportKeyResponse 密钥导出响应
type PostExportKeyResponse struct {
	// Required: true
	KeyID *string `json:"key_id"`
	// 对称密钥为原始字节，非对称为 PKCS#8 DER
	// Required: true
	Material *strfmt.Base64 `json:"material"`
}

// Validate validates this post export key response
func (m *PostExportKeyResponse) Validate(_ strfmt.Registry) error {
	var res []error
	if m.KeyID == nil {
		res = append(res, errors.Required("key_id", "body", nil))
	}
	if m.Material == nil {
		res = append(res, errors.Required("material", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// PostImportKeyPayload 密钥导入请求
type PostImportKeyPayload struct {
	Label string `json:"label,omitempty"`
	// Required: true
	Algorithm *string `json:"algorithm"`
	// Required: true
	KeySize *int64 `json:"key_size"`
	// Required: true
	Usages      []string `json:"usages"`
	Extractable bool     `json:"extractable,omitempty"`
	// Required: true
	Material *strfmt.Base64 `json:"material"`
}

// Validate validates this post import key payload
func (m *PostImportKeyPayload) Validate(_ strfmt.Registry) error {
	var res []error
	if m.Algorithm == nil {
		res = append(res, errors.Required("algorithm", "body", nil))
	}
	if m.KeySize == nil {
		res = append(res, errors.Required("key_size", "body", nil))
	}
	if len(m.Usages) == 0 {
		res = append(res, errors.Required("usages", "body", nil))
	}
	if m.Material == nil {
		res = append(res, errors.Required("material", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// PostGrantPayload 权限授予请求
type PostGrantPayload struct {
	// Required: true
	PrincipalID   *string `json:"principal_id"`
	PrincipalKind string  `json:"principal_kind,omitempty"`
	// Required: true
	Usages []string `json:"usages"`
	// 可选的每日时间窗口，格式 HH:MM（UTC）
	WindowStart string   `json:"window_start,omitempty"`
	WindowEnd   string   `json:"window_end,omitempty"`
	AllowedIps  []string `json:"allowed_ips,omitempty"`
	MaxSessions int64    `json:"max_sessions,omitempty"`
}

// Validate validates this post grant payload
func (m *PostGrantPayload) Validate(_ strfmt.Registry) error {
	var res []error
	if m.PrincipalID == nil {
		res = append(res, errors.Required("principal_id", "body", nil))
	}
	if len(m.Usages) == 0 {
		res = append(res, errors.Required("usages", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// GetModuleStatusResponse 模块状态响应
type GetModuleStatusResponse struct {
	// Required: true
	Name *string `json:"name"`
	// Required: true
	SecurityLevel  *string         `json:"security_level"`
	SlotsUsed      int64           `json:"slots_used"`
	SlotsTotal     int64           `json:"slots_total"`
	ActiveSessions int64           `json:"active_sessions"`
	KeyCount       int64           `json:"key_count"`
	Healthy        bool            `json:"healthy"`
	SelfTestPassed bool            `json:"self_test_passed"`
	Tampered       bool            `json:"tampered"`
	LastSelfTest   strfmt.DateTime `json:"last_self_test,omitempty"`
	AuthMethods    []string        `json:"auth_methods,omitempty"`
}

// Validate validates this get module status response
func (m *GetModuleStatusResponse) Validate(_ strfmt.Registry) error {
	var res []error
	if m.Name == nil {
		res = append(res, errors.Required("name", "body", nil))
	}
	if m.SecurityLevel == nil {
		res = append(res, errors.Required("security_level", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// AuditEventResponse 单条审计事件
type AuditEventResponse struct {
	// Required: true
	Timestamp *strfmt.DateTime `json:"timestamp"`
	// Required: true
	EventType *string `json:"event_type"`
	// Required: true
	Action *string `json:"action"`
	// Required: true
	Outcome             *string                `json:"outcome"`
	PrincipalID         string                 `json:"principal_id,omitempty"`
	Resource            string                 `json:"resource,omitempty"`
	RiskLevel           string                 `json:"risk_level,omitempty"`
	ComplianceFramework string                 `json:"compliance_framework,omitempty"`
	IPAddress           string                 `json:"ip_address,omitempty"`
	AdditionalData      map[string]interface{} `json:"additional_data,omitempty"`
}

// Validate validates this audit event response
func (m *AuditEventResponse) Validate(_ strfmt.Registry) error {
	var res []error
	if m.Timestamp == nil {
		res = append(res, errors.Required("timestamp", "body", nil))
	}
	if m.EventType == nil {
		res = append(res, errors.Required("event_type", "body", nil))
	}
	if m.Action == nil {
		res = append(res, errors.Required("action", "body", nil))
	}
	if m.Outcome == nil {
		res = append(res, errors.Required("outcome", "body", nil))
	}
	if len(res) > 0 {
		return errors.CompositeValidationError(res...)
	}
	return nil
}

// GetAuditLogsResponse 审计日志查询响应
type GetAuditLogsResponse struct {
	Events []*AuditEventResponse `json:"events"`
	Total  int64                 `json:"total"`
}

// Validate validates this get audit logs response
func (m *GetAuditLogsResponse) Validate(formats strfmt.Registry) error {
	for _, e := range m.Events {
		if e == nil {
			continue
		}
		if err := e.Validate(formats); err != nil {
			return err
		}
	}
	return nil
}
