package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/aarondl/null/v8"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// postgresqlStore 实现 PostgreSQL 存储后端
type postgresqlStore struct {
	db *sql.DB
}

// NewPostgreSQLStore 创建新的 PostgreSQL 存储后端
//
//nolint:ireturn // returning interface is intentional for abstraction
func NewPostgreSQLStore(db *sql.DB) MetadataStore {
	return &postgresqlStore{db: db}
}

// SaveKeyRecord 保存密钥元数据
func (s *postgresqlStore) SaveKeyRecord(ctx context.Context, key *KeyRecord) error {
	const query = `
		INSERT INTO hsm_keys (
			key_id, label, key_type, algorithm, key_size, usages, extractable,
			owner, slot_index, state, backup_status, created_at, last_used_at, access_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := s.db.ExecContext(ctx, query,
		key.KeyID,
		nullString(key.Label),
		key.KeyType,
		key.Algorithm,
		key.KeySize,
		pq.Array(key.Usages),
		key.Extractable,
		key.Owner,
		key.SlotIndex,
		key.State,
		key.BackupStatus,
		key.CreatedAt,
		key.LastUsedAt,
		key.AccessCount,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKeyRecord
		}
		return errors.Wrap(err, "failed to insert key record")
	}

	return nil
}

// GetKeyRecord 获取密钥元数据
func (s *postgresqlStore) GetKeyRecord(ctx context.Context, keyID string) (*KeyRecord, error) {
	const query = `
		SELECT key_id, label, key_type, algorithm, key_size, usages, extractable,
		       owner, slot_index, state, backup_status, created_at, last_used_at, access_count
		FROM hsm_keys WHERE key_id = $1`

	return scanKeyRecord(s.db.QueryRowContext(ctx, query, keyID))
}

// UpdateKeyRecord 更新密钥元数据
func (s *postgresqlStore) UpdateKeyRecord(ctx context.Context, keyID string, updates map[string]interface{}) error {
	key, err := s.GetKeyRecord(ctx, keyID)
	if err != nil {
		return err
	}

	for field, value := range updates {
		switch field {
		case "state":
			if v, ok := value.(string); ok {
				key.State = v
			}
		case "backup_status":
			if v, ok := value.(string); ok {
				key.BackupStatus = v
			}
		case "last_used_at":
			if v, ok := value.(time.Time); ok {
				key.LastUsedAt = v
			}
		case "access_count":
			if v, ok := value.(int64); ok {
				key.AccessCount = v
			}
		case "label":
			if v, ok := value.(string); ok {
				key.Label = v
			}
		}
	}

	const query = `
		UPDATE hsm_keys
		SET label = $2, state = $3, backup_status = $4, last_used_at = $5, access_count = $6
		WHERE key_id = $1`

	_, err = s.db.ExecContext(ctx, query,
		keyID,
		nullString(key.Label),
		key.State,
		key.BackupStatus,
		key.LastUsedAt,
		key.AccessCount,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update key record")
	}

	return nil
}

// DeleteKeyRecord 删除密钥元数据（及其权限授予）
func (s *postgresqlStore) DeleteKeyRecord(ctx context.Context, keyID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM hsm_keys WHERE key_id = $1`, keyID)
	if err != nil {
		return errors.Wrap(err, "failed to delete key record")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if rows == 0 {
		return ErrKeyRecordNotFound
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM hsm_grants WHERE key_id = $1`, keyID)
	if err != nil {
		return errors.Wrap(err, "failed to delete key grants")
	}

	return nil
}

// ListKeyRecords 列出密钥元数据
func (s *postgresqlStore) ListKeyRecords(ctx context.Context, filter *KeyFilter) ([]*KeyRecord, error) {
	query := `
		SELECT key_id, label, key_type, algorithm, key_size, usages, extractable,
		       owner, slot_index, state, backup_status, created_at, last_used_at, access_count
		FROM hsm_keys WHERE 1=1`
	args := make([]interface{}, 0, 5)

	if filter != nil {
		if filter.State != "" {
			args = append(args, filter.State)
			query += ` AND state = $` + itoa(len(args))
		}
		if filter.Algorithm != "" {
			args = append(args, filter.Algorithm)
			query += ` AND algorithm = $` + itoa(len(args))
		}
		if filter.Owner != "" {
			args = append(args, filter.Owner)
			query += ` AND owner = $` + itoa(len(args))
		}
	}

	query += ` ORDER BY created_at ASC`

	if filter != nil && filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + itoa(len(args))
	}
	if filter != nil && filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list key records")
	}
	defer rows.Close()

	result := make([]*KeyRecord, 0)
	for rows.Next() {
		key, err := scanKeyRecord(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, key)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate key records")
	}

	return result, nil
}

// SaveGrant 保存权限授予（UPSERT，后写覆盖）
func (s *postgresqlStore) SaveGrant(ctx context.Context, grant *GrantRecord) error {
	var conditions null.JSON
	if grant.Conditions != nil {
		data, err := json.Marshal(grant.Conditions)
		if err != nil {
			return errors.Wrap(err, "failed to marshal grant conditions")
		}
		conditions = null.JSONFrom(data)
	}

	const query = `
		INSERT INTO hsm_grants (key_id, principal_id, principal_kind, usages, conditions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key_id, principal_id) DO UPDATE
		SET principal_kind = EXCLUDED.principal_kind,
		    usages = EXCLUDED.usages,
		    conditions = EXCLUDED.conditions,
		    created_at = EXCLUDED.created_at`

	_, err := s.db.ExecContext(ctx, query,
		grant.KeyID,
		grant.PrincipalID,
		grant.PrincipalKind,
		pq.Array(grant.Usages),
		conditions,
		grant.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to save grant")
	}

	return nil
}

// DeleteGrant 删除权限授予
func (s *postgresqlStore) DeleteGrant(ctx context.Context, keyID string, principalID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM hsm_grants WHERE key_id = $1 AND principal_id = $2`, keyID, principalID)
	if err != nil {
		return errors.Wrap(err, "failed to delete grant")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if rows == 0 {
		return ErrGrantNotFound
	}

	return nil
}

// ListGrants 列出密钥的全部权限授予
func (s *postgresqlStore) ListGrants(ctx context.Context, keyID string) ([]*GrantRecord, error) {
	const query = `
		SELECT key_id, principal_id, principal_kind, usages, conditions, created_at
		FROM hsm_grants WHERE key_id = $1 ORDER BY principal_id ASC`

	rows, err := s.db.QueryContext(ctx, query, keyID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list grants")
	}
	defer rows.Close()

	result := make([]*GrantRecord, 0)
	for rows.Next() {
		grant := &GrantRecord{}
		var usages pq.StringArray
		var conditions null.JSON

		if err := rows.Scan(
			&grant.KeyID,
			&grant.PrincipalID,
			&grant.PrincipalKind,
			&usages,
			&conditions,
			&grant.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan grant")
		}

		grant.Usages = []string(usages)
		if conditions.Valid {
			grant.Conditions = &GrantConditions{}
			if err := json.Unmarshal(conditions.JSON, grant.Conditions); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal grant conditions")
			}
		}

		result = append(result, grant)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate grants")
	}

	return result, nil
}

// SaveWrappedKey 保存封装密钥材料
func (s *postgresqlStore) SaveWrappedKey(ctx context.Context, wrapped *WrappedKey) error {
	const query = `INSERT INTO hsm_wrapped_keys (key_id, blob, created_at) VALUES ($1, $2, $3)`

	_, err := s.db.ExecContext(ctx, query, wrapped.KeyID, wrapped.Blob, wrapped.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateWrappedKey
		}
		return errors.Wrap(err, "failed to insert wrapped key")
	}

	return nil
}

// GetWrappedKey 获取封装密钥材料
func (s *postgresqlStore) GetWrappedKey(ctx context.Context, keyID string) (*WrappedKey, error) {
	const query = `SELECT key_id, blob, created_at FROM hsm_wrapped_keys WHERE key_id = $1`

	wrapped := &WrappedKey{}
	err := s.db.QueryRowContext(ctx, query, keyID).Scan(&wrapped.KeyID, &wrapped.Blob, &wrapped.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrWrappedKeyNotFound
		}
		return nil, errors.Wrap(err, "failed to get wrapped key")
	}

	return wrapped, nil
}

// DeleteWrappedKey 删除封装密钥材料
func (s *postgresqlStore) DeleteWrappedKey(ctx context.Context, keyID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM hsm_wrapped_keys WHERE key_id = $1`, keyID)
	if err != nil {
		return errors.Wrap(err, "failed to delete wrapped key")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read rows affected")
	}
	if rows == 0 {
		return ErrWrappedKeyNotFound
	}

	return nil
}

// SaveAuditLog 保存审计事件
func (s *postgresqlStore) SaveAuditLog(ctx context.Context, event *AuditEvent) error {
	var details null.JSON
	if event.AdditionalData != nil {
		data, err := json.Marshal(event.AdditionalData)
		if err != nil {
			return errors.Wrap(err, "failed to marshal additional data")
		}
		details = null.JSONFrom(data)
	}

	const query = `
		INSERT INTO hsm_audit_logs (
			timestamp, event_type, principal_id, resource, action, outcome,
			risk_level, compliance_framework, ip_address, additional_data
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.db.ExecContext(ctx, query,
		event.Timestamp,
		event.EventType,
		nullString(event.PrincipalID),
		nullString(event.Resource),
		event.Action,
		event.Outcome,
		event.RiskLevel,
		nullString(event.ComplianceFramework),
		nullString(event.IPAddress),
		details,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert audit log")
	}

	return nil
}

// QueryAuditLogs 查询审计事件
func (s *postgresqlStore) QueryAuditLogs(ctx context.Context, filter *AuditLogFilter) ([]*AuditEvent, error) {
	query := `
		SELECT timestamp, event_type, principal_id, resource, action, outcome,
		       risk_level, compliance_framework, ip_address, additional_data
		FROM hsm_audit_logs WHERE 1=1`
	args := make([]interface{}, 0, 8)

	if filter != nil {
		if filter.PrincipalID != "" {
			args = append(args, filter.PrincipalID)
			query += ` AND principal_id = $` + itoa(len(args))
		}
		if filter.Resource != "" {
			args = append(args, filter.Resource)
			query += ` AND resource = $` + itoa(len(args))
		}
		if filter.EventType != "" {
			args = append(args, filter.EventType)
			query += ` AND event_type = $` + itoa(len(args))
		}
		if filter.Outcome != "" {
			args = append(args, filter.Outcome)
			query += ` AND outcome = $` + itoa(len(args))
		}
		if filter.StartTime != nil {
			args = append(args, *filter.StartTime)
			query += ` AND timestamp >= $` + itoa(len(args))
		}
		if filter.EndTime != nil {
			args = append(args, *filter.EndTime)
			query += ` AND timestamp <= $` + itoa(len(args))
		}
	}

	query += ` ORDER BY timestamp ASC`

	if filter != nil && filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + itoa(len(args))
	}
	if filter != nil && filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit logs")
	}
	defer rows.Close()

	result := make([]*AuditEvent, 0)
	for rows.Next() {
		event := &AuditEvent{}
		var principalID, resource, compliance, ipAddress null.String
		var details null.JSON

		if err := rows.Scan(
			&event.Timestamp,
			&event.EventType,
			&principalID,
			&resource,
			&event.Action,
			&event.Outcome,
			&event.RiskLevel,
			&compliance,
			&ipAddress,
			&details,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan audit log")
		}

		event.PrincipalID = principalID.String
		event.Resource = resource.String
		event.ComplianceFramework = compliance.String
		event.IPAddress = ipAddress.String
		if details.Valid {
			if err := json.Unmarshal(details.JSON, &event.AdditionalData); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal additional data")
			}
		}

		result = append(result, event)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate audit logs")
	}

	return result, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanKeyRecord(row rowScanner) (*KeyRecord, error) {
	key := &KeyRecord{}
	var label null.String
	var usages pq.StringArray

	err := row.Scan(
		&key.KeyID,
		&label,
		&key.KeyType,
		&key.Algorithm,
		&key.KeySize,
		&usages,
		&key.Extractable,
		&key.Owner,
		&key.SlotIndex,
		&key.State,
		&key.BackupStatus,
		&key.CreatedAt,
		&key.LastUsedAt,
		&key.AccessCount,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrKeyRecordNotFound
		}
		return nil, errors.Wrap(err, "failed to scan key record")
	}

	key.Label = label.String
	key.Usages = []string(usages)
	return key, nil
}

func nullString(s string) null.String {
	if s == "" {
		return null.String{}
	}
	return null.StringFrom(s)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
