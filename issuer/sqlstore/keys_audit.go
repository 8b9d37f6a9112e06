package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/meridianid/issuer/issuer/core"
)

// signingKeyStore implements core.SigningKeyStore. The key ring is global
// to the issuer, never scoped to a tenant.
type signingKeyStore struct {
	db *gorm.DB
}

func (s *signingKeyStore) Create(ctx context.Context, key *core.SigningKey) error {
	model := &SigningKey{
		ID:                  key.ID,
		KID:                 key.KID,
		Algorithm:           key.Alg,
		PublicJWK:           key.PublicJWK,
		PrivateKeyEncrypted: key.PrivateKey,
		Status:              key.Status,
		CreatedAt:           key.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *signingKeyStore) GetActive(ctx context.Context) (*core.SigningKey, error) {
	var model SigningKey
	if err := s.db.WithContext(ctx).Where("status = ?", "active").Order("created_at DESC").First(&model).Error; err != nil {
		return nil, toStoreErr(err)
	}
	return toCoreSigningKey(&model), nil
}

func (s *signingKeyStore) GetByKID(ctx context.Context, kid string) (*core.SigningKey, error) {
	var model SigningKey
	if err := s.db.WithContext(ctx).First(&model, "kid = ?", kid).Error; err != nil {
		return nil, toStoreErr(err)
	}
	return toCoreSigningKey(&model), nil
}

func (s *signingKeyStore) ListActive(ctx context.Context) ([]*core.SigningKey, error) {
	var models []SigningKey
	if err := s.db.WithContext(ctx).Where("status IN ?", []string{"active", "inactive"}).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	keys := make([]*core.SigningKey, len(models))
	for i, m := range models {
		keys[i] = toCoreSigningKey(&m)
	}
	return keys, nil
}

func (s *signingKeyStore) MarkInactive(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&SigningKey{}).Where("id = ?", id).Update("status", "inactive").Error
}

func (s *signingKeyStore) MarkRetired(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&SigningKey{}).Where("id = ?", id).Update("status", "retired").Error
}

func toCoreSigningKey(m *SigningKey) *core.SigningKey {
	return &core.SigningKey{
		ID:         m.ID,
		KID:        m.KID,
		Alg:        m.Algorithm,
		PrivateKey: m.PrivateKeyEncrypted,
		PublicJWK:  m.PublicJWK,
		Status:     m.Status,
		CreatedAt:  m.CreatedAt,
	}
}

// auditRecordStore implements core.AuditRecordStore.
type auditRecordStore struct {
	db *gorm.DB
}

func (s *auditRecordStore) Create(ctx context.Context, rec *core.AuditRecord) error {
	model := &AuditEvent{
		ID:        rec.ID,
		TenantID:  rec.TenantID,
		TokenID:   rec.TokenID,
		Subject:   rec.Subject,
		EventType: rec.EventType,
		ClientID:  rec.ClientID,
		IPAddress: rec.IPAddress,
		UserAgent: rec.UserAgent,
		Timestamp: rec.Timestamp,
		Metadata:  JSONMap(rec.Metadata),
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *auditRecordStore) List(ctx context.Context, tenantID string, filters core.AuditFilters, limit int, cursor string) ([]*core.AuditRecord, string, error) {
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if filters.EventType != nil {
		query = query.Where("event_type = ?", *filters.EventType)
	}
	if filters.Subject != nil {
		query = query.Where("subject = ?", *filters.Subject)
	}
	if filters.Since != nil {
		query = query.Where("timestamp >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("timestamp <= ?", *filters.Until)
	}
	query = query.Order("timestamp DESC").Limit(limit + 1)
	if cursor != "" {
		query = query.Where("timestamp < ?", cursor)
	}

	var models []AuditEvent
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = models[limit].Timestamp.Format(time.RFC3339)
		models = models[:limit]
	}

	records := make([]*core.AuditRecord, len(models))
	for i, m := range models {
		records[i] = toCoreAuditRecord(&m)
	}
	return records, nextCursor, nil
}

func toCoreAuditRecord(m *AuditEvent) *core.AuditRecord {
	return &core.AuditRecord{
		ID:        m.ID,
		TenantID:  m.TenantID,
		TokenID:   m.TokenID,
		Subject:   m.Subject,
		EventType: m.EventType,
		ClientID:  m.ClientID,
		IPAddress: m.IPAddress,
		UserAgent: m.UserAgent,
		Timestamp: m.Timestamp,
		Metadata:  map[string]interface{}(m.Metadata),
	}
}

// adminKeyStore implements core.AdminKeyStore.
type adminKeyStore struct {
	db *gorm.DB
}

func (s *adminKeyStore) Create(ctx context.Context, key *core.AdminKey) error {
	model := &AdminKey{
		ID:        key.ID,
		KeyHash:   key.KeyHash,
		Name:      key.Name,
		CreatedAt: key.CreatedAt,
		CreatedBy: key.CreatedBy,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *adminKeyStore) GetByHash(ctx context.Context, hash string) (*core.AdminKey, error) {
	var model AdminKey
	if err := s.db.WithContext(ctx).First(&model, "key_hash = ?", hash).Error; err != nil {
		return nil, toStoreErr(err)
	}
	return toCoreAdminKey(&model), nil
}

func (s *adminKeyStore) List(ctx context.Context) ([]*core.AdminKey, error) {
	var models []AdminKey
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	keys := make([]*core.AdminKey, len(models))
	for i, m := range models {
		keys[i] = toCoreAdminKey(&m)
	}
	return keys, nil
}

func (s *adminKeyStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&AdminKey{}).Error
}

func toCoreAdminKey(m *AdminKey) *core.AdminKey {
	return &core.AdminKey{
		ID:        m.ID,
		KeyHash:   m.KeyHash,
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
		CreatedBy: m.CreatedBy,
	}
}

// providerConfigStore implements core.ProviderConfigStore.
type providerConfigStore struct {
	db *gorm.DB
}

func (s *providerConfigStore) Create(ctx context.Context, p *core.ProviderConfig) error {
	model := &ProviderConfig{
		ID:        p.ID,
		TenantID:  p.TenantID,
		Name:      p.Name,
		Type:      p.Type,
		Config:    JSONMap(p.Config),
		Enabled:   p.Enabled,
		CreatedAt: p.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *providerConfigStore) GetByID(ctx context.Context, tenantID, id string) (*core.ProviderConfig, error) {
	var model ProviderConfig
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, toStoreErr(err)
	}
	return toCoreProviderConfig(&model), nil
}

func (s *providerConfigStore) List(ctx context.Context, tenantID string) ([]*core.ProviderConfig, error) {
	var models []ProviderConfig
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&models).Error; err != nil {
		return nil, err
	}
	configs := make([]*core.ProviderConfig, len(models))
	for i, m := range models {
		configs[i] = toCoreProviderConfig(&m)
	}
	return configs, nil
}

func (s *providerConfigStore) Update(ctx context.Context, p *core.ProviderConfig) error {
	return s.db.WithContext(ctx).Model(&ProviderConfig{}).Where("tenant_id = ? AND id = ?", p.TenantID, p.ID).Updates(map[string]interface{}{
		"name":    p.Name,
		"type":    p.Type,
		"config":  JSONMap(p.Config),
		"enabled": p.Enabled,
	}).Error
}

func (s *providerConfigStore) Delete(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&ProviderConfig{}).Error
}

func toCoreProviderConfig(m *ProviderConfig) *core.ProviderConfig {
	return &core.ProviderConfig{
		ID:        m.ID,
		TenantID:  m.TenantID,
		Name:      m.Name,
		Type:      m.Type,
		Config:    map[string]interface{}(m.Config),
		Enabled:   m.Enabled,
		CreatedAt: m.CreatedAt,
	}
}
