package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/meridianid/issuer/issuer/core"
)

// tenantStore implements core.TenantStore.
type tenantStore struct {
	db *gorm.DB
}

func (s *tenantStore) Create(ctx context.Context, tenant *core.Tenant) error {
	model := &Tenant{
		ID:        tenant.ID,
		Slug:      tenant.Slug,
		Name:      tenant.Name,
		Status:    tenant.Status,
		Branding:  brandingToMap(tenant.Branding),
		Settings:  JSONMap(tenant.Settings),
		CreatedAt: tenant.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *tenantStore) GetByID(ctx context.Context, id string) (*core.Tenant, error) {
	var model Tenant
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, toStoreErr(err)
	}
	return toCoreTenant(&model), nil
}

func (s *tenantStore) GetBySlug(ctx context.Context, slug string) (*core.Tenant, error) {
	var model Tenant
	if err := s.db.WithContext(ctx).First(&model, "slug = ?", slug).Error; err != nil {
		return nil, toStoreErr(err)
	}
	return toCoreTenant(&model), nil
}

func (s *tenantStore) Update(ctx context.Context, tenant *core.Tenant) error {
	return s.db.WithContext(ctx).Model(&Tenant{}).Where("id = ?", tenant.ID).Updates(map[string]interface{}{
		"name":     tenant.Name,
		"status":   tenant.Status,
		"branding": brandingToMap(tenant.Branding),
		"settings": JSONMap(tenant.Settings),
	}).Error
}

func (s *tenantStore) List(ctx context.Context, limit int, cursor string) ([]*core.Tenant, string, error) {
	var models []Tenant
	query := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit + 1)
	if cursor != "" {
		query = query.Where("created_at < ?", cursor)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = models[limit].CreatedAt.Format(time.RFC3339)
		models = models[:limit]
	}

	tenants := make([]*core.Tenant, len(models))
	for i, m := range models {
		tenants[i] = toCoreTenant(&m)
	}
	return tenants, nextCursor, nil
}

func brandingToMap(b core.Branding) JSONMap {
	return JSONMap{
		"theme":      b.Theme,
		"logo_light": b.LogoLight,
		"logo_dark":  b.LogoDark,
		"favicon":    b.Favicon,
		"custom_css": b.CustomCSS,
	}
}

func mapToBranding(m JSONMap) core.Branding {
	str := func(key string) string {
		if v, ok := m[key].(string); ok {
			return v
		}
		return ""
	}
	return core.Branding{
		Theme:     str("theme"),
		LogoLight: str("logo_light"),
		LogoDark:  str("logo_dark"),
		Favicon:   str("favicon"),
		CustomCSS: str("custom_css"),
	}
}

func toCoreTenant(m *Tenant) *core.Tenant {
	return &core.Tenant{
		ID:        m.ID,
		Slug:      m.Slug,
		Name:      m.Name,
		Status:    m.Status,
		Branding:  mapToBranding(m.Branding),
		Settings:  map[string]interface{}(m.Settings),
		CreatedAt: m.CreatedAt,
	}
}

// domainStore implements core.DomainStore.
type domainStore struct {
	db *gorm.DB
}

func (s *domainStore) Create(ctx context.Context, domain *core.TenantDomain) error {
	model := &TenantDomain{
		ID:         domain.ID,
		TenantID:   domain.TenantID,
		Domain:     domain.Domain,
		VerifiedAt: domain.VerifiedAt,
		CreatedAt:  domain.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *domainStore) GetByDomain(ctx context.Context, domain string) (*core.TenantDomain, error) {
	var model TenantDomain
	if err := s.db.WithContext(ctx).First(&model, "domain = ?", domain).Error; err != nil {
		return nil, toStoreErr(err)
	}
	return toCoreDomain(&model), nil
}

func (s *domainStore) MarkVerified(ctx context.Context, tenantID, id string) error {
	now := time.Now()
	return s.db.WithContext(ctx).Model(&TenantDomain{}).Where("tenant_id = ? AND id = ?", tenantID, id).Update("verified_at", &now).Error
}

func (s *domainStore) List(ctx context.Context, tenantID string) ([]*core.TenantDomain, error) {
	var models []TenantDomain
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Find(&models).Error; err != nil {
		return nil, err
	}
	domains := make([]*core.TenantDomain, len(models))
	for i, m := range models {
		domains[i] = toCoreDomain(&m)
	}
	return domains, nil
}

func (s *domainStore) Delete(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&TenantDomain{}).Error
}

func toCoreDomain(m *TenantDomain) *core.TenantDomain {
	return &core.TenantDomain{
		ID:         m.ID,
		TenantID:   m.TenantID,
		Domain:     m.Domain,
		VerifiedAt: m.VerifiedAt,
		CreatedAt:  m.CreatedAt,
	}
}

// userStore implements core.UserStore.
type userStore struct {
	db *gorm.DB
}

func (s *userStore) Create(ctx context.Context, user *core.User) error {
	model := &User{
		ID:            user.ID,
		TenantID:      user.TenantID,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Status:        user.Status,
		DisplayName:   user.DisplayName,
		AvatarURL:     user.AvatarURL,
		CreatedAt:     user.CreatedAt,
		UpdatedAt:     user.UpdatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *userStore) GetByID(ctx context.Context, tenantID, id string) (*core.User, error) {
	var model User
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, toStoreErr(err)
	}
	return toCoreUser(&model), nil
}

func (s *userStore) GetByEmail(ctx context.Context, tenantID, email string) (*core.User, error) {
	var model User
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND email = ?", tenantID, email).Error; err != nil {
		return nil, toStoreErr(err)
	}
	return toCoreUser(&model), nil
}

func (s *userStore) Update(ctx context.Context, user *core.User) error {
	return s.db.WithContext(ctx).Model(&User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"email":          user.Email,
		"email_verified": user.EmailVerified,
		"status":         user.Status,
		"display_name":   user.DisplayName,
		"avatar_url":     user.AvatarURL,
		"updated_at":     user.UpdatedAt,
	}).Error
}

func (s *userStore) List(ctx context.Context, tenantID string, limit int, cursor string) ([]*core.User, string, error) {
	var models []User
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Limit(limit + 1)
	if cursor != "" {
		query = query.Where("created_at < ?", cursor)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = models[limit].CreatedAt.Format(time.RFC3339)
		models = models[:limit]
	}

	users := make([]*core.User, len(models))
	for i, m := range models {
		users[i] = toCoreUser(&m)
	}
	return users, nextCursor, nil
}

func (s *userStore) SetPasswordHash(ctx context.Context, userID, hash string) error {
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO user_passwords (user_id, password_hash, updated_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		 password_hash = EXCLUDED.password_hash, updated_at = EXCLUDED.updated_at`,
		userID, hash, time.Now(),
	).Error
}

func (s *userStore) GetPasswordHash(ctx context.Context, userID string) (string, error) {
	var model UserPassword
	if err := s.db.WithContext(ctx).First(&model, "user_id = ?", userID).Error; err != nil {
		return "", toStoreErr(err)
	}
	return model.PasswordHash, nil
}

func toCoreUser(m *User) *core.User {
	return &core.User{
		ID:            m.ID,
		TenantID:      m.TenantID,
		Email:         m.Email,
		EmailVerified: m.EmailVerified,
		Status:        m.Status,
		DisplayName:   m.DisplayName,
		AvatarURL:     m.AvatarURL,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

// clientStore implements core.ClientStore.
type clientStore struct {
	db *gorm.DB
}

func (s *clientStore) Create(ctx context.Context, client *core.Client) error {
	model := &Client{
		ID:               client.ID,
		TenantID:         client.TenantID,
		Name:             client.Name,
		ClientID:         client.ClientID,
		ClientSecretHash: client.ClientSecretHash,
		RedirectURIs:     StringSlice(client.RedirectURIs),
		GrantTypes:       StringSlice(client.GrantTypes),
		Scopes:           StringSlice(client.Scopes),
		CreatedAt:        client.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *clientStore) GetByID(ctx context.Context, tenantID, id string) (*core.Client, error) {
	var model Client
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, toStoreErr(err)
	}
	return toCoreClient(&model), nil
}

func (s *clientStore) GetByClientID(ctx context.Context, tenantID, clientID string) (*core.Client, error) {
	var model Client
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND client_id = ?", tenantID, clientID).Error; err != nil {
		return nil, toStoreErr(err)
	}
	return toCoreClient(&model), nil
}

func (s *clientStore) Update(ctx context.Context, client *core.Client) error {
	return s.db.WithContext(ctx).Model(&Client{}).Where("id = ?", client.ID).Updates(map[string]interface{}{
		"name":          client.Name,
		"redirect_uris": StringSlice(client.RedirectURIs),
		"grant_types":   StringSlice(client.GrantTypes),
		"scopes":        StringSlice(client.Scopes),
	}).Error
}

func (s *clientStore) Delete(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&Client{}).Error
}

func (s *clientStore) List(ctx context.Context, tenantID string, limit int, cursor string) ([]*core.Client, string, error) {
	var models []Client
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC").Limit(limit + 1)
	if cursor != "" {
		query = query.Where("created_at < ?", cursor)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, "", err
	}

	var nextCursor string
	if len(models) > limit {
		nextCursor = models[limit].CreatedAt.Format(time.RFC3339)
		models = models[:limit]
	}

	clients := make([]*core.Client, len(models))
	for i, m := range models {
		clients[i] = toCoreClient(&m)
	}
	return clients, nextCursor, nil
}

func toCoreClient(m *Client) *core.Client {
	return &core.Client{
		ID:               m.ID,
		TenantID:         m.TenantID,
		Name:             m.Name,
		ClientID:         m.ClientID,
		ClientSecretHash: m.ClientSecretHash,
		RedirectURIs:     []string(m.RedirectURIs),
		GrantTypes:       []string(m.GrantTypes),
		Scopes:           []string(m.Scopes),
		CreatedAt:        m.CreatedAt,
	}
}

func toStoreErr(err error) error {
	if err == gorm.ErrRecordNotFound {
		return core.ErrNotFound
	}
	return err
}
