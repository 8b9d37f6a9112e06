package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/meridianid/issuer/issuer/core"
)

// roleStore implements core.RoleStore.
type roleStore struct {
	db *gorm.DB
}

func (s *roleStore) Create(ctx context.Context, role *core.Role) error {
	model := &Role{
		ID:           role.ID,
		TenantID:     role.TenantID,
		Name:         role.Name,
		Description:  role.Description,
		IsSystemRole: role.IsSystemRole,
		CreatedAt:    role.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *roleStore) GetByID(ctx context.Context, tenantID, id string) (*core.Role, error) {
	var model Role
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND id = ?", tenantID, id).Error; err != nil {
		return nil, toStoreErr(err)
	}
	return toCoreRole(&model), nil
}

func (s *roleStore) GetByName(ctx context.Context, tenantID, name string) (*core.Role, error) {
	var model Role
	if err := s.db.WithContext(ctx).First(&model, "tenant_id = ? AND name = ?", tenantID, name).Error; err != nil {
		return nil, toStoreErr(err)
	}
	return toCoreRole(&model), nil
}

func (s *roleStore) List(ctx context.Context, tenantID string) ([]*core.Role, error) {
	var models []Role
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	roles := make([]*core.Role, len(models))
	for i, m := range models {
		roles[i] = toCoreRole(&m)
	}
	return roles, nil
}

func (s *roleStore) Delete(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&Role{}).Error
}

func (s *roleStore) Permissions(ctx context.Context, roleID string) ([]*core.Permission, error) {
	var models []Permission
	if err := s.db.WithContext(ctx).
		Joins("JOIN role_permissions ON role_permissions.permission_id = permissions.id").
		Where("role_permissions.role_id = ?", roleID).
		Find(&models).Error; err != nil {
		return nil, err
	}
	perms := make([]*core.Permission, len(models))
	for i, m := range models {
		perms[i] = toCorePermission(&m)
	}
	return perms, nil
}

func (s *roleStore) GrantPermission(ctx context.Context, roleID, permissionID string) error {
	return s.db.WithContext(ctx).Exec(
		`INSERT INTO role_permissions (role_id, permission_id) VALUES (?, ?) ON CONFLICT DO NOTHING`,
		roleID, permissionID,
	).Error
}

func (s *roleStore) RevokePermission(ctx context.Context, roleID, permissionID string) error {
	return s.db.WithContext(ctx).Where("role_id = ? AND permission_id = ?", roleID, permissionID).Delete(&RolePermission{}).Error
}

func toCoreRole(m *Role) *core.Role {
	return &core.Role{
		ID:           m.ID,
		TenantID:     m.TenantID,
		Name:         m.Name,
		Description:  m.Description,
		IsSystemRole: m.IsSystemRole,
		CreatedAt:    m.CreatedAt,
	}
}

// permissionStore implements core.PermissionStore.
type permissionStore struct {
	db *gorm.DB
}

func (s *permissionStore) Create(ctx context.Context, perm *core.Permission) error {
	model := &Permission{
		ID:        perm.ID,
		ClientID:  perm.ClientID,
		Name:      perm.Name,
		Resource:  perm.Resource,
		Action:    perm.Action,
		CreatedAt: perm.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *permissionStore) GetByID(ctx context.Context, id string) (*core.Permission, error) {
	var model Permission
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, toStoreErr(err)
	}
	return toCorePermission(&model), nil
}

func (s *permissionStore) ListByClient(ctx context.Context, clientID string) ([]*core.Permission, error) {
	var models []Permission
	if err := s.db.WithContext(ctx).Where("client_id = ?", clientID).Find(&models).Error; err != nil {
		return nil, err
	}
	perms := make([]*core.Permission, len(models))
	for i, m := range models {
		perms[i] = toCorePermission(&m)
	}
	return perms, nil
}

func toCorePermission(m *Permission) *core.Permission {
	return &core.Permission{
		ID:        m.ID,
		ClientID:  m.ClientID,
		Name:      m.Name,
		Resource:  m.Resource,
		Action:    m.Action,
		CreatedAt: m.CreatedAt,
	}
}

// userRoleStore implements core.UserRoleStore.
type userRoleStore struct {
	db *gorm.DB
}

func (s *userRoleStore) Assign(ctx context.Context, ur *core.UserRole) error {
	model := &UserRole{
		TenantID:   ur.TenantID,
		UserID:     ur.UserID,
		RoleID:     ur.RoleID,
		AssignedBy: ur.AssignedBy,
		ExpiresAt:  ur.ExpiresAt,
		CreatedAt:  ur.AssignedAt,
	}
	return s.db.WithContext(ctx).Create(model).Error
}

func (s *userRoleStore) Revoke(ctx context.Context, tenantID, userID, roleID string) error {
	return s.db.WithContext(ctx).
		Where("tenant_id = ? AND user_id = ? AND role_id = ?", tenantID, userID, roleID).
		Delete(&UserRole{}).Error
}

func (s *userRoleStore) RolesForUser(ctx context.Context, tenantID, userID string) ([]*core.Role, error) {
	now := time.Now()
	var models []Role
	if err := s.db.WithContext(ctx).
		Joins("JOIN user_roles ON user_roles.role_id = roles.id").
		Where("user_roles.tenant_id = ? AND user_roles.user_id = ? AND (user_roles.expires_at IS NULL OR user_roles.expires_at > ?)", tenantID, userID, now).
		Find(&models).Error; err != nil {
		return nil, err
	}
	roles := make([]*core.Role, len(models))
	for i, m := range models {
		roles[i] = toCoreRole(&m)
	}
	return roles, nil
}
