package store

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/meridianid/issuer/issuer/core"
)

// tableAllowList is the closed set of table names Admin Surfaces' generic
// audit/session filters are allowed to reference, so a caller-supplied
// column or table name can never reach a raw query unchecked.
var tableAllowList = map[string]bool{
	"tenants":          true,
	"tenant_domains":   true,
	"users":            true,
	"clients":          true,
	"roles":            true,
	"permissions":      true,
	"role_permissions": true,
	"user_roles":       true,
	"signing_keys":     true,
	"audit_events":     true,
	"admin_keys":       true,
	"provider_configs": true,
	"browser_sessions": true,
	"account_sessions": true,
	"rbac_tuples":      true,
}

// IsAllowedTable reports whether name is a known table, for callers that
// build a dynamic query from admin-supplied input.
func IsAllowedTable(name string) bool {
	return tableAllowList[name]
}

// setUUIDBeforeCreate assigns a UUID to an empty "id" primary key field
// before insert, so callers don't have to generate one themselves.
func setUUIDBeforeCreate(db *gorm.DB) {
	if db.Statement.Schema == nil {
		return
	}
	for _, field := range db.Statement.Schema.Fields {
		if field.Name == "ID" && field.DBName == "id" && field.PrimaryKey {
			val, zero := field.ValueOf(db.Statement.Context, db.Statement.ReflectValue)
			if zero || val == nil {
				_ = field.Set(db.Statement.Context, db.Statement.ReflectValue, uuid.New().String())
				return
			}
			if s, ok := val.(string); ok && s == "" {
				_ = field.Set(db.Statement.Context, db.Statement.ReflectValue, uuid.New().String())
			}
			return
		}
	}
}

// GormStore implements core.Store using GORM over Postgres.
type GormStore struct {
	db *gorm.DB
}

// New opens a GormStore against databaseURL.
func New(databaseURL string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	return NewWithDB(db), nil
}

// NewWithDB wraps an existing GORM connection.
func NewWithDB(db *gorm.DB) *GormStore {
	db.Callback().Create().Before("gorm:before_create").Register("store:set_uuid", setUUIDBeforeCreate)
	return &GormStore{db: db}
}

// DB returns the underlying GORM connection, for callers that need to open
// a transaction spanning multiple typed stores.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// AutoMigrate creates or updates every table this store owns.
func (s *GormStore) AutoMigrate() error {
	return s.db.AutoMigrate(
		&Tenant{},
		&TenantDomain{},
		&User{},
		&UserPassword{},
		&Client{},
		&Role{},
		&Permission{},
		&RolePermission{},
		&UserRole{},
		&SigningKey{},
		&AuditEvent{},
		&AdminKey{},
		&ProviderConfig{},
		&BrowserSession{},
		&AccountSession{},
		&RbacTuple{},
	)
}

func (s *GormStore) Tenants() core.TenantStore           { return &tenantStore{db: s.db} }
func (s *GormStore) Domains() core.DomainStore           { return &domainStore{db: s.db} }
func (s *GormStore) Clients() core.ClientStore           { return &clientStore{db: s.db} }
func (s *GormStore) Users() core.UserStore               { return &userStore{db: s.db} }
func (s *GormStore) Roles() core.RoleStore               { return &roleStore{db: s.db} }
func (s *GormStore) Permissions() core.PermissionStore   { return &permissionStore{db: s.db} }
func (s *GormStore) UserRoles() core.UserRoleStore       { return &userRoleStore{db: s.db} }
func (s *GormStore) SigningKeys() core.SigningKeyStore   { return &signingKeyStore{db: s.db} }
func (s *GormStore) AuditRecords() core.AuditRecordStore { return &auditRecordStore{db: s.db} }
func (s *GormStore) AdminKeys() core.AdminKeyStore       { return &adminKeyStore{db: s.db} }
func (s *GormStore) Providers() core.ProviderConfigStore { return &providerConfigStore{db: s.db} }
func (s *GormStore) Sessions() core.SessionRecordStore   { return &sessionRecordStore{db: s.db} }
