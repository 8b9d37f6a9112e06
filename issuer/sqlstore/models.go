package store

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// StringSlice is a custom type for handling JSONB string arrays.
type StringSlice []string

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	default:
		return nil
	}
}

func (s StringSlice) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

// JSONMap is a custom type for handling JSONB object columns.
type JSONMap map[string]interface{}

func (m *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return nil
	}
}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	return json.Marshal(m)
}

// Tenant is the GORM model for tenants.
type Tenant struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	Slug      string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	Status    string    `gorm:"not null"`
	Branding  JSONMap   `gorm:"type:jsonb;not null;default:'{}'"`
	Settings  JSONMap   `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TenantDomain is the GORM model for custom-domain mappings.
type TenantDomain struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	TenantID   string `gorm:"type:uuid;not null;index"`
	Domain     string `gorm:"uniqueIndex;not null"`
	VerifiedAt *time.Time
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// User is the GORM model for users.
type User struct {
	ID            string `gorm:"type:uuid;primaryKey"`
	TenantID      string `gorm:"type:uuid;not null;index;uniqueIndex:idx_tenant_email"`
	Email         string `gorm:"not null;uniqueIndex:idx_tenant_email"`
	EmailVerified bool   `gorm:"not null;default:false"`
	Status        string `gorm:"not null"`
	DisplayName   string
	AvatarURL     string
	CreatedAt     time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt     *time.Time
}

// UserPassword is the GORM model for Argon2id password hashes, kept in its
// own table so it's never accidentally returned by a User query.
type UserPassword struct {
	UserID       string    `gorm:"type:uuid;primaryKey"`
	PasswordHash string    `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// Client is the GORM model for OAuth clients.
type Client struct {
	ID               string      `gorm:"type:uuid;primaryKey"`
	TenantID         string      `gorm:"type:uuid;not null;index;uniqueIndex:idx_tenant_client_id"`
	Name             string      `gorm:"not null"`
	ClientID         string      `gorm:"not null;uniqueIndex:idx_tenant_client_id"`
	ClientSecretHash string      `gorm:"not null"`
	RedirectURIs     StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
	GrantTypes       StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
	Scopes           StringSlice `gorm:"type:jsonb;not null;default:'[]'"`
	CreatedAt        time.Time   `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// Role is the GORM model for RBAC roles.
type Role struct {
	ID           string `gorm:"type:uuid;primaryKey"`
	TenantID     string `gorm:"type:uuid;not null;index;uniqueIndex:idx_tenant_role_name"`
	Name         string `gorm:"not null;uniqueIndex:idx_tenant_role_name"`
	Description  string
	IsSystemRole bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// Permission is the GORM model for RBAC permissions.
type Permission struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	ClientID  string `gorm:"type:uuid;not null;index;uniqueIndex:idx_client_permission_name"`
	Name      string `gorm:"not null;uniqueIndex:idx_client_permission_name"`
	Resource  string `gorm:"not null"`
	Action    string `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// RolePermission is the GORM model for the role-permission join table.
type RolePermission struct {
	RoleID       string `gorm:"type:uuid;primaryKey"`
	PermissionID string `gorm:"type:uuid;primaryKey"`
}

// UserRole is the GORM model for role assignments, expirable per spec.
type UserRole struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	TenantID   string `gorm:"type:uuid;not null;index;uniqueIndex:idx_tenant_user_role"`
	UserID     string `gorm:"type:uuid;not null;uniqueIndex:idx_tenant_user_role"`
	RoleID     string `gorm:"type:uuid;not null;uniqueIndex:idx_tenant_user_role"`
	AssignedBy string
	ExpiresAt  *time.Time
	CreatedAt  time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// SigningKey is the GORM model for the JWT signing key ring. Keys are
// global to the issuer, not per-tenant.
type SigningKey struct {
	ID                  string    `gorm:"type:uuid;primaryKey"`
	KID                 string    `gorm:"uniqueIndex;not null"`
	Algorithm           string    `gorm:"not null"`
	PublicJWK           []byte    `gorm:"type:jsonb;not null"`
	PrivateKeyEncrypted []byte    `gorm:"type:bytea;not null"`
	Status              string    `gorm:"not null"`
	CreatedAt           time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// AuditEvent is the GORM model for audit records.
type AuditEvent struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TenantID  string `gorm:"type:uuid;not null;index"`
	TokenID   string `gorm:"index"`
	Subject   string `gorm:"not null;index"`
	EventType string `gorm:"not null;index"`
	ClientID  string
	IPAddress string
	UserAgent string
	Timestamp time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index"`
	Metadata  JSONMap   `gorm:"type:jsonb;not null;default:'{}'"`
}

// AdminKey is the GORM model for hashed admin API keys.
type AdminKey struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	KeyHash   string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	CreatedBy string
}

// ProviderConfig is the GORM model for per-tenant upstream identity
// provider registration.
type ProviderConfig struct {
	ID        string  `gorm:"type:uuid;primaryKey"`
	TenantID  string  `gorm:"type:uuid;not null;index"`
	Name      string  `gorm:"not null"`
	Type      string  `gorm:"not null"`
	Config    JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	Enabled   bool    `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// BrowserSession is the SQL mirror of a browser session, written best
// effort alongside the authoritative KV record and read exclusively by
// admin session enumeration.
type BrowserSession struct {
	ID           string    `gorm:"type:uuid;primaryKey"`
	TenantID     string    `gorm:"type:uuid;not null;index"`
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	LastActivity time.Time `gorm:"not null;index"`
	ExpiresAt    time.Time `gorm:"not null"`
	UserAgent    string
	IPAddress    string
	ActiveUserID string
}

// AccountSession is the SQL mirror of one logged-in account within a
// browser session.
type AccountSession struct {
	ID               string `gorm:"type:uuid;primaryKey"`
	BrowserSessionID string `gorm:"type:uuid;not null;index"`
	TenantID         string `gorm:"type:uuid;not null;index"`
	UserID           string `gorm:"type:uuid;not null;index"`
	ClientID         string
	AuthenticatedAt  time.Time `gorm:"not null"`
	ExpiresAt        time.Time `gorm:"not null"`
	IsActive         bool      `gorm:"not null;default:false"`
}

// RbacTuple is the GORM model for Casbin-style role grants (`g`) and
// permission grants (`p`). The table is migrated, but nothing in this module
// reads or writes it: the rbac enforcer keeps its policy in memory.
type RbacTuple struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	TenantID  string `gorm:"type:uuid;not null;index"`
	TupleType string `gorm:"not null"` // "g" or "p"
	V0        string `gorm:"not null"`
	V1        string `gorm:"not null"`
	V2        string `gorm:"not null"`
	V3        string
	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (RbacTuple) TableName() string {
	return "rbac_tuples"
}
