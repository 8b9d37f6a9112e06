package core

import "time"

// Tenant is an isolated customer realm with its own clients, users, roles and branding.
type Tenant struct {
	ID        string                 `json:"id"`
	Domain    string                 `json:"domain,omitempty"`
	Slug      string                 `json:"slug"`
	Name      string                 `json:"name"`
	Status    string                 `json:"status"` // active, suspended, deleted
	Branding  Branding               `json:"branding"`
	Settings  map[string]interface{} `json:"settings,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Branding holds per-tenant visual identity consumed by the theme resolver.
type Branding struct {
	Theme     string `json:"theme,omitempty"`
	LogoLight string `json:"logo_light,omitempty"`
	LogoDark  string `json:"logo_dark,omitempty"`
	Favicon   string `json:"favicon,omitempty"`
	CustomCSS string `json:"custom_css,omitempty"`
}

// TenantDomain maps a verified custom domain to a tenant.
type TenantDomain struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	Domain     string     `json:"domain"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Client is an OAuth2/OIDC client application belonging to a tenant.
type Client struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id"`
	Name             string    `json:"name"`
	ClientID         string    `json:"client_id"`
	ClientSecretHash string    `json:"-"`
	RedirectURIs     []string  `json:"redirect_uris"`
	GrantTypes       []string  `json:"grant_types"` // authorization_code, refresh_token, client_credentials, implicit
	Scopes           []string  `json:"scopes"`
	CreatedAt        time.Time `json:"created_at"`
}

// User is an end-user identity scoped to a tenant.
type User struct {
	ID            string     `json:"id"`
	TenantID      string     `json:"tenant_id"`
	Email         string     `json:"email"`
	EmailVerified bool       `json:"email_verified"`
	Status        string     `json:"status"` // active, disabled
	DisplayName   string     `json:"display_name,omitempty"`
	AvatarURL     string     `json:"avatar_url,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
}

// BrowserSession is the cookie-anchored container of up to N logged-in accounts
// for one browser. At most one account is active at a time.
type BrowserSession struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserAgent    string    `json:"user_agent"`
	IPAddress    string    `json:"ip_address"`
	ActiveUserID string    `json:"active_user_id,omitempty"`
	Version      int       `json:"version"`
}

// AccountSession is one logged-in user within a browser session.
type AccountSession struct {
	ID                string                 `json:"id"`
	BrowserSessionID  string                 `json:"browser_session_id"`
	UserID            string                 `json:"user_id"`
	SubjectType       string                 `json:"subject_type"`
	SubjectProperties map[string]interface{} `json:"subject_properties,omitempty"`
	ClientID          string                 `json:"client_id"`
	RefreshToken      string                 `json:"-"`
	AuthenticatedAt   time.Time              `json:"authenticated_at"`
	ExpiresAt         time.Time              `json:"expires_at"`
	IsActive          bool                   `json:"is_active"`
}

// BrowserSessionRecord is the SQL mirror of a BrowserSession, written
// best-effort alongside the authoritative KV write and consulted exclusively
// by admin enumeration, which the hot path never touches.
type BrowserSessionRecord struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserAgent    string    `json:"user_agent"`
	IPAddress    string    `json:"ip_address"`
	ActiveUserID string    `json:"active_user_id,omitempty"`
}

// AccountSessionRecord is the SQL mirror of an AccountSession.
type AccountSessionRecord struct {
	ID               string    `json:"id"`
	BrowserSessionID string    `json:"browser_session_id"`
	TenantID         string    `json:"tenant_id"`
	UserID           string    `json:"user_id"`
	ClientID         string    `json:"client_id,omitempty"`
	AuthenticatedAt  time.Time `json:"authenticated_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	IsActive         bool      `json:"is_active"`
}

// SessionStats summarizes session volume, optionally scoped to a tenant.
type SessionStats struct {
	TotalBrowserSessions  int `json:"total_browser_sessions"`
	TotalAccountSessions  int `json:"total_account_sessions"`
	ActiveSessionsLast24h int `json:"active_sessions_last_24h"`
	UniqueUsers           int `json:"unique_users"`
}

// Role is a named RBAC role scoped to a tenant.
type Role struct {
	ID           string    `json:"id"`
	TenantID     string    `json:"tenant_id"`
	Name         string    `json:"name"` // matches [A-Za-z0-9_-]+
	Description  string    `json:"description,omitempty"`
	IsSystemRole bool      `json:"is_system_role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Permission is an app-scoped action grantable through roles.
type Permission struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Name      string    `json:"name"`
	Resource  string    `json:"resource"`
	Action    string    `json:"action"`
	CreatedAt time.Time `json:"created_at"`
}

// RolePermission joins a Role to a Permission it grants.
type RolePermission struct {
	RoleID       string `json:"role_id"`
	PermissionID string `json:"permission_id"`
}

// UserRole assigns a Role to a user, optionally with an expiry.
type UserRole struct {
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	TenantID   string     `json:"tenant_id"`
	AssignedAt time.Time  `json:"assigned_at"`
	AssignedBy string     `json:"assigned_by"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// AuthorizationCode is the ephemeral record behind an authorization_code grant.
type AuthorizationCode struct {
	Code              string                 `json:"-"`
	TenantID          string                 `json:"tenant_id"`
	ClientID          string                 `json:"client_id"`
	SubjectID         string                 `json:"subject_id"`
	SubjectType       string                 `json:"subject_type"`
	SubjectProperties map[string]interface{} `json:"subject_properties,omitempty"`
	RedirectURI       string                 `json:"redirect_uri"`
	PKCEChallenge     string                 `json:"pkce_challenge,omitempty"`
	PKCEMethod        string                 `json:"pkce_method,omitempty"`
	Scope             string                 `json:"scope"`
	AccessTTL         time.Duration          `json:"-"`
	RefreshTTL        time.Duration          `json:"-"`
	CreatedAt         time.Time              `json:"created_at"`
	ExpiresAt         time.Time              `json:"expires_at"`
}

// RefreshTokenRecord is one link in a refresh-token rotation family.
type RefreshTokenRecord struct {
	SubjectID     string                 `json:"subject_id"`
	TenantID      string                 `json:"tenant_id"`
	TokenID       string                 `json:"token_id"`
	ClientID      string                 `json:"client_id"`
	Subject       string                 `json:"subject"`
	Properties    map[string]interface{} `json:"properties,omitempty"`
	Scope         string                 `json:"scope"`
	TTL           time.Duration          `json:"-"`
	Generation    int                    `json:"generation"`
	ParentTokenID string                 `json:"parent_token_id,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	ExpiresAt     time.Time              `json:"expires_at"`
}

// RevokedAccessToken is a deny-list entry for an access token that is still
// valid by exp but must nonetheless be rejected.
type RevokedAccessToken struct {
	TokenID   string    `json:"token_id"`
	RevokedAt time.Time `json:"revoked_at"`
}

// AuditRecord is one entry in the tenant's audit log.
type AuditRecord struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenant_id"`
	TokenID   string                 `json:"token_id,omitempty"`
	Subject   string                 `json:"subject"`
	EventType string                 `json:"event_type"` // generated, refreshed, revoked, reused
	ClientID  string                 `json:"client_id,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// AdminKey is a hashed admin API key used to authenticate Admin Surfaces callers.
type AdminKey struct {
	ID        string    `json:"id"`
	KeyHash   string    `json:"-"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
}

// ProviderConfig registers an upstream identity provider bridge for a tenant.
type ProviderConfig struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenant_id"`
	Name      string                 `json:"name"`
	Type      string                 `json:"type"`
	Config    map[string]interface{} `json:"config,omitempty"`
	Enabled   bool                   `json:"enabled"`
	CreatedAt time.Time              `json:"created_at"`
}

// SigningKey is one entry in the JWT signing key ring.
type SigningKey struct {
	ID         string    `json:"id"`
	KID        string    `json:"kid"`
	Alg        string    `json:"alg"`
	PrivateKey []byte    `json:"-"`
	PublicJWK  []byte    `json:"public_jwk"`
	Status     string    `json:"status"` // active, inactive, retired
	CreatedAt  time.Time `json:"created_at"`
}

// TokenClaims are the decoded claims of an issued access token.
type TokenClaims struct {
	Issuer      string   `json:"iss"`
	Subject     string   `json:"sub"`
	Audience    string   `json:"aud,omitempty"`
	TenantID    string   `json:"tenant_id"`
	Nonce       string   `json:"nonce,omitempty"`
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
	Mode        string   `json:"mode"` // "access"
	IssuedAt    int64    `json:"iat"`
	ExpiresAt   int64    `json:"exp"`
	JWTID       string   `json:"jti"`
}
