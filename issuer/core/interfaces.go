package core

import (
	"context"
	"time"
)

// Clock provides time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock is the production clock implementation.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// Config holds the issuer's runtime configuration, sourced from viper.
type Config struct {
	DatabaseURL   string
	RedisAddr     string
	AdminAPIKey   string
	BaseDomain    string
	Issuer        string
	MasterKeyHex  string

	SessionCookieName     string
	SessionCookieSecure   bool
	SessionCookieSameSite string
	MaxAccountsPerSession int

	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	BrowserSessionTTL time.Duration
	AuthCodeTTL      time.Duration
	RevocationTTL    time.Duration

	RBACCacheTTL         time.Duration
	MaxPermissionsInToken int

	AuditQueueSize          int
	AuditFailureRateWindow  time.Duration
	AuditFailureRateThresh  float64

	DefaultTenantSlug string
	DefaultBranding   Branding

	AutoMigrate bool
}

// Core wires every service together behind the core package's interfaces,
// the composition root used by cmd/issuerd and by tests.
type Core struct {
	Config Config
	Clock  Clock

	Store KV
	SQL   Store

	TenantResolver    TenantResolver
	BrowserSessions   BrowserSessionService
	RBAC              RBACService
	Revocation        RevocationService
	KeyManager        KeyManager
	Tokens            TokenService
	OAuth             OAuthService
	M2M               M2MService
	Audit             AuditSink
	Theme             ThemeResolver
	Users             UserService
}

// KV is the minimal key-value contract every issuer component depends on
// for hot-path reads and writes. RedisStore and MemoryStore both satisfy it.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// ErrNotFound is returned by KV.Get and store lookups when a key or row is absent.
var ErrNotFound = &Error{Code: "not_found", Message: "not found"}

// ErrRefreshTokenReused is returned by RevocationService.ConsumeRefresh when
// a refresh token that was already consumed is presented again, triggering
// family revocation.
var ErrRefreshTokenReused = &Error{Code: "refresh_token_reused", Message: "refresh token reuse detected, family revoked"}

// Error is the issuer's typed error, carrying a stable machine-readable code
// alongside the human message and optional wrapped cause.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Store is the SQL-backed mirror: authoritative for records that outlive the
// KV TTL horizon (tenants, clients, users, roles, audit history).
type Store interface {
	Tenants() TenantStore
	Domains() DomainStore
	Clients() ClientStore
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
	UserRoles() UserRoleStore
	SigningKeys() SigningKeyStore
	AuditRecords() AuditRecordStore
	AdminKeys() AdminKeyStore
	Providers() ProviderConfigStore
	Sessions() SessionRecordStore
	AutoMigrate() error
}

type TenantStore interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	Update(ctx context.Context, tenant *Tenant) error
	List(ctx context.Context, limit int, cursor string) ([]*Tenant, string, error)
}

type DomainStore interface {
	Create(ctx context.Context, domain *TenantDomain) error
	GetByDomain(ctx context.Context, domain string) (*TenantDomain, error)
	MarkVerified(ctx context.Context, tenantID, id string) error
	List(ctx context.Context, tenantID string) ([]*TenantDomain, error)
	Delete(ctx context.Context, tenantID, id string) error
}

type ClientStore interface {
	Create(ctx context.Context, client *Client) error
	GetByID(ctx context.Context, tenantID, id string) (*Client, error)
	GetByClientID(ctx context.Context, tenantID, clientID string) (*Client, error)
	Update(ctx context.Context, client *Client) error
	Delete(ctx context.Context, tenantID, id string) error
	List(ctx context.Context, tenantID string, limit int, cursor string) ([]*Client, string, error)
}

type UserStore interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, tenantID, id string) (*User, error)
	GetByEmail(ctx context.Context, tenantID, email string) (*User, error)
	Update(ctx context.Context, user *User) error
	List(ctx context.Context, tenantID string, limit int, cursor string) ([]*User, string, error)
	SetPasswordHash(ctx context.Context, userID, hash string) error
	GetPasswordHash(ctx context.Context, userID string) (string, error)
}

type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	GetByID(ctx context.Context, tenantID, id string) (*Role, error)
	GetByName(ctx context.Context, tenantID, name string) (*Role, error)
	List(ctx context.Context, tenantID string) ([]*Role, error)
	Delete(ctx context.Context, tenantID, id string) error
	Permissions(ctx context.Context, roleID string) ([]*Permission, error)
	GrantPermission(ctx context.Context, roleID, permissionID string) error
	RevokePermission(ctx context.Context, roleID, permissionID string) error
}

type PermissionStore interface {
	Create(ctx context.Context, perm *Permission) error
	GetByID(ctx context.Context, id string) (*Permission, error)
	ListByClient(ctx context.Context, clientID string) ([]*Permission, error)
}

type UserRoleStore interface {
	Assign(ctx context.Context, ur *UserRole) error
	Revoke(ctx context.Context, tenantID, userID, roleID string) error
	RolesForUser(ctx context.Context, tenantID, userID string) ([]*Role, error)
}

type SigningKeyStore interface {
	Create(ctx context.Context, key *SigningKey) error
	GetActive(ctx context.Context) (*SigningKey, error)
	GetByKID(ctx context.Context, kid string) (*SigningKey, error)
	ListActive(ctx context.Context) ([]*SigningKey, error)
	MarkInactive(ctx context.Context, id string) error
	MarkRetired(ctx context.Context, id string) error
}

type AuditRecordStore interface {
	Create(ctx context.Context, rec *AuditRecord) error
	List(ctx context.Context, tenantID string, filters AuditFilters, limit int, cursor string) ([]*AuditRecord, string, error)
}

type AdminKeyStore interface {
	Create(ctx context.Context, key *AdminKey) error
	GetByHash(ctx context.Context, hash string) (*AdminKey, error)
	List(ctx context.Context) ([]*AdminKey, error)
	Delete(ctx context.Context, id string) error
}

type ProviderConfigStore interface {
	Create(ctx context.Context, p *ProviderConfig) error
	GetByID(ctx context.Context, tenantID, id string) (*ProviderConfig, error)
	List(ctx context.Context, tenantID string) ([]*ProviderConfig, error)
	Update(ctx context.Context, p *ProviderConfig) error
	Delete(ctx context.Context, tenantID, id string) error
}

// SessionRecordStore is the SQL mirror of browser/account sessions, written
// best-effort by BrowserSessionService and read exclusively by
// AdminSessionService. It never backs the hot path.
type SessionRecordStore interface {
	UpsertBrowserSession(ctx context.Context, rec *BrowserSessionRecord) error
	DeleteBrowserSession(ctx context.Context, tenantID, id string) error
	UpsertAccountSession(ctx context.Context, rec *AccountSessionRecord) error
	DeleteAccountSessionsByBrowser(ctx context.Context, tenantID, browserSessionID string) (int, error)
	AccountSessionsForUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]*AccountSessionRecord, error)
	BrowserSessionsForTenant(ctx context.Context, tenantID string, activeSince *time.Time, limit, offset int) ([]*BrowserSessionRecord, error)
	BrowserSessionsForUser(ctx context.Context, tenantID, userID string) ([]*BrowserSessionRecord, error)
	ExpiredBrowserSessions(ctx context.Context, tenantID string, olderThan time.Time, limit int) ([]*BrowserSessionRecord, error)
	DeleteBrowserSessionsOlderThan(ctx context.Context, tenantID string, olderThan time.Time) (int, error)
	Stats(ctx context.Context, tenantID string) (*SessionStats, error)
}

// AdminSessionService exposes SQL-only session queries that have no KV
// equivalent: cross-session enumeration, bulk revocation, and stats. Every
// method enforces tenant isolation.
type AdminSessionService interface {
	ListUserSessions(ctx context.Context, tenantID, userID string, limit, offset int) ([]*AccountSessionRecord, error)
	ListTenantSessions(ctx context.Context, tenantID string, activeOnly bool, limit, offset int) ([]*BrowserSessionRecord, error)
	RevokeSession(ctx context.Context, tenantID, sessionID string) (accountsRevoked int, err error)
	RevokeAllUserSessions(ctx context.Context, tenantID, userID string) (sessionsRevoked int, err error)
	GetExpiredSessions(ctx context.Context, tenantID string, maxAge time.Duration, limit int) ([]*BrowserSessionRecord, error)
	CleanupExpiredSessions(ctx context.Context, tenantID string, maxAge time.Duration) (int, error)
	GetSessionStats(ctx context.Context, tenantID string) (*SessionStats, error)
}

// AuditFilters narrows an audit record listing.
type AuditFilters struct {
	EventType *string
	Subject   *string
	Since     *time.Time
	Until     *time.Time
}

// TenantResolver resolves the acting tenant from an inbound request, trying a
// verified custom domain, a subdomain of the base domain, a path prefix, a
// header and the default tenant, in that order.
type TenantResolver interface {
	ResolveTenant(ctx context.Context, host, path string, headerTenantID string) (*Tenant, error)
}

// BrowserSessionService owns the cookie-anchored multi-account session: adding
// and switching accounts, enforcing the per-browser account cap, and the
// dual-write to KV (authoritative) and SQL (durable mirror).
type BrowserSessionService interface {
	Start(ctx context.Context, tenantID, ip, userAgent string) (*BrowserSession, error)
	Get(ctx context.Context, tenantID, sessionID string) (*BrowserSession, error)
	AddAccount(ctx context.Context, tenantID, sessionID string, acct *AccountSession) error
	RemoveAccount(ctx context.Context, tenantID, sessionID, userID string) error
	RemoveAllAccounts(ctx context.Context, tenantID, sessionID string) error
	SwitchActive(ctx context.Context, tenantID, sessionID, userID string) error
	Accounts(ctx context.Context, tenantID, sessionID string) ([]*AccountSession, error)
	ActiveAccount(ctx context.Context, tenantID, sessionID string) (*AccountSession, error)
	Touch(ctx context.Context, tenantID, sessionID string) error
	Destroy(ctx context.Context, tenantID, sessionID string) error
}

// RBACService resolves a user's effective roles and permissions for a client,
// enriches token claims, and caches the result for the configured TTL.
type RBACService interface {
	RolesForUser(ctx context.Context, tenantID, userID string) ([]*Role, error)
	PermissionsForUser(ctx context.Context, tenantID, userID, clientID string) ([]string, error)
	Enforce(ctx context.Context, tenantID, userID, clientID, resource, action string) (bool, error)
	InvalidateCache(ctx context.Context, tenantID, userID string) error
}

// RevocationService maintains the access-token deny-list and the
// refresh-token rotation family, revoking the whole family on reuse.
type RevocationService interface {
	RevokeAccessToken(ctx context.Context, tokenID string, ttl time.Duration) error
	IsAccessTokenRevoked(ctx context.Context, tokenID string) (bool, error)
	RecordRefresh(ctx context.Context, rec *RefreshTokenRecord) error
	ConsumeRefresh(ctx context.Context, subject, tokenID string) (*RefreshTokenRecord, error)
	RevokeFamily(ctx context.Context, subject string) error
}

// KeyManager owns the JWT signing key ring: generation, active-key selection,
// kid-based lookup for verification, and JWKS publication.
type KeyManager interface {
	GenerateKey(ctx context.Context) (*SigningKey, error)
	ActiveKey(ctx context.Context) (*SigningKey, error)
	KeyByKID(ctx context.Context, kid string) (*SigningKey, error)
	JWKS(ctx context.Context) (map[string]interface{}, error)
	RotateKeys(ctx context.Context) error
	Sign(ctx context.Context, claims map[string]interface{}) (string, error)
}

// TokenService issues and validates access and refresh tokens.
type TokenService interface {
	IssueAccessToken(ctx context.Context, tenantID, subject, clientID, audience string, roles, permissions []string) (string, *TokenClaims, error)
	IssueRefreshToken(ctx context.Context, tenantID, subject, clientID, scope string, parentTokenID string, generation int) (string, error)
	ValidateAccessToken(ctx context.Context, token string) (*TokenClaims, error)
	RotateRefreshToken(ctx context.Context, rawToken string) (accessToken, newRefreshToken string, claims *TokenClaims, err error)
}

// OAuthService implements the /authorize and /token state machines plus
// the supporting OIDC endpoints.
type OAuthService interface {
	Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResponse, error)
	Token(ctx context.Context, req *TokenRequest) (*TokenResponse, error)
	UserInfo(ctx context.Context, accessToken string) (*UserInfo, error)
	Revoke(ctx context.Context, tenantID, token, tokenTypeHint string) error
	Introspect(ctx context.Context, tenantID, token string) (*IntrospectResponse, error)
}

// M2MService issues and verifies client_credentials tokens for service-to-service calls.
type M2MService interface {
	IssueToken(ctx context.Context, tenantID, clientID, clientSecret, scope string, cfg *M2MTokenConfig) (*TokenResponse, error)
	VerifyToken(ctx context.Context, token string) (*TokenClaims, error)
}

// M2MTokenConfig carries per-call overrides for client_credentials token
// issuance. Both fields are pointers so an explicit zero value (TTL: 0,
// IncludeTenantID: false) can be told apart from "not specified" — per
// spec, ttl:0 must be honored literally as an already-expired token rather
// than falling back to the default TTL.
type M2MTokenConfig struct {
	TTL             *time.Duration
	IncludeTenantID *bool
}

// AuditSink records audit events, either synchronously or via a queue,
// depending on the configured audit mode.
type AuditSink interface {
	Log(ctx context.Context, rec *AuditRecord) error
	Close(ctx context.Context) error
}

// ThemeResolver resolves per-tenant branding with a cache in front of the SQL store.
type ThemeResolver interface {
	Resolve(ctx context.Context, tenantID string) (*Branding, error)
	Invalidate(ctx context.Context, tenantID string)
}

// UserService handles user authentication and provisioning.
type UserService interface {
	Authenticate(ctx context.Context, tenantID, email, password string) (*User, error)
	Create(ctx context.Context, tenantID, email, displayName, password string) (*User, error)
	SetPassword(ctx context.Context, userID, password string) error
}

// Provider is an upstream identity provider bridge (password, OIDC, SAML, ...).
type Provider interface {
	Name() string
	Authenticate(ctx context.Context, tenantID string, credentials map[string]string) (*User, error)
}

// AuthorizeRequest is the decoded /authorize request.
type AuthorizeRequest struct {
	TenantID            string
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               string
	State               string
	Nonce               string
	CodeChallenge       string
	CodeChallengeMethod string
	Prompt              string
	LoginHint           string
	AccountHint         string
	MaxAge              *int
	BrowserSessionID    string
}

// AuthorizeResponse tells the HTTP layer what to do next: redirect with a
// code, redirect to a login/consent/account-picker screen, or return an error.
type AuthorizeResponse struct {
	Code            string
	RedirectURI     string
	State           string
	RequiresAction  string // "", "login", "consent", "select_account"
	ActionParams    map[string]string
	Error           string
	ErrorDesc       string
}

// TokenRequest is the decoded /token request, shared across all grant types.
type TokenRequest struct {
	TenantID     string
	GrantType    string
	Code         string
	RedirectURI  string
	ClientID     string
	ClientSecret string
	CodeVerifier string
	RefreshToken string
	Scope        string
}

// TokenResponse is the standard OAuth2 token response body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
}

// UserInfo is the OIDC userinfo response.
type UserInfo struct {
	Subject       string `json:"sub"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified,omitempty"`
	Name          string `json:"name,omitempty"`
	Picture       string `json:"picture,omitempty"`
}

// IntrospectResponse is the RFC 7662 token introspection response.
type IntrospectResponse struct {
	Active    bool     `json:"active"`
	Scope     string   `json:"scope,omitempty"`
	ClientID  string   `json:"client_id,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	TokenType string   `json:"token_type,omitempty"`
	ExpiresAt int64    `json:"exp,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}
