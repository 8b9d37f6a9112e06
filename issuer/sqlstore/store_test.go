package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/meridianid/issuer/issuer/core"
)

type StoreTestSuite struct {
	suite.Suite
	db    *gorm.DB
	store *GormStore
	ctx   context.Context
}

func (s *StoreTestSuite) SetupTest() {
	var err error
	s.db, err = gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(s.T(), err)

	s.store = NewWithDB(s.db)
	err = s.store.AutoMigrate()
	require.NoError(s.T(), err)

	s.ctx = context.Background()
}

func (s *StoreTestSuite) TearDownTest() {
	sqlDB, err := s.db.DB()
	if err == nil {
		sqlDB.Close()
	}
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}

func (s *StoreTestSuite) createTenant() *core.Tenant {
	tenant := &core.Tenant{
		ID:        "tenant-123",
		Slug:      "acme-corp",
		Name:      "Acme Corporation",
		Status:    "active",
		Branding:  core.Branding{Theme: "dark"},
		CreatedAt: time.Now(),
	}
	s.Require().NoError(s.store.Tenants().Create(s.ctx, tenant))
	return tenant
}

func (s *StoreTestSuite) TestTenantStore() {
	tenant := s.createTenant()

	retrieved, err := s.store.Tenants().GetByID(s.ctx, tenant.ID)
	s.Require().NoError(err)
	s.Equal(tenant.ID, retrieved.ID)
	s.Equal(tenant.Slug, retrieved.Slug)
	s.Equal("dark", retrieved.Branding.Theme)

	retrieved, err = s.store.Tenants().GetBySlug(s.ctx, tenant.Slug)
	s.Require().NoError(err)
	s.Equal(tenant.ID, retrieved.ID)

	tenant.Name = "Acme Corp Updated"
	s.Require().NoError(s.store.Tenants().Update(s.ctx, tenant))

	retrieved, err = s.store.Tenants().GetByID(s.ctx, tenant.ID)
	s.Require().NoError(err)
	s.Equal("Acme Corp Updated", retrieved.Name)

	tenants, cursor, err := s.store.Tenants().List(s.ctx, 10, "")
	s.Require().NoError(err)
	s.Len(tenants, 1)
	s.Empty(cursor)
}

func (s *StoreTestSuite) TestUserStore() {
	tenant := s.createTenant()

	user := &core.User{
		ID:            "user-456",
		TenantID:      tenant.ID,
		Email:         "john@example.com",
		EmailVerified: true,
		Status:        "active",
		DisplayName:   "John Doe",
		CreatedAt:     time.Now(),
	}
	s.Require().NoError(s.store.Users().Create(s.ctx, user))

	retrieved, err := s.store.Users().GetByID(s.ctx, tenant.ID, user.ID)
	s.Require().NoError(err)
	s.Equal(user.Email, retrieved.Email)

	retrieved, err = s.store.Users().GetByEmail(s.ctx, tenant.ID, user.Email)
	s.Require().NoError(err)
	s.Equal(user.ID, retrieved.ID)

	user.DisplayName = "Johnny Doe"
	now := time.Now()
	user.UpdatedAt = &now
	s.Require().NoError(s.store.Users().Update(s.ctx, user))

	retrieved, err = s.store.Users().GetByID(s.ctx, tenant.ID, user.ID)
	s.Require().NoError(err)
	s.Equal("Johnny Doe", retrieved.DisplayName)

	s.Require().NoError(s.store.Users().SetPasswordHash(s.ctx, user.ID, "hashedpassword123"))
	hash, err := s.store.Users().GetPasswordHash(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Equal("hashedpassword123", hash)

	s.Require().NoError(s.store.Users().SetPasswordHash(s.ctx, user.ID, "newhashedpassword456"))
	hash, err = s.store.Users().GetPasswordHash(s.ctx, user.ID)
	s.Require().NoError(err)
	s.Equal("newhashedpassword456", hash)
}

func (s *StoreTestSuite) TestClientStore() {
	tenant := s.createTenant()

	client := &core.Client{
		ID:               "client-789",
		TenantID:         tenant.ID,
		Name:             "Test Application",
		ClientID:         "test-app-123",
		ClientSecretHash: "secrethash",
		RedirectURIs:     []string{"http://localhost:3000/callback"},
		GrantTypes:       []string{"authorization_code", "refresh_token"},
		Scopes:           []string{"openid", "profile", "email"},
		CreatedAt:        time.Now(),
	}
	s.Require().NoError(s.store.Clients().Create(s.ctx, client))

	retrieved, err := s.store.Clients().GetByID(s.ctx, tenant.ID, client.ID)
	s.Require().NoError(err)
	s.Equal(client.Name, retrieved.Name)

	retrieved, err = s.store.Clients().GetByClientID(s.ctx, tenant.ID, client.ClientID)
	s.Require().NoError(err)
	s.Equal(client.ID, retrieved.ID)

	client.Name = "Updated Application"
	client.RedirectURIs = []string{"http://localhost:3000/callback", "http://localhost:3001/callback"}
	s.Require().NoError(s.store.Clients().Update(s.ctx, client))

	retrieved, err = s.store.Clients().GetByID(s.ctx, tenant.ID, client.ID)
	s.Require().NoError(err)
	s.Equal("Updated Application", retrieved.Name)
	s.Len(retrieved.RedirectURIs, 2)

	clients, cursor, err := s.store.Clients().List(s.ctx, tenant.ID, 10, "")
	s.Require().NoError(err)
	s.Len(clients, 1)
	s.Empty(cursor)

	s.Require().NoError(s.store.Clients().Delete(s.ctx, tenant.ID, client.ID))
	_, err = s.store.Clients().GetByID(s.ctx, tenant.ID, client.ID)
	s.Require().Error(err)
}

func (s *StoreTestSuite) TestDomainStore() {
	tenant := s.createTenant()

	domain := &core.TenantDomain{
		ID:        "domain-001",
		TenantID:  tenant.ID,
		Domain:    "auth.acme.com",
		CreatedAt: time.Now(),
	}
	s.Require().NoError(s.store.Domains().Create(s.ctx, domain))

	retrieved, err := s.store.Domains().GetByDomain(s.ctx, domain.Domain)
	s.Require().NoError(err)
	s.Equal(domain.ID, retrieved.ID)

	s.Require().NoError(s.store.Domains().MarkVerified(s.ctx, tenant.ID, domain.ID))

	domains, err := s.store.Domains().List(s.ctx, tenant.ID)
	s.Require().NoError(err)
	s.Len(domains, 1)
	s.NotNil(domains[0].VerifiedAt)

	s.Require().NoError(s.store.Domains().Delete(s.ctx, tenant.ID, domain.ID))
	domains, err = s.store.Domains().List(s.ctx, tenant.ID)
	s.Require().NoError(err)
	s.Len(domains, 0)
}

func (s *StoreTestSuite) TestRoleAndPermissionStore() {
	tenant := s.createTenant()
	client := &core.Client{ID: "client-789", TenantID: tenant.ID, Name: "App", ClientID: "app", CreatedAt: time.Now()}
	s.Require().NoError(s.store.Clients().Create(s.ctx, client))

	role := &core.Role{ID: "role-001", TenantID: tenant.ID, Name: "editor", CreatedAt: time.Now()}
	s.Require().NoError(s.store.Roles().Create(s.ctx, role))

	perm := &core.Permission{ID: "perm-001", ClientID: client.ID, Name: "docs.write", Resource: "docs", Action: "write", CreatedAt: time.Now()}
	s.Require().NoError(s.store.Permissions().Create(s.ctx, perm))

	s.Require().NoError(s.store.Roles().GrantPermission(s.ctx, role.ID, perm.ID))

	perms, err := s.store.Roles().Permissions(s.ctx, role.ID)
	s.Require().NoError(err)
	s.Len(perms, 1)
	s.Equal(perm.Name, perms[0].Name)

	s.Require().NoError(s.store.Roles().RevokePermission(s.ctx, role.ID, perm.ID))
	perms, err = s.store.Roles().Permissions(s.ctx, role.ID)
	s.Require().NoError(err)
	s.Len(perms, 0)

	retrieved, err := s.store.Roles().GetByName(s.ctx, tenant.ID, role.Name)
	s.Require().NoError(err)
	s.Equal(role.ID, retrieved.ID)
}

func (s *StoreTestSuite) TestUserRoleStore() {
	tenant := s.createTenant()
	user := &core.User{ID: "user-456", TenantID: tenant.ID, Email: "a@b.com", Status: "active", CreatedAt: time.Now()}
	s.Require().NoError(s.store.Users().Create(s.ctx, user))
	role := &core.Role{ID: "role-001", TenantID: tenant.ID, Name: "editor", CreatedAt: time.Now()}
	s.Require().NoError(s.store.Roles().Create(s.ctx, role))

	ur := &core.UserRole{TenantID: tenant.ID, UserID: user.ID, RoleID: role.ID, AssignedAt: time.Now(), AssignedBy: "admin"}
	s.Require().NoError(s.store.UserRoles().Assign(s.ctx, ur))

	roles, err := s.store.UserRoles().RolesForUser(s.ctx, tenant.ID, user.ID)
	s.Require().NoError(err)
	s.Len(roles, 1)

	s.Require().NoError(s.store.UserRoles().Revoke(s.ctx, tenant.ID, user.ID, role.ID))
	roles, err = s.store.UserRoles().RolesForUser(s.ctx, tenant.ID, user.ID)
	s.Require().NoError(err)
	s.Len(roles, 0)
}

func (s *StoreTestSuite) TestSigningKeyStore() {
	key := &core.SigningKey{
		ID:         "key-001",
		KID:        "kid-1",
		Alg:        "ES256",
		PrivateKey: []byte("encrypted"),
		PublicJWK:  []byte(`{"kty":"EC"}`),
		Status:     "active",
		CreatedAt:  time.Now(),
	}
	s.Require().NoError(s.store.SigningKeys().Create(s.ctx, key))

	active, err := s.store.SigningKeys().GetActive(s.ctx)
	s.Require().NoError(err)
	s.Equal(key.KID, active.KID)

	byKID, err := s.store.SigningKeys().GetByKID(s.ctx, key.KID)
	s.Require().NoError(err)
	s.Equal(key.ID, byKID.ID)

	s.Require().NoError(s.store.SigningKeys().MarkInactive(s.ctx, key.ID))
	_, err = s.store.SigningKeys().GetActive(s.ctx)
	s.Require().Error(err)

	keys, err := s.store.SigningKeys().ListActive(s.ctx)
	s.Require().NoError(err)
	s.Len(keys, 1)
}

func (s *StoreTestSuite) TestAuditRecordStore() {
	tenant := s.createTenant()

	record := &core.AuditRecord{
		ID:        "event-001",
		TenantID:  tenant.ID,
		Subject:   "admin-001",
		EventType: "user_created",
		IPAddress: "192.168.1.1",
		UserAgent: "Mozilla/5.0",
		Timestamp: time.Now(),
		Metadata:  map[string]interface{}{"user_id": "user-456"},
	}
	s.Require().NoError(s.store.AuditRecords().Create(s.ctx, record))

	events, cursor, err := s.store.AuditRecords().List(s.ctx, tenant.ID, core.AuditFilters{}, 10, "")
	s.Require().NoError(err)
	s.Len(events, 1)
	s.Empty(cursor)
	s.Equal(record.ID, events[0].ID)

	eventType := "user_created"
	events, _, err = s.store.AuditRecords().List(s.ctx, tenant.ID, core.AuditFilters{EventType: &eventType}, 10, "")
	s.Require().NoError(err)
	s.Len(events, 1)

	wrongType := "user_deleted"
	events, _, err = s.store.AuditRecords().List(s.ctx, tenant.ID, core.AuditFilters{EventType: &wrongType}, 10, "")
	s.Require().NoError(err)
	s.Len(events, 0)
}

func (s *StoreTestSuite) TestAdminKeyStore() {
	key := &core.AdminKey{ID: "key-001", KeyHash: "hash-abc", Name: "ci-bot", CreatedAt: time.Now(), CreatedBy: "root"}
	s.Require().NoError(s.store.AdminKeys().Create(s.ctx, key))

	retrieved, err := s.store.AdminKeys().GetByHash(s.ctx, key.KeyHash)
	s.Require().NoError(err)
	s.Equal(key.ID, retrieved.ID)

	keys, err := s.store.AdminKeys().List(s.ctx)
	s.Require().NoError(err)
	s.Len(keys, 1)

	s.Require().NoError(s.store.AdminKeys().Delete(s.ctx, key.ID))
	keys, err = s.store.AdminKeys().List(s.ctx)
	s.Require().NoError(err)
	s.Len(keys, 0)
}

func (s *StoreTestSuite) TestProviderConfigStore() {
	tenant := s.createTenant()

	p := &core.ProviderConfig{
		ID:        "provider-001",
		TenantID:  tenant.ID,
		Name:      "corp-google",
		Type:      "oidc",
		Config:    map[string]interface{}{"issuer": "https://accounts.google.com"},
		Enabled:   true,
		CreatedAt: time.Now(),
	}
	s.Require().NoError(s.store.Providers().Create(s.ctx, p))

	retrieved, err := s.store.Providers().GetByID(s.ctx, tenant.ID, p.ID)
	s.Require().NoError(err)
	s.Equal(p.Name, retrieved.Name)

	p.Enabled = false
	s.Require().NoError(s.store.Providers().Update(s.ctx, p))
	retrieved, err = s.store.Providers().GetByID(s.ctx, tenant.ID, p.ID)
	s.Require().NoError(err)
	s.False(retrieved.Enabled)

	providers, err := s.store.Providers().List(s.ctx, tenant.ID)
	s.Require().NoError(err)
	s.Len(providers, 1)

	s.Require().NoError(s.store.Providers().Delete(s.ctx, tenant.ID, p.ID))
	providers, err = s.store.Providers().List(s.ctx, tenant.ID)
	s.Require().NoError(err)
	s.Len(providers, 0)
}

func (s *StoreTestSuite) TestSessionRecordStore() {
	tenant := s.createTenant()
	now := time.Now()

	browser := &core.BrowserSessionRecord{
		ID:           "sess-abc",
		TenantID:     tenant.ID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(30 * 24 * time.Hour),
		UserAgent:    "Mozilla/5.0",
		IPAddress:    "192.168.1.1",
		ActiveUserID: "user-456",
	}
	s.Require().NoError(s.store.Sessions().UpsertBrowserSession(s.ctx, browser))

	account := &core.AccountSessionRecord{
		ID:               "acct-1",
		BrowserSessionID: browser.ID,
		TenantID:         tenant.ID,
		UserID:           "user-456",
		AuthenticatedAt:  now,
		ExpiresAt:        now.Add(30 * 24 * time.Hour),
		IsActive:         true,
	}
	s.Require().NoError(s.store.Sessions().UpsertAccountSession(s.ctx, account))

	userSessions, err := s.store.Sessions().AccountSessionsForUser(s.ctx, tenant.ID, "user-456", 10, 0)
	s.Require().NoError(err)
	s.Len(userSessions, 1)

	tenantSessions, err := s.store.Sessions().BrowserSessionsForTenant(s.ctx, tenant.ID, nil, 10, 0)
	s.Require().NoError(err)
	s.Len(tenantSessions, 1)

	stats, err := s.store.Sessions().Stats(s.ctx, tenant.ID)
	s.Require().NoError(err)
	s.Equal(1, stats.TotalBrowserSessions)
	s.Equal(1, stats.TotalAccountSessions)
	s.Equal(1, stats.UniqueUsers)

	n, err := s.store.Sessions().DeleteAccountSessionsByBrowser(s.ctx, tenant.ID, browser.ID)
	s.Require().NoError(err)
	s.Equal(1, n)

	s.Require().NoError(s.store.Sessions().DeleteBrowserSession(s.ctx, tenant.ID, browser.ID))
	tenantSessions, err = s.store.Sessions().BrowserSessionsForTenant(s.ctx, tenant.ID, nil, 10, 0)
	s.Require().NoError(err)
	s.Len(tenantSessions, 0)
}

func TestGormStore_CleanupExpiredSessions(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	gormStore := NewWithDB(db)
	require.NoError(t, gormStore.AutoMigrate())

	ctx := context.Background()
	now := time.Now()

	tenant := &core.Tenant{ID: "tenant-123", Slug: "test", Name: "Test", Status: "active", CreatedAt: now}
	require.NoError(t, gormStore.Tenants().Create(ctx, tenant))

	expired := &core.BrowserSessionRecord{
		ID:           "sess-expired",
		TenantID:     tenant.ID,
		CreatedAt:    now.Add(-40 * 24 * time.Hour),
		LastActivity: now.Add(-35 * 24 * time.Hour),
		ExpiresAt:    now.Add(-30 * 24 * time.Hour),
	}
	require.NoError(t, gormStore.Sessions().UpsertBrowserSession(ctx, expired))

	n, err := gormStore.Sessions().DeleteBrowserSessionsOlderThan(ctx, tenant.ID, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
