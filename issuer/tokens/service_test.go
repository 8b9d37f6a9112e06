package tokens

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianid/issuer/issuer/core"
	"github.com/meridianid/issuer/issuer/crypto"
	"github.com/meridianid/issuer/issuer/kv"
	"github.com/meridianid/issuer/issuer/revocation"
)

type memSigningKeyStore struct {
	keys map[string]*core.SigningKey
}

func newMemSigningKeyStore() *memSigningKeyStore {
	return &memSigningKeyStore{keys: make(map[string]*core.SigningKey)}
}

func (m *memSigningKeyStore) Create(ctx context.Context, key *core.SigningKey) error {
	m.keys[key.ID] = key
	return nil
}

func (m *memSigningKeyStore) GetActive(ctx context.Context) (*core.SigningKey, error) {
	for _, k := range m.keys {
		if k.Status == "active" {
			return k, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *memSigningKeyStore) GetByKID(ctx context.Context, kid string) (*core.SigningKey, error) {
	for _, k := range m.keys {
		if k.KID == kid {
			return k, nil
		}
	}
	return nil, core.ErrNotFound
}

func (m *memSigningKeyStore) ListActive(ctx context.Context) ([]*core.SigningKey, error) {
	var out []*core.SigningKey
	for _, k := range m.keys {
		if k.Status == "active" || k.Status == "inactive" {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *memSigningKeyStore) MarkInactive(ctx context.Context, id string) error {
	if k, ok := m.keys[id]; ok {
		k.Status = "inactive"
	}
	return nil
}

func (m *memSigningKeyStore) MarkRetired(ctx context.Context, id string) error {
	if k, ok := m.keys[id]; ok {
		k.Status = "retired"
	}
	return nil
}

func setupTokenService(t *testing.T) *Service {
	t.Helper()
	keyStore := newMemSigningKeyStore()
	keyManager := crypto.NewKeyManager(keyStore, nil)
	_, err := keyManager.GenerateKey(context.Background())
	require.NoError(t, err)

	rev := revocation.NewService(kv.NewMemoryStore(core.RealClock{}), core.RealClock{}, time.Hour)
	return NewService(keyManager, rev, core.RealClock{}, "https://issuer.example.com", 15*time.Minute, 14*24*time.Hour)
}

func TestService_IssueAccessToken(t *testing.T) {
	service := setupTokenService(t)
	ctx := context.Background()

	token, claims, err := service.IssueAccessToken(ctx, "tenant-123", "user-456", "client-789", "client-789", []string{"admin"}, []string{"read"})
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "user-456", claims.Subject)
	assert.Equal(t, "tenant-123", claims.TenantID)
	assert.Equal(t, []string{"admin"}, claims.Roles)
}

func TestService_IssueAndValidateAccessToken(t *testing.T) {
	service := setupTokenService(t)
	ctx := context.Background()

	token, _, err := service.IssueAccessToken(ctx, "tenant-123", "user-456", "client-789", "client-789", nil, nil)
	require.NoError(t, err)

	claims, err := service.ValidateAccessToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "user-456", claims.Subject)
}

func TestService_ValidateAccessToken_Revoked(t *testing.T) {
	service := setupTokenService(t)
	ctx := context.Background()

	token, claims, err := service.IssueAccessToken(ctx, "tenant-123", "user-456", "client-789", "client-789", nil, nil)
	require.NoError(t, err)

	require.NoError(t, service.revocation.RevokeAccessToken(ctx, claims.JWTID, time.Hour))

	_, err = service.ValidateAccessToken(ctx, token)
	assert.Error(t, err)
}

func TestService_IssueRefreshToken(t *testing.T) {
	service := setupTokenService(t)
	ctx := context.Background()

	token, err := service.IssueRefreshToken(ctx, "tenant-123", "user-456", "client-789", "openid profile", "", 0)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestService_RotateRefreshToken(t *testing.T) {
	service := setupTokenService(t)
	ctx := context.Background()

	oldToken, err := service.IssueRefreshToken(ctx, "tenant-123", "user-456", "client-789", "openid", "", 0)
	require.NoError(t, err)

	access, newRefresh, claims, err := service.RotateRefreshToken(ctx, oldToken)
	require.NoError(t, err)
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, newRefresh)
	assert.NotEqual(t, oldToken, newRefresh)
	assert.Equal(t, "user-456", claims.Subject)
	assert.Equal(t, "tenant-123", claims.TenantID)

	// the old token can no longer be rotated
	_, _, _, err = service.RotateRefreshToken(ctx, oldToken)
	assert.Error(t, err)
}

func TestService_RotateRefreshToken_ReuseRevokesFamily(t *testing.T) {
	service := setupTokenService(t)
	ctx := context.Background()

	first, err := service.IssueRefreshToken(ctx, "tenant-123", "user-456", "client-789", "openid", "", 0)
	require.NoError(t, err)

	_, second, _, err := service.RotateRefreshToken(ctx, first)
	require.NoError(t, err)

	// replaying the consumed "first" token revokes the whole family,
	// including the freshly rotated "second" token
	_, _, _, err = service.RotateRefreshToken(ctx, first)
	assert.Error(t, err)

	_, _, _, err = service.RotateRefreshToken(ctx, second)
	assert.Error(t, err)
}

func TestDecodeRefreshToken(t *testing.T) {
	subject, tokenID, err := decodeRefreshToken(encodeRefreshToken("user-1", "tok-1"))
	require.NoError(t, err)
	assert.Equal(t, "user-1", subject)
	assert.Equal(t, "tok-1", tokenID)

	_, _, err = decodeRefreshToken("malformed")
	assert.Error(t, err)
}
