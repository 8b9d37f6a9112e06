package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridianid/issuer/issuer/core"
	"github.com/meridianid/issuer/issuer/crypto"
)

// Service implements core.TokenService: access tokens are signed JWTs
// (delegated to a core.KeyManager), refresh tokens are opaque values whose
// rotation family is tracked by a core.RevocationService.
type Service struct {
	keys       core.KeyManager
	revocation core.RevocationService
	clock      core.Clock
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewService creates a token service.
func NewService(keys core.KeyManager, revocation core.RevocationService, clock core.Clock, issuer string, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{keys: keys, revocation: revocation, clock: clock, issuer: issuer, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// IssueAccessToken signs a new access token for subject, scoped to audience
// (the client_id), carrying roles and permissions already resolved by RBAC.
func (s *Service) IssueAccessToken(ctx context.Context, tenantID, subject, clientID, audience string, roles, permissions []string) (string, *core.TokenClaims, error) {
	now := s.clock.Now()
	claims := &core.TokenClaims{
		Issuer:      s.issuer,
		Subject:     subject,
		Audience:    audience,
		TenantID:    tenantID,
		Roles:       roles,
		Permissions: permissions,
		Mode:        "access",
		IssuedAt:    now.Unix(),
		ExpiresAt:   now.Add(s.accessTTL).Unix(),
		JWTID:       uuid.New().String(),
	}

	m, err := claimsToMap(claims)
	if err != nil {
		return "", nil, err
	}

	raw, err := s.keys.Sign(ctx, m)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}
	return raw, claims, nil
}

// IssueRefreshToken mints a new opaque refresh token and records it as the
// head of a rotation family (generation 0 unless parentTokenID is set).
func (s *Service) IssueRefreshToken(ctx context.Context, tenantID, subject, clientID, scope string, parentTokenID string, generation int) (string, error) {
	tokenID := uuid.New().String()
	now := s.clock.Now()

	rec := &core.RefreshTokenRecord{
		SubjectID:     subject,
		TenantID:      tenantID,
		TokenID:       tokenID,
		ClientID:      clientID,
		Subject:       subject,
		Scope:         scope,
		Generation:    generation,
		ParentTokenID: parentTokenID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.refreshTTL),
	}
	if err := s.revocation.RecordRefresh(ctx, rec); err != nil {
		return "", fmt.Errorf("record refresh token: %w", err)
	}
	return encodeRefreshToken(subject, tokenID), nil
}

// ValidateAccessToken verifies a JWT's signature via the key manager and
// rejects it if its jti is on the revocation deny-list or it has expired.
func (s *Service) ValidateAccessToken(ctx context.Context, token string) (*core.TokenClaims, error) {
	mapClaims, err := crypto.VerifyJWT(token, func(kid string) (*core.SigningKey, error) {
		return s.keys.KeyByKID(ctx, kid)
	})
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}

	claims, err := mapToClaims(mapClaims)
	if err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}

	if claims.JWTID != "" {
		revoked, err := s.revocation.IsAccessTokenRevoked(ctx, claims.JWTID)
		if err != nil {
			return nil, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return nil, fmt.Errorf("access token revoked")
		}
	}

	if s.clock.Now().Unix() > claims.ExpiresAt {
		return nil, fmt.Errorf("access token expired")
	}
	return claims, nil
}

// RotateRefreshToken consumes rawToken, issues a new access token and the
// next refresh token in the same family. A raw token that no longer matches
// a live record (already consumed, or replayed after a prior rotation)
// causes ConsumeRefresh to revoke the whole family.
func (s *Service) RotateRefreshToken(ctx context.Context, rawToken string) (string, string, *core.TokenClaims, error) {
	subject, tokenID, err := decodeRefreshToken(rawToken)
	if err != nil {
		return "", "", nil, fmt.Errorf("malformed refresh token: %w", err)
	}

	rec, err := s.revocation.ConsumeRefresh(ctx, subject, tokenID)
	if err != nil {
		return "", "", nil, fmt.Errorf("consume refresh token: %w", err)
	}

	accessToken, claims, err := s.IssueAccessToken(ctx, rec.TenantID, rec.Subject, rec.ClientID, rec.ClientID, nil, nil)
	if err != nil {
		return "", "", nil, err
	}

	newRefresh, err := s.IssueRefreshToken(ctx, rec.TenantID, rec.Subject, rec.ClientID, rec.Scope, rec.TokenID, rec.Generation+1)
	if err != nil {
		return "", "", nil, err
	}

	return accessToken, newRefresh, claims, nil
}

func claimsToMap(claims *core.TokenClaims) (map[string]interface{}, error) {
	b, err := json.Marshal(claims)
	if err != nil {
		return nil, fmt.Errorf("encode claims: %w", err)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	return m, nil
}

func mapToClaims(m map[string]interface{}) (*core.TokenClaims, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var claims core.TokenClaims
	if err := json.Unmarshal(b, &claims); err != nil {
		return nil, err
	}
	return &claims, nil
}

func encodeRefreshToken(subject, tokenID string) string {
	return subject + "." + tokenID
}

func decodeRefreshToken(raw string) (subject, tokenID string, err error) {
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i] == '.' {
			return raw[:i], raw[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("missing subject separator")
}
