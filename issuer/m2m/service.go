package m2m

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/meridianid/issuer/issuer/core"
	"github.com/meridianid/issuer/issuer/crypto"
)

// Categorized verification failures, per the machine-readable error codes a
// resource server needs to distinguish expired tokens from malformed ones.
const (
	ErrExpiredToken    = "expired_token"
	ErrInvalidIssuer   = "invalid_issuer"
	ErrInvalidAudience = "invalid_audience"
	ErrNotM2MToken     = "not_m2m_token"
	ErrMissingClaims   = "missing_claims"
	ErrInvalidToken    = "invalid_token"
)

// Service implements core.M2MService: client_credentials issuance and
// verification for service-to-service callers.
type Service struct {
	clients    core.ClientStore
	keys       core.KeyManager
	hasher     *crypto.PasswordHasher
	clock      core.Clock
	issuer     string
	defaultTTL time.Duration
}

// NewService creates an M2M token service.
func NewService(clients core.ClientStore, keys core.KeyManager, clock core.Clock, issuer string, defaultTTL time.Duration) *Service {
	return &Service{clients: clients, keys: keys, hasher: crypto.NewPasswordHasher(), clock: clock, issuer: issuer, defaultTTL: defaultTTL}
}

// IssueToken verifies the client's credentials and grant, then issues an
// M2M-mode access token scoped to the requested scope. cfg may be nil to
// take every default. An explicit cfg.TTL of zero yields an
// immediately-expired token (exp == iat) rather than falling back to the
// default TTL, matching generateM2MToken's nullish-coalescing rule for an
// explicit zero; cfg.IncludeTenantID defaults to true when tenantID is
// non-empty and false gates the tenant_id claim out entirely.
func (s *Service) IssueToken(ctx context.Context, tenantID, clientID, clientSecret, scope string, cfg *core.M2MTokenConfig) (*core.TokenResponse, error) {
	client, err := s.clients.GetByClientID(ctx, tenantID, clientID)
	if err != nil {
		return nil, &core.Error{Code: "invalid_client", Message: "unknown client", Err: err}
	}
	if !containsGrant(client.GrantTypes, "client_credentials") {
		return nil, &core.Error{Code: "unauthorized_client", Message: "client is not authorized for client_credentials"}
	}
	ok, err := s.hasher.Verify(clientSecret, client.ClientSecretHash)
	if err != nil || !ok {
		return nil, &core.Error{Code: "invalid_client", Message: "client secret mismatch", Err: err}
	}

	ttl := s.defaultTTL
	includeTenantID := tenantID != ""
	if cfg != nil {
		if cfg.TTL != nil {
			ttl = *cfg.TTL
		}
		if cfg.IncludeTenantID != nil {
			includeTenantID = *cfg.IncludeTenantID
		}
	}

	now := s.clock.Now()
	claims := map[string]interface{}{
		"iss":       s.issuer,
		"sub":       client.ClientID,
		"aud":       client.ClientID,
		"client_id": client.ClientID,
		"scope":     scope,
		"mode":      "m2m",
		"iat":       now.Unix(),
		"exp":       now.Add(ttl).Unix(),
	}
	if includeTenantID {
		claims["tenant_id"] = tenantID
	}

	token, err := s.keys.Sign(ctx, claims)
	if err != nil {
		return nil, fmt.Errorf("sign m2m token: %w", err)
	}

	return &core.TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
		Scope:       scope,
	}, nil
}

// VerifyToken validates an M2M access token and enforces the claim set
// required of an m2m-mode token: mode == "m2m", client_id, sub, exp present,
// issuer equal to this issuer's, exp not in the past.
func (s *Service) VerifyToken(ctx context.Context, token string) (*core.TokenClaims, error) {
	mapClaims, err := crypto.VerifyJWT(token, func(kid string) (*core.SigningKey, error) {
		return s.keys.KeyByKID(ctx, kid)
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, &core.Error{Code: ErrExpiredToken, Message: "token expired", Err: err}
	}
	if err != nil {
		return nil, &core.Error{Code: ErrInvalidToken, Message: "signature verification failed", Err: err}
	}

	mode, _ := mapClaims["mode"].(string)
	if mode != "m2m" {
		return nil, &core.Error{Code: ErrNotM2MToken, Message: "token is not an m2m token"}
	}

	clientID, _ := mapClaims["client_id"].(string)
	sub, _ := mapClaims["sub"].(string)
	expRaw, hasExp := mapClaims["exp"]
	if clientID == "" || sub == "" || !hasExp {
		return nil, &core.Error{Code: ErrMissingClaims, Message: "missing required m2m claims"}
	}

	issuer, _ := mapClaims["iss"].(string)
	if issuer != s.issuer {
		return nil, &core.Error{Code: ErrInvalidIssuer, Message: "unexpected issuer"}
	}

	exp, ok := toInt64(expRaw)
	if !ok {
		return nil, &core.Error{Code: ErrMissingClaims, Message: "exp claim is not numeric"}
	}
	iat, _ := toInt64(mapClaims["iat"])
	if s.clock.Now().Unix() >= exp {
		return nil, &core.Error{Code: ErrExpiredToken, Message: "token expired"}
	}

	scope, _ := mapClaims["scope"].(string)
	tenantID, _ := mapClaims["tenant_id"].(string)

	return &core.TokenClaims{
		Issuer:      issuer,
		Subject:     sub,
		Audience:    clientID,
		TenantID:    tenantID,
		Permissions: splitScope(scope),
		Mode:        "m2m",
		IssuedAt:    iat,
		ExpiresAt:   exp,
	}, nil
}

// HasScope reports whether scopes contains target.
func HasScope(scopes []string, target string) bool {
	for _, s := range scopes {
		if s == target {
			return true
		}
	}
	return false
}

// HasAllScopes reports whether scopes contains every entry in required.
func HasAllScopes(scopes, required []string) bool {
	for _, r := range required {
		if !HasScope(scopes, r) {
			return false
		}
	}
	return true
}

// HasAnyScope reports whether scopes contains at least one entry in candidates.
func HasAnyScope(scopes, candidates []string) bool {
	for _, c := range candidates {
		if HasScope(scopes, c) {
			return true
		}
	}
	return false
}

func containsGrant(grants []string, target string) bool {
	for _, g := range grants {
		if g == target {
			return true
		}
	}
	return false
}

func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(scope); i++ {
		if i == len(scope) || scope[i] == ' ' {
			if i > start {
				out = append(out, scope[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	default:
		return 0, false
	}
}
