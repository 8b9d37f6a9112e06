package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/meridianid/issuer/issuer/core"
	"github.com/meridianid/issuer/issuer/crypto"
)

// Service implements core.OAuthService: the /authorize state machine, the
// three supported /token grants, and the OIDC userinfo/revoke/introspect
// endpoints. Authorization codes live in the KV store only — they are
// single-use and short-lived, so there's nothing for the SQL mirror to do.
type Service struct {
	clients    core.ClientStore
	users      core.UserStore
	sessions   core.BrowserSessionService
	rbac       core.RBACService
	tokens     core.TokenService
	revocation core.RevocationService
	m2m        core.M2MService
	audit      core.AuditSink
	kv         core.KV
	clock      core.Clock
	codeTTL    time.Duration
}

// NewService creates an OAuth/OIDC service.
func NewService(clients core.ClientStore, users core.UserStore, sessions core.BrowserSessionService,
	rbac core.RBACService, tokens core.TokenService, revocation core.RevocationService, m2m core.M2MService,
	audit core.AuditSink, kv core.KV, clock core.Clock, codeTTL time.Duration) *Service {
	return &Service{
		clients: clients, users: users, sessions: sessions, rbac: rbac, tokens: tokens,
		revocation: revocation, m2m: m2m, audit: audit, kv: kv, clock: clock, codeTTL: codeTTL,
	}
}

func codeKey(tenantID, codeHash string) string {
	return "oauth:code:" + tenantID + ":" + codeHash
}

// Authorize runs the /authorize step 1-6 state machine from prompt handling
// through code issuance. A non-nil AuthorizeResponse.RequiresAction tells the
// HTTP layer to render a login, consent, or account-picker screen instead of
// redirecting with a code.
func (s *Service) Authorize(ctx context.Context, req *core.AuthorizeRequest) (*core.AuthorizeResponse, error) {
	client, err := s.clients.GetByClientID(ctx, req.TenantID, req.ClientID)
	if err != nil {
		return nil, fmt.Errorf("client not found: %w", err)
	}
	if !containsString(client.RedirectURIs, req.RedirectURI) {
		return nil, fmt.Errorf("invalid redirect uri")
	}
	if req.ResponseType != "code" {
		return &core.AuthorizeResponse{Error: "unsupported_response_type", ErrorDesc: "only code is supported", State: req.State, RedirectURI: req.RedirectURI}, nil
	}

	var account *core.AccountSession
	if req.BrowserSessionID != "" {
		account, err = s.resolveAccount(ctx, req)
		if err != nil {
			return nil, err
		}
	}

	if req.Prompt == "login" {
		return &core.AuthorizeResponse{RequiresAction: "login", State: req.State, RedirectURI: req.RedirectURI}, nil
	}
	if req.Prompt == "select_account" {
		accounts, accErr := s.sessionAccounts(ctx, req)
		if accErr == nil && len(accounts) > 1 {
			return &core.AuthorizeResponse{RequiresAction: "select_account", State: req.State, RedirectURI: req.RedirectURI}, nil
		}
		// 0 or 1 accounts in session: no picker to render, proceed to silent auth.
	}

	if account == nil {
		if req.Prompt == "none" {
			return &core.AuthorizeResponse{Error: "login_required", ErrorDesc: "no active account in session", State: req.State, RedirectURI: req.RedirectURI}, nil
		}
		return &core.AuthorizeResponse{RequiresAction: "login", State: req.State, RedirectURI: req.RedirectURI}, nil
	}

	if req.MaxAge != nil {
		age := s.clock.Now().Sub(account.AuthenticatedAt)
		if age > time.Duration(*req.MaxAge)*time.Second {
			if req.Prompt == "none" {
				return &core.AuthorizeResponse{Error: "login_required", ErrorDesc: "max_age exceeded", State: req.State, RedirectURI: req.RedirectURI}, nil
			}
			return &core.AuthorizeResponse{RequiresAction: "login", State: req.State, RedirectURI: req.RedirectURI}, nil
		}
	}

	codeValue := uuid.New().String()
	codeHash := crypto.HashToken(codeValue)

	code := &core.AuthorizationCode{
		Code:          codeValue,
		TenantID:      req.TenantID,
		ClientID:      req.ClientID,
		SubjectID:     account.UserID,
		SubjectType:   account.SubjectType,
		RedirectURI:   req.RedirectURI,
		PKCEChallenge: req.CodeChallenge,
		PKCEMethod:    req.CodeChallengeMethod,
		Scope:         req.Scope,
		CreatedAt:     s.clock.Now(),
		ExpiresAt:     s.clock.Now().Add(s.codeTTL),
	}
	raw, err := json.Marshal(code)
	if err != nil {
		return nil, fmt.Errorf("encode authorization code: %w", err)
	}
	if err := s.kv.Set(ctx, codeKey(req.TenantID, codeHash), raw, s.codeTTL); err != nil {
		return nil, fmt.Errorf("store authorization code: %w", err)
	}

	s.logAudit(ctx, req.TenantID, account.UserID, req.ClientID, "", "authorized")

	return &core.AuthorizeResponse{Code: codeValue, State: req.State, RedirectURI: req.RedirectURI}, nil
}

// resolveAccount computes the effective active account: an explicit
// account_hint switches active account within the session; a login_hint
// overrides with an in-session account whose email matches it
// (case-insensitive), per spec; otherwise the session's currently active
// account is used, if any.
func (s *Service) resolveAccount(ctx context.Context, req *core.AuthorizeRequest) (*core.AccountSession, error) {
	if req.AccountHint != "" {
		if err := s.sessions.SwitchActive(ctx, req.TenantID, req.BrowserSessionID, req.AccountHint); err != nil {
			return nil, nil
		}
	}

	if req.LoginHint != "" {
		if match, err := s.accountByLoginHint(ctx, req); err != nil {
			return nil, err
		} else if match != nil {
			return match, nil
		}
	}

	account, err := s.sessions.ActiveAccount(ctx, req.TenantID, req.BrowserSessionID)
	if err != nil {
		if err == core.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve active account: %w", err)
	}
	return account, nil
}

// accountByLoginHint scans the session's in-session accounts for one whose
// user email matches req.LoginHint, case-insensitively.
func (s *Service) accountByLoginHint(ctx context.Context, req *core.AuthorizeRequest) (*core.AccountSession, error) {
	accounts, err := s.sessionAccounts(ctx, req)
	if err != nil {
		return nil, err
	}
	hint := strings.ToLower(req.LoginHint)
	for _, acct := range accounts {
		user, err := s.users.GetByID(ctx, req.TenantID, acct.UserID)
		if err != nil {
			continue
		}
		if strings.ToLower(user.Email) == hint {
			return acct, nil
		}
	}
	return nil, nil
}

// sessionAccounts returns the accounts logged into the request's browser
// session, or nil if there is none.
func (s *Service) sessionAccounts(ctx context.Context, req *core.AuthorizeRequest) ([]*core.AccountSession, error) {
	if req.BrowserSessionID == "" {
		return nil, nil
	}
	return s.sessions.Accounts(ctx, req.TenantID, req.BrowserSessionID)
}

// Token dispatches to the grant-type-specific handler.
func (s *Service) Token(ctx context.Context, req *core.TokenRequest) (*core.TokenResponse, error) {
	switch req.GrantType {
	case "authorization_code":
		return s.handleAuthorizationCode(ctx, req)
	case "refresh_token":
		return s.handleRefreshToken(ctx, req)
	case "client_credentials":
		return s.m2m.IssueToken(ctx, req.TenantID, req.ClientID, req.ClientSecret, req.Scope, nil)
	default:
		return nil, fmt.Errorf("unsupported grant type: %s", req.GrantType)
	}
}

func (s *Service) handleAuthorizationCode(ctx context.Context, req *core.TokenRequest) (*core.TokenResponse, error) {
	codeHash := crypto.HashToken(req.Code)
	key := codeKey(req.TenantID, codeHash)

	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("invalid or expired code: %w", err)
	}
	// single-use: delete before doing anything else, even if later
	// validation fails, so a leaked code can't be retried.
	_ = s.kv.Delete(ctx, key)

	var code core.AuthorizationCode
	if err := json.Unmarshal(raw, &code); err != nil {
		return nil, fmt.Errorf("decode authorization code: %w", err)
	}

	if !crypto.VerifyPKCE(req.CodeVerifier, code.PKCEChallenge, code.PKCEMethod) {
		return nil, fmt.Errorf("invalid code verifier")
	}
	if code.RedirectURI != req.RedirectURI {
		return nil, fmt.Errorf("invalid redirect uri")
	}
	if code.ClientID != req.ClientID {
		return nil, fmt.Errorf("code was not issued to this client")
	}

	roles, perms, err := s.enrichedGrants(ctx, req.TenantID, code.SubjectID, req.ClientID)
	if err != nil {
		return nil, err
	}

	accessToken, _, err := s.tokens.IssueAccessToken(ctx, req.TenantID, code.SubjectID, req.ClientID, req.ClientID, roles, perms)
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	refreshToken, err := s.tokens.IssueRefreshToken(ctx, req.TenantID, code.SubjectID, req.ClientID, code.Scope, "", 0)
	if err != nil {
		return nil, fmt.Errorf("issue refresh token: %w", err)
	}

	s.logAudit(ctx, req.TenantID, code.SubjectID, req.ClientID, "", "generated")

	return &core.TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    0,
		RefreshToken: refreshToken,
		Scope:        code.Scope,
	}, nil
}

func (s *Service) handleRefreshToken(ctx context.Context, req *core.TokenRequest) (*core.TokenResponse, error) {
	accessToken, newRefresh, claims, err := s.tokens.RotateRefreshToken(ctx, req.RefreshToken)
	if err != nil {
		if errors.Is(err, core.ErrRefreshTokenReused) {
			s.logAudit(ctx, req.TenantID, "", req.ClientID, "", "reused")
		}
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	s.logAudit(ctx, req.TenantID, claims.Subject, req.ClientID, claims.JWTID, "refreshed")

	return &core.TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    0,
		RefreshToken: newRefresh,
		Scope:        req.Scope,
	}, nil
}

func (s *Service) enrichedGrants(ctx context.Context, tenantID, userID, clientID string) ([]string, []string, error) {
	roles, err := s.rbac.RolesForUser(ctx, tenantID, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("load roles: %w", err)
	}
	roleNames := make([]string, 0, len(roles))
	for _, r := range roles {
		roleNames = append(roleNames, r.Name)
	}
	perms, err := s.rbac.PermissionsForUser(ctx, tenantID, userID, clientID)
	if err != nil {
		return nil, nil, fmt.Errorf("load permissions: %w", err)
	}
	return roleNames, perms, nil
}

// UserInfo validates the access token and returns the OIDC userinfo claims
// for its subject.
func (s *Service) UserInfo(ctx context.Context, accessToken string) (*core.UserInfo, error) {
	claims, err := s.tokens.ValidateAccessToken(ctx, accessToken)
	if err != nil {
		return nil, fmt.Errorf("validate access token: %w", err)
	}

	user, err := s.users.GetByID(ctx, claims.TenantID, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	return &core.UserInfo{
		Subject:       user.ID,
		Email:         user.Email,
		EmailVerified: user.EmailVerified,
		Name:          user.DisplayName,
		Picture:       user.AvatarURL,
	}, nil
}

// Revoke revokes an access token per RFC 7009 by putting its jti on the
// deny-list. Refresh tokens are not revoked: with a refresh_token hint, or
// when token is not a valid access token, it returns nil and changes nothing.
func (s *Service) Revoke(ctx context.Context, tenantID, token, tokenTypeHint string) error {
	if tokenTypeHint != "refresh_token" {
		if claims, err := s.tokens.ValidateAccessToken(ctx, token); err == nil {
			return s.revocation.RevokeAccessToken(ctx, claims.JWTID, 0)
		}
		if tokenTypeHint == "access_token" {
			return nil
		}
	}
	return nil
}

// Introspect implements RFC 7662 for access tokens issued by this service.
func (s *Service) Introspect(ctx context.Context, tenantID, token string) (*core.IntrospectResponse, error) {
	claims, err := s.tokens.ValidateAccessToken(ctx, token)
	if err != nil {
		return &core.IntrospectResponse{Active: false}, nil
	}
	return &core.IntrospectResponse{
		Active:    true,
		ClientID:  claims.Audience,
		Subject:   claims.Subject,
		TokenType: "Bearer",
		ExpiresAt: claims.ExpiresAt,
		IssuedAt:  claims.IssuedAt,
		Roles:     claims.Roles,
	}, nil
}

func (s *Service) logAudit(ctx context.Context, tenantID, subject, clientID, tokenID, eventType string) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Log(ctx, &core.AuditRecord{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		TokenID:   tokenID,
		Subject:   subject,
		EventType: eventType,
		ClientID:  clientID,
		Timestamp: s.clock.Now(),
	})
}

func containsString(items []string, target string) bool {
	for _, item := range items {
		if item == target {
			return true
		}
	}
	return false
}
