package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"go.uber.org/zap"

	"github.com/meridianid/issuer/issuer/core"
)

// Service implements core.RBACService on top of a Casbin enforcer for the
// allow/deny decision and a KV-backed cache for the token-enrichment path.
// Casbin's own grouping tuples don't carry expiry, so UserRole.ExpiresAt is
// checked against core.UserRoleStore separately before a role counts toward
// enforcement.
type Service struct {
	store      core.Store
	kv         core.KV
	clock      core.Clock
	logger     *zap.Logger
	cacheTTL   time.Duration
	maxInToken int
	enforcer   *casbin.Enforcer
}

// NewService builds an RBAC service backed by store for the role/permission
// catalog and kv for the permission cache. logger may be nil.
func NewService(store core.Store, kv core.KV, clock core.Clock, logger *zap.Logger, cacheTTL time.Duration, maxInToken int) (*Service, error) {
	m, err := model.NewModelFromString(`
		[request_definition]
		r = sub, dom, obj, act

		[policy_definition]
		p = sub, dom, obj, act

		[role_definition]
		g = _, _, _

		[policy_effect]
		e = some(where (p.eft == allow))

		[matchers]
		m = g(r.sub, p.sub, r.dom) && r.dom == p.dom && r.obj == p.obj && r.act == p.act
	`)
	if err != nil {
		return nil, fmt.Errorf("create casbin model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create enforcer: %w", err)
	}
	if maxInToken <= 0 {
		maxInToken = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, kv: kv, clock: clock, logger: logger, cacheTTL: cacheTTL, maxInToken: maxInToken, enforcer: enforcer}, nil
}

// RolesForUser returns a user's non-expired roles within a tenant.
func (s *Service) RolesForUser(ctx context.Context, tenantID, userID string) ([]*core.Role, error) {
	roles, err := s.store.UserRoles().RolesForUser(ctx, tenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("load roles for user: %w", err)
	}
	return roles, nil
}

func permCacheKey(tenantID, userID, clientID string) string {
	return "rbac:permissions:" + tenantID + ":" + userID + ":" + clientID
}

// PermissionsForUser returns the deduplicated permission names granted to a
// user's roles, scoped to clientID, caching the result for cacheTTL.
func (s *Service) PermissionsForUser(ctx context.Context, tenantID, userID, clientID string) ([]string, error) {
	key := permCacheKey(tenantID, userID, clientID)
	if raw, err := s.kv.Get(ctx, key); err == nil {
		var cached []string
		if json.Unmarshal(raw, &cached) == nil {
			return cached, nil
		}
	}

	roles, err := s.RolesForUser(ctx, tenantID, userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var names []string
	for _, role := range roles {
		perms, err := s.store.Roles().Permissions(ctx, role.ID)
		if err != nil {
			return nil, fmt.Errorf("load role permissions: %w", err)
		}
		for _, p := range perms {
			if p.ClientID != "" && p.ClientID != clientID {
				continue
			}
			if _, ok := seen[p.Name]; ok {
				continue
			}
			seen[p.Name] = struct{}{}
			names = append(names, p.Name)
		}
	}
	sort.Strings(names)

	if raw, err := json.Marshal(names); err == nil {
		_ = s.kv.Set(ctx, key, raw, s.cacheTTL)
	}
	return names, nil
}

// Enforce checks whether a user, acting through clientID, may perform action
// on resource within tenantID, using the Casbin policy loaded from the role
// catalog's resource/action pairs.
func (s *Service) Enforce(ctx context.Context, tenantID, userID, clientID, resource, action string) (bool, error) {
	perms, err := s.PermissionsForUser(ctx, tenantID, userID, clientID)
	if err != nil {
		return false, err
	}
	roles, err := s.RolesForUser(ctx, tenantID, userID)
	if err != nil {
		return false, err
	}

	s.enforcer.ClearPolicy()
	for _, role := range roles {
		rolePerms, err := s.store.Roles().Permissions(ctx, role.ID)
		if err != nil {
			return false, err
		}
		for _, p := range rolePerms {
			if _, err := s.enforcer.AddPolicy(role.Name, tenantID, p.Resource, p.Action); err != nil {
				return false, err
			}
		}
		if _, err := s.enforcer.AddGroupingPolicy(userID, role.Name, tenantID); err != nil {
			return false, err
		}
	}

	if len(perms) == 0 {
		return false, nil
	}
	return s.enforcer.Enforce(userID, tenantID, resource, action)
}

// InvalidateCache drops the cached permission set for every client by
// scanning the permission-cache key space for this user.
func (s *Service) InvalidateCache(ctx context.Context, tenantID, userID string) error {
	keys, err := s.kv.Keys(ctx, "rbac:permissions:"+tenantID+":"+userID+":*")
	if err != nil {
		return fmt.Errorf("scan permission cache: %w", err)
	}
	for _, k := range keys {
		if err := s.kv.Delete(ctx, k); err != nil {
			return fmt.Errorf("invalidate permission cache: %w", err)
		}
	}
	return nil
}

// EnrichTokenClaims assigns a user's roles and capped, deduplicated
// permission set onto an access token's claims.
func (s *Service) EnrichTokenClaims(ctx context.Context, claims *core.TokenClaims, tenantID, userID, clientID string) error {
	roles, err := s.RolesForUser(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	roleNames := make([]string, 0, len(roles))
	for _, r := range roles {
		roleNames = append(roleNames, r.Name)
	}
	claims.Roles = roleNames

	perms, err := s.PermissionsForUser(ctx, tenantID, userID, clientID)
	if err != nil {
		return err
	}
	if len(perms) > s.maxInToken {
		s.logger.Warn("truncating permissions enriched onto token claims",
			zap.String("tenant_id", tenantID), zap.String("user_id", userID),
			zap.Int("permission_count", len(perms)), zap.Int("max_in_token", s.maxInToken))
		perms = perms[:s.maxInToken]
	}
	claims.Permissions = perms
	return nil
}

// AssignRole grants a role to a user, rejecting self-assignment outright and
// escalation onto system roles the assigner doesn't themselves hold.
func (s *Service) AssignRole(ctx context.Context, tenantID, assignerID string, ur *core.UserRole) error {
	if ur.UserID == assignerID {
		return fmt.Errorf("cannot self-assign a role")
	}
	role, err := s.roleByID(ctx, tenantID, ur.RoleID)
	if err != nil {
		return err
	}
	if role.IsSystemRole {
		assignerRoles, err := s.RolesForUser(ctx, tenantID, assignerID)
		if err != nil {
			return err
		}
		if !hasSystemRole(assignerRoles) {
			return fmt.Errorf("only a system-role holder may grant system roles")
		}
	}
	ur.AssignedAt = s.clock.Now()
	ur.TenantID = tenantID
	if err := s.store.UserRoles().Assign(ctx, ur); err != nil {
		return fmt.Errorf("assign role: %w", err)
	}
	return s.InvalidateCache(ctx, tenantID, ur.UserID)
}

func (s *Service) roleByID(ctx context.Context, tenantID, roleID string) (*core.Role, error) {
	role, err := s.store.Roles().GetByID(ctx, tenantID, roleID)
	if err != nil {
		return nil, fmt.Errorf("load role: %w", err)
	}
	return role, nil
}

func hasSystemRole(roles []*core.Role) bool {
	for _, r := range roles {
		if r.IsSystemRole {
			return true
		}
	}
	return false
}
