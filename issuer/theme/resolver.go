package theme

import (
	"context"
	"sync"
	"time"

	"github.com/meridianid/issuer/issuer/core"
)

const (
	positiveTTL = time.Hour
	negativeTTL = 30 * time.Second
)

var builtinBranding = core.Branding{Theme: "default"}

type cacheEntry struct {
	branding *core.Branding
	expires  time.Time
}

// Resolver implements core.ThemeResolver: per-request tenant branding wins,
// falling back through the issuer's configured default branding, the cached
// "default" tenant's branding, and finally a hardcoded built-in. The
// resolved value is returned to the caller, never stashed in a package
// global, so concurrent tenants never see each other's theme.
type Resolver struct {
	tenants           core.TenantStore
	defaultBranding   core.Branding
	defaultTenantSlug string
	clock             core.Clock

	mu           sync.RWMutex
	defaultCache *cacheEntry
}

// NewResolver creates a theme resolver.
func NewResolver(tenants core.TenantStore, defaultBranding core.Branding, defaultTenantSlug string, clock core.Clock) *Resolver {
	return &Resolver{tenants: tenants, defaultBranding: defaultBranding, defaultTenantSlug: defaultTenantSlug, clock: clock}
}

// Resolve returns the effective branding for tenantID.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (*core.Branding, error) {
	tenant, err := r.tenants.GetByID(ctx, tenantID)
	if err == nil && !isEmptyBranding(tenant.Branding) {
		return &tenant.Branding, nil
	}

	if !isEmptyBranding(r.defaultBranding) {
		return &r.defaultBranding, nil
	}

	if branding := r.defaultTenantBranding(ctx); branding != nil {
		return branding, nil
	}

	builtin := builtinBranding
	return &builtin, nil
}

func (r *Resolver) defaultTenantBranding(ctx context.Context) *core.Branding {
	if r.defaultTenantSlug == "" {
		return nil
	}

	now := r.clock.Now()
	r.mu.RLock()
	cached := r.defaultCache
	r.mu.RUnlock()
	if cached != nil && now.Before(cached.expires) {
		return cached.branding
	}

	tenant, err := r.tenants.GetBySlug(ctx, r.defaultTenantSlug)
	var entry cacheEntry
	if err != nil || isEmptyBranding(tenant.Branding) {
		entry = cacheEntry{branding: nil, expires: now.Add(negativeTTL)}
	} else {
		b := tenant.Branding
		entry = cacheEntry{branding: &b, expires: now.Add(positiveTTL)}
	}

	r.mu.Lock()
	r.defaultCache = &entry
	r.mu.Unlock()

	return entry.branding
}

// Invalidate drops the cached "default" tenant branding so the next
// Resolve re-reads it from the store.
func (r *Resolver) Invalidate(ctx context.Context, tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultCache = nil
}

func isEmptyBranding(b core.Branding) bool {
	return b.Theme == "" && b.LogoLight == "" && b.LogoDark == "" && b.Favicon == "" && b.CustomCSS == ""
}
