package tenant

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/meridianid/issuer/issuer/core"
)

var errDomainNotVerified = errors.New("domain not verified")

// HostResolver implements core.TenantResolver, trying in order: a verified
// custom domain, a subdomain of the configured base domain, a /t/<slug> path
// prefix, an X-Tenant-ID header, and finally falling back to the configured
// default tenant slug.
type HostResolver struct {
	domains       core.DomainStore
	tenants       core.TenantStore
	baseDomain    string
	defaultTenant string
}

// NewHostResolver creates a new HostResolver.
func NewHostResolver(domains core.DomainStore, tenants core.TenantStore, baseDomain, defaultTenant string) *HostResolver {
	return &HostResolver{
		domains:       domains,
		tenants:       tenants,
		baseDomain:    baseDomain,
		defaultTenant: defaultTenant,
	}
}

// ResolveTenant resolves a tenant from the request host, path and the
// tenant-override header, in that priority order.
func (r *HostResolver) ResolveTenant(ctx context.Context, host, path, headerTenantID string) (*core.Tenant, error) {
	host = normalizeHost(host)

	if t, err := r.byCustomDomain(ctx, host); err == nil {
		return t, nil
	} else if errors.Is(err, errDomainNotVerified) {
		return nil, err
	}

	if slug := extractSlug(host, r.baseDomain); slug != "" {
		if t, err := r.tenants.GetBySlug(ctx, slug); err == nil {
			return t, nil
		}
	}

	if slug := extractPathSlug(path); slug != "" {
		if t, err := r.tenants.GetBySlug(ctx, slug); err == nil {
			return t, nil
		}
	}

	if headerTenantID != "" {
		if t, err := r.tenants.GetByID(ctx, headerTenantID); err == nil {
			return t, nil
		}
	}

	if r.defaultTenant != "" {
		if t, err := r.tenants.GetBySlug(ctx, r.defaultTenant); err == nil {
			return t, nil
		}
	}

	return nil, fmt.Errorf("tenant not found for host: %s", host)
}

func (r *HostResolver) byCustomDomain(ctx context.Context, host string) (*core.Tenant, error) {
	domain, err := r.domains.GetByDomain(ctx, host)
	if err != nil {
		return nil, err
	}
	if domain.VerifiedAt == nil {
		return nil, fmt.Errorf("%w: %s", errDomainNotVerified, host)
	}
	return r.tenants.GetByID(ctx, domain.TenantID)
}

// normalizeHost strips scheme, port, and lowercases the host.
func normalizeHost(host string) string {
	if strings.Contains(host, "://") {
		if u, err := url.Parse(host); err == nil {
			host = u.Host
		}
	}
	if i := strings.Index(host, ":"); i != -1 {
		host = host[:i]
	}
	return strings.ToLower(host)
}

// extractSlug extracts the tenant slug from a subdomain of baseDomain,
// e.g. acme.auth.example.com -> acme.
func extractSlug(host, baseDomain string) string {
	host = normalizeHost(host)
	baseDomain = normalizeHost(baseDomain)

	if baseDomain == "" || !strings.HasSuffix(host, baseDomain) || host == baseDomain {
		return ""
	}

	prefix := strings.TrimSuffix(host, baseDomain)
	prefix = strings.TrimSuffix(prefix, ".")

	parts := strings.Split(prefix, ".")
	if len(parts) >= 1 && parts[0] != "" {
		return parts[0]
	}
	return ""
}

// extractPathSlug extracts a tenant slug from a /t/<slug>/... path prefix.
func extractPathSlug(path string) string {
	path = strings.TrimPrefix(path, "/")
	parts := strings.SplitN(path, "/", 3)
	if len(parts) >= 2 && parts[0] == "t" && parts[1] != "" {
		return parts[1]
	}
	return ""
}
