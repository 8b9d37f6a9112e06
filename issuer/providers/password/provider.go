package password

import (
	"context"
	"fmt"

	"github.com/meridianid/issuer/issuer/core"
	"github.com/meridianid/issuer/issuer/crypto"
)

// Provider is the bundled reference identity provider: plain email/password
// checked against the Argon2id hash stored by core.UserStore. It exists so
// the /authorize pipeline has at least one concrete bridge to dispatch to,
// standing in for the enterprise SSO / social-login providers a real
// deployment would register instead.
type Provider struct {
	users  core.UserStore
	hasher *crypto.PasswordHasher
}

// New creates the password provider.
func New(users core.UserStore) *Provider {
	return &Provider{users: users, hasher: crypto.NewPasswordHasher()}
}

// Name identifies this provider in the registry and in /{provider}/authorize
// and /{provider}/callback routes.
func (p *Provider) Name() string {
	return "password"
}

// Authenticate checks the "email"/"password" credentials against the
// tenant's user store.
func (p *Provider) Authenticate(ctx context.Context, tenantID string, credentials map[string]string) (*core.User, error) {
	email, ok := credentials["email"]
	if !ok || email == "" {
		return nil, fmt.Errorf("email is required")
	}
	password, ok := credentials["password"]
	if !ok || password == "" {
		return nil, fmt.Errorf("password is required")
	}

	user, err := p.users.GetByEmail(ctx, tenantID, email)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}
	if user.Status != "active" {
		return nil, fmt.Errorf("account is disabled")
	}

	hash, err := p.users.GetPasswordHash(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}

	ok, err = p.hasher.Verify(password, hash)
	if err != nil || !ok {
		return nil, fmt.Errorf("invalid credentials")
	}

	return user, nil
}
