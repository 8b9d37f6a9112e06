// Package users implements core.UserService: the thin layer between the
// /authorize login form and core.UserStore, used by the /login handler in
// issuer/httpapi. The password provider and the admin user endpoints work
// against core.UserStore directly.
package users

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/meridianid/issuer/issuer/core"
	"github.com/meridianid/issuer/issuer/crypto"
)

// Service implements core.UserService on top of a core.UserStore.
type Service struct {
	store  core.UserStore
	hasher *crypto.PasswordHasher
	clock  core.Clock
}

// NewService creates a user service.
func NewService(store core.UserStore, clock core.Clock) *Service {
	return &Service{store: store, hasher: crypto.NewPasswordHasher(), clock: clock}
}

// Authenticate verifies email/password against the stored Argon2id hash.
func (s *Service) Authenticate(ctx context.Context, tenantID, email, password string) (*core.User, error) {
	user, err := s.store.GetByEmail(ctx, tenantID, email)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}
	if user.Status != "active" {
		return nil, fmt.Errorf("account is disabled")
	}

	hash, err := s.store.GetPasswordHash(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid credentials")
	}
	ok, err := s.hasher.Verify(password, hash)
	if err != nil || !ok {
		return nil, fmt.Errorf("invalid credentials")
	}
	return user, nil
}

// Create provisions a new user and sets its initial password hash.
func (s *Service) Create(ctx context.Context, tenantID, email, displayName, password string) (*core.User, error) {
	now := s.clock.Now()
	user := &core.User{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Email:       email,
		Status:      "active",
		DisplayName: displayName,
		CreatedAt:   now,
	}
	if err := s.store.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := s.SetPassword(ctx, user.ID, password); err != nil {
		return nil, err
	}
	return user, nil
}

// SetPassword hashes and stores a new password for userID.
func (s *Service) SetPassword(ctx context.Context, userID, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.SetPasswordHash(ctx, userID, hash); err != nil {
		return fmt.Errorf("store password hash: %w", err)
	}
	return nil
}
