package revocation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meridianid/issuer/issuer/core"
)

// Service implements core.RevocationService on top of the KV store: an
// access-token deny-list keyed by jti, and per-subject refresh-token
// families keyed by token id. Reuse of an already-consumed refresh token
// revokes every other token in its family, per the rotation-reuse
// detection invariant.
type Service struct {
	kv    core.KV
	clock core.Clock
	ttl   time.Duration
}

// NewService creates a revocation service. ttl bounds how long an access
// token id stays on the deny-list after RevokeAccessToken.
func NewService(kv core.KV, clock core.Clock, ttl time.Duration) *Service {
	return &Service{kv: kv, clock: clock, ttl: ttl}
}

func accessDenyKey(tokenID string) string {
	return "oauth:revoked:access:" + tokenID
}

func refreshKey(subject, tokenID string) string {
	return "oauth:refresh:" + subject + ":" + tokenID
}

func refreshFamilyPrefix(subject string) string {
	return "oauth:refresh:" + subject + ":"
}

// RevokeAccessToken adds a jti to the deny-list for ttl (or the service's
// default if ttl is zero).
func (s *Service) RevokeAccessToken(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	if err := s.kv.Set(ctx, accessDenyKey(tokenID), []byte("1"), ttl); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

// IsAccessTokenRevoked reports whether a jti is on the deny-list. A KV
// error fails open (reports not-revoked) so a storage blip never turns
// into a blanket lockout.
func (s *Service) IsAccessTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	exists, err := s.kv.Exists(ctx, accessDenyKey(tokenID))
	if err != nil {
		return false, nil
	}
	return exists, nil
}

// RecordRefresh stores a refresh-token record as the live head of its
// rotation family.
func (s *Service) RecordRefresh(ctx context.Context, rec *core.RefreshTokenRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode refresh record: %w", err)
	}
	ttl := rec.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		ttl = s.ttl
	}
	if err := s.kv.Set(ctx, refreshKey(rec.SubjectID, rec.TokenID), raw, ttl); err != nil {
		return fmt.Errorf("store refresh record: %w", err)
	}
	return nil
}

// ConsumeRefresh reads and deletes a refresh-token record. If the record is
// no longer present, the token has already been rotated away: this is
// treated as reuse of a stale token and revokes the whole family.
func (s *Service) ConsumeRefresh(ctx context.Context, subject, tokenID string) (*core.RefreshTokenRecord, error) {
	raw, err := s.kv.Get(ctx, refreshKey(subject, tokenID))
	if err != nil {
		if err == core.ErrNotFound {
			_ = s.RevokeFamily(ctx, subject)
			return nil, core.ErrRefreshTokenReused
		}
		return nil, fmt.Errorf("load refresh record: %w", err)
	}

	var rec core.RefreshTokenRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode refresh record: %w", err)
	}

	if s.clock.Now().After(rec.ExpiresAt) {
		_ = s.kv.Delete(ctx, refreshKey(subject, tokenID))
		return nil, fmt.Errorf("refresh token expired")
	}

	if err := s.kv.Delete(ctx, refreshKey(subject, tokenID)); err != nil {
		return nil, fmt.Errorf("consume refresh record: %w", err)
	}
	return &rec, nil
}

// RevokeFamily deletes every live refresh token belonging to a subject.
func (s *Service) RevokeFamily(ctx context.Context, subject string) error {
	keys, err := s.kv.Keys(ctx, refreshFamilyPrefix(subject)+"*")
	if err != nil {
		return fmt.Errorf("scan refresh family: %w", err)
	}
	for _, k := range keys {
		if err := s.kv.Delete(ctx, k); err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
	}
	return nil
}
