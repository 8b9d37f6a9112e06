// Package adminsessions implements the SQL-only session queries that have
// no KV equivalent: cross-browser enumeration for a user, tenant-wide
// listing, bulk revocation, and stats. The hot path (issuer/sessions) never
// calls into this package and this package never reads the KV store — it
// consults the SQL mirror exclusively, per the dual-write discipline.
package adminsessions

import (
	"context"
	"time"

	"github.com/meridianid/issuer/issuer/core"
)

const activeWindow = 7 * 24 * time.Hour

// Service implements core.AdminSessionService.
type Service struct {
	records core.SessionRecordStore
	clock   core.Clock
}

// NewService creates the admin session query service.
func NewService(records core.SessionRecordStore, clock core.Clock) *Service {
	return &Service{records: records, clock: clock}
}

// ListUserSessions returns every account session a user holds across all of
// their browser sessions, tenant-scoped.
func (s *Service) ListUserSessions(ctx context.Context, tenantID, userID string, limit, offset int) ([]*core.AccountSessionRecord, error) {
	return s.records.AccountSessionsForUser(ctx, tenantID, userID, limit, offset)
}

// ListTenantSessions enumerates browser sessions for a tenant. activeOnly
// restricts to sessions with activity in the last 7 days.
func (s *Service) ListTenantSessions(ctx context.Context, tenantID string, activeOnly bool, limit, offset int) ([]*core.BrowserSessionRecord, error) {
	var since *time.Time
	if activeOnly {
		t := s.clock.Now().Add(-activeWindow)
		since = &t
	}
	return s.records.BrowserSessionsForTenant(ctx, tenantID, since, limit, offset)
}

// RevokeSession deletes a browser session and cascades to its account
// sessions, returning how many accounts were revoked.
func (s *Service) RevokeSession(ctx context.Context, tenantID, sessionID string) (int, error) {
	accountsRevoked, err := s.records.DeleteAccountSessionsByBrowser(ctx, tenantID, sessionID)
	if err != nil {
		return 0, err
	}
	if err := s.records.DeleteBrowserSession(ctx, tenantID, sessionID); err != nil {
		return 0, err
	}
	return accountsRevoked, nil
}

// RevokeAllUserSessions deletes every browser session a user participates
// in, returning how many browser sessions were revoked.
func (s *Service) RevokeAllUserSessions(ctx context.Context, tenantID, userID string) (int, error) {
	sessions, err := s.records.BrowserSessionsForUser(ctx, tenantID, userID)
	if err != nil {
		return 0, err
	}
	revoked := 0
	for _, session := range sessions {
		if _, err := s.records.DeleteAccountSessionsByBrowser(ctx, tenantID, session.ID); err != nil {
			return revoked, err
		}
		if err := s.records.DeleteBrowserSession(ctx, tenantID, session.ID); err != nil {
			return revoked, err
		}
		revoked++
	}
	return revoked, nil
}

// GetExpiredSessions returns browser sessions whose last activity predates
// maxAge, without deleting them.
func (s *Service) GetExpiredSessions(ctx context.Context, tenantID string, maxAge time.Duration, limit int) ([]*core.BrowserSessionRecord, error) {
	return s.records.ExpiredBrowserSessions(ctx, tenantID, s.clock.Now().Add(-maxAge), limit)
}

// CleanupExpiredSessions deletes browser sessions (and their account
// sessions) whose last activity predates maxAge, returning the count removed.
func (s *Service) CleanupExpiredSessions(ctx context.Context, tenantID string, maxAge time.Duration) (int, error) {
	return s.records.DeleteBrowserSessionsOlderThan(ctx, tenantID, s.clock.Now().Add(-maxAge))
}

// GetSessionStats summarizes session volume, optionally scoped to a tenant
// (empty tenantID means issuer-wide).
func (s *Service) GetSessionStats(ctx context.Context, tenantID string) (*core.SessionStats, error) {
	return s.records.Stats(ctx, tenantID)
}
