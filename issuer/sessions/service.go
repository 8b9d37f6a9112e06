package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/meridianid/issuer/issuer/core"
)

const (
	browserKeyPrefix  = "session:browser:"
	accountsKeyPrefix = "session:accounts:"
)

// Service implements core.BrowserSessionService on top of the KV store.
// KV is authoritative for reads; the browser session and its accounts are
// both written with a TTL matching BrowserSessionTTL so an idle session
// simply falls out of the store. Every write also mirrors to the SQL
// records store, best effort: a mirror failure is logged at Warn level and
// never fails the call; it is not counted and not retried, since KV durability is sufficient for reads and
// admin enumeration is the only consumer of the mirror.
type Service struct {
	kv          core.KV
	records     core.SessionRecordStore
	clock       core.Clock
	logger      *zap.Logger
	ttl         time.Duration
	maxAccounts int
}

// NewService creates a new browser session service. records may be nil, in
// which case the SQL mirror is skipped entirely (useful for tests).
func NewService(kv core.KV, records core.SessionRecordStore, clock core.Clock, logger *zap.Logger, ttl time.Duration, maxAccounts int) *Service {
	if maxAccounts <= 0 {
		maxAccounts = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{kv: kv, records: records, clock: clock, logger: logger, ttl: ttl, maxAccounts: maxAccounts}
}

func (s *Service) mirrorBrowserSession(ctx context.Context, session *core.BrowserSession) {
	if s.records == nil {
		return
	}
	rec := &core.BrowserSessionRecord{
		ID:           session.ID,
		TenantID:     session.TenantID,
		CreatedAt:    session.CreatedAt,
		LastActivity: session.LastActivity,
		ExpiresAt:    session.ExpiresAt,
		UserAgent:    session.UserAgent,
		IPAddress:    session.IPAddress,
		ActiveUserID: session.ActiveUserID,
	}
	if err := s.records.UpsertBrowserSession(ctx, rec); err != nil {
		s.logger.Warn("browser session SQL mirror write failed", zap.String("session_id", session.ID), zap.Error(err))
	}
}

func (s *Service) mirrorAccountSession(ctx context.Context, tenantID string, acct *core.AccountSession) {
	if s.records == nil {
		return
	}
	rec := &core.AccountSessionRecord{
		ID:               acct.ID,
		BrowserSessionID: acct.BrowserSessionID,
		TenantID:         tenantID,
		UserID:           acct.UserID,
		ClientID:         acct.ClientID,
		AuthenticatedAt:  acct.AuthenticatedAt,
		ExpiresAt:        acct.ExpiresAt,
		IsActive:         acct.IsActive,
	}
	if err := s.records.UpsertAccountSession(ctx, rec); err != nil {
		s.logger.Warn("account session SQL mirror write failed", zap.String("account_id", acct.ID), zap.Error(err))
	}
}

func browserKey(tenantID, sessionID string) string {
	return browserKeyPrefix + tenantID + ":" + sessionID
}

func accountsKey(tenantID, sessionID string) string {
	return accountsKeyPrefix + tenantID + ":" + sessionID
}

// Start creates a new, empty browser session.
func (s *Service) Start(ctx context.Context, tenantID, ip, userAgent string) (*core.BrowserSession, error) {
	now := s.clock.Now()
	session := &core.BrowserSession{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		CreatedAt:    now,
		LastActivity: now,
		ExpiresAt:    now.Add(s.ttl),
		IPAddress:    ip,
		UserAgent:    userAgent,
		Version:      1,
	}
	if err := s.put(ctx, session); err != nil {
		return nil, fmt.Errorf("create browser session: %w", err)
	}
	s.mirrorBrowserSession(ctx, session)
	return session, nil
}

// Get loads a browser session by ID.
func (s *Service) Get(ctx context.Context, tenantID, sessionID string) (*core.BrowserSession, error) {
	raw, err := s.kv.Get(ctx, browserKey(tenantID, sessionID))
	if err != nil {
		return nil, fmt.Errorf("get browser session: %w", err)
	}
	var session core.BrowserSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode browser session: %w", err)
	}
	return &session, nil
}

func (s *Service) put(ctx context.Context, session *core.BrowserSession) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode browser session: %w", err)
	}
	ttl := session.ExpiresAt.Sub(s.clock.Now())
	if ttl <= 0 {
		ttl = s.ttl
	}
	return s.kv.Set(ctx, browserKey(session.TenantID, session.ID), raw, ttl)
}

func (s *Service) putAccounts(ctx context.Context, tenantID, sessionID string, accounts []*core.AccountSession) error {
	raw, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("encode accounts: %w", err)
	}
	return s.kv.Set(ctx, accountsKey(tenantID, sessionID), raw, s.ttl)
}

// Accounts returns every account logged into a browser session.
func (s *Service) Accounts(ctx context.Context, tenantID, sessionID string) ([]*core.AccountSession, error) {
	raw, err := s.kv.Get(ctx, accountsKey(tenantID, sessionID))
	if err != nil {
		if err == core.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get accounts: %w", err)
	}
	var accounts []*core.AccountSession
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}
	return accounts, nil
}

// AddAccount logs a new account into the browser session, becoming active.
// Adding an (N+1)-th distinct account past maxAccountsPerSession evicts the
// least-recently-authenticated non-active account rather than failing.
func (s *Service) AddAccount(ctx context.Context, tenantID, sessionID string, acct *core.AccountSession) error {
	session, err := s.Get(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}

	accounts, err := s.Accounts(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}

	for _, existing := range accounts {
		if existing.UserID == acct.UserID {
			return fmt.Errorf("account already present in session")
		}
	}

	if len(accounts) >= s.maxAccounts {
		evictIdx := -1
		for i, existing := range accounts {
			if existing.IsActive {
				continue
			}
			if evictIdx == -1 || existing.AuthenticatedAt.Before(accounts[evictIdx].AuthenticatedAt) {
				evictIdx = i
			}
		}
		if evictIdx == -1 {
			return fmt.Errorf("browser session already holds the maximum of %d accounts", s.maxAccounts)
		}
		accounts = append(accounts[:evictIdx], accounts[evictIdx+1:]...)
	}

	if acct.ID == "" {
		acct.ID = uuid.New().String()
	}
	acct.BrowserSessionID = sessionID
	acct.IsActive = true
	for _, existing := range accounts {
		existing.IsActive = false
	}
	accounts = append(accounts, acct)

	session.ActiveUserID = acct.UserID
	session.LastActivity = s.clock.Now()

	if err := s.putAccounts(ctx, tenantID, sessionID, accounts); err != nil {
		return err
	}
	if err := s.put(ctx, session); err != nil {
		return err
	}
	s.mirrorBrowserSession(ctx, session)
	s.mirrorAccountSession(ctx, tenantID, acct)
	return nil
}

// RemoveAccount logs an account out of the browser session. If the removed
// account was active, the most recently authenticated remaining account is
// promoted to active, per the invariant that a non-empty session always has
// an active account.
func (s *Service) RemoveAccount(ctx context.Context, tenantID, sessionID, userID string) error {
	session, err := s.Get(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}
	accounts, err := s.Accounts(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}

	remaining := make([]*core.AccountSession, 0, len(accounts))
	wasActive := false
	for _, a := range accounts {
		if a.UserID == userID {
			wasActive = a.IsActive
			continue
		}
		remaining = append(remaining, a)
	}

	if wasActive && len(remaining) > 0 {
		var newest *core.AccountSession
		for _, a := range remaining {
			if newest == nil || a.AuthenticatedAt.After(newest.AuthenticatedAt) {
				newest = a
			}
		}
		for _, a := range remaining {
			a.IsActive = a.UserID == newest.UserID
		}
		session.ActiveUserID = newest.UserID
	} else if len(remaining) == 0 {
		session.ActiveUserID = ""
	}

	if err := s.putAccounts(ctx, tenantID, sessionID, remaining); err != nil {
		return err
	}
	if err := s.put(ctx, session); err != nil {
		return err
	}
	s.mirrorBrowserSession(ctx, session)
	if s.records != nil {
		if _, err := s.records.DeleteAccountSessionsByBrowser(ctx, tenantID, sessionID); err != nil {
			s.logger.Warn("account session SQL mirror delete failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		for _, a := range remaining {
			s.mirrorAccountSession(ctx, tenantID, a)
		}
	}
	return nil
}

// RemoveAllAccounts logs every account out of the browser session, clearing
// the active account, without destroying the browser session itself.
func (s *Service) RemoveAllAccounts(ctx context.Context, tenantID, sessionID string) error {
	session, err := s.Get(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}
	session.ActiveUserID = ""

	if err := s.putAccounts(ctx, tenantID, sessionID, nil); err != nil {
		return err
	}
	if err := s.put(ctx, session); err != nil {
		return err
	}
	s.mirrorBrowserSession(ctx, session)
	if s.records != nil {
		if _, err := s.records.DeleteAccountSessionsByBrowser(ctx, tenantID, sessionID); err != nil {
			s.logger.Warn("account session SQL mirror delete failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return nil
}

// SwitchActive changes which logged-in account is active, without logging
// any account out.
func (s *Service) SwitchActive(ctx context.Context, tenantID, sessionID, userID string) error {
	session, err := s.Get(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}
	accounts, err := s.Accounts(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}

	found := false
	for _, a := range accounts {
		a.IsActive = a.UserID == userID
		if a.IsActive {
			found = true
		}
	}
	if !found {
		return fmt.Errorf("account %s is not logged into this session", userID)
	}

	session.ActiveUserID = userID
	session.LastActivity = s.clock.Now()

	if err := s.putAccounts(ctx, tenantID, sessionID, accounts); err != nil {
		return err
	}
	if err := s.put(ctx, session); err != nil {
		return err
	}
	s.mirrorBrowserSession(ctx, session)
	if s.records != nil {
		for _, a := range accounts {
			s.mirrorAccountSession(ctx, tenantID, a)
		}
	}
	return nil
}

// ActiveAccount returns the currently active account session, if any.
func (s *Service) ActiveAccount(ctx context.Context, tenantID, sessionID string) (*core.AccountSession, error) {
	accounts, err := s.Accounts(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if a.IsActive {
			return a, nil
		}
	}
	return nil, core.ErrNotFound
}

// Touch extends the browser session's TTL and records activity.
func (s *Service) Touch(ctx context.Context, tenantID, sessionID string) error {
	session, err := s.Get(ctx, tenantID, sessionID)
	if err != nil {
		return err
	}
	session.LastActivity = s.clock.Now()
	session.ExpiresAt = session.LastActivity.Add(s.ttl)
	if err := s.put(ctx, session); err != nil {
		return err
	}
	s.mirrorBrowserSession(ctx, session)
	return nil
}

// Destroy deletes a browser session and all its accounts immediately.
func (s *Service) Destroy(ctx context.Context, tenantID, sessionID string) error {
	if err := s.kv.Delete(ctx, accountsKey(tenantID, sessionID)); err != nil {
		return fmt.Errorf("delete accounts: %w", err)
	}
	if err := s.kv.Delete(ctx, browserKey(tenantID, sessionID)); err != nil {
		return fmt.Errorf("delete browser session: %w", err)
	}
	if s.records != nil {
		if _, err := s.records.DeleteAccountSessionsByBrowser(ctx, tenantID, sessionID); err != nil {
			s.logger.Warn("account session SQL mirror delete failed", zap.String("session_id", sessionID), zap.Error(err))
		}
		if err := s.records.DeleteBrowserSession(ctx, tenantID, sessionID); err != nil {
			s.logger.Warn("browser session SQL mirror delete failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return nil
}
