package adminsessions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianid/issuer/issuer/core"
)

type fakeRecordStore struct {
	browsers map[string]*core.BrowserSessionRecord
	accounts map[string]*core.AccountSessionRecord
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{browsers: make(map[string]*core.BrowserSessionRecord), accounts: make(map[string]*core.AccountSessionRecord)}
}

func (f *fakeRecordStore) UpsertBrowserSession(ctx context.Context, rec *core.BrowserSessionRecord) error {
	f.browsers[rec.ID] = rec
	return nil
}
func (f *fakeRecordStore) DeleteBrowserSession(ctx context.Context, tenantID, id string) error {
	delete(f.browsers, id)
	return nil
}
func (f *fakeRecordStore) UpsertAccountSession(ctx context.Context, rec *core.AccountSessionRecord) error {
	f.accounts[rec.ID] = rec
	return nil
}
func (f *fakeRecordStore) DeleteAccountSessionsByBrowser(ctx context.Context, tenantID, browserSessionID string) (int, error) {
	n := 0
	for id, a := range f.accounts {
		if a.BrowserSessionID == browserSessionID {
			delete(f.accounts, id)
			n++
		}
	}
	return n, nil
}
func (f *fakeRecordStore) AccountSessionsForUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]*core.AccountSessionRecord, error) {
	var out []*core.AccountSessionRecord
	for _, a := range f.accounts {
		if a.TenantID == tenantID && a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}
func (f *fakeRecordStore) BrowserSessionsForTenant(ctx context.Context, tenantID string, activeSince *time.Time, limit, offset int) ([]*core.BrowserSessionRecord, error) {
	var out []*core.BrowserSessionRecord
	for _, b := range f.browsers {
		if b.TenantID != tenantID {
			continue
		}
		if activeSince != nil && b.LastActivity.Before(*activeSince) {
			continue
		}
		out = append(out, b)
	}
	return out, nil
}
func (f *fakeRecordStore) BrowserSessionsForUser(ctx context.Context, tenantID, userID string) ([]*core.BrowserSessionRecord, error) {
	seen := map[string]bool{}
	var out []*core.BrowserSessionRecord
	for _, a := range f.accounts {
		if a.TenantID != tenantID || a.UserID != userID || seen[a.BrowserSessionID] {
			continue
		}
		if b, ok := f.browsers[a.BrowserSessionID]; ok {
			out = append(out, b)
			seen[a.BrowserSessionID] = true
		}
	}
	return out, nil
}
func (f *fakeRecordStore) ExpiredBrowserSessions(ctx context.Context, tenantID string, olderThan time.Time, limit int) ([]*core.BrowserSessionRecord, error) {
	var out []*core.BrowserSessionRecord
	for _, b := range f.browsers {
		if b.TenantID == tenantID && b.LastActivity.Before(olderThan) {
			out = append(out, b)
		}
	}
	return out, nil
}
func (f *fakeRecordStore) DeleteBrowserSessionsOlderThan(ctx context.Context, tenantID string, olderThan time.Time) (int, error) {
	n := 0
	for id, b := range f.browsers {
		if b.TenantID == tenantID && b.LastActivity.Before(olderThan) {
			delete(f.browsers, id)
			for aid, a := range f.accounts {
				if a.BrowserSessionID == id {
					delete(f.accounts, aid)
				}
			}
			n++
		}
	}
	return n, nil
}
func (f *fakeRecordStore) Stats(ctx context.Context, tenantID string) (*core.SessionStats, error) {
	stats := &core.SessionStats{}
	users := map[string]bool{}
	for _, b := range f.browsers {
		if tenantID == "" || b.TenantID == tenantID {
			stats.TotalBrowserSessions++
		}
	}
	for _, a := range f.accounts {
		if tenantID != "" && a.TenantID != tenantID {
			continue
		}
		stats.TotalAccountSessions++
		users[a.UserID] = true
	}
	stats.UniqueUsers = len(users)
	return stats, nil
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

func seedSession(t *testing.T, records *fakeRecordStore, tenantID, sessionID, userID string, lastActivity time.Time) {
	t.Helper()
	require.NoError(t, records.UpsertBrowserSession(context.Background(), &core.BrowserSessionRecord{ID: sessionID, TenantID: tenantID, LastActivity: lastActivity, ActiveUserID: userID}))
	require.NoError(t, records.UpsertAccountSession(context.Background(), &core.AccountSessionRecord{ID: sessionID + ":" + userID, BrowserSessionID: sessionID, TenantID: tenantID, UserID: userID, IsActive: true}))
}

func TestService_ListUserSessions(t *testing.T) {
	records := newFakeRecordStore()
	seedSession(t, records, "tenant-1", "sess-1", "user-1", time.Now())

	svc := NewService(records, fakeClock{now: time.Now()})
	sessions, err := svc.ListUserSessions(context.Background(), "tenant-1", "user-1", 10, 0)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestService_ListTenantSessions_ActiveOnly(t *testing.T) {
	records := newFakeRecordStore()
	now := time.Now()
	seedSession(t, records, "tenant-1", "sess-1", "user-1", now)
	seedSession(t, records, "tenant-1", "sess-2", "user-2", now.Add(-10*24*time.Hour))

	svc := NewService(records, fakeClock{now: now})
	sessions, err := svc.ListTenantSessions(context.Background(), "tenant-1", true, 10, 0)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	all, err := svc.ListTenantSessions(context.Background(), "tenant-1", false, 10, 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestService_RevokeSession(t *testing.T) {
	records := newFakeRecordStore()
	seedSession(t, records, "tenant-1", "sess-1", "user-1", time.Now())

	svc := NewService(records, fakeClock{now: time.Now()})
	revoked, err := svc.RevokeSession(context.Background(), "tenant-1", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 1, revoked)
	assert.Empty(t, records.browsers)
	assert.Empty(t, records.accounts)
}

func TestService_RevokeAllUserSessions(t *testing.T) {
	records := newFakeRecordStore()
	seedSession(t, records, "tenant-1", "sess-1", "user-1", time.Now())
	seedSession(t, records, "tenant-1", "sess-2", "user-1", time.Now())
	seedSession(t, records, "tenant-1", "sess-3", "user-2", time.Now())

	svc := NewService(records, fakeClock{now: time.Now()})
	revoked, err := svc.RevokeAllUserSessions(context.Background(), "tenant-1", "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, revoked)
	assert.Len(t, records.browsers, 1)
}

func TestService_GetAndCleanupExpiredSessions(t *testing.T) {
	records := newFakeRecordStore()
	now := time.Now()
	seedSession(t, records, "tenant-1", "sess-1", "user-1", now.Add(-48*time.Hour))
	seedSession(t, records, "tenant-1", "sess-2", "user-2", now)

	svc := NewService(records, fakeClock{now: now})
	expired, err := svc.GetExpiredSessions(context.Background(), "tenant-1", 24*time.Hour, 10)
	require.NoError(t, err)
	assert.Len(t, expired, 1)
	assert.Equal(t, "sess-1", expired[0].ID)

	cleaned, err := svc.CleanupExpiredSessions(context.Background(), "tenant-1", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, cleaned)
	assert.Len(t, records.browsers, 1)
}

func TestService_GetSessionStats(t *testing.T) {
	records := newFakeRecordStore()
	seedSession(t, records, "tenant-1", "sess-1", "user-1", time.Now())
	seedSession(t, records, "tenant-1", "sess-2", "user-2", time.Now())

	svc := NewService(records, fakeClock{now: time.Now()})
	stats, err := svc.GetSessionStats(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalBrowserSessions)
	assert.Equal(t, 2, stats.UniqueUsers)
}
