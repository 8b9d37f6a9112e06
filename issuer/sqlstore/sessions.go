package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/meridianid/issuer/issuer/core"
)

// sessionRecordStore implements core.SessionRecordStore, the SQL mirror of
// browser/account sessions. It is written best-effort by the sessions
// service and read exclusively by admin session enumeration — the hot path
// never touches it.
type sessionRecordStore struct {
	db *gorm.DB
}

func (s *sessionRecordStore) UpsertBrowserSession(ctx context.Context, rec *core.BrowserSessionRecord) error {
	model := &BrowserSession{
		ID:           rec.ID,
		TenantID:     rec.TenantID,
		CreatedAt:    rec.CreatedAt,
		LastActivity: rec.LastActivity,
		ExpiresAt:    rec.ExpiresAt,
		UserAgent:    rec.UserAgent,
		IPAddress:    rec.IPAddress,
		ActiveUserID: rec.ActiveUserID,
	}
	return s.db.WithContext(ctx).Save(model).Error
}

func (s *sessionRecordStore) DeleteBrowserSession(ctx context.Context, tenantID, id string) error {
	return s.db.WithContext(ctx).Where("tenant_id = ? AND id = ?", tenantID, id).Delete(&BrowserSession{}).Error
}

func (s *sessionRecordStore) UpsertAccountSession(ctx context.Context, rec *core.AccountSessionRecord) error {
	model := &AccountSession{
		ID:               rec.ID,
		BrowserSessionID: rec.BrowserSessionID,
		TenantID:         rec.TenantID,
		UserID:           rec.UserID,
		ClientID:         rec.ClientID,
		AuthenticatedAt:  rec.AuthenticatedAt,
		ExpiresAt:        rec.ExpiresAt,
		IsActive:         rec.IsActive,
	}
	return s.db.WithContext(ctx).Save(model).Error
}

func (s *sessionRecordStore) DeleteAccountSessionsByBrowser(ctx context.Context, tenantID, browserSessionID string) (int, error) {
	result := s.db.WithContext(ctx).Where("tenant_id = ? AND browser_session_id = ?", tenantID, browserSessionID).Delete(&AccountSession{})
	return int(result.RowsAffected), result.Error
}

func (s *sessionRecordStore) AccountSessionsForUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]*core.AccountSessionRecord, error) {
	var models []AccountSession
	query := s.db.WithContext(ctx).Where("tenant_id = ? AND user_id = ?", tenantID, userID).Order("authenticated_at DESC")
	if limit > 0 {
		query = query.Limit(limit).Offset(offset)
	}
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	records := make([]*core.AccountSessionRecord, len(models))
	for i, m := range models {
		records[i] = toCoreAccountSessionRecord(&m)
	}
	return records, nil
}

func (s *sessionRecordStore) BrowserSessionsForTenant(ctx context.Context, tenantID string, activeSince *time.Time, limit, offset int) ([]*core.BrowserSessionRecord, error) {
	query := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("last_activity DESC")
	if activeSince != nil {
		query = query.Where("last_activity > ?", *activeSince)
	}
	if limit > 0 {
		query = query.Limit(limit).Offset(offset)
	}
	var models []BrowserSession
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	records := make([]*core.BrowserSessionRecord, len(models))
	for i, m := range models {
		records[i] = toCoreBrowserSessionRecord(&m)
	}
	return records, nil
}

func (s *sessionRecordStore) BrowserSessionsForUser(ctx context.Context, tenantID, userID string) ([]*core.BrowserSessionRecord, error) {
	var models []BrowserSession
	if err := s.db.WithContext(ctx).
		Joins("JOIN account_sessions ON account_sessions.browser_session_id = browser_sessions.id").
		Where("browser_sessions.tenant_id = ? AND account_sessions.user_id = ?", tenantID, userID).
		Group("browser_sessions.id").
		Find(&models).Error; err != nil {
		return nil, err
	}
	records := make([]*core.BrowserSessionRecord, len(models))
	for i, m := range models {
		records[i] = toCoreBrowserSessionRecord(&m)
	}
	return records, nil
}

func (s *sessionRecordStore) ExpiredBrowserSessions(ctx context.Context, tenantID string, olderThan time.Time, limit int) ([]*core.BrowserSessionRecord, error) {
	query := s.db.WithContext(ctx).Where("tenant_id = ? AND last_activity < ?", tenantID, olderThan).Order("last_activity ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []BrowserSession
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	records := make([]*core.BrowserSessionRecord, len(models))
	for i, m := range models {
		records[i] = toCoreBrowserSessionRecord(&m)
	}
	return records, nil
}

func (s *sessionRecordStore) DeleteBrowserSessionsOlderThan(ctx context.Context, tenantID string, olderThan time.Time) (int, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&BrowserSession{}).
		Where("tenant_id = ? AND last_activity < ?", tenantID, olderThan).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.db.WithContext(ctx).Where("browser_session_id IN ?", ids).Delete(&AccountSession{}).Error; err != nil {
		return 0, err
	}
	result := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&BrowserSession{})
	return int(result.RowsAffected), result.Error
}

func (s *sessionRecordStore) Stats(ctx context.Context, tenantID string) (*core.SessionStats, error) {
	stats := &core.SessionStats{}

	browserQuery := s.db.WithContext(ctx).Model(&BrowserSession{})
	accountQuery := s.db.WithContext(ctx).Model(&AccountSession{})
	if tenantID != "" {
		browserQuery = browserQuery.Where("tenant_id = ?", tenantID)
		accountQuery = accountQuery.Where("tenant_id = ?", tenantID)
	}

	var totalBrowser int64
	if err := browserQuery.Count(&totalBrowser).Error; err != nil {
		return nil, err
	}
	stats.TotalBrowserSessions = int(totalBrowser)

	var totalAccount int64
	if err := accountQuery.Count(&totalAccount).Error; err != nil {
		return nil, err
	}
	stats.TotalAccountSessions = int(totalAccount)

	var activeLast24h int64
	activeQuery := s.db.WithContext(ctx).Model(&BrowserSession{}).Where("last_activity > ?", time.Now().Add(-24*time.Hour))
	if tenantID != "" {
		activeQuery = activeQuery.Where("tenant_id = ?", tenantID)
	}
	if err := activeQuery.Count(&activeLast24h).Error; err != nil {
		return nil, err
	}
	stats.ActiveSessionsLast24h = int(activeLast24h)

	var uniqueUsers int64
	uniqueQuery := s.db.WithContext(ctx).Model(&AccountSession{}).Distinct("user_id")
	if tenantID != "" {
		uniqueQuery = uniqueQuery.Where("tenant_id = ?", tenantID)
	}
	if err := uniqueQuery.Count(&uniqueUsers).Error; err != nil {
		return nil, err
	}
	stats.UniqueUsers = int(uniqueUsers)

	return stats, nil
}

func toCoreBrowserSessionRecord(m *BrowserSession) *core.BrowserSessionRecord {
	return &core.BrowserSessionRecord{
		ID:           m.ID,
		TenantID:     m.TenantID,
		CreatedAt:    m.CreatedAt,
		LastActivity: m.LastActivity,
		ExpiresAt:    m.ExpiresAt,
		UserAgent:    m.UserAgent,
		IPAddress:    m.IPAddress,
		ActiveUserID: m.ActiveUserID,
	}
}

func toCoreAccountSessionRecord(m *AccountSession) *core.AccountSessionRecord {
	return &core.AccountSessionRecord{
		ID:               m.ID,
		BrowserSessionID: m.BrowserSessionID,
		TenantID:         m.TenantID,
		UserID:           m.UserID,
		ClientID:         m.ClientID,
		AuthenticatedAt:  m.AuthenticatedAt,
		ExpiresAt:        m.ExpiresAt,
		IsActive:         m.IsActive,
	}
}
