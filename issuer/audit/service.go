// Package audit implements core.AuditSink: a direct mode that writes
// straight through to the SQL mirror, and a queue mode that buffers
// through Redis so a slow or unavailable database doesn't block the
// request path that triggered the audit event.
package audit

import (
	"context"

	"github.com/meridianid/issuer/issuer/core"
)

// Service writes audit records straight through to the SQL store. It is
// the direct mode spec.md §4.10 describes and the only mode the teacher's
// audit.Service had.
type Service struct {
	records core.AuditRecordStore
	sensor  *FailureRateSensor
}

// NewService creates a direct-mode audit sink. sensor may be nil to skip
// failure-rate monitoring.
func NewService(records core.AuditRecordStore, sensor *FailureRateSensor) *Service {
	return &Service{records: records, sensor: sensor}
}

// Log creates an audit record. A failure here must never propagate to the
// caller that triggered the audited action — spec.md §7's audit-failure
// propagation policy — so callers should treat a non-nil error as
// log-and-continue rather than request-failing.
func (s *Service) Log(ctx context.Context, rec *core.AuditRecord) error {
	err := s.records.Create(ctx, rec)
	if s.sensor != nil {
		s.sensor.Record(err == nil)
	}
	return err
}

// Close is a no-op in direct mode; nothing is buffered.
func (s *Service) Close(ctx context.Context) error {
	return nil
}
