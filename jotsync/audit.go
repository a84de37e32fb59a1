// Copyright 2025 The Jottery Authors
// SPDX-License-Identifier: Apache-2.0

package jotsync

import "context"

// recordOperation appends a row to the diagnostic audit trail. Failures
// are logged and swallowed; the audit log must never fail a sync.
func (s *Service) recordOperation(ctx context.Context, clientID, operation string, noteCount, attachmentCount int) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_operations (client_id, operation, note_count, attachment_count, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		clientID, operation, noteCount, attachmentCount, FormatTime(s.now()))
	if err != nil {
		s.logger.Warn("audit write failed", "client_id", clientID, "operation", operation, "error", err)
	}
}

// TruncateAudit clears the sync_operations table. The log is purely
// diagnostic, so this is always safe.
func (s *Service) TruncateAudit(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_operations`)
	return mapSQLiteErr(err)
}

// AuditCount reports the number of audit rows, for diagnostics.
func (s *Service) AuditCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM sync_operations`); err != nil {
		return 0, mapSQLiteErr(err)
	}
	return n, nil
}
