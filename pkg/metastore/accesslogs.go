package metastore

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/insurecove/document-service/pkg/models"
)

// AppendAccessLog persists one audit entry. Entries are append-only; the
// store assigns the ID and stamps AccessedAt when the caller left it zero.
func (s *GORMStore) AppendAccessLog(ctx context.Context, entry *models.AccessLog) error {
	if err := entry.Validate(); err != nil {
		return fmt.Errorf("invalid access log entry: %w", err)
	}

	entry.ID = uuid.New().String()
	if entry.AccessedAt.IsZero() {
		entry.AccessedAt = s.clock.UTCNow()
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append access log: %w", err)
	}
	return nil
}

// ListAccessLogs returns the most recent audit entries for a document,
// newest first, capped at limit.
func (s *GORMStore) ListAccessLogs(ctx context.Context, documentID string, limit int) ([]*models.AccessLog, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	var entries []*models.AccessLog
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("accessed_at DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list access logs: %w", err)
	}
	return entries, nil
}
