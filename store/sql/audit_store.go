package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-billing-webhooks/core"
)

// AuditStore persists one row per delivery attempt. Append-only: nothing in
// the package updates or deletes audit rows.
type AuditStore struct {
	db   *bun.DB
	repo repository.Repository[*auditEntryRecord]
	now  func() time.Time
}

func NewAuditStore(db *bun.DB) (*AuditStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*auditEntryRecord](db, auditEntryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid audit repository wiring: %w", err)
		}
	}
	return &AuditStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *AuditStore) Record(ctx context.Context, entry core.AuditEntry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: audit store is not configured")
	}
	if strings.TrimSpace(entry.ProviderID) == "" {
		return fmt.Errorf("sqlstore: audit entry provider id is required")
	}
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	record := &auditEntryRecord{
		ID:         uuid.NewString(),
		ProviderID: strings.TrimSpace(entry.ProviderID),
		EventID:    strings.TrimSpace(entry.EventID),
		EventType:  strings.TrimSpace(entry.EventType),
		Outcome:    string(entry.Outcome),
		Error:      entry.Error,
		CreatedAt:  createdAt,
	}
	_, err := s.db.NewInsert().Model(record).Exec(ctx)
	return err
}

// Recent returns the newest entries for a provider, latest first. Used by
// operational tooling, not by the ingest path.
func (s *AuditStore) Recent(ctx context.Context, providerID string, limit int) ([]core.AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: audit store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	var records []*auditEntryRecord
	query := s.db.NewSelect().
		Model(&records).
		Order("created_at DESC").
		Limit(limit)
	if providerID = strings.TrimSpace(providerID); providerID != "" {
		query = query.Where("?TableAlias.provider_id = ?", providerID)
	}
	if err := query.Scan(ctx); err != nil {
		return nil, err
	}
	entries := make([]core.AuditEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, core.AuditEntry{
			EventID:    record.EventID,
			ProviderID: record.ProviderID,
			EventType:  record.EventType,
			Outcome:    core.Outcome(record.Outcome),
			Error:      record.Error,
			CreatedAt:  record.CreatedAt,
		})
	}
	return entries, nil
}

var _ core.AuditLog = (*AuditStore)(nil)
