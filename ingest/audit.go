package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
)

// InMemoryAuditLog keeps delivery attempts in memory, for tests and
// embedded wiring.
type InMemoryAuditLog struct {
	mu      sync.Mutex
	entries []core.AuditEntry
	Now     func() time.Time
}

func NewInMemoryAuditLog() *InMemoryAuditLog {
	return &InMemoryAuditLog{
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (l *InMemoryAuditLog) Record(_ context.Context, entry core.AuditEntry) error {
	if l == nil {
		return core.InternalError("ingest: audit log is nil", nil)
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
	return nil
}

func (l *InMemoryAuditLog) Entries() []core.AuditEntry {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]core.AuditEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *InMemoryAuditLog) now() time.Time {
	if l != nil && l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

var _ core.AuditLog = (*InMemoryAuditLog)(nil)
