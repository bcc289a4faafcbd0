package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type eventClaimRecord struct {
	bun.BaseModel `bun:"table:webhook_event_claims,alias:wec"`

	ID         string    `bun:"id,pk"`
	ProviderID string    `bun:"provider_id,notnull"`
	EventID    string    `bun:"event_id,notnull"`
	Status     string    `bun:"status,notnull"`
	ReservedAt time.Time `bun:"reserved_at,nullzero,notnull"`
	ExpiresAt  time.Time `bun:"expires_at,nullzero,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type auditEntryRecord struct {
	bun.BaseModel `bun:"table:webhook_audit_entries,alias:wae"`

	ID         string    `bun:"id,pk"`
	ProviderID string    `bun:"provider_id,notnull"`
	EventID    string    `bun:"event_id"`
	EventType  string    `bun:"event_type"`
	Outcome    string    `bun:"outcome,notnull"`
	Error      string    `bun:"error"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
