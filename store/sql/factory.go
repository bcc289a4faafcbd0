package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/uptrace/bun"
)

// StoreFactory builds the SQL-backed ledger and audit stores off one shared
// bun connection.
type StoreFactory struct {
	db *bun.DB

	eventClaimStore *EventClaimStore
	auditStore      *AuditStore
}

func NewStoreFactoryFromPersistence(client *persistence.Client) (*StoreFactory, error) {
	return newStoreFactory(client)
}

func NewStoreFactoryFromDB(db *bun.DB) (*StoreFactory, error) {
	return newStoreFactory(db)
}

func newStoreFactory(persistenceClient any) (*StoreFactory, error) {
	db, err := resolveBunDB(persistenceClient)
	if err != nil {
		return nil, err
	}
	eventClaimStore, err := NewEventClaimStore(db)
	if err != nil {
		return nil, err
	}
	auditStore, err := NewAuditStore(db)
	if err != nil {
		return nil, err
	}
	return &StoreFactory{
		db:              db,
		eventClaimStore: eventClaimStore,
		auditStore:      auditStore,
	}, nil
}

func (f *StoreFactory) EventClaimStore() *EventClaimStore {
	if f == nil {
		return nil
	}
	return f.eventClaimStore
}

func (f *StoreFactory) AuditStore() *AuditStore {
	if f == nil {
		return nil
	}
	return f.auditStore
}

func (f *StoreFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
