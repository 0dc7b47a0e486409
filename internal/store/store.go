package store

import "database/sql"

// Store holds all sub-stores used by the sync worker.
type Store struct {
	DB      *sql.DB
	Domains DomainStore
	Actions *SQLiteActionStore
}

// New creates a Store with all sub-stores initialized.
func New(db *sql.DB) *Store {
	return &Store{
		DB:      db,
		Domains: NewSQLiteDomainStore(db),
		Actions: NewSQLiteActionStore(db),
	}
}
