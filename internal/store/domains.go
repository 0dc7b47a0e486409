package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/johnwards/hubsync/internal/domain"
)

// DomainStore loads and saves the tenant record with its HubSpot accounts.
type DomainStore interface {
	Load(ctx context.Context) (*domain.Domain, error)
	Save(ctx context.Context, d *domain.Domain) error
	Ensure(ctx context.Context, apiKey string) (*domain.Domain, error)
	AddAccount(ctx context.Context, domainID int64, acct domain.Account) error
}

// SQLiteDomainStore implements DomainStore backed by SQLite.
type SQLiteDomainStore struct {
	db *sql.DB
}

// NewSQLiteDomainStore creates a new SQLiteDomainStore.
func NewSQLiteDomainStore(db *sql.DB) *SQLiteDomainStore {
	return &SQLiteDomainStore{db: db}
}

// Load returns the first domain with all of its accounts in insertion order.
func (s *SQLiteDomainStore) Load(ctx context.Context) (*domain.Domain, error) {
	var d domain.Domain
	err := s.db.QueryRowContext(ctx,
		`SELECT id, api_key FROM domains ORDER BY id ASC LIMIT 1`,
	).Scan(&d.ID, &d.APIKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load domain: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("load domain: %w", err)
	}

	accounts, err := s.accounts(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	d.Accounts = accounts
	return &d, nil
}

func (s *SQLiteDomainStore) accounts(ctx context.Context, domainID int64) ([]*domain.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hub_id, access_token, refresh_token,
			last_pulled_companies, last_pulled_contacts, last_pulled_meetings
		FROM hubspot_accounts WHERE domain_id = ? ORDER BY position ASC, hub_id ASC`,
		domainID,
	)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var accounts []*domain.Account
	for rows.Next() {
		var a domain.Account
		var companies, contacts, meetings int64
		if err := rows.Scan(&a.HubID, &a.AccessToken, &a.RefreshToken, &companies, &contacts, &meetings); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.LastPulledDates = domain.LastPulledDates{
			Companies: fromMillis(companies),
			Contacts:  fromMillis(contacts),
			Meetings:  fromMillis(meetings),
		}
		accounts = append(accounts, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account rows: %w", err)
	}
	return accounts, nil
}

// Save writes every account of d in one transaction. Rows are always
// rewritten, never diffed against what was loaded.
func (s *SQLiteDomainStore) Save(ctx context.Context, d *domain.Domain) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := nowMillis()
	res, err := tx.ExecContext(ctx, `UPDATE domains SET api_key = ?, updated_at = ? WHERE id = ?`, d.APIKey, ts, d.ID)
	if err != nil {
		return fmt.Errorf("update domain: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("domain %d: %w", d.ID, ErrNotFound)
	}

	for i, a := range d.Accounts {
		if err := upsertAccount(ctx, tx, d.ID, i, a, ts); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

func upsertAccount(ctx context.Context, tx *sql.Tx, domainID int64, position int, a *domain.Account, ts int64) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO hubspot_accounts (domain_id, hub_id, access_token, refresh_token,
			last_pulled_companies, last_pulled_contacts, last_pulled_meetings, position, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (domain_id, hub_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			last_pulled_companies = excluded.last_pulled_companies,
			last_pulled_contacts = excluded.last_pulled_contacts,
			last_pulled_meetings = excluded.last_pulled_meetings,
			position = excluded.position,
			updated_at = excluded.updated_at`,
		domainID, a.HubID, a.AccessToken, a.RefreshToken,
		toMillis(a.LastPulledDates.Companies),
		toMillis(a.LastPulledDates.Contacts),
		toMillis(a.LastPulledDates.Meetings),
		position, ts,
	)
	if err != nil {
		return fmt.Errorf("save account %s: %w", a.HubID, err)
	}
	return nil
}

// Ensure returns the domain with the given api key, creating it when missing.
func (s *SQLiteDomainStore) Ensure(ctx context.Context, apiKey string) (*domain.Domain, error) {
	ts := nowMillis()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO domains (api_key, created_at, updated_at) VALUES (?, ?, ?) ON CONFLICT (api_key) DO NOTHING`,
		apiKey, ts, ts,
	); err != nil {
		return nil, fmt.Errorf("ensure domain: %w", err)
	}

	var d domain.Domain
	if err := s.db.QueryRowContext(ctx, `SELECT id, api_key FROM domains WHERE api_key = ?`, apiKey).Scan(&d.ID, &d.APIKey); err != nil {
		return nil, fmt.Errorf("ensure domain: %w", err)
	}
	accounts, err := s.accounts(ctx, d.ID)
	if err != nil {
		return nil, err
	}
	d.Accounts = accounts
	return &d, nil
}

// AddAccount registers a HubSpot account under a domain, appending it to the
// sync order. Re-adding an existing hub id replaces its tokens and keeps its
// watermarks.
func (s *SQLiteDomainStore) AddAccount(ctx context.Context, domainID int64, acct domain.Account) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO hubspot_accounts (domain_id, hub_id, access_token, refresh_token,
			last_pulled_companies, last_pulled_contacts, last_pulled_meetings, position, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(position), -1) + 1 FROM hubspot_accounts WHERE domain_id = ?), ?)
		ON CONFLICT (domain_id, hub_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			updated_at = excluded.updated_at`,
		domainID, acct.HubID, acct.AccessToken, acct.RefreshToken,
		toMillis(acct.LastPulledDates.Companies),
		toMillis(acct.LastPulledDates.Contacts),
		toMillis(acct.LastPulledDates.Meetings),
		domainID, nowMillis(),
	)
	if err != nil {
		return fmt.Errorf("add account %s: %w", acct.HubID, err)
	}
	return nil
}
