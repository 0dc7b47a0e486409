package syncer

import (
	"errors"
	"fmt"

	"github.com/johnwards/hubsync/internal/domain"
)

// ErrCursorStalled is returned when a page ceiling rollover would not move
// the search window forward, for example when more than the ceiling's worth
// of records share one modification timestamp.
var ErrCursorStalled = errors.New("cursor rollover did not advance the search window")

// FetchExhausted is returned when a search failed on every attempt.
type FetchExhausted struct {
	ObjectType domain.EntityType
	Attempts   int
	Err        error
}

func (e *FetchExhausted) Error() string {
	return fmt.Sprintf("fetch %s: giving up after %d attempts: %v", e.ObjectType, e.Attempts, e.Err)
}

func (e *FetchExhausted) Unwrap() error { return e.Err }

// AssociationFetchError is returned when an association lookup, or the
// follow-up batch read of the associated records, fails.
type AssociationFetchError struct {
	From string
	To   string
	Err  error
}

func (e *AssociationFetchError) Error() string {
	return fmt.Sprintf("fetch %s to %s associations: %v", e.From, e.To, e.Err)
}

func (e *AssociationFetchError) Unwrap() error { return e.Err }

// PersistenceError is returned when the domain could not be saved after an
// account was synced.
type PersistenceError struct {
	HubID string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("save domain after hub %s: %v", e.HubID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
