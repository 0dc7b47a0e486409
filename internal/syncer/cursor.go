package syncer

import (
	"strconv"
	"time"

	"github.com/johnwards/hubsync/internal/domain"
)

// PageCeiling is the highest paging offset HubSpot search accepts. Once the
// next offset reaches it the window is narrowed instead.
const PageCeiling = 9900

// Cursor is the position of a driver inside its search window.
type Cursor struct {
	// After is the paging offset sent with the next search, empty for the
	// first page of a window.
	After string
	// LastModifiedDate is the lower bound of the window.
	LastModifiedDate time.Time
}

// NewCursor starts a window at the given watermark.
func NewCursor(watermark time.Time) Cursor {
	return Cursor{LastModifiedDate: watermark}
}

// Advance moves the cursor past a fetched page. nextAfter is the page's
// paging.next.after, empty on the last page. When the next offset reaches
// PageCeiling the cursor rolls over: the offset is cleared and the window
// restarts at the latest updatedAt of the page. Records modified at exactly
// that instant are fetched again.
//
// An empty page ends the loop. A rollover that cannot move the lower bound
// forward returns ErrCursorStalled.
func (c Cursor) Advance(nextAfter string, records []*domain.Object) (Cursor, bool, error) {
	if len(records) == 0 || nextAfter == "" {
		return Cursor{LastModifiedDate: c.LastModifiedDate}, false, nil
	}

	next := Cursor{After: nextAfter, LastModifiedDate: c.LastModifiedDate}

	offset, err := strconv.Atoi(nextAfter)
	if err != nil || offset < PageCeiling {
		return next, true, nil
	}

	bound := latestUpdate(records)
	if !bound.After(c.LastModifiedDate) {
		return c, false, ErrCursorStalled
	}
	return Cursor{LastModifiedDate: bound}, true, nil
}

func latestUpdate(records []*domain.Object) time.Time {
	var latest time.Time
	for _, r := range records {
		if r.UpdatedAt.After(latest) {
			latest = r.UpdatedAt
		}
	}
	return latest
}
