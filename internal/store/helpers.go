package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// nowMillis returns the current UTC time as epoch milliseconds.
func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}

// toMillis stores the zero time as 0 so "never pulled" survives a round trip.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
