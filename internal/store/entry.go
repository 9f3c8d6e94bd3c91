package store

import (
	"bytes"
	"time"
)

// Entry is a single value stored under a key.
//
// Design choices:
// - (Key, Value) identifies an entry; one key may hold many values.
// - CreatedAt is fixed at insertion, ExpiresAt may only move forward.
// - An entry is dead once now >= ExpiresAt.
type Entry struct {
	Key       []byte
	Value     []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// NewEntry builds an entry living ttl from now.
func NewEntry(key, value []byte, now time.Time, ttl time.Duration) Entry {
	return Entry{
		Key:       key,
		Value:     value,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// IsExpired checks whether the entry is expired at the given time.
func (e Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Matches reports whether e holds the given value.
func (e Entry) Matches(value []byte) bool {
	return bytes.Equal(e.Value, value)
}

// Age is the time elapsed since creation.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// Lifetime is the full span between creation and expiry.
func (e Entry) Lifetime() time.Duration {
	return e.ExpiresAt.Sub(e.CreatedAt)
}

// Remaining is the time left before expiry.
func (e Entry) Remaining(now time.Time) time.Duration {
	return e.ExpiresAt.Sub(now)
}
