// Package timestore provides a bounded, time-ordered log of value snapshots.
//
// A Store keeps Entry records sorted by timestamp and enforces two retention
// rules: an age bound (period) applied relative to the caller-supplied "now",
// and a count bound (limit) that rejects insertions instead of evicting.
//
// Store is not safe for concurrent use. Each store is owned by the single
// host function instance that created it.
package timestore

import (
	"math"
	"sort"

	"github.com/HatiCode/timequery/pkg/errcode"
)

const (
	// DefaultLimit is the entry cap used when none is configured.
	DefaultLimit = 500
	// MaxLimit is the largest entry cap, for stores bounded by period only.
	MaxLimit = math.MaxInt32
	// Unbounded disables the age bound.
	Unbounded int64 = -1
)

// Entry is one sampled snapshot. Entries are immutable once stored.
type Entry struct {
	Timestamp int64          `json:"timestamp"`
	Values    map[string]any `json:"values"`
}

// Value returns the value stored for key and whether the key is present.
// A present key may still hold nil.
func (e Entry) Value(key string) (any, bool) {
	v, ok := e.Values[key]
	return v, ok
}

// Store is a bounded, sorted append log of entries.
type Store struct {
	entries []Entry
	limit   int
	period  int64
}

// New creates a store with the given limit (entries) and period (ms).
// A limit below 1 falls back to DefaultLimit; a period <= 0 means unbounded.
func New(limit int, period int64) *Store {
	s := &Store{}
	s.SetRetention(limit, period)
	return s
}

// SetRetention updates the count and age bounds. Existing entries are not
// touched until the next insertion.
func (s *Store) SetRetention(limit int, period int64) {
	if limit < 1 {
		limit = DefaultLimit
	}
	if period <= 0 {
		period = Unbounded
	}
	s.limit = limit
	s.period = period
}

// Limit returns the configured entry cap.
func (s *Store) Limit() int { return s.limit }

// Period returns the configured age bound in milliseconds, or Unbounded.
func (s *Store) Period() int64 { return s.period }

// Size returns the number of stored entries.
func (s *Store) Size() int { return len(s.entries) }

// Insert stores a snapshot taken at timestamp.
//
// When a period is configured, entries older than now-period are purged
// first, and a snapshot whose own timestamp is already outside the period is
// dropped without error; inserted reports false in that case.
//
// The snapshot is placed after any existing entries with an equal timestamp.
// If storing it would exceed the limit, Insert returns errcode.ErrLimit and
// leaves the entries untouched.
func (s *Store) Insert(now, timestamp int64, values map[string]any) (inserted bool, err error) {
	if s.period != Unbounded {
		cutoff := now - s.period
		if timestamp < cutoff {
			return false, nil
		}
		s.evictBefore(cutoff)
	}

	if len(s.entries)+1 > s.limit {
		return false, errcode.Limitf("time store holds %d entries, limit is %d", len(s.entries), s.limit)
	}

	entry := Entry{Timestamp: timestamp, Values: cloneValues(values)}

	idx := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Timestamp > timestamp
	})

	s.entries = append(s.entries, Entry{})
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = entry

	return true, nil
}

// evictBefore drops entries with a timestamp strictly below cutoff.
func (s *Store) evictBefore(cutoff int64) {
	idx := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Timestamp >= cutoff
	})
	if idx == 0 {
		return
	}
	remaining := make([]Entry, len(s.entries)-idx)
	copy(remaining, s.entries[idx:])
	s.entries = remaining
}

// Values returns, in store order, the value of key for every entry.
// Entries lacking the key contribute nil.
func (s *Store) Values(key string) []any {
	out := make([]any, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Values[key]
	}
	return out
}

// Timestamps returns all stored timestamps in order.
func (s *Store) Timestamps() []int64 {
	out := make([]int64, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.Timestamp
	}
	return out
}

// Entries returns a copy of the stored entries in order.
func (s *Store) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Range returns the entries whose timestamp falls in [from, to).
func (s *Store) Range(from, to int64) []Entry {
	lo := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Timestamp >= from
	})
	hi := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Timestamp >= to
	})
	if lo >= hi {
		return nil
	}
	out := make([]Entry, hi-lo)
	copy(out, s.entries[lo:hi])
	return out
}

// NextAt returns the earliest timestamp that is >= from.
func (s *Store) NextAt(from int64) (int64, bool) {
	idx := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Timestamp >= from
	})
	if idx == len(s.entries) {
		return 0, false
	}
	return s.entries[idx].Timestamp, true
}

// Reset removes all entries. Retention settings are kept.
func (s *Store) Reset() {
	s.entries = nil
}

func cloneValues(values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = v
	}
	return out
}
