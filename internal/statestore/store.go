// Package statestore holds the ordered (timestamp, deviceState) log
// behind each device's Façade. It is process-local and unpersisted;
// callers treat an absent entry as the empty state.
package statestore

import "sort"

// Entry pairs a device state with the timestamp it was stored at.
type Entry[S any] struct {
	Time  int64
	State S
}

// Store is an ordered, in-memory log of device states, generic over the
// device-specific state shape S.
type Store[S any] struct {
	entries []Entry[S]
	empty   S
}

// New creates an empty Store. empty is the value returned when no prior
// state exists, representing "device has nothing scheduled".
func New[S any](empty S) *Store[S] {
	return &Store[S]{empty: empty}
}

// GetStateBefore returns the entry with the greatest timestamp strictly
// less than t, or the empty state if none exists.
func (s *Store[S]) GetStateBefore(t int64) (S, int64, bool) {
	idx := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Time >= t
	})
	if idx == 0 {
		return s.empty, 0, false
	}
	e := s.entries[idx-1]
	return e.State, e.Time, true
}

// SetState inserts state at timestamp t, overwriting any entry already
// at exactly t.
func (s *Store[S]) SetState(state S, t int64) {
	idx := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].Time >= t
	})
	if idx < len(s.entries) && s.entries[idx].Time == t {
		s.entries[idx].State = state
		return
	}
	s.entries = append(s.entries, Entry[S]{})
	copy(s.entries[idx+1:], s.entries[idx:])
	s.entries[idx] = Entry[S]{Time: t, State: state}
}

// CleanUpStates discards entries older than upTo-minAge, while leaving
// at least one entry at or before that cutoff so a future GetStateBefore
// query earlier than upTo still has a baseline.
func (s *Store[S]) CleanUpStates(minAge int64, upTo int64) {
	cutoff := upTo - minAge
	keepFrom := -1
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].Time <= cutoff {
			keepFrom = i
			break
		}
	}
	if keepFrom <= 0 {
		return
	}
	s.entries = s.entries[keepFrom:]
}

// ClearStates drops every entry.
func (s *Store[S]) ClearStates() {
	s.entries = nil
}

// Len reports the number of retained entries, for diagnostics and tests.
func (s *Store[S]) Len() int { return len(s.entries) }

// EmptyState returns the sentinel value representing "device has nothing
// scheduled".
func (s *Store[S]) EmptyState() S { return s.empty }
