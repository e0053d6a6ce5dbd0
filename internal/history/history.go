// Package history keeps the recent message record of every (guild, user)
// pair: the last few timestamps for burst detection and the last few
// normalized bodies for duplicate detection.
package history

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

const (
	MaxTimestamps = 20
	MaxBodies     = 5
)

type key struct {
	guildID string
	userID  string
}

type record struct {
	times  *window[time.Time]
	bodies *window[string]
}

type Store struct {
	mu      sync.Mutex
	records map[key]*record
}

func NewStore() *Store {
	return &Store{records: make(map[key]*record)}
}

// Record appends a message to the pair's history. The body is expected to be
// normalized already (see Normalize).
func (s *Store) Record(guildID, userID string, at time.Time, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.recordLocked(guildID, userID)
	rec.times.push(at)
	rec.bodies.push(body)
}

// RecentWithin counts recorded timestamps t with now-t <= window.
func (s *Store) RecentWithin(guildID, userID string, now time.Time, window time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[key{guildID, userID}]
	if rec == nil {
		return 0
	}
	count := 0
	for _, at := range rec.times.entries {
		if now.Sub(at) <= window {
			count++
		}
	}
	return count
}

// LastBodies returns at most n of the most recent bodies, oldest first.
func (s *Store) LastBodies(guildID, userID string, n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[key{guildID, userID}]
	if rec == nil {
		return nil
	}
	return rec.bodies.tail(n)
}

func (s *Store) Len(guildID, userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.records[key{guildID, userID}]
	if rec == nil {
		return 0
	}
	return rec.times.len()
}

func (s *Store) recordLocked(guildID, userID string) *record {
	k := key{guildID, userID}
	rec := s.records[k]
	if rec == nil {
		rec = &record{
			times:  newWindow[time.Time](MaxTimestamps),
			bodies: newWindow[string](MaxBodies),
		}
		s.records[k] = rec
	}
	return rec
}

// Normalize lower-cases and trims a message body so that trivially different
// repeats compare equal.
func Normalize(content string) string {
	// cases.Caser keeps state, so a fresh one is built per call.
	lower := cases.Lower(language.Und).String(norm.NFC.String(content))
	return strings.TrimSpace(lower)
}
