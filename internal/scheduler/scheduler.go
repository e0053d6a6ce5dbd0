// Package scheduler runs at most one deferred unmute per (guild, user).
package scheduler

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

type realTimer struct{ t *time.Timer }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return realTimer{t: time.AfterFunc(d, f)}
}

func (t realTimer) Stop() bool { return t.t.Stop() }

type Key struct {
	GuildID string
	UserID  string
}

type entry struct {
	id    uint64
	due   time.Time
	timer Timer
}

type Scheduler struct {
	mu      sync.Mutex
	clock   Clock
	nextID  uint64
	entries map[Key]*entry
}

func New() *Scheduler {
	return &Scheduler{clock: realClock{}, entries: make(map[Key]*entry)}
}

func (s *Scheduler) WithClock(clock Clock) {
	s.clock = clock
}

func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Schedule arms onExpire to run after delay, replacing and stopping any
// entry already held for key. The entry is released before onExpire runs.
func (s *Scheduler) Schedule(key Key, delay time.Duration, onExpire func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old := s.entries[key]; old != nil {
		old.timer.Stop()
	}
	s.nextID++
	id := s.nextID
	e := &entry{id: id, due: s.clock.Now().Add(delay)}
	e.timer = s.clock.AfterFunc(delay, func() {
		if !s.release(key, id) {
			return
		}
		onExpire()
	})
	s.entries[key] = e
}

func (s *Scheduler) Cancel(key Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key]
	if e == nil {
		return false
	}
	e.timer.Stop()
	delete(s.entries, key)
	return true
}

func (s *Scheduler) Pending(key Key) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key]
	if e == nil {
		return time.Time{}, false
	}
	return e.due, true
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// release drops the entry only if it still belongs to the firing timer; a
// replaced or cancelled timer that fires late finds a different id or none.
func (s *Scheduler) release(key Key, id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[key]
	if e == nil || e.id != id {
		return false
	}
	delete(s.entries, key)
	return true
}
