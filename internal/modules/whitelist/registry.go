// Package whitelist holds the per-guild exemption lists. A whitelisted member
// bypasses message classification entirely while the guild's list is enabled.
package whitelist

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrAlreadyPresent = errors.New("already whitelisted")
	ErrNotPresent     = errors.New("not whitelisted")
	ErrEmpty          = errors.New("whitelist is already empty")
)

type Status struct {
	Enabled bool
	Users   int
	Roles   int
}

type Entries struct {
	Enabled bool
	Users   []string
	Roles   []string
}

type set struct {
	enabled bool
	users   map[string]struct{}
	roles   map[string]struct{}
}

type Registry struct {
	mu     sync.RWMutex
	guilds map[string]*set
}

func NewRegistry() *Registry {
	return &Registry{guilds: make(map[string]*set)}
}

func (r *Registry) Status(guildID string) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.setLocked(guildID)
	return Status{Enabled: s.enabled, Users: len(s.users), Roles: len(s.roles)}
}

func (r *Registry) Enable(guildID string) {
	r.setEnabled(guildID, true)
}

func (r *Registry) Disable(guildID string) {
	r.setEnabled(guildID, false)
}

func (r *Registry) setEnabled(guildID string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.setLocked(guildID).enabled = enabled
}

func (r *Registry) AddUser(guildID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return add(r.setLocked(guildID).users, userID)
}

func (r *Registry) RemoveUser(guildID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return remove(r.setLocked(guildID).users, userID)
}

func (r *Registry) AddRole(guildID, roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return add(r.setLocked(guildID).roles, roleID)
}

func (r *Registry) RemoveRole(guildID, roleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return remove(r.setLocked(guildID).roles, roleID)
}

func (r *Registry) List(guildID string) Entries {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.setLocked(guildID)
	return Entries{Enabled: s.enabled, Users: sortedKeys(s.users), Roles: sortedKeys(s.roles)}
}

// Clear empties both the user and role sets. It reports ErrEmpty when there
// is nothing to remove.
func (r *Registry) Clear(guildID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.setLocked(guildID)
	total := len(s.users) + len(s.roles)
	if total == 0 {
		return 0, ErrEmpty
	}
	s.users = make(map[string]struct{})
	s.roles = make(map[string]struct{})
	return total, nil
}

// IsWhitelisted reports whether the list is enabled for the guild and either
// the user or one of the given roles is registered.
func (r *Registry) IsWhitelisted(guildID, userID string, roleIDs []string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.guilds[guildID]
	if s == nil || !s.enabled {
		return false
	}
	if _, ok := s.users[userID]; ok {
		return true
	}
	for _, roleID := range roleIDs {
		if _, ok := s.roles[roleID]; ok {
			return true
		}
	}
	return false
}

func (r *Registry) setLocked(guildID string) *set {
	s := r.guilds[guildID]
	if s == nil {
		s = &set{users: make(map[string]struct{}), roles: make(map[string]struct{})}
		r.guilds[guildID] = s
	}
	return s
}

func add(m map[string]struct{}, id string) error {
	if _, ok := m[id]; ok {
		return ErrAlreadyPresent
	}
	m[id] = struct{}{}
	return nil
}

func remove(m map[string]struct{}, id string) error {
	if _, ok := m[id]; !ok {
		return ErrNotPresent
	}
	delete(m, id)
	return nil
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
