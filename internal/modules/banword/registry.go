// Package banword keeps the per-guild banned term lists and the policy applied
// when a message contains one of them.
package banword

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

var (
	ErrAlreadyPresent = errors.New("word already banned")
	ErrNotPresent     = errors.New("word not banned")
	ErrEmpty          = errors.New("banword list is already empty")
	ErrInvalid        = errors.New("invalid banword input")
)

type Action int

const (
	ActionDelete Action = iota
	ActionWarn
	ActionMute
)

func (a Action) String() string {
	switch a {
	case ActionWarn:
		return "warn"
	case ActionMute:
		return "mute"
	default:
		return "delete"
	}
}

func ParseAction(value string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "delete":
		return ActionDelete, nil
	case "warn":
		return ActionWarn, nil
	case "mute":
		return ActionMute, nil
	default:
		return ActionDelete, fmt.Errorf("%w: unknown action %q", ErrInvalid, value)
	}
}

type Settings struct {
	Enabled       bool
	Action        Action
	CaseSensitive bool
	Words         int
}

type list struct {
	enabled       bool
	action        Action
	caseSensitive bool
	words         map[string]struct{}
}

type Registry struct {
	mu            sync.RWMutex
	maxWordLength int
	guilds        map[string]*list
}

func NewRegistry(maxWordLength int) *Registry {
	if maxWordLength <= 0 {
		maxWordLength = 100
	}
	return &Registry{
		maxWordLength: maxWordLength,
		guilds:        make(map[string]*list),
	}
}

func (r *Registry) Settings(guildID string) Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.listLocked(guildID)
	return Settings{Enabled: l.enabled, Action: l.action, CaseSensitive: l.caseSensitive, Words: len(l.words)}
}

func (r *Registry) Enable(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listLocked(guildID).enabled = true
}

func (r *Registry) Disable(guildID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listLocked(guildID).enabled = false
}

// Add stores the trimmed word as given. Duplicates are detected with the
// guild's current case policy.
func (r *Registry) Add(guildID, word string) (string, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return "", fmt.Errorf("%w: word is empty", ErrInvalid)
	}
	if n := utf8.RuneCountInString(word); n > r.maxWordLength {
		return "", fmt.Errorf("%w: word has %d characters, limit is %d", ErrInvalid, n, r.maxWordLength)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.listLocked(guildID)
	if _, ok := r.findLocked(l, word); ok {
		return "", ErrAlreadyPresent
	}
	l.words[word] = struct{}{}
	return word, nil
}

// Remove deletes the stored word matching word under the case policy and
// returns it in its stored form.
func (r *Registry) Remove(guildID, word string) (string, error) {
	word = strings.TrimSpace(word)
	if word == "" {
		return "", fmt.Errorf("%w: word is empty", ErrInvalid)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.listLocked(guildID)
	stored, ok := r.findLocked(l, word)
	if !ok {
		return "", ErrNotPresent
	}
	delete(l.words, stored)
	return stored, nil
}

func (r *Registry) List(guildID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l := r.guilds[guildID]
	if l == nil {
		return nil
	}
	return sortedWords(l.words)
}

func (r *Registry) Clear(guildID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.listLocked(guildID)
	if len(l.words) == 0 {
		return 0, ErrEmpty
	}
	removed := len(l.words)
	l.words = make(map[string]struct{})
	return removed, nil
}

// SetAction parses value and stores it, returning the previous action.
func (r *Registry) SetAction(guildID, value string) (Action, error) {
	action, err := ParseAction(value)
	if err != nil {
		return ActionDelete, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.listLocked(guildID)
	previous := l.action
	l.action = action
	return previous, nil
}

func (r *Registry) SetCaseSensitive(guildID string, sensitive bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	l := r.listLocked(guildID)
	previous := l.caseSensitive
	l.caseSensitive = sensitive
	return previous
}

// Match reports the first banned word, in sorted order, contained in content.
// Disabled lists and empty content never match.
func (r *Registry) Match(guildID, content string) (string, Action, bool) {
	if content == "" {
		return "", ActionDelete, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	l := r.guilds[guildID]
	if l == nil || !l.enabled || len(l.words) == 0 {
		return "", ActionDelete, false
	}

	haystack := content
	caser := cases.Fold()
	if !l.caseSensitive {
		haystack = caser.String(content)
	}
	for _, word := range sortedWords(l.words) {
		needle := word
		if !l.caseSensitive {
			needle = caser.String(word)
		}
		if strings.Contains(haystack, needle) {
			return word, l.action, true
		}
	}
	return "", ActionDelete, false
}

func (r *Registry) findLocked(l *list, word string) (string, bool) {
	if _, ok := l.words[word]; ok || l.caseSensitive {
		return word, ok
	}
	// Variants added while case-sensitive resolve in sorted order.
	folded := fold(word)
	for _, existing := range sortedWords(l.words) {
		if fold(existing) == folded {
			return existing, true
		}
	}
	return "", false
}

func (r *Registry) listLocked(guildID string) *list {
	l := r.guilds[guildID]
	if l == nil {
		l = &list{words: make(map[string]struct{})}
		r.guilds[guildID] = l
	}
	return l
}

func sortedWords(words map[string]struct{}) []string {
	out := make([]string, 0, len(words))
	for word := range words {
		out = append(out, word)
	}
	sort.Strings(out)
	return out
}

// Casers are stateful, so each call gets its own.
func fold(s string) string {
	return cases.Fold().String(s)
}
