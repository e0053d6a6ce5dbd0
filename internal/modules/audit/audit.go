package audit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

type Entry struct {
	GuildID   string
	UserID    string
	Level     string
	Event     string
	Details   string
	CreatedAt time.Time
}

// Logger writes audit records to zap and keeps a bounded, expiring window
// of recent entries in memory for reporting.
type Logger struct {
	logger *zap.Logger
	recent *expirable.LRU[uint64, Entry]
	seq    atomic.Uint64
	now    func() time.Time

	mu     sync.RWMutex
	notify func(context.Context, Entry)
}

func NewLogger(logger *zap.Logger, capacity int, ttl time.Duration) *Logger {
	if capacity <= 0 {
		capacity = 4096
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Logger{
		logger: logger,
		recent: expirable.NewLRU[uint64, Entry](capacity, nil, ttl),
		now:    time.Now,
	}
}

func (l *Logger) SetNotifier(notify func(context.Context, Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	entry := Entry{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: l.now(),
	}
	l.recent.Add(l.seq.Add(1), entry)

	l.mu.RLock()
	notify := l.notify
	l.mu.RUnlock()
	if notify != nil {
		notify(ctx, entry)
	}
	l.logger.Info("audit", zap.String("level", level), zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("event", event), zap.String("details", details))
}

// Recent returns the guild's retained entries created at or after since,
// oldest first.
func (l *Logger) Recent(guildID string, since time.Time) []Entry {
	var out []Entry
	for _, entry := range l.recent.Values() {
		if entry.GuildID != guildID || entry.CreatedAt.Before(since) {
			continue
		}
		out = append(out, entry)
	}
	return out
}
