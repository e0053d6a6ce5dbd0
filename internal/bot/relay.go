package bot

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cannies936/Level-Cannies/internal/modules/audit"
)

const (
	relayQueueSize = 64
	relayPerSecond = 2
	relayBurst     = 5
)

// auditRelay moves audit entries to the security log channel off the
// caller's goroutine. Entries beyond the queue are dropped.
type auditRelay struct {
	queue   chan audit.Entry
	limiter *rate.Limiter
	send    func(audit.Entry)
	logger  *zap.Logger
}

func newAuditRelay(size int, limit rate.Limit, burst int, send func(audit.Entry), logger *zap.Logger) *auditRelay {
	return &auditRelay{
		queue:   make(chan audit.Entry, size),
		limiter: rate.NewLimiter(limit, burst),
		send:    send,
		logger:  logger,
	}
}

// Enqueue never blocks and reports whether the entry was queued.
func (r *auditRelay) Enqueue(entry audit.Entry) bool {
	select {
	case r.queue <- entry:
		return true
	default:
		r.logger.Debug("security log queue full, entry dropped", zap.String("guild_id", entry.GuildID), zap.String("event", entry.Event))
		return false
	}
}

func (r *auditRelay) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry := <-r.queue:
			if err := r.limiter.Wait(ctx); err != nil {
				return
			}
			r.send(entry)
		}
	}
}
