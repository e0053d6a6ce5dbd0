// Package confirm pairs a destructive operator command with the operator's
// next yes/no reply in the same channel.
package confirm

import (
	"context"
	"strings"
	"sync"
	"time"
)

type Result int

const (
	TimedOut Result = iota
	Confirmed
	Declined
)

func (r Result) String() string {
	switch r {
	case Confirmed:
		return "confirmed"
	case Declined:
		return "declined"
	default:
		return "timed_out"
	}
}

type key struct {
	channelID string
	userID    string
}

type Waiter struct {
	mu      sync.Mutex
	pending map[key]chan Result
}

func NewWaiter() *Waiter {
	return &Waiter{pending: make(map[key]chan Result)}
}

// Await blocks until the user answers in the channel, the timeout elapses or
// ctx ends. A newer Await for the same user and channel declines this one.
func (w *Waiter) Await(ctx context.Context, channelID, userID string, timeout time.Duration) Result {
	k := key{channelID: channelID, userID: userID}
	ch := make(chan Result, 1)

	w.mu.Lock()
	if old := w.pending[k]; old != nil {
		old <- Declined
	}
	w.pending[k] = ch
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case result := <-ch:
		return result
	case <-ctx.Done():
		w.mu.Lock()
		if w.pending[k] == ch {
			delete(w.pending, k)
		}
		w.mu.Unlock()
		return TimedOut
	}
}

// Deliver hands a chat message to a waiting Await. It reports whether the
// message was consumed as an answer.
func (w *Waiter) Deliver(channelID, userID, content string) bool {
	result, ok := parseReply(content)
	if !ok {
		return false
	}
	k := key{channelID: channelID, userID: userID}

	w.mu.Lock()
	ch := w.pending[k]
	if ch != nil {
		delete(w.pending, k)
	}
	w.mu.Unlock()
	if ch == nil {
		return false
	}
	ch <- result
	return true
}

func parseReply(content string) (Result, bool) {
	switch strings.ToLower(strings.TrimSpace(content)) {
	case "yes", "y":
		return Confirmed, true
	case "no", "n", "cancel":
		return Declined, true
	default:
		return TimedOut, false
	}
}
