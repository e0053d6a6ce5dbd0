// Package moderation owns the per-guild moderation state: it classifies each
// inbound message, applies warnings and mutes through an Executor and reverses
// mutes when their scheduled duration elapses.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/cannies936/Level-Cannies/internal/config"
	"github.com/cannies936/Level-Cannies/internal/history"
	"github.com/cannies936/Level-Cannies/internal/metrics"
	"github.com/cannies936/Level-Cannies/internal/modules/antispam"
	"github.com/cannies936/Level-Cannies/internal/modules/audit"
	"github.com/cannies936/Level-Cannies/internal/modules/banword"
	"github.com/cannies936/Level-Cannies/internal/modules/whitelist"
	"github.com/cannies936/Level-Cannies/internal/scheduler"
)

type Service struct {
	logger     *zap.Logger
	audit      *audit.Logger
	exec       Executor
	classifier *antispam.Classifier
	whitelist  *whitelist.Registry
	banwords   *banword.Registry
	scheduler  *scheduler.Scheduler
	notices    config.NoticeConfig
	banMute    time.Duration
	locks      *xsync.Map[scheduler.Key, *sync.Mutex]

	mu     sync.Mutex
	spam   config.SpamConfig
	states map[scheduler.Key]*State
	stats  map[string]*GuildStats
}

func New(cfg config.Config, exec Executor, auditLogger *audit.Logger, logger *zap.Logger) *Service {
	wl := whitelist.NewRegistry()
	bw := banword.NewRegistry(cfg.Banword.MaxWordLength)
	return &Service{
		logger:     logger,
		audit:      auditLogger,
		exec:       exec,
		classifier: antispam.NewClassifier(history.NewStore(), wl, bw, cfg.CommandPrefix),
		whitelist:  wl,
		banwords:   bw,
		scheduler:  scheduler.New(),
		notices:    cfg.Notices,
		banMute:    cfg.Banword.MuteDuration(),
		locks:      xsync.NewMap[scheduler.Key, *sync.Mutex](),
		spam:       cfg.Spam,
		states:     make(map[scheduler.Key]*State),
		stats:      make(map[string]*GuildStats),
	}
}

func (s *Service) WithClock(clock scheduler.Clock) {
	s.scheduler.WithClock(clock)
}

func (s *Service) Whitelist() *whitelist.Registry { return s.whitelist }

func (s *Service) Banwords() *banword.Registry { return s.banwords }

func (s *Service) SpamConfig() config.SpamConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spam
}

// ToggleSpam flips spam detection for every guild and returns the new value.
func (s *Service) ToggleSpam() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spam.Enabled = !s.spam.Enabled
	return s.spam.Enabled
}

// HandleMessage classifies msg and remediates it. It reports whether the
// message was consumed by moderation, in which case command dispatch is
// skipped.
func (s *Service) HandleMessage(ctx context.Context, msg antispam.Message) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			metrics.MessageHandlePanics.Inc()
			s.logger.Error("message handling panic", zap.Any("panic", r), zap.String("guild_id", msg.GuildID), zap.String("user_id", msg.AuthorID))
			handled = false
		}
	}()

	key := scheduler.Key{GuildID: msg.GuildID, UserID: msg.AuthorID}
	unlock := s.lock(key)
	defer unlock()

	cfg := s.SpamConfig()
	verdict := s.classifier.Classify(msg, cfg)
	metrics.MessagesClassified.WithLabelValues(verdict.Kind.String()).Inc()

	switch verdict.Kind {
	case antispam.Spam:
		s.onSpamDetected(ctx, msg, verdict.Rule, cfg)
		return true
	case antispam.BannedWord:
		s.onBannedWord(ctx, msg, verdict.Word, verdict.Action)
		return true
	default:
		return false
	}
}

func (s *Service) onSpamDetected(ctx context.Context, msg antispam.Message, rule antispam.Rule, cfg config.SpamConfig) {
	key := scheduler.Key{GuildID: msg.GuildID, UserID: msg.AuthorID}

	s.mu.Lock()
	state := s.stateLocked(key)
	state.Warnings++
	warnings := state.Warnings
	s.statsLocked(msg.GuildID).WarningsGiven++
	s.mu.Unlock()

	s.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.AuthorID, "spam_detected", fmt.Sprintf("rule=%s warnings=%d/%d", rule, warnings, cfg.WarningThreshold))
	s.deleteMessage(ctx, msg)

	if warnings < cfg.WarningThreshold {
		s.sendNotice(ctx, msg.ChannelID, Notice{
			Kind:        NoticeSpamWarning,
			GuildID:     msg.GuildID,
			UserID:      msg.AuthorID,
			Warnings:    warnings,
			Threshold:   cfg.WarningThreshold,
			AutoDismiss: seconds(s.notices.SpamWarningSeconds),
		})
		return
	}

	if err := s.mute(ctx, key, cfg.MuteDuration(), "automatic mute for spam"); err != nil {
		return
	}
	s.sendNotice(ctx, msg.ChannelID, Notice{
		Kind:         NoticeSpamMute,
		GuildID:      msg.GuildID,
		UserID:       msg.AuthorID,
		Warnings:     warnings,
		Threshold:    cfg.WarningThreshold,
		MuteDuration: cfg.MuteDuration(),
		AutoDismiss:  seconds(s.notices.SpamMuteSeconds),
	})
}

func (s *Service) onBannedWord(ctx context.Context, msg antispam.Message, word string, action banword.Action) {
	key := scheduler.Key{GuildID: msg.GuildID, UserID: msg.AuthorID}
	s.audit.Log(ctx, audit.LevelWarn, msg.GuildID, msg.AuthorID, "banned_word", fmt.Sprintf("action=%s word=%q", action, word))

	notice := Notice{GuildID: msg.GuildID, UserID: msg.AuthorID, Word: word}
	switch action {
	case banword.ActionWarn:
		notice.Kind = NoticeBanwordWarn
		notice.AutoDismiss = seconds(s.notices.BanwordWarnSeconds)
	case banword.ActionMute:
		s.deleteMessage(ctx, msg)
		if err := s.mute(ctx, key, s.banMute, fmt.Sprintf("automatic mute for banned word: %s", word)); err != nil {
			return
		}
		notice.Kind = NoticeBanwordMute
		notice.MuteDuration = s.banMute
		notice.AutoDismiss = seconds(s.notices.BanwordMuteSeconds)
	default:
		s.deleteMessage(ctx, msg)
		notice.Kind = NoticeBanwordDelete
		notice.AutoDismiss = seconds(s.notices.BanwordDeleteSeconds)
	}
	s.sendNotice(ctx, msg.ChannelID, notice)
}

// mute applies the mute role and arms the reversal. The caller holds the
// key's lock.
func (s *Service) mute(ctx context.Context, key scheduler.Key, duration time.Duration, reason string) error {
	roleID, err := s.exec.EnsureMuteRole(ctx, key.GuildID)
	if err != nil {
		s.reportFailure(ctx, key, "ensure_mute_role", err)
		return err
	}
	if err := s.exec.AddRole(ctx, key.GuildID, key.UserID, roleID, reason); err != nil {
		s.reportFailure(ctx, key, "add_mute_role", err)
		return err
	}
	metrics.ModerationActions.WithLabelValues("add_mute_role", "ok").Inc()

	s.mu.Lock()
	s.stateLocked(key).Muted = true
	s.statsLocked(key.GuildID).MutesApplied++
	s.mu.Unlock()

	s.scheduler.Schedule(key, duration, func() {
		s.onAutoUnmuteExpiry(context.Background(), key)
	})
	metrics.PendingUnmutes.Set(float64(s.scheduler.Len()))
	s.audit.Log(ctx, audit.LevelWarn, key.GuildID, key.UserID, "member_muted", fmt.Sprintf("duration=%s reason=%s", duration, reason))
	return nil
}

func (s *Service) onAutoUnmuteExpiry(ctx context.Context, key scheduler.Key) {
	unlock := s.lock(key)
	defer unlock()
	metrics.PendingUnmutes.Set(float64(s.scheduler.Len()))
	// Re-muted while this expiry waited for the lock.
	if _, pending := s.scheduler.Pending(key); pending {
		return
	}

	roleID, err := s.exec.FindMuteRole(ctx, key.GuildID)
	switch {
	case errors.Is(err, ErrMuteRoleMissing):
	case err != nil:
		s.reportFailure(ctx, key, "find_mute_role", err)
		return
	default:
		if err := s.exec.RemoveRole(ctx, key.GuildID, key.UserID, roleID, "mute duration elapsed"); err != nil && !errors.Is(err, ErrNotFound) {
			s.reportFailure(ctx, key, "remove_mute_role", err)
			return
		}
	}

	s.mu.Lock()
	state := s.stateLocked(key)
	state.Warnings = 0
	state.Muted = false
	s.mu.Unlock()
	s.audit.Log(ctx, audit.LevelInfo, key.GuildID, key.UserID, "auto_unmute", "mute duration elapsed")
}

// ManualReset clears the warning counter only and returns its previous
// value. A pending mute reversal is left armed.
func (s *Service) ManualReset(ctx context.Context, guildID, userID string) int {
	key := scheduler.Key{GuildID: guildID, UserID: userID}
	unlock := s.lock(key)
	defer unlock()

	s.mu.Lock()
	state := s.stateLocked(key)
	previous := state.Warnings
	state.Warnings = 0
	s.mu.Unlock()

	s.audit.Log(ctx, audit.LevelInfo, guildID, userID, "warnings_reset", fmt.Sprintf("previous=%d", previous))
	return previous
}

// ManualUnmute removes the mute role, clears the member's state and cancels
// any pending reversal.
func (s *Service) ManualUnmute(ctx context.Context, guildID, userID, reason string) error {
	key := scheduler.Key{GuildID: guildID, UserID: userID}
	unlock := s.lock(key)
	defer unlock()

	roleID, err := s.exec.FindMuteRole(ctx, guildID)
	if err != nil {
		return err
	}
	muted, err := s.exec.HasRole(ctx, guildID, userID, roleID)
	if err != nil {
		return err
	}
	if !muted {
		s.dropStaleMute(ctx, key)
		return ErrNotMuted
	}
	if err := s.exec.RemoveRole(ctx, guildID, userID, roleID, reason); err != nil && !errors.Is(err, ErrNotFound) {
		s.reportFailure(ctx, key, "remove_mute_role", err)
		return err
	}

	s.mu.Lock()
	state := s.stateLocked(key)
	state.Warnings = 0
	state.Muted = false
	s.mu.Unlock()

	s.scheduler.Cancel(key)
	metrics.PendingUnmutes.Set(float64(s.scheduler.Len()))
	s.audit.Log(ctx, audit.LevelInfo, guildID, userID, "manual_unmute", reason)
	return nil
}

// dropStaleMute forgets a mute whose role was already taken off outside the
// bot. Warnings of a member who was never muted are kept. The caller holds
// the key's lock.
func (s *Service) dropStaleMute(ctx context.Context, key scheduler.Key) {
	s.mu.Lock()
	state := s.states[key]
	wasMuted := state != nil && state.Muted
	if wasMuted {
		state.Warnings = 0
		state.Muted = false
	}
	s.mu.Unlock()

	cancelled := s.scheduler.Cancel(key)
	if !wasMuted && !cancelled {
		return
	}
	metrics.PendingUnmutes.Set(float64(s.scheduler.Len()))
	s.audit.Log(ctx, audit.LevelInfo, key.GuildID, key.UserID, "stale_mute_cleared", "mute role already removed")
}

func (s *Service) State(guildID, userID string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	state := s.states[scheduler.Key{GuildID: guildID, UserID: userID}]
	if state == nil {
		return State{}
	}
	return *state
}

// PendingUnmute reports when the member's mute reversal is due.
func (s *Service) PendingUnmute(guildID, userID string) (time.Time, bool) {
	return s.scheduler.Pending(scheduler.Key{GuildID: guildID, UserID: userID})
}

func (s *Service) Stats(guildID string) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out Stats
	if stats := s.stats[guildID]; stats != nil {
		out.GuildStats = *stats
	}
	for key, state := range s.states {
		if key.GuildID != guildID {
			continue
		}
		if state.Warnings > 0 {
			out.WarnedUsers++
		}
		if state.Muted {
			out.MutedUsers++
		}
	}
	return out
}

func (s *Service) deleteMessage(ctx context.Context, msg antispam.Message) {
	key := scheduler.Key{GuildID: msg.GuildID, UserID: msg.AuthorID}
	err := s.exec.DeleteMessage(ctx, MessageRef{GuildID: msg.GuildID, ChannelID: msg.ChannelID, MessageID: msg.MessageID})
	if err != nil {
		s.reportFailure(ctx, key, "delete_message", err)
		return
	}
	metrics.ModerationActions.WithLabelValues("delete_message", "ok").Inc()

	s.mu.Lock()
	s.statsLocked(msg.GuildID).MessagesDeleted++
	s.mu.Unlock()
}

func (s *Service) sendNotice(ctx context.Context, channelID string, notice Notice) {
	key := scheduler.Key{GuildID: notice.GuildID, UserID: notice.UserID}
	if err := s.exec.SendNotice(ctx, channelID, notice); err != nil {
		s.reportFailure(ctx, key, "send_notice", err)
		return
	}
	metrics.ModerationActions.WithLabelValues("send_notice", "ok").Inc()
}

// reportFailure logs a failed platform action and records it in the audit
// trail. Missing targets are only logged at debug level.
func (s *Service) reportFailure(ctx context.Context, key scheduler.Key, action string, err error) {
	fields := []zap.Field{zap.String("guild_id", key.GuildID), zap.String("user_id", key.UserID), zap.String("action", action), zap.Error(err)}
	switch {
	case errors.Is(err, ErrNotFound):
		metrics.ModerationActions.WithLabelValues(action, "not_found").Inc()
		s.logger.Debug("moderation target gone", fields...)
		return
	case errors.Is(err, ErrPermissionDenied):
		metrics.ModerationActions.WithLabelValues(action, "permission_denied").Inc()
	default:
		metrics.ModerationActions.WithLabelValues(action, "error").Inc()
	}
	s.logger.Warn("moderation action failed", fields...)
	s.audit.Log(ctx, audit.LevelWarn, key.GuildID, key.UserID, "action_failed", fmt.Sprintf("%s: %v", action, err))
}

func (s *Service) lock(key scheduler.Key) func() {
	mu, _ := s.locks.LoadOrCompute(key, func() (*sync.Mutex, bool) {
		return &sync.Mutex{}, false
	})
	mu.Lock()
	return mu.Unlock
}

func (s *Service) stateLocked(key scheduler.Key) *State {
	state := s.states[key]
	if state == nil {
		state = &State{}
		s.states[key] = state
	}
	return state
}

func (s *Service) statsLocked(guildID string) *GuildStats {
	stats := s.stats[guildID]
	if stats == nil {
		stats = &GuildStats{}
		s.stats[guildID] = stats
	}
	return stats
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
