package moderation

import (
	"context"
	"errors"
	"time"
)

var (
	ErrPermissionDenied = errors.New("missing permission for moderation action")
	ErrNotFound         = errors.New("moderation target not found")
	ErrNotMuted         = errors.New("member is not muted")
	ErrMuteRoleMissing  = errors.New("mute role does not exist")
)

type MessageRef struct {
	GuildID   string
	ChannelID string
	MessageID string
}

type NoticeKind string

const (
	NoticeSpamWarning   NoticeKind = "spam_warning"
	NoticeSpamMute      NoticeKind = "spam_mute"
	NoticeBanwordDelete NoticeKind = "banword_delete"
	NoticeBanwordWarn   NoticeKind = "banword_warn"
	NoticeBanwordMute   NoticeKind = "banword_mute"
)

// Notice is a short-lived channel message addressed to the offending user.
// AutoDismiss of zero keeps the notice.
type Notice struct {
	Kind         NoticeKind
	GuildID      string
	UserID       string
	Warnings     int
	Threshold    int
	Word         string
	MuteDuration time.Duration
	AutoDismiss  time.Duration
}

// Executor performs platform side effects. Implementations map a missing
// target to ErrNotFound and a refused request to ErrPermissionDenied.
type Executor interface {
	DeleteMessage(ctx context.Context, ref MessageRef) error
	SendNotice(ctx context.Context, channelID string, notice Notice) error
	// EnsureMuteRole returns the guild's mute role, creating it and denying
	// send and speak on every text, voice and stage channel when absent.
	EnsureMuteRole(ctx context.Context, guildID string) (string, error)
	// FindMuteRole returns ErrMuteRoleMissing when the role does not exist.
	FindMuteRole(ctx context.Context, guildID string) (string, error)
	HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error)
	AddRole(ctx context.Context, guildID, userID, roleID, reason string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error
}
