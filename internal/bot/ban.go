package bot

import (
	"fmt"
	"regexp"

	"github.com/bwmarrin/discordgo"
)

const maxBanReason = 512

// BanTarget is what a ban command resolved its argument to: a guild member,
// a user outside the guild, or a bare id Discord could not resolve.
type BanTarget interface {
	ID() string
	Label() string
	banTarget()
}

type KnownMember struct {
	Member *discordgo.Member
}

func (m KnownMember) ID() string    { return m.Member.User.ID }
func (m KnownMember) Label() string { return m.Member.User.String() }
func (KnownMember) banTarget()      {}

type KnownUser struct {
	User *discordgo.User
}

func (u KnownUser) ID() string    { return u.User.ID }
func (u KnownUser) Label() string { return u.User.String() }
func (KnownUser) banTarget()      {}

type UnknownUser struct {
	UserID       string
	DisplayLabel string
}

func newUnknownUser(id string) UnknownUser {
	return UnknownUser{UserID: id, DisplayLabel: fmt.Sprintf("Unknown User (%s)", id)}
}

func (u UnknownUser) ID() string    { return u.UserID }
func (u UnknownUser) Label() string { return u.DisplayLabel }
func (UnknownUser) banTarget()      {}

var (
	mentionChars = regexp.MustCompile(`[<@!&>]`)
	snowflake    = regexp.MustCompile(`^[0-9]{5,20}$`)
)

// parseID accepts a raw snowflake or a user, nickname or role mention.
func parseID(ref string) (string, bool) {
	id := mentionChars.ReplaceAllString(ref, "")
	if !snowflake.MatchString(id) {
		return "", false
	}
	return id, true
}

// auditReason formats the reason stored in the guild audit log, truncated to
// the length Discord accepts.
func auditReason(actor, reason string) string {
	full := []rune(fmt.Sprintf("Executed by: %s | Reason: %s", actor, reason))
	if len(full) <= maxBanReason {
		return string(full)
	}
	return string(full[:maxBanReason-3]) + "..."
}
