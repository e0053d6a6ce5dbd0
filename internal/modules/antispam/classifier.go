// Package antispam turns an inbound guild message into a moderation verdict.
// It records the message in the shared history and then applies, in order,
// the exemptions, the burst and duplicate spam rules and the banned-word
// lookup.
package antispam

import (
	"strings"
	"time"

	"github.com/cannies936/Level-Cannies/internal/config"
	"github.com/cannies936/Level-Cannies/internal/history"
	"github.com/cannies936/Level-Cannies/internal/modules/banword"
	"github.com/cannies936/Level-Cannies/internal/modules/whitelist"
)

type Message struct {
	GuildID       string
	ChannelID     string
	MessageID     string
	AuthorID      string
	AuthorIsBot   bool
	AuthorIsAdmin bool
	// CanManage is set for members holding Manage Messages or Administrator.
	CanManage bool
	RoleIDs       []string
	Content       string
	Timestamp     time.Time
}

type Kind int

const (
	Clean Kind = iota
	Spam
	BannedWord
)

func (k Kind) String() string {
	switch k {
	case Spam:
		return "spam"
	case BannedWord:
		return "banned_word"
	default:
		return "clean"
	}
}

type Rule string

const (
	RuleBurst     Rule = "burst"
	RuleDuplicate Rule = "duplicate"
)

type Verdict struct {
	Kind   Kind
	Rule   Rule
	Word   string
	Action banword.Action
}

type Classifier struct {
	history   *history.Store
	whitelist *whitelist.Registry
	banwords  *banword.Registry
	prefix    string
}

func NewClassifier(store *history.Store, wl *whitelist.Registry, bw *banword.Registry, commandPrefix string) *Classifier {
	return &Classifier{history: store, whitelist: wl, banwords: bw, prefix: commandPrefix}
}

func (c *Classifier) Classify(msg Message, cfg config.SpamConfig) Verdict {
	if msg.GuildID == "" {
		return Verdict{Kind: Clean}
	}
	c.history.Record(msg.GuildID, msg.AuthorID, msg.Timestamp, history.Normalize(msg.Content))

	if msg.AuthorIsBot {
		return Verdict{Kind: Clean}
	}
	if c.whitelist.IsWhitelisted(msg.GuildID, msg.AuthorID, msg.RoleIDs) {
		return Verdict{Kind: Clean}
	}

	command := c.isCommand(msg.Content)
	if cfg.Enabled && !msg.AuthorIsAdmin && !command {
		if rule, ok := c.spamRule(msg, cfg); ok {
			return Verdict{Kind: Spam, Rule: rule}
		}
	}

	// Moderators must be able to name a banned word to remove it.
	if command && msg.CanManage && c.commandName(msg.Content) == banwordCommand {
		return Verdict{Kind: Clean}
	}
	if word, action, ok := c.banwords.Match(msg.GuildID, msg.Content); ok {
		return Verdict{Kind: BannedWord, Word: word, Action: action}
	}
	return Verdict{Kind: Clean}
}

func (c *Classifier) spamRule(msg Message, cfg config.SpamConfig) (Rule, bool) {
	if c.history.RecentWithin(msg.GuildID, msg.AuthorID, msg.Timestamp, cfg.TimeWindow()) >= cfg.MessageLimit {
		return RuleBurst, true
	}
	if isDuplicateRun(c.history.LastBodies(msg.GuildID, msg.AuthorID, cfg.DuplicateLimit), cfg.DuplicateLimit) {
		return RuleDuplicate, true
	}
	return "", false
}

const banwordCommand = "banword"

func (c *Classifier) isCommand(content string) bool {
	return c.prefix != "" && strings.HasPrefix(content, c.prefix)
}

func (c *Classifier) commandName(content string) string {
	fields := strings.Fields(strings.TrimPrefix(content, c.prefix))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

func isDuplicateRun(bodies []string, limit int) bool {
	if limit <= 0 || len(bodies) < limit || strings.TrimSpace(bodies[0]) == "" {
		return false
	}
	for _, body := range bodies[1:] {
		if body != bodies[0] {
			return false
		}
	}
	return true
}
