package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cannies936/Level-Cannies/internal/analytics"
	"github.com/cannies936/Level-Cannies/internal/config"
	"github.com/cannies936/Level-Cannies/internal/confirm"
	"github.com/cannies936/Level-Cannies/internal/moderation"
	"github.com/cannies936/Level-Cannies/internal/modules/audit"
)

type recordingReplier struct {
	mu      sync.Mutex
	replies []*discordgo.MessageEmbed
}

func (r *recordingReplier) Reply(embed *discordgo.MessageEmbed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, embed)
}

func (r *recordingReplier) last() *discordgo.MessageEmbed {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.replies) == 0 {
		return nil
	}
	return r.replies[len(r.replies)-1]
}

type staticPerms map[string]int64

func (p staticPerms) Permissions(_, _, userID string) (int64, error) {
	return p[userID], nil
}

type fakeBans struct {
	owner   string
	members map[string]bool
	banned  map[string]string
	bans    []string
	reasons []string
}

func (f *fakeBans) ResolveBanTarget(_ context.Context, _, userID string) (BanTarget, error) {
	if f.members[userID] {
		return KnownMember{Member: &discordgo.Member{User: &discordgo.User{ID: userID, Username: "member"}}}, nil
	}
	return newUnknownUser(userID), nil
}

func (f *fakeBans) IsBanned(_ context.Context, _, userID string) (bool, string, error) {
	reason, ok := f.banned[userID]
	return ok, reason, nil
}

func (f *fakeBans) Ban(_ context.Context, _, userID, reason string) error {
	f.bans = append(f.bans, userID)
	f.reasons = append(f.reasons, reason)
	f.banned[userID] = reason
	return nil
}

func (f *fakeBans) Unban(_ context.Context, _, userID, _ string) error {
	delete(f.banned, userID)
	return nil
}

func (f *fakeBans) GuildOwner(context.Context, string) (string, error) {
	return f.owner, nil
}

func (f *fakeBans) Outranks(_ context.Context, _, actorID, _ string) (bool, error) {
	return actorID == "mod" || actorID == "bot", nil
}

type nopExecutor struct {
	mu    sync.Mutex
	roles map[string]bool
}

func (n *nopExecutor) DeleteMessage(context.Context, moderation.MessageRef) error { return nil }

func (n *nopExecutor) SendNotice(context.Context, string, moderation.Notice) error { return nil }

func (n *nopExecutor) EnsureMuteRole(context.Context, string) (string, error) { return "muted", nil }

func (n *nopExecutor) FindMuteRole(context.Context, string) (string, error) { return "muted", nil }

func (n *nopExecutor) HasRole(_ context.Context, _, userID, _ string) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.roles[userID], nil
}

func (n *nopExecutor) AddRole(_ context.Context, _, userID, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.roles[userID] = true
	return nil
}

func (n *nopExecutor) RemoveRole(_ context.Context, _, userID, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.roles, userID)
	return nil
}

const (
	modID    = "100000000000000001"
	userID   = "200000000000000002"
	memberID = "300000000000000003"
	ownerID  = "400000000000000004"
	botUser  = "500000000000000005"
)

type commandHarness struct {
	set  *commandSet
	bans *fakeBans
	exec *nopExecutor
	cmds map[string]command
}

func newCommandHarness(t *testing.T) *commandHarness {
	t.Helper()
	cfg := config.DefaultConfig()
	auditLogger := audit.NewLogger(zap.NewNop(), 64, time.Hour)
	exec := &nopExecutor{roles: make(map[string]bool)}
	bans := &fakeBans{owner: ownerID, members: map[string]bool{memberID: true}, banned: make(map[string]string)}
	set := &commandSet{
		svc:            moderation.New(cfg, exec, auditLogger, zap.NewNop()),
		confirm:        confirm.NewWaiter(),
		bans:           bans,
		perms:          staticPerms{modID: discordgo.PermissionManageMessages | discordgo.PermissionBanMembers, ownerID: discordgo.PermissionAdministrator},
		analytics:      analytics.New(auditLogger),
		audit:          auditLogger,
		logger:         zap.NewNop(),
		colors:         cfg.Notices.EmbedColors,
		prefix:         cfg.CommandPrefix,
		confirmTimeout: time.Second,
		botID:          func() string { return botUser },
	}
	cmds := make(map[string]command)
	for _, cmd := range set.commands() {
		cmds[cmd.name] = cmd
	}
	return &commandHarness{set: set, bans: bans, exec: exec, cmds: cmds}
}

func (h *commandHarness) run(author, name string, args ...string) *recordingReplier {
	out := &recordingReplier{}
	req := request{GuildID: "g1", ChannelID: "c1", AuthorID: author, AuthorName: "moderator", Args: args}
	h.set.dispatch(context.Background(), h.cmds[name], req, out)
	return out
}

// runConfirmed runs a command that prompts and answers it with reply.
func (h *commandHarness) runConfirmed(t *testing.T, author, reply, name string, args ...string) *recordingReplier {
	t.Helper()
	done := make(chan *recordingReplier, 1)
	go func() { done <- h.run(author, name, args...) }()

	deadline := time.Now().Add(time.Second)
	for !h.set.confirm.Deliver("c1", author, reply) {
		if time.Now().After(deadline) {
			t.Fatalf("command %s never asked for confirmation", name)
		}
		time.Sleep(time.Millisecond)
	}
	return <-done
}

func TestPermissionGate(t *testing.T) {
	h := newCommandHarness(t)

	out := h.run(modID, "whitelist", "enable")
	assert.Contains(t, out.last().Description, "Administrator")
	assert.False(t, h.set.svc.Whitelist().Status("g1").Enabled)

	h.run(ownerID, "whitelist", "enable")
	assert.True(t, h.set.svc.Whitelist().Status("g1").Enabled)

	out = h.run(userID, "banword", "add", "foo")
	assert.Contains(t, out.last().Description, "Manage Messages")
	assert.Zero(t, h.set.svc.Banwords().Settings("g1").Words)
}

func TestWhitelistAddRemove(t *testing.T) {
	h := newCommandHarness(t)

	h.run(ownerID, "whitelist", "add", "user", "<@!"+userID+">")
	h.run(ownerID, "whitelist", "add", "role", "<@&"+memberID+">")
	out := h.run(ownerID, "whitelist", "add", "user", userID)
	assert.Contains(t, out.last().Description, "already whitelisted")

	entries := h.set.svc.Whitelist().List("g1")
	assert.Equal(t, []string{userID}, entries.Users)
	assert.Equal(t, []string{memberID}, entries.Roles)

	out = h.run(ownerID, "whitelist", "remove", "user", "nobody")
	assert.Equal(t, "Usage", out.last().Title)
}

func TestWhitelistClearNeedsConfirmation(t *testing.T) {
	h := newCommandHarness(t)
	h.run(ownerID, "whitelist", "add", "user", userID)

	h.runConfirmed(t, ownerID, "no", "whitelist", "clear")
	assert.Equal(t, 1, h.set.svc.Whitelist().Status("g1").Users)

	h.runConfirmed(t, ownerID, "yes", "whitelist", "clear")
	assert.Zero(t, h.set.svc.Whitelist().Status("g1").Users)

	out := h.run(ownerID, "whitelist", "clear")
	assert.Contains(t, out.last().Description, "already empty")
}

func TestConfirmationTimeoutAborts(t *testing.T) {
	h := newCommandHarness(t)
	h.set.confirmTimeout = 10 * time.Millisecond
	h.run(modID, "banword", "add", "foo")

	out := h.run(modID, "banword", "clear")
	assert.Equal(t, "Confirmation timed out", out.last().Title)
	assert.Equal(t, 1, h.set.svc.Banwords().Settings("g1").Words)
}

func TestBanwordCommands(t *testing.T) {
	h := newCommandHarness(t)

	h.run(modID, "banword", "add", "very", "bad", "phrase")
	assert.Equal(t, []string{"very bad phrase"}, h.set.svc.Banwords().List("g1"))

	out := h.run(modID, "banword", "setaction", "explode")
	assert.Equal(t, "Usage", out.last().Title)

	h.run(modID, "banword", "setaction", "mute")
	h.run(modID, "banword", "setcase", "on")
	settings := h.set.svc.Banwords().Settings("g1")
	assert.Equal(t, "mute", settings.Action.String())
	assert.True(t, settings.CaseSensitive)

	out = h.run(modID, "banword", "remove", "VERY", "BAD", "PHRASE")
	assert.Contains(t, out.last().Description, "is not banned")

	h.run(modID, "banword", "setcase", "off")
	h.run(modID, "banword", "remove", "VERY", "BAD", "PHRASE")
	assert.Empty(t, h.set.svc.Banwords().List("g1"))
}

func TestAntispamResetAndUnmute(t *testing.T) {
	h := newCommandHarness(t)

	out := h.run(modID, "antispam", "unmute", userID)
	assert.Contains(t, out.last().Description, "is not muted")

	h.exec.roles[userID] = true
	out = h.run(modID, "antispam", "unmute", "<@"+userID+">")
	assert.Equal(t, "Done", out.last().Title)
	assert.False(t, h.exec.roles[userID])

	out = h.run(modID, "antispam", "reset", userID)
	assert.Equal(t, "Warnings reset", out.last().Title)

	out = h.run(modID, "antispam", "toggle")
	assert.Contains(t, out.last().Description, "disabled")
	assert.False(t, h.set.svc.SpamConfig().Enabled)

	out = h.run(modID, "antispam", "stats")
	assert.Equal(t, "Spam statistics", out.last().Title)
}

func TestBanRefusals(t *testing.T) {
	h := newCommandHarness(t)

	cases := map[string]string{
		modID:   "yourself",
		botUser: "myself",
		ownerID: "owner",
	}
	for target, want := range cases {
		out := h.run(modID, "ban", target)
		require.NotNil(t, out.last())
		assert.Contains(t, out.last().Description, want)
	}

	h.bans.banned[userID] = "earlier"
	out := h.run(modID, "ban", userID)
	assert.Contains(t, out.last().Description, "already banned")
	assert.Empty(t, h.bans.bans)
}

func TestBanUnknownUserAfterConfirmation(t *testing.T) {
	h := newCommandHarness(t)
	const unknown = "600000000000000006"

	out := h.runConfirmed(t, modID, "yes", "ban", unknown, "raiding", "the", "server")
	require.Equal(t, []string{unknown}, h.bans.bans)
	assert.Equal(t, "Executed by: moderator | Reason: raiding the server", h.bans.reasons[0])
	assert.Contains(t, out.replies[0].Description, "Unknown User ("+unknown+")")
	assert.Equal(t, "Banned", out.last().Title)
}

func TestUnban(t *testing.T) {
	h := newCommandHarness(t)

	out := h.run(modID, "unban", userID)
	assert.Contains(t, out.last().Description, "is not banned")

	out = h.run(modID, "unban", "<@"+userID+">")
	assert.Equal(t, "Usage", out.last().Title)

	h.bans.banned[userID] = "spam"
	h.runConfirmed(t, modID, "yes", "unban", userID, "appeal")
	_, still := h.bans.banned[userID]
	assert.False(t, still)
}

func TestCommandPanicIsRecovered(t *testing.T) {
	h := newCommandHarness(t)
	boom := command{name: "boom", run: func(context.Context, request, replier) { panic("boom") }}
	out := &recordingReplier{}

	assert.NotPanics(t, func() {
		h.set.dispatch(context.Background(), boom, request{GuildID: "g1", AuthorID: modID}, out)
	})
	assert.Equal(t, "Error", out.last().Title)
}
