package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/cannies936/Level-Cannies/internal/analytics"
	"github.com/cannies936/Level-Cannies/internal/config"
	"github.com/cannies936/Level-Cannies/internal/confirm"
	"github.com/cannies936/Level-Cannies/internal/metrics"
	"github.com/cannies936/Level-Cannies/internal/moderation"
	"github.com/cannies936/Level-Cannies/internal/modules/audit"
	"github.com/cannies936/Level-Cannies/internal/modules/banword"
	"github.com/cannies936/Level-Cannies/internal/modules/whitelist"
)

const defaultReason = "No reason provided"

type request struct {
	GuildID    string
	ChannelID  string
	AuthorID   string
	AuthorName string
	Args       []string
}

func (r request) arg(n int) string {
	if n < len(r.Args) {
		return r.Args[n]
	}
	return ""
}

func (r request) rest(n int) string {
	if n < len(r.Args) {
		return strings.TrimSpace(strings.Join(r.Args[n:], " "))
	}
	return ""
}

type replier interface {
	Reply(embed *discordgo.MessageEmbed)
}

type banService interface {
	ResolveBanTarget(ctx context.Context, guildID, userID string) (BanTarget, error)
	IsBanned(ctx context.Context, guildID, userID string) (bool, string, error)
	Ban(ctx context.Context, guildID, userID, reason string) error
	Unban(ctx context.Context, guildID, userID, reason string) error
	GuildOwner(ctx context.Context, guildID string) (string, error)
	Outranks(ctx context.Context, guildID, actorID, targetID string) (bool, error)
}

type permissionSource interface {
	Permissions(guildID, channelID, userID string) (int64, error)
}

type command struct {
	name string
	desc string
	perm int64
	run  func(ctx context.Context, req request, out replier)
}

type commandSet struct {
	svc            *moderation.Service
	confirm        *confirm.Waiter
	bans           banService
	perms          permissionSource
	analytics      *analytics.Service
	audit          *audit.Logger
	logger         *zap.Logger
	colors         config.EmbedColors
	prefix         string
	confirmTimeout time.Duration
	botID          func() string
}

func (c *commandSet) commands() []command {
	return []command{
		{name: "whitelist", desc: "manage members exempt from moderation", perm: discordgo.PermissionAdministrator, run: c.whitelist},
		{name: "banword", desc: "manage banned words", perm: discordgo.PermissionManageMessages, run: c.banword},
		{name: "antispam", desc: "spam protection status and member controls", perm: discordgo.PermissionManageMessages, run: c.antispam},
		{name: "ban", desc: "ban a member or user id", perm: discordgo.PermissionBanMembers, run: c.ban},
		{name: "unban", desc: "lift a ban by user id", perm: discordgo.PermissionBanMembers, run: c.unban},
		{name: "help", desc: "list commands", run: c.help},
	}
}

// dispatch runs cmd after the permission check. Panics are answered with a
// generic failure so one bad command never takes the gateway handler down.
func (c *commandSet) dispatch(ctx context.Context, cmd command, req request, out replier) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CommandsHandled.WithLabelValues(cmd.name, "panic").Inc()
			c.logger.Error("command panic", zap.String("command", cmd.name), zap.String("guild_id", req.GuildID), zap.Any("panic", r))
			out.Reply(c.failure("Something went wrong while running this command."))
		}
	}()

	if req.GuildID == "" {
		out.Reply(c.failure("This command only works inside a server."))
		return
	}
	if cmd.perm != 0 && !c.allowed(req, cmd.perm) {
		metrics.CommandsHandled.WithLabelValues(cmd.name, "denied").Inc()
		out.Reply(c.failure(fmt.Sprintf("You need the %s permission to use this command.", permissionName(cmd.perm))))
		return
	}
	cmd.run(ctx, req, out)
	metrics.CommandsHandled.WithLabelValues(cmd.name, "ok").Inc()
}

func (c *commandSet) allowed(req request, perm int64) bool {
	perms, err := c.perms.Permissions(req.GuildID, req.ChannelID, req.AuthorID)
	if err != nil {
		c.logger.Warn("permission lookup failed", zap.String("guild_id", req.GuildID), zap.String("user_id", req.AuthorID), zap.Error(err))
		return false
	}
	return perms&discordgo.PermissionAdministrator != 0 || perms&perm == perm
}

// confirmed posts prompt and waits for the author's yes or no.
func (c *commandSet) confirmed(ctx context.Context, req request, out replier, prompt *discordgo.MessageEmbed) bool {
	prompt.Footer = &discordgo.MessageEmbedFooter{Text: fmt.Sprintf("Type 'yes' to continue or 'no' to cancel (%d seconds)", int(c.confirmTimeout/time.Second))}
	out.Reply(prompt)

	switch c.confirm.Await(ctx, req.ChannelID, req.AuthorID, c.confirmTimeout) {
	case confirm.Confirmed:
		return true
	case confirm.Declined:
		out.Reply(c.info("Cancelled", "Nothing was changed."))
	default:
		out.Reply(c.info("Confirmation timed out", "Nothing was changed."))
	}
	return false
}

func (c *commandSet) whitelist(ctx context.Context, req request, out replier) {
	wl := c.svc.Whitelist()
	switch strings.ToLower(req.arg(0)) {
	case "", "status":
		status := wl.Status(req.GuildID)
		out.Reply(commandEmbed("Whitelist status", enabledLabel(status.Enabled), c.colors.Action,
			field("Users", fmt.Sprint(status.Users), true),
			field("Roles", fmt.Sprint(status.Roles), true)))
	case "enable":
		wl.Enable(req.GuildID)
		c.audit.Log(ctx, audit.LevelInfo, req.GuildID, req.AuthorID, "whitelist_enabled", "")
		out.Reply(c.success("Whitelist enabled. Listed users and roles now bypass moderation."))
	case "disable":
		wl.Disable(req.GuildID)
		c.audit.Log(ctx, audit.LevelInfo, req.GuildID, req.AuthorID, "whitelist_disabled", "")
		out.Reply(c.success("Whitelist disabled."))
	case "add", "remove":
		c.whitelistEdit(ctx, req, out, wl)
	case "list":
		entries := wl.List(req.GuildID)
		out.Reply(commandEmbed("Whitelist", enabledLabel(entries.Enabled), c.colors.Action,
			field("Users", mentionList(entries.Users, "<@%s>"), false),
			field("Roles", mentionList(entries.Roles, "<@&%s>"), false)))
	case "clear":
		status := wl.Status(req.GuildID)
		if status.Users+status.Roles == 0 {
			out.Reply(c.failure("The whitelist is already empty."))
			return
		}
		prompt := commandEmbed("Clear whitelist?", fmt.Sprintf("This removes %d users and %d roles.", status.Users, status.Roles), c.colors.Warning)
		if !c.confirmed(ctx, req, out, prompt) {
			return
		}
		removed, err := wl.Clear(req.GuildID)
		if errors.Is(err, whitelist.ErrEmpty) {
			out.Reply(c.failure("The whitelist is already empty."))
			return
		}
		c.audit.Log(ctx, audit.LevelWarn, req.GuildID, req.AuthorID, "whitelist_cleared", fmt.Sprintf("removed=%d", removed))
		out.Reply(c.success(fmt.Sprintf("Whitelist cleared (%d entries removed).", removed)))
	default:
		out.Reply(c.usage("whitelist <status|enable|disable|add user|role <id>|remove user|role <id>|list|clear>"))
	}
}

func (c *commandSet) whitelistEdit(ctx context.Context, req request, out replier, wl *whitelist.Registry) {
	action := strings.ToLower(req.arg(0))
	kind := strings.ToLower(req.arg(1))
	id, ok := parseID(req.arg(2))
	if !ok || (kind != "user" && kind != "role") {
		out.Reply(c.usage(fmt.Sprintf("whitelist %s <user|role> <mention or id>", action)))
		return
	}

	var err error
	switch {
	case action == "add" && kind == "user":
		err = wl.AddUser(req.GuildID, id)
	case action == "add":
		err = wl.AddRole(req.GuildID, id)
	case kind == "user":
		err = wl.RemoveUser(req.GuildID, id)
	default:
		err = wl.RemoveRole(req.GuildID, id)
	}

	label := "<@" + id + ">"
	if kind == "role" {
		label = "<@&" + id + ">"
	}
	switch {
	case errors.Is(err, whitelist.ErrAlreadyPresent):
		out.Reply(c.failure(label + " is already whitelisted."))
	case errors.Is(err, whitelist.ErrNotPresent):
		out.Reply(c.failure(label + " is not whitelisted."))
	case err != nil:
		out.Reply(c.failure("Whitelist update failed."))
	default:
		c.audit.Log(ctx, audit.LevelInfo, req.GuildID, req.AuthorID, "whitelist_"+action, kind+"="+id)
		verb := "added to"
		if action == "remove" {
			verb = "removed from"
		}
		out.Reply(c.success(fmt.Sprintf("%s %s the whitelist.", label, verb)))
	}
}

func (c *commandSet) banword(ctx context.Context, req request, out replier) {
	words := c.svc.Banwords()
	switch strings.ToLower(req.arg(0)) {
	case "", "status", "settings":
		settings := words.Settings(req.GuildID)
		out.Reply(commandEmbed("Banned words", enabledLabel(settings.Enabled), c.colors.Action,
			field("Words", fmt.Sprint(settings.Words), true),
			field("Action", settings.Action.String(), true),
			field("Case sensitive", onOff(settings.CaseSensitive), true)))
	case "enable":
		words.Enable(req.GuildID)
		c.audit.Log(ctx, audit.LevelInfo, req.GuildID, req.AuthorID, "banword_enabled", "")
		out.Reply(c.success("Banned word filter enabled."))
	case "disable":
		words.Disable(req.GuildID)
		c.audit.Log(ctx, audit.LevelInfo, req.GuildID, req.AuthorID, "banword_disabled", "")
		out.Reply(c.success("Banned word filter disabled."))
	case "add":
		word, err := words.Add(req.GuildID, req.rest(1))
		switch {
		case errors.Is(err, banword.ErrAlreadyPresent):
			out.Reply(c.failure(fmt.Sprintf("%q is already banned.", req.rest(1))))
		case err != nil:
			out.Reply(c.failure(fmt.Sprintf("Invalid word: %v", err)))
		default:
			out.Reply(c.success(fmt.Sprintf("Added %q (%d words).", word, words.Settings(req.GuildID).Words)))
		}
	case "remove":
		word, err := words.Remove(req.GuildID, req.rest(1))
		switch {
		case errors.Is(err, banword.ErrNotPresent):
			out.Reply(c.failure(fmt.Sprintf("%q is not banned.", req.rest(1))))
		case err != nil:
			out.Reply(c.failure(fmt.Sprintf("Invalid word: %v", err)))
		default:
			out.Reply(c.success(fmt.Sprintf("Removed %q (%d words).", word, words.Settings(req.GuildID).Words)))
		}
	case "list":
		list := words.List(req.GuildID)
		body := "None"
		if len(list) > 0 {
			body = "`" + strings.Join(list, "`, `") + "`"
		}
		out.Reply(commandEmbed("Banned words", body, c.colors.Action))
	case "clear":
		count := words.Settings(req.GuildID).Words
		if count == 0 {
			out.Reply(c.failure("The banned word list is already empty."))
			return
		}
		prompt := commandEmbed("Clear banned words?", fmt.Sprintf("This removes %d words.", count), c.colors.Warning)
		if !c.confirmed(ctx, req, out, prompt) {
			return
		}
		removed, err := words.Clear(req.GuildID)
		if errors.Is(err, banword.ErrEmpty) {
			out.Reply(c.failure("The banned word list is already empty."))
			return
		}
		c.audit.Log(ctx, audit.LevelWarn, req.GuildID, req.AuthorID, "banword_cleared", fmt.Sprintf("removed=%d", removed))
		out.Reply(c.success(fmt.Sprintf("Banned word list cleared (%d words removed).", removed)))
	case "setaction":
		previous, err := words.SetAction(req.GuildID, req.arg(1))
		if err != nil {
			out.Reply(c.usage("banword setaction <delete|warn|mute>"))
			return
		}
		current := words.Settings(req.GuildID).Action
		out.Reply(c.success(fmt.Sprintf("Action changed from %s to %s.", previous, current)))
	case "setcase":
		sensitive, ok := parseSwitch(req.arg(1))
		if !ok {
			out.Reply(c.usage("banword setcase <on|off>"))
			return
		}
		previous := words.SetCaseSensitive(req.GuildID, sensitive)
		out.Reply(c.success(fmt.Sprintf("Case sensitivity changed from %s to %s.", onOff(previous), onOff(sensitive))))
	default:
		out.Reply(c.usage("banword <status|enable|disable|add <word>|remove <word>|list|clear|settings|setaction <action>|setcase <on|off>>"))
	}
}

func (c *commandSet) antispam(ctx context.Context, req request, out replier) {
	switch strings.ToLower(req.arg(0)) {
	case "", "status":
		cfg := c.svc.SpamConfig()
		stats := c.svc.Stats(req.GuildID)
		out.Reply(commandEmbed("Spam protection", enabledLabel(cfg.Enabled), c.colors.Action,
			field("Limits", spamLimits(cfg), false),
			field("Statistics", statsLines(stats.GuildStats), false)))
	case "toggle":
		enabled := c.svc.ToggleSpam()
		c.audit.Log(ctx, audit.LevelInfo, req.GuildID, req.AuthorID, "antispam_toggled", enabledLabel(enabled))
		out.Reply(c.success("Spam protection is now " + strings.ToLower(enabledLabel(enabled)) + "."))
	case "settings":
		cfg := c.svc.SpamConfig()
		out.Reply(commandEmbed("Spam protection settings", "", c.colors.Action,
			field("Detection", spamLimits(cfg), false),
			field("Exempt", fmt.Sprintf("Bots\nAdministrators\nWhitelisted members\nCommands (starting with %s)", c.prefix), false)))
	case "reset":
		userID, ok := parseID(req.arg(1))
		if !ok {
			out.Reply(c.usage("antispam reset <user>"))
			return
		}
		previous := c.svc.ManualReset(ctx, req.GuildID, userID)
		out.Reply(commandEmbed("Warnings reset", fmt.Sprintf("Reset warnings for <@%s>.", userID), c.colors.Action,
			field("Previous", fmt.Sprint(previous), true),
			field("Current", "0", true)))
	case "unmute":
		userID, ok := parseID(req.arg(1))
		if !ok {
			out.Reply(c.usage("antispam unmute <user>"))
			return
		}
		err := c.svc.ManualUnmute(ctx, req.GuildID, userID, fmt.Sprintf("manual unmute by %s", req.AuthorName))
		switch {
		case errors.Is(err, moderation.ErrMuteRoleMissing):
			out.Reply(c.failure("The mute role does not exist."))
		case errors.Is(err, moderation.ErrNotMuted):
			out.Reply(c.failure(fmt.Sprintf("<@%s> is not muted.", userID)))
		case errors.Is(err, moderation.ErrNotFound):
			out.Reply(c.failure("That user could not be found."))
		case errors.Is(err, moderation.ErrPermissionDenied):
			out.Reply(c.failure("I am missing the permission to remove the mute role."))
		case err != nil:
			c.logger.Error("manual unmute failed", zap.String("guild_id", req.GuildID), zap.String("user_id", userID), zap.Error(err))
			out.Reply(c.failure("Unmute failed."))
		default:
			out.Reply(c.success(fmt.Sprintf("<@%s> was unmuted by <@%s>.", userID, req.AuthorID)))
		}
	case "stats":
		stats := c.svc.Stats(req.GuildID)
		report := c.analytics.Report(req.GuildID, time.Now().Add(-24*time.Hour))
		out.Reply(commandEmbed("Spam statistics", "", c.colors.Action,
			field("Handled", statsLines(stats.GuildStats), false),
			field("Warned members", fmt.Sprint(stats.WarnedUsers), true),
			field("Muted members", fmt.Sprint(stats.MutedUsers), true),
			field("Audit (24h)", formatReport(report), false)))
	default:
		out.Reply(c.usage("antispam <status|toggle|settings|reset <user>|unmute <user>|stats>"))
	}
}

func (c *commandSet) ban(ctx context.Context, req request, out replier) {
	userID, ok := parseID(req.arg(0))
	if !ok {
		out.Reply(c.usage("ban <mention or id> [reason]"))
		return
	}
	reason := req.rest(1)
	if reason == "" {
		reason = defaultReason
	}

	switch userID {
	case req.AuthorID:
		out.Reply(c.failure("You cannot ban yourself."))
		return
	case c.botID():
		out.Reply(c.failure("I cannot ban myself."))
		return
	}
	ownerID, err := c.bans.GuildOwner(ctx, req.GuildID)
	if err != nil {
		c.replyActionError(req, out, "ban", err)
		return
	}
	if userID == ownerID {
		out.Reply(c.failure("The server owner cannot be banned."))
		return
	}

	target, err := c.bans.ResolveBanTarget(ctx, req.GuildID, userID)
	if err != nil {
		c.replyActionError(req, out, "ban", err)
		return
	}
	if _, member := target.(KnownMember); member {
		if ok, err := c.bans.Outranks(ctx, req.GuildID, req.AuthorID, userID); err != nil || !ok {
			out.Reply(c.failure("You cannot ban a member with an equal or higher role."))
			return
		}
		if ok, err := c.bans.Outranks(ctx, req.GuildID, c.botID(), userID); err != nil || !ok {
			out.Reply(c.failure("I cannot ban a member with an equal or higher role than mine."))
			return
		}
	}

	banned, existing, err := c.bans.IsBanned(ctx, req.GuildID, userID)
	if err != nil && !errors.Is(err, moderation.ErrPermissionDenied) {
		c.replyActionError(req, out, "ban", err)
		return
	}
	if banned {
		if existing == "" {
			existing = defaultReason
		}
		out.Reply(c.failure(fmt.Sprintf("%s is already banned.\nReason: %s", target.Label(), existing)))
		return
	}

	prompt := commandEmbed("Ban user?", fmt.Sprintf("Do you really want to ban %s?", target.Label()), c.colors.Error,
		field("Target", fmt.Sprintf("%s (ID: %s)", target.Label(), target.ID()), false),
		field("Reason", reason, false),
		field("Moderator", "<@"+req.AuthorID+">", true))
	if !c.confirmed(ctx, req, out, prompt) {
		return
	}

	if err := c.bans.Ban(ctx, req.GuildID, userID, auditReason(req.AuthorName, reason)); err != nil {
		c.replyActionError(req, out, "ban", err)
		return
	}
	c.audit.Log(ctx, audit.LevelWarn, req.GuildID, userID, "member_banned", fmt.Sprintf("by=%s reason=%s", req.AuthorID, reason))
	out.Reply(commandEmbed("Banned", fmt.Sprintf("%s was banned.", target.Label()), c.colors.Action,
		field("Reason", reason, false),
		field("Moderator", "<@"+req.AuthorID+">", true)))
}

func (c *commandSet) unban(ctx context.Context, req request, out replier) {
	userID, ok := parseID(req.arg(0))
	if !ok || strings.ContainsAny(req.arg(0), "<@") {
		out.Reply(c.usage("unban <user id> [reason]"))
		return
	}
	reason := req.rest(1)
	if reason == "" {
		reason = defaultReason
	}

	banned, existing, err := c.bans.IsBanned(ctx, req.GuildID, userID)
	if err != nil {
		c.replyActionError(req, out, "unban", err)
		return
	}
	if !banned {
		out.Reply(c.failure(fmt.Sprintf("User `%s` is not banned.", userID)))
		return
	}
	if existing == "" {
		existing = defaultReason
	}

	prompt := commandEmbed("Lift ban?", fmt.Sprintf("Do you really want to unban `%s`?", userID), c.colors.Warning,
		field("Current ban reason", existing, false),
		field("Reason", reason, false),
		field("Moderator", "<@"+req.AuthorID+">", true))
	if !c.confirmed(ctx, req, out, prompt) {
		return
	}

	if err := c.bans.Unban(ctx, req.GuildID, userID, auditReason(req.AuthorName, reason)); err != nil {
		c.replyActionError(req, out, "unban", err)
		return
	}
	c.audit.Log(ctx, audit.LevelInfo, req.GuildID, userID, "member_unbanned", fmt.Sprintf("by=%s reason=%s", req.AuthorID, reason))
	out.Reply(commandEmbed("Ban lifted", fmt.Sprintf("`%s` was unbanned.", userID), c.colors.Action,
		field("Reason", reason, false),
		field("Moderator", "<@"+req.AuthorID+">", true)))
}

func (c *commandSet) help(ctx context.Context, req request, out replier) {
	cmds := c.commands()
	lines := make([]string, 0, len(cmds))
	for _, cmd := range cmds {
		lines = append(lines, fmt.Sprintf("`%s%s` %s", c.prefix, cmd.name, cmd.desc))
	}
	out.Reply(commandEmbed("Commands", strings.Join(lines, "\n"), c.colors.Action))
}

func (c *commandSet) replyActionError(req request, out replier, action string, err error) {
	switch {
	case errors.Is(err, moderation.ErrPermissionDenied):
		out.Reply(c.failure("I am missing the permission to " + action + " this user."))
	case errors.Is(err, moderation.ErrNotFound):
		out.Reply(c.failure("That user could not be found."))
	default:
		c.logger.Error("command action failed", zap.String("action", action), zap.String("guild_id", req.GuildID), zap.Error(err))
		out.Reply(c.failure("Something went wrong while running this command."))
	}
}

func (c *commandSet) success(description string) *discordgo.MessageEmbed {
	return commandEmbed("Done", description, c.colors.Action)
}

func (c *commandSet) failure(description string) *discordgo.MessageEmbed {
	return commandEmbed("Error", description, c.colors.Error)
}

func (c *commandSet) info(title, description string) *discordgo.MessageEmbed {
	return commandEmbed(title, description, c.colors.Warning)
}

func (c *commandSet) usage(syntax string) *discordgo.MessageEmbed {
	return commandEmbed("Usage", "`"+c.prefix+syntax+"`", c.colors.Error)
}

func spamLimits(cfg config.SpamConfig) string {
	return fmt.Sprintf("Message limit: %d per %ds\nDuplicate limit: %d in a row\nWarning threshold: %d\nMute duration: %s",
		cfg.MessageLimit, cfg.TimeWindowSeconds, cfg.DuplicateLimit, cfg.WarningThreshold, formatDuration(cfg.MuteDuration()))
}

func statsLines(stats moderation.GuildStats) string {
	return fmt.Sprintf("Messages deleted: %d\nWarnings given: %d\nMutes applied: %d", stats.MessagesDeleted, stats.WarningsGiven, stats.MutesApplied)
}

func formatReport(report analytics.Report) string {
	return fmt.Sprintf("Total: %d | INFO: %d | WARN: %d | CRIT: %d", report.Total, report.ByLevel[audit.LevelInfo], report.ByLevel[audit.LevelWarn], report.ByLevel[audit.LevelCrit])
}

func mentionList(ids []string, format string) string {
	if len(ids) == 0 {
		return "None"
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	lines := make([]string, 0, len(sorted))
	for _, id := range sorted {
		lines = append(lines, fmt.Sprintf(format, id))
	}
	return strings.Join(lines, "\n")
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "Enabled"
	}
	return "Disabled"
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func parseSwitch(value string) (bool, bool) {
	switch strings.ToLower(value) {
	case "on", "true", "yes", "1":
		return true, true
	case "off", "false", "no", "0":
		return false, true
	default:
		return false, false
	}
}

func permissionName(perm int64) string {
	switch perm {
	case discordgo.PermissionAdministrator:
		return "Administrator"
	case discordgo.PermissionManageMessages:
		return "Manage Messages"
	case discordgo.PermissionBanMembers:
		return "Ban Members"
	default:
		return fmt.Sprintf("0x%x", perm)
	}
}
