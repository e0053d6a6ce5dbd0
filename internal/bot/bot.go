package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Necroforger/dgrouter/exrouter"
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/cannies936/Level-Cannies/internal/analytics"
	"github.com/cannies936/Level-Cannies/internal/config"
	"github.com/cannies936/Level-Cannies/internal/confirm"
	"github.com/cannies936/Level-Cannies/internal/moderation"
	"github.com/cannies936/Level-Cannies/internal/modules/antispam"
	"github.com/cannies936/Level-Cannies/internal/modules/audit"
)

type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	session   *discordgo.Session
	executor  *Executor
	svc       *moderation.Service
	audit     *audit.Logger
	analytics *analytics.Service
	confirm   *confirm.Waiter
	router    *exrouter.Route
	commands  *commandSet
	relay     *auditRelay
	stop      context.CancelFunc
}

func New(cfg config.Config, logger *zap.Logger, auditLogger *audit.Logger, analyticsEngine *analytics.Service) (*Bot, error) {
	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, err
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildBans |
		discordgo.IntentsMessageContent

	executor := NewExecutor(session, cfg, logger)
	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		session:   session,
		executor:  executor,
		svc:       moderation.New(cfg, executor, auditLogger, logger),
		audit:     auditLogger,
		analytics: analyticsEngine,
		confirm:   confirm.NewWaiter(),
		router:    exrouter.New(),
	}
	b.commands = &commandSet{
		svc:            b.svc,
		confirm:        b.confirm,
		bans:           executor,
		perms:          executor,
		analytics:      analyticsEngine,
		audit:          auditLogger,
		logger:         logger,
		colors:         cfg.Notices.EmbedColors,
		prefix:         cfg.CommandPrefix,
		confirmTimeout: cfg.Confirm.Timeout(),
		botID:          b.botID,
	}
	b.registerCommands()

	if b.audit != nil && cfg.DefaultSecurityLogChannel != "" {
		b.relay = newAuditRelay(relayQueueSize, relayPerSecond, relayBurst, b.notifyAudit, logger)
		b.audit.SetNotifier(func(ctx context.Context, entry audit.Entry) {
			if entry.Level == audit.LevelInfo {
				return
			}
			b.relay.Enqueue(entry)
		})
	}
	return b, nil
}

func (b *Bot) Start() error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildCreate)
	b.session.AddHandler(b.onGuildDelete)
	b.session.AddHandler(b.onRoleDelete)
	if b.relay != nil {
		ctx, cancel := context.WithCancel(context.Background())
		b.stop = cancel
		go b.relay.Run(ctx)
	}
	return b.session.Open()
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.stop != nil {
		b.stop()
	}
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) registerCommands() {
	for _, cmd := range b.commands.commands() {
		cmd := cmd
		b.router.On(cmd.name, func(ctx *exrouter.Context) {
			out := channelReplier{session: ctx.Ses, channelID: ctx.Msg.ChannelID, logger: b.logger}
			b.commands.dispatch(context.Background(), cmd, requestFromContext(ctx), out)
		}).Desc(cmd.desc)
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Author == nil || msg.GuildID == "" {
		return
	}
	if !msg.Author.Bot && b.confirm.Deliver(msg.ChannelID, msg.Author.ID, msg.Content) {
		return
	}

	ctx := context.Background()
	if b.svc.HandleMessage(ctx, b.toMessage(msg)) {
		return
	}
	if msg.Author.Bot {
		return
	}
	if err := b.router.FindAndExecute(session, b.cfg.CommandPrefix, session.State.User.ID, msg.Message); err != nil {
		b.logger.Debug("no command route", zap.String("guild_id", msg.GuildID), zap.Error(err))
	}
}

func (b *Bot) onGuildCreate(session *discordgo.Session, event *discordgo.GuildCreate) {
	b.logger.Info("guild available", zap.String("guild_id", event.ID), zap.String("name", event.Name))
}

func (b *Bot) onGuildDelete(session *discordgo.Session, event *discordgo.GuildDelete) {
	b.logger.Info("guild removed", zap.String("guild_id", event.ID))
}

func (b *Bot) onRoleDelete(session *discordgo.Session, event *discordgo.GuildRoleDelete) {
	b.executor.ForgetRole(event.GuildID, event.RoleID)
}

func (b *Bot) toMessage(msg *discordgo.MessageCreate) antispam.Message {
	out := antispam.Message{
		GuildID:     msg.GuildID,
		ChannelID:   msg.ChannelID,
		MessageID:   msg.ID,
		AuthorID:    msg.Author.ID,
		AuthorIsBot: msg.Author.Bot,
		Content:     msg.Content,
		Timestamp:   msg.Timestamp,
	}
	if out.Timestamp.IsZero() {
		out.Timestamp = time.Now()
	}
	member := msg.Member
	if member == nil {
		member, _ = b.executor.member(msg.GuildID, msg.Author.ID)
	}
	if member != nil {
		out.RoleIDs = member.Roles
		if guild, err := b.executor.guild(msg.GuildID); err == nil {
			out.AuthorIsAdmin = guild.OwnerID == msg.Author.ID || memberHasAdmin(guild, member)
		}
	}
	out.CanManage = out.AuthorIsAdmin
	if !out.CanManage && strings.HasPrefix(msg.Content, b.cfg.CommandPrefix) {
		if perms, err := b.executor.Permissions(msg.GuildID, msg.ChannelID, msg.Author.ID); err == nil {
			out.CanManage = canManage(perms)
		}
	}
	return out
}

func canManage(perms int64) bool {
	return perms&(discordgo.PermissionAdministrator|discordgo.PermissionManageMessages) != 0
}

func (b *Bot) botID() string {
	if b.session.State != nil && b.session.State.User != nil {
		return b.session.State.User.ID
	}
	return ""
}

func (b *Bot) notifyAudit(entry audit.Entry) {
	channelID := b.cfg.DefaultSecurityLogChannel
	description := fmt.Sprintf("**%s** %s", entry.Event, entry.Details)
	if entry.UserID != "" {
		description = fmt.Sprintf("<@%s> %s", entry.UserID, description)
	}
	color := b.cfg.Notices.EmbedColors.Warning
	if entry.Level == audit.LevelCrit {
		color = b.cfg.Notices.EmbedColors.Error
	}
	embed := commandEmbed("Moderation log", description, color, field("Guild", entry.GuildID, true), field("Level", entry.Level, true))
	if _, err := b.session.ChannelMessageSendEmbed(channelID, embed); err != nil {
		b.logger.Debug("audit notify failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func memberHasAdmin(guild *discordgo.Guild, member *discordgo.Member) bool {
	if guild == nil || member == nil {
		return false
	}
	perms := int64(0)
	for _, role := range guild.Roles {
		if role.ID == guild.ID {
			perms |= role.Permissions
			break
		}
	}
	roleMap := make(map[string]*discordgo.Role, len(guild.Roles))
	for _, role := range guild.Roles {
		roleMap[role.ID] = role
	}
	for _, roleID := range member.Roles {
		if role := roleMap[roleID]; role != nil {
			perms |= role.Permissions
		}
	}
	return perms&discordgo.PermissionAdministrator != 0
}

func requestFromContext(ctx *exrouter.Context) request {
	req := request{
		GuildID:    ctx.Msg.GuildID,
		ChannelID:  ctx.Msg.ChannelID,
		AuthorID:   ctx.Msg.Author.ID,
		AuthorName: ctx.Msg.Author.String(),
	}
	if len(ctx.Args) > 1 {
		req.Args = append([]string(nil), ctx.Args[1:]...)
	}
	return req
}

type channelReplier struct {
	session   *discordgo.Session
	channelID string
	logger    *zap.Logger
}

func (r channelReplier) Reply(embed *discordgo.MessageEmbed) {
	if _, err := r.session.ChannelMessageSendEmbed(r.channelID, embed); err != nil {
		r.logger.Warn("command reply failed", zap.String("channel_id", r.channelID), zap.Error(err))
	}
}
