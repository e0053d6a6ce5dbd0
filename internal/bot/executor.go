package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/cannies936/Level-Cannies/internal/config"
	"github.com/cannies936/Level-Cannies/internal/moderation"
)

const muteDeny = discordgo.PermissionSendMessages | discordgo.PermissionVoiceSpeak

// Executor carries out moderation actions against the Discord REST API.
type Executor struct {
	session  *discordgo.Session
	logger   *zap.Logger
	roleName string
	colors   config.EmbedColors
	workers  int
	limiter  *rate.Limiter
	roles    *expirable.LRU[string, string]
	group    singleflight.Group
}

func NewExecutor(session *discordgo.Session, cfg config.Config, logger *zap.Logger) *Executor {
	perSecond := cfg.Actions.OverwritesPerSecond
	if perSecond <= 0 {
		perSecond = 5
	}
	workers := cfg.Actions.OverwriteWorkers
	if workers <= 0 {
		workers = 4
	}
	size := cfg.Actions.RoleCacheSize
	if size <= 0 {
		size = 1024
	}
	ttl := time.Duration(cfg.Actions.RoleCacheMinutes) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Executor{
		session:  session,
		logger:   logger,
		roleName: cfg.MuteRoleName,
		colors:   cfg.Notices.EmbedColors,
		workers:  workers,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), 1),
		roles:    expirable.NewLRU[string, string](size, nil, ttl),
	}
}

func (e *Executor) DeleteMessage(ctx context.Context, ref moderation.MessageRef) error {
	return mapError("delete message", e.session.ChannelMessageDelete(ref.ChannelID, ref.MessageID))
}

func (e *Executor) SendNotice(ctx context.Context, channelID string, notice moderation.Notice) error {
	msg, err := e.session.ChannelMessageSendEmbed(channelID, noticeEmbed(notice, e.colors))
	if err != nil {
		return mapError("send notice", err)
	}
	if notice.AutoDismiss > 0 {
		time.AfterFunc(notice.AutoDismiss, func() {
			if err := e.session.ChannelMessageDelete(channelID, msg.ID); err != nil {
				e.logger.Debug("notice dismiss failed", zap.String("channel_id", channelID), zap.Error(err))
			}
		})
	}
	return nil
}

func (e *Executor) FindMuteRole(ctx context.Context, guildID string) (string, error) {
	if roleID, ok := e.roles.Get(guildID); ok {
		return roleID, nil
	}
	roles, err := e.guildRoles(guildID)
	if err != nil {
		return "", err
	}
	for _, role := range roles {
		if role.Name == e.roleName {
			e.roles.Add(guildID, role.ID)
			return role.ID, nil
		}
	}
	return "", moderation.ErrMuteRoleMissing
}

// EnsureMuteRole looks the role up by name and provisions it on first use.
// Concurrent callers for one guild share a single provisioning run.
func (e *Executor) EnsureMuteRole(ctx context.Context, guildID string) (string, error) {
	v, err, _ := e.group.Do(guildID, func() (interface{}, error) {
		roleID, err := e.FindMuteRole(ctx, guildID)
		if err == nil {
			return roleID, nil
		}
		if !errors.Is(err, moderation.ErrMuteRoleMissing) {
			return "", err
		}
		return e.createMuteRole(ctx, guildID)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (e *Executor) createMuteRole(ctx context.Context, guildID string) (string, error) {
	perms := int64(0)
	role, err := e.session.GuildRoleCreate(guildID, &discordgo.RoleParams{Name: e.roleName, Permissions: &perms})
	if err != nil {
		return "", mapError("create mute role", err)
	}
	e.logger.Info("mute role created", zap.String("guild_id", guildID), zap.String("role_id", role.ID))

	channels, err := e.session.GuildChannels(guildID)
	if err != nil {
		return "", mapError("list channels", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, channel := range channels {
		if !mutableChannel(channel.Type) {
			continue
		}
		channelID := channel.ID
		g.Go(func() error {
			if err := e.limiter.Wait(gctx); err != nil {
				return err
			}
			if err := e.session.ChannelPermissionSet(channelID, role.ID, discordgo.PermissionOverwriteTypeRole, 0, muteDeny); err != nil {
				e.logger.Warn("mute overwrite failed", zap.String("guild_id", guildID), zap.String("channel_id", channelID), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", fmt.Errorf("apply mute overwrites: %w", err)
	}

	e.roles.Add(guildID, role.ID)
	return role.ID, nil
}

// ForgetRole drops a cached role id after the role was deleted.
func (e *Executor) ForgetRole(guildID, roleID string) {
	if cached, ok := e.roles.Peek(guildID); ok && cached == roleID {
		e.roles.Remove(guildID)
	}
}

func (e *Executor) HasRole(ctx context.Context, guildID, userID, roleID string) (bool, error) {
	member, err := e.member(guildID, userID)
	if err != nil {
		return false, err
	}
	for _, id := range member.Roles {
		if id == roleID {
			return true, nil
		}
	}
	return false, nil
}

func (e *Executor) AddRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	e.logger.Debug("role add", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("reason", reason))
	return mapError("add role", e.session.GuildMemberRoleAdd(guildID, userID, roleID))
}

func (e *Executor) RemoveRole(ctx context.Context, guildID, userID, roleID, reason string) error {
	e.logger.Debug("role remove", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("reason", reason))
	return mapError("remove role", e.session.GuildMemberRoleRemove(guildID, userID, roleID))
}

func (e *Executor) ResolveBanTarget(ctx context.Context, guildID, userID string) (BanTarget, error) {
	if member, err := e.member(guildID, userID); err == nil {
		return KnownMember{Member: member}, nil
	}
	if user, err := e.session.User(userID); err == nil && user != nil {
		return KnownUser{User: user}, nil
	}
	return newUnknownUser(userID), nil
}

func (e *Executor) IsBanned(ctx context.Context, guildID, userID string) (bool, string, error) {
	ban, err := e.session.GuildBan(guildID, userID)
	if err != nil {
		err = mapError("fetch ban", err)
		if errors.Is(err, moderation.ErrNotFound) {
			return false, "", nil
		}
		return false, "", err
	}
	return true, ban.Reason, nil
}

func (e *Executor) Ban(ctx context.Context, guildID, userID, reason string) error {
	return mapError("ban", e.session.GuildBanCreateWithReason(guildID, userID, reason, 0))
}

func (e *Executor) Unban(ctx context.Context, guildID, userID, reason string) error {
	e.logger.Debug("unban", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.String("reason", reason))
	return mapError("unban", e.session.GuildBanDelete(guildID, userID))
}

func (e *Executor) GuildOwner(ctx context.Context, guildID string) (string, error) {
	guild, err := e.guild(guildID)
	if err != nil {
		return "", err
	}
	return guild.OwnerID, nil
}

// Outranks reports whether actor's highest role sits above target's. The
// guild owner outranks everyone.
func (e *Executor) Outranks(ctx context.Context, guildID, actorID, targetID string) (bool, error) {
	guild, err := e.guild(guildID)
	if err != nil {
		return false, err
	}
	if actorID == guild.OwnerID {
		return true, nil
	}
	actor, err := e.member(guildID, actorID)
	if err != nil {
		return false, err
	}
	target, err := e.member(guildID, targetID)
	if err != nil {
		return false, err
	}
	return highestPosition(guild, actor.Roles) > highestPosition(guild, target.Roles), nil
}

func (e *Executor) Permissions(guildID, channelID, userID string) (int64, error) {
	perms, err := e.session.State.UserChannelPermissions(userID, channelID)
	if err != nil {
		perms, err = e.session.UserChannelPermissions(userID, channelID)
	}
	if err != nil {
		return 0, mapError("channel permissions", err)
	}
	return perms, nil
}

func (e *Executor) guild(guildID string) (*discordgo.Guild, error) {
	guild, err := e.session.State.Guild(guildID)
	if err == nil && guild != nil {
		return guild, nil
	}
	guild, err = e.session.Guild(guildID)
	if err != nil {
		return nil, mapError("fetch guild", err)
	}
	return guild, nil
}

func (e *Executor) guildRoles(guildID string) ([]*discordgo.Role, error) {
	if guild, err := e.session.State.Guild(guildID); err == nil && guild != nil && len(guild.Roles) > 0 {
		return guild.Roles, nil
	}
	roles, err := e.session.GuildRoles(guildID)
	if err != nil {
		return nil, mapError("list roles", err)
	}
	return roles, nil
}

func (e *Executor) member(guildID, userID string) (*discordgo.Member, error) {
	member, err := e.session.State.Member(guildID, userID)
	if err == nil && member != nil {
		return member, nil
	}
	member, err = e.session.GuildMember(guildID, userID)
	if err != nil {
		return nil, mapError("fetch member", err)
	}
	return member, nil
}

func highestPosition(guild *discordgo.Guild, roleIDs []string) int {
	highest := 0
	for _, roleID := range roleIDs {
		for _, role := range guild.Roles {
			if role.ID == roleID && role.Position > highest {
				highest = role.Position
			}
		}
	}
	return highest
}

func mutableChannel(kind discordgo.ChannelType) bool {
	switch kind {
	case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews, discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice:
		return true
	default:
		return false
	}
}

// mapError folds Discord REST failures into the moderation error taxonomy.
func mapError(action string, err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch restErr.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%s: %w", action, moderation.ErrPermissionDenied)
		case http.StatusNotFound:
			return fmt.Errorf("%s: %w", action, moderation.ErrNotFound)
		}
	}
	if errors.Is(err, discordgo.ErrStateNotFound) {
		return fmt.Errorf("%s: %w", action, moderation.ErrNotFound)
	}
	return fmt.Errorf("%s: %w", action, err)
}
