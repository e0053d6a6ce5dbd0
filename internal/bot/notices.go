package bot

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/cannies936/Level-Cannies/internal/config"
	"github.com/cannies936/Level-Cannies/internal/moderation"
)

func noticeEmbed(notice moderation.Notice, colors config.EmbedColors) *discordgo.MessageEmbed {
	mention := "<@" + notice.UserID + ">"
	switch notice.Kind {
	case moderation.NoticeSpamWarning:
		return commandEmbed("Spam warning",
			fmt.Sprintf("%s spam was detected.\nWarnings: %d/%d", mention, notice.Warnings, notice.Threshold),
			colors.Warning,
			field("Note", "Posting many messages quickly or repeating the same message counts as spam.", false))
	case moderation.NoticeSpamMute:
		return commandEmbed("Muted for spam",
			fmt.Sprintf("%s reached %d warnings and was muted.", mention, notice.Threshold),
			colors.Error,
			field("Duration", formatDuration(notice.MuteDuration), true))
	case moderation.NoticeBanwordWarn:
		return commandEmbed("Banned word warning",
			fmt.Sprintf("%s a banned word was detected.", mention),
			colors.Warning,
			field("Warning", "Please avoid inappropriate language.", false))
	case moderation.NoticeBanwordMute:
		return commandEmbed("Banned word - muted",
			fmt.Sprintf("%s was muted for using a banned word.", mention),
			colors.Error,
			field("Action", "The message was deleted and the user temporarily muted.", false),
			field("Unmute", fmt.Sprintf("Automatic after %s, or ask a moderator.", formatDuration(notice.MuteDuration)), false))
	default:
		return commandEmbed("Banned word detected",
			fmt.Sprintf("%s a banned word was detected.", mention),
			colors.Error,
			field("Action", "The message was deleted.", false))
	}
}

func commandEmbed(title, description string, color int, fields ...*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func field(name, value string, inline bool) *discordgo.MessageEmbedField {
	return &discordgo.MessageEmbedField{Name: name, Value: value, Inline: inline}
}

func formatDuration(d time.Duration) string {
	if d >= time.Minute && d%time.Minute == 0 {
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
	return fmt.Sprintf("%d seconds", int(d/time.Second))
}
