package confide

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

const (
	embedColorConfession = 0x9370DB
	embedColorPublicLog  = 0x2F3136
	embedColorPrivateLog = 0xE67E22

	embedFooterAnonymous = "Anonymous confession"
)

// publishAuditLogs fans an accepted confession out to the guild's audit
// channels. The public entry is redacted (truncated body, no author);
// the private entry carries the full body and the author's identity.
//
// Both sends are independent and best effort. A missing or broken audit
// channel never affects the confession itself - failures are logged and
// dropped.
func (c *Confide) publishAuditLogs(
	ctx context.Context,
	cfg *GuildConfessionConfig,
	rec *Confession,
) {
	defer c.handleRecover(ctx, recover())

	logger := c.logger.With(
		loggerNameKey, "audit",
		"guild_id", rec.GuildID,
		"sequence_number", rec.SequenceNumber,
	)

	if cfg.PublicLogChannelID != "" {
		_, err := c.discord.session.ChannelMessageSendComplex(
			cfg.PublicLogChannelID,
			&discordgo.MessageSend{
				Embeds: []*discordgo.MessageEmbed{publicLogEmbed(rec)},
			},
			discordgo.WithContext(ctx),
		)
		if err != nil {
			logger.ErrorContext(
				ctx,
				"public audit log send failed",
				tint.Err(err),
				"channel_id", cfg.PublicLogChannelID,
			)
		}
	}

	if cfg.PrivateLogChannelID != "" {
		_, err := c.discord.session.ChannelMessageSendComplex(
			cfg.PrivateLogChannelID,
			&discordgo.MessageSend{
				Embeds: []*discordgo.MessageEmbed{privateLogEmbed(rec)},
			},
			discordgo.WithContext(ctx),
		)
		if err != nil {
			logger.ErrorContext(
				ctx,
				"private audit log send failed",
				tint.Err(err),
				"channel_id", cfg.PrivateLogChannelID,
			)
		}
	}
}

// publicLogEmbed builds the redacted audit entry: truncated body, no
// author identity anywhere.
func publicLogEmbed(rec *Confession) *discordgo.MessageEmbed {
	title := fmt.Sprintf("Confession #%d submitted", rec.SequenceNumber)
	if rec.IsReply && rec.ReplyToSequence != nil {
		title = fmt.Sprintf(
			"Reply #%d to confession #%d submitted",
			rec.SequenceNumber,
			*rec.ReplyToSequence,
		)
	}
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: previewString(rec.Body, auditLogPreviewLength),
		Color:       embedColorPublicLog,
		Timestamp:   time.UnixMilli(rec.CreatedAt).UTC().Format(time.RFC3339),
	}
}

// privateLogEmbed builds the moderation audit entry, including the
// author and the full body.
func privateLogEmbed(rec *Confession) *discordgo.MessageEmbed {
	title := fmt.Sprintf("Confession #%d", rec.SequenceNumber)
	if rec.IsReply && rec.ReplyToSequence != nil {
		title = fmt.Sprintf(
			"Reply #%d to confession #%d",
			rec.SequenceNumber,
			*rec.ReplyToSequence,
		)
	}
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: rec.Body,
		Color:       embedColorPrivateLog,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "Author",
				Value:  fmt.Sprintf("<@%s> (%s)", rec.AuthorID, rec.AuthorID),
				Inline: true,
			},
		},
		Timestamp: time.UnixMilli(rec.CreatedAt).UTC().Format(time.RFC3339),
	}
}
