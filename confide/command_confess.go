package confide

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Slash command names.
const (
	DiscordSlashCommandSetup      = "setupconfess"
	DiscordSlashCommandPublicLog  = "logconfess"
	DiscordSlashCommandPrivateLog = "loguserconfess"
	DiscordSlashCommandInfo       = "confessinfo"
	DiscordSlashCommandStats      = "confessstats"

	commandOptionChannel = "channel"
	commandOptionNumber  = "number"
)

var adminCommandPermissions int64 = discordgo.PermissionManageServer

// appCommandSetup creates the ApplicationCommand for "setupconfess".
func (*Discord) appCommandSetup() *discordgo.ApplicationCommand {
	dmPerm := false
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandSetup,
		Type:                     discordgo.ChatApplicationCommand,
		Description:              "Set the confession channel and post the submission message",
		DMPermission:             &dmPerm,
		DefaultMemberPermissions: &adminCommandPermissions,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionChannel,
				Name:        commandOptionChannel,
				Description: "Channel where confessions will be posted",
				Required:    true,
				ChannelTypes: []discordgo.ChannelType{
					discordgo.ChannelTypeGuildText,
				},
			},
		},
	}
}

// appCommandPublicLog creates the ApplicationCommand for "logconfess".
func (*Discord) appCommandPublicLog() *discordgo.ApplicationCommand {
	dmPerm := false
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandPublicLog,
		Type:                     discordgo.ChatApplicationCommand,
		Description:              "Set the public (redacted) confession log channel",
		DMPermission:             &dmPerm,
		DefaultMemberPermissions: &adminCommandPermissions,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionChannel,
				Name:        commandOptionChannel,
				Description: "Channel for redacted confession logs",
				Required:    true,
				ChannelTypes: []discordgo.ChannelType{
					discordgo.ChannelTypeGuildText,
				},
			},
		},
	}
}

// appCommandPrivateLog creates the ApplicationCommand for
// "loguserconfess".
func (*Discord) appCommandPrivateLog() *discordgo.ApplicationCommand {
	dmPerm := false
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandPrivateLog,
		Type:                     discordgo.ChatApplicationCommand,
		Description:              "Set the private confession log channel (includes authors)",
		DMPermission:             &dmPerm,
		DefaultMemberPermissions: &adminCommandPermissions,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionChannel,
				Name:        commandOptionChannel,
				Description: "Channel for full confession logs",
				Required:    true,
				ChannelTypes: []discordgo.ChannelType{
					discordgo.ChannelTypeGuildText,
				},
			},
		},
	}
}

// appCommandInfo creates the ApplicationCommand for "confessinfo".
func (*Discord) appCommandInfo() *discordgo.ApplicationCommand {
	dmPerm := false
	minNumber := float64(1)
	return &discordgo.ApplicationCommand{
		Name:                     DiscordSlashCommandInfo,
		Type:                     discordgo.ChatApplicationCommand,
		Description:              "Look up a confession's record, including its author",
		DMPermission:             &dmPerm,
		DefaultMemberPermissions: &adminCommandPermissions,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        commandOptionNumber,
				Description: "Confession number",
				Required:    true,
				MinValue:    &minNumber,
			},
		},
	}
}

// appCommandStats creates the ApplicationCommand for "confessstats".
func (*Discord) appCommandStats() *discordgo.ApplicationCommand {
	dmPerm := false
	return &discordgo.ApplicationCommand{
		Name:         DiscordSlashCommandStats,
		Type:         discordgo.ChatApplicationCommand,
		Description:  "Show confession statistics for this server",
		DMPermission: &dmPerm,
	}
}

// handleApplicationCommand dispatches a slash command interaction.
func (c *Confide) handleApplicationCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	data := i.ApplicationCommandData()

	switch data.Name {
	case DiscordSlashCommandSetup:
		c.handleSetupCommand(ctx, handler, data)
	case DiscordSlashCommandPublicLog:
		c.handleLogCommand(ctx, handler, data, c.SetPublicLog, "Public")
	case DiscordSlashCommandPrivateLog:
		c.handleLogCommand(ctx, handler, data, c.SetPrivateLog, "Private")
	case DiscordSlashCommandInfo:
		c.handleInfoCommand(ctx, handler, data)
	case DiscordSlashCommandStats:
		c.handleStatsCommand(ctx, handler)
	default:
		handler.Logger().WarnContext(
			ctx, "unknown command", "command", data.Name,
		)
		respondEphemeral(ctx, handler, "Unknown command.")
	}
}

// SetupGuild points the confession system at the given channel, posts
// the standing submission message there, and creates or updates the
// guild's config. The sequence counter survives re-setup untouched, so
// confession numbers keep climbing from where they were.
func (c *Confide) SetupGuild(
	ctx context.Context,
	guildID string,
	channelID string,
) (*GuildConfessionConfig, error) {
	msg, err := c.postStarterMessage(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("error posting starter message: %w", err)
	}

	if err = upsertGuildConfig(ctx, c.writeDB, guildID, channelID, msg.ID); err != nil {
		return nil, fmt.Errorf("error saving guild config: %w", err)
	}

	return getGuildConfig(c.db, guildID)
}

func (c *Confide) handleSetupCommand(
	ctx context.Context,
	handler InteractionHandler,
	data discordgo.ApplicationCommandInteractionData,
) {
	i := handler.GetInteraction()
	channelID := channelOptionValue(data)
	if channelID == "" {
		respondEphemeral(ctx, handler, "A channel is required.")
		return
	}

	if err := handler.Respond(ctx, ackResponse()); err != nil {
		handler.Logger().ErrorContext(ctx, "error acknowledging command", tint.Err(err))
		return
	}

	cfg, err := c.SetupGuild(ctx, i.GuildID, channelID)
	var content string
	if err != nil {
		handler.Logger().ErrorContext(ctx, "setup failed", tint.Err(err))
		content = "Setup failed. Check that I can post in that channel."
	} else {
		content = fmt.Sprintf(
			"Confessions are now enabled in <#%s>. %d confession number(s) "+
				"have been issued so far.",
			cfg.ConfessionChannelID,
			cfg.SequenceCounter,
		)
	}
	if _, editErr := handler.Edit(
		ctx, &discordgo.WebhookEdit{Content: &content},
	); editErr != nil {
		handler.Logger().ErrorContext(ctx, "error sending setup outcome", tint.Err(editErr))
	}
}

func (c *Confide) handleLogCommand(
	ctx context.Context,
	handler InteractionHandler,
	data discordgo.ApplicationCommandInteractionData,
	set func(context.Context, string, string) error,
	label string,
) {
	i := handler.GetInteraction()
	channelID := channelOptionValue(data)
	if channelID == "" {
		respondEphemeral(ctx, handler, "A channel is required.")
		return
	}

	if err := set(ctx, i.GuildID, channelID); err != nil {
		if errors.Is(err, ErrNotConfigured) {
			respondEphemeral(ctx, handler, ErrNotConfigured.Error())
			return
		}
		handler.Logger().ErrorContext(ctx, "error setting log channel", tint.Err(err))
		respondEphemeral(ctx, handler, "Failed to update the log channel.")
		return
	}
	respondEphemeral(
		ctx,
		handler,
		fmt.Sprintf("%s confession log channel set to <#%s>.", label, channelID),
	)
}

func (c *Confide) handleInfoCommand(
	ctx context.Context,
	handler InteractionHandler,
	data discordgo.ApplicationCommandInteractionData,
) {
	i := handler.GetInteraction()

	var number int64
	for _, opt := range data.Options {
		if opt.Name == commandOptionNumber {
			number = opt.IntValue()
		}
	}
	if number < 1 {
		respondEphemeral(ctx, handler, "A confession number is required.")
		return
	}

	rec, err := c.GetRecordInfo(ctx, i.GuildID, number)
	if err != nil {
		if errors.Is(err, ErrTargetNotFound) {
			respondEphemeral(ctx, handler, ErrTargetNotFound.Error())
			return
		}
		handler.Logger().ErrorContext(ctx, "error looking up confession", tint.Err(err))
		respondEphemeral(ctx, handler, "Lookup failed.")
		return
	}

	embed := privateLogEmbed(rec)
	err = handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Embeds: []*discordgo.MessageEmbed{embed},
				Flags:  discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		handler.Logger().ErrorContext(ctx, "error sending record info", tint.Err(err))
	}
}

func (c *Confide) handleStatsCommand(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()

	stats, err := c.GetStats(ctx, i.GuildID)
	if err != nil {
		if errors.Is(err, ErrNotConfigured) {
			respondEphemeral(ctx, handler, ErrNotConfigured.Error())
			return
		}
		handler.Logger().ErrorContext(ctx, "error loading stats", tint.Err(err))
		respondEphemeral(ctx, handler, "Failed to load statistics.")
		return
	}

	respondEphemeral(
		ctx,
		handler,
		fmt.Sprintf(
			"Confessions: %d total, %d today, %d replies.",
			stats.Total,
			stats.Today,
			stats.Replies,
		),
	)
}

// channelOptionValue returns the channel option's ID, if present.
func channelOptionValue(data discordgo.ApplicationCommandInteractionData) string {
	for _, opt := range data.Options {
		if opt.Name == commandOptionChannel &&
			opt.Type == discordgo.ApplicationCommandOptionChannel {
			if v, ok := opt.Value.(string); ok {
				return v
			}
		}
	}
	return ""
}
