package confide

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// Component and modal custom IDs. These are deliberately static (or
// parameterized only by confession number): every other identifier a
// click needs is resolved from the store at interaction time, so
// controls attached to messages posted before a restart keep working
// with no in-memory registration step.
const (
	customIDStart       = "confide:start"
	customIDConfess     = "confide:confess"
	customIDReply       = "confide:reply"
	customIDThreadReply = "confide:thread_reply"

	customIDModalConfess     = "confide:modal:confess"
	customIDModalReplyPrefix = "confide:modal:reply:"

	modalInputConfessionBody = "confession_body"
)

func threadName(sequenceNumber int64) string {
	return fmt.Sprintf("Confession #%d - Discussion", sequenceNumber)
}

// confessionEmbed is the public embed for a newly published confession.
// No author identity appears anywhere in it.
func confessionEmbed(sequenceNumber int64, body string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Confession #%d", sequenceNumber),
		Description: body,
		Color:       embedColorConfession,
		Footer: &discordgo.MessageEmbedFooter{
			Text: embedFooterAnonymous,
		},
	}
}

// replyEmbed is the public embed for a reply posted into a discussion
// thread.
func replyEmbed(
	sequenceNumber int64,
	replyToSequence int64,
	body string,
) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: fmt.Sprintf(
			"Reply #%d (to Confession #%d)",
			sequenceNumber,
			replyToSequence,
		),
		Description: body,
		Color:       embedColorConfession,
		Footer: &discordgo.MessageEmbedFooter{
			Text: embedFooterAnonymous,
		},
	}
}

// starterComponents are the controls on the standing setup message.
func starterComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Submit a confession",
					Style:    discordgo.PrimaryButton,
					CustomID: customIDStart,
					Emoji:    &discordgo.ComponentEmoji{Name: "📨"},
				},
			},
		},
	}
}

// confessionComponents are the controls attached to each published
// confession.
func confessionComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Reply anonymously",
					Style:    discordgo.SecondaryButton,
					CustomID: customIDReply,
					Emoji:    &discordgo.ComponentEmoji{Name: "💬"},
				},
				discordgo.Button{
					Label:    "New confession",
					Style:    discordgo.PrimaryButton,
					CustomID: customIDConfess,
					Emoji:    &discordgo.ComponentEmoji{Name: "📨"},
				},
			},
		},
	}
}

// replyComponents are the controls attached to each reply inside a
// thread, continuing the chain.
func replyComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Reply anonymously",
					Style:    discordgo.SecondaryButton,
					CustomID: customIDThreadReply,
					Emoji:    &discordgo.ComponentEmoji{Name: "↩️"},
				},
			},
		},
	}
}

// confessionModal builds the submission modal for a new confession.
func confessionModal() *discordgo.InteractionResponse {
	return submissionModal(
		customIDModalConfess,
		"Submit an anonymous confession",
		"Confession",
	)
}

// replyModal builds the submission modal for a reply to the given
// confession number.
func replyModal(targetSequence int64) *discordgo.InteractionResponse {
	return submissionModal(
		fmt.Sprintf("%s%d", customIDModalReplyPrefix, targetSequence),
		fmt.Sprintf("Reply to Confession #%d", targetSequence),
		"Reply",
	)
}

func submissionModal(customID string, title string, label string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: customID,
			Title:    title,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:    modalInputConfessionBody,
							Label:       label,
							Style:       discordgo.TextInputParagraph,
							Placeholder: "Type your message here. Your identity stays hidden.",
							Required:    true,
							MinLength:   confessionBodyMinLength,
							MaxLength:   confessionBodyMaxLength,
						},
					},
				},
			},
		},
	}
}

// handleMessageComponent dispatches a button click. All button custom
// IDs are static, so the click is interpreted against the store: the
// message the button sits on identifies the confession it belongs to.
func (c *Confide) handleMessageComponent(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	data := i.MessageComponentData()
	logger := handler.Logger().With("custom_id", data.CustomID)

	switch data.CustomID {
	case customIDStart, customIDConfess:
		if err := handler.Respond(ctx, confessionModal()); err != nil {
			logger.ErrorContext(ctx, "error opening confession modal", tint.Err(err))
		}
	case customIDReply, customIDThreadReply:
		c.handleReplyClick(ctx, handler, logger)
	default:
		logger.WarnContext(ctx, "unknown component custom id")
		respondEphemeral(ctx, handler, "This control is no longer supported.")
	}
}

// handleReplyClick resolves the clicked message back to its confession
// record and opens a reply modal targeting the original confession of
// its chain.
func (c *Confide) handleReplyClick(
	ctx context.Context,
	handler InteractionHandler,
	logger *slog.Logger,
) {
	i := handler.GetInteraction()
	if i.Message == nil {
		respondEphemeral(ctx, handler, ErrTargetNotFound.Error())
		return
	}

	rec, err := getConfessionByAnchor(c.db, i.GuildID, i.Message.ID)
	if err != nil {
		logger.WarnContext(
			ctx,
			"no confession record for clicked message",
			tint.Err(err),
			"message_id", i.Message.ID,
		)
		respondEphemeral(ctx, handler, ErrTargetNotFound.Error())
		return
	}

	original, err := originalConfession(c.db, rec)
	if err != nil {
		logger.WarnContext(ctx, "error resolving chain original", tint.Err(err))
		respondEphemeral(ctx, handler, ErrTargetNotFound.Error())
		return
	}

	if err = handler.Respond(ctx, replyModal(original.SequenceNumber)); err != nil {
		logger.ErrorContext(ctx, "error opening reply modal", tint.Err(err))
	}
}

// handleModalSubmit parses a submission modal and runs the pipeline.
// The user gets a deferred ephemeral ack immediately, then the outcome
// once the pipeline finishes.
func (c *Confide) handleModalSubmit(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	data := i.ModalSubmitData()
	logger := handler.Logger().With("custom_id", data.CustomID)

	sub := &Submission{GuildID: i.GuildID}
	if u := getDiscordUser(i); u != nil {
		sub.AuthorID = u.ID
	}

	switch {
	case data.CustomID == customIDModalConfess:
		//
	case strings.HasPrefix(data.CustomID, customIDModalReplyPrefix):
		seq, err := strconv.ParseInt(
			strings.TrimPrefix(data.CustomID, customIDModalReplyPrefix),
			10,
			64,
		)
		if err != nil {
			logger.ErrorContext(ctx, "malformed reply modal id", tint.Err(err))
			respondEphemeral(ctx, handler, ErrTargetNotFound.Error())
			return
		}
		sub.TargetSequence = &seq
	default:
		logger.WarnContext(ctx, "unknown modal custom id")
		respondEphemeral(ctx, handler, "This form is no longer supported.")
		return
	}

	sub.Body = modalInputValue(data, modalInputConfessionBody)

	if err := handler.Respond(ctx, ackResponse()); err != nil {
		logger.ErrorContext(ctx, "error acknowledging modal submit", tint.Err(err))
		return
	}

	rec, err := c.processSubmission(WithLogger(ctx, handler.Logger()), sub)

	var content string
	switch {
	case err != nil:
		content = rejectionMessage(err)
	case rec.IsReply && rec.ReplyToSequence != nil:
		content = fmt.Sprintf(
			"Your reply to Confession #%d was posted as #%d in <#%s>.",
			*rec.ReplyToSequence,
			rec.SequenceNumber,
			rec.ThreadID,
		)
	case rec.ThreadID != "":
		content = fmt.Sprintf(
			"Your confession was posted as Confession #%d. "+
				"Join the discussion: <#%s>",
			rec.SequenceNumber,
			rec.ThreadID,
		)
	default:
		content = fmt.Sprintf(
			"Your confession was posted as Confession #%d.",
			rec.SequenceNumber,
		)
	}
	if _, editErr := handler.Edit(
		ctx, &discordgo.WebhookEdit{Content: &content},
	); editErr != nil {
		logger.ErrorContext(ctx, "error sending submission outcome", tint.Err(editErr))
	}
}

// modalInputValue digs the named text input's value out of a modal
// submission payload.
func modalInputValue(data discordgo.ModalSubmitInteractionData, customID string) string {
	for _, row := range data.Components {
		actionsRow, ok := row.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, component := range actionsRow.Components {
			input, inputOK := component.(*discordgo.TextInput)
			if inputOK && input.CustomID == customID {
				return input.Value
			}
		}
	}
	return ""
}

// respondEphemeral sends an immediate ephemeral message in response to
// an interaction. Errors are logged and dropped.
func respondEphemeral(ctx context.Context, handler InteractionHandler, content string) {
	err := handler.Respond(
		ctx, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		},
	)
	if err != nil {
		handler.Logger().ErrorContext(ctx, "error sending response", tint.Err(err))
	}
}

// rehydratePersistentControls runs at startup and verifies each guild's
// standing starter message still exists, reposting it if an admin
// deleted it. Confession and reply controls need no per-message work
// here - their custom IDs are static and resolve through the store.
func (c *Confide) rehydratePersistentControls(ctx context.Context) {
	logger := c.logger.With(loggerNameKey, "rehydrate")

	var configs []GuildConfessionConfig
	if err := c.db.Find(&configs).Error; err != nil {
		logger.ErrorContext(ctx, "error loading guild configs", tint.Err(err))
		return
	}

	for _, cfg := range configs {
		if cfg.ConfessionChannelID == "" {
			continue
		}
		guildLogger := logger.With("guild_id", cfg.GuildID)

		if cfg.StarterMessageID != "" {
			_, err := c.discord.session.ChannelMessage(
				cfg.ConfessionChannelID,
				cfg.StarterMessageID,
				discordgo.WithContext(ctx),
			)
			if err == nil {
				continue
			}
			guildLogger.WarnContext(
				ctx,
				"starter message missing, reposting",
				tint.Err(err),
			)
		}

		msg, err := c.postStarterMessage(ctx, cfg.ConfessionChannelID)
		if err != nil {
			guildLogger.ErrorContext(ctx, "error reposting starter message", tint.Err(err))
			continue
		}
		_, err = c.writeDB.UpdatesWhere(
			ctx,
			&GuildConfessionConfig{},
			map[string]any{columnGuildConfigStarterMessageID: msg.ID},
			"guild_id = ?",
			cfg.GuildID,
		)
		if err != nil {
			guildLogger.ErrorContext(ctx, "error saving starter message id", tint.Err(err))
		}
	}
}

// postStarterMessage posts the standing "submit a confession" message.
func (c *Confide) postStarterMessage(
	ctx context.Context,
	channelID string,
) (*discordgo.Message, error) {
	return c.discord.session.ChannelMessageSendComplex(
		channelID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title: "Anonymous Confessions",
					Description: "Press the button below to submit an anonymous " +
						"confession. Your identity is never shown to other members.",
					Color: embedColorConfession,
				},
			},
			Components: starterComponents(),
		},
		discordgo.WithContext(ctx),
	)
}
