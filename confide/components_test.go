package confide

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func componentInteraction(guildID string, customID string, messageID string) *discordgo.InteractionCreate {
	i := &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:      "interaction_1",
			Type:    discordgo.InteractionMessageComponent,
			GuildID: guildID,
			Member: &discordgo.Member{
				User: &discordgo.User{ID: "clicker_1", Username: "clicker"},
			},
			Data: discordgo.MessageComponentInteractionData{
				CustomID: customID,
			},
		},
	}
	if messageID != "" {
		i.Message = &discordgo.Message{ID: messageID}
	}
	return i
}

func modalInteraction(guildID string, customID string, body string) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{
		Interaction: &discordgo.Interaction{
			ID:      "interaction_1",
			Type:    discordgo.InteractionModalSubmit,
			GuildID: guildID,
			Member: &discordgo.Member{
				User: &discordgo.User{ID: "submitter_1", Username: "submitter"},
			},
			Data: discordgo.ModalSubmitInteractionData{
				CustomID: customID,
				Components: []discordgo.MessageComponent{
					&discordgo.ActionsRow{
						Components: []discordgo.MessageComponent{
							&discordgo.TextInput{
								CustomID: modalInputConfessionBody,
								Value:    body,
							},
						},
					},
				},
			},
		},
	}
}

func TestHandleMessageComponent_OpensConfessionModal(t *testing.T) {
	c, _ := newTestConfide(t)
	ctx := context.Background()
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	for _, customID := range []string{customIDStart, customIDConfess} {
		handler := newStubHandler(t, componentInteraction(guildID, customID, ""))
		c.handleMessageComponent(ctx, handler)

		response := handler.lastResponse()
		require.NotNil(t, response)
		assert.Equal(t, discordgo.InteractionResponseModal, response.Type)
		assert.Equal(t, customIDModalConfess, response.Data.CustomID)
	}
}

// TestHandleMessageComponent_ReplyTargetsOriginal verifies a reply
// button clicked on a reply message opens a modal targeting the chain's
// original confession, not the reply itself.
func TestHandleMessageComponent_ReplyTargetsOriginal(t *testing.T) {
	c, _ := newTestConfide(t)
	ctx := context.Background()
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	original := submitConfession(t, c, guildID, "the original")
	reply, err := c.processSubmission(
		ctx, &Submission{
			GuildID:        guildID,
			AuthorID:       "author_2",
			Body:           "a reply in the thread",
			TargetSequence: int64Ptr(original.SequenceNumber),
		},
	)
	require.NoError(t, err)

	handler := newStubHandler(
		t,
		componentInteraction(guildID, customIDThreadReply, reply.AnchorMessageID),
	)
	c.handleMessageComponent(ctx, handler)

	response := handler.lastResponse()
	require.NotNil(t, response)
	assert.Equal(t, discordgo.InteractionResponseModal, response.Type)
	assert.Equal(
		t,
		fmt.Sprintf("%s%d", customIDModalReplyPrefix, original.SequenceNumber),
		response.Data.CustomID,
	)
	assert.Contains(
		t,
		response.Data.Title,
		fmt.Sprintf("Confession #%d", original.SequenceNumber),
	)
}

func TestHandleMessageComponent_ReplyUnknownMessage(t *testing.T) {
	c, _ := newTestConfide(t)
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	handler := newStubHandler(
		t,
		componentInteraction(guildID, customIDReply, "msg_unknown"),
	)
	c.handleMessageComponent(context.Background(), handler)

	response := handler.lastResponse()
	require.NotNil(t, response)
	assert.Equal(
		t,
		discordgo.InteractionResponseChannelMessageWithSource,
		response.Type,
	)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, response.Data.Flags)
	assert.Equal(t, ErrTargetNotFound.Error(), response.Data.Content)
}

func TestHandleMessageComponent_UnknownCustomID(t *testing.T) {
	c, _ := newTestConfide(t)
	guildID := fmt.Sprintf("guild_%s", t.Name())

	handler := newStubHandler(
		t,
		componentInteraction(guildID, "confide:from_a_previous_life", ""),
	)
	c.handleMessageComponent(context.Background(), handler)

	response := handler.lastResponse()
	require.NotNil(t, response)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, response.Data.Flags)
	assert.Contains(t, response.Data.Content, "no longer supported")
}

func TestHandleModalSubmit_Confession(t *testing.T) {
	c, session := newTestConfide(t)
	ctx := context.Background()
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	handler := newStubHandler(
		t,
		modalInteraction(guildID, customIDModalConfess, "typed into the modal"),
	)
	c.handleModalSubmit(ctx, handler)

	// deferred ephemeral ack first, outcome via edit
	response := handler.lastResponse()
	require.NotNil(t, response)
	assert.Equal(
		t,
		discordgo.InteractionResponseDeferredChannelMessageWithSource,
		response.Type,
	)
	rec, err := getConfessionBySequence(c.db, guildID, 1)
	require.NoError(t, err)
	assert.Equal(t, "typed into the modal", rec.Body)
	assert.Equal(t, "submitter_1", rec.AuthorID)
	require.NotEmpty(t, rec.ThreadID)

	assert.Equal(
		t,
		fmt.Sprintf(
			"Your confession was posted as Confession #1. "+
				"Join the discussion: <#%s>",
			rec.ThreadID,
		),
		handler.lastEditContent(),
	)

	require.Len(t, session.sentTo("channel_1"), 2)
}

// TestHandleModalSubmit_ConfessionWithoutThread verifies the
// acknowledgment omits the thread reference when eager thread creation
// failed.
func TestHandleModalSubmit_ConfessionWithoutThread(t *testing.T) {
	c, session := newTestConfide(t)
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	session.failThreadCreate = errors.New("thread create unavailable")
	handler := newStubHandler(
		t,
		modalInteraction(guildID, customIDModalConfess, "no thread for this one"),
	)
	c.handleModalSubmit(context.Background(), handler)

	assert.Equal(
		t,
		"Your confession was posted as Confession #1.",
		handler.lastEditContent(),
	)
}

func TestHandleModalSubmit_Reply(t *testing.T) {
	c, _ := newTestConfide(t)
	ctx := context.Background()
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	original := submitConfession(t, c, guildID, "the original")

	handler := newStubHandler(
		t,
		modalInteraction(
			guildID,
			fmt.Sprintf("%s%d", customIDModalReplyPrefix, original.SequenceNumber),
			"a modal reply",
		),
	)
	c.handleModalSubmit(ctx, handler)

	rec, err := getConfessionBySequence(c.db, guildID, 2)
	require.NoError(t, err)
	assert.True(t, rec.IsReply)
	require.NotEmpty(t, rec.ThreadID)

	assert.Equal(
		t,
		fmt.Sprintf(
			"Your reply to Confession #%d was posted as #2 in <#%s>.",
			original.SequenceNumber,
			rec.ThreadID,
		),
		handler.lastEditContent(),
	)
}

func TestHandleModalSubmit_Rejection(t *testing.T) {
	c, _ := newTestConfide(t)
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	handler := newStubHandler(t, modalInteraction(guildID, customIDModalConfess, "x"))
	c.handleModalSubmit(context.Background(), handler)

	assert.Equal(t, ErrTooShort.Error(), handler.lastEditContent())
	requireCounter(t, c, guildID, 0)
}

func TestHandleModalSubmit_MalformedReplyID(t *testing.T) {
	c, _ := newTestConfide(t)
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	handler := newStubHandler(
		t,
		modalInteraction(guildID, customIDModalReplyPrefix+"not_a_number", "body text"),
	)
	c.handleModalSubmit(context.Background(), handler)

	response := handler.lastResponse()
	require.NotNil(t, response)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, response.Data.Flags)
	assert.Equal(t, ErrTargetNotFound.Error(), response.Data.Content)
	assert.Empty(t, handler.edits)
}

func TestHandleModalSubmit_UnknownModalID(t *testing.T) {
	c, _ := newTestConfide(t)
	guildID := fmt.Sprintf("guild_%s", t.Name())

	handler := newStubHandler(
		t,
		modalInteraction(guildID, "confide:modal:retired", "body text"),
	)
	c.handleModalSubmit(context.Background(), handler)

	response := handler.lastResponse()
	require.NotNil(t, response)
	assert.Contains(t, response.Data.Content, "no longer supported")
}

func TestModalInputValue(t *testing.T) {
	data := discordgo.ModalSubmitInteractionData{
		Components: []discordgo.MessageComponent{
			&discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					&discordgo.TextInput{
						CustomID: "other_field",
						Value:    "not this one",
					},
					&discordgo.TextInput{
						CustomID: modalInputConfessionBody,
						Value:    "this one",
					},
				},
			},
		},
	}
	assert.Equal(t, "this one", modalInputValue(data, modalInputConfessionBody))
	assert.Equal(t, "", modalInputValue(data, "missing_field"))
}

// TestRehydratePersistentControls covers startup rehydration: intact
// starter messages are left alone, deleted ones are reposted and the
// new message ID persisted.
func TestRehydratePersistentControls(t *testing.T) {
	c, session := newTestConfide(t)
	ctx := context.Background()

	intactGuild := fmt.Sprintf("guild_intact_%s", t.Name())
	brokenGuild := fmt.Sprintf("guild_broken_%s", t.Name())
	setupTestGuild(t, c, intactGuild, "channel_intact")
	setupTestGuild(t, c, brokenGuild, "channel_broken")

	brokenCfg, err := getGuildConfig(c.db, brokenGuild)
	require.NoError(t, err)
	require.NotEmpty(t, brokenCfg.StarterMessageID)

	session.mu.Lock()
	session.deletedMessages[brokenCfg.StarterMessageID] = true
	session.mu.Unlock()

	intactBefore := len(session.sentTo("channel_intact"))
	brokenBefore := len(session.sentTo("channel_broken"))

	c.rehydratePersistentControls(ctx)

	assert.Len(t, session.sentTo("channel_intact"), intactBefore)
	reposted := session.sentTo("channel_broken")
	require.Len(t, reposted, brokenBefore+1)
	require.NotEmpty(t, reposted[len(reposted)-1].Data.Components)

	updated, err := getGuildConfig(c.db, brokenGuild)
	require.NoError(t, err)
	assert.NotEqual(t, brokenCfg.StarterMessageID, updated.StarterMessageID)

	// A second pass changes nothing.
	c.rehydratePersistentControls(ctx)
	again, err := getGuildConfig(c.db, brokenGuild)
	require.NoError(t, err)
	assert.Equal(t, updated.StarterMessageID, again.StarterMessageID)
}
