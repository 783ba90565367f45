package confide

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireCounter asserts the guild's persisted sequence counter value.
func requireCounter(t testing.TB, c *Confide, guildID string, expected int64) {
	t.Helper()
	cfg, err := getGuildConfig(c.db, guildID)
	require.NoError(t, err)
	require.Equal(t, expected, cfg.SequenceCounter)
}

func TestProcessSubmission_NewConfession(t *testing.T) {
	c, session := newTestConfide(t)
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	rec, err := c.processSubmission(
		context.Background(),
		&Submission{
			GuildID:  guildID,
			AuthorID: "author_1",
			Body:     "  my first confession  ",
		},
	)
	require.NoError(t, err)

	assert.Equal(t, int64(1), rec.SequenceNumber)
	assert.Equal(t, "my first confession", rec.Body, "body should be trimmed")
	assert.Equal(t, "author_1", rec.AuthorID)
	assert.False(t, rec.IsReply)
	assert.NotEmpty(t, rec.AnchorMessageID)
	assert.NotEmpty(t, rec.ThreadID, "eager thread creation should succeed")

	sent := session.sentTo("channel_1")
	// starter message from setup, then the confession itself
	require.Len(t, sent, 2)
	confessionMsg := sent[1]
	require.Len(t, confessionMsg.Data.Embeds, 1)
	embed := confessionMsg.Data.Embeds[0]
	assert.Equal(t, "Confession #1", embed.Title)
	assert.Equal(t, "my first confession", embed.Description)
	assert.Equal(t, embedColorConfession, embed.Color)
	assert.Equal(t, embedFooterAnonymous, embed.Footer.Text)
	assert.NotContains(t, embed.Description, "author_1")
	require.NotEmpty(t, confessionMsg.Data.Components)
}

func TestProcessSubmission_ValidationRejections(t *testing.T) {
	c, _ := newTestConfide(t)
	ctx := context.Background()
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	testCases := []struct {
		name     string
		body     string
		expected error
	}{
		{"too short", "x", ErrTooShort},
		{"whitespace only", "   \n\t  ", ErrTooShort},
		{"too long", strings.Repeat("a", 2001), ErrTooLong},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				sub := &Submission{
					GuildID:  guildID,
					AuthorID: "author_1",
					Body:     tc.body,
				}
				_, err := c.processSubmission(ctx, sub)
				require.ErrorIs(t, err, tc.expected)
				assert.Equal(t, SubmissionStateRejected, sub.State)
			},
		)
	}

	// Rejections before allocation leave no trace: counter untouched,
	// no records written.
	requireCounter(t, c, guildID, 0)
	var count int64
	require.NoError(
		t,
		c.db.Model(&Confession{}).Where("guild_id = ?", guildID).Count(&count).Error,
	)
	assert.Zero(t, count)
}

func TestProcessSubmission_GuildNotConfigured(t *testing.T) {
	c, _ := newTestConfide(t)

	_, err := c.processSubmission(
		context.Background(),
		&Submission{
			GuildID:  "never_set_up",
			AuthorID: "author_1",
			Body:     "confession into the void",
		},
	)
	require.ErrorIs(t, err, ErrNotConfigured)
}

// TestProcessSubmission_ThreadFailureNonFatal verifies a failed eager
// thread creation doesn't reject a new confession.
func TestProcessSubmission_ThreadFailureNonFatal(t *testing.T) {
	c, session := newTestConfide(t)
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	session.failThreadCreate = errors.New("thread create unavailable")
	rec, err := c.processSubmission(
		context.Background(),
		&Submission{
			GuildID:  guildID,
			AuthorID: "author_1",
			Body:     "posted without a thread",
		},
	)
	require.NoError(t, err)
	assert.Empty(t, rec.ThreadID)

	persisted, err := getConfessionBySequence(c.db, guildID, rec.SequenceNumber)
	require.NoError(t, err)
	assert.Empty(t, persisted.ThreadID)
}

// TestProcessSubmission_PublishFailureConsumesNumber verifies
// gap-tolerant numbering: a publish failure after allocation keeps the
// number consumed.
func TestProcessSubmission_PublishFailureConsumesNumber(t *testing.T) {
	c, session := newTestConfide(t)
	ctx := context.Background()
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	session.mu.Lock()
	session.failSendChannels["channel_1"] = errors.New("channel unavailable")
	session.mu.Unlock()

	_, err := c.processSubmission(
		ctx, &Submission{
			GuildID:  guildID,
			AuthorID: "author_1",
			Body:     "this will not post",
		},
	)
	require.ErrorIs(t, err, ErrPublishFailed)
	requireCounter(t, c, guildID, 1)

	session.mu.Lock()
	delete(session.failSendChannels, "channel_1")
	session.mu.Unlock()

	// The next accepted confession gets the next number; #1 stays a gap.
	rec := submitConfession(t, c, guildID, "this one posts")
	assert.Equal(t, int64(2), rec.SequenceNumber)
	_, err = getConfessionBySequence(c.db, guildID, 1)
	require.ErrorIs(t, err, ErrTargetNotFound)
}

func TestProcessSubmission_Reply(t *testing.T) {
	c, session := newTestConfide(t)
	ctx := context.Background()
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	original := submitConfession(t, c, guildID, "the original")
	require.NotEmpty(t, original.ThreadID)

	rec, err := c.processSubmission(
		ctx, &Submission{
			GuildID:        guildID,
			AuthorID:       "author_2",
			Body:           "a heartfelt reply",
			TargetSequence: int64Ptr(original.SequenceNumber),
		},
	)
	require.NoError(t, err)
	assert.True(t, rec.IsReply)
	assert.Equal(t, original.ThreadID, rec.ThreadID)
	require.NotNil(t, rec.ReplyToSequence)
	assert.Equal(t, original.SequenceNumber, *rec.ReplyToSequence)

	// The reply is posted into the thread, not the confession channel.
	threadMessages := session.sentTo(original.ThreadID)
	require.Len(t, threadMessages, 1)
	embed := threadMessages[0].Data.Embeds[0]
	assert.Equal(
		t,
		fmt.Sprintf(
			"Reply #%d (to Confession #%d)",
			rec.SequenceNumber,
			original.SequenceNumber,
		),
		embed.Title,
	)
}

// TestProcessSubmission_ReplyCreatesThreadLazily verifies the first
// reply to a confession without a thread forces creation.
func TestProcessSubmission_ReplyCreatesThreadLazily(t *testing.T) {
	c, session := newTestConfide(t)
	ctx := context.Background()
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	session.failThreadCreate = errors.New("thread create unavailable")
	original := submitConfession(t, c, guildID, "threadless original")
	require.Empty(t, original.ThreadID)
	session.failThreadCreate = nil

	rec, err := c.processSubmission(
		ctx, &Submission{
			GuildID:        guildID,
			AuthorID:       "author_2",
			Body:           "first reply forces the thread",
			TargetSequence: int64Ptr(original.SequenceNumber),
		},
	)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ThreadID)
	assert.Equal(t, 1, session.threadStartCount())

	persisted, err := getConfessionBySequence(c.db, guildID, original.SequenceNumber)
	require.NoError(t, err)
	assert.Equal(t, rec.ThreadID, persisted.ThreadID)
}

// TestProcessSubmission_ReplyToMissingTarget verifies a reply to a
// nonexistent confession is rejected before a number is allocated.
func TestProcessSubmission_ReplyToMissingTarget(t *testing.T) {
	c, _ := newTestConfide(t)
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	_, err := c.processSubmission(
		context.Background(),
		&Submission{
			GuildID:        guildID,
			AuthorID:       "author_1",
			Body:           "replying to nothing",
			TargetSequence: int64Ptr(42),
		},
	)
	require.ErrorIs(t, err, ErrTargetNotFound)
	requireCounter(t, c, guildID, 0)
}

// TestProcessSubmission_ReplyToDeletedAnchor verifies a reply whose
// target confession message was deleted is rejected, but the number is
// consumed since the failure happens after allocation.
func TestProcessSubmission_ReplyToDeletedAnchor(t *testing.T) {
	c, session := newTestConfide(t)
	ctx := context.Background()
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	session.failThreadCreate = errors.New("thread create unavailable")
	original := submitConfession(t, c, guildID, "soon to be deleted")
	session.failThreadCreate = nil

	session.mu.Lock()
	session.deletedMessages[original.AnchorMessageID] = true
	session.mu.Unlock()

	_, err := c.processSubmission(
		ctx, &Submission{
			GuildID:        guildID,
			AuthorID:       "author_2",
			Body:           "reply to a ghost",
			TargetSequence: int64Ptr(original.SequenceNumber),
		},
	)
	require.ErrorIs(t, err, ErrAnchorNotFound)

	// The target was resolved pre-allocation, so the number for the
	// failed reply is consumed.
	requireCounter(t, c, guildID, 2)

	var count int64
	require.NoError(
		t,
		c.db.Model(&Confession{}).
			Where("guild_id = ? AND is_reply = ?", guildID, true).
			Count(&count).Error,
	)
	assert.Zero(t, count, "no reply record should be written")

	target, err := getConfessionBySequence(c.db, guildID, original.SequenceNumber)
	require.NoError(t, err)
	assert.Zero(t, target.ReplyCount, "failed reply should not count against the target")
}

func TestRejectionMessage(t *testing.T) {
	for _, known := range []error{
		ErrTooShort,
		ErrTooLong,
		ErrNotConfigured,
		ErrTargetNotFound,
		ErrAnchorNotFound,
		ErrPublishFailed,
		ErrThreadCreateFailed,
	} {
		assert.Equal(t, known.Error(), rejectionMessage(known))
		assert.Equal(t, known.Error(), rejectionMessage(fmt.Errorf("wrapped: %w", known)))
	}

	generic := rejectionMessage(errors.New("database exploded"))
	assert.NotContains(t, generic, "database")
}
