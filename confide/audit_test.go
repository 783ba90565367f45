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

func TestPublishAuditLogs(t *testing.T) {
	c, session := newTestConfide(t)
	ctx := context.Background()
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	// Log channels are configured after the submission so the fan-out
	// goroutine inside the pipeline sees none, and the direct call below
	// is the only writer the assertions observe.
	rec := submitConfession(
		t, c, guildID, strings.Repeat("long confession text ", 20),
	)
	require.NoError(t, c.SetPublicLog(ctx, guildID, "public_log"))
	require.NoError(t, c.SetPrivateLog(ctx, guildID, "private_log"))
	cfg, err := getGuildConfig(c.db, guildID)
	require.NoError(t, err)

	c.publishAuditLogs(ctx, cfg, rec)

	publicSent := session.sentTo("public_log")
	require.Len(t, publicSent, 1)
	publicEmbed := publicSent[0].Data.Embeds[0]
	assert.Equal(
		t,
		fmt.Sprintf("Confession #%d submitted", rec.SequenceNumber),
		publicEmbed.Title,
	)
	assert.NotContains(t, publicEmbed.Description, rec.AuthorID)
	assert.True(t, strings.HasSuffix(publicEmbed.Description, "..."))
	assert.Empty(t, publicEmbed.Fields)

	privateSent := session.sentTo("private_log")
	require.Len(t, privateSent, 1)
	privateEmbed := privateSent[0].Data.Embeds[0]
	assert.Equal(t, rec.Body, privateEmbed.Description)
	require.Len(t, privateEmbed.Fields, 1)
	assert.Contains(t, privateEmbed.Fields[0].Value, rec.AuthorID)
}

func TestPublishAuditLogs_NoChannelsConfigured(t *testing.T) {
	c, session := newTestConfide(t)
	ctx := context.Background()
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	rec := submitConfession(t, c, guildID, "nothing fans out")
	cfg, err := getGuildConfig(c.db, guildID)
	require.NoError(t, err)

	before := len(session.sentTo("channel_1"))
	c.publishAuditLogs(ctx, cfg, rec)
	assert.Len(t, session.sentTo("channel_1"), before)
}

// TestPublishAuditLogs_PartialFailure verifies one broken audit channel
// doesn't stop the other from receiving its entry.
func TestPublishAuditLogs_PartialFailure(t *testing.T) {
	c, session := newTestConfide(t)
	ctx := context.Background()
	guildID := fmt.Sprintf("guild_%s", t.Name())
	setupTestGuild(t, c, guildID, "channel_1")

	rec := submitConfession(t, c, guildID, "resilient fan-out")
	require.NoError(t, c.SetPublicLog(ctx, guildID, "public_log"))
	require.NoError(t, c.SetPrivateLog(ctx, guildID, "private_log"))
	cfg, err := getGuildConfig(c.db, guildID)
	require.NoError(t, err)

	session.mu.Lock()
	session.failSendChannels["public_log"] = errors.New("channel unavailable")
	session.mu.Unlock()

	c.publishAuditLogs(ctx, cfg, rec)

	assert.Empty(t, session.sentTo("public_log"))
	assert.NotEmpty(t, session.sentTo("private_log"))
}

func TestPublicLogEmbed_Reply(t *testing.T) {
	replyTo := int64(3)
	rec := &Confession{
		SequenceNumber:  7,
		Body:            "short reply",
		IsReply:         true,
		ReplyToSequence: &replyTo,
	}
	embed := publicLogEmbed(rec)
	assert.Equal(t, "Reply #7 to confession #3 submitted", embed.Title)
	assert.Equal(t, "short reply", embed.Description)
}
