package confide

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

// threadResolver lazily creates discussion threads for confessions,
// guaranteeing at most one thread per confession even when many replies
// arrive at once.
//
// The guarantee comes from two layers. In-process, resolveOrCreate
// single-flights per anchor message via a refcounted keyed mutex, so
// concurrent callers for the same confession serialize and all but the
// first see the thread ID persisted by the winner. Across processes the
// database is the arbiter: before creating, the resolver re-reads the
// persisted thread ID under the lock, and if the platform create call
// fails it re-reads once more in case another instance won the race.
type threadResolver struct {
	db      *gorm.DB
	writeDB DBI
	discord *Discord
	logger  *slog.Logger

	mu      sync.Mutex
	anchors map[string]*anchorLock
}

type anchorLock struct {
	mu   sync.Mutex
	refs int
}

func newThreadResolver(c *Confide) *threadResolver {
	return &threadResolver{
		db:      c.db,
		writeDB: c.writeDB,
		discord: c.discord,
		logger:  c.logger.With(loggerNameKey, "thread_resolver"),
		anchors: map[string]*anchorLock{},
	}
}

// lockAnchor acquires the per-anchor mutex and returns its release
// func. Lock entries are refcounted and removed from the map once the
// last holder releases, so the map doesn't grow with every confession
// ever discussed.
func (r *threadResolver) lockAnchor(anchorMessageID string) func() {
	r.mu.Lock()
	al := r.anchors[anchorMessageID]
	if al == nil {
		al = &anchorLock{}
		r.anchors[anchorMessageID] = al
	}
	al.refs++
	r.mu.Unlock()

	al.mu.Lock()
	return func() {
		al.mu.Unlock()
		r.mu.Lock()
		al.refs--
		if al.refs == 0 {
			delete(r.anchors, anchorMessageID)
		}
		r.mu.Unlock()
	}
}

// resolveOrCreate returns the discussion thread ID for the given
// confession, creating the thread on its anchor message if one doesn't
// exist yet.
//
// Returns ErrAnchorNotFound if the anchor message was deleted, and
// ErrThreadCreateFailed if the platform refuses thread creation (after
// a final re-read of the persisted state).
func (r *threadResolver) resolveOrCreate(
	ctx context.Context,
	channelID string,
	target *Confession,
) (string, error) {
	if target.ThreadID != "" {
		return target.ThreadID, nil
	}
	if target.AnchorMessageID == "" {
		return "", ErrAnchorNotFound
	}

	release := r.lockAnchor(target.AnchorMessageID)
	defer release()

	// Another caller may have created and persisted the thread while we
	// waited on the lock.
	threadID, err := r.persistedThreadID(target)
	if err != nil {
		return "", err
	}
	if threadID != "" {
		return threadID, nil
	}

	logger := r.logger.With(
		"guild_id", target.GuildID,
		"sequence_number", target.SequenceNumber,
		"anchor_message_id", target.AnchorMessageID,
	)

	// Verify the anchor still exists before attempting creation, so a
	// deleted confession message surfaces as ErrAnchorNotFound rather
	// than an opaque platform error.
	_, err = r.discord.session.ChannelMessage(
		channelID,
		target.AnchorMessageID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.WarnContext(ctx, "anchor message lookup failed", tint.Err(err))
		return "", ErrAnchorNotFound
	}

	thread, err := r.discord.session.MessageThreadStartComplex(
		channelID,
		target.AnchorMessageID,
		&discordgo.ThreadStart{
			Name: fmt.Sprintf(
				"Confession #%d - Discussion",
				target.SequenceNumber,
			),
			AutoArchiveDuration: threadAutoArchiveMinutes,
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		logger.ErrorContext(ctx, "thread creation failed", tint.Err(err))
		// Another process may have created the thread between our
		// re-read and the create call. If it did, use its result.
		threadID, readErr := r.persistedThreadID(target)
		if readErr == nil && threadID != "" {
			return threadID, nil
		}
		return "", ErrThreadCreateFailed
	}

	rowsAffected, err := r.writeDB.UpdatesWhere(
		ctx,
		&Confession{},
		map[string]any{columnConfessionThreadID: thread.ID},
		"guild_id = ? AND sequence_number = ?",
		target.GuildID,
		target.SequenceNumber,
	)
	if err != nil {
		return "", fmt.Errorf("error persisting thread id: %w", err)
	}
	if rowsAffected == 0 {
		return "", ErrTargetNotFound
	}
	target.ThreadID = thread.ID
	logger.InfoContext(ctx, "created discussion thread", "thread_id", thread.ID)
	return thread.ID, nil
}

// persistedThreadID re-reads the confession's thread ID from the store.
func (r *threadResolver) persistedThreadID(target *Confession) (string, error) {
	rec, err := getConfessionBySequence(r.db, target.GuildID, target.SequenceNumber)
	if err != nil {
		return "", err
	}
	if rec.ThreadID != "" {
		target.ThreadID = rec.ThreadID
	}
	return rec.ThreadID, nil
}
