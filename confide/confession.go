package confide

import (
	"context"
	"errors"
	"fmt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"log/slog"
	"time"
)

const (
	// confessionBodyMinLength is the minimum accepted submission length,
	// in runes, after trimming whitespace
	confessionBodyMinLength = 2

	// confessionBodyMaxLength is the maximum accepted submission length
	// (also discord's message/modal input limit)
	confessionBodyMaxLength = 2000

	// auditLogPreviewLength is the rune limit for the redacted public
	// audit log entry
	auditLogPreviewLength = 150

	// threadAutoArchiveMinutes is how long a confession discussion thread
	// stays active without new messages before discord archives it
	threadAutoArchiveMinutes = 1440
)

var (
	columnGuildConfigSequenceCounter     = "sequence_counter"
	columnGuildConfigConfessionChannelID = "confession_channel_id"
	columnGuildConfigPublicLogChannelID  = "public_log_channel_id"
	columnGuildConfigPrivateLogChannelID = "private_log_channel_id"
	columnGuildConfigStarterMessageID    = "starter_message_id"

	columnConfessionThreadID   = "thread_id"
	columnConfessionReplyCount = "reply_count"
)

// GuildConfessionConfig is the per-guild confession configuration row,
// and the authoritative home of the guild's sequence counter.
//
// SequenceCounter is non-decreasing for the life of the guild and equals
// the count of confession numbers ever issued - platform-side deletions
// never roll it back. It must only ever be advanced through
// [nextSequence]; reading it, adding one, and writing it back admits a
// lost-update race between concurrent submissions.
type GuildConfessionConfig struct {
	ModelUintID
	ModelUnixTime
	GuildID             string `json:"guild_id" gorm:"uniqueIndex;not null"`
	ConfessionChannelID string `json:"confession_channel_id"`
	PublicLogChannelID  string `json:"public_log_channel_id"`
	PrivateLogChannelID string `json:"private_log_channel_id"`
	SequenceCounter     int64  `json:"sequence_counter" gorm:"not null;default:0"`

	// StarterMessageID is the standing "click to confess" message posted
	// by the setup command
	StarterMessageID string `json:"starter_message_id"`
}

func (g GuildConfessionConfig) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", g.GuildID),
		slog.String("confession_channel_id", g.ConfessionChannelID),
		slog.Int64("sequence_counter", g.SequenceCounter),
	)
}

// Confession is one accepted submission - either a new confession or a
// reply. Records are append-only after creation, except for ReplyCount
// increments on records that receive replies.
//
// The (GuildID, SequenceNumber) pair is unique; numbers are 1-based,
// dense and never reused. A reply's ThreadID always equals the ThreadID
// of the record ReplyToSequence points to: reply chains converge on the
// original confession's thread, never a nested one.
type Confession struct {
	ModelUintID
	ModelUnixTime
	GuildID        string `json:"guild_id" gorm:"uniqueIndex:idx_confession_guild_sequence;not null"`
	SequenceNumber int64  `json:"sequence_number" gorm:"uniqueIndex:idx_confession_guild_sequence;not null"`

	// AuthorID is kept out of all public-facing output. It exists only
	// for the private audit log and administrative lookup.
	AuthorID string `json:"-" gorm:"index;not null"`

	Body string `json:"body" gorm:"type:string"`

	// ThreadID may be empty for a new confession whose thread creation
	// failed - a later reply will force creation.
	ThreadID string `json:"thread_id"`

	// AnchorMessageID is the platform message this record's interactive
	// controls are attached to
	AnchorMessageID string `json:"anchor_message_id" gorm:"index"`

	IsReply         bool   `json:"is_reply"`
	ReplyToSequence *int64 `json:"reply_to_sequence"`
	ReplyCount      int64  `json:"reply_count" gorm:"not null;default:0"`
}

func (c Confession) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", c.GuildID),
		slog.Int64("sequence_number", c.SequenceNumber),
		slog.String(columnConfessionThreadID, c.ThreadID),
		slog.String("anchor_message_id", c.AnchorMessageID),
		slog.Bool("is_reply", c.IsReply),
	)
}

// ConfessionStats summarizes a guild's confession activity.
type ConfessionStats struct {
	Total   int64 `json:"total"`
	Today   int64 `json:"today"`
	Replies int64 `json:"replies"`
}

// getGuildConfig returns the guild's confession config row, or
// ErrNotConfigured if none exists.
func getGuildConfig(db *gorm.DB, guildID string) (*GuildConfessionConfig, error) {
	var cfg GuildConfessionConfig
	if err := db.Where("guild_id = ?", guildID).First(&cfg).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotConfigured
		}
		return nil, err
	}
	return &cfg, nil
}

// upsertGuildConfig creates or updates the guild's config row with the
// given confession channel and starter message. The sequence counter is
// deliberately left alone on re-setup: numbers already issued stay
// issued, even if an admin points the system at a new channel.
func upsertGuildConfig(
	ctx context.Context,
	writeDB DBI,
	guildID string,
	channelID string,
	starterMessageID string,
) error {
	return writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			cfg := &GuildConfessionConfig{
				GuildID:             guildID,
				ConfessionChannelID: channelID,
				StarterMessageID:    starterMessageID,
			}
			return tx.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{{Name: "guild_id"}},
					DoUpdates: clause.AssignmentColumns(
						[]string{
							columnGuildConfigConfessionChannelID,
							columnGuildConfigStarterMessageID,
						},
					),
				},
			).Create(cfg).Error
		},
	)
}

// nextSequence allocates the next confession number for the guild.
//
// The increment runs as a single atomic UPDATE against the config row,
// with the new value read back inside the same transaction - so two
// concurrent callers always receive distinct consecutive integers, and
// the persisted counter reflects the count of allocations exactly.
// Postgres serializes the two via the row lock the UPDATE takes; SQLite
// via its single-writer transaction semantics (plus the write mutex in
// [database]).
//
// Returns ErrNotConfigured if the guild has no config row.
func nextSequence(ctx context.Context, writeDB DBI, guildID string) (int64, error) {
	var seq int64
	err := writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			rv := tx.Model(&GuildConfessionConfig{}).
				Where("guild_id = ?", guildID).
				Update(
					columnGuildConfigSequenceCounter,
					gorm.Expr("sequence_counter + 1"),
				)
			if rv.Error != nil {
				return rv.Error
			}
			if rv.RowsAffected == 0 {
				return ErrNotConfigured
			}
			row := tx.Model(&GuildConfessionConfig{}).
				Where("guild_id = ?", guildID).
				Select(columnGuildConfigSequenceCounter).
				Row()
			return row.Scan(&seq)
		},
	)
	if err != nil {
		return 0, err
	}
	return seq, nil
}

// getConfessionBySequence returns the record for the given guild and
// confession number, or ErrTargetNotFound.
func getConfessionBySequence(
	db *gorm.DB,
	guildID string,
	sequenceNumber int64,
) (*Confession, error) {
	var rec Confession
	err := db.Where(
		"guild_id = ? AND sequence_number = ?",
		guildID,
		sequenceNumber,
	).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTargetNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// getConfessionByAnchor returns the record whose interactive controls
// are attached to the given message, or ErrTargetNotFound.
func getConfessionByAnchor(
	db *gorm.DB,
	guildID string,
	anchorMessageID string,
) (*Confession, error) {
	var rec Confession
	err := db.Where(
		"guild_id = ? AND anchor_message_id = ?",
		guildID,
		anchorMessageID,
	).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTargetNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// originalConfession resolves a record to the non-reply confession at
// the root of its thread. For a non-reply record this is the record
// itself.
func originalConfession(db *gorm.DB, rec *Confession) (*Confession, error) {
	if !rec.IsReply {
		return rec, nil
	}
	if rec.ThreadID == "" {
		return nil, ErrTargetNotFound
	}
	var original Confession
	err := db.Where(
		"guild_id = ? AND thread_id = ? AND is_reply = ?",
		rec.GuildID,
		rec.ThreadID,
		false,
	).First(&original).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTargetNotFound
		}
		return nil, err
	}
	return &original, nil
}

// createConfession persists a new (non-reply) confession record.
func createConfession(ctx context.Context, writeDB DBI, rec *Confession) error {
	_, err := writeDB.Create(ctx, rec)
	return err
}

// createReply persists a reply record and increments the target's reply
// count in the same transaction. The increment is an atomic
// read-modify-write under the store's own concurrency control - never a
// read-then-write from process memory.
func createReply(
	ctx context.Context,
	writeDB DBI,
	rec *Confession,
	targetSequence int64,
) error {
	return writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			if err := tx.Create(rec).Error; err != nil {
				return err
			}
			rv := tx.Model(&Confession{}).
				Where(
					"guild_id = ? AND sequence_number = ?",
					rec.GuildID,
					targetSequence,
				).
				Update(
					columnConfessionReplyCount,
					gorm.Expr("reply_count + 1"),
				)
			if rv.Error != nil {
				return rv.Error
			}
			if rv.RowsAffected == 0 {
				return ErrTargetNotFound
			}
			return nil
		},
	)
}

// confessionStats returns total/today/reply counts for the guild.
// "Today" is measured from midnight UTC.
func confessionStats(db *gorm.DB, guildID string) (ConfessionStats, error) {
	var stats ConfessionStats

	err := db.Model(&Confession{}).
		Where("guild_id = ?", guildID).
		Count(&stats.Total).Error
	if err != nil {
		return stats, err
	}

	now := time.Now().UTC()
	midnight := time.Date(
		now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC,
	)
	err = db.Model(&Confession{}).
		Where(
			"guild_id = ? AND created_at >= ?",
			guildID,
			midnight.UnixMilli(),
		).
		Count(&stats.Today).Error
	if err != nil {
		return stats, err
	}

	err = db.Model(&Confession{}).
		Where("guild_id = ? AND is_reply = ?", guildID, true).
		Count(&stats.Replies).Error
	return stats, err
}

// GetStats returns confession statistics for the given guild.
func (c *Confide) GetStats(_ context.Context, guildID string) (ConfessionStats, error) {
	if _, err := getGuildConfig(c.db, guildID); err != nil {
		return ConfessionStats{}, err
	}
	return confessionStats(c.db, guildID)
}

// GetRecordInfo returns the full confession record (including the
// author) for administrative lookup.
func (c *Confide) GetRecordInfo(
	_ context.Context,
	guildID string,
	sequenceNumber int64,
) (*Confession, error) {
	return getConfessionBySequence(c.db, guildID, sequenceNumber)
}

// SetPublicLog sets the channel receiving redacted public audit log
// entries. An empty channel ID disables the public log.
func (c *Confide) SetPublicLog(
	ctx context.Context,
	guildID string,
	channelID string,
) error {
	return c.setLogChannel(ctx, guildID, columnGuildConfigPublicLogChannelID, channelID)
}

// SetPrivateLog sets the channel receiving full (author included) audit
// log entries. An empty channel ID disables the private log.
func (c *Confide) SetPrivateLog(
	ctx context.Context,
	guildID string,
	channelID string,
) error {
	return c.setLogChannel(ctx, guildID, columnGuildConfigPrivateLogChannelID, channelID)
}

func (c *Confide) setLogChannel(
	ctx context.Context,
	guildID string,
	column string,
	channelID string,
) error {
	rowsAffected, err := c.writeDB.UpdatesWhere(
		ctx,
		&GuildConfessionConfig{},
		map[string]any{column: channelID},
		"guild_id = ?",
		guildID,
	)
	if err != nil {
		return fmt.Errorf("error updating log channel: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotConfigured
	}
	return nil
}
