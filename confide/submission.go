package confide

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
)

// SubmissionState tracks a submission's progress through the pipeline.
// Submissions are transient in-process state - only a submission that
// reaches SubmissionStateDone leaves a [Confession] row behind.
type SubmissionState string

const (
	SubmissionStateValidating    SubmissionState = "validating"
	SubmissionStateAllocating    SubmissionState = "allocating"
	SubmissionStatePublishing    SubmissionState = "publishing"
	SubmissionStateThreading     SubmissionState = "threading"
	SubmissionStatePersisting    SubmissionState = "persisting"
	SubmissionStateAcknowledging SubmissionState = "acknowledging"
	SubmissionStateDone          SubmissionState = "done"
	SubmissionStateRejected      SubmissionState = "rejected"
)

// Submission is one in-flight anonymous submission, new confession or
// reply. Independent submissions run concurrently; nothing here is
// shared between goroutines.
type Submission struct {
	GuildID  string
	AuthorID string
	Body     string

	// TargetSequence is set for replies: the confession number the
	// author replied to, as they saw it. It may point at a reply, in
	// which case the pipeline converges the chain onto the original.
	TargetSequence *int64

	State          SubmissionState
	SequenceNumber int64
}

// IsReply reports whether this submission targets an existing
// confession.
func (s *Submission) IsReply() bool {
	return s.TargetSequence != nil
}

func (s *Submission) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("guild_id", s.GuildID),
		slog.String("state", string(s.State)),
		slog.Bool("is_reply", s.IsReply()),
	}
	if s.TargetSequence != nil {
		attrs = append(
			attrs,
			slog.Int64("target_sequence", *s.TargetSequence),
		)
	}
	if s.SequenceNumber > 0 {
		attrs = append(
			attrs,
			slog.Int64("sequence_number", s.SequenceNumber),
		)
	}
	return slog.GroupValue(attrs...)
}

// processSubmission runs a submission through the full pipeline:
// validate, allocate a number, publish, resolve threading, persist,
// and fan out audit log entries. It returns the persisted record on
// success, or the rejection reason.
//
// Properties the pipeline maintains:
//   - A rejected submission that never reached allocation leaves no
//     trace - no number consumed, no record written.
//   - Once a number is allocated it stays consumed even if publishing
//     or persistence later fails. Numbering is gap-tolerant.
//   - Thread creation failure is non-fatal for new confessions (the
//     next reply retries it) but rejects replies, since a reply has
//     nowhere to go without a thread.
func (c *Confide) processSubmission(
	ctx context.Context,
	sub *Submission,
) (*Confession, error) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = c.logger
	}
	logger = logger.With("submission", sub)

	sub.State = SubmissionStateValidating
	cfg, err := c.validateSubmission(sub)
	if err != nil {
		sub.State = SubmissionStateRejected
		logger.InfoContext(ctx, "submission rejected", tint.Err(err))
		return nil, err
	}

	// For replies, resolve the target and converge the chain before
	// consuming a number, so a reply to a vanished confession costs
	// nothing.
	var original *Confession
	if sub.IsReply() {
		target, targetErr := getConfessionBySequence(
			c.db, sub.GuildID, *sub.TargetSequence,
		)
		if targetErr != nil {
			sub.State = SubmissionStateRejected
			return nil, targetErr
		}
		original, targetErr = originalConfession(c.db, target)
		if targetErr != nil {
			sub.State = SubmissionStateRejected
			return nil, targetErr
		}
	}

	sub.State = SubmissionStateAllocating
	seq, err := nextSequence(ctx, c.writeDB, sub.GuildID)
	if err != nil {
		sub.State = SubmissionStateRejected
		logger.ErrorContext(ctx, "sequence allocation failed", tint.Err(err))
		return nil, err
	}
	sub.SequenceNumber = seq
	logger = logger.With("sequence_number", seq)

	var rec *Confession
	if sub.IsReply() {
		rec, err = c.publishReply(ctx, sub, cfg, original)
	} else {
		rec, err = c.publishConfession(ctx, sub, cfg)
	}
	if err != nil {
		sub.State = SubmissionStateRejected
		logger.ErrorContext(ctx, "submission failed", tint.Err(err))
		return nil, err
	}

	sub.State = SubmissionStateDone
	logger.InfoContext(ctx, "submission accepted")

	go c.publishAuditLogs(context.WithoutCancel(ctx), cfg, rec)

	return rec, nil
}

// validateSubmission trims and length-checks the body, and confirms the
// guild is set up. On success the trimmed body replaces the raw one.
func (c *Confide) validateSubmission(sub *Submission) (*GuildConfessionConfig, error) {
	body := strings.TrimSpace(sub.Body)
	runeCount := utf8.RuneCountInString(body)
	switch {
	case runeCount < confessionBodyMinLength:
		return nil, ErrTooShort
	case runeCount > confessionBodyMaxLength:
		return nil, ErrTooLong
	}
	sub.Body = body

	cfg, err := getGuildConfig(c.db, sub.GuildID)
	if err != nil {
		return nil, err
	}
	if cfg.ConfessionChannelID == "" {
		return nil, ErrNotConfigured
	}
	return cfg, nil
}

// publishConfession posts a new confession to the configured channel,
// attempts thread creation, and persists the record.
func (c *Confide) publishConfession(
	ctx context.Context,
	sub *Submission,
	cfg *GuildConfessionConfig,
) (*Confession, error) {
	sub.State = SubmissionStatePublishing
	msg, err := c.discord.session.ChannelMessageSendComplex(
		cfg.ConfessionChannelID,
		&discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{confessionEmbed(sub.SequenceNumber, sub.Body)},
			Components: confessionComponents(),
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, errors.Join(ErrPublishFailed, err)
	}

	rec := &Confession{
		GuildID:         sub.GuildID,
		SequenceNumber:  sub.SequenceNumber,
		AuthorID:        sub.AuthorID,
		Body:            sub.Body,
		AnchorMessageID: msg.ID,
	}

	// Best effort. An empty ThreadID is valid state and the resolver
	// will create the thread lazily on the first reply.
	sub.State = SubmissionStateThreading
	thread, threadErr := c.discord.session.MessageThreadStartComplex(
		cfg.ConfessionChannelID,
		msg.ID,
		&discordgo.ThreadStart{
			Name:                threadName(sub.SequenceNumber),
			AutoArchiveDuration: threadAutoArchiveMinutes,
		},
		discordgo.WithContext(ctx),
	)
	if threadErr != nil {
		logger, _ := ContextLogger(ctx)
		if logger == nil {
			logger = c.logger
		}
		logger.WarnContext(
			ctx,
			"eager thread creation failed, deferring to first reply",
			tint.Err(threadErr),
			"sequence_number", sub.SequenceNumber,
		)
	} else {
		rec.ThreadID = thread.ID
	}

	sub.State = SubmissionStatePersisting
	if err = createConfession(ctx, c.writeDB, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// publishReply resolves (or creates) the original confession's thread,
// posts the reply into it, and persists the reply record along with the
// original's reply count.
func (c *Confide) publishReply(
	ctx context.Context,
	sub *Submission,
	cfg *GuildConfessionConfig,
	original *Confession,
) (*Confession, error) {
	sub.State = SubmissionStateThreading
	threadID, err := c.resolver.resolveOrCreate(ctx, cfg.ConfessionChannelID, original)
	if err != nil {
		return nil, err
	}

	sub.State = SubmissionStatePublishing
	msg, err := c.discord.session.ChannelMessageSendComplex(
		threadID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				replyEmbed(sub.SequenceNumber, original.SequenceNumber, sub.Body),
			},
			Components: replyComponents(),
		},
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, errors.Join(ErrPublishFailed, err)
	}

	rec := &Confession{
		GuildID:         sub.GuildID,
		SequenceNumber:  sub.SequenceNumber,
		AuthorID:        sub.AuthorID,
		Body:            sub.Body,
		ThreadID:        threadID,
		AnchorMessageID: msg.ID,
		IsReply:         true,
		ReplyToSequence: &original.SequenceNumber,
	}

	sub.State = SubmissionStatePersisting
	if err = createReply(ctx, c.writeDB, rec, original.SequenceNumber); err != nil {
		return nil, err
	}
	return rec, nil
}

// rejectionMessage maps a pipeline error to the ephemeral message shown
// to the submitter. Unrecognized errors get a generic message so
// internal details never leak into user-facing text.
func rejectionMessage(err error) string {
	for _, known := range []error{
		ErrTooShort,
		ErrTooLong,
		ErrNotConfigured,
		ErrTargetNotFound,
		ErrAnchorNotFound,
		ErrPublishFailed,
		ErrThreadCreateFailed,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "Something went wrong submitting your confession. Please try again."
}
