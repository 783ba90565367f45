package confide

import "errors"

// Submission rejection reasons. All of these are scoped to the single
// submission that triggered them - none are fatal to the process.
var (
	// ErrTooShort indicates a submission body under the minimum length
	// (or one that's entirely whitespace)
	ErrTooShort = errors.New("confession must be at least 2 characters")

	// ErrTooLong indicates a submission body over the maximum length
	ErrTooLong = errors.New("confession must be at most 2000 characters")

	// ErrNotConfigured indicates the guild has no confession channel set up
	ErrNotConfigured = errors.New("confession system is not set up for this guild")

	// ErrTargetNotFound indicates a reply referenced a confession number
	// with no matching record
	ErrTargetNotFound = errors.New("target confession not found")

	// ErrAnchorNotFound indicates the platform message a confession (or its
	// interactive controls) was anchored to no longer exists
	ErrAnchorNotFound = errors.New("confession message no longer exists")

	// ErrPublishFailed indicates the confession couldn't be sent to the
	// configured channel. The sequence number allocated for it is consumed
	// regardless - numbers are never reclaimed.
	ErrPublishFailed = errors.New("failed to publish confession")

	// ErrThreadCreateFailed indicates a discussion thread couldn't be
	// created. For new confessions this is non-fatal; for replies it
	// rejects the reply.
	ErrThreadCreateFailed = errors.New("failed to create discussion thread")
)
