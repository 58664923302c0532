// Package social provides typed clients for the social platform API.
// Failure classification happens here, at the collaborator boundary;
// the rest of the pipeline only ever branches on FetchKind and ReplyError,
// never on error strings.
package social

import (
	"context"

	"tipbot/internal/domain"
)

// MentionSource fetches new mentions of the bot account.
type MentionSource interface {
	// FetchMentions returns mentions newer than sinceID, ascending by
	// numeric ID, at most one platform page. A non-nil error is always a
	// *FetchError; partial results are never returned alongside one.
	FetchMentions(ctx context.Context, sinceID string) ([]*domain.Mention, error)
}

// ReplyPoster posts replies. It must be backed by its own authenticated
// session so fetching and replying never share a rate-limit budget.
type ReplyPoster interface {
	// PostReply posts text as a reply to the given post ID.
	// A non-nil error is always a *ReplyError.
	PostReply(ctx context.Context, targetID, text string) error
}
