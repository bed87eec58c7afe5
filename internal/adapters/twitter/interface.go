package twitter

import (
	"context"

	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// Client is the microblog capability consumed by the core. One client
// per credential set; safe for concurrent use.
type Client interface {
	// Me returns the authenticated account's id and handle
	Me(ctx context.Context) (id, handle string, err error)

	// PostTweet publishes a standalone tweet. idemKey dedupes
	// retries after ambiguous failures.
	PostTweet(ctx context.Context, content, idemKey string) (*models.Tweet, error)

	// Reply publishes a reply to an existing tweet
	Reply(ctx context.Context, content, inReplyTo, idemKey string) (*models.Tweet, error)

	// Quote publishes a quote tweet
	Quote(ctx context.Context, content, quoteID, idemKey string) (*models.Tweet, error)

	// Like likes a tweet
	Like(ctx context.Context, tweetID string) error

	// Retweet retweets a tweet
	Retweet(ctx context.Context, tweetID string) error

	// GetTweet fetches a single tweet read-only
	GetTweet(ctx context.Context, tweetID string) (*models.Tweet, error)

	// MentionsSince fetches the mention timeline after sinceID.
	// Some API tiers return the cursor tweet itself; callers must
	// discard it.
	MentionsSince(ctx context.Context, sinceID string) ([]models.Tweet, error)
}
