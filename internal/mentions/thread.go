package mentions

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/twitter"
	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

const (
	threadMaxDepth  = 5
	threadMaxTweets = 32
)

// ResolveThread walks reply and quote ancestry breadth-first up to
// threadMaxDepth hops, returning ancestors in chronological order.
// Deleted or protected ancestors are skipped; a partial thread is
// better than none.
func ResolveThread(ctx context.Context, client twitter.Client, mention *models.Tweet) []models.Tweet {
	type hop struct {
		id    string
		depth int
	}

	visited := map[string]bool{mention.ID: true}
	queue := []hop{}
	if mention.ReplyToID != "" {
		queue = append(queue, hop{mention.ReplyToID, 1})
	}
	if mention.QuoteID != "" {
		queue = append(queue, hop{mention.QuoteID, 1})
	}

	var ancestors []models.Tweet
	for len(queue) > 0 && len(ancestors) < threadMaxTweets {
		next := queue[0]
		queue = queue[1:]

		if next.depth > threadMaxDepth || visited[next.id] {
			continue
		}
		visited[next.id] = true

		tweet, err := client.GetTweet(ctx, next.id)
		if err != nil {
			logger.Debug("thread ancestor unavailable",
				zap.String("tweet", next.id),
				zap.Error(err),
			)
			continue
		}

		ancestors = append(ancestors, *tweet)
		if tweet.ReplyToID != "" {
			queue = append(queue, hop{tweet.ReplyToID, next.depth + 1})
		}
		if tweet.QuoteID != "" {
			queue = append(queue, hop{tweet.QuoteID, next.depth + 1})
		}
	}

	sort.Slice(ancestors, func(i, j int) bool {
		return ancestors[i].CreatedAt.Before(ancestors[j].CreatedAt)
	})
	return ancestors
}
