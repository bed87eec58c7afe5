package twitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

const apiBase = "https://api.twitter.com/2"

// sentKeysCap bounds the idempotency dedup map
const sentKeysCap = 4096

// HTTPClient implements Client over the v2 REST API
type HTTPClient struct {
	creds  *models.TwitterCredentials
	client *http.Client

	mu       sync.Mutex
	sentKeys map[string]*models.Tweet // idempotency key -> result
	keyOrder []string

	userID string
	handle string
}

// NewHTTPClient creates a client for one credential set
func NewHTTPClient(creds *models.TwitterCredentials) *HTTPClient {
	return &HTTPClient{
		creds:    creds,
		client:   &http.Client{Timeout: 30 * time.Second},
		sentKeys: make(map[string]*models.Tweet),
	}
}

// Me returns the authenticated account's id and handle
func (c *HTTPClient) Me(ctx context.Context) (string, string, error) {
	c.mu.Lock()
	if c.userID != "" {
		id, handle := c.userID, c.handle
		c.mu.Unlock()
		return id, handle, nil
	}
	c.mu.Unlock()

	var resp struct {
		Data struct {
			ID       string `json:"id"`
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, &resp); err != nil {
		return "", "", err
	}

	c.mu.Lock()
	c.userID = resp.Data.ID
	c.handle = resp.Data.Username
	c.mu.Unlock()

	return resp.Data.ID, resp.Data.Username, nil
}

// PostTweet publishes a standalone tweet
func (c *HTTPClient) PostTweet(ctx context.Context, content, idemKey string) (*models.Tweet, error) {
	return c.send(ctx, map[string]any{"text": content}, content, idemKey)
}

// Reply publishes a reply to an existing tweet
func (c *HTTPClient) Reply(ctx context.Context, content, inReplyTo, idemKey string) (*models.Tweet, error) {
	body := map[string]any{
		"text":  content,
		"reply": map[string]any{"in_reply_to_tweet_id": inReplyTo},
	}
	return c.send(ctx, body, content, idemKey)
}

// Quote publishes a quote tweet
func (c *HTTPClient) Quote(ctx context.Context, content, quoteID, idemKey string) (*models.Tweet, error) {
	body := map[string]any{
		"text":           content,
		"quote_tweet_id": quoteID,
	}
	return c.send(ctx, body, content, idemKey)
}

// send posts a tweet body, replaying the stored result when the
// idempotency key was already used so a retry after an ambiguous
// failure produces at most one external side effect.
func (c *HTTPClient) send(ctx context.Context, body map[string]any, content, idemKey string) (*models.Tweet, error) {
	if idemKey != "" {
		c.mu.Lock()
		if prior, ok := c.sentKeys[idemKey]; ok {
			c.mu.Unlock()
			logger.Debug("idempotency key already sent, replaying result",
				zap.String("key", idemKey[:12]),
			)
			return prior, nil
		}
		c.mu.Unlock()
	}

	var resp struct {
		Data struct {
			ID   string `json:"id"`
			Text string `json:"text"`
		} `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/tweets", body, &resp); err != nil {
		return nil, err
	}

	tweet := &models.Tweet{
		ID:        resp.Data.ID,
		Content:   content,
		AuthorID:  c.userID,
		CreatedAt: time.Now(),
	}

	if idemKey != "" {
		c.rememberKey(idemKey, tweet)
	}

	return tweet, nil
}

// Like likes a tweet
func (c *HTTPClient) Like(ctx context.Context, tweetID string) error {
	id, _, err := c.Me(ctx)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/users/%s/likes", id)
	return c.do(ctx, http.MethodPost, path, map[string]any{"tweet_id": tweetID}, nil)
}

// Retweet retweets a tweet
func (c *HTTPClient) Retweet(ctx context.Context, tweetID string) error {
	id, _, err := c.Me(ctx)
	if err != nil {
		return err
	}
	path := fmt.Sprintf("/users/%s/retweets", id)
	return c.do(ctx, http.MethodPost, path, map[string]any{"tweet_id": tweetID}, nil)
}

// GetTweet fetches a single tweet read-only
func (c *HTTPClient) GetTweet(ctx context.Context, tweetID string) (*models.Tweet, error) {
	path := fmt.Sprintf("/tweets/%s?tweet.fields=author_id,created_at,referenced_tweets&expansions=author_id&user.fields=username", tweetID)

	var resp tweetResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == "" {
		return nil, fmt.Errorf("tweet %s not found", tweetID)
	}

	tweet := resp.Data.toTweet()
	tweet.AuthorName = resp.usernameFor(resp.Data.AuthorID)
	return &tweet, nil
}

// MentionsSince fetches the mention timeline after sinceID
func (c *HTTPClient) MentionsSince(ctx context.Context, sinceID string) ([]models.Tweet, error) {
	id, _, err := c.Me(ctx)
	if err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("tweet.fields", "author_id,created_at,referenced_tweets")
	q.Set("expansions", "author_id")
	q.Set("user.fields", "username")
	q.Set("max_results", "100")
	if sinceID != "" {
		q.Set("since_id", sinceID)
	}
	path := fmt.Sprintf("/users/%s/mentions?%s", id, q.Encode())

	var resp timelineResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	tweets := make([]models.Tweet, 0, len(resp.Data))
	for _, raw := range resp.Data {
		tweet := raw.toTweet()
		tweet.AuthorName = resp.usernameFor(raw.AuthorID)
		tweets = append(tweets, tweet)
	}
	return tweets, nil
}

func (c *HTTPClient) rememberKey(key string, tweet *models.Tweet) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sentKeys[key] = tweet
	c.keyOrder = append(c.keyOrder, key)
	if len(c.keyOrder) > sentKeysCap {
		oldest := c.keyOrder[0]
		c.keyOrder = c.keyOrder[1:]
		delete(c.sentKeys, oldest)
	}
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiBase+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token(method))

	resp, err := c.client.Do(req)
	if err != nil {
		return models.NewKindError(models.KindTransient, fmt.Errorf("twitter request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("retry-after"))
		return models.NewKindError(models.KindTransient,
			fmt.Errorf("twitter rate limited, retry after %s", retryAfter))
	}
	if resp.StatusCode >= 500 {
		return models.NewKindError(models.KindTransient,
			fmt.Errorf("twitter server error: %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return models.NewKindError(models.KindPermanent,
			fmt.Errorf("twitter API error (status %d): %s", resp.StatusCode, string(data)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// token picks the credential for a call. Writes use the user access
// token; reads can run on the app bearer token.
func (c *HTTPClient) token(method string) string {
	if method == http.MethodGet && c.creds.BearerToken != "" {
		return c.creds.BearerToken
	}
	return c.creds.AccessToken
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 60 * time.Second
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(secs) * time.Second
}

type rawTweet struct {
	ID               string    `json:"id"`
	Text             string    `json:"text"`
	AuthorID         string    `json:"author_id"`
	CreatedAt        time.Time `json:"created_at"`
	ReferencedTweets []struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"referenced_tweets"`
}

func (r rawTweet) toTweet() models.Tweet {
	tweet := models.Tweet{
		ID:        r.ID,
		Content:   r.Text,
		AuthorID:  r.AuthorID,
		CreatedAt: r.CreatedAt,
	}
	for _, ref := range r.ReferencedTweets {
		switch ref.Type {
		case "replied_to":
			tweet.ReplyToID = ref.ID
		case "quoted":
			tweet.QuoteID = ref.ID
		}
	}
	return tweet
}

type includes struct {
	Users []struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"users"`
}

type tweetResponse struct {
	Data     rawTweet `json:"data"`
	Includes includes `json:"includes"`
}

func (r tweetResponse) usernameFor(authorID string) string {
	for _, u := range r.Includes.Users {
		if u.ID == authorID {
			return u.Username
		}
	}
	return ""
}

type timelineResponse struct {
	Data     []rawTweet `json:"data"`
	Includes includes   `json:"includes"`
}

func (r timelineResponse) usernameFor(authorID string) string {
	for _, u := range r.Includes.Users {
		if u.ID == authorID {
			return u.Username
		}
	}
	return ""
}
