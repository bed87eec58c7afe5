package mentions

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

const (
	defaultStreamURL = "https://api.twitter.com/2/tweets/search/stream"
	defaultRulesURL  = "https://api.twitter.com/2/tweets/search/stream/rules"
	streamParams     = "tweet.fields=author_id,created_at,referenced_tweets&expansions=author_id&user.fields=username"

	streamBackoff    = 15 * time.Second
	streamBackoffMax = 60 * time.Second
	rateLimitBackoff = 60 * time.Second
)

// ErrStreamForbidden means the credential tier cannot stream or manage
// stream rules; the caller should fall back to polling.
var ErrStreamForbidden = errors.New("streaming access forbidden")

// Stream consumes the filtered stream and feeds matching mentions into
// the same ingest path as the poller, sharing its dedup set so a
// mention seen on both paths is handled once. On connect it installs a
// rule matching the agent's handle; without that rule a healthy stream
// delivers nothing.
type Stream struct {
	bearerToken string
	handle      string
	poller      *Poller
	client      *http.Client
	streamURL   string
	rulesURL    string
}

// NewStream creates a stream for one agent, delivering through its
// poller's ingest path.
func NewStream(bearerToken, handle string, poller *Poller) *Stream {
	return &Stream{
		bearerToken: bearerToken,
		handle:      handle,
		poller:      poller,
		client:      &http.Client{}, // no overall timeout on a long-lived stream
		streamURL:   defaultStreamURL,
		rulesURL:    defaultRulesURL,
	}
}

// Run consumes the stream until ctx is done, reconnecting with
// exponential backoff. Returns ErrStreamForbidden when the credential
// cannot stream at all.
func (s *Stream) Run(ctx context.Context) error {
	backoff := streamBackoff

	for {
		connected, err := s.consume(ctx)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case errors.Is(err, ErrStreamForbidden):
			return err
		case connected:
			backoff = streamBackoff
		case isRateLimited(err):
			backoff = rateLimitBackoff
		}

		logger.Warn("📱 Mention stream disconnected, reconnecting",
			zap.String("agent", s.poller.agent.ID),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = nextBackoff(backoff)
	}
}

// nextBackoff doubles the reconnect delay up to the cap
func nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > streamBackoffMax {
		next = streamBackoffMax
	}
	return next
}

// consume installs the handle rule, connects, and reads until the
// connection drops. connected reports whether the stream was ever
// established, so the caller can reset its backoff.
func (s *Stream) consume(ctx context.Context) (connected bool, err error) {
	if err := s.ensureRule(ctx); err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.streamURL+"?"+streamParams, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+s.bearerToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("stream connect failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return false, ErrStreamForbidden
	case resp.StatusCode == http.StatusTooManyRequests:
		return false, models.NewKindError(models.KindTransient, errors.New("stream rate limited"))
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("stream returned status %d", resp.StatusCode)
	}

	logger.Info("📱 Mention stream connected", zap.String("agent", s.poller.agent.ID))

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue // keepalive
		}

		var payload struct {
			Data struct {
				ID               string    `json:"id"`
				Text             string    `json:"text"`
				AuthorID         string    `json:"author_id"`
				CreatedAt        time.Time `json:"created_at"`
				ReferencedTweets []struct {
					Type string `json:"type"`
					ID   string `json:"id"`
				} `json:"referenced_tweets"`
			} `json:"data"`
			Includes struct {
				Users []struct {
					ID       string `json:"id"`
					Username string `json:"username"`
				} `json:"users"`
			} `json:"includes"`
		}
		if err := json.Unmarshal([]byte(line), &payload); err != nil {
			logger.Debug("unparseable stream line", zap.Error(err))
			continue
		}
		if payload.Data.ID == "" {
			continue
		}
		if !strings.Contains(strings.ToLower(payload.Data.Text), "@"+strings.ToLower(s.handle)) {
			continue
		}

		tweet := models.Tweet{
			ID:        payload.Data.ID,
			Content:   payload.Data.Text,
			AuthorID:  payload.Data.AuthorID,
			CreatedAt: payload.Data.CreatedAt,
		}
		for _, ref := range payload.Data.ReferencedTweets {
			switch ref.Type {
			case "replied_to":
				tweet.ReplyToID = ref.ID
			case "quoted":
				tweet.QuoteID = ref.ID
			}
		}
		for _, u := range payload.Includes.Users {
			if u.ID == tweet.AuthorID {
				tweet.AuthorName = u.Username
			}
		}

		s.poller.Ingest(ctx, []models.Tweet{tweet})
	}

	if err := scanner.Err(); err != nil {
		return true, fmt.Errorf("stream read failed: %w", err)
	}
	return true, errors.New("stream closed by server")
}

// ensureRule makes sure a filter rule matching the agent's handle is
// installed. A credential that cannot manage rules cannot receive
// anything on the stream, so that reads as ErrStreamForbidden.
func (s *Stream) ensureRule(ctx context.Context) error {
	value := "@" + s.handle

	existing, err := s.listRules(ctx)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if strings.EqualFold(rule, value) {
			return nil
		}
	}

	payload, err := json.Marshal(map[string]any{
		"add": []map[string]string{{"value": value, "tag": "mentions-" + s.handle}},
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.rulesURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.bearerToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("rule install failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return ErrStreamForbidden
	case resp.StatusCode == http.StatusTooManyRequests:
		return models.NewKindError(models.KindTransient, errors.New("rules endpoint rate limited"))
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return fmt.Errorf("rule install returned status %d", resp.StatusCode)
	}

	logger.Info("📱 Stream rule installed",
		zap.String("agent", s.poller.agent.ID),
		zap.String("rule", value),
	)
	return nil
}

func (s *Stream) listRules(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.rulesURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.bearerToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rule listing failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrStreamForbidden
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, models.NewKindError(models.KindTransient, errors.New("rules endpoint rate limited"))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("rule listing returned status %d", resp.StatusCode)
	}

	var payload struct {
		Data []struct {
			Value string `json:"value"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode rule listing: %w", err)
	}

	rules := make([]string, 0, len(payload.Data))
	for _, rule := range payload.Data {
		rules = append(rules, rule.Value)
	}
	return rules, nil
}

func isRateLimited(err error) bool {
	return err != nil && strings.Contains(err.Error(), "rate limited")
}
