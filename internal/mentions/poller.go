package mentions

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/twitter"
	"github.com/actuallyrizzn/puppet-engine/internal/events"
	"github.com/actuallyrizzn/puppet-engine/internal/gates"
	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// MinPollInterval is the global floor on mention polling, regardless
// of per-agent configuration.
const MinPollInterval = 60 * time.Second

// CursorStore persists the since_id watermark across restarts
type CursorStore interface {
	GetMentionCursor(ctx context.Context, agentID string) (string, error)
	SetMentionCursor(ctx context.Context, agentID, sinceID string) error
}

// Poller fetches one agent's mention timeline on an interval and
// turns unseen mentions into events. It runs under a PeriodicWorker.
type Poller struct {
	agent    *models.Agent
	client   twitter.Client
	engine   *events.Engine
	cursors  CursorStore
	rateGate *gates.RateGate
	credKey  string

	dedup   *dedup
	sinceID string
	rng     *rand.Rand
}

// NewPoller creates a poller for one agent
func NewPoller(agent *models.Agent, client twitter.Client, engine *events.Engine, cursors CursorStore, rateGate *gates.RateGate, credKey string) *Poller {
	return &Poller{
		agent:    agent,
		client:   client,
		engine:   engine,
		cursors:  cursors,
		rateGate: rateGate,
		credKey:  credKey,
		dedup:    newDedup(dedupCapacity),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Interval returns the effective poll interval for this agent
func (p *Poller) Interval(configured time.Duration) time.Duration {
	if configured < MinPollInterval {
		return MinPollInterval
	}
	return configured
}

// Name identifies the poller in worker logs
func (p *Poller) Name() string {
	return "mentions-poll-" + p.agent.ID
}

// Run performs one poll cycle
func (p *Poller) Run(ctx context.Context) error {
	if p.sinceID == "" && p.cursors != nil {
		cursor, err := p.cursors.GetMentionCursor(ctx, p.agent.ID)
		if err != nil {
			logger.Warn("⚠️ Failed to load mention cursor", zap.String("agent", p.agent.ID), zap.Error(err))
		} else {
			p.sinceID = cursor
		}
	}

	if ok, retryAfter := p.rateGate.Allow(p.credKey, gates.ChannelMentions); !ok {
		logger.Debug("mention poll budget exhausted",
			zap.String("agent", p.agent.ID),
			zap.Duration("retry_after", retryAfter),
		)
		return nil
	}

	tweets, err := p.client.MentionsSince(ctx, p.sinceID)
	if err != nil {
		return err
	}

	p.Ingest(ctx, tweets)
	return nil
}

// Ingest processes a batch of mention-timeline tweets: discards the
// cursor tweet and anything at or below the watermark, dedups, then
// schedules mention events with the persona's response delay. The
// cursor only advances after events are enqueued, so a crash replays
// rather than drops.
func (p *Poller) Ingest(ctx context.Context, tweets []models.Tweet) {
	highest := p.sinceID
	fresh := 0

	for i := range tweets {
		tweet := tweets[i]

		// some API tiers return the since_id tweet itself
		if p.sinceID != "" && !idAfter(tweet.ID, p.sinceID) {
			continue
		}
		if idAfter(tweet.ID, highest) {
			highest = tweet.ID
		}
		if p.dedup.MarkSeen(tweet.ID) {
			continue
		}

		tweet.ThreadHistory = ResolveThread(ctx, p.client, &tweet)
		p.schedule(&tweet)
		fresh++
	}

	if highest != p.sinceID {
		p.sinceID = highest
		if p.cursors != nil {
			if err := p.cursors.SetMentionCursor(ctx, p.agent.ID, highest); err != nil {
				logger.Warn("⚠️ Failed to persist mention cursor",
					zap.String("agent", p.agent.ID),
					zap.Error(err),
				)
			}
		}
	}

	if fresh > 0 {
		logger.Info("📱 Mentions ingested",
			zap.String("agent", p.agent.ID),
			zap.Int("count", fresh),
		)
	}
}

// schedule enqueues the mention event after the persona's humanizing
// delay.
func (p *Poller) schedule(tweet *models.Tweet) {
	delay := p.responseDelay()
	event := &models.Event{
		Type:         models.EventMentionReceived,
		Mention:      &models.MentionPayload{Tweet: *tweet},
		Priority:     models.PriorityHigh,
		TargetAgents: []string{p.agent.ID},
	}

	if delay > 0 {
		p.engine.Schedule(event, delay)
	} else {
		p.engine.Enqueue(event)
	}
}

func (p *Poller) responseDelay() time.Duration {
	d := p.agent.Behavior.MentionDelay
	if d.MaxSeconds <= 0 {
		return 0
	}
	min := d.MinSeconds
	if min < 0 {
		min = 0
	}
	if d.MaxSeconds <= min {
		return time.Duration(min) * time.Second
	}
	secs := min + p.rng.Intn(d.MaxSeconds-min+1)
	return time.Duration(secs) * time.Second
}

// idAfter compares snowflake ids numerically: longer wins, then
// lexicographic.
func idAfter(a, b string) bool {
	if b == "" {
		return true
	}
	if len(a) != len(b) {
		return len(a) > len(b)
	}
	return a > b
}
