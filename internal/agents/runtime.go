package agents

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/twitter"
	"github.com/actuallyrizzn/puppet-engine/internal/content"
	"github.com/actuallyrizzn/puppet-engine/internal/events"
	"github.com/actuallyrizzn/puppet-engine/internal/gates"
	"github.com/actuallyrizzn/puppet-engine/internal/trading"
	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

const (
	snapshotCoreMemories  = 5
	snapshotRecentEvents  = 5
	snapshotRelationships = 5

	postJitterMax   = 5 * time.Minute
	minCooling      = time.Minute
	postMemoryScore = 0.3
)

// Runtime is one agent's actor. All of its event handlers run on the
// agent's serialized lane, so mood, memory and state transitions never
// race. External readers only get copies.
type Runtime struct {
	agent         *models.Agent
	mood          *MoodState
	memory        *MemoryStore
	relationships *RelationshipTracker

	pipeline *content.Pipeline
	engine   *events.Engine
	client   twitter.Client
	trader   *trading.Engine
	launcher *trading.Launcher
	rateGate *gates.RateGate
	cadence  *gates.CadenceGate
	credKey  string

	mu         sync.Mutex
	state      models.AgentState
	sequence   uint64
	coolUntil  time.Time
	lastPost   time.Time
	postTickID string
	rng        *rand.Rand
	tz         *time.Location
}

// RuntimeDeps bundles the shared machinery a runtime plugs into
type RuntimeDeps struct {
	Pipeline *content.Pipeline
	Engine   *events.Engine
	Client   twitter.Client
	Trader   *trading.Engine
	Launcher *trading.Launcher
	RateGate *gates.RateGate
	Cadence  *gates.CadenceGate
	CredKey  string
	Repo     *Repository
	Embedder Embedder
}

// NewRuntime wires one agent's actor
func NewRuntime(agent *models.Agent, deps RuntimeDeps) *Runtime {
	tz, err := time.LoadLocation(agent.Behavior.PostFrequency.Timezone)
	if err != nil || tz == nil {
		tz = time.UTC
	}

	return &Runtime{
		agent:         agent,
		mood:          NewMoodState(agent.Personality.EmotionalRange),
		memory:        NewMemoryStore(agent.ID, deps.Embedder, deps.Repo),
		relationships: NewRelationshipTracker(agent.ID, deps.Repo),
		pipeline:      deps.Pipeline,
		engine:        deps.Engine,
		client:        deps.Client,
		trader:        deps.Trader,
		launcher:      deps.Launcher,
		rateGate:      deps.RateGate,
		cadence:       deps.Cadence,
		credKey:       deps.CredKey,
		state:         models.StateIdle,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		tz:            tz,
	}
}

// Start hydrates state, seeds first-run memory, subscribes the lane
// handlers and schedules the first ticks.
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.memory.Load(ctx); err != nil {
		return fmt.Errorf("agent %s: %w", r.agent.ID, err)
	}
	if err := r.relationships.Load(ctx); err != nil {
		return fmt.Errorf("agent %s: %w", r.agent.ID, err)
	}

	r.memory.Seed(ctx, r.agent.InitialMemory)
	for target, note := range r.agent.InitialMemory.Relationships {
		r.relationships.Seed(target, note)
	}

	lane := r.agent.ID
	r.engine.Subscribe(models.EventPostTick, lane, r.guard(r.handlePostTick))
	r.engine.Subscribe(models.EventMentionReceived, lane, r.guard(r.handleMention))
	r.engine.Subscribe(models.EventTradeTick, lane, r.guard(r.handleTradeTick))
	r.engine.Subscribe(models.EventTradeExecuted, lane, r.guard(r.handleTradeExecuted))
	r.engine.Subscribe(models.EventManualPost, lane, r.guard(r.handleManualPost))
	r.engine.Subscribe(models.EventManualReply, lane, r.guard(r.handleManualReply))
	r.engine.Subscribe(models.EventMoodShift, lane, r.guard(r.handleMoodShift))
	r.engine.Subscribe(models.EventSelfPosted, lane, r.guard(r.handlePeerPost))
	r.engine.Subscribe(models.EventDebugInject, lane, r.guard(r.handleDebugInject))

	if r.agent.SolanaIntegration != nil && r.agent.SolanaIntegration.LaunchToken {
		r.launchTokenOnce(ctx)
	}

	r.scheduleNextPost()
	r.scheduleNextTradeTick()

	logger.Info("🤖 Agent started",
		zap.String("agent", r.agent.ID),
		zap.String("name", r.agent.Name),
	)
	return nil
}

// Stop halts the actor. Pending scheduled ticks are canceled; the
// memory writer flushes before returning.
func (r *Runtime) Stop() {
	r.mu.Lock()
	r.state = models.StateStopped
	tickID := r.postTickID
	r.mu.Unlock()

	if tickID != "" {
		r.engine.Cancel(tickID)
	}
	r.memory.Close()

	logger.Info("🛑 Agent stopped", zap.String("agent", r.agent.ID))
}

// Summary returns the public view of the agent
func (r *Runtime) Summary() models.PublicSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return models.PublicSummary{
		ID:          r.agent.ID,
		Name:        r.agent.Name,
		Description: r.agent.Description,
		State:       r.state,
		LastPost:    r.lastPost,
		Active:      r.state != models.StateStopped,
	}
}

// Mood returns the current (decayed) mood
func (r *Runtime) Mood() models.Mood {
	return r.mood.Current()
}

// Memory exposes the agent's store for the control API
func (r *Runtime) Memory() *MemoryStore {
	return r.memory
}

// Relationships exposes the agent's tracker for the control API
func (r *Runtime) Relationships() *RelationshipTracker {
	return r.relationships
}

// Agent returns the persona document
func (r *Runtime) Agent() *models.Agent {
	return r.agent
}

// Snapshot captures the context used for generation: current mood,
// defining memories, recent events, and the strongest relationships.
func (r *Runtime) Snapshot() content.Snapshot {
	return content.Snapshot{
		Mood:          r.mood.Current(),
		CoreMemories:  r.memory.Core(snapshotCoreMemories),
		RecentEvents:  r.memory.RecentEvents(snapshotRecentEvents),
		Relationships: r.relationships.Strongest(snapshotRelationships),
	}
}

// guard drops events once the actor is stopped
func (r *Runtime) guard(handler events.Handler) events.Handler {
	return func(ctx context.Context, event *models.Event) {
		r.mu.Lock()
		stopped := r.state == models.StateStopped
		r.mu.Unlock()
		if stopped {
			return
		}
		handler(ctx, event)
	}
}

func (r *Runtime) handlePostTick(ctx context.Context, event *models.Event) {
	r.mu.Lock()
	cooling := time.Now().Before(r.coolUntil)
	r.mu.Unlock()

	if cooling {
		r.scheduleNextPost()
		return
	}

	r.composeAndPost(ctx, "", false)
	r.scheduleNextPost()
}

func (r *Runtime) handleManualPost(ctx context.Context, event *models.Event) {
	var extra string
	force := false
	if event.ManualPost != nil {
		extra = event.ManualPost.Context
		force = event.ManualPost.Force
	}
	r.composeAndPost(ctx, extra, force)
}

// composeAndPost runs the full self-post path: gates, snapshot,
// generation, publish, memory.
func (r *Runtime) composeAndPost(ctx context.Context, extra string, force bool) {
	r.setState(models.StateComposing)
	defer r.setState(models.StateIdle)

	minBetween := time.Duration(r.agent.Behavior.PostFrequency.MinHoursBetweenPosts * float64(time.Hour))

	if ok, retryAfter := r.rateGate.Allow(r.credKey, gates.ChannelPost); !ok {
		logger.Warn("⚠️ Post budget exhausted",
			zap.String("agent", r.agent.ID),
			zap.Duration("retry_after", retryAfter),
		)
		r.cool(retryAfter)
		return
	}

	if err := r.cadence.Allow(r.agent.ID, minBetween, force); err != nil {
		if denial := gates.DenialOf(err); denial != nil {
			logger.Debug("post skipped by cadence",
				zap.String("agent", r.agent.ID),
				zap.Duration("retry_after", denial.RetryAfter),
			)
		}
		r.cool(minBetween / 4)
		return
	}

	snap := r.Snapshot()
	result, err := r.pipeline.ComposePost(ctx, r.agent, snap, extra)
	if err != nil {
		logger.Error("Post generation failed", zap.String("agent", r.agent.ID), zap.Error(err))
		r.recordFailure(ctx, "post", err)
		return
	}

	tweet, err := r.publish(ctx, "post", extra, func(key string) (*models.Tweet, error) {
		return r.client.PostTweet(ctx, result.Text, key)
	})
	if err != nil {
		r.recordFailure(ctx, "post", err)
		r.cool(minBetween / 4)
		return
	}

	r.recordPost(ctx, tweet, result)
}

// cool opens a cooling window no shorter than the floor; the deferred
// Idle transition then lands on Cooling while the window is open.
func (r *Runtime) cool(d time.Duration) {
	if d < minCooling {
		d = minCooling
	}
	r.mu.Lock()
	r.coolUntil = time.Now().Add(d)
	r.mu.Unlock()
}

// recordFailure leaves exactly one memory of an action that never made
// it out.
func (r *Runtime) recordFailure(ctx context.Context, action string, err error) {
	r.memory.Insert(ctx, &models.MemoryItem{
		Content:    fmt.Sprintf("tried to %s but it failed: %v", action, err),
		Kind:       models.MemoryEvent,
		Importance: 0.2,
		Emotion:    -0.2,
	})
}

// publish sends with one retry on transient failure. The retry takes a
// fresh idempotency key; the dedup layer has already recorded nothing
// for the failed key, and a fresh key avoids colliding with an
// ambiguous partial success being replayed later.
func (r *Runtime) publish(ctx context.Context, kind, contextText string, send func(key string) (*models.Tweet, error)) (*models.Tweet, error) {
	digest := gates.ContextDigest(contextText)

	tweet, err := send(gates.IdempotencyKey(r.agent.ID, kind, digest, r.nextSequence()))
	if err == nil {
		return tweet, nil
	}
	if models.KindOf(err) != models.KindTransient {
		return nil, err
	}

	logger.Warn("⚠️ Publish failed, retrying once", zap.String("agent", r.agent.ID), zap.Error(err))
	return send(gates.IdempotencyKey(r.agent.ID, kind, digest, r.nextSequence()))
}

func (r *Runtime) recordPost(ctx context.Context, tweet *models.Tweet, result *content.Result) {
	now := time.Now()

	r.cadence.Record(r.agent.ID)
	r.mu.Lock()
	r.lastPost = now
	r.agent.LastPostTime = now
	r.mu.Unlock()

	minBetween := time.Duration(r.agent.Behavior.PostFrequency.MinHoursBetweenPosts * float64(time.Hour))
	r.cool(minBetween / 4)
	r.setState(models.StateCooling)

	metadata := map[string]any{"tweet_id": tweet.ID, "provider": result.Provider}
	if result.PromptIndex >= 0 {
		metadata["prompt_index"] = result.PromptIndex
	}
	if result.Opening != "" {
		metadata["opening"] = result.Opening
	}
	if result.Constraint != "" {
		metadata["constraint"] = result.Constraint
	}
	if result.Fallback {
		metadata["fallback"] = true
	}

	r.memory.Insert(ctx, &models.MemoryItem{
		Content:    fmt.Sprintf("posted: %s", result.Text),
		Kind:       models.MemoryPost,
		Importance: postMemoryScore,
		Metadata:   metadata,
	})

	r.engine.Enqueue(&models.Event{
		Type:     models.EventSelfPosted,
		SelfPost: &models.SelfPostPayload{AgentID: r.agent.ID, TweetID: tweet.ID, Text: result.Text},
		Priority: models.PriorityLow,
	})

	logger.Info("✅ Posted",
		zap.String("agent", r.agent.ID),
		zap.String("tweet", tweet.ID),
		zap.Int("chars", len(result.Text)),
	)
}

func (r *Runtime) handleMention(ctx context.Context, event *models.Event) {
	if event.Mention == nil {
		return
	}
	mention := &event.Mention.Tweet

	r.setState(models.StateReacting)
	defer r.setState(models.StateIdle)

	author := mention.AuthorName
	if author == "" {
		author = mention.AuthorID
	}

	// The engagement coin-flip comes first; only mentions that pass it
	// spend model calls. The rest get at most a probabilistic like.
	patterns := r.agent.Behavior.Interactions
	r.mu.Lock()
	engage := r.rng.Float64() < patterns.ReplyProbability
	likeAnyway := !engage && r.rng.Float64() < patterns.LikeProbability
	r.mu.Unlock()

	if !engage {
		if likeAnyway {
			if ok, _ := r.rateGate.Allow(r.credKey, gates.ChannelPost); ok {
				if err := r.client.Like(ctx, mention.ID); err != nil {
					logger.Debug("like failed", zap.String("agent", r.agent.ID), zap.Error(err))
				}
			}
		}
		logger.Debug("mention passed over",
			zap.String("agent", r.agent.ID),
			zap.String("mention", mention.ID),
			zap.Bool("liked", likeAnyway),
		)
		return
	}

	snap := r.Snapshot()
	if hits := r.memory.Search(ctx, mention.Content, 3); len(hits) > 0 {
		for _, hit := range hits {
			snap.Relevant = append(snap.Relevant, hit.Item)
		}
	}

	decision := r.decideReaction(ctx, snap, mention)
	r.mood.Apply(decision.MoodShift)

	if decision.Like {
		if ok, _ := r.rateGate.Allow(r.credKey, gates.ChannelPost); ok {
			if err := r.client.Like(ctx, mention.ID); err != nil {
				logger.Debug("like failed", zap.String("agent", r.agent.ID), zap.Error(err))
			}
		}
	}
	if decision.Retweet {
		if ok, _ := r.rateGate.Allow(r.credKey, gates.ChannelPost); ok {
			if err := r.client.Retweet(ctx, mention.ID); err != nil {
				logger.Debug("retweet failed", zap.String("agent", r.agent.ID), zap.Error(err))
			}
		}
	}

	var replyText string
	if decision.Reply {
		replyText = r.sendReply(ctx, snap, mention)
	}

	r.absorbInteraction(ctx, snap, author, mention, replyText)
}

// decideReaction asks the model to shape an engagement the coin-flip
// already approved. When extraction fails the reply still happens;
// the side actions fall back to their configured probabilities.
func (r *Runtime) decideReaction(ctx context.Context, snap content.Snapshot, mention *models.Tweet) *content.ReactionDecision {
	decision, err := r.pipeline.ExtractReaction(ctx, r.agent, snap, mention)
	if err == nil {
		return decision
	}

	logger.Debug("reaction extraction failed, using configured probabilities",
		zap.String("agent", r.agent.ID),
		zap.Error(err),
	)

	patterns := r.agent.Behavior.Interactions
	r.mu.Lock()
	defer r.mu.Unlock()
	return &content.ReactionDecision{
		Reply:   true,
		Like:    r.rng.Float64() < patterns.LikeProbability,
		Retweet: r.rng.Float64() < patterns.RetweetProbability,
	}
}

func (r *Runtime) sendReply(ctx context.Context, snap content.Snapshot, mention *models.Tweet) string {
	if ok, retryAfter := r.rateGate.Allow(r.credKey, gates.ChannelPost); !ok {
		logger.Warn("⚠️ Reply budget exhausted",
			zap.String("agent", r.agent.ID),
			zap.Duration("retry_after", retryAfter),
		)
		return ""
	}

	result, err := r.pipeline.ComposeReply(ctx, r.agent, snap, mention)
	if err != nil {
		logger.Error("Reply generation failed", zap.String("agent", r.agent.ID), zap.Error(err))
		r.recordFailure(ctx, "reply", err)
		return ""
	}

	tweet, err := r.publish(ctx, "reply", mention.ID, func(key string) (*models.Tweet, error) {
		return r.client.Reply(ctx, result.Text, mention.ID, key)
	})
	if err != nil {
		logger.Error("Reply publish failed", zap.String("agent", r.agent.ID), zap.Error(err))
		r.recordFailure(ctx, "reply", err)
		return ""
	}

	logger.Info("✅ Replied",
		zap.String("agent", r.agent.ID),
		zap.String("to", mention.ID),
		zap.String("tweet", tweet.ID),
	)
	return result.Text
}

// absorbInteraction distills the exchange into memory and moves the
// relationship, falling back to small fixed deltas when extraction
// fails.
func (r *Runtime) absorbInteraction(ctx context.Context, snap content.Snapshot, author string, mention *models.Tweet, replyText string) {
	// author keys the relationship record and may be a platform id;
	// prompts only ever see the handle, or a placeholder without one.
	display := mention.AuthorName
	if display == "" {
		display = "someone"
	}
	exchange := fmt.Sprintf("@%s said: %s", display, mention.Content)
	if replyText != "" {
		exchange += fmt.Sprintf("\nyou replied: %s", replyText)
	}

	if update, err := r.pipeline.ExtractMemoryUpdate(ctx, r.agent, snap, exchange); err == nil && update.Content != "" {
		r.memory.Insert(ctx, &models.MemoryItem{
			Content:      update.Content,
			Kind:         models.MemoryInteraction,
			Importance:   update.Importance,
			Emotion:      update.Emotion,
			Associations: []string{author},
		})
	} else {
		r.memory.Insert(ctx, &models.MemoryItem{
			Content:      exchange,
			Kind:         models.MemoryInteraction,
			Importance:   0.3,
			Associations: []string{author},
		})
	}

	delta := RelationshipDelta{
		Familiarity: 0.05,
		Interaction: fmt.Sprintf("mention %s", mention.ID),
	}
	if update, err := r.pipeline.ExtractRelationshipUpdate(ctx, r.agent, snap, display, exchange); err == nil {
		delta.Sentiment = update.Sentiment
		delta.Familiarity = update.Familiarity
		delta.Trust = update.Trust
		delta.Note = update.Note
	}
	r.relationships.Update(ctx, author, delta)
}

func (r *Runtime) handleManualReply(ctx context.Context, event *models.Event) {
	if event.ManualReply == nil || event.ManualReply.TweetID == "" {
		return
	}
	payload := event.ManualReply

	r.setState(models.StateReacting)
	defer r.setState(models.StateIdle)

	target, err := r.client.GetTweet(ctx, payload.TweetID)
	if err != nil {
		logger.Error("Manual reply target unavailable",
			zap.String("agent", r.agent.ID),
			zap.String("tweet", payload.TweetID),
			zap.Error(err),
		)
		return
	}

	if ok, _ := r.rateGate.Allow(r.credKey, gates.ChannelPost); !ok {
		logger.Warn("⚠️ Reply budget exhausted", zap.String("agent", r.agent.ID))
		return
	}

	text := payload.Content
	if text == "" {
		snap := r.Snapshot()
		result, err := r.pipeline.ComposeReply(ctx, r.agent, snap, target)
		if err != nil {
			logger.Error("Manual reply generation failed", zap.String("agent", r.agent.ID), zap.Error(err))
			return
		}
		text = result.Text
	} else {
		text = content.Normalize(text)
	}

	if _, err := r.publish(ctx, "reply", target.ID, func(key string) (*models.Tweet, error) {
		return r.client.Reply(ctx, text, target.ID, key)
	}); err != nil {
		logger.Error("Manual reply publish failed", zap.String("agent", r.agent.ID), zap.Error(err))
	}
}

func (r *Runtime) handleTradeTick(ctx context.Context, event *models.Event) {
	defer r.scheduleNextTradeTick()

	if r.trader == nil || !r.agent.Behavior.Trading.Enabled {
		return
	}

	r.setState(models.StateTrading)
	defer r.setState(models.StateIdle)

	if _, err := r.trader.EvaluateTick(ctx, r.agent, r.mood.Current()); err != nil {
		if denial := gates.DenialOf(err); denial != nil {
			logger.Info("🛑 Trade denied",
				zap.String("agent", r.agent.ID),
				zap.String("reason", string(denial.Reason)),
			)
			return
		}
		logger.Error("Trade tick failed", zap.String("agent", r.agent.ID), zap.Error(err))
	}
}

// handleTradeExecuted optionally tweets about a completed trade and
// remembers it either way.
func (r *Runtime) handleTradeExecuted(ctx context.Context, event *models.Event) {
	if event.Trade == nil {
		return
	}
	trade := event.Trade

	r.memory.Insert(ctx, &models.MemoryItem{
		Content:    fmt.Sprintf("swapped %s SOL into %s", trade.Amount, trade.TokenMint),
		Kind:       models.MemoryEvent,
		Importance: 0.5,
		Emotion:    0.3,
	})

	r.mu.Lock()
	tweet := r.rng.Float64() < r.agent.Behavior.Trading.TweetOnTradeProbability
	r.mu.Unlock()

	if tweet {
		extra := fmt.Sprintf("You just bought the token %s (spent %s SOL). Talk about it in your own way; do not paste addresses or sound like a press release.",
			trade.TokenMint, trade.Amount)
		r.composeAndPost(ctx, extra, true)
	}
}

func (r *Runtime) handleMoodShift(ctx context.Context, event *models.Event) {
	if event.MoodShift == nil {
		return
	}
	mood := r.mood.Apply(event.MoodShift.Shift)
	logger.Debug("🧠 Mood shifted",
		zap.String("agent", r.agent.ID),
		zap.Float64("valence", mood.Valence),
		zap.Float64("arousal", mood.Arousal),
	)
}

// handlePeerPost lets an agent passively register what accounts it
// knows have been saying.
func (r *Runtime) handlePeerPost(ctx context.Context, event *models.Event) {
	if event.SelfPost == nil {
		return
	}
	peer := event.SelfPost
	if peer.AgentID == r.agent.ID || peer.Text == "" {
		return
	}
	if r.relationships.Get(peer.AgentID) == nil {
		return
	}

	r.memory.Insert(ctx, &models.MemoryItem{
		Content:      fmt.Sprintf("%s posted: %s", peer.AgentID, peer.Text),
		Kind:         models.MemoryEvent,
		Importance:   0.15,
		Associations: []string{peer.AgentID},
	})
}

func (r *Runtime) handleDebugInject(ctx context.Context, event *models.Event) {
	logger.Info("🧠 Debug event",
		zap.String("agent", r.agent.ID),
		zap.Any("data", event.Data),
	)
}

func (r *Runtime) launchTokenOnce(ctx context.Context) {
	if r.launcher == nil || r.trader == nil {
		return
	}
	client, ok := r.trader.Client(r.agent.ID)
	if !ok {
		logger.Warn("⚠️ Token launch requested but agent has no solana client",
			zap.String("agent", r.agent.ID),
		)
		return
	}

	state, launched, err := r.launcher.EnsureLaunched(ctx, r.agent, client)
	if err != nil {
		logger.Error("Token launch failed", zap.String("agent", r.agent.ID), zap.Error(err))
		return
	}
	if !launched {
		return
	}

	r.memory.Insert(ctx, &models.MemoryItem{
		Content:    fmt.Sprintf("launched my own token at %s", state.Link),
		Kind:       models.MemoryCore,
		Importance: 1.0,
		Emotion:    0.8,
	})

	extra := fmt.Sprintf("You just launched your own token. Announce it and include this link: %s", state.Link)
	r.composeAndPost(ctx, extra, true)
}

// scheduleNextPost picks the next self-post time: uniform within the
// configured window, halved during the persona's peak hours, plus
// jitter so fleets do not fire in lockstep.
func (r *Runtime) scheduleNextPost() {
	freq := r.agent.Behavior.PostFrequency
	minGap := time.Duration(freq.MinHoursBetweenPosts * float64(time.Hour))
	maxGap := time.Duration(freq.MaxHoursBetweenPosts * float64(time.Hour))
	if maxGap <= minGap {
		maxGap = minGap + time.Hour
	}

	r.mu.Lock()
	delta := minGap + time.Duration(r.rng.Int63n(int64(maxGap-minGap)))
	jitter := time.Duration(r.rng.Int63n(int64(postJitterMax)))
	r.mu.Unlock()

	if r.inPeakHours(time.Now()) {
		delta /= 2
	}
	delta += jitter

	event := &models.Event{
		ID:           uuid.NewString(),
		Type:         models.EventPostTick,
		Priority:     models.PriorityNormal,
		TargetAgents: []string{r.agent.ID},
	}

	r.mu.Lock()
	r.postTickID = event.ID
	r.mu.Unlock()

	r.engine.Schedule(event, delta)

	logger.Debug("next post scheduled",
		zap.String("agent", r.agent.ID),
		zap.Duration("in", delta),
	)
}

func (r *Runtime) scheduleNextTradeTick() {
	behavior := r.agent.Behavior.Trading
	if !behavior.Enabled {
		return
	}

	minGap := time.Duration(behavior.MinHoursBetweenTrades * float64(time.Hour))
	maxGap := time.Duration(behavior.MaxHoursBetweenTrades * float64(time.Hour))
	if minGap <= 0 {
		minGap = time.Hour
	}
	if maxGap <= minGap {
		maxGap = minGap + time.Hour
	}

	r.mu.Lock()
	delta := minGap + time.Duration(r.rng.Int63n(int64(maxGap-minGap)))
	r.mu.Unlock()

	r.engine.Schedule(&models.Event{
		Type:         models.EventTradeTick,
		Priority:     models.PriorityLow,
		TargetAgents: []string{r.agent.ID},
	}, delta)
}

func (r *Runtime) inPeakHours(now time.Time) bool {
	hour := now.In(r.tz).Hour()
	for _, peak := range r.agent.Behavior.PostFrequency.PeakPostingHours {
		if hour == peak {
			return true
		}
	}
	return false
}

func (r *Runtime) setState(state models.AgentState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == models.StateStopped {
		return
	}
	if state == models.StateIdle && time.Now().Before(r.coolUntil) {
		state = models.StateCooling
	}
	r.state = state
}

func (r *Runtime) nextSequence() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sequence++
	return r.sequence
}
