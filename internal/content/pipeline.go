package content

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/llm"
	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// MaxPostLength is the platform character limit
const MaxPostLength = 280

const (
	maxAttempts      = 3
	backoffBase      = time.Second
	backoffCap       = 10 * time.Second
	openerDenyWindow = 20
	openerResamples  = 3
	openerWords      = 4

	shortPostBias      = 0.6 // probability of asking for a sub-100-char post
	constraintInjectP  = 0.2 // probability of injecting a variety constraint
	remediationTemp    = 0.7
	defaultCallTimeout = 30 * time.Second
)

// openingStyles shape how a piece of writing starts. One is sampled on
// every compose so a persona's openings keep churning.
var openingStyles = []string{
	"Open with a question.",
	"Open with a blunt declarative sentence.",
	"Open with a sentence fragment.",
	"Open with a small concrete observation.",
	"Open with a short list, like \"three things:\".",
	"Open mid-thought, no setup.",
	"Open with a take you only half stand behind.",
	"Open with something you noticed today.",
	"Open with a quiet admission.",
	"Open by talking to the reader directly.",
	"Open with a number.",
	"Open with a mild complaint.",
}

// varietyConstraints are occasionally injected into the instruction so
// a long-running persona does not converge on one shape of post.
var varietyConstraints = []string{
	"Ask a question instead of making a statement.",
	"Do not use any emojis in this one.",
	"Start mid-thought, as if continuing something.",
	"Make an observation about something small and concrete.",
	"Use exactly one sentence.",
	"Reference something from earlier today without explaining it.",
	"Be unusually brief, under ten words.",
	"Express mild uncertainty about your own take.",
	"React to the time of day.",
	"Avoid the first person entirely.",
	"Make it feel like an aside, not an announcement.",
	"End on an unresolved note.",
}

// fallbackLines are published when generation stays broken after
// remediation. Bland on purpose.
var fallbackLines = []string{
	"thinking about a lot today. more later.",
	"some days the timeline says it all",
	"back in a bit",
	"quiet day. good kind of quiet.",
}

// Snapshot is the agent context captured at action start. The pipeline
// only ever sees this copy, never live mood or memory.
type Snapshot struct {
	Mood          models.Mood
	CoreMemories  []*models.MemoryItem
	RecentEvents  []*models.MemoryItem
	Relationships []*models.Relationship
	Relevant      []*models.MemoryItem
}

// Result is one generated piece of content
type Result struct {
	Text        string
	PromptIndex int    // rotating prompt used, -1 when none
	Opening     string // opening style sampled for this piece
	Constraint  string // variety constraint injected, empty when none
	Fallback    bool   // canned fallback was published
	Provider    string
}

// ReactionDecision is the structured outcome of evaluating a mention
type ReactionDecision struct {
	Reply     bool             `json:"reply"`
	Like      bool             `json:"like"`
	Retweet   bool             `json:"retweet"`
	Quote     bool             `json:"quote"`
	MoodShift models.MoodShift `json:"mood_shift"`
}

// MemoryUpdate is a structured extraction of what to remember from an
// interaction.
type MemoryUpdate struct {
	Content    string  `json:"content"`
	Importance float64 `json:"importance"`
	Emotion    float64 `json:"emotion"`
}

// RelationshipUpdate is a structured extraction of how an interaction
// moved the agent's view of the other account.
type RelationshipUpdate struct {
	Sentiment   float64 `json:"sentiment_delta"`
	Familiarity float64 `json:"familiarity_delta"`
	Trust       float64 `json:"trust_delta"`
	Note        string  `json:"note"`
}

// Pipeline turns agent context into publishable text. One pipeline
// serves the whole fleet; per-agent state is keyed by agent id.
type Pipeline struct {
	providers   *llm.Registry
	callTimeout time.Duration

	mu      sync.Mutex
	rng     *rand.Rand
	openers map[string][]string // agent id -> recent post openers
}

// NewPipeline creates a pipeline over the provider registry
func NewPipeline(providers *llm.Registry) *Pipeline {
	return &Pipeline{
		providers:   providers,
		callTimeout: defaultCallTimeout,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		openers:     make(map[string][]string),
	}
}

// ComposePost generates a standalone post for the agent
func (p *Pipeline) ComposePost(ctx context.Context, agent *models.Agent, snap Snapshot, extra string) (*Result, error) {
	instruction := "Write your next post."
	if extra != "" {
		instruction = fmt.Sprintf("Write your next post. Topic or context from your operator: %s", extra)
	}
	return p.composeText(ctx, agent, snap, instruction, true)
}

// ComposeReply generates a reply to a mention, with the resolved
// thread as conversational context.
func (p *Pipeline) ComposeReply(ctx context.Context, agent *models.Agent, snap Snapshot, mention *models.Tweet) (*Result, error) {
	var sb strings.Builder
	sb.WriteString("You are replying to a conversation.\n")
	writeThread(&sb, mention)
	sb.WriteString("\nWrite your reply.")
	return p.composeText(ctx, agent, snap, sb.String(), false)
}

// ComposeQuote generates quote-tweet commentary
func (p *Pipeline) ComposeQuote(ctx context.Context, agent *models.Agent, snap Snapshot, quoted *models.Tweet) (*Result, error) {
	instruction := fmt.Sprintf(
		"You are quote-tweeting this post by @%s:\n%q\n\nWrite your commentary.",
		displayName(quoted), quoted.Content)
	return p.composeText(ctx, agent, snap, instruction, false)
}

// ExtractReaction asks the model how the persona reacts to a mention
func (p *Pipeline) ExtractReaction(ctx context.Context, agent *models.Agent, snap Snapshot, mention *models.Tweet) (*ReactionDecision, error) {
	var sb strings.Builder
	sb.WriteString("Someone mentioned you:\n")
	writeThread(&sb, mention)
	sb.WriteString("\nDecide how you react. Respond with only a JSON object: ")
	sb.WriteString(`{"reply": bool, "like": bool, "retweet": bool, "quote": bool, "mood_shift": {"valence_shift": -0.5..0.5, "arousal_shift": -0.5..0.5, "dominance_shift": -0.5..0.5}}`)

	var decision ReactionDecision
	if err := p.extractJSON(ctx, agent, snap, sb.String(), &decision); err != nil {
		return nil, err
	}
	return &decision, nil
}

// ExtractMemoryUpdate distills an interaction into a memory item
func (p *Pipeline) ExtractMemoryUpdate(ctx context.Context, agent *models.Agent, snap Snapshot, interaction string) (*MemoryUpdate, error) {
	instruction := fmt.Sprintf(
		"This just happened:\n%s\n\nDistill what, if anything, you will remember. Respond with only a JSON object: "+
			`{"content": "...", "importance": 0..1, "emotion": -1..1}`+
			"\nUse an empty content string when nothing is worth remembering.", interaction)

	var update MemoryUpdate
	if err := p.extractJSON(ctx, agent, snap, instruction, &update); err != nil {
		return nil, err
	}
	return &update, nil
}

// ExtractRelationshipUpdate distills how an exchange moved the
// relationship with the other account.
func (p *Pipeline) ExtractRelationshipUpdate(ctx context.Context, agent *models.Agent, snap Snapshot, otherAccount, exchange string) (*RelationshipUpdate, error) {
	instruction := fmt.Sprintf(
		"You just had this exchange with @%s:\n%s\n\nHow did it move your view of them? Respond with only a JSON object: "+
			`{"sentiment_delta": -0.2..0.2, "familiarity_delta": 0..0.1, "trust_delta": -0.2..0.2, "note": "..."}`,
		otherAccount, exchange)

	var update RelationshipUpdate
	if err := p.extractJSON(ctx, agent, snap, instruction, &update); err != nil {
		return nil, err
	}
	return &update, nil
}

// composeText runs the full publish-bound path: generate, detect
// meta-confusion with one remediation, enforce opener variety, then
// normalize to the platform limit.
func (p *Pipeline) composeText(ctx context.Context, agent *models.Agent, snap Snapshot, instruction string, selfPost bool) (*Result, error) {
	provider, err := p.providerFor(agent)
	if err != nil {
		return nil, err
	}

	prompt, promptIdx := p.assemblePrompt(agent, snap)

	p.mu.Lock()
	opening := openingStyles[p.rng.Intn(len(openingStyles))]
	p.mu.Unlock()
	instruction += "\n" + opening

	constraint := ""
	if selfPost {
		p.mu.Lock()
		if p.rng.Float64() < constraintInjectP {
			constraint = varietyConstraints[p.rng.Intn(len(varietyConstraints))]
		}
		short := p.rng.Float64() < shortPostBias
		p.mu.Unlock()

		if short {
			instruction += "\nKeep it under 100 characters."
		}
		if constraint != "" {
			instruction += "\n" + constraint
		}
	}
	instruction += fmt.Sprintf("\nHard limit: %d characters. Output only the post text.", MaxPostLength)

	text, err := p.invoke(ctx, provider, prompt, instruction, llm.DefaultParams())
	if err != nil {
		return nil, err
	}

	if IsMetaConfused(text) {
		logger.Warn("🧠 Meta-confused output, remediating",
			zap.String("agent", agent.ID),
			zap.String("provider", provider.Name()),
		)
		remediation := instruction + "\nStay fully in character. Never ask about tweets, posts, or context; if something is unclear, improvise as your persona would."
		params := llm.DefaultParams()
		params.Temperature = remediationTemp

		text, err = p.invoke(ctx, provider, prompt, remediation, params)
		if err != nil || IsMetaConfused(text) {
			p.mu.Lock()
			line := fallbackLines[p.rng.Intn(len(fallbackLines))]
			p.mu.Unlock()
			logger.Warn("🧠 Remediation failed, publishing fallback", zap.String("agent", agent.ID))
			return &Result{Text: line, PromptIndex: promptIdx, Opening: opening, Fallback: true, Provider: provider.Name()}, nil
		}
	}

	if selfPost {
		text, err = p.enforceOpenerVariety(ctx, agent, provider, prompt, instruction, text)
		if err != nil {
			return nil, err
		}
		p.recordOpener(agent.ID, text)
	}

	return &Result{
		Text:        Normalize(text),
		PromptIndex: promptIdx,
		Opening:     opening,
		Constraint:  constraint,
		Provider:    provider.Name(),
	}, nil
}

// enforceOpenerVariety resamples when the post opens like one of the
// agent's last posts. After the resample budget it accepts the text
// rather than stall the cadence.
func (p *Pipeline) enforceOpenerVariety(ctx context.Context, agent *models.Agent, provider llm.Provider, prompt, instruction, text string) (string, error) {
	for attempt := 0; attempt < openerResamples; attempt++ {
		if !p.openerRecentlyUsed(agent.ID, text) {
			return text, nil
		}

		logger.Debug("opener repeated, resampling",
			zap.String("agent", agent.ID),
			zap.Int("attempt", attempt+1),
		)
		params := llm.DefaultParams()
		params.Temperature = remediationTemp
		resampled, err := p.invoke(ctx, provider, prompt,
			instruction+fmt.Sprintf("\nDo not open with %q; vary your opening.", opener(text)), params)
		if err != nil {
			return "", err
		}
		if IsMetaConfused(resampled) {
			continue // keep current text rather than trade repetition for confusion
		}
		text = resampled
	}

	if p.openerRecentlyUsed(agent.ID, text) {
		logger.Warn("🧠 Opener still repeated after resampling, accepting", zap.String("agent", agent.ID))
	}
	return text, nil
}

// extractJSON runs a structured-output task. Extraction failures are
// content errors; callers fall back to their probabilistic defaults.
func (p *Pipeline) extractJSON(ctx context.Context, agent *models.Agent, snap Snapshot, instruction string, out any) error {
	provider, err := p.providerFor(agent)
	if err != nil {
		return err
	}

	prompt, _ := p.assemblePrompt(agent, snap)
	params := llm.DefaultParams()
	params.Temperature = 0.2

	raw, err := p.invoke(ctx, provider, prompt, instruction, params)
	if err != nil {
		return err
	}

	payload := extractJSONObject(raw)
	if payload == "" {
		return models.NewKindError(models.KindContent, fmt.Errorf("no JSON object in extraction output"))
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return models.NewKindError(models.KindContent, fmt.Errorf("failed to parse extraction output: %w", err))
	}
	return nil
}

// invoke calls the provider with per-call deadline and bounded retry
// with exponential backoff. Permanent failures do not retry.
func (p *Pipeline) invoke(ctx context.Context, provider llm.Provider, prompt, instruction string, params llm.Params) (string, error) {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := backoffBase << (attempt - 1)
			if backoff > backoffCap {
				backoff = backoffCap
			}
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		text, err := provider.Generate(callCtx, prompt, instruction, params)
		cancel()

		if err == nil {
			return strings.TrimSpace(text), nil
		}
		lastErr = err
		if models.KindOf(err) == models.KindPermanent {
			break
		}
	}

	return "", fmt.Errorf("generation failed after retries: %w", lastErr)
}

// assemblePrompt builds the system prompt from the persona, the
// current mood, and the context snapshot. Returns the rotating prompt
// index used, -1 when none.
func (p *Pipeline) assemblePrompt(agent *models.Agent, snap Snapshot) (string, int) {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are %s. %s\n", agent.Name, agent.Description)

	if agent.CustomPrompt != "" {
		sb.WriteString(agent.CustomPrompt)
		sb.WriteString("\n")
	}

	promptIdx := -1
	if len(agent.RotatingPrompts) > 0 {
		p.mu.Lock()
		promptIdx = p.rng.Intn(len(agent.RotatingPrompts))
		p.mu.Unlock()
		sb.WriteString(agent.RotatingPrompts[promptIdx])
		sb.WriteString("\n")
	}

	if len(agent.Personality.Traits) > 0 {
		fmt.Fprintf(&sb, "\nTraits: %s\n", strings.Join(agent.Personality.Traits, ", "))
	}
	if len(agent.Personality.Values) > 0 {
		fmt.Fprintf(&sb, "Values: %s\n", strings.Join(agent.Personality.Values, ", "))
	}
	if len(agent.Personality.Interests) > 0 {
		fmt.Fprintf(&sb, "Interests: %s\n", strings.Join(agent.Personality.Interests, ", "))
	}
	if agent.Personality.SpeakingStyle != "" {
		fmt.Fprintf(&sb, "Speaking style: %s\n", agent.Personality.SpeakingStyle)
	}

	writeStyle(&sb, &agent.Style)
	writeMood(&sb, snap.Mood)

	if len(snap.CoreMemories) > 0 {
		sb.WriteString("\nWhat defines you:\n")
		for _, m := range snap.CoreMemories {
			fmt.Fprintf(&sb, "- %s\n", m.Content)
		}
	}
	if len(snap.Relevant) > 0 {
		sb.WriteString("\nRelevant memories:\n")
		for _, m := range snap.Relevant {
			fmt.Fprintf(&sb, "- %s\n", m.Content)
		}
	}
	if len(snap.RecentEvents) > 0 {
		sb.WriteString("\nRecently:\n")
		for _, m := range snap.RecentEvents {
			fmt.Fprintf(&sb, "- %s\n", m.Content)
		}
	}
	if len(snap.Relationships) > 0 {
		sb.WriteString("\nPeople you know:\n")
		for _, rel := range snap.Relationships {
			fmt.Fprintf(&sb, "- @%s (sentiment %.1f, familiarity %.1f)", rel.TargetID, rel.Sentiment, rel.Familiarity)
			if len(rel.Notes) > 0 {
				fmt.Fprintf(&sb, ": %s", rel.Notes[len(rel.Notes)-1])
			}
			sb.WriteString("\n")
		}
	}

	return sb.String(), promptIdx
}

func (p *Pipeline) providerFor(agent *models.Agent) (llm.Provider, error) {
	provider := p.providers.Get(agent.LLMProvider)
	if provider == nil {
		return nil, models.NewKindError(models.KindPermanent,
			fmt.Errorf("no provider configured for agent %s", agent.ID))
	}
	return provider, nil
}

func (p *Pipeline) openerRecentlyUsed(agentID, text string) bool {
	op := opener(text)
	if op == "" {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, prev := range p.openers[agentID] {
		if prev == op {
			return true
		}
	}
	return false
}

func (p *Pipeline) recordOpener(agentID, text string) {
	op := opener(text)
	if op == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	recent := append(p.openers[agentID], op)
	if len(recent) > openerDenyWindow {
		recent = recent[len(recent)-openerDenyWindow:]
	}
	p.openers[agentID] = recent
}

// opener normalizes the first few words of a post for repetition
// checks.
func opener(text string) string {
	words := strings.Fields(strings.ToLower(text))
	if len(words) > openerWords {
		words = words[:openerWords]
	}
	return strings.Join(words, " ")
}

// Normalize strips control characters and truncates to the platform
// limit at a word boundary where possible.
func Normalize(text string) string {
	var sb strings.Builder
	for _, r := range strings.TrimSpace(text) {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			sb.WriteRune(r)
		}
	}
	out := sb.String()

	if len([]rune(out)) <= MaxPostLength {
		return out
	}

	runes := []rune(out)[:MaxPostLength]
	cut := string(runes)
	if idx := strings.LastIndexAny(cut, " \n"); idx > MaxPostLength/2 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut)
}

// extractJSONObject pulls the first balanced {...} from model output,
// tolerating prose or code fences around it.
func extractJSONObject(raw string) string {
	start := strings.Index(raw, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return raw[start : i+1]
				}
			}
		}
	}
	return ""
}

func writeStyle(sb *strings.Builder, style *models.StyleGuide) {
	sb.WriteString("\nHow you write:\n")
	if style.Voice != "" {
		fmt.Fprintf(sb, "- voice: %s\n", style.Voice)
	}
	if style.Tone != "" {
		fmt.Fprintf(sb, "- tone: %s\n", style.Tone)
	}
	if style.HashtagFrequency != "" {
		fmt.Fprintf(sb, "- hashtags: %s\n", style.HashtagFrequency)
	}
	if style.EmojiFrequency != "" {
		fmt.Fprintf(sb, "- emojis: %s\n", style.EmojiFrequency)
	}
	if style.Capitalization != "" && style.Capitalization != models.CapStandard {
		fmt.Fprintf(sb, "- capitalization: %s\n", style.Capitalization)
	}
	if style.SentenceLength != "" {
		fmt.Fprintf(sb, "- sentence length: %s\n", style.SentenceLength)
	}
	if style.TechnicalJargon != "" {
		fmt.Fprintf(sb, "- jargon: %s\n", style.TechnicalJargon)
	}
	if len(style.ForbiddenTopics) > 0 {
		fmt.Fprintf(sb, "- never discuss: %s\n", strings.Join(style.ForbiddenTopics, ", "))
	}
	if style.Language != "" {
		fmt.Fprintf(sb, "- language: %s\n", style.Language)
	}
}

func writeMood(sb *strings.Builder, mood models.Mood) {
	fmt.Fprintf(sb, "\nCurrent mood: %s (valence %.2f, arousal %.2f, dominance %.2f)\n",
		describeMood(mood), mood.Valence, mood.Arousal, mood.Dominance)
}

// describeMood maps the VAD point to a rough verbal label so the model
// does not have to interpret raw numbers.
func describeMood(m models.Mood) string {
	switch {
	case m.Valence > 0.3 && m.Arousal > 0.3:
		return "energized and upbeat"
	case m.Valence > 0.3:
		return "content and calm"
	case m.Valence < -0.3 && m.Arousal > 0.3:
		return "agitated"
	case m.Valence < -0.3:
		return "down"
	case m.Arousal > 0.3:
		return "restless"
	default:
		return "even-keeled"
	}
}

func writeThread(sb *strings.Builder, mention *models.Tweet) {
	for _, ancestor := range mention.ThreadHistory {
		fmt.Fprintf(sb, "@%s: %s\n", displayName(&ancestor), ancestor.Content)
	}
	fmt.Fprintf(sb, "@%s: %s\n", displayName(mention), mention.Content)
}

// displayName is what a tweet's author is called inside a prompt.
// Numeric platform ids never appear there; an unknown handle reads as
// a placeholder instead.
func displayName(tweet *models.Tweet) string {
	if tweet.AuthorName != "" {
		return tweet.AuthorName
	}
	return "someone"
}
