package models

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"
)

// NewDecimal creates decimal from float64
func NewDecimal(value float64) decimal.Decimal {
	return decimal.NewFromFloat(value)
}

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// ValidateAgentID checks that an agent id is a lowercase slug
func ValidateAgentID(id string) error {
	if !slugPattern.MatchString(id) {
		return fmt.Errorf("agent id must be a lowercase slug, got %q", id)
	}
	return nil
}

// Voice represents narrative perspective
type Voice string

const (
	VoiceFirstPerson Voice = "first_person"
	VoiceThirdPerson Voice = "third_person"
	VoiceCollective  Voice = "collective"
)

// Tone represents overall register of an agent's writing
type Tone string

const (
	ToneFormal       Tone = "formal"
	ToneCasual       Tone = "casual"
	ToneTechnical    Tone = "technical"
	ToneFriendly     Tone = "friendly"
	ToneProfessional Tone = "professional"
	ToneSarcastic    Tone = "sarcastic"
	ToneEnthusiastic Tone = "enthusiastic"
)

// Frequency is the enumerated hashtag/emoji frequency scale
type Frequency string

const (
	FrequencyNone     Frequency = "none"
	FrequencyRare     Frequency = "rare"
	FrequencyModerate Frequency = "moderate"
	FrequencyFrequent Frequency = "frequent"
)

// Capitalization mode for generated text
type Capitalization string

const (
	CapStandard  Capitalization = "standard"
	CapAllCaps   Capitalization = "all_caps"
	CapTitleCase Capitalization = "title_case"
	CapLowercase Capitalization = "lowercase"
)

// SentenceLength policy for generated text
type SentenceLength string

const (
	SentenceShort  SentenceLength = "short"
	SentenceMedium SentenceLength = "medium"
	SentenceLong   SentenceLength = "long"
	SentenceVaried SentenceLength = "varied"
)

// JargonPolicy controls technical vocabulary usage
type JargonPolicy string

const (
	JargonAvoid   JargonPolicy = "avoid"
	JargonExplain JargonPolicy = "explain_when_used"
	JargonFree    JargonPolicy = "use_freely"
)

// TradeFactor is a signal an agent may consider when picking a trade
type TradeFactor string

const (
	FactorTrendingTokens  TradeFactor = "trending_tokens"
	FactorTopGainers      TradeFactor = "top_gainers"
	FactorRandomSelection TradeFactor = "random_selection"
	FactorMood            TradeFactor = "mood"
)

// MentionMode selects how mentions reach an agent
type MentionMode string

const (
	MentionAuto   MentionMode = "auto" // prefer stream, fall back to poll
	MentionStream MentionMode = "stream"
	MentionPoll   MentionMode = "poll"
)

// Personality holds the immutable persona traits loaded from config
type Personality struct {
	Traits          []string `json:"traits"`
	Values          []string `json:"values"`
	SpeakingStyle   string   `json:"speaking_style"`
	Interests       []string `json:"interests"`
	Quirks          []string `json:"quirks"`
	EmotionalRange  Mood     `json:"emotional_range"`
	BackgroundStory string   `json:"background_story,omitempty"`
}

const (
	MaxTraits    = 20
	MaxValues    = 10
	MaxInterests = 15
)

// Validate enforces personality size caps
func (p *Personality) Validate() error {
	if len(p.Traits) > MaxTraits {
		return fmt.Errorf("too many traits: %d (max %d)", len(p.Traits), MaxTraits)
	}
	if len(p.Values) > MaxValues {
		return fmt.Errorf("too many values: %d (max %d)", len(p.Values), MaxValues)
	}
	if len(p.Interests) > MaxInterests {
		return fmt.Errorf("too many interests: %d (max %d)", len(p.Interests), MaxInterests)
	}
	return nil
}

// StyleGuide controls how an agent writes
type StyleGuide struct {
	Voice            Voice          `json:"voice"`
	Tone             Tone           `json:"tone"`
	HashtagFrequency Frequency      `json:"hashtag_frequency"`
	EmojiFrequency   Frequency      `json:"emoji_frequency"`
	Capitalization   Capitalization `json:"capitalization"`
	SentenceLength   SentenceLength `json:"sentence_length"`
	TechnicalJargon  JargonPolicy   `json:"technical_jargon"`
	ForbiddenTopics  []string       `json:"forbidden_topics"`
	Language         string         `json:"language,omitempty"`
}

// Validate checks enumerated style options against the authoritative sets
func (s *StyleGuide) Validate() error {
	switch s.Voice {
	case "", VoiceFirstPerson, VoiceThirdPerson, VoiceCollective:
	default:
		return fmt.Errorf("invalid voice: %q", s.Voice)
	}
	switch s.Tone {
	case "", ToneFormal, ToneCasual, ToneTechnical, ToneFriendly, ToneProfessional, ToneSarcastic, ToneEnthusiastic:
	default:
		return fmt.Errorf("invalid tone: %q", s.Tone)
	}
	for _, f := range []Frequency{s.HashtagFrequency, s.EmojiFrequency} {
		switch f {
		case "", FrequencyNone, FrequencyRare, FrequencyModerate, FrequencyFrequent:
		default:
			return fmt.Errorf("invalid frequency: %q", f)
		}
	}
	switch s.Capitalization {
	case "", CapStandard, CapAllCaps, CapTitleCase, CapLowercase:
	default:
		return fmt.Errorf("invalid capitalization: %q", s.Capitalization)
	}
	switch s.SentenceLength {
	case "", SentenceShort, SentenceMedium, SentenceLong, SentenceVaried:
	default:
		return fmt.Errorf("invalid sentence_length: %q", s.SentenceLength)
	}
	switch s.TechnicalJargon {
	case "", JargonAvoid, JargonExplain, JargonFree:
	default:
		return fmt.Errorf("invalid technical_jargon: %q", s.TechnicalJargon)
	}
	return nil
}

// PostFrequency describes an agent's self-posting rhythm
type PostFrequency struct {
	MinHoursBetweenPosts float64 `json:"min_hours_between_posts"`
	MaxHoursBetweenPosts float64 `json:"max_hours_between_posts"`
	PeakPostingHours     []int   `json:"peak_posting_hours"`
	Timezone             string  `json:"timezone"`
}

// InteractionPatterns holds reaction probabilities in [0,1]
type InteractionPatterns struct {
	ReplyProbability   float64 `json:"reply_probability"`
	QuoteProbability   float64 `json:"quote_probability"`
	LikeProbability    float64 `json:"like_probability"`
	RetweetProbability float64 `json:"retweet_probability"`
}

// MentionDelay bounds the artificial delay before answering a mention
type MentionDelay struct {
	MinSeconds int `json:"min_seconds"`
	MaxSeconds int `json:"max_seconds"`
}

// TradingBehavior configures when and how an agent trades
type TradingBehavior struct {
	Enabled                  bool            `json:"enabled"`
	MinHoursBetweenTrades    float64         `json:"min_hours_between_trades"`
	MaxHoursBetweenTrades    float64         `json:"max_hours_between_trades"`
	RandomProbability        float64         `json:"random_probability"`
	DecisionFactors          []TradeFactor   `json:"decision_factors"`
	TweetOnTradeProbability  float64         `json:"tweet_on_trade_probability"`
	MaxTradeAmount           decimal.Decimal `json:"max_trade_amount"`
	MaxDailyTrades           int             `json:"max_daily_trades"`
	MaxDailyVolume           decimal.Decimal `json:"max_daily_volume"`
	MinWalletBalance         decimal.Decimal `json:"min_wallet_balance"`
	MaxSlippagePercent       float64         `json:"max_slippage_percent"`
	AllowedTokens            []string        `json:"allowed_tokens"`
	BlacklistedTokens        []string        `json:"blacklisted_tokens"`
	IgnoreHumanTradeRequests bool            `json:"ignore_human_trade_requests"`
}

// Validate checks trade decision factors against the authoritative set
func (t *TradingBehavior) Validate() error {
	for _, f := range t.DecisionFactors {
		switch f {
		case FactorTrendingTokens, FactorTopGainers, FactorRandomSelection, FactorMood:
		default:
			return fmt.Errorf("invalid trade decision factor: %q", f)
		}
	}
	if t.RandomProbability < 0 || t.RandomProbability > 1 {
		return fmt.Errorf("random_probability must be in [0,1]")
	}
	return nil
}

// Behavior bundles all activity configuration for an agent
type Behavior struct {
	PostFrequency PostFrequency       `json:"post_frequency"`
	Interactions  InteractionPatterns `json:"interaction_patterns"`
	MentionDelay  MentionDelay        `json:"mention_response_delay"`
	Trading       TradingBehavior     `json:"trading"`
	MentionMode   MentionMode         `json:"mention_mode"`
}

// MemoryKind classifies memory items
type MemoryKind string

const (
	MemoryCore        MemoryKind = "core"
	MemoryInteraction MemoryKind = "interaction"
	MemoryEvent       MemoryKind = "event"
	MemoryGeneral     MemoryKind = "general"
	MemoryPost        MemoryKind = "post"
)

// MemoryItem is a single remembered fact or experience
type MemoryItem struct {
	ID           string         `json:"id" db:"id"`
	AgentID      string         `json:"agent_id" db:"agent_id"`
	Content      string         `json:"content" db:"content"`
	Kind         MemoryKind     `json:"kind" db:"kind"`
	Timestamp    time.Time      `json:"timestamp" db:"created_at"`
	Importance   float64        `json:"importance" db:"importance"`
	Emotion      float64        `json:"emotion" db:"emotion"`
	Associations []string       `json:"associations,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Embedding    []float32      `json:"-"`
}

// Relationship tracks one agent's view of another account
type Relationship struct {
	AgentID         string    `json:"agent_id" db:"agent_id"`
	TargetID        string    `json:"target_id" db:"target_id"`
	Sentiment       float64   `json:"sentiment" db:"sentiment"`
	Familiarity     float64   `json:"familiarity" db:"familiarity"`
	Trust           float64   `json:"trust" db:"trust"`
	LastInteraction time.Time `json:"last_interaction" db:"last_interaction"`
	Recent          []string  `json:"recent_interactions,omitempty"`
	Notes           []string  `json:"notes,omitempty"`
}

const (
	RelationshipRingSize = 32
	RelationshipMaxNotes = 16
)

// Tweet is a read-only reference to a microblog post
type Tweet struct {
	ID            string    `json:"id"`
	Content       string    `json:"content"`
	AuthorID      string    `json:"author_id"`
	AuthorName    string    `json:"author_username"`
	CreatedAt     time.Time `json:"created_at"`
	ReplyToID     string    `json:"reply_to_id,omitempty"`
	QuoteID       string    `json:"quote_id,omitempty"`
	ThreadHistory []Tweet   `json:"thread_history,omitempty"`
}

// TradingSafetyState holds per-agent daily trading counters
type TradingSafetyState struct {
	AgentID     string          `json:"agent_id" db:"agent_id"`
	TradesToday int             `json:"trades_today" db:"trades_today"`
	VolumeToday decimal.Decimal `json:"volume_today" db:"volume_today"`
	LastTradeAt time.Time       `json:"last_trade_at" db:"last_trade_at"`
	DayStart    time.Time       `json:"day_start" db:"day_start"`
}

// TokenLaunchState is the one-shot record of an agent's token launch
type TokenLaunchState struct {
	Launched    bool      `json:"launched"`
	MintAddress string    `json:"mint_address,omitempty"`
	LaunchedAt  time.Time `json:"launched_at,omitempty"`
	Link        string    `json:"link,omitempty"`
}

// AgentState is the runtime state machine position of one agent
type AgentState string

const (
	StateIdle      AgentState = "idle"
	StateComposing AgentState = "composing"
	StateReacting  AgentState = "reacting"
	StateTrading   AgentState = "trading"
	StateCooling   AgentState = "cooling"
	StateStopped   AgentState = "stopped"
)

// TwitterCredentials identify one microblog credential set
type TwitterCredentials struct {
	APIKey            string `json:"api_key"`
	APISecret         string `json:"api_secret"`
	AccessToken       string `json:"access_token"`
	AccessTokenSecret string `json:"access_token_secret"`
	BearerToken       string `json:"bearer_token"`
}

// Configured reports whether the credential set is usable
func (c *TwitterCredentials) Configured() bool {
	return c != nil && c.APIKey != "" && c.AccessToken != ""
}

// SolanaIntegration holds per-agent chain settings
type SolanaIntegration struct {
	RPCURL      string `json:"rpc_url,omitempty"`
	PrivateKey  string `json:"private_key,omitempty"`
	Wallet      string `json:"wallet_address,omitempty"`
	Simulation  bool   `json:"simulation"`
	LaunchToken bool   `json:"launch_token"`
}

// InitialMemory seeds an agent's memory store on first start
type InitialMemory struct {
	CoreMemories  []string          `json:"core_memories"`
	Relationships map[string]string `json:"relationships"`
	RecentEvents  []string          `json:"recent_events"`
}

const MaxRotatingPrompts = 8

// Agent is a persistent persona. Created at configuration load,
// destroyed only on removal. Its mood and memory are owned exclusively
// by its runtime actor.
type Agent struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	Description        string              `json:"description"`
	Personality        Personality         `json:"personality"`
	Style              StyleGuide          `json:"style_guide"`
	Behavior           Behavior            `json:"behavior"`
	CustomPrompt       string              `json:"custom_system_prompt,omitempty"`
	RotatingPrompts    []string            `json:"rotating_system_prompts,omitempty"`
	InitialMemory      InitialMemory       `json:"initial_memory"`
	LLMProvider        string              `json:"llm_provider,omitempty"`
	TwitterCredentials *TwitterCredentials `json:"twitter_credentials,omitempty"`
	SolanaIntegration  *SolanaIntegration  `json:"solana_integration,omitempty"`
	LastPostTime       time.Time           `json:"last_post_time"`
	Active             bool                `json:"active"`
}

// Validate checks the whole agent document
func (a *Agent) Validate() error {
	if err := ValidateAgentID(a.ID); err != nil {
		return err
	}
	if a.Name == "" {
		return fmt.Errorf("agent %s: name is required", a.ID)
	}
	if len(a.RotatingPrompts) > MaxRotatingPrompts {
		return fmt.Errorf("agent %s: too many rotating prompts: %d (max %d)", a.ID, len(a.RotatingPrompts), MaxRotatingPrompts)
	}
	if err := a.Personality.Validate(); err != nil {
		return fmt.Errorf("agent %s: %w", a.ID, err)
	}
	if err := a.Style.Validate(); err != nil {
		return fmt.Errorf("agent %s: %w", a.ID, err)
	}
	if err := a.Behavior.Trading.Validate(); err != nil {
		return fmt.Errorf("agent %s: %w", a.ID, err)
	}
	switch a.Behavior.MentionMode {
	case "", MentionAuto, MentionStream, MentionPoll:
	default:
		return fmt.Errorf("agent %s: invalid mention_mode: %q", a.ID, a.Behavior.MentionMode)
	}
	return nil
}

// PublicSummary is the capability handle other components may read.
// It never exposes mood, memory, or credentials.
type PublicSummary struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	State       AgentState `json:"state"`
	LastPost    time.Time  `json:"last_post_time"`
	Active      bool       `json:"active"`
}
