package models

import (
	"time"
)

// EventPriority orders dispatch. Higher values overtake lower ones.
type EventPriority int

const (
	PriorityLow EventPriority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// String returns the wire name of the priority
func (p EventPriority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	}
	return "normal"
}

// ParsePriority maps a wire name to a priority, defaulting to normal
func ParsePriority(s string) EventPriority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// Event type tags
const (
	EventMentionReceived    = "mention_received"
	EventSelfPosted         = "self.posted"
	EventPostTick           = "post_tick"
	EventTradeTick          = "trade_tick"
	EventManualPost         = "manual_post"
	EventManualReply        = "manual_reply"
	EventMoodShift          = "mood_shift"
	EventTradeExecuted      = "trade_executed"
	EventTradeDenied        = "trade_denied"
	EventDebugInject        = "debug_inject"
	EventShutdown           = "shutdown"
)

// MentionPayload is carried by mention_received events
type MentionPayload struct {
	Tweet Tweet `json:"tweet"`
}

// ManualPostPayload is carried by manual_post events
type ManualPostPayload struct {
	Context string `json:"context,omitempty"`
	Force   bool   `json:"force,omitempty"`
}

// ManualReplyPayload is carried by manual_reply events
type ManualReplyPayload struct {
	TweetID string `json:"tweet_id"`
	Content string `json:"content,omitempty"`
}

// MoodShiftPayload is carried by mood_shift events
type MoodShiftPayload struct {
	Shift MoodShift `json:"shift"`
}

// SelfPostPayload is carried by self.posted events
type SelfPostPayload struct {
	AgentID string `json:"agent_id"`
	TweetID string `json:"tweet_id"`
	Text    string `json:"text"`
}

// TradePayload is carried by trade_executed and trade_denied events
type TradePayload struct {
	TokenMint    string       `json:"token_mint"`
	Amount       string       `json:"amount"`
	Signature    string       `json:"signature,omitempty"`
	Simulated    bool         `json:"simulated"`
	DenialReason DenialReason `json:"denial_reason,omitempty"`
}

// Event is the unit of cross-component communication. Payloads are
// tagged variants; the Data map escape hatch exists only for
// debug_inject events.
type Event struct {
	ID           string              `json:"id"`
	Type         string              `json:"type"`
	Mention      *MentionPayload     `json:"mention,omitempty"`
	SelfPost     *SelfPostPayload    `json:"self_post,omitempty"`
	ManualPost   *ManualPostPayload  `json:"manual_post,omitempty"`
	ManualReply  *ManualReplyPayload `json:"manual_reply,omitempty"`
	MoodShift    *MoodShiftPayload   `json:"mood_shift,omitempty"`
	Trade        *TradePayload       `json:"trade,omitempty"`
	Data         map[string]any      `json:"data,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	ScheduledFor time.Time           `json:"scheduled_for,omitempty"`
	Priority     EventPriority       `json:"priority"`
	TargetAgents []string            `json:"target_agents,omitempty"` // empty = broadcast
	Attempts     int                 `json:"attempts"`
}

// Targets reports whether the event addresses the given agent
func (e *Event) Targets(agentID string) bool {
	if len(e.TargetAgents) == 0 {
		return true
	}
	for _, id := range e.TargetAgents {
		if id == agentID {
			return true
		}
	}
	return false
}
