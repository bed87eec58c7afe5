package metrics

import "time"

// OutboundActionMetric records every action that left (or tried to leave)
// the system through the outbound gates.
type OutboundActionMetric struct {
	Timestamp  time.Time
	AgentID    string
	ActionKind string // post, reply, quote, like, retweet, swap
	Accepted   bool
	Denial     string // empty when accepted
	LatencyMs  int
	Chars      int
}

func (m *OutboundActionMetric) TableName() string {
	return "outbound_action_metrics"
}

func (m *OutboundActionMetric) Values() []interface{} {
	return []interface{}{
		m.Timestamp,
		m.AgentID,
		m.ActionKind,
		m.Accepted,
		m.Denial,
		m.LatencyMs,
		m.Chars,
	}
}

// ProviderCallMetric records language-model provider invocations
type ProviderCallMetric struct {
	Timestamp time.Time
	AgentID   string
	Provider  string
	Task      string
	Attempt   int
	Success   bool
	LatencyMs int
}

func (m *ProviderCallMetric) TableName() string {
	return "provider_call_metrics"
}

func (m *ProviderCallMetric) Values() []interface{} {
	return []interface{}{
		m.Timestamp,
		m.AgentID,
		m.Provider,
		m.Task,
		m.Attempt,
		m.Success,
		m.LatencyMs,
	}
}

// EventQueueMetric records queue pressure, including low-priority drops
type EventQueueMetric struct {
	Timestamp time.Time
	QueueLen  int
	Dropped   bool
	EventType string
	Priority  string
}

func (m *EventQueueMetric) TableName() string {
	return "event_queue_metrics"
}

func (m *EventQueueMetric) Values() []interface{} {
	return []interface{}{
		m.Timestamp,
		m.QueueLen,
		m.Dropped,
		m.EventType,
		m.Priority,
	}
}
