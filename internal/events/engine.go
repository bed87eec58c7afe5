package events

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
	"github.com/actuallyrizzn/puppet-engine/pkg/metrics"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// Handler processes a dispatched event. Handlers for the same lane are
// invoked serially in dispatch order; handlers across lanes run
// concurrently.
type Handler func(ctx context.Context, event *models.Event)

// Wildcard subscribes a handler to every event type
const Wildcard = "*"

const (
	// HistorySize bounds the archived event ring
	HistorySize = 1000
	// HighWaterMark is the soft queue cap; above it low-priority
	// events are dropped
	HighWaterMark = 10000
	// laneBuffer bounds each serial lane's pending deliveries
	laneBuffer = 256
)

type subscription struct {
	eventType string
	lane      string // serialization key, usually an agent id
	handler   Handler
}

// Engine delivers prioritized events to subscribers with support for
// deferred execution and per-lane ordering.
type Engine struct {
	mu      sync.Mutex
	queue   eventQueue
	pending timerHeap
	seq     uint64

	subsMu sync.RWMutex
	subs   map[string][]subscription

	lanesMu sync.Mutex
	lanes   map[string]chan delivery

	histMu  sync.Mutex
	history []*models.Event

	canceled map[string]bool

	metricsBuf metrics.Buffer // optional

	wake   chan struct{}
	notify chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type delivery struct {
	event   *models.Event
	handler Handler
}

// New creates a new event engine. metricsBuf may be nil.
func New(ctx context.Context, metricsBuf metrics.Buffer) *Engine {
	ctx, cancel := context.WithCancel(ctx)
	e := &Engine{
		subs:       make(map[string][]subscription),
		lanes:      make(map[string]chan delivery),
		canceled:   make(map[string]bool),
		metricsBuf: metricsBuf,
		wake:       make(chan struct{}, 1),
		notify:     make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
	}
	heap.Init(&e.queue)
	heap.Init(&e.pending)

	e.wg.Add(2)
	go e.timerLoop()
	go e.dispatchLoop()

	return e
}

// Enqueue puts an event on the immediate dispatch path. A missing id
// or creation time is filled in.
func (e *Engine) Enqueue(event *models.Event) {
	e.prepare(event)

	e.mu.Lock()
	if e.queue.Len() >= HighWaterMark && event.Priority <= models.PriorityLow {
		e.mu.Unlock()
		logger.Warn("event queue above high-water mark, dropping low-priority event",
			zap.String("type", event.Type),
			zap.String("event_id", event.ID),
		)
		e.recordQueueMetric(event, true)
		return
	}
	e.seq++
	heap.Push(&e.queue, &queuedEvent{event: event, seq: e.seq})
	e.mu.Unlock()

	e.recordQueueMetric(event, false)
	e.signal(e.notify)
}

// Schedule defers an event by delay before it enters the dispatch queue
func (e *Engine) Schedule(event *models.Event, delay time.Duration) {
	e.prepare(event)
	event.ScheduledFor = time.Now().Add(delay)

	e.mu.Lock()
	heap.Push(&e.pending, &queuedEvent{event: event})
	e.mu.Unlock()

	e.signal(e.wake)
}

// Cancel removes a scheduled, not-yet-due event by id. Returns whether
// the event was found pending.
func (e *Engine) Cancel(eventID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, qe := range e.pending {
		if qe.event.ID == eventID {
			heap.Remove(&e.pending, i)
			return true
		}
	}
	// In-flight events observe advisory cancellation
	e.canceled[eventID] = true
	return false
}

// Canceled reports whether an in-flight event was advisory-canceled
func (e *Engine) Canceled(eventID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.canceled[eventID]
}

// Subscribe registers a handler for one event type. lane is the
// serialization key: all deliveries sharing a lane run in order, one at
// a time. Use the agent id so one agent never handles two events at
// once. An empty lane runs the handler on a shared unordered lane.
func (e *Engine) Subscribe(eventType, lane string, handler Handler) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	e.subs[eventType] = append(e.subs[eventType], subscription{
		eventType: eventType,
		lane:      lane,
		handler:   handler,
	})
}

// SubscribeAll registers a wildcard handler receiving every type
func (e *Engine) SubscribeAll(lane string, handler Handler) {
	e.Subscribe(Wildcard, lane, handler)
}

// History returns a copy of the archived event ring, most recent last
func (e *Engine) History() []*models.Event {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	out := make([]*models.Event, len(e.history))
	copy(out, e.history)
	return out
}

// QueueLen returns the current dispatch queue depth
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Len()
}

// Stop shuts the engine down and waits for loops to exit
func (e *Engine) Stop() {
	e.cancel()
	e.wg.Wait()

	e.lanesMu.Lock()
	for _, lane := range e.lanes {
		close(lane)
	}
	e.lanes = make(map[string]chan delivery)
	e.lanesMu.Unlock()

	logger.Info("🛑 Event engine stopped")
}

func (e *Engine) prepare(event *models.Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
}

func (e *Engine) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// timerLoop moves due scheduled events into the dispatch queue. It
// wakes at the earliest scheduled time or when a sooner event arrives.
func (e *Engine) timerLoop() {
	defer e.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		e.mu.Lock()
		var wait time.Duration = time.Hour
		now := time.Now()
		for e.pending.Len() > 0 {
			next := e.pending[0]
			if next.event.ScheduledFor.After(now) {
				wait = time.Until(next.event.ScheduledFor)
				break
			}
			heap.Pop(&e.pending)
			e.seq++
			heap.Push(&e.queue, &queuedEvent{event: next.event, seq: e.seq})
		}
		moved := e.queue.Len() > 0
		e.mu.Unlock()

		if moved {
			e.signal(e.notify)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-e.ctx.Done():
			return
		case <-timer.C:
		case <-e.wake:
		}
	}
}

// dispatchLoop pulls from the priority queue and fans events out to
// matching subscriber lanes.
func (e *Engine) dispatchLoop() {
	defer e.wg.Done()

	for {
		e.mu.Lock()
		var event *models.Event
		if e.queue.Len() > 0 {
			event = heap.Pop(&e.queue).(*queuedEvent).event
		}
		e.mu.Unlock()

		if event == nil {
			select {
			case <-e.ctx.Done():
				return
			case <-e.notify:
				continue
			}
		}

		e.dispatch(event)
		e.archive(event)
	}
}

func (e *Engine) dispatch(event *models.Event) {
	e.subsMu.RLock()
	matched := make([]subscription, 0, 4)
	matched = append(matched, e.subs[event.Type]...)
	matched = append(matched, e.subs[Wildcard]...)
	e.subsMu.RUnlock()

	if len(matched) == 0 {
		logger.Debug("no subscribers for event",
			zap.String("type", event.Type),
		)
		return
	}

	event.Attempts++
	for _, sub := range matched {
		// A lane bound to an agent only receives events that
		// target that agent; this is what preserves per-agent
		// total order without serializing the whole fleet.
		if sub.lane != "" && !event.Targets(sub.lane) {
			continue
		}
		e.deliver(sub, event)
	}
}

func (e *Engine) deliver(sub subscription, event *models.Event) {
	lane := e.laneFor(sub.lane)
	select {
	case lane <- delivery{event: event, handler: sub.handler}:
	case <-e.ctx.Done():
	}
}

func (e *Engine) laneFor(name string) chan delivery {
	e.lanesMu.Lock()
	defer e.lanesMu.Unlock()

	if lane, ok := e.lanes[name]; ok {
		return lane
	}
	lane := make(chan delivery, laneBuffer)
	e.lanes[name] = lane
	e.wg.Add(1)
	go e.runLane(lane)
	return lane
}

func (e *Engine) runLane(lane chan delivery) {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case d, ok := <-lane:
			if !ok {
				return
			}
			if e.Canceled(d.event.ID) {
				continue
			}
			d.handler(e.ctx, d.event)
		}
	}
}

func (e *Engine) archive(event *models.Event) {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	e.history = append(e.history, event)
	if len(e.history) > HistorySize {
		e.history = e.history[len(e.history)-HistorySize:]
	}
}

func (e *Engine) recordQueueMetric(event *models.Event, dropped bool) {
	if e.metricsBuf == nil {
		return
	}
	_ = e.metricsBuf.Add(&metrics.EventQueueMetric{
		Timestamp: time.Now(),
		QueueLen:  e.QueueLen(),
		Dropped:   dropped,
		EventType: event.Type,
		Priority:  event.Priority.String(),
	})
}
