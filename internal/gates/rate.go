package gates

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Platform write budget: 300 requests per 15-minute window per
// credential set, with a one-post-per-minute floor on top so a burst
// never drains the whole window at once.
const (
	windowCalls  = 300
	windowLength = 15 * time.Minute
	postFloor    = time.Minute
)

// RateGate enforces per-credential, per-channel platform budgets.
// Channels keep independent budgets (posting does not starve mention
// reads).
type RateGate struct {
	mu       sync.Mutex
	limiters map[string]*channelLimiter
}

type channelLimiter struct {
	window *rate.Limiter
	floor  *rate.Limiter
}

// NewRateGate creates an empty gate
func NewRateGate() *RateGate {
	return &RateGate{limiters: make(map[string]*channelLimiter)}
}

// Allow reports whether one call may go out now for the given
// credential and channel. When denied it returns how long to wait.
func (g *RateGate) Allow(credential, channel string) (bool, time.Duration) {
	lim := g.limiterFor(credential, channel)

	now := time.Now()
	windowRes := lim.window.ReserveN(now, 1)
	if !windowRes.OK() {
		return false, windowLength
	}
	if delay := windowRes.DelayFrom(now); delay > 0 {
		windowRes.CancelAt(now)
		return false, delay
	}

	if lim.floor != nil {
		floorRes := lim.floor.ReserveN(now, 1)
		if delay := floorRes.DelayFrom(now); delay > 0 {
			floorRes.CancelAt(now)
			windowRes.CancelAt(now)
			return false, delay
		}
	}

	return true, 0
}

func (g *RateGate) limiterFor(credential, channel string) *channelLimiter {
	key := credential + "/" + channel

	g.mu.Lock()
	defer g.mu.Unlock()

	lim, ok := g.limiters[key]
	if !ok {
		lim = &channelLimiter{
			window: rate.NewLimiter(rate.Every(windowLength/windowCalls), windowCalls),
		}
		// only the posting channel carries the per-minute floor
		if channel == ChannelPost {
			lim.floor = rate.NewLimiter(rate.Every(postFloor), 1)
		}
		g.limiters[key] = lim
	}
	return lim
}

// Channel names for rate budgeting
const (
	ChannelPost     = "post"
	ChannelMentions = "mentions"
	ChannelRead     = "read"
)
