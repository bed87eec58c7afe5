package gates

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// Denial describes a rejected outbound action
type Denial struct {
	Reason     models.DenialReason
	RetryAfter time.Duration
	Detail     string
}

func (d *Denial) Error() string {
	if d.Detail != "" {
		return fmt.Sprintf("denied (%s): %s", d.Reason, d.Detail)
	}
	return fmt.Sprintf("denied (%s)", d.Reason)
}

// DenialOf extracts a Denial from an error chain, or nil
func DenialOf(err error) *Denial {
	var d *Denial
	if errors.As(err, &d) {
		return d
	}
	return nil
}

// Deny wraps a denial in the error taxonomy
func Deny(reason models.DenialReason, retryAfter time.Duration, detail string) error {
	return models.NewKindError(models.KindGateDenied, &Denial{
		Reason:     reason,
		RetryAfter: retryAfter,
		Detail:     detail,
	})
}

// CadenceGate enforces each agent's minimum spacing between
// self-initiated posts. Replies to mentions and forced operator posts
// bypass it; the platform budget still applies to those.
type CadenceGate struct {
	mu       sync.Mutex
	lastPost map[string]time.Time
	now      func() time.Time
}

// NewCadenceGate creates an empty cadence gate
func NewCadenceGate() *CadenceGate {
	return &CadenceGate{
		lastPost: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Allow checks the agent's minimum post spacing. force bypasses the
// check but still records nothing; call Record after a successful send.
func (g *CadenceGate) Allow(agentID string, minBetween time.Duration, force bool) error {
	if force {
		return nil
	}

	g.mu.Lock()
	last, ok := g.lastPost[agentID]
	g.mu.Unlock()

	if !ok {
		return nil
	}

	elapsed := g.now().Sub(last)
	if elapsed < minBetween {
		return Deny(models.DenialTooSoon, minBetween-elapsed,
			fmt.Sprintf("last post %s ago, minimum spacing %s", elapsed.Round(time.Second), minBetween))
	}
	return nil
}

// Record marks a successful self-post for cadence accounting
func (g *CadenceGate) Record(agentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastPost[agentID] = g.now()
}

// LastPost returns when the agent last posted, if ever
func (g *CadenceGate) LastPost(agentID string) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.lastPost[agentID]
	return last, ok
}

// IdempotencyKey derives a stable key for one outbound action. The
// same agent, action kind, triggering context and local sequence
// always produce the same key, so a blind retry after an ambiguous
// failure can be deduplicated downstream.
func IdempotencyKey(agentID, actionKind, contextDigest string, sequence uint64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d", agentID, actionKind, contextDigest, sequence)
	return hex.EncodeToString(h.Sum(nil))
}

// ContextDigest hashes the free-form context that triggered an action
func ContextDigest(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}
