package gates

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// TradeRequest is one proposed swap presented to the safety gate
type TradeRequest struct {
	AgentID        string
	InputMint      string
	OutputMint     string
	Amount         decimal.Decimal
	SlippageBps    int
	PriceImpactPct decimal.Decimal // quoted price impact as a fraction, e.g. 0.005 = 0.5%
	WalletBalance  decimal.Decimal
	Trending       []string // currently trending mints, allowed alongside the static list
	HumanRequest   bool     // true when the trade was requested by another account
}

// SafetyStore persists trading counters across restarts
type SafetyStore interface {
	LoadSafetyState(ctx context.Context, agentID string) (*models.TradingSafetyState, error)
	SaveSafetyState(ctx context.Context, state *models.TradingSafetyState) error
}

// TradingGate enforces every safety limit before a swap is submitted.
// Counters increment atomically under Reserve before the swap goes
// out; a failed swap rolls them back, so a crash can overcount but
// never undercount.
type TradingGate struct {
	mu    sync.Mutex
	state map[string]*models.TradingSafetyState
	store SafetyStore
	now   func() time.Time
}

// NewTradingGate creates an empty gate
func NewTradingGate(store SafetyStore) *TradingGate {
	return &TradingGate{
		state: make(map[string]*models.TradingSafetyState),
		store: store,
		now:   time.Now,
	}
}

// Load hydrates one agent's counters from persistence
func (g *TradingGate) Load(ctx context.Context, agentID string) error {
	if g.store == nil {
		return nil
	}
	state, err := g.store.LoadSafetyState(ctx, agentID)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.state[agentID] = state
	g.mu.Unlock()
	return nil
}

// Reserve validates every limit and, on success, increments the daily
// counters before the caller submits the swap. Each failed check
// returns a granular denial naming the limit.
func (g *TradingGate) Reserve(ctx context.Context, behavior *models.TradingBehavior, req *TradeRequest) error {
	if behavior == nil || !behavior.Enabled {
		return Deny(models.DenialTradingOff, 0, "trading is not enabled for this agent")
	}

	if req.HumanRequest && behavior.IgnoreHumanTradeRequests {
		return Deny(models.DenialHumanRequest, 0, "trade requests from other accounts are ignored")
	}

	if err := checkToken(behavior, req.OutputMint, req.Trending); err != nil {
		return err
	}

	if !behavior.MaxTradeAmount.IsZero() && req.Amount.GreaterThan(behavior.MaxTradeAmount) {
		return Deny(models.DenialTradeAmount, 0,
			fmt.Sprintf("amount %s exceeds per-trade cap %s", req.Amount, behavior.MaxTradeAmount))
	}

	if !behavior.MinWalletBalance.IsZero() {
		remaining := req.WalletBalance.Sub(req.Amount)
		if remaining.LessThan(behavior.MinWalletBalance) {
			return Deny(models.DenialWalletReserve, 0,
				fmt.Sprintf("trade would leave %s, reserve is %s", remaining, behavior.MinWalletBalance))
		}
	}

	if behavior.MaxSlippagePercent > 0 {
		maxBps := int(behavior.MaxSlippagePercent * 100)
		if req.SlippageBps > maxBps {
			return Deny(models.DenialSlippage, 0,
				fmt.Sprintf("slippage %d bps exceeds cap %d bps", req.SlippageBps, maxBps))
		}
		impactPct := req.PriceImpactPct.Mul(decimal.NewFromInt(100))
		if impactPct.GreaterThan(decimal.NewFromFloat(behavior.MaxSlippagePercent)) {
			return Deny(models.DenialSlippage, 0,
				fmt.Sprintf("quoted price impact %s%% exceeds cap %.2f%%", impactPct, behavior.MaxSlippagePercent))
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.stateLocked(req.AgentID)
	g.resetIfNewDayLocked(state)

	if behavior.MaxDailyTrades > 0 && state.TradesToday >= behavior.MaxDailyTrades {
		return Deny(models.DenialDailyTrades, g.untilMidnight(),
			fmt.Sprintf("%d trades already executed today", state.TradesToday))
	}

	if !behavior.MaxDailyVolume.IsZero() {
		projected := state.VolumeToday.Add(req.Amount)
		if projected.GreaterThan(behavior.MaxDailyVolume) {
			return Deny(models.DenialDailyVolume, g.untilMidnight(),
				fmt.Sprintf("daily volume %s + %s exceeds cap %s", state.VolumeToday, req.Amount, behavior.MaxDailyVolume))
		}
	}

	// reserve before submission
	state.TradesToday++
	state.VolumeToday = state.VolumeToday.Add(req.Amount)
	state.LastTradeAt = g.now()
	g.persistLocked(ctx, state)

	logger.Debug("trade reserved",
		zap.String("agent", req.AgentID),
		zap.Int("trades_today", state.TradesToday),
		zap.String("volume_today", state.VolumeToday.String()),
	)
	return nil
}

// Rollback undoes a reservation after the swap itself failed
func (g *TradingGate) Rollback(ctx context.Context, agentID string, amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.stateLocked(agentID)
	if state.TradesToday > 0 {
		state.TradesToday--
	}
	state.VolumeToday = state.VolumeToday.Sub(amount)
	if state.VolumeToday.IsNegative() {
		state.VolumeToday = decimal.Zero
	}
	g.persistLocked(ctx, state)

	logger.Debug("trade reservation rolled back", zap.String("agent", agentID))
}

// State returns a copy of the agent's counters
func (g *TradingGate) State(agentID string) models.TradingSafetyState {
	g.mu.Lock()
	defer g.mu.Unlock()

	state := g.stateLocked(agentID)
	g.resetIfNewDayLocked(state)
	return *state
}

// checkToken admits a mint when it is on the allow list or currently
// trending, and never when blacklisted. The blacklist wins over both.
func checkToken(behavior *models.TradingBehavior, mint string, trending []string) error {
	for _, blocked := range behavior.BlacklistedTokens {
		if strings.EqualFold(blocked, mint) {
			return Deny(models.DenialTokenNotListed, 0, fmt.Sprintf("token %s is blacklisted", mint))
		}
	}
	if len(behavior.AllowedTokens) > 0 {
		for _, allowed := range behavior.AllowedTokens {
			if strings.EqualFold(allowed, mint) {
				return nil
			}
		}
		for _, hot := range trending {
			if strings.EqualFold(hot, mint) {
				return nil
			}
		}
		return Deny(models.DenialTokenNotListed, 0, fmt.Sprintf("token %s is neither allow-listed nor trending", mint))
	}
	return nil
}

func (g *TradingGate) stateLocked(agentID string) *models.TradingSafetyState {
	state, ok := g.state[agentID]
	if !ok {
		state = &models.TradingSafetyState{
			AgentID:     agentID,
			VolumeToday: decimal.Zero,
			DayStart:    startOfDayUTC(g.now()),
		}
		g.state[agentID] = state
	}
	return state
}

// resetIfNewDayLocked zeroes the counters when the UTC day rolled over
func (g *TradingGate) resetIfNewDayLocked(state *models.TradingSafetyState) {
	today := startOfDayUTC(g.now())
	if state.DayStart.Before(today) {
		state.TradesToday = 0
		state.VolumeToday = decimal.Zero
		state.DayStart = today
	}
}

func (g *TradingGate) persistLocked(ctx context.Context, state *models.TradingSafetyState) {
	if g.store == nil {
		return
	}
	if err := g.store.SaveSafetyState(ctx, state); err != nil {
		logger.Warn("⚠️ Failed to persist trading counters",
			zap.String("agent", state.AgentID),
			zap.Error(err),
		)
	}
}

func (g *TradingGate) untilMidnight() time.Duration {
	now := g.now().UTC()
	return startOfDayUTC(now).Add(24 * time.Hour).Sub(now)
}

func startOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
