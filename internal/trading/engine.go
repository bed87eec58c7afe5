package trading

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/market"
	"github.com/actuallyrizzn/puppet-engine/internal/adapters/solana"
	"github.com/actuallyrizzn/puppet-engine/internal/events"
	"github.com/actuallyrizzn/puppet-engine/internal/gates"
	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

const (
	defaultSlippageBps = 100
	trendingWindow     = 3 // trending candidates considered per decision
)

// Ledger records executed trades
type Ledger interface {
	RecordTrade(ctx context.Context, agentID, inputMint, outputMint string, amount decimal.Decimal, signature string, simulated bool) error
}

// Quoter prices swaps and builds their transactions
type Quoter interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amountSOL decimal.Decimal, slippageBps int) (*solana.Quote, error)
	BuildSwap(ctx context.Context, quote *solana.Quote, wallet string) (string, error)
}

// Engine decides and executes swaps for the fleet. Every execution is
// quoted first, then passes the safety gate with the quote's price
// impact; the gate's counters are reserved before submission and
// rolled back when the swap itself fails.
type Engine struct {
	jupiter Quoter
	tracker *market.Tracker
	gate    *gates.TradingGate
	ledger  Ledger
	engine  *events.Engine

	mu        sync.Mutex
	clients   map[string]*solana.Client
	lastTrade map[string]time.Time
	rng       *rand.Rand
}

// NewEngine creates the fleet trading engine
func NewEngine(jupiter Quoter, tracker *market.Tracker, gate *gates.TradingGate, ledger Ledger, eventEngine *events.Engine) *Engine {
	return &Engine{
		jupiter:   jupiter,
		tracker:   tracker,
		gate:      gate,
		ledger:    ledger,
		engine:    eventEngine,
		clients:   make(map[string]*solana.Client),
		lastTrade: make(map[string]time.Time),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Register binds an agent to its signing client
func (e *Engine) Register(agentID string, client *solana.Client) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clients[agentID] = client
}

// Client returns the signing client for an agent
func (e *Engine) Client(agentID string) (*solana.Client, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	client, ok := e.clients[agentID]
	return client, ok
}

// EvaluateTick decides whether the agent trades now. Both conditions
// must hold: enough time has passed since the last trade, and the
// agent's trade coin-flip comes up. Returns the executed trade or nil
// when the agent sat the tick out.
func (e *Engine) EvaluateTick(ctx context.Context, agent *models.Agent, mood models.Mood) (*models.TradePayload, error) {
	behavior := &agent.Behavior.Trading
	if !behavior.Enabled {
		return nil, nil
	}

	e.mu.Lock()
	last := e.lastTrade[agent.ID]
	roll := e.rng.Float64()
	e.mu.Unlock()

	minGap := time.Duration(behavior.MinHoursBetweenTrades * float64(time.Hour))
	if !last.IsZero() && time.Since(last) < minGap {
		return nil, nil
	}
	if roll >= behavior.RandomProbability {
		logger.Debug("trade tick skipped by probability", zap.String("agent", agent.ID))
		return nil, nil
	}

	mint := e.pickToken(agent, mood)
	if mint == "" {
		logger.Debug("no trade candidate", zap.String("agent", agent.ID))
		return nil, nil
	}

	amount := e.pickAmount(behavior, mood)
	return e.Execute(ctx, agent, mint, amount, false)
}

// Execute runs one swap end to end: balance check, quote, safety gate,
// build, sign, submit, ledger. The quote comes before the gate so the
// gate judges the route's actual price impact, not a nominal slippage
// setting. humanRequest marks trades asked for by other accounts so
// the gate can refuse them per config.
func (e *Engine) Execute(ctx context.Context, agent *models.Agent, outputMint string, amount decimal.Decimal, humanRequest bool) (*models.TradePayload, error) {
	client, ok := e.Client(agent.ID)
	if !ok {
		return nil, models.NewKindError(models.KindPermanent,
			fmt.Errorf("agent %s has no solana client", agent.ID))
	}

	balance, err := client.GetBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("balance check failed: %w", err)
	}

	quote, err := e.jupiter.GetQuote(ctx, solana.SOLMint, outputMint, amount, defaultSlippageBps)
	if err != nil {
		return nil, fmt.Errorf("quote failed: %w", err)
	}

	req := &gates.TradeRequest{
		AgentID:        agent.ID,
		InputMint:      solana.SOLMint,
		OutputMint:     outputMint,
		Amount:         amount,
		SlippageBps:    quote.SlippageBps,
		PriceImpactPct: quote.PriceImpact(),
		WalletBalance:  balance,
		Trending:       e.trendingMints(),
		HumanRequest:   humanRequest,
	}
	if req.SlippageBps == 0 {
		req.SlippageBps = defaultSlippageBps
	}
	if err := e.gate.Reserve(ctx, &agent.Behavior.Trading, req); err != nil {
		e.emitDenied(agent.ID, outputMint, err)
		return nil, err
	}

	payload, err := e.submit(ctx, client, quote, outputMint, amount)
	if err != nil {
		e.gate.Rollback(ctx, agent.ID, amount)
		return nil, err
	}

	e.mu.Lock()
	e.lastTrade[agent.ID] = time.Now()
	e.mu.Unlock()

	if e.ledger != nil {
		if err := e.ledger.RecordTrade(ctx, agent.ID, solana.SOLMint, outputMint, amount, payload.Signature, payload.Simulated); err != nil {
			logger.Warn("⚠️ Failed to record trade", zap.String("agent", agent.ID), zap.Error(err))
		}
	}

	e.engine.Enqueue(&models.Event{
		Type:         models.EventTradeExecuted,
		Trade:        payload,
		Priority:     models.PriorityNormal,
		TargetAgents: []string{agent.ID},
	})

	logger.Info("🚀 Trade executed",
		zap.String("agent", agent.ID),
		zap.String("token", outputMint),
		zap.String("amount", amount.String()),
		zap.Bool("simulated", payload.Simulated),
	)
	return payload, nil
}

func (e *Engine) submit(ctx context.Context, client *solana.Client, quote *solana.Quote, outputMint string, amount decimal.Decimal) (*models.TradePayload, error) {
	if client.Simulation() {
		sig, err := client.SendTransaction(ctx, "")
		if err != nil {
			return nil, err
		}
		return &models.TradePayload{
			TokenMint: outputMint,
			Amount:    amount.String(),
			Signature: sig,
			Simulated: true,
		}, nil
	}

	tx, err := e.jupiter.BuildSwap(ctx, quote, client.Wallet())
	if err != nil {
		return nil, fmt.Errorf("swap build failed: %w", err)
	}

	sig, err := client.SendTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("swap submit failed: %w", err)
	}

	return &models.TradePayload{
		TokenMint: outputMint,
		Amount:    amount.String(),
		Signature: sig,
	}, nil
}

// pickToken walks the agent's decision factors in order until one
// yields a candidate.
func (e *Engine) pickToken(agent *models.Agent, mood models.Mood) string {
	behavior := &agent.Behavior.Trading

	for _, factor := range behavior.DecisionFactors {
		switch factor {
		case models.FactorTrendingTokens:
			if trending := e.tracker.Trending(trendingWindow); len(trending) > 0 {
				return e.pickFrom(trending)
			}
		case models.FactorTopGainers:
			if gainers := e.tracker.TopGainers(3); len(gainers) > 0 {
				return e.pickFrom(gainers)
			}
		case models.FactorRandomSelection:
			if len(behavior.AllowedTokens) > 0 {
				e.mu.Lock()
				mint := behavior.AllowedTokens[e.rng.Intn(len(behavior.AllowedTokens))]
				e.mu.Unlock()
				return mint
			}
		case models.FactorMood:
			// an agitated or euphoric agent chases the top gainer;
			// a flat one sits out this factor
			if mood.Arousal > 0.3 {
				if gainers := e.tracker.TopGainers(1); len(gainers) > 0 {
					return gainers[0].Mint
				}
			}
		}
	}
	return ""
}

func (e *Engine) pickFrom(signals []market.TokenSignal) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return signals[e.rng.Intn(len(signals))].Mint
}

// trendingMints lists the mints the gate should admit beyond the
// static allow list.
func (e *Engine) trendingMints() []string {
	if e.tracker == nil {
		return nil
	}
	signals := e.tracker.Trending(trendingWindow)
	mints := make([]string, 0, len(signals))
	for _, signal := range signals {
		mints = append(mints, signal.Mint)
	}
	return mints
}

// pickAmount scales the trade size by mood: positive valence trades
// closer to the cap, negative valence stays small.
func (e *Engine) pickAmount(behavior *models.TradingBehavior, mood models.Mood) decimal.Decimal {
	cap := behavior.MaxTradeAmount
	if cap.IsZero() {
		cap = decimal.NewFromFloat(0.1)
	}

	e.mu.Lock()
	base := 0.25 + 0.5*e.rng.Float64()
	e.mu.Unlock()

	scale := base + 0.25*mood.Valence
	if scale > 1 {
		scale = 1
	}
	if scale < 0.1 {
		scale = 0.1
	}
	return cap.Mul(decimal.NewFromFloat(scale)).Round(6)
}

func (e *Engine) emitDenied(agentID, mint string, err error) {
	payload := &models.TradePayload{TokenMint: mint}
	if denial := gates.DenialOf(err); denial != nil {
		payload.DenialReason = denial.Reason
	}
	e.engine.Enqueue(&models.Event{
		Type:         models.EventTradeDenied,
		Trade:        payload,
		Priority:     models.PriorityLow,
		TargetAgents: []string{agentID},
	})
}
