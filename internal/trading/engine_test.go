package trading

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/market"
	"github.com/actuallyrizzn/puppet-engine/internal/adapters/solana"
	"github.com/actuallyrizzn/puppet-engine/internal/events"
	"github.com/actuallyrizzn/puppet-engine/internal/gates"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// fakeQuoter serves a fixed price impact and counts calls
type fakeQuoter struct {
	impact string
	calls  int
}

func (f *fakeQuoter) GetQuote(ctx context.Context, inputMint, outputMint string, amountSOL decimal.Decimal, slippageBps int) (*solana.Quote, error) {
	f.calls++
	return &solana.Quote{
		InputMint:      inputMint,
		OutputMint:     outputMint,
		PriceImpactPct: f.impact,
		SlippageBps:    slippageBps,
	}, nil
}

func (f *fakeQuoter) BuildSwap(ctx context.Context, quote *solana.Quote, wallet string) (string, error) {
	return "", nil // simulation clients never build
}

func balanceRPC(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"value":5000000000}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func tradingAgent() *models.Agent {
	return &models.Agent{
		ID:   "trader-agent",
		Name: "Trader",
		Behavior: models.Behavior{
			Trading: models.TradingBehavior{
				Enabled:            true,
				MaxTradeAmount:     decimal.NewFromFloat(1.0),
				MaxSlippagePercent: 1.0,
				AllowedTokens:      []string{"GOODmint111"},
			},
		},
	}
}

func newTestTradingEngine(t *testing.T, quoter *fakeQuoter, gate *gates.TradingGate) *Engine {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	eventEngine := events.New(ctx, nil)
	t.Cleanup(func() {
		eventEngine.Stop()
		cancel()
	})

	e := NewEngine(quoter, market.NewTracker(nil), gate, nil, eventEngine)

	rpc := balanceRPC(t)
	client, err := solana.NewClient(rpc.URL, testKey, true)
	if err != nil {
		t.Fatalf("failed to build simulation client: %v", err)
	}
	e.Register("trader-agent", client)
	return e
}

func TestExecuteDeniesOnQuotedPriceImpact(t *testing.T) {
	quoter := &fakeQuoter{impact: "0.05"} // 5% impact, cap is 1%
	gate := gates.NewTradingGate(nil)
	e := newTestTradingEngine(t, quoter, gate)

	_, err := e.Execute(context.Background(), tradingAgent(), "GOODmint111", decimal.NewFromFloat(0.5), false)
	denial := gates.DenialOf(err)
	if denial == nil || denial.Reason != models.DenialSlippage {
		t.Fatalf("expected a slippage denial from the quoted impact, got %v", err)
	}

	if quoter.calls != 1 {
		t.Errorf("the trade must be quoted before the gate sees it, got %d quote calls", quoter.calls)
	}
	if state := gate.State("trader-agent"); state.TradesToday != 0 {
		t.Errorf("a denied trade must not consume the daily budget, got %d", state.TradesToday)
	}
}

func TestExecuteSimulatedTrade(t *testing.T) {
	quoter := &fakeQuoter{impact: "0.002"} // 0.2% impact
	gate := gates.NewTradingGate(nil)
	e := newTestTradingEngine(t, quoter, gate)

	payload, err := e.Execute(context.Background(), tradingAgent(), "GOODmint111", decimal.NewFromFloat(0.5), false)
	if err != nil {
		t.Fatalf("trade failed: %v", err)
	}
	if !payload.Simulated || payload.Signature == "" {
		t.Fatalf("expected a simulated signature, got %+v", payload)
	}

	if state := gate.State("trader-agent"); state.TradesToday != 1 {
		t.Errorf("an executed trade consumes the daily budget, got %d", state.TradesToday)
	}
}
