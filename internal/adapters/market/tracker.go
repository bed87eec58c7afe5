package market

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cinar/indicator"
	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
)

const (
	priceAPIURL = "https://api.jup.ag/price/v2"

	// enough closes for RSI to stabilize
	historySize = 64
	emaPeriod   = 12
)

// TokenSignal is a ranked market observation about one token
type TokenSignal struct {
	Mint      string
	Symbol    string
	Price     float64
	Change    float64 // fractional change over the sampled window
	RSI       float64
	AboveEMA  bool
	UpdatedAt time.Time
}

// Tracker samples prices for a watchlist of tokens and ranks them by
// momentum. It runs as a periodic worker; consumers read ranked
// snapshots.
type Tracker struct {
	httpClient *http.Client

	mu      sync.RWMutex
	watched map[string]string // mint -> symbol
	history map[string][]float64
	signals map[string]*TokenSignal
}

// NewTracker creates a tracker with an initial watchlist
func NewTracker(watchlist map[string]string) *Tracker {
	watched := make(map[string]string, len(watchlist))
	for mint, symbol := range watchlist {
		watched[mint] = symbol
	}
	return &Tracker{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		watched:    watched,
		history:    make(map[string][]float64),
		signals:    make(map[string]*TokenSignal),
	}
}

// Watch adds a token to the watchlist
func (t *Tracker) Watch(mint, symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.watched[mint] = symbol
}

// Name identifies the tracker in worker logs
func (t *Tracker) Name() string {
	return "market-tracker"
}

// Run performs one sampling cycle
func (t *Tracker) Run(ctx context.Context) error {
	t.mu.RLock()
	mints := make([]string, 0, len(t.watched))
	for mint := range t.watched {
		mints = append(mints, mint)
	}
	t.mu.RUnlock()

	if len(mints) == 0 {
		return nil
	}

	prices, err := t.fetchPrices(ctx, mints)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for mint, price := range prices {
		closes := append(t.history[mint], price)
		if len(closes) > historySize {
			closes = closes[len(closes)-historySize:]
		}
		t.history[mint] = closes

		signal := &TokenSignal{
			Mint:      mint,
			Symbol:    t.watched[mint],
			Price:     price,
			UpdatedAt: time.Now(),
		}
		if first := closes[0]; first > 0 {
			signal.Change = (price - first) / first
		}
		if len(closes) >= 15 {
			_, rsi := indicator.Rsi(closes)
			signal.RSI = rsi[len(rsi)-1]
			ema := indicator.Ema(emaPeriod, closes)
			signal.AboveEMA = price > ema[len(ema)-1]
		}
		t.signals[mint] = signal
	}

	logger.Debug("market snapshot updated", zap.Int("tokens", len(prices)))
	return nil
}

// TopGainers returns up to n watched tokens ranked by window change
func (t *Tracker) TopGainers(n int) []TokenSignal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]TokenSignal, 0, len(t.signals))
	for _, signal := range t.signals {
		out = append(out, *signal)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Change > out[j].Change
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Trending returns watched tokens with upward momentum: above their
// EMA and not yet overbought.
func (t *Tracker) Trending(n int) []TokenSignal {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []TokenSignal
	for _, signal := range t.signals {
		if signal.AboveEMA && signal.RSI > 0 && signal.RSI < 70 {
			out = append(out, *signal)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RSI > out[j].RSI
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// Signal returns the latest observation for one token
func (t *Tracker) Signal(mint string) (TokenSignal, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	signal, ok := t.signals[mint]
	if !ok {
		return TokenSignal{}, false
	}
	return *signal, true
}

func (t *Tracker) fetchPrices(ctx context.Context, mints []string) (map[string]float64, error) {
	q := url.Values{}
	q.Set("ids", strings.Join(mints, ","))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, priceAPIURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	var payload struct {
		Data map[string]struct {
			Price string `json:"price"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	prices := make(map[string]float64, len(payload.Data))
	for mint, entry := range payload.Data {
		var price float64
		if _, err := fmt.Sscanf(entry.Price, "%f", &price); err == nil && price > 0 {
			prices[mint] = price
		}
	}
	return prices, nil
}
