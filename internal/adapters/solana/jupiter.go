package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

const (
	jupiterQuoteURL = "https://quote-api.jup.ag/v6/quote"
	jupiterSwapURL  = "https://quote-api.jup.ag/v6/swap"
)

// Quote is a priced swap route from the aggregator
type Quote struct {
	InputMint      string `json:"inputMint"`
	OutputMint     string `json:"outputMint"`
	InAmount       string `json:"inAmount"`
	OutAmount      string `json:"outAmount"`
	PriceImpactPct string `json:"priceImpactPct"`
	SlippageBps    int    `json:"slippageBps"`

	raw json.RawMessage
}

// PriceImpact parses the quoted price impact into a fraction.
// Unparseable values read as zero; the safety gate treats that as no
// impact information rather than blocking every trade.
func (q *Quote) PriceImpact() decimal.Decimal {
	impact, err := decimal.NewFromString(q.PriceImpactPct)
	if err != nil {
		return decimal.Zero
	}
	return impact
}

// JupiterClient prices and builds swaps through the Jupiter
// aggregator; the resulting transactions are signed and submitted by
// the RPC client.
type JupiterClient struct {
	httpClient *http.Client
}

// NewJupiterClient creates a Jupiter API client
func NewJupiterClient() *JupiterClient {
	return &JupiterClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// GetQuote prices a swap of amount SOL (in lamports) into outputMint
func (j *JupiterClient) GetQuote(ctx context.Context, inputMint, outputMint string, amountSOL decimal.Decimal, slippageBps int) (*Quote, error) {
	lamports := amountSOL.Mul(decimal.New(lamportsPerSOL, 0)).IntPart()

	q := url.Values{}
	q.Set("inputMint", inputMint)
	q.Set("outputMint", outputMint)
	q.Set("amount", fmt.Sprintf("%d", lamports))
	q.Set("slippageBps", fmt.Sprintf("%d", slippageBps))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jupiterQuoteURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return nil, models.NewKindError(models.KindTransient, fmt.Errorf("jupiter quote failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read quote response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, models.NewKindError(classifyStatus(resp.StatusCode),
			fmt.Errorf("jupiter quote returned status %d: %s", resp.StatusCode, string(body)))
	}

	var quote Quote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("failed to decode quote: %w", err)
	}
	quote.raw = body
	return &quote, nil
}

// BuildSwap turns a quote into an unsigned serialized transaction
func (j *JupiterClient) BuildSwap(ctx context.Context, quote *Quote, wallet string) (string, error) {
	payload := map[string]any{
		"quoteResponse":             json.RawMessage(quote.raw),
		"userPublicKey":             wallet,
		"wrapAndUnwrapSol":          true,
		"dynamicComputeUnitLimit":   true,
		"prioritizationFeeLamports": "auto",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, jupiterSwapURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := j.httpClient.Do(req)
	if err != nil {
		return "", models.NewKindError(models.KindTransient, fmt.Errorf("jupiter swap build failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return "", models.NewKindError(classifyStatus(resp.StatusCode),
			fmt.Errorf("jupiter swap returned status %d: %s", resp.StatusCode, string(data)))
	}

	var result struct {
		SwapTransaction string `json:"swapTransaction"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode swap response: %w", err)
	}
	if result.SwapTransaction == "" {
		return "", fmt.Errorf("jupiter returned empty transaction")
	}
	return result.SwapTransaction, nil
}

func classifyStatus(status int) models.ErrorKind {
	if status == http.StatusTooManyRequests || status >= 500 {
		return models.KindTransient
	}
	return models.KindPermanent
}
