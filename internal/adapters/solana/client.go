package solana

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

// SOLMint is the wrapped SOL mint address
const SOLMint = "So11111111111111111111111111111111111111112"

const lamportsPerSOL = 1_000_000_000

// Client is a Solana JSON-RPC client bound to one keypair. With
// Simulation set, swap submission is skipped and a synthetic signature
// is returned; quoting and balance reads still hit the network.
type Client struct {
	rpcURL     string
	httpClient *http.Client
	key        ed25519.PrivateKey
	wallet     string
	simulation bool
	reqID      uint64
}

// NewClient creates a client from a base58-encoded private key
func NewClient(rpcURL, privateKey string, simulation bool) (*Client, error) {
	raw, err := decodeBase58(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key encoding: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}

	key := ed25519.PrivateKey(raw)
	wallet := encodeBase58(key.Public().(ed25519.PublicKey))

	return &Client{
		rpcURL:     rpcURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		key:        key,
		wallet:     wallet,
		simulation: simulation,
	}, nil
}

// Wallet returns the public wallet address
func (c *Client) Wallet() string {
	return c.wallet
}

// Simulation reports whether swaps are simulated
func (c *Client) Simulation() bool {
	return c.simulation
}

// GetBalance returns the wallet balance in SOL
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := c.rpc(ctx, "getBalance", []any{c.wallet}, &result); err != nil {
		return decimal.Zero, err
	}
	return decimal.New(int64(result.Value), 0).Div(decimal.New(lamportsPerSOL, 0)), nil
}

// SendTransaction signs and submits a serialized transaction, waiting
// for no confirmation. Returns the transaction signature.
func (c *Client) SendTransaction(ctx context.Context, txBase64 string) (string, error) {
	if c.simulation {
		sig := "SIM-" + uuid.NewString()
		logger.Info("🤖 Simulated transaction", zap.String("signature", sig))
		return sig, nil
	}

	signed, err := c.signTransaction(txBase64)
	if err != nil {
		return "", err
	}

	var signature string
	err = c.rpc(ctx, "sendTransaction", []any{
		signed,
		map[string]any{"encoding": "base64", "skipPreflight": false},
	}, &signature)
	if err != nil {
		return "", err
	}
	return signature, nil
}

// signTransaction places this wallet's signature into slot zero of a
// serialized transaction. The wire layout is a compact array of
// 64-byte signatures followed by the message.
func (c *Client) signTransaction(txBase64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(txBase64)
	if err != nil {
		return "", fmt.Errorf("invalid transaction encoding: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("empty transaction")
	}

	numSigs := int(raw[0])
	if numSigs < 1 || numSigs > 8 {
		return "", fmt.Errorf("unexpected signature count %d", numSigs)
	}
	msgStart := 1 + numSigs*ed25519.SignatureSize
	if len(raw) <= msgStart {
		return "", fmt.Errorf("transaction too short for %d signatures", numSigs)
	}

	sig := ed25519.Sign(c.key, raw[msgStart:])
	copy(raw[1:1+ed25519.SignatureSize], sig)

	return base64.StdEncoding.EncodeToString(raw), nil
}

// Healthcheck verifies the RPC endpoint responds
func (c *Client) Healthcheck(ctx context.Context) error {
	var health string
	if err := c.rpc(ctx, "getHealth", nil, &health); err != nil {
		return err
	}
	if health != "ok" {
		return fmt.Errorf("rpc unhealthy: %s", health)
	}
	return nil
}

func (c *Client) rpc(ctx context.Context, method string, params []any, out any) error {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      atomic.AddUint64(&c.reqID, 1),
		"method":  method,
	}
	if params != nil {
		payload["params"] = params
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return models.NewKindError(models.KindTransient, fmt.Errorf("rpc call %s failed: %w", method, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return models.NewKindError(models.KindTransient, fmt.Errorf("rpc %s returned status %d", method, resp.StatusCode))
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("failed to decode rpc response: %w", err)
	}
	if envelope.Error != nil {
		return models.NewKindError(models.KindPermanent,
			fmt.Errorf("rpc %s error %d: %s", method, envelope.Error.Code, envelope.Error.Message))
	}

	if out != nil {
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			return fmt.Errorf("failed to decode rpc %s result: %w", method, err)
		}
	}
	return nil
}
