package solana

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

const pumpPortalTradeURL = "https://pumpportal.fun/api/trade-local"

// TokenParams describe a token to create on pump.fun
type TokenParams struct {
	Name        string
	Symbol      string
	Description string
	DevBuySOL   decimal.Decimal // initial buy by the creating wallet
}

// LaunchResult is the outcome of a token creation
type LaunchResult struct {
	MintAddress string
	Signature   string
	Link        string
}

// LaunchToken creates a new token through the pump.fun portal. The
// mint keypair is generated locally; in simulation mode nothing is
// submitted and a synthetic result is returned.
func (c *Client) LaunchToken(ctx context.Context, params TokenParams) (*LaunchResult, error) {
	mintPub, mintPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate mint keypair: %w", err)
	}
	mint := encodeBase58(mintPub)

	if c.simulation {
		return &LaunchResult{
			MintAddress: mint,
			Signature:   "SIM-LAUNCH-" + mint[:8],
			Link:        "https://pump.fun/" + mint,
		}, nil
	}

	payload := map[string]any{
		"publicKey": c.wallet,
		"action":    "create",
		"tokenMetadata": map[string]any{
			"name":        params.Name,
			"symbol":      params.Symbol,
			"description": params.Description,
		},
		"mint":             mint,
		"denominatedInSol": "true",
		"amount":           params.DevBuySOL.InexactFloat64(),
		"slippage":         10,
		"priorityFee":      0.0005,
		"pool":             "pump",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal launch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pumpPortalTradeURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.NewKindError(models.KindTransient, fmt.Errorf("launch request failed: %w", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read launch response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, models.NewKindError(classifyStatus(resp.StatusCode),
			fmt.Errorf("launch returned status %d: %s", resp.StatusCode, string(raw)))
	}

	// the portal returns a serialized transaction that both the mint
	// key and the wallet must sign
	signed, err := c.signLaunchTransaction(raw, mintPriv)
	if err != nil {
		return nil, err
	}

	var signature string
	err = c.rpc(ctx, "sendTransaction", []any{
		signed,
		map[string]any{"encoding": "base64", "skipPreflight": false},
	}, &signature)
	if err != nil {
		return nil, err
	}

	return &LaunchResult{
		MintAddress: mint,
		Signature:   signature,
		Link:        "https://pump.fun/" + mint,
	}, nil
}

// signLaunchTransaction signs with the wallet key in slot zero and the
// mint key in slot one.
func (c *Client) signLaunchTransaction(tx []byte, mintKey ed25519.PrivateKey) (string, error) {
	raw := tx
	if decoded, err := base64.StdEncoding.DecodeString(string(tx)); err == nil {
		raw = decoded
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("empty launch transaction")
	}

	numSigs := int(raw[0])
	if numSigs < 1 || numSigs > 8 {
		return "", fmt.Errorf("unexpected signature count %d", numSigs)
	}
	msgStart := 1 + numSigs*ed25519.SignatureSize
	if len(raw) <= msgStart {
		return "", fmt.Errorf("launch transaction too short for %d signatures", numSigs)
	}

	message := raw[msgStart:]
	copy(raw[1:1+ed25519.SignatureSize], ed25519.Sign(c.key, message))
	if numSigs > 1 {
		copy(raw[1+ed25519.SignatureSize:1+2*ed25519.SignatureSize], ed25519.Sign(mintKey, message))
	}

	return base64.StdEncoding.EncodeToString(raw), nil
}
