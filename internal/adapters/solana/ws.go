package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
)

const wsReconnectDelay = 5 * time.Second

// AccountUpdate is a pushed balance change for a watched wallet
type AccountUpdate struct {
	Wallet   string
	Lamports uint64
}

// PubsubClient watches wallet accounts over the RPC websocket so the
// fleet sees balance changes without polling. Reconnects forever until
// the context ends.
type PubsubClient struct {
	wsURL string

	mu      sync.Mutex
	wallets map[string]bool
	updates chan AccountUpdate
}

// NewPubsubClient derives the websocket endpoint from the RPC URL
func NewPubsubClient(rpcURL string) *PubsubClient {
	wsURL := strings.Replace(rpcURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)

	return &PubsubClient{
		wsURL:   wsURL,
		wallets: make(map[string]bool),
		updates: make(chan AccountUpdate, 64),
	}
}

// Watch registers a wallet for balance notifications
func (p *PubsubClient) Watch(wallet string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wallets[wallet] = true
}

// Updates returns the stream of pushed balance changes
func (p *PubsubClient) Updates() <-chan AccountUpdate {
	return p.updates
}

// Run maintains the websocket session until ctx is done
func (p *PubsubClient) Run(ctx context.Context) error {
	for {
		err := p.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		logger.Warn("⚠️ Solana pubsub disconnected, reconnecting",
			zap.Duration("delay", wsReconnectDelay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wsReconnectDelay):
		}
	}
}

func (p *PubsubClient) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, p.wsURL, nil)
	if err != nil {
		return fmt.Errorf("pubsub dial failed: %w", err)
	}
	defer conn.Close()

	// close the connection when ctx ends so ReadMessage unblocks
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	subIDToWallet := make(map[int64]string)

	p.mu.Lock()
	wallets := make([]string, 0, len(p.wallets))
	for w := range p.wallets {
		wallets = append(wallets, w)
	}
	p.mu.Unlock()

	for i, wallet := range wallets {
		req := map[string]any{
			"jsonrpc": "2.0",
			"id":      i + 1,
			"method":  "accountSubscribe",
			"params":  []any{wallet, map[string]any{"encoding": "base64", "commitment": "confirmed"}},
		}
		if err := conn.WriteJSON(req); err != nil {
			return fmt.Errorf("pubsub subscribe failed: %w", err)
		}
		// request id maps back to the wallet when the ack arrives
		subIDToWallet[int64(i+1)] = wallet
	}

	logger.Info("🚀 Solana pubsub connected", zap.Int("wallets", len(wallets)))

	ackToWallet := make(map[int64]string)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("pubsub read failed: %w", err)
		}

		var msg struct {
			ID     int64           `json:"id"`
			Result json.RawMessage `json:"result"`
			Method string          `json:"method"`
			Params struct {
				Subscription int64 `json:"subscription"`
				Result       struct {
					Value struct {
						Lamports uint64 `json:"lamports"`
					} `json:"value"`
				} `json:"result"`
			} `json:"params"`
		}
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch {
		case msg.ID != 0:
			// subscription ack: result is the subscription id
			var subID int64
			if err := json.Unmarshal(msg.Result, &subID); err == nil {
				if wallet, ok := subIDToWallet[msg.ID]; ok {
					ackToWallet[subID] = wallet
				}
			}
		case msg.Method == "accountNotification":
			wallet := ackToWallet[msg.Params.Subscription]
			if wallet == "" {
				continue
			}
			select {
			case p.updates <- AccountUpdate{Wallet: wallet, Lamports: msg.Params.Result.Value.Lamports}:
			default:
				// slow consumer: drop rather than block the read loop
			}
		}
	}
}
