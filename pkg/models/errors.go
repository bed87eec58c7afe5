package models

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures so policy can branch on them
type ErrorKind string

const (
	KindTransient  ErrorKind = "transient"  // timeouts, 5xx, 429
	KindPermanent  ErrorKind = "permanent"  // other 4xx, bad credentials
	KindGateDenied ErrorKind = "gate_denied"
	KindContent    ErrorKind = "content" // self-detected generation failure
	KindInvariant  ErrorKind = "invariant"
	KindFatal      ErrorKind = "fatal"
)

// KindError wraps an error with its taxonomy kind
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error { return e.Err }

// NewKindError wraps err with a kind
func NewKindError(kind ErrorKind, err error) *KindError {
	return &KindError{Kind: kind, Err: err}
}

// KindOf extracts the error kind, defaulting to transient
func KindOf(err error) ErrorKind {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindTransient
}

// DenialReason identifies which outbound gate rejected an action
type DenialReason string

const (
	DenialRateLimited    DenialReason = "rate_limited"
	DenialTooSoon        DenialReason = "too_soon"
	DenialDailyTrades    DenialReason = "max_daily_trades"
	DenialDailyVolume    DenialReason = "max_daily_volume"
	DenialTradeAmount    DenialReason = "max_trade_amount"
	DenialWalletReserve  DenialReason = "min_wallet_balance"
	DenialSlippage       DenialReason = "max_slippage"
	DenialTokenNotListed DenialReason = "token_not_allowed"
	DenialHumanRequest   DenialReason = "human_request_ignored"
	DenialTradingOff     DenialReason = "trading_disabled"
)

// Control API error codes returned in JSON error envelopes
const (
	CodeAgentNotFound   = "AGENT_NOT_FOUND"
	CodeAgentInactive   = "AGENT_INACTIVE"
	CodeInvalidConfig   = "INVALID_CONFIGURATION"
	CodeTradingDisabled = "TRADING_DISABLED"
	CodeInsufficient    = "INSUFFICIENT_BALANCE"
	CodeAPIRateLimit    = "API_RATE_LIMIT"
	CodeMemoryNotFound  = "MEMORY_NOT_FOUND"
	CodeInvalidRequest  = "INVALID_REQUEST"
	CodeSystemError     = "SYSTEM_ERROR"
	CodeTooSoon         = "TOO_SOON_SINCE_LAST_POST"
)
