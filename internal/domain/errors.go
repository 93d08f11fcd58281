package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrGatewayTimeout = errors.New("gateway timeout")
	ErrTransient      = errors.New("transient gateway error")
	ErrInvalidOrder   = errors.New("invalid order parameters")
	ErrTradingPaused  = errors.New("trading paused")
	ErrContextDone    = errors.New("context cancelled")
)

// RejectReason is a machine-readable code for a risk rejection.
type RejectReason string

const (
	RejectMarketCap     RejectReason = "market_exposure_cap"
	RejectTotalCap      RejectReason = "total_exposure_cap"
	RejectDailyLoss     RejectReason = "daily_loss_breached"
	RejectBalance       RejectReason = "insufficient_balance"
	RejectSlippage      RejectReason = "slippage_too_high"
	RejectLiquidity     RejectReason = "insufficient_liquidity"
	RejectInvalidSize   RejectReason = "invalid_size"
	RejectDuplicate     RejectReason = "duplicate_request"
)

// RejectionError reports a failed risk validation. Rejections are expected,
// non-fatal outcomes: the caller logs them and moves on, no retry.
type RejectionError struct {
	Reason RejectReason
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("rejected: %s", e.Reason)
	}
	return fmt.Sprintf("rejected: %s: %s", e.Reason, e.Detail)
}

// Reject builds a RejectionError with a formatted detail message.
func Reject(reason RejectReason, format string, args ...any) error {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// IsRejection reports whether err is a risk rejection and returns it.
func IsRejection(err error) (*RejectionError, bool) {
	var re *RejectionError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsTransient reports whether err represents a retryable gateway condition
// (network failure, timeout) as opposed to a venue-terminal rejection.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrGatewayTimeout)
}
