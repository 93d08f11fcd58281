package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcomeOpposite(t *testing.T) {
	assert.Equal(t, OutcomeNo, OutcomeYes.Opposite())
	assert.Equal(t, OutcomeYes, OutcomeNo.Opposite())
}

func TestOrderStatusTerminal(t *testing.T) {
	assert.True(t, OrderStatusFilled.Terminal())
	assert.True(t, OrderStatusCancelled.Terminal())
	assert.True(t, OrderStatusRejected.Terminal())
	assert.False(t, OrderStatusSubmitted.Terminal())
	assert.False(t, OrderStatusPartiallyFilled.Terminal())
}

func TestRejectionRoundTrip(t *testing.T) {
	err := Reject(RejectSlippage, "ask %0.2f above signal %0.2f", 0.55, 0.50)

	re, ok := IsRejection(err)
	assert.True(t, ok)
	assert.Equal(t, RejectSlippage, re.Reason)
	assert.Contains(t, err.Error(), "slippage_too_high")

	_, ok = IsRejection(errors.New("plain"))
	assert.False(t, ok)
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrTransient))
	assert.True(t, IsTransient(ErrGatewayTimeout))
	assert.False(t, IsTransient(ErrNotFound))
	assert.False(t, IsTransient(errors.New("other")))
}
