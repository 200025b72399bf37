package swap

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwc-swap/swapcore/internal/chain"
)

func newTestSession(t *testing.T, role Role) *Session {
	t.Helper()
	secondary := SecondaryCurrency{
		Symbol:             "BTC",
		Network:            chain.Mainnet,
		BlockTimePeriodSec: 600,
		MinConfirmations:   6,
	}
	s, err := NewSession(1, chain.Mainnet, role, true, time.Now(), 1_000_000, 50_000, secondary, nil, 3600, 7200)
	require.NoError(t, err)
	s.RefundSlate.Fee = 100
	require.NoError(t, s.Validate())
	return s
}

func TestNewSessionSeller(t *testing.T) {
	s := newTestSession(t, NewSellerRole("addr", 500))
	assert.Equal(t, uint8(0), s.ParticipantID)
	assert.Equal(t, StateInit, s.State)
	assert.Equal(t, uint64(500), s.ChangeAmount())
}

func TestNewSessionBuyer(t *testing.T) {
	s := newTestSession(t, NewBuyerRole())
	assert.Equal(t, uint8(1), s.ParticipantID)
	assert.Equal(t, uint64(0), s.ChangeAmount())
}

func TestSessionSlateIDsDistinct(t *testing.T) {
	s := newTestSession(t, NewSellerRole("addr", 0))
	ids := []uuid.UUID{s.ID, s.LockSlate.ID, s.RefundSlate.ID, s.RedeemSlate.ID}
	seen := map[uuid.UUID]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate slate/session id")
		seen[id] = true
	}
}

func TestValidateRejectsWrongParticipantForRole(t *testing.T) {
	s := newTestSession(t, NewSellerRole("addr", 0))
	s.ParticipantID = 1
	err := s.Validate()
	require.Error(t, err)
	var swapErr *Error
	require.ErrorAs(t, err, &swapErr)
	assert.Equal(t, KindUnexpectedRole, swapErr.Kind)
}

func TestValidateRejectsRefundAmountNotPositive(t *testing.T) {
	s := newTestSession(t, NewBuyerRole())
	s.RefundSlate.Fee = s.PrimaryAmount
	err := s.Validate()
	require.Error(t, err)
}

func TestValidateRequiresRedeemPublicForAdaptorSignature(t *testing.T) {
	s := newTestSession(t, NewBuyerRole())
	s.AdaptorSignature = []byte{1, 2, 3}
	err := s.Validate()
	require.Error(t, err)
	var swapErr *Error
	require.ErrorAs(t, err, &swapErr)
	assert.Equal(t, KindInvalidState, swapErr.Kind)
}

func TestRefundAmount(t *testing.T) {
	s := newTestSession(t, NewSellerRole("addr", 0))
	amount, err := s.RefundAmount()
	require.NoError(t, err)
	assert.Equal(t, s.PrimaryAmount-s.RefundSlate.Fee, amount)
}

func TestTransitionToValidPath(t *testing.T) {
	s := newTestSession(t, NewSellerRole("addr", 0))
	require.NoError(t, s.TransitionTo(StateOfferExchanged))
	require.NoError(t, s.TransitionTo(StateCommitExchange))
	assert.Equal(t, StateCommitExchange, s.State)
}

func TestTransitionToRejectsInvalidJump(t *testing.T) {
	s := newTestSession(t, NewSellerRole("addr", 0))
	err := s.TransitionTo(StateLocked)
	require.Error(t, err)
	var swapErr *Error
	require.ErrorAs(t, err, &swapErr)
	assert.Equal(t, KindInvalidState, swapErr.Kind)
}

func TestTransitionToRejectsOnceTerminal(t *testing.T) {
	s := newTestSession(t, NewSellerRole("addr", 0))
	require.NoError(t, s.TransitionTo(StateCancelled))
	err := s.TransitionTo(StateOfferExchanged)
	require.Error(t, err)
	var swapErr *Error
	require.ErrorAs(t, err, &swapErr)
	assert.ErrorIs(t, swapErr.Err, ErrSessionTerminal)
}
