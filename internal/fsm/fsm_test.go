package fsm

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwc-swap/swapcore/internal/chain"
	"github.com/mwc-swap/swapcore/internal/config"
	"github.com/mwc-swap/swapcore/internal/message"
	"github.com/mwc-swap/swapcore/internal/schedule"
	"github.com/mwc-swap/swapcore/internal/swap"
)

func newTestSession(t *testing.T, role swap.Role) *swap.Session {
	t.Helper()
	secondary := swap.SecondaryCurrency{
		Symbol:             "BTC",
		Network:            chain.Mainnet,
		BlockTimePeriodSec: 600,
		MinConfirmations:   6,
	}
	s, err := swap.NewSession(1, chain.Mainnet, role, true, time.Now(), 1_000_000, 50_000, secondary, nil, 3600, 7200)
	require.NoError(t, err)
	s.RefundSlate.Fee = 100
	require.NoError(t, s.Validate())
	return s
}

func testSchedule() schedule.Schedule {
	return schedule.Derive(schedule.Inputs{
		StartedUnix:            1_700_000_000,
		MessageExchangeTimeSec: 3600,
		RedeemTimeSec:          7200,
		PrimaryConfirmations:   10,
		PrimaryBlockTimeSec:    60,
		SecondaryConfirmations: 6,
		SecondaryBlockTimeSec:  600,
	}, config.DefaultScheduleConfig())
}

// TestNextStatePure verifies next_state is a pure function: repeated calls
// with identical arguments always agree, and never mutate the session.
func TestNextStatePure(t *testing.T) {
	s := newTestSession(t, swap.NewSellerRole("addr", 0))
	sched := testSchedule()

	first, err := NextState(s, sched, sched.TStart, Guards{OfferExchanged: true})
	require.NoError(t, err)
	second, err := NextState(s, sched, sched.TStart, Guards{OfferExchanged: true})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, swap.StateInit, s.State, "NextState must not mutate the session")
}

func TestTickIsIdempotentOnceApplied(t *testing.T) {
	s := newTestSession(t, swap.NewSellerRole("addr", 0))
	sched := testSchedule()
	g := Guards{OfferExchanged: true}

	moved, err := Tick(s, sched, sched.TStart, g)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, swap.StateOfferExchanged, s.State)

	moved, err = Tick(s, sched, sched.TStart, g)
	require.NoError(t, err)
	assert.False(t, moved, "second tick with unchanged guards must be a no-op")
	assert.Equal(t, swap.StateOfferExchanged, s.State)
}

func sessionAtWaitLock(t *testing.T) *swap.Session {
	t.Helper()
	s := newTestSession(t, swap.NewSellerRole("addr", 0))
	require.NoError(t, s.TransitionTo(swap.StateOfferExchanged))
	require.NoError(t, s.TransitionTo(swap.StateCommitExchange))
	require.NoError(t, s.TransitionTo(swap.StateSigExchange))
	require.NoError(t, s.TransitionTo(swap.StateMultisigComplete))
	require.NoError(t, s.TransitionTo(swap.StateWaitLock))
	return s
}

// Nothing was ever broadcast: cancellation is safe and happens as soon as
// the broadcast deadline passes, with no on-chain action.
func TestWaitLockNothingBroadcastCancelsAtStartLock(t *testing.T) {
	s := sessionAtWaitLock(t)
	sched := testSchedule()

	moved, err := Tick(s, sched, sched.TStartLock, Guards{})
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, swap.StateCancelled, s.State)
}

func TestWaitLockCancelsOnTimeout(t *testing.T) {
	s := sessionAtWaitLock(t)
	sched := testSchedule()

	moved, err := Tick(s, sched, sched.TLocked, Guards{})
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, swap.StateCancelled, s.State)
}

// One side locked but the other never did: funds are committed, so the
// lock-phase timeout must route to the refund path, never to Cancelled.
func TestWaitLockPartialLockMovesToWaitRefund(t *testing.T) {
	s := sessionAtWaitLock(t)
	sched := testSchedule()

	moved, err := Tick(s, sched, sched.TLocked, Guards{PrimaryLocked: true})
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, swap.StateWaitRefund, s.State)
}

// A broadcast that never reached depth still commits funds.
func TestWaitLockPostedUnconfirmedMovesToWaitRefund(t *testing.T) {
	s := sessionAtWaitLock(t)
	sched := testSchedule()

	moved, err := Tick(s, sched, sched.TLocked, Guards{LockPosted: true})
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, swap.StateWaitRefund, s.State)
}

// Before the broadcast deadline the lock wait holds even with no locks.
func TestWaitLockHoldsBeforeStartLock(t *testing.T) {
	s := sessionAtWaitLock(t)
	sched := testSchedule()

	moved, err := Tick(s, sched, sched.TStartLock-1, Guards{})
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, swap.StateWaitLock, s.State)
}

func TestMultisigCompleteCancelsPastStartLockWithNothingBroadcast(t *testing.T) {
	s := newTestSession(t, swap.NewSellerRole("addr", 0))
	require.NoError(t, s.TransitionTo(swap.StateOfferExchanged))
	require.NoError(t, s.TransitionTo(swap.StateCommitExchange))
	require.NoError(t, s.TransitionTo(swap.StateSigExchange))
	require.NoError(t, s.TransitionTo(swap.StateMultisigComplete))

	sched := testSchedule()
	moved, err := Tick(s, sched, sched.TStartLock, Guards{})
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, swap.StateCancelled, s.State)

	s2 := newTestSession(t, swap.NewSellerRole("addr", 0))
	require.NoError(t, s2.TransitionTo(swap.StateOfferExchanged))
	require.NoError(t, s2.TransitionTo(swap.StateCommitExchange))
	require.NoError(t, s2.TransitionTo(swap.StateSigExchange))
	require.NoError(t, s2.TransitionTo(swap.StateMultisigComplete))

	moved, err = Tick(s2, sched, sched.TStartLock, Guards{LockPosted: true})
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, swap.StateWaitLock, s2.State)
}

func TestLockedMovesToWaitRefundPastDeadline(t *testing.T) {
	s := newTestSession(t, swap.NewSellerRole("addr", 0))
	require.NoError(t, s.TransitionTo(swap.StateOfferExchanged))
	require.NoError(t, s.TransitionTo(swap.StateCommitExchange))
	require.NoError(t, s.TransitionTo(swap.StateSigExchange))
	require.NoError(t, s.TransitionTo(swap.StateMultisigComplete))
	require.NoError(t, s.TransitionTo(swap.StateWaitLock))
	require.NoError(t, s.TransitionTo(swap.StateLocked))

	sched := testSchedule()
	moved, err := Tick(s, sched, sched.TMwcRefund, Guards{})
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, swap.StateWaitRefund, s.State)
}

func TestLockedToSuccessPath(t *testing.T) {
	s := newTestSession(t, swap.NewSellerRole("addr", 0))
	require.NoError(t, s.TransitionTo(swap.StateOfferExchanged))
	require.NoError(t, s.TransitionTo(swap.StateCommitExchange))
	require.NoError(t, s.TransitionTo(swap.StateSigExchange))
	require.NoError(t, s.TransitionTo(swap.StateMultisigComplete))
	require.NoError(t, s.TransitionTo(swap.StateWaitLock))
	require.NoError(t, s.TransitionTo(swap.StateLocked))

	sched := testSchedule()
	moved, err := Tick(s, sched, sched.TStart, Guards{RedeemPosted: true})
	require.NoError(t, err)
	require.True(t, moved)
	assert.Equal(t, swap.StateRedeemPublished, s.State)

	moved, err = Tick(s, sched, sched.TStart, Guards{RedeemKernelObserved: true})
	require.NoError(t, err)
	require.True(t, moved)
	assert.Equal(t, swap.StateRedeemObserved, s.State)

	moved, err = Tick(s, sched, sched.TStart, Guards{})
	require.NoError(t, err)
	require.True(t, moved)
	assert.Equal(t, swap.StateSuccess, s.State)
}

func TestApplyEnvelopeIsIdempotentPerOrdinal(t *testing.T) {
	s := newTestSession(t, swap.NewSellerRole("addr", 0))
	seen := Seen{}

	env := &message.Envelope{
		SessionID: s.ID,
		Ordinal:   1,
		Version:   1,
		Inner: message.Update{
			Kind: message.UpdateCancel,
		},
	}

	applied, err := ApplyEnvelope(s, env, seen)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, swap.StateCancelled, s.State)

	applied, err = ApplyEnvelope(s, env, seen)
	require.NoError(t, err)
	assert.False(t, applied, "replayed ordinal must be a no-op")
}

func TestApplyEnvelopeRejectsForeignSession(t *testing.T) {
	s := newTestSession(t, swap.NewSellerRole("addr", 0))
	env := &message.Envelope{SessionID: uuid.New(), Ordinal: 1, Inner: message.Update{Kind: message.UpdateCancel}}

	_, err := ApplyEnvelope(s, env, Seen{})
	require.Error(t, err)
	var swapErr *swap.Error
	require.ErrorAs(t, err, &swapErr)
	assert.Equal(t, swap.KindUnexpectedAction, swapErr.Kind)
}

func TestApplyEnvelopeRejectsMissingPayload(t *testing.T) {
	s := newTestSession(t, swap.NewSellerRole("addr", 0))
	env := &message.Envelope{SessionID: s.ID, Ordinal: 1, Inner: message.Update{Kind: message.UpdateOffer}}

	_, err := ApplyEnvelope(s, env, Seen{})
	require.Error(t, err)
	var swapErr *swap.Error
	require.ErrorAs(t, err, &swapErr)
	assert.Equal(t, swap.KindInvalidState, swapErr.Kind)
}
