package swap

// StateID identifies a point in the swap FSM. The full handler for each
// state (what runs on arrival, which guards fire) lives in internal/fsm;
// here we only fix the identifiers and the transition graph between them,
// since the session record is what persists the current StateID.
type StateID string

const (
	// Initiation
	StateInit           StateID = "init"            // session created, no messages sent
	StateOfferExchanged StateID = "offer_exchanged"  // message round 1 started

	// Multisig round 1: partial commitments
	StateCommitExchange StateID = "commit_exchange" // exchanging partial commitments

	// Multisig round 2: partial signatures
	StateSigExchange     StateID = "sig_exchange"     // exchanging finalized partial signatures
	StateMultisigComplete StateID = "multisig_complete" // both slates fully signed, pre-lock

	// Lock waiting
	StateWaitLock StateID = "wait_lock" // waiting for both chains to reach lock depth
	StateLocked   StateID = "locked"    // both chains observed at required depth

	// Redeem
	StateRedeemPublished StateID = "redeem_published" // buyer posted redeem slate
	StateRedeemObserved  StateID = "redeem_observed"   // seller observed kernel, extracted k

	// Refund
	StateWaitRefund     StateID = "wait_refund"     // deadline expired, preparing refund
	StateRefundPending  StateID = "refund_pending"   // refund slate broadcast, unconfirmed

	// Terminal
	StateSuccess   StateID = "success"
	StateRefunded  StateID = "refunded"
	StateCancelled StateID = "cancelled"
)

// IsTerminal reports whether s admits no further transitions (session
// invariant 6: once a terminal state is reached, no field but diagnostics
// may change).
func (s StateID) IsTerminal() bool {
	switch s {
	case StateSuccess, StateRefunded, StateCancelled:
		return true
	default:
		return false
	}
}

// validTransitions enumerates the transition graph at the identifier level.
// Guard evaluation (which of these a given (session, now) actually permits)
// is internal/fsm's responsibility; this map only rules out nonsensical
// jumps so TransitionTo can reject malformed callers immediately.
var validTransitions = map[StateID][]StateID{
	StateInit:             {StateOfferExchanged, StateCancelled},
	StateOfferExchanged:    {StateCommitExchange, StateCancelled},
	StateCommitExchange:    {StateSigExchange, StateCancelled},
	StateSigExchange:       {StateMultisigComplete, StateCancelled},
	StateMultisigComplete:  {StateWaitLock, StateCancelled},
	StateWaitLock:          {StateLocked, StateWaitRefund, StateCancelled},
	StateLocked:            {StateRedeemPublished, StateWaitRefund},
	StateRedeemPublished:   {StateRedeemObserved, StateWaitRefund},
	StateRedeemObserved:    {StateSuccess},
	StateWaitRefund:        {StateRefundPending},
	StateRefundPending:     {StateRefunded},
	StateSuccess:           {},
	StateRefunded:          {},
	StateCancelled:         {},
}

// TransitionTo moves the session to newState if the identifier-level
// transition graph allows it, and the session is not already terminal.
// Fine-grained guard evaluation happens in internal/fsm before this is
// called; this is the last line of defense against a malformed jump.
func (s *Session) TransitionTo(newState StateID) error {
	if s.State.IsTerminal() {
		return NewError(KindInvalidState, ErrSessionTerminal)
	}

	allowed, ok := validTransitions[s.State]
	if !ok {
		return NewError(KindInvalidState, ErrInvalidState)
	}
	for _, candidate := range allowed {
		if candidate == newState {
			s.State = newState
			return nil
		}
	}
	return NewError(KindInvalidState, ErrInvalidState)
}
