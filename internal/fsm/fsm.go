// Package fsm drives swap progression: a pure next_state(session, now)
// function for time/condition-based transitions, and idempotent inbound
// message application keyed by (session.id, ordinal). No background
// threads are required — callers re-evaluate on every tick or message
// arrival.
package fsm

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"

	"github.com/mwc-swap/swapcore/internal/message"
	"github.com/mwc-swap/swapcore/internal/multisig"
	"github.com/mwc-swap/swapcore/internal/schedule"
	"github.com/mwc-swap/swapcore/internal/slate"
	"github.com/mwc-swap/swapcore/internal/swap"
)

// Guards are the externally-observed conditions next_state consults. The
// caller (internal/api, cmd/swapd) is responsible for populating them from
// NodeClient/SecondaryClient polling before calling NextState; this
// package never performs I/O itself, keeping next_state pure and testable
// without fakes for every port.
type Guards struct {
	OfferExchanged bool

	// PrimaryLocked/SecondaryLocked report a lock at required
	// confirmation depth; LockPosted reports that a lock transaction has
	// been broadcast on either chain, even if not yet at depth. The
	// distinction decides whether a lock-phase timeout is a safe
	// cancellation (nothing committed anywhere) or a refund (funds
	// already committed on at least one chain).
	PrimaryLocked   bool
	SecondaryLocked bool
	LockPosted      bool

	RedeemPosted         bool
	RedeemKernelObserved bool
	RefundPosted         bool
	RefundConfirmed      bool
}

// NextState computes the state s should be in given the current schedule,
// wall-clock time, and guard conditions, without mutating s. Calling it
// repeatedly with the same (s, sched, now, g) always returns the same
// value: next_state is idempotent by construction.
func NextState(s *swap.Session, sched schedule.Schedule, now int64, g Guards) (swap.StateID, error) {
	if s.State.IsTerminal() {
		return s.State, nil
	}

	switch s.State {
	case swap.StateInit:
		if g.OfferExchanged {
			return swap.StateOfferExchanged, nil
		}

	case swap.StateOfferExchanged:
		if s.Multisig.Phase() != multisig.PhaseEmpty {
			return swap.StateCommitExchange, nil
		}
		if now >= sched.TStartLock {
			return swap.StateCancelled, nil
		}

	case swap.StateCommitExchange:
		if s.Multisig.Phase() == multisig.PhaseComplete {
			return swap.StateSigExchange, nil
		}
		if now >= sched.TStartLock {
			return swap.StateCancelled, nil
		}

	case swap.StateSigExchange:
		if s.AdaptorSignature != nil || s.Multisig.Phase() == multisig.PhaseComplete {
			return swap.StateMultisigComplete, nil
		}
		if now >= sched.TLocked {
			return swap.StateCancelled, nil
		}

	case swap.StateMultisigComplete:
		if now >= sched.TStartLock && !lockCommitted(g) {
			return swap.StateCancelled, nil
		}
		return swap.StateWaitLock, nil

	case swap.StateWaitLock:
		if g.PrimaryLocked && g.SecondaryLocked {
			return swap.StateLocked, nil
		}
		if !lockCommitted(g) {
			// Nothing broadcast anywhere: unilateral withdrawal is still
			// safe, so a missed broadcast deadline cancels with no
			// on-chain action.
			if now >= sched.TStartLock {
				return swap.StateCancelled, nil
			}
		} else if now >= sched.TLocked {
			// At least one chain carries committed funds; the only safe
			// exit is the refund path, never Cancelled.
			return swap.StateWaitRefund, nil
		}

	case swap.StateLocked:
		if g.RedeemPosted {
			return swap.StateRedeemPublished, nil
		}
		if now >= sched.TMwcRefund {
			return swap.StateWaitRefund, nil
		}

	case swap.StateRedeemPublished:
		if g.RedeemKernelObserved {
			return swap.StateRedeemObserved, nil
		}
		if now >= sched.TMwcRefund {
			return swap.StateWaitRefund, nil
		}

	case swap.StateRedeemObserved:
		return swap.StateSuccess, nil

	case swap.StateWaitRefund:
		if g.RefundPosted {
			return swap.StateRefundPending, nil
		}

	case swap.StateRefundPending:
		if g.RefundConfirmed {
			return swap.StateRefunded, nil
		}
	}

	return s.State, nil
}

// lockCommitted reports whether funds are committed on at least one chain:
// a confirmed lock on either side, or a broadcast still waiting for depth.
func lockCommitted(g Guards) bool {
	return g.PrimaryLocked || g.SecondaryLocked || g.LockPosted
}

// Tick evaluates NextState and, if it differs from the session's current
// state, applies the transition. It reports whether a transition happened.
func Tick(s *swap.Session, sched schedule.Schedule, now int64, g Guards) (bool, error) {
	next, err := NextState(s, sched, now, g)
	if err != nil {
		return false, err
	}
	if next == s.State {
		return false, nil
	}
	if err := s.TransitionTo(next); err != nil {
		return false, err
	}
	return true, nil
}

// Seen is the idempotent message-dedup set keyed by (session.id, ordinal).
// It is not part of the serialized session: internal/api keeps one per
// session in memory for the life of the process. A fresh Seen per session
// is correct since ordinals are session-scoped.
type Seen map[message.DedupKey]bool

// ApplyEnvelope mutates s according to env's Update, unless env's key was
// already applied (Seen), in which case it is a no-op returning false,nil:
// this is the mechanism that makes at-least-once peer delivery safe.
func ApplyEnvelope(s *swap.Session, env *message.Envelope, seen Seen) (bool, error) {
	if env.SessionID != s.ID {
		return false, swap.NewError(swap.KindUnexpectedAction, swap.ErrUnexpectedAction)
	}

	key := env.Key()
	if seen[key] {
		return false, nil
	}

	if err := applyUpdate(s, env.Inner); err != nil {
		return false, err
	}

	seen[key] = true
	return true, nil
}

func applyUpdate(s *swap.Session, u message.Update) error {
	switch u.Kind {
	case message.UpdateOffer:
		if u.Offer == nil {
			return swap.NewError(swap.KindInvalidState, swap.ErrInvalidState)
		}
		return nil

	case message.UpdateCommitmentExchange:
		if u.CommitmentExchange == nil {
			return swap.NewError(swap.KindInvalidState, swap.ErrInvalidState)
		}
		pub, err := btcec.ParsePubKey(u.CommitmentExchange.PartialCommitment)
		if err != nil {
			return swap.NewError(swap.KindInvalidProof, err)
		}
		if err := s.Multisig.ImportPartialCommitment(pub); err != nil {
			return swap.NewError(swap.KindMultiSigIncomplete, err)
		}
		return nil

	case message.UpdateSignaturesExchange:
		if u.SignaturesExchange == nil {
			return swap.NewError(swap.KindInvalidState, swap.ErrInvalidState)
		}
		return applySignaturesExchange(s, u.SignaturesExchange)

	case message.UpdateRedeemPublished:
		if u.RedeemPublished == nil {
			return swap.NewError(swap.KindInvalidState, swap.ErrInvalidState)
		}
		s.AdaptorSignature = u.RedeemPublished.AdaptorSignature
		return nil

	case message.UpdateRefundPublished:
		if u.RefundPublished == nil {
			return swap.NewError(swap.KindInvalidState, swap.ErrInvalidState)
		}
		return nil

	case message.UpdateLockObserved:
		if u.LockObserved == nil {
			return swap.NewError(swap.KindInvalidState, swap.ErrInvalidState)
		}
		return nil

	case message.UpdateCancel:
		return s.TransitionTo(swap.StateCancelled)

	default:
		return swap.NewError(swap.KindUnexpectedAction, swap.ErrUnexpectedAction)
	}
}

// applySignaturesExchange records the peer's signing fields on the slate
// the message names. When the Seller receives the Buyer's fields for the
// redeem slate, the public excess doubles as the Buyer's redeem blinding
// public key, which adaptor-secret extraction later depends on.
func applySignaturesExchange(s *swap.Session, d *message.SignaturesExchangeData) error {
	sl := slateByID(s, d.SlateID)
	if sl == nil {
		return swap.NewError(swap.KindUnexpectedAction, swap.ErrUnexpectedAction)
	}

	otherID := 1 - s.ParticipantID
	upsertParticipant(sl, slate.ParticipantData{
		ID:               otherID,
		PublicNonce:      d.PublicNonce,
		PublicExcess:     d.PublicExcess,
		PartialSignature: d.PartialSignature,
	})

	if sl == s.RedeemSlate && s.Role.Kind == swap.RoleSeller && len(d.PublicExcess) > 0 {
		pub, err := btcec.ParsePubKey(d.PublicExcess)
		if err != nil {
			return swap.NewError(swap.KindInvalidSignature, err)
		}
		s.RedeemPublic = pub
	}
	return nil
}

func slateByID(s *swap.Session, id uuid.UUID) *slate.Slate {
	switch id {
	case s.LockSlate.ID:
		return s.LockSlate
	case s.RefundSlate.ID:
		return s.RefundSlate
	case s.RedeemSlate.ID:
		return s.RedeemSlate
	default:
		return nil
	}
}

// upsertParticipant replaces an existing entry with the same participant
// id, so a retransmitted exchange with a different ordinal cannot grow the
// participant list past 2.
func upsertParticipant(sl *slate.Slate, p slate.ParticipantData) {
	for i := range sl.Participants {
		if sl.Participants[i].ID == p.ID {
			sl.Participants[i] = p
			return
		}
	}
	sl.Participants = append(sl.Participants, p)
}
