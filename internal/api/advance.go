package api

import (
	"context"
	"errors"

	"github.com/mwc-swap/swapcore/internal/message"
	"github.com/mwc-swap/swapcore/internal/multisig"
	"github.com/mwc-swap/swapcore/internal/ports"
	"github.com/mwc-swap/swapcore/internal/swap"
)

// Outbound envelope ordinals are fixed per message kind: each kind is sent
// at most once per session, so a fixed ordinal makes retransmission after
// a crash or timeout land on the peer's dedup set instead of replaying.
const (
	ordinalOffer         uint64 = 0
	ordinalCommit        uint64 = 1
	ordinalSigs          uint64 = 2
	ordinalSecondaryLock uint64 = 3
	ordinalCancel        uint64 = 9
)

// multisigKeyID is the deterministic keychain path for a session's
// blinding key: the session UUID's 16 bytes read as four child indexes.
// Deriving from the session id means a restarted daemon recovers the same
// key multisig.Restore left out of the persisted snapshot.
func multisigKeyID(s *swap.Session) ports.KeyID {
	return ports.KeyID(s.ID[:])
}

// advanceOutbound drives the local side of the two crypto rounds as far as
// the session's current material allows: contribute our partial commitment
// (Message1), finalize the builder once both halves are present, and share
// our signing fields (Message2). It reports whether the session changed, so
// the caller knows to persist before any send. A nil keychain (tests, or
// an engine running in observe-only mode) leaves the session untouched.
func (e *Engine) advanceOutbound(st *sessionState) bool {
	if e.keychain == nil {
		return false
	}

	s := st.session
	if s.State.IsTerminal() {
		return false
	}

	changed := false

	if s.Message1 == nil {
		pub, err := s.Multisig.CreateParticipant(e.keychain, multisigKeyID(s))
		if err != nil {
			e.log.Warn("create partial commitment", "session", s.ID, "err", err)
			return changed
		}
		env := &message.Envelope{
			SessionID: s.ID,
			Ordinal:   ordinalCommit,
			Version:   s.Version,
			Inner: message.Update{
				Kind: message.UpdateCommitmentExchange,
				CommitmentExchange: &message.CommitmentExchangeData{
					SlateID:           s.LockSlate.ID,
					PartialCommitment: pub.SerializeCompressed(),
				},
			},
		}
		payload, err := env.Encode()
		if err != nil {
			e.log.Warn("encode commitment exchange", "session", s.ID, "err", err)
			return changed
		}
		s.Message1 = payload
		changed = true
	}

	if s.Multisig.Phase() == multisig.PhaseCommit {
		err := s.Multisig.Finalize(e.keychain, multisigKeyID(s))
		switch {
		case err == nil:
			changed = true
		case errors.Is(err, multisig.ErrNotReady):
			// Restored session: the blinding key was never persisted.
			// Re-derive it (same keyID, same key) and retry.
			if _, derr := s.Multisig.CreateParticipant(e.keychain, multisigKeyID(s)); derr == nil {
				if s.Multisig.Finalize(e.keychain, multisigKeyID(s)) == nil {
					changed = true
				}
			}
		case errors.Is(err, multisig.ErrIncomplete):
			// Peer's half not here yet; the next envelope will bring it.
		default:
			e.log.Warn("finalize multisig", "session", s.ID, "err", err)
		}
	}

	if s.Message2 == nil && s.Multisig.Phase() == multisig.PhaseComplete {
		publicNonce, publicExcess, err := s.Multisig.ParticipantFields()
		if err != nil {
			e.log.Warn("derive signing fields", "session", s.ID, "err", err)
			return changed
		}
		env := &message.Envelope{
			SessionID: s.ID,
			Ordinal:   ordinalSigs,
			Version:   s.Version,
			Inner: message.Update{
				Kind: message.UpdateSignaturesExchange,
				SignaturesExchange: &message.SignaturesExchangeData{
					SlateID:      s.RedeemSlate.ID,
					PublicNonce:  publicNonce,
					PublicExcess: publicExcess,
				},
			},
		}
		payload, err := env.Encode()
		if err != nil {
			e.log.Warn("encode signatures exchange", "session", s.ID, "err", err)
			return changed
		}
		s.Message2 = payload
		changed = true
	}

	return changed
}

// sendCached retransmits whatever outbound messages the session has built
// so far. Only called after the session was persisted; duplicate delivery
// is absorbed by the peer's (session id, ordinal) dedup.
func (e *Engine) sendCached(ctx context.Context, st *sessionState) {
	if e.transport == nil || st.peerID == "" {
		return
	}

	s := st.session
	if s.State.IsTerminal() {
		return
	}
	if s.State == swap.StateInit {
		if payload, err := e.offerEnvelopePayload(s); err == nil {
			if err := e.transport.Send(ctx, st.peerID, payload); err != nil {
				e.log.Warn("send offer", "session", s.ID, "peer", st.peerID, "err", err)
			}
		}
	}

	for _, payload := range [][]byte{s.Message1, s.Message2} {
		if payload == nil {
			continue
		}
		if err := e.transport.Send(ctx, st.peerID, payload); err != nil {
			e.log.Warn("send cached message", "session", s.ID, "peer", st.peerID, "err", err)
		}
	}
}

// offerEnvelopePayload rebuilds the offer envelope from the session's own
// fields, so it needs no cache slot of its own to stay retransmittable.
func (e *Engine) offerEnvelopePayload(s *swap.Session) ([]byte, error) {
	offer := &message.OfferData{
		PrimaryAmount:      s.PrimaryAmount,
		SecondaryAmount:    s.SecondaryAmount,
		SecondarySymbol:    s.SecondaryCurrency.Symbol,
		SellerLockFirst:    s.SellerLockFirst,
		MessageExchangeSec: s.MessageExchangeTimeSec,
		RedeemTimeSec:      s.RedeemTimeSec,
	}
	if s.Role.Kind == swap.RoleSeller && s.Role.SellerInfo != nil {
		offer.RefundAddress = s.Role.SellerInfo.RefundAddress
	}

	env := &message.Envelope{
		SessionID: s.ID,
		Ordinal:   ordinalOffer,
		Version:   s.Version,
		Inner:     message.Update{Kind: message.UpdateOffer, Offer: offer},
	}
	return env.Encode()
}
