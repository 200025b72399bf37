package swap

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"

	"github.com/mwc-swap/swapcore/internal/chain"
	"github.com/mwc-swap/swapcore/internal/multisig"
	"github.com/mwc-swap/swapcore/internal/slate"
)

// ErrTruncatedSession reports a persisted session whose length prefix
// doesn't match its JSON document.
var ErrTruncatedSession = errors.New("session bytes truncated or length prefix mismatched")

// sessionWire is Session's on-disk shape: the one field that doesn't
// round-trip through encoding/json directly (RedeemPublic, a *btcec.
// PublicKey) is carried as its compressed serialization, and Multisig is
// carried as its public Snapshot rather than the live Builder.
type sessionWire struct {
	ID      uuid.UUID     `json:"id"`
	Version uint8         `json:"version"`
	Network chain.Network `json:"network"`

	Role            Role `json:"role"`
	SellerLockFirst bool `json:"seller_lock_first"`

	Started int64   `json:"started"`
	State   StateID `json:"state"`

	PrimaryAmount     uint64            `json:"primary_amount"`
	SecondaryAmount   uint64            `json:"secondary_amount"`
	SecondaryCurrency SecondaryCurrency `json:"secondary_currency"`
	SecondaryData     []byte            `json:"secondary_data,omitempty"`

	RedeemPublic  []byte           `json:"redeem_public,omitempty"`
	ParticipantID uint8            `json:"participant_id"`
	Idx           uint32           `json:"idx"`
	Multisig      multisig.Snapshot `json:"multisig"`

	LockSlate   *slate.Slate `json:"lock_slate"`
	RefundSlate *slate.Slate `json:"refund_slate"`
	RedeemSlate *slate.Slate `json:"redeem_slate"`

	AdaptorSignature []byte `json:"adaptor_signature,omitempty"`
	RedeemSecret     []byte `json:"redeem_secret,omitempty"`

	PrimaryConfirmations   uint32 `json:"primary_confirmations"`
	SecondaryConfirmations uint32 `json:"secondary_confirmations"`

	MessageExchangeTimeSec uint64 `json:"message_exchange_time_sec"`
	RedeemTimeSec          uint64 `json:"redeem_time_sec"`

	Message1 []byte `json:"message1,omitempty"`
	Message2 []byte `json:"message2,omitempty"`
}

// Serialize produces the durable representation internal/store writes,
// one per accepted FSM transition: a 4-byte big-endian length prefix
// followed by the JSON document it frames.
func (s *Session) Serialize() ([]byte, error) {
	w := sessionWire{
		ID:                     s.ID,
		Version:                s.Version,
		Network:                s.Network,
		Role:                   s.Role,
		SellerLockFirst:        s.SellerLockFirst,
		Started:                s.Started.Unix(),
		State:                  s.State,
		PrimaryAmount:          s.PrimaryAmount,
		SecondaryAmount:        s.SecondaryAmount,
		SecondaryCurrency:      s.SecondaryCurrency,
		SecondaryData:          s.SecondaryData,
		ParticipantID:          s.ParticipantID,
		Idx:                    s.Idx,
		LockSlate:              s.LockSlate,
		RefundSlate:            s.RefundSlate,
		RedeemSlate:            s.RedeemSlate,
		AdaptorSignature:       s.AdaptorSignature,
		RedeemSecret:           s.RedeemSecret,
		PrimaryConfirmations:   s.PrimaryConfirmations,
		SecondaryConfirmations: s.SecondaryConfirmations,
		MessageExchangeTimeSec: s.MessageExchangeTimeSec,
		RedeemTimeSec:          s.RedeemTimeSec,
		Message1:               s.Message1,
		Message2:               s.Message2,
	}
	if s.RedeemPublic != nil {
		w.RedeemPublic = s.RedeemPublic.SerializeCompressed()
	}
	if s.Multisig != nil {
		w.Multisig = s.Multisig.Snapshot()
	}

	doc, err := json.Marshal(w)
	if err != nil {
		return nil, NewError(KindSerialization, err)
	}
	out := make([]byte, 4+len(doc))
	binary.BigEndian.PutUint32(out, uint32(len(doc)))
	copy(out[4:], doc)
	return out, nil
}

// Deserialize reconstructs a Session from a previous Serialize call. The
// Multisig builder is restored in whatever phase it was persisted in, but
// its selfBlind key must be re-derived via CreateParticipant before the
// session can finalize a new signature: see multisig.Restore.
func Deserialize(data []byte) (*Session, error) {
	if len(data) < 4 {
		return nil, NewError(KindSerialization, ErrTruncatedSession)
	}
	docLen := binary.BigEndian.Uint32(data)
	if uint32(len(data)-4) != docLen {
		return nil, NewError(KindSerialization, ErrTruncatedSession)
	}

	var w sessionWire
	if err := json.Unmarshal(data[4:], &w); err != nil {
		return nil, NewError(KindSerialization, err)
	}

	s := &Session{
		ID:                     w.ID,
		Version:                w.Version,
		Network:                w.Network,
		Role:                   w.Role,
		SellerLockFirst:        w.SellerLockFirst,
		Started:                time.Unix(w.Started, 0).UTC(),
		State:                  w.State,
		PrimaryAmount:          w.PrimaryAmount,
		SecondaryAmount:        w.SecondaryAmount,
		SecondaryCurrency:      w.SecondaryCurrency,
		SecondaryData:          w.SecondaryData,
		ParticipantID:          w.ParticipantID,
		Idx:                    w.Idx,
		LockSlate:              w.LockSlate,
		RefundSlate:            w.RefundSlate,
		RedeemSlate:            w.RedeemSlate,
		AdaptorSignature:       w.AdaptorSignature,
		RedeemSecret:           w.RedeemSecret,
		PrimaryConfirmations:   w.PrimaryConfirmations,
		SecondaryConfirmations: w.SecondaryConfirmations,
		MessageExchangeTimeSec: w.MessageExchangeTimeSec,
		RedeemTimeSec:          w.RedeemTimeSec,
		Message1:               w.Message1,
		Message2:               w.Message2,
	}

	if len(w.RedeemPublic) > 0 {
		pub, err := btcec.ParsePubKey(w.RedeemPublic)
		if err != nil {
			return nil, NewError(KindSerialization, err)
		}
		s.RedeemPublic = pub
	}

	builder, err := multisig.Restore(w.Multisig)
	if err != nil {
		return nil, NewError(KindSerialization, err)
	}
	s.Multisig = builder

	return s, nil
}
