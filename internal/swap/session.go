package swap

import (
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"

	"github.com/mwc-swap/swapcore/internal/chain"
	"github.com/mwc-swap/swapcore/internal/multisig"
	"github.com/mwc-swap/swapcore/internal/slate"
)

// SecondaryCurrency tags the non-primary leg of a swap with the fields the
// time schedule and lock-address construction need; secondary_data itself
// is opaque to this package.
type SecondaryCurrency struct {
	Symbol              string
	Network             chain.Network
	BlockTimePeriodSec   uint64
	MinConfirmations     uint32
}

// Session is the unique record of one trade, per-field documentation
// matching the data model this engine implements.
type Session struct {
	ID      uuid.UUID
	Version uint8
	Network chain.Network

	Role            Role
	SellerLockFirst bool

	Started time.Time
	State   StateID

	PrimaryAmount      uint64
	SecondaryAmount    uint64
	SecondaryCurrency  SecondaryCurrency
	SecondaryData      []byte // opaque, owned by the secondary currency module

	RedeemPublic *btcec.PublicKey

	ParticipantID uint8

	// Idx is always written as 0; retained for wire compatibility and
	// never read by any operation.
	Idx uint32

	Multisig *multisig.Builder

	LockSlate   *slate.Slate
	RefundSlate *slate.Slate
	RedeemSlate *slate.Slate

	// AdaptorSignature is the Buyer's Schnorr signature on the redeem
	// kernel with its final 32 bytes blinded by the Buyer's secret-reveal
	// key k. Present only once the Buyer has committed to redeeming.
	AdaptorSignature []byte

	// RedeemSecret is the 32-byte secret k: the Buyer generates it when
	// preparing the secondary-chain lock, the Seller recovers it from the
	// published redeem kernel signature minus AdaptorSignature. It gates
	// the Seller's secondary-chain claim.
	RedeemSecret []byte

	PrimaryConfirmations   uint32
	SecondaryConfirmations uint32

	MessageExchangeTimeSec uint64
	RedeemTimeSec          uint64

	Message1 []byte
	Message2 []byte
}

// NewSession creates a session for role in the given network, generating
// four distinct UUIDs for the session itself and its three slates
// (invariant 4).
func NewSession(
	version uint8,
	network chain.Network,
	role Role,
	sellerLockFirst bool,
	now time.Time,
	primaryAmount uint64,
	secondaryAmount uint64,
	secondaryCurrency SecondaryCurrency,
	secondaryData []byte,
	messageExchangeTimeSec uint64,
	redeemTimeSec uint64,
) (*Session, error) {
	s := &Session{
		ID:                     uuid.New(),
		Version:                version,
		Network:                network,
		Role:                   role,
		SellerLockFirst:        sellerLockFirst,
		Started:                now,
		State:                  StateInit,
		PrimaryAmount:          primaryAmount,
		SecondaryAmount:        secondaryAmount,
		SecondaryCurrency:      secondaryCurrency,
		SecondaryData:          secondaryData,
		ParticipantID:          role.Kind.ParticipantID(),
		LockSlate:              slate.New(),
		RefundSlate:            slate.New(),
		RedeemSlate:            slate.New(),
		MessageExchangeTimeSec: messageExchangeTimeSec,
		RedeemTimeSec:          redeemTimeSec,
	}
	s.Multisig = multisig.New(s.ParticipantID, 1-s.ParticipantID, primaryAmount)

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// ChangeAmount returns the portion of the seller's selected inputs beyond
// primary_amount that the lock slate returns to the seller. Zero for the
// Buyer role, which never selects primary-chain inputs.
func (s *Session) ChangeAmount() uint64 {
	if s.Role.Kind != RoleSeller || s.Role.SellerInfo == nil {
		return 0
	}
	return s.Role.SellerInfo.ChangeAmount
}

// RefundAmount returns primary_amount minus the refund slate's fee, the
// amount the refund transaction returns to the Seller.
func (s *Session) RefundAmount() (uint64, error) {
	if s.RefundSlate == nil || s.PrimaryAmount <= s.RefundSlate.Fee {
		return 0, NewError(KindInvalidState, ErrInvalidState)
	}
	return s.PrimaryAmount - s.RefundSlate.Fee, nil
}

// Validate checks the session invariants that concern the record's own
// fields: primary amount above the refund fee, a participant id of 0 or 1
// matching the role, four distinct session and slate ids, and an adaptor
// signature only alongside a redeem public key and a complete multisig
// builder. It does not check the derived schedule or that a terminal
// session stays unchanged. Callers run it after construction and before
// every accepted FSM transition.
func (s *Session) Validate() error {
	if s.RefundSlate == nil || s.PrimaryAmount <= s.RefundSlate.Fee {
		return NewError(KindInvalidState, ErrInvalidState)
	}

	if s.ParticipantID != 0 && s.ParticipantID != 1 {
		return NewError(KindInvalidState, ErrParticipantIDInvalid)
	}

	switch s.Role.Kind {
	case RoleSeller:
		if s.ParticipantID != 0 {
			return NewError(KindUnexpectedRole, ErrUnexpectedRole)
		}
	case RoleBuyer:
		if s.ParticipantID != 1 {
			return NewError(KindUnexpectedRole, ErrUnexpectedRole)
		}
	default:
		return NewError(KindUnexpectedRole, ErrUnexpectedRole)
	}

	if s.LockSlate == nil || s.RefundSlate == nil || s.RedeemSlate == nil {
		return NewError(KindInvalidState, ErrDuplicateSlateID)
	}
	ids := map[uuid.UUID]bool{s.ID: true}
	for _, sl := range []*slate.Slate{s.LockSlate, s.RefundSlate, s.RedeemSlate} {
		if ids[sl.ID] {
			return NewError(KindInvalidState, ErrDuplicateSlateID)
		}
		ids[sl.ID] = true
	}

	if s.AdaptorSignature != nil {
		if s.RedeemPublic == nil {
			return NewError(KindInvalidState, ErrInvalidState)
		}
		if s.Multisig == nil || s.Multisig.Phase() != multisig.PhaseComplete {
			return NewError(KindMultiSigIncomplete, ErrMultiSigIncomplete)
		}
	}

	return nil
}
