// Package message defines the peer-to-peer envelope exchanged between the
// two sides of a swap: a session id, an ordinal for idempotent dedup, a
// primary-chain Update variant, and an opaque secondary-chain update the
// core never interprets.
package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// UpdateKind tags which variant of Update a message carries. Go has no sum
// type, so Update is a Kind-plus-optional-pointer-fields struct: exactly
// one of the pointer fields is non-nil, selected by Kind.
type UpdateKind string

const (
	UpdateOffer               UpdateKind = "offer"
	UpdateCommitmentExchange  UpdateKind = "commitment_exchange"
	UpdateSignaturesExchange  UpdateKind = "signatures_exchange"
	UpdateLockObserved        UpdateKind = "lock_observed"
	UpdateRedeemPublished     UpdateKind = "redeem_published"
	UpdateRefundPublished     UpdateKind = "refund_published"
	UpdateCancel              UpdateKind = "cancel"
)

// OfferData opens a session: the terms one party proposes.
type OfferData struct {
	PrimaryAmount     uint64 `json:"primary_amount"`
	SecondaryAmount   uint64 `json:"secondary_amount"`
	SecondarySymbol   string `json:"secondary_symbol"`
	SellerLockFirst   bool   `json:"seller_lock_first"`
	RefundAddress     string `json:"refund_address,omitempty"`
	MessageExchangeSec uint64 `json:"message_exchange_time_sec"`
	RedeemTimeSec      uint64 `json:"redeem_time_sec"`
}

// CommitmentExchangeData carries one party's partial Pedersen commitment
// for the lock, refund, or redeem slate (identified by SlateID).
type CommitmentExchangeData struct {
	SlateID           uuid.UUID `json:"slate_id"`
	PartialCommitment []byte    `json:"partial_commitment"`
}

// SignaturesExchangeData carries one party's finalized partial signature
// data for a slate.
type SignaturesExchangeData struct {
	SlateID          uuid.UUID `json:"slate_id"`
	PublicNonce      []byte    `json:"public_nonce"`
	PublicExcess     []byte    `json:"public_excess"`
	PartialSignature []byte    `json:"partial_signature"`
}

// LockObservedData announces a lock transaction on Chain. The engine sends
// it when the Buyer's secondary lock is broadcast, with Confirmations set
// to the depth the session requires on that chain.
type LockObservedData struct {
	Chain          string `json:"chain"`
	Confirmations  uint32 `json:"confirmations"`
	ObservedHeight uint64 `json:"observed_height"`
}

// RedeemPublishedData is sent by the Buyer once the redeem transaction is
// broadcast, carrying the data the Seller needs to find the kernel and
// extract the secret.
type RedeemPublishedData struct {
	KernelExcess     []byte `json:"kernel_excess"`
	AdaptorSignature []byte `json:"adaptor_signature"`
}

// RefundPublishedData announces a refund transaction broadcast.
type RefundPublishedData struct {
	SlateID uuid.UUID `json:"slate_id"`
}

// CancelData carries the reason a party is abandoning the session.
type CancelData struct {
	Reason string `json:"reason"`
}

// Update is the primary-chain payload of one envelope.
type Update struct {
	Kind UpdateKind

	Offer               *OfferData
	CommitmentExchange  *CommitmentExchangeData
	SignaturesExchange  *SignaturesExchangeData
	LockObserved        *LockObservedData
	RedeemPublished     *RedeemPublishedData
	RefundPublished     *RefundPublishedData
	Cancel              *CancelData
}

// Envelope is one peer-to-peer message. InnerSecondary is opaque to the
// core and defined per secondary currency module; it is carried as raw
// JSON so this package never needs to know its shape.
type Envelope struct {
	SessionID      uuid.UUID       `json:"session_id"`
	Ordinal        uint64          `json:"ordinal"`
	Version        uint8           `json:"version"`
	Inner          Update          `json:"inner"`
	InnerSecondary json.RawMessage `json:"inner_secondary,omitempty"`
}

var (
	ErrUnknownUpdateKind = errors.New("message: unknown update kind")
	ErrMissingPayload    = errors.New("message: update kind's payload field is nil")
)

// wireUpdate is Update's JSON wire shape: a kind tag plus one payload
// field, keeping the envelope's on-wire form a flat discriminated union
// instead of Go's internal pointer-field layout.
type wireUpdate struct {
	Kind    UpdateKind      `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

func (u Update) MarshalJSON() ([]byte, error) {
	var payload any
	var missing bool
	switch u.Kind {
	case UpdateOffer:
		payload, missing = u.Offer, u.Offer == nil
	case UpdateCommitmentExchange:
		payload, missing = u.CommitmentExchange, u.CommitmentExchange == nil
	case UpdateSignaturesExchange:
		payload, missing = u.SignaturesExchange, u.SignaturesExchange == nil
	case UpdateLockObserved:
		payload, missing = u.LockObserved, u.LockObserved == nil
	case UpdateRedeemPublished:
		payload, missing = u.RedeemPublished, u.RedeemPublished == nil
	case UpdateRefundPublished:
		payload, missing = u.RefundPublished, u.RefundPublished == nil
	case UpdateCancel:
		payload, missing = u.Cancel, u.Cancel == nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownUpdateKind, u.Kind)
	}
	if missing {
		return nil, fmt.Errorf("%w: %q", ErrMissingPayload, u.Kind)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireUpdate{Kind: u.Kind, Payload: raw})
}

func (u *Update) UnmarshalJSON(data []byte) error {
	var w wireUpdate
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	u.Kind = w.Kind

	switch w.Kind {
	case UpdateOffer:
		u.Offer = &OfferData{}
		return json.Unmarshal(w.Payload, u.Offer)
	case UpdateCommitmentExchange:
		u.CommitmentExchange = &CommitmentExchangeData{}
		return json.Unmarshal(w.Payload, u.CommitmentExchange)
	case UpdateSignaturesExchange:
		u.SignaturesExchange = &SignaturesExchangeData{}
		return json.Unmarshal(w.Payload, u.SignaturesExchange)
	case UpdateLockObserved:
		u.LockObserved = &LockObservedData{}
		return json.Unmarshal(w.Payload, u.LockObserved)
	case UpdateRedeemPublished:
		u.RedeemPublished = &RedeemPublishedData{}
		return json.Unmarshal(w.Payload, u.RedeemPublished)
	case UpdateRefundPublished:
		u.RefundPublished = &RefundPublishedData{}
		return json.Unmarshal(w.Payload, u.RefundPublished)
	case UpdateCancel:
		u.Cancel = &CancelData{}
		return json.Unmarshal(w.Payload, u.Cancel)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownUpdateKind, w.Kind)
	}
}

// Encode serializes the envelope for transport.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses an envelope previously produced by Encode.
func Decode(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// DedupKey is the idempotency key for message handling: (session id,
// ordinal).
type DedupKey struct {
	SessionID uuid.UUID
	Ordinal   uint64
}

// Key returns this envelope's dedup key.
func (e *Envelope) Key() DedupKey {
	return DedupKey{SessionID: e.SessionID, Ordinal: e.Ordinal}
}
