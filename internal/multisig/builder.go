// Package multisig implements the 2-of-2 blinded Pedersen commitment and
// common-nonce scheme used to build a joint lock commitment: each party
// contributes a partial commitment C_i = r_i*G, the joint commitment is
// C = C_A + C_B + v*H, and both parties derive the same range-proof nonce
// from the two partial commitments without either learning the joint
// blinding factor alone.
package multisig

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/mwc-swap/swapcore/internal/ports"
)

// Phase tracks how far the builder has progressed.
type Phase string

const (
	PhaseEmpty    Phase = "empty"
	PhaseCommit   Phase = "commit"
	PhaseComplete Phase = "complete"
)

var (
	ErrIncomplete       = errors.New("multisig: fewer than 2 partial commitments present")
	ErrInvalidProof     = errors.New("multisig: peer commitment inconsistent with advertised amount")
	ErrAlreadyFinalized = errors.New("multisig: builder already in complete phase")
	ErrNotReady         = errors.New("multisig: self commitment not yet created")
)

// hGenerator is this engine's second generator H, derived deterministically
// from G by hashing its compressed serialization to a scalar and
// multiplying G by it. Any NUMS (nothing-up-my-sleeve) derivation works as
// long as both parties agree on it; this one does.
var hGenerator = deriveH()

func deriveH() *btcec.PublicKey {
	var one secp256k1.ModNScalar
	one.SetInt(1)
	var gJacobian secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&one, &gJacobian)
	gJacobian.ToAffine()
	g := btcec.NewPublicKey(&gJacobian.X, &gJacobian.Y)

	sum := sha256.Sum256(g.SerializeCompressed())
	var scalar secp256k1.ModNScalar
	scalar.SetByteSlice(sum[:])
	var jacobian secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(&scalar, &jacobian)
	jacobian.ToAffine()
	return btcec.NewPublicKey(&jacobian.X, &jacobian.Y)
}

// Commit returns the Pedersen commitment v*H + r*G in compressed form,
// using the same second generator H as the joint-commitment math so a
// keychain's commitments and this builder's agree bit-for-bit.
func Commit(amount uint64, blind *btcec.PrivateKey) ports.Commitment {
	var c ports.Commitment
	if amount == 0 {
		copy(c[:], blind.PubKey().SerializeCompressed())
		return c
	}

	var amountBytes [32]byte
	binary.BigEndian.PutUint64(amountBytes[24:], amount)
	var amountScalar secp256k1.ModNScalar
	amountScalar.SetByteSlice(amountBytes[:])

	var vH secp256k1.JacobianPoint
	hJacobian := toJacobian(hGenerator)
	secp256k1.ScalarMultNonConst(&amountScalar, &hJacobian, &vH)
	vH.ToAffine()

	point := addPoints(btcec.NewPublicKey(&vH.X, &vH.Y), blind.PubKey())
	copy(c[:], point.SerializeCompressed())
	return c
}

// partial holds one participant's contribution.
type partial struct {
	id         uint8
	commitment *btcec.PublicKey // r_i * G
}

// Builder accumulates both parties' partial commitments and derives the
// joint commitment and common nonce.
type Builder struct {
	partyID      uint8
	otherPartyID uint8
	amount       uint64
	phase        Phase

	self  *partial
	other *partial

	// selfBlind is r_self, kept only long enough to compute the joint
	// blinding factor at Finalize; never serialized.
	selfBlind *btcec.PrivateKey

	jointCommitment *btcec.PublicKey
	commonNonce     *secp256k1.ModNScalar
	rangeProofSeed  [32]byte
}

// New returns a builder in PhaseEmpty for the given amount, identified by
// the calling party's id and the peer's id (0 and 1, in either order).
func New(partyID, otherPartyID uint8, amount uint64) *Builder {
	return &Builder{
		partyID:      partyID,
		otherPartyID: otherPartyID,
		amount:       amount,
		phase:        PhaseEmpty,
	}
}

func (b *Builder) Phase() Phase { return b.phase }

// Snapshot captures everything needed to resume a Builder after restart
// except selfBlind, which is never serialized: the wallet re-derives it
// from the keychain at the same keyID via CreateParticipant instead of
// trusting a persisted copy of a blinding key.
type Snapshot struct {
	PartyID         uint8
	OtherPartyID    uint8
	Amount          uint64
	Phase           Phase
	SelfCommitment  []byte
	OtherCommitment []byte
	JointCommitment []byte
	CommonNonce     []byte
	RangeProofSeed  [32]byte
}

// Snapshot serializes the builder's public state.
func (b *Builder) Snapshot() Snapshot {
	snap := Snapshot{
		PartyID:        b.partyID,
		OtherPartyID:   b.otherPartyID,
		Amount:         b.amount,
		Phase:          b.phase,
		RangeProofSeed: b.rangeProofSeed,
	}
	if b.self != nil {
		snap.SelfCommitment = b.self.commitment.SerializeCompressed()
	}
	if b.other != nil {
		snap.OtherCommitment = b.other.commitment.SerializeCompressed()
	}
	if b.jointCommitment != nil {
		snap.JointCommitment = b.jointCommitment.SerializeCompressed()
	}
	if b.commonNonce != nil {
		nonceBytes := b.commonNonce.Bytes()
		snap.CommonNonce = nonceBytes[:]
	}
	return snap
}

// Restore rebuilds a Builder from a previously captured Snapshot. The
// caller must call CreateParticipant again (with the same keyID) before
// Finalize will succeed, since selfBlind is not part of the snapshot.
func Restore(snap Snapshot) (*Builder, error) {
	b := &Builder{
		partyID:        snap.PartyID,
		otherPartyID:   snap.OtherPartyID,
		amount:         snap.Amount,
		phase:          snap.Phase,
		rangeProofSeed: snap.RangeProofSeed,
	}
	if len(snap.SelfCommitment) > 0 {
		pub, err := btcec.ParsePubKey(snap.SelfCommitment)
		if err != nil {
			return nil, err
		}
		b.self = &partial{id: snap.PartyID, commitment: pub}
	}
	if len(snap.OtherCommitment) > 0 {
		pub, err := btcec.ParsePubKey(snap.OtherCommitment)
		if err != nil {
			return nil, err
		}
		b.other = &partial{id: snap.OtherPartyID, commitment: pub}
	}
	if len(snap.JointCommitment) > 0 {
		pub, err := btcec.ParsePubKey(snap.JointCommitment)
		if err != nil {
			return nil, err
		}
		b.jointCommitment = pub
	}
	if len(snap.CommonNonce) > 0 {
		var nonce secp256k1.ModNScalar
		nonce.SetByteSlice(snap.CommonNonce)
		b.commonNonce = &nonce
	}
	return b, nil
}

// CreateParticipant derives this party's blinding key via the keychain at
// keyID and contributes the partial commitment C_self = r_self*G.
func (b *Builder) CreateParticipant(keychain ports.Keychain, keyID ports.KeyID) (*btcec.PublicKey, error) {
	priv, err := keychain.DeriveKey(context.Background(), b.amount, keyID, ports.SwitchRegular)
	if err != nil {
		return nil, err
	}

	b.selfBlind = priv
	b.self = &partial{id: b.partyID, commitment: priv.PubKey()}
	b.advanceToCommit()
	return b.self.commitment, nil
}

// ImportPartialCommitment records the peer's partial commitment.
func (b *Builder) ImportPartialCommitment(other *btcec.PublicKey) error {
	b.other = &partial{id: b.otherPartyID, commitment: other}
	b.advanceToCommit()
	return nil
}

func (b *Builder) advanceToCommit() {
	if b.phase == PhaseEmpty {
		b.phase = PhaseCommit
	}
}

// ready reports whether both partial commitments are present.
func (b *Builder) ready() bool {
	return b.self != nil && b.other != nil
}

// CommonNonce returns Sum_i hash(C_i) interpreted as a scalar, with both
// partial commitments' compressed serializations hashed in ascending
// participant-id order so both parties derive the identical value.
func (b *Builder) CommonNonce() (*secp256k1.ModNScalar, error) {
	if !b.ready() {
		return nil, ErrIncomplete
	}
	if b.commonNonce != nil {
		return b.commonNonce, nil
	}

	ordered := []*partial{b.self, b.other}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })

	var sum secp256k1.ModNScalar
	for _, p := range ordered {
		h := sha256.Sum256(p.commitment.SerializeCompressed())
		var s secp256k1.ModNScalar
		s.SetByteSlice(h[:])
		sum.Add(&s)
	}

	b.commonNonce = &sum
	return b.commonNonce, nil
}

// JointCommitment returns C = C_A + C_B + v*H, the commitment both parties
// compute for the locked amount once both partial commitments are present.
func (b *Builder) JointCommitment() (*btcec.PublicKey, error) {
	if !b.ready() {
		return nil, ErrIncomplete
	}
	if b.jointCommitment != nil {
		return b.jointCommitment, nil
	}

	sumBlind := addPoints(b.self.commitment, b.other.commitment)

	var amountBytes [32]byte
	binary.BigEndian.PutUint64(amountBytes[24:], b.amount)
	var amountScalar secp256k1.ModNScalar
	amountScalar.SetByteSlice(amountBytes[:])
	var vH secp256k1.JacobianPoint
	hJacobian := toJacobian(hGenerator)
	secp256k1.ScalarMultNonConst(&amountScalar, &hJacobian, &vH)
	vH.ToAffine()
	vHPoint := btcec.NewPublicKey(&vH.X, &vH.Y)

	b.jointCommitment = addPoints(sumBlind, vHPoint)
	return b.jointCommitment, nil
}

// Finalize derives the joint range-proof nonce seed from the common nonce
// and this party's own blinding secret, and moves the builder to
// PhaseComplete. keyID is accepted for symmetry with CreateParticipant
// (some keychains rotate the blinding key at finalize time) but this
// construction reuses the key derived in CreateParticipant.
func (b *Builder) Finalize(keychain ports.Keychain, keyID ports.KeyID) error {
	if b.phase == PhaseComplete {
		return ErrAlreadyFinalized
	}
	if b.selfBlind == nil {
		return ErrNotReady
	}

	nonce, err := b.CommonNonce()
	if err != nil {
		return err
	}

	nonceBytes := nonce.Bytes()
	seed := sha256.Sum256(append(nonceBytes[:], b.selfBlind.Serialize()...))
	b.rangeProofSeed = seed
	b.phase = PhaseComplete
	return nil
}

// ParticipantFields returns this party's slate signing fields derived from
// the builder: the partial commitment as the public excess, and the common
// nonce mapped to its curve point as the public nonce both parties agree
// on. Available once both partial commitments are present.
func (b *Builder) ParticipantFields() (publicNonce, publicExcess []byte, err error) {
	if b.self == nil {
		return nil, nil, ErrNotReady
	}
	nonce, err := b.CommonNonce()
	if err != nil {
		return nil, nil, err
	}

	var noncePoint secp256k1.JacobianPoint
	secp256k1.ScalarBaseMultNonConst(nonce, &noncePoint)
	noncePoint.ToAffine()
	noncePub := btcec.NewPublicKey(&noncePoint.X, &noncePoint.Y)

	return noncePub.SerializeCompressed(), b.self.commitment.SerializeCompressed(), nil
}

// RangeProofSeed returns the seed derived at Finalize, used to build the
// joint range proof over JointCommitment.
func (b *Builder) RangeProofSeed() ([32]byte, error) {
	if b.phase != PhaseComplete {
		return [32]byte{}, ErrNotReady
	}
	return b.rangeProofSeed, nil
}

func addPoints(a, c *btcec.PublicKey) *btcec.PublicKey {
	aj := toJacobian(a)
	cj := toJacobian(c)
	var sum secp256k1.JacobianPoint
	secp256k1.AddNonConst(&aj, &cj, &sum)
	sum.ToAffine()
	return btcec.NewPublicKey(&sum.X, &sum.Y)
}

func toJacobian(p *btcec.PublicKey) secp256k1.JacobianPoint {
	var j secp256k1.JacobianPoint
	p.AsJacobian(&j)
	return j
}
