// Package slate implements the primary-chain transaction template (the
// "slate") shared incrementally between both swap participants, and the
// transaction helpers that operate on it: canonical, idempotent
// input/output insertion so both parties converge on a bit-identical
// transaction and therefore an identical kernel excess, adaptor-signature
// secret extraction, and publishing via the node client.
package slate

import (
	"bytes"
	"context"
	"errors"
	"sort"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/google/uuid"

	"github.com/mwc-swap/swapcore/internal/ports"
)

// CurrentVersion is the slate wire version this engine produces.
// SupportedVersions lists every version it can still read, oldest first.
const CurrentVersion uint8 = 1

var SupportedVersions = []uint8{1}

var (
	ErrIncompatibleVersion = errors.New("slate: peer version not in supported set")
	ErrWrongParticipantCount = errors.New("slate: redeem signature fields require exactly 2 participants")
	ErrNotPublished          = errors.New("slate: transaction not yet published")
	ErrEmptyTransaction      = errors.New("slate: transaction has no inputs or outputs")
)

// InputFeatures mirrors the kernel feature byte for an input; this engine
// only ever inserts Plain inputs into a slate.
type InputFeatures uint8

const PlainInput InputFeatures = 0

// Input is one spent commitment in a slate.
type Input struct {
	Features   InputFeatures
	Commitment ports.Commitment
}

// Output is one created commitment in a slate, with its range proof.
type Output struct {
	Commitment ports.Commitment
	Proof      []byte
}

// ParticipantData is one party's contribution to the slate's aggregate
// signature: a public nonce, a public excess (blinding factor commitment),
// and, once available, the partial signature itself.
type ParticipantData struct {
	ID               uint8
	PublicNonce      []byte
	PublicExcess     []byte
	PartialSignature []byte
}

// Slate is one of the three primary-chain transaction templates
// (lock/refund/redeem) built up incrementally by both parties.
type Slate struct {
	ID           uuid.UUID
	Fee          uint64
	LockHeight   uint64
	Inputs       []Input
	Outputs      []Output
	Participants []ParticipantData
	Published    bool
	Kernel       *ports.Kernel
}

// New returns an empty slate with a fresh id.
func New() *Slate {
	return &Slate{ID: uuid.New()}
}

func compareCommitments(a, c ports.Commitment) int {
	return bytes.Compare(a[:], c[:])
}

// InsertInput inserts commitment at the position binary search finds in
// the existing, sorted inputs. If an input with the same commitment is
// already present this is a no-op (idempotent), returning false.
func (s *Slate) InsertInput(commitment ports.Commitment) bool {
	i := sort.Search(len(s.Inputs), func(i int) bool {
		return compareCommitments(s.Inputs[i].Commitment, commitment) >= 0
	})
	if i < len(s.Inputs) && compareCommitments(s.Inputs[i].Commitment, commitment) == 0 {
		return false
	}
	s.Inputs = append(s.Inputs, Input{})
	copy(s.Inputs[i+1:], s.Inputs[i:])
	s.Inputs[i] = Input{Features: PlainInput, Commitment: commitment}
	return true
}

// outputLess orders outputs by commitment, then by range proof, the
// natural ordering of the (commitment, proof) key.
func outputLess(a, c Output) bool {
	if cmp := compareCommitments(a.Commitment, c.Commitment); cmp != 0 {
		return cmp < 0
	}
	return bytes.Compare(a.Proof, c.Proof) < 0
}

func outputEqual(a, c Output) bool {
	return compareCommitments(a.Commitment, c.Commitment) == 0 && bytes.Equal(a.Proof, c.Proof)
}

// InsertOutput inserts (commitment, proof) at the position binary search
// finds among the existing, sorted outputs. If the same (commitment,
// proof) pair is already present this is a no-op, returning false.
func (s *Slate) InsertOutput(commitment ports.Commitment, proof []byte) bool {
	candidate := Output{Commitment: commitment, Proof: proof}
	i := sort.Search(len(s.Outputs), func(i int) bool {
		return !outputLess(s.Outputs[i], candidate)
	})
	if i < len(s.Outputs) && outputEqual(s.Outputs[i], candidate) {
		return false
	}
	s.Outputs = append(s.Outputs, Output{})
	copy(s.Outputs[i+1:], s.Outputs[i:])
	s.Outputs[i] = candidate
	return true
}

// ExtractSecret recovers the buyer's secret-reveal scalar k from a
// published 64-byte Schnorr signature and the adaptor (pre-k-blinded)
// signature with the same nonce: bytes [32:64) of each is the scalar `s`
// component, and s_published - s_adapted = k.
func ExtractSecret(published, adapted [64]byte) ([32]byte, error) {
	var sPub, sAdapted secp256k1.ModNScalar
	if overflow := sPub.SetByteSlice(published[32:64]); overflow {
		return [32]byte{}, errors.New("slate: published signature scalar overflows the curve order")
	}
	if overflow := sAdapted.SetByteSlice(adapted[32:64]); overflow {
		return [32]byte{}, errors.New("slate: adaptor signature scalar overflows the curve order")
	}

	var negAdapted secp256k1.ModNScalar
	negAdapted.Set(&sAdapted).Negate()

	var k secp256k1.ModNScalar
	k.Set(&sPub).Add(&negAdapted)

	return k.Bytes(), nil
}

// RedeemSigFields derives the combined public nonce and public excess, and
// reports the two participants in ascending id order, required to build
// the kernel signature message for a slate. It rejects any count other
// than exactly 2: a 2-of-2 scheme admits no other party count.
func RedeemSigFields(participants []ParticipantData) (combinedNonce, combinedExcess []byte, ordered []ParticipantData, err error) {
	if len(participants) != 2 {
		return nil, nil, nil, ErrWrongParticipantCount
	}

	ordered = append([]ParticipantData(nil), participants...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	combinedNonce = addSerializedPoints(ordered[0].PublicNonce, ordered[1].PublicNonce)
	combinedExcess = addSerializedPoints(ordered[0].PublicExcess, ordered[1].PublicExcess)
	return combinedNonce, combinedExcess, ordered, nil
}

func addSerializedPoints(a, b []byte) []byte {
	pa, errA := parseCompressedPoint(a)
	pb, errB := parseCompressedPoint(b)
	if errA != nil || errB != nil {
		return nil
	}
	var sum secp256k1.JacobianPoint
	secp256k1.AddNonConst(pa, pb, &sum)
	sum.ToAffine()
	out := make([]byte, 33)
	if sum.Y.IsOdd() {
		out[0] = 0x03
	} else {
		out[0] = 0x02
	}
	xBytes := sum.X.Bytes()
	copy(out[1:], xBytes[:])
	return out
}

func parseCompressedPoint(b []byte) (*secp256k1.JacobianPoint, error) {
	pub, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return nil, err
	}
	var j secp256k1.JacobianPoint
	pub.AsJacobian(&j)
	return &j, nil
}

// Validate checks this slate is well-formed enough to submit as a
// standalone transaction: at least one input or output. The fee is not
// checked.
func (s *Slate) Validate() error {
	if len(s.Inputs) == 0 && len(s.Outputs) == 0 {
		return ErrEmptyTransaction
	}
	return nil
}

// Publish validates the slate, then submits txBytes to the node client.
// fluff controls whether to skip dandelion aggregation and broadcast
// immediately.
func (s *Slate) Publish(ctx context.Context, node ports.NodeClient, txBytes []byte, fluff bool) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := node.PostTx(ctx, txBytes, fluff); err != nil {
		return err
	}
	s.Published = true
	return nil
}

// FindRedeemKernel polls the node client for this slate's kernel between
// minHeight and maxHeight, stopping at the first sighting, a context
// cancellation, or a non-not-found error from the node client.
func FindRedeemKernel(ctx context.Context, node ports.NodeClient, excess ports.Commitment, minHeight, maxHeight uint64, pollEvery func() <-chan struct{}) (*ports.Kernel, error) {
	for {
		kernel, _, _, err := node.GetKernel(ctx, excess, minHeight, maxHeight)
		if err != nil {
			return nil, err
		}
		if kernel != nil {
			return kernel, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-pollEvery():
		}
	}
}

// NegotiateVersion returns the highest version both peers support, or
// ErrIncompatibleVersion if the peer's version is not in this engine's
// supported set.
func NegotiateVersion(peerVersion uint8) (uint8, error) {
	for i := len(SupportedVersions) - 1; i >= 0; i-- {
		if SupportedVersions[i] == peerVersion {
			return peerVersion, nil
		}
	}
	return 0, ErrIncompatibleVersion
}
