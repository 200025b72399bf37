package slate

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwc-swap/swapcore/internal/ports"
)

func commitmentFromByte(b byte) ports.Commitment {
	var c ports.Commitment
	c[0] = b
	return c
}

func TestInsertInputIdempotent(t *testing.T) {
	s := New()
	c := commitmentFromByte(5)

	inserted := s.InsertInput(c)
	assert.True(t, inserted)
	require.Len(t, s.Inputs, 1)

	inserted = s.InsertInput(c)
	assert.False(t, inserted, "inserting the same commitment twice must be a no-op")
	require.Len(t, s.Inputs, 1)
}

func TestInsertInputCanonicalOrder(t *testing.T) {
	s := New()
	order := []byte{9, 1, 5, 3, 7}
	for _, b := range order {
		s.InsertInput(commitmentFromByte(b))
	}

	require.Len(t, s.Inputs, len(order))
	for i := 1; i < len(s.Inputs); i++ {
		assert.True(t, compareCommitments(s.Inputs[i-1].Commitment, s.Inputs[i].Commitment) < 0)
	}
}

func TestInsertInputBuildsSameSlateRegardlessOfOrder(t *testing.T) {
	a := New()
	b := New()
	forward := []byte{1, 2, 3, 4}
	backward := []byte{4, 3, 2, 1}

	for _, x := range forward {
		a.InsertInput(commitmentFromByte(x))
	}
	for _, x := range backward {
		b.InsertInput(commitmentFromByte(x))
	}

	require.Equal(t, a.Inputs, b.Inputs, "canonical ordering must converge regardless of insertion order")
}

func TestInsertOutputIdempotent(t *testing.T) {
	s := New()
	c := commitmentFromByte(2)
	proof := []byte{1, 2, 3}

	assert.True(t, s.InsertOutput(c, proof))
	assert.False(t, s.InsertOutput(c, proof))
	require.Len(t, s.Outputs, 1)
}

func TestInsertOutputDistinguishesProof(t *testing.T) {
	s := New()
	c := commitmentFromByte(2)

	assert.True(t, s.InsertOutput(c, []byte{1}))
	assert.True(t, s.InsertOutput(c, []byte{2}))
	require.Len(t, s.Outputs, 2)
}

func TestExtractSecretRecoversK(t *testing.T) {
	var kScalar secp256k1.ModNScalar
	kScalar.SetInt(424242)

	var sAdapted secp256k1.ModNScalar
	sAdapted.SetInt(1000000)

	var sPublished secp256k1.ModNScalar
	sPublished.Set(&sAdapted).Add(&kScalar)

	var published, adapted [64]byte
	adaptedBytes := sAdapted.Bytes()
	publishedBytes := sPublished.Bytes()
	copy(published[32:], publishedBytes[:])
	copy(adapted[32:], adaptedBytes[:])

	k, err := ExtractSecret(published, adapted)
	require.NoError(t, err)
	expected := kScalar.Bytes()
	assert.Equal(t, expected, k)
}

func TestRedeemSigFieldsRejectsWrongParticipantCount(t *testing.T) {
	_, _, _, err := RedeemSigFields([]ParticipantData{{ID: 0}})
	require.ErrorIs(t, err, ErrWrongParticipantCount)

	_, _, _, err = RedeemSigFields([]ParticipantData{{ID: 0}, {ID: 1}, {ID: 2}})
	require.ErrorIs(t, err, ErrWrongParticipantCount)
}

func TestRedeemSigFieldsOrdersByParticipantID(t *testing.T) {
	priv0, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	priv1, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	p1 := ParticipantData{ID: 1, PublicNonce: priv1.PubKey().SerializeCompressed(), PublicExcess: priv1.PubKey().SerializeCompressed()}
	p0 := ParticipantData{ID: 0, PublicNonce: priv0.PubKey().SerializeCompressed(), PublicExcess: priv0.PubKey().SerializeCompressed()}

	_, _, ordered, err := RedeemSigFields([]ParticipantData{p1, p0})
	require.NoError(t, err)
	assert.Equal(t, uint8(0), ordered[0].ID)
	assert.Equal(t, uint8(1), ordered[1].ID)
}

func TestValidateRejectsEmptySlate(t *testing.T) {
	s := New()
	err := s.Validate()
	require.ErrorIs(t, err, ErrEmptyTransaction)
}

type fakeNodeClient struct {
	kernel    *ports.Kernel
	postErr   error
	postCalls int
}

func (f *fakeNodeClient) GetKernel(_ context.Context, _ ports.Commitment, _, _ uint64) (*ports.Kernel, uint64, uint64, error) {
	return f.kernel, 0, 0, nil
}
func (f *fakeNodeClient) PostTx(_ context.Context, _ []byte, _ bool) error {
	f.postCalls++
	return f.postErr
}
func (f *fakeNodeClient) GetTip(_ context.Context) (uint64, [32]byte, error) { return 0, [32]byte{}, nil }
func (f *fakeNodeClient) GetHeader(_ context.Context, _ uint64) (int64, error) { return 0, nil }

func TestPublishRejectsEmptySlate(t *testing.T) {
	s := New()
	node := &fakeNodeClient{}
	err := s.Publish(context.Background(), node, []byte{1}, true)
	require.Error(t, err)
	assert.Equal(t, 0, node.postCalls)
	assert.False(t, s.Published)
}

func TestPublishSucceeds(t *testing.T) {
	s := New()
	s.InsertInput(commitmentFromByte(1))
	node := &fakeNodeClient{}
	err := s.Publish(context.Background(), node, []byte{1}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, node.postCalls)
	assert.True(t, s.Published)
}

func TestPublishSurfacesNodeError(t *testing.T) {
	s := New()
	s.InsertInput(commitmentFromByte(1))
	node := &fakeNodeClient{postErr: errors.New("rpc unavailable")}
	err := s.Publish(context.Background(), node, []byte{1}, true)
	require.Error(t, err)
	assert.False(t, s.Published)
}

func TestFindRedeemKernelReturnsOnFirstSighting(t *testing.T) {
	node := &fakeNodeClient{kernel: &ports.Kernel{Fee: 100}}
	ticks := make(chan struct{}, 1)
	ticks <- struct{}{}

	kernel, err := FindRedeemKernel(context.Background(), node, ports.Commitment{}, 0, 100, func() <-chan struct{} { return ticks })
	require.NoError(t, err)
	require.NotNil(t, kernel)
	assert.Equal(t, uint64(100), kernel.Fee)
}

func TestNegotiateVersionAcceptsSupported(t *testing.T) {
	v, err := NegotiateVersion(1)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), v)
}

func TestNegotiateVersionRejectsUnsupported(t *testing.T) {
	_, err := NegotiateVersion(99)
	require.ErrorIs(t, err, ErrIncompatibleVersion)
}
