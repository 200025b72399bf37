package swap

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwc-swap/swapcore/internal/ports"
)

type fakeKeychain struct{}

func (fakeKeychain) DeriveKey(ctx context.Context, amount uint64, keyID ports.KeyID, switchType ports.SwitchType) (*btcec.PrivateKey, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return priv, nil
}

func (fakeKeychain) Commit(ctx context.Context, amount uint64, keyID ports.KeyID, switchType ports.SwitchType) (ports.Commitment, error) {
	var c ports.Commitment
	_, err := rand.Read(c[:])
	return c, err
}

// TestSerializeRoundTrip is the T6 property: a session's durable
// serialization round-trips back to an equivalent session.
func TestSerializeRoundTrip(t *testing.T) {
	s := newTestSession(t, NewSellerRole("bc1qaddr", 250))
	pub, err := s.Multisig.CreateParticipant(fakeKeychain{}, []byte("keyid"))
	require.NoError(t, err)
	_ = pub

	data, err := s.Serialize()
	require.NoError(t, err)

	restored, err := Deserialize(data)
	require.NoError(t, err)

	assert.Equal(t, s.ID, restored.ID)
	assert.Equal(t, s.State, restored.State)
	assert.Equal(t, s.Role.Kind, restored.Role.Kind)
	assert.Equal(t, s.Role.SellerInfo.ChangeAmount, restored.Role.SellerInfo.ChangeAmount)
	assert.Equal(t, s.PrimaryAmount, restored.PrimaryAmount)
	assert.Equal(t, s.LockSlate.ID, restored.LockSlate.ID)
	assert.Equal(t, s.Multisig.Phase(), restored.Multisig.Phase())
}

func TestSerializeRoundTripWithAdaptorSignature(t *testing.T) {
	s := newTestSession(t, NewBuyerRole())
	s.AdaptorSignature = []byte{9, 9, 9}

	data, err := s.Serialize()
	require.NoError(t, err)

	restored, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, s.AdaptorSignature, restored.AdaptorSignature)
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	_, err := Deserialize([]byte("not json"))
	require.Error(t, err)
	var swapErr *Error
	require.ErrorAs(t, err, &swapErr)
	assert.Equal(t, KindSerialization, swapErr.Kind)
}

func TestSerializeIsLengthPrefixed(t *testing.T) {
	s := newTestSession(t, NewBuyerRole())

	data, err := s.Serialize()
	require.NoError(t, err)
	require.Greater(t, len(data), 4)
	assert.Equal(t, uint32(len(data)-4), binary.BigEndian.Uint32(data))
}

func TestDeserializeRejectsMismatchedPrefix(t *testing.T) {
	s := newTestSession(t, NewBuyerRole())
	data, err := s.Serialize()
	require.NoError(t, err)

	_, err = Deserialize(data[:len(data)-1])
	require.ErrorIs(t, err, ErrTruncatedSession)
}
