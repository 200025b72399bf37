package api

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwc-swap/swapcore/internal/config"
	"github.com/mwc-swap/swapcore/internal/message"
	"github.com/mwc-swap/swapcore/internal/multisig"
	"github.com/mwc-swap/swapcore/internal/ports"
	"github.com/mwc-swap/swapcore/internal/store"
	"github.com/mwc-swap/swapcore/internal/swap"
)

// memKeychain derives a deterministic key per keyID without a wallet seed.
type memKeychain struct {
	keys map[string]*btcec.PrivateKey
}

func newMemKeychain() *memKeychain {
	return &memKeychain{keys: map[string]*btcec.PrivateKey{}}
}

func (m *memKeychain) DeriveKey(_ context.Context, _ uint64, keyID ports.KeyID, _ ports.SwitchType) (*btcec.PrivateKey, error) {
	k := string(keyID)
	if priv, ok := m.keys[k]; ok {
		return priv, nil
	}
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	m.keys[k] = priv
	return priv, nil
}

func (m *memKeychain) Commit(ctx context.Context, amount uint64, keyID ports.KeyID, switchType ports.SwitchType) (ports.Commitment, error) {
	priv, err := m.DeriveKey(ctx, amount, keyID, switchType)
	if err != nil {
		return ports.Commitment{}, err
	}
	return multisig.Commit(amount, priv), nil
}

// captureTransport records every send.
type captureTransport struct {
	sent [][]byte
}

func (c *captureTransport) Send(_ context.Context, _ string, payload []byte) error {
	c.sent = append(c.sent, payload)
	return nil
}

func (c *captureTransport) envelopes(t *testing.T) []*message.Envelope {
	t.Helper()
	out := make([]*message.Envelope, 0, len(c.sent))
	for _, payload := range c.sent {
		env, err := message.Decode(payload)
		require.NoError(t, err)
		out = append(out, env)
	}
	return out
}

func newOutboundEngine(t *testing.T) (*Engine, *captureTransport) {
	t.Helper()
	st, err := store.New(store.Config{DataDir: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	transport := &captureTransport{}
	e := NewEngine(EngineConfig{
		Store:     st,
		Transport: transport,
		Keychain:  newMemKeychain(),
		Config:    config.DefaultSwapEngineConfig(config.Testnet),
	})
	return e, transport
}

func TestCreateSessionSendsOfferAndCommitment(t *testing.T) {
	e, transport := newOutboundEngine(t)
	s := startSellerSession(t, e)

	require.NotNil(t, s.Message1)

	envs := transport.envelopes(t)
	require.Len(t, envs, 2)
	assert.Equal(t, message.UpdateOffer, envs[0].Inner.Kind)
	assert.Equal(t, ordinalOffer, envs[0].Ordinal)
	assert.Equal(t, message.UpdateCommitmentExchange, envs[1].Inner.Kind)
	assert.Equal(t, ordinalCommit, envs[1].Ordinal)
	assert.Equal(t, s.LockSlate.ID, envs[1].Inner.CommitmentExchange.SlateID)
}

func buyerCommitmentEnvelope(t *testing.T, s *swap.Session) (*message.Envelope, *btcec.PrivateKey) {
	t.Helper()
	buyerBlind, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return &message.Envelope{
		SessionID: s.ID,
		Ordinal:   ordinalCommit,
		Version:   s.Version,
		Inner: message.Update{
			Kind: message.UpdateCommitmentExchange,
			CommitmentExchange: &message.CommitmentExchangeData{
				SlateID:           s.LockSlate.ID,
				PartialCommitment: buyerBlind.PubKey().SerializeCompressed(),
			},
		},
	}, buyerBlind
}

func TestPeerCommitmentCompletesMultisigAndBuildsMessage2(t *testing.T) {
	e, _ := newOutboundEngine(t)
	s := startSellerSession(t, e)

	env, _ := buyerCommitmentEnvelope(t, s)
	payload, err := env.Encode()
	require.NoError(t, err)

	applied, err := e.ProcessEnvelope(context.Background(), "peer-1", payload)
	require.NoError(t, err)
	require.True(t, applied)

	assert.Equal(t, multisig.PhaseComplete, s.Multisig.Phase())
	require.NotNil(t, s.Message2)

	env2, err := message.Decode(s.Message2)
	require.NoError(t, err)
	assert.Equal(t, message.UpdateSignaturesExchange, env2.Inner.Kind)
	assert.Equal(t, ordinalSigs, env2.Ordinal)
	assert.Equal(t, s.RedeemSlate.ID, env2.Inner.SignaturesExchange.SlateID)
	assert.NotEmpty(t, env2.Inner.SignaturesExchange.PublicExcess)
}

func TestBuyerSignaturesSetRedeemPublicOnSeller(t *testing.T) {
	e, _ := newOutboundEngine(t)
	s := startSellerSession(t, e)

	env, buyerBlind := buyerCommitmentEnvelope(t, s)
	payload, err := env.Encode()
	require.NoError(t, err)
	_, err = e.ProcessEnvelope(context.Background(), "peer-1", payload)
	require.NoError(t, err)

	sigEnv := &message.Envelope{
		SessionID: s.ID,
		Ordinal:   ordinalSigs,
		Version:   s.Version,
		Inner: message.Update{
			Kind: message.UpdateSignaturesExchange,
			SignaturesExchange: &message.SignaturesExchangeData{
				SlateID:      s.RedeemSlate.ID,
				PublicExcess: buyerBlind.PubKey().SerializeCompressed(),
			},
		},
	}
	sigPayload, err := sigEnv.Encode()
	require.NoError(t, err)

	applied, err := e.ProcessEnvelope(context.Background(), "peer-1", sigPayload)
	require.NoError(t, err)
	require.True(t, applied)

	require.NotNil(t, s.RedeemPublic)
	assert.Equal(t, buyerBlind.PubKey().SerializeCompressed(), s.RedeemPublic.SerializeCompressed())

	require.Len(t, s.RedeemSlate.Participants, 1)
	assert.Equal(t, uint8(1), s.RedeemSlate.Participants[0].ID)
}

func TestRetransmittedEnvelopeAppliesOnce(t *testing.T) {
	e, _ := newOutboundEngine(t)
	s := startSellerSession(t, e)

	env, _ := buyerCommitmentEnvelope(t, s)
	payload, err := env.Encode()
	require.NoError(t, err)

	applied, err := e.ProcessEnvelope(context.Background(), "peer-1", payload)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = e.ProcessEnvelope(context.Background(), "peer-1", payload)
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestTickRetransmitsCachedMessages(t *testing.T) {
	e, transport := newOutboundEngine(t)
	s := startSellerSession(t, e)

	before := len(transport.sent)
	_, err := e.Tick(context.Background(), s.ID)
	require.NoError(t, err)

	// The offer and Message1 go out again on every tick until the session
	// advances; the peer's dedup set absorbs them.
	require.Greater(t, len(transport.sent), before)
}
