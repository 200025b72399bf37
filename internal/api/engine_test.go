package api

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mwc-swap/swapcore/internal/config"
	"github.com/mwc-swap/swapcore/internal/message"
	"github.com/mwc-swap/swapcore/internal/store"
	"github.com/mwc-swap/swapcore/internal/swap"
)

func newTestEngine(t *testing.T, dataDir string) *Engine {
	t.Helper()
	st, err := store.New(store.Config{DataDir: dataDir})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return NewEngine(EngineConfig{
		Store:  st,
		Config: config.DefaultSwapEngineConfig(config.Testnet),
	})
}

func startSellerSession(t *testing.T, e *Engine) *swap.Session {
	t.Helper()
	s, err := e.CreateSession(context.Background(), CreateSessionParams{
		Role:            swap.RoleSeller,
		RefundAddress:   "mwc1refund",
		PeerID:          "peer-1",
		PrimaryAmount:   1_000_000,
		SecondaryAmount: 50_000,
		SecondarySymbol: "BTC",
	})
	require.NoError(t, err)
	return s
}

func TestCreateSessionPersistsAndRegisters(t *testing.T) {
	e := newTestEngine(t, t.TempDir())

	s := startSellerSession(t, e)
	assert.Equal(t, swap.StateInit, s.State)

	got, err := e.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)

	data, err := e.store.ReadSession(context.Background(), s.ID.String())
	require.NoError(t, err)
	restored, err := swap.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, s.ID, restored.ID)
}

func TestCreateSessionRejectsUnknownSecondary(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	_, err := e.CreateSession(context.Background(), CreateSessionParams{
		Role:            swap.RoleBuyer,
		PeerID:          "peer-1",
		PrimaryAmount:   1,
		SecondaryAmount: 1,
		SecondarySymbol: "NOTACOIN",
	})
	require.ErrorIs(t, err, ErrUnknownSecondary)
}

func TestGetSessionNotFound(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	_, err := e.GetSession(uuid.New())
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func offerEnvelope(sessionID uuid.UUID, ordinal uint64) *message.Envelope {
	return &message.Envelope{
		SessionID: sessionID,
		Ordinal:   ordinal,
		Version:   1,
		Inner: message.Update{
			Kind: message.UpdateOffer,
			Offer: &message.OfferData{
				PrimaryAmount:   1_000_000,
				SecondaryAmount: 50_000,
				SecondarySymbol: "BTC",
			},
		},
	}
}

func TestProcessEnvelopeAppliesAndDedups(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	s := startSellerSession(t, e)

	env := offerEnvelope(s.ID, 0)
	raw, err := env.Encode()
	require.NoError(t, err)

	applied, err := e.ProcessEnvelope(context.Background(), "peer-1", raw)
	require.NoError(t, err)
	assert.True(t, applied)

	st, err := e.lookup(s.ID)
	require.NoError(t, err)
	assert.True(t, st.offerExchanged)

	applied, err = e.ProcessEnvelope(context.Background(), "peer-1", raw)
	require.NoError(t, err)
	assert.False(t, applied, "duplicate ordinal must be a no-op")
}

func TestProcessEnvelopeRejectsUnknownSession(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	env := offerEnvelope(uuid.New(), 0)
	raw, err := env.Encode()
	require.NoError(t, err)

	_, err = e.ProcessEnvelope(context.Background(), "peer-1", raw)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestTickAdvancesPastOfferExchanged(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	s := startSellerSession(t, e)

	raw, err := offerEnvelope(s.ID, 0).Encode()
	require.NoError(t, err)
	_, err = e.ProcessEnvelope(context.Background(), "peer-1", raw)
	require.NoError(t, err)

	transitioned, err := e.Tick(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, transitioned)

	got, err := e.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, swap.StateOfferExchanged, got.State)
}

func TestCancelSessionTransitionsAndPersists(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	s := startSellerSession(t, e)

	require.NoError(t, e.CancelSession(context.Background(), s.ID, "operator abort"))

	got, err := e.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, swap.StateCancelled, got.State)

	data, err := e.store.ReadSession(context.Background(), s.ID.String())
	require.NoError(t, err)
	restored, err := swap.Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, swap.StateCancelled, restored.State)
}

func TestLoadPendingReloadsFromStore(t *testing.T) {
	dir := t.TempDir()
	e1 := newTestEngine(t, dir)
	s := startSellerSession(t, e1)

	st2, err := store.New(store.Config{DataDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { st2.Close() })

	e2 := NewEngine(EngineConfig{
		Store:  st2,
		Config: config.DefaultSwapEngineConfig(config.Testnet),
	})
	n, err := e2.LoadPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e2.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestListSessions(t *testing.T) {
	e := newTestEngine(t, t.TempDir())
	startSellerSession(t, e)
	startSellerSession(t, e)

	assert.Len(t, e.ListSessions(), 2)
}
