// Package api is the process-facing coordination layer on top of
// internal/fsm: it owns the in-memory session table, drives NextState/Tick
// and ApplyEnvelope against persisted sessions, and exposes both a JSON-RPC
// 2.0 server and a WebSocket status push for operators and UIs.
package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/mwc-swap/swapcore/internal/chain"
	"github.com/mwc-swap/swapcore/internal/config"
	"github.com/mwc-swap/swapcore/internal/fsm"
	"github.com/mwc-swap/swapcore/internal/message"
	"github.com/mwc-swap/swapcore/internal/ports"
	"github.com/mwc-swap/swapcore/internal/schedule"
	"github.com/mwc-swap/swapcore/internal/swap"
	"github.com/mwc-swap/swapcore/pkg/clock"
	"github.com/mwc-swap/swapcore/pkg/logging"
)

var (
	ErrSessionNotFound  = fmt.Errorf("api: session not found")
	ErrUnknownSecondary = fmt.Errorf("api: secondary currency not registered for this network")
)

// sessionState is the in-memory bookkeeping the engine keeps alongside a
// persisted swap.Session: dedup state for inbound envelopes and the
// process-local flags that feed fsm.Guards fields ApplyEnvelope doesn't
// already encode on the session itself.
type sessionState struct {
	mu             sync.Mutex
	session        *swap.Session
	seen           fsm.Seen
	peerID         string
	offerExchanged bool
}

// EngineConfig wires the engine's external collaborators. Node, Secondary,
// and Transport may be nil in tests that only exercise state transitions.
type EngineConfig struct {
	Store     ports.Persistence
	Node      ports.NodeClient
	Secondary ports.SecondaryClient
	Transport ports.PeerTransport
	Keychain  ports.Keychain
	Config    *config.SwapEngineConfig
	Clock     clock.Clock
	Events    *WSHub
}

// Engine is the coordination layer shared by the JSON-RPC server and the
// inbound peer-transport handler.
type Engine struct {
	store     ports.Persistence
	node      ports.NodeClient
	secondary ports.SecondaryClient
	transport ports.PeerTransport
	keychain  ports.Keychain
	cfg       *config.SwapEngineConfig
	clock     clock.Clock
	events    *WSHub
	log       *logging.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*sessionState
}

// NewEngine builds an Engine from cfg, defaulting an unset Clock to the
// real system clock.
func NewEngine(cfg EngineConfig) *Engine {
	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}
	return &Engine{
		store:     cfg.Store,
		node:      cfg.Node,
		secondary: cfg.Secondary,
		transport: cfg.Transport,
		keychain:  cfg.Keychain,
		cfg:       cfg.Config,
		clock:     c,
		events:    cfg.Events,
		log:       logging.GetDefault().Component("api"),
		sessions:  make(map[uuid.UUID]*sessionState),
	}
}

// sessionLister is the optional capability internal/store's Store exposes
// beyond ports.Persistence, used only to reload sessions at startup.
type sessionLister interface {
	ListSessionIDs(ctx context.Context) ([]string, error)
}

// peerAddrRegistrar is the optional capability internal/transport/libp2pwire's
// Transport exposes beyond ports.PeerTransport, used to seed the dial
// addresses a peer advertised during the offer exchange. A ports.PeerTransport
// that doesn't support it (e.g. a test fake) is used as-is; CreateSession
// just has nothing to register.
type peerAddrRegistrar interface {
	AddPeerAddr(peerID string, addrs []string) error
}

// LoadPending reloads every previously committed session from the store
// into memory, for the daemon to call once at startup. Sessions loaded
// this way have no known peer id until the next inbound message from that
// peer arrives, since peer addressing is transport-level and not part of
// the persisted session record.
func (e *Engine) LoadPending(ctx context.Context) (int, error) {
	lister, ok := e.store.(sessionLister)
	if !ok {
		return 0, nil
	}
	ids, err := lister.ListSessionIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("api: list sessions: %w", err)
	}

	loaded := 0
	for _, id := range ids {
		data, err := e.store.ReadSession(ctx, id)
		if err != nil {
			e.log.Warn("load session", "id", id, "err", err)
			continue
		}
		s, err := swap.Deserialize(data)
		if err != nil {
			e.log.Warn("deserialize session", "id", id, "err", err)
			continue
		}
		e.register(s)
		loaded++
	}
	return loaded, nil
}

func (e *Engine) register(s *swap.Session) *sessionState {
	st := &sessionState{session: s, seen: make(fsm.Seen)}
	e.mu.Lock()
	e.sessions[s.ID] = st
	e.mu.Unlock()
	return st
}

// lookup returns the session state for id, or ErrSessionNotFound.
func (e *Engine) lookup(id uuid.UUID) (*sessionState, error) {
	e.mu.RLock()
	st, ok := e.sessions[id]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return st, nil
}

// CreateSessionParams carries the terms a local caller proposes when
// opening a new session, lifted directly from message.OfferData plus the
// role selection that only the local side decides.
type CreateSessionParams struct {
	Role               swap.RoleKind
	RefundAddress      string // required for RoleSeller
	ChangeAmount       uint64 // required for RoleSeller
	PeerID             string
	PeerAddrs          []string
	SellerLockFirst    bool
	PrimaryAmount      uint64
	SecondaryAmount    uint64
	SecondarySymbol    string
	SecondaryData      []byte
	MessageExchangeSec uint64
	RedeemTimeSec      uint64
}

// CreateSession builds and persists a new session for the local caller's
// role, registering it in memory under the peer it will exchange messages
// with.
func (e *Engine) CreateSession(ctx context.Context, p CreateSessionParams) (*swap.Session, error) {
	secondaryParams, ok := chain.Get(p.SecondarySymbol, e.cfg.Network.ToChainNetwork())
	if !ok {
		return nil, ErrUnknownSecondary
	}

	var role swap.Role
	switch p.Role {
	case swap.RoleSeller:
		role = swap.NewSellerRole(p.RefundAddress, p.ChangeAmount)
	case swap.RoleBuyer:
		role = swap.NewBuyerRole()
	default:
		return nil, swap.NewError(swap.KindUnexpectedRole, swap.ErrUnexpectedRole)
	}

	messageExchangeSec := p.MessageExchangeSec
	redeemSec := p.RedeemTimeSec
	if messageExchangeSec == 0 {
		messageExchangeSec = e.cfg.Schedule.MessageExchangeTimeSec
	}
	if redeemSec == 0 {
		redeemSec = e.cfg.Schedule.RedeemTimeSec
	}

	s, err := swap.NewSession(
		1,
		e.cfg.Network.ToChainNetwork(),
		role,
		p.SellerLockFirst,
		e.clock.Now(),
		p.PrimaryAmount,
		p.SecondaryAmount,
		swap.SecondaryCurrency{
			Symbol:             secondaryParams.Symbol,
			Network:            e.cfg.Network.ToChainNetwork(),
			BlockTimePeriodSec: secondaryParams.BlockTimePeriodSec,
			MinConfirmations:   secondaryParams.MinConfirmations,
		},
		p.SecondaryData,
		messageExchangeSec,
		redeemSec,
	)
	if err != nil {
		return nil, err
	}

	st := e.register(s)
	st.peerID = p.PeerID

	if registrar, ok := e.transport.(peerAddrRegistrar); ok && p.PeerID != "" && len(p.PeerAddrs) > 0 {
		if err := registrar.AddPeerAddr(p.PeerID, p.PeerAddrs); err != nil {
			e.log.Warn("register peer addrs", "session", s.ID, "peer", p.PeerID, "err", err)
		}
	}

	e.advanceOutbound(st)

	if err := e.persist(ctx, s); err != nil {
		e.mu.Lock()
		delete(e.sessions, s.ID)
		e.mu.Unlock()
		return nil, err
	}

	e.sendCached(ctx, st)
	e.publish(EventSessionCreated, sessionSummary(s))
	return s, nil
}

// persist serializes s and commits it in its own batch, matching the
// write-then-commit-before-broadcast discipline: the caller only
// broadcasts (over the peer transport or a WebSocket event) after this
// returns successfully.
func (e *Engine) persist(ctx context.Context, s *swap.Session) error {
	data, err := s.Serialize()
	if err != nil {
		return err
	}

	batch, err := e.store.OpenBatch(ctx)
	if err != nil {
		return err
	}
	if err := batch.WriteSession(s.ID.String(), data); err != nil {
		batch.Rollback()
		return err
	}
	if s.State.IsTerminal() {
		if err := batch.DeletePrivateContext(s.ID.String()); err != nil {
			batch.Rollback()
			return err
		}
	}
	return batch.Commit()
}

// GetSession returns the live session record for id.
func (e *Engine) GetSession(id uuid.UUID) (*swap.Session, error) {
	st, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session, nil
}

// ListSessions returns every session currently held in memory.
func (e *Engine) ListSessions() []*swap.Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*swap.Session, 0, len(e.sessions))
	for _, st := range e.sessions {
		st.mu.Lock()
		out = append(out, st.session)
		st.mu.Unlock()
	}
	return out
}

// ProcessEnvelope applies an inbound, already-decrypted envelope from
// peerID to its session. At-least-once delivery is expected: duplicate
// (session id, ordinal) pairs are absorbed by fsm.ApplyEnvelope's dedup and
// return (false, nil) here.
func (e *Engine) ProcessEnvelope(ctx context.Context, peerID string, raw []byte) (bool, error) {
	env, err := message.Decode(raw)
	if err != nil {
		return false, fmt.Errorf("api: decode envelope: %w", err)
	}

	st, err := e.lookup(env.SessionID)
	if err != nil {
		return false, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.peerID == "" {
		st.peerID = peerID
	}

	applied, err := fsm.ApplyEnvelope(st.session, env, st.seen)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	switch env.Inner.Kind {
	case message.UpdateOffer:
		st.offerExchanged = true
	}

	// The secondary payload is opaque here; the first one a peer sends
	// (the Buyer's lock announcement) becomes the session's secondary
	// data, which the guards and the claim path read back.
	if len(env.InnerSecondary) > 0 && len(st.session.SecondaryData) == 0 {
		st.session.SecondaryData = []byte(env.InnerSecondary)
	}

	e.advanceOutbound(st)

	if err := e.persist(ctx, st.session); err != nil {
		return false, err
	}

	e.sendCached(ctx, st)
	e.publish(EventSessionUpdated, sessionSummary(st.session))
	return true, nil
}

// Tick re-evaluates one session's schedule and guards and applies any
// resulting FSM transition. It reports whether a transition happened.
func (e *Engine) Tick(ctx context.Context, id uuid.UUID) (bool, error) {
	st, err := e.lookup(id)
	if err != nil {
		return false, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.session
	outChanged := e.advanceOutbound(st)

	sched := schedule.Derive(schedule.Inputs{
		StartedUnix:            s.Started.Unix(),
		MessageExchangeTimeSec: s.MessageExchangeTimeSec,
		RedeemTimeSec:          s.RedeemTimeSec,
		PrimaryConfirmations:   e.primaryMinConfirmations(),
		PrimaryBlockTimeSec:    60,
		SecondaryConfirmations: s.SecondaryCurrency.MinConfirmations,
		SecondaryBlockTimeSec:  s.SecondaryCurrency.BlockTimePeriodSec,
	}, e.cfg.Schedule)

	hadSecret := s.RedeemSecret != nil
	g := e.buildGuards(ctx, st)
	secretRecovered := !hadSecret && s.RedeemSecret != nil

	now := clock.UnixSeconds(e.clock)
	transitioned, err := fsm.Tick(s, sched, now, g)
	if err != nil {
		return false, err
	}
	if !transitioned && !outChanged && !secretRecovered {
		e.sendCached(ctx, st)
		return false, nil
	}

	if err := e.persist(ctx, s); err != nil {
		return false, err
	}

	e.sendCached(ctx, st)
	if transitioned {
		e.publish(EventSessionUpdated, sessionSummary(s))
	}
	return transitioned, nil
}

// TickAll runs Tick over every in-memory session, logging (rather than
// aborting on) a single session's error so one stuck swap cannot stall the
// rest of the book.
func (e *Engine) TickAll(ctx context.Context) {
	e.mu.RLock()
	ids := make([]uuid.UUID, 0, len(e.sessions))
	for id := range e.sessions {
		ids = append(ids, id)
	}
	e.mu.RUnlock()

	for _, id := range ids {
		if _, err := e.Tick(ctx, id); err != nil {
			e.log.Warn("tick", "session", id, "err", err)
		}
	}
}

// CancelSession transitions a session straight to Cancelled and notifies
// the peer, mirroring the outbound half of message.UpdateCancel.
func (e *Engine) CancelSession(ctx context.Context, id uuid.UUID, reason string) error {
	st, err := e.lookup(id)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := st.session.TransitionTo(swap.StateCancelled); err != nil {
		return err
	}
	if err := e.persist(ctx, st.session); err != nil {
		return err
	}

	if e.transport != nil && st.peerID != "" {
		env := &message.Envelope{
			SessionID: st.session.ID,
			Ordinal:   ordinalCancel,
			Version:   st.session.Version,
			Inner:     message.Update{Kind: message.UpdateCancel, Cancel: &message.CancelData{Reason: reason}},
		}
		payload, err := env.Encode()
		if err == nil {
			if err := e.transport.Send(ctx, st.peerID, payload); err != nil {
				e.log.Warn("send cancel", "session", id, "peer", st.peerID, "err", err)
			}
		}
	}

	e.publish(EventSessionUpdated, sessionSummary(st.session))
	return nil
}

// sessionSummary reduces a session to the JSON-serializable view exposed
// over the JSON-RPC and WebSocket surfaces.
func sessionSummary(s *swap.Session) map[string]any {
	return map[string]any{
		"session_id": s.ID.String(),
		"state":      string(s.State),
		"role":       string(s.Role.Kind),
		"network":    string(s.Network),
	}
}
