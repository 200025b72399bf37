package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/mwc-swap/swapcore/internal/swap"
)

// SwapStartParams opens a new session. It mirrors message.OfferData plus
// the locally-decided role and peer address.
type SwapStartParams struct {
	Role               string   `json:"role"` // "seller" or "buyer"
	PeerID             string   `json:"peer_id"`
	PeerAddrs          []string `json:"peer_addrs,omitempty"`
	RefundAddress      string `json:"refund_address,omitempty"`
	ChangeAmount       uint64 `json:"change_amount,omitempty"`
	SellerLockFirst    bool   `json:"seller_lock_first"`
	PrimaryAmount      uint64 `json:"primary_amount"`
	SecondaryAmount    uint64 `json:"secondary_amount"`
	SecondarySymbol    string `json:"secondary_symbol"`
	MessageExchangeSec uint64 `json:"message_exchange_time_sec,omitempty"`
	RedeemTimeSec      uint64 `json:"redeem_time_sec,omitempty"`
}

// SwapStartResult is returned from swap_start.
type SwapStartResult struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

func (s *Server) swapStart(ctx context.Context, params json.RawMessage) (any, error) {
	var p SwapStartParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.PeerID == "" {
		return nil, fmt.Errorf("peer_id is required")
	}

	session, err := s.engine.CreateSession(ctx, CreateSessionParams{
		Role:               swap.RoleKind(p.Role),
		RefundAddress:      p.RefundAddress,
		ChangeAmount:       p.ChangeAmount,
		PeerID:             p.PeerID,
		PeerAddrs:          p.PeerAddrs,
		SellerLockFirst:    p.SellerLockFirst,
		PrimaryAmount:      p.PrimaryAmount,
		SecondaryAmount:    p.SecondaryAmount,
		SecondarySymbol:    p.SecondarySymbol,
		MessageExchangeSec: p.MessageExchangeSec,
		RedeemTimeSec:      p.RedeemTimeSec,
	})
	if err != nil {
		return nil, err
	}

	return &SwapStartResult{SessionID: session.ID.String(), State: string(session.State)}, nil
}

// SwapProcessMessageParams carries one inbound envelope, already decrypted
// by the peer transport, for the session it targets.
type SwapProcessMessageParams struct {
	PeerID  string `json:"peer_id"`
	Payload []byte `json:"payload"`
}

// SwapProcessMessageResult reports whether the envelope produced a new,
// previously-unseen state change.
type SwapProcessMessageResult struct {
	Applied bool `json:"applied"`
}

func (s *Server) swapProcessMessage(ctx context.Context, params json.RawMessage) (any, error) {
	var p SwapProcessMessageParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	applied, err := s.engine.ProcessEnvelope(ctx, p.PeerID, p.Payload)
	if err != nil {
		return nil, err
	}
	return &SwapProcessMessageResult{Applied: applied}, nil
}

// SwapTickParams identifies the session to re-evaluate.
type SwapTickParams struct {
	SessionID string `json:"session_id"`
}

// SwapTickResult reports whether the tick produced a state transition.
type SwapTickResult struct {
	Transitioned bool   `json:"transitioned"`
	State        string `json:"state"`
}

func (s *Server) swapTick(ctx context.Context, params json.RawMessage) (any, error) {
	var p SwapTickParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	id, err := uuid.Parse(p.SessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid session_id: %w", err)
	}

	transitioned, err := s.engine.Tick(ctx, id)
	if err != nil {
		return nil, err
	}

	session, err := s.engine.GetSession(id)
	if err != nil {
		return nil, err
	}
	return &SwapTickResult{Transitioned: transitioned, State: string(session.State)}, nil
}

// SwapCancelParams identifies the session to abandon.
type SwapCancelParams struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

func (s *Server) swapCancel(ctx context.Context, params json.RawMessage) (any, error) {
	var p SwapCancelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	id, err := uuid.Parse(p.SessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid session_id: %w", err)
	}

	if err := s.engine.CancelSession(ctx, id, p.Reason); err != nil {
		return nil, err
	}
	return map[string]bool{"cancelled": true}, nil
}

// SwapStatusParams identifies the session to report on.
type SwapStatusParams struct {
	SessionID string `json:"session_id"`
}

// SwapStatusResult is the detailed view of one session's progress.
type SwapStatusResult struct {
	SessionID              string `json:"session_id"`
	State                  string `json:"state"`
	Role                   string `json:"role"`
	Network                string `json:"network"`
	PrimaryAmount          uint64 `json:"primary_amount"`
	SecondaryAmount        uint64 `json:"secondary_amount"`
	SecondarySymbol        string `json:"secondary_symbol"`
	PrimaryConfirmations   uint32 `json:"primary_confirmations"`
	SecondaryConfirmations uint32 `json:"secondary_confirmations"`
}

func (s *Server) swapStatus(ctx context.Context, params json.RawMessage) (any, error) {
	var p SwapStatusParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	id, err := uuid.Parse(p.SessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid session_id: %w", err)
	}

	session, err := s.engine.GetSession(id)
	if err != nil {
		return nil, err
	}

	return &SwapStatusResult{
		SessionID:              session.ID.String(),
		State:                  string(session.State),
		Role:                   string(session.Role.Kind),
		Network:                string(session.Network),
		PrimaryAmount:          session.PrimaryAmount,
		SecondaryAmount:        session.SecondaryAmount,
		SecondarySymbol:        session.SecondaryCurrency.Symbol,
		PrimaryConfirmations:   session.PrimaryConfirmations,
		SecondaryConfirmations: session.SecondaryConfirmations,
	}, nil
}

// SwapListResult enumerates every session the engine currently holds.
type SwapListResult struct {
	Sessions []SwapStatusResult `json:"sessions"`
	Count    int                `json:"count"`
}

func (s *Server) swapList(ctx context.Context, params json.RawMessage) (any, error) {
	sessions := s.engine.ListSessions()
	items := make([]SwapStatusResult, 0, len(sessions))
	for _, session := range sessions {
		items = append(items, SwapStatusResult{
			SessionID:              session.ID.String(),
			State:                  string(session.State),
			Role:                   string(session.Role.Kind),
			Network:                string(session.Network),
			PrimaryAmount:          session.PrimaryAmount,
			SecondaryAmount:        session.SecondaryAmount,
			SecondarySymbol:        session.SecondaryCurrency.Symbol,
			PrimaryConfirmations:   session.PrimaryConfirmations,
			SecondaryConfirmations: session.SecondaryConfirmations,
		})
	}
	return &SwapListResult{Sessions: items, Count: len(items)}, nil
}
