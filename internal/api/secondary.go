package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/google/uuid"

	"github.com/mwc-swap/swapcore/internal/message"
	"github.com/mwc-swap/swapcore/internal/secondary/bitcoinfamily"
	"github.com/mwc-swap/swapcore/internal/swap"
)

var (
	ErrSecondaryLockMissing = errors.New("api: session has no secondary lock data")
	ErrSecretUnknown        = errors.New("api: redeem secret not yet known")
	ErrSecretMismatch       = errors.New("api: redeem secret does not match the lock's secret hash")
)

// secondaryData is the engine-side shape of Session.SecondaryData for
// Bitcoin-family legs: the HTLC lock plus the broadcast txid the guards
// poll for confirmation depth. The txid key matches secondaryLockRef.
type secondaryData struct {
	TxID string                  `json:"txid,omitempty"`
	Lock *bitcoinfamily.LockData `json:"lock,omitempty"`
}

func decodeSecondaryData(raw []byte) (*secondaryData, error) {
	if len(raw) == 0 {
		return nil, ErrSecondaryLockMissing
	}
	var sd secondaryData
	if err := json.Unmarshal(raw, &sd); err != nil {
		return nil, fmt.Errorf("api: decode secondary data: %w", err)
	}
	return &sd, nil
}

// SecondaryLockParams carries what the Buyer's wallet supplies when
// locking the secondary leg: the Seller's claim key, the Buyer's own
// refund key, the CSV timeout, and (once broadcast) the lock txid.
type SecondaryLockParams struct {
	ClaimPubKey   []byte
	RefundPubKey  []byte
	TimeoutBlocks uint32
	TxID          string
}

// PrepareSecondaryLock builds the Buyer's HTLC lock for the secondary
// chain: it generates the redeem secret k on first use (its SHA-256 is the
// HTLC's secret hash), stores the lock under Session.SecondaryData, and —
// once a txid is known — announces the lock to the Seller with the full
// lock data attached as the envelope's secondary payload. Calling it again
// with a txid after broadcast just records the txid; the lock itself is
// built once.
func (e *Engine) PrepareSecondaryLock(ctx context.Context, id uuid.UUID, p SecondaryLockParams) (*bitcoinfamily.LockData, error) {
	st, err := e.lookup(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.session
	if s.Role.Kind != swap.RoleBuyer {
		return nil, swap.NewError(swap.KindUnexpectedRole, swap.ErrUnexpectedRole)
	}

	var sd *secondaryData
	if len(s.SecondaryData) > 0 {
		if sd, err = decodeSecondaryData(s.SecondaryData); err != nil {
			return nil, err
		}
	}

	if sd == nil || sd.Lock == nil {
		if s.RedeemSecret == nil {
			secret, _, err := bitcoinfamily.GenerateSecret()
			if err != nil {
				return nil, err
			}
			s.RedeemSecret = secret
		}
		secretHash := sha256.Sum256(s.RedeemSecret)

		claimPub, err := btcec.ParsePubKey(p.ClaimPubKey)
		if err != nil {
			return nil, fmt.Errorf("api: claim pubkey: %w", err)
		}
		refundPub, err := btcec.ParsePubKey(p.RefundPubKey)
		if err != nil {
			return nil, fmt.Errorf("api: refund pubkey: %w", err)
		}

		lock, err := bitcoinfamily.BuildLockData(
			secretHash[:],
			claimPub,
			refundPub,
			p.TimeoutBlocks,
			s.SecondaryCurrency.Symbol,
			s.SecondaryCurrency.Network,
		)
		if err != nil {
			return nil, err
		}
		sd = &secondaryData{Lock: lock}
	}

	if p.TxID != "" {
		sd.TxID = p.TxID
	}

	encoded, err := json.Marshal(sd)
	if err != nil {
		return nil, err
	}
	s.SecondaryData = encoded

	if err := e.persist(ctx, s); err != nil {
		return nil, err
	}

	if sd.TxID != "" {
		e.announceSecondaryLock(ctx, st, sd)
	}
	e.publish(EventSessionUpdated, sessionSummary(s))
	return sd.Lock, nil
}

// announceSecondaryLock tells the Seller the secondary lock is on-chain,
// carrying the lock data (script, address, txid) as the envelope's
// secondary payload so the Seller can watch the lock and later claim it.
func (e *Engine) announceSecondaryLock(ctx context.Context, st *sessionState, sd *secondaryData) {
	if e.transport == nil || st.peerID == "" {
		return
	}

	s := st.session
	env := &message.Envelope{
		SessionID: s.ID,
		Ordinal:   ordinalSecondaryLock,
		Version:   s.Version,
		Inner: message.Update{
			Kind: message.UpdateLockObserved,
			LockObserved: &message.LockObservedData{
				Chain:         s.SecondaryCurrency.Symbol,
				Confirmations: s.SecondaryConfirmations,
			},
		},
		InnerSecondary: s.SecondaryData,
	}
	payload, err := env.Encode()
	if err != nil {
		e.log.Warn("encode secondary lock announcement", "session", s.ID, "err", err)
		return
	}
	if err := e.transport.Send(ctx, st.peerID, payload); err != nil {
		e.log.Warn("send secondary lock announcement", "session", s.ID, "peer", st.peerID, "err", err)
	}
}

// ClaimSecondary assembles the Seller's claim-path witness for the
// secondary HTLC, gated on the redeem secret recovered from the published
// kernel. signature is the wallet-produced signature over the claim
// transaction; txBytes, when non-empty, is that transaction, broadcast
// through the secondary client.
func (e *Engine) ClaimSecondary(ctx context.Context, id uuid.UUID, signature, txBytes []byte) ([][]byte, error) {
	st, err := e.lookup(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.session
	if s.Role.Kind != swap.RoleSeller {
		return nil, swap.NewError(swap.KindUnexpectedRole, swap.ErrUnexpectedRole)
	}
	if s.RedeemSecret == nil {
		return nil, ErrSecretUnknown
	}

	sd, err := decodeSecondaryData(s.SecondaryData)
	if err != nil {
		return nil, err
	}
	if sd.Lock == nil {
		return nil, ErrSecondaryLockMissing
	}
	if !bitcoinfamily.VerifySecret(s.RedeemSecret, sd.Lock.SecretHash) {
		return nil, ErrSecretMismatch
	}

	witness := bitcoinfamily.ClaimWitness(signature, s.RedeemSecret, sd.Lock.Script)

	if len(txBytes) > 0 && e.secondary != nil {
		if err := e.secondary.BroadcastTx(ctx, txBytes); err != nil {
			return nil, swap.NewError(swap.KindSecondaryClient, err)
		}
	}
	return witness, nil
}

// RefundSecondary assembles the Buyer's refund-path witness for the
// secondary HTLC, used once the CSV timeout on the lock has passed.
func (e *Engine) RefundSecondary(ctx context.Context, id uuid.UUID, signature, txBytes []byte) ([][]byte, error) {
	st, err := e.lookup(id)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.session
	if s.Role.Kind != swap.RoleBuyer {
		return nil, swap.NewError(swap.KindUnexpectedRole, swap.ErrUnexpectedRole)
	}

	sd, err := decodeSecondaryData(s.SecondaryData)
	if err != nil {
		return nil, err
	}
	if sd.Lock == nil {
		return nil, ErrSecondaryLockMissing
	}

	witness := bitcoinfamily.RefundWitness(signature, sd.Lock.Script)

	if len(txBytes) > 0 && e.secondary != nil {
		if err := e.secondary.BroadcastTx(ctx, txBytes); err != nil {
			return nil, swap.NewError(swap.KindSecondaryClient, err)
		}
	}
	return witness, nil
}

// SwapSecondaryLockParams is the swap_secondaryLock RPC surface.
type SwapSecondaryLockParams struct {
	SessionID     string `json:"session_id"`
	ClaimPubKey   string `json:"claim_pubkey"`
	RefundPubKey  string `json:"refund_pubkey"`
	TimeoutBlocks uint32 `json:"timeout_blocks"`
	TxID          string `json:"txid,omitempty"`
}

// SwapSecondaryLockResult returns the lock the Buyer's wallet must fund.
type SwapSecondaryLockResult struct {
	Address    string `json:"address"`
	Script     string `json:"script"`
	SecretHash string `json:"secret_hash"`
}

func (s *Server) swapSecondaryLock(ctx context.Context, params json.RawMessage) (any, error) {
	var p SwapSecondaryLockParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	id, err := uuid.Parse(p.SessionID)
	if err != nil {
		return nil, fmt.Errorf("invalid session_id: %w", err)
	}
	claimPub, err := hex.DecodeString(p.ClaimPubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid claim_pubkey: %w", err)
	}
	refundPub, err := hex.DecodeString(p.RefundPubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid refund_pubkey: %w", err)
	}

	lock, err := s.engine.PrepareSecondaryLock(ctx, id, SecondaryLockParams{
		ClaimPubKey:   claimPub,
		RefundPubKey:  refundPub,
		TimeoutBlocks: p.TimeoutBlocks,
		TxID:          p.TxID,
	})
	if err != nil {
		return nil, err
	}

	return &SwapSecondaryLockResult{
		Address:    lock.Address,
		Script:     lock.ScriptHex(),
		SecretHash: hex.EncodeToString(lock.SecretHash),
	}, nil
}

// SwapClaimSecondaryParams is the swap_claimSecondary RPC surface.
type SwapClaimSecondaryParams struct {
	SessionID string `json:"session_id"`
	Signature string `json:"signature"`
	Tx        string `json:"tx,omitempty"`
}

// SwapWitnessResult carries a hex-encoded witness stack.
type SwapWitnessResult struct {
	Witness []string `json:"witness"`
}

func (s *Server) swapClaimSecondary(ctx context.Context, params json.RawMessage) (any, error) {
	var p SwapClaimSecondaryParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	id, signature, txBytes, err := parseWitnessParams(p.SessionID, p.Signature, p.Tx)
	if err != nil {
		return nil, err
	}

	witness, err := s.engine.ClaimSecondary(ctx, id, signature, txBytes)
	if err != nil {
		return nil, err
	}
	return witnessResult(witness), nil
}

// SwapRefundSecondaryParams is the swap_refundSecondary RPC surface.
type SwapRefundSecondaryParams struct {
	SessionID string `json:"session_id"`
	Signature string `json:"signature"`
	Tx        string `json:"tx,omitempty"`
}

func (s *Server) swapRefundSecondary(ctx context.Context, params json.RawMessage) (any, error) {
	var p SwapRefundSecondaryParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	id, signature, txBytes, err := parseWitnessParams(p.SessionID, p.Signature, p.Tx)
	if err != nil {
		return nil, err
	}

	witness, err := s.engine.RefundSecondary(ctx, id, signature, txBytes)
	if err != nil {
		return nil, err
	}
	return witnessResult(witness), nil
}

func parseWitnessParams(sessionID, signature, tx string) (uuid.UUID, []byte, []byte, error) {
	id, err := uuid.Parse(sessionID)
	if err != nil {
		return uuid.UUID{}, nil, nil, fmt.Errorf("invalid session_id: %w", err)
	}
	sigBytes, err := hex.DecodeString(signature)
	if err != nil {
		return uuid.UUID{}, nil, nil, fmt.Errorf("invalid signature: %w", err)
	}
	var txBytes []byte
	if tx != "" {
		if txBytes, err = hex.DecodeString(tx); err != nil {
			return uuid.UUID{}, nil, nil, fmt.Errorf("invalid tx: %w", err)
		}
	}
	return id, sigBytes, txBytes, nil
}

func witnessResult(witness [][]byte) *SwapWitnessResult {
	out := make([]string, len(witness))
	for i, item := range witness {
		out[i] = hex.EncodeToString(item)
	}
	return &SwapWitnessResult{Witness: out}
}
