package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mwc-swap/swapcore/internal/fsm"
	"github.com/mwc-swap/swapcore/internal/ports"
	"github.com/mwc-swap/swapcore/internal/slate"
	"github.com/mwc-swap/swapcore/internal/swap"
)

// secondaryLockRef is the minimal shape this package needs out of a
// session's opaque SecondaryData: enough to poll confirmations for the
// secondary-chain lock. Everything else about that lock (script
// construction, HTLC parameters) belongs to the secondary currency module
// and is never interpreted here.
type secondaryLockRef struct {
	TxID string `json:"txid"`
}

// buildGuards refreshes a session's on-chain observations (kernel lookups,
// confirmation counts) against NodeClient/SecondaryClient and returns the
// fsm.Guards NextState needs. A transient I/O error on any one check is
// logged and leaves that guard false rather than failing the tick — the
// next tick simply tries again.
func (e *Engine) buildGuards(ctx context.Context, st *sessionState) fsm.Guards {
	s := st.session

	g := fsm.Guards{
		OfferExchanged: st.offerExchanged,
		// The Buyer flips Published locally; the Seller learns of the
		// redeem through the peer's RedeemPublished message, which is
		// what populates AdaptorSignature.
		RedeemPosted: s.RedeemSlate.Published || s.AdaptorSignature != nil,
		RefundPosted: s.RefundSlate.Published,
	}

	if err := e.refreshPrimaryConfirmations(ctx, s); err != nil {
		e.log.Warn("primary confirmation check", "session", s.ID, "err", err)
	}
	if err := e.refreshSecondaryConfirmations(ctx, s); err != nil {
		e.log.Warn("secondary confirmation check", "session", s.ID, "err", err)
	}

	primaryMin := e.primaryMinConfirmations()
	g.PrimaryLocked = s.PrimaryConfirmations >= primaryMin
	g.SecondaryLocked = s.SecondaryConfirmations >= s.SecondaryCurrency.MinConfirmations

	// A broadcast on either chain, even short of depth, commits funds and
	// closes the safe-cancellation window.
	g.LockPosted = s.LockSlate.Published || s.LockSlate.Kernel != nil ||
		s.SecondaryConfirmations > 0 || e.secondaryTxID(s) != ""

	redeemObservable := s.RedeemSlate.Published ||
		(s.Role.Kind == swap.RoleSeller && s.AdaptorSignature != nil)
	if redeemObservable {
		observed, err := e.observeKernel(ctx, s.RedeemSlate)
		if err != nil {
			e.log.Warn("redeem kernel lookup", "session", s.ID, "err", err)
		}
		g.RedeemKernelObserved = observed || s.RedeemSlate.Kernel != nil
		if g.RedeemKernelObserved {
			if err := extractRedeemSecret(s); err != nil {
				e.log.Warn("extract redeem secret", "session", s.ID, "err", err)
			}
		}
	}

	if s.RefundSlate.Published {
		observed, err := e.observeKernel(ctx, s.RefundSlate)
		if err != nil {
			e.log.Warn("refund kernel lookup", "session", s.ID, "err", err)
		}
		confirmed := (observed || s.RefundSlate.Kernel != nil) && s.PrimaryConfirmations >= primaryMin
		g.RefundConfirmed = confirmed
	}

	return g
}

// primaryMinConfirmations resolves the required confirmation depth for the
// Mimblewimble-style primary chain, applying any configured override.
func (e *Engine) primaryMinConfirmations() uint32 {
	params, ok := e.cfg.ResolveChainParams("MWC")
	if !ok {
		return 0
	}
	return params.MinConfirmations
}

// excessFor derives a slate's kernel excess commitment from its two
// participants' partial excesses — the same aggregate-signature math
// backs the lock, redeem, and refund slates alike.
func excessFor(sl *slate.Slate) (ports.Commitment, error) {
	_, combinedExcess, _, err := slate.RedeemSigFields(sl.Participants)
	if err != nil {
		return ports.Commitment{}, fmt.Errorf("derive kernel excess: %w", err)
	}
	var c ports.Commitment
	copy(c[:], combinedExcess)
	return c, nil
}

// observeKernel probes for sl's kernel via slate.FindRedeemKernel and
// caches it on the slate once found. One probe per call: the engine's
// tick loop is the outer polling, so pollEvery cancels the probe context
// instead of sleeping, and that cancellation reads as not-found-yet.
func (e *Engine) observeKernel(ctx context.Context, sl *slate.Slate) (bool, error) {
	if sl.Kernel != nil {
		return true, nil
	}

	excess, err := excessFor(sl)
	if err != nil {
		return false, err
	}

	tip, _, err := e.node.GetTip(ctx)
	if err != nil {
		return false, err
	}

	probeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	kernel, err := slate.FindRedeemKernel(probeCtx, e.node, excess, sl.LockHeight, tip, func() <-chan struct{} {
		cancel()
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			return false, nil
		}
		return false, err
	}
	sl.Kernel = kernel
	return true, nil
}

// extractRedeemSecret recovers the Buyer's secret k once the Seller holds
// both the published redeem kernel signature and the cached adaptor
// signature: k = s_published - s_adapted.
func extractRedeemSecret(s *swap.Session) error {
	if s.Role.Kind != swap.RoleSeller || s.RedeemSecret != nil {
		return nil
	}
	if s.RedeemSlate.Kernel == nil || len(s.AdaptorSignature) != 64 {
		return nil
	}

	var adapted [64]byte
	copy(adapted[:], s.AdaptorSignature)
	k, err := slate.ExtractSecret(s.RedeemSlate.Kernel.ExcessSig, adapted)
	if err != nil {
		return err
	}
	s.RedeemSecret = k[:]
	return nil
}

// secondaryTxID decodes the broadcast txid out of the session's secondary
// data, empty when no secondary lock has been announced yet.
func (e *Engine) secondaryTxID(s *swap.Session) string {
	if len(s.SecondaryData) == 0 {
		return ""
	}
	var ref secondaryLockRef
	if err := json.Unmarshal(s.SecondaryData, &ref); err != nil {
		return ""
	}
	return ref.TxID
}

// refreshPrimaryConfirmations observes the lock slate's kernel and, once
// found, sets PrimaryConfirmations from the node's current tip height.
func (e *Engine) refreshPrimaryConfirmations(ctx context.Context, s *swap.Session) error {
	if s.LockSlate == nil || !s.LockSlate.Published {
		return nil
	}
	if _, err := e.observeKernel(ctx, s.LockSlate); err != nil {
		return err
	}
	if s.LockSlate.Kernel == nil {
		return nil
	}
	tip, _, err := e.node.GetTip(ctx)
	if err != nil {
		return err
	}
	if tip >= s.LockSlate.LockHeight {
		s.PrimaryConfirmations = uint32(tip - s.LockSlate.LockHeight + 1)
	}
	return nil
}

// refreshSecondaryConfirmations decodes a txid out of the session's opaque
// secondary-chain data, if present, and polls SecondaryClient for its
// confirmation depth.
func (e *Engine) refreshSecondaryConfirmations(ctx context.Context, s *swap.Session) error {
	if e.secondary == nil {
		return nil
	}
	txid := e.secondaryTxID(s)
	if txid == "" {
		return nil
	}
	confirmations, err := e.secondary.GetConfirmations(ctx, txid)
	if err != nil {
		return err
	}
	s.SecondaryConfirmations = confirmations
	return nil
}
