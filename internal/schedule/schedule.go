// Package schedule computes the deadline timeline that drives the swap
// FSM's time-based transitions from a session's starting time and
// confirmation requirements. It is a leaf package: it depends only on
// internal/config's named constants and pkg/clock's wall-clock
// abstraction, never on internal/swap, so that swap (or fsm) can depend on
// schedule without creating a cycle.
package schedule

import (
	"github.com/mwc-swap/swapcore/internal/config"
	"github.com/mwc-swap/swapcore/pkg/clock"
)

// Inputs are the plain values the schedule formulas consume, lifted out of
// whatever session representation the caller holds.
type Inputs struct {
	StartedUnix            int64
	MessageExchangeTimeSec uint64 // M
	RedeemTimeSec          uint64 // R
	PrimaryConfirmations   uint32
	PrimaryBlockTimeSec    uint64 // always 60 for the Mimblewimble-style primary chain
	SecondaryConfirmations uint32
	SecondaryBlockTimeSec  uint64
}

// Schedule holds every derived deadline, all Unix seconds.
type Schedule struct {
	TStart           int64
	TOffers          int64
	TStartLock       int64
	TLocked          int64
	TMsgRedeem       int64
	TMwcRedeem       int64
	TMwcLockExpire   int64
	TMwcRefund       int64
	TBtcLockExpire   int64
	TBtcRedeemLimit  int64

	IPrimary   int64
	ISecondary int64
	IMax       int64
}

// Derive computes the full deadline timeline from in, applying the
// inflation and slack constants from cfg rather than literal constants.
func Derive(in Inputs, cfg config.ScheduleConfig) Schedule {
	iPrimary := inflate(int64(in.PrimaryConfirmations)*int64(in.PrimaryBlockTimeSec), cfg)
	iSecondary := inflate(int64(in.SecondaryConfirmations)*int64(in.SecondaryBlockTimeSec), cfg)
	iMax := iPrimary
	if iSecondary > iMax {
		iMax = iSecondary
	}

	m := int64(in.MessageExchangeTimeSec)
	r := int64(in.RedeemTimeSec)

	tStart := in.StartedUnix
	tOffers := tStart + m
	tStartLock := tOffers + iMax/int64(cfg.StartLockSlackDivisor)
	tLocked := tOffers + iMax
	tMsgRedeem := tLocked + m
	tMwcRedeem := tMsgRedeem + r
	tMwcLockExpire := tMwcRedeem + iPrimary
	tMwcRefund := tMwcLockExpire + r
	tBtcLockExpire := tMwcRefund + r + iPrimary + iSecondary
	tBtcRedeemLimit := tBtcLockExpire - iSecondary

	return Schedule{
		TStart:          tStart,
		TOffers:         tOffers,
		TStartLock:      tStartLock,
		TLocked:         tLocked,
		TMsgRedeem:      tMsgRedeem,
		TMwcRedeem:      tMwcRedeem,
		TMwcLockExpire:  tMwcLockExpire,
		TMwcRefund:      tMwcRefund,
		TBtcLockExpire:  tBtcLockExpire,
		TBtcRedeemLimit: tBtcRedeemLimit,
		IPrimary:        iPrimary,
		ISecondary:      iSecondary,
		IMax:            iMax,
	}
}

// inflate applies the configured lock-interval inflation ratio
// (Num/Den, 11/10 by default) to a base interval in seconds.
func inflate(seconds int64, cfg config.ScheduleConfig) int64 {
	return seconds * int64(cfg.LockIntervalInflationNum) / int64(cfg.LockIntervalInflationDen)
}

// MonotonicallyIncreasing reports whether every deadline in s strictly
// increases in the documented order (session invariant 5).
func (s Schedule) MonotonicallyIncreasing() bool {
	ordered := []int64{
		s.TStart, s.TOffers, s.TStartLock, s.TLocked, s.TMsgRedeem,
		s.TMwcRedeem, s.TMwcLockExpire, s.TMwcRefund,
	}
	for i := 1; i < len(ordered); i++ {
		if ordered[i] <= ordered[i-1] {
			return false
		}
	}
	// t_start_lock falls between t_offers and t_locked by construction
	// (it adds only a fraction of I_max), so it is checked against both
	// neighbors above; t_btc_lock_expire and t_btc_redeem_limit are
	// checked separately: t_btc_redeem_limit exceeds t_mwc_refund by
	// R + I_primary, so it can coincide with t_mwc_refund only if both are
	// zero.
	return s.TBtcLockExpire > s.TMwcRefund && s.TBtcRedeemLimit > s.TMwcRefund
}

// Now returns the current Unix-seconds time from c, the unit every
// deadline above is expressed in.
func Now(c clock.Clock) int64 {
	return clock.UnixSeconds(c)
}
