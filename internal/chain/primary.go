package chain

// BlockTimePeriodSec for the primary chain is informational only: the
// core schedules primary-side confirmations off mwc_confirmations * 60s
// directly, not off this registry entry. It is registered here so
// internal/chain stays the single source of truth for both legs.
func init() {
	Register("MWC", Mainnet, &Params{
		Symbol:             "MWC",
		Name:               "Mimblewimble Coin",
		Type:               ChainTypePrimary,
		Decimals:           9,
		BlockTimePeriodSec: 60,
		MinConfirmations:   10,
	})

	Register("MWC", Testnet, &Params{
		Symbol:             "MWC",
		Name:               "Mimblewimble Coin Floonet",
		Type:               ChainTypePrimary,
		Decimals:           9,
		BlockTimePeriodSec: 60,
		MinConfirmations:   3,
	})
}
