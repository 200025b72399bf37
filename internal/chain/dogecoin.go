package chain

func init() {
	// Dogecoin has no SegWit, so its HTLC lock address falls back to
	// legacy P2SH (internal/secondary/bitcoinfamily picks this up from
	// DefaultAddressType).
	Register("DOGE", Mainnet, &Params{
		Symbol:             "DOGE",
		Name:               "Dogecoin",
		Type:               ChainTypeBitcoin,
		Decimals:           8,
		BlockTimePeriodSec: 60,
		MinConfirmations:   6,

		ScriptHashAddrID: 0x16, // 9 or A
		Bech32HRP:        "",

		SupportsSegWit:     false,
		DefaultAddressType: AddressP2SH,
	})

	Register("DOGE", Testnet, &Params{
		Symbol:             "DOGE",
		Name:               "Dogecoin Testnet",
		Type:               ChainTypeBitcoin,
		Decimals:           8,
		BlockTimePeriodSec: 60,
		MinConfirmations:   1,

		ScriptHashAddrID: 0xC4,
		Bech32HRP:        "",

		SupportsSegWit:     false,
		DefaultAddressType: AddressP2SH,
	})
}
