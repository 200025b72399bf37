package chain

func init() {
	Register("BTC", Mainnet, &Params{
		Symbol:             "BTC",
		Name:               "Bitcoin",
		Type:               ChainTypeBitcoin,
		Decimals:           8,
		BlockTimePeriodSec: 600,
		MinConfirmations:   3,

		ScriptHashAddrID: 0x05, // 3...
		Bech32HRP:        "bc",

		SupportsSegWit:     true,
		DefaultAddressType: AddressP2WSH,
	})

	Register("BTC", Testnet, &Params{
		Symbol:             "BTC",
		Name:               "Bitcoin Testnet",
		Type:               ChainTypeBitcoin,
		Decimals:           8,
		BlockTimePeriodSec: 600,
		MinConfirmations:   1,

		ScriptHashAddrID: 0xC4, // 2...
		Bech32HRP:        "tb",

		SupportsSegWit:     true,
		DefaultAddressType: AddressP2WSH,
	})
}
