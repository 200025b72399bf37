package chain

func init() {
	Register("LTC", Mainnet, &Params{
		Symbol:             "LTC",
		Name:               "Litecoin",
		Type:               ChainTypeBitcoin,
		Decimals:           8,
		BlockTimePeriodSec: 150,
		MinConfirmations:   6,

		ScriptHashAddrID: 0x32, // M...
		Bech32HRP:        "ltc",

		SupportsSegWit:     true,
		DefaultAddressType: AddressP2WSH,
	})

	Register("LTC", Testnet, &Params{
		Symbol:             "LTC",
		Name:               "Litecoin Testnet",
		Type:               ChainTypeBitcoin,
		Decimals:           8,
		BlockTimePeriodSec: 150,
		MinConfirmations:   1,

		ScriptHashAddrID: 0x3A, // Q...
		Bech32HRP:        "tltc",

		SupportsSegWit:     true,
		DefaultAddressType: AddressP2WSH,
	})
}
