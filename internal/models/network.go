package models

import "fmt"

// Supported settlement currencies.
const (
	CurrencyBNB       = "BNB"
	CurrencyUSDTBEP20 = "USDT-BEP20"
	CurrencyBUSD      = "BUSD"
	CurrencyBTC       = "BTC"
	CurrencyUSDTTRC20 = "USDT-TRC20"
)

// Blockchain networks the monitor maintains connections to.
const (
	NetworkBSC     = "bsc"
	NetworkBitcoin = "bitcoin"
	NetworkTron    = "tron"
)

// Confirmations required before a detected payment is treated as final.
var requiredConfirmations = map[string]int{
	NetworkBSC:     12,
	NetworkBitcoin: 3,
	NetworkTron:    19,
}

// currencyNetworks routes each currency to the network it settles on.
// BNB-family tokens share the BSC connection.
var currencyNetworks = map[string]string{
	CurrencyBNB:       NetworkBSC,
	CurrencyUSDTBEP20: NetworkBSC,
	CurrencyBUSD:      NetworkBSC,
	CurrencyBTC:       NetworkBitcoin,
	CurrencyUSDTTRC20: NetworkTron,
}

func NetworkForCurrency(currency string) (string, error) {
	network, ok := currencyNetworks[currency]
	if !ok {
		return "", fmt.Errorf("unsupported currency %q", currency)
	}
	return network, nil
}

func RequiredConfirmations(network string) int {
	if n, ok := requiredConfirmations[network]; ok {
		return n
	}
	return 0
}

func IsSupportedCurrency(currency string) bool {
	_, ok := currencyNetworks[currency]
	return ok
}

// AllNetworks lists every network the monitor must keep a connection to.
func AllNetworks() []string {
	return []string{NetworkBSC, NetworkBitcoin, NetworkTron}
}
