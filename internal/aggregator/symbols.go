package aggregator

import "strings"

// quote/contract suffixes stripped during normalization, longest first so that
// "USDT" is removed before "USD" can match its prefix.
var symbolSuffixes = []string{"USDT", "USDC", "PERP", "USD"}

var symbolSeparators = strings.NewReplacer("/", "", "-", "", ":", "", "_", "")

// NormalizeSymbol reduces an exchange-native perpetual symbol to its base asset:
// "ETHUSDT" -> "ETH", "ETH-PERP" -> "ETH", "BTC/USDT:USDT" -> "BTC".
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = symbolSeparators.Replace(s)

	for stripped := true; stripped; {
		stripped = false
		for _, suffix := range symbolSuffixes {
			if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
				s = strings.TrimSuffix(s, suffix)
				stripped = true
			}
		}
	}
	return s
}
