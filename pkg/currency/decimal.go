package currency

import "math"

// GetDecimals returns the number of decimal places in the minor unit of a
// currency, per ISO 4217.
func GetDecimals(code Code) int {
	switch code.Symbol() {
	case "BIF",
		"CLP",
		"DJF",
		"GNF",
		"ISK",
		"JPY",
		"KMF",
		"KRW",
		"PYG",
		"RWF",
		"UGX",
		"VND",
		"VUV",
		"XAF",
		"XOF",
		"XPF":
		return 0
	case "BHD",
		"IQD",
		"JOD",
		"KWD",
		"LYD",
		"OMR",
		"TND":
		return 3
	}
	return 2
}

// ToMinorUnits converts a decimal amount to the currency's minor units
// (e.g. 12.34 EUR -> 1234).
func ToMinorUnits(amount float64, code Code) uint64 {
	factor := math.Pow10(GetDecimals(code))
	return uint64(math.Round(amount * factor))
}

// FromMinorUnits converts an amount in minor units back to a decimal value.
func FromMinorUnits(amount uint64, code Code) float64 {
	factor := math.Pow10(GetDecimals(code))
	return float64(amount) / factor
}
