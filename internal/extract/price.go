// File: internal/extract/price.go
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/xkilldash9x/cartpilot/api/schemas"
)

// currencySymbols maps the symbols seen on supported storefronts to ISO 4217
// codes. Symbol-less listings default to USD, matching the .com storefronts
// the built-in catalogs point at.
var currencySymbols = map[string]string{
	"$": "USD",
	"£": "GBP",
	"€": "EUR",
}

var currencyCodes = map[string]bool{
	"USD": true, "GBP": true, "EUR": true, "CAD": true, "AUD": true,
}

var numberRegex = regexp.MustCompile(`[0-9][0-9.,]*`)

// ParsePrice normalizes locale-formatted listing text ("$1,299.99",
// "EUR 24,99", "£12.50 to £19.99") into a Price. Ranges collapse to their
// first bound. The boolean is false when no numeric amount is present.
func ParsePrice(text string) (schemas.Price, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return schemas.Price{}, false
	}

	currency := "USD"
	for sym, code := range currencySymbols {
		if strings.Contains(text, sym) {
			currency = code
			break
		}
	}
	for _, tok := range strings.Fields(strings.ToUpper(text)) {
		if currencyCodes[tok] {
			currency = tok
			break
		}
	}

	raw := numberRegex.FindString(text)
	if raw == "" {
		return schemas.Price{}, false
	}
	raw = strings.Trim(raw, ".,")

	amount, err := strconv.ParseFloat(normalizeSeparators(raw), 64)
	if err != nil || amount < 0 {
		return schemas.Price{}, false
	}
	return schemas.Price{Amount: amount, Currency: currency}, true
}

// normalizeSeparators resolves thousands vs decimal separators: when both
// appear the later one is the decimal mark; a lone comma is decimal only when
// followed by one or two digits ("24,99"), otherwise a group separator.
func normalizeSeparators(raw string) string {
	dot := strings.LastIndexByte(raw, '.')
	comma := strings.LastIndexByte(raw, ',')

	switch {
	case dot >= 0 && comma >= 0:
		if dot > comma {
			return strings.ReplaceAll(raw, ",", "")
		}
		return strings.ReplaceAll(strings.ReplaceAll(raw, ".", ""), ",", ".")
	case comma >= 0:
		if len(raw)-comma-1 <= 2 && strings.Count(raw, ",") == 1 {
			return strings.ReplaceAll(raw, ",", ".")
		}
		return strings.ReplaceAll(raw, ",", "")
	default:
		return raw
	}
}
