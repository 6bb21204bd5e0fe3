package format

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// CurrencySuffix is appended to every formatted price.
const CurrencySuffix = "VND"

var printer = message.NewPrinter(language.Vietnamese)

// Price renders amount with Vietnamese digit grouping followed by the currency
// suffix, e.g. 100000 => "100.000VND".
func Price(amount int64) string {
	return printer.Sprintf("%d", amount) + CurrencySuffix
}
