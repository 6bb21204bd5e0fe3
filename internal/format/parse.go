package format

import (
	"strconv"
	"strings"

	"github.com/BUIHOANGDU/nail-store/internal/domain"
)

// ParsePrice keeps only the decimal digits of text and parses them. Text
// without digits, or whose value exceeds domain.MaxAmount, parses as zero.
//
//	ParsePrice("100.000VND") == 100000
//	ParsePrice("abc") == 0
func ParsePrice(text string) int64 {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, text)
	if digits == "" {
		return 0
	}
	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || value > domain.MaxAmount {
		return 0
	}
	return value
}
