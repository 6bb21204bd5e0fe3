package catalog

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/BUIHOANGDU/nail-store/internal/domain"
	"github.com/BUIHOANGDU/nail-store/internal/format"
)

// priceValue coerces the loosely typed price field found in catalog records.
// Numbers are truncated to whole units; strings keep only their digits.
// Negative or out of range values become zero.
func priceValue(raw any) int64 {
	switch v := raw.(type) {
	case nil:
		return 0
	case int:
		return intPrice(int64(v))
	case int32:
		return intPrice(int64(v))
	case int64:
		return intPrice(v)
	case float32:
		return floatPrice(float64(v))
	case float64:
		return floatPrice(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return intPrice(n)
		}
		if f, err := v.Float64(); err == nil {
			return floatPrice(f)
		}
		return 0
	case string:
		return format.ParsePrice(v)
	default:
		return 0
	}
}

func intPrice(n int64) int64 {
	if n < 0 || n > domain.MaxAmount {
		return 0
	}
	return n
}

func floatPrice(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0
	}
	if f > float64(domain.MaxAmount) {
		return 0
	}
	return int64(f)
}

func stringField(raw any) string {
	s, _ := raw.(string)
	return strings.TrimSpace(s)
}
