package validator

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/johnayoung/go-eft-pipeline/internal/models"
)

// ParseAmount coerces a raw cell to a decimal. Nulls, booleans, infinities and
// non-numeric strings fail.
func ParseAmount(v any) (decimal.Decimal, bool) {
	if models.IsNull(v) {
		return decimal.Zero, false
	}

	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case float64:
		if math.IsInf(x, 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat(x), true
	case float32:
		if math.IsInf(float64(x), 0) {
			return decimal.Zero, false
		}
		return decimal.NewFromFloat32(x), true
	case int:
		return decimal.NewFromInt(int64(x)), true
	case int32:
		return decimal.NewFromInt32(x), true
	case int64:
		return decimal.NewFromInt(x), true
	case json.Number:
		return parseDecimalString(x.String())
	case string:
		return parseDecimalString(x)
	default:
		return decimal.Zero, false
	}
}

func parseDecimalString(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseDate coerces a raw cell to a time using the first layout that matches.
// Date-only layouts resolve to midnight UTC.
func ParseDate(v any, layouts []string) (time.Time, bool) {
	if models.IsNull(v) {
		return time.Time{}, false
	}

	switch x := v.(type) {
	case time.Time:
		return x, !x.IsZero()
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// Stringify renders an identifier cell as a trimmed string. Nulls become "".
func Stringify(v any) string {
	if models.IsNull(v) {
		return ""
	}

	var s string
	switch x := v.(type) {
	case string:
		s = x
	case json.Number:
		s = x.String()
	case float64:
		s = strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		s = strconv.FormatFloat(float64(x), 'f', -1, 32)
	case fmt.Stringer:
		s = x.String()
	default:
		s = fmt.Sprint(x)
	}
	return strings.TrimSpace(s)
}
