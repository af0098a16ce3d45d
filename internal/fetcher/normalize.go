package fetcher

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"nobiflow/internal/model"
)

// parseNumber converts a vendor numeric string into a finite float64.
// Signed fields such as the day change percentage use it directly.
func parseNumber(field, s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s %q: %w", field, s, err)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("parse %s %q: not finite", field, s)
	}
	return v, nil
}

// parseAmount additionally rejects negative values. Prices, amounts and
// volumes all go through here.
func parseAmount(field, s string) (float64, error) {
	v, err := parseNumber(field, s)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("parse %s %q: negative", field, s)
	}
	return v, nil
}

// timeFromMillis converts an epoch-millisecond value to UTC time.
func timeFromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// parseLevels converts the vendor's [["price","amount"], ...] pair lists
// into typed price levels. Any malformed pair fails the whole snapshot:
// an order book with holes is worse than a stale one.
func parseLevels(field string, raw [][]string) ([]model.PriceLevel, error) {
	levels := make([]model.PriceLevel, 0, len(raw))
	for i, pair := range raw {
		if len(pair) < 2 {
			return nil, fmt.Errorf("%s[%d]: expected [price, amount] pair, got %d elements", field, i, len(pair))
		}
		price, err := parseAmount(fmt.Sprintf("%s[%d].price", field, i), pair[0])
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(fmt.Sprintf("%s[%d].amount", field, i), pair[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, model.PriceLevel{Price: price, Amount: amount})
	}
	return levels, nil
}
