package dxfeed

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OptionSymbol builds the streamer symbol of an option contract, e.g.
// ".SPY210419P410". Whole strikes are written without decimals; fractional
// strikes keep two decimals with a single trailing zero dropped (412.50 ->
// 412.5).
func OptionSymbol(underlying string, expiration time.Time, put bool, strike decimal.Decimal) string {
	side := "C"
	if put {
		side = "P"
	}

	var s string
	if strike.Equal(strike.Truncate(0)) {
		s = strike.StringFixed(0)
	} else {
		s = strike.StringFixed(2)
		s = strings.TrimSuffix(s, "0")
	}

	return "." + strings.ToUpper(underlying) + expiration.Format("060102") + side + s
}
