package dxfeed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Record is one sample keyed by field name.
type Record map[string]any

// String safely extracts a string value.
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	}
	return ""
}

// Decimal extracts a numeric value without going through float64. Missing
// fields and the feed's "NaN" placeholder yield zero.
func (r Record) Decimal(key string) decimal.Decimal {
	var s string
	switch v := r[key].(type) {
	case json.Number:
		s = v.String()
	case string:
		s = v
	case float64:
		return decimal.NewFromFloat(v)
	case int64:
		return decimal.NewFromInt(v)
	default:
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Int64 extracts an integer value. The feed often sends sizes as decimals
// ("100.0"), so those are truncated.
func (r Record) Int64(key string) int64 {
	switch v := r[key].(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		return r.Decimal(key).IntPart()
	case string:
		return r.Decimal(key).IntPart()
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

// Time returns a timestamp previously converted by the mapper.
func (r Record) Time(key string) time.Time {
	if t, ok := r[key].(time.Time); ok {
		return t
	}
	return time.Time{}
}

// timestampUnits maps timestamp field names to their wire resolution.
var timestampUnits = map[string]time.Duration{
	"eventTime": time.Nanosecond,
	"time":      time.Millisecond,
	"bidTime":   time.Millisecond,
	"askTime":   time.Millisecond,
}

// convertTimestamps replaces known numeric timestamp fields with time.Time.
// Zero timestamps are left as the zero time.
func convertTimestamps(r Record) error {
	for key, unit := range timestampUnits {
		v, ok := r[key]
		if !ok {
			continue
		}
		var n int64
		switch val := v.(type) {
		case json.Number:
			i, err := val.Int64()
			if err != nil {
				d, derr := decimal.NewFromString(val.String())
				if derr != nil {
					return fmt.Errorf("timestamp %s: %w", key, err)
				}
				i = d.IntPart()
			}
			n = i
		case int64:
			n = val
		case float64:
			n = int64(val)
		default:
			continue
		}
		if n == 0 {
			r[key] = time.Time{}
			continue
		}
		r[key] = time.Unix(0, n*int64(unit)).UTC()
	}
	return nil
}
