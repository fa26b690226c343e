package dxfeed

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Event type names as sent by the feed.
const (
	TypeQuote   = "Quote"
	TypeGreeks  = "Greeks"
	TypeTrade   = "Trade"
	TypeSummary = "Summary"
	TypeProfile = "Profile"
)

// Event is a typed market data sample.
type Event interface {
	EventType() string
	EventSymbol() string
}

// Quote is a top-of-book update.
type Quote struct {
	Symbol      string
	EventTime   time.Time
	BidTime     time.Time
	BidExchange string
	BidPrice    decimal.Decimal
	BidSize     int64
	AskTime     time.Time
	AskExchange string
	AskPrice    decimal.Decimal
	AskSize     int64
}

func (q *Quote) EventType() string   { return TypeQuote }
func (q *Quote) EventSymbol() string { return q.Symbol }

// Greeks holds option pricing sensitivities.
type Greeks struct {
	Symbol     string
	EventTime  time.Time
	Time       time.Time
	Price      decimal.Decimal
	Volatility decimal.Decimal
	Delta      decimal.Decimal
	Gamma      decimal.Decimal
	Theta      decimal.Decimal
	Rho        decimal.Decimal
	Vega       decimal.Decimal
}

func (g *Greeks) EventType() string   { return TypeGreeks }
func (g *Greeks) EventSymbol() string { return g.Symbol }

// Trade is the last sale.
type Trade struct {
	Symbol       string
	EventTime    time.Time
	Time         time.Time
	ExchangeCode string
	Price        decimal.Decimal
	Size         int64
	Change       decimal.Decimal
	DayVolume    int64
}

func (t *Trade) EventType() string   { return TypeTrade }
func (t *Trade) EventSymbol() string { return t.Symbol }

// Summary carries daily statistics.
type Summary struct {
	Symbol            string
	EventTime         time.Time
	DayOpenPrice      decimal.Decimal
	DayHighPrice      decimal.Decimal
	DayLowPrice       decimal.Decimal
	DayClosePrice     decimal.Decimal
	PrevDayClosePrice decimal.Decimal
	OpenInterest      int64
}

func (s *Summary) EventType() string   { return TypeSummary }
func (s *Summary) EventSymbol() string { return s.Symbol }

// Profile carries instrument reference data.
type Profile struct {
	Symbol          string
	EventTime       time.Time
	Description     string
	TradingStatus   string
	High52WeekPrice decimal.Decimal
	Low52WeekPrice  decimal.Decimal
}

func (p *Profile) EventType() string   { return TypeProfile }
func (p *Profile) EventSymbol() string { return p.Symbol }

// Unknown is produced for event types the mapper has no record for. It keeps
// the raw payload so callers can decode it themselves.
type Unknown struct {
	Type    string
	Payload json.RawMessage
}

func (u *Unknown) EventType() string   { return u.Type }
func (u *Unknown) EventSymbol() string { return "" }

// builders construct typed events from keyed records.
var builders = map[string]func(Record) Event{
	TypeQuote: func(r Record) Event {
		return &Quote{
			Symbol:      r.String("eventSymbol"),
			EventTime:   r.Time("eventTime"),
			BidTime:     r.Time("bidTime"),
			BidExchange: r.String("bidExchangeCode"),
			BidPrice:    r.Decimal("bidPrice"),
			BidSize:     r.Int64("bidSize"),
			AskTime:     r.Time("askTime"),
			AskExchange: r.String("askExchangeCode"),
			AskPrice:    r.Decimal("askPrice"),
			AskSize:     r.Int64("askSize"),
		}
	},
	TypeGreeks: func(r Record) Event {
		return &Greeks{
			Symbol:     r.String("eventSymbol"),
			EventTime:  r.Time("eventTime"),
			Time:       r.Time("time"),
			Price:      r.Decimal("price"),
			Volatility: r.Decimal("volatility"),
			Delta:      r.Decimal("delta"),
			Gamma:      r.Decimal("gamma"),
			Theta:      r.Decimal("theta"),
			Rho:        r.Decimal("rho"),
			Vega:       r.Decimal("vega"),
		}
	},
	TypeTrade: func(r Record) Event {
		return &Trade{
			Symbol:       r.String("eventSymbol"),
			EventTime:    r.Time("eventTime"),
			Time:         r.Time("time"),
			ExchangeCode: r.String("exchangeCode"),
			Price:        r.Decimal("price"),
			Size:         r.Int64("size"),
			Change:       r.Decimal("change"),
			DayVolume:    r.Int64("dayVolume"),
		}
	},
	TypeSummary: func(r Record) Event {
		return &Summary{
			Symbol:            r.String("eventSymbol"),
			EventTime:         r.Time("eventTime"),
			DayOpenPrice:      r.Decimal("dayOpenPrice"),
			DayHighPrice:      r.Decimal("dayHighPrice"),
			DayLowPrice:       r.Decimal("dayLowPrice"),
			DayClosePrice:     r.Decimal("dayClosePrice"),
			PrevDayClosePrice: r.Decimal("prevDayClosePrice"),
			OpenInterest:      r.Int64("openInterest"),
		}
	},
	TypeProfile: func(r Record) Event {
		return &Profile{
			Symbol:          r.String("eventSymbol"),
			EventTime:       r.Time("eventTime"),
			Description:     r.String("description"),
			TradingStatus:   r.String("tradingStatus"),
			High52WeekPrice: r.Decimal("high52WeekPrice"),
			Low52WeekPrice:  r.Decimal("low52WeekPrice"),
		}
	},
}

// Known reports whether the mapper builds a typed event for eventType.
func Known(eventType string) bool {
	_, ok := builders[eventType]
	return ok
}
