package mexc

import (
	"context"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/fetcher"
)

// Mexc struct enables requesting klines and symbols from MEXC
type Mexc struct {
	apiURL    string
	apiKey    string
	secretKey string
	debug     bool
	pool      *fetcher.Pool
}

// NewMexc is the constructor for Mexc
func NewMexc(pool *fetcher.Pool, options ...Option) *Mexc {
	e := &Mexc{
		apiURL: "https://api.mexc.com/api/v3/",
		pool:   pool,
	}

	for _, option := range options {
		option(e)
	}

	return e
}

// Option configures the Mexc instance at construction time.
type Option func(*Mexc)

// WithCredentials makes kline requests signed with the given API key pair. MEXC serves
// public market data unsigned as well, but signed requests are throttled less aggressively.
func WithCredentials(apiKey, secretKey string) Option {
	return func(e *Mexc) {
		e.apiKey = apiKey
		e.secretKey = secretKey
	}
}

// RequestKLines requests up to count klines for the given instrument.
//
// MEXC serves the newest klines only (the v3 endpoint has no start parameter), so the
// response may begin later than the requested start time. Callers deduplicate against
// their own last seen close time.
//
// Results are ascending by closeTime and exclude the still-forming candlestick.
func (e *Mexc) RequestKLines(ctx context.Context, id common.KLineID, startTime int64, count int) (common.KLinesList, error) {
	klines, err := e.requestKLines(ctx, id, count)
	if err != nil {
		return nil, err
	}

	common.SortKLines(klines)
	if len(klines) > 0 {
		// the newest row is the candlestick that is still forming
		klines = klines[:len(klines)-1]
	}

	return klines, nil
}

// RequestSymbols requests the names of all spot instruments currently trading against USDT.
func (e *Mexc) RequestSymbols(ctx context.Context) ([]string, error) {
	return e.requestSymbols(ctx)
}

// SupportsInterval reports whether MEXC serves klines of the given interval.
func (e *Mexc) SupportsInterval(interval common.KLineInterval) bool {
	_, ok := intervalCode(interval)
	return ok
}

// MaxKLinesPerRequest is the row cap of the klines endpoint.
func (e *Mexc) MaxKLinesPerRequest() int { return 999 }

// RefetchesLastKLine is false: responses exclude the forming candlestick instead.
func (e *Mexc) RefetchesLastKLine() bool { return false }

// ID is the name of this stock exchange.
func (e *Mexc) ID() common.StockExchangeID { return common.MEXC }

// SetDebug sets exchange-wide debug logging. It's useful to know how many times requests are being sent to exchanges.
func (e *Mexc) SetDebug(debug bool) {
	e.debug = debug
}
