package kucoin

import (
	"context"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/fetcher"
)

// Kucoin struct enables requesting klines and symbols from KuCoin
type Kucoin struct {
	apiURL string
	debug  bool
	pool   *fetcher.Pool
}

// NewKucoin is the constructor for Kucoin
func NewKucoin(pool *fetcher.Pool) *Kucoin {
	return &Kucoin{
		apiURL: "https://api.kucoin.com/api/",
		pool:   pool,
	}
}

// RequestKLines requests klines for the given instrument starting at the given epoch
// millisecond timestamp.
//
// KuCoin instrument names use the BTC-USDT form; the id carries the exchange-native name.
// The endpoint takes a time window rather than a row count, so count only caps the
// window length.
//
// Results are ascending by closeTime (KuCoin serves them in descending order) and exclude
// the still-forming candlestick.
func (e *Kucoin) RequestKLines(ctx context.Context, id common.KLineID, startTime int64, count int) (common.KLinesList, error) {
	klines, err := e.requestKLines(ctx, id, startTime)
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

// RequestSymbols requests the names of all instruments currently trading against USDT.
func (e *Kucoin) RequestSymbols(ctx context.Context) ([]string, error) {
	return e.requestSymbols(ctx)
}

// SupportsInterval reports whether KuCoin serves klines of the given interval.
func (e *Kucoin) SupportsInterval(interval common.KLineInterval) bool {
	_, ok := intervalCode(interval)
	return ok
}

// MaxKLinesPerRequest caps the requested time window.
func (e *Kucoin) MaxKLinesPerRequest() int { return 500 }

// RefetchesLastKLine is false: responses exclude the forming candlestick instead.
func (e *Kucoin) RefetchesLastKLine() bool { return false }

// ID is the name of this stock exchange.
func (e *Kucoin) ID() common.StockExchangeID { return common.KUCOIN }

// SetDebug sets exchange-wide debug logging. It's useful to know how many times requests are being sent to exchanges.
func (e *Kucoin) SetDebug(debug bool) {
	e.debug = debug
}
