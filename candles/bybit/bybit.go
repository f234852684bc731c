package bybit

import (
	"context"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/fetcher"
)

// Bybit struct enables requesting klines and symbols from Bybit
type Bybit struct {
	apiURL string
	debug  bool
	pool   *fetcher.Pool
}

// NewBybit is the constructor for Bybit
func NewBybit(pool *fetcher.Pool) *Bybit {
	return &Bybit{
		apiURL: "https://api.bybit.com/v5/",
		pool:   pool,
	}
}

// RequestKLines requests up to count klines for the given instrument starting at startTime.
//
// Bybit serves rows newest first. Results are sorted ascending by closeTime and exclude
// the still-forming candlestick.
func (e *Bybit) RequestKLines(ctx context.Context, id common.KLineID, startTime int64, count int) (common.KLinesList, error) {
	klines, err := e.requestKLines(ctx, id, startTime, count)
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
func (e *Bybit) RequestSymbols(ctx context.Context) ([]string, error) {
	return e.requestSymbols(ctx)
}

// SupportsInterval reports whether Bybit serves klines of the given interval.
func (e *Bybit) SupportsInterval(interval common.KLineInterval) bool {
	_, ok := intervalCode(interval)
	return ok
}

// MaxKLinesPerRequest is the row cap of the klines endpoint.
func (e *Bybit) MaxKLinesPerRequest() int { return 1000 }

// RefetchesLastKLine is false: responses exclude the forming candlestick instead.
func (e *Bybit) RefetchesLastKLine() bool { return false }

// ID is the name of this stock exchange.
func (e *Bybit) ID() common.StockExchangeID { return common.BYBIT }

// SetDebug sets exchange-wide debug logging. It's useful to know how many times requests are being sent to exchanges.
func (e *Bybit) SetDebug(debug bool) {
	e.debug = debug
}
