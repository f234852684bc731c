package htx

import (
	"context"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/fetcher"
)

// HTX struct enables requesting klines and symbols from HTX (formerly Huobi)
type HTX struct {
	apiURL string
	debug  bool
	pool   *fetcher.Pool
}

// NewHTX is the constructor for HTX
func NewHTX(pool *fetcher.Pool) *HTX {
	return &HTX{
		apiURL: "https://api.huobi.pro/",
		pool:   pool,
	}
}

// RequestKLines requests up to count klines for the given instrument starting at startTime.
//
// HTX serves rows newest first. Results are sorted ascending by closeTime and exclude
// the still-forming candlestick.
func (e *HTX) RequestKLines(ctx context.Context, id common.KLineID, startTime int64, count int) (common.KLinesList, error) {
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
func (e *HTX) RequestSymbols(ctx context.Context) ([]string, error) {
	return e.requestSymbols(ctx)
}

// SupportsInterval reports whether HTX serves klines of the given interval.
func (e *HTX) SupportsInterval(interval common.KLineInterval) bool {
	_, ok := intervalCode(interval)
	return ok
}

// MaxKLinesPerRequest is the row cap of the klines endpoint.
func (e *HTX) MaxKLinesPerRequest() int { return 2000 }

// RefetchesLastKLine is false: responses exclude the forming candlestick instead.
func (e *HTX) RefetchesLastKLine() bool { return false }

// ID is the name of this stock exchange.
func (e *HTX) ID() common.StockExchangeID { return common.HTX }

// SetDebug sets exchange-wide debug logging. It's useful to know how many times requests are being sent to exchanges.
func (e *HTX) SetDebug(debug bool) {
	e.debug = debug
}
