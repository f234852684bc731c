package bitmart

import (
	"context"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/fetcher"
)

// Bitmart struct enables requesting klines and symbols from BitMart
type Bitmart struct {
	apiURL string
	debug  bool
	pool   *fetcher.Pool
}

// NewBitmart is the constructor for Bitmart
func NewBitmart(pool *fetcher.Pool) *Bitmart {
	return &Bitmart{
		apiURL: "https://api-cloud.bitmart.com/",
		pool:   pool,
	}
}

// RequestKLines requests up to count klines for the given instrument starting at startTime.
//
// Results are ascending by closeTime and exclude the still-forming candlestick.
func (e *Bitmart) RequestKLines(ctx context.Context, id common.KLineID, startTime int64, count int) (common.KLinesList, error) {
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
func (e *Bitmart) RequestSymbols(ctx context.Context) ([]string, error) {
	return e.requestSymbols(ctx)
}

// SupportsInterval reports whether BitMart serves klines of the given interval.
func (e *Bitmart) SupportsInterval(interval common.KLineInterval) bool {
	_, ok := intervalCode(interval)
	return ok
}

// MaxKLinesPerRequest is the row cap of the klines endpoint.
func (e *Bitmart) MaxKLinesPerRequest() int { return 200 }

// RefetchesLastKLine is false: responses exclude the forming candlestick instead.
func (e *Bitmart) RefetchesLastKLine() bool { return false }

// ID is the name of this stock exchange.
func (e *Bitmart) ID() common.StockExchangeID { return common.BITMART }

// SetDebug sets exchange-wide debug logging. It's useful to know how many times requests are being sent to exchanges.
func (e *Bitmart) SetDebug(debug bool) {
	e.debug = debug
}
