package bitget

import (
	"context"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/fetcher"
)

// Bitget struct enables requesting klines and symbols from Bitget
type Bitget struct {
	apiURL string
	debug  bool
	pool   *fetcher.Pool
}

// NewBitget is the constructor for Bitget
func NewBitget(pool *fetcher.Pool) *Bitget {
	return &Bitget{
		apiURL: "https://api.bitget.com/api/spot/v1/",
		pool:   pool,
	}
}

// RequestKLines requests up to count klines for the given instrument starting at startTime.
//
// Results are ascending by closeTime and exclude the still-forming candlestick.
func (e *Bitget) RequestKLines(ctx context.Context, id common.KLineID, startTime int64, count int) (common.KLinesList, error) {
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
func (e *Bitget) RequestSymbols(ctx context.Context) ([]string, error) {
	return e.requestSymbols(ctx)
}

// SupportsInterval reports whether Bitget serves klines of the given interval.
func (e *Bitget) SupportsInterval(interval common.KLineInterval) bool {
	_, ok := intervalCode(interval)
	return ok
}

// MaxKLinesPerRequest is the row cap of the klines endpoint.
func (e *Bitget) MaxKLinesPerRequest() int { return 1000 }

// RefetchesLastKLine is false: responses exclude the forming candlestick instead.
func (e *Bitget) RefetchesLastKLine() bool { return false }

// ID is the name of this stock exchange.
func (e *Bitget) ID() common.StockExchangeID { return common.BITGET }

// SetDebug sets exchange-wide debug logging. It's useful to know how many times requests are being sent to exchanges.
func (e *Bitget) SetDebug(debug bool) {
	e.debug = debug
}
