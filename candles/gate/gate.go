package gate

import (
	"context"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/fetcher"
)

// Gate struct enables requesting klines and symbols from Gate.io
type Gate struct {
	apiURL string
	debug  bool
	pool   *fetcher.Pool
}

// NewGate is the constructor for Gate
func NewGate(pool *fetcher.Pool) *Gate {
	return &Gate{
		apiURL: "https://api.gateio.ws/api/v4/",
		pool:   pool,
	}
}

// RequestKLines requests up to count klines for the given instrument, starting at the given
// epoch millisecond timestamp.
//
// Gate.io instrument names use the BTC_USDT form; the id carries the exchange-native name.
//
// Results are ascending by closeTime and exclude the still-forming candlestick: modern
// responses flag it via the window_close field, older ones place it last.
func (e *Gate) RequestKLines(ctx context.Context, id common.KLineID, startTime int64, count int) (common.KLinesList, error) {
	klines, err := e.requestKLines(ctx, id, startTime, count)
	if err != nil {
		return nil, err
	}

	common.SortKLines(klines)

	return klines, nil
}

// RequestSymbols requests the names of all currency pairs currently trading against USDT.
func (e *Gate) RequestSymbols(ctx context.Context) ([]string, error) {
	return e.requestSymbols(ctx)
}

// SupportsInterval reports whether Gate.io serves klines of the given interval.
func (e *Gate) SupportsInterval(interval common.KLineInterval) bool {
	_, ok := intervalCode(interval)
	return ok
}

// MaxKLinesPerRequest is the row cap of the candlesticks endpoint.
func (e *Gate) MaxKLinesPerRequest() int { return 500 }

// RefetchesLastKLine is false: responses exclude the forming candlestick instead.
func (e *Gate) RefetchesLastKLine() bool { return false }

// ID is the name of this stock exchange.
func (e *Gate) ID() common.StockExchangeID { return common.GATE }

// SetDebug sets exchange-wide debug logging. It's useful to know how many times requests are being sent to exchanges.
func (e *Gate) SetDebug(debug bool) {
	e.debug = debug
}
