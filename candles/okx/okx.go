package okx

import (
	"context"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/fetcher"
)

// OKX struct enables requesting klines and symbols from OKX
type OKX struct {
	apiURL string
	debug  bool
	pool   *fetcher.Pool
}

// NewOKX is the constructor for OKX
func NewOKX(pool *fetcher.Pool) *OKX {
	return &OKX{
		apiURL: "https://www.okx.com/api/v5/",
		pool:   pool,
	}
}

// RequestKLines requests up to count klines for the given instrument starting at startTime.
//
// OKX serves rows newest first and flags each row as completed or not. Results are sorted
// ascending by closeTime and exclude the still-forming candlestick.
func (e *OKX) RequestKLines(ctx context.Context, id common.KLineID, startTime int64, count int) (common.KLinesList, error) {
	klines, err := e.requestKLines(ctx, id, startTime, count)
	if err != nil {
		return nil, err
	}

	common.SortKLines(klines)

	return klines, nil
}

// RequestSymbols requests the names of all spot instruments currently trading against USDT.
func (e *OKX) RequestSymbols(ctx context.Context) ([]string, error) {
	return e.requestSymbols(ctx)
}

// SupportsInterval reports whether OKX serves klines of the given interval.
func (e *OKX) SupportsInterval(interval common.KLineInterval) bool {
	_, ok := intervalCode(interval)
	return ok
}

// MaxKLinesPerRequest is the row cap of the klines endpoint.
func (e *OKX) MaxKLinesPerRequest() int { return 300 }

// RefetchesLastKLine is false: responses exclude the forming candlestick instead.
func (e *OKX) RefetchesLastKLine() bool { return false }

// ID is the name of this stock exchange.
func (e *OKX) ID() common.StockExchangeID { return common.OKX }

// SetDebug sets exchange-wide debug logging. It's useful to know how many times requests are being sent to exchanges.
func (e *OKX) SetDebug(debug bool) {
	e.debug = debug
}
