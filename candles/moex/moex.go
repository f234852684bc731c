package moex

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/fetcher"
)

// MOEX struct enables requesting klines and symbols from the Moscow Exchange ISS.
type MOEX struct {
	apiURL   string
	authURL  string
	engines  string
	markets  string
	boards   string
	user     string
	password string
	token    string
	debug    bool
	pool     *fetcher.Pool
}

// NewMOEX is the constructor for MOEX
func NewMOEX(pool *fetcher.Pool, options ...Option) *MOEX {
	e := &MOEX{
		apiURL:  "https://iss.moex.com/",
		authURL: "https://passport.moex.com/authenticate",
		engines: "stock",
		markets: "shares",
		boards:  "TQBR",
		pool:    pool,
	}

	for _, option := range options {
		option(e)
	}

	return e
}

// Option configures the MOEX instance at construction time.
type Option func(*MOEX)

// WithCredentials makes requests authenticated with the given MOEX passport account.
// ISS serves anonymous requests delayed market data only.
func WithCredentials(user, password string) Option {
	return func(e *MOEX) {
		e.user = user
		e.password = password
	}
}

// WithBoard points requests at another trading board. The default is the TQBR board
// of the stock engine's shares market, where the main ruble equities trade.
func WithBoard(engines, markets, boards string) Option {
	return func(e *MOEX) {
		e.engines = engines
		e.markets = markets
		e.boards = boards
	}
}

// Authenticate logs in on the MOEX passport service and keeps the returned
// certificate for subsequent requests. A failure is not fatal: ISS keeps serving
// unauthenticated requests, with delayed data.
func (e *MOEX) Authenticate(ctx context.Context) error {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, e.authURL, nil)
	req.SetBasicAuth(e.user, e.password)

	resp, err := e.pool.Do(ctx, req)
	if err != nil {
		return common.KLineReqError{Err: fmt.Errorf("%w: %v", common.ErrExecutingRequest, err)}
	}
	defer resp.Body.Close()

	byts, err := io.ReadAll(resp.Body)
	if err != nil {
		return common.KLineReqError{Err: common.ErrBrokenBodyResponse}
	}

	if resp.StatusCode != http.StatusOK {
		return common.KLineReqError{Code: resp.StatusCode, Err: fmt.Errorf("moex passport rejected the credentials! Code: %v", resp.StatusCode)}
	}

	e.token = strings.TrimSpace(string(byts))

	return nil
}

// setAuthHeaders attaches the passport certificate the way ISS expects it, in both
// the bearer token and the cookie.
func (e *MOEX) setAuthHeaders(req *http.Request) {
	if e.token == "" {
		return
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %v", e.token))
	req.Header.Set("Cookie", fmt.Sprintf("MicexPassportCert=%v", e.token))
}

// RequestKLines requests up to count klines for the given instrument opening at
// startTime or later.
//
// ISS has no row count parameter and serves up to 500 candles per request, so the
// response is truncated to count client-side. The still-forming candlestick is
// included with whatever trades it has seen so far; RefetchesLastKLine is true so
// that callers request it again until its interval ends.
func (e *MOEX) RequestKLines(ctx context.Context, id common.KLineID, startTime int64, count int) (common.KLinesList, error) {
	klines, err := e.requestKLines(ctx, id, startTime)
	if err != nil {
		return nil, err
	}

	common.SortKLines(klines)
	if len(klines) > count {
		klines = klines[:count]
	}

	return klines, nil
}

// RequestSymbols requests the names of all securities currently trading on the
// configured board.
func (e *MOEX) RequestSymbols(ctx context.Context) ([]string, error) {
	return e.requestSymbols(ctx)
}

// SupportsInterval reports whether ISS serves candles of the given interval.
func (e *MOEX) SupportsInterval(interval common.KLineInterval) bool {
	_, ok := intervalCode(interval)
	return ok
}

// MaxKLinesPerRequest is the row cap of the candles endpoint.
func (e *MOEX) MaxKLinesPerRequest() int { return 500 }

// RefetchesLastKLine is true: responses include the still-forming candlestick, so
// the newest kline keeps changing until its interval ends and must be requested
// again.
func (e *MOEX) RefetchesLastKLine() bool { return true }

// ID is the name of this stock exchange.
func (e *MOEX) ID() common.StockExchangeID { return common.MOEX }

// SetDebug sets exchange-wide debug logging. It's useful to know how many times requests are being sent to exchanges.
func (e *MOEX) SetDebug(debug bool) {
	e.debug = debug
}
