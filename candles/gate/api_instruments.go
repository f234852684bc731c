package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
)

type currencyPair struct {
	ID          string `json:"id"`
	TradeStatus string `json:"trade_status"`
}

func (e *Gate) requestSymbols(ctx context.Context) ([]string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%vspot/currency_pairs", e.apiURL), nil)

	resp, err := e.pool.Do(ctx, req)
	if err != nil {
		return nil, common.KLineReqError{Err: fmt.Errorf("%w: %v", common.ErrExecutingRequest, err)}
	}
	defer resp.Body.Close()

	byts, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.KLineReqError{Err: common.ErrBrokenBodyResponse}
	}

	if resp.StatusCode != http.StatusOK {
		maybeErrorResponse := errorResponse{}
		err = json.Unmarshal(byts, &maybeErrorResponse)
		errResp := maybeErrorResponse.toError()
		if err == nil && errResp != nil {
			return nil, common.KLineReqError{Code: resp.StatusCode, Err: errResp}
		}
		return nil, common.KLineReqError{Code: resp.StatusCode, Err: common.ErrInvalidJSONResponse}
	}

	pairs := []currencyPair{}
	if err := json.Unmarshal(byts, &pairs); err != nil {
		return nil, common.KLineReqError{Err: common.ErrInvalidJSONResponse}
	}

	symbols := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if pair.TradeStatus != "tradable" || !strings.HasSuffix(pair.ID, "USDT") {
			continue
		}
		symbols = append(symbols, pair.ID)
	}

	if e.debug {
		log.Info().Str("stockExchange", "GATE").Int("symbolCount", len(symbols)).Msg("Symbols request successful!")
	}

	return symbols, nil
}

// Example request for instruments on Gate.io:
// https://api.gateio.ws/api/v4/spot/currency_pairs
//
// Returns
//
// [
//   {
//     "id": "BTC_USDT",
//     "base": "BTC",
//     "quote": "USDT",
//     "fee": "0.2",
//     "trade_status": "tradable",
//     ...
//   },
//   ...
// ]
