package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
)

type instrumentsResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []instrumentInfo `json:"list"`
	} `json:"result"`
}

type instrumentInfo struct {
	Symbol    string `json:"symbol"`
	QuoteCoin string `json:"quoteCoin"`
	Status    string `json:"status"`
}

func (e *Bybit) requestSymbols(ctx context.Context) ([]string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%vmarket/instruments-info", e.apiURL), nil)

	q := req.URL.Query()
	q.Add("category", "spot")
	req.URL.RawQuery = q.Encode()

	resp, err := e.pool.Do(ctx, req)
	if err != nil {
		return nil, common.KLineReqError{Err: fmt.Errorf("%w: %v", common.ErrExecutingRequest, err)}
	}
	defer resp.Body.Close()

	byts, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.KLineReqError{Err: common.ErrBrokenBodyResponse}
	}

	maybeResponse := instrumentsResponse{}
	err = json.Unmarshal(byts, &maybeResponse)
	if err == nil && maybeResponse.RetCode != 0 {
		rErr := fmt.Errorf("bybit returned error code! Code: %v, Message: %v", maybeResponse.RetCode, maybeResponse.RetMsg)
		return nil, common.KLineReqError{Code: maybeResponse.RetCode, Err: rErr}
	}
	if err != nil {
		return nil, common.KLineReqError{Err: common.ErrInvalidJSONResponse}
	}

	symbols := make([]string, 0, len(maybeResponse.Result.List))
	for _, instrument := range maybeResponse.Result.List {
		if instrument.Status != "Trading" || instrument.QuoteCoin != "USDT" {
			continue
		}
		symbols = append(symbols, instrument.Symbol)
	}

	if e.debug {
		log.Info().Str("stockExchange", "BYBIT").Int("symbolCount", len(symbols)).Msg("Symbols request successful!")
	}

	return symbols, nil
}

// Example request for instruments on Bybit:
// https://api.bybit.com/v5/market/instruments-info?category=spot
//
// Returns
//
// {
//   "retCode": 0,
//   "retMsg": "OK",
//   "result": {
//     "category": "spot",
//     "list": [
//       {
//         "symbol": "BTCUSDT",
//         "baseCoin": "BTC",
//         "quoteCoin": "USDT",
//         "innovation": "0",
//         "status": "Trading",
//         ...
//       },
//       ...
//     ]
//   }
// }
