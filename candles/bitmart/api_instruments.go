package bitmart

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

type symbolsResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Trace   string `json:"trace"`
	Data    struct {
		Symbols []string `json:"symbols"`
	} `json:"data"`
}

func (e *Bitmart) requestSymbols(ctx context.Context) ([]string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%vspot/v1/symbols", e.apiURL), nil)

	resp, err := e.pool.Do(ctx, req)
	if err != nil {
		return nil, common.KLineReqError{Err: fmt.Errorf("%w: %v", common.ErrExecutingRequest, err)}
	}
	defer resp.Body.Close()

	byts, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.KLineReqError{Err: common.ErrBrokenBodyResponse}
	}

	maybeResponse := symbolsResponse{}
	err = json.Unmarshal(byts, &maybeResponse)
	if err == nil && maybeResponse.Code != 0 && maybeResponse.Code != successCode {
		rErr := fmt.Errorf("bitmart returned error code! Code: %v, Message: %v", maybeResponse.Code, maybeResponse.Message)
		return nil, common.KLineReqError{Code: maybeResponse.Code, Err: rErr}
	}
	if err != nil {
		return nil, common.KLineReqError{Err: common.ErrInvalidJSONResponse}
	}

	symbols := make([]string, 0, len(maybeResponse.Data.Symbols))
	for _, symbol := range maybeResponse.Data.Symbols {
		if !strings.HasSuffix(symbol, "_USDT") {
			continue
		}
		symbols = append(symbols, symbol)
	}

	if e.debug {
		log.Info().Str("stockExchange", "BITMART").Int("symbolCount", len(symbols)).Msg("Symbols request successful!")
	}

	return symbols, nil
}

// Example request for instruments on BitMart:
// https://api-cloud.bitmart.com/spot/v1/symbols
//
// Returns
//
// {
//   "message": "OK",
//   "code": 1000,
//   "trace": "48cff315-0a4a-44e7-968d-fb8f4f74b29d",
//   "data": {
//     "symbols": [
//       "BMX_ETH",
//       "BTC_USDT",
//       "ETH_USDT",
//       ...
//     ]
//   }
// }
