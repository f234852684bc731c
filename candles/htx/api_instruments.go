package htx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
)

type symbolsResponse struct {
	Status  string         `json:"status"`
	ErrCode string         `json:"err-code"`
	ErrMsg  string         `json:"err-msg"`
	Data    []symbolDetail `json:"data"`
}

type symbolDetail struct {
	Symbol        string `json:"symbol"`
	QuoteCurrency string `json:"qc"`
	State         string `json:"state"`
}

func (e *HTX) requestSymbols(ctx context.Context) ([]string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%vv1/settings/common/symbols", e.apiURL), nil)

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
	if err == nil && maybeResponse.Status == statusError {
		rErr := fmt.Errorf("htx returned error! Code: %v, Message: %v", maybeResponse.ErrCode, maybeResponse.ErrMsg)
		return nil, common.KLineReqError{Code: resp.StatusCode, Err: rErr}
	}
	if err != nil {
		return nil, common.KLineReqError{Err: common.ErrInvalidJSONResponse}
	}

	symbols := make([]string, 0, len(maybeResponse.Data))
	for _, symbol := range maybeResponse.Data {
		if symbol.State != "online" || symbol.QuoteCurrency != "usdt" {
			continue
		}
		symbols = append(symbols, symbol.Symbol)
	}

	if e.debug {
		log.Info().Str("stockExchange", "HTX").Int("symbolCount", len(symbols)).Msg("Symbols request successful!")
	}

	return symbols, nil
}

// Example request for instruments on HTX:
// https://api.huobi.pro/v1/settings/common/symbols
//
// Returns
//
// {
//   "status": "ok",
//   "data": [
//     {
//       "symbol": "btcusdt",
//       "bc": "btc",
//       "qc": "usdt",
//       "state": "online",
//       ...
//     },
//     ...
//   ]
// }
