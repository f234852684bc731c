package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
)

type symbolsResponse struct {
	Code string         `json:"code"`
	Msg  string         `json:"msg"`
	Data []symbolDetail `json:"data"`
}

type symbolDetail struct {
	Symbol        string `json:"symbol"`
	QuoteCurrency string `json:"quoteCurrency"`
	EnableTrading bool   `json:"enableTrading"`
}

func (e *Kucoin) requestSymbols(ctx context.Context) ([]string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%vv2/symbols", e.apiURL), nil)

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
	if err == nil && (maybeResponse.Code != "200000" || maybeResponse.Msg != "") {
		rErr := fmt.Errorf("kucoin returned error code! Code: %v, Message: %v", maybeResponse.Code, maybeResponse.Msg)
		code, _ := strconv.Atoi(maybeResponse.Code)
		return nil, common.KLineReqError{Code: code, Err: rErr}
	}
	if err != nil {
		return nil, common.KLineReqError{Err: common.ErrInvalidJSONResponse}
	}

	symbols := make([]string, 0, len(maybeResponse.Data))
	for _, symbol := range maybeResponse.Data {
		if !symbol.EnableTrading || symbol.QuoteCurrency != "USDT" {
			continue
		}
		symbols = append(symbols, symbol.Symbol)
	}

	if e.debug {
		log.Info().Str("stockExchange", "KUCOIN").Int("symbolCount", len(symbols)).Msg("Symbols request successful!")
	}

	return symbols, nil
}

// Example request for instruments on KuCoin:
// https://api.kucoin.com/api/v2/symbols
//
// Returns
//
// {
//   "code": "200000",
//   "data": [
//     {
//       "symbol": "BTC-USDT",
//       "name": "BTC-USDT",
//       "baseCurrency": "BTC",
//       "quoteCurrency": "USDT",
//       "enableTrading": true,
//       ...
//     },
//     ...
//   ]
// }
