package mexc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
)

type exchangeInfoResponse struct {
	Symbols []exchangeInfoSymbol `json:"symbols"`
}

type exchangeInfoSymbol struct {
	Symbol               string `json:"symbol"`
	QuoteAsset           string `json:"quoteAsset"`
	IsSpotTradingAllowed bool   `json:"isSpotTradingAllowed"`
}

func (e *Mexc) requestSymbols(ctx context.Context) ([]string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%vexchangeInfo", e.apiURL), nil)

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

	maybeResponse := exchangeInfoResponse{}
	if err := json.Unmarshal(byts, &maybeResponse); err != nil {
		return nil, common.KLineReqError{Err: common.ErrInvalidJSONResponse}
	}

	symbols := make([]string, 0, len(maybeResponse.Symbols))
	for _, symbol := range maybeResponse.Symbols {
		if !symbol.IsSpotTradingAllowed || symbol.QuoteAsset != "USDT" {
			continue
		}
		symbols = append(symbols, symbol.Symbol)
	}

	if e.debug {
		log.Info().Str("stockExchange", "MEXC").Int("symbolCount", len(symbols)).Msg("Symbols request successful!")
	}

	return symbols, nil
}

// Example request for instruments on MEXC:
// https://api.mexc.com/api/v3/exchangeInfo
//
// Returns
//
// {
//   "timezone": "CST",
//   "serverTime": 1640804881000,
//   "symbols": [
//     {
//       "symbol": "BTCUSDT",
//       "status": "1",
//       "baseAsset": "BTC",
//       "quoteAsset": "USDT",
//       "isSpotTradingAllowed": true,
//       ...
//     },
//     ...
//   ]
// }
