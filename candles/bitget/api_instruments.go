package bitget

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

type productsResponse struct {
	Code string    `json:"code"`
	Msg  string    `json:"msg"`
	Data []product `json:"data"`
}

type product struct {
	Symbol    string `json:"symbol"`
	QuoteCoin string `json:"quoteCoin"`
	Status    string `json:"status"`
}

func (e *Bitget) requestSymbols(ctx context.Context) ([]string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%vpublic/products", e.apiURL), nil)

	resp, err := e.pool.Do(ctx, req)
	if err != nil {
		return nil, common.KLineReqError{Err: fmt.Errorf("%w: %v", common.ErrExecutingRequest, err)}
	}
	defer resp.Body.Close()

	byts, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.KLineReqError{Err: common.ErrBrokenBodyResponse}
	}

	maybeResponse := productsResponse{}
	err = json.Unmarshal(byts, &maybeResponse)
	if err == nil && maybeResponse.Code != successCode {
		rErr := fmt.Errorf("bitget returned error code! Code: %v, Message: %v", maybeResponse.Code, maybeResponse.Msg)
		code, _ := strconv.Atoi(maybeResponse.Code)
		return nil, common.KLineReqError{Code: code, Err: rErr}
	}
	if err != nil {
		return nil, common.KLineReqError{Err: common.ErrInvalidJSONResponse}
	}

	symbols := make([]string, 0, len(maybeResponse.Data))
	for _, p := range maybeResponse.Data {
		if p.Status != "online" || p.QuoteCoin != "USDT" {
			continue
		}
		symbols = append(symbols, p.Symbol)
	}

	if e.debug {
		log.Info().Str("stockExchange", "BITGET").Int("symbolCount", len(symbols)).Msg("Symbols request successful!")
	}

	return symbols, nil
}

// Example request for instruments on Bitget:
// https://api.bitget.com/api/spot/v1/public/products
//
// Returns
//
// {
//   "code": "00000",
//   "msg": "success",
//   "data": [
//     {
//       "symbol": "BTCUSDT_SPBL",
//       "symbolName": "BTCUSDT",
//       "baseCoin": "BTC",
//       "quoteCoin": "USDT",
//       "status": "online",
//       ...
//     },
//     ...
//   ]
// }
