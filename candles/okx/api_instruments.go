package okx

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

type instrumentsResponse struct {
	Code string           `json:"code"`
	Msg  string           `json:"msg"`
	Data []instrumentInfo `json:"data"`
}

type instrumentInfo struct {
	InstID   string `json:"instId"`
	QuoteCcy string `json:"quoteCcy"`
	State    string `json:"state"`
}

func (e *OKX) requestSymbols(ctx context.Context) ([]string, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%vpublic/instruments", e.apiURL), nil)

	q := req.URL.Query()
	q.Add("instType", "SPOT")
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
	if err == nil && maybeResponse.Code != "0" {
		rErr := fmt.Errorf("okx returned error code! Code: %v, Message: %v", maybeResponse.Code, maybeResponse.Msg)
		code, _ := strconv.Atoi(maybeResponse.Code)
		return nil, common.KLineReqError{Code: code, Err: rErr}
	}
	if err != nil {
		return nil, common.KLineReqError{Err: common.ErrInvalidJSONResponse}
	}

	symbols := make([]string, 0, len(maybeResponse.Data))
	for _, instrument := range maybeResponse.Data {
		if instrument.State != "live" || instrument.QuoteCcy != "USDT" {
			continue
		}
		symbols = append(symbols, instrument.InstID)
	}

	if e.debug {
		log.Info().Str("stockExchange", "OKX").Int("symbolCount", len(symbols)).Msg("Symbols request successful!")
	}

	return symbols, nil
}

// Example request for instruments on OKX:
// https://www.okx.com/api/v5/public/instruments?instType=SPOT
//
// Returns
//
// {
//   "code": "0",
//   "msg": "",
//   "data": [
//     {
//       "instType": "SPOT",
//       "instId": "BTC-USDT",
//       "baseCcy": "BTC",
//       "quoteCcy": "USDT",
//       "state": "live",
//       ...
//     },
//     ...
//   ]
// }
