package bitget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
)

const (
	// successCode is the envelope code of a successful request.
	successCode = "00000"
	// codeParameterNotExist is returned for unknown instruments among other parameter errors.
	codeParameterNotExist = "40034"
)

type errorResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (r errorResponse) toError() error {
	if r.Code == "" || r.Code == successCode {
		return nil
	}
	if r.Code == codeParameterNotExist || strings.Contains(r.Msg, "symbol") {
		return common.ErrInvalidSymbol
	}
	return fmt.Errorf("bitget returned error code! Code: %v, Message: %v", r.Code, r.Msg)
}

type bitgetKLine struct {
	Ts       string `json:"ts"`       // System timestamp (milliseconds as string)
	Open     string `json:"open"`     // Opening price
	High     string `json:"high"`     // Highest price
	Low      string `json:"low"`      // Lowest price
	Close    string `json:"close"`    // Closing price
	BaseVol  string `json:"baseVol"`  // Base coin volume
	QuoteVol string `json:"quoteVol"` // Quote coin volume
	UsdtVol  string `json:"usdtVol"`  // USDT volume
}

func (c bitgetKLine) toKLine(id common.KLineID, i int) (common.KLine, error) {
	openTime, err := strconv.ParseInt(c.Ts, 10, 64)
	if err != nil {
		return common.KLine{}, fmt.Errorf("candlestick %v has non-int ts! Invalid syntax from Bitget", i)
	}

	openPrice, err := strconv.ParseFloat(c.Open, 64)
	if err != nil {
		return common.KLine{}, fmt.Errorf("candlestick %v had open = %v! Invalid syntax from Bitget", i, c.Open)
	}

	highPrice, err := strconv.ParseFloat(c.High, 64)
	if err != nil {
		return common.KLine{}, fmt.Errorf("candlestick %v had high = %v! Invalid syntax from Bitget", i, c.High)
	}

	lowPrice, err := strconv.ParseFloat(c.Low, 64)
	if err != nil {
		return common.KLine{}, fmt.Errorf("candlestick %v had low = %v! Invalid syntax from Bitget", i, c.Low)
	}

	closePrice, err := strconv.ParseFloat(c.Close, 64)
	if err != nil {
		return common.KLine{}, fmt.Errorf("candlestick %v had close = %v! Invalid syntax from Bitget", i, c.Close)
	}

	volume, err := strconv.ParseFloat(c.BaseVol, 64)
	if err != nil {
		return common.KLine{}, fmt.Errorf("candlestick %v had base volume = %v! Invalid syntax from Bitget", i, c.BaseVol)
	}

	quoteVolume, err := strconv.ParseFloat(c.QuoteVol, 64)
	if err != nil {
		return common.KLine{}, fmt.Errorf("candlestick %v had quote volume = %v! Invalid syntax from Bitget", i, c.QuoteVol)
	}

	return common.KLine{
		ID:          id,
		OpenTime:    openTime,
		CloseTime:   openTime + id.Interval.Milliseconds(),
		Open:        common.JSONFloat64(openPrice),
		High:        common.JSONFloat64(highPrice),
		Low:         common.JSONFloat64(lowPrice),
		Close:       common.JSONFloat64(closePrice),
		Volume:      common.JSONFloat64(volume),
		QuoteVolume: common.JSONFloat64(quoteVolume),
	}, nil
}

type successfulResponse struct {
	Code        string        `json:"code"`
	Msg         string        `json:"msg"`
	RequestTime int64         `json:"requestTime"`
	Data        []bitgetKLine `json:"data"`
}

func (r successfulResponse) toKLines(id common.KLineID) (common.KLinesList, error) {
	klines := make(common.KLinesList, len(r.Data))
	for i, raw := range r.Data {
		kline, err := raw.toKLine(id, i)
		if err != nil {
			return nil, err
		}
		klines[i] = kline
		if err := klines[i].Check(); err != nil {
			return nil, fmt.Errorf("candlestick %v did not pass validation: %v", i, err)
		}
	}
	return klines, nil
}

func intervalCode(interval common.KLineInterval) (string, bool) {
	switch interval {
	case common.Min1:
		return "1min", true
	case common.Min5:
		return "5min", true
	case common.Min15:
		return "15min", true
	case common.Min30:
		return "30min", true
	case common.Min60:
		return "1h", true
	case common.Hour4:
		return "4h", true
	case common.Day1:
		return "1day", true
	case common.Week1:
		return "1week", true
	}
	return "", false
}

func (e *Bitget) requestKLines(ctx context.Context, id common.KLineID, startTime int64, count int) (common.KLinesList, error) {
	period, ok := intervalCode(id.Interval)
	if !ok {
		return nil, common.KLineReqError{IsNotRetryable: true, Err: common.ErrUnsupportedKLineInterval}
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%vmarket/candles", e.apiURL), nil)

	q := req.URL.Query()
	q.Add("symbol", id.Symbol)
	q.Add("period", period)
	q.Add("limit", strconv.Itoa(count))
	// after is exclusive, so shift by one to include a candlestick opening exactly at startTime
	q.Add("after", strconv.FormatInt(startTime-1, 10))

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

	if resp.StatusCode == http.StatusTooManyRequests {
		var retryAfter time.Duration
		if len(resp.Header["Retry-After"]) == 1 {
			seconds, _ := strconv.Atoi(resp.Header["Retry-After"][0])
			retryAfter = time.Duration(seconds) * time.Second
		}
		return nil, common.KLineReqError{Code: resp.StatusCode, Err: common.ErrRateLimit, RetryAfter: retryAfter}
	}

	maybeErrorResponse := errorResponse{}
	err = json.Unmarshal(byts, &maybeErrorResponse)
	errResp := maybeErrorResponse.toError()
	if err == nil && errResp != nil {
		code, _ := strconv.Atoi(maybeErrorResponse.Code)
		return nil, common.KLineReqError{
			Code:           code,
			IsNotRetryable: errors.Is(errResp, common.ErrInvalidSymbol),
			Err:            errResp,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, common.KLineReqError{Code: resp.StatusCode, Err: common.ErrInvalidJSONResponse}
	}

	maybeResponse := successfulResponse{}
	if err := json.Unmarshal(byts, &maybeResponse); err != nil {
		return nil, common.KLineReqError{Err: common.ErrInvalidJSONResponse}
	}

	klines, err := maybeResponse.toKLines(id)
	if err != nil {
		return nil, common.KLineReqError{Err: err}
	}

	if e.debug {
		log.Info().Str("stockExchange", "BITGET").Str("kline", id.String()).Int("klineCount", len(klines)).Msg("KLine request successful!")
	}

	return klines, nil
}

// Example request for klines on Bitget:
// https://api.bitget.com/api/spot/v1/market/candles?symbol=BTCUSDT_SPBL&period=1h&limit=3
//
// Returns
//
// {
//   "code": "00000",
//   "msg": "success",
//   "requestTime": 1670612718458,
//   "data": [
//     {
//       "open": "16872.3",
//       "high": "16898.9",
//       "low": "16855.2",
//       "close": "16891.7",
//       "quoteVol": "142587.31",
//       "baseVol": "8.4491",
//       "usdtVol": "142587.31",
//       "ts": "1670605200000"
//     },
//     ...
//   ]
// }
//
// Rows are oldest first, and the last row is the current, still-forming candlestick.
