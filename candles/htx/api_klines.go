package htx

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
	// statusOK is the envelope status of a successful request.
	statusOK = "ok"
	// statusError is the envelope status of a failed request.
	statusError = "error"
)

type errorResponse struct {
	Status  string `json:"status"`
	ErrCode string `json:"err-code"`
	ErrMsg  string `json:"err-msg"`
}

func (r errorResponse) toError() error {
	if r.Status != statusError {
		return nil
	}
	if strings.Contains(r.ErrMsg, "symbol") || strings.Contains(r.ErrMsg, "invalid") {
		return common.ErrInvalidSymbol
	}
	return fmt.Errorf("htx returned error! Code: %v, Message: %v", r.ErrCode, r.ErrMsg)
}

type htxKLine struct {
	ID     interface{} `json:"id"`     // Timestamp in seconds (sometimes a string)
	Open   interface{} `json:"open"`   // Opening price
	Close  interface{} `json:"close"`  // Closing price
	Low    interface{} `json:"low"`    // Lowest price
	High   interface{} `json:"high"`   // Highest price
	Amount interface{} `json:"amount"` // Trading volume in base currency
	Vol    interface{} `json:"vol"`    // Trading value in quote currency
	Count  interface{} `json:"count"`  // Number of completed trades
}

// floatField tolerates both the numbers HTX normally serves and the strings some
// gateways serve instead.
func floatField(v interface{}, field string, i int) (float64, error) {
	switch value := v.(type) {
	case string:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return 0, fmt.Errorf("candlestick %v had %v = %v! Invalid syntax from HTX", i, field, value)
		}
		return f, nil
	case float64:
		return value, nil
	}
	return 0, fmt.Errorf("candlestick %v has invalid %v type! Invalid syntax from HTX", i, field)
}

func (c htxKLine) toKLine(id common.KLineID, i int) (common.KLine, error) {
	ts, err := floatField(c.ID, "id", i)
	if err != nil {
		return common.KLine{}, err
	}
	openTime := int64(ts) * 1000

	openPrice, err := floatField(c.Open, "open", i)
	if err != nil {
		return common.KLine{}, err
	}

	closePrice, err := floatField(c.Close, "close", i)
	if err != nil {
		return common.KLine{}, err
	}

	lowPrice, err := floatField(c.Low, "low", i)
	if err != nil {
		return common.KLine{}, err
	}

	highPrice, err := floatField(c.High, "high", i)
	if err != nil {
		return common.KLine{}, err
	}

	amount, err := floatField(c.Amount, "amount", i)
	if err != nil {
		return common.KLine{}, err
	}

	vol, err := floatField(c.Vol, "vol", i)
	if err != nil {
		return common.KLine{}, err
	}

	return common.KLine{
		ID:          id,
		OpenTime:    openTime,
		CloseTime:   openTime + id.Interval.Milliseconds(),
		Open:        common.JSONFloat64(openPrice),
		High:        common.JSONFloat64(highPrice),
		Low:         common.JSONFloat64(lowPrice),
		Close:       common.JSONFloat64(closePrice),
		Volume:      common.JSONFloat64(amount),
		QuoteVolume: common.JSONFloat64(vol),
	}, nil
}

type successfulResponse struct {
	Status string     `json:"status"`
	Ch     string     `json:"ch"`
	Ts     int64      `json:"ts"`
	Data   []htxKLine `json:"data"`
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
		return "60min", true
	case common.Hour4:
		return "4hour", true
	case common.Day1:
		return "1day", true
	case common.Week1:
		return "1week", true
	}
	return "", false
}

func (e *HTX) requestKLines(ctx context.Context, id common.KLineID, startTime int64, count int) (common.KLinesList, error) {
	period, ok := intervalCode(id.Interval)
	if !ok {
		return nil, common.KLineReqError{IsNotRetryable: true, Err: common.ErrUnsupportedKLineInterval}
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%vmarket/history/kline", e.apiURL), nil)

	q := req.URL.Query()
	q.Add("symbol", id.Symbol)
	q.Add("period", period)
	q.Add("size", strconv.Itoa(count))
	q.Add("from", strconv.FormatInt(startTime/1000, 10))

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
		return nil, common.KLineReqError{
			Code:           resp.StatusCode,
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
	if maybeResponse.Status != statusOK {
		return nil, common.KLineReqError{Err: common.ErrInvalidJSONResponse}
	}

	klines, err := maybeResponse.toKLines(id)
	if err != nil {
		return nil, common.KLineReqError{Err: err}
	}

	if e.debug {
		log.Info().Str("stockExchange", "HTX").Str("kline", id.String()).Int("klineCount", len(klines)).Msg("KLine request successful!")
	}

	return klines, nil
}

// Example request for klines on HTX:
// https://api.huobi.pro/market/history/kline?symbol=btcusdt&period=60min&size=3
//
// Returns
//
// {
//   "ch": "market.btcusdt.kline.60min",
//   "status": "ok",
//   "ts": 1670612718458,
//   "data": [
//     {"id":1670612400,"open":17042.9,"close":17055.1,"low":17031.6,"high":17068.2,"amount":6.2217,"vol":106045.7,"count":804},
//     {"id":1670608800,"open":17018.4,"close":17042.9,"low":17002.3,"high":17049.8,"amount":9.8854,"vol":168270.63,"count":1312},
//     {"id":1670605200,"open":16990.2,"close":17018.4,"low":16978.9,"high":17030.5,"amount":7.4406,"vol":126555.41,"count":955}
//   ]
// }
//
// Rows are newest first, symbols are lowercase, and id is the opening time in seconds.
// amount is the base asset volume and vol is the quote asset turnover. The first row is
// the current, still-forming candlestick.
