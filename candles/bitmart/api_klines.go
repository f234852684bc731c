package bitmart

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
	successCode = 1000
	// codeNotFound is returned for unknown instruments.
	codeNotFound = 30000
)

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Trace   string `json:"trace"`
}

func (r errorResponse) toError() error {
	if r.Code == 0 || r.Code == successCode {
		return nil
	}
	if r.Code == codeNotFound || strings.Contains(r.Message, "symbol") {
		return common.ErrInvalidSymbol
	}
	return fmt.Errorf("bitmart returned error code! Code: %v, Message: %v", r.Code, r.Message)
}

// {
//   "code": 1000,
//   "message": "success",
//   "data": [
//     [
//       "1670605200",  // Opening time (seconds)
//       "16893.5",     // Open
//       "16921.4",     // High
//       "16882.7",     // Low
//       "16910.9",     // Close
//       "7.1125",      // Volume (base asset)
//       "120189.33"    // Volume (quote asset)
//     ]
//   ],
//   "trace": "..."
// }
type successfulResponse struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Trace   string     `json:"trace"`
	Data    [][]string `json:"data"`
}

func (r successfulResponse) toKLines(id common.KLineID) (common.KLinesList, error) {
	klines := make(common.KLinesList, len(r.Data))
	for i := 0; i < len(r.Data); i++ {
		raw := r.Data[i]
		kline := bitmartKLine{}
		if len(raw) != 7 {
			return nil, fmt.Errorf("candlestick %v has len != 7! Invalid syntax from BitMart", i)
		}

		ts, err := strconv.ParseInt(raw[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v has non-int opening time! Invalid syntax from BitMart", i)
		}
		kline.openTime = ts * 1000
		kline.closeTime = kline.openTime + id.Interval.Milliseconds()

		openPrice, err := strconv.ParseFloat(raw[1], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had open = %v! Invalid syntax from BitMart", i, raw[1])
		}
		kline.openPrice = openPrice

		highPrice, err := strconv.ParseFloat(raw[2], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had high = %v! Invalid syntax from BitMart", i, raw[2])
		}
		kline.highPrice = highPrice

		lowPrice, err := strconv.ParseFloat(raw[3], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had low = %v! Invalid syntax from BitMart", i, raw[3])
		}
		kline.lowPrice = lowPrice

		closePrice, err := strconv.ParseFloat(raw[4], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had close = %v! Invalid syntax from BitMart", i, raw[4])
		}
		kline.closePrice = closePrice

		volume, err := strconv.ParseFloat(raw[5], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had volume = %v! Invalid syntax from BitMart", i, raw[5])
		}
		kline.volume = volume

		quoteVolume, err := strconv.ParseFloat(raw[6], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had quote volume = %v! Invalid syntax from BitMart", i, raw[6])
		}
		kline.quoteVolume = quoteVolume

		klines[i] = kline.toKLine(id)
		if err := klines[i].Check(); err != nil {
			return nil, fmt.Errorf("candlestick %v did not pass validation: %v", i, err)
		}
	}

	return klines, nil
}

type bitmartKLine struct {
	openTime    int64
	closeTime   int64
	openPrice   float64
	closePrice  float64
	lowPrice    float64
	highPrice   float64
	volume      float64
	quoteVolume float64
}

func (c bitmartKLine) toKLine(id common.KLineID) common.KLine {
	return common.KLine{
		ID:          id,
		OpenTime:    c.openTime,
		CloseTime:   c.closeTime,
		Open:        common.JSONFloat64(c.openPrice),
		High:        common.JSONFloat64(c.highPrice),
		Low:         common.JSONFloat64(c.lowPrice),
		Close:       common.JSONFloat64(c.closePrice),
		Volume:      common.JSONFloat64(c.volume),
		QuoteVolume: common.JSONFloat64(c.quoteVolume),
	}
}

func intervalCode(interval common.KLineInterval) (string, bool) {
	switch interval {
	case common.Min1:
		return "1", true
	case common.Min5:
		return "5", true
	case common.Min15:
		return "15", true
	case common.Min30:
		return "30", true
	case common.Min60:
		return "60", true
	case common.Hour4:
		return "240", true
	case common.Day1:
		return "1440", true
	case common.Week1:
		return "10080", true
	}
	return "", false
}

func (e *Bitmart) requestKLines(ctx context.Context, id common.KLineID, startTime int64, count int) (common.KLinesList, error) {
	step, ok := intervalCode(id.Interval)
	if !ok {
		return nil, common.KLineReqError{IsNotRetryable: true, Err: common.ErrUnsupportedKLineInterval}
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%vspot/quotation/v3/lite-klines", e.apiURL), nil)

	q := req.URL.Query()
	q.Add("symbol", id.Symbol)
	q.Add("step", step)
	q.Add("limit", strconv.Itoa(count))
	// after is in seconds and exclusive, so shift by one to include a candlestick opening
	// exactly at startTime
	q.Add("after", strconv.FormatInt(startTime/1000-1, 10))

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
			Code:           maybeErrorResponse.Code,
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
		log.Info().Str("stockExchange", "BITMART").Str("kline", id.String()).Int("klineCount", len(klines)).Msg("KLine request successful!")
	}

	return klines, nil
}

// Example request for klines on BitMart:
// https://api-cloud.bitmart.com/spot/quotation/v3/lite-klines?symbol=BTC_USDT&step=60&limit=3
//
// Returns
//
// {
//   "code": 1000,
//   "message": "success",
//   "data": [
//     ["1670605200","16893.5","16921.4","16882.7","16910.9","7.1125","120189.33"],
//     ["1670608800","16910.9","16958.2","16899.8","16945.6","12.4418","210560.87"],
//     ["1670612400","16945.6","16971.3","16930.2","16960.8","5.9907","101542.12"]
//   ],
//   "trace": "a27c2cb5-ead4-471d-8455-1cfeda054ea6"
// }
//
// Rows are oldest first with timestamps in seconds, and the last row is the current,
// still-forming candlestick.
