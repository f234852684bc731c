package bybit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
)

const (
	// retCodeInvalidParam is returned for unknown instruments among other parameter errors.
	retCodeInvalidParam = 10001
	// retCodeInvalidCategory is returned when the category is not a valid product type.
	retCodeInvalidCategory = 10002
	// retCodeTooManyVisits is Bybit's rate limit code.
	retCodeTooManyVisits = 10006
)

type errorResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
}

func (r errorResponse) toError() error {
	if r.RetCode == 0 {
		return nil
	}
	if r.RetCode == retCodeInvalidParam || r.RetCode == retCodeInvalidCategory {
		return common.ErrInvalidSymbol
	}
	if r.RetCode == retCodeTooManyVisits {
		return common.ErrRateLimit
	}
	return fmt.Errorf("bybit returned error code! Code: %v, Message: %v", r.RetCode, r.RetMsg)
}

// {
//   "retCode": 0,
//   "retMsg": "OK",
//   "result": {
//     "category": "spot",
//     "symbol": "BTCUSDT",
//     "list": [
//       [
//         "1670608800000",  // Start time (ms)
//         "17071",          // Open
//         "17073",          // High
//         "17027",          // Low
//         "17055.5",        // Close
//         "14.2189",        // Volume (base asset)
//         "242570.03"       // Turnover (quote asset)
//       ]
//     ]
//   }
// }
type successfulResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		Category string     `json:"category"`
		Symbol   string     `json:"symbol"`
		List     [][]string `json:"list"`
	} `json:"result"`
}

func (r successfulResponse) toKLines(id common.KLineID) (common.KLinesList, error) {
	klines := make(common.KLinesList, len(r.Result.List))
	for i := 0; i < len(r.Result.List); i++ {
		raw := r.Result.List[i]
		kline := bybitKLine{}
		if len(raw) != 7 {
			return nil, fmt.Errorf("candlestick %v has len != 7! Invalid syntax from Bybit", i)
		}

		openTime, err := strconv.ParseInt(raw[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v has non-int start time! Invalid syntax from Bybit", i)
		}
		kline.openTime = openTime
		kline.closeTime = openTime + id.Interval.Milliseconds()

		openPrice, err := strconv.ParseFloat(raw[1], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had open = %v! Invalid syntax from Bybit", i, raw[1])
		}
		kline.openPrice = openPrice

		highPrice, err := strconv.ParseFloat(raw[2], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had high = %v! Invalid syntax from Bybit", i, raw[2])
		}
		kline.highPrice = highPrice

		lowPrice, err := strconv.ParseFloat(raw[3], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had low = %v! Invalid syntax from Bybit", i, raw[3])
		}
		kline.lowPrice = lowPrice

		closePrice, err := strconv.ParseFloat(raw[4], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had close = %v! Invalid syntax from Bybit", i, raw[4])
		}
		kline.closePrice = closePrice

		volume, err := strconv.ParseFloat(raw[5], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had volume = %v! Invalid syntax from Bybit", i, raw[5])
		}
		kline.volume = volume

		turnover, err := strconv.ParseFloat(raw[6], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had turnover = %v! Invalid syntax from Bybit", i, raw[6])
		}
		kline.turnover = turnover

		klines[i] = kline.toKLine(id)
		if err := klines[i].Check(); err != nil {
			return nil, fmt.Errorf("candlestick %v did not pass validation: %v", i, err)
		}
	}

	return klines, nil
}

type bybitKLine struct {
	openTime   int64
	closeTime  int64
	openPrice  float64
	closePrice float64
	lowPrice   float64
	highPrice  float64
	volume     float64
	turnover   float64
}

func (c bybitKLine) toKLine(id common.KLineID) common.KLine {
	return common.KLine{
		ID:          id,
		OpenTime:    c.openTime,
		CloseTime:   c.closeTime,
		Open:        common.JSONFloat64(c.openPrice),
		High:        common.JSONFloat64(c.highPrice),
		Low:         common.JSONFloat64(c.lowPrice),
		Close:       common.JSONFloat64(c.closePrice),
		Volume:      common.JSONFloat64(c.volume),
		QuoteVolume: common.JSONFloat64(c.turnover),
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
		return "D", true
	case common.Week1:
		return "W", true
	}
	return "", false
}

func (e *Bybit) requestKLines(ctx context.Context, id common.KLineID, startTime int64, count int) (common.KLinesList, error) {
	interval, ok := intervalCode(id.Interval)
	if !ok {
		return nil, common.KLineReqError{IsNotRetryable: true, Err: common.ErrUnsupportedKLineInterval}
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%vmarket/kline", e.apiURL), nil)

	q := req.URL.Query()
	q.Add("category", "spot")
	q.Add("symbol", id.Symbol)
	q.Add("interval", interval)
	q.Add("limit", strconv.Itoa(count))
	q.Add("start", strconv.FormatInt(startTime, 10))

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

	maybeErrorResponse := errorResponse{}
	err = json.Unmarshal(byts, &maybeErrorResponse)
	errResp := maybeErrorResponse.toError()
	if err == nil && errResp != nil {
		var retryAfter time.Duration
		if resp.StatusCode == http.StatusTooManyRequests && len(resp.Header["Retry-After"]) == 1 {
			seconds, _ := strconv.Atoi(resp.Header["Retry-After"][0])
			retryAfter = time.Duration(seconds) * time.Second
		}

		return nil, common.KLineReqError{
			Code:           maybeErrorResponse.RetCode,
			IsNotRetryable: errors.Is(errResp, common.ErrInvalidSymbol),
			Err:            errResp,
			RetryAfter:     retryAfter,
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
		log.Info().Str("stockExchange", "BYBIT").Str("kline", id.String()).Int("klineCount", len(klines)).Msg("KLine request successful!")
	}

	return klines, nil
}

// Example request for klines on Bybit:
// https://api.bybit.com/v5/market/kline?category=spot&symbol=BTCUSDT&interval=60&limit=3
//
// Returns
//
// {
//   "retCode": 0,
//   "retMsg": "OK",
//   "result": {
//     "category": "spot",
//     "symbol": "BTCUSDT",
//     "list": [
//       ["1670612400000","17055.5","17071","17039","17060","15.731","268432.1"],
//       ["1670608800000","17071","17073","17027","17055.5","14.2189","242570.03"],
//       ["1670605200000","17080","17095","17060","17071","12.85","219400.5"]
//     ]
//   },
//   "retExtInfo": {},
//   "time": 1670612718458
// }
//
// Rows are newest first, and the first row is the current, still-forming candlestick.
