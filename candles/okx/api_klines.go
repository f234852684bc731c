package okx

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
	// codeInstrumentNotExist is returned for unknown instruments.
	codeInstrumentNotExist = "51001"
	// codeTooManyRequests is OKX's rate limit code.
	codeTooManyRequests = "50011"
)

type errorResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func (r errorResponse) toError() error {
	if r.Code == "" || r.Code == "0" {
		return nil
	}
	if r.Code == codeInstrumentNotExist {
		return common.ErrInvalidSymbol
	}
	if r.Code == codeTooManyRequests {
		return common.ErrRateLimit
	}
	return fmt.Errorf("okx returned error code! Code: %v, Message: %v", r.Code, r.Msg)
}

// {
//   "code": "0",
//   "msg": "",
//   "data": [
//     [
//       "1670608800000",  // Opening time (ms)
//       "17071",          // Open
//       "17073",          // High
//       "17027",          // Low
//       "17055.5",        // Close
//       "14.2189",        // Volume (base asset)
//       "242570.03",      // Volume (quote asset)
//       "242570.03",      // Volume in quote currency of the quote unit
//       "1"               // Completed flag (0 = still forming)
//     ]
//   ]
// }
type successfulResponse struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}

func (r successfulResponse) toKLines(id common.KLineID) (common.KLinesList, error) {
	klines := make(common.KLinesList, 0, len(r.Data))
	sawConfirmFlag := false
	for i := 0; i < len(r.Data); i++ {
		raw := r.Data[i]
		if len(raw) < 7 {
			return nil, fmt.Errorf("candlestick %v has len < 7! Invalid syntax from OKX", i)
		}

		if len(raw) >= 9 {
			sawConfirmFlag = true
			if raw[8] == "0" {
				continue
			}
		}

		kline := okxKLine{}

		openTime, err := strconv.ParseInt(raw[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v has non-int opening time! Invalid syntax from OKX", i)
		}
		kline.openTime = openTime
		kline.closeTime = openTime + id.Interval.Milliseconds()

		openPrice, err := strconv.ParseFloat(raw[1], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had open = %v! Invalid syntax from OKX", i, raw[1])
		}
		kline.openPrice = openPrice

		highPrice, err := strconv.ParseFloat(raw[2], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had high = %v! Invalid syntax from OKX", i, raw[2])
		}
		kline.highPrice = highPrice

		lowPrice, err := strconv.ParseFloat(raw[3], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had low = %v! Invalid syntax from OKX", i, raw[3])
		}
		kline.lowPrice = lowPrice

		closePrice, err := strconv.ParseFloat(raw[4], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had close = %v! Invalid syntax from OKX", i, raw[4])
		}
		kline.closePrice = closePrice

		volume, err := strconv.ParseFloat(raw[5], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had volume = %v! Invalid syntax from OKX", i, raw[5])
		}
		kline.volume = volume

		quoteVolume, err := strconv.ParseFloat(raw[6], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had quote volume = %v! Invalid syntax from OKX", i, raw[6])
		}
		kline.quoteVolume = quoteVolume

		klines = append(klines, kline.toKLine(id))
		if err := klines[len(klines)-1].Check(); err != nil {
			return nil, fmt.Errorf("candlestick %v did not pass validation: %v", i, err)
		}
	}

	if !sawConfirmFlag && len(klines) > 0 {
		// older response shapes omit the completed flag; rows are newest first, so the
		// forming candlestick is the first row
		klines = klines[1:]
	}

	return klines, nil
}

type okxKLine struct {
	openTime    int64
	closeTime   int64
	openPrice   float64
	closePrice  float64
	lowPrice    float64
	highPrice   float64
	volume      float64
	quoteVolume float64
}

func (c okxKLine) toKLine(id common.KLineID) common.KLine {
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
		return "1m", true
	case common.Min5:
		return "5m", true
	case common.Min15:
		return "15m", true
	case common.Min30:
		return "30m", true
	case common.Min60:
		return "1H", true
	case common.Hour4:
		return "4H", true
	case common.Day1:
		return "1D", true
	case common.Week1:
		return "1W", true
	}
	return "", false
}

func (e *OKX) requestKLines(ctx context.Context, id common.KLineID, startTime int64, count int) (common.KLinesList, error) {
	bar, ok := intervalCode(id.Interval)
	if !ok {
		return nil, common.KLineReqError{IsNotRetryable: true, Err: common.ErrUnsupportedKLineInterval}
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%vmarket/candles", e.apiURL), nil)

	q := req.URL.Query()
	q.Add("instId", id.Symbol)
	q.Add("bar", bar)
	q.Add("limit", strconv.Itoa(count))
	// before is exclusive ("records newer than the requested ts"), so shift by one to
	// include a candlestick opening exactly at startTime
	q.Add("before", strconv.FormatInt(startTime-1, 10))

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

		code, _ := strconv.Atoi(maybeErrorResponse.Code)
		return nil, common.KLineReqError{
			Code:           code,
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
		log.Info().Str("stockExchange", "OKX").Str("kline", id.String()).Int("klineCount", len(klines)).Msg("KLine request successful!")
	}

	return klines, nil
}

// Example request for klines on OKX:
// https://www.okx.com/api/v5/market/candles?instId=BTC-USDT&bar=1H&limit=3
//
// Returns
//
// {
//   "code": "0",
//   "msg": "",
//   "data": [
//     ["1670612400000","17055.5","17071","17039","17060","15.731","268432.1","268432.1","0"],
//     ["1670608800000","17071","17073","17027","17055.5","14.2189","242570.03","242570.03","1"],
//     ["1670605200000","17080","17095","17060","17071","12.85","219400.5","219400.5","1"]
//   ]
// }
//
// Rows are newest first. The trailing element flags completion: the forming candlestick
// carries "0" and is excluded.
