package mexc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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

// eRRINVALIDSYMBOL is the error code MEXC returns for an unknown instrument.
const eRRINVALIDSYMBOL = -1121

type errorResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (r errorResponse) toError() error {
	if r.Code == 0 && r.Msg == "" {
		return nil
	}
	if r.Code == eRRINVALIDSYMBOL {
		return common.ErrInvalidSymbol
	}
	return fmt.Errorf("mexc returned error code! Code: %v, Message: %v", r.Code, r.Msg)
}

// [
// 	[
// 	  1640804880000,      // Open time
// 	  "47482.36",         // Open
// 	  "47482.36",         // High
// 	  "47416.57",         // Low
// 	  "47436.1",          // Close
// 	  "3.550717",         // Volume
// 	  1640804940000,      // Close time
// 	  "168387.3"          // Quote asset volume
// 	]
// ]
type successfulResponse struct {
	ResponseKLines [][]interface{}
}

func interfaceToFloatRoundInt(i interface{}) (int64, bool) {
	f, ok := i.(float64)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

func (r successfulResponse) toKLines(id common.KLineID) (common.KLinesList, error) {
	klines := make(common.KLinesList, len(r.ResponseKLines))
	for i := 0; i < len(r.ResponseKLines); i++ {
		raw := r.ResponseKLines[i]
		kline := mexcKLine{}
		if len(raw) != 8 {
			return nil, fmt.Errorf("candlestick %v has len != 8! Invalid syntax from MEXC", i)
		}
		rawOpenTime, ok := interfaceToFloatRoundInt(raw[0])
		if !ok {
			return nil, fmt.Errorf("candlestick %v has non-int open time! Invalid syntax from MEXC", i)
		}
		kline.openTime = rawOpenTime
		// MEXC's close time field drifts by a millisecond across candles, so the canonical
		// close time is computed from the open time instead.
		kline.closeTime = rawOpenTime + id.Interval.Milliseconds()

		rawOpen, ok := raw[1].(string)
		if !ok {
			return nil, fmt.Errorf("candlestick %v has non-string open! Invalid syntax from MEXC", i)
		}
		openPrice, err := strconv.ParseFloat(rawOpen, 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had open = %v! Invalid syntax from MEXC", i, rawOpen)
		}
		kline.openPrice = openPrice

		rawHigh, ok := raw[2].(string)
		if !ok {
			return nil, fmt.Errorf("candlestick %v has non-string high! Invalid syntax from MEXC", i)
		}
		highPrice, err := strconv.ParseFloat(rawHigh, 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had high = %v! Invalid syntax from MEXC", i, rawHigh)
		}
		kline.highPrice = highPrice

		rawLow, ok := raw[3].(string)
		if !ok {
			return nil, fmt.Errorf("candlestick %v has non-string low! Invalid syntax from MEXC", i)
		}
		lowPrice, err := strconv.ParseFloat(rawLow, 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had low = %v! Invalid syntax from MEXC", i, rawLow)
		}
		kline.lowPrice = lowPrice

		rawClose, ok := raw[4].(string)
		if !ok {
			return nil, fmt.Errorf("candlestick %v has non-string close! Invalid syntax from MEXC", i)
		}
		closePrice, err := strconv.ParseFloat(rawClose, 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had close = %v! Invalid syntax from MEXC", i, rawClose)
		}
		kline.closePrice = closePrice

		rawVolume, ok := raw[5].(string)
		if !ok {
			return nil, fmt.Errorf("candlestick %v has non-string volume! Invalid syntax from MEXC", i)
		}
		volume, err := strconv.ParseFloat(rawVolume, 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had volume = %v! Invalid syntax from MEXC", i, rawVolume)
		}
		kline.volume = volume

		if _, ok := interfaceToFloatRoundInt(raw[6]); !ok {
			return nil, fmt.Errorf("candlestick %v has non-int close time! Invalid syntax from MEXC", i)
		}

		rawQuoteAssetVolume, ok := raw[7].(string)
		if !ok {
			return nil, fmt.Errorf("candlestick %v has non-string quote asset volume! Invalid syntax from MEXC", i)
		}
		quoteAssetVolume, err := strconv.ParseFloat(rawQuoteAssetVolume, 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had quote asset volume = %v! Invalid syntax from MEXC", i, rawQuoteAssetVolume)
		}
		kline.quoteAssetVolume = quoteAssetVolume

		klines[i] = kline.toKLine(id)
		if err := klines[i].Check(); err != nil {
			return nil, fmt.Errorf("candlestick %v did not pass validation: %v", i, err)
		}
	}

	return klines, nil
}

type mexcKLine struct {
	openTime         int64
	closeTime        int64
	openPrice        float64
	closePrice       float64
	lowPrice         float64
	highPrice        float64
	volume           float64
	quoteAssetVolume float64
}

func (c mexcKLine) toKLine(id common.KLineID) common.KLine {
	return common.KLine{
		ID:          id,
		OpenTime:    c.openTime,
		CloseTime:   c.closeTime,
		Open:        common.JSONFloat64(c.openPrice),
		High:        common.JSONFloat64(c.highPrice),
		Low:         common.JSONFloat64(c.lowPrice),
		Close:       common.JSONFloat64(c.closePrice),
		Volume:      common.JSONFloat64(c.volume),
		QuoteVolume: common.JSONFloat64(c.quoteAssetVolume),
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
		return "60m", true
	case common.Hour4:
		return "4h", true
	case common.Hour8:
		return "8h", true
	case common.Day1:
		return "1d", true
	case common.Week1:
		return "1W", true
	}
	return "", false
}

func (e *Mexc) requestKLines(ctx context.Context, id common.KLineID, count int) (common.KLinesList, error) {
	interval, ok := intervalCode(id.Interval)
	if !ok {
		return nil, common.KLineReqError{IsNotRetryable: true, Err: common.ErrUnsupportedKLineInterval}
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%vklines", e.apiURL), nil)

	q := req.URL.Query()
	q.Add("symbol", id.Symbol)
	q.Add("interval", interval)
	q.Add("limit", strconv.Itoa(count))
	if e.apiKey != "" {
		q.Add("recvWindow", "30000")
		q.Add("timestamp", strconv.FormatInt(common.NowMillis(), 10))
		mac := hmac.New(sha256.New, []byte(e.secretKey))
		mac.Write([]byte(q.Encode()))
		q.Add("signature", hex.EncodeToString(mac.Sum(nil)))
		req.Header.Set("X-MEXC-APIKEY", e.apiKey)
	}

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
			Code:           resp.StatusCode,
			IsNotRetryable: errors.Is(errResp, common.ErrInvalidSymbol),
			Err:            errResp,
			RetryAfter:     retryAfter,
		}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, common.KLineReqError{Code: resp.StatusCode, Err: common.ErrInvalidJSONResponse}
	}

	maybeResponse := successfulResponse{}
	err = json.Unmarshal(byts, &maybeResponse.ResponseKLines)
	if err != nil {
		return nil, common.KLineReqError{Err: common.ErrInvalidJSONResponse}
	}

	klines, err := maybeResponse.toKLines(id)
	if err != nil {
		return nil, common.KLineReqError{Err: err}
	}

	if e.debug {
		log.Info().Str("stockExchange", "MEXC").Str("kline", id.String()).Int("klineCount", len(klines)).Msg("KLine request successful!")
	}

	return klines, nil
}

// Example request for klines on MEXC:
// https://api.mexc.com/api/v3/klines?symbol=BTCUSDT&interval=1m&limit=3
//
// Returns
//
// [
//   [
//     1640804880000,
//     "47482.36",
//     "47482.36",
//     "47416.57",
//     "47436.1",
//     "3.550717",
//     1640804940000,
//     "168387.3"
//   ],
//   [
//     1640804940000,
//     "47436.1",
//     "47436.1",
//     "47417.93",
//     "47417.93",
//     "1.798462",
//     1640805000000,
//     "85306.31"
//   ],
//   [
//     1640805000000,
//     "47417.93",
//     "47437.34",
//     "47417.93",
//     "47437.34",
//     "0.825851",
//     1640805060000,
//     "39162.25"
//   ]
// ]
//
// The wire format is binance-compatible except that rows have 8 elements instead of 12.
// The last row is the current, still-forming candlestick. When credentials are configured,
// requests carry recvWindow/timestamp/signature query parameters and the X-MEXC-APIKEY
// header; the signature is an HMAC-SHA256 of the encoded query string.
