package gate

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

// MaxPointsBack is the maximum number of intervals back from current time that can be
// requested. This limit is not documented in the Gate API docs but is enforced by the API,
// which returns: "Candlestick too long ago. Maximum 10000 points ago are allowed".
const MaxPointsBack = 10000

type errorResponse struct {
	Label   string `json:"label"`
	Message string `json:"message"`
}

func (r errorResponse) toError() error {
	if r.Label == "" && r.Message == "" {
		return nil
	}
	if strings.Contains(r.Message, "currency_pair") || r.Label == "INVALID_CURRENCY_PAIR" {
		return common.ErrInvalidSymbol
	}
	return fmt.Errorf("gate returned error label! Label: %v, Message: %v", r.Label, r.Message)
}

// [
// 	[
// 	  "1763118000",         // Timestamp (seconds, sometimes a number)
// 	  "71260782.42422470",  // Quote asset volume
// 	  "96165.1",            // Close
// 	  "96942.2",            // High
// 	  "95707.1",            // Low
// 	  "96758.9",            // Open
// 	  "739.87607500",       // Base asset volume
// 	  "true"                // Window closed
// 	]
// ]
type successfulResponse struct {
	ResponseKLines [][]interface{}
}

func (r successfulResponse) toKLines(id common.KLineID) (common.KLinesList, error) {
	klines := make(common.KLinesList, 0, len(r.ResponseKLines))
	sawClosedFlag := false
	for i := 0; i < len(r.ResponseKLines); i++ {
		raw := r.ResponseKLines[i]
		if len(raw) < 7 {
			return nil, fmt.Errorf("candlestick %v has len < 7! Invalid syntax from Gate", i)
		}

		if len(raw) >= 8 {
			rawClosed, ok := raw[7].(string)
			if !ok {
				return nil, fmt.Errorf("candlestick %v has non-string window_close! Invalid syntax from Gate", i)
			}
			sawClosedFlag = true
			if rawClosed == "false" {
				continue
			}
		}

		kline := gateKLine{}

		// Timestamp arrives as a string on most deployments but as a number on some.
		switch v := raw[0].(type) {
		case string:
			ts, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("candlestick %v has invalid timestamp! Invalid syntax from Gate", i)
			}
			kline.timestamp = ts
		case float64:
			kline.timestamp = int64(v)
		default:
			return nil, fmt.Errorf("candlestick %v has invalid timestamp type! Invalid syntax from Gate", i)
		}

		rawQuoteAssetVolume, ok := raw[1].(string)
		if !ok {
			return nil, fmt.Errorf("candlestick %v has non-string quote asset volume! Invalid syntax from Gate", i)
		}
		quoteAssetVolume, err := strconv.ParseFloat(rawQuoteAssetVolume, 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had quote asset volume = %v! Invalid syntax from Gate", i, rawQuoteAssetVolume)
		}
		kline.quoteAssetVolume = quoteAssetVolume

		rawClose, ok := raw[2].(string)
		if !ok {
			return nil, fmt.Errorf("candlestick %v has non-string close! Invalid syntax from Gate", i)
		}
		closePrice, err := strconv.ParseFloat(rawClose, 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had close = %v! Invalid syntax from Gate", i, rawClose)
		}
		kline.closePrice = closePrice

		rawHigh, ok := raw[3].(string)
		if !ok {
			return nil, fmt.Errorf("candlestick %v has non-string high! Invalid syntax from Gate", i)
		}
		highPrice, err := strconv.ParseFloat(rawHigh, 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had high = %v! Invalid syntax from Gate", i, rawHigh)
		}
		kline.highPrice = highPrice

		rawLow, ok := raw[4].(string)
		if !ok {
			return nil, fmt.Errorf("candlestick %v has non-string low! Invalid syntax from Gate", i)
		}
		lowPrice, err := strconv.ParseFloat(rawLow, 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had low = %v! Invalid syntax from Gate", i, rawLow)
		}
		kline.lowPrice = lowPrice

		rawOpen, ok := raw[5].(string)
		if !ok {
			return nil, fmt.Errorf("candlestick %v has non-string open! Invalid syntax from Gate", i)
		}
		openPrice, err := strconv.ParseFloat(rawOpen, 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had open = %v! Invalid syntax from Gate", i, rawOpen)
		}
		kline.openPrice = openPrice

		rawVolume, ok := raw[6].(string)
		if !ok {
			return nil, fmt.Errorf("candlestick %v has non-string volume! Invalid syntax from Gate", i)
		}
		volume, err := strconv.ParseFloat(rawVolume, 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v had volume = %v! Invalid syntax from Gate", i, rawVolume)
		}
		kline.volume = volume

		k := kline.toKLine(id)
		if err := k.Check(); err != nil {
			return nil, fmt.Errorf("candlestick %v did not pass validation: %v", i, err)
		}
		klines = append(klines, k)
	}

	// older response shapes omit the window_close flag and place the forming candlestick last
	if !sawClosedFlag && len(klines) > 0 {
		klines = klines[:len(klines)-1]
	}

	return klines, nil
}

type gateKLine struct {
	timestamp        int64
	openPrice        float64
	closePrice       float64
	lowPrice         float64
	highPrice        float64
	volume           float64
	quoteAssetVolume float64
}

func (c gateKLine) toKLine(id common.KLineID) common.KLine {
	openTime := c.timestamp * 1000
	return common.KLine{
		ID:          id,
		OpenTime:    openTime,
		CloseTime:   openTime + id.Interval.Milliseconds(),
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
		return "1h", true
	case common.Hour4:
		return "4h", true
	case common.Hour8:
		return "8h", true
	case common.Day1:
		return "1d", true
	case common.Week1:
		return "7d", true
	}
	return "", false
}

func (e *Gate) requestKLines(ctx context.Context, id common.KLineID, startTime int64, count int) (common.KLinesList, error) {
	interval, ok := intervalCode(id.Interval)
	if !ok {
		return nil, common.KLineReqError{IsNotRetryable: true, Err: common.ErrUnsupportedKLineInterval}
	}

	// Gate rejects requests further back than MaxPointsBack intervals with an HTTP 400.
	intervalsBack := (common.NowMillis() - startTime) / id.Interval.Milliseconds()
	if intervalsBack > MaxPointsBack {
		return nil, common.KLineReqError{
			IsNotRetryable: true,
			Err:            fmt.Errorf("candlestick too long ago: requested %d intervals back, maximum is %d", intervalsBack, MaxPointsBack),
		}
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%vspot/candlesticks", e.apiURL), nil)

	q := req.URL.Query()
	q.Add("currency_pair", id.Symbol)
	q.Add("interval", interval)
	q.Add("limit", strconv.Itoa(count))
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

	if resp.StatusCode != http.StatusOK {
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
		log.Info().Str("stockExchange", "GATE").Str("kline", id.String()).Int("klineCount", len(klines)).Msg("KLine request successful!")
	}

	return klines, nil
}

// Example request for klines on Gate.io:
// https://api.gateio.ws/api/v4/spot/candlesticks?currency_pair=BTC_USDT&interval=1h&limit=3&from=1763118000
//
// Returns
//
// [
//   ["1763118000", "71260782.42422470", "96165.1", "96942.2", "95707.1", "96758.9", "739.87607500", "true"],
//   ["1763121600", "92234436.30238250", "95347.4", "96165.2", "94548.7", "96165.1", "966.04426800", "true"],
//   ["1763125200", "96825476.44251080", "95240.9", "95700", "94575", "95347.4", "1018.82525800", "false"]
// ]
//
// The field order is unusual: [timestamp, volume_quote, close, high, low, open, volume_base,
// window_close]. The last element flags whether the window is closed; the forming
// candlestick arrives with "false".
