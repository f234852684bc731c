package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
)

type response struct {
	Code string     `json:"code"`
	Msg  string     `json:"msg"`
	Data [][]string `json:"data"`
}

type kucoinKLine struct {
	Time     int64   // Start time of the candle cycle
	Open     float64 // Opening price
	Close    float64 // Closing price
	High     float64 // Highest price
	Low      float64 // Lowest price
	Volume   float64 // Transaction volume
	Turnover float64 // Transaction amount
}

func responseToKLines(data [][]string, id common.KLineID) (common.KLinesList, error) {
	klines := make(common.KLinesList, len(data))
	for i := 0; i < len(data); i++ {
		raw := data[i]
		kline := kucoinKLine{}
		if len(raw) != 7 {
			return nil, fmt.Errorf("candlestick %v has len != 7! Invalid syntax from Kucoin", i)
		}
		rawOpenTime, err := strconv.ParseInt(raw[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v has non-int open time! Err was %v. Invalid syntax from Kucoin", i, err)
		}
		kline.Time = rawOpenTime

		rawOpen, err := strconv.ParseFloat(raw[1], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v has non-float open! Err was %v. Invalid syntax from Kucoin", i, err)
		}
		kline.Open = rawOpen

		rawClose, err := strconv.ParseFloat(raw[2], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v has non-float close! Err was %v. Invalid syntax from Kucoin", i, err)
		}
		kline.Close = rawClose

		rawHigh, err := strconv.ParseFloat(raw[3], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v has non-float high! Err was %v. Invalid syntax from Kucoin", i, err)
		}
		kline.High = rawHigh

		rawLow, err := strconv.ParseFloat(raw[4], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v has non-float low! Err was %v. Invalid syntax from Kucoin", i, err)
		}
		kline.Low = rawLow

		rawVolume, err := strconv.ParseFloat(raw[5], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v has non-float volume! Err was %v. Invalid syntax from Kucoin", i, err)
		}
		kline.Volume = rawVolume

		rawTurnover, err := strconv.ParseFloat(raw[6], 64)
		if err != nil {
			return nil, fmt.Errorf("candlestick %v has non-float turnover! Err was %v. Invalid syntax from Kucoin", i, err)
		}
		kline.Turnover = rawTurnover

		openTime := kline.Time * 1000
		klines[i] = common.KLine{
			ID:          id,
			OpenTime:    openTime,
			CloseTime:   openTime + id.Interval.Milliseconds(),
			Open:        common.JSONFloat64(kline.Open),
			High:        common.JSONFloat64(kline.High),
			Low:         common.JSONFloat64(kline.Low),
			Close:       common.JSONFloat64(kline.Close),
			Volume:      common.JSONFloat64(kline.Volume),
			QuoteVolume: common.JSONFloat64(kline.Turnover),
		}
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
		return "1hour", true
	case common.Hour4:
		return "4hour", true
	case common.Hour8:
		return "8hour", true
	case common.Day1:
		return "1day", true
	case common.Week1:
		return "1week", true
	}
	return "", false
}

func (e *Kucoin) requestKLines(ctx context.Context, id common.KLineID, startTime int64) (common.KLinesList, error) {
	klineType, ok := intervalCode(id.Interval)
	if !ok {
		return nil, common.KLineReqError{IsNotRetryable: true, Err: common.ErrUnsupportedKLineInterval}
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%vv1/market/candles", e.apiURL), nil)

	startAt := startTime / 1000

	q := req.URL.Query()
	q.Add("symbol", id.Symbol)
	q.Add("type", klineType)
	q.Add("startAt", strconv.FormatInt(startAt, 10))
	q.Add("endAt", strconv.FormatInt(startAt+1500*(id.Interval.Milliseconds()/1000), 10))

	req.URL.RawQuery = q.Encode()

	resp, err := e.pool.Do(ctx, req)
	if err != nil {
		return nil, common.KLineReqError{Err: fmt.Errorf("%w: %v", common.ErrExecutingRequest, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		// the docs ask for an 11 second pause after a 429
		return nil, common.KLineReqError{Code: resp.StatusCode, Err: common.ErrRateLimit, RetryAfter: 11 * time.Second}
	}

	byts, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, common.KLineReqError{Err: common.ErrBrokenBodyResponse}
	}

	maybeResponse := response{}
	err = json.Unmarshal(byts, &maybeResponse)
	if err == nil && (maybeResponse.Code != "200000" || maybeResponse.Msg != "") {
		if maybeResponse.Code == "400100" && maybeResponse.Msg == "This pair is not provided at present" {
			return nil, common.KLineReqError{IsNotRetryable: true, Err: common.ErrInvalidSymbol}
		}

		rErr := fmt.Errorf("kucoin returned error code! Code: %v, Message: %v", maybeResponse.Code, maybeResponse.Msg)
		// https://docs.kucoin.com/#request codes are numeric
		code, _ := strconv.Atoi(maybeResponse.Code)
		return nil, common.KLineReqError{Code: code, Err: rErr}
	}
	if err != nil {
		return nil, common.KLineReqError{Err: common.ErrInvalidJSONResponse}
	}

	klines, err := responseToKLines(maybeResponse.Data, id)
	if err != nil {
		return nil, common.KLineReqError{Err: err}
	}

	if e.debug {
		log.Info().Str("stockExchange", "KUCOIN").Str("kline", id.String()).Int("klineCount", len(klines)).Msg("KLine request successful!")
	}

	return klines, nil
}

// Example request for klines on KuCoin:
// https://api.kucoin.com/api/v1/market/candles?symbol=BTC-USDT&type=1min&startAt=1642329924&endAt=1642419924
//
// Returns
//
// {
//   "code": "200000",
//   "data": [
//     ["1642419900", "43178.3", "43157.8", "43178.3", "43151.2", "0.71941278", "31061.51298934"],
//     ["1642419840", "43183.2", "43178.3", "43183.2", "43162.8", "0.84354124", "36425.80006979"],
//     ["1642419780", "43203.6", "43183.2", "43203.6", "43177.4", "1.34830096", "58243.40046148"]
//   ]
// }
//
// Rows are descending by time and shaped [time, open, close, high, low, volume, turnover].
// KuCoin serves the forming candlestick when the requested window reaches the present.
