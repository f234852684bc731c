package moex

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

// moexDatetimeLayout is the wall clock format ISS uses for request parameters and
// candle boundaries alike.
const moexDatetimeLayout = "2006-01-02 15:04:05"

// mskZone is Moscow time. ISS serves and accepts wall clock times in it regardless
// of where the caller is.
var mskZone = time.FixedZone("MSK", 3*60*60)

type successfulResponse struct {
	Candles candlesTable `json:"candles"`
}

// candlesTable is the ISS table shape: column names in one array and rows of values
// in the same order in another.
type candlesTable struct {
	Columns []string        `json:"columns"`
	Data    [][]interface{} `json:"data"`
	Error   string          `json:"error"`
}

func (t candlesTable) toError() error {
	if t.Error == "" {
		return nil
	}
	return fmt.Errorf("moex returned error! Message: %v", t.Error)
}

// columnIndexes maps ISS column names to their positions. ISS declares the table
// layout in every response, so rows are read through the declared positions rather
// than fixed ones.
func columnIndexes(columns []string) map[string]int {
	indexes := make(map[string]int, len(columns))
	for i, name := range columns {
		indexes[name] = i
	}
	return indexes
}

func floatColumn(columns map[string]int, raw []interface{}, name string, i int) (float64, error) {
	index, ok := columns[name]
	if !ok || index >= len(raw) {
		return 0, fmt.Errorf("row %v has no %v column! Invalid syntax from MOEX", i, name)
	}

	value, ok := raw[index].(float64)
	if !ok {
		return 0, fmt.Errorf("row %v has non-number %v! Invalid syntax from MOEX", i, name)
	}

	return value, nil
}

func stringColumn(columns map[string]int, raw []interface{}, name string, i int) (string, error) {
	index, ok := columns[name]
	if !ok || index >= len(raw) {
		return "", fmt.Errorf("row %v has no %v column! Invalid syntax from MOEX", i, name)
	}

	value, ok := raw[index].(string)
	if !ok {
		return "", fmt.Errorf("row %v has non-string %v! Invalid syntax from MOEX", i, name)
	}

	return value, nil
}

func timeColumn(columns map[string]int, raw []interface{}, name string, i int) (int64, error) {
	value, err := stringColumn(columns, raw, name, i)
	if err != nil {
		return 0, err
	}

	t, err := time.ParseInLocation(moexDatetimeLayout, value, mskZone)
	if err != nil {
		return 0, fmt.Errorf("row %v had %v = %v! Invalid syntax from MOEX", i, name, value)
	}

	return t.UnixMilli(), nil
}

func (t candlesTable) toKLine(columns map[string]int, raw []interface{}, id common.KLineID, i int) (common.KLine, error) {
	openTime, err := timeColumn(columns, raw, "begin", i)
	if err != nil {
		return common.KLine{}, err
	}

	closeTime, err := timeColumn(columns, raw, "end", i)
	if err != nil {
		return common.KLine{}, err
	}

	openPrice, err := floatColumn(columns, raw, "open", i)
	if err != nil {
		return common.KLine{}, err
	}

	closePrice, err := floatColumn(columns, raw, "close", i)
	if err != nil {
		return common.KLine{}, err
	}

	highPrice, err := floatColumn(columns, raw, "high", i)
	if err != nil {
		return common.KLine{}, err
	}

	lowPrice, err := floatColumn(columns, raw, "low", i)
	if err != nil {
		return common.KLine{}, err
	}

	value, err := floatColumn(columns, raw, "value", i) // turnover in rubles
	if err != nil {
		return common.KLine{}, err
	}

	volume, err := floatColumn(columns, raw, "volume", i) // securities traded
	if err != nil {
		return common.KLine{}, err
	}

	kline := common.KLine{
		ID:          id,
		OpenTime:    openTime,
		CloseTime:   closeTime,
		Open:        common.JSONFloat64(openPrice),
		High:        common.JSONFloat64(highPrice),
		Low:         common.JSONFloat64(lowPrice),
		Close:       common.JSONFloat64(closePrice),
		Volume:      common.JSONFloat64(volume),
		QuoteVolume: common.JSONFloat64(value),
	}
	if err := kline.Check(); err != nil {
		return common.KLine{}, fmt.Errorf("candlestick %v did not pass validation: %v", i, err)
	}

	return kline, nil
}

func (t candlesTable) toKLines(id common.KLineID) (common.KLinesList, error) {
	columns := columnIndexes(t.Columns)

	klines := make(common.KLinesList, 0, len(t.Data))
	for i, raw := range t.Data {
		kline, err := t.toKLine(columns, raw, id, i)
		if err != nil {
			return nil, err
		}

		klines = append(klines, kline)
	}

	return klines, nil
}

// ISS interval codes are minutes for intraday candles, 24 for daily and 7 for
// weekly.
func intervalCode(interval common.KLineInterval) (string, bool) {
	switch interval {
	case common.Min1:
		return "1", true
	case common.Min10:
		return "10", true
	case common.Min60:
		return "60", true
	case common.Day1:
		return "24", true
	case common.Week1:
		return "7", true
	}
	return "", false
}

func (e *MOEX) requestKLines(ctx context.Context, id common.KLineID, startTime int64) (common.KLinesList, error) {
	interval, ok := intervalCode(id.Interval)
	if !ok {
		return nil, common.KLineReqError{IsNotRetryable: true, Err: common.ErrUnsupportedKLineInterval}
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%viss/engines/%v/markets/%v/boards/%v/securities/%v/candles.json", e.apiURL, e.engines, e.markets, e.boards, id.Symbol), nil)
	e.setAuthHeaders(req)

	q := req.URL.Query()
	q.Add("iss.meta", "off")
	q.Add("interval", interval)
	// from is inclusive and compares against candle opening times, so a candlestick
	// opening exactly at startTime is served. Truncating to whole seconds only ever
	// widens the window.
	q.Add("from", time.UnixMilli(startTime).In(mskZone).Format(moexDatetimeLayout))

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

	if resp.StatusCode != http.StatusOK {
		return nil, common.KLineReqError{Code: resp.StatusCode, Err: common.ErrInvalidJSONResponse}
	}

	maybeResponse := successfulResponse{}
	if err := json.Unmarshal(byts, &maybeResponse); err != nil {
		return nil, common.KLineReqError{Err: common.ErrInvalidJSONResponse}
	}

	if errResp := maybeResponse.Candles.toError(); errResp != nil {
		return nil, common.KLineReqError{Code: resp.StatusCode, Err: errResp}
	}

	klines, err := maybeResponse.Candles.toKLines(id)
	if err != nil {
		return nil, common.KLineReqError{Err: err}
	}

	if e.debug {
		log.Info().Str("stockExchange", "MOEX").Str("kline", id.String()).Int("klineCount", len(klines)).Msg("KLine request successful!")
	}

	return klines, nil
}

// Example request for candles on MOEX ISS:
// https://iss.moex.com/iss/engines/stock/markets/shares/boards/TQBR/securities/SBER/candles.json?iss.meta=off&interval=60&from=2022-09-01+10:00:00
//
// Returns
//
// {
//   "candles": {
//     "columns": ["open", "close", "high", "low", "value", "volume", "begin", "end"],
//     "data": [
//       [249.4, 250.05, 250.35, 249.22, 177437370.9, 711060, "2022-09-01 10:00:00", "2022-09-01 10:59:59"],
//       [250.05, 249.81, 250.18, 249.6, 98541228.3, 394480, "2022-09-01 11:00:00", "2022-09-01 11:59:59"]
//     ]
//   }
// }
//
// Rows are oldest first and all times are Moscow wall clock. value is the turnover in
// rubles and volume is the number of securities traded. The newest row is served even
// while its interval is still running, and keeps growing until the interval ends.
