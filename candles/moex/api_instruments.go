package moex

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

// securitiesPageSize is the row cap ISS enforces on the securities listing.
const securitiesPageSize = 100

type securitiesResponse struct {
	Securities securitiesTable `json:"securities"`
}

type securitiesTable struct {
	Columns []string        `json:"columns"`
	Data    [][]interface{} `json:"data"`
}

func (t securitiesTable) toSymbols(boards string) ([]string, error) {
	columns := columnIndexes(t.Columns)

	symbols := make([]string, 0, len(t.Data))
	for i, raw := range t.Data {
		secid, err := stringColumn(columns, raw, "secid", i)
		if err != nil {
			return nil, err
		}

		board, err := stringColumn(columns, raw, "primary_boardid", i)
		if err != nil {
			return nil, err
		}

		if board != boards {
			continue
		}

		symbols = append(symbols, secid)
	}

	return symbols, nil
}

func (e *MOEX) requestSymbols(ctx context.Context) ([]string, error) {
	var symbols []string

	// ISS pages the securities listing; a page with no rows means it is exhausted
	for start := 0; ; start += securitiesPageSize {
		pageSymbols, pageRows, err := e.requestSecuritiesPage(ctx, start)
		if err != nil {
			return nil, err
		}
		if pageRows == 0 {
			break
		}

		symbols = append(symbols, pageSymbols...)
	}

	if e.debug {
		log.Info().Str("stockExchange", "MOEX").Int("symbolCount", len(symbols)).Msg("Symbols request successful!")
	}

	return symbols, nil
}

func (e *MOEX) requestSecuritiesPage(ctx context.Context, start int) ([]string, int, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%viss/securities.json", e.apiURL), nil)
	e.setAuthHeaders(req)

	q := req.URL.Query()
	q.Add("iss.meta", "off")
	q.Add("engine", e.engines)
	q.Add("market", e.markets)
	q.Add("is_trading", "1")
	q.Add("limit", strconv.Itoa(securitiesPageSize))
	q.Add("start", strconv.Itoa(start))

	req.URL.RawQuery = q.Encode()

	resp, err := e.pool.Do(ctx, req)
	if err != nil {
		return nil, 0, common.KLineReqError{Err: fmt.Errorf("%w: %v", common.ErrExecutingRequest, err)}
	}
	defer resp.Body.Close()

	byts, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, common.KLineReqError{Err: common.ErrBrokenBodyResponse}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, 0, common.KLineReqError{Code: resp.StatusCode, Err: common.ErrInvalidJSONResponse}
	}

	maybeResponse := securitiesResponse{}
	if err := json.Unmarshal(byts, &maybeResponse); err != nil {
		return nil, 0, common.KLineReqError{Err: common.ErrInvalidJSONResponse}
	}

	symbols, err := maybeResponse.Securities.toSymbols(e.boards)
	if err != nil {
		return nil, 0, common.KLineReqError{Err: err}
	}

	return symbols, len(maybeResponse.Securities.Data), nil
}

// Example request for the securities listing on MOEX ISS:
// https://iss.moex.com/iss/securities.json?iss.meta=off&engine=stock&market=shares&is_trading=1&limit=100&start=0
//
// Returns
//
// {
//   "securities": {
//     "columns": ["id", "secid", "shortname", "regnumber", "name", "isin", "is_traded", "emitent_id", "emitent_title", "emitent_inn", "emitent_okpo", "gosreg", "type", "group", "primary_boardid", "marketprice_boardid"],
//     "data": [
//       [2700, "SBER", "Сбербанк", "10301481B", "Сбербанк России ПАО ао", "RU0009029540", 1, 1199, "Публичное акционерное общество \"Сбербанк России\"", "7707083893", "00032537", "10301481B", "common_share", "stock_shares", "TQBR", "TQBR"]
//     ]
//   }
// }
//
// The listing spans every board of the requested market; filtering on primary_boardid
// keeps the securities whose main board is the configured one.
