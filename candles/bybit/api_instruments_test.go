package bybit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/fetcher"
)

func TestHappyToSymbols(t *testing.T) {
	testResponse := `{
		"retCode": 0,
		"retMsg": "OK",
		"result": {
			"category": "spot",
			"list": [
				{"symbol": "BTCUSDT", "quoteCoin": "USDT", "status": "Trading"},
				{"symbol": "ETHBTC", "quoteCoin": "BTC", "status": "Trading"},
				{"symbol": "LUNAUSDT", "quoteCoin": "USDT", "status": "Closed"}
			]
		}
	}`

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/market/instruments-info", r.URL.Path)
		require.Equal(t, "spot", r.URL.Query().Get("category"))
		fmt.Fprintln(w, testResponse)
	}))
	defer ts.Close()

	e := NewBybit(fetcher.New())
	e.SetDebug(true)
	e.apiURL = ts.URL + "/"

	actual, err := e.RequestSymbols(context.Background())
	require.Nil(t, err)
	require.Equal(t, []string{"BTCUSDT"}, actual)
}

func TestSymbolsErrorEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"retCode":10016,"retMsg":"Server error.","result":{}}`)
	}))
	defer ts.Close()

	e := NewBybit(fetcher.New())
	e.apiURL = ts.URL + "/"

	_, err := e.RequestSymbols(context.Background())
	require.Error(t, err)
	require.Equal(t, 10016, err.(common.KLineReqError).Code)
}

func TestSymbolsInvalidJSONResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `not json`)
	}))
	defer ts.Close()

	e := NewBybit(fetcher.New())
	e.apiURL = ts.URL + "/"

	_, err := e.RequestSymbols(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err.(common.KLineReqError).Err, common.ErrInvalidJSONResponse)
}
