package kucoin

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
		"code": "200000",
		"data": [
			{"symbol": "BTC-USDT", "quoteCurrency": "USDT", "enableTrading": true},
			{"symbol": "ETH-BTC", "quoteCurrency": "BTC", "enableTrading": true},
			{"symbol": "DEAD-USDT", "quoteCurrency": "USDT", "enableTrading": false}
		]
	}`

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/symbols", r.URL.Path)
		fmt.Fprintln(w, testResponse)
	}))
	defer ts.Close()

	e := NewKucoin(fetcher.New())
	e.SetDebug(true)
	e.apiURL = ts.URL + "/"

	actual, err := e.RequestSymbols(context.Background())
	require.Nil(t, err)
	require.Equal(t, []string{"BTC-USDT"}, actual)
}

func TestSymbolsErrorEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"code": "500000", "msg": "Internal Server Error"}`)
	}))
	defer ts.Close()

	e := NewKucoin(fetcher.New())
	e.apiURL = ts.URL + "/"

	_, err := e.RequestSymbols(context.Background())
	require.Error(t, err)
	require.Equal(t, 500000, err.(common.KLineReqError).Code)
}

func TestSymbolsInvalidJSONResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `not json`)
	}))
	defer ts.Close()

	e := NewKucoin(fetcher.New())
	e.apiURL = ts.URL + "/"

	_, err := e.RequestSymbols(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err.(common.KLineReqError).Err, common.ErrInvalidJSONResponse)
}
