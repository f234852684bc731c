package bitget

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
		"code": "00000",
		"msg": "success",
		"data": [
			{"symbol": "BTCUSDT_SPBL", "quoteCoin": "USDT", "status": "online"},
			{"symbol": "ETHBTC_SPBL", "quoteCoin": "BTC", "status": "online"},
			{"symbol": "DEADUSDT_SPBL", "quoteCoin": "USDT", "status": "offline"}
		]
	}`

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/public/products", r.URL.Path)
		fmt.Fprintln(w, testResponse)
	}))
	defer ts.Close()

	e := NewBitget(fetcher.New())
	e.SetDebug(true)
	e.apiURL = ts.URL + "/"

	actual, err := e.RequestSymbols(context.Background())
	require.Nil(t, err)
	require.Equal(t, []string{"BTCUSDT_SPBL"}, actual)
}

func TestSymbolsErrorEnvelope(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"code":"40845","msg":"Service unavailable"}`)
	}))
	defer ts.Close()

	e := NewBitget(fetcher.New())
	e.apiURL = ts.URL + "/"

	_, err := e.RequestSymbols(context.Background())
	require.Error(t, err)
	require.Equal(t, 40845, err.(common.KLineReqError).Code)
}

func TestSymbolsInvalidJSONResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `not json`)
	}))
	defer ts.Close()

	e := NewBitget(fetcher.New())
	e.apiURL = ts.URL + "/"

	_, err := e.RequestSymbols(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err.(common.KLineReqError).Err, common.ErrInvalidJSONResponse)
}
