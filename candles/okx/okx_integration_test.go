package okx_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/fetcher"
	"github.com/DmitriyKotov1986/TradingCat/candles/okx"
)

func TestIntegration(t *testing.T) {
	t.Skip() // Skip by default, but run manually to verify implementation

	e := okx.NewOKX(fetcher.New())
	e.SetDebug(true)

	id := common.KLineID{Symbol: "BTC-USDT", Interval: common.Min1}
	startTime := common.NowMillis() - 10*common.Min1.Milliseconds()

	klines, err := e.RequestKLines(context.Background(), id, startTime, 10)
	require.Nil(t, err)
	require.NotEmpty(t, klines)
	for i := 1; i < len(klines); i++ {
		require.Greater(t, klines[i].CloseTime, klines[i-1].CloseTime)
	}

	symbols, err := e.RequestSymbols(context.Background())
	require.Nil(t, err)
	require.Contains(t, symbols, "BTC-USDT")
}
