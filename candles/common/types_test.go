package common

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKLineReqError(t *testing.T) {
	err := KLineReqError{Err: errors.New("for test")}
	require.Equal(t, "for test", err.Error())
}

func TestStockExchangeIDFromString(t *testing.T) {
	id, err := StockExchangeIDFromString("MEXC")
	require.Nil(t, err)
	require.Equal(t, MEXC, id)

	_, err = StockExchangeIDFromString("ANYTHING ELSE")
	require.ErrorIs(t, err, ErrUnsupportedStockExchange)
}

func TestKLineIDString(t *testing.T) {
	id := KLineID{Symbol: "BTCUSDT", Interval: Min1}
	require.Equal(t, "BTCUSDT:1m", id.String())
}

func TestKLineIDCheck(t *testing.T) {
	require.Nil(t, KLineID{Symbol: "BTCUSDT", Interval: Min1}.Check())
	require.NotNil(t, KLineID{Symbol: "", Interval: Min1}.Check())
	require.NotNil(t, KLineID{Symbol: "BTCUSDT", Interval: KLineInterval(123)}.Check())
}

func TestKLineDelta(t *testing.T) {
	tss := []struct {
		name     string
		kline    KLine
		expected float64
	}{
		{
			name:     "three percent move",
			kline:    KLine{Open: f(100), High: f(103), Low: f(100), Close: f(100)},
			expected: 0.03,
		},
		{
			name:     "flat kline",
			kline:    KLine{Open: f(50), High: f(50), Low: f(50), Close: f(50)},
			expected: 0,
		},
		{
			name:     "zero low does not divide",
			kline:    KLine{Open: f(0), High: f(1), Low: f(0), Close: f(1)},
			expected: 0,
		},
	}
	for _, ts := range tss {
		t.Run(ts.name, func(t *testing.T) {
			require.InDelta(t, ts.expected, ts.kline.Delta(), 1e-9)
		})
	}
}

func TestKLineVolumeDelta(t *testing.T) {
	k := KLine{QuoteVolume: f(300)}
	require.InDelta(t, 3.0, k.VolumeDelta(100), 1e-9)
	require.Equal(t, 0.0, k.VolumeDelta(0))
}

func TestKLineCheck(t *testing.T) {
	valid := KLine{
		ID:       KLineID{Symbol: "BTCUSDT", Interval: Min1},
		OpenTime: 1660000000000, CloseTime: 1660000059999,
		Open: f(100), High: f(103), Low: f(100), Close: f(101),
		Volume: f(10), QuoteVolume: f(1000),
	}
	require.Nil(t, valid.Check())

	closedBeforeOpen := valid
	closedBeforeOpen.CloseTime = valid.OpenTime
	require.ErrorIs(t, closedBeforeOpen.Check(), ErrInvalidKLine)

	highBelowLow := valid
	highBelowLow.High = f(99)
	require.ErrorIs(t, highBelowLow.Check(), ErrInvalidKLine)

	negativeVolume := valid
	negativeVolume.Volume = f(-1)
	require.ErrorIs(t, negativeVolume.Check(), ErrInvalidKLine)
}
