package detector

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/history"
)

type deliveredEvent struct {
	sessionID int64
	gen       uint64
	event     Event
}

type captureDelivery struct {
	mu     sync.Mutex
	events []deliveredEvent
}

func (c *captureDelivery) Deliver(sessionID int64, gen uint64, event Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, deliveredEvent{sessionID: sessionID, gen: gen, event: event})
}

func (c *captureDelivery) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func (c *captureDelivery) all() []deliveredEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]deliveredEvent(nil), c.events...)
}

func deltaConfig() Config {
	return Config{Filters: []Filter{{Type: Delta, Min: 0.02, Max: 1.0, Interval: common.Min1}}}
}

func spikyKLine(symbol string, openTime int64) common.KLine {
	return common.KLine{
		ID:          common.KLineID{Symbol: symbol, Interval: common.Min1},
		OpenTime:    openTime,
		CloseTime:   openTime + common.Min1.Milliseconds() - 1,
		Open:        100,
		High:        150,
		Low:         100,
		Close:       150,
		Volume:      5,
		QuoteVolume: 500,
	}
}

func flatKLine(symbol string, interval common.KLineInterval, openTime int64, quoteVolume float64) common.KLine {
	return common.KLine{
		ID:          common.KLineID{Symbol: symbol, Interval: interval},
		OpenTime:    openTime,
		CloseTime:   openTime + interval.Milliseconds() - 1,
		Open:        100,
		High:        100.5,
		Low:         100,
		Close:       100.5,
		Volume:      1,
		QuoteVolume: common.JSONFloat64(quoteVolume),
	}
}

func TestEngineDeliversDeltaEvent(t *testing.T) {
	index := history.NewIndex()
	capture := &captureDelivery{}
	e := New(index, capture, WithWorkers(2))
	e.Start()
	defer e.Stop()

	e.UserOnline(7, deltaConfig(), 1)

	review := flatKLine("BTCUSDT", common.Min5, 0, 2500)
	index.GetOrCreate(common.MEXC, review.ID).Append(review)

	kline := spikyKLine("BTCUSDT", 60_000)
	index.GetOrCreate(common.MEXC, kline.ID).Append(kline)
	e.Process(common.MEXC, common.KLinesList{kline})

	require.Eventually(t, func() bool { return capture.count() == 1 }, time.Second, time.Millisecond)

	got := capture.all()[0]
	require.Equal(t, int64(7), got.sessionID)
	require.Equal(t, uint64(1), got.gen)
	require.Equal(t, common.MEXC, got.event.StockExchange)
	require.Equal(t, kline, got.event.KLine)
	require.Equal(t, Delta, got.event.Filter.Type)
	require.Equal(t, common.KLinesList{kline}, got.event.History)
	require.Equal(t, common.KLinesList{review}, got.event.ReviewHistory)
}

func TestEngineFirstMatchingFilterWins(t *testing.T) {
	index := history.NewIndex()
	capture := &captureDelivery{}
	e := New(index, capture, WithWorkers(2))
	e.Start()
	defer e.Stop()

	// Both filters match the candlestick, but only the first fires.
	e.UserOnline(7, Config{Filters: []Filter{
		{Type: Delta, Min: 0.02, Max: 1.0, Interval: common.Min1},
		{Type: Delta, Min: 0.01, Max: 2.0, Interval: common.Min1},
	}}, 1)

	kline := spikyKLine("BTCUSDT", 60_000)
	index.GetOrCreate(common.MEXC, kline.ID).Append(kline)
	e.Process(common.MEXC, common.KLinesList{kline})

	require.Eventually(t, func() bool { return capture.count() == 1 }, time.Second, time.Millisecond)
	require.Never(t, func() bool { return capture.count() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
	require.Equal(t, 1.0, capture.all()[0].event.Filter.Max)
}

func TestEngineVolumeDelta(t *testing.T) {
	index := history.NewIndex()
	capture := &captureDelivery{}
	e := New(index, capture, WithWorkers(2))
	e.Start()
	defer e.Stop()

	e.UserOnline(3, Config{Filters: []Filter{{Type: VolumeDelta, Min: 2, Max: 10, Interval: common.Min1}}}, 1)

	// 21 flat candlesticks put the mean quote volume at 100, then a 500
	// quote volume spike lands a ratio of 5.
	h := index.GetOrCreate(common.MEXC, common.KLineID{Symbol: "BTCUSDT", Interval: common.Min1})
	for i := int64(0); i < 21; i++ {
		h.Append(flatKLine("BTCUSDT", common.Min1, i*60_000, 100))
	}
	spike := flatKLine("BTCUSDT", common.Min1, 21*60_000, 500)
	h.Append(spike)
	e.Process(common.MEXC, common.KLinesList{spike})

	require.Eventually(t, func() bool { return capture.count() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, spike, capture.all()[0].event.KLine)

	// An instrument with no accumulated history has no volume baseline, so
	// the same filter stays quiet.
	fresh := flatKLine("ETHUSDT", common.Min1, 0, 500)
	index.GetOrCreate(common.MEXC, fresh.ID).Append(fresh)
	e.Process(common.MEXC, common.KLinesList{fresh})

	require.Never(t, func() bool { return capture.count() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestEngineVenueSubscription(t *testing.T) {
	index := history.NewIndex()
	capture := &captureDelivery{}
	e := New(index, capture, WithWorkers(2))
	e.Start()
	defer e.Stop()

	cfg := deltaConfig()
	cfg.Venues = []common.StockExchangeID{common.GATE}
	e.UserOnline(5, cfg, 1)

	kline := spikyKLine("BTCUSDT", 60_000)
	index.GetOrCreate(common.MEXC, kline.ID).Append(kline)
	e.Process(common.MEXC, common.KLinesList{kline})
	require.Never(t, func() bool { return capture.count() > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	index.GetOrCreate(common.GATE, kline.ID).Append(kline)
	e.Process(common.GATE, common.KLinesList{kline})
	require.Eventually(t, func() bool { return capture.count() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, common.GATE, capture.all()[0].event.StockExchange)
}

func TestEngineUserOffline(t *testing.T) {
	index := history.NewIndex()
	capture := &captureDelivery{}
	e := New(index, capture, WithWorkers(2))
	e.Start()
	defer e.Stop()

	e.UserOnline(9, deltaConfig(), 1)

	first := spikyKLine("BTCUSDT", 60_000)
	index.GetOrCreate(common.MEXC, first.ID).Append(first)
	e.Process(common.MEXC, common.KLinesList{first})
	require.Eventually(t, func() bool { return capture.count() == 1 }, time.Second, time.Millisecond)

	e.UserOffline(9)

	second := spikyKLine("BTCUSDT", 120_000)
	index.GetOrCreate(common.MEXC, second.ID).Append(second)
	e.Process(common.MEXC, common.KLinesList{second})
	require.Never(t, func() bool { return capture.count() > 1 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestEngineConfigReplacement(t *testing.T) {
	index := history.NewIndex()
	capture := &captureDelivery{}
	e := New(index, capture, WithWorkers(2))
	e.Start()
	defer e.Stop()

	e.UserOnline(4, deltaConfig(), 1)

	first := spikyKLine("BTCUSDT", 60_000)
	index.GetOrCreate(common.MEXC, first.ID).Append(first)
	e.Process(common.MEXC, common.KLinesList{first})
	require.Eventually(t, func() bool { return capture.count() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, uint64(1), capture.all()[0].gen)

	// Re-announcing the session replaces its config and gen in place.
	e.UserOnline(4, deltaConfig(), 2)

	second := spikyKLine("BTCUSDT", 120_000)
	index.GetOrCreate(common.MEXC, second.ID).Append(second)
	e.Process(common.MEXC, common.KLinesList{second})
	require.Eventually(t, func() bool { return capture.count() == 2 }, time.Second, time.Millisecond)
	require.Equal(t, uint64(2), capture.all()[1].gen)
}

func TestEngineFansOutToAllSessions(t *testing.T) {
	index := history.NewIndex()
	capture := &captureDelivery{}
	e := New(index, capture, WithWorkers(2))
	e.Start()
	defer e.Stop()

	// Session ids 1 and 2 land on different shards.
	e.UserOnline(1, deltaConfig(), 1)
	e.UserOnline(2, deltaConfig(), 1)

	kline := spikyKLine("BTCUSDT", 60_000)
	index.GetOrCreate(common.MEXC, kline.ID).Append(kline)
	e.Process(common.MEXC, common.KLinesList{kline})

	require.Eventually(t, func() bool { return capture.count() == 2 }, time.Second, time.Millisecond)
	ids := map[int64]bool{}
	for _, d := range capture.all() {
		ids[d.sessionID] = true
	}
	require.Equal(t, map[int64]bool{1: true, 2: true}, ids)
}

func TestEngineStopIsFinal(t *testing.T) {
	index := history.NewIndex()
	capture := &captureDelivery{}
	e := New(index, capture, WithWorkers(2))
	e.Start()
	e.Stop()
	e.Stop()

	// Neither processing nor restarting panics after a stop.
	e.Process(common.MEXC, common.KLinesList{spikyKLine("BTCUSDT", 60_000)})
	e.Start()
	e.Stop()
}
