package candles

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/fetcher"
	"github.com/DmitriyKotov1986/TradingCat/candles/history"
	"github.com/DmitriyKotov1986/TradingCat/candles/poller"
)

type fakeStockExchange struct {
	mu      sync.Mutex
	id      common.StockExchangeID
	symbols []string
	debug   bool
}

func (f *fakeStockExchange) RequestKLines(ctx context.Context, id common.KLineID, startTime int64, count int) (common.KLinesList, error) {
	return nil, nil
}

func (f *fakeStockExchange) RequestSymbols(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.symbols, nil
}

func (f *fakeStockExchange) SupportsInterval(interval common.KLineInterval) bool { return true }
func (f *fakeStockExchange) MaxKLinesPerRequest() int                            { return 1000 }
func (f *fakeStockExchange) RefetchesLastKLine() bool                            { return false }
func (f *fakeStockExchange) ID() common.StockExchangeID                          { return f.id }

func (f *fakeStockExchange) SetDebug(debug bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.debug = debug
}

type fakeAuthExchange struct {
	*fakeStockExchange
	authCalls int
}

func (f *fakeAuthExchange) Authenticate(ctx context.Context) error {
	f.authCalls++
	return nil
}

type nopSink struct{}

func (nopSink) AddKLines(common.StockExchangeID, common.KLinesList) {}

func TestNewMarketBuildsEveryStockExchange(t *testing.T) {
	var configs []VenueConfig
	for _, id := range common.AllStockExchangeIDs() {
		configs = append(configs, VenueConfig{Type: id, Intervals: []common.KLineInterval{common.Min1}})
	}

	m, err := NewMarket(configs, nopSink{}, history.NewIndex(), fetcher.New())
	require.NoError(t, err)
	require.Equal(t, common.AllStockExchangeIDs(), m.StockExchangeIDs())

	for _, id := range common.AllStockExchangeIDs() {
		ids, err := m.KLineIDs(id)
		require.NoError(t, err)
		require.Empty(t, ids)
	}

	m.SetDebug(true)
	require.True(t, m.debug)
}

func TestNewMarketUnknownStockExchange(t *testing.T) {
	_, err := NewMarket([]VenueConfig{
		{Type: "NASDAQ", Intervals: []common.KLineInterval{common.Min1}},
	}, nopSink{}, history.NewIndex(), fetcher.New())
	require.ErrorIs(t, err, common.ErrUnsupportedStockExchange)
}

func TestNewMarketDuplicateStockExchange(t *testing.T) {
	_, err := NewMarket([]VenueConfig{
		{Type: common.MEXC, Intervals: []common.KLineInterval{common.Min1}},
		{Type: common.MEXC, Intervals: []common.KLineInterval{common.Min5}},
	}, nopSink{}, history.NewIndex(), fetcher.New())
	require.Error(t, err)
}

func TestNewMarketNoIntervals(t *testing.T) {
	_, err := NewMarket([]VenueConfig{
		{Type: common.MEXC},
	}, nopSink{}, history.NewIndex(), fetcher.New())
	require.Error(t, err)
}

func TestNewMarketNoStockExchanges(t *testing.T) {
	_, err := NewMarket(nil, nopSink{}, history.NewIndex(), fetcher.New())
	require.Error(t, err)
}

func TestKLineIDsUnknownStockExchange(t *testing.T) {
	m, err := NewMarket([]VenueConfig{
		{Type: common.MEXC, Intervals: []common.KLineInterval{common.Min1}},
	}, nopSink{}, history.NewIndex(), fetcher.New())
	require.NoError(t, err)

	_, err = m.KLineIDs(common.BYBIT)
	require.ErrorIs(t, err, common.ErrUnsupportedStockExchange)
}

func TestServiceStartStop(t *testing.T) {
	se := &fakeStockExchange{id: common.MEXC, symbols: []string{"BTCUSDT"}}
	index := history.NewIndex()
	s := &Service{
		stockExchange: se,
		pool:          poller.NewPool(se, []common.KLineInterval{common.Min1}, nopSink{}, index),
		index:         index,
	}

	require.NoError(t, s.Start(context.Background()))
	require.Error(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return len(s.KLineIDs()) == 1 }, time.Second, time.Millisecond)
	require.Equal(t, common.MEXC, s.ID())

	s.Stop()
	s.Stop()

	// Starting again after a stop is allowed.
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
}

func TestServiceAuthenticates(t *testing.T) {
	se := &fakeAuthExchange{fakeStockExchange: &fakeStockExchange{id: common.MOEX}}
	index := history.NewIndex()
	s := &Service{
		stockExchange: se,
		pool:          poller.NewPool(se, []common.KLineInterval{common.Min1}, nopSink{}, index),
		index:         index,
		authenticate:  true,
	}

	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	require.Equal(t, 1, se.authCalls)

	// Without credentials the login step is skipped.
	s.authenticate = false
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	require.Equal(t, 1, se.authCalls)
}

func TestPrefixFilter(t *testing.T) {
	all := prefixFilter(nil)
	require.True(t, all("BTCUSDT"))
	require.True(t, all("anything"))

	some := prefixFilter([]string{"BTC", "ETH"})
	require.True(t, some("BTCUSDT"))
	require.True(t, some("ETHUSDT"))
	require.False(t, some("SOLUSDT"))
}
