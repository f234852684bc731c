// Package candles ties the per-venue building blocks together: it builds one
// Service per configured stock exchange, each owning an adapter, its instrument
// discovery and its poller set.
package candles

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/DmitriyKotov1986/TradingCat/candles/bitget"
	"github.com/DmitriyKotov1986/TradingCat/candles/bitmart"
	"github.com/DmitriyKotov1986/TradingCat/candles/bybit"
	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/fetcher"
	"github.com/DmitriyKotov1986/TradingCat/candles/gate"
	"github.com/DmitriyKotov1986/TradingCat/candles/history"
	"github.com/DmitriyKotov1986/TradingCat/candles/htx"
	"github.com/DmitriyKotov1986/TradingCat/candles/kucoin"
	"github.com/DmitriyKotov1986/TradingCat/candles/mexc"
	"github.com/DmitriyKotov1986/TradingCat/candles/moex"
	"github.com/DmitriyKotov1986/TradingCat/candles/okx"
	"github.com/DmitriyKotov1986/TradingCat/candles/poller"
)

// VenueConfig describes one stock exchange to run: optional API credentials, the
// candlestick intervals to poll and the symbol name prefixes to accept (empty
// accepts every symbol the exchange's discovery serves).
type VenueConfig struct {
	Type      common.StockExchangeID
	User      string
	Password  string
	Intervals []common.KLineInterval
	Prefixes  []string
}

// Market struct owns one running Service per configured stock exchange.
type Market struct {
	services map[common.StockExchangeID]*Service
	order    []common.StockExchangeID
	debug    bool
}

// NewMarket constructs a market from the configured venue list. Unknown or
// duplicate stock exchange types and empty interval lists fail construction.
func NewMarket(configs []VenueConfig, sink poller.Sink, index *history.Index, fetchPool *fetcher.Pool) (*Market, error) {
	m := &Market{services: make(map[common.StockExchangeID]*Service)}

	for _, cfg := range configs {
		if _, ok := m.services[cfg.Type]; ok {
			return nil, fmt.Errorf("stock exchange %v is configured twice", cfg.Type)
		}
		if len(cfg.Intervals) == 0 {
			return nil, fmt.Errorf("stock exchange %v has no kline intervals configured", cfg.Type)
		}

		stockExchange, err := buildStockExchange(cfg, fetchPool)
		if err != nil {
			return nil, err
		}

		m.services[cfg.Type] = &Service{
			stockExchange: stockExchange,
			pool: poller.NewPool(stockExchange, cfg.Intervals, sink, index,
				poller.WithSymbolFilter(prefixFilter(cfg.Prefixes))),
			index:        index,
			authenticate: cfg.User != "",
		}
		m.order = append(m.order, cfg.Type)
	}

	if len(m.services) == 0 {
		return nil, errors.New("no stock exchanges configured")
	}

	return m, nil
}

// Start launches every service. A service that is already running makes it fail.
func (m *Market) Start(ctx context.Context) error {
	for _, id := range m.order {
		if err := m.services[id].Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Stop stops every service and waits for their pollers to drain.
func (m *Market) Stop() {
	for _, id := range m.order {
		m.services[id].Stop()
	}
}

// StockExchangeIDs returns the configured stock exchanges in configuration order.
func (m *Market) StockExchangeIDs() []common.StockExchangeID {
	return append([]common.StockExchangeID(nil), m.order...)
}

// KLineIDs returns a snapshot of the instruments currently polled on the given
// stock exchange.
func (m *Market) KLineIDs(id common.StockExchangeID) ([]common.KLineID, error) {
	s, ok := m.services[id]
	if !ok {
		return nil, fmt.Errorf("%w: %v", common.ErrUnsupportedStockExchange, id)
	}
	return s.KLineIDs(), nil
}

// SetDebug sets debug logging across all stock exchanges and the Market struct itself. Useful to know how many times an
// exchange is being requested.
func (m *Market) SetDebug(debug bool) {
	m.debug = debug
	for _, s := range m.services {
		s.stockExchange.SetDebug(debug)
	}
}

// Service runs one stock exchange: discovery reconciles the poller set, the pollers
// feed the sink.
type Service struct {
	stockExchange common.StockExchange
	pool          *poller.Pool
	index         *history.Index
	authenticate  bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// authenticator is implemented by exchanges with an account login step (MOEX).
type authenticator interface {
	Authenticate(ctx context.Context) error
}

// Start launches discovery and polling. It fails when the service is already
// running. An authentication failure is logged and the service continues
// anonymously, the exchange serves delayed data in that case.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("stock exchange %v is already started", s.stockExchange.ID())
	}

	if auth, ok := s.stockExchange.(authenticator); ok && s.authenticate {
		if err := auth.Authenticate(ctx); err != nil {
			log.Warn().Str("stockExchange", s.stockExchange.ID().String()).Err(err).
				Msg("candles: authentication failed, continuing anonymously")
		} else {
			log.Info().Str("stockExchange", s.stockExchange.ID().String()).Msg("candles: authenticated")
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func(done chan struct{}) {
		defer close(done)
		s.pool.Run(runCtx)
	}(s.done)

	return nil
}

// Stop cancels discovery and polling and waits for the pollers to drain. Stopping
// a stopped service is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

// ID is the name of the stock exchange this service runs.
func (s *Service) ID() common.StockExchangeID {
	return s.stockExchange.ID()
}

// KLineIDs returns a snapshot of the instruments currently polled.
func (s *Service) KLineIDs() []common.KLineID {
	return s.index.KLineIDs(s.stockExchange.ID())
}

func buildStockExchange(cfg VenueConfig, pool *fetcher.Pool) (common.StockExchange, error) {
	switch cfg.Type {
	case common.MOEX:
		var options []moex.Option
		if cfg.User != "" {
			options = append(options, moex.WithCredentials(cfg.User, cfg.Password))
		}
		return moex.NewMOEX(pool, options...), nil
	case common.MEXC:
		var options []mexc.Option
		if cfg.User != "" {
			options = append(options, mexc.WithCredentials(cfg.User, cfg.Password))
		}
		return mexc.NewMexc(pool, options...), nil
	case common.GATE:
		return gate.NewGate(pool), nil
	case common.KUCOIN:
		return kucoin.NewKucoin(pool), nil
	case common.BYBIT:
		return bybit.NewBybit(pool), nil
	case common.BITGET:
		return bitget.NewBitget(pool), nil
	case common.BITMART:
		return bitmart.NewBitmart(pool), nil
	case common.HTX:
		return htx.NewHTX(pool), nil
	case common.OKX:
		return okx.NewOKX(pool), nil
	}
	return nil, fmt.Errorf("%w: %v", common.ErrUnsupportedStockExchange, cfg.Type)
}

func prefixFilter(prefixes []string) func(string) bool {
	if len(prefixes) == 0 {
		return func(string) bool { return true }
	}
	return func(symbol string) bool {
		for _, prefix := range prefixes {
			if strings.HasPrefix(symbol, prefix) {
				return true
			}
		}
		return false
	}
}
