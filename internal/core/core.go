// Package core builds the components, wires them together and owns their
// lifecycle.
//
// The candle path runs on the poller goroutines: each fresh batch lands in
// the rolling history first and is then handed to the detector, so by the
// time a filter fires the candle is already part of the instrument's
// history.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/DmitriyKotov1986/TradingCat/candles"
	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/fetcher"
	"github.com/DmitriyKotov1986/TradingCat/candles/history"
	"github.com/DmitriyKotov1986/TradingCat/internal/config"
	"github.com/DmitriyKotov1986/TradingCat/internal/detector"
	"github.com/DmitriyKotov1986/TradingCat/internal/metrics"
	"github.com/DmitriyKotov1986/TradingCat/internal/server"
	"github.com/DmitriyKotov1986/TradingCat/internal/session"
	"github.com/DmitriyKotov1986/TradingCat/internal/users"
)

const shutdownTimeout = 10 * time.Second

// Failure classes the process exit code is derived from.
var (
	// ErrSQLNotConnect marks a users database failure.
	ErrSQLNotConnect = errors.New("users database unavailable")

	// ErrHTTPServerNotListen marks an HTTP listener failure.
	ErrHTTPServerNotListen = errors.New("http server not listening")
)

// ingestSink receives fresh candles from the pollers. Every batch belongs
// to a single instrument and arrives on that instrument's poller
// goroutine, so history and detector see candles in order.
type ingestSink struct {
	index  *history.Index
	engine *detector.Engine
	klines *prometheus.CounterVec
}

func (s *ingestSink) AddKLines(stockExchange common.StockExchangeID, klines common.KLinesList) {
	if len(klines) == 0 {
		return
	}

	s.index.GetOrCreate(stockExchange, klines[0].ID).Append(klines...)
	s.engine.Process(stockExchange, klines)
	s.klines.WithLabelValues(string(stockExchange)).Add(float64(len(klines)))
}

// countingDelivery forwards detector events to the session registry. The
// registry field is set right after the registry is built; the detector is
// not started before that.
type countingDelivery struct {
	registry *session.Registry
	events   prometheus.Counter
}

func (d *countingDelivery) Deliver(sessionID int64, gen uint64, event detector.Event) {
	d.events.Inc()
	d.registry.Deliver(sessionID, gen, event)
}

// Core owns the wired components.
type Core struct {
	metrics  *metrics.Metrics
	index    *history.Index
	engine   *detector.Engine
	store    users.Store
	accounts *users.Users
	registry *session.Registry
	market   *candles.Market
	server   *server.Server

	wg sync.WaitGroup
}

// New builds every component in dependency order. It connects to the users
// database, so it can block for a while; pass a deadline on ctx to bound
// that.
func New(ctx context.Context, cfg *config.Config, version string) (*Core, error) {
	m := metrics.New()
	index := history.NewIndex()

	delivery := &countingDelivery{events: m.DetectEvents}
	engine := detector.New(index, delivery)

	store, err := users.NewSQLStore(ctx, cfg.Database.Driver, cfg.Database.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSQLNotConnect, err)
	}
	accounts, err := users.Load(ctx, store)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("%w: %v", ErrSQLNotConnect, err)
	}

	registry := session.NewRegistry(accounts, engine, cfg.Server.MaxUsers)
	delivery.registry = registry
	m.ObserveSessions(registry.Len)

	fetchPool := fetcher.New(
		fetcher.WithProxies(fetcherProxies(cfg.Proxies)),
		fetcher.WithDebug(cfg.System.DebugMode),
	)
	sink := &ingestSink{index: index, engine: engine, klines: m.KLines}
	market, err := candles.NewMarket(venueConfigs(cfg.StockExchanges), sink, index, fetchPool)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build stock exchanges: %w", err)
	}
	if cfg.System.DebugMode {
		market.SetDebug(true)
	}

	srv := server.New(server.Config{
		Address: cfg.Server.Address,
		Port:    cfg.Server.Port,
		Name:    cfg.Server.Name,
		Version: version,
	}, registry, market, m)

	return &Core{
		metrics:  m,
		index:    index,
		engine:   engine,
		store:    store,
		accounts: accounts,
		registry: registry,
		market:   market,
		server:   srv,
	}, nil
}

// Run starts the components and blocks until ctx is canceled or the HTTP
// listener fails. Either way the components are stopped, in reverse start
// order, before Run returns.
func (c *Core) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.engine.Start()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.accounts.RunFlusher(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.registry.RunSweeper(runCtx)
	}()

	if err := c.market.Start(runCtx); err != nil {
		c.stop(cancel, nil)
		return fmt.Errorf("start stock exchanges: %w", err)
	}

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- c.server.ListenAndServe()
	}()

	log.Info().Msg("core: started")

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("core: stop requested")
	case err := <-httpErr:
		httpErr = nil
		if err != nil {
			runErr = fmt.Errorf("%w: %v", ErrHTTPServerNotListen, err)
		}
	}

	c.stop(cancel, httpErr)

	return runErr
}

// stop tears the components down in reverse start order: HTTP first so no
// new requests come in, then the pollers, then the background loops (the
// flusher writes dirty accounts out on its way down), the detector last.
func (c *Core) stop(cancel context.CancelFunc, httpErr chan error) {
	if httpErr != nil {
		shutdownCtx, release := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := c.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("core: http shutdown failed")
		}
		release()
		<-httpErr
	}

	c.market.Stop()

	cancel()
	c.wg.Wait()

	c.engine.Stop()

	if err := c.store.Close(); err != nil {
		log.Error().Err(err).Msg("core: close users store")
	}

	log.Info().Msg("core: stopped")
}

func venueConfigs(stockExchanges []config.StockExchange) []candles.VenueConfig {
	configs := make([]candles.VenueConfig, 0, len(stockExchanges))
	for _, se := range stockExchanges {
		configs = append(configs, candles.VenueConfig{
			Type:      se.Type,
			User:      se.User,
			Password:  se.Password,
			Intervals: se.Intervals,
			Prefixes:  se.Prefixes,
		})
	}
	return configs
}

func fetcherProxies(proxies []config.Proxy) []fetcher.Proxy {
	out := make([]fetcher.Proxy, 0, len(proxies))
	for _, p := range proxies {
		out = append(out, fetcher.Proxy{
			Address:  p.Address,
			Port:     p.Port,
			User:     p.User,
			Password: p.Password,
		})
	}
	return out
}
