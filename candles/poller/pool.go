package poller

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/history"
)

const (
	// updateInstrumentsInterval is how often the tradable instrument list is rediscovered.
	updateInstrumentsInterval = 10 * time.Minute

	// discoveryRetryInterval is the pause after a failed discovery request.
	discoveryRetryInterval = 60 * time.Second
)

// Pool owns every poller of one stock exchange. It discovers the tradable instruments on
// start and every ten minutes after, and reconciles the poller set: new instruments get a
// poller per configured interval, delisted instruments get their pollers stopped and their
// histories dropped into the retired stash.
type Pool struct {
	stockExchange common.StockExchange
	intervals     []common.KLineInterval
	symbolFilter  func(string) bool
	sink          Sink
	index         *history.Index

	mu      sync.Mutex
	pollers map[common.KLineID]*runningPoller
	wg      sync.WaitGroup
}

type runningPoller struct {
	poller *Poller
	cancel context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithSymbolFilter restricts the discovered symbols, e.g. to configured name prefixes.
func WithSymbolFilter(filter func(string) bool) PoolOption {
	return func(p *Pool) { p.symbolFilter = filter }
}

// NewPool instantiates a Pool for one stock exchange. Intervals the exchange does not
// support are skipped without a poller.
func NewPool(stockExchange common.StockExchange, intervals []common.KLineInterval, sink Sink, index *history.Index, opts ...PoolOption) *Pool {
	p := &Pool{
		stockExchange: stockExchange,
		intervals:     intervals,
		symbolFilter:  func(string) bool { return true },
		sink:          sink,
		index:         index,
		pollers:       make(map[common.KLineID]*runningPoller),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run discovers instruments and keeps the poller set reconciled until the context is
// cancelled, then stops every poller and waits for them to drain.
func (p *Pool) Run(ctx context.Context) {
	defer func() {
		p.stopAll()
		p.wg.Wait()
		log.Info().Str("stockExchange", p.stockExchange.ID().String()).Msg("poller pool: stopped")
	}()

	log.Info().Str("stockExchange", p.stockExchange.ID().String()).Msg("poller pool: started")

	for {
		pause := updateInstrumentsInterval
		symbols, err := p.stockExchange.RequestSymbols(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			log.Warn().Str("stockExchange", p.stockExchange.ID().String()).Err(err).
				Msg("poller pool: instrument discovery failed")
			pause = discoveryRetryInterval
		default:
			p.Reconcile(ctx, symbols)
		}

		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return
		}
	}
}

// Reconcile brings the running poller set in line with the given symbol list. It is
// idempotent: reconciling the same list twice changes nothing.
func (p *Pool) Reconcile(ctx context.Context, symbols []string) {
	want := make(map[common.KLineID]bool)
	for _, symbol := range symbols {
		if !p.symbolFilter(symbol) {
			continue
		}
		for _, interval := range p.intervals {
			if p.stockExchange.SupportsInterval(interval) {
				want[common.KLineID{Symbol: symbol, Interval: interval}] = true
			}
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	added, removed := 0, 0
	for id, rp := range p.pollers {
		if want[id] {
			continue
		}
		rp.cancel()
		delete(p.pollers, id)
		p.index.Drop(p.stockExchange.ID(), id)
		removed++
	}

	for id := range want {
		if _, ok := p.pollers[id]; ok {
			continue
		}
		p.index.GetOrCreate(p.stockExchange.ID(), id)
		pollerCtx, cancel := context.WithCancel(ctx)
		rp := &runningPoller{poller: New(p.stockExchange, id, p.sink), cancel: cancel}
		p.pollers[id] = rp
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			rp.poller.Run(pollerCtx)
		}()
		added++
	}

	if added > 0 || removed > 0 {
		log.Info().Str("stockExchange", p.stockExchange.ID().String()).
			Int("added", added).Int("removed", removed).Int("running", len(p.pollers)).
			Msg("poller pool: reconciled")
	}
}

// Len returns the number of running pollers.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pollers)
}

func (p *Pool) stopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, rp := range p.pollers {
		rp.cancel()
		delete(p.pollers, id)
	}
}
