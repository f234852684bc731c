// Package detector evaluates user-configured anomaly filters over the
// candlestick stream.
//
// Pollers feed candle batches through Process. A sharded worker pool fans
// every batch out to per-session evaluation (shard = sessionID modulo the
// worker count) so evaluation for many sessions spreads over cores and a
// busy shard never stalls ingestion. The session registry announces sessions
// going online and offline; the engine keeps its own per-shard session maps
// and never calls back into the registry except to deliver events.
package detector

import (
	"runtime"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
	"github.com/DmitriyKotov1986/TradingCat/candles/history"
)

const (
	// eventHistoryDepth is how many trailing candlesticks an Event carries,
	// both of the matched instrument and of the 5 minute review stream.
	eventHistoryDepth = 20

	// volumeMeanDepth is how many trailing quote volumes the VolumeDelta
	// baseline is averaged over.
	volumeMeanDepth = 20

	minWorkers      = 4
	shardBufferSize = 256
)

// Event is one detection: the candlestick that matched, the filter that
// matched it, and enough history to draw a chart around it. ReviewHistory is
// a tail of the symbol's 5 minute stream, empty when that stream is not
// polled.
type Event struct {
	StockExchange common.StockExchangeID `json:"stockExchange"`
	KLine         common.KLine           `json:"kline"`
	Filter        Filter                 `json:"filter"`
	History       common.KLinesList      `json:"history"`
	ReviewHistory common.KLinesList      `json:"reviewHistory"`
}

// Delivery receives detection events for a session. Implementations are
// expected to drop events delivered under a stale config generation.
type Delivery interface {
	Deliver(sessionID int64, gen uint64, event Event)
}

type sessionState struct {
	id     int64
	gen    uint64
	config Config
	venues map[common.StockExchangeID]bool // nil subscribes every stock exchange
}

func (s *sessionState) subscribed(id common.StockExchangeID) bool {
	return s.venues == nil || s.venues[id]
}

type batch struct {
	stockExchange common.StockExchangeID
	klines        common.KLinesList
}

type shard struct {
	mu       sync.RWMutex
	sessions map[int64]*sessionState
	batches  chan batch
}

func (sh *shard) snapshot() []*sessionState {
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if len(sh.sessions) == 0 {
		return nil
	}
	states := make([]*sessionState, 0, len(sh.sessions))
	for _, st := range sh.sessions {
		states = append(states, st)
	}
	return states
}

// Engine is the detection worker pool.
type Engine struct {
	index    *history.Index
	delivery Delivery
	shards   []*shard

	done chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers overrides the worker count, which defaults to four per CPU.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.shards = makeShards(n)
		}
	}
}

// New builds an Engine delivering matches through delivery. Call Start to
// spin up the workers.
func New(index *history.Index, delivery Delivery, opts ...Option) *Engine {
	workers := 4 * runtime.NumCPU()
	if workers < minWorkers {
		workers = minWorkers
	}
	e := &Engine{
		index:    index,
		delivery: delivery,
		shards:   makeShards(workers),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func makeShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{
			sessions: make(map[int64]*sessionState),
			batches:  make(chan batch, shardBufferSize),
		}
	}
	return shards
}

// Start spins up the shard workers. Starting twice is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started || e.stopped {
		return
	}
	e.started = true

	for _, sh := range e.shards {
		e.wg.Add(1)
		go e.run(sh)
	}

	log.Info().Int("workers", len(e.shards)).Msg("detector: started")
}

// Stop shuts the workers down and waits for them. The engine cannot be
// restarted afterwards; Process becomes a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.stopped = true
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	close(e.done)
	e.wg.Wait()

	log.Info().Msg("detector: stopped")
}

// Process fans a candle batch out to every shard. It never blocks the
// caller: when a shard's queue is full the batch is dropped for that shard,
// trading detection completeness for ingestion liveness.
func (e *Engine) Process(stockExchange common.StockExchangeID, klines common.KLinesList) {
	if len(klines) == 0 {
		return
	}
	b := batch{stockExchange: stockExchange, klines: klines}
	for _, sh := range e.shards {
		select {
		case sh.batches <- b:
		default:
			log.Debug().Str("stockExchange", string(stockExchange)).Msg("detector: shard queue full, batch dropped")
		}
	}
}

// UserOnline registers a session on its shard, or replaces its configuration
// when the session is already registered. Events evaluated under an older
// gen are discarded at delivery.
func (e *Engine) UserOnline(sessionID int64, cfg Config, gen uint64) {
	state := &sessionState{id: sessionID, gen: gen, config: cfg}
	if len(cfg.Venues) > 0 {
		state.venues = make(map[common.StockExchangeID]bool, len(cfg.Venues))
		for _, id := range cfg.Venues {
			state.venues[id] = true
		}
	}

	sh := e.shardFor(sessionID)
	sh.mu.Lock()
	sh.sessions[sessionID] = state
	sh.mu.Unlock()
}

// UserOffline removes a session from its shard. Unknown sessions are a no-op.
func (e *Engine) UserOffline(sessionID int64) {
	sh := e.shardFor(sessionID)
	sh.mu.Lock()
	delete(sh.sessions, sessionID)
	sh.mu.Unlock()
}

func (e *Engine) shardFor(sessionID int64) *shard {
	return e.shards[int(sessionID%int64(len(e.shards)))]
}

func (e *Engine) run(sh *shard) {
	defer e.wg.Done()

	for {
		select {
		case <-e.done:
			return
		case b := <-sh.batches:
			e.evaluate(sh, b)
		}
	}
}

// evaluate walks the shard's sessions for every candlestick of the batch and
// delivers at most one event per (session, candlestick) pair: the first
// matching filter wins.
func (e *Engine) evaluate(sh *shard, b batch) {
	states := sh.snapshot()
	if len(states) == 0 {
		return
	}

	for _, k := range b.klines {
		var meanQuoteVolume float64
		var tail common.KLinesList
		if h, ok := e.index.Get(b.stockExchange, k.ID); ok {
			meanQuoteVolume = h.MeanQuoteVolume(volumeMeanDepth)
			tail = h.Tail(eventHistoryDepth)
		}

		var review common.KLinesList
		reviewLoaded := false

		for _, st := range states {
			if !st.subscribed(b.stockExchange) {
				continue
			}
			for i := range st.config.Filters {
				f := st.config.Filters[i]
				if !f.matches(k, meanQuoteVolume) {
					continue
				}
				if !reviewLoaded {
					review = e.reviewTail(b.stockExchange, k.ID.Symbol)
					reviewLoaded = true
				}
				e.delivery.Deliver(st.id, st.gen, Event{
					StockExchange: b.stockExchange,
					KLine:         k,
					Filter:        f,
					History:       tail,
					ReviewHistory: review,
				})
				break
			}
		}
	}
}

func (e *Engine) reviewTail(stockExchange common.StockExchangeID, symbol string) common.KLinesList {
	h, ok := e.index.Get(stockExchange, common.KLineID{Symbol: symbol, Interval: common.Min5})
	if !ok {
		return nil
	}
	return h.Tail(eventHistoryDepth)
}
