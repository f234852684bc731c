// Package poller implements the per-instrument polling loops and the per-exchange pool
// that reconciles them against instrument discovery.
//
// One Poller owns one (stock exchange, symbol, interval) stream. It requests just enough
// klines to cover the gap since the last closed kline it has seen, deduplicates overlap,
// hands fresh klines to its sink and paces itself with an interval-proportional cooldown.
// Upstream trouble is classified into a long backoff (the exchange answered with an error
// status) or a short randomized backoff (transport or payload trouble).
package poller

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
)

const (
	// backfillKLines is how far the very first request of a poller reaches back.
	backfillKLines = 60

	// requestSlack is added to the computed request size to absorb clock skew.
	requestSlack = 10

	// maxPace caps cooldowns and backoff contributions for the long intervals, so a daily
	// or weekly stream still refreshes and reacts to shutdown at a sane rate.
	maxPace = 10 * time.Minute

	longBackoff      = 10 * time.Minute
	shortBackoffBase = 60 * time.Second
)

// Sink receives the fresh klines of one poll round, ascending by closeTime.
type Sink interface {
	AddKLines(stockExchange common.StockExchangeID, klines common.KLinesList)
}

// Poller polls a single instrument's kline stream.
type Poller struct {
	stockExchange common.StockExchange
	id            common.KLineID
	sink          Sink

	lastClosedSeen int64
}

// New instantiates a Poller for one instrument.
func New(stockExchange common.StockExchange, id common.KLineID, sink Sink) *Poller {
	return &Poller{stockExchange: stockExchange, id: id, sink: sink}
}

// Run polls until the context is cancelled. Cancellation is observed within one in-flight
// request because the underlying requests are context-aware.
func (p *Poller) Run(ctx context.Context) {
	interval := p.id.Interval.Milliseconds()
	p.lastClosedSeen = common.NowMillis() - backfillKLines*interval

	for {
		klines, err := p.stockExchange.RequestKLines(ctx, p.id, p.lastClosedSeen, p.requestCount())

		var pause time.Duration
		switch {
		case ctx.Err() != nil:
			return
		case err == nil:
			if fresh := p.fresh(klines); len(fresh) > 0 {
				p.sink.AddKLines(p.stockExchange.ID(), fresh)
				p.lastClosedSeen = fresh[len(fresh)-1].CloseTime
				if p.stockExchange.RefetchesLastKLine() {
					p.lastClosedSeen -= interval
				}
			}
			pause = p.cooldown()
		default:
			pause = p.backoff(err)
		}

		select {
		case <-time.After(pause):
		case <-ctx.Done():
			return
		}
	}
}

// ID returns the instrument this poller owns.
func (p *Poller) ID() common.KLineID {
	return p.id
}

// requestCount sizes the next request to cover the gap since the last closed kline seen,
// clamped to the exchange's per-request cap.
func (p *Poller) requestCount() int {
	interval := p.id.Interval.Milliseconds()
	gap := common.NowMillis() - p.lastClosedSeen
	count := int((gap+interval-1)/interval) + requestSlack
	if max := p.stockExchange.MaxKLinesPerRequest(); count > max {
		count = max
	}
	if count < 1 {
		count = 1
	}
	return count
}

// fresh drops klines already seen. Requests deliberately overlap the previous round, so
// anything closed at or before lastClosedSeen is overlap, not new data.
func (p *Poller) fresh(klines common.KLinesList) common.KLinesList {
	fresh := klines[:0:0]
	for _, k := range klines {
		if k.CloseTime > p.lastClosedSeen {
			fresh = append(fresh, k)
		}
	}
	return fresh
}

func (p *Poller) cooldown() time.Duration {
	cooldown := 2 * p.id.Interval.Duration()
	if cooldown > maxPace {
		cooldown = maxPace
	}
	return cooldown
}

// backoff classifies a request failure. An error status from the exchange (or an
// explicitly non-retryable condition such as an unknown symbol) earns the long backoff;
// discovery removes delisted instruments within its next round anyway. Transport and
// payload trouble earns a short randomized backoff so a thousand pollers do not retry in
// lockstep.
func (p *Poller) backoff(err error) time.Duration {
	logEvent := log.Warn().Str("stockExchange", p.stockExchange.ID().String()).
		Str("klineId", p.id.String()).Err(err)

	var reqErr common.KLineReqError
	if errors.As(err, &reqErr) {
		if reqErr.RetryAfter > 0 {
			logEvent.Dur("retryAfter", reqErr.RetryAfter).Msg("poller: rate limited")
			return reqErr.RetryAfter
		}
		if reqErr.Code >= 400 || reqErr.IsNotRetryable {
			logEvent.Msg("poller: exchange-side error, long backoff")
			return longBackoff
		}
	}

	pace := p.id.Interval.Duration()
	if pace > maxPace {
		pace = maxPace
	}
	logEvent.Msg("poller: transport error, short backoff")
	return shortBackoffBase + pace + time.Duration(rand.Int63n(int64(pace)))
}
