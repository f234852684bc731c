package history

import (
	"sync"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
)

// Index is the two-level map from stock exchange to instrument to its RollingHistory.
// Writers are the per-instrument pollers (one goroutine per leaf); the detection engine and
// the HTTP facade read concurrently.
type Index struct {
	mu       sync.RWMutex
	byVenue  map[common.StockExchangeID]map[common.KLineID]*RollingHistory
	retired  *RetiredCache
	capacity int
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithCapacity overrides the per-instrument history capacity.
func WithCapacity(capacity int) IndexOption {
	return func(x *Index) { x.capacity = capacity }
}

// WithRetiredSize overrides the retired stash size.
func WithRetiredSize(size int) IndexOption {
	return func(x *Index) { x.retired = NewRetiredCache(size) }
}

// NewIndex instantiates an empty Index.
func NewIndex(opts ...IndexOption) *Index {
	x := &Index{
		byVenue:  make(map[common.StockExchangeID]map[common.KLineID]*RollingHistory),
		capacity: DefaultCapacity,
	}
	for _, opt := range opts {
		opt(x)
	}
	if x.retired == nil {
		x.retired = NewRetiredCache(DefaultRetiredSize)
	}
	return x
}

// GetOrCreate returns the instrument's history, restoring a stashed one when the instrument
// was delisted earlier and creating an empty one otherwise.
func (x *Index) GetOrCreate(stockExchange common.StockExchangeID, id common.KLineID) *RollingHistory {
	x.mu.RLock()
	if h, ok := x.byVenue[stockExchange][id]; ok {
		x.mu.RUnlock()
		return h
	}
	x.mu.RUnlock()

	x.mu.Lock()
	defer x.mu.Unlock()
	if h, ok := x.byVenue[stockExchange][id]; ok {
		return h
	}
	h, ok := x.retired.Restore(stockExchange, id)
	if !ok {
		h = NewRollingHistory(x.capacity)
	}
	if x.byVenue[stockExchange] == nil {
		x.byVenue[stockExchange] = make(map[common.KLineID]*RollingHistory)
	}
	x.byVenue[stockExchange][id] = h
	return h
}

// Get returns the instrument's history if it is currently listed.
func (x *Index) Get(stockExchange common.StockExchangeID, id common.KLineID) (*RollingHistory, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	h, ok := x.byVenue[stockExchange][id]
	return h, ok
}

// Drop removes a delisted instrument's history from the index and stashes it for a
// possible re-listing.
func (x *Index) Drop(stockExchange common.StockExchangeID, id common.KLineID) {
	x.mu.Lock()
	defer x.mu.Unlock()
	h, ok := x.byVenue[stockExchange][id]
	if !ok {
		return
	}
	delete(x.byVenue[stockExchange], id)
	x.retired.Stash(stockExchange, id, h)
}

// KLineIDs returns a snapshot of the instrument ids currently listed on one stock exchange.
func (x *Index) KLineIDs(stockExchange common.StockExchangeID) []common.KLineID {
	x.mu.RLock()
	defer x.mu.RUnlock()
	ids := make([]common.KLineID, 0, len(x.byVenue[stockExchange]))
	for id := range x.byVenue[stockExchange] {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the total number of listed instruments across all stock exchanges.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	total := 0
	for _, instruments := range x.byVenue {
		total += len(instruments)
	}
	return total
}
