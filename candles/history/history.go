// Package history implements the rolling per-instrument candlestick storage layer between
// the stock exchange pollers and the detection engine.
//
// Each (stock exchange, kline id) pair owns one RollingHistory: a bounded, openTime-sorted,
// duplicate-free window of the most recent klines. Pollers append, the detector and the HTTP
// facade read concurrently. Histories of delisted instruments are stashed in an LRU so a
// re-listing restores the window instead of starting cold.
package history

import (
	"sync"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
)

// DefaultCapacity is the number of klines each instrument retains.
const DefaultCapacity = 2000

// RollingHistory is a bounded window of one instrument's klines, sorted ascending by
// openTime and unique per openTime. Appending a kline with an already-stored openTime
// replaces the stored one, so re-deliveries are idempotent.
type RollingHistory struct {
	mu       sync.RWMutex
	capacity int
	klines   common.KLinesList
}

// NewRollingHistory instantiates a RollingHistory with the given capacity.
func NewRollingHistory(capacity int) *RollingHistory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &RollingHistory{capacity: capacity, klines: make(common.KLinesList, 0, 64)}
}

// Append inserts klines keeping openTime order and uniqueness, evicting the oldest entries
// once the capacity is exceeded.
func (h *RollingHistory) Append(klines ...common.KLine) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, k := range klines {
		h.insert(k)
	}
	if excess := len(h.klines) - h.capacity; excess > 0 {
		h.klines = append(h.klines[:0:0], h.klines[excess:]...)
	}
}

func (h *RollingHistory) insert(k common.KLine) {
	// The common case is appending strictly newer klines, so probe the end first.
	n := len(h.klines)
	if n == 0 || h.klines[n-1].OpenTime < k.OpenTime {
		h.klines = append(h.klines, k)
		return
	}
	i := h.searchOpenTime(k.OpenTime)
	if i < n && h.klines[i].OpenTime == k.OpenTime {
		h.klines[i] = k
		return
	}
	h.klines = append(h.klines, common.KLine{})
	copy(h.klines[i+1:], h.klines[i:])
	h.klines[i] = k
}

func (h *RollingHistory) searchOpenTime(openTime int64) int {
	lo, hi := 0, len(h.klines)
	for lo < hi {
		mid := (lo + hi) / 2
		if h.klines[mid].OpenTime < openTime {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Len returns the number of stored klines.
func (h *RollingHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.klines)
}

// Last returns the newest kline, if any.
func (h *RollingHistory) Last() (common.KLine, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.klines) == 0 {
		return common.KLine{}, false
	}
	return h.klines[len(h.klines)-1], true
}

// LastCloseTime returns the newest kline's closeTime, or zero on an empty history.
func (h *RollingHistory) LastCloseTime() int64 {
	if last, ok := h.Last(); ok {
		return last.CloseTime
	}
	return 0
}

// Tail returns a copy of the newest n klines, oldest first.
func (h *RollingHistory) Tail(n int) common.KLinesList {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if n > len(h.klines) {
		n = len(h.klines)
	}
	if n <= 0 {
		return common.KLinesList{}
	}
	tail := make(common.KLinesList, n)
	copy(tail, h.klines[len(h.klines)-n:])
	return tail
}

// MeanQuoteVolume returns the mean quote volume over up to n klines preceding the newest
// one. The newest kline is excluded so a just-appended spike does not dilute its own
// baseline. Returns zero when no preceding klines exist.
func (h *RollingHistory) MeanQuoteVolume(n int) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.klines) < 2 || n <= 0 {
		return 0
	}
	end := len(h.klines) - 1
	start := end - n
	if start < 0 {
		start = 0
	}
	var sum float64
	for _, k := range h.klines[start:end] {
		sum += float64(k.QuoteVolume)
	}
	return sum / float64(end-start)
}
