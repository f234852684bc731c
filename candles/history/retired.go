package history

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
)

// DefaultRetiredSize is the number of delisted instrument histories kept around.
const DefaultRetiredSize = 4096

// RetiredCache is the LRU holding rolling histories of instruments that instrument
// discovery has delisted. Venues delist and re-list instruments routinely (maintenance,
// migrations), and without the stash every re-listing would restart detection with an
// empty window.
type RetiredCache struct {
	cache *lru.Cache

	Stashes  int
	Restores int
}

type retiredKey struct {
	StockExchange common.StockExchangeID
	ID            common.KLineID
}

// NewRetiredCache instantiates the stash with room for size histories.
func NewRetiredCache(size int) *RetiredCache {
	if size <= 0 {
		size = 1
	}
	cache, _ := lru.New(size)
	return &RetiredCache{cache: cache}
}

// Stash stores a delisted instrument's history. May evict the least recently retired one.
func (c *RetiredCache) Stash(stockExchange common.StockExchangeID, id common.KLineID, h *RollingHistory) {
	c.Stashes++
	c.cache.Add(retiredKey{StockExchange: stockExchange, ID: id}, h)
}

// Restore removes and returns the stashed history for a re-listed instrument, if any.
func (c *RetiredCache) Restore(stockExchange common.StockExchangeID, id common.KLineID) (*RollingHistory, bool) {
	key := retiredKey{StockExchange: stockExchange, ID: id}
	value, ok := c.cache.Get(key)
	if !ok {
		return nil, false
	}
	c.cache.Remove(key)
	c.Restores++
	return value.(*RollingHistory), true
}
