package detector

import (
	"errors"
	"fmt"

	"github.com/DmitriyKotov1986/TradingCat/candles/common"
)

// ErrInvalidConfig means a detect configuration failed validation. The HTTP
// layer maps it to a bad-request answer.
var ErrInvalidConfig = errors.New("invalid detect config")

// FilterType selects the quantity a filter compares against its bounds.
type FilterType string

const (
	// Delta matches on the relative intra-candlestick price move (high-low)/low.
	Delta FilterType = "Delta"

	// VolumeDelta matches on the ratio of the candlestick's quote volume to the
	// mean quote volume of the instrument's recent history.
	VolumeDelta FilterType = "VolumeDelta"
)

// Filter matches candlesticks of one interval whose Delta or VolumeDelta
// falls inside [Min, Max]. Both bounds are inclusive. The symbol lists are
// exact-match: a non-empty SymbolsInclude keeps only the listed symbols, and
// SymbolsExclude removes symbols afterwards.
type Filter struct {
	Type           FilterType           `json:"type"`
	Min            float64              `json:"min"`
	Max            float64              `json:"max"`
	Interval       common.KLineInterval `json:"interval"`
	SymbolsInclude []string             `json:"symbolsInclude,omitempty"`
	SymbolsExclude []string             `json:"symbolsExclude,omitempty"`
}

// Check validates the filter.
func (f Filter) Check() error {
	switch f.Type {
	case Delta, VolumeDelta:
	default:
		return fmt.Errorf("%w: unknown filter type %q", ErrInvalidConfig, string(f.Type))
	}
	if err := f.Interval.Check(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if f.Min > f.Max {
		return fmt.Errorf("%w: min %v > max %v", ErrInvalidConfig, f.Min, f.Max)
	}
	return nil
}

// matches reports whether the candlestick triggers the filter.
// meanQuoteVolume is the mean quote volume of the instrument's recent
// history, zero when there is not enough history yet. A VolumeDelta filter
// never matches on a zero mean, so fresh instruments do not fire spurious
// volume spikes.
func (f Filter) matches(k common.KLine, meanQuoteVolume float64) bool {
	if f.Interval != k.ID.Interval || !f.matchesSymbol(k.ID.Symbol) {
		return false
	}
	switch f.Type {
	case Delta:
		d := k.Delta()
		return d >= f.Min && d <= f.Max
	case VolumeDelta:
		if meanQuoteVolume == 0 {
			return false
		}
		d := k.VolumeDelta(meanQuoteVolume)
		return d >= f.Min && d <= f.Max
	}
	return false
}

func (f Filter) matchesSymbol(symbol string) bool {
	if len(f.SymbolsInclude) > 0 && !containsString(f.SymbolsInclude, symbol) {
		return false
	}
	return !containsString(f.SymbolsExclude, symbol)
}

// Config is one user's detection configuration.
type Config struct {
	Filters []Filter `json:"filters"`

	// Venues restricts detection to the listed stock exchanges. Empty means
	// all of them.
	Venues []common.StockExchangeID `json:"venues,omitempty"`
}

// Check validates every filter and venue name.
func (c Config) Check() error {
	for i, f := range c.Filters {
		if err := f.Check(); err != nil {
			return fmt.Errorf("filter %v: %w", i, err)
		}
	}
	for _, id := range c.Venues {
		if _, err := common.StockExchangeIDFromString(string(id)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// DefaultConfig is the configuration a newly created user starts with: no
// filters, every stock exchange. It detects nothing until the user sets up
// filters.
func DefaultConfig() Config {
	return Config{Filters: []Filter{}}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
