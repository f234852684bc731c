// Package common contains shared types and interfaces across the candle super-package.
package common

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// MOEX is an enumesque string value representing the MOEX stock exchange
	MOEX StockExchangeID = "MOEX"
	// MEXC is an enumesque string value representing the MEXC stock exchange
	MEXC StockExchangeID = "MEXC"
	// GATE is an enumesque string value representing the GATE stock exchange
	GATE StockExchangeID = "GATE"
	// KUCOIN is an enumesque string value representing the KUCOIN stock exchange
	KUCOIN StockExchangeID = "KUCOIN"
	// BYBIT is an enumesque string value representing the BYBIT stock exchange
	BYBIT StockExchangeID = "BYBIT"
	// BITGET is an enumesque string value representing the BITGET stock exchange
	BITGET StockExchangeID = "BITGET"
	// BITMART is an enumesque string value representing the BITMART stock exchange
	BITMART StockExchangeID = "BITMART"
	// HTX is an enumesque string value representing the HTX stock exchange
	HTX StockExchangeID = "HTX"
	// OKX is an enumesque string value representing the OKX stock exchange
	OKX StockExchangeID = "OKX"
)

// StockExchangeID is the uppercase name of a supported stock exchange e.g. MEXC.
type StockExchangeID string

func (s StockExchangeID) String() string { return string(s) }

// AllStockExchangeIDs returns the ids of every supported stock exchange.
func AllStockExchangeIDs() []StockExchangeID {
	return []StockExchangeID{MOEX, MEXC, GATE, KUCOIN, BYBIT, BITGET, BITMART, HTX, OKX}
}

// StockExchangeIDFromString parses an uppercase stock exchange name.
func StockExchangeIDFromString(s string) (StockExchangeID, error) {
	for _, id := range AllStockExchangeIDs() {
		if string(id) == s {
			return id, nil
		}
	}
	return "", fmt.Errorf("%w: %v", ErrUnsupportedStockExchange, s)
}

var (
	// ErrUnsupportedKLineInterval means: unsupported kline interval
	ErrUnsupportedKLineInterval = errors.New("unsupported kline interval")

	// ErrUnsupportedStockExchange means: unsupported stock exchange
	ErrUnsupportedStockExchange = errors.New("unsupported stock exchange")

	// ErrExecutingRequest means: error executing client.Do() http request method
	ErrExecutingRequest = errors.New("error executing client.Do() http request method")

	// ErrBrokenBodyResponse means: stock exchange returned broken body response
	ErrBrokenBodyResponse = errors.New("stock exchange returned broken body response")

	// ErrInvalidJSONResponse means: stock exchange returned invalid JSON response
	ErrInvalidJSONResponse = errors.New("stock exchange returned invalid JSON response")

	// ErrInvalidSymbol means: symbol does not exist on stock exchange
	ErrInvalidSymbol = errors.New("symbol does not exist on stock exchange")

	// ErrRateLimit means: stock exchange asked us to enhance our calm
	ErrRateLimit = errors.New("stock exchange asked us to enhance our calm")

	// ErrInvalidKLine means: stock exchange returned an invalid kline
	ErrInvalidKLine = errors.New("stock exchange returned an invalid kline")
)

// StockExchange wraps a stock exchange's public market-data API behind a common interface.
type StockExchange interface {
	// RequestKLines requests up to count closed candlesticks for the given instrument,
	// starting at the given epoch millisecond timestamp.
	//
	// Since this is an HTTP request against one of many different exchanges, there's a myriad
	// of things that can go wrong, so implementations do a best-effort of grouping known errors
	// into KLineReqError, but callers must be prepared to handle unknown errors.
	//
	// Resulting klines are ascending by closeTime and normalized to epoch milliseconds. The
	// last, possibly still-open kline of the upstream response is not included.
	RequestKLines(ctx context.Context, id KLineID, startTime int64, count int) (KLinesList, error)

	// RequestSymbols requests the names of the instruments currently tradable on the exchange.
	RequestSymbols(ctx context.Context) ([]string, error)

	// SupportsInterval reports whether the exchange serves candlesticks of the given interval.
	SupportsInterval(interval KLineInterval) bool

	// MaxKLinesPerRequest is the exchange's per-request row cap.
	MaxKLinesPerRequest() int

	// RefetchesLastKLine reports whether the newest returned kline may still change, in
	// which case the poller re-requests it on the next round instead of treating it as
	// final. Exchanges that serve the currently-forming candlestick with no way to exclude
	// it (MOEX) report true.
	RefetchesLastKLine() bool

	// ID is the uppercase name of the stock exchange e.g. MEXC.
	ID() StockExchangeID

	// SetDebug sets exchange-specific debug logging on or off.
	SetDebug(debug bool)
}

// KLineReqError is an error arising from a call to RequestKLines or RequestSymbols.
type KLineReqError struct {
	Code           int
	Err            error
	IsNotRetryable bool
	RetryAfter     time.Duration
}

func (e KLineReqError) Error() string { return e.Err.Error() }

// KLineID identifies an instrument's candlestick stream within one stock exchange.
type KLineID struct {
	// Symbol is the exchange-native instrument name e.g. BTCUSDT.
	Symbol string `json:"symbol"`

	// Interval is the candlestick duration.
	Interval KLineInterval `json:"interval"`
}

func (id KLineID) String() string {
	return fmt.Sprintf("%v:%v", id.Symbol, id.Interval)
}

// Check reports whether the id is usable: non-empty symbol and a known interval.
func (id KLineID) Check() error {
	if id.Symbol == "" {
		return errors.New("empty symbol")
	}
	if err := id.Interval.Check(); err != nil {
		return err
	}
	return nil
}

// KLine is the generic candlestick struct for all supported stock exchanges.
type KLine struct {
	ID KLineID `json:"id"`

	// OpenTime is the epoch millisecond timestamp at which the kline opened.
	OpenTime int64 `json:"openTime"`

	// CloseTime is the epoch millisecond timestamp at which the kline closed.
	CloseTime int64 `json:"closeTime"`

	// Open is the price at which the kline opened.
	Open JSONFloat64 `json:"open"`

	// High is the highest price reached during the kline duration.
	High JSONFloat64 `json:"high"`

	// Low is the lowest price reached during the kline duration.
	Low JSONFloat64 `json:"low"`

	// Close is the price at which the kline closed.
	Close JSONFloat64 `json:"close"`

	// Volume is the traded base asset quantity.
	Volume JSONFloat64 `json:"volume"`

	// QuoteVolume is the traded quote asset quantity.
	QuoteVolume JSONFloat64 `json:"quoteVolume"`
}

// Delta is the relative intra-kline price move: (high - low) / low. Zero when low is zero.
func (k KLine) Delta() float64 {
	if k.Low == 0 {
		return 0
	}
	return float64((k.High - k.Low) / k.Low)
}

// VolumeDelta is the ratio of this kline's quote volume to the given mean quote volume.
// Zero when the mean is zero.
func (k KLine) VolumeDelta(meanQuoteVolume float64) float64 {
	if meanQuoteVolume == 0 {
		return 0
	}
	return float64(k.QuoteVolume) / meanQuoteVolume
}

// Check reports whether the kline is well-formed.
func (k KLine) Check() error {
	if err := k.ID.Check(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKLine, err)
	}
	if k.CloseTime <= k.OpenTime {
		return fmt.Errorf("%w: closeTime %v <= openTime %v", ErrInvalidKLine, k.CloseTime, k.OpenTime)
	}
	if k.High < k.Low {
		return fmt.Errorf("%w: high %v < low %v", ErrInvalidKLine, k.High, k.Low)
	}
	if k.Open < 0 || k.Low < 0 || k.Volume < 0 || k.QuoteVolume < 0 {
		return fmt.Errorf("%w: negative value", ErrInvalidKLine)
	}
	return nil
}

// KLinesList is a list of klines of one instrument, ascending by closeTime.
type KLinesList []KLine

// JSONFloat64 exists only for the purpose of marshalling floats in a nicer way.
type JSONFloat64 float64

// MarshalJSON overrides the marshalling of floats in a nicer way.
func (jf JSONFloat64) MarshalJSON() ([]byte, error) {
	f := float64(jf)
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, errors.New("unsupported value")
	}
	bs := []byte(fmt.Sprintf("%.12f", f))
	var i int
	for i = len(bs) - 1; i >= 0; i-- {
		if bs[i] == '0' {
			continue
		}
		if bs[i] == '.' {
			return bs[:i], nil
		}
		break
	}
	return bs[:i+1], nil
}
