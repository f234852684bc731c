package common

import (
	"fmt"
	"time"
)

// KLineInterval is the duration of a candlestick. The numeric value of each interval is
// exactly its duration in milliseconds, so poller arithmetic can use it directly.
type KLineInterval int64

const (
	// UnknownKLineInterval represents a yet-unsupported KLineInterval
	UnknownKLineInterval KLineInterval = 0
	// Min1 is the 1 minute interval
	Min1 KLineInterval = 60_000
	// Min5 is the 5 minutes interval
	Min5 KLineInterval = 300_000
	// Min10 is the 10 minutes interval
	Min10 KLineInterval = 600_000
	// Min15 is the 15 minutes interval
	Min15 KLineInterval = 900_000
	// Min30 is the 30 minutes interval
	Min30 KLineInterval = 1_800_000
	// Min60 is the 1 hour interval
	Min60 KLineInterval = 3_600_000
	// Hour4 is the 4 hours interval
	Hour4 KLineInterval = 14_400_000
	// Hour8 is the 8 hours interval
	Hour8 KLineInterval = 28_800_000
	// Day1 is the 1 day interval
	Day1 KLineInterval = 86_400_000
	// Week1 is the 1 week interval
	Week1 KLineInterval = 604_800_000
)

// AllKLineIntervals returns every supported interval, shortest first.
func AllKLineIntervals() []KLineInterval {
	return []KLineInterval{Min1, Min5, Min10, Min15, Min30, Min60, Hour4, Hour8, Day1, Week1}
}

// Duration converts the interval to a time.Duration.
func (i KLineInterval) Duration() time.Duration {
	return time.Duration(i) * time.Millisecond
}

// Milliseconds is the interval duration in epoch-style milliseconds.
func (i KLineInterval) Milliseconds() int64 {
	return int64(i)
}

func (i KLineInterval) String() string {
	switch i {
	case Min1:
		return "1m"
	case Min5:
		return "5m"
	case Min10:
		return "10m"
	case Min15:
		return "15m"
	case Min30:
		return "30m"
	case Min60:
		return "1h"
	case Hour4:
		return "4h"
	case Hour8:
		return "8h"
	case Day1:
		return "1d"
	case Week1:
		return "1w"
	default:
		return "UNKNOWN"
	}
}

// Check reports whether the interval is one of the supported values.
func (i KLineInterval) Check() error {
	for _, known := range AllKLineIntervals() {
		if i == known {
			return nil
		}
	}
	return fmt.Errorf("%w: %v ms", ErrUnsupportedKLineInterval, int64(i))
}

// KLineIntervalFromString parses interval codes as used in configuration files
// e.g. "1m", "4h", "1w".
func KLineIntervalFromString(s string) (KLineInterval, error) {
	for _, known := range AllKLineIntervals() {
		if known.String() == s {
			return known, nil
		}
	}
	return UnknownKLineInterval, fmt.Errorf("%w: %v", ErrUnsupportedKLineInterval, s)
}
