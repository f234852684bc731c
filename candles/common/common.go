package common

import (
	"sort"
	"time"
)

// NowMillis returns the current time as an epoch millisecond timestamp.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// AlignTimestamp takes an epoch millisecond timestamp and a kline interval, and truncates the
// timestamp down to the previous multiple of that interval. Venue candlestick open times are
// aligned this way, so pollers use it to seed their starting point.
func AlignTimestamp(ms int64, interval KLineInterval) int64 {
	d := interval.Milliseconds()
	if d <= 0 {
		return ms
	}
	return ms - ms%d
}

// SortKLines sorts a list of klines ascending by closeTime in place. Several exchanges return
// rows newest-first or in arbitrary order; adapters normalize with this before returning.
func SortKLines(kl KLinesList) {
	sort.Slice(kl, func(i, j int) bool { return kl[i].CloseTime < kl[j].CloseTime })
}
