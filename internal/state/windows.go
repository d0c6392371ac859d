package state

import (
	"time"

	"solana-token-feed/internal/domain"
)

// Rolling window lengths in minutes.
const (
	window5m  = 5
	window1h  = 60
	window24h = 24 * 60
)

// minuteBucket aggregates trades within one wall-clock minute.
type minuteBucket struct {
	minute    int64 // Unix minutes
	buys      int64
	sells     int64
	volumeSOL float64
}

// tradeWindows is a sparse, time-ordered set of one-minute buckets covering
// the last 24 hours. Minutes without trades take no space.
type tradeWindows struct {
	buckets []minuteBucket
}

func unixMinute(t time.Time) int64 {
	return t.Unix() / 60
}

func (w *tradeWindows) add(at time.Time, side domain.Side, sol float64) {
	m := unixMinute(at)
	i := len(w.buckets) - 1
	for i >= 0 && w.buckets[i].minute > m {
		i--
	}
	if i < 0 || w.buckets[i].minute != m {
		w.buckets = append(w.buckets, minuteBucket{})
		copy(w.buckets[i+2:], w.buckets[i+1:])
		w.buckets[i+1] = minuteBucket{minute: m}
		i++
	}
	b := &w.buckets[i]
	switch side {
	case domain.SideBuy:
		b.buys++
	case domain.SideSell:
		b.sells++
	}
	b.volumeSOL += sol
}

// prune drops buckets that fell out of the 24h window.
func (w *tradeWindows) prune(now time.Time) int {
	cutoff := unixMinute(now) - window24h
	i := 0
	for i < len(w.buckets) && w.buckets[i].minute <= cutoff {
		i++
	}
	if i > 0 {
		w.buckets = append(w.buckets[:0], w.buckets[i:]...)
	}
	return i
}

// stats returns buy/sell counts and SOL volume for each window ending now.
// A window of n minutes covers the current minute and the n-1 before it.
func (w *tradeWindows) stats(now time.Time) (domain.TradeCounts, domain.WindowStats) {
	var (
		counts domain.TradeCounts
		volume domain.WindowStats
	)
	current := unixMinute(now)
	for _, b := range w.buckets {
		age := current - b.minute
		if age < 0 || age >= window24h {
			continue
		}
		counts.Buys.H24 += b.buys
		counts.Sells.H24 += b.sells
		volume.H24 += b.volumeSOL
		if age < window1h {
			counts.Buys.H1 += b.buys
			counts.Sells.H1 += b.sells
			volume.H1 += b.volumeSOL
		}
		if age < window5m {
			counts.Buys.M5 += b.buys
			counts.Sells.M5 += b.sells
			volume.M5 += b.volumeSOL
		}
	}
	return counts, volume
}
