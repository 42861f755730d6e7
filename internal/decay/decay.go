// Package decay scores items by how recently they happened.
//
// Relevance halves every HalfLife: an item touched right now scores 1.0, one
// touched 30 minutes ago scores 0.5, one touched an hour ago 0.25.
package decay

import (
	"math"
	"sort"
	"time"
)

const (
	// HalfLife is the elapsed time after which relevance drops to 0.5.
	HalfLife = 30 * time.Minute

	// DefaultThreshold is the minimum relevance FilterRelevant keeps.
	DefaultThreshold = 0.3

	highCutoff   = 0.7
	mediumCutoff = 0.3
)

// Category buckets a relevance score.
type Category string

const (
	CategoryHigh   Category = "high"
	CategoryMedium Category = "medium"
	CategoryLow    Category = "low"
)

// Relevance returns the decayed score of something that happened at
// timestamp, evaluated at now. Both are epoch milliseconds. Timestamps in the
// future score 1.0.
func Relevance(timestamp, now int64) float64 {
	elapsed := float64(now-timestamp) / 1000
	if elapsed <= 0 {
		return 1
	}
	score := math.Exp(-math.Ln2 * elapsed / HalfLife.Seconds())
	return Clamp(score)
}

// Clamp restricts v to [0, 1]. NaN becomes 0.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// FilterRelevant keeps the items whose decayed score is at least threshold.
// ts extracts an item's timestamp in epoch milliseconds.
func FilterRelevant[T any](items []T, ts func(T) int64, now int64, threshold float64) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if Relevance(ts(it), now) >= threshold {
			out = append(out, it)
		}
	}
	return out
}

// Rank returns a copy of items sorted by decayed score, highest first.
// Items with equal scores keep their input order.
func Rank[T any](items []T, ts func(T) int64, now int64) []T {
	out := make([]T, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return Relevance(ts(out[i]), now) > Relevance(ts(out[j]), now)
	})
	return out
}

// CategoryOf buckets score into high (>= 0.7), medium (>= 0.3) or low.
func CategoryOf(score float64) Category {
	switch {
	case score >= highCutoff:
		return CategoryHigh
	case score >= mediumCutoff:
		return CategoryMedium
	default:
		return CategoryLow
	}
}

// TimeUntilThreshold returns how many seconds remain before an item that
// currently scores currentScore decays below threshold. It returns 0 when the
// item is already at or below the threshold.
func TimeUntilThreshold(currentScore, threshold float64) float64 {
	if threshold <= 0 {
		return math.Inf(1)
	}
	if currentScore <= threshold {
		return 0
	}
	return HalfLife.Seconds() * math.Log2(currentScore/threshold)
}
