package pricing

import (
	"github.com/shopspring/decimal"
)

// BucketOf aligns ts down to a multiple of size seconds
func BucketOf(ts, size int64) int64 {
	if size <= 0 {
		return ts
	}
	b := ts / size * size
	if ts < 0 && ts%size != 0 {
		b -= size
	}
	return b
}

// PickNearbyBucket returns the bucket closest to target whose distance is at
// most maxAge. Ties keep the first candidate.
func PickNearbyBucket(target int64, buckets []int64, maxAge int64) (int64, bool) {
	var (
		closest int64
		found   bool
		minDiff int64
	)
	for _, b := range buckets {
		diff := b - target
		if diff < 0 {
			diff = -diff
		}
		if diff > maxAge {
			continue
		}
		if !found || diff < minDiff {
			closest, minDiff, found = b, diff, true
		}
	}
	return closest, found
}

// PricePoint is one [timestampMs, price] sample from a range query
type PricePoint struct {
	TimestampMs int64
	Price       decimal.Decimal
}

// PickClosestPrice returns the price of the sample nearest to targetMs
func PickClosestPrice(points []PricePoint, targetMs int64) (decimal.Decimal, bool) {
	var (
		best    decimal.Decimal
		found   bool
		minDiff int64
	)
	for _, p := range points {
		diff := p.TimestampMs - targetMs
		if diff < 0 {
			diff = -diff
		}
		if !found || diff < minDiff {
			best, minDiff, found = p.Price, diff, true
		}
	}
	return best, found
}

// LiveFallbackAllowed reports whether a transfer at ts is recent enough for
// spot-price providers
func LiveFallbackAllowed(nowSec, ts, maxAgeSec int64) bool {
	age := nowSec - ts
	return age >= 0 && age <= maxAgeSec
}
