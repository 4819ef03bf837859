package pricing

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestBucketOf(t *testing.T) {
	tests := []struct {
		name string
		ts   int64
		size int64
		want int64
	}{
		{name: "aligned", ts: 7200, size: 3600, want: 7200},
		{name: "inside bucket", ts: 1_700_003_599, size: 3600, want: 1_700_002_800},
		{name: "zero", ts: 0, size: 3600, want: 0},
		{name: "negative floors down", ts: -1, size: 3600, want: -3600},
		{name: "non positive size", ts: 1234, size: 0, want: 1234},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BucketOf(tt.ts, tt.size))
		})
	}
}

func TestPickNearbyBucket(t *testing.T) {
	tests := []struct {
		name    string
		target  int64
		buckets []int64
		maxAge  int64
		want    int64
		wantOK  bool
	}{
		{name: "closest within range", target: 1000, buckets: []int64{900, 1100}, maxAge: 200, want: 900, wantOK: true},
		{name: "out of range", target: 1000, buckets: []int64{2000}, maxAge: 200},
		{name: "empty", target: 1000, maxAge: 200},
		{name: "prefers nearer", target: 1000, buckets: []int64{1150, 950, 1300}, maxAge: 200, want: 950, wantOK: true},
		{name: "exact distance allowed", target: 1000, buckets: []int64{1200}, maxAge: 200, want: 1200, wantOK: true},
		{name: "exact match", target: 1000, buckets: []int64{800, 1000}, maxAge: 200, want: 1000, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PickNearbyBucket(tt.target, tt.buckets, tt.maxAge)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPickNearbyBucketProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("picked bucket is a candidate within maxAge", prop.ForAll(
		func(target int64, buckets []int64, maxAge int64) bool {
			got, ok := PickNearbyBucket(target, buckets, maxAge)
			if !ok {
				for _, b := range buckets {
					if abs(b-target) <= maxAge {
						return false
					}
				}
				return true
			}
			member := false
			for _, b := range buckets {
				if b == got {
					member = true
				}
				if abs(b-target) < abs(got-target) {
					return false
				}
			}
			return member && abs(got-target) <= maxAge
		},
		gen.Int64Range(0, 1_000_000),
		gen.SliceOf(gen.Int64Range(0, 1_000_000)),
		gen.Int64Range(0, 500_000),
	))

	properties.TestingRun(t)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func TestPickClosestPrice(t *testing.T) {
	points := []PricePoint{
		{TimestampMs: 1_000, Price: decimal.NewFromInt(10)},
		{TimestampMs: 2_000, Price: decimal.NewFromInt(20)},
		{TimestampMs: 3_000, Price: decimal.NewFromInt(30)},
	}

	got, ok := PickClosestPrice(points, 2_400)
	assert.True(t, ok)
	assert.True(t, got.Equal(decimal.NewFromInt(20)))

	got, ok = PickClosestPrice(points, 2_500)
	assert.True(t, ok)
	assert.True(t, got.Equal(decimal.NewFromInt(20)), "ties keep the earlier sample")

	_, ok = PickClosestPrice(nil, 2_500)
	assert.False(t, ok)
}

func TestLiveFallbackAllowed(t *testing.T) {
	tests := []struct {
		name string
		ts   int64
		want bool
	}{
		{name: "fresh", ts: 9_000, want: true},
		{name: "exactly max age", ts: 10_000 - 3600, want: true},
		{name: "too old", ts: 10_000 - 3601, want: false},
		{name: "future timestamp", ts: 10_001, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LiveFallbackAllowed(10_000, tt.ts, 3600))
		})
	}
}
