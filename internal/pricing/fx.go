package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matrixise/ethfolio/internal/httpclient"
)

const secondsPerDay = 86400

// FXProvider returns the USD to RUB rate for the UTC day containing ts
type FXProvider interface {
	USDRUB(ctx context.Context, ts int64) (decimal.Decimal, bool)
}

type fxResponse struct {
	Rates struct {
		RUB *decimal.Decimal `json:"RUB"`
	} `json:"rates"`
}

// FXClient queries exchangerate.host and caches one rate per day
type FXClient struct {
	http *httpclient.Client
	base string

	mu    sync.Mutex
	cache map[int64]decimal.Decimal
}

// NewFXClient creates a client for the given API base
func NewFXClient(hc *httpclient.Client, base string) *FXClient {
	return &FXClient{
		http:  hc,
		base:  base,
		cache: make(map[int64]decimal.Decimal),
	}
}

// USDRUB returns false when the provider has no positive rate
func (f *FXClient) USDRUB(ctx context.Context, ts int64) (decimal.Decimal, bool) {
	day := BucketOf(ts, secondsPerDay) / secondsPerDay

	f.mu.Lock()
	rate, ok := f.cache[day]
	f.mu.Unlock()
	if ok {
		return rate, true
	}

	date := time.Unix(ts, 0).UTC().Format(time.DateOnly)
	url := fmt.Sprintf("%s/%s?base=USD&symbols=RUB", f.base, date)

	res := httpclient.FetchJSON[fxResponse](ctx, f.http, url, f.http.Defaults())
	if !res.OK || res.Data.Rates.RUB == nil || !res.Data.Rates.RUB.IsPositive() {
		return decimal.Decimal{}, false
	}

	rate = *res.Data.Rates.RUB
	f.mu.Lock()
	f.cache[day] = rate
	f.mu.Unlock()
	return rate, true
}
