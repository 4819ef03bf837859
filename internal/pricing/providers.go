package pricing

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matrixise/ethfolio/internal/httpclient"
	"github.com/matrixise/ethfolio/internal/storage"
)

// Currency is a quote currency as the providers spell it
type Currency string

const (
	USD Currency = "usd"
	RUB Currency = "rub"
)

// rangeHalfWidth is the window searched on each side of a bucket
const rangeHalfWidth = 3600

// Query describes one price lookup
type Query struct {
	Token         storage.Token
	Currency      Currency
	BucketTs      int64
	TimestampSec  int64
	MoralisAPIKey string
}

// Provider resolves a price for a query. Live providers quote the current
// spot price and are only consulted for recent transfers.
type Provider interface {
	Name() string
	Live() bool
	Lookup(ctx context.Context, q Query) (decimal.Decimal, bool)
}

// CoinGecko serves USD and RUB from market_chart/range
type CoinGecko struct {
	http *httpclient.Client
	base string
}

func NewCoinGecko(hc *httpclient.Client, base string) *CoinGecko {
	return &CoinGecko{http: hc, base: base}
}

func (c *CoinGecko) Name() string { return "coingecko" }
func (c *CoinGecko) Live() bool   { return false }

type marketChart struct {
	Prices [][]decimal.Decimal `json:"prices"`
}

func (c *CoinGecko) Lookup(ctx context.Context, q Query) (decimal.Decimal, bool) {
	endpoint := "/coins/ethereum/market_chart/range"
	if q.Token.Kind == storage.TokenKindERC20 {
		endpoint = "/coins/ethereum/contract/" + q.Token.ContractAddress + "/market_chart/range"
	}
	u := fmt.Sprintf("%s%s?vs_currency=%s&from=%d&to=%d",
		c.base, endpoint, q.Currency, q.BucketTs-rangeHalfWidth, q.BucketTs+rangeHalfWidth)

	res := httpclient.FetchJSON[marketChart](ctx, c.http, u, c.http.Defaults())
	if !res.OK || len(res.Data.Prices) == 0 {
		return decimal.Decimal{}, false
	}

	points := make([]PricePoint, 0, len(res.Data.Prices))
	for _, p := range res.Data.Prices {
		if len(p) < 2 {
			continue
		}
		points = append(points, PricePoint{TimestampMs: p[0].IntPart(), Price: p[1]})
	}
	return PickClosestPrice(points, q.BucketTs*1000)
}

// Moralis serves historical USD prices for ERC-20 tokens by date
type Moralis struct {
	http      *httpclient.Client
	base      string
	systemKey string
}

func NewMoralis(hc *httpclient.Client, base, systemKey string) *Moralis {
	return &Moralis{http: hc, base: base, systemKey: systemKey}
}

func (m *Moralis) Name() string { return "moralis" }
func (m *Moralis) Live() bool   { return false }

type moralisPrice struct {
	USDPrice *decimal.Decimal `json:"usdPrice"`
}

func (m *Moralis) Lookup(ctx context.Context, q Query) (decimal.Decimal, bool) {
	if q.Currency != USD || q.Token.Kind != storage.TokenKindERC20 {
		return decimal.Decimal{}, false
	}
	key := q.MoralisAPIKey
	if key == "" {
		key = m.systemKey
	}
	if key == "" {
		return decimal.Decimal{}, false
	}

	toDate := time.Unix(q.TimestampSec, 0).UTC().Format("2006-01-02T15:04:05.000Z")
	u := fmt.Sprintf("%s/erc20/%s/price?chain=eth&to_date=%s", m.base, q.Token.ContractAddress, url.QueryEscape(toDate))

	opts := m.http.Defaults()
	opts.Header = http.Header{"X-API-Key": []string{key}}

	res := httpclient.FetchJSON[moralisPrice](ctx, m.http, u, opts)
	if !res.OK || res.Data.USDPrice == nil || !res.Data.USDPrice.IsPositive() {
		return decimal.Decimal{}, false
	}
	return *res.Data.USDPrice, true
}

// DexScreener serves the current USD price of the most liquid pair
type DexScreener struct {
	http *httpclient.Client
	base string
}

func NewDexScreener(hc *httpclient.Client, base string) *DexScreener {
	return &DexScreener{http: hc, base: base}
}

func (d *DexScreener) Name() string { return "dexscreener" }
func (d *DexScreener) Live() bool   { return true }

type dexPair struct {
	PriceUSD  string `json:"priceUsd"`
	Liquidity *struct {
		USD decimal.NullDecimal `json:"usd"`
	} `json:"liquidity"`
}

type dexTokens struct {
	Pairs []dexPair `json:"pairs"`
}

func (d *DexScreener) Lookup(ctx context.Context, q Query) (decimal.Decimal, bool) {
	if q.Currency != USD || q.Token.Kind != storage.TokenKindERC20 {
		return decimal.Decimal{}, false
	}

	res := httpclient.FetchJSON[dexTokens](ctx, d.http, d.base+"/tokens/"+q.Token.ContractAddress, d.http.Defaults())
	if !res.OK {
		return decimal.Decimal{}, false
	}

	var (
		best    *dexPair
		bestLiq decimal.Decimal
	)
	for i := range res.Data.Pairs {
		p := &res.Data.Pairs[i]
		if p.PriceUSD == "" {
			continue
		}
		liq := decimal.Zero
		if p.Liquidity != nil && p.Liquidity.USD.Valid {
			liq = p.Liquidity.USD.Decimal
		}
		if best == nil || liq.GreaterThan(bestLiq) {
			best, bestLiq = p, liq
		}
	}
	if best == nil {
		return decimal.Decimal{}, false
	}

	price, err := decimal.NewFromString(best.PriceUSD)
	if err != nil || !price.IsPositive() {
		return decimal.Decimal{}, false
	}
	return price, true
}

// ProviderConfig holds the provider endpoints and the system Moralis key
type ProviderConfig struct {
	CoinGeckoAPIBase   string
	MoralisAPIBase     string
	MoralisAPIKey      string
	DexScreenerAPIBase string
}

// DefaultProviders returns the resolution chain in priority order
func DefaultProviders(hc *httpclient.Client, cfg ProviderConfig) []Provider {
	return []Provider{
		NewCoinGecko(hc, cfg.CoinGeckoAPIBase),
		NewMoralis(hc, cfg.MoralisAPIBase, cfg.MoralisAPIKey),
		NewDexScreener(hc, cfg.DexScreenerAPIBase),
	}
}
