// Package explorer pages through the Etherscan v2 account API.
package explorer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/matrixise/ethfolio/internal/httpclient"
)

const (
	DefaultPageSize = 100
	DefaultMaxPages = 20
)

// APIError is a status "0" envelope other than an empty result
type APIError struct {
	Message string
}

func (e *APIError) Error() string { return e.Message }

// envelope is the Etherscan response wrapper
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// Tx is a normal (native asset) transaction from action=txlist
type Tx struct {
	Hash            string `json:"hash"`
	TimeStamp       string `json:"timeStamp"`
	Value           string `json:"value"`
	From            string `json:"from"`
	To              string `json:"to"`
	IsError         string `json:"isError"`
	TxReceiptStatus string `json:"txreceipt_status"`
}

// TokenTx is an ERC-20 transfer event from action=tokentx
type TokenTx struct {
	Hash            string `json:"hash"`
	TimeStamp       string `json:"timeStamp"`
	Value           string `json:"value"`
	TokenName       string `json:"tokenName"`
	TokenSymbol     string `json:"tokenSymbol"`
	TokenDecimal    string `json:"tokenDecimal"`
	ContractAddress string `json:"contractAddress"`
	From            string `json:"from"`
	To              string `json:"to"`
	LogIndex        string `json:"logIndex"`
}

// Config holds the client settings
type Config struct {
	APIBase           string
	ChainID           string
	PageSize          int
	MaxPages          int
	RequestsPerSecond float64
}

// Client issues explorer requests paced by a token bucket
type Client struct {
	http    *httpclient.Client
	cfg     Config
	limiter *rate.Limiter
}

// New creates an explorer client. A zero RequestsPerSecond disables pacing.
func New(hc *httpclient.Client, cfg Config) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	cfg.PageSize = max(1, cfg.PageSize)
	cfg.MaxPages = max(1, cfg.MaxPages)
	return &Client{
		http:    hc,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// PageOptions bounds a paginated fetch
type PageOptions struct {
	PageSize int
	MaxPages int
}

// PageOptions returns the configured pagination bounds
func (c *Client) PageOptions() PageOptions {
	return PageOptions{PageSize: c.cfg.PageSize, MaxPages: c.cfg.MaxPages}
}

// fetchRaw issues one request and interprets the envelope. A nil result
// with a nil error means the explorer reported no transactions.
func (c *Client) fetchRaw(ctx context.Context, params url.Values, apiKey string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("explorer rate limiter: %w", err)
	}

	q := url.Values{}
	q.Set("apikey", apiKey)
	q.Set("chainid", c.cfg.ChainID)
	for k, vs := range params {
		if len(vs) > 0 {
			q.Set(k, vs[0])
		}
	}

	res := httpclient.FetchJSON[envelope](ctx, c.http, c.cfg.APIBase+"?"+q.Encode(), c.http.Defaults())
	if !res.OK {
		slog.Error("Etherscan request failed", "status", res.Status, "error", res.Err)
		return nil, fmt.Errorf("request failed: %d", res.Status)
	}
	if res.Err != nil {
		return nil, fmt.Errorf("malformed explorer response: %w", res.Err)
	}

	data := res.Data
	if data.Status == "0" {
		if strings.Contains(strings.ToLower(data.Message), "no transactions") {
			return nil, nil
		}
		var resultMessage string
		_ = json.Unmarshal(data.Result, &resultMessage)

		parts := make([]string, 0, 2)
		for _, p := range []string{data.Message, resultMessage} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		combined := strings.Join(parts, ": ")
		if combined == "" {
			combined = "Etherscan error"
		}
		slog.Warn("Etherscan error", "message", combined)
		return nil, &APIError{Message: combined}
	}

	return data.Result, nil
}

// PageFunc fetches a single page
type PageFunc[T any] func(ctx context.Context, params url.Values, apiKey string) ([]T, error)

// Page returns a PageFunc that decodes results into T. A result that is not
// an array decodes as an empty page.
func Page[T any](c *Client) PageFunc[T] {
	return func(ctx context.Context, params url.Values, apiKey string) ([]T, error) {
		raw, err := c.fetchRaw(ctx, params, apiKey)
		if err != nil || raw == nil {
			return nil, err
		}
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return []T{}, nil
		}
		return items, nil
	}
}

// FetchPaginated requests page 1, 2, ... and stops after a short page or
// MaxPages pages.
func FetchPaginated[T any](ctx context.Context, fetch PageFunc[T], params url.Values, apiKey string, opts PageOptions) ([]T, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}

	var results []T
	for page := 1; page <= maxPages; page++ {
		pageParams := url.Values{}
		for k, vs := range params {
			pageParams[k] = append([]string(nil), vs...)
		}
		pageParams.Set("page", strconv.Itoa(page))
		pageParams.Set("offset", strconv.Itoa(pageSize))

		chunk, err := fetch(ctx, pageParams, apiKey)
		if err != nil {
			return results, err
		}
		results = append(results, chunk...)
		if len(chunk) < pageSize {
			break
		}
	}
	return results, nil
}

func accountParams(action, address string) url.Values {
	return url.Values{
		"module":  {"account"},
		"action":  {action},
		"address": {address},
		"sort":    {"asc"},
	}
}

// NativeTransfers lists normal transactions for address, oldest first
func (c *Client) NativeTransfers(ctx context.Context, address, apiKey string) ([]Tx, error) {
	return FetchPaginated(ctx, Page[Tx](c), accountParams("txlist", address), apiKey, c.PageOptions())
}

// TokenTransfers lists ERC-20 transfer events for address, oldest first
func (c *Client) TokenTransfers(ctx context.Context, address, apiKey string) ([]TokenTx, error) {
	return FetchPaginated(ctx, Page[TokenTx](c), accountParams("tokentx", address), apiKey, c.PageOptions())
}
