package api

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matrixise/ethfolio/internal/ledger"
	"github.com/matrixise/ethfolio/internal/metrics"
	"github.com/matrixise/ethfolio/internal/portfolio"
	"github.com/matrixise/ethfolio/internal/storage"
)

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

type syncResponse struct {
	OK bool `json:"ok"`
	ledger.SyncResult
}

type queuedResponse struct {
	OK     bool `json:"ok"`
	Queued bool `json:"queued"`
}

type metricsResponse struct {
	OK bool `json:"ok"`
	metrics.Snapshot
}

type pruneResponse struct {
	OK      bool  `json:"ok"`
	Deleted int64 `json:"deleted"`
}

type tokenView struct {
	ID              uuid.UUID `json:"id"`
	Kind            string    `json:"kind"`
	ContractAddress string    `json:"contractAddress"`
	Symbol          string    `json:"symbol"`
	Name            string    `json:"name"`
	Decimals        int32     `json:"decimals"`
}

func newTokenView(t storage.Token) tokenView {
	return tokenView{
		ID:              t.ID,
		Kind:            string(t.Kind),
		ContractAddress: t.ContractAddress,
		Symbol:          t.Symbol,
		Name:            t.Name,
		Decimals:        t.Decimals,
	}
}

type transferView struct {
	ID          string              `json:"id"`
	TxHash      string              `json:"txHash"`
	LogIndex    int64               `json:"logIndex"`
	BlockTime   time.Time           `json:"blockTime"`
	Direction   string              `json:"direction"`
	Amount      decimal.Decimal     `json:"amount"`
	PriceUSD    decimal.NullDecimal `json:"priceUsd"`
	PriceRUB    decimal.NullDecimal `json:"priceRub"`
	ValueUSD    decimal.NullDecimal `json:"valueUsd"`
	ValueRUB    decimal.NullDecimal `json:"valueRub"`
	PriceManual bool                `json:"priceManual"`
	Source      string              `json:"source"`
	Token       tokenView           `json:"token"`
}

func newTransferView(t storage.TransferWithToken) transferView {
	return transferView{
		ID:          strconv.FormatInt(t.ID, 10),
		TxHash:      t.TxHash,
		LogIndex:    t.LogIndex,
		BlockTime:   t.BlockTime,
		Direction:   string(t.Direction),
		Amount:      t.Amount,
		PriceUSD:    t.PriceUSD,
		PriceRUB:    t.PriceRUB,
		ValueUSD:    t.ValueUSD,
		ValueRUB:    t.ValueRUB,
		PriceManual: t.PriceManual,
		Source:      t.Source,
		Token:       newTokenView(t.Token),
	}
}

type transfersResponse struct {
	OK         bool           `json:"ok"`
	Transfers  []transferView `json:"transfers"`
	NextCursor *string        `json:"nextCursor"`
}

type holdingView struct {
	Token  tokenView       `json:"token"`
	Amount decimal.Decimal `json:"amount"`
}

type holdingsResponse struct {
	OK       bool          `json:"ok"`
	Holdings []holdingView `json:"holdings"`
}

func newHoldingsResponse(hs []portfolio.Holding) holdingsResponse {
	out := holdingsResponse{OK: true, Holdings: make([]holdingView, 0, len(hs))}
	for _, h := range hs {
		out.Holdings = append(out.Holdings, holdingView{Token: newTokenView(h.Token), Amount: h.Amount})
	}
	return out
}

type overrideResponse struct {
	OK          bool                `json:"ok"`
	PriceUSD    decimal.NullDecimal `json:"priceUsd"`
	PriceRUB    decimal.NullDecimal `json:"priceRub"`
	ValueUSD    decimal.NullDecimal `json:"valueUsd"`
	ValueRUB    decimal.NullDecimal `json:"valueRub"`
	PriceManual bool                `json:"priceManual"`
}

// priceInput accepts a JSON number, a numeric string or null
type priceInput string

func (p *priceInput) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*p = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = priceInput(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*p = priceInput(n.String())
	return nil
}

type overrideRequest struct {
	PriceUSD priceInput `json:"priceUsd"`
	PriceRUB priceInput `json:"priceRub"`
}
