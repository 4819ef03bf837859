package portfolio

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matrixise/ethfolio/internal/pricing"
	"github.com/matrixise/ethfolio/internal/storage"
)

// Override validation errors, returned verbatim to API callers.
var (
	ErrNoPrice    = errors.New("Provide USD or RUB price.")
	ErrNoUSDPrice = errors.New("Unable to determine USD price.")
)

// Store is the read and override persistence the service needs
type Store interface {
	DirectionTotals(ctx context.Context, userID uuid.UUID) ([]storage.DirectionTotal, error)
	ListTokens(ctx context.Context, userID uuid.UUID) ([]storage.Token, error)
	ListTransfers(ctx context.Context, userID uuid.UUID, cursor *storage.TransferCursor, limit int) ([]storage.TransferWithToken, error)
	GetTransfer(ctx context.Context, userID uuid.UUID, id int64) (storage.Transfer, error)
	OverrideTransferPrices(ctx context.Context, id int64, p storage.TransferPrices) error
}

// Service serves holdings, the transfer ledger and manual overrides
type Service struct {
	store Store
	fx    pricing.FXProvider
}

// NewService creates a portfolio service
func NewService(store Store, fx pricing.FXProvider) *Service {
	return &Service{store: store, fx: fx}
}

// Holdings returns the user's non-zero net balances
func (s *Service) Holdings(ctx context.Context, userID uuid.UUID) ([]Holding, error) {
	totals, err := s.store.DirectionTotals(ctx, userID)
	if err != nil {
		return nil, err
	}
	tokens, err := s.store.ListTokens(ctx, userID)
	if err != nil {
		return nil, err
	}
	return BuildHoldings(totals, tokens), nil
}

// TransferPage is one page of the ledger, newest first. NextCursor is empty
// when the page is empty.
type TransferPage struct {
	Transfers  []storage.TransferWithToken
	NextCursor string
}

// Transfers returns the page after rawCursor with up to TransferLimit(rawLimit) rows
func (s *Service) Transfers(ctx context.Context, userID uuid.UUID, rawCursor, rawLimit string) (TransferPage, error) {
	rows, err := s.store.ListTransfers(ctx, userID, DecodeCursor(rawCursor), TransferLimit(rawLimit))
	if err != nil {
		return TransferPage{}, err
	}

	page := TransferPage{Transfers: rows}
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		page.NextCursor = EncodeCursor(storage.TransferCursor{ID: last.ID, BlockTime: last.BlockTime})
	}
	return page, nil
}

// ParsePrice reads a user supplied price. Blank, malformed and non-positive
// input yields an invalid value.
func ParsePrice(raw string) decimal.NullDecimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// Override stores user supplied prices on a transfer and marks it manual so
// that sync and backfill leave it alone. A missing currency is derived
// through the FX rate of the transfer's day; a USD price is required.
func (s *Service) Override(ctx context.Context, userID uuid.UUID, transferID int64, rawUSD, rawRUB string) (storage.TransferPrices, error) {
	t, err := s.store.GetTransfer(ctx, userID, transferID)
	if err != nil {
		return storage.TransferPrices{}, err
	}

	usd, rub := ParsePrice(rawUSD), ParsePrice(rawRUB)
	if !usd.Valid && !rub.Valid {
		return storage.TransferPrices{}, ErrNoPrice
	}

	if usd.Valid != rub.Valid && s.fx != nil {
		if rate, ok := s.fx.USDRUB(ctx, t.BlockTime.Unix()); ok {
			if usd.Valid {
				rub = decimal.NewNullDecimal(usd.Decimal.Mul(rate))
			} else {
				usd = decimal.NewNullDecimal(rub.Decimal.Div(rate))
			}
		}
	}
	if !usd.Valid {
		return storage.TransferPrices{}, ErrNoUSDPrice
	}

	p := storage.TransferPrices{
		PriceUSD: usd,
		PriceRUB: rub,
		ValueUSD: decimal.NewNullDecimal(usd.Decimal.Mul(t.Amount)),
	}
	if rub.Valid {
		p.ValueRUB = decimal.NewNullDecimal(rub.Decimal.Mul(t.Amount))
	}

	if err := s.store.OverrideTransferPrices(ctx, t.ID, p); err != nil {
		return storage.TransferPrices{}, fmt.Errorf("failed to override prices: %w", err)
	}
	return p, nil
}
