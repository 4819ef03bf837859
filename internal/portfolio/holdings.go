// Package portfolio builds the read side of a user's wallet: net holdings,
// the paginated transfer ledger and manual price overrides.
package portfolio

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matrixise/ethfolio/internal/storage"
)

// Holding is the net amount of a token held by the wallet
type Holding struct {
	Token  storage.Token
	Amount decimal.Decimal
}

// BuildHoldings nets incoming against outgoing totals per token. Tokens
// with a zero balance, and totals for tokens missing from tokens, are left
// out. Holdings keep the order in which tokens first appear in groups.
func BuildHoldings(groups []storage.DirectionTotal, tokens []storage.Token) []Holding {
	byID := make(map[uuid.UUID]storage.Token, len(tokens))
	for _, t := range tokens {
		byID[t.ID] = t
	}

	totals := make(map[uuid.UUID]decimal.Decimal)
	var order []uuid.UUID
	for _, g := range groups {
		signed := g.Amount
		if g.Direction == storage.DirectionOut {
			signed = signed.Neg()
		}
		current, seen := totals[g.TokenID]
		if !seen {
			order = append(order, g.TokenID)
		}
		totals[g.TokenID] = current.Add(signed)
	}

	holdings := make([]Holding, 0, len(order))
	for _, id := range order {
		token, ok := byID[id]
		if !ok {
			continue
		}
		amount := totals[id]
		if amount.IsZero() {
			continue
		}
		holdings = append(holdings, Holding{Token: token, Amount: amount})
	}
	return holdings
}
