package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const tokenColumns = `id, user_id, kind, contract_address, symbol, name, decimals, created_at`

func scanToken(row interface{ Scan(...any) error }) (Token, error) {
	var t Token
	err := row.Scan(&t.ID, &t.UserID, &t.Kind, &t.ContractAddress, &t.Symbol, &t.Name, &t.Decimals, &t.CreatedAt)
	return t, err
}

// EnsureToken returns the token for (user, kind, contract), creating it from
// t on first sighting. Metadata of an existing token is left unchanged.
func (s *Store) EnsureToken(ctx context.Context, t Token) (Token, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO tokens (user_id, kind, contract_address, symbol, name, decimals)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, kind, contract_address) DO UPDATE SET kind = EXCLUDED.kind
		RETURNING `+tokenColumns,
		t.UserID, t.Kind, t.ContractAddress, t.Symbol, t.Name, t.Decimals,
	)
	token, err := scanToken(row)
	if err != nil {
		return Token{}, fmt.Errorf("failed to ensure token %s: %w", t.ContractAddress, err)
	}
	return token, nil
}

// ListTokens returns all tokens of a user
func (s *Store) ListTokens(ctx context.Context, userID uuid.UUID) ([]Token, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE user_id = $1 ORDER BY symbol`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var tokens []Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		tokens = append(tokens, t)
	}
	return tokens, rows.Err()
}
