package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transferColumns = `t.id, t.user_id, t.wallet_id, t.token_id, t.tx_hash, t.log_index, t.block_time,
	t.direction, t.amount, t.price_usd, t.price_rub, t.value_usd, t.value_rub,
	t.price_manual, t.source, t.created_at, t.updated_at`

const joinedTokenColumns = `k.id, k.user_id, k.kind, k.contract_address, k.symbol, k.name, k.decimals, k.created_at`

func transferDest(t *Transfer) []any {
	return []any{
		&t.ID, &t.UserID, &t.WalletID, &t.TokenID, &t.TxHash, &t.LogIndex, &t.BlockTime,
		&t.Direction, &t.Amount, &t.PriceUSD, &t.PriceRUB, &t.ValueUSD, &t.ValueRUB,
		&t.PriceManual, &t.Source, &t.CreatedAt, &t.UpdatedAt,
	}
}

func scanTransferWithToken(rows pgx.Rows) (TransferWithToken, error) {
	var tw TransferWithToken
	k := &tw.Token
	dest := append(transferDest(&tw.Transfer),
		&k.ID, &k.UserID, &k.Kind, &k.ContractAddress, &k.Symbol, &k.Name, &k.Decimals, &k.CreatedAt)
	err := rows.Scan(dest...)
	return tw, err
}

func collectTransfers(rows pgx.Rows) ([]TransferWithToken, error) {
	defer rows.Close()
	var out []TransferWithToken
	for rows.Next() {
		tw, err := scanTransferWithToken(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		out = append(out, tw)
	}
	return out, rows.Err()
}

// UpsertTransfer inserts t or, when its natural key already exists, refreshes
// the price fields of a row that was not priced manually. It reports whether
// a new row was created.
func (s *Store) UpsertTransfer(ctx context.Context, t Transfer) (bool, error) {
	var created bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO transfers (
			user_id, wallet_id, token_id, tx_hash, log_index, block_time, direction,
			amount, price_usd, price_rub, value_usd, value_rub, source
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (tx_hash, token_id, log_index) DO UPDATE SET
			price_usd  = EXCLUDED.price_usd,
			price_rub  = EXCLUDED.price_rub,
			value_usd  = EXCLUDED.value_usd,
			value_rub  = EXCLUDED.value_rub,
			updated_at = now()
		WHERE transfers.price_manual = false
		RETURNING (xmax = 0)`,
		t.UserID, t.WalletID, t.TokenID, t.TxHash, t.LogIndex, t.BlockTime, t.Direction,
		t.Amount, t.PriceUSD, t.PriceRUB, t.ValueUSD, t.ValueRUB, t.Source,
	).Scan(&created)
	if errors.Is(err, pgx.ErrNoRows) {
		// existing manually priced row, left untouched
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to upsert transfer %s: %w", t.TxHash, err)
	}
	return created, nil
}

// PendingTransfers returns up to limit transfers of the user with id greater
// than afterID that miss a price and were not priced manually, by id.
func (s *Store) PendingTransfers(ctx context.Context, userID uuid.UUID, afterID int64, limit int) ([]TransferWithToken, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+transferColumns+`, `+joinedTokenColumns+`
		FROM transfers t JOIN tokens k ON k.id = t.token_id
		WHERE t.user_id = $1
		  AND t.price_manual = false
		  AND (t.price_usd IS NULL OR t.price_rub IS NULL)
		  AND t.id > $2
		ORDER BY t.id
		LIMIT $3`,
		userID, afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending transfers: %w", err)
	}
	return collectTransfers(rows)
}

// UpdateTransferPrices writes backfilled prices unless the row became manual
func (s *Store) UpdateTransferPrices(ctx context.Context, id int64, p TransferPrices) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transfers SET
			price_usd = $2, price_rub = $3, value_usd = $4, value_rub = $5, updated_at = now()
		WHERE id = $1 AND price_manual = false`,
		id, p.PriceUSD, p.PriceRUB, p.ValueUSD, p.ValueRUB,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update transfer %d: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetTransfer loads a transfer owned by the user
func (s *Store) GetTransfer(ctx context.Context, userID uuid.UUID, id int64) (Transfer, error) {
	var t Transfer
	err := s.pool.QueryRow(ctx, `
		SELECT `+transferColumns+` FROM transfers t WHERE t.id = $1 AND t.user_id = $2`,
		id, userID,
	).Scan(transferDest(&t)...)
	if err != nil {
		return Transfer{}, notFound(err)
	}
	return t, nil
}

// OverrideTransferPrices stores user supplied prices and marks the row manual
func (s *Store) OverrideTransferPrices(ctx context.Context, id int64, p TransferPrices) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transfers SET
			price_usd = $2, price_rub = $3, value_usd = $4, value_rub = $5,
			price_manual = true, updated_at = now()
		WHERE id = $1`,
		id, p.PriceUSD, p.PriceRUB, p.ValueUSD, p.ValueRUB,
	)
	if err != nil {
		return fmt.Errorf("failed to override transfer %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListTransfers pages the user's ledger newest first, starting strictly
// after cursor when one is given.
func (s *Store) ListTransfers(ctx context.Context, userID uuid.UUID, cursor *TransferCursor, limit int) ([]TransferWithToken, error) {
	query := `
		SELECT ` + transferColumns + `, ` + joinedTokenColumns + `
		FROM transfers t JOIN tokens k ON k.id = t.token_id
		WHERE t.user_id = $1`
	args := []any{userID}
	if cursor != nil {
		query += ` AND (t.block_time, t.id) < ($2, $3)`
		args = append(args, cursor.BlockTime, cursor.ID)
	}
	query += fmt.Sprintf(` ORDER BY t.block_time DESC, t.id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return collectTransfers(rows)
}

// DirectionTotals sums transfer amounts per token and direction
func (s *Store) DirectionTotals(ctx context.Context, userID uuid.UUID) ([]DirectionTotal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token_id, direction, SUM(amount)
		FROM transfers WHERE user_id = $1
		GROUP BY token_id, direction`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum transfers: %w", err)
	}
	defer rows.Close()

	var totals []DirectionTotal
	for rows.Next() {
		var d DirectionTotal
		if err := rows.Scan(&d.TokenID, &d.Direction, &d.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan total: %w", err)
		}
		totals = append(totals, d)
	}
	return totals, rows.Err()
}
