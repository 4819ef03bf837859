package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const snapshotColumns = `token_id, bucket_ts, price_usd, price_rub, created_at`

func scanSnapshot(row interface{ Scan(...any) error }) (PriceSnapshot, error) {
	var s PriceSnapshot
	err := row.Scan(&s.TokenID, &s.BucketTs, &s.PriceUSD, &s.PriceRUB, &s.CreatedAt)
	return s, err
}

// GetSnapshot returns ErrNotFound when the bucket has no price yet
func (s *Store) GetSnapshot(ctx context.Context, tokenID uuid.UUID, bucketTs int64) (PriceSnapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM price_snapshots WHERE token_id = $1 AND bucket_ts = $2`,
		tokenID, bucketTs))
	if err != nil {
		return PriceSnapshot{}, notFound(err)
	}
	return snap, nil
}

// RecentSnapshots returns the latest buckets of a token, newest first
func (s *Store) RecentSnapshots(ctx context.Context, tokenID uuid.UUID, limit int) ([]PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+snapshotColumns+` FROM price_snapshots WHERE token_id = $1 ORDER BY bucket_ts DESC LIMIT $2`,
		tokenID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snaps []PriceSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	return snaps, rows.Err()
}

// InsertSnapshotIfAbsent stores snap unless its bucket exists, then returns
// the surviving row and whether it was created by this call.
func (s *Store) InsertSnapshotIfAbsent(ctx context.Context, snap PriceSnapshot) (PriceSnapshot, bool, error) {
	stored, err := scanSnapshot(s.pool.QueryRow(ctx, `
		INSERT INTO price_snapshots (token_id, bucket_ts, price_usd, price_rub)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (token_id, bucket_ts) DO NOTHING
		RETURNING `+snapshotColumns,
		snap.TokenID, snap.BucketTs, snap.PriceUSD, snap.PriceRUB))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return PriceSnapshot{}, false, fmt.Errorf("failed to insert snapshot: %w", err)
	}

	existing, err := s.GetSnapshot(ctx, snap.TokenID, snap.BucketTs)
	if err != nil {
		return PriceSnapshot{}, false, fmt.Errorf("failed to read back snapshot: %w", err)
	}
	return existing, false, nil
}

// FillSnapshotRUB sets the RUB price of a bucket that has none
func (s *Store) FillSnapshotRUB(ctx context.Context, tokenID uuid.UUID, bucketTs int64, priceRUB decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE price_snapshots SET price_rub = $3
		WHERE token_id = $1 AND bucket_ts = $2 AND price_rub IS NULL`,
		tokenID, bucketTs, priceRUB)
	if err != nil {
		return fmt.Errorf("failed to fill snapshot: %w", err)
	}
	return nil
}

// PruneSnapshots deletes buckets older than cutoff and returns the count
func (s *Store) PruneSnapshots(ctx context.Context, cutoff int64) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM price_snapshots WHERE bucket_ts < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}
