package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrEmailTaken   = errors.New("email is already registered")
	ErrAddressTaken = errors.New("wallet address is linked to another user")
)

// CreateUser registers a user by email
func (s *Store) CreateUser(ctx context.Context, email string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
		INSERT INTO users (email) VALUES ($1)
		RETURNING id, email, created_at`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&u.ID, &u.Email, &u.CreatedAt)
	if isUniqueViolation(err, "users_email_key") {
		return User{}, ErrEmailTaken
	}
	if err != nil {
		return User{}, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// GetUser loads a user by id
func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `SELECT id, email, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Email, &u.CreatedAt)
	if err != nil {
		return User{}, notFound(err)
	}
	return u, nil
}

// ListUsers returns every user ordered by creation
func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, email, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Email, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UsersWithWallet returns the ids of users that linked a wallet
func (s *Store) UsersWithWallet(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM wallets ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallet owners: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan wallet owner: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetSettings returns the raw, possibly sealed, settings of a user
func (s *Store) GetSettings(ctx context.Context, userID uuid.UUID) (UserSettings, error) {
	var (
		st                 UserSettings
		etherscan, moralis *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT user_id, etherscan_api_key, moralis_api_key, updated_at
		FROM user_settings WHERE user_id = $1`, userID,
	).Scan(&st.UserID, &etherscan, &moralis, &st.UpdatedAt)
	if err != nil {
		return UserSettings{}, notFound(err)
	}
	if etherscan != nil {
		st.EtherscanAPIKey = *etherscan
	}
	if moralis != nil {
		st.MoralisAPIKey = *moralis
	}
	return st, nil
}

// SaveSettings upserts settings; empty keys are stored as NULL
func (s *Store) SaveSettings(ctx context.Context, st UserSettings) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_settings (user_id, etherscan_api_key, moralis_api_key)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''))
		ON CONFLICT (user_id) DO UPDATE SET
			etherscan_api_key = EXCLUDED.etherscan_api_key,
			moralis_api_key   = EXCLUDED.moralis_api_key,
			updated_at        = now()`,
		st.UserID, st.EtherscanAPIKey, st.MoralisAPIKey,
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// GetWallet returns the wallet linked to a user
func (s *Store) GetWallet(ctx context.Context, userID uuid.UUID) (Wallet, error) {
	var w Wallet
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, address, created_at FROM wallets WHERE user_id = $1`, userID,
	).Scan(&w.ID, &w.UserID, &w.Address, &w.CreatedAt)
	if err != nil {
		return Wallet{}, notFound(err)
	}
	return w, nil
}

// SetWallet links address to the user, replacing any previous address
func (s *Store) SetWallet(ctx context.Context, userID uuid.UUID, address string) (Wallet, error) {
	var w Wallet
	err := s.pool.QueryRow(ctx, `
		INSERT INTO wallets (user_id, address) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET address = EXCLUDED.address
		RETURNING id, user_id, address, created_at`,
		userID, strings.ToLower(address),
	).Scan(&w.ID, &w.UserID, &w.Address, &w.CreatedAt)
	if isUniqueViolation(err, "wallets_address_key") {
		return Wallet{}, ErrAddressTaken
	}
	if err != nil {
		return Wallet{}, fmt.Errorf("failed to set wallet: %w", err)
	}
	return w, nil
}
