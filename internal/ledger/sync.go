package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/matrixise/ethfolio/internal/explorer"
	"github.com/matrixise/ethfolio/internal/pricing"
	"github.com/matrixise/ethfolio/internal/storage"
)

const (
	nativeSymbol   = "ETH"
	nativeName     = "Ethereum"
	nativeDecimals = 18

	unknownSymbol = "UNKNOWN"
	unknownName   = "Unknown Token"
)

// SyncResult counts rows created and explorer transactions fetched
type SyncResult struct {
	Created    int `json:"created"`
	EthCount   int `json:"ethCount"`
	TokenCount int `json:"tokenCount"`
}

// syncRun carries the state of one SyncWallet call
type syncRun struct {
	userID  uuid.UUID
	wallet  storage.Wallet
	address string
	keys    keys
	nowSec  int64

	tokens map[string]storage.Token
}

// SyncWallet pulls the wallet's native and ERC-20 history from the explorer
// and stores each transfer with the best price available. Re-running it is
// idempotent: known transfers only get their non-manual prices refreshed.
func (e *Engine) SyncWallet(ctx context.Context, userID uuid.UUID) (SyncResult, error) {
	start := e.now()

	wallet, err := e.store.GetWallet(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return SyncResult{}, ErrWalletNotSet
	}
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to load wallet: %w", err)
	}

	k, err := e.loadKeys(ctx, userID)
	if err != nil {
		return SyncResult{}, err
	}
	if k.etherscan == "" {
		return SyncResult{}, ErrMissingExplorerKey
	}

	run := &syncRun{
		userID:  userID,
		wallet:  wallet,
		address: strings.ToLower(wallet.Address),
		keys:    k,
		nowSec:  start.Unix(),
		tokens:  make(map[string]storage.Token),
	}

	native, err := e.store.EnsureToken(ctx, storage.Token{
		UserID:          userID,
		Kind:            storage.TokenKindNative,
		ContractAddress: storage.NativeContract,
		Symbol:          nativeSymbol,
		Name:            nativeName,
		Decimals:        nativeDecimals,
	})
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to ensure native token: %w", err)
	}

	var (
		ethTxs   []explorer.Tx
		tokenTxs []explorer.TokenTx
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ethTxs, err = e.explorer.NativeTransfers(gctx, run.address, k.etherscan)
		return err
	})
	g.Go(func() error {
		var err error
		tokenTxs, err = e.explorer.TokenTransfers(gctx, run.address, k.etherscan)
		return err
	})
	if err := g.Wait(); err != nil {
		return SyncResult{}, err
	}

	result := SyncResult{EthCount: len(ethTxs), TokenCount: len(tokenTxs)}

	for _, tx := range ethTxs {
		t, ok := run.nativeTransfer(tx, native)
		if !ok {
			continue
		}
		created, err := e.record(ctx, run, t, native)
		if err != nil {
			return result, err
		}
		if created {
			result.Created++
		}
	}

	for _, tx := range tokenTxs {
		from, to := strings.ToLower(tx.From), strings.ToLower(tx.To)
		if from != run.address && to != run.address {
			continue
		}
		token, decimals, err := e.tokenFor(ctx, run, tx)
		if err != nil {
			return result, err
		}
		t, ok := run.tokenTransfer(tx, token, decimals)
		if !ok {
			continue
		}
		created, err := e.record(ctx, run, t, token)
		if err != nil {
			return result, err
		}
		if created {
			result.Created++
		}
	}

	e.metrics.Increment("sync.runs", 1)
	e.metrics.Increment("sync.created", int64(result.Created))
	e.metrics.Timing("sync.duration", e.now().Sub(start))

	slog.Info("Wallet synced",
		"user_id", userID,
		"created", result.Created,
		"eth_count", result.EthCount,
		"token_count", result.TokenCount,
		"duration", e.now().Sub(start))

	return result, nil
}

// record prices t and stores it, reporting whether a new row was created
func (e *Engine) record(ctx context.Context, run *syncRun, t storage.Transfer, token storage.Token) (bool, error) {
	ts := t.BlockTime.Unix()
	prices := e.oracle.GetPrices(ctx, token, ts, pricing.Options{
		MoralisAPIKey:     run.keys.moralis,
		AllowLiveFallback: pricing.LiveFallbackAllowed(run.nowSec, ts, e.cfg.LiveFallbackMaxAgeSec),
	})

	p := pricesFor(prices, t.Amount)
	t.PriceUSD, t.PriceRUB, t.ValueUSD, t.ValueRUB = p.PriceUSD, p.PriceRUB, p.ValueUSD, p.ValueRUB

	created, err := e.store.UpsertTransfer(ctx, t)
	if err != nil {
		return false, err
	}
	return created, nil
}

// base fills the fields shared by native and token transfers
func (run *syncRun) base(hash, from, timeStamp string, tokenID uuid.UUID) (storage.Transfer, bool) {
	ts, err := strconv.ParseInt(timeStamp, 10, 64)
	if err != nil {
		slog.Warn("Skipping transaction with invalid timestamp", "tx_hash", hash, "timestamp", timeStamp)
		return storage.Transfer{}, false
	}

	direction := storage.DirectionIn
	if strings.ToLower(from) == run.address {
		direction = storage.DirectionOut
	}

	return storage.Transfer{
		UserID:    run.userID,
		WalletID:  run.wallet.ID,
		TokenID:   tokenID,
		TxHash:    hash,
		BlockTime: time.Unix(ts, 0).UTC(),
		Direction: direction,
		Source:    sourceEtherscan,
	}, true
}

// nativeTransfer converts a successful, non-zero native transaction that
// touches the wallet
func (run *syncRun) nativeTransfer(tx explorer.Tx, token storage.Token) (storage.Transfer, bool) {
	if tx.IsError != "0" {
		return storage.Transfer{}, false
	}
	from, to := strings.ToLower(tx.From), strings.ToLower(tx.To)
	if from != run.address && to != run.address {
		return storage.Transfer{}, false
	}

	amount, ok := scaleAmount(tx.Hash, tx.Value, nativeDecimals)
	if !ok || amount.IsZero() {
		return storage.Transfer{}, false
	}

	t, ok := run.base(tx.Hash, tx.From, tx.TimeStamp, token.ID)
	if !ok {
		return storage.Transfer{}, false
	}
	t.Amount = amount
	return t, true
}

// tokenTransfer converts an ERC-20 transfer event; the explorer log index is
// part of the natural key
func (run *syncRun) tokenTransfer(tx explorer.TokenTx, token storage.Token, decimals int32) (storage.Transfer, bool) {
	amount, ok := scaleAmount(tx.Hash, tx.Value, decimals)
	if !ok {
		return storage.Transfer{}, false
	}

	t, ok := run.base(tx.Hash, tx.From, tx.TimeStamp, token.ID)
	if !ok {
		return storage.Transfer{}, false
	}
	t.Amount = amount
	t.LogIndex = parseLogIndex(tx.LogIndex)
	return t, true
}

// tokenFor returns the stored token for the event's contract along with the
// decimals used to scale its amount. Missing explorer metadata is read
// on-chain when a metadata reader is configured.
func (e *Engine) tokenFor(ctx context.Context, run *syncRun, tx explorer.TokenTx) (storage.Token, int32, error) {
	contract := strings.ToLower(tx.ContractAddress)
	decimals, hasDecimals := parseDecimals(tx.TokenDecimal)

	if token, ok := run.tokens[contract]; ok {
		if !hasDecimals {
			decimals = token.Decimals
		}
		return token, decimals, nil
	}

	symbol := strings.TrimSpace(tx.TokenSymbol)
	name := strings.TrimSpace(tx.TokenName)
	if (!hasDecimals || symbol == "") && e.meta != nil {
		meta, err := e.meta.TokenMetadata(ctx, contract)
		if err != nil {
			slog.Warn("Failed to read token metadata", "contract", contract, "error", err)
		} else {
			if !hasDecimals {
				decimals, hasDecimals = int32(meta.Decimals), true
			}
			if symbol == "" {
				symbol = meta.Symbol
			}
			if name == "" {
				name = meta.Name
			}
		}
	}

	if name == "" {
		name = symbol
	}
	if name == "" {
		name = unknownName
	}
	if symbol == "" {
		symbol = unknownSymbol
	}

	token, err := e.store.EnsureToken(ctx, storage.Token{
		UserID:          run.userID,
		Kind:            storage.TokenKindERC20,
		ContractAddress: contract,
		Symbol:          symbol,
		Name:            name,
		Decimals:        decimals,
	})
	if err != nil {
		return storage.Token{}, 0, fmt.Errorf("failed to ensure token %s: %w", contract, err)
	}
	if !hasDecimals {
		decimals = token.Decimals
	}
	run.tokens[contract] = token
	return token, decimals, nil
}

// scaleAmount converts a raw integer amount to token units
func scaleAmount(hash, raw string, decimals int32) (decimal.Decimal, bool) {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		slog.Warn("Skipping transaction with invalid value", "tx_hash", hash, "value", raw)
		return decimal.Decimal{}, false
	}
	return value.Shift(-decimals), true
}

func parseDecimals(raw string) (int32, bool) {
	if raw == "" {
		return 0, false
	}
	d, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || d < 0 {
		return 0, false
	}
	return int32(d), true
}

func parseLogIndex(raw string) int64 {
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
