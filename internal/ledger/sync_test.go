package ledger

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixise/ethfolio/internal/blockchain"
	"github.com/matrixise/ethfolio/internal/explorer"
	"github.com/matrixise/ethfolio/internal/secrets"
	"github.com/matrixise/ethfolio/internal/storage"
)

const (
	otherAddress = "0x2222222222222222222222222222222222222222"
	usdcContract = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
	nowUnix      = 1_700_000_000
)

func newTestEngine(store Store, ex Explorer, oracle PriceOracle, cfg Config, opts ...Option) *Engine {
	e := NewEngine(store, ex, oracle, cfg, opts...)
	e.now = func() time.Time { return time.Unix(nowUnix, 0) }
	return e
}

func sampleExplorer() *fakeExplorer {
	return &fakeExplorer{
		native: []explorer.Tx{
			{Hash: "0xa", TimeStamp: "1699990000", Value: "1500000000000000000", From: otherAddress, To: walletAddress, IsError: "0"},
			{Hash: "0xb", TimeStamp: "1699990100", Value: "250000000000000000", From: walletAddress, To: otherAddress, IsError: "0"},
			{Hash: "0xc", TimeStamp: "1699990200", Value: "1000", From: walletAddress, To: otherAddress, IsError: "1"},
			{Hash: "0xd", TimeStamp: "1699990300", Value: "1000", From: otherAddress, To: "0x3333333333333333333333333333333333333333", IsError: "0"},
			{Hash: "0xe", TimeStamp: "1699990400", Value: "0", From: otherAddress, To: walletAddress, IsError: "0"},
		},
		tokens: []explorer.TokenTx{
			{Hash: "0xf", TimeStamp: "1699990500", Value: "2500000", TokenName: "USD Coin", TokenSymbol: "USDC", TokenDecimal: "6", ContractAddress: usdcContract, From: otherAddress, To: walletAddress, LogIndex: "7"},
			{Hash: "0xf", TimeStamp: "1699990500", Value: "1000000", TokenName: "USD Coin", TokenSymbol: "USDC", TokenDecimal: "6", ContractAddress: usdcContract, From: walletAddress, To: otherAddress, LogIndex: "8"},
			{Hash: "0x10", TimeStamp: "1699990600", Value: "1", TokenDecimal: "18", ContractAddress: "0x4444444444444444444444444444444444444444", From: otherAddress, To: walletAddress, LogIndex: "1"},
		},
	}
}

func findTransfer(t *testing.T, s *memStore, hash string, logIndex int64) *storage.Transfer {
	t.Helper()
	for _, tr := range s.transfers {
		if tr.TxHash == hash && tr.LogIndex == logIndex {
			return tr
		}
	}
	t.Fatalf("transfer %s/%d not found", hash, logIndex)
	return nil
}

func TestSyncWallet(t *testing.T) {
	userID := uuid.New()
	store := newMemStore(userID, "etherscan-key")
	oracle := &fakeOracle{price: fixedPrice("2000", "180000")}
	engine := newTestEngine(store, sampleExplorer(), oracle, Config{LiveFallbackMaxAgeSec: 3600})

	res, err := engine.SyncWallet(t.Context(), userID)
	require.NoError(t, err)

	assert.Equal(t, SyncResult{Created: 5, EthCount: 5, TokenCount: 3}, res)
	assert.Equal(t, 5, store.count())

	in := findTransfer(t, store, "0xa", 0)
	assert.Equal(t, storage.DirectionIn, in.Direction)
	assert.Equal(t, "1.5", in.Amount.String())
	assert.Equal(t, "3000", in.ValueUSD.Decimal.String())
	assert.Equal(t, "270000", in.ValueRUB.Decimal.String())
	assert.Equal(t, sourceEtherscan, in.Source)
	assert.Equal(t, time.Unix(1699990000, 0).UTC(), in.BlockTime)

	out := findTransfer(t, store, "0xb", 0)
	assert.Equal(t, storage.DirectionOut, out.Direction)
	assert.Equal(t, "0.25", out.Amount.String())

	usdcIn := findTransfer(t, store, "0xf", 7)
	usdcOut := findTransfer(t, store, "0xf", 8)
	assert.Equal(t, "2.5", usdcIn.Amount.String())
	assert.Equal(t, storage.DirectionIn, usdcIn.Direction)
	assert.Equal(t, storage.DirectionOut, usdcOut.Direction)
	assert.Equal(t, usdcIn.TokenID, usdcOut.TokenID)

	usdc := store.tokens["ERC20:"+"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"]
	assert.Equal(t, "USDC", usdc.Symbol)
	assert.Equal(t, int32(6), usdc.Decimals)

	unknown := store.tokens["ERC20:0x4444444444444444444444444444444444444444"]
	assert.Equal(t, "UNKNOWN", unknown.Symbol)
	assert.Equal(t, "Unknown Token", unknown.Name)

	native := store.tokens["NATIVE:native"]
	assert.Equal(t, "ETH", native.Symbol)
	assert.Equal(t, int32(18), native.Decimals)
}

func TestSyncWalletIsIdempotent(t *testing.T) {
	userID := uuid.New()
	store := newMemStore(userID, "etherscan-key")
	oracle := &fakeOracle{price: fixedPrice("2000", "")}
	engine := newTestEngine(store, sampleExplorer(), oracle, Config{})

	first, err := engine.SyncWallet(t.Context(), userID)
	require.NoError(t, err)
	require.Equal(t, 5, first.Created)

	second, err := engine.SyncWallet(t.Context(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 5, second.EthCount)
	assert.Equal(t, 5, store.count())
}

func TestSyncWalletKeepsManualPrices(t *testing.T) {
	userID := uuid.New()
	store := newMemStore(userID, "etherscan-key")
	oracle := &fakeOracle{price: fixedPrice("2000", "")}
	engine := newTestEngine(store, sampleExplorer(), oracle, Config{})

	_, err := engine.SyncWallet(t.Context(), userID)
	require.NoError(t, err)

	manual := findTransfer(t, store, "0xa", 0)
	manual.PriceManual = true
	manual.PriceUSD = decimal.NewNullDecimal(decimal.NewFromInt(42))

	oracle.price = fixedPrice("1", "")
	_, err = engine.SyncWallet(t.Context(), userID)
	require.NoError(t, err)

	assert.Equal(t, "42", findTransfer(t, store, "0xa", 0).PriceUSD.Decimal.String())
	assert.Equal(t, "1", findTransfer(t, store, "0xb", 0).PriceUSD.Decimal.String())
}

func TestSyncWalletUnpricedTransfersAreStored(t *testing.T) {
	userID := uuid.New()
	store := newMemStore(userID, "etherscan-key")
	engine := newTestEngine(store, sampleExplorer(), &fakeOracle{}, Config{})

	res, err := engine.SyncWallet(t.Context(), userID)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Created)

	tr := findTransfer(t, store, "0xa", 0)
	assert.False(t, tr.PriceUSD.Valid)
	assert.False(t, tr.ValueRUB.Valid)
}

func TestSyncWalletLiveFallbackWindow(t *testing.T) {
	userID := uuid.New()
	store := newMemStore(userID, "etherscan-key")
	ex := &fakeExplorer{native: []explorer.Tx{
		{Hash: "0xold", TimeStamp: "1699000000", Value: "1", From: otherAddress, To: walletAddress, IsError: "0"},
		{Hash: "0xnew", TimeStamp: "1699999900", Value: "1", From: otherAddress, To: walletAddress, IsError: "0"},
	}}
	oracle := &fakeOracle{}
	engine := newTestEngine(store, ex, oracle, Config{LiveFallbackMaxAgeSec: 3600, SystemMoralisKey: "system"})

	_, err := engine.SyncWallet(t.Context(), userID)
	require.NoError(t, err)

	require.Len(t, oracle.opts, 2)
	assert.False(t, oracle.opts[0].AllowLiveFallback)
	assert.True(t, oracle.opts[1].AllowLiveFallback)
	assert.Equal(t, "system", oracle.opts[0].MoralisAPIKey)
}

func TestNewEngineDefaults(t *testing.T) {
	userID := uuid.New()
	store := newMemStore(userID, "etherscan-key")
	ex := &fakeExplorer{native: []explorer.Tx{
		{Hash: "0xold", TimeStamp: "1699000000", Value: "1", From: otherAddress, To: walletAddress, IsError: "0"},
		{Hash: "0xnew", TimeStamp: "1699999900", Value: "1", From: otherAddress, To: walletAddress, IsError: "0"},
	}}
	oracle := &fakeOracle{}
	engine := newTestEngine(store, ex, oracle, Config{})

	assert.Equal(t, DefaultBatchSize, engine.cfg.BatchSize)
	assert.Equal(t, DefaultMaxBatches, engine.cfg.MaxBatches)
	assert.Equal(t, DefaultConcurrency, engine.cfg.Concurrency)
	assert.Equal(t, int64(DefaultLiveFallbackMaxAgeSec), engine.cfg.LiveFallbackMaxAgeSec)

	_, err := engine.SyncWallet(t.Context(), userID)
	require.NoError(t, err)

	require.Len(t, oracle.opts, 2)
	assert.False(t, oracle.opts[0].AllowLiveFallback)
	assert.True(t, oracle.opts[1].AllowLiveFallback)
}

func TestSyncWalletUserMoralisKeyWins(t *testing.T) {
	userID := uuid.New()
	store := newMemStore(userID, "etherscan-key")
	store.settings.MoralisAPIKey = "user-moralis"
	ex := &fakeExplorer{native: []explorer.Tx{
		{Hash: "0xa", TimeStamp: "1699000000", Value: "1", From: otherAddress, To: walletAddress, IsError: "0"},
	}}
	oracle := &fakeOracle{}
	engine := newTestEngine(store, ex, oracle, Config{SystemMoralisKey: "system"})

	_, err := engine.SyncWallet(t.Context(), userID)
	require.NoError(t, err)
	require.Len(t, oracle.opts, 1)
	assert.Equal(t, "user-moralis", oracle.opts[0].MoralisAPIKey)
}

func TestSyncWalletReadsMissingMetadataOnChain(t *testing.T) {
	userID := uuid.New()
	store := newMemStore(userID, "etherscan-key")
	ex := &fakeExplorer{tokens: []explorer.TokenTx{
		{Hash: "0x1", TimeStamp: "1699000000", Value: "3000000000000000000", ContractAddress: "0x6b175474e89094c44da98b954eedeac495271d0f", From: otherAddress, To: walletAddress, LogIndex: "3"},
		{Hash: "0x2", TimeStamp: "1699000100", Value: "1000000000000000000", ContractAddress: "0x6b175474e89094c44da98b954eedeac495271d0f", From: walletAddress, To: otherAddress, LogIndex: "4"},
	}}
	meta := &fakeMeta{meta: blockchain.TokenMetadata{Symbol: "DAI", Name: "Dai Stablecoin", Decimals: 18}}
	engine := newTestEngine(store, ex, &fakeOracle{}, Config{}, WithMetadataReader(meta))

	res, err := engine.SyncWallet(t.Context(), userID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, meta.calls, "metadata is read once per contract and run")

	dai := store.tokens["ERC20:0x6b175474e89094c44da98b954eedeac495271d0f"]
	assert.Equal(t, "DAI", dai.Symbol)
	assert.Equal(t, "Dai Stablecoin", dai.Name)
	assert.Equal(t, "3", findTransfer(t, store, "0x1", 3).Amount.String())
	assert.Equal(t, "1", findTransfer(t, store, "0x2", 4).Amount.String())
}

func TestSyncWalletMetadataFailureFallsBack(t *testing.T) {
	userID := uuid.New()
	store := newMemStore(userID, "etherscan-key")
	ex := &fakeExplorer{tokens: []explorer.TokenTx{
		{Hash: "0x1", TimeStamp: "1699000000", Value: "5", TokenSymbol: "ABC", ContractAddress: "0x5555555555555555555555555555555555555555", From: otherAddress, To: walletAddress},
	}}
	meta := &fakeMeta{err: errors.New("rpc down")}
	engine := newTestEngine(store, ex, &fakeOracle{}, Config{}, WithMetadataReader(meta))

	_, err := engine.SyncWallet(t.Context(), userID)
	require.NoError(t, err)

	tr := findTransfer(t, store, "0x1", 0)
	assert.Equal(t, "5", tr.Amount.String())
	token := store.tokens["ERC20:0x5555555555555555555555555555555555555555"]
	assert.Equal(t, "ABC", token.Symbol)
	assert.Equal(t, "ABC", token.Name)
}

func TestSyncWalletOpensSealedKeys(t *testing.T) {
	box, err := secrets.New("a-strong-test-secret-value")
	require.NoError(t, err)
	sealed, err := box.Seal("sealed-etherscan-key")
	require.NoError(t, err)

	t.Run("with box", func(t *testing.T) {
		userID := uuid.New()
		store := newMemStore(userID, sealed)
		ex := &fakeExplorer{}
		engine := newTestEngine(store, ex, &fakeOracle{}, Config{}, WithSecrets(box))

		_, err := engine.SyncWallet(t.Context(), userID)
		require.NoError(t, err)
		assert.Equal(t, []string{"sealed-etherscan-key"}, ex.apiKeys)
	})

	t.Run("without box the key is missing", func(t *testing.T) {
		userID := uuid.New()
		store := newMemStore(userID, sealed)
		engine := newTestEngine(store, &fakeExplorer{}, &fakeOracle{}, Config{})

		_, err := engine.SyncWallet(t.Context(), userID)
		assert.ErrorIs(t, err, ErrMissingExplorerKey)
	})
}

func TestSyncWalletErrors(t *testing.T) {
	explorerErr := &explorer.APIError{Message: "NOTOK: Invalid API Key"}

	tests := []struct {
		name       string
		setup      func(*memStore, *fakeExplorer)
		wantErr    error
		wantConfig bool
	}{
		{
			name:       "wallet not set",
			setup:      func(s *memStore, _ *fakeExplorer) { s.wallet = nil },
			wantErr:    ErrWalletNotSet,
			wantConfig: true,
		},
		{
			name:       "no settings",
			setup:      func(s *memStore, _ *fakeExplorer) { s.settings = nil },
			wantErr:    ErrMissingExplorerKey,
			wantConfig: true,
		},
		{
			name:       "empty explorer key",
			setup:      func(s *memStore, _ *fakeExplorer) { s.settings.EtherscanAPIKey = "" },
			wantErr:    ErrMissingExplorerKey,
			wantConfig: true,
		},
		{
			name:    "explorer failure aborts",
			setup:   func(_ *memStore, ex *fakeExplorer) { ex.tokenErr = explorerErr },
			wantErr: explorerErr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID := uuid.New()
			store := newMemStore(userID, "etherscan-key")
			ex := sampleExplorer()
			tt.setup(store, ex)
			engine := newTestEngine(store, ex, &fakeOracle{}, Config{})

			_, err := engine.SyncWallet(t.Context(), userID)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantConfig, IsConfigError(err))
			assert.Equal(t, 0, store.count())
		})
	}
}
