package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/matrixise/ethfolio/internal/blockchain"
	"github.com/matrixise/ethfolio/internal/explorer"
	"github.com/matrixise/ethfolio/internal/pricing"
	"github.com/matrixise/ethfolio/internal/storage"
)

const walletAddress = "0x1111111111111111111111111111111111111111"

// memStore mimics the SQL semantics of storage.Store
type memStore struct {
	mu        sync.Mutex
	wallet    *storage.Wallet
	settings  *storage.UserSettings
	tokens    map[string]storage.Token
	transfers []*storage.Transfer
	nextID    int64
	upserts   int
}

func newMemStore(userID uuid.UUID, etherscanKey string) *memStore {
	s := &memStore{tokens: make(map[string]storage.Token)}
	s.wallet = &storage.Wallet{ID: uuid.New(), UserID: userID, Address: walletAddress}
	s.settings = &storage.UserSettings{UserID: userID, EtherscanAPIKey: etherscanKey}
	return s
}

func (s *memStore) GetWallet(_ context.Context, _ uuid.UUID) (storage.Wallet, error) {
	if s.wallet == nil {
		return storage.Wallet{}, storage.ErrNotFound
	}
	return *s.wallet, nil
}

func (s *memStore) GetSettings(_ context.Context, _ uuid.UUID) (storage.UserSettings, error) {
	if s.settings == nil {
		return storage.UserSettings{}, storage.ErrNotFound
	}
	return *s.settings, nil
}

func (s *memStore) EnsureToken(_ context.Context, t storage.Token) (storage.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := string(t.Kind) + ":" + t.ContractAddress
	if existing, ok := s.tokens[key]; ok {
		return existing, nil
	}
	t.ID = uuid.New()
	s.tokens[key] = t
	return t, nil
}

func (s *memStore) tokenByID(id uuid.UUID) storage.Token {
	for _, t := range s.tokens {
		if t.ID == id {
			return t
		}
	}
	return storage.Token{}
}

func (s *memStore) UpsertTransfer(_ context.Context, t storage.Transfer) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	for _, existing := range s.transfers {
		if existing.TxHash == t.TxHash && existing.TokenID == t.TokenID && existing.LogIndex == t.LogIndex {
			if !existing.PriceManual {
				existing.PriceUSD, existing.PriceRUB = t.PriceUSD, t.PriceRUB
				existing.ValueUSD, existing.ValueRUB = t.ValueUSD, t.ValueRUB
			}
			return false, nil
		}
	}
	s.nextID++
	t.ID = s.nextID
	s.transfers = append(s.transfers, &t)
	return true, nil
}

func (s *memStore) PendingTransfers(_ context.Context, userID uuid.UUID, afterID int64, limit int) ([]storage.TransferWithToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storage.TransferWithToken
	for _, t := range s.transfers {
		if t.UserID != userID || t.PriceManual || t.ID <= afterID {
			continue
		}
		if t.PriceUSD.Valid && t.PriceRUB.Valid {
			continue
		}
		out = append(out, storage.TransferWithToken{Transfer: *t, Token: s.tokenByID(t.TokenID)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) UpdateTransferPrices(_ context.Context, id int64, p storage.TransferPrices) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transfers {
		if t.ID == id {
			if t.PriceManual {
				return false, nil
			}
			t.PriceUSD, t.PriceRUB, t.ValueUSD, t.ValueRUB = p.PriceUSD, p.PriceRUB, p.ValueUSD, p.ValueRUB
			return true, nil
		}
	}
	return false, nil
}

// addTransfer seeds an unpriced transfer for backfill tests
func (s *memStore) addTransfer(userID uuid.UUID, token storage.Token, blockTime time.Time, amount string) *storage.Transfer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	t := &storage.Transfer{
		ID:        s.nextID,
		UserID:    userID,
		TokenID:   token.ID,
		TxHash:    "0xseed" + decimal.NewFromInt(s.nextID).String(),
		BlockTime: blockTime,
		Direction: storage.DirectionIn,
		Amount:    decimal.RequireFromString(amount),
	}
	s.transfers = append(s.transfers, t)
	return t
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transfers)
}

type fakeExplorer struct {
	native    []explorer.Tx
	tokens    []explorer.TokenTx
	nativeErr error
	tokenErr  error
	apiKeys   []string
	mu        sync.Mutex
}

func (f *fakeExplorer) NativeTransfers(_ context.Context, _, apiKey string) ([]explorer.Tx, error) {
	f.mu.Lock()
	f.apiKeys = append(f.apiKeys, apiKey)
	f.mu.Unlock()
	return f.native, f.nativeErr
}

func (f *fakeExplorer) TokenTransfers(_ context.Context, _, apiKey string) ([]explorer.TokenTx, error) {
	return f.tokens, f.tokenErr
}

// fakeOracle answers with price(token, ts), or no price when nil
type fakeOracle struct {
	mu    sync.Mutex
	calls int
	opts  []pricing.Options
	price func(token storage.Token, ts int64) pricing.Prices
}

func (o *fakeOracle) Bucket(ts int64) int64 { return pricing.BucketOf(ts, 3600) }

func (o *fakeOracle) GetPrices(_ context.Context, token storage.Token, ts int64, opts pricing.Options) pricing.Prices {
	o.mu.Lock()
	o.calls++
	o.opts = append(o.opts, opts)
	o.mu.Unlock()
	if o.price == nil {
		return pricing.Prices{BucketTs: o.Bucket(ts)}
	}
	return o.price(token, ts)
}

func fixedPrice(usd, rub string) func(storage.Token, int64) pricing.Prices {
	return func(storage.Token, int64) pricing.Prices {
		p := pricing.Prices{USD: decimal.NewNullDecimal(decimal.RequireFromString(usd))}
		if rub != "" {
			p.RUB = decimal.NewNullDecimal(decimal.RequireFromString(rub))
		}
		return p
	}
}

type fakeMeta struct {
	meta  blockchain.TokenMetadata
	err   error
	calls int
}

func (f *fakeMeta) TokenMetadata(context.Context, string) (blockchain.TokenMetadata, error) {
	f.calls++
	return f.meta, f.err
}
