package storage

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// TokenKind distinguishes the chain's native asset from ERC-20 contracts
type TokenKind string

const (
	TokenKindNative TokenKind = "NATIVE"
	TokenKindERC20  TokenKind = "ERC20"
)

// NativeContract is the contract address stored for the native asset
const NativeContract = "native"

// Direction of a transfer relative to the user's wallet
type Direction string

const (
	DirectionIn  Direction = "IN"
	DirectionOut Direction = "OUT"
)

// User owns one wallet and its settings
type User struct {
	ID        uuid.UUID
	Email     string
	CreatedAt time.Time
}

// UserSettings holds per-user API keys, possibly sealed
type UserSettings struct {
	UserID          uuid.UUID
	EtherscanAPIKey string
	MoralisAPIKey   string
	UpdatedAt       time.Time
}

// Wallet is the single address linked to a user
type Wallet struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	Address   string
	CreatedAt time.Time
}

// Token is an asset tracked for a user, keyed by (user, kind, contract)
type Token struct {
	ID              uuid.UUID
	UserID          uuid.UUID
	Kind            TokenKind
	ContractAddress string
	Symbol          string
	Name            string
	Decimals        int32
	CreatedAt       time.Time
}

// Transfer is one token movement, unique by (tx hash, token, log index)
type Transfer struct {
	ID          int64
	UserID      uuid.UUID
	WalletID    uuid.UUID
	TokenID     uuid.UUID
	TxHash      string
	LogIndex    int64
	BlockTime   time.Time
	Direction   Direction
	Amount      decimal.Decimal
	PriceUSD    decimal.NullDecimal
	PriceRUB    decimal.NullDecimal
	ValueUSD    decimal.NullDecimal
	ValueRUB    decimal.NullDecimal
	PriceManual bool
	Source      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TransferWithToken is a transfer joined with its token
type TransferWithToken struct {
	Transfer
	Token Token
}

// TransferPrices are the mutable price fields of a transfer
type TransferPrices struct {
	PriceUSD decimal.NullDecimal
	PriceRUB decimal.NullDecimal
	ValueUSD decimal.NullDecimal
	ValueRUB decimal.NullDecimal
}

// PriceSnapshot caches a token price for one time bucket
type PriceSnapshot struct {
	TokenID   uuid.UUID
	BucketTs  int64
	PriceUSD  decimal.Decimal
	PriceRUB  decimal.NullDecimal
	CreatedAt time.Time
}

// DirectionTotal is the summed amount for one token and direction
type DirectionTotal struct {
	TokenID   uuid.UUID
	Direction Direction
	Amount    decimal.Decimal
}

// TransferCursor positions a page in (block_time desc, id desc) order
type TransferCursor struct {
	ID        int64
	BlockTime time.Time
}
