package portfolio

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/matrixise/ethfolio/internal/storage"
)

const (
	DefaultTransferLimit = 20
	MinTransferLimit     = 10
	MaxTransferLimit     = 100
)

// cursorPayload is the JSON inside a cursor; ts is the block time in ms
type cursorPayload struct {
	ID string   `json:"id"`
	Ts *float64 `json:"ts"`
}

// EncodeCursor returns an opaque cursor positioned after c
func EncodeCursor(c storage.TransferCursor) string {
	ts := float64(c.BlockTime.UnixMilli())
	raw, _ := json.Marshal(cursorPayload{ID: strconv.FormatInt(c.ID, 10), Ts: &ts})
	return base64.StdEncoding.EncodeToString(raw)
}

// DecodeCursor parses a cursor produced by EncodeCursor. Empty or
// malformed input yields nil, which means the first page.
func DecodeCursor(raw string) *storage.TransferCursor {
	if raw == "" {
		return nil
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	var p cursorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	if p.ID == "" || p.Ts == nil {
		return nil
	}
	id, err := strconv.ParseInt(p.ID, 10, 64)
	if err != nil {
		return nil
	}
	return &storage.TransferCursor{
		ID:        id,
		BlockTime: time.UnixMilli(int64(*p.Ts)).UTC(),
	}
}

// TransferLimit clamps a requested page size to [MinTransferLimit,
// MaxTransferLimit]; missing or non-numeric input gets the default.
func TransferLimit(raw string) int {
	if raw == "" {
		return DefaultTransferLimit
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(n) {
		return DefaultTransferLimit
	}
	return int(min(MaxTransferLimit, max(MinTransferLimit, n)))
}
