package portfolio

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixise/ethfolio/internal/storage"
)

func TestCursorRoundTrip(t *testing.T) {
	in := storage.TransferCursor{ID: 4821, BlockTime: time.Date(2024, 1, 2, 3, 4, 5, 678_000_000, time.UTC)}

	out := DecodeCursor(EncodeCursor(in))
	require.NotNil(t, out)
	assert.Equal(t, in.ID, out.ID)
	assert.True(t, in.BlockTime.Equal(out.BlockTime))
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	b64 := func(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "not base64", raw: "%%%"},
		{name: "not json", raw: b64("hello")},
		{name: "missing id", raw: b64(`{"ts":1700000000000}`)},
		{name: "empty id", raw: b64(`{"id":"","ts":1700000000000}`)},
		{name: "missing ts", raw: b64(`{"id":"12"}`)},
		{name: "string ts", raw: b64(`{"id":"12","ts":"1700000000000"}`)},
		{name: "non numeric id", raw: b64(`{"id":"abc","ts":1700000000000}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, DecodeCursor(tt.raw))
		})
	}
}

func TestDecodeCursorFields(t *testing.T) {
	raw := base64.StdEncoding.EncodeToString([]byte(`{"id":"12","ts":1700000000000}`))

	c := DecodeCursor(raw)
	require.NotNil(t, c)
	assert.Equal(t, int64(12), c.ID)
	assert.Equal(t, time.Unix(1_700_000_000, 0).UTC(), c.BlockTime)
}

func TestTransferLimit(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{raw: "", want: 20},
		{raw: "50", want: 50},
		{raw: "5", want: 10},
		{raw: "0", want: 10},
		{raw: "-3", want: 10},
		{raw: "1000", want: 100},
		{raw: "100", want: 100},
		{raw: "10", want: 10},
		{raw: "abc", want: 20},
		{raw: "NaN", want: 20},
		{raw: "25.9", want: 25},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			assert.Equal(t, tt.want, TransferLimit(tt.raw))
		})
	}
}
