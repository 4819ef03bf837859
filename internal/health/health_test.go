package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestCheck(t *testing.T) {
	tests := []struct {
		name       string
		db         Pinger
		withDB     bool
		wantStatus CheckStatus
		wantChecks []string
	}{
		{name: "liveness only", db: fakePinger{}, wantStatus: StatusOK},
		{name: "database healthy", db: fakePinger{}, withDB: true, wantStatus: StatusOK, wantChecks: []string{"database"}},
		{name: "database down", db: fakePinger{err: errors.New("refused")}, withDB: true, wantStatus: StatusError, wantChecks: []string{"database"}},
		{name: "database not pinged without flag", db: fakePinger{err: errors.New("refused")}, wantStatus: StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(tt.db, nil, 0)
			res := c.Check(t.Context(), tt.withDB)

			assert.Equal(t, tt.wantStatus, res.Status)
			assert.Equal(t, tt.wantStatus != StatusError, res.OK)
			assert.Len(t, res.Checks, len(tt.wantChecks))
			for _, name := range tt.wantChecks {
				assert.Contains(t, res.Checks, name)
			}
		})
	}
}

func TestCheckDaemon(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		lastRun    time.Time
		success    bool
		wantStatus CheckStatus
	}{
		{name: "not yet executed", wantStatus: StatusOK},
		{name: "recent success", lastRun: now.Add(-5 * time.Minute), success: true, wantStatus: StatusOK},
		{name: "last run failed", lastRun: now.Add(-time.Minute), success: false, wantStatus: StatusDegraded},
		{name: "overdue", lastRun: now.Add(-25 * time.Minute), success: true, wantStatus: StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker(fakePinger{}, nil, 10*time.Minute)
			if !tt.lastRun.IsZero() {
				c.now = func() time.Time { return tt.lastRun }
				c.UpdateLastRun(tt.success)
			}
			c.now = func() time.Time { return now }

			res := c.Check(t.Context(), false)
			assert.Equal(t, tt.wantStatus, res.Checks["daemon"].Status)
			assert.Equal(t, tt.wantStatus, res.Status)
		})
	}
}

func TestHandler(t *testing.T) {
	t.Run("ok without db", func(t *testing.T) {
		c := NewChecker(fakePinger{err: errors.New("down")}, nil, 0)
		rec := httptest.NewRecorder()
		c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.True(t, body.OK)
	})

	t.Run("db failure is unavailable", func(t *testing.T) {
		c := NewChecker(fakePinger{err: errors.New("down")}, nil, 0)
		rec := httptest.NewRecorder()
		c.Handler()(rec, httptest.NewRequest(http.MethodGet, "/health?db=1", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.OK)
		assert.Equal(t, StatusError, body.Checks["database"].Status)
	})

	t.Run("method not allowed", func(t *testing.T) {
		c := NewChecker(fakePinger{}, nil, 0)
		rec := httptest.NewRecorder()
		c.Handler()(rec, httptest.NewRequest(http.MethodPost, "/health", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestWorse(t *testing.T) {
	assert.Equal(t, StatusError, worse(StatusOK, StatusError))
	assert.Equal(t, StatusError, worse(StatusError, StatusDegraded))
	assert.Equal(t, StatusDegraded, worse(StatusOK, StatusDegraded))
	assert.Equal(t, StatusDegraded, degradeOnly(StatusError))
	assert.Equal(t, StatusOK, degradeOnly(StatusOK))
}
