package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
)

// Pinger reports database reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// Endpoints exposes the RPC failover state
type Endpoints interface {
	GetHealthyEndpoint() (*ethclient.Client, string, error)
	GetEndpointsHealth() map[string]bool
}

// Checker performs health checks on application dependencies
type Checker struct {
	db             Pinger
	rpc            Endpoints
	lastRunTime    time.Time
	lastRunSuccess bool
	interval       time.Duration
	mu             sync.RWMutex
	now            func() time.Time
}

// NewChecker creates a new health checker. rpc may be nil when no RPC
// endpoint is configured; interval is zero outside daemon mode.
func NewChecker(db Pinger, rpc Endpoints, interval time.Duration) *Checker {
	return &Checker{
		db:       db,
		rpc:      rpc,
		interval: interval,
		now:      time.Now,
	}
}

// UpdateLastRun updates the timestamp and status of the last scheduled run
func (c *Checker) UpdateLastRun(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRunTime = c.now()
	c.lastRunSuccess = success
}

// CheckStatus represents the health status of a component
type CheckStatus string

const (
	StatusOK       CheckStatus = "ok"
	StatusDegraded CheckStatus = "degraded"
	StatusError    CheckStatus = "error"
)

// HealthResponse is the JSON response structure
type HealthResponse struct {
	OK        bool                   `json:"ok"`
	Status    CheckStatus            `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckDetail `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
}

// CheckDetail contains details about a specific health check
type CheckDetail struct {
	Status  CheckStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

var startTime = time.Now()

// worse returns the more severe of two statuses
func worse(a, b CheckStatus) CheckStatus {
	rank := map[CheckStatus]int{StatusOK: 0, StatusDegraded: 1, StatusError: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}

func degradeOnly(s CheckStatus) CheckStatus {
	if s == StatusError {
		return StatusDegraded
	}
	return s
}

// Check runs the health checks and aggregates them. The database is only
// pinged when withDB is set.
func (c *Checker) Check(ctx context.Context, withDB bool) HealthResponse {
	checks := make(map[string]CheckDetail)
	overall := StatusOK

	if withDB {
		dbCheck := c.checkDatabase(ctx)
		checks["database"] = dbCheck
		overall = worse(overall, dbCheck.Status)
	}

	if c.rpc != nil {
		rpcCheck := c.checkRPC(ctx)
		checks["rpc_endpoints"] = rpcCheck
		// RPC only backs optional token metadata
		overall = worse(overall, degradeOnly(rpcCheck.Status))
	}

	if c.interval > 0 {
		daemonCheck := c.checkDaemon()
		checks["daemon"] = daemonCheck
		overall = worse(overall, daemonCheck.Status)
	}

	return HealthResponse{
		OK:        overall != StatusError,
		Status:    overall,
		Timestamp: c.now(),
		Checks:    checks,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	}
}

// checkDatabase verifies PostgreSQL connectivity
func (c *Checker) checkDatabase(ctx context.Context) CheckDetail {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		slog.Error("Health check: database ping failed", "error", err)
		return CheckDetail{
			Status:  StatusError,
			Message: "database unreachable: " + err.Error(),
		}
	}

	return CheckDetail{
		Status:  StatusOK,
		Message: "database connection healthy",
	}
}

// checkRPC verifies that at least one RPC endpoint is available
func (c *Checker) checkRPC(ctx context.Context) CheckDetail {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	client, url, err := c.rpc.GetHealthyEndpoint()
	if err != nil {
		slog.Error("Health check: no healthy RPC endpoints", "error", err)
		return CheckDetail{
			Status:  StatusError,
			Message: "no healthy RPC endpoints available",
		}
	}

	if _, err := client.ChainID(ctx); err != nil {
		slog.Error("Health check: RPC endpoint failed", "url", url, "error", err)
		return CheckDetail{
			Status:  StatusError,
			Message: "RPC endpoint not responding: " + err.Error(),
		}
	}

	healthStatus := c.rpc.GetEndpointsHealth()
	healthyCount := 0
	for _, healthy := range healthStatus {
		if healthy {
			healthyCount++
		}
	}

	if healthyCount == len(healthStatus) {
		return CheckDetail{
			Status:  StatusOK,
			Message: "all RPC endpoints healthy",
		}
	}

	return CheckDetail{
		Status:  StatusDegraded,
		Message: fmt.Sprintf("%d/%d RPC endpoints healthy", healthyCount, len(healthStatus)),
	}
}

// checkDaemon verifies the scheduled sync is running at expected intervals
func (c *Checker) checkDaemon() CheckDetail {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.lastRunTime.IsZero() {
		return CheckDetail{
			Status:  StatusOK,
			Message: "daemon not yet executed (startup)",
		}
	}

	if !c.lastRunSuccess {
		return CheckDetail{
			Status:  StatusDegraded,
			Message: "last execution failed",
		}
	}

	// allow a 2x interval grace period
	sinceLastRun := c.now().Sub(c.lastRunTime)
	if sinceLastRun > c.interval*2 {
		return CheckDetail{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("no execution in %s (expected every %s)", sinceLastRun.Round(time.Second), c.interval),
		}
	}

	return CheckDetail{
		Status:  StatusOK,
		Message: fmt.Sprintf("last executed %s ago", sinceLastRun.Round(time.Second)),
	}
}

// Handler serves the health endpoint. "?db=1" adds a database ping.
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		status := c.Check(r.Context(), r.URL.Query().Get("db") == "1")

		statusCode := http.StatusOK
		if status.Status == StatusError {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		if err := json.NewEncoder(w).Encode(status); err != nil {
			slog.Error("Failed to encode health response", "error", err)
		}
	}
}
