package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/matrixise/ethfolio/internal/ledger"
	"github.com/matrixise/ethfolio/internal/portfolio"
	"github.com/matrixise/ethfolio/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{OK: false, Error: msg})
}

// statusFor maps a service error to an HTTP status
func statusFor(err error) int {
	switch {
	case ledger.IsConfigError(err),
		errors.Is(err, portfolio.ErrNoPrice),
		errors.Is(err, portfolio.ErrNoUSDPrice):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id.")
		return uuid.Nil, false
	}
	return id, true
}

// handleSync handles POST /api/users/{userID}/sync. The run is detached from
// the request so a disconnecting client does not abort it halfway.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	result, err := s.engine.SyncWallet(context.WithoutCancel(r.Context()), id)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			slog.Error("Sync failed", "user_id", id, "error", err)
		}
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, syncResponse{OK: true, SyncResult: result})
}

// handleBackfill handles POST /api/users/{userID}/backfill and answers
// before the run starts
func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if _, err := s.engine.BackfillMissingPrices(s.baseCtx, id); err != nil {
			slog.Error("Background backfill failed", "user_id", id, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, queuedResponse{OK: true, Queued: true})
}

// handleTransfers handles GET /api/users/{userID}/transfers?limit&cursor
func (s *Server) handleTransfers(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	page, err := s.portfolio.Transfers(r.Context(), id, q.Get("cursor"), q.Get("limit"))
	if err != nil {
		slog.Error("Failed to list transfers", "user_id", id, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}

	resp := transfersResponse{OK: true, Transfers: make([]transferView, 0, len(page.Transfers))}
	for _, t := range page.Transfers {
		resp.Transfers = append(resp.Transfers, newTransferView(t))
	}
	if page.NextCursor != "" {
		resp.NextCursor = &page.NextCursor
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHoldings handles GET /api/users/{userID}/holdings
func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	holdings, err := s.portfolio.Holdings(r.Context(), id)
	if err != nil {
		slog.Error("Failed to compute holdings", "user_id", id, "error", err)
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newHoldingsResponse(holdings))
}

// handleOverride handles POST /api/users/{userID}/transfers/{transferID}/override
func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	transferID, err := strconv.ParseInt(chi.URLParam(r, "transferID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid transfer id.")
		return
	}

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	p, err := s.portfolio.Override(r.Context(), id, transferID, string(req.PriceUSD), string(req.PriceRUB))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Transfer not found.")
		return
	case err != nil:
		if statusFor(err) == http.StatusInternalServerError {
			slog.Error("Price override failed", "user_id", id, "transfer_id", transferID, "error", err)
		}
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, overrideResponse{
		OK:          true,
		PriceUSD:    p.PriceUSD,
		PriceRUB:    p.PriceRUB,
		ValueUSD:    p.ValueUSD,
		ValueRUB:    p.ValueRUB,
		PriceManual: true,
	})
}

// handlePrunePrices handles POST /api/maintenance/prune-prices
func (s *Server) handlePrunePrices(w http.ResponseWriter, r *http.Request) {
	cutoff := s.now().Add(-snapshotRetention).Unix()
	deleted, err := s.pruner.PruneSnapshots(r.Context(), cutoff)
	if err != nil {
		slog.Error("Snapshot pruning failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	slog.Info("Price snapshots pruned", "deleted", deleted, "cutoff", cutoff)
	writeJSON(w, http.StatusOK, pruneResponse{OK: true, Deleted: deleted})
}

// handleMetrics handles GET /api/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, metricsResponse{OK: true, Snapshot: s.registry.Snapshot()})
}
