package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"seedmarket/seeds"
)

// RecordSeedsAccrual ingests an accrual reported by the marketplace for the
// order-driven categories (purchases, sales, milestones). The in-process
// transitions accrue referral and recruitment Seeds on their own.
func (s *Server) RecordSeedsAccrual(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Identity  string `json:"identity"`
		Category  string `json:"category"`
		RawAmount int64  `json:"raw_amount"`
		RefKind   string `json:"ref_kind"`
		RefID     string `json:"ref_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Identity == "" {
		http.Error(w, "identity required", http.StatusBadRequest)
		return
	}

	event, err := s.seeds.Record(r.Context(), seeds.Accrual{
		Identity:  req.Identity,
		Category:  seeds.Category(req.Category),
		RawAmount: req.RawAmount,
		RefKind:   req.RefKind,
		RefID:     req.RefID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, seedsEventViewOf(event))
}

func (s *Server) GetSeedsBalance(w http.ResponseWriter, r *http.Request) {
	caller, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	balance, err := s.seeds.BalanceOf(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if balance.Identity == "" {
		balance.Identity = caller.UserID
	}
	writeJSON(w, http.StatusOK, balanceViewOf(balance))
}

func (s *Server) ListSeedsEvents(w http.ResponseWriter, r *http.Request) {
	caller, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	events, err := s.seeds.EventsOf(r.Context(), caller.UserID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]seedsEventView, 0, len(events))
	for _, event := range events {
		views = append(views, seedsEventViewOf(event))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) GetSeedsStats(w http.ResponseWriter, r *http.Request) {
	earners, err := s.seeds.UniqueEarners(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unique_earners": earners})
}

func (s *Server) GetStrikes(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	if identity == "" {
		http.Error(w, "invalid identity", http.StatusBadRequest)
		return
	}

	rec, err := s.strikes.Get(r.Context(), identity)
	if err != nil {
		writeError(w, err)
		return
	}
	if rec.Identity == "" {
		rec.Identity = identity
	}
	writeJSON(w, http.StatusOK, strikesViewOf(rec))
}
