package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"seedmarket/auth"
	"seedmarket/order"
)

func (s *Server) RegisterUser(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	user, err := s.auth.Register(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        user.ID,
		"email":     user.Email,
		"full_name": user.FullName,
		"role":      user.Role,
	})
}

func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	result, err := s.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": map[string]any{
			"id":        result.User.ID,
			"email":     result.User.Email,
			"full_name": result.User.FullName,
			"role":      result.User.Role,
			"suspended": result.User.Suspended,
		},
	})
}

func (s *Server) GrantVoterSeat(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	if err := s.auth.GrantVoterSeat(r.Context(), id.Role, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordOrder ingests a completed order reported by the marketplace.
// Replays of the same order id return the stored record unchanged.
func (s *Server) RecordOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID          string    `json:"id"`
		BuyerID     string    `json:"buyer_id"`
		SellerID    string    `json:"seller_id"`
		Amount      int64     `json:"amount"`
		Contestable bool      `json:"contestable"`
		CompletedAt time.Time `json:"completed_at"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.ID == "" || req.Amount <= 0 {
		http.Error(w, "order id and positive amount required", http.StatusBadRequest)
		return
	}

	rec, err := s.orders.RecordCompleted(r.Context(), order.Record{
		ID:          req.ID,
		BuyerID:     req.BuyerID,
		SellerID:    req.SellerID,
		Amount:      req.Amount,
		Contestable: req.Contestable,
		CompletedAt: req.CompletedAt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderView(rec))
}
