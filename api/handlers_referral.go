package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"seedmarket/ambassador"
	"seedmarket/auth"
)

func (s *Server) RegisterAmbassador(w http.ResponseWriter, r *http.Request) {
	caller, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req struct {
		UplineID *string `json:"upline_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	rec, err := s.ambassadors.Register(r.Context(), ambassador.RegisterParams{
		OwnerIdentity: caller.UserID,
		UplineID:      req.UplineID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ambassadorViewOf(rec))
}

func (s *Server) GetMyAmbassador(w http.ResponseWriter, r *http.Request) {
	caller, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	rec, err := s.ambassadors.GetByOwner(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ambassadorViewOf(rec))
}

func (s *Server) RecruitSeller(w http.ResponseWriter, r *http.Request) {
	caller, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req struct {
		SellerID string `json:"seller_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.SellerID == "" {
		http.Error(w, "seller_id is required", http.StatusBadRequest)
		return
	}

	rec, err := s.ambassadors.GetByOwner(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	recruitment, err := s.ambassadors.RecruitSeller(r.Context(), rec.ID, req.SellerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"seller_id":     recruitment.SellerID,
		"ambassador_id": recruitment.AmbassadorID,
		"created_at":    recruitment.CreatedAt,
	})
}

// DistributeReward queues the referral reward for a completed order.
// Idempotent at the persistence layer: a second call conflicts.
func (s *Server) DistributeReward(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		http.Error(w, "invalid order id", http.StatusBadRequest)
		return
	}

	pending, allocs, err := s.rewards.Distribute(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rewardViewOf(pending, allocs))
}

func (s *Server) GetReward(w http.ResponseWriter, r *http.Request) {
	rewardID := chi.URLParam(r, "id")

	pending, err := s.rewards.Get(r.Context(), rewardID)
	if err != nil {
		writeError(w, err)
		return
	}
	allocs, err := s.rewards.Allocations(r.Context(), rewardID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rewardViewOf(pending, allocs))
}

// ClaimReward releases a vested reward. The caller must be one of the
// ambassadors allocated a share, or an admin.
func (s *Server) ClaimReward(w http.ResponseWriter, r *http.Request) {
	caller, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	rewardID := chi.URLParam(r, "id")

	if caller.Role != auth.RoleAdmin {
		allocs, err := s.rewards.Allocations(r.Context(), rewardID)
		if err != nil {
			writeError(w, err)
			return
		}
		rec, err := s.ambassadors.GetByOwner(r.Context(), caller.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		allocated := false
		for _, a := range allocs {
			if a.AmbassadorID == rec.ID {
				allocated = true
				break
			}
		}
		if !allocated {
			http.Error(w, "reward not allocated to caller", http.StatusForbidden)
			return
		}
	}

	pending, err := s.rewards.Claim(r.Context(), rewardID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rewardViewOf(pending, nil))
}

func (s *Server) ListMyRewards(w http.ResponseWriter, r *http.Request) {
	caller, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	rec, err := s.ambassadors.GetByOwner(r.Context(), caller.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	rewards, err := s.rewards.ListForAmbassador(r.Context(), rec.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]rewardView, 0, len(rewards))
	for _, pending := range rewards {
		views = append(views, rewardViewOf(pending, nil))
	}
	writeJSON(w, http.StatusOK, views)
}
