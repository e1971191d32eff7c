package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"seedmarket/dispute"
)

func disputeID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func (s *Server) OpenDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	var req struct {
		OrderID     string `json:"order_id"`
		Reason      string `json:"reason"`
		EvidenceRef string `json:"evidence_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.OrderID == "" || req.Reason == "" {
		http.Error(w, "order_id and reason are required", http.StatusBadRequest)
		return
	}

	rec, err := s.disputes.Open(r.Context(), dispute.OpenParams{
		OrderID:     req.OrderID,
		BuyerID:     id.UserID,
		Reason:      req.Reason,
		EvidenceRef: req.EvidenceRef,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, disputeViewOf(rec))
}

func (s *Server) GetDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeID(r)
	if !ok {
		http.Error(w, "invalid dispute id", http.StatusBadRequest)
		return
	}

	rec, err := s.disputes.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, disputeViewOf(rec))
}

func (s *Server) ListMyDisputes(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}

	recs, err := s.disputes.ListForParty(r.Context(), id.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]disputeView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, disputeViewOf(rec))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) ListVotes(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeID(r)
	if !ok {
		http.Error(w, "invalid dispute id", http.StatusBadRequest)
		return
	}

	votes, err := s.disputes.Votes(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]voteView, 0, len(votes))
	for _, v := range votes {
		views = append(views, voteViewOf(v))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) SubmitResponse(w http.ResponseWriter, r *http.Request) {
	caller, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	id, ok := disputeID(r)
	if !ok {
		http.Error(w, "invalid dispute id", http.StatusBadRequest)
		return
	}

	var req struct {
		Response    string `json:"response"`
		EvidenceRef string `json:"evidence_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Response == "" {
		http.Error(w, "response is required", http.StatusBadRequest)
		return
	}

	rec, err := s.disputes.SubmitResponse(r.Context(), dispute.RespondParams{
		DisputeID:   id,
		SellerID:    caller.UserID,
		Response:    req.Response,
		EvidenceRef: req.EvidenceRef,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, disputeViewOf(rec))
}

func (s *Server) CastVote(w http.ResponseWriter, r *http.Request) {
	caller, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	id, ok := disputeID(r)
	if !ok {
		http.Error(w, "invalid dispute id", http.StatusBadRequest)
		return
	}

	var req struct {
		ForBuyer bool `json:"for_buyer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	vote, err := s.disputes.CastVote(r.Context(), dispute.VoteParams{
		DisputeID:     id,
		VoterID:       caller.UserID,
		VotedForBuyer: req.ForBuyer,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, voteViewOf(vote))
}

func (s *Server) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	id, ok := disputeID(r)
	if !ok {
		http.Error(w, "invalid dispute id", http.StatusBadRequest)
		return
	}

	rec, err := s.disputes.ResolveByQuorum(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, disputeViewOf(rec))
}

func (s *Server) AdminResolveDispute(w http.ResponseWriter, r *http.Request) {
	caller, ok := identityFrom(r.Context())
	if !ok {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	id, ok := disputeID(r)
	if !ok {
		http.Error(w, "invalid dispute id", http.StatusBadRequest)
		return
	}

	var req struct {
		BuyerWins bool   `json:"buyer_wins"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		http.Error(w, "reason is required", http.StatusBadRequest)
		return
	}

	rec, err := s.disputes.AdminResolve(r.Context(), dispute.AdminResolveParams{
		DisputeID: id,
		ActorID:   caller.UserID,
		ActorRole: string(caller.Role),
		BuyerWins: req.BuyerWins,
		Reason:    req.Reason,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, disputeViewOf(rec))
}
