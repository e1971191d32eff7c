package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"seedmarket/ambassador"
	"seedmarket/auth"
	"seedmarket/dispute"
	"seedmarket/order"
	"seedmarket/reward"
	"seedmarket/seeds"
	"seedmarket/strikes"
)

// AuthService is the identity surface the HTTP layer depends on.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
	GrantVoterSeat(ctx context.Context, actorRole auth.Role, userID string) error
}

type DisputeService interface {
	Open(ctx context.Context, params dispute.OpenParams) (dispute.Record, error)
	SubmitResponse(ctx context.Context, params dispute.RespondParams) (dispute.Record, error)
	CastVote(ctx context.Context, params dispute.VoteParams) (dispute.Vote, error)
	ResolveByQuorum(ctx context.Context, disputeID int64) (dispute.Record, error)
	AdminResolve(ctx context.Context, params dispute.AdminResolveParams) (dispute.Record, error)
	Get(ctx context.Context, id int64) (dispute.Record, error)
	ListForParty(ctx context.Context, identity string) ([]dispute.Record, error)
	Votes(ctx context.Context, disputeID int64) ([]dispute.Vote, error)
}

type AmbassadorService interface {
	Register(ctx context.Context, params ambassador.RegisterParams) (ambassador.Record, error)
	RecruitSeller(ctx context.Context, ambassadorID, sellerID string) (ambassador.Recruitment, error)
	Get(ctx context.Context, id string) (ambassador.Record, error)
	GetByOwner(ctx context.Context, ownerIdentity string) (ambassador.Record, error)
}

type RewardService interface {
	Distribute(ctx context.Context, orderID string) (reward.PendingReward, []reward.Allocation, error)
	Claim(ctx context.Context, rewardID string) (reward.PendingReward, error)
	Get(ctx context.Context, id string) (reward.PendingReward, error)
	Allocations(ctx context.Context, rewardID string) ([]reward.Allocation, error)
	ListForAmbassador(ctx context.Context, ambassadorID string) ([]reward.PendingReward, error)
}

type SeedsService interface {
	Record(ctx context.Context, acc seeds.Accrual) (seeds.Event, error)
	BalanceOf(ctx context.Context, identity string) (seeds.Balance, error)
	EventsOf(ctx context.Context, identity string, limit int) ([]seeds.Event, error)
	UniqueEarners(ctx context.Context) (int64, error)
}

type OrderStore interface {
	RecordCompleted(ctx context.Context, rec order.Record) (order.Record, error)
	Get(ctx context.Context, id string) (order.Record, error)
}

type StrikeStore interface {
	Get(ctx context.Context, identity string) (strikes.Record, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Auth        AuthService
	Disputes    DisputeService
	Ambassadors AmbassadorService
	Rewards     RewardService
	Seeds       SeedsService
	Orders      OrderStore
	Strikes     StrikeStore
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	auth        AuthService
	disputes    DisputeService
	ambassadors AmbassadorService
	rewards     RewardService
	seeds       SeedsService
	orders      OrderStore
	strikes     StrikeStore

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) *Server {
	srv := &Server{
		auth:        cfg.Auth,
		disputes:    cfg.Disputes,
		ambassadors: cfg.Ambassadors,
		rewards:     cfg.Rewards,
		seeds:       cfg.Seeds,
		orders:      cfg.Orders,
		strikes:     cfg.Strikes,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/auth/register", s.RegisterUser)
		api.Post("/auth/login", s.Login)

		api.Group(func(protected chi.Router) {
			protected.Use(s.Authenticate)

			protected.Post("/disputes", s.OpenDispute)
			protected.Get("/disputes/{id}", s.GetDispute)
			protected.Get("/disputes/{id}/votes", s.ListVotes)
			protected.Post("/disputes/{id}/response", s.SubmitResponse)
			protected.Post("/disputes/{id}/votes", s.CastVote)
			protected.Post("/disputes/{id}/resolve", s.ResolveDispute)
			protected.With(requireRole(auth.RoleAdmin)).Post("/disputes/{id}/admin-resolve", s.AdminResolveDispute)
			protected.Get("/disputes", s.ListMyDisputes)

			protected.Post("/ambassadors", s.RegisterAmbassador)
			protected.Get("/ambassadors/me", s.GetMyAmbassador)
			protected.Post("/ambassadors/recruits", s.RecruitSeller)
			protected.Get("/ambassadors/me/rewards", s.ListMyRewards)
			protected.Post("/rewards/{id}/claim", s.ClaimReward)
			protected.Get("/rewards/{id}", s.GetReward)

			protected.Get("/seeds/balance", s.GetSeedsBalance)
			protected.Get("/seeds/events", s.ListSeedsEvents)
			protected.Get("/seeds/stats", s.GetSeedsStats)

			protected.Get("/strikes/{identity}", s.GetStrikes)

			protected.With(requireRole(auth.RoleAdmin)).Post("/seeds/accruals", s.RecordSeedsAccrual)

			protected.With(requireRole(auth.RoleAdmin)).Post("/orders", s.RecordOrder)
			protected.With(requireRole(auth.RoleAdmin)).Post("/orders/{id}/rewards", s.DistributeReward)
			protected.With(requireRole(auth.RoleAdmin)).Post("/voters/{id}", s.GrantVoterSeat)
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain sentinel errors onto HTTP status codes. Unknown
// errors become 500 without leaking internals.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, ambassador.ErrNotFound),
		errors.Is(err, reward.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		status = http.StatusNotFound
	case errors.Is(err, dispute.ErrDuplicateDispute),
		errors.Is(err, dispute.ErrAlreadyVoted),
		errors.Is(err, dispute.ErrAlreadyResponded),
		errors.Is(err, dispute.ErrAlreadyResolved),
		errors.Is(err, dispute.ErrVotingClosed),
		errors.Is(err, dispute.ErrVotingOpen),
		errors.Is(err, dispute.ErrQuorumNotReached),
		errors.Is(err, dispute.ErrNotContestable),
		errors.Is(err, ambassador.ErrAlreadyRegistered),
		errors.Is(err, ambassador.ErrAlreadyRecruited),
		errors.Is(err, reward.ErrDuplicateDistribution),
		errors.Is(err, reward.ErrAlreadyClaimed),
		errors.Is(err, reward.ErrNotVested),
		errors.Is(err, auth.ErrDuplicateEmail):
		status = http.StatusConflict
	case errors.Is(err, dispute.ErrNotOrderBuyer),
		errors.Is(err, dispute.ErrNotDisputeSeller),
		errors.Is(err, dispute.ErrNotQualified),
		errors.Is(err, dispute.ErrNotAdmin):
		status = http.StatusForbidden
	case errors.Is(err, auth.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, ambassador.ErrUplineNotFound),
		errors.Is(err, ambassador.ErrUplineInactive),
		errors.Is(err, reward.ErrNoChain),
		errors.Is(err, reward.ErrNothingToDistribute),
		errors.Is(err, seeds.ErrInvalidCategory),
		errors.Is(err, seeds.ErrNegativeAmount):
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
