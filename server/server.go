// Package server exposes the token ledger over HTTP: wallet reports and
// credits, ad purchases, campaign job transitions, and the withdrawal
// lifecycle.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"

	"github.com/pasarloka/tokenledger/ads"
	"github.com/pasarloka/tokenledger/auth"
	"github.com/pasarloka/tokenledger/campaign"
	"github.com/pasarloka/tokenledger/ledger"
	"github.com/pasarloka/tokenledger/middleware"
	"github.com/pasarloka/tokenledger/withdrawal"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	DB          *gorm.DB
	Ledger      *ledger.Ledger
	Ads         *ads.Service
	Campaigns   *campaign.Service
	Withdrawals *withdrawal.Service
	Auth        *auth.Middleware
	RateLimits  map[string]middleware.RateLimit
	Logger      *slog.Logger
	Now         func() time.Time
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	db          *gorm.DB
	ledger      *ledger.Ledger
	ads         *ads.Service
	campaigns   *campaign.Service
	withdrawals *withdrawal.Service
	auth        *auth.Middleware
	logger      *slog.Logger
	now         func() time.Time

	router http.Handler
}

// New constructs a configured HTTP router with authentication, rate
// limiting, and idempotency support.
func New(cfg Config) *Server {
	srv := &Server{
		db:          cfg.DB,
		ledger:      cfg.Ledger,
		ads:         cfg.Ads,
		campaigns:   cfg.Campaigns,
		withdrawals: cfg.Withdrawals,
		auth:        cfg.Auth,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	if srv.auth == nil {
		srv.auth = auth.New(auth.Config{})
	}
	if srv.logger == nil {
		srv.logger = slog.Default()
	}
	if srv.now == nil {
		srv.now = func() time.Time { return time.Now().UTC() }
	}
	srv.router = srv.buildRouter(cfg.RateLimits)
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter(limits map[string]middleware.RateLimit) http.Handler {
	limiter := middleware.NewRateLimiter(limits, s.logger)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(func(next http.Handler) http.Handler { return middleware.WithIdempotency(s.db, next) })
		api.Use(s.auth.Authenticate)

		api.Group(func(shop chi.Router) {
			shop.Use(auth.RequireRole(auth.RoleShop, auth.RoleAdmin))
			shop.Get("/wallet", s.WalletReport)
			shop.Get("/wallet/quote", s.WalletQuote)
			shop.With(limiter.Middleware("ads")).Post("/ads", s.PurchaseAd)
			shop.Get("/ads/quote", s.QuoteAd)
			shop.With(limiter.Middleware("campaigns")).Post("/campaigns", s.CreateCampaign)
			shop.Post("/campaigns/{id}/jobs", s.CreateJob)
		})

		api.With(auth.RequireRole(auth.RoleShop, auth.RoleAdmin, auth.RoleAuditor)).Get("/campaigns/{id}", s.GetCampaign)
		api.With(auth.RequireRole(auth.RoleShop, auth.RoleCreator, auth.RoleAdmin, auth.RoleAuditor)).Get("/jobs/{id}", s.GetJob)

		api.Group(func(creator chi.Router) {
			creator.Use(auth.RequireRole(auth.RoleCreator))
			creator.Post("/jobs/{id}/accept", s.AcceptJob)
			creator.Post("/jobs/{id}/start", s.StartJob)
			creator.Post("/jobs/{id}/submit", s.SubmitJob)
			creator.Get("/creator/balance", s.CreatorBalance)
			creator.With(limiter.Middleware("withdrawals")).Post("/withdrawals", s.RequestWithdrawal)
			creator.Get("/withdrawals/{id}", s.GetWithdrawal)
		})

		api.Group(func(reviewer chi.Router) {
			reviewer.Use(auth.RequireRole(auth.RoleShop, auth.RoleAdmin))
			reviewer.Post("/jobs/{id}/approve", s.ApproveJob)
			reviewer.Post("/jobs/{id}/reject", s.RejectJob)
		})
		api.With(auth.RequireRole(auth.RoleShop, auth.RoleCreator, auth.RoleAdmin)).Post("/jobs/{id}/cancel", s.CancelJob)
	})

	r.Route("/ops", func(ops chi.Router) {
		ops.Use(s.auth.Authenticate)
		ops.Use(auth.RequireRole(auth.RoleAdmin))
		ops.Post("/wallets/{shopID}/credit", s.CreditWallet)
		ops.Post("/wallets/{shopID}/refund", s.RefundWallet)
		ops.Post("/wallets/{shopID}/unfreeze", s.UnfreezeWallet)
		ops.Post("/sweep", s.RunSweep)
		ops.Post("/withdrawals/{id}/process", s.ProcessWithdrawal)
		ops.Post("/withdrawals/{id}/complete", s.CompleteWithdrawal)
		ops.Post("/withdrawals/{id}/reject", s.RejectWithdrawal)
	})

	return r
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP statuses. Everything in the
// taxonomy is caller-visible and synchronous; only unrecognised errors
// become 500s.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ledger.ErrWalletNotFound),
		errors.Is(err, campaign.ErrCampaignNotFound),
		errors.Is(err, campaign.ErrJobNotFound),
		errors.Is(err, withdrawal.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrInsufficientBalance),
		errors.Is(err, withdrawal.ErrExceedsAvailable):
		status = http.StatusPaymentRequired
	case errors.Is(err, campaign.ErrInvalidTransition),
		errors.Is(err, withdrawal.ErrInvalidTransition),
		errors.Is(err, campaign.ErrBudgetExceeded),
		errors.Is(err, ledger.ErrWalletFrozen):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, campaign.ErrInvalidAmount),
		errors.Is(err, campaign.ErrMissingLinks),
		errors.Is(err, campaign.ErrMissingReason),
		errors.Is(err, withdrawal.ErrBelowMinimum),
		errors.Is(err, withdrawal.ErrMissingReason),
		errors.Is(err, withdrawal.ErrMissingBankDetails),
		errors.Is(err, withdrawal.ErrInvalidFee),
		errors.Is(err, ads.ErrUnknownScope),
		errors.Is(err, ads.ErrInvalidDuration):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
		s.writeJSON(w, status, errorResponse{Error: "internal error"})
		return
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}
