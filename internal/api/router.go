package api

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/therafiali/internal-app-sub002/internal/claim"
	"github.com/therafiali/internal-app-sub002/internal/security"
	"github.com/therafiali/internal-app-sub002/internal/settlement"
	"github.com/therafiali/internal-app-sub002/internal/store"
)

type Dependencies struct {
	Logger *slog.Logger

	Claims     *claim.Coordinator
	Settlement *settlement.Engine
	Store      store.Store

	ClaimThrottle *security.Throttle
	IPAllowlist   []*net.IPNet
	MaxBodyBytes  int64
}

func NewRouter(deps Dependencies) (http.Handler, error) {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}

	createRequestV, err := security.NewJSONSchemaValidator("create_request", createRequestSchema)
	if err != nil {
		return nil, err
	}
	claimV, err := security.NewJSONSchemaValidator("claim", claimSchema)
	if err != nil {
		return nil, err
	}
	paymentV, err := security.NewJSONSchemaValidator("payment", paymentSchema)
	if err != nil {
		return nil, err
	}
	resolveV, err := security.NewJSONSchemaValidator("resolve_dispute", resolveSchema)
	if err != nil {
		return nil, err
	}
	createAccountV, err := security.NewJSONSchemaValidator("create_account", createAccountSchema)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(security.CorrelationID)
	r.Use(RequestLogger(deps.Logger))
	r.Use(security.BodySizeLimit(deps.MaxBodyBytes))
	r.Use(security.IPAllowlist(deps.IPAllowlist))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/requests/{kind}", func(r chi.Router) {
			r.Get("/", handleListRequests(deps))
			r.With(createRequestV.Middleware).Post("/", handleCreateRequest(deps))

			r.Route("/{request_id}", func(r chi.Router) {
				r.Get("/", handleGetRequest(deps))
				r.With(claimV.Middleware).Post("/claim", handleClaim(deps))
				r.Post("/release", handleRelease(deps))
			})
		})

		r.Get("/claims", handleReconcileClaims(deps))

		r.Route("/recharges/{request_id}", func(r chi.Router) {
			r.Post("/submit", handleSubmitForSettlement(deps))
			r.Post("/reject", handleRejectRecharge(deps))
			r.Post("/dispute", handleDispute(deps))
			r.With(resolveV.Middleware).Post("/resolve", handleResolveDispute(deps))
			r.Post("/verify", handleVerify(deps))
			r.Post("/fail", handleMarkFailed(deps))
		})

		r.Route("/redeems/{request_id}", func(r chi.Router) {
			r.Post("/verify", handleBeginVerification(deps))
			r.Post("/verification-failed", handleFailVerification(deps))
			r.Post("/queue", handleQueue(deps))
			r.With(paymentV.Middleware).Post("/payments", handleProcessPayment(deps))
			r.Post("/pause", handlePause(deps))
			r.Post("/resume", handleResume(deps))
			r.Post("/reject", handleRejectRedeem(deps))
		})

		r.Route("/accounts", func(r chi.Router) {
			r.Get("/", handleListAccounts(deps))
			r.With(createAccountV.Middleware).Post("/", handleCreateAccount(deps))

			r.Route("/{account_id}", func(r chi.Router) {
				r.Get("/", handleGetAccount(deps))
				r.Get("/activity", handleAccountActivity(deps))
				r.Post("/status", handleSetAccountStatus(deps))
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusNotFound, "not_found")
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		security.WriteJSONError(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})

	return r, nil
}
