package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/therafiali/internal-app-sub002/internal/domain"
	"github.com/therafiali/internal-app-sub002/internal/security"
	"github.com/therafiali/internal-app-sub002/internal/settlement"
)

type requestResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Request       *domain.Request `json:"request"`
}

type listRequestsResponse struct {
	CorrelationID string            `json:"correlation_id"`
	Requests      []*domain.Request `json:"requests"`
	Total         int               `json:"total"`
}

type createRequestBody struct {
	ExternalID  string `json:"external_id"`
	PlayerID    string `json:"player_id"`
	TeamCode    string `json:"team_code"`
	TotalAmount int64  `json:"total_amount"`
	AccountTag  string `json:"account_tag"`
	PromoCode   string `json:"promo_code"`
}

type claimBody struct {
	Actor  string `json:"actor"`
	Intent string `json:"intent"`
}

type releaseBody struct {
	Actor    string `json:"actor"`
	Override bool   `json:"override"`
}

type actionBody struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

type submitBody struct {
	Actor     string `json:"actor"`
	Reference string `json:"reference"`
	Notes     string `json:"notes"`
}

type resolveBody struct {
	Actor        string `json:"actor"`
	Outcome      string `json:"outcome"`
	ConfirmToken string `json:"confirm_token"`
	Reason       string `json:"reason"`
}

type paymentBody struct {
	Actor      string `json:"actor"`
	Amount     int64  `json:"amount"`
	CashTag    string `json:"cashtag"`
	Reference  string `json:"reference"`
	Notes      string `json:"notes"`
	Identifier string `json:"identifier"`
}

type settlementResponse struct {
	CorrelationID string                `json:"correlation_id"`
	Request       *domain.Request       `json:"request"`
	Account       *domain.Account       `json:"account,omitempty"`
	Entry         *domain.ActivityEntry `json:"entry,omitempty"`
}

type reconcileResponse struct {
	CorrelationID string            `json:"correlation_id"`
	Actor         string            `json:"actor"`
	Claims        []*domain.Request `json:"claims"`
}

type accountResponse struct {
	CorrelationID string          `json:"correlation_id"`
	Account       *domain.Account `json:"account"`
}

type listAccountsResponse struct {
	CorrelationID string            `json:"correlation_id"`
	Accounts      []*domain.Account `json:"accounts"`
}

type createAccountBody struct {
	Tag   string `json:"tag"`
	Limit int64  `json:"limit"`
}

type accountStatusBody struct {
	Status string `json:"status"`
}

type activityResponse struct {
	CorrelationID string                  `json:"correlation_id"`
	AccountID     string                  `json:"account_id"`
	Entries       []*domain.ActivityEntry `json:"entries"`
}

func urlKind(r *http.Request) (domain.Kind, bool) {
	switch chi.URLParam(r, "kind") {
	case string(domain.KindRecharge):
		return domain.KindRecharge, true
	case string(domain.KindRedeem):
		return domain.KindRedeem, true
	default:
		return "", false
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
		return false
	}
	return true
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := security.ClassifyDomainError(err)
	security.WriteJSONErrorDetail(w, r, status, code, err.Error())
}

func handleListRequests(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := urlKind(r)
		if !ok {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_kind")
			return
		}

		status := domain.Status(r.URL.Query().Get("status"))
		if status != "" && !domain.ValidStatus(kind, status) {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_status")
			return
		}

		requests, err := deps.Store.ListRequests(r.Context(), kind, status)
		if err != nil {
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		writeJSON(w, r, http.StatusOK, listRequestsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Requests:      requests,
			Total:         len(requests),
		})
	}
}

func handleGetRequest(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := urlKind(r)
		if !ok {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_kind")
			return
		}

		req, err := deps.Store.GetRequest(r.Context(), kind, chi.URLParam(r, "request_id"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleCreateRequest(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := urlKind(r)
		if !ok {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_kind")
			return
		}

		var body createRequestBody
		if !decodeBody(w, r, &body) {
			return
		}

		req := &domain.Request{
			ID:          uuid.NewString(),
			ExternalID:  body.ExternalID,
			PlayerID:    body.PlayerID,
			TeamCode:    body.TeamCode,
			Kind:        kind,
			TotalAmount: body.TotalAmount,
			Status:      domain.RequestPending,
			Processing:  domain.ProcessingState{Status: domain.ClaimIdle},
			AccountTag:  body.AccountTag,
			PromoCode:   body.PromoCode,
			CreatedAt:   time.Now().UTC(),
		}
		if kind == domain.KindRedeem {
			// Full escrow hold at intake; held value drains into
			// amount_paid as payments apply.
			req.AmountHold = body.TotalAmount
		}

		if err := deps.Store.CreateRequest(r.Context(), req); err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleClaim(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := urlKind(r)
		if !ok {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_kind")
			return
		}

		var body claimBody
		if !decodeBody(w, r, &body) {
			return
		}

		// Claims are the hot path of the protocol: throttle per
		// operator so one looping desk cannot starve the rest.
		if !deps.ClaimThrottle.Admit(w, r, "actor:"+body.Actor) {
			return
		}

		req, err := deps.Claims.Claim(r.Context(), kind, chi.URLParam(r, "request_id"), body.Actor, domain.Intent(body.Intent))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleRelease(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		kind, ok := urlKind(r)
		if !ok {
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_kind")
			return
		}

		var body releaseBody
		if !decodeBody(w, r, &body) {
			return
		}

		id := chi.URLParam(r, "request_id")
		if err := deps.Claims.Release(r.Context(), kind, id, body.Actor, body.Override); err != nil {
			writeDomainError(w, r, err)
			return
		}

		req, err := deps.Store.GetRequest(r.Context(), kind, id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleReconcileClaims(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor := r.URL.Query().Get("actor")
		if actor == "" {
			security.WriteJSONError(w, r, http.StatusBadRequest, "validation_error")
			return
		}

		claims, err := deps.Claims.Reconcile(r.Context(), actor)
		if err != nil {
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		writeJSON(w, r, http.StatusOK, reconcileResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Actor:         actor,
			Claims:        claims,
		})
	}
}

func handleSubmitForSettlement(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body submitBody
		if !decodeBody(w, r, &body) {
			return
		}

		req, err := deps.Settlement.SubmitForSettlement(r.Context(), chi.URLParam(r, "request_id"), body.Actor, settlement.Evidence{
			Reference: body.Reference,
			Notes:     body.Notes,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleRejectRecharge(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body actionBody
		if !decodeBody(w, r, &body) {
			return
		}

		req, err := deps.Settlement.RejectRecharge(r.Context(), chi.URLParam(r, "request_id"), body.Actor, body.Reason)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleDispute(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body actionBody
		if !decodeBody(w, r, &body) {
			return
		}

		req, err := deps.Settlement.Dispute(r.Context(), chi.URLParam(r, "request_id"), body.Actor, body.Reason)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleResolveDispute(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body resolveBody
		if !decodeBody(w, r, &body) {
			return
		}

		res, err := deps.Settlement.ResolveDispute(
			r.Context(),
			chi.URLParam(r, "request_id"),
			body.Actor,
			settlement.DisputeOutcome(body.Outcome),
			body.ConfirmToken,
			body.Reason,
		)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, settlementResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       res.Request,
			Account:       res.Account,
			Entry:         res.Entry,
		})
	}
}

func handleVerify(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body actionBody
		if !decodeBody(w, r, &body) {
			return
		}

		res, err := deps.Settlement.Verify(r.Context(), chi.URLParam(r, "request_id"), body.Actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, settlementResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       res.Request,
			Account:       res.Account,
			Entry:         res.Entry,
		})
	}
}

func handleMarkFailed(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body actionBody
		if !decodeBody(w, r, &body) {
			return
		}

		req, err := deps.Settlement.MarkFailed(r.Context(), chi.URLParam(r, "request_id"), body.Actor, body.Reason)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleBeginVerification(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body actionBody
		if !decodeBody(w, r, &body) {
			return
		}

		req, err := deps.Settlement.BeginVerification(r.Context(), chi.URLParam(r, "request_id"), body.Actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleFailVerification(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body actionBody
		if !decodeBody(w, r, &body) {
			return
		}

		req, err := deps.Settlement.FailVerification(r.Context(), chi.URLParam(r, "request_id"), body.Actor, body.Reason)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleQueue(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body actionBody
		if !decodeBody(w, r, &body) {
			return
		}

		req, err := deps.Settlement.Queue(r.Context(), chi.URLParam(r, "request_id"), body.Actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleProcessPayment(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body paymentBody
		if !decodeBody(w, r, &body) {
			return
		}
		if body.Identifier == "" {
			body.Identifier = uuid.NewString()
		}

		res, err := deps.Settlement.ProcessPayment(r.Context(), settlement.PaymentParams{
			RequestID:  chi.URLParam(r, "request_id"),
			Actor:      body.Actor,
			Amount:     body.Amount,
			CashTag:    body.CashTag,
			Reference:  body.Reference,
			Notes:      body.Notes,
			Identifier: body.Identifier,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, settlementResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       res.Request,
			Account:       res.Account,
			Entry:         res.Entry,
		})
	}
}

func handlePause(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body actionBody
		if !decodeBody(w, r, &body) {
			return
		}

		req, err := deps.Settlement.Pause(r.Context(), chi.URLParam(r, "request_id"), body.Actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleResume(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body actionBody
		if !decodeBody(w, r, &body) {
			return
		}

		req, err := deps.Settlement.Resume(r.Context(), chi.URLParam(r, "request_id"), body.Actor)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleRejectRedeem(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body actionBody
		if !decodeBody(w, r, &body) {
			return
		}

		req, err := deps.Settlement.RejectRedeem(r.Context(), chi.URLParam(r, "request_id"), body.Actor, body.Reason)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, requestResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Request:       req,
		})
	}
}

func handleListAccounts(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accounts, err := deps.Store.ListAccounts(r.Context())
		if err != nil {
			security.WriteJSONError(w, r, http.StatusInternalServerError, "internal_error")
			return
		}

		writeJSON(w, r, http.StatusOK, listAccountsResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Accounts:      accounts,
		})
	}
}

func handleCreateAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createAccountBody
		if !decodeBody(w, r, &body) {
			return
		}

		acct := &domain.Account{
			ID:        uuid.NewString(),
			Tag:       body.Tag,
			Status:    domain.AccountActive,
			Limit:     body.Limit,
			CreatedAt: time.Now().UTC(),
		}

		if err := deps.Store.CreateAccount(r.Context(), acct); err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusCreated, accountResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Account:       acct,
		})
	}
}

func handleGetAccount(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, err := deps.Store.GetAccount(r.Context(), chi.URLParam(r, "account_id"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, accountResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Account:       acct,
		})
	}
}

func handleAccountActivity(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := chi.URLParam(r, "account_id")
		entries, err := deps.Store.ActivityForAccount(r.Context(), accountID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, activityResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			AccountID:     accountID,
			Entries:       entries,
		})
	}
}

func handleSetAccountStatus(deps Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body accountStatusBody
		if !decodeBody(w, r, &body) {
			return
		}

		status := domain.AccountStatus(body.Status)
		switch status {
		case domain.AccountActive, domain.AccountPaused, domain.AccountDisabled:
		default:
			security.WriteJSONError(w, r, http.StatusBadRequest, "invalid_status")
			return
		}

		id := chi.URLParam(r, "account_id")
		if err := deps.Store.SetAccountStatus(r.Context(), id, status); err != nil {
			writeDomainError(w, r, err)
			return
		}

		acct, err := deps.Store.GetAccount(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		writeJSON(w, r, http.StatusOK, accountResponse{
			CorrelationID: security.CorrelationIDFromContext(r.Context()),
			Account:       acct,
		})
	}
}
