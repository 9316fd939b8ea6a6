package security

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/therafiali/internal-app-sub002/internal/domain"
)

// ErrorResponse is the JSON error envelope every endpoint returns.
// Error is the named error kind the UI branches on; Detail is a
// message safe to show the operator.
type ErrorResponse struct {
	Error         string `json:"error"`
	Detail        string `json:"detail,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func WriteJSONError(w http.ResponseWriter, r *http.Request, status int, code string) {
	WriteJSONErrorDetail(w, r, status, code, "")
}

func WriteJSONErrorDetail(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	cid := CorrelationIDFromContext(r.Context())
	if cid != "" {
		w.Header().Set(CorrelationIDHeader, cid)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:         code,
		Detail:        detail,
		CorrelationID: cid,
	})
}

// ClassifyDomainError maps the named error kinds onto HTTP statuses
// and stable error codes.
func ClassifyDomainError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrRequestNotFound), errors.Is(err, domain.ErrLedgerAccountNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrAlreadyClaimed):
		return http.StatusConflict, "already_claimed"
	case errors.Is(err, domain.ErrNotClaimOwner):
		return http.StatusForbidden, "not_claim_owner"
	case errors.Is(err, domain.ErrSubjectBlocked):
		return http.StatusUnprocessableEntity, "subject_blocked"
	case errors.Is(err, domain.ErrPromotionAlreadyClaimed):
		return http.StatusConflict, "promotion_already_claimed"
	case errors.Is(err, domain.ErrLedgerAccountUnavailable):
		return http.StatusUnprocessableEntity, "ledger_account_unavailable"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient_ledger_balance"
	case errors.Is(err, domain.ErrHoldExceeded):
		return http.StatusUnprocessableEntity, "hold_exceeded"
	case errors.Is(err, domain.ErrAccountUnavailable):
		return http.StatusUnprocessableEntity, "account_unavailable"
	case errors.Is(err, domain.ErrInvalidStatusTransition):
		return http.StatusConflict, "invalid_status_transition"
	case errors.Is(err, domain.ErrConfirmationMismatch):
		return http.StatusPreconditionFailed, "confirmation_mismatch"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
