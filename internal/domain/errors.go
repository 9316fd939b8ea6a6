package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the claim coordinator, settlement engine
// and stores. Callers discriminate with errors.Is.
var (
	ErrRequestNotFound          = errors.New("request not found")
	ErrAlreadyClaimed           = errors.New("request already claimed")
	ErrNotClaimOwner            = errors.New("caller does not hold the claim")
	ErrSubjectBlocked           = errors.New("player is banned")
	ErrPromotionAlreadyClaimed  = errors.New("promotion assignment missing or already consumed")
	ErrLedgerAccountNotFound    = errors.New("ledger account not found")
	ErrLedgerAccountUnavailable = errors.New("ledger account missing or inactive")
	ErrInsufficientBalance      = errors.New("insufficient ledger balance")
	ErrHoldExceeded             = errors.New("payment exceeds escrow hold")
	ErrAccountUnavailable       = errors.New("account is paused or disabled")
	ErrInvalidStatusTransition  = errors.New("invalid status transition")
	ErrConfirmationMismatch     = errors.New("confirmation token mismatch")
)

// ClaimConflictError reports who currently drives the request so the
// caller can surface "being processed by X". It is never auto-retried.
type ClaimConflictError struct {
	Kind      Kind
	RequestID string
	HeldBy    string
	Intent    Intent
}

func (e *ClaimConflictError) Error() string {
	return fmt.Sprintf("%s request %s is being processed by %s (%s)", e.Kind, e.RequestID, e.HeldBy, e.Intent)
}

func (e *ClaimConflictError) Is(target error) bool {
	return target == ErrAlreadyClaimed
}

// InvalidTransitionError identifies the rejected edge of the per-kind
// transition table.
type InvalidTransitionError struct {
	Kind      Kind
	RequestID string
	From      Status
	To        Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition from %s to %s for request %s", e.Kind, e.From, e.To, e.RequestID)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidStatusTransition
}
