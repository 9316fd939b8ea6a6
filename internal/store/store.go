package store

import (
	"context"
	"time"

	"github.com/therafiali/internal-app-sub002/internal/domain"
)

// RequestStore is the durable home of recharge and redeem requests.
// Claim must be a single conditional update at the data-store level;
// check-then-set implementations are not acceptable.
type RequestStore interface {
	GetRequest(ctx context.Context, kind domain.Kind, id string) (*domain.Request, error)
	CreateRequest(ctx context.Context, req *domain.Request) error
	ListRequests(ctx context.Context, kind domain.Kind, status domain.Status) ([]*domain.Request, error)

	// Claim atomically moves processing_state from idle to in_progress
	// for actor. On conflict it returns a *domain.ClaimConflictError
	// naming the current holder.
	Claim(ctx context.Context, kind domain.Kind, id, actor string, intent domain.Intent) (*domain.Request, error)

	// Release resets processing_state to idle. Unless override is set,
	// only the current holder may release.
	Release(ctx context.Context, kind domain.Kind, id, actor string, override bool) error

	// ClaimsByActor returns the actor's in-progress claims for session
	// reconciliation.
	ClaimsByActor(ctx context.Context, actor string) ([]*domain.Request, error)

	// ExpireClaims releases every claim older than cutoff and reports
	// what was released.
	ExpireClaims(ctx context.Context, cutoff time.Time) ([]ExpiredClaim, error)

	// Transition applies a status change plus bookkeeping fields as one
	// conditional update.
	Transition(ctx context.Context, p TransitionParams) (*domain.Request, error)
}

// ExpiredClaim describes a claim the sweeper released.
type ExpiredClaim struct {
	Kind      domain.Kind
	RequestID string
	Actor     string
	Intent    domain.Intent
}

// TransitionParams drives a ledger-free status change.
type TransitionParams struct {
	Kind      domain.Kind
	RequestID string
	From      domain.Status
	To        domain.Status
	Actor     string
	Reason    string

	// RequireClaim rejects the transition unless Actor holds the claim.
	RequireClaim bool
	// ReleaseClaim resets processing_state to idle afterwards. ForceIdle
	// resets it regardless of holder (pause/resume semantics).
	ReleaseClaim bool
	ForceIdle    bool
}

// AccountStore holds cashtag ledger accounts. Balance mutations happen
// only inside the composite settlement operations below.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	GetAccountByTag(ctx context.Context, tag string) (*domain.Account, error)
	CreateAccount(ctx context.Context, acct *domain.Account) error
	ListAccounts(ctx context.Context) ([]*domain.Account, error)
	// SetAccountStatus pauses, resumes or disables an account.
	SetAccountStatus(ctx context.Context, id string, status domain.AccountStatus) error
}

// ActivityStore is the append-only audit trail. Append seals the entry
// into the account's hash chain; nothing ever updates or deletes.
type ActivityStore interface {
	AppendActivity(ctx context.Context, entry *domain.ActivityEntry) error
	ActivityForAccount(ctx context.Context, accountID string) ([]*domain.ActivityEntry, error)
}

// SettleCreditParams finalizes a recharge: status change, account
// credit and RECEIVED entry as one atomic unit.
type SettleCreditParams struct {
	Kind      domain.Kind
	RequestID string
	From      domain.Status
	To        domain.Status
	Actor     string
	Context   map[string]any
}

// ApplyPaymentParams disburses part of a redeem request: payment
// entry, status change, account debit and SENT entry as one atomic
// unit. The new status derives from domain.NextRedeemStatus.
type ApplyPaymentParams struct {
	RequestID  string
	Actor      string
	Amount     int64
	CashTag    string
	Reference  string
	Notes      string
	Identifier string
}

// SettlementResult reports the post-settlement state.
type SettlementResult struct {
	Request *domain.Request
	Account *domain.Account
	Entry   *domain.ActivityEntry
}

// SettlementStore executes the two money-moving composite operations.
// Implementations must apply each as a single transaction so the
// request row, the account balance and the activity entry never
// diverge.
type SettlementStore interface {
	SettleCredit(ctx context.Context, p SettleCreditParams) (*SettlementResult, error)
	ApplyPayment(ctx context.Context, p ApplyPaymentParams) (*SettlementResult, error)
}

// Store is the full persistence surface the console runs on.
type Store interface {
	RequestStore
	AccountStore
	ActivityStore
	SettlementStore
}
