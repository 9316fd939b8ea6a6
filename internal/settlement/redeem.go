package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/therafiali/internal-app-sub002/internal/domain"
	"github.com/therafiali/internal-app-sub002/internal/store"
)

// PaymentParams describes one disbursement against a redeem request.
type PaymentParams struct {
	RequestID  string
	Actor      string
	Amount     int64
	CashTag    string
	Reference  string
	Notes      string
	Identifier string
}

// ProcessPayment disburses part (or all) of a claimed redeem request
// from the account behind cashtag. Payment entry append, request
// status change and account debit apply as one atomic unit, so no
// failure leaves money half-moved. On a ledger-debit failure a
// SENT/failed entry is recorded and the request is untouched.
func (e *Engine) ProcessPayment(ctx context.Context, p PaymentParams) (res *store.SettlementResult, err error) {
	defer func() { e.observe("redeem", "process_payment", err) }()

	if p.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	res, err = e.store.ApplyPayment(ctx, store.ApplyPaymentParams{
		RequestID:  p.RequestID,
		Actor:      p.Actor,
		Amount:     p.Amount,
		CashTag:    p.CashTag,
		Reference:  p.Reference,
		Notes:      p.Notes,
		Identifier: p.Identifier,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientBalance) {
			e.recordFailedSend(ctx, p)
		}
		return nil, err
	}

	e.log.Info("redeem_payment_applied",
		"request_id", p.RequestID,
		"actor", p.Actor,
		"amount", p.Amount,
		"cashtag", p.CashTag,
		"status", string(res.Request.Status),
		"amount_paid", res.Request.AmountPaid,
		"amount_hold", res.Request.AmountHold,
	)
	e.feed.ClaimReleased(ctx, domain.KindRedeem, p.RequestID, p.Actor)
	e.feed.RequestChanged(ctx, domain.KindRedeem, p.RequestID)
	e.feed.AccountChanged(ctx, res.Account.ID)
	return res, nil
}

// recordFailedSend audits a debit that could not be applied. Best
// effort: the request keeps its prior status for retry by another
// operator either way.
func (e *Engine) recordFailedSend(ctx context.Context, p PaymentParams) {
	acct, err := e.store.GetAccountByTag(ctx, p.CashTag)
	if err != nil {
		return
	}
	e.audit.BestEffort(ctx, &domain.ActivityEntry{
		Actor:         p.Actor,
		AccountID:     acct.ID,
		Action:        domain.ActionSentFailed,
		Amount:        p.Amount,
		BalanceBefore: acct.Balance,
		BalanceAfter:  acct.Balance,
		Status:        "debit_failed",
		Context: map[string]any{
			"request_id": p.RequestID,
			"reference":  p.Reference,
		},
		CreatedAt: time.Now().UTC(),
	})
}

// BeginVerification moves a fresh redeem into manual review.
func (e *Engine) BeginVerification(ctx context.Context, id, actor string) (*domain.Request, error) {
	return e.redeemStep(ctx, id, actor, "", "begin_verification", domain.RedeemPending, domain.RedeemUnderProcessing)
}

// FailVerification flags a redeem whose review did not check out. The
// request stays workable: it can be re-queued or rejected.
func (e *Engine) FailVerification(ctx context.Context, id, actor, reason string) (*domain.Request, error) {
	return e.redeemStep(ctx, id, actor, reason, "fail_verification", domain.RedeemUnderProcessing, domain.RedeemVerificationFailed)
}

// Queue makes a redeem eligible for payment processing.
func (e *Engine) Queue(ctx context.Context, id, actor string) (req *domain.Request, err error) {
	defer func() { e.observe("redeem", "queue", err) }()

	current, err := e.store.GetRequest(ctx, domain.KindRedeem, id)
	if err != nil {
		return nil, err
	}

	req, err = e.store.Transition(ctx, store.TransitionParams{
		Kind:         domain.KindRedeem,
		RequestID:    id,
		From:         current.Status,
		To:           domain.RedeemQueued,
		Actor:        actor,
		RequireClaim: true,
		ReleaseClaim: true,
	})
	if err != nil {
		return nil, err
	}
	e.feed.ClaimReleased(ctx, domain.KindRedeem, id, actor)
	e.feed.RequestChanged(ctx, domain.KindRedeem, id)
	return req, nil
}

func (e *Engine) redeemStep(ctx context.Context, id, actor, reason, op string, from, to domain.Status) (req *domain.Request, err error) {
	defer func() { e.observe("redeem", op, err) }()

	req, err = e.store.Transition(ctx, store.TransitionParams{
		Kind:         domain.KindRedeem,
		RequestID:    id,
		From:         from,
		To:           to,
		Actor:        actor,
		Reason:       reason,
		RequireClaim: true,
		ReleaseClaim: true,
	})
	if err != nil {
		return nil, err
	}
	e.feed.ClaimReleased(ctx, domain.KindRedeem, id, actor)
	e.feed.RequestChanged(ctx, domain.KindRedeem, id)
	return req, nil
}

// Pause parks a queued redeem request. Amounts are untouched and the
// processing state always resets to idle.
func (e *Engine) Pause(ctx context.Context, id, actor string) (*domain.Request, error) {
	return e.togglePause(ctx, id, actor, map[domain.Status]domain.Status{
		domain.RedeemQueued:        domain.RedeemPaused,
		domain.RedeemQueuedPartial: domain.RedeemPausedPartial,
	}, "pause")
}

// Resume returns a paused redeem request to its queue.
func (e *Engine) Resume(ctx context.Context, id, actor string) (*domain.Request, error) {
	return e.togglePause(ctx, id, actor, map[domain.Status]domain.Status{
		domain.RedeemPaused:        domain.RedeemQueued,
		domain.RedeemPausedPartial: domain.RedeemQueuedPartial,
	}, "resume")
}

func (e *Engine) togglePause(ctx context.Context, id, actor string, edges map[domain.Status]domain.Status, op string) (req *domain.Request, err error) {
	defer func() { e.observe("redeem", op, err) }()

	current, err := e.store.GetRequest(ctx, domain.KindRedeem, id)
	if err != nil {
		return nil, err
	}
	to, ok := edges[current.Status]
	if !ok {
		return nil, &domain.InvalidTransitionError{Kind: domain.KindRedeem, RequestID: id, From: current.Status, To: current.Status}
	}

	req, err = e.store.Transition(ctx, store.TransitionParams{
		Kind:      domain.KindRedeem,
		RequestID: id,
		From:      current.Status,
		To:        to,
		Actor:     actor,
		ForceIdle: true,
	})
	if err != nil {
		return nil, err
	}
	e.feed.RequestChanged(ctx, domain.KindRedeem, id)
	return req, nil
}

// RejectRedeem closes an unpaid redeem request. Once any payment has
// been disbursed the transition table has no edge to rejected, so a
// partially paid request cannot be rejected.
func (e *Engine) RejectRedeem(ctx context.Context, id, actor, reason string) (req *domain.Request, err error) {
	defer func() { e.observe("redeem", "reject", err) }()

	current, err := e.store.GetRequest(ctx, domain.KindRedeem, id)
	if err != nil {
		return nil, err
	}
	if current.AmountPaid > 0 {
		return nil, &domain.InvalidTransitionError{Kind: domain.KindRedeem, RequestID: id, From: current.Status, To: domain.RedeemRejected}
	}

	req, err = e.store.Transition(ctx, store.TransitionParams{
		Kind:         domain.KindRedeem,
		RequestID:    id,
		From:         current.Status,
		To:           domain.RedeemRejected,
		Actor:        actor,
		Reason:       reason,
		RequireClaim: true,
		ReleaseClaim: true,
	})
	if err != nil {
		return nil, err
	}
	e.feed.ClaimReleased(ctx, domain.KindRedeem, id, actor)
	e.feed.RequestChanged(ctx, domain.KindRedeem, id)
	return req, nil
}
