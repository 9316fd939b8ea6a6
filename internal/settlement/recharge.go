package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/therafiali/internal-app-sub002/internal/domain"
	"github.com/therafiali/internal-app-sub002/internal/store"
)

// Evidence is what the operator gathered before submitting a recharge
// for settlement.
type Evidence struct {
	Reference string
	Notes     string
}

// SubmitForSettlement moves a claimed recharge from pending to
// sc_processed. The player must not be banned, and an attached
// promotion assignment is consumed exactly once before the transition.
// The claim is released on success.
func (e *Engine) SubmitForSettlement(ctx context.Context, id, actor string, ev Evidence) (req *domain.Request, err error) {
	defer func() { e.observe("recharge", "submit", err) }()

	current, err := e.store.GetRequest(ctx, domain.KindRecharge, id)
	if err != nil {
		return nil, err
	}
	if !current.Claimed(actor) {
		return nil, domain.ErrNotClaimOwner
	}

	status, err := e.players.PlayerStatus(ctx, current.PlayerID)
	if err != nil {
		return nil, fmt.Errorf("player registry lookup failed: %w", err)
	}
	if status == PlayerBanned {
		return nil, domain.ErrSubjectBlocked
	}

	if current.PromoCode != "" {
		if err := e.promos.ConsumeAssignment(ctx, current.PromoCode, current.ID); err != nil {
			return nil, err
		}
	}

	req, err = e.store.Transition(ctx, store.TransitionParams{
		Kind:         domain.KindRecharge,
		RequestID:    id,
		From:         domain.RechargePending,
		To:           domain.RechargeProcessed,
		Actor:        actor,
		Reason:       ev.Notes,
		RequireClaim: true,
		ReleaseClaim: true,
	})
	if err != nil {
		return nil, err
	}

	e.feed.ClaimReleased(ctx, domain.KindRecharge, id, actor)
	e.feed.RequestChanged(ctx, domain.KindRecharge, id)
	return req, nil
}

// RejectRecharge closes the request with a reason. No ledger effect.
func (e *Engine) RejectRecharge(ctx context.Context, id, actor, reason string) (req *domain.Request, err error) {
	defer func() { e.observe("recharge", "reject", err) }()

	req, err = e.store.Transition(ctx, store.TransitionParams{
		Kind:         domain.KindRecharge,
		RequestID:    id,
		To:           domain.RechargeRejected,
		Actor:        actor,
		Reason:       reason,
		RequireClaim: true,
		ReleaseClaim: true,
	})
	if err != nil {
		return nil, err
	}
	e.feed.ClaimReleased(ctx, domain.KindRecharge, id, actor)
	e.feed.RequestChanged(ctx, domain.KindRecharge, id)
	return req, nil
}

// Dispute flags a processed recharge for investigation.
func (e *Engine) Dispute(ctx context.Context, id, actor, reason string) (req *domain.Request, err error) {
	defer func() { e.observe("recharge", "dispute", err) }()

	req, err = e.store.Transition(ctx, store.TransitionParams{
		Kind:         domain.KindRecharge,
		RequestID:    id,
		From:         domain.RechargeProcessed,
		To:           domain.RechargeDisputed,
		Actor:        actor,
		Reason:       reason,
		RequireClaim: true,
		ReleaseClaim: true,
	})
	if err != nil {
		return nil, err
	}
	e.feed.RequestChanged(ctx, domain.KindRecharge, id)
	return req, nil
}

// Verify settles a processed recharge: one atomic unit credits the
// assigned account's balance, total_received and transaction_count and
// appends the RECEIVED entry. If the account is missing or inactive
// the request stays sc_processed until reassigned.
func (e *Engine) Verify(ctx context.Context, id, actor string) (res *store.SettlementResult, err error) {
	defer func() { e.observe("recharge", "verify", err) }()
	return e.settleRecharge(ctx, id, actor, domain.RechargeProcessed, domain.RechargeVerified)
}

func (e *Engine) settleRecharge(ctx context.Context, id, actor string, from, to domain.Status) (*store.SettlementResult, error) {
	current, err := e.store.GetRequest(ctx, domain.KindRecharge, id)
	if err != nil {
		return nil, err
	}
	if !current.Claimed(actor) {
		return nil, domain.ErrNotClaimOwner
	}

	// Re-validates the single-use consumption: a no-op when this request
	// already holds the assignment, PromotionAlreadyClaimed when another
	// request consumed it.
	if current.PromoCode != "" {
		if err := e.promos.ConsumeAssignment(ctx, current.PromoCode, current.ID); err != nil {
			return nil, err
		}
	}

	res, err := e.store.SettleCredit(ctx, store.SettleCreditParams{
		Kind:      domain.KindRecharge,
		RequestID: id,
		From:      from,
		To:        to,
		Actor:     actor,
		Context: map[string]any{
			"request_id":  id,
			"external_id": current.ExternalID,
			"player_id":   current.PlayerID,
		},
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("recharge_settled",
		"request_id", id,
		"actor", actor,
		"status", string(to),
		"amount", res.Entry.Amount,
		"account_id", res.Account.ID,
	)
	e.feed.ClaimReleased(ctx, domain.KindRecharge, id, actor)
	e.feed.RequestChanged(ctx, domain.KindRecharge, id)
	e.feed.AccountChanged(ctx, res.Account.ID)
	return res, nil
}

// DisputeOutcome selects one of the two mutually exclusive dispute
// resolutions.
type DisputeOutcome string

const (
	OutcomeSettle DisputeOutcome = "settle"
	OutcomeBan    DisputeOutcome = "ban"
)

// BanConfirmToken is the token the caller must echo to authorize the
// irreversible ban path.
func BanConfirmToken(playerID string) string {
	return "BAN:" + playerID
}

// ResolveDispute finishes a disputed recharge. Settle re-enters the
// verify path and lands completed; Ban requires the explicit
// confirmation token, bans the player and rejects the request.
func (e *Engine) ResolveDispute(ctx context.Context, id, actor string, outcome DisputeOutcome, confirmToken, reason string) (res *store.SettlementResult, err error) {
	defer func() { e.observe("recharge", "resolve_dispute", err) }()

	switch outcome {
	case OutcomeSettle:
		return e.settleRecharge(ctx, id, actor, domain.RechargeDisputed, domain.RechargeCompleted)

	case OutcomeBan:
		current, err := e.store.GetRequest(ctx, domain.KindRecharge, id)
		if err != nil {
			return nil, err
		}
		if !current.Claimed(actor) {
			return nil, domain.ErrNotClaimOwner
		}
		if confirmToken != BanConfirmToken(current.PlayerID) {
			return nil, domain.ErrConfirmationMismatch
		}

		if err := e.players.BanPlayer(ctx, current.PlayerID, actor, reason); err != nil {
			return nil, fmt.Errorf("failed to ban player: %w", err)
		}
		req, err := e.store.Transition(ctx, store.TransitionParams{
			Kind:         domain.KindRecharge,
			RequestID:    id,
			From:         domain.RechargeDisputed,
			To:           domain.RechargeRejected,
			Actor:        actor,
			Reason:       reason,
			RequireClaim: true,
			ReleaseClaim: true,
		})
		if err != nil {
			return nil, err
		}
		e.log.Warn("dispute_resolved_ban", "request_id", id, "player_id", current.PlayerID, "actor", actor)
		e.feed.ClaimReleased(ctx, domain.KindRecharge, id, actor)
		e.feed.RequestChanged(ctx, domain.KindRecharge, id)
		return &store.SettlementResult{Request: req}, nil

	default:
		return nil, fmt.Errorf("unknown dispute outcome %q", outcome)
	}
}

// MarkFailed moves a recharge to failed without touching any balance.
// When an account was already assigned, a FAILED entry is appended for
// audit on a best-effort basis; an append failure never blocks the
// status update.
func (e *Engine) MarkFailed(ctx context.Context, id, actor, reason string) (req *domain.Request, err error) {
	defer func() { e.observe("recharge", "mark_failed", err) }()

	req, err = e.store.Transition(ctx, store.TransitionParams{
		Kind:      domain.KindRecharge,
		RequestID: id,
		To:        domain.RechargeFailed,
		Actor:     actor,
		Reason:    reason,
		ForceIdle: true,
	})
	if err != nil {
		return nil, err
	}

	if req.AccountTag != "" {
		if acct, aerr := e.store.GetAccountByTag(ctx, req.AccountTag); aerr == nil {
			e.audit.BestEffort(ctx, &domain.ActivityEntry{
				Actor:         actor,
				AccountID:     acct.ID,
				Action:        domain.ActionFailed,
				Amount:        req.TotalAmount,
				BalanceBefore: acct.Balance,
				BalanceAfter:  acct.Balance,
				Status:        string(domain.RechargeFailed),
				Context: map[string]any{
					"request_id": id,
					"reason":     reason,
				},
				CreatedAt: time.Now().UTC(),
			})
		}
	}

	e.feed.RequestChanged(ctx, domain.KindRecharge, id)
	return req, nil
}
