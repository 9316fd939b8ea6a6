package settlement

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therafiali/internal-app-sub002/internal/domain"
	"github.com/therafiali/internal-app-sub002/internal/store"
)

func seedRedeem(t *testing.T, mem *store.Memory, id string, total int64, status domain.Status) {
	t.Helper()
	require.NoError(t, mem.CreateRequest(context.Background(), &domain.Request{
		ID:          id,
		PlayerID:    "p1",
		TeamCode:    "T1",
		Kind:        domain.KindRedeem,
		TotalAmount: total,
		AmountHold:  total,
		Status:      status,
	}))
}

func claimRedeem(t *testing.T, mem *store.Memory, id, actor string, intent domain.Intent) {
	t.Helper()
	_, err := mem.Claim(context.Background(), domain.KindRedeem, id, actor, intent)
	require.NoError(t, err)
}

func TestRedeemVerificationPath(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	seedRedeem(t, mem, "r1", 100, domain.RedeemPending)

	claimRedeem(t, mem, "r1", "alice", domain.IntentVerify)
	req, err := eng.BeginVerification(ctx, "r1", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemUnderProcessing, req.Status)
	assert.Equal(t, domain.ClaimIdle, req.Processing.Status)

	claimRedeem(t, mem, "r1", "alice", domain.IntentVerify)
	req, err = eng.FailVerification(ctx, "r1", "alice", "name mismatch")
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemVerificationFailed, req.Status)
	assert.Equal(t, "name mismatch", req.Reason)

	// a failed verification can still be queued manually
	claimRedeem(t, mem, "r1", "bob", domain.IntentProcess)
	req, err = eng.Queue(ctx, "r1", "bob")
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemQueued, req.Status)
}

func TestProcessPaymentPartialAndComplete(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, mem.CreateAccount(ctx, &domain.Account{ID: "acc-1", Tag: "$payout", Balance: 200, Status: domain.AccountActive}))
	seedRedeem(t, mem, "r1", 100, domain.RedeemQueued)

	claimRedeem(t, mem, "r1", "alice", domain.IntentPayment)
	res, err := eng.ProcessPayment(ctx, PaymentParams{
		RequestID: "r1", Actor: "alice", Amount: 70, CashTag: "$payout", Reference: "send-1",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemQueuedPartial, res.Request.Status)
	assert.Equal(t, int64(70), res.Request.AmountPaid)
	assert.Equal(t, int64(30), res.Request.AmountHold)
	assert.Equal(t, int64(130), res.Account.Balance)
	assert.Equal(t, domain.ActionSent, res.Entry.Action)

	claimRedeem(t, mem, "r1", "bob", domain.IntentPayment)
	res, err = eng.ProcessPayment(ctx, PaymentParams{
		RequestID: "r1", Actor: "bob", Amount: 30, CashTag: "$payout", Reference: "send-2",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemCompleted, res.Request.Status)
	assert.Equal(t, int64(100), res.Account.Balance)
	assert.Equal(t, "bob", res.Request.ProcessedBy)
}

func TestProcessPaymentRejectsNonPositiveAmount(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	seedRedeem(t, mem, "r1", 100, domain.RedeemQueued)
	claimRedeem(t, mem, "r1", "alice", domain.IntentPayment)

	_, err := eng.ProcessPayment(ctx, PaymentParams{RequestID: "r1", Actor: "alice", Amount: 0, CashTag: "$x"})
	assert.Error(t, err)
	_, err = eng.ProcessPayment(ctx, PaymentParams{RequestID: "r1", Actor: "alice", Amount: -10, CashTag: "$x"})
	assert.Error(t, err)
}

func TestProcessPaymentInsufficientBalanceAudited(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, mem.CreateAccount(ctx, &domain.Account{ID: "acc-1", Tag: "$payout", Balance: 10, Status: domain.AccountActive}))
	seedRedeem(t, mem, "r1", 100, domain.RedeemQueued)
	claimRedeem(t, mem, "r1", "alice", domain.IntentPayment)

	_, err := eng.ProcessPayment(ctx, PaymentParams{
		RequestID: "r1", Actor: "alice", Amount: 50, CashTag: "$payout",
	})
	assert.ErrorIs(t, err, domain.ErrInsufficientBalance)

	// request untouched, balance untouched, failure audited
	req, err := mem.GetRequest(ctx, domain.KindRedeem, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemQueued, req.Status)
	assert.Equal(t, int64(0), req.AmountPaid)

	acct, err := mem.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), acct.Balance)

	entries, err := mem.ActivityForAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.ActionSentFailed, entries[0].Action)
	assert.Equal(t, int64(0), entries[0].Delta())
}

func TestPauseResume(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, mem.CreateAccount(ctx, &domain.Account{ID: "acc-1", Tag: "$payout", Balance: 100, Status: domain.AccountActive}))
	seedRedeem(t, mem, "r1", 100, domain.RedeemQueued)

	req, err := eng.Pause(ctx, "r1", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemPaused, req.Status)
	assert.Equal(t, domain.ClaimIdle, req.Processing.Status)

	// paused requests take no payments
	claimRedeem(t, mem, "r1", "alice", domain.IntentPayment)
	_, err = eng.ProcessPayment(ctx, PaymentParams{RequestID: "r1", Actor: "alice", Amount: 10, CashTag: "$payout"})
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)
	require.NoError(t, mem.Release(ctx, domain.KindRedeem, "r1", "alice", false))

	req, err = eng.Resume(ctx, "r1", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemQueued, req.Status)

	// partial payment pauses into the partial variant
	claimRedeem(t, mem, "r1", "alice", domain.IntentPayment)
	_, err = eng.ProcessPayment(ctx, PaymentParams{RequestID: "r1", Actor: "alice", Amount: 40, CashTag: "$payout"})
	require.NoError(t, err)

	req, err = eng.Pause(ctx, "r1", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemPausedPartial, req.Status)

	req, err = eng.Resume(ctx, "r1", "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemQueuedPartial, req.Status)
}

func TestRejectRedeemForbiddenOncePaid(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, mem.CreateAccount(ctx, &domain.Account{ID: "acc-1", Tag: "$payout", Balance: 100, Status: domain.AccountActive}))
	seedRedeem(t, mem, "r1", 100, domain.RedeemQueued)

	claimRedeem(t, mem, "r1", "alice", domain.IntentPayment)
	_, err := eng.ProcessPayment(ctx, PaymentParams{RequestID: "r1", Actor: "alice", Amount: 30, CashTag: "$payout"})
	require.NoError(t, err)

	claimRedeem(t, mem, "r1", "alice", domain.IntentProcess)
	_, err = eng.RejectRedeem(ctx, "r1", "alice", "changed mind")
	assert.ErrorIs(t, err, domain.ErrInvalidStatusTransition)

	req, err := mem.GetRequest(ctx, domain.KindRedeem, "r1")
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemQueuedPartial, req.Status)
}

func TestRejectRedeemUnpaid(t *testing.T) {
	eng, mem := newTestEngine(t)
	ctx := context.Background()
	seedRedeem(t, mem, "r1", 100, domain.RedeemQueued)
	claimRedeem(t, mem, "r1", "alice", domain.IntentProcess)

	req, err := eng.RejectRedeem(ctx, "r1", "alice", "duplicate request")
	require.NoError(t, err)
	assert.Equal(t, domain.RedeemRejected, req.Status)
	assert.Equal(t, "duplicate request", req.Reason)
}
