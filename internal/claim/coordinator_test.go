package claim

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therafiali/internal-app-sub002/internal/domain"
	"github.com/therafiali/internal-app-sub002/internal/store"
)

// recordingFeed captures published events for assertions.
type recordingFeed struct {
	mu       sync.Mutex
	changed  []string
	released []string
}

func (f *recordingFeed) RequestChanged(_ context.Context, kind domain.Kind, id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changed = append(f.changed, string(kind)+":"+id)
}

func (f *recordingFeed) AccountChanged(context.Context, string) {}

func (f *recordingFeed) ClaimReleased(_ context.Context, kind domain.Kind, id, actor string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, string(kind)+":"+id+":"+actor)
}

func seedRequest(t *testing.T, mem *store.Memory, kind domain.Kind, id string) {
	t.Helper()
	status := domain.RechargePending
	if kind == domain.KindRedeem {
		status = domain.RedeemQueued
	}
	require.NoError(t, mem.CreateRequest(context.Background(), &domain.Request{
		ID:          id,
		PlayerID:    "p1",
		TeamCode:    "T1",
		Kind:        kind,
		TotalAmount: 100,
		Status:      status,
	}))
}

func TestClaimRequiresActorAndIntent(t *testing.T) {
	mem := store.NewMemory()
	c := NewCoordinator(mem, nil, nil)
	ctx := context.Background()
	seedRequest(t, mem, domain.KindRecharge, "r1")

	_, err := c.Claim(ctx, domain.KindRecharge, "r1", "", domain.IntentProcess)
	assert.Error(t, err)
	_, err = c.Claim(ctx, domain.KindRecharge, "r1", "alice", domain.IntentNone)
	assert.Error(t, err)
}

func TestClaimConflictNamesHolder(t *testing.T) {
	mem := store.NewMemory()
	c := NewCoordinator(mem, nil, nil)
	ctx := context.Background()
	seedRequest(t, mem, domain.KindRecharge, "r1")

	req, err := c.Claim(ctx, domain.KindRecharge, "r1", "alice", domain.IntentProcess)
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimInProgress, req.Processing.Status)
	assert.Equal(t, "alice", req.Processing.ClaimedBy)

	_, err = c.Claim(ctx, domain.KindRecharge, "r1", "bob", domain.IntentProcess)
	require.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	var conflict *domain.ClaimConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "alice", conflict.HeldBy)
}

func TestReleaseHolderOnly(t *testing.T) {
	mem := store.NewMemory()
	fd := &recordingFeed{}
	c := NewCoordinator(mem, fd, nil)
	ctx := context.Background()
	seedRequest(t, mem, domain.KindRedeem, "r1")

	_, err := c.Claim(ctx, domain.KindRedeem, "r1", "alice", domain.IntentPayment)
	require.NoError(t, err)

	err = c.Release(ctx, domain.KindRedeem, "r1", "bob", false)
	assert.ErrorIs(t, err, domain.ErrNotClaimOwner)

	require.NoError(t, c.Release(ctx, domain.KindRedeem, "r1", "alice", false))
	assert.Contains(t, fd.released, "redeem:r1:alice")

	// supervisor override bypasses the holder check
	_, err = c.Claim(ctx, domain.KindRedeem, "r1", "alice", domain.IntentPayment)
	require.NoError(t, err)
	require.NoError(t, c.Release(ctx, domain.KindRedeem, "r1", "supervisor", true))
}

func TestReconcileListsActorClaims(t *testing.T) {
	mem := store.NewMemory()
	c := NewCoordinator(mem, nil, nil)
	ctx := context.Background()
	seedRequest(t, mem, domain.KindRecharge, "a1")
	seedRequest(t, mem, domain.KindRedeem, "b1")
	seedRequest(t, mem, domain.KindRecharge, "c1")

	_, err := c.Claim(ctx, domain.KindRecharge, "a1", "alice", domain.IntentProcess)
	require.NoError(t, err)
	_, err = c.Claim(ctx, domain.KindRedeem, "b1", "alice", domain.IntentPayment)
	require.NoError(t, err)
	_, err = c.Claim(ctx, domain.KindRecharge, "c1", "bob", domain.IntentProcess)
	require.NoError(t, err)

	claims, err := c.Reconcile(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, "a1", claims[0].ID)
	assert.Equal(t, "b1", claims[1].ID)

	_, err = c.Reconcile(ctx, "")
	assert.Error(t, err)
}

func TestSweepReleasesOnlyLapsedLeases(t *testing.T) {
	mem := store.NewMemory()
	fd := &recordingFeed{}
	ctx := context.Background()
	seedRequest(t, mem, domain.KindRecharge, "stale")
	seedRequest(t, mem, domain.KindRecharge, "fresh")

	// the lease sits halfway between the stale claim's age and the
	// fresh claim's, with wide margins on both sides
	_, err := mem.Claim(ctx, domain.KindRecharge, "stale", "alice", domain.IntentProcess)
	require.NoError(t, err)
	time.Sleep(800 * time.Millisecond)
	_, err = mem.Claim(ctx, domain.KindRecharge, "fresh", "bob", domain.IntentProcess)
	require.NoError(t, err)

	sw := NewSweeper(mem, fd, nil, 400*time.Millisecond, time.Minute)
	require.NoError(t, sw.SweepOnce(ctx))

	assert.Equal(t, []string{"recharge:stale:alice"}, fd.released)

	stale, err := mem.GetRequest(ctx, domain.KindRecharge, "stale")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimIdle, stale.Processing.Status)

	fresh, err := mem.GetRequest(ctx, domain.KindRecharge, "fresh")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimInProgress, fresh.Processing.Status)
	assert.Equal(t, "bob", fresh.Processing.ClaimedBy)
}

func TestSweeperRunStopsWithContext(t *testing.T) {
	mem := store.NewMemory()
	sw := NewSweeper(mem, nil, nil, time.Minute, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
