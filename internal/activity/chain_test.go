package activity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/therafiali/internal-app-sub002/internal/domain"
)

func sealedChain() []*domain.ActivityEntry {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entries := []*domain.ActivityEntry{
		{ID: "e1", Actor: "alice", AccountID: "acc-1", Action: domain.ActionReceived, Amount: 100, BalanceBefore: 0, BalanceAfter: 100, Status: "completed", Context: map[string]any{"request_id": "r1"}, CreatedAt: base},
		{ID: "e2", Actor: "bob", AccountID: "acc-1", Action: domain.ActionSent, Amount: 40, BalanceBefore: 100, BalanceAfter: 60, Status: "queued_partially_paid", Context: map[string]any{"request_id": "r2"}, CreatedAt: base.Add(time.Minute)},
		{ID: "e3", Actor: "bob", AccountID: "acc-1", Action: domain.ActionSent, Amount: 60, BalanceBefore: 60, BalanceAfter: 0, Status: "completed", Context: map[string]any{"request_id": "r2"}, CreatedAt: base.Add(2 * time.Minute)},
	}
	prev := ""
	for _, e := range entries {
		Seal(e, prev)
		prev = e.Hash
	}
	return entries
}

func TestSealAnchorsAtGenesis(t *testing.T) {
	entries := sealedChain()
	if entries[0].PrevHash != GenesisHash {
		t.Errorf("first entry prev_hash = %s, want genesis", entries[0].PrevHash)
	}
	if entries[0].Hash == "" {
		t.Error("Seal left hash empty")
	}
	if entries[1].PrevHash != entries[0].Hash {
		t.Error("second entry not linked to first")
	}
}

func TestVerifyChain(t *testing.T) {
	entries := sealedChain()
	if err := VerifyChain(entries); err != nil {
		t.Fatalf("VerifyChain failed for valid chain: %v", err)
	}
	if err := VerifyChain(nil); err != nil {
		t.Errorf("VerifyChain failed for empty chain: %v", err)
	}
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	// inflate a balance
	entries := sealedChain()
	entries[1].BalanceAfter = 1_000_000
	if err := VerifyChain(entries); err == nil {
		t.Error("VerifyChain passed tampered balance")
	}

	// rewrite a hash
	entries = sealedChain()
	entries[1].Hash = "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef"
	if err := VerifyChain(entries); err == nil {
		t.Error("VerifyChain passed tampered hash")
	}

	// break a link
	entries = sealedChain()
	entries[2].PrevHash = entries[0].Hash
	if err := VerifyChain(entries); err == nil {
		t.Error("VerifyChain passed broken link")
	}

	// repoint an entry at another request
	entries = sealedChain()
	entries[1].Context["request_id"] = "r99"
	if err := VerifyChain(entries); err == nil {
		t.Error("VerifyChain passed tampered context")
	}
}

type failingAppender struct{ calls int }

func (f *failingAppender) AppendActivity(_ context.Context, _ *domain.ActivityEntry) error {
	f.calls++
	return errors.New("append failed")
}

func TestBestEffortSwallowsAppendFailure(t *testing.T) {
	app := &failingAppender{}
	l := NewLogger(app, slog.New(slog.NewTextHandler(io.Discard, nil)))

	l.BestEffort(context.Background(), &domain.ActivityEntry{AccountID: "acc-1", Action: domain.ActionFailed})
	if app.calls != 1 {
		t.Fatalf("append called %d times, want 1", app.calls)
	}
}
