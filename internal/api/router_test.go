package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/therafiali/internal-app-sub002/internal/claim"
	"github.com/therafiali/internal-app-sub002/internal/domain"
	"github.com/therafiali/internal-app-sub002/internal/feed"
	"github.com/therafiali/internal-app-sub002/internal/security"
	"github.com/therafiali/internal-app-sub002/internal/settlement"
	"github.com/therafiali/internal-app-sub002/internal/store"
)

func newTestDeps(t *testing.T) (Dependencies, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))

	deps := Dependencies{
		Logger:       logger,
		Claims:       claim.NewCoordinator(mem, feed.Nop{}, logger),
		Settlement:   settlement.NewEngine(mem, mem, mem, feed.Nop{}, logger),
		Store:        mem,
		MaxBodyBytes: 1 << 20,
	}
	return deps, mem
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(bytes.TrimSpace(p)))
	return len(p), nil
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body map[string]any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestClaimLifecycle(t *testing.T) {
	deps, _ := newTestDeps(t)
	h, err := NewRouter(deps)
	require.NoError(t, err)

	ts := httptest.NewServer(h)
	defer ts.Close()

	resp := postJSON(t, ts, "/v1/requests/redeem/", map[string]any{
		"player_id": "p1", "team_code": "T1", "total_amount": 500,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get(security.CorrelationIDHeader))
	created := decode[requestResponse](t, resp)
	id := created.Request.ID

	resp = postJSON(t, ts, "/v1/requests/redeem/"+id+"/claim", map[string]any{
		"actor": "alice", "intent": "process",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	claimed := decode[requestResponse](t, resp)
	require.Equal(t, domain.ClaimInProgress, claimed.Request.Processing.Status)
	require.Equal(t, "alice", claimed.Request.Processing.ClaimedBy)

	// second claimer is told who holds it
	resp = postJSON(t, ts, "/v1/requests/redeem/"+id+"/claim", map[string]any{
		"actor": "bob", "intent": "process",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	errBody := decode[security.ErrorResponse](t, resp)
	require.Equal(t, "already_claimed", errBody.Error)
	require.Contains(t, errBody.Detail, "alice")

	// non-holder cannot release without override
	resp = postJSON(t, ts, "/v1/requests/redeem/"+id+"/release", map[string]any{
		"actor": "bob",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// holder shows up in reconciliation
	getResp, err := http.Get(ts.URL + "/v1/claims?actor=alice")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, getResp.StatusCode)
	rec := decode[reconcileResponse](t, getResp)
	require.Len(t, rec.Claims, 1)
	require.Equal(t, id, rec.Claims[0].ID)

	resp = postJSON(t, ts, "/v1/requests/redeem/"+id+"/release", map[string]any{
		"actor": "alice",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	released := decode[requestResponse](t, resp)
	require.Equal(t, domain.ClaimIdle, released.Request.Processing.Status)
}

func TestRechargeSettlementFlow(t *testing.T) {
	deps, mem := newTestDeps(t)
	h, err := NewRouter(deps)
	require.NoError(t, err)

	ts := httptest.NewServer(h)
	defer ts.Close()

	mem.SeedPlayer("p1", "active")

	resp := postJSON(t, ts, "/v1/accounts/", map[string]any{"tag": "$main"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	acct := decode[accountResponse](t, resp)

	resp = postJSON(t, ts, "/v1/requests/recharge/", map[string]any{
		"player_id": "p1", "team_code": "T1", "total_amount": 100, "account_tag": "$main",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[requestResponse](t, resp)
	id := created.Request.ID

	// submit requires the claim
	resp = postJSON(t, ts, "/v1/recharges/"+id+"/submit", map[string]any{
		"actor": "alice", "reference": "txn-1",
	})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts, "/v1/requests/recharge/"+id+"/claim", map[string]any{
		"actor": "alice", "intent": "process",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts, "/v1/recharges/"+id+"/submit", map[string]any{
		"actor": "alice", "reference": "txn-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	submitted := decode[requestResponse](t, resp)
	require.Equal(t, domain.RechargeProcessed, submitted.Request.Status)
	require.Equal(t, domain.ClaimIdle, submitted.Request.Processing.Status)

	resp = postJSON(t, ts, "/v1/requests/recharge/"+id+"/claim", map[string]any{
		"actor": "bob", "intent": "verify",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts, "/v1/recharges/"+id+"/verify", map[string]any{"actor": "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	verified := decode[settlementResponse](t, resp)
	require.Equal(t, domain.RechargeVerified, verified.Request.Status)
	require.Equal(t, int64(100), verified.Account.Balance)
	require.Equal(t, domain.ActionReceived, verified.Entry.Action)

	getResp, err := http.Get(ts.URL + "/v1/accounts/" + acct.Account.ID + "/activity")
	require.NoError(t, err)
	activity := decode[activityResponse](t, getResp)
	require.Len(t, activity.Entries, 1)
	require.Equal(t, int64(100), activity.Entries[0].Delta())
}

func TestRedeemPaymentFlow(t *testing.T) {
	deps, mem := newTestDeps(t)
	h, err := NewRouter(deps)
	require.NoError(t, err)

	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx := context.Background()
	require.NoError(t, mem.CreateAccount(ctx, &domain.Account{
		ID: "acc-1", Tag: "$payout", Balance: 100,
		Status: domain.AccountActive, CreatedAt: time.Now().UTC(),
	}))

	resp := postJSON(t, ts, "/v1/requests/redeem/", map[string]any{
		"player_id": "p1", "team_code": "T1", "total_amount": 50,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[requestResponse](t, resp)
	id := created.Request.ID
	require.Equal(t, int64(50), created.Request.AmountHold)

	claimAs := func(actor, intent string) {
		resp := postJSON(t, ts, "/v1/requests/redeem/"+id+"/claim", map[string]any{
			"actor": actor, "intent": intent,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		resp.Body.Close()
	}

	claimAs("alice", "process")
	resp = postJSON(t, ts, "/v1/redeems/"+id+"/queue", map[string]any{"actor": "alice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	queued := decode[requestResponse](t, resp)
	require.Equal(t, domain.RedeemQueued, queued.Request.Status)

	// partial payment
	claimAs("alice", "payment")
	resp = postJSON(t, ts, "/v1/redeems/"+id+"/payments", map[string]any{
		"actor": "alice", "amount": 30, "cashtag": "$payout", "reference": "send-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	partial := decode[settlementResponse](t, resp)
	require.Equal(t, domain.RedeemQueuedPartial, partial.Request.Status)
	require.Equal(t, int64(30), partial.Request.AmountPaid)
	require.Equal(t, int64(20), partial.Request.AmountHold)
	require.Equal(t, int64(70), partial.Account.Balance)

	// disbursing beyond the hold fails without mutation
	claimAs("alice", "payment")
	resp = postJSON(t, ts, "/v1/redeems/"+id+"/payments", map[string]any{
		"actor": "alice", "amount": 25, "cashtag": "$payout",
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	errBody := decode[security.ErrorResponse](t, resp)
	require.Equal(t, "hold_exceeded", errBody.Error)

	// reject is forbidden once partially paid
	resp = postJSON(t, ts, "/v1/redeems/"+id+"/reject", map[string]any{
		"actor": "alice", "reason": "nope",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// remaining amount completes the request
	resp = postJSON(t, ts, "/v1/redeems/"+id+"/payments", map[string]any{
		"actor": "alice", "amount": 20, "cashtag": "$payout", "reference": "send-2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	final := decode[settlementResponse](t, resp)
	require.Equal(t, domain.RedeemCompleted, final.Request.Status)
	require.Equal(t, int64(50), final.Request.AmountPaid)
	require.Equal(t, int64(0), final.Request.AmountHold)
	require.Equal(t, int64(50), final.Account.Balance)
}

func TestSchemaValidation(t *testing.T) {
	deps, _ := newTestDeps(t)
	h, err := NewRouter(deps)
	require.NoError(t, err)

	ts := httptest.NewServer(h)
	defer ts.Close()

	// missing total_amount
	resp := postJSON(t, ts, "/v1/requests/recharge/", map[string]any{
		"player_id": "p1", "team_code": "T1",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	errBody := decode[security.ErrorResponse](t, resp)
	require.Equal(t, "validation_error", errBody.Error)
	require.Contains(t, errBody.Detail, "create_request")
	require.Contains(t, errBody.Detail, "total_amount")

	// bad intent enum
	resp = postJSON(t, ts, "/v1/requests/recharge/some-id/claim", map[string]any{
		"actor": "alice", "intent": "steal",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	// negative payment amount
	resp = postJSON(t, ts, "/v1/redeems/some-id/payments", map[string]any{
		"actor": "alice", "amount": -5, "cashtag": "$x",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestBodySizeLimit(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.MaxBodyBytes = 32

	h, err := NewRouter(deps)
	require.NoError(t, err)

	ts := httptest.NewServer(h)
	defer ts.Close()

	resp := postJSON(t, ts, "/v1/requests/recharge/", map[string]any{
		"player_id": "p1", "team_code": "T1", "total_amount": 100,
		"promo_code": "a-very-long-promotion-code-string",
	})
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	resp.Body.Close()
}

func TestClaimThrottledPerActor(t *testing.T) {
	deps, mem := newTestDeps(t)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	deps.ClaimThrottle = &security.Throttle{
		Redis: rdb, Prefix: "test_claims", Burst: 1, Refill: 0.0000001,
	}

	h, err := NewRouter(deps)
	require.NoError(t, err)

	ts := httptest.NewServer(h)
	defer ts.Close()

	ctx := context.Background()
	for _, id := range []string{"r1", "r2"} {
		require.NoError(t, mem.CreateRequest(ctx, &domain.Request{
			ID: id, PlayerID: "p1", TeamCode: "T1", Kind: domain.KindRedeem,
			TotalAmount: 100, AmountHold: 100, Status: domain.RedeemQueued,
		}))
	}

	resp := postJSON(t, ts, "/v1/requests/redeem/r1/claim", map[string]any{
		"actor": "alice", "intent": "payment",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// alice's bucket is spent
	resp = postJSON(t, ts, "/v1/requests/redeem/r2/claim", map[string]any{
		"actor": "alice", "intent": "payment",
	})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("Retry-After"))
	errBody := decode[security.ErrorResponse](t, resp)
	require.Equal(t, "rate_limited", errBody.Error)

	// bob draws from his own bucket
	resp = postJSON(t, ts, "/v1/requests/redeem/r2/claim", map[string]any{
		"actor": "bob", "intent": "payment",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestIPAllowlistBlocksOutsideAddresses(t *testing.T) {
	deps, _ := newTestDeps(t)
	allow, err := security.ParseCIDRAllowlist([]string{"10.20.0.0/16", "192.0.2.7"})
	require.NoError(t, err)
	deps.IPAllowlist = allow

	h, err := NewRouter(deps)
	require.NoError(t, err)

	cases := []struct {
		remote string
		status int
	}{
		{"10.20.33.44:5120", http.StatusOK},
		{"192.0.2.7:9000", http.StatusOK},
		{"127.0.0.1:9000", http.StatusOK},
		{"198.51.100.8:9000", http.StatusForbidden},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/v1/accounts/", nil)
		req.RemoteAddr = tc.remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, tc.status, rec.Code, "remote %s", tc.remote)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/", nil)
	req.RemoteAddr = "198.51.100.8:9000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var errBody security.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&errBody))
	require.Equal(t, "forbidden", errBody.Error)
	require.Contains(t, errBody.Detail, "allowlist")
}
