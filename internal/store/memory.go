package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therafiali/internal-app-sub002/internal/activity"
	"github.com/therafiali/internal-app-sub002/internal/domain"
)

// Memory is a mutex-guarded implementation of Store with the same
// claim and settlement semantics as the Postgres store. It backs unit
// tests and local mode; every composite operation is atomic under the
// single mutex.
type Memory struct {
	mu       sync.Mutex
	requests map[string]*domain.Request
	accounts map[string]*domain.Account
	activity map[string][]*domain.ActivityEntry
	players  map[string]string
	promos   map[string]*Assignment
}

// Assignment is a promotion assignment row for the memory registry.
type Assignment struct {
	Code     string
	PlayerID string
	Status   string // assigned | used | unassigned
	UsedBy   string
}

func NewMemory() *Memory {
	return &Memory{
		requests: make(map[string]*domain.Request),
		accounts: make(map[string]*domain.Account),
		activity: make(map[string][]*domain.ActivityEntry),
		players:  make(map[string]string),
		promos:   make(map[string]*Assignment),
	}
}

func requestKey(kind domain.Kind, id string) string {
	return string(kind) + "/" + id
}

func cloneRequest(r *domain.Request) *domain.Request {
	cp := *r
	cp.Payments = append([]domain.PaymentMethod(nil), r.Payments...)
	if r.Processing.ClaimedAt != nil {
		t := *r.Processing.ClaimedAt
		cp.Processing.ClaimedAt = &t
	}
	if r.ProcessedAt != nil {
		t := *r.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}

func cloneAccount(a *domain.Account) *domain.Account {
	cp := *a
	return &cp
}

func cloneEntry(e *domain.ActivityEntry) *domain.ActivityEntry {
	cp := *e
	if e.Context != nil {
		cp.Context = make(map[string]any, len(e.Context))
		for k, v := range e.Context {
			cp.Context[k] = v
		}
	}
	return &cp
}

// --- RequestStore ---

func (m *Memory) GetRequest(ctx context.Context, kind domain.Kind, id string) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[requestKey(kind, id)]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	return cloneRequest(r), nil
}

func (m *Memory) CreateRequest(ctx context.Context, req *domain.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if req.Processing.Status == "" {
		req.Processing = domain.ProcessingState{Status: domain.ClaimIdle, Intent: domain.IntentNone}
	}
	if !domain.ValidStatus(req.Kind, req.Status) {
		return fmt.Errorf("unknown %s status %q", req.Kind, req.Status)
	}
	key := requestKey(req.Kind, req.ID)
	if _, exists := m.requests[key]; exists {
		return fmt.Errorf("request %s already exists", req.ID)
	}
	m.requests[key] = cloneRequest(req)
	return nil
}

func (m *Memory) ListRequests(ctx context.Context, kind domain.Kind, status domain.Status) ([]*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Request
	for _, r := range m.requests {
		if r.Kind != kind {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Claim(ctx context.Context, kind domain.Kind, id, actor string, intent domain.Intent) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[requestKey(kind, id)]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	if r.Processing.Status == domain.ClaimInProgress {
		return nil, &domain.ClaimConflictError{
			Kind:      kind,
			RequestID: id,
			HeldBy:    r.Processing.ClaimedBy,
			Intent:    r.Processing.Intent,
		}
	}
	now := time.Now().UTC()
	r.Processing = domain.ProcessingState{
		Status:    domain.ClaimInProgress,
		ClaimedBy: actor,
		Intent:    intent,
		ClaimedAt: &now,
	}
	return cloneRequest(r), nil
}

func (m *Memory) Release(ctx context.Context, kind domain.Kind, id, actor string, override bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[requestKey(kind, id)]
	if !ok {
		return domain.ErrRequestNotFound
	}
	if r.Processing.Status != domain.ClaimInProgress {
		return nil
	}
	if !override && r.Processing.ClaimedBy != actor {
		return domain.ErrNotClaimOwner
	}
	r.Processing = domain.ProcessingState{Status: domain.ClaimIdle, Intent: domain.IntentNone}
	return nil
}

func (m *Memory) ClaimsByActor(ctx context.Context, actor string) ([]*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.Request
	for _, r := range m.requests {
		if r.Processing.Status == domain.ClaimInProgress && r.Processing.ClaimedBy == actor {
			out = append(out, cloneRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ExpireClaims(ctx context.Context, cutoff time.Time) ([]ExpiredClaim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []ExpiredClaim
	for _, r := range m.requests {
		if r.Processing.Status != domain.ClaimInProgress || r.Processing.ClaimedAt == nil {
			continue
		}
		if r.Processing.ClaimedAt.After(cutoff) {
			continue
		}
		expired = append(expired, ExpiredClaim{
			Kind:      r.Kind,
			RequestID: r.ID,
			Actor:     r.Processing.ClaimedBy,
			Intent:    r.Processing.Intent,
		})
		r.Processing = domain.ProcessingState{Status: domain.ClaimIdle, Intent: domain.IntentNone}
	}
	return expired, nil
}

func (m *Memory) Transition(ctx context.Context, p TransitionParams) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[requestKey(p.Kind, p.RequestID)]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	if err := applyTransition(r, p); err != nil {
		return nil, err
	}
	return cloneRequest(r), nil
}

// applyTransition mutates r in place once every precondition holds.
// Shared by Transition and the composite settlement operations.
func applyTransition(r *domain.Request, p TransitionParams) error {
	if p.RequireClaim && !r.Claimed(p.Actor) {
		return domain.ErrNotClaimOwner
	}
	from := p.From
	if from == "" {
		from = r.Status
	}
	if r.Status != from {
		return &domain.InvalidTransitionError{Kind: p.Kind, RequestID: p.RequestID, From: r.Status, To: p.To}
	}
	if !domain.CanTransition(p.Kind, from, p.To) {
		return &domain.InvalidTransitionError{Kind: p.Kind, RequestID: p.RequestID, From: from, To: p.To}
	}
	r.Status = p.To
	if p.Reason != "" {
		r.Reason = p.Reason
	}
	if domain.Terminal(p.Kind, p.To) {
		now := time.Now().UTC()
		r.ProcessedBy = p.Actor
		r.ProcessedAt = &now
	}
	if p.ReleaseClaim || p.ForceIdle {
		r.Processing = domain.ProcessingState{Status: domain.ClaimIdle, Intent: domain.IntentNone}
	}
	return nil
}

// --- AccountStore ---

func (m *Memory) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, domain.ErrLedgerAccountNotFound
	}
	return cloneAccount(a), nil
}

func (m *Memory) GetAccountByTag(ctx context.Context, tag string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a := m.accountByTag(tag)
	if a == nil {
		return nil, domain.ErrLedgerAccountNotFound
	}
	return cloneAccount(a), nil
}

func (m *Memory) accountByTag(tag string) *domain.Account {
	for _, a := range m.accounts {
		if a.Tag == tag {
			return a
		}
	}
	return nil
}

func (m *Memory) CreateAccount(ctx context.Context, acct *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if acct.Status == "" {
		acct.Status = domain.AccountActive
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now().UTC()
	}
	if m.accountByTag(acct.Tag) != nil {
		return fmt.Errorf("account tag %s already exists", acct.Tag)
	}
	m.accounts[acct.ID] = cloneAccount(acct)
	return nil
}

func (m *Memory) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*domain.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, cloneAccount(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })
	return out, nil
}

func (m *Memory) SetAccountStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[id]
	if !ok {
		return domain.ErrLedgerAccountNotFound
	}
	a.Status = status
	return nil
}

// --- ActivityStore ---

func (m *Memory) AppendActivity(ctx context.Context, entry *domain.ActivityEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.appendActivityLocked(entry)
	return nil
}

func (m *Memory) appendActivityLocked(entry *domain.ActivityEntry) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	prev := ""
	stream := m.activity[entry.AccountID]
	if len(stream) > 0 {
		prev = stream[len(stream)-1].Hash
	}
	activity.Seal(entry, prev)
	m.activity[entry.AccountID] = append(stream, cloneEntry(entry))
}

func (m *Memory) ActivityForAccount(ctx context.Context, accountID string) ([]*domain.ActivityEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stream := m.activity[accountID]
	out := make([]*domain.ActivityEntry, 0, len(stream))
	for _, e := range stream {
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

// --- SettlementStore ---

func (m *Memory) SettleCredit(ctx context.Context, p SettleCreditParams) (*SettlementResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[requestKey(p.Kind, p.RequestID)]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	if !r.Claimed(p.Actor) {
		return nil, domain.ErrNotClaimOwner
	}
	if r.Status != p.From || !domain.CanTransition(p.Kind, p.From, p.To) {
		return nil, &domain.InvalidTransitionError{Kind: p.Kind, RequestID: p.RequestID, From: r.Status, To: p.To}
	}

	acct := m.accountByTag(r.AccountTag)
	if r.AccountTag == "" || acct == nil || !acct.Available() {
		return nil, domain.ErrLedgerAccountUnavailable
	}

	before := acct.Balance
	if err := acct.Credit(r.TotalAmount); err != nil {
		return nil, err
	}

	entry := &domain.ActivityEntry{
		Actor:         p.Actor,
		AccountID:     acct.ID,
		Action:        domain.ActionReceived,
		Amount:        r.TotalAmount,
		BalanceBefore: before,
		BalanceAfter:  acct.Balance,
		Status:        string(p.To),
		Context:       p.Context,
	}
	m.appendActivityLocked(entry)

	if err := applyTransition(r, TransitionParams{
		Kind: p.Kind, RequestID: p.RequestID, From: p.From, To: p.To,
		Actor: p.Actor, RequireClaim: true, ReleaseClaim: true,
	}); err != nil {
		// Preconditions were checked above; the mutex makes this unreachable.
		return nil, err
	}

	return &SettlementResult{Request: cloneRequest(r), Account: cloneAccount(acct), Entry: cloneEntry(entry)}, nil
}

func (m *Memory) ApplyPayment(ctx context.Context, p ApplyPaymentParams) (*SettlementResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[requestKey(domain.KindRedeem, p.RequestID)]
	if !ok {
		return nil, domain.ErrRequestNotFound
	}
	if !r.Claimed(p.Actor) {
		return nil, domain.ErrNotClaimOwner
	}
	if r.Status != domain.RedeemQueued && r.Status != domain.RedeemQueuedPartial {
		return nil, &domain.InvalidTransitionError{Kind: domain.KindRedeem, RequestID: p.RequestID, From: r.Status, To: domain.RedeemCompleted}
	}

	acct := m.accountByTag(p.CashTag)
	if acct == nil || !acct.Available() {
		return nil, domain.ErrLedgerAccountNotFound
	}
	if acct.Balance < p.Amount {
		return nil, domain.ErrInsufficientBalance
	}
	if p.Amount > r.AmountHold {
		return nil, domain.ErrHoldExceeded
	}

	newPaid := r.AmountPaid + p.Amount
	newStatus := domain.NextRedeemStatus(newPaid, r.TotalAmount)
	if !domain.CanTransition(domain.KindRedeem, r.Status, newStatus) {
		return nil, &domain.InvalidTransitionError{Kind: domain.KindRedeem, RequestID: p.RequestID, From: r.Status, To: newStatus}
	}

	before := acct.Balance
	if err := acct.Debit(p.Amount); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	r.Payments = append(r.Payments, domain.PaymentMethod{
		Amount:     p.Amount,
		CashTag:    p.CashTag,
		Reference:  p.Reference,
		Notes:      p.Notes,
		Identifier: p.Identifier,
		Timestamp:  now,
	})
	r.AmountPaid = newPaid
	r.AmountHold -= p.Amount
	r.Status = newStatus
	if domain.Terminal(domain.KindRedeem, newStatus) {
		r.ProcessedBy = p.Actor
		r.ProcessedAt = &now
	}
	r.Processing = domain.ProcessingState{Status: domain.ClaimIdle, Intent: domain.IntentNone}

	entry := &domain.ActivityEntry{
		Actor:         p.Actor,
		AccountID:     acct.ID,
		Action:        domain.ActionSent,
		Amount:        p.Amount,
		BalanceBefore: before,
		BalanceAfter:  acct.Balance,
		Status:        string(newStatus),
		Context: map[string]any{
			"request_id": r.ID,
			"reference":  p.Reference,
			"identifier": p.Identifier,
		},
	}
	m.appendActivityLocked(entry)

	return &SettlementResult{Request: cloneRequest(r), Account: cloneAccount(acct), Entry: cloneEntry(entry)}, nil
}

// --- Player registry and promotion assignments (memory fakes) ---

// SeedPlayer registers a player with a status ("active" or "banned").
func (m *Memory) SeedPlayer(playerID, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players[playerID] = status
}

// SeedAssignment registers a promotion assignment.
func (m *Memory) SeedAssignment(a Assignment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := a
	m.promos[a.Code] = &cp
}

func (m *Memory) PlayerStatus(ctx context.Context, playerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.players[playerID]
	if !ok {
		return "", fmt.Errorf("player %s not found", playerID)
	}
	return status, nil
}

func (m *Memory) BanPlayer(ctx context.Context, playerID, actor, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.players[playerID]; !ok {
		return fmt.Errorf("player %s not found", playerID)
	}
	m.players[playerID] = "banned"
	return nil
}

func (m *Memory) ConsumeAssignment(ctx context.Context, code, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.promos[code]
	if !ok {
		return domain.ErrPromotionAlreadyClaimed
	}
	switch a.Status {
	case "assigned":
		a.Status = "used"
		a.UsedBy = requestID
		return nil
	case "used":
		if a.UsedBy == requestID {
			return nil
		}
		return domain.ErrPromotionAlreadyClaimed
	default:
		return domain.ErrPromotionAlreadyClaimed
	}
}
