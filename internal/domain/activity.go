package domain

import "time"

// Action classifies a ledger mutation in the activity trail.
type Action string

const (
	ActionReceived   Action = "RECEIVED"
	ActionSent       Action = "SENT"
	ActionSentFailed Action = "SENT/failed"
	ActionFailed     Action = "FAILED"
)

// ActivityEntry is one immutable audit record. It carries a full
// before/after balance snapshot so history is reconstructible without
// replaying mutations. Entries are hash-chained per account stream.
type ActivityEntry struct {
	ID            string         `json:"id"`
	Actor         string         `json:"actor"`
	AccountID     string         `json:"account_id"`
	Action        Action         `json:"action"`
	Amount        int64          `json:"amount"`
	BalanceBefore int64          `json:"balance_before"`
	BalanceAfter  int64          `json:"balance_after"`
	Status        string         `json:"status"`
	Context       map[string]any `json:"context,omitempty"`
	PrevHash      string         `json:"prev_hash"`
	Hash          string         `json:"hash"`
	CreatedAt     time.Time      `json:"created_at"`
}

// Delta is the signed balance change the entry records, derived from
// the snapshot rather than the amount field.
func (e *ActivityEntry) Delta() int64 {
	return e.BalanceAfter - e.BalanceBefore
}
