package domain

import "time"

// Kind discriminates the two request types that move money.
type Kind string

const (
	KindRecharge Kind = "recharge"
	KindRedeem   Kind = "redeem"
)

// ClaimStatus is the processing_state claim field. A request is driven
// by at most one operator at a time.
type ClaimStatus string

const (
	ClaimIdle       ClaimStatus = "idle"
	ClaimInProgress ClaimStatus = "in_progress"
)

// Intent records what the claiming operator set out to do, so an
// interrupted session can be resumed instead of orphaning the lock.
type Intent string

const (
	IntentNone    Intent = "none"
	IntentProcess Intent = "process"
	IntentVerify  Intent = "verify"
	IntentPayment Intent = "payment"
	IntentDispute Intent = "dispute"
)

// ProcessingState is the claim slot on a request row.
// Invariant: Status == in_progress implies ClaimedBy != "" and Intent != none.
type ProcessingState struct {
	Status    ClaimStatus `json:"status"`
	ClaimedBy string      `json:"claimed_by,omitempty"`
	Intent    Intent      `json:"intent,omitempty"`
	ClaimedAt *time.Time  `json:"claimed_at,omitempty"`
}

// PaymentMethod is one disbursement leg of a redeem request. Entries
// are append-only; prior entries are never mutated.
type PaymentMethod struct {
	Amount     int64     `json:"amount"`
	CashTag    string    `json:"cashtag"`
	Reference  string    `json:"reference"`
	Notes      string    `json:"notes,omitempty"`
	Identifier string    `json:"identifier"`
	Timestamp  time.Time `json:"timestamp"`
}

// Request is a recharge or redeem record. Amounts are minor units.
// Invariant: AmountPaid + AmountHold <= TotalAmount, and AmountPaid
// equals the sum of Payments amounts.
type Request struct {
	ID          string          `json:"id"`
	ExternalID  string          `json:"external_id"`
	PlayerID    string          `json:"player_id"`
	TeamCode    string          `json:"team_code"`
	Kind        Kind            `json:"kind"`
	TotalAmount int64           `json:"total_amount"`
	AmountHold  int64           `json:"amount_hold"`
	AmountPaid  int64           `json:"amount_paid"`
	Status      Status          `json:"status"`
	Processing  ProcessingState `json:"processing_state"`
	AccountTag  string          `json:"account_tag,omitempty"`
	PromoCode   string          `json:"promo_code,omitempty"`
	Payments    []PaymentMethod `json:"payment_methods,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedBy string          `json:"processed_by,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// Claimed reports whether actor currently holds the claim.
func (r *Request) Claimed(actor string) bool {
	return r.Processing.Status == ClaimInProgress && r.Processing.ClaimedBy == actor
}

// Remaining is the portion of the total not yet paid out.
func (r *Request) Remaining() int64 {
	return r.TotalAmount - r.AmountPaid
}
