package domain

import "time"

// AccountStatus gates whether an account accepts credits and debits.
type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountPaused   AccountStatus = "paused"
	AccountDisabled AccountStatus = "disabled"
)

// Account is a balance-bearing ledger account (a "cashtag"). Balance
// and the counters update together inside one store transaction; they
// are never observably half-updated.
type Account struct {
	ID               string        `json:"id"`
	Tag              string        `json:"tag"`
	Balance          int64         `json:"balance"`
	TotalReceived    int64         `json:"total_received"`
	TotalWithdrawn   int64         `json:"total_withdrawn"`
	TransactionCount int64         `json:"transaction_count"`
	Status           AccountStatus `json:"status"`
	Limit            int64         `json:"limit"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Available reports whether the account accepts ledger mutations.
func (a *Account) Available() bool {
	return a.Status == AccountActive
}

// Credit applies a deposit settlement to the account in place.
// Callers must hold the account exclusively (store transaction or the
// memory store mutex).
func (a *Account) Credit(amount int64) error {
	if !a.Available() {
		return ErrAccountUnavailable
	}
	a.Balance += amount
	a.TotalReceived += amount
	a.TransactionCount++
	return nil
}

// Debit applies a disbursement to the account in place. It fails
// without partial effect when the balance does not cover the amount.
func (a *Account) Debit(amount int64) error {
	if !a.Available() {
		return ErrAccountUnavailable
	}
	if a.Balance < amount {
		return ErrInsufficientBalance
	}
	a.Balance -= amount
	a.TotalWithdrawn += amount
	a.TransactionCount++
	return nil
}
