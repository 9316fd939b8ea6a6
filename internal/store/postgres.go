package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/therafiali/internal-app-sub002/internal/activity"
	"github.com/therafiali/internal-app-sub002/internal/domain"
)

// Postgres implements Store on a pgx pool. Composite settlement
// operations run inside one SERIALIZABLE transaction with row locks;
// serialization failures retry a bounded number of times.
type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

func (pg *Postgres) Close() {
	pg.Pool.Close()
}

const (
	maxTxRetries = 3
	queryTimeout = 5 * time.Second
)

// withSerializableTx runs fn in a SERIALIZABLE transaction, retrying
// on serialization failure (SQLSTATE 40001).
func (pg *Postgres) withSerializableTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := pg.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "40001" {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("transaction failed after %d retries due to serialization failure: %w", maxTxRetries, lastErr)
}

func (pg *Postgres) runTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	conn, err := pg.Pool.Acquire(queryCtx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(queryCtx, pgx.TxOptions{
		IsoLevel:   pgx.Serializable,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(queryCtx)

	if err := fn(queryCtx, tx); err != nil {
		return err
	}
	return tx.Commit(queryCtx)
}

const requestColumns = `
	id, kind, external_id, player_id, team_code,
	total_amount, amount_hold, amount_paid, status,
	claim_status, claimed_by, claim_intent, claimed_at,
	account_tag, promo_code, reason, created_at, processed_by, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (*domain.Request, error) {
	var r domain.Request
	var claimedBy, claimIntent, accountTag, promoCode, reason, processedBy *string
	var claimedAt, processedAt *time.Time

	err := row.Scan(
		&r.ID, &r.Kind, &r.ExternalID, &r.PlayerID, &r.TeamCode,
		&r.TotalAmount, &r.AmountHold, &r.AmountPaid, &r.Status,
		&r.Processing.Status, &claimedBy, &claimIntent, &claimedAt,
		&accountTag, &promoCode, &reason, &r.CreatedAt, &processedBy, &processedAt,
	)
	if err != nil {
		return nil, err
	}
	if claimedBy != nil {
		r.Processing.ClaimedBy = *claimedBy
	}
	if claimIntent != nil {
		r.Processing.Intent = domain.Intent(*claimIntent)
	} else {
		r.Processing.Intent = domain.IntentNone
	}
	r.Processing.ClaimedAt = claimedAt
	if accountTag != nil {
		r.AccountTag = *accountTag
	}
	if promoCode != nil {
		r.PromoCode = *promoCode
	}
	if reason != nil {
		r.Reason = *reason
	}
	if processedBy != nil {
		r.ProcessedBy = *processedBy
	}
	r.ProcessedAt = processedAt
	return &r, nil
}

func (pg *Postgres) loadPayments(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, req *domain.Request) error {
	rows, err := q.Query(ctx, `
		SELECT amount, cashtag, reference, notes, identifier, created_at
		FROM payment_methods
		WHERE request_id = $1
		ORDER BY created_at ASC, id ASC
	`, req.ID)
	if err != nil {
		return fmt.Errorf("failed to query payment methods: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.PaymentMethod
		var notes *string
		if err := rows.Scan(&p.Amount, &p.CashTag, &p.Reference, &notes, &p.Identifier, &p.Timestamp); err != nil {
			return fmt.Errorf("failed to scan payment method: %w", err)
		}
		if notes != nil {
			p.Notes = *notes
		}
		req.Payments = append(req.Payments, p)
	}
	return rows.Err()
}

// --- RequestStore ---

func (pg *Postgres) GetRequest(ctx context.Context, kind domain.Kind, id string) (*domain.Request, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := pg.Pool.QueryRow(queryCtx, `SELECT `+requestColumns+` FROM requests WHERE kind = $1 AND id = $2`, kind, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to get request: %w", err)
	}
	if err := pg.loadPayments(queryCtx, pg.Pool, req); err != nil {
		return nil, err
	}
	return req, nil
}

func (pg *Postgres) CreateRequest(ctx context.Context, req *domain.Request) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now().UTC()
	}
	if !domain.ValidStatus(req.Kind, req.Status) {
		return fmt.Errorf("unknown %s status %q", req.Kind, req.Status)
	}

	_, err := pg.Pool.Exec(queryCtx, `
		INSERT INTO requests (
			id, kind, external_id, player_id, team_code,
			total_amount, amount_hold, amount_paid, status,
			claim_status, claim_intent, account_tag, promo_code, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'idle', 'none', NULLIF($10, ''), NULLIF($11, ''), $12)
	`, req.ID, req.Kind, req.ExternalID, req.PlayerID, req.TeamCode,
		req.TotalAmount, req.AmountHold, req.AmountPaid, req.Status,
		req.AccountTag, req.PromoCode, req.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert request: %w", err)
	}
	return nil
}

func (pg *Postgres) ListRequests(ctx context.Context, kind domain.Kind, status domain.Status) ([]*domain.Request, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `SELECT ` + requestColumns + ` FROM requests WHERE kind = $1`
	args := []any{kind}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC`

	rows, err := pg.Pool.Query(queryCtx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var out []*domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan request: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

// Claim is a single conditional UPDATE: the row flips from idle to
// in_progress only if it is idle at execution time. No check-then-set.
// When the miss turns out to be a holder releasing between our two
// statements, the conditional UPDATE runs once more so the operator
// is not bounced off a free row with a nameless conflict.
func (pg *Postgres) Claim(ctx context.Context, kind domain.Kind, id, actor string, intent domain.Intent) (*domain.Request, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	for attempt := 0; attempt < 2; attempt++ {
		row := pg.Pool.QueryRow(queryCtx, `
			UPDATE requests
			SET claim_status = 'in_progress', claimed_by = $3, claim_intent = $4, claimed_at = now()
			WHERE kind = $1 AND id = $2 AND claim_status = 'idle'
			RETURNING `+requestColumns, kind, id, actor, intent)

		req, err := scanRequest(row)
		if err == nil {
			return req, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to claim request: %w", err)
		}

		// No idle row matched: missing, claimed, or released mid-flight.
		var claimStatus string
		var holder, holderIntent *string
		err = pg.Pool.QueryRow(queryCtx,
			`SELECT claim_status, claimed_by, claim_intent FROM requests WHERE kind = $1 AND id = $2`,
			kind, id).Scan(&claimStatus, &holder, &holderIntent)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, domain.ErrRequestNotFound
			}
			return nil, fmt.Errorf("failed to inspect claim holder: %w", err)
		}
		if claimStatus == string(domain.ClaimIdle) {
			continue
		}

		conflict := &domain.ClaimConflictError{Kind: kind, RequestID: id}
		if holder != nil {
			conflict.HeldBy = *holder
		}
		if holderIntent != nil {
			conflict.Intent = domain.Intent(*holderIntent)
		}
		return nil, conflict
	}

	// Lost the race to another claimer twice in a row.
	return nil, &domain.ClaimConflictError{Kind: kind, RequestID: id, HeldBy: "another operator"}
}

func (pg *Postgres) Release(ctx context.Context, kind domain.Kind, id, actor string, override bool) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := `
		UPDATE requests
		SET claim_status = 'idle', claimed_by = NULL, claim_intent = 'none', claimed_at = NULL
		WHERE kind = $1 AND id = $2 AND claim_status = 'in_progress'`
	args := []any{kind, id}
	if !override {
		query += ` AND claimed_by = $3`
		args = append(args, actor)
	}

	tag, err := pg.Pool.Exec(queryCtx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to release claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		var claimStatus string
		err := pg.Pool.QueryRow(queryCtx,
			`SELECT TRUE, claim_status FROM requests WHERE kind = $1 AND id = $2`,
			kind, id).Scan(&exists, &claimStatus)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrRequestNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to inspect claim: %w", err)
		}
		if claimStatus == string(domain.ClaimInProgress) {
			return domain.ErrNotClaimOwner
		}
	}
	return nil
}

func (pg *Postgres) ClaimsByActor(ctx context.Context, actor string) ([]*domain.Request, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := pg.Pool.Query(queryCtx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE claim_status = 'in_progress' AND claimed_by = $1
		ORDER BY claimed_at ASC
	`, actor)
	if err != nil {
		return nil, fmt.Errorf("failed to query claims: %w", err)
	}
	defer rows.Close()

	var out []*domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan claim: %w", err)
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (pg *Postgres) ExpireClaims(ctx context.Context, cutoff time.Time) ([]ExpiredClaim, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := pg.Pool.Query(queryCtx, `
		WITH expired AS (
			SELECT kind, id, claimed_by, claim_intent
			FROM requests
			WHERE claim_status = 'in_progress' AND claimed_at <= $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE requests r
		SET claim_status = 'idle', claimed_by = NULL, claim_intent = 'none', claimed_at = NULL
		FROM expired e
		WHERE r.kind = e.kind AND r.id = e.id
		RETURNING e.kind, e.id, e.claimed_by, e.claim_intent
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to expire claims: %w", err)
	}
	defer rows.Close()

	var out []ExpiredClaim
	for rows.Next() {
		var e ExpiredClaim
		var actor, intent *string
		if err := rows.Scan(&e.Kind, &e.RequestID, &actor, &intent); err != nil {
			return nil, fmt.Errorf("failed to scan expired claim: %w", err)
		}
		if actor != nil {
			e.Actor = *actor
		}
		if intent != nil {
			e.Intent = domain.Intent(*intent)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (pg *Postgres) Transition(ctx context.Context, p TransitionParams) (*domain.Request, error) {
	var result *domain.Request
	err := pg.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		req, err := pg.lockRequest(ctx, tx, p.Kind, p.RequestID)
		if err != nil {
			return err
		}
		if err := validateTransition(req, p); err != nil {
			return err
		}
		result, err = pg.writeTransition(ctx, tx, req, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (pg *Postgres) lockRequest(ctx context.Context, tx pgx.Tx, kind domain.Kind, id string) (*domain.Request, error) {
	row := tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE kind = $1 AND id = $2 FOR UPDATE`, kind, id)
	req, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRequestNotFound
		}
		return nil, fmt.Errorf("failed to lock request: %w", err)
	}
	return req, nil
}

func validateTransition(req *domain.Request, p TransitionParams) error {
	if p.RequireClaim && !req.Claimed(p.Actor) {
		return domain.ErrNotClaimOwner
	}
	from := p.From
	if from == "" {
		from = req.Status
	}
	if req.Status != from || !domain.CanTransition(p.Kind, from, p.To) {
		return &domain.InvalidTransitionError{Kind: p.Kind, RequestID: p.RequestID, From: req.Status, To: p.To}
	}
	return nil
}

func (pg *Postgres) writeTransition(ctx context.Context, tx pgx.Tx, req *domain.Request, p TransitionParams) (*domain.Request, error) {
	releaseClaim := p.ReleaseClaim || p.ForceIdle
	terminal := domain.Terminal(p.Kind, p.To)

	row := tx.QueryRow(ctx, `
		UPDATE requests SET
			status = $3,
			reason = COALESCE(NULLIF($4, ''), reason),
			processed_by = CASE WHEN $5 THEN $6 ELSE processed_by END,
			processed_at = CASE WHEN $5 THEN now() ELSE processed_at END,
			claim_status = CASE WHEN $7 THEN 'idle' ELSE claim_status END,
			claimed_by  = CASE WHEN $7 THEN NULL ELSE claimed_by END,
			claim_intent = CASE WHEN $7 THEN 'none' ELSE claim_intent END,
			claimed_at  = CASE WHEN $7 THEN NULL ELSE claimed_at END
		WHERE kind = $1 AND id = $2
		RETURNING `+requestColumns,
		p.Kind, p.RequestID, p.To, p.Reason, terminal, p.Actor, releaseClaim)

	updated, err := scanRequest(row)
	if err != nil {
		return nil, fmt.Errorf("failed to update request status: %w", err)
	}
	updated.Payments = req.Payments
	return updated, nil
}

// --- AccountStore ---

const accountColumns = `id, tag, balance, total_received, total_withdrawn, transaction_count, status, limit_amount, created_at`

func scanAccount(row rowScanner) (*domain.Account, error) {
	var a domain.Account
	err := row.Scan(&a.ID, &a.Tag, &a.Balance, &a.TotalReceived, &a.TotalWithdrawn,
		&a.TransactionCount, &a.Status, &a.Limit, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (pg *Postgres) GetAccount(ctx context.Context, id string) (*domain.Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := pg.Pool.QueryRow(queryCtx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLedgerAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

func (pg *Postgres) GetAccountByTag(ctx context.Context, tag string) (*domain.Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	row := pg.Pool.QueryRow(queryCtx, `SELECT `+accountColumns+` FROM accounts WHERE tag = $1`, tag)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLedgerAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account by tag: %w", err)
	}
	return acct, nil
}

func (pg *Postgres) CreateAccount(ctx context.Context, acct *domain.Account) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	if acct.ID == "" {
		acct.ID = uuid.NewString()
	}
	if acct.Status == "" {
		acct.Status = domain.AccountActive
	}
	_, err := pg.Pool.Exec(queryCtx, `
		INSERT INTO accounts (id, tag, balance, total_received, total_withdrawn, transaction_count, status, limit_amount)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, acct.ID, acct.Tag, acct.Balance, acct.TotalReceived, acct.TotalWithdrawn,
		acct.TransactionCount, acct.Status, acct.Limit)
	if err != nil {
		return fmt.Errorf("failed to insert account: %w", err)
	}
	return nil
}

func (pg *Postgres) ListAccounts(ctx context.Context) ([]*domain.Account, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := pg.Pool.Query(queryCtx, `SELECT `+accountColumns+` FROM accounts ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("failed to query accounts: %w", err)
	}
	defer rows.Close()

	var out []*domain.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, acct)
	}
	return out, rows.Err()
}

func (pg *Postgres) SetAccountStatus(ctx context.Context, id string, status domain.AccountStatus) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := pg.Pool.Exec(queryCtx, `UPDATE accounts SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to set account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrLedgerAccountNotFound
	}
	return nil
}

// --- ActivityStore ---

func (pg *Postgres) AppendActivity(ctx context.Context, entry *domain.ActivityEntry) error {
	return pg.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return pg.appendActivityTx(ctx, tx, entry)
	})
}

// appendActivityTx seals the entry against the stream head and inserts
// it. Must run inside a transaction holding the account row lock so
// the chain never forks.
func (pg *Postgres) appendActivityTx(ctx context.Context, tx pgx.Tx, entry *domain.ActivityEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}

	var prev string
	err := tx.QueryRow(ctx, `
		SELECT hash FROM activity_log
		WHERE account_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, entry.AccountID).Scan(&prev)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("failed to read activity chain head: %w", err)
	}
	activity.Seal(entry, prev)

	_, err = tx.Exec(ctx, `
		INSERT INTO activity_log (
			id, account_id, actor, action, amount,
			balance_before, balance_after, status, context, prev_hash, hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, entry.ID, entry.AccountID, entry.Actor, entry.Action, entry.Amount,
		entry.BalanceBefore, entry.BalanceAfter, entry.Status, entry.Context,
		entry.PrevHash, entry.Hash, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert activity entry: %w", err)
	}
	return nil
}

func (pg *Postgres) ActivityForAccount(ctx context.Context, accountID string) ([]*domain.ActivityEntry, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := pg.Pool.Query(queryCtx, `
		SELECT id, account_id, actor, action, amount,
			balance_before, balance_after, status, context, prev_hash, hash, created_at
		FROM activity_log
		WHERE account_id = $1
		ORDER BY seq ASC
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity: %w", err)
	}
	defer rows.Close()

	var out []*domain.ActivityEntry
	for rows.Next() {
		var e domain.ActivityEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Actor, &e.Action, &e.Amount,
			&e.BalanceBefore, &e.BalanceAfter, &e.Status, &e.Context,
			&e.PrevHash, &e.Hash, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// --- SettlementStore ---

func (pg *Postgres) SettleCredit(ctx context.Context, p SettleCreditParams) (*SettlementResult, error) {
	var result *SettlementResult
	err := pg.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		req, err := pg.lockRequest(ctx, tx, p.Kind, p.RequestID)
		if err != nil {
			return err
		}
		if !req.Claimed(p.Actor) {
			return domain.ErrNotClaimOwner
		}
		if req.Status != p.From || !domain.CanTransition(p.Kind, p.From, p.To) {
			return &domain.InvalidTransitionError{Kind: p.Kind, RequestID: p.RequestID, From: req.Status, To: p.To}
		}

		acct, err := pg.lockAccountByTag(ctx, tx, req.AccountTag)
		if errors.Is(err, domain.ErrLedgerAccountNotFound) {
			return domain.ErrLedgerAccountUnavailable
		}
		if err != nil {
			return err
		}
		if !acct.Available() {
			return domain.ErrLedgerAccountUnavailable
		}

		before := acct.Balance
		row := tx.QueryRow(ctx, `
			UPDATE accounts
			SET balance = balance + $2,
				total_received = total_received + $2,
				transaction_count = transaction_count + 1
			WHERE id = $1 AND status = 'active'
			RETURNING `+accountColumns, acct.ID, req.TotalAmount)
		acct, err = scanAccount(row)
		if err != nil {
			return fmt.Errorf("failed to credit account: %w", err)
		}

		entry := &domain.ActivityEntry{
			Actor:         p.Actor,
			AccountID:     acct.ID,
			Action:        domain.ActionReceived,
			Amount:        req.TotalAmount,
			BalanceBefore: before,
			BalanceAfter:  acct.Balance,
			Status:        string(p.To),
			Context:       p.Context,
			CreatedAt:     time.Now().UTC(),
		}
		if err := pg.appendActivityTx(ctx, tx, entry); err != nil {
			return err
		}

		updated, err := pg.writeTransition(ctx, tx, req, TransitionParams{
			Kind: p.Kind, RequestID: p.RequestID, From: p.From, To: p.To,
			Actor: p.Actor, RequireClaim: true, ReleaseClaim: true,
		})
		if err != nil {
			return err
		}

		result = &SettlementResult{Request: updated, Account: acct, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (pg *Postgres) lockAccountByTag(ctx context.Context, tx pgx.Tx, tag string) (*domain.Account, error) {
	if tag == "" {
		return nil, domain.ErrLedgerAccountNotFound
	}
	row := tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE tag = $1 FOR UPDATE`, tag)
	acct, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrLedgerAccountNotFound
		}
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return acct, nil
}

func (pg *Postgres) ApplyPayment(ctx context.Context, p ApplyPaymentParams) (*SettlementResult, error) {
	var result *SettlementResult
	err := pg.withSerializableTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		req, err := pg.lockRequest(ctx, tx, domain.KindRedeem, p.RequestID)
		if err != nil {
			return err
		}
		if !req.Claimed(p.Actor) {
			return domain.ErrNotClaimOwner
		}
		if req.Status != domain.RedeemQueued && req.Status != domain.RedeemQueuedPartial {
			return &domain.InvalidTransitionError{Kind: domain.KindRedeem, RequestID: p.RequestID, From: req.Status, To: domain.RedeemCompleted}
		}

		acct, err := pg.lockAccountByTag(ctx, tx, p.CashTag)
		if err != nil {
			return err
		}
		if !acct.Available() {
			return domain.ErrLedgerAccountNotFound
		}
		if acct.Balance < p.Amount {
			return domain.ErrInsufficientBalance
		}
		if p.Amount > req.AmountHold {
			return domain.ErrHoldExceeded
		}

		newPaid := req.AmountPaid + p.Amount
		newStatus := domain.NextRedeemStatus(newPaid, req.TotalAmount)
		if !domain.CanTransition(domain.KindRedeem, req.Status, newStatus) {
			return &domain.InvalidTransitionError{Kind: domain.KindRedeem, RequestID: p.RequestID, From: req.Status, To: newStatus}
		}

		before := acct.Balance
		row := tx.QueryRow(ctx, `
			UPDATE accounts
			SET balance = balance - $2,
				total_withdrawn = total_withdrawn + $2,
				transaction_count = transaction_count + 1
			WHERE id = $1 AND status = 'active' AND balance >= $2
			RETURNING `+accountColumns, acct.ID, p.Amount)
		acct, err = scanAccount(row)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrInsufficientBalance
			}
			return fmt.Errorf("failed to debit account: %w", err)
		}

		now := time.Now().UTC()
		_, err = tx.Exec(ctx, `
			INSERT INTO payment_methods (id, request_id, amount, cashtag, reference, notes, identifier, created_at)
			VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8)
		`, uuid.NewString(), req.ID, p.Amount, p.CashTag, p.Reference, p.Notes, p.Identifier, now)
		if err != nil {
			return fmt.Errorf("failed to insert payment method: %w", err)
		}

		terminal := domain.Terminal(domain.KindRedeem, newStatus)
		rrow := tx.QueryRow(ctx, `
			UPDATE requests SET
				status = $2,
				amount_paid = $3,
				amount_hold = amount_hold - $4,
				processed_by = CASE WHEN $5 THEN $6 ELSE processed_by END,
				processed_at = CASE WHEN $5 THEN now() ELSE processed_at END,
				claim_status = 'idle', claimed_by = NULL, claim_intent = 'none', claimed_at = NULL
			WHERE id = $1
			RETURNING `+requestColumns,
			req.ID, newStatus, newPaid, p.Amount, terminal, p.Actor)
		updated, err := scanRequest(rrow)
		if err != nil {
			return fmt.Errorf("failed to update redeem request: %w", err)
		}
		updated.Payments = append(req.Payments, domain.PaymentMethod{
			Amount: p.Amount, CashTag: p.CashTag, Reference: p.Reference,
			Notes: p.Notes, Identifier: p.Identifier, Timestamp: now,
		})

		entry := &domain.ActivityEntry{
			Actor:         p.Actor,
			AccountID:     acct.ID,
			Action:        domain.ActionSent,
			Amount:        p.Amount,
			BalanceBefore: before,
			BalanceAfter:  acct.Balance,
			Status:        string(newStatus),
			Context: map[string]any{
				"request_id": req.ID,
				"reference":  p.Reference,
				"identifier": p.Identifier,
			},
			CreatedAt: now,
		}
		if err := pg.appendActivityTx(ctx, tx, entry); err != nil {
			return err
		}

		result = &SettlementResult{Request: updated, Account: acct, Entry: entry}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// --- Player registry and promotion assignments ---

func (pg *Postgres) PlayerStatus(ctx context.Context, playerID string) (string, error) {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var status string
	err := pg.Pool.QueryRow(queryCtx, `SELECT status FROM players WHERE id = $1`, playerID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("player %s not found", playerID)
		}
		return "", fmt.Errorf("failed to get player status: %w", err)
	}
	return status, nil
}

func (pg *Postgres) BanPlayer(ctx context.Context, playerID, actor, reason string) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := pg.Pool.Exec(queryCtx, `
		UPDATE players SET status = 'banned', banned_by = $2, ban_reason = $3, banned_at = now()
		WHERE id = $1
	`, playerID, actor, reason)
	if err != nil {
		return fmt.Errorf("failed to ban player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("player %s not found", playerID)
	}
	return nil
}

// ConsumeAssignment flips a promotion assignment assigned -> used with
// a single conditional update. Re-consumption by the same request is a
// no-op so the verify path can re-validate its own consumption.
func (pg *Postgres) ConsumeAssignment(ctx context.Context, code, requestID string) error {
	queryCtx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	tag, err := pg.Pool.Exec(queryCtx, `
		UPDATE promotion_assignments
		SET status = 'used', used_by = $2, used_at = now()
		WHERE code = $1 AND status = 'assigned'
	`, code, requestID)
	if err != nil {
		return fmt.Errorf("failed to consume promotion assignment: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var usedBy *string
	err = pg.Pool.QueryRow(queryCtx,
		`SELECT used_by FROM promotion_assignments WHERE code = $1 AND status = 'used'`,
		code).Scan(&usedBy)
	if err == nil && usedBy != nil && *usedBy == requestID {
		return nil
	}
	return domain.ErrPromotionAlreadyClaimed
}
