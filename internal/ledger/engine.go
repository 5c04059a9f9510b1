package ledger

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/harborbank/backend/internal/models"
)

// Engine owns the balance-ledger rules: classifying a transaction's effect,
// applying it on create, and reversing/recomputing it on update and delete.
// It holds no state between operations; the database is the sole source of
// truth and the synchronization boundary. Every mutating operation runs as
// one atomic unit with the owning user's row locked FOR UPDATE, so two
// writers against the same account serialize while different accounts
// proceed in parallel.
type Engine struct {
	db *sql.DB
}

func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// CreateParams carries a deposit/withdrawal/adjustment request. Amount is the
// raw client string so the engine owns its validation.
type CreateParams struct {
	Email       string
	Description string
	Amount      string
	Type        string
	Date        time.Time
	IsPending   bool
}

// Patch is a partial transaction update; nil fields retain prior values.
type Patch struct {
	Description *string
	Amount      *string
	Type        *string
	Date        *time.Time
	IsPending   *bool
}

// Create applies a new transaction to the account resolved by email and
// returns the created row plus the new account balance. Validation happens
// before any store mutation. The insert, the snapshot recompute and the
// balance write commit together or not at all.
func (e *Engine) Create(ctx context.Context, p CreateParams) (*models.Transaction, decimal.Decimal, error) {
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, decimal.Zero, err
	}
	delta, err := Effect(amount, p.Type)
	if err != nil {
		return nil, decimal.Zero, err
	}

	date := p.Date
	if date.IsZero() {
		date = time.Now().UTC()
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, decimal.Zero, storeErr(err)
	}
	defer tx.Rollback()

	var userID int
	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT id, balance FROM users WHERE email = $1 FOR UPDATE`,
		p.Email).Scan(&userID, &balance)
	if err == sql.ErrNoRows {
		return nil, decimal.Zero, ErrAccountNotFound
	}
	if err != nil {
		return nil, decimal.Zero, storeErr(err)
	}

	txs, err := loadTransactions(ctx, tx, userID)
	if err != nil {
		return nil, decimal.Zero, err
	}
	baseline, err := baselineFor(balance, txs)
	if err != nil {
		return nil, decimal.Zero, err
	}

	newBalance := balance.Add(delta).Round(2)
	row := &models.Transaction{
		ID:             uuid.NewString(),
		UserID:         userID,
		Description:    p.Description,
		Amount:         amount.Round(2),
		Type:           p.Type,
		Date:           date,
		UpdatedBalance: newBalance,
		IsPending:      p.IsPending,
		CreatedAt:      time.Now().UTC(),
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, description, amount, type, date, updated_balance, is_pending, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		row.ID, row.UserID, row.Description, row.Amount, row.Type, row.Date,
		row.UpdatedBalance, row.IsPending, row.CreatedAt)
	if err != nil {
		return nil, decimal.Zero, storeErr(err)
	}

	// A backdated insert shifts the snapshot of every later row, so replay
	// the whole ordered list. For an append at the end this changes nothing.
	stored := snapshotIndex(txs)
	stored[row.ID] = row.UpdatedBalance
	txs = append(txs, row)
	sortChronological(txs)

	final, err := replay(baseline, txs)
	if err != nil {
		return nil, decimal.Zero, err
	}
	if err := writeSnapshots(ctx, tx, txs, stored); err != nil {
		return nil, decimal.Zero, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET balance = $1, updated_at = NOW() WHERE id = $2`,
		final, userID)
	if err != nil {
		return nil, decimal.Zero, storeErr(err)
	}

	if err := tx.Commit(); err != nil {
		return nil, decimal.Zero, storeErr(err)
	}
	return row, final, nil
}

// Update patches a transaction and recomputes the full chronological ledger
// for its account. Editing an amount, type or date can shift every
// subsequent balance snapshot, so replaying the whole ordered sequence is
// the only strategy that keeps the updatedBalance invariant intact for all
// rows, not just the edited one. Returns the final account balance.
func (e *Engine) Update(ctx context.Context, id string, p Patch) (decimal.Decimal, error) {
	var amount decimal.Decimal
	if p.Amount != nil {
		var err error
		amount, err = parseAmount(*p.Amount)
		if err != nil {
			return decimal.Zero, err
		}
	}
	if p.Type != nil {
		if _, err := Classify(*p.Type); err != nil {
			return decimal.Zero, err
		}
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return decimal.Zero, storeErr(err)
	}
	defer tx.Rollback()

	userID, balance, err := lockOwner(ctx, tx, id)
	if err != nil {
		return decimal.Zero, err
	}

	txs, err := loadTransactions(ctx, tx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	baseline, err := baselineFor(balance, txs)
	if err != nil {
		return decimal.Zero, err
	}

	var target *models.Transaction
	for _, t := range txs {
		if t.ID == id {
			target = t
			break
		}
	}
	if target == nil {
		return decimal.Zero, ErrTransactionNotFound
	}

	stored := snapshotIndex(txs)
	if p.Description != nil {
		target.Description = *p.Description
	}
	if p.Amount != nil {
		target.Amount = amount.Round(2)
	}
	if p.Type != nil {
		target.Type = *p.Type
	}
	if p.Date != nil {
		target.Date = *p.Date
	}
	if p.IsPending != nil {
		target.IsPending = *p.IsPending
	}
	sortChronological(txs)

	final, err := replay(baseline, txs)
	if err != nil {
		return decimal.Zero, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE transactions SET description = $1, amount = $2, type = $3, date = $4, is_pending = $5, updated_balance = $6 WHERE id = $7`,
		target.Description, target.Amount, target.Type, target.Date,
		target.IsPending, target.UpdatedBalance, target.ID)
	if err != nil {
		return decimal.Zero, storeErr(err)
	}
	stored[target.ID] = target.UpdatedBalance

	if err := writeSnapshots(ctx, tx, txs, stored); err != nil {
		return decimal.Zero, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET balance = $1, updated_at = NOW() WHERE id = $2`,
		final, userID)
	if err != nil {
		return decimal.Zero, storeErr(err)
	}

	if err := tx.Commit(); err != nil {
		return decimal.Zero, storeErr(err)
	}
	return final, nil
}

// Delete removes a transaction, reverses its effect on the account balance
// and recomputes the snapshots of every remaining row.
func (e *Engine) Delete(ctx context.Context, id string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err)
	}
	defer tx.Rollback()

	userID, balance, err := lockOwner(ctx, tx, id)
	if err != nil {
		return err
	}

	txs, err := loadTransactions(ctx, tx, userID)
	if err != nil {
		return err
	}
	baseline, err := baselineFor(balance, txs)
	if err != nil {
		return err
	}

	remaining := txs[:0]
	found := false
	for _, t := range txs {
		if t.ID == id {
			found = true
			continue
		}
		remaining = append(remaining, t)
	}
	if !found {
		return ErrTransactionNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id); err != nil {
		return storeErr(err)
	}

	stored := snapshotIndex(remaining)
	final, err := replay(baseline, remaining)
	if err != nil {
		return err
	}
	if err := writeSnapshots(ctx, tx, remaining, stored); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE users SET balance = $1, updated_at = NOW() WHERE id = $2`,
		final, userID)
	if err != nil {
		return storeErr(err)
	}

	if err := tx.Commit(); err != nil {
		return storeErr(err)
	}
	return nil
}

// Get fetches a single transaction by id.
func (e *Engine) Get(ctx context.Context, id string) (*models.Transaction, error) {
	t := &models.Transaction{}
	err := e.db.QueryRowContext(ctx,
		`SELECT id, user_id, description, amount, type, date, updated_balance, is_pending, created_at
		 FROM transactions WHERE id = $1`, id).
		Scan(&t.ID, &t.UserID, &t.Description, &t.Amount, &t.Type, &t.Date,
			&t.UpdatedBalance, &t.IsPending, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, storeErr(err)
	}
	return t, nil
}

// ListByUser returns one page of a user's transactions plus the total count.
// Order is "asc" or "desc" by date; anything else defaults to descending.
func (e *Engine) ListByUser(ctx context.Context, userID int, order string, limit, offset int) ([]models.Transaction, int, error) {
	dir := "DESC"
	if strings.EqualFold(order, "asc") {
		dir = "ASC"
	}

	rows, err := e.db.QueryContext(ctx,
		`SELECT id, user_id, description, amount, type, date, updated_balance, is_pending, created_at
		 FROM transactions WHERE user_id = $1
		 ORDER BY date `+dir+`, created_at `+dir+`, id `+dir+`
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.UserID, &t.Description, &t.Amount, &t.Type,
			&t.Date, &t.UpdatedBalance, &t.IsPending, &t.CreatedAt); err != nil {
			return nil, 0, storeErr(err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr(err)
	}

	var total int
	err = e.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE user_id = $1`, userID).Scan(&total)
	if err != nil {
		return nil, 0, storeErr(err)
	}
	return transactions, total, nil
}

// lockOwner resolves the transaction's owning user and locks that user's row
// for the duration of the atomic unit.
func lockOwner(ctx context.Context, tx *sql.Tx, txID string) (int, decimal.Decimal, error) {
	var userID int
	err := tx.QueryRowContext(ctx,
		`SELECT user_id FROM transactions WHERE id = $1`, txID).Scan(&userID)
	if err == sql.ErrNoRows {
		return 0, decimal.Zero, ErrTransactionNotFound
	}
	if err != nil {
		return 0, decimal.Zero, storeErr(err)
	}

	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx,
		`SELECT balance FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, decimal.Zero, ErrAccountNotFound
	}
	if err != nil {
		return 0, decimal.Zero, storeErr(err)
	}
	return userID, balance, nil
}

func loadTransactions(ctx context.Context, tx *sql.Tx, userID int) ([]*models.Transaction, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, user_id, description, amount, type, date, updated_balance, is_pending, created_at
		 FROM transactions WHERE user_id = $1
		 ORDER BY date ASC, created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	defer rows.Close()

	var txs []*models.Transaction
	for rows.Next() {
		t := &models.Transaction{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.Description, &t.Amount, &t.Type,
			&t.Date, &t.UpdatedBalance, &t.IsPending, &t.CreatedAt); err != nil {
			return nil, storeErr(err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err)
	}
	return txs, nil
}

// writeSnapshots persists recomputed updated_balance values, skipping rows
// whose stored snapshot already matches.
func writeSnapshots(ctx context.Context, tx *sql.Tx, txs []*models.Transaction, stored map[string]decimal.Decimal) error {
	for _, t := range txs {
		if prev, ok := stored[t.ID]; ok && prev.Equal(t.UpdatedBalance) {
			continue
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE transactions SET updated_balance = $1 WHERE id = $2`,
			t.UpdatedBalance, t.ID)
		if err != nil {
			return storeErr(err)
		}
	}
	return nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d, nil
}

func snapshotIndex(txs []*models.Transaction) map[string]decimal.Decimal {
	m := make(map[string]decimal.Decimal, len(txs))
	for _, t := range txs {
		m[t.ID] = t.UpdatedBalance
	}
	return m
}

func sortChronological(txs []*models.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if !txs[i].Date.Equal(txs[j].Date) {
			return txs[i].Date.Before(txs[j].Date)
		}
		if !txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].CreatedAt.Before(txs[j].CreatedAt)
		}
		return txs[i].ID < txs[j].ID
	})
}

// baselineFor backs the cumulative effect of every listed transaction out of
// the account's current balance, yielding the balance immediately before the
// earliest transaction.
func baselineFor(balance decimal.Decimal, txs []*models.Transaction) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, t := range txs {
		e, err := Effect(t.Amount, t.Type)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(e)
	}
	return balance.Sub(total), nil
}

// replay walks the ordered list once, assigning each row's running-balance
// snapshot, and returns the final balance. Pending transactions count toward
// the running balance the same as settled ones.
func replay(baseline decimal.Decimal, txs []*models.Transaction) (decimal.Decimal, error) {
	running := baseline
	for _, t := range txs {
		e, err := Effect(t.Amount, t.Type)
		if err != nil {
			return decimal.Zero, err
		}
		running = running.Add(e)
		t.UpdatedBalance = running.Round(2)
	}
	return running.Round(2), nil
}
