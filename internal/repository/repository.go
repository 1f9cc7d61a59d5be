// Package repository is the server's SQLite persistence layer. Transaction
// writes and the balance adjustments they imply commit in a single database
// transaction, so stored balances can only drift through operator
// intervention, never through a partial write.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"expenser/internal/core"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("record not found")

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// === Users ===

// EnsureUser creates the user if it does not exist yet and returns the
// stored profile either way.
func (r *SQLiteRepository) EnsureUser(ctx context.Context, profile core.Profile) (core.Profile, error) {
	existing, err := r.GetProfile(ctx, profile.UserID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return core.Profile{}, err
	}

	if profile.UserID == "" {
		profile.UserID = uuid.NewString()
	}
	methods, err := json.Marshal(profile.PaymentMethods)
	if err != nil {
		return core.Profile{}, fmt.Errorf("encode payment methods: %w", err)
	}

	// Starting balances double as the audit seed: at creation time the
	// transaction history is empty, so stored = seed holds by construction.
	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, occupation, payment_methods,
			bank_balance, cash_balance, splitwise_balance,
			bank_seed, cash_seed, splitwise_seed, onboarded, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		profile.UserID, profile.Name, profile.Email, profile.Occupation, string(methods),
		profile.Balances.Bank.String(), profile.Balances.Cash.String(), profile.Balances.Splitwise.String(),
		profile.Balances.Bank.String(), profile.Balances.Cash.String(), profile.Balances.Splitwise.String(),
		profile.Onboarded, now, now)
	if err != nil {
		return core.Profile{}, fmt.Errorf("create user: %w", err)
	}

	profile.CreatedAt = now
	profile.UpdatedAt = now
	return profile, nil
}

func (r *SQLiteRepository) GetProfile(ctx context.Context, userID string) (core.Profile, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, email, occupation, payment_methods,
			bank_balance, cash_balance, splitwise_balance, onboarded, created_at, updated_at
		FROM users WHERE id = ?`, userID)
	return scanProfile(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (core.Profile, error) {
	var (
		p                     core.Profile
		methodsJSON           string
		bank, cash, splitwise string
	)
	err := row.Scan(&p.UserID, &p.Name, &p.Email, &p.Occupation, &methodsJSON,
		&bank, &cash, &splitwise, &p.Onboarded, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return core.Profile{}, ErrNotFound
	}
	if err != nil {
		return core.Profile{}, fmt.Errorf("scan user: %w", err)
	}

	if err := json.Unmarshal([]byte(methodsJSON), &p.PaymentMethods); err != nil {
		return core.Profile{}, fmt.Errorf("decode payment methods: %w", err)
	}
	if p.Balances, err = parseBalances(bank, cash, splitwise); err != nil {
		return core.Profile{}, err
	}
	return p, nil
}

func parseBalances(bank, cash, splitwise string) (core.Balances, error) {
	var (
		b   core.Balances
		err error
	)
	if b.Bank, err = decimal.NewFromString(bank); err != nil {
		return core.Balances{}, fmt.Errorf("parse bank balance: %w", err)
	}
	if b.Cash, err = decimal.NewFromString(cash); err != nil {
		return core.Balances{}, fmt.Errorf("parse cash balance: %w", err)
	}
	if b.Splitwise, err = decimal.NewFromString(splitwise); err != nil {
		return core.Balances{}, fmt.Errorf("parse splitwise balance: %w", err)
	}
	return b, nil
}

func (r *SQLiteRepository) UpdateProfile(ctx context.Context, userID string, payload core.UpdateProfile) (core.Profile, error) {
	profile, err := r.GetProfile(ctx, userID)
	if err != nil {
		return core.Profile{}, err
	}

	if payload.Name != nil {
		profile.Name = *payload.Name
	}
	if payload.Occupation != nil {
		profile.Occupation = *payload.Occupation
	}
	if payload.PaymentMethods != nil {
		profile.PaymentMethods = payload.PaymentMethods
	}
	if payload.Balances != nil {
		profile.Balances = *payload.Balances
	}
	if payload.Onboarded != nil {
		profile.Onboarded = *payload.Onboarded
	}
	profile.UpdatedAt = time.Now().UTC()

	methods, err := json.Marshal(profile.PaymentMethods)
	if err != nil {
		return core.Profile{}, fmt.Errorf("encode payment methods: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE users SET name = ?, occupation = ?, payment_methods = ?,
			bank_balance = ?, cash_balance = ?, splitwise_balance = ?, onboarded = ?, updated_at = ?
		WHERE id = ?`,
		profile.Name, profile.Occupation, string(methods),
		profile.Balances.Bank.String(), profile.Balances.Cash.String(), profile.Balances.Splitwise.String(),
		profile.Onboarded, profile.UpdatedAt, userID)
	if err != nil {
		return core.Profile{}, fmt.Errorf("update user: %w", err)
	}

	// An explicit balance write re-baselines the audit seed so that
	// seed + history equals the value the user just set.
	if payload.Balances != nil {
		history, err := r.historyEffect(ctx, userID)
		if err != nil {
			return core.Profile{}, err
		}
		seed := profile.Balances.Minus(history)
		_, err = r.db.ExecContext(ctx, `
			UPDATE users SET bank_seed = ?, cash_seed = ?, splitwise_seed = ? WHERE id = ?`,
			seed.Bank.String(), seed.Cash.String(), seed.Splitwise.String(), userID)
		if err != nil {
			return core.Profile{}, fmt.Errorf("update seed balances: %w", err)
		}
	}

	return profile, nil
}

// historyEffect sums the balance effect of every stored transaction.
func (r *SQLiteRepository) historyEffect(ctx context.Context, userID string) (core.Balances, error) {
	txns, err := r.ListTransactions(ctx, userID)
	if err != nil {
		return core.Balances{}, err
	}

	var balances core.Balances
	for _, txn := range txns {
		balances.Apply(txn.PaymentMethod, txn.Amount, txn.Type, txn.SplitAmount)
	}
	return balances, nil
}

// ListUserIDs returns every user id. Used by the balance reconciler.
func (r *SQLiteRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM users`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SetBalances overwrites the stored balances for a user. Only the reconciler
// calls this; regular flows adjust balances through transaction writes.
func (r *SQLiteRepository) SetBalances(ctx context.Context, userID string, balances core.Balances) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users SET bank_balance = ?, cash_balance = ?, splitwise_balance = ?, updated_at = ?
		WHERE id = ?`,
		balances.Bank.String(), balances.Cash.String(), balances.Splitwise.String(), time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("set balances: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// === Transactions ===

func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, type, amount, description, category, payment_method, split_amount, date, created_at, updated_at
		FROM transactions WHERE user_id = ?
		ORDER BY date DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txns []core.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var (
		txn           core.Transaction
		amount, split string
	)
	err := row.Scan(&txn.ID, &txn.UserID, &txn.Type, &amount, &txn.Description,
		&txn.Category, &txn.PaymentMethod, &split, &txn.Date, &txn.CreatedAt, &txn.UpdatedAt)
	if err == sql.ErrNoRows {
		return core.Transaction{}, ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	if txn.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.Transaction{}, fmt.Errorf("parse amount: %w", err)
	}
	if txn.SplitAmount, err = decimal.NewFromString(split); err != nil {
		return core.Transaction{}, fmt.Errorf("parse split amount: %w", err)
	}
	return txn, nil
}

func (r *SQLiteRepository) getTransaction(ctx context.Context, tx *sql.Tx, userID, id string) (core.Transaction, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, user_id, type, amount, description, category, payment_method, split_amount, date, created_at, updated_at
		FROM transactions WHERE id = ? AND user_id = ?`, id, userID)
	return scanTransaction(row)
}

// CreateTransaction inserts the record and applies its balance effect
// atomically.
func (r *SQLiteRepository) CreateTransaction(ctx context.Context, userID string, payload core.CreateTransaction) (core.Transaction, error) {
	if err := payload.Validate(); err != nil {
		return core.Transaction{}, err
	}

	now := time.Now().UTC()
	date := payload.Date
	if date.IsZero() {
		date = now
	}
	txn := core.Transaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		Type:          payload.Type,
		Amount:        payload.Amount,
		Description:   payload.Description,
		Category:      core.CategoryOrDefault(payload.Category),
		PaymentMethod: payload.PaymentMethod,
		SplitAmount:   payload.SplitAmount,
		Date:          date,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO transactions (id, user_id, type, amount, description, category, payment_method, split_amount, date, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			txn.ID, txn.UserID, txn.Type, txn.Amount.String(), txn.Description,
			txn.Category, txn.PaymentMethod, txn.SplitAmount.String(), txn.Date, txn.CreatedAt, txn.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return r.adjustBalances(ctx, tx, userID, func(b *core.Balances) {
			b.Apply(txn.PaymentMethod, txn.Amount, txn.Type, txn.SplitAmount)
		})
	})
	if err != nil {
		return core.Transaction{}, err
	}
	return txn, nil
}

// UpdateTransaction patches a record. When a monetary field changes, the old
// effect is reversed and the new one applied in the same database
// transaction.
func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, userID, id string, payload core.UpdateTransaction) (core.Transaction, error) {
	var updated core.Transaction

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := r.getTransaction(ctx, tx, userID, id)
		if err != nil {
			return err
		}

		updated = existing
		if payload.Type != nil {
			updated.Type = *payload.Type
		}
		if payload.Amount != nil {
			updated.Amount = *payload.Amount
		}
		if payload.Description != nil {
			updated.Description = *payload.Description
		}
		if payload.Category != nil {
			updated.Category = core.CategoryOrDefault(*payload.Category)
		}
		if payload.PaymentMethod != nil {
			updated.PaymentMethod = *payload.PaymentMethod
		}
		if payload.SplitAmount != nil {
			updated.SplitAmount = *payload.SplitAmount
		}
		if payload.Date != nil {
			updated.Date = *payload.Date
		}
		updated.UpdatedAt = time.Now().UTC()

		_, err = tx.ExecContext(ctx, `
			UPDATE transactions SET type = ?, amount = ?, description = ?, category = ?,
				payment_method = ?, split_amount = ?, date = ?, updated_at = ?
			WHERE id = ? AND user_id = ?`,
			updated.Type, updated.Amount.String(), updated.Description, updated.Category,
			updated.PaymentMethod, updated.SplitAmount.String(), updated.Date, updated.UpdatedAt,
			id, userID)
		if err != nil {
			return fmt.Errorf("update transaction: %w", err)
		}

		monetaryChange := payload.Type != nil || payload.Amount != nil ||
			payload.PaymentMethod != nil || payload.SplitAmount != nil
		if !monetaryChange {
			return nil
		}
		return r.adjustBalances(ctx, tx, userID, func(b *core.Balances) {
			b.Reverse(existing.PaymentMethod, existing.Amount, existing.Type, existing.SplitAmount)
			b.Apply(updated.PaymentMethod, updated.Amount, updated.Type, updated.SplitAmount)
		})
	})
	if err != nil {
		return core.Transaction{}, err
	}
	return updated, nil
}

// DeleteTransaction removes the record and reverses its balance effect
// atomically.
func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, userID, id string) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := r.getTransaction(ctx, tx, userID, id)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE id = ? AND user_id = ?`, id, userID); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		return r.adjustBalances(ctx, tx, userID, func(b *core.Balances) {
			b.Reverse(existing.PaymentMethod, existing.Amount, existing.Type, existing.SplitAmount)
		})
	})
}

// ComputeBalances rebuilds what a user's balances should be: the audit seed
// plus the effect of every stored transaction.
func (r *SQLiteRepository) ComputeBalances(ctx context.Context, userID string) (core.Balances, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT bank_seed, cash_seed, splitwise_seed FROM users WHERE id = ?`, userID)

	var bank, cash, splitwise string
	if err := row.Scan(&bank, &cash, &splitwise); err != nil {
		if err == sql.ErrNoRows {
			return core.Balances{}, ErrNotFound
		}
		return core.Balances{}, fmt.Errorf("read seed balances: %w", err)
	}
	seed, err := parseBalances(bank, cash, splitwise)
	if err != nil {
		return core.Balances{}, err
	}

	history, err := r.historyEffect(ctx, userID)
	if err != nil {
		return core.Balances{}, err
	}
	return seed.Plus(history), nil
}

// === Workflows ===

func (r *SQLiteRepository) ListWorkflows(ctx context.Context, userID string) ([]core.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, name, type, amount, description, category, payment_method, split_amount, created_at, updated_at
		FROM workflows WHERE user_id = ?
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var wfs []core.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		wfs = append(wfs, wf)
	}
	return wfs, rows.Err()
}

func scanWorkflow(row rowScanner) (core.Workflow, error) {
	var (
		wf            core.Workflow
		amount, split string
	)
	err := row.Scan(&wf.ID, &wf.UserID, &wf.Name, &wf.Type, &amount, &wf.Description,
		&wf.Category, &wf.PaymentMethod, &split, &wf.CreatedAt, &wf.UpdatedAt)
	if err == sql.ErrNoRows {
		return core.Workflow{}, ErrNotFound
	}
	if err != nil {
		return core.Workflow{}, fmt.Errorf("scan workflow: %w", err)
	}
	if wf.Amount, err = decimal.NewFromString(amount); err != nil {
		return core.Workflow{}, fmt.Errorf("parse amount: %w", err)
	}
	if wf.SplitAmount, err = decimal.NewFromString(split); err != nil {
		return core.Workflow{}, fmt.Errorf("parse split amount: %w", err)
	}
	return wf, nil
}

// CreateWorkflow stores a template. Templates have no balance effect.
func (r *SQLiteRepository) CreateWorkflow(ctx context.Context, userID string, payload core.CreateWorkflow) (core.Workflow, error) {
	if err := payload.Validate(); err != nil {
		return core.Workflow{}, err
	}

	now := time.Now().UTC()
	wf := core.Workflow{
		ID:            uuid.NewString(),
		UserID:        userID,
		Name:          payload.Name,
		Type:          payload.Type,
		Amount:        payload.Amount,
		Description:   payload.Description,
		Category:      core.CategoryOrDefault(payload.Category),
		PaymentMethod: payload.PaymentMethod,
		SplitAmount:   payload.SplitAmount,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO workflows (id, user_id, name, type, amount, description, category, payment_method, split_amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.UserID, wf.Name, wf.Type, wf.Amount.String(), wf.Description,
		wf.Category, wf.PaymentMethod, wf.SplitAmount.String(), wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		return core.Workflow{}, fmt.Errorf("insert workflow: %w", err)
	}
	return wf, nil
}

func (r *SQLiteRepository) UpdateWorkflow(ctx context.Context, userID, id string, payload core.CreateWorkflow) (core.Workflow, error) {
	if err := payload.Validate(); err != nil {
		return core.Workflow{}, err
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE workflows SET name = ?, type = ?, amount = ?, description = ?, category = ?,
			payment_method = ?, split_amount = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		payload.Name, payload.Type, payload.Amount.String(), payload.Description,
		core.CategoryOrDefault(payload.Category), payload.PaymentMethod, payload.SplitAmount.String(), now,
		id, userID)
	if err != nil {
		return core.Workflow{}, fmt.Errorf("update workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Workflow{}, ErrNotFound
	}

	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, name, type, amount, description, category, payment_method, split_amount, created_at, updated_at
		FROM workflows WHERE id = ? AND user_id = ?`, id, userID)
	return scanWorkflow(row)
}

func (r *SQLiteRepository) DeleteWorkflow(ctx context.Context, userID, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// === Helpers ===

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) adjustBalances(ctx context.Context, tx *sql.Tx, userID string, adjust func(*core.Balances)) error {
	row := tx.QueryRowContext(ctx, `
		SELECT bank_balance, cash_balance, splitwise_balance FROM users WHERE id = ?`, userID)

	var bank, cash, splitwise string
	if err := row.Scan(&bank, &cash, &splitwise); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("read balances: %w", err)
	}

	balances, err := parseBalances(bank, cash, splitwise)
	if err != nil {
		return err
	}
	adjust(&balances)

	_, err = tx.ExecContext(ctx, `
		UPDATE users SET bank_balance = ?, cash_balance = ?, splitwise_balance = ?, updated_at = ?
		WHERE id = ?`,
		balances.Bank.String(), balances.Cash.String(), balances.Splitwise.String(), time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("write balances: %w", err)
	}
	return nil
}
