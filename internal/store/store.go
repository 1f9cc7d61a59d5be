// Package store is the client's durable local cache: one SQLite-backed
// key-value row per cached collection or scalar. It persists the entity
// caches, the pending-operation queues and the local balance projection that
// make the client usable offline.
//
// Access is single-process and single-writer-per-key by convention: the
// application facade appends to the pending queues, the sync engine removes
// from them, and nothing else writes those keys.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"expenser/internal/core"

	_ "modernc.org/sqlite"
)

// Logical keys, one per cached value.
const (
	keyTransactions        = "expenser/transactions"
	keyWorkflows           = "expenser/workflows"
	keyProfile             = "expenser/profile"
	keyPendingTransactions = "expenser/pending_transactions"
	keyPendingWorkflows    = "expenser/pending_workflows"
	keyPendingDeletes      = "expenser/pending_deletes"
	keyLastSync            = "expenser/last_sync"
	keyLocalBalances       = "expenser/local_balances"
	keyTheme               = "expenser/theme"
)

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
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

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// getJSON unmarshals the stored value into dst. A missing key leaves dst
// untouched so the caller's zero value acts as the typed default.
func (s *Store) getJSON(ctx context.Context, key string, dst any) error {
	data, err := s.get(ctx, key)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.set(ctx, key, data)
}

// === Cached collections ===

func (s *Store) Transactions(ctx context.Context) ([]core.Transaction, error) {
	var txns []core.Transaction
	err := s.getJSON(ctx, keyTransactions, &txns)
	return txns, err
}

func (s *Store) SetTransactions(ctx context.Context, txns []core.Transaction) error {
	return s.setJSON(ctx, keyTransactions, txns)
}

func (s *Store) Workflows(ctx context.Context) ([]core.Workflow, error) {
	var wfs []core.Workflow
	err := s.getJSON(ctx, keyWorkflows, &wfs)
	return wfs, err
}

func (s *Store) SetWorkflows(ctx context.Context, wfs []core.Workflow) error {
	return s.setJSON(ctx, keyWorkflows, wfs)
}

func (s *Store) Profile(ctx context.Context) (*core.Profile, error) {
	var profile *core.Profile
	err := s.getJSON(ctx, keyProfile, &profile)
	return profile, err
}

func (s *Store) SetProfile(ctx context.Context, profile core.Profile) error {
	return s.setJSON(ctx, keyProfile, profile)
}

// === Pending queues ===

func (s *Store) PendingTransactions(ctx context.Context) ([]core.Transaction, error) {
	var pending []core.Transaction
	err := s.getJSON(ctx, keyPendingTransactions, &pending)
	return pending, err
}

func (s *Store) AppendPendingTransaction(ctx context.Context, txn core.Transaction) error {
	pending, err := s.PendingTransactions(ctx)
	if err != nil {
		return err
	}
	return s.setJSON(ctx, keyPendingTransactions, append(pending, txn))
}

func (s *Store) RemovePendingTransaction(ctx context.Context, tempID string) error {
	pending, err := s.PendingTransactions(ctx)
	if err != nil {
		return err
	}
	filtered := pending[:0]
	for _, t := range pending {
		if t.ID != tempID {
			filtered = append(filtered, t)
		}
	}
	return s.setJSON(ctx, keyPendingTransactions, filtered)
}

func (s *Store) PendingWorkflows(ctx context.Context) ([]core.Workflow, error) {
	var pending []core.Workflow
	err := s.getJSON(ctx, keyPendingWorkflows, &pending)
	return pending, err
}

func (s *Store) AppendPendingWorkflow(ctx context.Context, wf core.Workflow) error {
	pending, err := s.PendingWorkflows(ctx)
	if err != nil {
		return err
	}
	return s.setJSON(ctx, keyPendingWorkflows, append(pending, wf))
}

func (s *Store) RemovePendingWorkflow(ctx context.Context, tempID string) error {
	pending, err := s.PendingWorkflows(ctx)
	if err != nil {
		return err
	}
	filtered := pending[:0]
	for _, w := range pending {
		if w.ID != tempID {
			filtered = append(filtered, w)
		}
	}
	return s.setJSON(ctx, keyPendingWorkflows, filtered)
}

func (s *Store) PendingDeletes(ctx context.Context) ([]core.PendingDelete, error) {
	var pending []core.PendingDelete
	err := s.getJSON(ctx, keyPendingDeletes, &pending)
	return pending, err
}

func (s *Store) AppendPendingDelete(ctx context.Context, item core.PendingDelete) error {
	pending, err := s.PendingDeletes(ctx)
	if err != nil {
		return err
	}
	return s.setJSON(ctx, keyPendingDeletes, append(pending, item))
}

func (s *Store) RemovePendingDelete(ctx context.Context, item core.PendingDelete) error {
	pending, err := s.PendingDeletes(ctx)
	if err != nil {
		return err
	}
	filtered := pending[:0]
	for _, p := range pending {
		if p != item {
			filtered = append(filtered, p)
		}
	}
	return s.setJSON(ctx, keyPendingDeletes, filtered)
}

// PendingCount returns the total number of queued operations across all
// three pending queues.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	txns, err := s.PendingTransactions(ctx)
	if err != nil {
		return 0, err
	}
	wfs, err := s.PendingWorkflows(ctx)
	if err != nil {
		return 0, err
	}
	dels, err := s.PendingDeletes(ctx)
	if err != nil {
		return 0, err
	}
	return len(txns) + len(wfs) + len(dels), nil
}

// === Scalars ===

func (s *Store) LocalBalances(ctx context.Context) (core.Balances, error) {
	var balances core.Balances
	err := s.getJSON(ctx, keyLocalBalances, &balances)
	return balances, err
}

func (s *Store) SetLocalBalances(ctx context.Context, balances core.Balances) error {
	return s.setJSON(ctx, keyLocalBalances, balances)
}

// HasLocalBalances reports whether a local balance projection has ever been
// recorded. Callers fall back to the profile's server balances when it
// hasn't.
func (s *Store) HasLocalBalances(ctx context.Context) (bool, error) {
	data, err := s.get(ctx, keyLocalBalances)
	if err != nil {
		return false, err
	}
	return data != nil, nil
}

// LastSyncTime returns the time of the last successful drain, or the zero
// time when no sync has completed yet.
func (s *Store) LastSyncTime(ctx context.Context) (time.Time, error) {
	var ts time.Time
	err := s.getJSON(ctx, keyLastSync, &ts)
	return ts, err
}

func (s *Store) SetLastSyncTime(ctx context.Context, ts time.Time) error {
	return s.setJSON(ctx, keyLastSync, ts)
}

func (s *Store) Theme(ctx context.Context) (string, error) {
	var theme string
	err := s.getJSON(ctx, keyTheme, &theme)
	return theme, err
}

func (s *Store) SetTheme(ctx context.Context, theme string) error {
	return s.setJSON(ctx, keyTheme, theme)
}

// ClearAll wipes every cached value. Used on sign-out. The theme preference
// survives on purpose.
func (s *Store) ClearAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key != ?`, keyTheme)
	if err != nil {
		return fmt.Errorf("clear store: %w", err)
	}
	return nil
}
