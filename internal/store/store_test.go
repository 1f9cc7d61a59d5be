package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"expenser/internal/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "expenser.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMissingKeysReturnTypedDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	txns, err := s.Transactions(ctx)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(txns) != 0 {
		t.Errorf("expected empty transactions, got %d", len(txns))
	}

	profile, err := s.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if profile != nil {
		t.Errorf("expected nil profile, got %+v", profile)
	}

	balances, err := s.LocalBalances(ctx)
	if err != nil {
		t.Fatalf("LocalBalances: %v", err)
	}
	if !balances.Bank.IsZero() || !balances.Cash.IsZero() || !balances.Splitwise.IsZero() {
		t.Errorf("expected zero balances, got %+v", balances)
	}

	ts, err := s.LastSyncTime(ctx)
	if err != nil {
		t.Fatalf("LastSyncTime: %v", err)
	}
	if !ts.IsZero() {
		t.Errorf("expected zero last sync time, got %v", ts)
	}
}

func TestTransactionsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := []core.Transaction{
		{
			ID:            "srv-1",
			UserID:        "user-1",
			Type:          core.Expense,
			Amount:        decimal.NewFromInt(200),
			Description:   "groceries",
			Category:      "Food",
			PaymentMethod: core.Bank,
			Date:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}

	if err := s.SetTransactions(ctx, want); err != nil {
		t.Fatalf("SetTransactions: %v", err)
	}

	got, err := s.Transactions(ctx)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(got) != 1 || got[0].ID != "srv-1" || !got[0].Amount.Equal(decimal.NewFromInt(200)) {
		t.Errorf("round trip mismatch: %+v", got)
	}

	// Set replaces wholesale, no merge.
	if err := s.SetTransactions(ctx, nil); err != nil {
		t.Fatalf("SetTransactions(nil): %v", err)
	}
	got, err = s.Transactions(ctx)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected replacement to clear, got %d", len(got))
	}
}

func TestPendingTransactionQueueOrderAndRemoval(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ids := []string{core.NewTempID(), core.NewTempID(), core.NewTempID()}
	for _, id := range ids {
		txn := core.Transaction{ID: id, Type: core.Income, Amount: decimal.NewFromInt(1), IsLocal: true, SyncStatus: core.SyncPending}
		if err := s.AppendPendingTransaction(ctx, txn); err != nil {
			t.Fatalf("AppendPendingTransaction: %v", err)
		}
	}

	pending, err := s.PendingTransactions(ctx)
	if err != nil {
		t.Fatalf("PendingTransactions: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	for i, id := range ids {
		if pending[i].ID != id {
			t.Errorf("queue order broken at %d: got %s, want %s", i, pending[i].ID, id)
		}
	}

	// Remove the middle entry only.
	if err := s.RemovePendingTransaction(ctx, ids[1]); err != nil {
		t.Fatalf("RemovePendingTransaction: %v", err)
	}
	pending, err = s.PendingTransactions(ctx)
	if err != nil {
		t.Fatalf("PendingTransactions: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != ids[0] || pending[1].ID != ids[2] {
		t.Errorf("unexpected queue after removal: %+v", pending)
	}
}

func TestPendingDeletes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := core.PendingDelete{EntityType: core.EntityTransaction, ID: "srv-1"}
	second := core.PendingDelete{EntityType: core.EntityWorkflow, ID: "srv-2"}

	for _, item := range []core.PendingDelete{first, second} {
		if err := s.AppendPendingDelete(ctx, item); err != nil {
			t.Fatalf("AppendPendingDelete: %v", err)
		}
	}

	if err := s.RemovePendingDelete(ctx, first); err != nil {
		t.Fatalf("RemovePendingDelete: %v", err)
	}

	pending, err := s.PendingDeletes(ctx)
	if err != nil {
		t.Fatalf("PendingDeletes: %v", err)
	}
	if len(pending) != 1 || pending[0] != second {
		t.Errorf("unexpected pending deletes: %+v", pending)
	}

	count, err := s.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if count != 1 {
		t.Errorf("PendingCount = %d, want 1", count)
	}
}

func TestLocalBalancesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := core.Balances{Bank: decimal.NewFromInt(800), Splitwise: decimal.NewFromInt(400)}
	if err := s.SetLocalBalances(ctx, want); err != nil {
		t.Fatalf("SetLocalBalances: %v", err)
	}

	got, err := s.LocalBalances(ctx)
	if err != nil {
		t.Fatalf("LocalBalances: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("LocalBalances = %+v, want %+v", got, want)
	}
}

func TestClearAllPreservesTheme(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SetTheme(ctx, "dark"); err != nil {
		t.Fatalf("SetTheme: %v", err)
	}
	if err := s.SetLocalBalances(ctx, core.Balances{Bank: decimal.NewFromInt(5)}); err != nil {
		t.Fatalf("SetLocalBalances: %v", err)
	}

	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	balances, err := s.LocalBalances(ctx)
	if err != nil {
		t.Fatalf("LocalBalances: %v", err)
	}
	if !balances.Bank.IsZero() {
		t.Errorf("balances survived ClearAll: %+v", balances)
	}

	theme, err := s.Theme(ctx)
	if err != nil {
		t.Fatalf("Theme: %v", err)
	}
	if theme != "dark" {
		t.Errorf("Theme = %q, want dark", theme)
	}
}
