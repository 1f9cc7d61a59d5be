package sync

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"expenser/internal/api/memory"
	"expenser/internal/core"
	"expenser/internal/store"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *memory.Remote) {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	remote := memory.New(core.Profile{
		UserID:         "user-1",
		Name:           "Test User",
		PaymentMethods: []core.PaymentMethod{core.Bank, core.Cash, core.Splitwise},
	})

	engine := NewEngine(st, remote, Config{RefreshInterval: time.Hour}, slog.Default())
	engine.state = StateIdle // online, no monitor in tests
	return engine, st, remote
}

func queuePendingTransaction(t *testing.T, st *store.Store, amount string, txType core.TransactionType) core.Transaction {
	t.Helper()
	txn := core.Transaction{
		ID:            core.NewTempID(),
		Type:          txType,
		Amount:        dec(amount),
		Description:   "queued offline",
		Category:      "General",
		PaymentMethod: core.Bank,
		Date:          time.Now(),
		IsLocal:       true,
		SyncStatus:    core.SyncPending,
	}
	if err := st.AppendPendingTransaction(context.Background(), txn); err != nil {
		t.Fatalf("AppendPendingTransaction: %v", err)
	}
	return txn
}

func TestSyncAllDrainsQueuesInOrder(t *testing.T) {
	engine, st, remote := newTestEngine(t)
	ctx := context.Background()

	queuePendingTransaction(t, st, "500", core.Income)
	queuePendingTransaction(t, st, "200", core.Expense)

	wf := core.Workflow{
		ID: core.NewTempID(), Name: "Rent", Type: core.Expense,
		Amount: dec("900"), Description: "monthly rent",
		PaymentMethod: core.Bank, IsLocal: true, SyncStatus: core.SyncPending,
	}
	if err := st.AppendPendingWorkflow(ctx, wf); err != nil {
		t.Fatalf("AppendPendingWorkflow: %v", err)
	}

	engine.SyncAll(ctx)

	count, err := st.PendingCount(ctx)
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if count != 0 {
		t.Errorf("pending count after drain = %d, want 0", count)
	}

	// Each queued item reached the server exactly once.
	if calls := remote.CreateTransactionCalls(); calls != 2 {
		t.Errorf("server transaction creations = %d, want 2", calls)
	}

	txns, err := remote.ListTransactions(ctx)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("server has %d transactions, want 2", len(txns))
	}
	for _, txn := range txns {
		if core.IsTempID(txn.ID) {
			t.Errorf("server returned a temp id: %s", txn.ID)
		}
	}

	// Queue now empty: local balances follow the server (+500 income,
	// -200 expense = 300).
	balances, err := st.LocalBalances(ctx)
	if err != nil {
		t.Fatalf("LocalBalances: %v", err)
	}
	if !balances.Bank.Equal(dec("300")) {
		t.Errorf("local bank balance = %s, want 300", balances.Bank)
	}

	ts, err := st.LastSyncTime(ctx)
	if err != nil {
		t.Fatalf("LastSyncTime: %v", err)
	}
	if ts.IsZero() {
		t.Error("last sync time not stamped")
	}
}

func TestDrainIdempotence(t *testing.T) {
	engine, st, remote := newTestEngine(t)
	ctx := context.Background()

	queuePendingTransaction(t, st, "100", core.Income)

	engine.SyncAll(ctx)
	engine.SyncAll(ctx)

	txns, err := remote.ListTransactions(ctx)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txns) != 1 {
		t.Errorf("replaying twice produced %d server records, want 1", len(txns))
	}
}

func TestFailedItemStaysQueued(t *testing.T) {
	engine, st, remote := newTestEngine(t)
	ctx := context.Background()

	queuePendingTransaction(t, st, "100", core.Income)
	remote.FailTransactionCreates(errors.New("connection reset"))

	engine.SyncAll(ctx)

	pending, err := st.PendingTransactions(ctx)
	if err != nil {
		t.Fatalf("PendingTransactions: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("failed item dropped from queue: %d pending", len(pending))
	}

	// Next pass succeeds and clears it.
	remote.FailTransactionCreates(nil)
	engine.SyncAll(ctx)

	pending, err = st.PendingTransactions(ctx)
	if err != nil {
		t.Fatalf("PendingTransactions: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("queue not cleared after retry: %d pending", len(pending))
	}
}

func TestRefreshDoesNotClobberBalancesWithPendingWork(t *testing.T) {
	engine, st, remote := newTestEngine(t)
	ctx := context.Background()

	// Server thinks bank = 0; locally an unconfirmed +500 income is queued.
	if err := st.SetLocalBalances(ctx, core.Balances{Bank: dec("500")}); err != nil {
		t.Fatalf("SetLocalBalances: %v", err)
	}
	queuePendingTransaction(t, st, "500", core.Income)
	remote.FailTransactionCreates(errors.New("server rejects creates"))

	engine.SyncAll(ctx)

	balances, err := st.LocalBalances(ctx)
	if err != nil {
		t.Fatalf("LocalBalances: %v", err)
	}
	if !balances.Bank.Equal(dec("500")) {
		t.Errorf("local balances clobbered while work pending: bank = %s, want 500", balances.Bank)
	}
}

func TestRefreshFailureAbortsPassAfterQueueDrain(t *testing.T) {
	engine, st, remote := newTestEngine(t)
	ctx := context.Background()

	queuePendingTransaction(t, st, "100", core.Income)

	// Creates work, but the fetch step fails; the queue drain must stick and
	// the sync stamp must not be written.
	engine.drainTransactions(ctx)
	remote.FailAll(errors.New("network down"))
	engine.SyncAll(ctx)

	ts, err := st.LastSyncTime(ctx)
	if err != nil {
		t.Fatalf("LastSyncTime: %v", err)
	}
	if !ts.IsZero() {
		t.Error("sync time stamped despite failed refresh")
	}

	if calls := remote.CreateTransactionCalls(); calls != 1 {
		t.Errorf("drained item replayed again: %d calls", calls)
	}
}

func TestSyncAllRefusedWhileOffline(t *testing.T) {
	engine, _, remote := newTestEngine(t)
	engine.state = StateOffline

	engine.SyncAll(context.Background())

	if remote.CreateTransactionCalls() != 0 || remote.DeleteCalls() != 0 {
		t.Error("offline drain reached the server")
	}
}

func TestReentrantDrainCoalesced(t *testing.T) {
	engine, st, remote := newTestEngine(t)
	ctx := context.Background()

	queuePendingTransaction(t, st, "100", core.Income)
	engine.state = StateDraining

	engine.SyncAll(ctx)

	if remote.CreateTransactionCalls() != 0 {
		t.Error("re-entrant drain was not dropped")
	}
}

func TestSilentRefreshEscalatesOnPendingWork(t *testing.T) {
	engine, st, remote := newTestEngine(t)
	ctx := context.Background()

	queuePendingTransaction(t, st, "250", core.Income)

	engine.SilentRefresh(ctx)

	pending, err := st.PendingTransactions(ctx)
	if err != nil {
		t.Fatalf("PendingTransactions: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("silent refresh did not escalate: %d still pending", len(pending))
	}
	if remote.CreateTransactionCalls() != 1 {
		t.Errorf("server creations = %d, want 1", remote.CreateTransactionCalls())
	}
}

func TestSilentRefreshSkippedWhileOfflineOrDraining(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	for _, state := range []State{StateOffline, StateDraining} {
		engine.state = state
		engine.SilentRefresh(ctx)

		txns, err := st.Transactions(ctx)
		if err != nil {
			t.Fatalf("Transactions: %v", err)
		}
		if txns != nil {
			t.Errorf("silent refresh ran in state %v", state)
		}
	}
}

func TestUpdateLocalBalance(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	if err := st.SetLocalBalances(ctx, core.Balances{Bank: dec("800")}); err != nil {
		t.Fatalf("SetLocalBalances: %v", err)
	}

	got, err := engine.UpdateLocalBalance(ctx, core.Bank, dec("500"), core.Income, decimal.Zero)
	if err != nil {
		t.Fatalf("UpdateLocalBalance: %v", err)
	}
	if !got.Bank.Equal(dec("1300")) {
		t.Errorf("bank = %s, want 1300", got.Bank)
	}

	got, err = engine.UpdateLocalBalance(ctx, core.Bank, dec("1000"), core.Expense, dec("400"))
	if err != nil {
		t.Fatalf("UpdateLocalBalance: %v", err)
	}
	if !got.Bank.Equal(dec("300")) || !got.Splitwise.Equal(dec("400")) {
		t.Errorf("balances = %+v, want bank 300, splitwise 400", got)
	}

	// Persisted, not just returned.
	stored, err := st.LocalBalances(ctx)
	if err != nil {
		t.Fatalf("LocalBalances: %v", err)
	}
	if !stored.Equal(got) {
		t.Errorf("stored %+v != returned %+v", stored, got)
	}
}

func TestUpdateLocalBalanceSeedsFromCachedProfile(t *testing.T) {
	engine, st, _ := newTestEngine(t)
	ctx := context.Background()

	// Profile cached but no local projection recorded yet: the first local
	// write must start from the server baseline, not from zero.
	if err := st.SetProfile(ctx, core.Profile{
		UserID:         "user-1",
		PaymentMethods: []core.PaymentMethod{core.Bank},
		Balances:       core.Balances{Bank: dec("900")},
	}); err != nil {
		t.Fatalf("SetProfile: %v", err)
	}

	got, err := engine.UpdateLocalBalance(ctx, core.Bank, dec("100"), core.Expense, decimal.Zero)
	if err != nil {
		t.Fatalf("UpdateLocalBalance: %v", err)
	}
	if !got.Bank.Equal(dec("800")) {
		t.Errorf("bank = %s, want 800 (server baseline 900 minus 100)", got.Bank)
	}

	has, err := st.HasLocalBalances(ctx)
	if err != nil {
		t.Fatalf("HasLocalBalances: %v", err)
	}
	if !has {
		t.Error("projection not recorded after seeding from profile")
	}
}

func TestSubscribersNotifiedOnDrain(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	var statuses []Status
	unsubscribe := engine.Subscribe(func(s Status) {
		statuses = append(statuses, s)
	})
	defer unsubscribe()

	engine.SyncAll(context.Background())

	if len(statuses) < 2 {
		t.Fatalf("expected at least 2 notifications, got %d", len(statuses))
	}
	if statuses[0].State != StateDraining {
		t.Errorf("first notification state = %v, want draining", statuses[0].State)
	}
	if last := statuses[len(statuses)-1]; last.State != StateIdle {
		t.Errorf("last notification state = %v, want idle", last.State)
	}
}

func TestSetOnlineTransitions(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	engine.state = StateOffline

	engine.SetOnline(false) // no-op, already offline
	if engine.IsOnline() {
		t.Error("engine online after SetOnline(false)")
	}

	engine.SetOnline(true)
	if !engine.IsOnline() {
		t.Error("engine offline after SetOnline(true)")
	}
}
