package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"expenser/internal/core"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func newTestRepo(t *testing.T) (*SQLiteRepository, string) {
	t.Helper()

	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "server.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	profile, err := repo.EnsureUser(context.Background(), core.Profile{
		Name:           "Test User",
		Email:          "test@example.com",
		PaymentMethods: []core.PaymentMethod{core.Bank, core.Cash, core.Splitwise},
		Balances:       core.Balances{Bank: dec("1000")},
		Onboarded:      true,
	})
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	return repo, profile.UserID
}

func TestEnsureUserIsIdempotent(t *testing.T) {
	repo, userID := newTestRepo(t)
	ctx := context.Background()

	again, err := repo.EnsureUser(ctx, core.Profile{UserID: userID, Name: "Someone Else"})
	if err != nil {
		t.Fatalf("EnsureUser: %v", err)
	}
	if again.Name != "Test User" {
		t.Errorf("second EnsureUser overwrote the profile: name = %q", again.Name)
	}
}

func TestCreateTransactionAdjustsBalances(t *testing.T) {
	repo, userID := newTestRepo(t)
	ctx := context.Background()

	txn, err := repo.CreateTransaction(ctx, userID, core.CreateTransaction{
		Type:          core.Expense,
		Amount:        dec("200"),
		Description:   "groceries",
		PaymentMethod: core.Bank,
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}
	if txn.ID == "" || txn.Category != core.DefaultCategory {
		t.Errorf("created transaction = %+v, want id and default category", txn)
	}

	profile, err := repo.GetProfile(ctx, userID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if !profile.Balances.Bank.Equal(dec("800")) {
		t.Errorf("bank balance = %s, want 800", profile.Balances.Bank)
	}
}

func TestSplitExpenseCreditsSplitwise(t *testing.T) {
	repo, userID := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.CreateTransaction(ctx, userID, core.CreateTransaction{
		Type:          core.Expense,
		Amount:        dec("1000"),
		Description:   "shared dinner",
		PaymentMethod: core.Bank,
		SplitAmount:   dec("400"),
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	profile, err := repo.GetProfile(ctx, userID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if !profile.Balances.Bank.Equal(dec("0")) {
		t.Errorf("bank balance = %s, want 0", profile.Balances.Bank)
	}
	if !profile.Balances.Splitwise.Equal(dec("400")) {
		t.Errorf("splitwise balance = %s, want 400", profile.Balances.Splitwise)
	}
}

func TestDeleteTransactionReversesEffect(t *testing.T) {
	repo, userID := newTestRepo(t)
	ctx := context.Background()

	txn, err := repo.CreateTransaction(ctx, userID, core.CreateTransaction{
		Type:          core.Income,
		Amount:        dec("500"),
		Description:   "salary",
		PaymentMethod: core.Bank,
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	if err := repo.DeleteTransaction(ctx, userID, txn.ID); err != nil {
		t.Fatalf("DeleteTransaction: %v", err)
	}

	profile, err := repo.GetProfile(ctx, userID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if !profile.Balances.Bank.Equal(dec("1000")) {
		t.Errorf("bank balance = %s, want 1000 (back to start)", profile.Balances.Bank)
	}

	txns, err := repo.ListTransactions(ctx, userID)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txns) != 0 {
		t.Errorf("deleted transaction still listed: %d rows", len(txns))
	}
}

func TestDeleteMissingTransaction(t *testing.T) {
	repo, userID := newTestRepo(t)

	err := repo.DeleteTransaction(context.Background(), userID, "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteTransaction on missing id: err = %v, want ErrNotFound", err)
	}
}

func TestUpdateTransactionMonetaryChangeReconcilesBalances(t *testing.T) {
	repo, userID := newTestRepo(t)
	ctx := context.Background()

	txn, err := repo.CreateTransaction(ctx, userID, core.CreateTransaction{
		Type:          core.Expense,
		Amount:        dec("100"),
		Description:   "dinner",
		PaymentMethod: core.Bank,
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	amount := dec("250")
	updated, err := repo.UpdateTransaction(ctx, userID, txn.ID, core.UpdateTransaction{Amount: &amount})
	if err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}
	if !updated.Amount.Equal(dec("250")) {
		t.Errorf("amount = %s, want 250", updated.Amount)
	}

	profile, err := repo.GetProfile(ctx, userID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	// 1000 - 100, then +100 - 250.
	if !profile.Balances.Bank.Equal(dec("750")) {
		t.Errorf("bank balance = %s, want 750", profile.Balances.Bank)
	}
}

func TestUpdateTransactionNonMonetaryChangeLeavesBalances(t *testing.T) {
	repo, userID := newTestRepo(t)
	ctx := context.Background()

	txn, err := repo.CreateTransaction(ctx, userID, core.CreateTransaction{
		Type:          core.Expense,
		Amount:        dec("100"),
		Description:   "dinner",
		PaymentMethod: core.Bank,
	})
	if err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	desc := "dinner with friends"
	if _, err := repo.UpdateTransaction(ctx, userID, txn.ID, core.UpdateTransaction{Description: &desc}); err != nil {
		t.Fatalf("UpdateTransaction: %v", err)
	}

	profile, err := repo.GetProfile(ctx, userID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if !profile.Balances.Bank.Equal(dec("900")) {
		t.Errorf("bank balance = %s, want 900 (unchanged)", profile.Balances.Bank)
	}
}

func TestListTransactionsNewestFirst(t *testing.T) {
	repo, userID := newTestRepo(t)
	ctx := context.Background()

	older := time.Now().Add(-48 * time.Hour)
	newer := time.Now()
	for _, c := range []struct {
		desc string
		date time.Time
	}{
		{"older", older},
		{"newer", newer},
	} {
		_, err := repo.CreateTransaction(ctx, userID, core.CreateTransaction{
			Type:          core.Expense,
			Amount:        dec("10"),
			Description:   c.desc,
			PaymentMethod: core.Cash,
			Date:          c.date,
		})
		if err != nil {
			t.Fatalf("CreateTransaction(%s): %v", c.desc, err)
		}
	}

	txns, err := repo.ListTransactions(ctx, userID)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txns) != 2 {
		t.Fatalf("got %d transactions, want 2", len(txns))
	}
	if txns[0].Description != "newer" {
		t.Errorf("first transaction = %q, want newest first", txns[0].Description)
	}
}

func TestComputeBalancesMatchesStored(t *testing.T) {
	repo, userID := newTestRepo(t)
	ctx := context.Background()

	creates := []core.CreateTransaction{
		{Type: core.Income, Amount: dec("1500"), Description: "salary", PaymentMethod: core.Bank},
		{Type: core.Expense, Amount: dec("300"), Description: "rent share", PaymentMethod: core.Bank, SplitAmount: dec("150")},
		{Type: core.Expense, Amount: dec("40"), Description: "taxi", PaymentMethod: core.Cash},
	}
	for _, payload := range creates {
		if _, err := repo.CreateTransaction(ctx, userID, payload); err != nil {
			t.Fatalf("CreateTransaction: %v", err)
		}
	}

	computed, err := repo.ComputeBalances(ctx, userID)
	if err != nil {
		t.Fatalf("ComputeBalances: %v", err)
	}
	profile, err := repo.GetProfile(ctx, userID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if !computed.Equal(profile.Balances) {
		t.Errorf("computed %+v != stored %+v", computed, profile.Balances)
	}
	// Seed 1000, then +1500 income, -300 expense with 150 split, -40 cash.
	if !computed.Bank.Equal(dec("2200")) || !computed.Cash.Equal(dec("-40")) || !computed.Splitwise.Equal(dec("150")) {
		t.Errorf("computed balances = %+v, want bank 2200, cash -40, splitwise 150", computed)
	}
}

func TestExplicitBalanceUpdateRebaselines(t *testing.T) {
	repo, userID := newTestRepo(t)
	ctx := context.Background()

	if _, err := repo.CreateTransaction(ctx, userID, core.CreateTransaction{
		Type:          core.Expense,
		Amount:        dec("200"),
		Description:   "groceries",
		PaymentMethod: core.Bank,
	}); err != nil {
		t.Fatalf("CreateTransaction: %v", err)
	}

	// User corrects their bank balance by hand.
	balances := core.Balances{Bank: dec("5000")}
	if _, err := repo.UpdateProfile(ctx, userID, core.UpdateProfile{Balances: &balances}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}

	computed, err := repo.ComputeBalances(ctx, userID)
	if err != nil {
		t.Fatalf("ComputeBalances: %v", err)
	}
	if !computed.Bank.Equal(dec("5000")) {
		t.Errorf("computed bank = %s, want 5000 (seed re-baselined)", computed.Bank)
	}
}

func TestWorkflowCRUD(t *testing.T) {
	repo, userID := newTestRepo(t)
	ctx := context.Background()

	wf, err := repo.CreateWorkflow(ctx, userID, core.CreateWorkflow{
		Name:          "Rent",
		Type:          core.Expense,
		Amount:        dec("900"),
		Description:   "monthly rent",
		PaymentMethod: core.Bank,
	})
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	// Templates never touch balances.
	profile, err := repo.GetProfile(ctx, userID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if !profile.Balances.Bank.Equal(dec("1000")) {
		t.Errorf("bank balance = %s, want 1000 (untouched by workflow)", profile.Balances.Bank)
	}

	updated, err := repo.UpdateWorkflow(ctx, userID, wf.ID, core.CreateWorkflow{
		Name:          "Rent 2026",
		Type:          core.Expense,
		Amount:        dec("950"),
		Description:   "monthly rent",
		PaymentMethod: core.Bank,
	})
	if err != nil {
		t.Fatalf("UpdateWorkflow: %v", err)
	}
	if updated.Name != "Rent 2026" || !updated.Amount.Equal(dec("950")) {
		t.Errorf("updated workflow = %+v", updated)
	}

	if err := repo.DeleteWorkflow(ctx, userID, wf.ID); err != nil {
		t.Fatalf("DeleteWorkflow: %v", err)
	}
	if err := repo.DeleteWorkflow(ctx, userID, wf.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete: err = %v, want ErrNotFound", err)
	}

	wfs, err := repo.ListWorkflows(ctx, userID)
	if err != nil {
		t.Fatalf("ListWorkflows: %v", err)
	}
	if len(wfs) != 0 {
		t.Errorf("workflows after delete = %d, want 0", len(wfs))
	}
}

func TestUpdateProfilePartial(t *testing.T) {
	repo, userID := newTestRepo(t)
	ctx := context.Background()

	occupation := "Engineer"
	profile, err := repo.UpdateProfile(ctx, userID, core.UpdateProfile{Occupation: &occupation})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if profile.Occupation != "Engineer" {
		t.Errorf("occupation = %q, want Engineer", profile.Occupation)
	}
	if profile.Name != "Test User" {
		t.Errorf("untouched name changed: %q", profile.Name)
	}
	if !profile.Balances.Bank.Equal(dec("1000")) {
		t.Errorf("untouched balances changed: %+v", profile.Balances)
	}
}

func TestProfileNotFound(t *testing.T) {
	repo, _ := newTestRepo(t)

	_, err := repo.GetProfile(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProfile on missing user: err = %v, want ErrNotFound", err)
	}
}
