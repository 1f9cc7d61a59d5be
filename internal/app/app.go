// Package app is the application state facade: it merges persisted and
// pending views into what the UI sees and routes every mutating action
// through an online/offline branch.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"expenser/internal/api"
	"expenser/internal/core"
	"expenser/internal/store"
	syncengine "expenser/internal/sync"
)

// ErrLocalRecord is returned when an operation requires a server-confirmed
// record but was given a temp id.
var ErrLocalRecord = errors.New("record has not been confirmed by the server")

type App struct {
	store  *store.Store
	remote api.Remote
	engine *syncengine.Engine
	logger *slog.Logger

	mu               sync.Mutex
	profile          *core.Profile
	transactions     []core.Transaction
	workflows        []core.Workflow
	localBalances    core.Balances
	hasLocalBalances bool
}

func New(st *store.Store, remote api.Remote, engine *syncengine.Engine, logger *slog.Logger) *App {
	a := &App{
		store:  st,
		remote: remote,
		engine: engine,
		logger: logger,
	}

	// Reload the merged view whenever a drain completes, so server-confirmed
	// records replace their shadows in what the UI reads.
	engine.Subscribe(func(status syncengine.Status) {
		if !status.Syncing() && status.Online() {
			if err := a.LoadLocal(context.Background()); err != nil {
				logger.Warn("reload after sync failed", "error", err)
			}
		}
	})

	return a
}

// LoadLocal populates the in-memory view from the local store: pending
// records first (newest first), then the persisted cache.
func (a *App) LoadLocal(ctx context.Context) error {
	storedTxns, err := a.store.Transactions(ctx)
	if err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}
	pendingTxns, err := a.store.PendingTransactions(ctx)
	if err != nil {
		return fmt.Errorf("load pending transactions: %w", err)
	}
	storedWfs, err := a.store.Workflows(ctx)
	if err != nil {
		return fmt.Errorf("load workflows: %w", err)
	}
	pendingWfs, err := a.store.PendingWorkflows(ctx)
	if err != nil {
		return fmt.Errorf("load pending workflows: %w", err)
	}
	profile, err := a.store.Profile(ctx)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	balances, err := a.store.LocalBalances(ctx)
	if err != nil {
		return fmt.Errorf("load local balances: %w", err)
	}
	hasBalances, err := a.store.HasLocalBalances(ctx)
	if err != nil {
		return fmt.Errorf("check local balances: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.transactions = mergePending(pendingTxns, storedTxns)
	a.workflows = mergePendingWorkflows(pendingWfs, storedWfs)
	if profile != nil {
		a.profile = profile
	}
	a.localBalances = balances
	a.hasLocalBalances = hasBalances
	return nil
}

// mergePending puts unconfirmed records ahead of the persisted cache,
// newest-queued first.
func mergePending(pending, stored []core.Transaction) []core.Transaction {
	merged := make([]core.Transaction, 0, len(pending)+len(stored))
	for i := len(pending) - 1; i >= 0; i-- {
		merged = append(merged, pending[i])
	}
	return append(merged, stored...)
}

func mergePendingWorkflows(pending, stored []core.Workflow) []core.Workflow {
	merged := make([]core.Workflow, 0, len(pending)+len(stored))
	for i := len(pending) - 1; i >= 0; i-- {
		merged = append(merged, pending[i])
	}
	return append(merged, stored...)
}

// updateTransactionCache rewrites the stored transactions cache so a view
// reload between drains sees the same confirmed records the server does.
func (a *App) updateTransactionCache(ctx context.Context, mutate func([]core.Transaction) []core.Transaction) {
	stored, err := a.store.Transactions(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to read cached transactions", "error", err)
		return
	}
	if err := a.store.SetTransactions(ctx, mutate(stored)); err != nil {
		a.logger.ErrorContext(ctx, "failed to write cached transactions", "error", err)
	}
}

func (a *App) updateWorkflowCache(ctx context.Context, mutate func([]core.Workflow) []core.Workflow) {
	stored, err := a.store.Workflows(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to read cached workflows", "error", err)
		return
	}
	if err := a.store.SetWorkflows(ctx, mutate(stored)); err != nil {
		a.logger.ErrorContext(ctx, "failed to write cached workflows", "error", err)
	}
}

// === Read side ===

func (a *App) Transactions() []core.Transaction {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]core.Transaction, len(a.transactions))
	copy(out, a.transactions)
	return out
}

func (a *App) Workflows() []core.Workflow {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]core.Workflow, len(a.workflows))
	copy(out, a.workflows)
	return out
}

func (a *App) Profile() *core.Profile {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.profile == nil {
		return nil
	}
	p := *a.profile
	return &p
}

// GetBalance returns the local projection for a method, falling back to the
// profile's server balance when no local override has ever been recorded.
func (a *App) GetBalance(method core.PaymentMethod) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.hasLocalBalances {
		return a.localBalances.Get(method)
	}
	if a.profile != nil {
		return a.profile.Balances.Get(method)
	}
	return decimal.Zero
}

// GetTotalBalance sums balances over the methods the user has enabled.
func (a *App) GetTotalBalance() decimal.Decimal {
	a.mu.Lock()
	profile := a.profile
	a.mu.Unlock()
	if profile == nil {
		return decimal.Zero
	}

	total := decimal.Zero
	for _, method := range profile.PaymentMethods {
		total = total.Add(a.GetBalance(method))
	}
	return total
}

// PendingCount reports how many queued operations await confirmation.
func (a *App) PendingCount(ctx context.Context) int {
	count, err := a.store.PendingCount(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "failed to read pending count", "error", err)
		return 0
	}
	return count
}

// === Transactions ===

// AddTransaction records a transaction optimistically: a shadow record with a
// temp id is written and the balances mutated before any network attempt, so
// online and offline adds feel identical. When online, the server call runs
// immediately and the shadow is replaced by id with the confirmed record.
func (a *App) AddTransaction(ctx context.Context, payload core.CreateTransaction) error {
	if err := payload.Validate(); err != nil {
		return err
	}
	payload.Category = core.CategoryOrDefault(payload.Category)
	if payload.Date.IsZero() {
		payload.Date = time.Now()
	}

	a.mu.Lock()
	userID := ""
	if a.profile != nil {
		userID = a.profile.UserID
	}
	a.mu.Unlock()

	now := time.Now()
	shadow := core.Transaction{
		ID:            core.NewTempID(),
		UserID:        userID,
		Type:          payload.Type,
		Amount:        payload.Amount,
		Description:   payload.Description,
		Category:      payload.Category,
		PaymentMethod: payload.PaymentMethod,
		SplitAmount:   payload.SplitAmount,
		Date:          payload.Date,
		CreatedAt:     now,
		UpdatedAt:     now,
		IsLocal:       true,
		SyncStatus:    core.SyncPending,
	}

	if err := a.store.AppendPendingTransaction(ctx, shadow); err != nil {
		return fmt.Errorf("queue transaction: %w", err)
	}

	balances, err := a.engine.UpdateLocalBalance(ctx, payload.PaymentMethod, payload.Amount, payload.Type, payload.SplitAmount)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to update local balances", "error", err)
	}

	a.mu.Lock()
	a.transactions = append([]core.Transaction{shadow}, a.transactions...)
	if err == nil {
		a.localBalances = balances
		a.hasLocalBalances = true
	}
	a.mu.Unlock()

	a.engine.Notify()

	if !a.engine.IsOnline() {
		return nil
	}

	// Online: confirm in the background of the user's action. A failure
	// leaves the shadow queued for the next drain.
	created, err := a.remote.CreateTransaction(ctx, payload)
	if err != nil {
		a.logger.WarnContext(ctx, "immediate sync failed, transaction stays queued",
			"temp_id", shadow.ID, "error", err)
		return nil
	}

	if err := a.store.RemovePendingTransaction(ctx, shadow.ID); err != nil {
		a.logger.ErrorContext(ctx, "failed to dequeue confirmed transaction",
			"temp_id", shadow.ID, "error", err)
	}

	a.mu.Lock()
	for i, txn := range a.transactions {
		if txn.ID == shadow.ID {
			a.transactions[i] = created
			break
		}
	}
	a.mu.Unlock()

	// Write the confirmed record through to the cache; a reload before the
	// next refresh must not lose it.
	a.updateTransactionCache(ctx, func(stored []core.Transaction) []core.Transaction {
		return append([]core.Transaction{created}, stored...)
	})

	a.refreshProfile(ctx)
	a.engine.Notify()
	return nil
}

// DeleteTransaction removes a transaction. A temp id is dropped locally and
// its optimistic balance effect reversed — nothing ever reached the server.
// Online, a confirmed id is deleted remotely and the profile refreshed.
// Offline, a confirmed id is queued for deletion; the displayed balance does
// not change until the server confirms and the next refresh lands.
func (a *App) DeleteTransaction(ctx context.Context, id string) error {
	if core.IsTempID(id) {
		a.mu.Lock()
		var target *core.Transaction
		filtered := a.transactions[:0]
		for _, txn := range a.transactions {
			if txn.ID == id {
				t := txn
				target = &t
				continue
			}
			filtered = append(filtered, txn)
		}
		a.transactions = filtered
		a.mu.Unlock()

		if err := a.store.RemovePendingTransaction(ctx, id); err != nil {
			return fmt.Errorf("dequeue transaction: %w", err)
		}
		if target != nil {
			balances, err := a.store.LocalBalances(ctx)
			if err == nil {
				balances.Reverse(target.PaymentMethod, target.Amount, target.Type, target.SplitAmount)
				err = a.store.SetLocalBalances(ctx, balances)
			}
			if err != nil {
				a.logger.ErrorContext(ctx, "failed to reverse local balance", "error", err)
			} else {
				a.mu.Lock()
				a.localBalances = balances
				a.mu.Unlock()
			}
		}
		a.engine.Notify()
		return nil
	}

	if a.engine.IsOnline() {
		// Remove from the view only once the server has confirmed; a failed
		// delete must leave the record where the user can see it.
		if err := a.remote.DeleteTransaction(ctx, id); err != nil {
			return fmt.Errorf("delete transaction: %w", err)
		}
		a.removeTransactionFromView(id)
		a.updateTransactionCache(ctx, func(stored []core.Transaction) []core.Transaction {
			return filterTransactions(stored, id)
		})
		a.refreshProfile(ctx)
		return nil
	}

	if err := a.store.AppendPendingDelete(ctx, core.PendingDelete{EntityType: core.EntityTransaction, ID: id}); err != nil {
		return fmt.Errorf("queue delete: %w", err)
	}
	a.removeTransactionFromView(id)
	a.updateTransactionCache(ctx, func(stored []core.Transaction) []core.Transaction {
		return filterTransactions(stored, id)
	})
	a.engine.Notify()
	return nil
}

func filterTransactions(txns []core.Transaction, id string) []core.Transaction {
	filtered := txns[:0]
	for _, txn := range txns {
		if txn.ID != id {
			filtered = append(filtered, txn)
		}
	}
	return filtered
}

func (a *App) removeTransactionFromView(id string) {
	a.mu.Lock()
	a.transactions = filterTransactions(a.transactions, id)
	a.mu.Unlock()
}

// UpdateTransaction edits a confirmed record. Editing while offline is
// unsupported: there is no offline-update queue.
func (a *App) UpdateTransaction(ctx context.Context, id string, payload core.UpdateTransaction) (core.Transaction, error) {
	if core.IsTempID(id) {
		return core.Transaction{}, ErrLocalRecord
	}

	updated, err := a.remote.UpdateTransaction(ctx, id, payload)
	if err != nil {
		return core.Transaction{}, err
	}

	a.mu.Lock()
	for i, txn := range a.transactions {
		if txn.ID == id {
			a.transactions[i] = updated
			break
		}
	}
	a.mu.Unlock()

	a.updateTransactionCache(ctx, func(stored []core.Transaction) []core.Transaction {
		for i, txn := range stored {
			if txn.ID == id {
				stored[i] = updated
				break
			}
		}
		return stored
	})

	a.refreshProfile(ctx)
	return updated, nil
}

// === Workflows ===

func (a *App) AddWorkflow(ctx context.Context, payload core.CreateWorkflow) error {
	if err := payload.Validate(); err != nil {
		return err
	}
	payload.Category = core.CategoryOrDefault(payload.Category)

	a.mu.Lock()
	userID := ""
	if a.profile != nil {
		userID = a.profile.UserID
	}
	a.mu.Unlock()

	now := time.Now()
	shadow := core.Workflow{
		ID:            core.NewTempID(),
		UserID:        userID,
		Name:          payload.Name,
		Type:          payload.Type,
		Amount:        payload.Amount,
		Description:   payload.Description,
		Category:      payload.Category,
		PaymentMethod: payload.PaymentMethod,
		SplitAmount:   payload.SplitAmount,
		CreatedAt:     now,
		UpdatedAt:     now,
		IsLocal:       true,
		SyncStatus:    core.SyncPending,
	}

	if err := a.store.AppendPendingWorkflow(ctx, shadow); err != nil {
		return fmt.Errorf("queue workflow: %w", err)
	}

	a.mu.Lock()
	a.workflows = append([]core.Workflow{shadow}, a.workflows...)
	a.mu.Unlock()
	a.engine.Notify()

	if !a.engine.IsOnline() {
		return nil
	}

	created, err := a.remote.CreateWorkflow(ctx, payload)
	if err != nil {
		a.logger.WarnContext(ctx, "immediate workflow sync failed, stays queued",
			"temp_id", shadow.ID, "error", err)
		return nil
	}

	if err := a.store.RemovePendingWorkflow(ctx, shadow.ID); err != nil {
		a.logger.ErrorContext(ctx, "failed to dequeue confirmed workflow",
			"temp_id", shadow.ID, "error", err)
	}

	a.mu.Lock()
	for i, wf := range a.workflows {
		if wf.ID == shadow.ID {
			a.workflows[i] = created
			break
		}
	}
	a.mu.Unlock()

	a.updateWorkflowCache(ctx, func(stored []core.Workflow) []core.Workflow {
		return append([]core.Workflow{created}, stored...)
	})

	a.engine.Notify()
	return nil
}

func (a *App) DeleteWorkflow(ctx context.Context, id string) error {
	if core.IsTempID(id) {
		if err := a.store.RemovePendingWorkflow(ctx, id); err != nil {
			return fmt.Errorf("dequeue workflow: %w", err)
		}
		a.removeWorkflowFromView(id)
		a.engine.Notify()
		return nil
	}

	if a.engine.IsOnline() {
		if err := a.remote.DeleteWorkflow(ctx, id); err != nil {
			return fmt.Errorf("delete workflow: %w", err)
		}
		a.removeWorkflowFromView(id)
		a.updateWorkflowCache(ctx, func(stored []core.Workflow) []core.Workflow {
			return filterWorkflows(stored, id)
		})
		return nil
	}

	if err := a.store.AppendPendingDelete(ctx, core.PendingDelete{EntityType: core.EntityWorkflow, ID: id}); err != nil {
		return fmt.Errorf("queue delete: %w", err)
	}
	a.removeWorkflowFromView(id)
	a.updateWorkflowCache(ctx, func(stored []core.Workflow) []core.Workflow {
		return filterWorkflows(stored, id)
	})
	a.engine.Notify()
	return nil
}

func (a *App) removeWorkflowFromView(id string) {
	a.mu.Lock()
	a.workflows = filterWorkflows(a.workflows, id)
	a.mu.Unlock()
}

func filterWorkflows(wfs []core.Workflow, id string) []core.Workflow {
	filtered := wfs[:0]
	for _, wf := range wfs {
		if wf.ID != id {
			filtered = append(filtered, wf)
		}
	}
	return filtered
}

// === Profile ===

// UpdateProfile applies profile changes: against the server when online, as
// a local merge when offline (reconciled on the next fetch).
func (a *App) UpdateProfile(ctx context.Context, payload core.UpdateProfile) error {
	if a.engine.IsOnline() {
		updated, err := a.remote.UpdateProfile(ctx, payload)
		if err != nil {
			return err
		}
		if err := a.store.SetProfile(ctx, updated); err != nil {
			a.logger.ErrorContext(ctx, "failed to cache profile", "error", err)
		}
		a.applyServerBalances(ctx, updated)
		return nil
	}

	a.mu.Lock()
	if a.profile == nil {
		a.mu.Unlock()
		return errors.New("no profile to update offline")
	}
	merged := *a.profile
	if payload.Name != nil {
		merged.Name = *payload.Name
	}
	if payload.Occupation != nil {
		merged.Occupation = *payload.Occupation
	}
	if payload.PaymentMethods != nil {
		merged.PaymentMethods = payload.PaymentMethods
	}
	if payload.Balances != nil {
		merged.Balances = *payload.Balances
	}
	if payload.Onboarded != nil {
		merged.Onboarded = *payload.Onboarded
	}
	a.profile = &merged
	a.mu.Unlock()

	if err := a.store.SetProfile(ctx, merged); err != nil {
		return fmt.Errorf("cache profile: %w", err)
	}
	return nil
}

// refreshProfile pulls the server profile to pick up server-computed balance
// changes. Local balances follow the server only when nothing is pending,
// the same non-clobber rule the sync engine applies.
func (a *App) refreshProfile(ctx context.Context) {
	profile, err := a.remote.GetProfile(ctx)
	if err != nil {
		a.logger.WarnContext(ctx, "profile refresh failed", "error", err)
		return
	}
	if err := a.store.SetProfile(ctx, profile); err != nil {
		a.logger.ErrorContext(ctx, "failed to cache profile", "error", err)
	}
	a.applyServerBalances(ctx, profile)
}

func (a *App) applyServerBalances(ctx context.Context, profile core.Profile) {
	a.mu.Lock()
	a.profile = &profile
	a.mu.Unlock()

	pending, err := a.store.PendingTransactions(ctx)
	if err != nil {
		a.logger.ErrorContext(ctx, "failed to read pending transactions", "error", err)
		return
	}
	if len(pending) > 0 {
		return
	}

	if err := a.store.SetLocalBalances(ctx, profile.Balances); err != nil {
		a.logger.ErrorContext(ctx, "failed to store balances", "error", err)
		return
	}
	a.mu.Lock()
	a.localBalances = profile.Balances
	a.hasLocalBalances = true
	a.mu.Unlock()
}

// ManualRefresh forces a full drain and reloads the merged view.
func (a *App) ManualRefresh(ctx context.Context) error {
	a.engine.SyncAll(ctx)
	return a.LoadLocal(ctx)
}
